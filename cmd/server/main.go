package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-lockdown/internal/config"
	"github.com/stemsi/exstem-lockdown/internal/database"
	"github.com/stemsi/exstem-lockdown/internal/handler"
	"github.com/stemsi/exstem-lockdown/internal/logger"
	"github.com/stemsi/exstem-lockdown/internal/router"
	"github.com/stemsi/exstem-lockdown/internal/service"
	"github.com/stemsi/exstem-lockdown/internal/transfer"
	"github.com/stemsi/exstem-lockdown/internal/validator"
	"github.com/stemsi/exstem-lockdown/internal/worker"
	"golang.org/x/sync/errgroup"
)

// The proctor station: serves one exam over the LAN, drains the activity
// queue into the store and exposes the monitor API.
func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	log.Info().
		Str("http_port", cfg.HTTPPort).
		Str("transfer_port", cfg.TransferPort).
		Str("store", cfg.StoreDriver).
		Str("log_level", cfg.LogLevel).
		Msg("Starting ExStem proctor station")

	// ─── Initialize Validator ──────────────────────────────────────────
	validator.Setup()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ─── Connect to Store ──────────────────────────────────────────────
	store, err := database.OpenStore(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open store")
	}
	defer store.Close()

	// ─── Connect to Redis (optional) ───────────────────────────────────
	rdb, err := database.NewRedisClient(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	if rdb != nil {
		defer rdb.Close()
	}

	// ─── Initialize Services ──────────────────────────────────────────
	examService := service.NewExamService(store)
	monitorService := service.NewMonitorService(store)

	// ─── LAN Transfer ─────────────────────────────────────────────────
	var transferSrv *transfer.Server
	if cfg.TransferExamID > 0 {
		bundle, err := examService.LoadBundle(ctx, cfg.TransferExamID)
		if err != nil {
			log.Fatal().Err(err).Int64("exam_id", cfg.TransferExamID).Msg("Failed to load exam for transfer")
		}
		transferSrv, err = transfer.NewServer(bundle, cfg.TransferTimeout, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to prepare transfer bundle")
		}
	} else {
		log.Info().Msg("TRANSFER_EXAM_ID not set, LAN transfer disabled")
	}

	// ─── Initialize Handlers ──────────────────────────────────────────
	var status handler.TransferStatusProvider
	if transferSrv != nil {
		status = transferSrv
	}
	handlers := &router.Handlers{
		Monitor: handler.NewMonitorHandler(monitorService, log),
		WS:      handler.NewWSHandler(rdb, monitorService, log, cfg.AllowedOrigins),
		System:  handler.NewSystemHandler(rdb, status, log),
	}

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router.SetupRouter(handlers, cfg),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// ─── Run ───────────────────────────────────────────────────────────
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info().Str("addr", srv.Addr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down gracefully...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if transferSrv != nil {
		g.Go(func() error {
			err := transferSrv.ListenAndServe(gctx, net.JoinHostPort("", cfg.TransferPort))
			if errors.Is(err, transfer.ErrServerClosed) {
				return nil
			}
			return err
		})
	}

	if rdb != nil {
		activityWorker := worker.NewActivityLogWorker(store, rdb, worker.BatchOptions{}, log)
		g.Go(func() error {
			activityWorker.Start(gctx)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("Proctor station stopped with error")
		os.Exit(1)
	}
	log.Info().Msg("Shutdown complete")
}

// init sets zerolog global defaults before main runs.
func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}
