package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-lockdown/internal/config"
	"github.com/stemsi/exstem-lockdown/internal/database"
	"github.com/stemsi/exstem-lockdown/internal/logger"
	"github.com/stemsi/exstem-lockdown/internal/repository"
	"github.com/stemsi/exstem-lockdown/internal/service"
	"github.com/stemsi/exstem-lockdown/internal/session"
	"github.com/stemsi/exstem-lockdown/internal/terminal"
	"github.com/stemsi/exstem-lockdown/internal/transfer"
	"golang.org/x/term"
)

// workstation holds what both modes share.
type workstation struct {
	cfg   *config.Config
	log   zerolog.Logger
	store repository.Store
	rdb   *redis.Client
	close func()
}

func openWorkstation(ctx context.Context, cfg *config.Config, flags *rootFlags) (*workstation, error) {
	var out io.Writer = os.Stderr
	var logFile *os.File
	if flags.logFile != "" {
		f, err := os.OpenFile(flags.logFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		logFile, out = f, f
	}
	log := logger.SetupWriter(cfg.LogLevel, cfg.LogFormat, out)

	store, err := database.OpenStore(ctx, cfg, log)
	if err != nil {
		if logFile != nil {
			logFile.Close()
		}
		return nil, err
	}

	// The queue is optional; a workstation without Redis writes activity
	// entries straight to the store.
	rdb, err := database.NewRedisClient(ctx, cfg, log)
	if err != nil {
		log.Warn().Err(err).Msg("Redis unavailable, activity entries go straight to the store")
		rdb = nil
	}

	return &workstation{
		cfg:   cfg,
		log:   log,
		store: store,
		rdb:   rdb,
		close: func() {
			if rdb != nil {
				rdb.Close()
			}
			store.Close()
			if logFile != nil {
				logFile.Close()
			}
		},
	}, nil
}

func runLocal(ctx context.Context, cfg *config.Config, flags *rootFlags, examID int64) error {
	ws, err := openWorkstation(ctx, cfg, flags)
	if err != nil {
		return err
	}
	defer ws.close()

	hasher := service.BcryptHasher{Cost: cfg.BcryptCost}
	return ws.sit(ctx, session.Options{
		StudentID:   flags.studentID,
		ExamID:      examID,
		Exams:       service.NewExamService(ws.store),
		Credentials: service.NewCredentialService(ws.store, hasher),
	}, "")
}

func runLAN(ctx context.Context, cfg *config.Config, flags *rootFlags, addr string, examID int64) error {
	ws, err := openWorkstation(ctx, cfg, flags)
	if err != nil {
		return err
	}
	defer ws.close()

	fmt.Fprintf(os.Stdout, "Fetching exam from %s...\n", addr)
	client := transfer.NewClient(cfg.TransferTimeout, cfg.TransferMaxBytes, ws.log)
	bundle, err := client.Fetch(ctx, addr)
	if err != nil {
		fmt.Fprintln(os.Stdout, transfer.ErrFetchFailed.Error())
		return err
	}
	if examID == 0 {
		examID = bundle.Exam.ID
	}

	hasher := service.BcryptHasher{Cost: cfg.BcryptCost}
	return ws.sit(ctx, session.Options{
		StudentID:   flags.studentID,
		ExamID:      examID,
		Bundle:      bundle,
		Credentials: service.NewCredentialService(service.BundlePasswords{Exam: &bundle.Exam}, hasher),
	}, bundle.Exam.Title)
}

// sit wires the terminal front end and OS signals into a controller and
// blocks until the session ends.
func (w *workstation) sit(ctx context.Context, opts session.Options, title string) error {
	ansi := term.IsTerminal(int(os.Stdout.Fd()))
	view := terminal.NewView(os.Stdout, title, ansi)
	screen := terminal.NewScreen(os.Stdout, ansi)

	opts.Listener = view
	opts.Window = screen
	opts.Activity = service.NewActivityService(w.store, w.rdb, w.log)
	opts.Submitter = service.NewSubmissionService(w.store, w.log)
	opts.Timing = session.TimingFrom(w.cfg)
	opts.Log = w.log

	ctrl, err := session.New(opts)
	if err != nil {
		return err
	}

	// Ctrl-C asks for the exit password, Ctrl-Z counts as minimising.
	sigs := make(chan os.Signal, 4)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP, syscall.SIGTSTP, syscall.SIGCONT)
	defer signal.Stop(sigs)
	go forwardSignals(ctrl, sigs)

	var readPassword terminal.PasswordReader
	if term.IsTerminal(int(os.Stdin.Fd())) {
		readPassword = func() (string, error) {
			b, err := term.ReadPassword(int(os.Stdin.Fd()))
			fmt.Fprintln(os.Stdout)
			return string(b), err
		}
	}
	driver := terminal.NewDriver(ctrl, os.Stdin, os.Stdout, readPassword, w.log)
	go func() {
		if err := driver.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			w.log.Error().Err(err).Msg("Terminal input stopped")
		}
	}()

	outcome := ctrl.Run(ctx)
	screen.Close()

	switch outcome.State {
	case session.StateCompleted:
		if outcome.Result != nil {
			fmt.Fprintf(os.Stdout, "Result recorded at %s.\n", outcome.Result.TakenAt.Format("15:04:05"))
		}
		return nil
	case session.StateReleased:
		// Entry failures and exits were already shown by the view.
		return nil
	}
	if outcome.Err != nil {
		return outcome.Err
	}
	return fmt.Errorf("session ended in state %s", outcome.State)
}

func forwardSignals(ctrl *session.Controller, sigs <-chan os.Signal) {
	for s := range sigs {
		var sig session.Signal
		switch s {
		case syscall.SIGTSTP:
			sig = session.SignalIconified
		case syscall.SIGCONT:
			sig = session.SignalRestored
		default:
			sig = session.SignalCloseRequested
		}
		if errors.Is(ctrl.Signal(sig), session.ErrSessionClosed) {
			return
		}
	}
}

var _ terminal.Session = (*session.Controller)(nil)
