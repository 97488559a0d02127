package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-lockdown/internal/config"
	"github.com/stemsi/exstem-lockdown/internal/model"
	"github.com/stemsi/exstem-lockdown/internal/repository"
	"github.com/stemsi/exstem-lockdown/internal/response"
	"github.com/stemsi/exstem-lockdown/internal/service"
	"github.com/stemsi/exstem-lockdown/internal/validator"
	ws "github.com/stemsi/exstem-lockdown/internal/websocket"
)

const keepAliveInterval = 30 * time.Second

// buildUpgrader creates a WebSocket upgrader with origin validation.
// allowedOrigins comes from config.Config.AllowedOrigins.
// An empty slice permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// WSHandler streams an exam's lockdown events to proctors.
type WSHandler struct {
	rdb            *redis.Client
	monitorService *service.MonitorService
	log            zerolog.Logger
	upgrader       websocket.Upgrader
	keepAlive      time.Duration
}

// NewWSHandler creates a new WSHandler. rdb may be nil, in which case the
// stream answers 503.
func NewWSHandler(rdb *redis.Client, monitorService *service.MonitorService, log zerolog.Logger, allowedOrigins []string) *WSHandler {
	return &WSHandler{
		rdb:            rdb,
		monitorService: monitorService,
		log:            log.With().Str("component", "ws_handler").Logger(),
		upgrader:       buildUpgrader(allowedOrigins),
		keepAlive:      keepAliveInterval,
	}
}

// MonitorExamStream godoc
// WS /ws/v1/exams/:id/monitor
// Sends an overview snapshot, then forwards every activity entry published
// for the exam.
func (h *WSHandler) MonitorExamStream(c *gin.Context) {
	var uri examURI
	if fields := validator.BindURI(c, &uri); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}
	if h.rdb == nil {
		response.Fail(c, http.StatusServiceUnavailable, response.ErrMonitorUnavailable)
		return
	}

	overview, err := h.monitorService.Overview(c.Request.Context(), uri.ID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			response.Fail(c, http.StatusNotFound, response.ErrNotFound)
			return
		}
		h.log.Error().Err(err).Int64("exam_id", uri.ID).Msg("Overview failed")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	wsLog := h.log.With().Int64("exam_id", uri.ID).Str("remote", c.ClientIP()).Logger()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Confirm the subscription before the snapshot so nothing published
	// in between is missed.
	pubsub := h.rdb.Subscribe(ctx, config.CacheKey.ExamMonitorChannel(uri.ID))
	defer pubsub.Close()
	if _, err := pubsub.Receive(ctx); err != nil {
		wsLog.Error().Err(err).Msg("Subscribe failed")
		ws.CloseWithError(conn, "monitor feed unavailable")
		return
	}

	if err := ws.WriteTyped(conn, ws.SnapshotResponse{Event: ws.EventSnapshot, Data: overview}); err != nil {
		return
	}
	wsLog.Info().Msg("Proctor attached to live monitor")

	// gorilla allows one concurrent reader and one writer: the reader
	// goroutine only hands requests to the write loop below.
	requests := make(chan ws.Action, 4)
	go func() {
		defer cancel()
		for {
			var env ws.RequestEnvelope
			if err := ws.ReadJSON(conn, &env); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					wsLog.Warn().Err(err).Msg("Unexpected close")
				}
				return
			}
			select {
			case requests <- env.Action:
			case <-ctx.Done():
				return
			}
		}
	}()

	ch := pubsub.Channel()
	keepAlive := time.NewTicker(h.keepAlive)
	defer keepAlive.Stop()

	for {
		var werr error
		select {
		case <-ctx.Done():
			wsLog.Info().Msg("Proctor detached from live monitor")
			return

		case msg, ok := <-ch:
			if !ok {
				return
			}
			var entry model.ActivityLogEntry
			if err := json.Unmarshal([]byte(msg.Payload), &entry); err != nil {
				wsLog.Warn().Err(err).Msg("Skipping malformed monitor payload")
				continue
			}
			werr = ws.WriteTyped(conn, ws.ActivityResponse{Event: ws.EventActivity, Entry: entry})

		case action := <-requests:
			switch action {
			case ws.ActionPing:
				werr = ws.WriteTyped(conn, ws.PingResponse{Event: ws.EventPong})
			case ws.ActionRefresh:
				ov, err := h.monitorService.Overview(ctx, uri.ID)
				if err != nil {
					wsLog.Warn().Err(err).Msg("Refresh failed")
					werr = ws.WriteError(conn, "refresh failed")
					break
				}
				werr = ws.WriteTyped(conn, ws.SnapshotResponse{Event: ws.EventSnapshot, Data: ov})
			default:
				werr = ws.WriteError(conn, "unknown action: "+string(action))
			}

		case <-keepAlive.C:
			werr = ws.WriteTyped(conn, ws.PingResponse{Event: ws.EventPing})
		}

		if werr != nil {
			wsLog.Debug().Err(werr).Msg("Write failed, closing")
			return
		}
	}
}
