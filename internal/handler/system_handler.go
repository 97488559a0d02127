package handler

import (
	"context"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-lockdown/internal/config"
	"github.com/stemsi/exstem-lockdown/internal/response"
	"github.com/stemsi/exstem-lockdown/internal/transfer"
)

// TransferStatusProvider is satisfied by *transfer.Server.
type TransferStatusProvider interface {
	Status() transfer.Status
}

// SystemHandler reports process health and the LAN transfer state.
type SystemHandler struct {
	rdb       *redis.Client
	transfer  TransferStatusProvider
	startTime time.Time
	log       zerolog.Logger
}

// NewSystemHandler creates a new SystemHandler. Both rdb and transfer may be nil.
func NewSystemHandler(rdb *redis.Client, transfer TransferStatusProvider, log zerolog.Logger) *SystemHandler {
	return &SystemHandler{
		rdb:       rdb,
		transfer:  transfer,
		startTime: time.Now(),
		log:       log.With().Str("component", "system_handler").Logger(),
	}
}

type healthReport struct {
	Status     string `json:"status"`
	Uptime     string `json:"uptime"`
	GoVersion  string `json:"go_version"`
	Goroutines int    `json:"goroutines"`
	HeapAlloc  uint64 `json:"heap_alloc"`
	NumGC      uint32 `json:"num_gc"`

	Redis         string `json:"redis"`
	QueueActivity *int64 `json:"queue_activity,omitempty"`
}

// Health godoc
// GET /health
func (h *SystemHandler) Health(c *gin.Context) {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	report := healthReport{
		Status:     "ok",
		Uptime:     formatDuration(time.Since(h.startTime)),
		GoVersion:  runtime.Version(),
		Goroutines: runtime.NumGoroutine(),
		HeapAlloc:  ms.HeapAlloc,
		NumGC:      ms.NumGC,
		Redis:      "disabled",
	}

	if h.rdb != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		pipe := h.rdb.Pipeline()
		pingCmd := pipe.Ping(ctx)
		queueCmd := pipe.LLen(ctx, config.WorkerKey.PersistActivityQueue)
		if _, err := pipe.Exec(ctx); err != nil || pingCmd.Err() != nil {
			h.log.Warn().Err(err).Msg("Redis health check failed")
			report.Status = "degraded"
			report.Redis = "down"
		} else {
			n, _ := queueCmd.Result()
			report.Redis = "up"
			report.QueueActivity = &n
		}
	}

	response.Success(c, http.StatusOK, report)
}

// TransferStatus godoc
// GET /api/v1/transfer
func (h *SystemHandler) TransferStatus(c *gin.Context) {
	if h.transfer == nil {
		response.Fail(c, http.StatusNotFound, response.ErrTransferNotRunning)
		return
	}
	response.Success(c, http.StatusOK, h.transfer.Status())
}

// ---------- Helpers ----------

func formatDuration(d time.Duration) string {
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm %ds", days, hours, minutes, seconds)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
	}
	return fmt.Sprintf("%dm %ds", minutes, seconds)
}
