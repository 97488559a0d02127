package worker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-lockdown/internal/config"
	"github.com/stemsi/exstem-lockdown/internal/model"
	"github.com/stemsi/exstem-lockdown/internal/validator"
)

const (
	BatchSize    = 50
	BatchTimeout = 2 * time.Second
	PollTimeout  = 1 * time.Second // Must be >= 1s to satisfy Redis
)

// ActivityLogWriter is the slice of the store the worker persists through.
type ActivityLogWriter interface {
	InsertActivityLogs(ctx context.Context, entries []*model.ActivityLogEntry) error
	InsertActivityLog(ctx context.Context, entry *model.ActivityLogEntry) error
}

// BatchOptions tunes the flush cadence. Zero values take the package defaults.
type BatchOptions struct {
	Size         int
	Timeout      time.Duration
	Poll         time.Duration
	RequeueDelay time.Duration
	ErrorDelay   time.Duration
}

func (o BatchOptions) withDefaults() BatchOptions {
	if o.Size <= 0 {
		o.Size = BatchSize
	}
	if o.Timeout <= 0 {
		o.Timeout = BatchTimeout
	}
	if o.Poll <= 0 {
		o.Poll = PollTimeout
	}
	if o.RequeueDelay <= 0 {
		o.RequeueDelay = 2 * time.Second
	}
	if o.ErrorDelay <= 0 {
		o.ErrorDelay = 3 * time.Second
	}
	return o
}

// ActivityLogWorker drains the activity queue filled by session workstations
// into the activity_log table.
type ActivityLogWorker struct {
	store ActivityLogWriter
	rdb   *redis.Client
	opts  BatchOptions
	log   zerolog.Logger
}

func NewActivityLogWorker(store ActivityLogWriter, rdb *redis.Client, opts BatchOptions, log zerolog.Logger) *ActivityLogWorker {
	return &ActivityLogWorker{
		store: store,
		rdb:   rdb,
		opts:  opts.withDefaults(),
		log:   log.With().Str("component", "activity_worker").Logger(),
	}
}

// Start blocks until ctx is cancelled, then flushes what it holds.
func (w *ActivityLogWorker) Start(ctx context.Context) {
	w.log.Info().Int("batch_size", w.opts.Size).Msg("ActivityLogWorker started")

	buffer := make([]*model.ActivityLogEntry, 0, w.opts.Size)
	lastFlushTime := time.Now()

	for {
		// 1. Flush on size or age
		if len(buffer) > 0 {
			if len(buffer) >= w.opts.Size || time.Since(lastFlushTime) >= w.opts.Timeout {
				w.flushSafe(ctx, buffer)
				buffer = buffer[:0]
				lastFlushTime = time.Now()
			}
		}

		// 2. Graceful shutdown
		select {
		case <-ctx.Done():
			w.shutdown(buffer)
			return
		default:
		}

		// 3. Fetch from Redis; BLPop returns immediately if data exists.
		result, err := w.rdb.BLPop(ctx, w.opts.Poll, config.WorkerKey.PersistActivityQueue).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				w.shutdown(buffer)
				return
			}
			w.log.Error().Err(err).Dur("retry_in", w.opts.ErrorDelay).Msg("Redis connection error")
			sleepCtx(ctx, w.opts.ErrorDelay)
			continue
		}

		if len(result) < 2 {
			continue
		}

		var entry model.ActivityLogEntry
		if err := json.Unmarshal([]byte(result[1]), &entry); err != nil {
			// Malformed JSON can never succeed. Log and discard.
			w.log.Error().Err(err).Str("data", result[1]).Msg("Discarding malformed activity entry")
			continue
		}
		buffer = append(buffer, &entry)
	}
}

// flushSafe attempts a bulk insert, then row-by-row, then requeues.
func (w *ActivityLogWorker) flushSafe(ctx context.Context, batch []*model.ActivityLogEntry) {
	if err := w.store.InsertActivityLogs(ctx, batch); err != nil {
		w.log.Warn().Err(err).Int("count", len(batch)).Msg("Bulk insert failed, attempting row-by-row recovery")
		w.fallbackInsert(ctx, batch)
		return
	}
	w.log.Debug().Int("count", len(batch)).Msg("Activity batch persisted")
}

func (w *ActivityLogWorker) fallbackInsert(ctx context.Context, batch []*model.ActivityLogEntry) {
	requeueList := make([]*model.ActivityLogEntry, 0)

	for _, e := range batch {
		if err := validator.Struct(e); err != nil {
			w.log.Error().
				Fields(map[string]interface{}{"errors": validator.TranslateErrors(err)}).
				Msg("Dropping invalid activity entry")
			continue
		}

		if err := w.store.InsertActivityLog(ctx, e); err != nil {
			w.log.Error().Err(err).
				Int64("student_id", e.StudentID).
				Str("event_type", string(e.EventType)).
				Msg("Insert failed, requeueing")
			requeueList = append(requeueList, e)
		}
	}

	if len(requeueList) > 0 {
		w.requeue(ctx, requeueList)
	}
}

func (w *ActivityLogWorker) requeue(ctx context.Context, items []*model.ActivityLogEntry) {
	pipe := w.rdb.Pipeline()
	for _, e := range items {
		data, _ := json.Marshal(e)
		pipe.RPush(ctx, config.WorkerKey.PersistActivityQueue, data)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		w.log.Error().Err(err).Int("count", len(items)).Msg("CRITICAL: Failed to requeue activity entries. Data loss occurred.")
		return
	}
	w.log.Info().Int("count", len(items)).Msg("Requeued failed entries back to Redis")
	// Back off so a hard-down database is not hammered.
	sleepCtx(ctx, w.opts.RequeueDelay)
}

func (w *ActivityLogWorker) shutdown(buffer []*model.ActivityLogEntry) {
	w.log.Info().Int("pending", len(buffer)).Msg("Worker stopping, flushing remaining buffer")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if len(buffer) > 0 {
		w.flushSafe(shutdownCtx, buffer)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
