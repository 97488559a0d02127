package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-lockdown/internal/config"
	"github.com/stemsi/exstem-lockdown/internal/model"
)

// ActivityWriter appends one entry to the activity log.
type ActivityWriter interface {
	InsertActivityLog(ctx context.Context, entry *model.ActivityLogEntry) error
}

// ActivityService records lockdown and timer events. Recording is best
// effort: failures are logged and never returned to the caller.
type ActivityService struct {
	store ActivityWriter
	rdb   *redis.Client // nil disables the queue
	log   zerolog.Logger
}

// NewActivityService creates a new ActivityService. rdb may be nil.
func NewActivityService(store ActivityWriter, rdb *redis.Client, log zerolog.Logger) *ActivityService {
	return &ActivityService{
		store: store,
		rdb:   rdb,
		log:   log.With().Str("component", "activity_service").Logger(),
	}
}

// Record queues the entry on Redis (and publishes it to the exam's monitor
// channel) or, without Redis, writes it straight to the store. If the queue
// push fails the entry falls back to a direct write.
func (s *ActivityService) Record(ctx context.Context, entry model.ActivityLogEntry) {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}

	if s.rdb != nil {
		err := s.enqueue(ctx, &entry)
		if err == nil {
			return
		}
		s.log.Warn().Err(err).
			Str("event_type", string(entry.EventType)).
			Msg("Activity queue unavailable, writing directly")
	}

	if err := s.store.InsertActivityLog(ctx, &entry); err != nil {
		s.log.Error().Err(err).
			Int64("student_id", entry.StudentID).
			Int64("exam_id", entry.ExamID).
			Str("event_type", string(entry.EventType)).
			Msg("Failed to record activity")
	}
}

func (s *ActivityService) enqueue(ctx context.Context, entry *model.ActivityLogEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}

	pipe := s.rdb.Pipeline()
	push := pipe.RPush(ctx, config.WorkerKey.PersistActivityQueue, data)
	pub := pipe.Publish(ctx, config.CacheKey.ExamMonitorChannel(entry.ExamID), data)
	_, _ = pipe.Exec(ctx)

	// Only a failed push loses the entry; the live feed is advisory.
	if err := push.Err(); err != nil {
		return err
	}
	if err := pub.Err(); err != nil {
		s.log.Warn().Err(err).Int64("exam_id", entry.ExamID).Msg("Monitor publish failed")
	}
	return nil
}
