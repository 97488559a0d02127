package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-lockdown/internal/model"
)

// ActivityLogRepository writes and summarises the append-only activity log.
type ActivityLogRepository struct {
	pool *pgxpool.Pool
}

// NewActivityLogRepository creates a new ActivityLogRepository.
func NewActivityLogRepository(pool *pgxpool.Pool) *ActivityLogRepository {
	return &ActivityLogRepository{pool: pool}
}

// Insert appends a single entry.
func (r *ActivityLogRepository) Insert(ctx context.Context, e *model.ActivityLogEntry) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO activity_log (student_id, exam_id, event_time, event_type, description)
		 VALUES ($1, $2, $3, $4, $5)`,
		e.StudentID, e.ExamID, e.Timestamp, string(e.EventType), e.Detail,
	)
	return err
}

// CopyBatch bulk-inserts entries with COPY. Either all rows land or none do.
func (r *ActivityLogRepository) CopyBatch(ctx context.Context, entries []*model.ActivityLogEntry) error {
	if len(entries) == 0 {
		return nil
	}
	_, err := r.pool.CopyFrom(
		ctx,
		pgx.Identifier{"activity_log"},
		[]string{"student_id", "exam_id", "event_time", "event_type", "description"},
		pgx.CopyFromSlice(len(entries), func(i int) ([]interface{}, error) {
			e := entries[i]
			return []interface{}{e.StudentID, e.ExamID, e.Timestamp, string(e.EventType), e.Detail}, nil
		}),
	)
	return err
}

// ListByStudent returns one student's entries for an exam in time order.
func (r *ActivityLogRepository) ListByStudent(ctx context.Context, examID, studentID int64) ([]model.ActivityLogEntry, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT student_id, exam_id, event_time, event_type, description
		 FROM activity_log
		 WHERE exam_id = $1 AND student_id = $2
		 ORDER BY event_time, id`,
		examID, studentID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []model.ActivityLogEntry
	for rows.Next() {
		var e model.ActivityLogEntry
		var eventType string
		if err := rows.Scan(&e.StudentID, &e.ExamID, &e.Timestamp, &eventType, &e.Detail); err != nil {
			return nil, err
		}
		e.EventType = model.ActivityType(eventType)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// CountByStudent returns the number of entries of the given type per student in an exam.
func (r *ActivityLogRepository) CountByStudent(ctx context.Context, examID int64, eventType model.ActivityType) (map[int64]int64, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT student_id, COUNT(*)
		 FROM activity_log
		 WHERE exam_id = $1 AND event_type = $2
		 GROUP BY student_id`,
		examID, string(eventType),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[int64]int64)
	for rows.Next() {
		var sid, count int64
		if err := rows.Scan(&sid, &count); err != nil {
			return nil, err
		}
		counts[sid] = count
	}
	return counts, rows.Err()
}
