package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-lockdown/internal/model"
)

// ExamRepository handles exam data access.
type ExamRepository struct {
	pool *pgxpool.Pool
}

// NewExamRepository creates a new ExamRepository.
func NewExamRepository(pool *pgxpool.Pool) *ExamRepository {
	return &ExamRepository{pool: pool}
}

// GetByID retrieves an exam, password hashes included.
func (r *ExamRepository) GetByID(ctx context.Context, id int64) (*model.Exam, error) {
	e := &model.Exam{}
	var entry, exit *string
	err := r.pool.QueryRow(ctx,
		`SELECT id, title, description, start_time, end_time,
		        duration_minutes, entry_password, exit_password
		 FROM exams WHERE id = $1`, id,
	).Scan(&e.ID, &e.Title, &e.Description, &e.StartTime, &e.EndTime,
		&e.DurationMinutes, &entry, &exit)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("exam %d: %w", id, ErrNotFound)
		}
		return nil, err
	}
	e.EntryPasswordHash = deref(entry)
	e.ExitPasswordHash = deref(exit)
	return e, nil
}

// GetPasswordHash returns the entry or exit password hash; "" when the column is NULL.
func (r *ExamRepository) GetPasswordHash(ctx context.Context, id int64, kind model.PasswordKind) (string, error) {
	column, err := passwordColumn(kind)
	if err != nil {
		return "", err
	}

	var hash *string
	err = r.pool.QueryRow(ctx, `SELECT `+column+` FROM exams WHERE id = $1`, id).Scan(&hash)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", fmt.Errorf("exam %d: %w", id, ErrNotFound)
		}
		return "", err
	}
	return deref(hash), nil
}

// Upsert inserts or updates an exam keeping its id. It runs inside the
// caller's transaction so the question set can be replaced atomically.
func (r *ExamRepository) Upsert(ctx context.Context, tx pgx.Tx, e *model.Exam) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO exams (id, title, description, start_time, end_time, duration_minutes, entry_password, exit_password)
		 VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), NULLIF($8, ''))
		 ON CONFLICT (id) DO UPDATE
		 SET title = EXCLUDED.title,
		     description = EXCLUDED.description,
		     start_time = EXCLUDED.start_time,
		     end_time = EXCLUDED.end_time,
		     duration_minutes = EXCLUDED.duration_minutes,
		     entry_password = EXCLUDED.entry_password,
		     exit_password = EXCLUDED.exit_password,
		     updated_at = NOW()`,
		e.ID, e.Title, e.Description, e.StartTime, e.EndTime,
		e.DurationMinutes, e.EntryPasswordHash, e.ExitPasswordHash,
	)
	return err
}

// SetPasswordHashes replaces both credential hashes of an exam.
func (r *ExamRepository) SetPasswordHashes(ctx context.Context, id int64, entryHash, exitHash string) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE exams SET entry_password = $1, exit_password = $2, updated_at = NOW() WHERE id = $3`,
		entryHash, exitHash, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("exam %d: %w", id, ErrNotFound)
	}
	return nil
}

func passwordColumn(kind model.PasswordKind) (string, error) {
	switch kind {
	case model.PasswordEntry:
		return "entry_password", nil
	case model.PasswordExit:
		return "exit_password", nil
	}
	return "", fmt.Errorf("unknown password kind %q", kind)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
