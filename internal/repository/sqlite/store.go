// Package sqlite implements the exam store on an embedded SQLite database
// for workstations that run without a Postgres server.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/stemsi/exstem-lockdown/internal/model"
	"github.com/stemsi/exstem-lockdown/internal/repository"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS exams (
    id               INTEGER PRIMARY KEY,
    title            TEXT NOT NULL,
    description      TEXT NOT NULL DEFAULT '',
    start_time       INTEGER NULL,
    end_time         INTEGER NULL,
    duration_minutes INTEGER NOT NULL CHECK (duration_minutes > 0),
    entry_password   TEXT NULL,
    exit_password    TEXT NULL
);

CREATE TABLE IF NOT EXISTS questions (
    id             INTEGER PRIMARY KEY,
    exam_id        INTEGER NOT NULL REFERENCES exams(id) ON DELETE CASCADE,
    question_text  TEXT NOT NULL,
    option_a       TEXT NOT NULL,
    option_b       TEXT NOT NULL,
    option_c       TEXT NOT NULL,
    option_d       TEXT NOT NULL,
    correct_option TEXT NOT NULL CHECK (correct_option IN ('A', 'B', 'C', 'D'))
);

CREATE INDEX IF NOT EXISTS idx_questions_exam ON questions (exam_id, id);

CREATE TABLE IF NOT EXISTS results (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    student_id      INTEGER NOT NULL,
    exam_id         INTEGER NOT NULL,
    score           INTEGER NOT NULL CHECK (score >= 0),
    total_questions INTEGER NOT NULL CHECK (total_questions >= 0),
    taken_at        INTEGER NOT NULL,
    CHECK (score <= total_questions)
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_results_exam_student ON results (exam_id, student_id);

CREATE TABLE IF NOT EXISTS activity_log (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    student_id  INTEGER NOT NULL,
    exam_id     INTEGER NOT NULL,
    event_time  INTEGER NOT NULL,
    event_type  TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_activity_log_exam ON activity_log (exam_id, student_id, event_time);
`

// Store is a repository.Store backed by a single SQLite file.
type Store struct {
	db *sql.DB
}

var _ repository.Store = (*Store)(nil)

// Open opens (creating if needed) the database at path and applies the schema.
// Use ":memory:" for a throwaway database.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	// SQLite allows one writer; a single connection also keeps ":memory:" shared.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", p, err)
		}
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() {
	s.db.Close()
}

func (s *Store) FetchExam(ctx context.Context, examID int64) (*model.Exam, error) {
	e := &model.Exam{}
	var start, end sql.NullInt64
	var entry, exit sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT id, title, description, start_time, end_time, duration_minutes, entry_password, exit_password
		 FROM exams WHERE id = ?`, examID,
	).Scan(&e.ID, &e.Title, &e.Description, &start, &end, &e.DurationMinutes, &entry, &exit)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("exam %d: %w", examID, repository.ErrNotFound)
		}
		return nil, err
	}
	e.StartTime = fromUnix(start)
	e.EndTime = fromUnix(end)
	e.EntryPasswordHash = entry.String
	e.ExitPasswordHash = exit.String
	return e, nil
}

func (s *Store) FetchQuestions(ctx context.Context, examID int64) ([]model.Question, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, exam_id, question_text, option_a, option_b, option_c, option_d, correct_option
		 FROM questions WHERE exam_id = ? ORDER BY id`, examID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var questions []model.Question
	for rows.Next() {
		var q model.Question
		var correct string
		if err := rows.Scan(&q.ID, &q.ExamID, &q.QuestionText,
			&q.Options[0], &q.Options[1], &q.Options[2], &q.Options[3], &correct); err != nil {
			return nil, err
		}
		q.CorrectOption = model.OptionLetter(correct)
		questions = append(questions, q)
	}
	return questions, rows.Err()
}

func (s *Store) FetchPasswordHash(ctx context.Context, examID int64, kind model.PasswordKind) (string, error) {
	var column string
	switch kind {
	case model.PasswordEntry:
		column = "entry_password"
	case model.PasswordExit:
		column = "exit_password"
	default:
		return "", fmt.Errorf("unknown password kind %q", kind)
	}

	var hash sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT `+column+` FROM exams WHERE id = ?`, examID).Scan(&hash)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", fmt.Errorf("exam %d: %w", examID, repository.ErrNotFound)
		}
		return "", err
	}
	return hash.String, nil
}

func (s *Store) InsertActivityLog(ctx context.Context, e *model.ActivityLogEntry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO activity_log (student_id, exam_id, event_time, event_type, description)
		 VALUES (?, ?, ?, ?, ?)`,
		e.StudentID, e.ExamID, e.Timestamp.UnixMilli(), string(e.EventType), e.Detail,
	)
	return err
}

// InsertActivityLogs writes the batch in one transaction.
func (s *Store) InsertActivityLogs(ctx context.Context, entries []*model.ActivityLogEntry) error {
	if len(entries) == 0 {
		return nil
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO activity_log (student_id, exam_id, event_time, event_type, description)
			 VALUES (?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, e := range entries {
			if _, err := stmt.ExecContext(ctx,
				e.StudentID, e.ExamID, e.Timestamp.UnixMilli(), string(e.EventType), e.Detail); err != nil {
				return err
			}
		}
		return nil
	})
}

// ReplaceResult deletes the prior result and inserts the new one atomically.
func (s *Store) ReplaceResult(ctx context.Context, res *model.Result) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM results WHERE student_id = ? AND exam_id = ?`,
			res.StudentID, res.ExamID,
		); err != nil {
			return fmt.Errorf("delete prior result: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO results (student_id, exam_id, score, total_questions, taken_at)
			 VALUES (?, ?, ?, ?, ?)`,
			res.StudentID, res.ExamID, res.Score, res.TotalQuestions, res.TakenAt.UnixMilli(),
		); err != nil {
			return fmt.Errorf("insert result: %w", err)
		}
		return nil
	})
}

func (s *Store) FetchResult(ctx context.Context, examID, studentID int64) (*model.Result, error) {
	res := &model.Result{}
	var takenAt int64
	err := s.db.QueryRowContext(ctx,
		`SELECT student_id, exam_id, score, total_questions, taken_at
		 FROM results WHERE exam_id = ? AND student_id = ?`, examID, studentID,
	).Scan(&res.StudentID, &res.ExamID, &res.Score, &res.TotalQuestions, &takenAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("result for student %d exam %d: %w", studentID, examID, repository.ErrNotFound)
		}
		return nil, err
	}
	res.TakenAt = time.UnixMilli(takenAt)
	return res, nil
}

func (s *Store) ListResults(ctx context.Context, examID int64) ([]model.Result, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT student_id, exam_id, score, total_questions, taken_at
		 FROM results WHERE exam_id = ? ORDER BY student_id`, examID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []model.Result
	for rows.Next() {
		var res model.Result
		var takenAt int64
		if err := rows.Scan(&res.StudentID, &res.ExamID, &res.Score, &res.TotalQuestions, &takenAt); err != nil {
			return nil, err
		}
		res.TakenAt = time.UnixMilli(takenAt)
		results = append(results, res)
	}
	return results, rows.Err()
}

func (s *Store) CountActivity(ctx context.Context, examID int64, eventType model.ActivityType) (map[int64]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT student_id, COUNT(*) FROM activity_log
		 WHERE exam_id = ? AND event_type = ?
		 GROUP BY student_id`, examID, string(eventType),
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

// ListActivity returns one student's entries in the order they happened.
func (s *Store) ListActivity(ctx context.Context, examID, studentID int64) ([]model.ActivityLogEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT student_id, exam_id, event_time, event_type, description
		 FROM activity_log
		 WHERE exam_id = ? AND student_id = ?
		 ORDER BY event_time, id`, examID, studentID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []model.ActivityLogEntry
	for rows.Next() {
		var (
			e         model.ActivityLogEntry
			at        int64
			eventType string
		)
		if err := rows.Scan(&e.StudentID, &e.ExamID, &at, &eventType, &e.Detail); err != nil {
			return nil, err
		}
		e.Timestamp = time.UnixMilli(at)
		e.EventType = model.ActivityType(eventType)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// SaveBundle upserts the exam and replaces its questions in one transaction.
func (s *Store) SaveBundle(ctx context.Context, bundle *model.TransferBundle) error {
	e := bundle.Exam
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO exams (id, title, description, start_time, end_time, duration_minutes, entry_password, exit_password)
			 VALUES (?, ?, ?, ?, ?, ?, NULLIF(?, ''), NULLIF(?, ''))
			 ON CONFLICT (id) DO UPDATE SET
			     title = excluded.title,
			     description = excluded.description,
			     start_time = excluded.start_time,
			     end_time = excluded.end_time,
			     duration_minutes = excluded.duration_minutes,
			     entry_password = excluded.entry_password,
			     exit_password = excluded.exit_password`,
			e.ID, e.Title, e.Description, toUnix(e.StartTime), toUnix(e.EndTime),
			e.DurationMinutes, e.EntryPasswordHash, e.ExitPasswordHash,
		); err != nil {
			return fmt.Errorf("upsert exam: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM questions WHERE exam_id = ?`, e.ID); err != nil {
			return fmt.Errorf("clear questions: %w", err)
		}
		for _, q := range bundle.Questions {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO questions (id, exam_id, question_text, option_a, option_b, option_c, option_d, correct_option)
				 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
				q.ID, e.ID, q.QuestionText, q.Options[0], q.Options[1], q.Options[2], q.Options[3], string(q.CorrectOption),
			); err != nil {
				return fmt.Errorf("insert question %d: %w", q.ID, err)
			}
		}
		return nil
	})
}

func (s *Store) SetPasswordHashes(ctx context.Context, examID int64, entryHash, exitHash string) error {
	r, err := s.db.ExecContext(ctx,
		`UPDATE exams SET entry_password = ?, exit_password = ? WHERE id = ?`,
		entryHash, exitHash, examID)
	if err != nil {
		return err
	}
	if n, _ := r.RowsAffected(); n == 0 {
		return fmt.Errorf("exam %d: %w", examID, repository.ErrNotFound)
	}
	return nil
}

func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func toUnix(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.Unix(), Valid: true}
}

func fromUnix(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.Unix(v.Int64, 0)
	return &t
}
