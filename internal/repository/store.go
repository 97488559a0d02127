package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-lockdown/internal/model"
)

// Store is the persistence contract shared by the Postgres and SQLite backends.
type Store interface {
	FetchExam(ctx context.Context, examID int64) (*model.Exam, error)
	FetchQuestions(ctx context.Context, examID int64) ([]model.Question, error)
	FetchPasswordHash(ctx context.Context, examID int64, kind model.PasswordKind) (string, error)
	InsertActivityLog(ctx context.Context, entry *model.ActivityLogEntry) error
	InsertActivityLogs(ctx context.Context, entries []*model.ActivityLogEntry) error
	ReplaceResult(ctx context.Context, res *model.Result) error

	FetchResult(ctx context.Context, examID, studentID int64) (*model.Result, error)
	ListResults(ctx context.Context, examID int64) ([]model.Result, error)
	CountActivity(ctx context.Context, examID int64, eventType model.ActivityType) (map[int64]int64, error)
	ListActivity(ctx context.Context, examID, studentID int64) ([]model.ActivityLogEntry, error)
	SaveBundle(ctx context.Context, bundle *model.TransferBundle) error
	SetPasswordHashes(ctx context.Context, examID int64, entryHash, exitHash string) error

	Close()
}

// PostgresStore composes the pgx repositories.
type PostgresStore struct {
	pool      *pgxpool.Pool
	exams     *ExamRepository
	questions *QuestionRepository
	activity  *ActivityLogRepository
	results   *ResultRepository
}

// NewPostgresStore wires every repository onto one pool. Close releases the pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{
		pool:      pool,
		exams:     NewExamRepository(pool),
		questions: NewQuestionRepository(pool),
		activity:  NewActivityLogRepository(pool),
		results:   NewResultRepository(pool),
	}
}

func (s *PostgresStore) FetchExam(ctx context.Context, examID int64) (*model.Exam, error) {
	return s.exams.GetByID(ctx, examID)
}

func (s *PostgresStore) FetchQuestions(ctx context.Context, examID int64) ([]model.Question, error) {
	return s.questions.ListByExam(ctx, examID)
}

func (s *PostgresStore) FetchPasswordHash(ctx context.Context, examID int64, kind model.PasswordKind) (string, error) {
	return s.exams.GetPasswordHash(ctx, examID, kind)
}

func (s *PostgresStore) InsertActivityLog(ctx context.Context, entry *model.ActivityLogEntry) error {
	return s.activity.Insert(ctx, entry)
}

func (s *PostgresStore) InsertActivityLogs(ctx context.Context, entries []*model.ActivityLogEntry) error {
	return s.activity.CopyBatch(ctx, entries)
}

func (s *PostgresStore) ReplaceResult(ctx context.Context, res *model.Result) error {
	return s.results.Replace(ctx, res)
}

func (s *PostgresStore) FetchResult(ctx context.Context, examID, studentID int64) (*model.Result, error) {
	return s.results.GetByExamAndStudent(ctx, examID, studentID)
}

func (s *PostgresStore) ListResults(ctx context.Context, examID int64) ([]model.Result, error) {
	return s.results.ListByExam(ctx, examID)
}

func (s *PostgresStore) CountActivity(ctx context.Context, examID int64, eventType model.ActivityType) (map[int64]int64, error) {
	return s.activity.CountByStudent(ctx, examID, eventType)
}

func (s *PostgresStore) ListActivity(ctx context.Context, examID, studentID int64) ([]model.ActivityLogEntry, error) {
	return s.activity.ListByStudent(ctx, examID, studentID)
}

// SaveBundle upserts the exam and replaces its questions in one transaction.
func (s *PostgresStore) SaveBundle(ctx context.Context, bundle *model.TransferBundle) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if err := s.exams.Upsert(ctx, tx, &bundle.Exam); err != nil {
			return err
		}
		return s.questions.ReplaceForExam(ctx, tx, bundle.Exam.ID, bundle.Questions)
	})
}

func (s *PostgresStore) SetPasswordHashes(ctx context.Context, examID int64, entryHash, exitHash string) error {
	return s.exams.SetPasswordHashes(ctx, examID, entryHash, exitHash)
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}
