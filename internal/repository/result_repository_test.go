package repository

import (
	"context"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-lockdown/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func TestPostgresStoreResultTransaction(t *testing.T) {
	ctx := context.Background()
	requireDocker(t)

	pool := startPostgres(t, ctx)
	store := NewPostgresStore(pool)

	bundle := &model.TransferBundle{
		Exam: model.Exam{ID: 1, Title: "Algebra", DurationMinutes: 30},
		Questions: []model.Question{
			{ID: 1, ExamID: 1, QuestionText: "1+1", Options: [4]string{"2", "3", "4", "5"}, CorrectOption: model.OptionA},
			{ID: 2, ExamID: 1, QuestionText: "2+2", Options: [4]string{"2", "3", "4", "5"}, CorrectOption: model.OptionC},
		},
	}
	require.NoError(t, store.SaveBundle(ctx, bundle))
	require.NoError(t, store.SetPasswordHashes(ctx, 1, "entry", "exit"))

	// An invalid question aborts the whole save: title and questions stay.
	broken := &model.TransferBundle{
		Exam: model.Exam{ID: 1, Title: "Algebra II", DurationMinutes: 30},
		Questions: []model.Question{
			{ID: 3, ExamID: 1, QuestionText: "3+3", Options: [4]string{"6", "7", "8", "9"}, CorrectOption: model.OptionLetter("E")},
		},
	}
	require.Error(t, store.SaveBundle(ctx, broken))
	exam, err := store.FetchExam(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "Algebra", exam.Title)

	hash, err := store.FetchPasswordHash(ctx, 1, model.PasswordExit)
	require.NoError(t, err)
	assert.Equal(t, "exit", hash)

	questions, err := store.FetchQuestions(ctx, 1)
	require.NoError(t, err)
	require.Len(t, questions, 2)
	assert.Equal(t, model.OptionC, questions[1].CorrectOption)

	require.NoError(t, store.ReplaceResult(ctx, &model.Result{
		StudentID: 42, ExamID: 1, Score: 1, TotalQuestions: 2, TakenAt: time.Now(),
	}))
	require.NoError(t, store.ReplaceResult(ctx, &model.Result{
		StudentID: 42, ExamID: 1, Score: 2, TotalQuestions: 2, TakenAt: time.Now(),
	}))

	// score > total violates the CHECK after the DELETE ran; the tx must roll back.
	err = store.ReplaceResult(ctx, &model.Result{
		StudentID: 42, ExamID: 1, Score: 9, TotalQuestions: 2, TakenAt: time.Now(),
	})
	require.Error(t, err)

	res, err := store.FetchResult(ctx, 1, 42)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Score)

	results, err := store.ListResults(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, results, 1)

	require.NoError(t, store.InsertActivityLogs(ctx, []*model.ActivityLogEntry{
		{StudentID: 42, ExamID: 1, EventType: model.ActivityWindowSwitch, Timestamp: time.Now()},
		{StudentID: 42, ExamID: 1, EventType: model.ActivityWindowSwitch, Timestamp: time.Now()},
	}))
	counts, err := store.CountActivity(ctx, 1, model.ActivityWindowSwitch)
	require.NoError(t, err)
	assert.Equal(t, int64(2), counts[42])
}

func startPostgres(t *testing.T, ctx context.Context) *pgxpool.Pool {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "postgres:16-alpine",
		Env:          map[string]string{"POSTGRES_USER": "exam", "POSTGRES_PASSWORD": "exampass", "POSTGRES_DB": "examdb"},
		ExposedPorts: []string{"5432/tcp"},
		WaitingFor:   wait.ForLog("database system is ready to accept connections").WithOccurrence(2).WithStartupTimeout(60 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start postgres: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	dsn := fmt.Sprintf("postgres://exam:exampass@%s:%s/examdb?sslmode=disable", host, port.Port())
	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	schema, err := os.ReadFile("../../migrations/000001_init_schema.up.sql")
	require.NoError(t, err)
	_, err = pool.Exec(ctx, string(schema))
	require.NoError(t, err)

	return pool
}

func requireDocker(t *testing.T) {
	t.Helper()
	if _, err := tc.NewDockerProvider(); err != nil {
		t.Skipf("docker not available: %v", err)
	}
}
