package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-lockdown/internal/model"
	"github.com/stemsi/exstem-lockdown/internal/repository/sqlite"
	"github.com/stemsi/exstem-lockdown/internal/response"
	"github.com/stemsi/exstem-lockdown/internal/service"
	"github.com/stemsi/exstem-lockdown/internal/transfer"
	"github.com/stemsi/exstem-lockdown/internal/validator"
	ws "github.com/stemsi/exstem-lockdown/internal/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	validator.Setup()
	os.Exit(m.Run())
}

type envelope struct {
	Data  json.RawMessage     `json:"data"`
	Count *int                `json:"count"`
	Error *response.ErrorBody `json:"error"`
}

func seededStore(t *testing.T) *sqlite.Store {
	t.Helper()
	ctx := context.Background()
	store, err := sqlite.Open(ctx, ":memory:")
	require.NoError(t, err)
	t.Cleanup(store.Close)

	require.NoError(t, store.SaveBundle(ctx, &model.TransferBundle{
		Exam: model.Exam{ID: 7, Title: "Chemistry", DurationMinutes: 45},
		Questions: []model.Question{
			{ID: 1, ExamID: 7, QuestionText: "H2O is?", Options: [4]string{"Water", "Salt", "Gold", "Iron"}, CorrectOption: model.OptionA},
		},
	}))
	require.NoError(t, store.ReplaceResult(ctx, &model.Result{StudentID: 4, ExamID: 7, Score: 1, TotalQuestions: 1, TakenAt: time.Now()}))

	at := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, store.InsertActivityLogs(ctx, []*model.ActivityLogEntry{
		{StudentID: 4, ExamID: 7, EventType: model.ActivityWindowSwitch, Timestamp: at},
		{StudentID: 4, ExamID: 7, EventType: model.ActivityWindowSwitch, Timestamp: at.Add(time.Second)},
		{StudentID: 2, ExamID: 7, EventType: model.ActivityWindowSwitch, Timestamp: at},
		{StudentID: 2, ExamID: 7, EventType: model.ActivityInactivity, Timestamp: at},
	}))
	return store
}

func monitorEngine(t *testing.T) *gin.Engine {
	t.Helper()
	h := NewMonitorHandler(service.NewMonitorService(seededStore(t)), zerolog.Nop())
	r := gin.New()
	r.Use(response.RequestIDMiddleware())
	r.GET("/exams/:id/overview", h.GetOverview)
	r.GET("/exams/:id/activity", h.GetActivity)
	r.GET("/exams/:id/results", h.GetResults)
	r.GET("/exams/:id/students/:student_id/activity", h.GetStudentActivity)
	return r
}

func get(t *testing.T, r http.Handler, path string) (int, envelope) {
	t.Helper()
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return w.Code, env
}

func TestGetActivityCountsPerStudent(t *testing.T) {
	code, env := get(t, monitorEngine(t), "/exams/7/activity")
	require.Equal(t, http.StatusOK, code)
	require.NotNil(t, env.Count)
	assert.Equal(t, 2, *env.Count)
	assert.JSONEq(t, `[{"student_id":2,"window_switch_count":1},{"student_id":4,"window_switch_count":2}]`, string(env.Data))
}

func TestGetResults(t *testing.T) {
	code, env := get(t, monitorEngine(t), "/exams/7/results")
	require.Equal(t, http.StatusOK, code)

	var results []model.Result
	require.NoError(t, json.Unmarshal(env.Data, &results))
	require.Len(t, results, 1)
	assert.Equal(t, int64(4), results[0].StudentID)
	assert.Equal(t, 1, results[0].Score)
}

func TestGetOverview(t *testing.T) {
	code, env := get(t, monitorEngine(t), "/exams/7/overview")
	require.Equal(t, http.StatusOK, code)

	var ov service.ExamOverview
	require.NoError(t, json.Unmarshal(env.Data, &ov))
	assert.Equal(t, "Chemistry", ov.Title)
	assert.Equal(t, int64(4), ov.TotalViolations)
	require.Len(t, ov.Students, 2)
	assert.Equal(t, int64(2), ov.Students[0].StudentID)
	assert.True(t, ov.Students[1].Submitted)
}

func TestGetStudentActivity(t *testing.T) {
	code, env := get(t, monitorEngine(t), "/exams/7/students/2/activity")
	require.Equal(t, http.StatusOK, code)
	require.NotNil(t, env.Count)
	assert.Equal(t, 2, *env.Count)

	var entries []model.ActivityLogEntry
	require.NoError(t, json.Unmarshal(env.Data, &entries))
	require.Len(t, entries, 2)
	for _, e := range entries {
		assert.Equal(t, int64(2), e.StudentID)
	}

	code, env = get(t, monitorEngine(t), "/exams/7/students/0/activity")
	assert.Equal(t, http.StatusBadRequest, code)
	require.NotNil(t, env.Error)
	assert.NotEmpty(t, env.Error.Fields)
}

func TestMonitorUnknownExam(t *testing.T) {
	for _, path := range []string{"/exams/99/overview", "/exams/99/activity", "/exams/99/results", "/exams/99/students/2/activity"} {
		code, env := get(t, monitorEngine(t), path)
		assert.Equal(t, http.StatusNotFound, code, path)
		require.NotNil(t, env.Error, path)
		assert.Equal(t, response.ErrNotFound, env.Error.Code)
	}
}

func TestMonitorRejectsBadID(t *testing.T) {
	for _, path := range []string{"/exams/0/results", "/exams/abc/results"} {
		code, env := get(t, monitorEngine(t), path)
		assert.Equal(t, http.StatusBadRequest, code, path)
		require.NotNil(t, env.Error, path)
		assert.Equal(t, response.ErrValidation, env.Error.Code)
		assert.NotEmpty(t, env.Error.Fields)
	}
}

// ─── System ──────────────────────────────────────────────────────────

type staticStatus transfer.Status

func (s staticStatus) Status() transfer.Status { return transfer.Status(s) }

func TestTransferStatus(t *testing.T) {
	r := gin.New()
	r.GET("/none", NewSystemHandler(nil, nil, zerolog.Nop()).TransferStatus)
	r.GET("/some", NewSystemHandler(nil, staticStatus{ExamID: 7, Listening: true, Served: 3}, zerolog.Nop()).TransferStatus)

	code, env := get(t, r, "/none")
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, response.ErrTransferNotRunning, env.Error.Code)

	code, env = get(t, r, "/some")
	require.Equal(t, http.StatusOK, code)
	var st transfer.Status
	require.NoError(t, json.Unmarshal(env.Data, &st))
	assert.Equal(t, int64(7), st.ExamID)
	assert.True(t, st.Listening)
	assert.Equal(t, int64(3), st.Served)
}

func TestHealth(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	r := gin.New()
	r.GET("/health", NewSystemHandler(rdb, nil, zerolog.Nop()).Health)
	r.GET("/health-offline", NewSystemHandler(nil, nil, zerolog.Nop()).Health)

	code, env := get(t, r, "/health")
	require.Equal(t, http.StatusOK, code)
	var report healthReport
	require.NoError(t, json.Unmarshal(env.Data, &report))
	assert.Equal(t, "ok", report.Status)
	assert.Equal(t, "up", report.Redis)
	require.NotNil(t, report.QueueActivity)
	assert.Zero(t, *report.QueueActivity)

	_, env = get(t, r, "/health-offline")
	require.NoError(t, json.Unmarshal(env.Data, &report))
	assert.Equal(t, "disabled", report.Redis)

	mr.Close()
	_, env = get(t, r, "/health")
	require.NoError(t, json.Unmarshal(env.Data, &report))
	assert.Equal(t, "degraded", report.Status)
}

// ─── Live monitor ────────────────────────────────────────────────────

func TestMonitorStreamForwardsActivity(t *testing.T) {
	store := seededStore(t)
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	h := NewWSHandler(rdb, service.NewMonitorService(store), zerolog.Nop(), nil)
	r := gin.New()
	r.GET("/ws/exams/:id/monitor", h.MonitorExamStream)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/exams/7/monitor"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var snap struct {
		Event ws.Event             `json:"event"`
		Data  service.ExamOverview `json:"data"`
	}
	require.NoError(t, conn.ReadJSON(&snap))
	assert.Equal(t, ws.EventSnapshot, snap.Event)
	assert.Equal(t, "Chemistry", snap.Data.Title)

	activity := service.NewActivityService(store, rdb, zerolog.Nop())
	activity.Record(context.Background(), model.ActivityLogEntry{
		StudentID: 9, ExamID: 7, EventType: model.ActivityWindowSwitch, Detail: "alt-tab",
	})

	var got ws.ActivityResponse
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, ws.EventActivity, got.Event)
	assert.Equal(t, int64(9), got.Entry.StudentID)
	assert.Equal(t, "alt-tab", got.Entry.Detail)

	require.NoError(t, conn.WriteJSON(ws.RequestEnvelope{Action: ws.ActionPing}))
	var pong ws.PingResponse
	require.NoError(t, conn.ReadJSON(&pong))
	assert.Equal(t, ws.EventPong, pong.Event)

	require.NoError(t, conn.WriteJSON(ws.RequestEnvelope{Action: "dance"}))
	var bad ws.ErrorResponse
	require.NoError(t, conn.ReadJSON(&bad))
	assert.Equal(t, ws.EventError, bad.Event)
}

func TestMonitorStreamPreconditions(t *testing.T) {
	store := seededStore(t)
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	r := gin.New()
	r.GET("/off/:id", NewWSHandler(nil, service.NewMonitorService(store), zerolog.Nop(), nil).MonitorExamStream)
	r.GET("/on/:id", NewWSHandler(rdb, service.NewMonitorService(store), zerolog.Nop(), nil).MonitorExamStream)

	code, env := get(t, r, "/off/7")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, response.ErrMonitorUnavailable, env.Error.Code)

	code, env = get(t, r, "/on/99")
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, response.ErrNotFound, env.Error.Code)
}

func TestBuildUpgraderOrigins(t *testing.T) {
	up := buildUpgrader([]string{"http://proctor.lan"})
	req := httptest.NewRequest(http.MethodGet, "/", nil)

	req.Header.Set("Origin", "http://PROCTOR.lan")
	assert.True(t, up.CheckOrigin(req))
	req.Header.Set("Origin", "http://evil.example")
	assert.False(t, up.CheckOrigin(req))

	assert.True(t, buildUpgrader(nil).CheckOrigin(req))
}
