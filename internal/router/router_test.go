package router

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-lockdown/internal/config"
	"github.com/stemsi/exstem-lockdown/internal/handler"
	"github.com/stemsi/exstem-lockdown/internal/model"
	"github.com/stemsi/exstem-lockdown/internal/repository/sqlite"
	"github.com/stemsi/exstem-lockdown/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testEngine(t *testing.T, limit int) *gin.Engine {
	t.Helper()
	store, err := sqlite.Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(store.Close)
	require.NoError(t, store.SaveBundle(context.Background(), &model.TransferBundle{
		Exam: model.Exam{ID: 1, Title: "Math", DurationMinutes: 30},
	}))

	monitor := service.NewMonitorService(store)
	cfg := &config.Config{
		GinMode:           gin.TestMode,
		RateLimitRequests: limit,
		RateLimitWindow:   time.Hour,
	}
	return SetupRouter(&Handlers{
		Monitor: handler.NewMonitorHandler(monitor, zerolog.Nop()),
		WS:      handler.NewWSHandler(nil, monitor, zerolog.Nop(), nil),
		System:  handler.NewSystemHandler(nil, nil, zerolog.Nop()),
	}, cfg)
}

func serve(r http.Handler, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func TestRoutes(t *testing.T) {
	r := testEngine(t, 100)

	cases := map[string]int{
		"/health":                             http.StatusOK,
		"/api/v1/transfer":                    http.StatusNotFound,
		"/api/v1/exams/1/overview":            http.StatusOK,
		"/api/v1/exams/1/activity":            http.StatusOK,
		"/api/v1/exams/1/results":             http.StatusOK,
		"/api/v1/exams/2/results":             http.StatusNotFound,
		"/api/v1/exams/1/students/5/activity": http.StatusOK,
		"/ws/v1/exams/1/monitor":              http.StatusServiceUnavailable,
		"/api/v1/nope":                        http.StatusNotFound,
	}
	for path, want := range cases {
		w := serve(r, path)
		assert.Equal(t, want, w.Code, path)
		assert.NotEmpty(t, w.Header().Get("X-Request-ID"), path)
	}
}

func TestAPIHeaders(t *testing.T) {
	r := testEngine(t, 100)

	w := serve(r, "/api/v1/exams/1/results")
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))

	w = serve(r, "/health")
	assert.Empty(t, w.Header().Get("Cache-Control"), "health is outside the API group")
}

func TestAPIRateLimited(t *testing.T) {
	r := testEngine(t, 2)

	assert.Equal(t, http.StatusOK, serve(r, "/api/v1/exams/1/results").Code)
	assert.Equal(t, http.StatusOK, serve(r, "/api/v1/exams/1/results").Code)
	assert.Equal(t, http.StatusTooManyRequests, serve(r, "/api/v1/exams/1/results").Code)
	assert.Equal(t, http.StatusOK, serve(r, "/health").Code, "health is not limited")
}
