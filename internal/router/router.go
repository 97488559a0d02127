package router

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/stemsi/exstem-lockdown/internal/config"
	"github.com/stemsi/exstem-lockdown/internal/handler"
	"github.com/stemsi/exstem-lockdown/internal/middleware"
	"github.com/stemsi/exstem-lockdown/internal/response"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Monitor *handler.MonitorHandler
	WS      *handler.WSHandler
	System  *handler.SystemHandler
}

// SetupRouter configures the proctor station's routes.
func SetupRouter(handlers *Handlers, cfg *config.Config) *gin.Engine {
	gin.SetMode(cfg.GinMode)
	router := gin.New()
	router.Use(gin.Recovery())

	// ─── CORS ──────────────────────────────────────────────────────────
	// If AllowedOrigins is set in config, restrict to that list;
	// otherwise allow all (*) so dev works without extra config.
	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "X-Request-ID"}
	corsConfig.ExposeHeaders = []string{"X-Request-ID"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	// Apply request ID middleware globally so every response includes metadata.
	router.Use(response.RequestIDMiddleware())

	router.GET("/health", handlers.System.Health)

	// ─── Proctor API ───────────────────────────────────────────────────
	limiter := middleware.NewRateLimiter(cfg.RateLimitRequests, cfg.RateLimitWindow)
	api := router.Group("/api/v1")
	api.Use(limiter.Middleware(), middleware.NoStore(), middleware.Brotli())
	{
		api.GET("/transfer", handlers.System.TransferStatus)

		exams := api.Group("/exams/:id")
		exams.GET("/overview", handlers.Monitor.GetOverview)
		exams.GET("/activity", handlers.Monitor.GetActivity)
		exams.GET("/results", handlers.Monitor.GetResults)
		exams.GET("/students/:student_id/activity", handlers.Monitor.GetStudentActivity)
	}

	// ─── Live Monitor ──────────────────────────────────────────────────
	router.GET("/ws/v1/exams/:id/monitor", handlers.WS.MonitorExamStream)

	return router
}
