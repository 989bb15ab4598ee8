package router

import (
	"context"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/handler"
	"github.com/stemsi/exstem-proctor/internal/logger"
	"github.com/stemsi/exstem-proctor/internal/metrics"
	"github.com/stemsi/exstem-proctor/internal/middleware"
	"github.com/stemsi/exstem-proctor/internal/response"
	"github.com/stemsi/exstem-proctor/internal/service"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Session    *handler.SessionHandler
	Interview  *handler.InterviewHandler
	Assignment *handler.AssignmentHandler
	Monitor    *handler.MonitorHandler
	WS         *handler.WSHandler
	Health     *handler.HealthHandler
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
// ctx bounds background work owned by the router, such as rate limiter
// cleanup.
func SetupRouter(
	ctx context.Context,
	authService *service.AuthService,
	handlers *Handlers,
	cfg *config.Config,
	log zerolog.Logger,
) *gin.Engine {
	gin.SetMode(cfg.GinMode)
	router := gin.New()
	router.Use(gin.Recovery())

	// ─── CORS ──────────────────────────────────────────────────────────
	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"}
	corsConfig.ExposeHeaders = []string{"X-Request-ID", "Retry-After"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	router.Use(
		response.RequestIDMiddleware(log),
		logger.GinMiddleware(log),
		metrics.Middleware(),
		middleware.BrotliWithConfig(middleware.BrotliConfig{
			MinLength: middleware.DefaultBrotliConfig.MinLength,
			SkipPaths: []string{"/metrics"},
		}),
	)

	// ─── 0. Public ─────────────────────────────────────────────────────
	router.GET("/health", handlers.Health.Health)
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	// Writes that can finalize a session or hit the LLM are rate limited
	// per candidate.
	writeLimiter := middleware.NewRateLimiter(ctx, cfg.SubmitRatePerMin, time.Minute)
	limited := writeLimiter.Middleware()

	// ─── 1. Candidate Group (JWT + Single Device) ──────────────────────
	candidateAPI := router.Group("/api/v1")
	candidateAPI.Use(
		middleware.RequireCandidateJWT(authService),
		middleware.CheckSingleDevice(authService),
	)
	{
		candidateAPI.POST("/assignments/:id/attempts", handlers.Session.CreateAttempt)
		candidateAPI.GET("/assignments/:id/best", handlers.Session.BestAttempt)

		sessions := candidateAPI.Group("/sessions/:id")
		{
			sessions.POST("/start", handlers.Session.Start)
			sessions.GET("/state", handlers.Session.State)
			sessions.POST("/answers", limited, handlers.Session.SubmitAnswer)
			sessions.POST("/violations", limited, handlers.Session.ReportViolation)
			sessions.POST("/submit", limited, handlers.Session.Submit)
			sessions.GET("/result", handlers.Session.Result)
			sessions.POST("/retake", handlers.Session.Retake)

			sessions.POST("/interview/begin", handlers.Interview.Begin)
			sessions.POST("/interview/reply", limited, handlers.Interview.Reply)
			sessions.GET("/interview/turns", handlers.Interview.Turns)
		}
	}

	// ─── 2. WebSocket Group (Candidate WS Auth) ────────────────────────
	ws := router.Group("/ws/v1")
	ws.Use(
		middleware.RequireWSAuth(authService),
		middleware.CheckSingleDevice(authService),
	)
	{
		ws.GET("/sessions/:id/stream", handlers.WS.SessionStream)
	}

	// ─── 3. Admin Group (JWT + RBAC) ───────────────────────────────────
	adminAPI := router.Group("/api/v1/admin")
	adminAPI.Use(
		middleware.RequireAdminJWT(authService),
		middleware.RequireRole(service.RoleAdmin),
	)
	{
		adminAPI.POST("/assignments", handlers.Assignment.Create)
		adminAPI.GET("/assignments/:id", handlers.Assignment.Get)
		adminAPI.GET("/assignments/:id/monitor", handlers.Monitor.MonitorAssignmentSSE)
		adminAPI.POST("/sessions/:id/cancel", handlers.Assignment.CancelSession)
	}

	return router
}
