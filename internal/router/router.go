package router

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/interq/assessment-engine/internal/config"
	"github.com/interq/assessment-engine/internal/handler"
	"github.com/interq/assessment-engine/internal/middleware"
	"github.com/interq/assessment-engine/internal/response"
	"github.com/interq/assessment-engine/internal/service"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Auth            *handler.AuthHandler
	CandidatePortal *handler.CandidatePortalHandler
	CandidateMgmt   *handler.CandidateManagementHandler
	Assessment      *handler.AssessmentHandler
	Monitor         *handler.MonitorHandler
	WS              *handler.WSHandler
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
func SetupRouter(
	authService *service.AuthService,
	handlers *Handlers,
	cfg *config.Config,
) *gin.Engine {
	gin.SetMode(cfg.GinMode)
	router := gin.Default()

	// ─── CORS ──────────────────────────────────────────────────────────
	// If AllowedOrigins is set in config, restrict to that list;
	// otherwise allow all (*) so dev works without extra config.
	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"}
	corsConfig.ExposeHeaders = []string{"X-Request-ID"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	// Apply request ID middleware globally so every response includes metadata.
	router.Use(response.RequestIDMiddleware())

	// Apply brotli middleware globally.
	router.Use(middleware.Brotli())

	// Health check.
	router.GET("/health", func(c *gin.Context) {
		response.Success(c, http.StatusOK, gin.H{"status": "ok"})
	})

	// Rate limiter for auth routes (30 requests per minute per IP).
	authLimiter := middleware.NewRateLimiter(30, time.Minute)

	// ─── 1. Auth Group (Public, Rate Limited) ──────────────────────────
	auth := router.Group("/api/v1/auth")
	auth.Use(authLimiter.Middleware())
	{
		auth.POST("/candidate/login", handlers.Auth.CandidateLogin)
		auth.POST("/recruiter/login", handlers.Auth.RecruiterLogin)

		// Authenticated profile routes
		auth.POST("/candidate/logout", middleware.RequireCandidateJWT(authService), handlers.Auth.CandidateLogout)
		auth.GET("/candidate/me", middleware.RequireCandidateJWT(authService), handlers.Auth.GetCandidateProfile)
		auth.GET("/recruiter/me", middleware.RequireRecruiterJWT(authService), handlers.Auth.GetRecruiterProfile)
	}

	// ─── 2. Candidate Group (JWT + Single Device) ──────────────────────
	candidateAPI := router.Group("/api/v1/candidate")
	candidateAPI.Use(
		middleware.RequireCandidateJWT(authService),
		middleware.CheckSingleDeviceLogin(authService),
	)
	{
		candidateAPI.GET("/assessments", handlers.CandidatePortal.ListAssessments)
		candidateAPI.GET("/assessments/:assessment_id/paper", handlers.CandidatePortal.GetPaper)
		candidateAPI.POST("/assessments/:assessment_id/session", handlers.CandidatePortal.StartOrResumeSession)
		candidateAPI.GET("/sessions/:session_id", handlers.CandidatePortal.GetSessionState)
		candidateAPI.GET("/sessions/:session_id/result", handlers.CandidatePortal.GetResult)
	}

	// ─── 3. WebSocket Group (Candidate WS Auth) ────────────────────────
	ws := router.Group("/ws/v1")
	ws.Use(middleware.RequireCandidateWSAuth(authService))
	{
		ws.GET("/candidate/sessions/:session_id/stream", handlers.WS.SessionStream)
	}

	// ─── 4. Recruiter Group (JWT) ──────────────────────────────────────
	recruiterAPI := router.Group("/api/v1/recruiter")
	recruiterAPI.Use(middleware.RequireRecruiterJWT(authService))
	{
		// Assessment management
		recruiterAPI.GET("/assessments", handlers.Assessment.List)
		recruiterAPI.POST("/assessments", handlers.Assessment.Create)
		recruiterAPI.GET("/assessments/:assessment_id", handlers.Assessment.Get)
		recruiterAPI.PUT("/assessments/:assessment_id", handlers.Assessment.Update)
		recruiterAPI.DELETE("/assessments/:assessment_id", handlers.Assessment.Delete)
		recruiterAPI.POST("/assessments/:assessment_id/publish", handlers.Assessment.Publish)
		recruiterAPI.POST("/assessments/:assessment_id/archive", handlers.Assessment.Archive)

		// Question management
		recruiterAPI.GET("/assessments/:assessment_id/questions", handlers.Assessment.GetQuestions)
		recruiterAPI.PUT("/assessments/:assessment_id/questions", handlers.Assessment.ReplaceQuestions)

		// Results and live monitoring
		recruiterAPI.GET("/assessments/:assessment_id/results", handlers.Assessment.ListResults)
		recruiterAPI.GET("/assessments/:assessment_id/monitor", handlers.Monitor.MonitorAssessmentSSE)
		recruiterAPI.GET("/sessions/:session_id/result", handlers.Assessment.GetSessionResult)

		// Candidate management
		recruiterAPI.GET("/candidates", handlers.CandidateMgmt.List)
		recruiterAPI.POST("/candidates", handlers.CandidateMgmt.Create)
		recruiterAPI.PUT("/candidates/:candidate_id", handlers.CandidateMgmt.Update)
		recruiterAPI.DELETE("/candidates/:candidate_id", handlers.CandidateMgmt.Delete)
		recruiterAPI.POST("/candidates/:candidate_id/reset-login", handlers.CandidateMgmt.ResetLogin)
	}

	return router
}
