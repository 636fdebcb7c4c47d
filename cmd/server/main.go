package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/interq/assessment-engine/internal/config"
	"github.com/interq/assessment-engine/internal/database"
	"github.com/interq/assessment-engine/internal/engine"
	"github.com/interq/assessment-engine/internal/handler"
	"github.com/interq/assessment-engine/internal/logger"
	"github.com/interq/assessment-engine/internal/repository"
	"github.com/interq/assessment-engine/internal/router"
	"github.com/interq/assessment-engine/internal/service"
	"github.com/interq/assessment-engine/internal/validator"
	"github.com/interq/assessment-engine/internal/worker"
)

func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	log.Info().
		Str("port", cfg.ServerPort).
		Str("mode", cfg.GinMode).
		Str("log_level", cfg.LogLevel).
		Msg("Starting Assessment Engine")

	// ─── Initialize Validator ──────────────────────────────────────────
	validator.Setup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ─── Connect to PostgreSQL ─────────────────────────────────────────
	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	// ─── Connect to Redis ──────────────────────────────────────────────
	rdb, err := database.NewRedisClient(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()

	// ─── Initialize Repositories ───────────────────────────────────────
	candidateRepo := repository.NewCandidateRepository(pool)
	recruiterRepo := repository.NewRecruiterRepository(pool)
	assessmentRepo := repository.NewAssessmentRepository(pool)
	questionRepo := repository.NewQuestionRepository(pool)
	sessionRepo := repository.NewSessionRepository(pool)
	resultRepo := repository.NewResultRepository(pool)
	monitorRepo := repository.NewMonitorRepository(pool)

	// ─── Initialize Services ──────────────────────────────────────────
	authService := service.NewAuthService(cfg, rdb)
	candidateService := service.NewCandidateService(candidateRepo, cfg.BcryptCost)
	recruiterService := service.NewRecruiterService(recruiterRepo, cfg.BcryptCost)
	assessmentService := service.NewAssessmentService(assessmentRepo, questionRepo, rdb, log)
	persistence := service.NewPersistenceService(rdb, log)
	monitorService := service.NewMonitorService(monitorRepo)

	registry := engine.NewRegistry()
	sessionService := service.NewSessionService(service.SessionServiceOptions{
		Sessions:         sessionRepo,
		Results:          resultRepo,
		Assessments:      assessmentRepo,
		Questions:        questionRepo,
		Cache:            persistence,
		ResultQueue:      persistence,
		Violations:       persistence.ViolationSink(),
		Registry:         registry,
		AutosaveInterval: cfg.AutosaveInterval,
		RetryAttempts:    cfg.SubmitRetryAttempts,
		Log:              log,
	})

	// ─── Initialize Handlers ──────────────────────────────────────────
	handlers := &router.Handlers{
		Auth:            handler.NewAuthHandler(authService, candidateService, recruiterService),
		CandidatePortal: handler.NewCandidatePortalHandler(assessmentService, sessionService),
		CandidateMgmt:   handler.NewCandidateManagementHandler(candidateService, authService),
		Assessment:      handler.NewAssessmentHandler(assessmentService, sessionService, sessionRepo),
		Monitor:         handler.NewMonitorHandler(rdb, assessmentService, monitorService, sessionRepo, log),
		WS:              handler.NewWSHandler(sessionService, log, cfg.AllowedOrigins),
	}

	// ─── Start Background Workers ─────────────────────────────────────
	workerCtx, workerCancel := context.WithCancel(context.Background())

	snapshotWorker := worker.NewSnapshotWorker(sessionRepo, rdb, log)
	violationWorker := worker.NewViolationWorker(pool, rdb, log)
	resultWorker := worker.NewResultWorker(sessionRepo, resultRepo, rdb, log)

	go snapshotWorker.Start(workerCtx)
	go violationWorker.Start(workerCtx)
	go resultWorker.Start(workerCtx)

	// ─── Prewarm Redis Caches ─────────────────────────────────────────
	// Load all published papers into Redis BEFORE accepting traffic.
	// This avoids race conditions from lazy loading under thundering herd.
	if err := assessmentService.PrewarmAllCaches(ctx); err != nil {
		log.Warn().Err(err).Msg("Cache prewarm failed")
	}

	// ─── Setup Router ──────────────────────────────────────────────────
	r := router.SetupRouter(authService, handlers, cfg)

	// ─── Create HTTP Server ────────────────────────────────────────────
	srv := &http.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: r,
	}

	// ─── Start Server in Goroutine ─────────────────────────────────────
	go func() {
		log.Info().Str("addr", ":"+cfg.ServerPort).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server error")
		}
	}()

	// ─── Graceful Shutdown ─────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	log.Info().Str("signal", sig.String()).Msg("Shutting down gracefully...")

	// 1. Stop accepting new HTTP requests (5s timeout).
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	// 2. Stop live runtimes. Each one takes a final snapshot flush, so a
	// restarted node resumes candidates where they left off.
	registry.StopAll()

	// 3. Stop background workers and wait for queues to drain.
	workerCancel()
	time.Sleep(2 * time.Second) // Allow workers to drain.

	log.Info().Msg("Shutdown complete")
}

// init sets zerolog global defaults before main runs.
func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}
