package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/database"
	"github.com/stemsi/exstem-proctor/internal/event"
	"github.com/stemsi/exstem-proctor/internal/handler"
	"github.com/stemsi/exstem-proctor/internal/interview"
	"github.com/stemsi/exstem-proctor/internal/llm"
	_ "github.com/stemsi/exstem-proctor/internal/llm/gemini"
	"github.com/stemsi/exstem-proctor/internal/lock"
	"github.com/stemsi/exstem-proctor/internal/logger"
	"github.com/stemsi/exstem-proctor/internal/metrics"
	"github.com/stemsi/exstem-proctor/internal/repository"
	"github.com/stemsi/exstem-proctor/internal/repository/memstore"
	"github.com/stemsi/exstem-proctor/internal/router"
	"github.com/stemsi/exstem-proctor/internal/service"
	"github.com/stemsi/exstem-proctor/internal/validator"
	"github.com/stemsi/exstem-proctor/internal/worker"
)

// sessionStore is what the services and the violation worker need from a
// storage backend.
type sessionStore interface {
	service.Store
	worker.ViolationWriter
}

func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	log.Info().
		Str("port", cfg.ServerPort).
		Str("mode", cfg.GinMode).
		Str("store", cfg.StoreDriver).
		Str("llm", cfg.LLMProvider).
		Msg("Starting ExStem Proctor")

	// ─── Initialize Validator ──────────────────────────────────────────
	validator.Setup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ─── Session Store ─────────────────────────────────────────────────
	var (
		store sessionStore
		db    handler.Pinger
	)
	switch cfg.StoreDriver {
	case config.StoreDriverPostgres:
		pool, err := database.NewPostgresPool(ctx, cfg, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
		}
		defer pool.Close()
		store = repository.NewStore(pool)
		db = pool
	case config.StoreDriverMemory:
		log.Warn().Msg("Using in-memory store, data is lost on restart")
		store = memstore.New()
	default:
		log.Fatal().Str("driver", cfg.StoreDriver).Msg("Unknown store driver")
	}

	// ─── Connect to Redis ──────────────────────────────────────────────
	// Required with PostgreSQL, where several instances share sessions.
	rdb, err := database.NewRedisClient(ctx, cfg, log)
	if err != nil {
		if cfg.StoreDriver == config.StoreDriverPostgres {
			log.Fatal().Err(err).Msg("Failed to connect to Redis")
		}
		log.Warn().Err(err).Msg("Redis unavailable, running single-instance without live monitor feed")
		rdb = nil
	}
	if rdb != nil {
		defer rdb.Close()
	}

	var (
		locker service.Locker = lock.NewLocalLocker()
		events service.Events
		feed   *event.RedisEvents
	)
	if rdb != nil {
		locker = lock.NewRedisLocker(rdb, log)
		feed = event.NewRedisEvents(rdb, log)
		events = feed
	}

	// ─── Interview Engine ──────────────────────────────────────────────
	provider, err := llm.NewProvider(cfg.LLMProvider)
	if err != nil {
		log.Warn().Err(err).Strs("registered", llm.Registered()).Msg("LLM provider unavailable, interviews use canned content")
	}
	engine, err := interview.NewEngine(provider, interview.Config{
		Timeout:    cfg.LLMTimeout,
		OnFallback: metrics.LLMFallback,
	}, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build interview engine")
	}

	// ─── Initialize Services ──────────────────────────────────────────
	authService := service.NewAuthService(cfg, rdb)
	sessionService := service.NewSessionService(store, locker, events, engine, log)
	assignmentService := service.NewAssignmentService(store, cfg, log)
	interviewService := service.NewInterviewService(sessionService, store, locker, engine, log)

	// ─── Initialize Handlers ──────────────────────────────────────────
	handlers := &router.Handlers{
		Session:    handler.NewSessionHandler(sessionService, log),
		Interview:  handler.NewInterviewHandler(interviewService, log),
		Assignment: handler.NewAssignmentHandler(assignmentService, sessionService, log),
		Monitor:    handler.NewMonitorHandler(assignmentService, feed, log),
		WS:         handler.NewWSHandler(sessionService, log, cfg.AllowedOrigins),
		Health:     handler.NewHealthHandler(db, rdb, log),
	}

	// ─── Start Background Workers ─────────────────────────────────────
	workerCtx, workerCancel := context.WithCancel(context.Background())
	var workers sync.WaitGroup

	if rdb != nil {
		violationWorker := worker.NewViolationWorker(store, rdb, log)
		workers.Add(1)
		go func() {
			defer workers.Done()
			violationWorker.Start(workerCtx)
		}()
	}

	expiryWorker := worker.NewExpiryWorker(sessionService, cfg.ExpirySweepSchedule, log)
	workers.Add(1)
	go func() {
		defer workers.Done()
		if err := expiryWorker.Start(workerCtx); err != nil {
			log.Error().Err(err).Msg("Expiry worker stopped")
		}
	}()

	// ─── Setup Router ──────────────────────────────────────────────────
	r := router.SetupRouter(ctx, authService, handlers, cfg, log)

	// ─── Create HTTP Server ────────────────────────────────────────────
	srv := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
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

	// 2. Stop background workers and wait for the violation queue to flush.
	workerCancel()
	workers.Wait()

	log.Info().Msg("Shutdown complete")
}

// init sets zerolog global defaults before main runs.
func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}
