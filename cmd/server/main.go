package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/cogniscribe/api/internal/audit"
	"github.com/cogniscribe/api/internal/client"
	"github.com/cogniscribe/api/internal/config"
	"github.com/cogniscribe/api/internal/dedup"
	"github.com/cogniscribe/api/internal/handler"
	"github.com/cogniscribe/api/internal/limiter"
	"github.com/cogniscribe/api/internal/middleware"
	"github.com/cogniscribe/api/internal/retry"
	"github.com/cogniscribe/api/internal/service"
	"github.com/cogniscribe/api/internal/storage"
	"github.com/cogniscribe/api/internal/store"
	"github.com/cogniscribe/api/internal/sweeper"
	ws "github.com/cogniscribe/api/internal/websocket"
	"github.com/cogniscribe/api/internal/worker"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize Redis client
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	ctx := context.Background()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Printf("Warning: Redis not available: %v", err)
	}

	// Open the durable store
	durable, err := store.OpenSQLite(cfg.Database.Path)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer durable.Close()

	// Initialize Asynq client
	asynqClient := asynq.NewClient(asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer asynqClient.Close()

	// Initialize validator
	validate := validator.New()

	// Initialize WebSocket hub
	hub := ws.NewHub()
	go hub.Run()

	// Dual-tier job store: Redis in front, SQLite as the system of record
	cacheTTL := time.Duration(cfg.Retention.CacheTTLHours) * time.Hour
	jobStore := store.NewJobStore(store.NewRedisCache(redisClient, cacheTTL), durable)

	// Dedup cache and admission limiter
	dedupCache := dedup.NewCache(redisClient,
		time.Duration(cfg.Dedup.TTLHours)*time.Hour,
		time.Duration(cfg.Dedup.InflightTTLHours)*time.Hour)
	admission := limiter.New(redisClient, cfg.RateLimit.Requests,
		time.Duration(cfg.RateLimit.WindowSeconds)*time.Second)

	// Audit recorder with its background writer
	recorder := audit.NewRecorder(durable)
	defer recorder.Close()

	// Artifact storage
	artifacts := storage.NewLocalStore(cfg.Storage.Dir, cfg.Storage.MaxFileSizeMB)

	// Stage service clients
	preprocessClient := client.NewPreprocessClient(&cfg.Preprocess)
	whisperClient := client.NewWhisperClient(&cfg.Whisper)
	ollamaClient := client.NewOllamaClient(&cfg.Summarizer)

	retryCfg := retry.Config{
		MaxAttempts: cfg.Retry.MaxAttempts,
		BaseDelay:   time.Duration(cfg.Retry.BaseDelayMS) * time.Millisecond,
		MaxDelay:    time.Duration(cfg.Retry.MaxDelayMS) * time.Millisecond,
	}

	// Pipeline orchestrator
	pipelineService := service.NewPipelineService(service.Deps{
		Store:        jobStore,
		Dedup:        dedupCache,
		Enqueuer:     asynqClient,
		Audit:        recorder,
		Usage:        durable,
		Notifier:     hub,
		Admission:    admission,
		Artifacts:    artifacts,
		Preprocessor: preprocessClient,
		Transcriber:  whisperClient,
		Summarizer:   ollamaClient,
		RetryCfg:     retryCfg,
		Denoise:      cfg.Preprocess.Denoise,
	})

	// Retention sweeper
	sweepCtx, stopSweeper := context.WithCancel(ctx)
	defer stopSweeper()
	go sweeper.New(durable, jobStore, artifacts, recorder, cfg.Retention).Run(sweepCtx)

	// Initialize handlers
	pipelineHandler := handler.NewPipelineHandler(pipelineService, artifacts, validate)
	statsHandler := handler.NewStatsHandler(pipelineService)

	// Auth: behind the gateway identity arrives in X-User-* headers,
	// in direct mode the backend verifies bearer tokens itself
	var apiAuthMiddleware fiber.Handler
	if cfg.Gateway.Enabled {
		log.Println("Info: Gateway mode enabled — using header-based auth")
		apiAuthMiddleware = middleware.GatewayAuthMiddleware()
	} else {
		apiAuthMiddleware = middleware.NewAuthMiddleware(cfg.JWT.Secret).Authenticate()
	}
	rateLimiter := middleware.NewRateLimiter(admission, recorder)

	// Initialize Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: customErrorHandler,
		BodyLimit:    cfg.Storage.MaxFileSizeMB * 1024 * 1024,
	})

	// Global middleware
	app.Use(recover.New())
	isDebug := strings.EqualFold(cfg.Server.LogLevel, "debug")
	logFormat := "[${time}] ${status} - ${latency} ${method} ${path}\n"
	if isDebug {
		logFormat = "[${time}] ${status} - ${latency} ${method} ${path} ${queryParams} ${reqHeaders}\n"
		log.Println("Debug logging enabled")
	}
	app.Use(logger.New(logger.Config{
		Format: logFormat,
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,DELETE,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization",
	}))

	// Base URL - timestamp
	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"timestamp": time.Now().Unix(),
		})
	})

	// Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		redisUp := redisClient.Ping(c.Context()).Err() == nil
		return c.JSON(fiber.Map{
			"status": "ok",
			"services": fiber.Map{
				"redis":    redisUp,
				"database": durable.Ping(c.Context()) == nil,
			},
		})
	})

	// API routes
	api := app.Group("/api", apiAuthMiddleware)

	// Pipeline routes; only submissions are rate limited
	api.Post("/pipeline", rateLimiter.SubmitLimit(), pipelineHandler.Submit)
	api.Get("/pipeline", pipelineHandler.List)
	api.Get("/pipeline/:jobId", pipelineHandler.Status)
	api.Delete("/pipeline/:jobId", pipelineHandler.Cancel)

	// Stats
	api.Get("/stats", statsHandler.Stats)

	// WebSocket routes
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	app.Get("/ws/jobs/:jobId", websocket.New(func(c *websocket.Conn) {
		jobID := c.Params("jobId")
		hub.HandleConnection(c, jobID)
	}))

	// Start Asynq worker server
	workerSrv := newWorkerServer(cfg)
	pipelineWorker := worker.NewPipelineWorker(pipelineService)
	mux := asynq.NewServeMux()
	mux.HandleFunc(service.TaskTypePipeline, pipelineWorker.ProcessTask)
	go func() {
		if err := workerSrv.Run(mux); err != nil {
			log.Printf("Asynq worker error: %v", err)
		}
	}()

	// Graceful shutdown: stop the sweeper and drain in-flight jobs
	// before the HTTP server goes down, so the deferred recorder.Close
	// runs only after everything that records audit events has stopped.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Println("Shutting down server...")
		stopSweeper()
		workerSrv.Shutdown()
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			log.Printf("Server shutdown error: %v", err)
		}
	}()

	// Start server
	addr := ":" + cfg.Server.Port
	log.Printf("Server starting on %s", addr)
	if err := app.Listen(addr); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}

func newWorkerServer(cfg *config.Config) *asynq.Server {
	asynqLogLevel := asynq.InfoLevel
	if strings.EqualFold(cfg.Server.LogLevel, "debug") {
		asynqLogLevel = asynq.DebugLevel
	} else if strings.EqualFold(cfg.Server.LogLevel, "warn") {
		asynqLogLevel = asynq.WarnLevel
	} else if strings.EqualFold(cfg.Server.LogLevel, "error") {
		asynqLogLevel = asynq.ErrorLevel
	}

	return asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		},
		asynq.Config{
			Concurrency: 4,
			Queues: map[string]int{
				"pipeline": 10,
			},
			LogLevel: asynqLogLevel,
		},
	)
}

func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	}

	return c.Status(code).JSON(fiber.Map{
		"error": fiber.Map{
			"code":    "SERVICE_ERROR",
			"message": message,
		},
	})
}
