package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/hsforensics/api/internal/client"
	"github.com/hsforensics/api/internal/config"
	"github.com/hsforensics/api/internal/handler"
	"github.com/hsforensics/api/internal/middleware"
	"github.com/hsforensics/api/internal/queue"
	"github.com/hsforensics/api/internal/runner"
	"github.com/hsforensics/api/internal/service"
	"github.com/hsforensics/api/internal/worker"
	ws "github.com/hsforensics/api/internal/websocket"
	"github.com/hsforensics/api/pkg/logger"
	"github.com/hsforensics/api/pkg/response"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	zlog, err := logger.New(cfg.Server.LogLevel)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer zlog.Sync()

	// Initialize Redis client (optional — mirrors status and backs rate limits)
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	ctx := context.Background()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		zlog.Warn("redis not available; status mirror and rate limits disabled", zap.Error(err))
	}

	// Initialize blob storage
	var store client.StorageClient
	switch cfg.Store.Backend {
	case "s3":
		s3Client, err := client.NewS3Client(&cfg.S3)
		if err != nil {
			zlog.Fatal("failed to initialize S3 storage", zap.Error(err))
		}
		store = s3Client
		zlog.Info("using S3 object storage", zap.String("bucket", cfg.S3.BucketName))
	default:
		fsClient, err := client.NewFSClient(cfg.Store.Root)
		if err != nil {
			zlog.Fatal("failed to initialize filesystem storage", zap.Error(err))
		}
		store = fsClient
		zlog.Info("using filesystem storage", zap.String("root", cfg.Store.Root))
	}

	// Initialize validator
	validate := validator.New()

	// Initialize WebSocket hub
	hub := ws.NewHub(zlog)
	go hub.Run()

	// Initialize services
	imageService := service.NewImageService(store, zlog)
	maskService := service.NewMaskService(store, zlog)

	// The model handle is constructed once here and shared read-only by all
	// workers: the remote runner's HTTP client or the builtin handle.
	samClient := client.NewSAMClient(&cfg.SAM)
	var segRunner runner.Runner
	if samClient.IsConfigured() {
		segRunner = runner.NewRemoteRunner(samClient, &cfg.SAM, cfg.Segment.Presets, zlog)
		zlog.Info("using remote segmentation service",
			zap.String("url", cfg.SAM.ServiceURL),
			zap.String("model", cfg.SAM.Model),
		)
	} else {
		segRunner = runner.NewBuiltinRunner(runner.LoadHandle(&cfg.Segment), zlog)
		zlog.Info("no segmentation service configured, using builtin segmenter")
	}

	// Initialize job queue + worker pool
	segWorker := worker.NewSegmentWorker(imageService, maskService, segRunner, zlog)
	mirror := queue.NewStatusMirror(redisClient, time.Duration(cfg.Queue.Retention)*time.Hour, zlog)
	jobQueue := queue.New(
		queue.Config{
			Workers:    cfg.Queue.Workers,
			MaxDepth:   cfg.Queue.MaxDepth,
			JobTimeout: time.Duration(cfg.Queue.JobTimeout) * time.Second,
			Retention:  time.Duration(cfg.Queue.Retention) * time.Hour,
		},
		segWorker,
		zlog,
		queue.WithNotifier(hub),
		queue.WithMirror(mirror),
	)
	jobQueue.Start()

	// Initialize handlers
	imageHandler := handler.NewImageHandler(imageService, maskService, validate)
	jobHandler := handler.NewJobHandler(jobQueue, imageService, &cfg.Segment, &cfg.SAM, validate)
	modelHandler := handler.NewModelHandler(segRunner, &cfg.Segment, &cfg.SAM)
	rateLimiter := middleware.NewRateLimiter(redisClient)

	// Initialize Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: customErrorHandler,
		BodyLimit:    25 * 1024 * 1024, // 25MB: 20MB payload + multipart overhead
	})

	// Global middleware
	app.Use(recover.New())
	app.Use(fiberlogger.New(fiberlogger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,DELETE,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept",
	}))

	// Base URL - timestamp
	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"timestamp": time.Now().Unix(),
		})
	})

	// Health check: degraded when every worker is busy and the pending
	// queue is at capacity.
	app.Get("/health", func(c *fiber.Ctx) error {
		stats := jobQueue.Stats()
		status := "ok"
		if stats.Running >= stats.Workers && stats.Pending >= stats.Capacity {
			status = "degraded"
		}
		return c.JSON(fiber.Map{
			"status": status,
			"queue":  stats,
			"services": fiber.Map{
				"model": segRunner.Info().Key,
				"store": cfg.Store.Backend,
				"redis": redisClient.Ping(c.Context()).Err() == nil,
			},
		})
	})

	// API routes
	api := app.Group("/api")

	images := api.Group("/images")
	images.Post("/", rateLimiter.UploadLimit(cfg.RateLimit.UploadPerHour), imageHandler.Upload)
	images.Get("/", imageHandler.List)
	images.Get("/:imageId", imageHandler.Get)
	images.Delete("/:imageId", imageHandler.Delete)
	images.Get("/:imageId/masks", imageHandler.Masks)

	jobs := api.Group("/jobs")
	jobs.Post("/", rateLimiter.JobsLimit(cfg.RateLimit.JobsPerHour), jobHandler.Create)
	jobs.Get("/:jobId", jobHandler.Status)
	jobs.Get("/:jobId/result", jobHandler.Result)
	jobs.Post("/:jobId/cancel", jobHandler.Cancel)

	api.Get("/models", modelHandler.List)

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

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		zlog.Info("shutting down server")
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			zlog.Error("server shutdown error", zap.Error(err))
		}
		stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := jobQueue.Stop(stopCtx); err != nil {
			zlog.Error("queue shutdown error", zap.Error(err))
		}
	}()

	// Start server
	addr := ":" + cfg.Server.Port
	zlog.Info("server starting", zap.String("addr", addr))
	if err := app.Listen(addr); err != nil {
		zlog.Fatal("server error", zap.Error(err))
	}
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
			"code":    response.CodeServiceError,
			"message": message,
		},
	})
}
