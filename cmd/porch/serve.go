package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"porch/internal/auth"
	"porch/internal/config"
	"porch/internal/database"
	"porch/internal/http/handler"
	"porch/internal/observability/logger"
	"porch/internal/ratelimit"
	"porch/internal/repo"
	"porch/internal/service"
	"porch/internal/telemetry"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the API server",
	Long:  `Start the porch HTTP server with all middlewares and observability`,
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Initialize logger
	log, err := logger.New(cfg.OTELServiceName, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	log.Info(ctx, "starting porch",
		zap.String("version", telemetry.ServiceVersion),
		zap.String("schema", cfg.DatabaseSchema),
	)

	// Run database migrations
	log.Info(ctx, "running database migrations")
	if err := database.RunMigrations(ctx, cfg.DatabaseURL, cfg.DatabaseSchema); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	log.Info(ctx, "migrations completed successfully")

	// Initialize tracing strictly as opt-in
	var tracerProvider *sdktrace.TracerProvider
	if cfg.OTELEnabled {
		log.Info(ctx, "initializing tracing", zap.String("endpoint", cfg.OTELExporterEndpoint))
		tp, err := telemetry.InitTracer(ctx, cfg.OTELServiceName, cfg.OTELExporterEndpoint, cfg.OTELSamplingRatio)
		if err != nil {
			log.Warn(ctx, "failed to initialize tracer, continuing without tracing", zap.Error(err))
		} else {
			tracerProvider = tp
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := tracerProvider.Shutdown(shutdownCtx); err != nil {
					log.Error(shutdownCtx, "failed to shutdown tracer provider", zap.Error(err))
				}
			}()
		}
	}

	// Metrics are always on; they cost nothing without a scraper.
	metrics := telemetry.NewMetrics(nil)

	// Connect to database
	log.Info(ctx, "connecting to database")
	pool, err := database.NewPool(ctx, cfg.DatabaseURL, cfg.DatabaseSchema)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer pool.Close()
	log.Info(ctx, "database connected")

	// Connect to Redis when rate limiting is configured
	var rateLimiter *ratelimit.RedisRateLimiter
	if cfg.RateLimitingEnabled() {
		log.Info(ctx, "connecting to redis")
		redisOpts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("failed to parse Redis URL: %w", err)
		}
		redisClient := redis.NewClient(redisOpts)
		defer redisClient.Close()

		if err := redisClient.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("failed to connect to Redis: %w", err)
		}
		log.Info(ctx, "redis connected")

		rateLimiter = ratelimit.NewRedisRateLimiter(redisClient, metrics.RateLimitRejections)
	} else {
		log.Info(ctx, "rate limiting disabled (REDIS_URL not set)")
	}

	// Initialize repositories
	pipelineRepo := repo.NewPipelineRepository(pool)
	taskRepo := repo.NewTaskRepository(pool)
	tokenRepo := repo.NewTokenRepository(pool)
	eventRepo := repo.NewEventRepository(pool)

	// Initialize services
	pipelineService := service.NewPipelineService(pipelineRepo, tokenRepo, log)
	taskService := service.NewTaskService(taskRepo, eventRepo, pipelineRepo, log, metrics)

	// Initialize handlers
	pipelineHandler := handler.NewPipelineHandler(pipelineService)
	taskHandler := handler.NewTaskHandler(taskService)

	// Token validation against the database
	validator := auth.NewValidator(pool)

	// Build router
	r := buildRouter(RouterDeps{
		Cfg:             cfg,
		Log:             log,
		Validator:       validator,
		RateLimiter:     rateLimiter,
		Metrics:         metrics,
		Pool:            pool,
		PipelineHandler: pipelineHandler,
		TaskHandler:     taskHandler,
	})

	// Create HTTP server
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info(ctx, "starting http server", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error(ctx, "failed to start server", zap.Error(err))
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Info(ctx, "shutdown signal received, starting graceful shutdown")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 25*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error(shutdownCtx, "server shutdown error", zap.Error(err))
	}

	log.Info(shutdownCtx, "shutdown complete")
	return nil
}
