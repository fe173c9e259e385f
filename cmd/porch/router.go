package main

import (
	"context"
	"net/http"
	"time"

	"porch/internal/auth"
	"porch/internal/config"
	"porch/internal/http/docs"
	"porch/internal/http/handler"
	"porch/internal/http/middleware"
	"porch/internal/observability/logger"
	"porch/internal/ratelimit"
	"porch/internal/telemetry"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RouterDeps holds everything buildRouter needs to assemble the service.
type RouterDeps struct {
	Cfg         *config.Config
	Log         *logger.Logger
	Validator   *auth.Validator
	RateLimiter *ratelimit.RedisRateLimiter
	Metrics     *telemetry.Metrics
	Pool        *pgxpool.Pool // for the readiness check

	PipelineHandler *handler.PipelineHandler
	TaskHandler     *handler.TaskHandler
}

// buildRouter assembles the chi router with all middleware and routes.
// Health, readiness, metrics and docs are public; everything else sits
// behind bearer token validation.
func buildRouter(deps RouterDeps) chi.Router {
	r := chi.NewRouter()

	// Global middlewares
	r.Use(middleware.RequestIDMiddleware)
	r.Use(middleware.RequestLoggingMiddleware(deps.Log))
	r.Use(middleware.RecoveryMiddleware(deps.Log))
	if deps.Cfg.OTELEnabled {
		r.Use(telemetry.OTelMiddleware(deps.Cfg.OTELServiceName))
	}
	if deps.Metrics != nil {
		r.Use(telemetry.MetricsMiddleware(deps.Metrics))
	}

	// Public routes
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Get("/ready", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if deps.Pool == nil || deps.Pool.Ping(ctx) != nil {
			deps.Log.Error(ctx, "readiness check failed: database unavailable",
				logger.Module("http"), logger.Action("ready"))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"error","message":"database unavailable"}`))
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ready"}`))
	})

	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	r.Get("/openapi.yaml", docs.OpenAPIHandler().ServeHTTP)
	r.Get("/docs", docs.ScalarDocsHandler("/openapi.yaml").ServeHTTP)

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware(deps.Validator))
		if deps.RateLimiter != nil {
			r.Use(middleware.RateLimitMiddleware(deps.RateLimiter, deps.Cfg.RateLimitPerTokenPerMin))
		}

		r.Route("/pipelines", func(r chi.Router) {
			r.Get("/", deps.PipelineHandler.ListPipelines)
			r.Post("/", deps.PipelineHandler.CreatePipeline)
			r.Get("/{pipeline_name}", deps.PipelineHandler.GetPipeline)
			r.Post("/{pipeline_name}/token/{token_desc}", deps.PipelineHandler.MintToken)
		})

		r.Route("/tasks", func(r chi.Router) {
			r.Get("/", deps.TaskHandler.ListTasks)
			r.Post("/", deps.TaskHandler.CreateTask)
			r.Put("/", deps.TaskHandler.UpdateTask)
			r.Post("/claim", deps.TaskHandler.ClaimTasks)
			r.Get("/recent", deps.TaskHandler.RecentTasks)
		})
	})

	return r
}
