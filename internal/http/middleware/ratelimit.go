package middleware

import (
	"fmt"
	"net/http"
	"time"

	"porch/internal/observability/logger"
	"porch/internal/ratelimit"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// RateLimitMiddleware enforces a per-credential request budget. It must
// run after the auth middleware, which stores the token id in the
// context.
func RateLimitMiddleware(limiter *ratelimit.RedisRateLimiter, limitPerMin int) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			log := logger.GetLogger(ctx)

			tokenID := logger.GetTokenIDFromContext(ctx)
			if tokenID == 0 {
				log.Error(ctx, "token id not found in context for rate limiting",
					logger.Module("http"), logger.Action("rate_limit"))
				http.Error(w, "internal server error", http.StatusInternalServerError)
				return
			}

			allowed, remaining, err := limiter.AllowRequest(ctx, tokenID, limitPerMin, 60)
			if err != nil {
				log.Error(ctx, "rate limit check failed",
					logger.Module("http"), logger.Action("rate_limit"), zap.Error(err))
				http.Error(w, "internal server error", http.StatusInternalServerError)
				return
			}

			w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", limitPerMin))
			w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%d", remaining))
			w.Header().Set("X-RateLimit-Reset", fmt.Sprintf("%d", time.Now().Add(60*time.Second).Unix()))

			if !allowed {
				span := trace.SpanFromContext(ctx)
				span.AddEvent("rate_limit_exceeded")

				log.Warn(ctx, "rate limit exceeded",
					logger.Module("http"),
					logger.Action("rate_limit"),
					zap.Int("limit", limitPerMin),
				)

				w.Header().Set("Retry-After", "60")
				http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
