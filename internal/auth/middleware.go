package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"porch/internal/domain"
	"porch/internal/http/httperr"
	"porch/internal/observability/logger"

	"go.uber.org/zap"
)

type contextKey string

const permissionContextKey contextKey = "permission"

// Middleware validates the bearer token on every request and injects the
// resolved Permission into the context. All credential failures are 403;
// the response carries the reason, never the token value.
func Middleware(validator *Validator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			log := logger.GetLogger(ctx)

			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				log.Warn(ctx, "missing authorization header",
					logger.Module("auth"), logger.Action("validate"))
				httperr.Forbidden403(w, ctx, httperr.ErrCodeInvalidToken, "Not authenticated")
				return
			}

			scheme, bearer, found := strings.Cut(authHeader, " ")
			if !found || scheme != "Bearer" {
				log.Warn(ctx, "malformed authorization header",
					logger.Module("auth"), logger.Action("validate"))
				httperr.Forbidden403(w, ctx, httperr.ErrCodeInvalidToken, "Invalid authentication credentials")
				return
			}

			permission, err := validator.TokenToPermission(ctx, bearer)
			if err != nil {
				log.Warn(ctx, "credentials validation failed",
					logger.Module("auth"),
					logger.Action("validate"),
					zap.Error(err),
					zap.String("remote_addr", r.RemoteAddr),
				)
				switch {
				case errors.Is(err, ErrTokenBadLength):
					httperr.Forbidden403(w, ctx, httperr.ErrCodeInvalidToken, "The token should be 32 chars long")
				case errors.Is(err, ErrTokenBadCharacters):
					httperr.Forbidden403(w, ctx, httperr.ErrCodeInvalidToken, "Token failed character validation")
				case errors.Is(err, ErrTokenUnknown):
					httperr.Forbidden403(w, ctx, httperr.ErrCodeInvalidToken, "An unknown token is used")
				case errors.Is(err, ErrTokenRevoked):
					httperr.Forbidden403(w, ctx, httperr.ErrCodeInvalidToken, "A revoked token is used")
				default:
					httperr.InternalError500(w, ctx)
				}
				return
			}

			ctx = WithPermission(ctx, permission)
			ctx = logger.SetTokenIDInContext(ctx, permission.RequestorID())
			if p := permission.Pipeline(); p != nil {
				ctx = logger.SetPipelineInContext(ctx, p.Name)
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// WithPermission attaches a resolved Permission to the context.
func WithPermission(ctx context.Context, permission domain.Permission) context.Context {
	return context.WithValue(ctx, permissionContextKey, permission)
}

// GetPermission retrieves the Permission injected by Middleware.
func GetPermission(ctx context.Context) (domain.Permission, bool) {
	permission, ok := ctx.Value(permissionContextKey).(domain.Permission)
	return permission, ok
}
