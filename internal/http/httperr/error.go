package httperr

import (
	"context"
	"encoding/json"
	"net/http"

	"porch/internal/observability/logger"

	"go.uber.org/zap"
)

// ErrorResponse is the standardized error envelope.
type ErrorResponse struct {
	OK    bool         `json:"ok"`
	Error *ErrorDetail `json:"error"`
}

// ErrorDetail carries the machine-readable code and the human message.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes for 403 Forbidden (credential and scope failures).
const (
	ErrCodeInvalidToken = "INVALID_TOKEN"
	ErrCodeForbidden    = "FORBIDDEN"
)

// Error codes for client mistakes.
const (
	ErrCodeNotFound         = "NOT_FOUND"
	ErrCodeConflict         = "CONFLICT"
	ErrCodeMissingField     = "MISSING_FIELD"
	ErrCodeInvalidParameter = "INVALID_PARAMETER"
	ErrCodeInvalidRequest   = "INVALID_REQUEST"
)

// Error code for 500 Internal Server Error.
const (
	ErrCodeInternalError = "INTERNAL_ERROR"
)

// WriteError writes a standardized error response and logs it. The
// message must never contain a bearer token value.
func WriteError(w http.ResponseWriter, ctx context.Context, status int, code, message string) {
	log := logger.GetLogger(ctx)
	log.Warn(ctx, "request failed",
		logger.Module("http"),
		logger.Action("error_response"),
		zap.Int("status_code", status),
		zap.String("error_code", code),
		zap.String("message", message),
	)

	response := ErrorResponse{
		OK:    false,
		Error: &ErrorDetail{Code: code, Message: message},
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(response)
}

// Forbidden403 writes a 403 Forbidden response.
func Forbidden403(w http.ResponseWriter, ctx context.Context, code, message string) {
	WriteError(w, ctx, http.StatusForbidden, code, message)
}

// NotFound404 writes a 404 Not Found response.
func NotFound404(w http.ResponseWriter, ctx context.Context, message string) {
	WriteError(w, ctx, http.StatusNotFound, ErrCodeNotFound, message)
}

// Conflict409 writes a 409 Conflict response.
func Conflict409(w http.ResponseWriter, ctx context.Context, message string) {
	WriteError(w, ctx, http.StatusConflict, ErrCodeConflict, message)
}

// BadRequest400 writes a 400 Bad Request response.
func BadRequest400(w http.ResponseWriter, ctx context.Context, code, message string) {
	WriteError(w, ctx, http.StatusBadRequest, code, message)
}

// Unprocessable422 writes a 422 Unprocessable Entity response.
func Unprocessable422(w http.ResponseWriter, ctx context.Context, message string) {
	WriteError(w, ctx, http.StatusUnprocessableEntity, ErrCodeInvalidParameter, message)
}

// InternalError500 writes a 500 response with a generic message so that
// internals never leak to clients.
func InternalError500(w http.ResponseWriter, ctx context.Context) {
	log := logger.GetLogger(ctx)
	log.Error(ctx, "internal server error",
		logger.Module("http"),
		logger.Action("error_response"),
		zap.String("request_id", logger.GetRequestIDFromContext(ctx)),
	)

	response := ErrorResponse{
		OK:    false,
		Error: &ErrorDetail{Code: ErrCodeInternalError, Message: "Internal Server Error"},
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusInternalServerError)
	_ = json.NewEncoder(w).Encode(response)
}
