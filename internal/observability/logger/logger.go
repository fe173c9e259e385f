package logger

import (
	"context"
	"fmt"
	"strings"

	"porch/internal/observability/requestid"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Context keys for values the logger folds into every record.
type contextKey string

const (
	loggerContextKey   contextKey = "logger"
	pipelineContextKey contextKey = "pipeline"
	tokenIDContextKey  contextKey = "token_id"
)

// Logger wraps zap.Logger to enforce structured logging standards.
// Every record carries the service name, and any request id, pipeline
// name or token id found in the context. Bearer token values are
// redacted before they can reach a sink.
type Logger struct {
	zap         *zap.Logger
	serviceName string
}

// Field is a structured log field.
type Field = zapcore.Field

// New creates a Logger emitting JSON with RFC3339Nano timestamps.
// level is one of "debug", "info", "warn", "error".
func New(serviceName string, level string) (*Logger, error) {
	if serviceName == "" {
		return nil, fmt.Errorf("serviceName is required")
	}

	config := zap.Config{
		Level:            zap.NewAtomicLevelAt(parseLevel(level)),
		Encoding:         "json",
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "timestamp",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			MessageKey:     "message",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.LowercaseLevelEncoder,
			EncodeTime:     zapcore.RFC3339NanoTimeEncoder,
			EncodeDuration: zapcore.MillisDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
	}

	z, err := config.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build zap logger: %w", err)
	}

	z = z.With(zap.String("service", serviceName))

	return &Logger{zap: z, serviceName: serviceName}, nil
}

// Module returns a field naming the component emitting the record.
func Module(name string) Field {
	return zap.String("module", name)
}

// Action returns a field naming the operation being performed.
func Action(name string) Field {
	return zap.String("action", name)
}

// Info logs at info level.
func (l *Logger) Info(ctx context.Context, msg string, fields ...Field) {
	l.log(ctx, zapcore.InfoLevel, msg, fields...)
}

// Warn logs at warn level.
func (l *Logger) Warn(ctx context.Context, msg string, fields ...Field) {
	l.log(ctx, zapcore.WarnLevel, msg, fields...)
}

// Error logs at error level.
func (l *Logger) Error(ctx context.Context, msg string, fields ...Field) {
	l.log(ctx, zapcore.ErrorLevel, msg, fields...)
}

// Debug logs at debug level.
func (l *Logger) Debug(ctx context.Context, msg string, fields ...Field) {
	l.log(ctx, zapcore.DebugLevel, msg, fields...)
}

func (l *Logger) log(ctx context.Context, level zapcore.Level, msg string, fields ...Field) {
	contextFields := []Field{}

	if requestID := GetRequestIDFromContext(ctx); requestID != "" {
		contextFields = append(contextFields, zap.String("request_id", requestID))
	}
	if pipeline := GetPipelineFromContext(ctx); pipeline != "" {
		contextFields = append(contextFields, zap.String("pipeline", pipeline))
	}
	if tokenID := GetTokenIDFromContext(ctx); tokenID != 0 {
		contextFields = append(contextFields, zap.Int64("token_id", tokenID))
	}

	allFields := append(contextFields, sanitizeFields(fields)...)

	switch level {
	case zapcore.DebugLevel:
		l.zap.Debug(msg, allFields...)
	case zapcore.InfoLevel:
		l.zap.Info(msg, allFields...)
	case zapcore.WarnLevel:
		l.zap.Warn(msg, allFields...)
	case zapcore.ErrorLevel:
		l.zap.Error(msg, allFields...)
	}
}

// Sync flushes buffered records.
func (l *Logger) Sync() error {
	return l.zap.Sync()
}

// sanitizeFields redacts fields that could leak credentials. The literal
// bearer string in particular must never appear in a log record.
func sanitizeFields(fields []Field) []Field {
	forbiddenKeys := map[string]bool{
		"authorization": true,
		"bearer":        true,
		"token":         true,
		"credential":    true,
		"password":      true,
		"secret":        true,
		"db_url":        true,
		"database_url":  true,
	}

	sanitized := make([]Field, 0, len(fields))
	for _, field := range fields {
		if forbiddenKeys[strings.ToLower(field.Key)] {
			sanitized = append(sanitized, zap.String(field.Key, "[REDACTED]"))
		} else {
			sanitized = append(sanitized, field)
		}
	}
	return sanitized
}

func parseLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zapcore.DebugLevel
	case "info":
		return zapcore.InfoLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// Context value getters.

func GetRequestIDFromContext(ctx context.Context) string {
	return requestid.GetRequestID(ctx)
}

func GetPipelineFromContext(ctx context.Context) string {
	if v := ctx.Value(pipelineContextKey); v != nil {
		if name, ok := v.(string); ok {
			return name
		}
	}
	return ""
}

func GetTokenIDFromContext(ctx context.Context) int64 {
	if v := ctx.Value(tokenIDContextKey); v != nil {
		if id, ok := v.(int64); ok {
			return id
		}
	}
	return 0
}

// Context value setters.

func SetRequestIDInContext(ctx context.Context, requestID string) context.Context {
	return requestid.SetRequestID(ctx, requestID)
}

func SetPipelineInContext(ctx context.Context, pipeline string) context.Context {
	return context.WithValue(ctx, pipelineContextKey, pipeline)
}

func SetTokenIDInContext(ctx context.Context, tokenID int64) context.Context {
	return context.WithValue(ctx, tokenIDContextKey, tokenID)
}

// GetLogger retrieves the logger from context, or builds a fallback.
func GetLogger(ctx context.Context) *Logger {
	if v := ctx.Value(loggerContextKey); v != nil {
		if logger, ok := v.(*Logger); ok {
			return logger
		}
	}
	logger, _ := New("porch", "info")
	return logger
}

// SetLoggerInContext stores the logger in context.
func SetLoggerInContext(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerContextKey, logger)
}
