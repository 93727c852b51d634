package observability

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/MikeGii/vomm-sub003/internal/config"
	"github.com/MikeGii/vomm-sub003/model"
)

type loggerKey struct{}

// NewLogger builds the service's JSON logger writing to stdout.
//
// Level conventions:
//   - error: infrastructure failures (store down, panics), 5xx responses
//   - warn:  client errors (4xx), sweep repairs, degraded jwks operation
//   - info:  request completion, session lifecycle transitions, catalog load
//   - debug: store operations, injection rolls, request bodies (redacted)
func NewLogger(cfg config.ObservabilityConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zapcore.InfoLevel
	}

	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(level)
	zc.OutputPaths = []string{"stdout"}
	zc.ErrorOutputPaths = []string{"stderr"}
	zc.EncoderConfig.TimeKey = "timestamp"
	zc.EncoderConfig.MessageKey = "msg"
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	zc.EncoderConfig.EncodeDuration = zapcore.MillisDurationEncoder
	zc.Sampling = nil

	return zc.Build()
}

// WithLogger stores a logger in the context.
func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

// LoggerFrom returns the logger stored in the context, or the provided
// fallback if none is found.
func LoggerFrom(ctx context.Context, fallback *zap.Logger) *zap.Logger {
	if l, ok := ctx.Value(loggerKey{}).(*zap.Logger); ok && l != nil {
		return l
	}
	return fallback
}

// RequestLogger returns a logger carrying the request's identity fields so
// every line written while serving the request can be tied back to the
// player and the correlation ID.
func RequestLogger(ctx context.Context, fallback *zap.Logger) *zap.Logger {
	logger := LoggerFrom(ctx, fallback)

	rctx := model.RequestContextFrom(ctx)
	if rctx == nil {
		return logger
	}

	fields := []zap.Field{
		zap.String("player_id", rctx.PlayerID),
		zap.String("correlation_id", rctx.CorrelationID),
	}
	if rctx.TraceID != "" {
		fields = append(fields, zap.String("trace_id", rctx.TraceID))
	}
	return logger.With(fields...)
}

var defaultSensitiveFields = []string{
	"password",
	"secret",
	"token",
	"access_token",
	"refresh_token",
	"api_key",
	"authorization",
}

// RedactBody returns a copy of body with sensitive fields replaced by
// "[REDACTED]", recursing into nested objects. Extra field names merge with
// the built-in set. Intended for debug-level request body logging only.
func RedactBody(body map[string]any, sensitiveFields []string) map[string]any {
	if body == nil {
		return nil
	}

	redact := make(map[string]bool, len(defaultSensitiveFields)+len(sensitiveFields))
	for _, f := range defaultSensitiveFields {
		redact[f] = true
	}
	for _, f := range sensitiveFields {
		redact[f] = true
	}
	return redactMap(body, redact)
}

func redactMap(body map[string]any, redact map[string]bool) map[string]any {
	out := make(map[string]any, len(body))
	for k, v := range body {
		switch {
		case redact[k]:
			out[k] = "[REDACTED]"
		default:
			if nested, ok := v.(map[string]any); ok {
				out[k] = redactMap(nested, redact)
			} else {
				out[k] = v
			}
		}
	}
	return out
}
