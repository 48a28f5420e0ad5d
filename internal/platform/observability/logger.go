package observability

import (
	"context"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/oceanbutterfly/shop-api/internal/platform/requestctx"
)

// NewLogger builds the process logger. Output is JSON with Cloud Logging style keys
// (severity, message, timestamp) except in the local environment, which gets a console encoder.
// An empty or unknown level means info.
func NewLogger(level, environment string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(strings.TrimSpace(level))
	if err != nil || strings.TrimSpace(level) == "" {
		lvl = zapcore.InfoLevel
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.Sampling = nil
	cfg.DisableStacktrace = true
	cfg.EncoderConfig.MessageKey = "message"
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.LevelKey = "severity"
	cfg.EncoderConfig.EncodeTime = zapcore.RFC3339NanoTimeEncoder
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	cfg.EncoderConfig.EncodeDuration = zapcore.StringDurationEncoder
	if strings.EqualFold(strings.TrimSpace(environment), "local") {
		cfg.Encoding = "console"
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	return cfg.Build()
}

// PrintfAdapter satisfies the Printf-only logger interfaces of the auth, idempotency and kafka
// packages.
type PrintfAdapter struct {
	logger *zap.SugaredLogger
}

func NewPrintfAdapter(logger *zap.Logger) PrintfAdapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return PrintfAdapter{logger: logger.Sugar()}
}

func (a PrintfAdapter) Printf(format string, args ...any) {
	a.logger.Infof(format, args...)
}

// EventLogger adapts a named zap logger to the func(ctx, event, fields) hook taken by services.
// Request scoped loggers win over base so request ids stay attached.
func EventLogger(base *zap.Logger, name string) func(context.Context, string, map[string]any) {
	if base == nil {
		base = zap.NewNop()
	}
	base = base.Named(name)
	return func(ctx context.Context, event string, fields map[string]any) {
		logger := base
		if scoped, ok := requestctx.LoggerFrom(ctx); ok {
			logger = scoped.Named(name)
		}
		zFields := make([]zap.Field, 0, len(fields)+1)
		zFields = append(zFields, zap.String("event", event))
		for k, v := range fields {
			zFields = append(zFields, zap.Any(k, v))
		}
		if strings.HasSuffix(event, ".failed") || strings.HasSuffix(event, ".exhausted") {
			logger.Warn(name+" event", zFields...)
			return
		}
		logger.Info(name+" event", zFields...)
	}
}

// WithRequestFields attaches request-scoped fields, skipping string fields that are empty.
func WithRequestFields(logger *zap.Logger, fields ...zap.Field) *zap.Logger {
	if logger == nil {
		logger = zap.NewNop()
	}
	kept := fields[:0:0]
	for _, field := range fields {
		if field.Type == zapcore.StringType && field.String == "" {
			continue
		}
		kept = append(kept, field)
	}
	return logger.With(kept...)
}
