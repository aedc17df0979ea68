package util

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var logger *zap.Logger

// InitLogger initializes the global logger
func InitLogger(env string) error {
	var err error
	var config zap.Config

	if env == "production" {
		config = zap.NewProductionConfig()
	} else {
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	logger, err = config.Build()
	if err != nil {
		return err
	}

	zap.ReplaceGlobals(logger)
	return nil
}

// GetLogger returns the global logger
func GetLogger() *zap.Logger {
	if logger == nil {
		logger, _ = zap.NewDevelopment()
	}
	return logger
}

// LoggerFromContext returns the global logger annotated with the trace and
// span ids of the span active in ctx, if any.
func LoggerFromContext(ctx context.Context) *zap.Logger {
	l := GetLogger()
	spanContext := trace.SpanContextFromContext(ctx)
	if spanContext.HasTraceID() {
		l = l.With(zap.String("trace_id", spanContext.TraceID().String()))
	}
	if spanContext.HasSpanID() {
		l = l.With(zap.String("span_id", spanContext.SpanID().String()))
	}
	return l
}

// SyncLogger flushes any buffered log entries
func SyncLogger() {
	if logger != nil {
		_ = logger.Sync()
	}
}
