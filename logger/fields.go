package logger

import (
	"context"

	"go.uber.org/zap"
)

// Standard field names for consistent structured logging across ontogen.
// Use these constants instead of raw strings to ensure consistency.
const (
	// Identity and context
	FieldRunID     = "run_id"
	FieldComponent = "component"

	// Work units
	FieldCategory = "category"
	FieldPath     = "path"
	FieldQuery    = "query"
	FieldStep     = "step"

	// Request execution
	FieldAttempt     = "attempt"
	FieldMaxAttempts = "max_attempts"
	FieldBackoff     = "backoff"
	FieldModel       = "model"

	// Scheduling
	FieldSegment      = "segment"
	FieldSegmentStart = "segment_start"
	FieldSegmentSize  = "segment_size"
	FieldChunk        = "chunk"
	FieldWave         = "wave"
	FieldBatch        = "batch"
	FieldExitCode     = "exit_code"

	// Timing
	FieldDurationMS = "duration_ms"

	// Errors
	FieldError = "error"

	// Counts and sizes
	FieldCount      = "count"
	FieldRows       = "rows"
	FieldTotalCount = "total_count"

	// Files
	FieldFile = "file"
)

type contextKey string

const (
	runIDKey     contextKey = "logger_run_id"
	componentKey contextKey = "logger_component"
)

// WithRunID adds a run ID to the context for logging
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey, runID)
}

// WithComponent adds a component name to the context for logging
func WithComponent(ctx context.Context, component string) context.Context {
	return context.WithValue(ctx, componentKey, component)
}

// FieldsFromContext extracts logging fields from context.
// Returns key-value pairs suitable for use with Infow/Errorw/etc.
func FieldsFromContext(ctx context.Context) []interface{} {
	var fields []interface{}

	if runID, ok := ctx.Value(runIDKey).(string); ok && runID != "" {
		fields = append(fields, FieldRunID, runID)
	}
	if component, ok := ctx.Value(componentKey).(string); ok && component != "" {
		fields = append(fields, FieldComponent, component)
	}

	return fields
}

// LoggerFromContext returns a logger with fields extracted from context.
func LoggerFromContext(ctx context.Context) *zap.SugaredLogger {
	fields := FieldsFromContext(ctx)
	if len(fields) == 0 {
		return Logger
	}
	return Logger.With(fields...)
}

// ComponentLogger returns a named logger for a specific component.
// This is the preferred way to get a logger for dependency injection.
//
// Example:
//
//	scheduler := batch.NewScheduler(runner.Process, cfg, logger.ComponentLogger("batch"))
func ComponentLogger(name string) *zap.SugaredLogger {
	return Logger.Named(name)
}

// ChildLogger creates a child logger with additional context.
//
// Example:
//
//	unitLogger := logger.ChildLogger(baseLogger, logger.FieldPath, unit.Path)
func ChildLogger(parent *zap.SugaredLogger, keysAndValues ...interface{}) *zap.SugaredLogger {
	return parent.With(keysAndValues...)
}
