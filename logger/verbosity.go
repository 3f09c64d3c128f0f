package logger

import "go.uber.org/zap/zapcore"

// Verbosity level constants for CLI flag counts.
const (
	VerbosityUser  = 0 // No flags: configured level
	VerbosityInfo  = 1 // -v: info
	VerbosityDebug = 2 // -vv: debug, including every request attempt
)

// VerbosityToLevel maps verbosity flags (-v, -vv) to zap log levels.
// Zero returns the fallback level unchanged.
func VerbosityToLevel(verbosity int, fallback zapcore.Level) zapcore.Level {
	switch {
	case verbosity <= VerbosityUser:
		return fallback
	case verbosity == VerbosityInfo:
		return zapcore.InfoLevel
	default:
		return zapcore.DebugLevel
	}
}
