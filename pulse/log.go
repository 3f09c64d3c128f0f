package pulse

import "go.uber.org/zap"

// Logger marks the lifecycle of pulse work (chunks, batches, waves, segments)
// so opening and closing lines stand out in a busy log:
//   - Starting → ✿ opening
//   - Closing  → ❀ closing
//   - Pulse    → everything in between
type Logger struct {
	*zap.SugaredLogger
}

// NewLogger wraps l; nil yields a no-op logger
func NewLogger(l *zap.SugaredLogger) Logger {
	if l == nil {
		l = zap.NewNop().Sugar()
	}
	return Logger{l}
}

// Starting logs an opening (✿) event
func (l Logger) Starting(msg string, keysAndValues ...interface{}) {
	l.Infow("✿ "+msg, keysAndValues...)
}

// Closing logs a closing (❀) event
func (l Logger) Closing(msg string, keysAndValues ...interface{}) {
	l.Infow("❀ "+msg, keysAndValues...)
}

// Pulse logs progress between opening and closing
func (l Logger) Pulse(msg string, keysAndValues ...interface{}) {
	l.Infow(msg, keysAndValues...)
}
