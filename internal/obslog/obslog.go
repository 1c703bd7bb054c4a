// Package obslog provides the structured logger the engine uses for failed
// operations (debug level) and for migration and auto-defragment warnings.
// It wraps go.uber.org/zap's SugaredLogger, the same logging library used
// elsewhere in the example corpus this module was grounded on.
package obslog

import "go.uber.org/zap"

// Logger is the structured logger the engine accepts. A nil *Logger is
// valid and silently discards everything, so a host that doesn't care about
// engine diagnostics pays no logging cost.
type Logger struct {
	z *zap.SugaredLogger
}

// New wraps an existing zap.SugaredLogger.
func New(z *zap.SugaredLogger) *Logger {
	if z == nil {
		return nil
	}

	return &Logger{z: z}
}

// NewDevelopment builds a human-readable development logger, for CLI tools
// and tests.
func NewDevelopment() (*Logger, error) {
	z, err := zap.NewDevelopment()
	if err != nil {
		return nil, err
	}

	return New(z.Sugar()), nil
}

// Debugw logs at debug level if l is non-nil.
func (l *Logger) Debugw(msg string, kv ...any) {
	if l == nil {
		return
	}

	l.z.Debugw(msg, kv...)
}

// Warnw logs at warn level if l is non-nil.
func (l *Logger) Warnw(msg string, kv ...any) {
	if l == nil {
		return
	}

	l.z.Warnw(msg, kv...)
}

// Sync flushes any buffered log entries.
func (l *Logger) Sync() error {
	if l == nil {
		return nil
	}

	return l.z.Sync()
}
