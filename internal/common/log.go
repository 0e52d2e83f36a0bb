package common

import (
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

var logger atomic.Pointer[zap.Logger]

func init() {
	logger.Store(zap.NewNop())
}

// SetLogger replaces the package logger used by Logf and LogDuration.
// A nil logger disables output.
func SetLogger(l *zap.Logger) {
	if l == nil {
		l = zap.NewNop()
	}
	logger.Store(l)
}

// Logger returns the package logger.
func Logger() *zap.Logger {
	return logger.Load()
}

// Logf emits a formatted debug message.
func Logf(format string, args ...interface{}) {
	logger.Load().Sugar().Debugf(format, args...)
}

// formatDuration formats a duration with 2 decimal places.
// Returns a string like "1.23 ms" (no padding).
func formatDuration(d time.Duration) string {
	ms := float64(d) / float64(time.Millisecond)

	// Handle durations >= 1 second
	if ms >= 1000 {
		sec := ms / 1000
		return fmt.Sprintf("%.2f s", sec)
	} else if ms < 0.01 {
		// Sub-0.01 ms: show in microseconds
		us := ms * 1000
		return fmt.Sprintf("%.2f us", us)
	}
	return fmt.Sprintf("%.2f ms", ms)
}

// LogDuration logs an info message with the elapsed time since start.
func LogDuration(start time.Time, format string, args ...interface{}) {
	logger.Load().Info(fmt.Sprintf(format, args...),
		zap.String("elapsed", formatDuration(time.Since(start))))
}
