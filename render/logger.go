package render

import (
	"log/slog"
	"sync/atomic"
)

var loggerPtr atomic.Pointer[slog.Logger]

func init() {
	loggerPtr.Store(slog.New(slog.DiscardHandler))
}

// SetLogger configures the logger used by the package. By default nothing is logged.
// Pass nil to go back to the silent default.
//
// Log levels used:
//   - [slog.LevelDebug]: swapchain rebuilds, frame pool growth
//   - [slog.LevelInfo]: device, swapchain and pipeline creation
//   - [slog.LevelWarn]: validation warnings, resources that could not be released
//   - [slog.LevelError]: validation errors
func SetLogger(l *slog.Logger) {
	if l == nil {
		l = slog.New(slog.DiscardHandler)
	}
	loggerPtr.Store(l)
}

// Logger returns the current package logger.
func Logger() *slog.Logger {
	return loggerPtr.Load()
}
