package amdcmd

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
)

// nopHandler is a slog.Handler that silently discards all log records.
// The Enabled method returns false so the caller skips message formatting
// entirely, making disabled logging effectively zero-cost.
type nopHandler struct{}

func (nopHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (nopHandler) Handle(context.Context, slog.Record) error { return nil }
func (nopHandler) WithAttrs([]slog.Attr) slog.Handler        { return nopHandler{} }
func (nopHandler) WithGroup(string) slog.Handler             { return nopHandler{} }

// newNopLogger creates a logger that silently discards all output.
func newNopLogger() *slog.Logger { return slog.New(nopHandler{}) }

// loggerPtr stores the active logger. Accessed atomically so that
// SetLogger can be called concurrently with recording on any goroutine.
var loggerPtr atomic.Pointer[slog.Logger]

func init() {
	l := newNopLogger()
	loggerPtr.Store(l)
}

// SetLogger configures the logger for amdcmd and all its sub-packages.
// By default, amdcmd produces no log output. Call SetLogger to enable logging.
//
// SetLogger is safe for concurrent use: it stores the new logger atomically.
// Pass nil to disable logging (restore default silent behavior).
//
// Log levels used by amdcmd:
//   - [slog.LevelDebug]: emission diagnostics (upload ring growth, binning
//     disabled, gang stream creation, layout transitions)
//   - [slog.LevelInfo]: device creation
//   - [slog.LevelWarn]: sticky command buffer errors
//
// Example:
//
//	// Enable debug-level logging for full diagnostics:
//	amdcmd.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
//	    Level: slog.LevelDebug,
//	})))
func SetLogger(l *slog.Logger) {
	if l == nil {
		l = newNopLogger()
	}
	loggerPtr.Store(l)

	// Propagate to device-level collaborators that keep their own logger.
	settersMu.RLock()
	defer settersMu.RUnlock()
	for _, s := range setters {
		s.SetLogger(l)
	}
}

// Logger returns the current logger used by amdcmd.
//
// Logger is safe for concurrent use.
func Logger() *slog.Logger {
	return loggerPtr.Load()
}

// loggerSetter is implemented by collaborators that accept a logger.
type loggerSetter interface {
	SetLogger(*slog.Logger)
}

var (
	settersMu sync.RWMutex
	setters   = map[any]loggerSetter{}
)

// propagateLogger registers v to follow SetLogger if it implements
// loggerSetter, and hands it the current logger right away.
func propagateLogger(v any) {
	ls, ok := v.(loggerSetter)
	if !ok {
		return
	}
	settersMu.Lock()
	setters[v] = ls
	settersMu.Unlock()
	ls.SetLogger(Logger())
}

// forgetLogger stops propagating to v.
func forgetLogger(v any) {
	settersMu.Lock()
	delete(setters, v)
	settersMu.Unlock()
}
