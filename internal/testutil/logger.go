// Package testutil provides shared test helpers.
package testutil

import (
	"log/slog"
	"sync/atomic"
	"testing"
)

// NewTestLogger returns a debug level logger that writes to t.Log().
// Logs only appear on test failure or when running with -v.
func NewTestLogger(t testing.TB) *slog.Logger {
	t.Helper()
	return NewTestLoggerLevel(t, slog.LevelDebug)
}

// NewTestLoggerLevel returns a logger that writes records at or above level
// to t.Log(). Records emitted after the test completes, typically from
// background goroutines, are dropped.
func NewTestLoggerLevel(t testing.TB, level slog.Leveler) *slog.Logger {
	t.Helper()
	w := &testWriter{t: t}
	t.Cleanup(func() { w.done.Store(true) })
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

type testWriter struct {
	t    testing.TB
	done atomic.Bool
}

func (w *testWriter) Write(p []byte) (n int, err error) {
	if w.done.Load() {
		return len(p), nil
	}
	w.t.Helper()
	w.t.Log(string(p))
	return len(p), nil
}
