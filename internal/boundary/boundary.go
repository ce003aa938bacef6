// Package boundary implements the periodic Boundary-chunk emitter of spec
// §4.5.
package boundary

import (
	"log/slog"
	"time"

	"go.uber.org/atomic"

	"github.com/audiolibrelab/xdfrecorder/internal/clock"
)

// Writer is the subset of xdf.Writer the boundary task needs.
type Writer interface {
	WriteBoundary() error
}

// Worker emits a Boundary chunk every Interval until Shutdown is observed.
type Worker struct {
	Writer   Writer
	Interval time.Duration
	Shutdown *atomic.Bool
	Logger   *slog.Logger
}

const pollInterval = 500 * time.Millisecond

// Run loops: sleep 500ms, and once Interval has elapsed since the last
// boundary, write one and reset the clock (spec §4.5).
func (w *Worker) Run() {
	logger := w.Logger
	if logger == nil {
		logger = slog.Default()
	}
	interval := w.Interval
	if interval <= 0 {
		interval = 10 * time.Second
	}

	next := clock.Now().Add(interval)
	for !w.Shutdown.Load() {
		time.Sleep(pollInterval)
		if w.Shutdown.Load() {
			return
		}
		if clock.Now().Before(next) {
			continue
		}
		if err := w.Writer.WriteBoundary(); err != nil {
			logger.Error("boundary writer terminating", "error", err)
			return
		}
		next = clock.Now().Add(interval)
	}
}
