// Package resolve implements the per-watch-query stream discovery task of
// spec §4.4: periodically re-resolve a query and spawn a StreamRecorder for
// every genuinely new match.
package resolve

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.uber.org/atomic"

	"github.com/audiolibrelab/xdfrecorder/internal/streamsource"
)

// Spawner creates and runs a non-phase-locked StreamRecorder for a newly
// discovered stream. It must not block past the recorder's own lifetime —
// the Resolver tracks it only to join on exit.
type Spawner func(info streamsource.StreamInfo) (run func(ctx context.Context))

// Worker watches one query and spawns recorders for new matches.
type Worker struct {
	Query    string
	Source   streamsource.StreamSource
	Spawn    Spawner
	Interval time.Duration
	Shutdown *atomic.Bool
	Logger   *slog.Logger

	knownUIDs      map[string]bool
	knownSourceIDs map[string]bool
	spawnedWG      sync.WaitGroup
}

// Run loops, calling resolve_stream every Interval, until Shutdown. On
// return, every recorder it spawned has been joined.
func (w *Worker) Run(ctx context.Context) {
	logger := w.Logger
	if logger == nil {
		logger = slog.Default()
	}
	interval := w.Interval
	if interval <= 0 {
		interval = 5 * time.Second
	}

	w.knownUIDs = make(map[string]bool)
	w.knownSourceIDs = make(map[string]bool)

	for !w.Shutdown.Load() {
		matches, err := w.Source.ResolveStream(ctx, w.Query, 0, interval)
		if err != nil {
			logger.Warn("resolve query failed, retrying", "query", w.Query, "error", err)
		}

		for _, info := range matches {
			if w.isKnown(info) {
				continue
			}
			w.markKnown(info)

			run := w.Spawn(info)
			w.spawnedWG.Add(1)
			go func() {
				defer w.spawnedWG.Done()
				run(ctx)
			}()
		}

		if w.Shutdown.Load() {
			break
		}
	}

	w.spawnedWG.Wait()
}

func (w *Worker) isKnown(info streamsource.StreamInfo) bool {
	if w.knownUIDs[info.UID] {
		return true
	}
	if info.SourceID != "" && w.knownSourceIDs[info.SourceID] {
		return true
	}
	return false
}

func (w *Worker) markKnown(info streamsource.StreamInfo) {
	w.knownUIDs[info.UID] = true
	if info.SourceID != "" {
		w.knownSourceIDs[info.SourceID] = true
	}
}
