// Package offsetprobe implements the optional per-stream clock-offset
// measurement task described in spec §4.6.
package offsetprobe

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.uber.org/atomic"

	"github.com/audiolibrelab/xdfrecorder/internal/clock"
	"github.com/audiolibrelab/xdfrecorder/internal/streamsource"
)

const probeTimeout = 2500 * time.Millisecond

// Entry is one (collection_time, offset) measurement.
type Entry struct {
	CollectionTime float64
	Offset         float64
}

// List is a stream's in-memory OffsetList: written by a Probe, read once
// when the owning StreamRecorder builds its footer (spec §3).
type List struct {
	mu      sync.Mutex
	entries []Entry
}

// Append records a new measurement.
func (l *List) Append(e Entry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, e)
}

// Snapshot returns a copy of every measurement recorded so far.
func (l *List) Snapshot() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

// ClockOffsetWriter is the subset of xdf.Writer a Probe needs.
type ClockOffsetWriter interface {
	WriteClockOffset(id uint32, collectionTime, offset float64) error
}

// Probe periodically queries an inlet's clock offset and records it, both
// in the stream's List and as a ClockOffset chunk.
type Probe struct {
	StreamID uint32
	Inlet    streamsource.Inlet
	Writer   ClockOffsetWriter
	List     *List
	Interval time.Duration

	// Shutdown is the engine-wide cancellation flag; OffsetShutdown is
	// this probe's own flag, set by the owning StreamRecorder once it
	// stops streaming (spec §4.6: "neither shutdown nor per-stream
	// offset_shutdown").
	Shutdown       *atomic.Bool
	OffsetShutdown *atomic.Bool

	Logger *slog.Logger
}

// Run executes the probe loop until shutdown. It never returns an error.
// Every error from TimeCorrection is handled as a timeout: it is logged and
// the loop continues, whatever its cause. Only a failed ClockOffset write
// terminates the probe.
func (p *Probe) Run(ctx context.Context) {
	interval := p.Interval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}

	for !p.Shutdown.Load() && !p.OffsetShutdown.Load() {
		sleepInterruptible(interval, p.Shutdown, p.OffsetShutdown)
		if p.Shutdown.Load() || p.OffsetShutdown.Load() {
			return
		}

		offset, err := p.Inlet.TimeCorrection(ctx, probeTimeout)
		if err != nil {
			logger.Warn("clock offset probe timed out, continuing", "stream_id", p.StreamID, "error", err)
			continue
		}

		now := clock.WallSeconds()

		if err := p.Writer.WriteClockOffset(p.StreamID, now, offset); err != nil {
			logger.Error("clock offset probe terminating: writer failed", "stream_id", p.StreamID, "error", err)
			return
		}
		p.List.Append(Entry{CollectionTime: now - offset, Offset: offset})
	}
}

func sleepInterruptible(d time.Duration, flags ...*atomic.Bool) {
	const poll = 250 * time.Millisecond
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		for _, f := range flags {
			if f.Load() {
				return
			}
		}
		remaining := time.Until(deadline)
		if remaining > poll {
			time.Sleep(poll)
		} else if remaining > 0 {
			time.Sleep(remaining)
		}
	}
}
