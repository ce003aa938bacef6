// Package engine implements the RecordingEngine lifecycle owner of spec
// §4.7: it opens the writer, spawns every worker, and tears everything down
// on Close with bounded join deadlines.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sourcegraph/conc"
	"go.uber.org/atomic"
	"go.uber.org/multierr"

	"github.com/audiolibrelab/xdfrecorder/internal/boundary"
	"github.com/audiolibrelab/xdfrecorder/internal/config"
	"github.com/audiolibrelab/xdfrecorder/internal/phase"
	"github.com/audiolibrelab/xdfrecorder/internal/recorder"
	"github.com/audiolibrelab/xdfrecorder/internal/resolve"
	"github.com/audiolibrelab/xdfrecorder/internal/streamsource"
	"github.com/audiolibrelab/xdfrecorder/internal/xdf"
)

// Engine is the RecordingEngine: it owns the writer, the phase barrier, and
// every worker task, and mediates clean shutdown (spec §4.7).
type Engine struct {
	cfg    *config.RecorderConfig
	writer *xdf.Writer
	source streamsource.StreamSource
	logger *slog.Logger

	shutdown *atomic.Bool
	nextID   *atomic.Uint32

	coordinator *phase.Coordinator
	wg          conc.WaitGroup
	boundaryWG  sync.WaitGroup
	resolverWG  sync.WaitGroup

	mu        sync.Mutex
	recorders []*recorder.Recorder
}

// New constructs a RecordingEngine: opens the writer, resolves the initial
// stream list, and spawns every worker. A failure to open the writer or to
// resolve an initial query is returned; a non-nil error here means no
// recording began.
func New(ctx context.Context, cfg *config.RecorderConfig, source streamsource.StreamSource, logger *slog.Logger) (*Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var writer *xdf.Writer
	var err error
	if cfg.FileType == config.FileTypeCSV {
		writer, err = xdf.NewText(cfg.OutputPath)
	} else {
		writer, err = xdf.NewContainer(cfg.OutputPath)
	}
	if err != nil {
		return nil, fmt.Errorf("engine: failed to open writer at %s: %w", cfg.OutputPath, err)
	}

	e := &Engine{
		cfg:         cfg,
		writer:      writer,
		source:      source,
		logger:      logger,
		shutdown:    atomic.NewBool(false),
		nextID:      atomic.NewUint32(0),
		coordinator: phase.New(),
	}

	initial, err := e.resolveInitialStreams(ctx)
	if err != nil {
		writer.Close()
		return nil, fmt.Errorf("engine: failed to resolve initial streams: %w", err)
	}

	for _, info := range initial {
		e.spawnRecorder(ctx, info, true)
	}

	for _, query := range cfg.WatchQueries {
		e.spawnResolver(ctx, query)
	}

	if cfg.FileType != config.FileTypeCSV {
		e.spawnBoundaryWorker()
	}

	return e, nil
}

func (e *Engine) resolveInitialStreams(ctx context.Context) ([]streamsource.StreamInfo, error) {
	var all []streamsource.StreamInfo
	seen := make(map[string]bool)
	for _, query := range e.cfg.InitialQueries {
		matches, err := e.source.ResolveStream(ctx, query, 1, e.cfg.Timing.MaxOpenWait)
		if err != nil {
			return nil, fmt.Errorf("resolving query %q: %w", query, err)
		}
		for _, m := range matches {
			if !seen[m.UID] {
				seen[m.UID] = true
				all = append(all, m)
			}
		}
	}
	return all, nil
}

func (e *Engine) nextStreamID() uint32 {
	return e.nextID.Add(1)
}

// StreamStates returns the current lifecycle state of every stream spawned
// so far, keyed by stream name, for diagnostics and tests.
func (e *Engine) StreamStates() map[string]recorder.State {
	e.mu.Lock()
	defer e.mu.Unlock()

	states := make(map[string]recorder.State, len(e.recorders))
	for _, rec := range e.recorders {
		states[rec.Name()] = rec.State()
	}
	return states
}

func (e *Engine) spawnRecorder(ctx context.Context, info streamsource.StreamInfo, phaseLocked bool) {
	rec := recorder.New(recorder.Config{
		ID:                        e.nextStreamID(),
		Info:                      info,
		Source:                    e.source,
		Writer:                    e.writer,
		Coordinator:               e.coordinator,
		PhaseLocked:               phaseLocked,
		SyncFlag:                  e.cfg.SyncFlag(info.Name, info.Hostname),
		CollectOffsets:            e.cfg.CollectOffsets,
		InjectRecordingTimestamps: e.cfg.InjectRecordingTimestamps,
		ChunkInterval:             e.cfg.Timing.ChunkInterval,
		MaxOpenWait:               e.cfg.Timing.MaxOpenWait,
		Shutdown:                  e.shutdown,
		Logger:                    e.logger,
	})

	e.mu.Lock()
	e.recorders = append(e.recorders, rec)
	e.mu.Unlock()

	e.wg.Go(func() {
		if err := rec.Run(ctx); err != nil {
			e.logger.Error("stream recorder exited with error", "stream", info.Name, "error", err)
		}
	})
}

func (e *Engine) spawnResolver(ctx context.Context, query string) {
	worker := &resolve.Worker{
		Query:    query,
		Source:   e.source,
		Interval: e.cfg.Timing.ResolveInterval,
		Shutdown: e.shutdown,
		Logger:   e.logger,
	}
	worker.Spawn = func(info streamsource.StreamInfo) func(context.Context) {
		return func(innerCtx context.Context) {
			e.spawnRecorder(innerCtx, info, false)
		}
	}

	e.resolverWG.Add(1)
	go func() {
		defer e.resolverWG.Done()
		worker.Run(ctx)
	}()
}

func (e *Engine) spawnBoundaryWorker() {
	worker := &boundary.Worker{
		Writer:   e.writer,
		Interval: e.cfg.Timing.BoundaryInterval,
		Shutdown: e.shutdown,
		Logger:   e.logger,
	}
	e.boundaryWG.Add(1)
	go func() {
		defer e.boundaryWG.Done()
		worker.Run()
	}()
}

// Close sets the shutdown flag, joins every worker with bounded deadlines,
// and closes the writer, aggregating teardown errors (spec §4.7).
func (e *Engine) Close() error {
	e.shutdown.Store(true)

	var errs error

	if !waitWithDeadline(e.waitStreamWorkers, e.cfg.Timing.MaxJoinWait) {
		e.logger.Warn("stream workers did not finish within max_join_wait, detaching", "timeout", e.cfg.Timing.MaxJoinWait)
	}
	if !waitWithDeadline(e.resolverWG.Wait, e.cfg.Timing.MaxJoinWait) {
		e.logger.Warn("resolver workers did not finish within max_join_wait, detaching", "timeout", e.cfg.Timing.MaxJoinWait)
	}

	boundaryDeadline := e.cfg.Timing.MaxJoinWait + e.cfg.Timing.BoundaryInterval
	if !waitWithDeadline(e.boundaryWG.Wait, boundaryDeadline) {
		e.logger.Warn("boundary worker did not finish within deadline, detaching", "timeout", boundaryDeadline)
	}

	if err := e.writer.Close(); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("closing writer: %w", err))
	}

	if errs != nil {
		e.logger.Error("engine teardown encountered errors", "error", errs)
	}
	return errs
}

// waitStreamWorkers joins the conc.WaitGroup, recovering a re-raised panic
// from any stream task instead of letting it crash the process: per spec
// §4.2, a failing stream is logged and marked Failed, and "the engine is
// not affected."
func (e *Engine) waitStreamWorkers() {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("recovered panic from a stream worker", "panic", r)
		}
	}()
	e.wg.Wait()
}

// waitWithDeadline runs wait in a goroutine and reports whether it finished
// before deadline elapses. A straggler goroutine is left running (detached)
// rather than blocking shutdown forever, per spec §4.7/§5's detach policy.
func waitWithDeadline(wait func(), deadline time.Duration) bool {
	done := make(chan struct{})
	go func() {
		wait()
		close(done)
	}()

	select {
	case <-done:
		return true
	case <-time.After(deadline):
		return false
	}
}
