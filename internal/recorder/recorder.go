// Package recorder implements the per-stream state machine of spec §4.2:
// subscribe, write a header, stream samples with strict per-stream
// ordering, then write a footer.
package recorder

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.uber.org/atomic"

	"github.com/audiolibrelab/xdfrecorder/internal/clock"
	"github.com/audiolibrelab/xdfrecorder/internal/offsetprobe"
	"github.com/audiolibrelab/xdfrecorder/internal/phase"
	"github.com/audiolibrelab/xdfrecorder/internal/streamsource"
	"github.com/audiolibrelab/xdfrecorder/internal/xdf"
)

// State is one point in the per-stream lifecycle of spec §3 ("StreamState").
type State int

const (
	StateSpawned State = iota
	StateHeaders
	StateStreaming
	StateFooters
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateSpawned:
		return "spawned"
	case StateHeaders:
		return "headers"
	case StateStreaming:
		return "streaming"
	case StateFooters:
		return "footers"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Writer is the subset of xdf.Writer a StreamRecorder (and the OffsetProbe
// it may spawn) needs.
type Writer interface {
	InitStream(id uint32, streamName string) error
	WriteStreamHeader(id uint32, xml string, channelLabels []string) error
	WriteSamples(id uint32, batch xdf.SampleBatch) error
	WriteClockOffset(id uint32, collectionTime, offset float64) error
	WriteStreamFooter(id uint32, xml string) error
}

// Config configures one StreamRecorder. The RecordingEngine builds one per
// stream, initial or late-joining.
type Config struct {
	ID          uint32
	Info        streamsource.StreamInfo
	Source      streamsource.StreamSource
	Writer      Writer
	Coordinator *phase.Coordinator
	PhaseLocked bool

	SyncFlag                  bool
	CollectOffsets            bool
	InjectRecordingTimestamps bool

	ChunkInterval time.Duration
	MaxOpenWait   time.Duration

	Shutdown *atomic.Bool
	Logger   *slog.Logger
}

// Recorder drives one stream through Headers → Streaming → Footers.
type Recorder struct {
	cfg Config

	mu    sync.Mutex
	state State

	inlet streamsource.Inlet

	firstTS         float64
	haveFirst       bool
	lastTS          float64
	sampleCount     uint64
	effectiveFormat streamsource.ChannelFormat
	effectiveCount  int

	offsetList     *offsetprobe.List
	offsetShutdown *atomic.Bool
}

// New creates a Recorder for the given configuration.
func New(cfg Config) *Recorder {
	return &Recorder{
		cfg:            cfg,
		state:          StateSpawned,
		offsetList:     &offsetprobe.List{},
		offsetShutdown: atomic.NewBool(false),
	}
}

// State returns the recorder's current lifecycle state.
func (r *Recorder) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Name returns the stream's name, for diagnostics.
func (r *Recorder) Name() string {
	return r.cfg.Info.Name
}

func (r *Recorder) setState(s State) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()
}

func (r *Recorder) logger() *slog.Logger {
	if r.cfg.Logger != nil {
		return r.cfg.Logger
	}
	return slog.Default()
}

// Run drives the recorder to completion. It never propagates an error to
// the caller beyond logging it (spec §4.2 "Failure": "The engine is not
// affected"); the returned error is for tests and diagnostics only.
func (r *Recorder) Run(ctx context.Context) error {
	if err := r.runHeaders(ctx); err != nil {
		r.cfg.Coordinator.LeaveHeaders(r.cfg.PhaseLocked)
		r.setState(StateFailed)
		r.logger().Error("stream recorder failed in headers", "stream", r.cfg.Info.Name, "error", err)
		return err
	}
	r.cfg.Coordinator.LeaveHeaders(r.cfg.PhaseLocked)

	var probeWG sync.WaitGroup
	if r.cfg.CollectOffsets {
		probeWG.Add(1)
		go func() {
			defer probeWG.Done()
			probe := &offsetprobe.Probe{
				StreamID:       r.cfg.ID,
				Inlet:          r.inlet,
				Writer:         r.cfg.Writer,
				List:           r.offsetList,
				Interval:       5 * time.Second,
				Shutdown:       r.cfg.Shutdown,
				OffsetShutdown: r.offsetShutdown,
				Logger:         r.logger(),
			}
			probe.Run(ctx)
		}()
	}

	streamErr := r.runStreaming(ctx)
	r.offsetShutdown.Store(true)
	r.cfg.Coordinator.LeaveStreaming(r.cfg.PhaseLocked)
	probeWG.Wait()

	if streamErr != nil {
		r.setState(StateFailed)
		r.logger().Error("stream recorder failed while streaming", "stream", r.cfg.Info.Name, "error", streamErr)
		return streamErr
	}

	if err := r.runFooters(); err != nil {
		r.setState(StateFailed)
		r.logger().Error("stream recorder failed writing footer", "stream", r.cfg.Info.Name, "error", err)
		return err
	}

	r.setState(StateDone)
	return nil
}

func (r *Recorder) runHeaders(ctx context.Context) error {
	r.setState(StateHeaders)
	r.cfg.Coordinator.EnterHeaders(r.cfg.PhaseLocked)

	inlet, err := r.openInletWithRetry(ctx)
	if err != nil {
		return err
	}
	r.inlet = inlet

	syncErr := r.inlet.SetPostprocessing(r.cfg.SyncFlag)
	if syncErr != nil {
		r.logger().Warn("post-processing flag rejected, continuing without it", "stream", r.cfg.Info.Name, "error", syncErr)
	}

	r.effectiveFormat = r.inlet.Format()
	r.effectiveCount = r.inlet.ChannelCount() + injectedCountFor(r.cfg.InjectRecordingTimestamps, r.effectiveFormat)

	if err := r.cfg.Writer.InitStream(r.cfg.ID, r.cfg.Info.Name); err != nil {
		return fmt.Errorf("init stream file: %w", err)
	}

	info, err := r.inlet.Info()
	if err != nil {
		return fmt.Errorf("reading inlet info: %w", err)
	}
	xml := info.XMLMetadata
	if r.cfg.InjectRecordingTimestamps {
		xml = spliceInjectedChannels(xml, r.effectiveFormat)
	}
	labels := extractChannelLabels(xml, r.effectiveCount)

	if err := r.cfg.Writer.WriteStreamHeader(r.cfg.ID, xml, labels); err != nil {
		return fmt.Errorf("write stream header: %w", err)
	}

	return nil
}

// openInletWithRetry opens the inlet, treating a timeout as the "delayed,
// not failed" case of spec §4.2: log and keep retrying until it succeeds
// or shutdown is observed.
func (r *Recorder) openInletWithRetry(ctx context.Context) (streamsource.Inlet, error) {
	for {
		inlet, err := r.cfg.Source.OpenInlet(ctx, r.cfg.Info, r.cfg.MaxOpenWait)
		if err == nil {
			return inlet, nil
		}
		if r.cfg.Shutdown.Load() {
			return nil, fmt.Errorf("shutdown observed while opening inlet for %s: %w", r.cfg.Info.Name, err)
		}
		r.logger().Warn("inlet open timed out, stream delayed", "stream", r.cfg.Info.Name, "error", err)
	}
}

func injectedCountFor(inject bool, format streamsource.ChannelFormat) int {
	if !inject {
		return 0
	}
	return injectedChannelCount(format)
}

func (r *Recorder) runStreaming(ctx context.Context) error {
	r.setState(StateStreaming)
	if err := r.cfg.Coordinator.EnterStreaming(r.cfg.PhaseLocked); err != nil {
		r.logger().Warn("proceeding to streaming after barrier timeout", "stream", r.cfg.Info.Name, "error", err)
	}

	prevTS := 0.0
	interval := 0.0
	if r.cfg.Info.NominalSRate > 0 {
		interval = 1.0 / r.cfg.Info.NominalSRate
	}

	first, err := r.inlet.PullSample(ctx, r.cfg.ChunkInterval)
	if err == nil && first.Timestamp != 0 {
		r.firstTS = first.Timestamp
		r.haveFirst = true
		r.lastTS = first.Timestamp
		prevTS = first.Timestamp
		r.writeSample(first)
	}

	for !r.cfg.Shutdown.Load() {
		chunk, err := r.inlet.PullChunk(ctx, r.cfg.ChunkInterval)
		if err != nil {
			return fmt.Errorf("pulling chunk: %w", err)
		}

		if chunk.NumSamples() > 0 {
			for _, ts := range chunk.Timestamps {
				if prevTS+interval == ts {
					r.lastTS = ts + interval
				} else {
					r.lastTS = ts
				}
				prevTS = ts
			}
			if !r.haveFirst {
				r.firstTS = chunk.Timestamps[0]
				r.haveFirst = true
			}

			batch := r.toBatch(chunk)
			if err := r.cfg.Writer.WriteSamples(r.cfg.ID, batch); err != nil {
				return fmt.Errorf("writing samples: %w", err)
			}
			r.sampleCount += uint64(chunk.NumSamples())
		}

		sleepOrShutdown(r.cfg.ChunkInterval, r.cfg.Shutdown)
	}

	return nil
}

func (r *Recorder) writeSample(s streamsource.Sample) {
	chunk := streamsource.Chunk{Timestamps: []float64{s.Timestamp}}
	switch r.effectiveFormat {
	case streamsource.FormatInt8:
		chunk.Int8 = s.Int8
	case streamsource.FormatInt16:
		chunk.Int16 = s.Int16
	case streamsource.FormatInt32:
		chunk.Int32 = s.Int32
	case streamsource.FormatFloat32:
		chunk.Float32 = s.Float32
	case streamsource.FormatFloat64:
		chunk.Float64 = s.Float64
	case streamsource.FormatString:
		chunk.String = s.String
	}
	batch := r.toBatch(chunk)
	if err := r.cfg.Writer.WriteSamples(r.cfg.ID, batch); err != nil {
		r.logger().Error("writing first sample failed", "stream", r.cfg.Info.Name, "error", err)
		return
	}
	r.sampleCount++
}

func sleepOrShutdown(d time.Duration, shutdown *atomic.Bool) {
	if d <= 0 {
		return
	}
	const poll = 100 * time.Millisecond
	deadline := clock.Now().Add(d)
	for clock.Now().Before(deadline) {
		if shutdown.Load() {
			return
		}
		remaining := deadline.Sub(clock.Now())
		if remaining > poll {
			time.Sleep(poll)
		} else if remaining > 0 {
			time.Sleep(remaining)
		}
	}
}

func (r *Recorder) runFooters() error {
	r.setState(StateFooters)
	if r.cfg.PhaseLocked {
		if err := r.cfg.Coordinator.EnterFooters(); err != nil {
			r.logger().Warn("writing footer after barrier timeout", "stream", r.cfg.Info.Name, "error", err)
		}
	}
	defer r.cfg.Coordinator.LeaveFooters()

	offsets := make([]xdf.OffsetEntry, 0)
	for _, e := range r.offsetList.Snapshot() {
		offsets = append(offsets, xdf.OffsetEntry{CollectionTime: e.CollectionTime, Offset: e.Offset})
	}

	xml := xdf.BuildStreamFooterXML(r.firstTS, r.lastTS, r.sampleCount, offsets)
	return r.cfg.Writer.WriteStreamFooter(r.cfg.ID, xml)
}
