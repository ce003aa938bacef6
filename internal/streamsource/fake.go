package streamsource

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// FakeInlet is an in-memory Inlet used by tests, in the spirit of the
// teacher's hand-rolled TestableValidatePort fakes (no mocking framework).
// Tests enqueue samples with Push; PullSample/PullChunk drain them.
type FakeInlet struct {
	mu             sync.Mutex
	info           StreamInfo
	queue          []Sample
	closed         bool
	offset         float64
	offsetErr      error
	postprocessing bool
}

// NewFakeInlet creates a fake inlet for the given stream metadata.
func NewFakeInlet(info StreamInfo) *FakeInlet {
	return &FakeInlet{info: info}
}

// Push enqueues a sample to be returned by a future Pull call.
func (f *FakeInlet) Push(s Sample) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queue = append(f.queue, s)
}

// SetTimeCorrection configures the value (or error) TimeCorrection returns.
func (f *FakeInlet) SetTimeCorrection(offset float64, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.offset = offset
	f.offsetErr = err
}

func (f *FakeInlet) Info() (StreamInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return StreamInfo{}, fmt.Errorf("inlet closed")
	}
	return f.info, nil
}

func (f *FakeInlet) ChannelCount() int        { return f.info.ChannelCount }
func (f *FakeInlet) Format() ChannelFormat    { return f.info.Format }
func (f *FakeInlet) NominalSRate() float64    { return f.info.NominalSRate }

func (f *FakeInlet) SetPostprocessing(enabled bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.postprocessing = enabled
	return nil
}

// PullSample pops the oldest queued sample, if any, within timeout.
func (f *FakeInlet) PullSample(ctx context.Context, timeout time.Duration) (Sample, error) {
	deadline := time.Now().Add(timeout)
	for {
		f.mu.Lock()
		if f.closed {
			f.mu.Unlock()
			return Sample{}, fmt.Errorf("inlet closed")
		}
		if len(f.queue) > 0 {
			s := f.queue[0]
			f.queue = f.queue[1:]
			f.mu.Unlock()
			return s, nil
		}
		f.mu.Unlock()

		if time.Now().After(deadline) {
			return Sample{}, nil
		}
		select {
		case <-ctx.Done():
			return Sample{}, ctx.Err()
		case <-time.After(time.Millisecond):
		}
	}
}

// PullChunk drains every currently queued sample into one Chunk, merging
// by the stream's format. It never blocks past timeout waiting for more.
func (f *FakeInlet) PullChunk(ctx context.Context, timeout time.Duration) (Chunk, error) {
	select {
	case <-ctx.Done():
		return Chunk{}, ctx.Err()
	case <-time.After(timeout):
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return Chunk{}, fmt.Errorf("inlet closed")
	}

	var chunk Chunk
	for _, s := range f.queue {
		chunk.Timestamps = append(chunk.Timestamps, s.Timestamp)
		chunk.Int8 = append(chunk.Int8, s.Int8...)
		chunk.Int16 = append(chunk.Int16, s.Int16...)
		chunk.Int32 = append(chunk.Int32, s.Int32...)
		chunk.Float32 = append(chunk.Float32, s.Float32...)
		chunk.Float64 = append(chunk.Float64, s.Float64...)
		chunk.String = append(chunk.String, s.String...)
	}
	f.queue = nil
	return chunk, nil
}

func (f *FakeInlet) TimeCorrection(ctx context.Context, timeout time.Duration) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.offsetErr != nil {
		return 0, f.offsetErr
	}
	return f.offset, nil
}

func (f *FakeInlet) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// FakeSource is an in-memory StreamSource. Tests register streams and, for
// watch-query scenarios, append late arrivals by calling Register again.
type FakeSource struct {
	mu      sync.Mutex
	streams map[string][]StreamInfo // query -> matches
	inlets  map[string]*FakeInlet   // uid -> inlet
}

// NewFakeSource creates an empty FakeSource.
func NewFakeSource() *FakeSource {
	return &FakeSource{
		streams: make(map[string][]StreamInfo),
		inlets:  make(map[string]*FakeInlet),
	}
}

// Register makes info a match for query and wires inlet as its Inlet.
func (f *FakeSource) Register(query string, info StreamInfo, inlet *FakeInlet) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.streams[query] = append(f.streams[query], info)
	f.inlets[info.UID] = inlet
}

func (f *FakeSource) ResolveStreams(ctx context.Context, timeout time.Duration) ([]StreamInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var all []StreamInfo
	seen := make(map[string]bool)
	for _, matches := range f.streams {
		for _, m := range matches {
			if !seen[m.UID] {
				seen[m.UID] = true
				all = append(all, m)
			}
		}
	}
	return all, nil
}

func (f *FakeSource) ResolveStream(ctx context.Context, query string, minCount int, timeout time.Duration) ([]StreamInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]StreamInfo(nil), f.streams[query]...), nil
}

func (f *FakeSource) OpenInlet(ctx context.Context, info StreamInfo, timeout time.Duration) (Inlet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	inlet, ok := f.inlets[info.UID]
	if !ok {
		return nil, fmt.Errorf("no fake inlet registered for uid %s", info.UID)
	}
	return inlet, nil
}
