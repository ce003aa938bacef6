package recorder

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/atomic"

	"github.com/audiolibrelab/xdfrecorder/internal/phase"
	"github.com/audiolibrelab/xdfrecorder/internal/streamsource"
	"github.com/audiolibrelab/xdfrecorder/internal/xdf"
)

// fakeWriter records every call made to it, for assertions, mirroring the
// teacher's hand-rolled test doubles.
type fakeWriter struct {
	mu       sync.Mutex
	headers  map[uint32]string
	labels   map[uint32][]string
	batches  map[uint32][]xdf.SampleBatch
	offsets  map[uint32][][2]float64
	footers  map[uint32]string
	initErrs map[uint32]error
}

func newFakeWriter() *fakeWriter {
	return &fakeWriter{
		headers: make(map[uint32]string),
		labels:  make(map[uint32][]string),
		batches: make(map[uint32][]xdf.SampleBatch),
		offsets: make(map[uint32][][2]float64),
		footers: make(map[uint32]string),
	}
}

func (w *fakeWriter) InitStream(id uint32, name string) error {
	return w.initErrs[id]
}

func (w *fakeWriter) WriteStreamHeader(id uint32, xml string, labels []string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.headers[id] = xml
	w.labels[id] = labels
	return nil
}

func (w *fakeWriter) WriteSamples(id uint32, batch xdf.SampleBatch) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.batches[id] = append(w.batches[id], batch)
	return nil
}

func (w *fakeWriter) WriteClockOffset(id uint32, collectionTime, offset float64) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.offsets[id] = append(w.offsets[id], [2]float64{collectionTime, offset})
	return nil
}

func (w *fakeWriter) WriteStreamFooter(id uint32, xml string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.footers[id] = xml
	return nil
}

func (w *fakeWriter) sampleCountFor(id uint32) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	n := 0
	for _, b := range w.batches[id] {
		n += b.NumSamples()
	}
	return n
}

func baseInfo() streamsource.StreamInfo {
	return streamsource.StreamInfo{
		Name:         "EEG",
		Hostname:     "host1",
		SourceID:     "src1",
		UID:          "uid1",
		NominalSRate: 100,
		ChannelCount: 4,
		Format:       streamsource.FormatFloat32,
		XMLMetadata:  `<?xml version="1.0"?><info><channel_count>4</channel_count><channels></channels></info>`,
	}
}

func TestRecorder_HappyPathProducesHeaderSamplesAndFooter(t *testing.T) {
	info := baseInfo()
	inlet := streamsource.NewFakeInlet(info)
	source := streamsource.NewFakeSource()
	source.Register("query", info, inlet)

	for i := 0; i < 5; i++ {
		inlet.Push(streamsource.Sample{
			Timestamp: float64(i) * 0.01,
			Float32:   []float32{1, 2, 3, 4},
		})
	}

	writer := newFakeWriter()
	shutdown := atomic.NewBool(false)
	coord := phase.New()

	rec := New(Config{
		ID:            1,
		Info:          info,
		Source:        source,
		Writer:        writer,
		Coordinator:   coord,
		PhaseLocked:   true,
		ChunkInterval: 20 * time.Millisecond,
		MaxOpenWait:   time.Second,
		Shutdown:      shutdown,
	})

	done := make(chan error, 1)
	go func() { done <- rec.Run(context.Background()) }()

	time.Sleep(100 * time.Millisecond)
	shutdown.Store(true)

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run never returned")
	}

	if rec.State() != StateDone {
		t.Fatalf("state = %v, want Done", rec.State())
	}
	if writer.headers[1] == "" {
		t.Fatal("no stream header written")
	}
	if writer.sampleCountFor(1) == 0 {
		t.Fatal("no samples written")
	}
	if writer.footers[1] == "" {
		t.Fatal("no footer written")
	}
	if !strings.Contains(writer.footers[1], "<sample_count>") {
		t.Errorf("footer missing sample_count: %s", writer.footers[1])
	}
}

func TestRecorder_InjectsRecordingTimestampsForFloat32(t *testing.T) {
	info := baseInfo()
	inlet := streamsource.NewFakeInlet(info)
	source := streamsource.NewFakeSource()
	source.Register("query", info, inlet)

	inlet.Push(streamsource.Sample{Timestamp: 1.0, Float32: []float32{1, 2, 3, 4}})

	writer := newFakeWriter()
	shutdown := atomic.NewBool(false)
	coord := phase.New()

	rec := New(Config{
		ID:                        2,
		Info:                      info,
		Source:                    source,
		Writer:                    writer,
		Coordinator:               coord,
		PhaseLocked:               true,
		InjectRecordingTimestamps: true,
		ChunkInterval:             20 * time.Millisecond,
		MaxOpenWait:               time.Second,
		Shutdown:                  shutdown,
	})

	done := make(chan error, 1)
	go func() { done <- rec.Run(context.Background()) }()
	time.Sleep(60 * time.Millisecond)
	shutdown.Store(true)
	<-done

	if !strings.Contains(writer.headers[2], "<channel_count>6</channel_count>") {
		t.Errorf("header channel_count not bumped to 6: %s", writer.headers[2])
	}
	for _, b := range writer.batches[2] {
		if b.ChannelCount != 6 {
			t.Errorf("batch channel count = %d, want 6", b.ChannelCount)
		}
	}
}

func TestRecorder_NonPhaseLockedBypassesBarrier(t *testing.T) {
	info := baseInfo()
	info.UID = "late-uid"
	inlet := streamsource.NewFakeInlet(info)
	source := streamsource.NewFakeSource()
	source.Register("watch", info, inlet)

	writer := newFakeWriter()
	shutdown := atomic.NewBool(false)
	coord := phase.New()
	// A phase-locked stream that never leaves headers would normally wedge
	// the barrier; a non-locked recorder must not wait on it.
	coord.EnterHeaders(true)

	rec := New(Config{
		ID:            3,
		Info:          info,
		Source:        source,
		Writer:        writer,
		Coordinator:   coord,
		PhaseLocked:   false,
		ChunkInterval: 20 * time.Millisecond,
		MaxOpenWait:   time.Second,
		Shutdown:      shutdown,
	})

	done := make(chan error, 1)
	go func() { done <- rec.Run(context.Background()) }()
	time.Sleep(30 * time.Millisecond)
	shutdown.Store(true)

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(4 * time.Second):
		t.Fatal("non-locked recorder blocked on barrier")
	}
}
