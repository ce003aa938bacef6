package engine

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/audiolibrelab/xdfrecorder/internal/config"
	"github.com/audiolibrelab/xdfrecorder/internal/streamsource"
	"github.com/audiolibrelab/xdfrecorder/internal/xdf"
)

func fastTiming() config.TimingConfig {
	return config.TimingConfig{
		BoundaryInterval: 150 * time.Millisecond,
		OffsetInterval:   200 * time.Millisecond,
		ResolveInterval:  30 * time.Millisecond,
		ChunkInterval:    20 * time.Millisecond,
		MaxOpenWait:      500 * time.Millisecond,
		MaxHeadersWait:   500 * time.Millisecond,
		MaxFootersWait:   500 * time.Millisecond,
		MaxJoinWait:      2 * time.Second,
	}
}

func TestEngine_SingleStreamEndToEnd(t *testing.T) {
	dir := t.TempDir()
	outPath := filepath.Join(dir, "rec.xdf")

	info := streamsource.StreamInfo{
		Name: "Numbers", Hostname: "h1", SourceID: "s1", UID: "u1",
		NominalSRate: 100, ChannelCount: 2, Format: streamsource.FormatInt16,
		XMLMetadata: `<?xml version="1.0"?><info><channel_count>2</channel_count><channels></channels></info>`,
	}
	inlet := streamsource.NewFakeInlet(info)
	source := streamsource.NewFakeSource()
	source.Register("type='Numbers'", info, inlet)
	for i := 0; i < 20; i++ {
		inlet.Push(streamsource.Sample{Timestamp: float64(i) * 0.01, Int16: []int16{1, 2}})
	}

	cfg := &config.RecorderConfig{
		OutputPath:     outPath,
		FileType:       config.FileTypeXDF,
		InitialQueries: []string{"type='Numbers'"},
		Timing:         fastTiming(),
	}

	e, err := New(context.Background(), cfg, source, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	time.Sleep(200 * time.Millisecond)

	if err := e.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	f, err := os.Open(outPath)
	if err != nil {
		t.Fatalf("opening output: %v", err)
	}
	defer f.Close()

	chunks, err := xdf.ReadContainer(f)
	if err != nil {
		t.Fatalf("ReadContainer: %v", err)
	}
	if len(chunks) == 0 {
		t.Fatal("no chunks written")
	}
	if chunks[0].Tag != xdf.TagFileHeader {
		t.Errorf("first chunk tag = %d, want FileHeader", chunks[0].Tag)
	}

	var sawHeader, sawFooter, sawSamples bool
	for _, c := range chunks {
		switch c.Tag {
		case xdf.TagStreamHeader:
			sawHeader = true
		case xdf.TagStreamFooter:
			sawFooter = true
		case xdf.TagSamples:
			sawSamples = true
		}
	}
	if !sawHeader || !sawFooter || !sawSamples {
		t.Errorf("missing expected chunk types: header=%v samples=%v footer=%v", sawHeader, sawSamples, sawFooter)
	}
}

func TestEngine_NoStreamsStillProducesValidFile(t *testing.T) {
	dir := t.TempDir()
	outPath := filepath.Join(dir, "empty.xdf")

	source := streamsource.NewFakeSource()
	cfg := &config.RecorderConfig{
		OutputPath:   outPath,
		FileType:     config.FileTypeXDF,
		WatchQueries: []string{"type='Nothing'"},
		Timing:       fastTiming(),
	}

	e, err := New(context.Background(), cfg, source, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	time.Sleep(80 * time.Millisecond)
	if err := e.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	f, err := os.Open(outPath)
	if err != nil {
		t.Fatalf("opening output: %v", err)
	}
	defer f.Close()

	chunks, err := xdf.ReadContainer(f)
	if err != nil {
		t.Fatalf("ReadContainer: %v", err)
	}
	if len(chunks) == 0 || chunks[0].Tag != xdf.TagFileHeader {
		t.Fatalf("expected at least a FileHeader chunk, got %+v", chunks)
	}
}
