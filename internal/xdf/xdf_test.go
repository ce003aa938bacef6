package xdf

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestVarlenUintRoundTrip(t *testing.T) {
	cases := []uint64{0, 1, 255, 256, 65535, 1 << 20, 1 << 32, 1 << 40}
	for _, v := range cases {
		var buf bytes.Buffer
		if err := writeVarlenUint(&buf, v); err != nil {
			t.Fatalf("writeVarlenUint(%d): %v", v, err)
		}
		got, err := readVarlenUint(&buf)
		if err != nil {
			t.Fatalf("readVarlenUint(%d): %v", v, err)
		}
		if got != v {
			t.Errorf("round trip %d: got %d", v, got)
		}
	}
}

func TestVarlenUintPicksNarrowestWidth(t *testing.T) {
	cases := map[uint64]byte{
		0:          1,
		255:        1,
		256:        4,
		1<<32 - 1:  4,
		1 << 32:    8,
	}
	for v, wantWidth := range cases {
		b := varlenUintBytes(v)
		if b[0] != wantWidth {
			t.Errorf("varlenUintBytes(%d)[0] = %d, want %d", v, b[0], wantWidth)
		}
	}
}

func TestEncodeDecodeSamplesPayload_Float64(t *testing.T) {
	batch := SampleBatch{
		Format:       FormatFloat64,
		ChannelCount: 2,
		Timestamps:   []float64{0, 1000.5},
		Float64:      []float64{1.0, 2.0, 3.0, 4.0},
	}
	payload, err := encodeSamplesPayload(batch)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := decodeSamplesPayload(payload, FormatFloat64, 2)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got.Timestamps) != 2 || got.Timestamps[1] != 1000.5 {
		t.Fatalf("timestamps mismatch: %+v", got.Timestamps)
	}
	if len(got.Float64) != 4 || got.Float64[3] != 4.0 {
		t.Fatalf("values mismatch: %+v", got.Float64)
	}
}

func TestEncodeDecodeSamplesPayload_ZeroTimestampOmitsBytes(t *testing.T) {
	batch := SampleBatch{
		Format:       FormatInt8,
		ChannelCount: 1,
		Timestamps:   []float64{0},
		Int8:         []int8{42},
	}
	payload, err := encodeSamplesPayload(batch)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	// varlen(1) = [1,1], then a single zero marker byte, then 1 value byte.
	want := []byte{1, 1, 0, 42}
	if !bytes.Equal(payload, want) {
		t.Fatalf("payload = %v, want %v", payload, want)
	}
}

func TestEncodeDecodeSamplesPayload_String(t *testing.T) {
	batch := SampleBatch{
		Format:       FormatString,
		ChannelCount: 1,
		Timestamps:   []float64{1.5},
		String:       []string{"marker-A"},
	}
	payload, err := encodeSamplesPayload(batch)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := decodeSamplesPayload(payload, FormatString, 1)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got.String) != 1 || got.String[0] != "marker-A" {
		t.Fatalf("string mismatch: %+v", got.String)
	}
}

func TestBuildStreamFooterXML(t *testing.T) {
	xml := BuildStreamFooterXML(1.0, 2.0, 10, []OffsetEntry{{CollectionTime: 5, Offset: 0.001}})
	if !strings.Contains(xml, "<sample_count>10</sample_count>") {
		t.Errorf("missing sample_count: %s", xml)
	}
	if !strings.Contains(xml, "<offset><time>5") {
		t.Errorf("missing offset entry: %s", xml)
	}
}

func TestContainerWriter_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rec.xdf")

	w, err := NewContainer(path)
	if err != nil {
		t.Fatalf("NewContainer: %v", err)
	}

	var id uint32 = 1
	if err := w.InitStream(id, "EEG"); err != nil {
		t.Fatalf("InitStream: %v", err)
	}
	if err := w.WriteStreamHeader(id, `<info><name>EEG</name></info>`, nil); err != nil {
		t.Fatalf("WriteStreamHeader: %v", err)
	}
	batch := SampleBatch{
		Format:       FormatFloat32,
		ChannelCount: 1,
		Timestamps:   []float64{1.0, 2.0},
		Float32:      []float32{0.1, 0.2},
	}
	if err := w.WriteSamples(id, batch); err != nil {
		t.Fatalf("WriteSamples: %v", err)
	}
	if err := w.WriteClockOffset(id, 3.0, 0.0001); err != nil {
		t.Fatalf("WriteClockOffset: %v", err)
	}
	if err := w.WriteBoundary(); err != nil {
		t.Fatalf("WriteBoundary: %v", err)
	}
	if err := w.WriteStreamFooter(id, BuildStreamFooterXML(1.0, 2.0, 2, nil)); err != nil {
		t.Fatalf("WriteStreamFooter: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer f.Close()

	chunks, err := ReadContainer(f)
	if err != nil {
		t.Fatalf("ReadContainer: %v", err)
	}

	wantTags := []Tag{TagFileHeader, TagStreamHeader, TagSamples, TagClockOffset, TagBoundary, TagStreamFooter}
	if len(chunks) != len(wantTags) {
		t.Fatalf("got %d chunks, want %d: %+v", len(chunks), len(wantTags), chunks)
	}
	for i, tag := range wantTags {
		if chunks[i].Tag != tag {
			t.Errorf("chunk %d: tag = %d, want %d", i, chunks[i].Tag, tag)
		}
	}
	if chunks[0].StreamID != nil {
		t.Errorf("FileHeader chunk should carry no stream id")
	}
	if chunks[1].StreamID == nil || *chunks[1].StreamID != id {
		t.Errorf("StreamHeader chunk stream id mismatch")
	}
	if !bytes.Equal(chunks[4].Payload, BoundaryPayload[:]) {
		t.Errorf("boundary payload mismatch: %v", chunks[4].Payload)
	}
}

func TestTextWriter_SplitsOnLastExtensionOnly(t *testing.T) {
	dir := t.TempDir()
	// A directory component containing ".old" must not be mistaken for the
	// file extension (spec §9's resolved Open Question).
	base := filepath.Join(dir, "session.old", "rec.xdf")
	if err := os.MkdirAll(filepath.Dir(base), 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}

	w, err := NewText(base)
	if err != nil {
		t.Fatalf("NewText: %v", err)
	}
	var id uint32 = 7
	if err := w.InitStream(id, "Markers"); err != nil {
		t.Fatalf("InitStream: %v", err)
	}
	if err := w.WriteStreamHeader(id, `<info><name>Markers</name></info>`, []string{"value"}); err != nil {
		t.Fatalf("WriteStreamHeader: %v", err)
	}
	if err := w.WriteSamples(id, SampleBatch{
		Format:       FormatString,
		ChannelCount: 1,
		Timestamps:   []float64{42.0},
		String:       []string{"start"},
	}); err != nil {
		t.Fatalf("WriteSamples: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	dataPath := filepath.Join(dir, "session.old", "rec - Markers.data.xdf")
	metaPath := filepath.Join(dir, "session.old", "rec - Markers.meta.xml")

	metaBytes, err := os.ReadFile(metaPath)
	if err != nil {
		t.Fatalf("reading meta file: %v", err)
	}
	if !strings.Contains(string(metaBytes), "<name>Markers</name>") {
		t.Errorf("meta file missing stream header xml: %s", metaBytes)
	}

	dataBytes, err := os.ReadFile(dataPath)
	if err != nil {
		t.Fatalf("reading data file: %v", err)
	}
	lines := strings.Split(strings.TrimRight(string(dataBytes), "\n"), "\n")
	if lines[0] != "lsl_time_stamp,value" {
		t.Errorf("CSV header = %q", lines[0])
	}
	if lines[1] != "42,start" {
		t.Errorf("CSV row = %q", lines[1])
	}
}

func TestTextWriter_OmitsBoundaryAndClockOffset(t *testing.T) {
	dir := t.TempDir()
	w, err := NewText(filepath.Join(dir, "rec.xdf"))
	if err != nil {
		t.Fatalf("NewText: %v", err)
	}
	if err := w.WriteBoundary(); err != nil {
		t.Fatalf("WriteBoundary should be a no-op in text mode: %v", err)
	}
	if err := w.WriteClockOffset(1, 1.0, 0.1); err != nil {
		t.Fatalf("WriteClockOffset should be a no-op in text mode: %v", err)
	}
}
