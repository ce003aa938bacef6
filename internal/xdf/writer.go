package xdf

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/multierr"
)

// Mode selects the container or per-stream text file variant (spec §4.1).
type Mode int

const (
	ModeContainer Mode = iota
	ModeText
)

// Writer serializes chunks to either a single container file or a family
// of per-stream text files. It owns the output file(s) and the per-stream
// write-lock policy described in spec §4.1 "Concurrency".
type Writer struct {
	mode Mode

	// container mode
	file  *os.File
	fileMu sync.Mutex

	// text mode
	basePath  string
	coarseMu  sync.RWMutex
	streamMus map[uint32]*sync.Mutex
	metaFiles map[uint32]*os.File
	dataFiles map[uint32]*os.File
}

// NewContainer opens path, truncating any existing file, and writes the
// magic + FileHeader chunk (spec §4.1, §6.1).
func NewContainer(path string) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("xdf: failed to create container file %s: %w", path, err)
	}

	w := &Writer{mode: ModeContainer, file: f}

	if _, err := w.file.Write(Magic[:]); err != nil {
		f.Close()
		return nil, fmt.Errorf("xdf: failed to write magic: %w", err)
	}
	if err := w.writeChunkLocked(TagFileHeader, nil, []byte(FileHeaderXML)); err != nil {
		f.Close()
		return nil, fmt.Errorf("xdf: failed to write file header: %w", err)
	}

	return w, nil
}

// NewText prepares a text-mode writer rooted at basePath; per-stream files
// are created lazily by InitStream.
func NewText(basePath string) (*Writer, error) {
	return &Writer{
		mode:      ModeText,
		basePath:  basePath,
		streamMus: make(map[uint32]*sync.Mutex),
		metaFiles: make(map[uint32]*os.File),
		dataFiles: make(map[uint32]*os.File),
	}, nil
}

// InitStream ensures a stream's write lock (and, in text mode, its files)
// exist before any chunk referencing it is written. Idempotent: calling it
// again for the same id is a no-op, matching the teacher's
// "can be called multiple times but only one file is created" contract.
// Per spec §9's resolved Open Question, the per-stream mutex is created
// eagerly here, under the coarse guard, never lazily on the write path.
func (w *Writer) InitStream(id uint32, streamName string) error {
	w.coarseMu.Lock()
	defer w.coarseMu.Unlock()

	if w.mode == ModeContainer {
		if w.streamMus == nil {
			w.streamMus = make(map[uint32]*sync.Mutex)
		}
		if _, ok := w.streamMus[id]; !ok {
			w.streamMus[id] = &sync.Mutex{}
		}
		return nil
	}

	if _, ok := w.streamMus[id]; ok {
		return nil
	}
	w.streamMus[id] = &sync.Mutex{}

	dataPath, metaPath := deriveTextFilenames(w.basePath, streamName)

	metaFile, err := os.Create(metaPath)
	if err != nil {
		return fmt.Errorf("xdf: failed to create meta file %s: %w", metaPath, err)
	}
	dataFile, err := os.Create(dataPath)
	if err != nil {
		metaFile.Close()
		return fmt.Errorf("xdf: failed to create data file %s: %w", dataPath, err)
	}

	w.metaFiles[id] = metaFile
	w.dataFiles[id] = dataFile
	return nil
}

// streamMutex returns the per-stream mutex created by InitStream. In
// container mode every stream shares the writer-wide fileMu instead.
func (w *Writer) streamMutex(id uint32) *sync.Mutex {
	w.coarseMu.RLock()
	defer w.coarseMu.RUnlock()
	return w.streamMus[id]
}

// lockStream acquires the right mutex for a write touching id's chunks and
// returns the matching unlock func (spec §4.1 "Concurrency").
func (w *Writer) lockStream(id uint32) func() {
	if w.mode == ModeContainer {
		w.fileMu.Lock()
		return w.fileMu.Unlock
	}
	mu := w.streamMutex(id)
	mu.Lock()
	return mu.Unlock
}

// WriteStreamHeader writes the StreamHeader chunk (container mode) or the
// metadata file + CSV header row (text mode). channelLabels is used only in
// text mode; missing labels fall back to "channel_N" per spec §4.1.
func (w *Writer) WriteStreamHeader(id uint32, xml string, channelLabels []string) error {
	unlock := w.lockStream(id)
	defer unlock()

	if w.mode == ModeContainer {
		return w.writeChunkLocked(TagStreamHeader, &id, []byte(xml))
	}

	metaFile := w.metaFiles[id]
	if metaFile == nil {
		return fmt.Errorf("xdf: stream %d not initialized", id)
	}
	if _, err := metaFile.WriteString(FileHeaderXML + xml); err != nil {
		return fmt.Errorf("xdf: failed to write stream meta: %w", err)
	}

	dataFile := w.dataFiles[id]
	if dataFile == nil {
		return fmt.Errorf("xdf: stream %d not initialized", id)
	}
	header := buildCSVHeaderRow(channelLabels)
	if _, err := dataFile.WriteString(header + "\n"); err != nil {
		return fmt.Errorf("xdf: failed to write CSV header: %w", err)
	}
	return nil
}

// WriteSamples writes a Samples chunk (container mode) or appends CSV rows
// (text mode).
func (w *Writer) WriteSamples(id uint32, batch SampleBatch) error {
	if batch.NumSamples() == 0 {
		return nil
	}

	unlock := w.lockStream(id)
	defer unlock()

	if w.mode == ModeContainer {
		payload, err := encodeSamplesPayload(batch)
		if err != nil {
			return fmt.Errorf("xdf: failed to encode samples for stream %d: %w", id, err)
		}
		return w.writeChunkLocked(TagSamples, &id, payload)
	}

	dataFile := w.dataFiles[id]
	if dataFile == nil {
		return fmt.Errorf("xdf: stream %d not initialized", id)
	}
	rows, err := buildCSVRows(batch)
	if err != nil {
		return fmt.Errorf("xdf: failed to render CSV rows for stream %d: %w", id, err)
	}
	if _, err := dataFile.WriteString(rows); err != nil {
		return fmt.Errorf("xdf: failed to write CSV rows: %w", err)
	}
	return nil
}

// WriteClockOffset writes a ClockOffset chunk. It is a no-op in text mode
// (spec §4.1: "Written only in container mode").
func (w *Writer) WriteClockOffset(id uint32, collectionTime, offset float64) error {
	if w.mode == ModeText {
		return nil
	}

	unlock := w.lockStream(id)
	defer unlock()

	var buf bytes.Buffer
	binary.Write(&buf, binary.LittleEndian, collectionTime-offset)
	binary.Write(&buf, binary.LittleEndian, offset)
	return w.writeChunkLocked(TagClockOffset, &id, buf.Bytes())
}

// WriteBoundary writes a Boundary chunk. It is a no-op in text mode (spec
// §4.5: "Ignored in text mode").
func (w *Writer) WriteBoundary() error {
	if w.mode == ModeText {
		return nil
	}
	w.fileMu.Lock()
	defer w.fileMu.Unlock()
	return w.writeChunkLocked(TagBoundary, nil, BoundaryPayload[:])
}

// WriteStreamFooter writes the StreamFooter chunk. Text mode has no footer
// file role (spec §4.1 only defines a meta file and a data file per
// stream), so this is a no-op there.
func (w *Writer) WriteStreamFooter(id uint32, xml string) error {
	if w.mode == ModeText {
		return nil
	}

	unlock := w.lockStream(id)
	defer unlock()
	return w.writeChunkLocked(TagStreamFooter, &id, []byte(xml))
}

// writeChunkLocked writes one framed chunk to the container file. Callers
// must already hold the appropriate mutex (fileMu for container mode).
func (w *Writer) writeChunkLocked(tag Tag, streamID *uint32, payload []byte) error {
	var body bytes.Buffer
	binary.Write(&body, binary.LittleEndian, uint16(tag))
	if streamID != nil {
		binary.Write(&body, binary.LittleEndian, *streamID)
	}
	body.Write(payload)

	if _, err := w.file.Write(varlenUintBytes(uint64(body.Len()))); err != nil {
		return err
	}
	_, err := w.file.Write(body.Bytes())
	return err
}

// Close flushes and closes every open file, aggregating any errors
// encountered along the way (spec §4.7 "any exception during teardown is
// logged and swallowed" — here the caller gets the full combined error to
// log before swallowing it).
func (w *Writer) Close() error {
	if w.mode == ModeContainer {
		if w.file == nil {
			return nil
		}
		return w.file.Close()
	}

	w.coarseMu.Lock()
	defer w.coarseMu.Unlock()

	var errs error
	for id, f := range w.metaFiles {
		if err := f.Close(); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("closing meta file for stream %d: %w", id, err))
		}
	}
	for id, f := range w.dataFiles {
		if err := f.Close(); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("closing data file for stream %d: %w", id, err))
		}
	}
	return errs
}

// sanitizeFileComponent strips characters invalid in a file path (spec
// §6.3).
func sanitizeFileComponent(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|', 0:
			continue
		default:
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(b.String())
}

// deriveTextFilenames implements spec §4.1/§6.3/§9: split the base path on
// its *last* extension (never a naive string replace, which would
// mis-handle an extension occurring earlier in the path), then build
// "<stem> - <name>.data<ext>" and "<stem> - <name>.meta.xml".
func deriveTextFilenames(basePath, streamName string) (dataPath, metaPath string) {
	ext := filepath.Ext(basePath)
	stem := strings.TrimSuffix(basePath, ext)
	sanitized := sanitizeFileComponent(streamName)

	dataPath = fmt.Sprintf("%s - %s.data%s", stem, sanitized, ext)
	metaPath = fmt.Sprintf("%s - %s.meta.xml", stem, sanitized)
	return dataPath, metaPath
}

// buildCSVHeaderRow renders "lsl_time_stamp,<label1>,...", falling back to
// "channel_N" (1-indexed) for missing labels (spec §4.1).
func buildCSVHeaderRow(labels []string) string {
	cols := make([]string, 0, len(labels)+1)
	cols = append(cols, "lsl_time_stamp")
	for i, label := range labels {
		if label == "" {
			label = fmt.Sprintf("channel_%d", i+1)
		}
		cols = append(cols, label)
	}
	return strings.Join(cols, ",")
}

// buildCSVRows renders one CSV row per sample in batch.
func buildCSVRows(batch SampleBatch) (string, error) {
	var b strings.Builder
	n := batch.NumSamples()
	for i := 0; i < n; i++ {
		b.WriteString(formatFloat(batch.Timestamps[i]))

		start := i * batch.ChannelCount
		end := start + batch.ChannelCount

		switch batch.Format {
		case FormatInt8:
			for _, v := range batch.Int8[start:end] {
				b.WriteByte(',')
				b.WriteString(strconv.FormatInt(int64(v), 10))
			}
		case FormatInt16:
			for _, v := range batch.Int16[start:end] {
				b.WriteByte(',')
				b.WriteString(strconv.FormatInt(int64(v), 10))
			}
		case FormatInt32:
			for _, v := range batch.Int32[start:end] {
				b.WriteByte(',')
				b.WriteString(strconv.FormatInt(int64(v), 10))
			}
		case FormatFloat32:
			for _, v := range batch.Float32[start:end] {
				b.WriteByte(',')
				b.WriteString(strconv.FormatFloat(float64(v), 'g', -1, 32))
			}
		case FormatFloat64:
			for _, v := range batch.Float64[start:end] {
				b.WriteByte(',')
				b.WriteString(formatFloat(v))
			}
		case FormatString:
			for _, v := range batch.String[start:end] {
				b.WriteByte(',')
				b.WriteString(v)
			}
		default:
			return "", fmt.Errorf("unsupported channel format %q", batch.Format)
		}
		b.WriteByte('\n')
	}
	return b.String(), nil
}
