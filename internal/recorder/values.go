package recorder

import (
	"strconv"

	"github.com/audiolibrelab/xdfrecorder/internal/clock"
	"github.com/audiolibrelab/xdfrecorder/internal/streamsource"
	"github.com/audiolibrelab/xdfrecorder/internal/xdf"
)

func formatTimestampString(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// toBatch converts a pulled Chunk into the xdf.SampleBatch the writer
// expects, splicing in recording-timestamp channels when enabled (spec
// §4.2 "Injected recording timestamps").
func (r *Recorder) toBatch(chunk streamsource.Chunk) xdf.SampleBatch {
	n := chunk.NumSamples()
	batch := xdf.SampleBatch{
		Format:       xdf.Format(r.effectiveFormat),
		ChannelCount: r.effectiveCount,
		Timestamps:   chunk.Timestamps,
	}

	inject := r.cfg.InjectRecordingTimestamps && injectedChannelCount(r.effectiveFormat) > 0

	switch r.effectiveFormat {
	case streamsource.FormatInt8:
		batch.Int8 = chunk.Int8
	case streamsource.FormatInt16:
		batch.Int16 = chunk.Int16
	case streamsource.FormatInt32:
		batch.Int32 = appendInt32Injection(chunk.Int32, n, inject)
	case streamsource.FormatFloat32:
		batch.Float32 = appendFloat32Injection(chunk.Float32, n, inject)
	case streamsource.FormatFloat64:
		batch.Float64 = appendFloat64Injection(chunk.Float64, n, inject)
	case streamsource.FormatString:
		batch.String = appendStringInjection(chunk.String, n, inject)
	}

	return batch
}

func appendFloat64Injection(values []float64, n int, inject bool) []float64 {
	if !inject {
		return values
	}
	originalWidth := 0
	if n > 0 {
		originalWidth = len(values) / n
	}
	out := make([]float64, 0, n*(originalWidth+1))
	for i := 0; i < n; i++ {
		out = append(out, values[i*originalWidth:(i+1)*originalWidth]...)
		out = append(out, clock.WallMillis())
	}
	return out
}

func appendStringInjection(values []string, n int, inject bool) []string {
	if !inject {
		return values
	}
	originalWidth := 0
	if n > 0 {
		originalWidth = len(values) / n
	}
	out := make([]string, 0, n*(originalWidth+1))
	for i := 0; i < n; i++ {
		out = append(out, values[i*originalWidth:(i+1)*originalWidth]...)
		out = append(out, formatTimestampString(clock.WallMillis()))
	}
	return out
}

func appendFloat32Injection(values []float32, n int, inject bool) []float32 {
	if !inject {
		return values
	}
	originalWidth := 0
	if n > 0 {
		originalWidth = len(values) / n
	}
	out := make([]float32, 0, n*(originalWidth+2))
	for i := 0; i < n; i++ {
		out = append(out, values[i*originalWidth:(i+1)*originalWidth]...)
		now := clock.WallMillis()
		base := float32(now)
		remainder := float32(now - float64(base))
		out = append(out, base, remainder)
	}
	return out
}

func appendInt32Injection(values []int32, n int, inject bool) []int32 {
	if !inject {
		return values
	}
	originalWidth := 0
	if n > 0 {
		originalWidth = len(values) / n
	}
	out := make([]int32, 0, n*(originalWidth+2))
	for i := 0; i < n; i++ {
		out = append(out, values[i*originalWidth:(i+1)*originalWidth]...)
		now := clock.WallMillis()
		base := int32(now)
		remainder := int32(now - float64(base))
		out = append(out, base, remainder)
	}
	return out
}
