// Package streamsource defines the capability interfaces the recording
// engine consumes to discover and pull data from live streams (spec §6.4).
// The concrete discovery/pull-sample wire protocol is an external
// collaborator and explicitly out of scope (spec §1) — this package only
// states the shape the rest of the engine is built against, plus an
// in-memory fake for tests.
package streamsource

import (
	"context"
	"time"
)

// ChannelFormat is one of the six wire formats spec §3 allows.
type ChannelFormat string

const (
	FormatInt8    ChannelFormat = "int8"
	FormatInt16   ChannelFormat = "int16"
	FormatInt32   ChannelFormat = "int32"
	FormatFloat32 ChannelFormat = "float32"
	FormatFloat64 ChannelFormat = "float64"
	FormatString  ChannelFormat = "string"
)

// StreamInfo is the immutable-per-recorder metadata spec §3 describes.
type StreamInfo struct {
	Name             string
	Hostname         string
	SourceID         string
	UID              string
	NominalSRate     float64
	ChannelCount     int
	Format           ChannelFormat
	XMLMetadata      string
}

// Sample is a single multi-channel reading plus its sender timestamp
// (spec §3). Exactly one of the typed value slices is populated, matching
// the owning stream's Format.
type Sample struct {
	Timestamp float64
	Int8      []int8
	Int16     []int16
	Int32     []int32
	Float32   []float32
	Float64   []float64
	String    []string
}

// Chunk is a multiplexed batch of samples pulled in one call, as consumed
// by StreamRecorder's streaming-phase loop (spec §4.2). Timestamps[i]
// corresponds to the i-th sample's channel values across the matching
// typed slice.
type Chunk struct {
	Timestamps []float64
	Int8       []int8
	Int16      []int16
	Int32      []int32
	Float32    []float32
	Float64    []float64
	String     []string
}

// NumSamples returns the number of samples carried by the chunk.
func (c Chunk) NumSamples() int { return len(c.Timestamps) }

// Inlet is a subscription handle to one stream (spec §6.4, glossary
// "Inlet").
type Inlet interface {
	Info() (StreamInfo, error)
	ChannelCount() int
	Format() ChannelFormat
	NominalSRate() float64
	SetPostprocessing(enabled bool) error

	// PullSample blocks for up to timeout for a single sample. A zero
	// Timestamp with no error means no sample arrived within timeout.
	PullSample(ctx context.Context, timeout time.Duration) (Sample, error)

	// PullChunk blocks for up to timeout and returns everything that
	// arrived, possibly empty.
	PullChunk(ctx context.Context, timeout time.Duration) (Chunk, error)

	// TimeCorrection estimates the sender/recorder clock offset.
	TimeCorrection(ctx context.Context, timeout time.Duration) (float64, error)

	Close() error
}

// StreamSource resolves stream queries and opens inlets onto matches
// (spec §6.4).
type StreamSource interface {
	// ResolveStreams returns every stream currently visible.
	ResolveStreams(ctx context.Context, timeout time.Duration) ([]StreamInfo, error)

	// ResolveStream returns streams matching query, waiting up to timeout
	// for at least minCount matches.
	ResolveStream(ctx context.Context, query string, minCount int, timeout time.Duration) ([]StreamInfo, error)

	// OpenInlet subscribes to the stream described by info.
	OpenInlet(ctx context.Context, info StreamInfo, timeout time.Duration) (Inlet, error)
}
