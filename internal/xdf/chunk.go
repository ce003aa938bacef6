// Package xdf implements the bit-exact binary container format of spec
// §4.1/§6.1: chunk framing, varlen integers, and the single-file container
// or per-stream text file variants.
package xdf

// Tag identifies a chunk's type (spec §4.1, fixed numeric values).
type Tag uint16

const (
	TagFileHeader   Tag = 1
	TagStreamHeader Tag = 2
	TagSamples      Tag = 3
	TagClockOffset  Tag = 4
	TagBoundary     Tag = 5
	TagStreamFooter Tag = 6
)

// Format is one of the six channel wire formats spec §3 allows.
type Format string

const (
	FormatInt8    Format = "int8"
	FormatInt16   Format = "int16"
	FormatInt32   Format = "int32"
	FormatFloat32 Format = "float32"
	FormatFloat64 Format = "float64"
	FormatString  Format = "string"
)

// Magic is the 4-byte ASCII literal every container file begins with
// (spec §6.1).
var Magic = [4]byte{'X', 'D', 'F', ':'}

// FileHeaderXML is the exact literal written as the FileHeader payload
// (spec §4.1).
const FileHeaderXML = `<?xml version="1.0"?><info><version>1.0</version></info>`

// BoundaryPayload is the fixed 16-byte restart marker (spec §4.1).
var BoundaryPayload = [16]byte{
	0x43, 0xA5, 0x46, 0xDC, 0xCB, 0xF5, 0x41, 0x0F,
	0xB3, 0x0E, 0xD5, 0x46, 0x73, 0x83, 0xCB, 0xE4,
}

// OffsetEntry is one (collection_time, offset) measurement, as recorded in
// a stream's OffsetList (spec §3) and echoed in its footer.
type OffsetEntry struct {
	CollectionTime float64
	Offset         float64
}

// SampleBatch is a multiplexed batch of samples for one stream, in the
// shape write_data_chunk expects (spec §4.1 "Samples payload"). Exactly one
// typed slice is populated, matching Format; its length must equal
// len(Timestamps) * ChannelCount, for String as for every other format.
type SampleBatch struct {
	Format       Format
	ChannelCount int
	Timestamps   []float64
	Int8         []int8
	Int16        []int16
	Int32        []int32
	Float32      []float32
	Float64      []float64
	String       []string
}

// NumSamples returns the number of samples in the batch.
func (b SampleBatch) NumSamples() int { return len(b.Timestamps) }
