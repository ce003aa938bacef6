package xdf

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// encodeTimestamp writes the zero-or-eight-byte timestamp encoding of
// spec §4.1 ("write_ts" in the original lslstreamwriter.h): a single
// TimestampBytes marker (0 or 8), followed by the f64 value iff non-zero.
func encodeTimestamp(buf *bytes.Buffer, ts float64) {
	if ts == 0 {
		buf.WriteByte(0)
		return
	}
	buf.WriteByte(8)
	binary.Write(buf, binary.LittleEndian, ts)
}

func decodeTimestamp(r *bytes.Reader) (float64, error) {
	marker, err := r.ReadByte()
	if err != nil {
		return 0, err
	}
	if marker == 0 {
		return 0, nil
	}
	if marker != 8 {
		return 0, fmt.Errorf("xdf: invalid timestamp-bytes marker %d", marker)
	}
	var ts float64
	if err := binary.Read(r, binary.LittleEndian, &ts); err != nil {
		return 0, err
	}
	return ts, nil
}

// encodeSamplesPayload builds the body of a Samples chunk (spec §4.1
// "Samples payload"): [NumSamples varlen] then, per sample, the timestamp
// encoding followed by ChannelCount channel values in the batch's Format.
func encodeSamplesPayload(batch SampleBatch) ([]byte, error) {
	n := batch.NumSamples()
	var buf bytes.Buffer
	buf.Write(varlenUintBytes(uint64(n)))

	for i := 0; i < n; i++ {
		encodeTimestamp(&buf, batch.Timestamps[i])

		start := i * batch.ChannelCount
		end := start + batch.ChannelCount

		switch batch.Format {
		case FormatInt8:
			if end > len(batch.Int8) {
				return nil, fmt.Errorf("xdf: int8 sample %d short: need %d values, have %d", i, end, len(batch.Int8))
			}
			for _, v := range batch.Int8[start:end] {
				buf.WriteByte(byte(v))
			}
		case FormatInt16:
			if end > len(batch.Int16) {
				return nil, fmt.Errorf("xdf: int16 sample %d short: need %d values, have %d", i, end, len(batch.Int16))
			}
			for _, v := range batch.Int16[start:end] {
				binary.Write(&buf, binary.LittleEndian, v)
			}
		case FormatInt32:
			if end > len(batch.Int32) {
				return nil, fmt.Errorf("xdf: int32 sample %d short: need %d values, have %d", i, end, len(batch.Int32))
			}
			for _, v := range batch.Int32[start:end] {
				binary.Write(&buf, binary.LittleEndian, v)
			}
		case FormatFloat32:
			if end > len(batch.Float32) {
				return nil, fmt.Errorf("xdf: float32 sample %d short: need %d values, have %d", i, end, len(batch.Float32))
			}
			for _, v := range batch.Float32[start:end] {
				binary.Write(&buf, binary.LittleEndian, v)
			}
		case FormatFloat64:
			if end > len(batch.Float64) {
				return nil, fmt.Errorf("xdf: float64 sample %d short: need %d values, have %d", i, end, len(batch.Float64))
			}
			for _, v := range batch.Float64[start:end] {
				binary.Write(&buf, binary.LittleEndian, v)
			}
		case FormatString:
			if end > len(batch.String) {
				return nil, fmt.Errorf("xdf: string sample %d short: need %d values, have %d", i, end, len(batch.String))
			}
			for _, v := range batch.String[start:end] {
				buf.Write(varlenUintBytes(uint64(len(v))))
				buf.WriteString(v)
			}
		default:
			return nil, fmt.Errorf("xdf: unsupported channel format %q", batch.Format)
		}
	}

	return buf.Bytes(), nil
}

// decodeSamplesPayload is the inverse of encodeSamplesPayload, used by
// round-trip tests (spec §8).
func decodeSamplesPayload(data []byte, format Format, channelCount int) (SampleBatch, error) {
	r := bytes.NewReader(data)
	n, err := readVarlenUint(r)
	if err != nil {
		return SampleBatch{}, fmt.Errorf("xdf: reading NumSamples: %w", err)
	}

	batch := SampleBatch{Format: format, ChannelCount: channelCount}
	for i := uint64(0); i < n; i++ {
		ts, err := decodeTimestamp(r)
		if err != nil {
			return SampleBatch{}, fmt.Errorf("xdf: reading timestamp for sample %d: %w", i, err)
		}
		batch.Timestamps = append(batch.Timestamps, ts)

		for c := 0; c < channelCount; c++ {
			switch format {
			case FormatInt8:
				b, err := r.ReadByte()
				if err != nil {
					return SampleBatch{}, err
				}
				batch.Int8 = append(batch.Int8, int8(b))
			case FormatInt16:
				var v int16
				if err := binary.Read(r, binary.LittleEndian, &v); err != nil {
					return SampleBatch{}, err
				}
				batch.Int16 = append(batch.Int16, v)
			case FormatInt32:
				var v int32
				if err := binary.Read(r, binary.LittleEndian, &v); err != nil {
					return SampleBatch{}, err
				}
				batch.Int32 = append(batch.Int32, v)
			case FormatFloat32:
				var v float32
				if err := binary.Read(r, binary.LittleEndian, &v); err != nil {
					return SampleBatch{}, err
				}
				batch.Float32 = append(batch.Float32, v)
			case FormatFloat64:
				var v float64
				if err := binary.Read(r, binary.LittleEndian, &v); err != nil {
					return SampleBatch{}, err
				}
				batch.Float64 = append(batch.Float64, v)
			case FormatString:
				l, err := readVarlenUint(r)
				if err != nil {
					return SampleBatch{}, err
				}
				strBuf := make([]byte, l)
				if _, err := r.Read(strBuf); err != nil {
					return SampleBatch{}, err
				}
				batch.String = append(batch.String, string(strBuf))
			default:
				return SampleBatch{}, fmt.Errorf("xdf: unsupported channel format %q", format)
			}
		}
	}

	return batch, nil
}
