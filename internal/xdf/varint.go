package xdf

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// writeVarlenUint encodes v per spec §4.1: a single leading byte
// n ∈ {1,4,8} giving the width of the little-endian unsigned integer that
// follows, picking the narrowest width that fits.
func writeVarlenUint(w io.Writer, v uint64) error {
	switch {
	case v <= 0xFF:
		if _, err := w.Write([]byte{1, byte(v)}); err != nil {
			return err
		}
	case v <= 0xFFFFFFFF:
		buf := make([]byte, 5)
		buf[0] = 4
		binary.LittleEndian.PutUint32(buf[1:], uint32(v))
		if _, err := w.Write(buf); err != nil {
			return err
		}
	default:
		buf := make([]byte, 9)
		buf[0] = 8
		binary.LittleEndian.PutUint64(buf[1:], v)
		if _, err := w.Write(buf); err != nil {
			return err
		}
	}
	return nil
}

// readVarlenUint decodes a value written by writeVarlenUint.
func readVarlenUint(r io.Reader) (uint64, error) {
	var width [1]byte
	if _, err := io.ReadFull(r, width[:]); err != nil {
		return 0, err
	}

	switch width[0] {
	case 1:
		var b [1]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return 0, err
		}
		return uint64(b[0]), nil
	case 4:
		var b [4]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return 0, err
		}
		return uint64(binary.LittleEndian.Uint32(b[:])), nil
	case 8:
		var b [8]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return 0, err
		}
		return binary.LittleEndian.Uint64(b[:]), nil
	default:
		return 0, fmt.Errorf("xdf: invalid varlen width byte %d", width[0])
	}
}

// varlenUintBytes returns the encoded form of v without needing an
// io.Writer, for callers building a buffer before a single write.
func varlenUintBytes(v uint64) []byte {
	var buf bytes.Buffer
	_ = writeVarlenUint(&buf, v)
	return buf.Bytes()
}
