package telemetry

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrShortValue is returned when a value holds fewer bytes than its encoding
// width. The bytes are never read past their end.
var ErrShortValue = errors.New("value shorter than encoding width")

// Encoding is the numeric representation of a channel value on the wire. The
// set is closed: unsigned 8-bit, unsigned 16-bit little-endian and signed
// 16-bit little-endian.
type Encoding uint8

const (
	EncodingU8 Encoding = iota + 1
	EncodingU16LE
	EncodingI16LE
)

// Width returns the number of value bytes the encoding consumes.
func (e Encoding) Width() int {
	switch e {
	case EncodingU8:
		return 1
	case EncodingU16LE, EncodingI16LE:
		return 2
	default:
		return 0
	}
}

// Decode interprets the first Width bytes of raw. Bytes beyond the width are
// ignored, matching fixed-width unpacking on the sender side.
func (e Encoding) Decode(raw []byte) (int32, error) {
	w := e.Width()
	if w == 0 {
		return 0, fmt.Errorf("unsupported encoding %d", uint8(e))
	}
	if len(raw) < w {
		return 0, fmt.Errorf("%s needs %d bytes, got %d: %w", e, w, len(raw), ErrShortValue)
	}

	switch e {
	case EncodingU8:
		return int32(raw[0]), nil
	case EncodingU16LE:
		return int32(binary.LittleEndian.Uint16(raw)), nil
	default:
		return int32(int16(binary.LittleEndian.Uint16(raw))), nil
	}
}

// Encode renders v in the encoding's wire form. Values outside the encoding's
// range are truncated to its width.
func (e Encoding) Encode(v int32) []byte {
	switch e {
	case EncodingU8:
		return []byte{byte(v)}
	case EncodingU16LE, EncodingI16LE:
		b := make([]byte, 2)
		binary.LittleEndian.PutUint16(b, uint16(v))
		return b
	default:
		return nil
	}
}

func (e Encoding) String() string {
	switch e {
	case EncodingU8:
		return "u8"
	case EncodingU16LE:
		return "u16"
	case EncodingI16LE:
		return "i16"
	default:
		return fmt.Sprintf("Encoding(%d)", uint8(e))
	}
}

// ParseEncoding maps the short names used in channel tables back to an
// Encoding.
func ParseEncoding(s string) (Encoding, error) {
	switch s {
	case "u8", "B":
		return EncodingU8, nil
	case "u16", "H":
		return EncodingU16LE, nil
	case "i16", "h":
		return EncodingI16LE, nil
	}
	return 0, fmt.Errorf("unknown encoding %q: expected u8, u16 or i16", s)
}

// MarshalText implements encoding.TextMarshaler.
func (e Encoding) MarshalText() ([]byte, error) {
	if e.Width() == 0 {
		return nil, fmt.Errorf("unsupported encoding %d", uint8(e))
	}
	return []byte(e.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (e *Encoding) UnmarshalText(text []byte) error {
	parsed, err := ParseEncoding(string(text))
	if err != nil {
		return err
	}
	*e = parsed
	return nil
}
