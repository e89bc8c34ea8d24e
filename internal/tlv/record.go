// Package tlv decodes the Type-Length-Value framing spoken over the telemetry
// serial link.
//
// A record is one type byte, one length byte and exactly length value bytes.
// There is no delimiter and no checksum: the length byte is the only thing
// that says where the next record starts, so it is always trusted. A byte
// lost or duplicated upstream misframes every record after it until the
// sender's stream realigns; the decoder does not try to detect or repair that.
package tlv

import (
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/banshee-data/tlv-telemetry/internal/telemetry"
)

// HeaderLen is the size of the type and length bytes preceding a value.
const HeaderLen = 2

// MaxValueLen is the largest value a length byte can describe.
const MaxValueLen = 255

// ErrValueTooLong is returned when encoding a value the length byte cannot
// describe.
var ErrValueTooLong = errors.New("tlv: value longer than 255 bytes")

// Record is one framed record. Value holds exactly Length bytes and does not
// alias the decoder's buffer.
type Record struct {
	Type   telemetry.TypeCode
	Length uint8
	Value  []byte
}

// Size returns the number of wire bytes the record occupies.
func (r Record) Size() int {
	return HeaderLen + int(r.Length)
}

// MarshalBinary returns the wire form of the record.
func (r Record) MarshalBinary() ([]byte, error) {
	if int(r.Length) != len(r.Value) {
		return nil, fmt.Errorf("tlv: length %d does not match %d value bytes", r.Length, len(r.Value))
	}
	return Encode(r.Type, r.Value)
}

func (r Record) String() string {
	return fmt.Sprintf("Type %02X, Length %d, Raw: %s", uint8(r.Type), r.Length, hex.EncodeToString(r.Value))
}

// Encode frames value as a record of type t.
func Encode(t telemetry.TypeCode, value []byte) ([]byte, error) {
	if len(value) > MaxValueLen {
		return nil, ErrValueTooLong
	}
	out := make([]byte, HeaderLen+len(value))
	out[0] = byte(t)
	out[1] = byte(len(value))
	copy(out[HeaderLen:], value)
	return out, nil
}

// EncodeValue frames v using the channel's encoding.
func EncodeValue(ch telemetry.Channel, v int32) []byte {
	out, _ := Encode(ch.Type, ch.Encoding.Encode(v))
	return out
}
