package tlv

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/tlv-telemetry/internal/telemetry"
)

func TestEncode(t *testing.T) {
	out, err := Encode(0x01, []byte{0x34, 0x12})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01, 0x02, 0x34, 0x12}, out)

	out, err = Encode(0x40, nil)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x40, 0x00}, out)

	_, err = Encode(0x01, make([]byte, 256))
	assert.ErrorIs(t, err, ErrValueTooLong)
}

func TestEncodeValue(t *testing.T) {
	steering := mustChannel(t, 0x07)
	assert.Equal(t, []byte{0x07, 0x02, 0xFF, 0xFF}, EncodeValue(steering, -1))

	gear := mustChannel(t, 0x0A)
	assert.Equal(t, []byte{0x0A, 0x01, 0x03}, EncodeValue(gear, 3))
}

func TestRecord_MarshalBinary(t *testing.T) {
	rec := Record{Type: 0x05, Length: 2, Value: []byte{0x2D, 0x00}}
	out, err := rec.MarshalBinary()
	require.NoError(t, err)
	assert.Equal(t, []byte{0x05, 0x02, 0x2D, 0x00}, out)
	assert.Equal(t, 4, rec.Size())

	_, err = Record{Type: 0x05, Length: 3, Value: []byte{0x2D}}.MarshalBinary()
	assert.Error(t, err)
}

func TestEvent_String(t *testing.T) {
	rpm := mustChannel(t, 0x01)
	tests := []struct {
		ev   Event
		want string
	}{
		{Event{Kind: EventValueUpdate, Channel: rpm, Value: 4660}, "RPM = 4660"},
		{Event{Kind: EventUnknownRecord, Record: Record{Type: 0xFE, Length: 2, Value: []byte{0xAB, 0xCD}}}, "Unknown Type FE, Length 2, Raw: abcd"},
		{Event{Kind: EventDecodeFailure, Channel: rpm, Record: Record{Type: 0x01, Length: 1, Value: []byte{0x34}}, Err: telemetry.ErrShortValue},
			"Undecodable RPM (Type 01, Length 1, Raw: 34): value shorter than encoding width"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.ev.String())
	}
}
