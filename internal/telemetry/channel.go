// Package telemetry holds the fixed channel table that gives meaning to TLV
// type codes, and the store of the most recent value decoded for each channel.
package telemetry

import (
	"errors"
	"fmt"
)

// ErrUnknownChannel is returned when a channel is not part of the registry a
// store was built from.
var ErrUnknownChannel = errors.New("unknown channel")

// TypeCode identifies a telemetry channel on the wire.
type TypeCode uint8

func (t TypeCode) String() string {
	return fmt.Sprintf("0x%02X", uint8(t))
}

// Channel is an immutable channel definition.
type Channel struct {
	Type     TypeCode `json:"type" msgpack:"type"`
	Name     string   `json:"name" msgpack:"name"`
	Encoding Encoding `json:"encoding" msgpack:"encoding"`
}

// DefaultChannels is the channel table spoken by the sender firmware. Its
// order is the display order.
var DefaultChannels = []Channel{
	{Type: 0x01, Name: "RPM", Encoding: EncodingU16LE},
	{Type: 0x02, Name: "Boost Pressure (mbar)", Encoding: EncodingU16LE},
	{Type: 0x03, Name: "Oil Pressure", Encoding: EncodingU16LE},
	{Type: 0x04, Name: "Fuel Level", Encoding: EncodingU16LE},
	{Type: 0x05, Name: "Speed", Encoding: EncodingU16LE},
	{Type: 0x06, Name: "Status Flags", Encoding: EncodingU8},
	{Type: 0x07, Name: "Steering Angle", Encoding: EncodingI16LE},
	{Type: 0x08, Name: "Brake Pressure", Encoding: EncodingU16LE},
	{Type: 0x09, Name: "Throttle Position", Encoding: EncodingU8},
	{Type: 0x0A, Name: "Gear Position", Encoding: EncodingU8},
}

// Registry resolves type codes to channel definitions. It is read-only after
// construction and safe for concurrent use.
type Registry struct {
	channels []Channel
	// index holds position+1 into channels, zero meaning absent.
	index [256]uint16
}

// NewRegistry builds a registry from defs, preserving their order.
func NewRegistry(defs []Channel) (*Registry, error) {
	r := &Registry{channels: make([]Channel, 0, len(defs))}
	for _, ch := range defs {
		if ch.Name == "" {
			return nil, fmt.Errorf("channel %s has no name", ch.Type)
		}
		if ch.Encoding.Width() == 0 {
			return nil, fmt.Errorf("channel %s (%s) has unsupported encoding %d", ch.Type, ch.Name, uint8(ch.Encoding))
		}
		if r.index[ch.Type] != 0 {
			return nil, fmt.Errorf("duplicate channel type %s (%s)", ch.Type, ch.Name)
		}
		r.channels = append(r.channels, ch)
		r.index[ch.Type] = uint16(len(r.channels))
	}
	return r, nil
}

// DefaultRegistry returns a registry over DefaultChannels.
func DefaultRegistry() *Registry {
	r, err := NewRegistry(DefaultChannels)
	if err != nil {
		panic("telemetry: invalid default channel table: " + err.Error())
	}
	return r
}

// Lookup returns the channel for a type code.
func (r *Registry) Lookup(t TypeCode) (Channel, bool) {
	i := r.index[t]
	if i == 0 {
		return Channel{}, false
	}
	return r.channels[i-1], true
}

// Channels returns the definitions in registry order.
func (r *Registry) Channels() []Channel {
	out := make([]Channel, len(r.channels))
	copy(out, r.channels)
	return out
}

// Len returns the number of channels.
func (r *Registry) Len() int { return len(r.channels) }

func (r *Registry) position(ch Channel) (int, bool) {
	i := r.index[ch.Type]
	if i == 0 || r.channels[i-1] != ch {
		return 0, false
	}
	return int(i - 1), true
}
