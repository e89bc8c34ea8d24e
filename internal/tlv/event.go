package tlv

import (
	"fmt"

	"github.com/banshee-data/tlv-telemetry/internal/telemetry"
)

// EventKind classifies the outcome of resolving a record.
type EventKind uint8

const (
	// EventValueUpdate carries a decoded value for a known channel.
	EventValueUpdate EventKind = iota + 1
	// EventUnknownRecord carries a record whose type is not in the registry.
	EventUnknownRecord
	// EventDecodeFailure carries a known record whose value is shorter than
	// the channel encoding.
	EventDecodeFailure
)

func (k EventKind) String() string {
	switch k {
	case EventValueUpdate:
		return "value_update"
	case EventUnknownRecord:
		return "unknown_record"
	case EventDecodeFailure:
		return "decode_failure"
	default:
		return fmt.Sprintf("EventKind(%d)", uint8(k))
	}
}

// Event is a resolved record. Channel and Value are set for value updates,
// Channel and Err for decode failures; Record is always set.
type Event struct {
	Kind    EventKind
	Record  Record
	Channel telemetry.Channel
	Value   int32
	Err     error
}

func (e Event) String() string {
	switch e.Kind {
	case EventValueUpdate:
		return fmt.Sprintf("%s = %d", e.Channel.Name, e.Value)
	case EventUnknownRecord:
		return "Unknown " + e.Record.String()
	case EventDecodeFailure:
		return fmt.Sprintf("Undecodable %s (%s): %v", e.Channel.Name, e.Record, e.Err)
	default:
		return e.Kind.String()
	}
}
