package tlv

import (
	"iter"

	"github.com/banshee-data/tlv-telemetry/internal/telemetry"
)

// Lookup resolves a type code to its channel definition.
type Lookup interface {
	Lookup(telemetry.TypeCode) (telemetry.Channel, bool)
}

// State describes what the decoder is waiting for at the front of its buffer.
type State uint8

const (
	// StateSeekingHeader means fewer than HeaderLen bytes are buffered.
	StateSeekingHeader State = iota
	// StateAwaitingBody means a header is buffered but its value is not
	// complete yet.
	StateAwaitingBody
)

func (s State) String() string {
	if s == StateAwaitingBody {
		return "awaiting_body"
	}
	return "seeking_header"
}

// Decoder accumulates bytes from a stream and extracts complete records from
// the front of the accumulated buffer. It is not safe for concurrent use.
type Decoder struct {
	lookup Lookup

	// buf[off:] is the undrained data. The consumed prefix is reclaimed on
	// Ingest rather than on every record.
	buf []byte
	off int
}

// NewDecoder returns a decoder resolving type codes against lookup.
func NewDecoder(lookup Lookup) *Decoder {
	return &Decoder{lookup: lookup}
}

// Ingest appends p to the buffer. It never fails; malformed input surfaces
// as events when records are drained.
func (d *Decoder) Ingest(p []byte) {
	if len(p) == 0 {
		return
	}
	d.compact()
	d.buf = append(d.buf, p...)
}

func (d *Decoder) compact() {
	switch {
	case d.off == 0:
	case d.off == len(d.buf):
		d.buf = d.buf[:0]
		d.off = 0
	case d.off >= cap(d.buf)/2:
		n := copy(d.buf, d.buf[d.off:])
		d.buf = d.buf[:n]
		d.off = 0
	}
}

// Buffered returns the number of undrained bytes.
func (d *Decoder) Buffered() int {
	return len(d.buf) - d.off
}

// Pending returns a copy of the undrained bytes.
func (d *Decoder) Pending() []byte {
	return append([]byte(nil), d.buf[d.off:]...)
}

// State reports whether the front of the buffer lacks a header or a value.
// After a drain has run to completion this is what the decoder waits for.
func (d *Decoder) State() State {
	if d.Buffered() < HeaderLen {
		return StateSeekingHeader
	}
	return StateAwaitingBody
}

// Missing returns how many more bytes are needed before the next record can
// be extracted: at least 1 while seeking a header, 0 when a record is ready.
func (d *Decoder) Missing() int {
	avail := d.Buffered()
	if avail < HeaderLen {
		return HeaderLen - avail
	}
	need := HeaderLen + int(d.buf[d.off+1])
	if avail >= need {
		return 0
	}
	return need - avail
}

// Reset discards all buffered bytes.
func (d *Decoder) Reset() {
	d.buf = d.buf[:0]
	d.off = 0
}

// next extracts the record at the front of the buffer, if complete.
func (d *Decoder) next() (Record, bool) {
	avail := d.Buffered()
	if avail < HeaderLen {
		return Record{}, false
	}
	length := d.buf[d.off+1]
	size := HeaderLen + int(length)
	if avail < size {
		return Record{}, false
	}

	start := d.off + HeaderLen
	rec := Record{
		Type:   telemetry.TypeCode(d.buf[d.off]),
		Length: length,
		Value:  append([]byte(nil), d.buf[start:start+int(length)]...),
	}
	d.off += size
	return rec, true
}

// Records returns the records that can be extracted from the buffer now.
// Each record yielded has been removed from the buffer; records not yet
// yielded when the caller stops ranging stay buffered. The sequence is not
// restartable: ranging over it again yields only records completed since.
func (d *Decoder) Records() iter.Seq[Record] {
	return func(yield func(Record) bool) {
		for {
			rec, ok := d.next()
			if !ok {
				return
			}
			if !yield(rec) {
				return
			}
		}
	}
}

// Resolve turns a record into an event using the decoder's channel lookup.
func (d *Decoder) Resolve(rec Record) Event {
	ch, ok := d.lookup.Lookup(rec.Type)
	if !ok {
		return Event{Kind: EventUnknownRecord, Record: rec}
	}
	v, err := ch.Encoding.Decode(rec.Value)
	if err != nil {
		return Event{Kind: EventDecodeFailure, Record: rec, Channel: ch, Err: err}
	}
	return Event{Kind: EventValueUpdate, Record: rec, Channel: ch, Value: v}
}

// Events drains the buffer like Records, resolving each record.
func (d *Decoder) Events() iter.Seq[Event] {
	return func(yield func(Event) bool) {
		for rec := range d.Records() {
			if !yield(d.Resolve(rec)) {
				return
			}
		}
	}
}

// Drain extracts and resolves every complete record.
func (d *Decoder) Drain() []Event {
	var events []Event
	for ev := range d.Events() {
		events = append(events, ev)
	}
	return events
}
