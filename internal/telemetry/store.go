package telemetry

import (
	"strconv"
	"sync"
	"time"

	"github.com/banshee-data/tlv-telemetry/internal/timeutil"
)

// Placeholder is shown for channels that have not been decoded yet.
const Placeholder = "---"

// Reading is the current state of one channel.
type Reading struct {
	Channel   Channel   `json:"channel" msgpack:"channel"`
	Value     int32     `json:"value" msgpack:"value"`
	Valid     bool      `json:"valid" msgpack:"valid"`
	UpdatedAt time.Time `json:"updated_at,omitzero" msgpack:"updated_at"`
}

// Display renders the value, or Placeholder before the first decode.
func (r Reading) Display() string {
	if !r.Valid {
		return Placeholder
	}
	return strconv.FormatInt(int64(r.Value), 10)
}

// Snapshot is a consistent view of every channel in registry order.
type Snapshot []Reading

// Get returns the reading for the named channel.
func (s Snapshot) Get(name string) (Reading, bool) {
	for _, r := range s {
		if r.Channel.Name == name {
			return r, true
		}
	}
	return Reading{}, false
}

// Store keeps the most recent decoded value for each channel of a registry.
// Values are never cleared; the last decode wins. Writers and readers may run
// on different goroutines.
type Store struct {
	reg   *Registry
	clock timeutil.Clock

	mu       sync.RWMutex
	readings []Reading
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithClock sets the clock used to stamp readings.
func WithClock(c timeutil.Clock) StoreOption {
	return func(s *Store) { s.clock = c }
}

// NewStore creates a store with every channel of reg unset.
func NewStore(reg *Registry, opts ...StoreOption) *Store {
	s := &Store{
		reg:      reg,
		clock:    timeutil.RealClock{},
		readings: make([]Reading, reg.Len()),
	}
	for i, ch := range reg.channels {
		s.readings[i].Channel = ch
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Registry returns the registry the store was built from.
func (s *Store) Registry() *Registry { return s.reg }

// RecordValue decodes raw with the channel's encoding and stores the result.
// A raw value shorter than the encoding width leaves the store untouched and
// returns an error wrapping ErrShortValue.
func (s *Store) RecordValue(ch Channel, raw []byte) (int32, error) {
	pos, ok := s.reg.position(ch)
	if !ok {
		return 0, ErrUnknownChannel
	}
	v, err := ch.Encoding.Decode(raw)
	if err != nil {
		return 0, err
	}
	now := s.clock.Now()

	s.mu.Lock()
	s.readings[pos].Value = v
	s.readings[pos].Valid = true
	s.readings[pos].UpdatedAt = now
	s.mu.Unlock()
	return v, nil
}

// Snapshot returns a copy of all readings in registry order.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(Snapshot, len(s.readings))
	copy(out, s.readings)
	return out
}

// Get returns the current reading of the named channel.
func (s *Store) Get(name string) (Reading, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.readings {
		if r.Channel.Name == name {
			return r, true
		}
	}
	return Reading{}, false
}
