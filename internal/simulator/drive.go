// Package simulator produces the synthetic telemetry the sender firmware
// emits in its mock mode: a 60 second drive cycle of idle, pull-away, a gear
// change, cruising, hard acceleration, braking and idle again, sent at 20Hz.
package simulator

import (
	"math"
	"time"

	"github.com/banshee-data/tlv-telemetry/internal/serialmux"
	"github.com/banshee-data/tlv-telemetry/internal/telemetry"
	"github.com/banshee-data/tlv-telemetry/internal/timeutil"
	"github.com/banshee-data/tlv-telemetry/internal/tlv"
)

const (
	// CycleLength is the period after which the drive cycle repeats.
	CycleLength = 60 * time.Second

	// DefaultInterval is the firmware's send period.
	DefaultInterval = 50 * time.Millisecond
)

// Sample is the set of values sent in one burst.
type Sample struct {
	RPM           uint16
	BoostMbar     uint16
	OilPressure   uint16
	FuelLevel     uint16
	Speed         uint16
	StatusFlags   uint8
	SteeringAngle int16
	BrakePressure uint16
	Throttle      uint8
	Gear          uint8
}

// SampleAt returns the values at offset into the cycle. Offsets outside
// [0, CycleLength) wrap.
func SampleAt(offset time.Duration) Sample {
	offset %= CycleLength
	if offset < 0 {
		offset += CycleLength
	}
	t := offset.Seconds()

	s := Sample{
		RPM:         1000,
		OilPressure: 1600,
		BoostMbar:   800,
		Gear:        1,
	}

	switch {
	case t < 10, t >= 50:
		s.RPM = u16(1000 + math.Sin(t)*100)
		s.Throttle = u8(2 + math.Sin(t)*2)
		s.OilPressure = u16(1600 + math.Sin(t)*50)
	case t < 20:
		f := (t - 10) / 10
		s.RPM = u16(1000 + f*3000)
		s.Speed = u16(f * 40)
		s.Throttle = u8(10 + f*50)
		s.BoostMbar = u16(800 + f*400)
		s.OilPressure = u16(1700 + f*500)
	case t < 22:
		f := (t - 20) / 2
		s.RPM = u16(4000 - f*2000)
		s.Speed = u16(40 + f*5)
		s.Throttle = u8(60 - f*30)
		s.Gear = 2
		s.BoostMbar = u16(1200 - f*200)
	case t < 35:
		s.RPM = u16(2000 + math.Sin(t)*500)
		s.Speed = u16(45 + math.Sin(t*0.5)*15)
		s.Throttle = u8(20 + math.Sin(t)*20)
		s.Gear = 2
		s.BoostMbar = u16(900 + math.Sin(t)*100)
	case t < 45:
		f := (t - 35) / 10
		s.RPM = u16(2500 + f*3500)
		s.Speed = u16(60 + f*60)
		s.Throttle = u8(40 + f*50)
		switch {
		case t < 40:
			s.Gear = 2
		case t < 43:
			s.Gear = 3
		default:
			s.Gear = 4
		}
		s.BoostMbar = u16(1100 + f*700)
	default: // braking
		f := (t - 45) / 5
		s.RPM = u16(6000 - f*4500)
		s.Speed = u16(120 - f*90)
		s.BrakePressure = u16(f * 1200)
		s.Gear = 4
		if t >= 48 {
			s.Gear = 2
		}
		s.BoostMbar = 1000
	}

	s.FuelLevel = u16(3500 - t*50)
	s.SteeringAngle = int16(math.Sin(t*0.5) * 300)
	return s
}

func u16(v float64) uint16 {
	return uint16(math.Max(0, math.Min(v, math.MaxUint16)))
}

func u8(v float64) uint8 {
	return uint8(math.Max(0, math.Min(v, math.MaxUint8)))
}

// Point is one channel value of a sample.
type Point struct {
	Type  telemetry.TypeCode
	Value int32
}

// Points returns the sample's values in send order.
func (s Sample) Points() []Point {
	return []Point{
		{0x01, int32(s.RPM)},
		{0x02, int32(s.BoostMbar)},
		{0x03, int32(s.OilPressure)},
		{0x04, int32(s.FuelLevel)},
		{0x05, int32(s.Speed)},
		{0x06, int32(s.StatusFlags)},
		{0x07, int32(s.SteeringAngle)},
		{0x08, int32(s.BrakePressure)},
		{0x09, int32(s.Throttle)},
		{0x0A, int32(s.Gear)},
	}
}

// Frame encodes the sample as the firmware does: one record per channel, in
// type code order. Channels missing from reg are skipped.
func Frame(reg *telemetry.Registry, s Sample) []byte {
	out := make([]byte, 0, 64)
	for _, v := range s.Points() {
		ch, ok := reg.Lookup(v.Type)
		if !ok {
			continue
		}
		out = append(out, tlv.EncodeValue(ch, v.Value)...)
	}
	return out
}

// Generator produces frames relative to the time of its first call.
type Generator struct {
	reg   *telemetry.Registry
	start time.Time
}

// NewGenerator returns a generator encoding with reg.
func NewGenerator(reg *telemetry.Registry) *Generator {
	return &Generator{reg: reg}
}

// Next returns the frame for now. The cycle never ends, so more is always
// true.
func (g *Generator) Next(now time.Time) (frame []byte, more bool) {
	if g.start.IsZero() {
		g.start = now
	}
	return Frame(g.reg, SampleAt(now.Sub(g.start))), true
}

// NewSerialMux returns a byte source that emits one frame every interval.
func NewSerialMux(reg *telemetry.Registry, clock timeutil.Clock, interval time.Duration) *serialmux.SerialMux[*serialmux.GeneratorPort] {
	if interval <= 0 {
		interval = DefaultInterval
	}
	port := serialmux.NewGeneratorPort(clock, interval, NewGenerator(reg).Next)
	return serialmux.NewSerialMux(port, serialmux.WithName("synthetic"))
}
