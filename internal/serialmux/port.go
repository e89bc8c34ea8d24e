package serialmux

import (
	"io"
	"time"
)

// SerialPorter defines the minimal interface needed for a byte source. The
// telemetry link is receive-only, so nothing is ever written back.
// This abstraction enables unit testing without real serial hardware.
type SerialPorter interface {
	io.Reader
	io.Closer
}

// TimeoutSerialPorter extends SerialPorter with timeout capabilities.
// A read that times out returns 0 bytes and a nil error.
type TimeoutSerialPorter interface {
	SerialPorter
	// SetReadTimeout sets the read timeout for the serial port.
	SetReadTimeout(timeout time.Duration) error
}

// SerialPortFactory defines an interface for creating serial ports.
// This abstraction enables dependency injection of serial port creation.
type SerialPortFactory interface {
	// Open opens a serial port at the specified path with the given options.
	Open(path string, opts PortOptions) (SerialPorter, error)
}
