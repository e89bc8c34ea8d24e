package serialmux

import (
	"fmt"

	"go.bug.st/serial"
)

// RealPortFactory opens serial devices with go.bug.st/serial.
type RealPortFactory struct{}

// Open opens the device at path and applies the read timeout, so reads
// return empty rather than blocking forever when the sender goes quiet.
func (RealPortFactory) Open(path string, opts PortOptions) (SerialPorter, error) {
	opts, err := opts.Normalize()
	if err != nil {
		return nil, err
	}
	mode, err := opts.SerialMode()
	if err != nil {
		return nil, err
	}

	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("open serial port %s: %w", path, err)
	}
	if err := port.SetReadTimeout(opts.ReadTimeout); err != nil {
		port.Close()
		return nil, fmt.Errorf("set read timeout on %s: %w", path, err)
	}
	return port, nil
}

// OpenSerialMux opens path through factory, which lets callers substitute
// the device in tests.
func OpenSerialMux(factory SerialPortFactory, path string, opts PortOptions, muxOpts ...Option) (*SerialMux[SerialPorter], error) {
	port, err := factory.Open(path, opts)
	if err != nil {
		return nil, err
	}
	return NewSerialMux(port, append([]Option{WithName(path)}, muxOpts...)...), nil
}
