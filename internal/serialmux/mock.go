package serialmux

import (
	"bytes"
	"io"
	"sync"
	"time"

	"github.com/banshee-data/tlv-telemetry/internal/timeutil"
)

// GeneratorPort implements SerialPorter over bytes produced on a clock. Each
// tick, next is asked for the bytes to deliver; when it reports no more data
// the port reaches EOF.
type GeneratorPort struct {
	r    *io.PipeReader
	w    *io.PipeWriter
	stop chan struct{}
	once sync.Once
}

// NewGeneratorPort starts producing bytes every interval.
func NewGeneratorPort(clock timeutil.Clock, interval time.Duration, next func(now time.Time) ([]byte, bool)) *GeneratorPort {
	r, w := io.Pipe()
	p := &GeneratorPort{r: r, w: w, stop: make(chan struct{})}

	go func() {
		ticker := clock.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-p.stop:
				return
			case now := <-ticker.C():
				data, more := next(now)
				if len(data) > 0 {
					if _, err := w.Write(data); err != nil {
						return
					}
				}
				if !more {
					w.Close()
					return
				}
			}
		}
	}()
	return p
}

// Read reads generated bytes, blocking until the next tick delivers some.
func (p *GeneratorPort) Read(b []byte) (int, error) {
	return p.r.Read(b)
}

// Close stops the generator and unblocks pending reads.
func (p *GeneratorPort) Close() error {
	p.once.Do(func() {
		close(p.stop)
		p.w.CloseWithError(ErrPortClosed)
	})
	return nil
}

// NewReplaySerialMux creates a SerialMux that replays a raw capture, writing
// chunkSize bytes per interval. With loop set the capture restarts from the
// beginning instead of ending.
func NewReplaySerialMux(data []byte, chunkSize int, interval time.Duration, loop bool, clock timeutil.Clock, opts ...Option) *SerialMux[*GeneratorPort] {
	if chunkSize <= 0 {
		chunkSize = DefaultReadSize
	}
	offset := 0
	next := func(time.Time) ([]byte, bool) {
		if len(data) == 0 {
			return nil, false
		}
		end := min(offset+chunkSize, len(data))
		chunk := data[offset:end]
		offset = end
		if offset == len(data) {
			if !loop {
				return chunk, false
			}
			offset = 0
		}
		return chunk, true
	}
	port := NewGeneratorPort(clock, interval, next)
	return NewSerialMux(port, append([]Option{WithName("replay")}, opts...)...)
}

// TestableSerialPort implements SerialPorter with configurable behaviour for testing.
// It provides fine-grained control over reads, errors, and latency.
type TestableSerialPort struct {
	mu sync.Mutex

	// ReadBuffer holds data to be returned by Read calls
	ReadBuffer *bytes.Buffer

	// ReadLatency adds a delay to each Read call
	ReadLatency time.Duration

	// ReadError is returned by the next Read call if set
	ReadError error

	// CloseError is returned by Close if set
	CloseError error

	// Closed indicates whether Close was called
	Closed bool

	// ReadCalls records the number of Read calls
	ReadCalls int

	// ReadTimeout is the current read timeout
	ReadTimeout time.Duration

	// BlockReads causes Read to block until data is added or Close is called
	BlockReads bool

	// EOFWhenDrained makes Read return io.EOF once the buffer is empty
	EOFWhenDrained bool

	// readCond is used to signal blocked readers
	readCond *sync.Cond
}

// NewTestableSerialPort creates a new TestableSerialPort for testing.
func NewTestableSerialPort() *TestableSerialPort {
	tsp := &TestableSerialPort{
		ReadBuffer: bytes.NewBuffer(nil),
	}
	tsp.readCond = sync.NewCond(&tsp.mu)
	return tsp
}

// Read reads from the read buffer, optionally simulating latency and errors.
// An empty non-blocking read returns 0 bytes and no error, like a serial
// read that timed out.
func (t *TestableSerialPort) Read(p []byte) (n int, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.ReadCalls++

	if t.Closed {
		return 0, ErrPortClosed
	}

	if t.ReadError != nil {
		err := t.ReadError
		t.ReadError = nil
		return 0, err
	}

	if t.ReadLatency > 0 {
		t.mu.Unlock()
		time.Sleep(t.ReadLatency)
		t.mu.Lock()
	}

	// If blocking reads are enabled and buffer is empty, wait for data
	if t.BlockReads && t.ReadBuffer.Len() == 0 {
		for !t.Closed && t.ReadBuffer.Len() == 0 {
			t.readCond.Wait()
		}
		if t.Closed {
			return 0, ErrPortClosed
		}
	}

	if t.ReadBuffer.Len() == 0 {
		if t.EOFWhenDrained {
			return 0, io.EOF
		}
		return 0, nil
	}
	return t.ReadBuffer.Read(p)
}

// Close marks the port as closed.
func (t *TestableSerialPort) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.Closed = true
	t.readCond.Broadcast() // Wake up any blocked readers

	return t.CloseError
}

// SetReadTimeout implements TimeoutSerialPorter.
func (t *TestableSerialPort) SetReadTimeout(timeout time.Duration) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.ReadTimeout = timeout
	return nil
}

// AddReadData adds data to be returned by subsequent Read calls.
func (t *TestableSerialPort) AddReadData(data []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.ReadBuffer.Write(data)
	t.readCond.Signal() // Wake up a blocked reader
}

// IsClosed reports whether Close was called.
func (t *TestableSerialPort) IsClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.Closed
}

// MockSerialPortFactory implements SerialPortFactory for testing.
type MockSerialPortFactory struct {
	mu sync.Mutex

	// Port is the port to return from Open
	Port SerialPorter

	// Error is returned by Open if set
	Error error

	// OpenCalls records all Open calls
	OpenCalls []MockOpenCall
}

// MockOpenCall records details of an Open call.
type MockOpenCall struct {
	Path    string
	Options PortOptions
}

// NewMockSerialPortFactory creates a new MockSerialPortFactory.
func NewMockSerialPortFactory(port SerialPorter) *MockSerialPortFactory {
	return &MockSerialPortFactory{Port: port}
}

// Open returns the configured port or error.
func (f *MockSerialPortFactory) Open(path string, opts PortOptions) (SerialPorter, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.OpenCalls = append(f.OpenCalls, MockOpenCall{
		Path:    path,
		Options: opts,
	})

	if f.Error != nil {
		return nil, f.Error
	}

	return f.Port, nil
}

// LastCall returns the most recent Open call, or nil if none.
func (f *MockSerialPortFactory) LastCall() *MockOpenCall {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.OpenCalls) == 0 {
		return nil
	}
	return &f.OpenCalls[len(f.OpenCalls)-1]
}
