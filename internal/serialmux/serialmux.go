// Package serialmux reads the raw telemetry byte stream from a serial port
// and hands each chunk to a single consumer in arrival order, with optional
// diagnostic taps that observe the same bytes.
package serialmux

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"tailscale.com/tsweb"

	"github.com/banshee-data/tlv-telemetry/internal/httputil"
)

// ErrPortClosed is returned by ports read after Close.
var ErrPortClosed = errors.New("serial port closed")

// tapBuffer is the number of chunks a diagnostic tap may lag behind before
// chunks are dropped for it.
const tapBuffer = 16

// SerialMux owns a byte source. Monitor delivers every chunk read to one
// consumer, synchronously and in order; taps receive copies on a best-effort
// basis and may miss chunks when slow.
type SerialMux[T SerialPorter] struct {
	port     T
	portMu   sync.Mutex
	name     string
	readSize int

	taps      map[string]chan []byte
	tapsMu    sync.Mutex
	closing   bool
	closingMu sync.Mutex

	bytesRead  atomic.Uint64
	reads      atomic.Uint64
	emptyReads atomic.Uint64
	reopens    atomic.Uint64
}

// PortStats summarizes the reads performed on a port.
type PortStats struct {
	Name       string `json:"name"`
	BytesRead  uint64 `json:"bytes_read"`
	Reads      uint64 `json:"reads"`
	EmptyReads uint64 `json:"empty_reads"`
	Reopens    uint64 `json:"reopens"`
	Taps       int    `json:"taps"`
}

type muxConfig struct {
	name     string
	readSize int
}

// Option configures a SerialMux.
type Option func(*muxConfig)

// WithName sets the name reported in logs and stats, usually the device path.
func WithName(name string) Option {
	return func(c *muxConfig) { c.name = name }
}

// WithReadSize sets the maximum number of bytes requested per read.
func WithReadSize(n int) Option {
	return func(c *muxConfig) {
		if n > 0 {
			c.readSize = n
		}
	}
}

// NewSerialMux creates a SerialMux reading from port.
func NewSerialMux[T SerialPorter](port T, opts ...Option) *SerialMux[T] {
	cfg := muxConfig{name: "serial", readSize: DefaultReadSize}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &SerialMux[T]{
		port:     port,
		name:     cfg.name,
		readSize: cfg.readSize,
		taps:     make(map[string]chan []byte),
	}
}

// Name returns the configured port name.
func (s *SerialMux[T]) Name() string { return s.name }

// Subscribe creates a diagnostic tap receiving a copy of every chunk read.
// The ID identifies the tap when unsubscribing.
func (s *SerialMux[T]) Subscribe() (string, <-chan []byte) {
	id := uuid.NewString()
	ch := make(chan []byte, tapBuffer)

	s.tapsMu.Lock()
	defer s.tapsMu.Unlock()
	if s.isClosing() {
		// Already closing: hand back a closed channel so callers don't block.
		close(ch)
		return id, ch
	}
	s.taps[id] = ch
	return id, ch
}

// Unsubscribe removes a tap and closes its channel.
func (s *SerialMux[T]) Unsubscribe(id string) {
	s.tapsMu.Lock()
	defer s.tapsMu.Unlock()
	if ch, ok := s.taps[id]; ok {
		close(ch)
		delete(s.taps, id)
	}
}

func (s *SerialMux[T]) broadcast(chunk []byte) {
	s.tapsMu.Lock()
	defer s.tapsMu.Unlock()
	for _, ch := range s.taps {
		select {
		case ch <- chunk:
		default:
			// a slow tap misses chunks rather than stalling the consumer
		}
	}
}

func (s *SerialMux[T]) isClosing() bool {
	s.closingMu.Lock()
	defer s.closingMu.Unlock()
	return s.closing
}

// Monitor reads from the port until ctx is cancelled, the port reaches EOF
// or a read fails, calling handle with each non-empty chunk. handle runs on
// the calling goroutine and is never called concurrently. A nil error means
// the source ended cleanly (EOF or Close).
func (s *SerialMux[T]) Monitor(ctx context.Context, handle func([]byte)) error {
	chunks := make(chan []byte)
	readErr := make(chan error, 1)

	port := s.currentPort()

	// Reads happen on their own goroutine so that a read blocked on a quiet
	// device does not hold up cancellation.
	go func() {
		defer close(chunks)
		buf := make([]byte, s.readSize)
		for {
			n, err := port.Read(buf)
			s.reads.Add(1)
			if n > 0 {
				s.bytesRead.Add(uint64(n))
				chunk := append([]byte(nil), buf[:n]...)
				select {
				case chunks <- chunk:
				case <-ctx.Done():
					return
				}
			} else if err == nil {
				s.emptyReads.Add(1)
			}
			if err != nil {
				readErr <- err
				return
			}
			if ctx.Err() != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case chunk, ok := <-chunks:
			if !ok {
				select {
				case err := <-readErr:
					if errors.Is(err, io.EOF) || s.isClosing() {
						return nil
					}
					return fmt.Errorf("read %s: %w", s.name, err)
				default:
					return ctx.Err()
				}
			}
			handle(chunk)
			s.broadcast(chunk)
		}
	}
}

func (s *SerialMux[T]) currentPort() T {
	s.portMu.Lock()
	defer s.portMu.Unlock()
	return s.port
}

// Reopen closes the current port and replaces it with one from open. It
// must not be called while Monitor is running. Counters and taps carry over.
func (s *SerialMux[T]) Reopen(open func() (T, error)) error {
	if s.isClosing() {
		return ErrPortClosed
	}
	port, err := open()
	if err != nil {
		return fmt.Errorf("reopen %s: %w", s.name, err)
	}

	s.portMu.Lock()
	old := s.port
	s.port = port
	s.portMu.Unlock()

	s.reopens.Add(1)
	old.Close()
	return nil
}

// Stats returns the read counters.
func (s *SerialMux[T]) Stats() PortStats {
	s.tapsMu.Lock()
	taps := len(s.taps)
	s.tapsMu.Unlock()
	return PortStats{
		Name:       s.name,
		BytesRead:  s.bytesRead.Load(),
		Reads:      s.reads.Load(),
		EmptyReads: s.emptyReads.Load(),
		Reopens:    s.reopens.Load(),
		Taps:       taps,
	}
}

// Close closes all taps and the port.
func (s *SerialMux[T]) Close() error {
	s.closingMu.Lock()
	if s.closing {
		s.closingMu.Unlock()
		return nil
	}
	s.closing = true
	s.closingMu.Unlock()

	s.tapsMu.Lock()
	for id, ch := range s.taps {
		close(ch)
		delete(s.taps, id)
	}
	s.tapsMu.Unlock()
	return s.currentPort().Close()
}

// AttachAdminRoutes registers the port's debugging endpoints on debug, which
// is served under /debug/ and reachable only from localhost or over
// Tailscale.
func (s *SerialMux[T]) AttachAdminRoutes(debug *tsweb.DebugHandler) {
	debug.KVFunc("Serial port", func() any { return s.name })
	debug.KVFunc("Serial bytes read", func() any { return s.bytesRead.Load() })

	debug.HandleFunc("serial", "serial port read statistics", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			httputil.MethodNotAllowed(w)
			return
		}
		httputil.WriteJSONOK(w, s.Stats())
	})

	// Server-Sent Events stream of the raw bytes read, hex encoded per chunk.
	debug.HandleSilentFunc("tail", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no") // Disable buffering for nginx

		id, c := s.Subscribe()
		defer s.Unsubscribe(id)

		// Send initial ping to establish connection
		w.Write([]byte(": ping\n\n"))
		flusher.Flush()

		for {
			select {
			case chunk, ok := <-c:
				if !ok {
					return
				}
				if _, err := fmt.Fprintf(w, "data: %s\n\n", hex.EncodeToString(chunk)); err != nil {
					return
				}
				flusher.Flush()
			case <-r.Context().Done():
				return
			}
		}
	})
}
