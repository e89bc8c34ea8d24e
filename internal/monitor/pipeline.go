// Package monitor runs the decode loop: each chunk read from the byte source
// is ingested, every complete record is resolved and applied to the store,
// and the resulting snapshot is handed to the display sinks.
package monitor

import (
	"context"
	"io"
	"net/http"
	"sync/atomic"

	"go.uber.org/zap"
	"tailscale.com/tsweb"

	"github.com/banshee-data/tlv-telemetry/internal/httputil"
	"github.com/banshee-data/tlv-telemetry/internal/telemetry"
	"github.com/banshee-data/tlv-telemetry/internal/tlv"
)

// Sink displays the current values after every processed chunk.
type Sink interface {
	Render(telemetry.Snapshot) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(telemetry.Snapshot) error

// Render calls f.
func (f SinkFunc) Render(s telemetry.Snapshot) error { return f(s) }

// ChunkSource delivers raw chunks in arrival order until it ends.
type ChunkSource interface {
	Monitor(ctx context.Context, handle func([]byte)) error
}

// Result counts what one call to Process did.
type Result struct {
	Records  int
	Updates  int
	Unknown  int
	Failures int
	// Buffered is the number of bytes left waiting for the rest of a record.
	Buffered int
}

// Stats are the pipeline's running totals.
type Stats struct {
	Bytes    uint64 `json:"bytes"`
	Chunks   uint64 `json:"chunks"`
	Records  uint64 `json:"records"`
	Updates  uint64 `json:"updates"`
	Unknown  uint64 `json:"unknown"`
	Failures uint64 `json:"failures"`
	Renders  uint64 `json:"renders"`
	Buffered int64  `json:"buffered"`
	State    string `json:"state"`
}

// Pipeline owns the decoder. Process and Run must be called from one
// goroutine at a time; Stats is safe to call from anywhere.
type Pipeline struct {
	dec    *tlv.Decoder
	store  *telemetry.Store
	sinks  []Sink
	hooks  []func(tlv.Event)
	logger *zap.Logger

	// recorder receives every chunk before decoding. It is dropped after
	// the first write error.
	recorder io.Writer

	bytes    atomic.Uint64
	chunks   atomic.Uint64
	records  atomic.Uint64
	updates  atomic.Uint64
	unknown  atomic.Uint64
	failures atomic.Uint64
	renders  atomic.Uint64
	buffered atomic.Int64
	state    atomic.Uint32
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithSink adds a display sink. Sinks render in the order added.
func WithSink(s Sink) Option {
	return func(p *Pipeline) { p.sinks = append(p.sinks, s) }
}

// WithEventHook adds a function called with every resolved event, after
// value updates have been applied to the store.
func WithEventHook(fn func(tlv.Event)) Option {
	return func(p *Pipeline) { p.hooks = append(p.hooks, fn) }
}

// WithRecorder copies every raw chunk to w before it is decoded, producing
// a capture that replays byte for byte.
func WithRecorder(w io.Writer) Option {
	return func(p *Pipeline) { p.recorder = w }
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.logger = l
		}
	}
}

// NewPipeline returns a pipeline decoding with dec into store.
func NewPipeline(dec *tlv.Decoder, store *telemetry.Store, opts ...Option) *Pipeline {
	p := &Pipeline{
		dec:    dec,
		store:  store,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.state.Store(uint32(dec.State()))
	return p
}

// Process handles one chunk. An empty chunk does nothing.
func (p *Pipeline) Process(chunk []byte) Result {
	var res Result
	if len(chunk) == 0 {
		return res
	}
	p.bytes.Add(uint64(len(chunk)))
	p.chunks.Add(1)

	if p.recorder != nil {
		if _, err := p.recorder.Write(chunk); err != nil {
			p.logger.Error("capture write failed, recording stopped", zap.Error(err))
			p.recorder = nil
		}
	}

	p.dec.Ingest(chunk)
	for ev := range p.dec.Events() {
		res.Records++
		p.apply(ev, &res)
		for _, hook := range p.hooks {
			hook(ev)
		}
	}
	res.Buffered = p.dec.Buffered()

	p.records.Add(uint64(res.Records))
	p.updates.Add(uint64(res.Updates))
	p.unknown.Add(uint64(res.Unknown))
	p.failures.Add(uint64(res.Failures))
	p.buffered.Store(int64(res.Buffered))
	p.state.Store(uint32(p.dec.State()))

	p.render()
	return res
}

func (p *Pipeline) apply(ev tlv.Event, res *Result) {
	switch ev.Kind {
	case tlv.EventValueUpdate:
		if _, err := p.store.RecordValue(ev.Channel, ev.Record.Value); err != nil {
			// The decoder and the store were built from different registries.
			res.Failures++
			p.logger.Warn("store rejected value",
				zap.String("channel", ev.Channel.Name),
				zap.Error(err))
			return
		}
		res.Updates++
		p.logger.Debug("value update",
			zap.String("channel", ev.Channel.Name),
			zap.Int32("value", ev.Value))
	case tlv.EventUnknownRecord:
		res.Unknown++
		p.logger.Info(ev.String(),
			zap.Uint8("type", uint8(ev.Record.Type)),
			zap.Uint8("length", ev.Record.Length),
			zap.Binary("raw", ev.Record.Value))
	case tlv.EventDecodeFailure:
		res.Failures++
		p.logger.Warn("decode failure",
			zap.String("channel", ev.Channel.Name),
			zap.Uint8("length", ev.Record.Length),
			zap.Error(ev.Err))
	}
}

func (p *Pipeline) render() {
	if len(p.sinks) == 0 {
		return
	}
	snap := p.store.Snapshot()
	for _, s := range p.sinks {
		if err := s.Render(snap); err != nil {
			p.logger.Error("render failed", zap.Error(err))
		}
	}
	p.renders.Add(1)
}

// Run processes chunks from src until it ends, returning its error.
func (p *Pipeline) Run(ctx context.Context, src ChunkSource) error {
	return src.Monitor(ctx, func(chunk []byte) {
		p.Process(chunk)
	})
}

// Reset discards any partial record. Use it when the source is reopened,
// since bytes buffered from the old connection cannot continue a record on
// the new one.
func (p *Pipeline) Reset() {
	p.dec.Reset()
	p.buffered.Store(0)
	p.state.Store(uint32(p.dec.State()))
}

// Stats returns the running totals.
func (p *Pipeline) Stats() Stats {
	return Stats{
		Bytes:    p.bytes.Load(),
		Chunks:   p.chunks.Load(),
		Records:  p.records.Load(),
		Updates:  p.updates.Load(),
		Unknown:  p.unknown.Load(),
		Failures: p.failures.Load(),
		Renders:  p.renders.Load(),
		Buffered: p.buffered.Load(),
		State:    tlv.State(p.state.Load()).String(),
	}
}

// AttachAdminRoutes registers the decoder's debugging endpoints on debug.
func (p *Pipeline) AttachAdminRoutes(debug *tsweb.DebugHandler) {
	debug.KVFunc("Records decoded", func() any { return p.records.Load() })
	debug.KVFunc("Unknown records", func() any { return p.unknown.Load() })
	debug.KVFunc("Decode failures", func() any { return p.failures.Load() })

	debug.HandleFunc("decoder", "decoder statistics", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			httputil.MethodNotAllowed(w)
			return
		}
		httputil.WriteJSONOK(w, p.Stats())
	})
}
