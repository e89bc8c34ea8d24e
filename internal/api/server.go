// Package api serves the current values over HTTP, read-only, as JSON or
// MessagePack.
package api

import (
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/banshee-data/tlv-telemetry/internal/httputil"
	"github.com/banshee-data/tlv-telemetry/internal/monitor"
	"github.com/banshee-data/tlv-telemetry/internal/telemetry"
	"github.com/banshee-data/tlv-telemetry/internal/timeutil"
	"github.com/banshee-data/tlv-telemetry/internal/version"
)

// StatsSource reports decode statistics.
type StatsSource interface {
	Stats() monitor.Stats
}

// SnapshotResponse is the body of /api/snapshot.
type SnapshotResponse struct {
	Source   string             `json:"source" msgpack:"source"`
	Time     time.Time          `json:"time" msgpack:"time"`
	Readings telemetry.Snapshot `json:"readings" msgpack:"readings"`
}

// VersionResponse is the body of /api/version.
type VersionResponse struct {
	Version   string `json:"version" msgpack:"version"`
	GitSHA    string `json:"git_sha" msgpack:"git_sha"`
	BuildTime string `json:"build_time" msgpack:"build_time"`
}

type Server struct {
	store  *telemetry.Store
	source string
	stats  StatsSource
	clock  timeutil.Clock
}

// Option configures a Server.
type Option func(*Server)

// WithSource names the byte source in snapshot responses.
func WithSource(name string) Option {
	return func(s *Server) { s.source = name }
}

// WithStats enables /api/stats.
func WithStats(src StatsSource) Option {
	return func(s *Server) { s.stats = src }
}

// WithClock sets the clock used to stamp snapshot responses.
func WithClock(c timeutil.Clock) Option {
	return func(s *Server) { s.clock = c }
}

func NewServer(store *telemetry.Store, opts ...Option) *Server {
	s := &Server{store: store, clock: timeutil.RealClock{}}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// LoggingMiddleware logs method, path, status, and duration at debug level.
func LoggingMiddleware(logger *zap.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		logger.Debug("http request",
			zap.String("method", r.Method),
			zap.String("uri", r.RequestURI),
			zap.Int("status", lrw.statusCode),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

// ServeMux returns the API routes.
func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/snapshot", s.showSnapshot)
	mux.HandleFunc("/api/value", s.showValue)
	mux.HandleFunc("/api/channels", s.listChannels)
	mux.HandleFunc("/api/stats", s.showStats)
	mux.HandleFunc("/api/version", s.showVersion)
	return mux
}

func (s *Server) showSnapshot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	httputil.WriteOK(w, r, SnapshotResponse{
		Source:   s.source,
		Time:     s.clock.Now().UTC(),
		Readings: s.store.Snapshot(),
	})
}

func (s *Server) showValue(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	name := r.URL.Query().Get("name")
	if name == "" {
		httputil.BadRequest(w, "missing 'name' parameter")
		return
	}
	reading, ok := s.store.Get(name)
	if !ok {
		httputil.NotFound(w, "unknown channel "+strconv.Quote(name))
		return
	}
	httputil.WriteOK(w, r, reading)
}

func (s *Server) listChannels(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	httputil.WriteOK(w, r, s.store.Registry().Channels())
}

func (s *Server) showStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if s.stats == nil {
		httputil.NotFound(w, "statistics not available")
		return
	}
	httputil.WriteOK(w, r, s.stats.Stats())
}

func (s *Server) showVersion(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	httputil.WriteOK(w, r, VersionResponse{
		Version:   version.Version,
		GitSHA:    version.GitSHA,
		BuildTime: version.BuildTime,
	})
}
