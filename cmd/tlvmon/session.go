package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"tailscale.com/tsweb"

	"github.com/banshee-data/tlv-telemetry/internal/api"
	"github.com/banshee-data/tlv-telemetry/internal/config"
	"github.com/banshee-data/tlv-telemetry/internal/display"
	"github.com/banshee-data/tlv-telemetry/internal/fsutil"
	"github.com/banshee-data/tlv-telemetry/internal/monitor"
	"github.com/banshee-data/tlv-telemetry/internal/monitoring"
	"github.com/banshee-data/tlv-telemetry/internal/publish"
	"github.com/banshee-data/tlv-telemetry/internal/serialmux"
	"github.com/banshee-data/tlv-telemetry/internal/telemetry"
	"github.com/banshee-data/tlv-telemetry/internal/tlv"
)

// fileSystem backs config, capture and log file access.
var fileSystem fsutil.FileSystem = fsutil.OSFileSystem{}

// shutdownTimeout bounds how long the HTTP server gets to drain.
const shutdownTimeout = 1 * time.Second

// source is a byte stream the pipeline can run against.
type source interface {
	monitor.ChunkSource
	Name() string
	AttachAdminRoutes(*tsweb.DebugHandler)
}

// session runs one decode pipeline against a source until the source ends
// or ctx is cancelled.
type session struct {
	cfg    *config.Config
	logger *zap.Logger
	out    io.Writer

	// record names a file receiving a copy of the raw bytes read.
	record string

	// port and baud are shown in the terminal banner when port is set.
	port string
	baud int

	// reopen replaces the source's port after a read error. Nil means read
	// errors end the session.
	reopen      func() error
	reopenDelay time.Duration
}

// setupLogging builds the logger described by cfg and installs it as the
// process logger. Interactive displays own stdout and stderr, so logs go to
// the log file or nowhere while one is active.
func setupLogging(cfg *config.Config, stderr io.Writer) (*zap.Logger, func(), error) {
	out := stderr
	var file io.WriteCloser
	if path := cfg.GetLogFile(); path != "" {
		f, err := fileSystem.Append(path)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		file = f
		out = f
	} else if cfg.GetDisplay() != config.DisplayNone {
		out = io.Discard
	}

	logger, err := monitoring.NewLogger(monitoring.Options{
		Level:  cfg.GetLogLevel(),
		Format: cfg.GetLogFormat(),
		Output: out,
	})
	if err != nil {
		if file != nil {
			file.Close()
		}
		return nil, nil, err
	}
	restore := monitoring.Install(logger)
	return logger, func() {
		logger.Sync()
		restore()
		if file != nil {
			file.Close()
		}
	}, nil
}

func (s *session) run(ctx context.Context, src source) error {
	reg, err := s.cfg.Registry()
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	store := telemetry.NewStore(reg)
	opts := []monitor.Option{monitor.WithLogger(s.logger)}

	var tui *display.TUI
	switch s.cfg.GetDisplay() {
	case config.DisplayTerminal:
		term := display.NewTerminal(s.out)
		if s.port != "" {
			if err := term.Banner(s.port, s.baud); err != nil {
				return err
			}
		}
		opts = append(opts, monitor.WithSink(term), monitor.WithEventHook(term.HandleEvent))
	case config.DisplayTUI:
		tui = display.NewTUI(src.Name(), store.Snapshot(), tea.WithOutput(s.out))
		opts = append(opts, monitor.WithSink(tui), monitor.WithEventHook(tui.HandleEvent))
	}

	if s.record != "" {
		w, err := fileSystem.Create(s.record)
		if err != nil {
			return cli.Exit(fmt.Sprintf("failed to create capture file: %v", err), 1)
		}
		defer w.Close()
		opts = append(opts, monitor.WithRecorder(w))
	}

	if broker := s.cfg.GetMQTTBroker(); broker != "" {
		pub, client, err := publish.Dial(broker, s.cfg.GetMQTTClientID(), publish.WithLogger(s.logger))
		if err != nil {
			return cli.Exit(fmt.Sprintf("failed to connect to MQTT broker: %v", err), 1)
		}
		defer client.Disconnect(250)
		opts = append(opts, monitor.WithEventHook(pub.HandleEvent))
	}

	pipeline := monitor.NewPipeline(tlv.NewDecoder(reg), store, opts...)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	var wg sync.WaitGroup

	if addr := s.cfg.GetListen(); addr != "" {
		server, ln, err := s.newHTTPServer(addr, store, pipeline, src)
		if err != nil {
			return cli.Exit(fmt.Sprintf("failed to listen on %s: %v", addr, err), 1)
		}
		s.logger.Info("serving HTTP", zap.String("addr", ln.Addr().String()))

		wg.Add(2)
		go func() {
			defer wg.Done()
			if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.logger.Error("HTTP server failed", zap.Error(err))
			}
		}()
		go func() {
			defer wg.Done()
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				s.logger.Warn("HTTP server shutdown error", zap.Error(err))
				server.Close()
			}
			s.logger.Debug("HTTP server stopped")
		}()
	}

	s.logger.Info("monitoring", zap.String("source", src.Name()))

	var runErr error
	if tui == nil {
		runErr = s.loop(ctx, pipeline, src)
	} else {
		wg.Add(1)
		go func() {
			defer wg.Done()
			runErr = s.loop(ctx, pipeline, src)
			tui.SourceEnded(runErr)
		}()
		if err := tui.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
			s.logger.Error("display failed", zap.Error(err))
		}
	}
	cancel()
	wg.Wait()

	stats := pipeline.Stats()
	s.logger.Info("stopped",
		zap.Uint64("bytes", stats.Bytes),
		zap.Uint64("records", stats.Records),
		zap.Uint64("unknown", stats.Unknown),
		zap.Uint64("failures", stats.Failures))
	if runErr != nil {
		return cli.Exit(runErr.Error(), 1)
	}
	return nil
}

// loop runs the pipeline, reopening the source after read errors when a
// reopen function is configured.
func (s *session) loop(ctx context.Context, pipeline *monitor.Pipeline, src source) error {
	for {
		err := pipeline.Run(ctx, src)
		if ctx.Err() != nil {
			return nil
		}
		if err == nil {
			s.logger.Info("source ended", zap.String("source", src.Name()))
			return nil
		}
		if s.reopen == nil || s.reopenDelay <= 0 {
			return err
		}
		s.logger.Warn("read failed, reopening",
			zap.Error(err),
			zap.Duration("delay", s.reopenDelay))
		pipeline.Reset()
		if !s.waitReopen(ctx) {
			return nil
		}
	}
}

// waitReopen retries reopen every reopenDelay until it succeeds or ctx is
// done, reporting whether the source is open again.
func (s *session) waitReopen(ctx context.Context) bool {
	t := time.NewTimer(s.reopenDelay)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return false
		case <-t.C:
		}
		err := s.reopen()
		if err == nil {
			s.logger.Info("reopened", zap.String("port", s.port))
			return true
		}
		if errors.Is(err, serialmux.ErrPortClosed) {
			return false
		}
		s.logger.Warn("reopen failed", zap.Error(err))
		t.Reset(s.reopenDelay)
	}
}

func (s *session) newHTTPServer(addr string, store *telemetry.Store, pipeline *monitor.Pipeline, src source) (*http.Server, net.Listener, error) {
	mux := api.NewServer(store,
		api.WithSource(src.Name()),
		api.WithStats(pipeline),
	).ServeMux()

	debug := tsweb.Debugger(mux)
	src.AttachAdminRoutes(debug)
	pipeline.AttachAdminRoutes(debug)

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, nil, err
	}
	server := &http.Server{
		Handler:           api.LoggingMiddleware(s.logger, mux),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return server, ln, nil
}
