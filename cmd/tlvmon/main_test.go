package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"

	"github.com/banshee-data/tlv-telemetry/internal/api"
	"github.com/banshee-data/tlv-telemetry/internal/config"
	"github.com/banshee-data/tlv-telemetry/internal/fsutil"
	"github.com/banshee-data/tlv-telemetry/internal/serialmux"
	"github.com/banshee-data/tlv-telemetry/internal/telemetry"
	"github.com/banshee-data/tlv-telemetry/internal/testutil"
	"github.com/banshee-data/tlv-telemetry/internal/version"
)

// runApp runs the CLI with args and returns what it wrote and the exit code
// it asked for.
func runApp(t *testing.T, args ...string) (stdout, stderr string, code int) {
	t.Helper()
	prev := osExit
	osExit = func(c int) { code = c }
	t.Cleanup(func() { osExit = prev })

	var out, errOut bytes.Buffer
	app := newApp()
	app.Writer = &out
	app.ErrWriter = &errOut
	app.Run(append([]string{"tlvmon"}, args...))
	return out.String(), errOut.String(), code
}

func usePortFactory(t *testing.T, f serialmux.SerialPortFactory) {
	t.Helper()
	prev := portFactory
	portFactory = f
	t.Cleanup(func() { portFactory = prev })
}

func useMemoryFileSystem(t *testing.T) *fsutil.MemoryFileSystem {
	t.Helper()
	mfs := fsutil.NewMemoryFileSystem()
	prev := fileSystem
	fileSystem = mfs
	t.Cleanup(func() { fileSystem = prev })
	return mfs
}

// seqFactory hands out ports in order.
type seqFactory struct {
	mu    sync.Mutex
	ports []serialmux.SerialPorter
	opens int
}

func (f *seqFactory) Open(path string, opts serialmux.PortOptions) (serialmux.SerialPorter, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.opens >= len(f.ports) {
		return nil, errors.New("no such device")
	}
	p := f.ports[f.opens]
	f.opens++
	return p, nil
}

func row(name, value string) string {
	return fmt.Sprintf("%-20s: %8s", name, value)
}

func TestVersionCommand(t *testing.T) {
	out, _, code := runApp(t, "version")
	assert.Equal(t, 0, code)
	assert.Equal(t, version.String()+"\n", out)
}

func TestChannelsCommand(t *testing.T) {
	t.Run("table", func(t *testing.T) {
		out, _, code := runApp(t, "channels")
		require.Equal(t, 0, code)
		lines := strings.Split(strings.TrimSpace(out), "\n")
		require.Len(t, lines, len(telemetry.DefaultChannels)+1)
		assert.Equal(t, []string{"TYPE", "NAME", "ENCODING"}, strings.Fields(lines[0]))
		assert.Equal(t, []string{"0x01", "RPM", "u16"}, strings.Fields(lines[1]))
		assert.Equal(t, []string{"0x07", "Steering", "Angle", "i16"}, strings.Fields(lines[7]))
	})

	t.Run("json", func(t *testing.T) {
		out, _, code := runApp(t, "channels", "--format", "json")
		require.Equal(t, 0, code)
		var got []telemetry.Channel
		require.NoError(t, json.Unmarshal([]byte(out), &got))
		if diff := cmp.Diff(telemetry.DefaultChannels, got); diff != "" {
			t.Errorf("channels mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("yaml", func(t *testing.T) {
		out, _, code := runApp(t, "channels", "--format", "yaml")
		require.Equal(t, 0, code)
		assert.Contains(t, out, "channels:")
		assert.Contains(t, out, "name: Gear Position")
		assert.Contains(t, out, "encoding: u8")
	})

	t.Run("from config", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "tlvmon.toml")
		require.NoError(t, os.WriteFile(path, []byte(`
[[channels]]
type = 32
name = "Coolant Temp"
encoding = "i16"
`), 0o644))
		out, _, code := runApp(t, "channels", "--config", path)
		require.Equal(t, 0, code)
		assert.Contains(t, out, "0x20")
		assert.Contains(t, out, "Coolant Temp")
		assert.NotContains(t, out, "RPM")
	})

	t.Run("unknown format", func(t *testing.T) {
		_, errOut, code := runApp(t, "channels", "--format", "xml")
		assert.Equal(t, 1, code)
		assert.Contains(t, errOut, `unknown format "xml"`)
	})
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tlvmon.yaml")
	require.NoError(t, os.WriteFile(path, []byte("port: /dev/ttyACM0\nbaud_rate: 9600\nlisten: ':9000'\n"), 0o644))

	run := func(args ...string) (*config.Config, error) {
		var cfg *config.Config
		var err error
		app := &cli.App{
			Commands: []*cli.Command{{
				Name:  "load",
				Flags: append(pipelineFlags(), serialFlags()...),
				Action: func(c *cli.Context) error {
					cfg, err = loadConfig(c)
					return nil
				},
			}},
		}
		require.NoError(t, app.Run(append([]string{"tlvmon", "load"}, args...)))
		return cfg, err
	}

	t.Run("flags override file", func(t *testing.T) {
		cfg, err := run("--config", path, "--baud", "57600", "--reopen-delay", "2s", "--display", "none")
		require.NoError(t, err)
		assert.Equal(t, "/dev/ttyACM0", cfg.GetPort())
		assert.Equal(t, ":9000", cfg.GetListen())
		assert.Equal(t, 2*time.Second, cfg.GetReopenDelay())
		assert.Equal(t, config.DisplayNone, cfg.GetDisplay())
		opts, err := cfg.PortOptions()
		require.NoError(t, err)
		assert.Equal(t, 57600, opts.BaudRate)
	})

	t.Run("defaults without file", func(t *testing.T) {
		cfg, err := run()
		require.NoError(t, err)
		assert.Equal(t, config.DefaultPort, cfg.GetPort())
		assert.Equal(t, config.DisplayTerminal, cfg.GetDisplay())
		assert.Zero(t, cfg.GetReopenDelay())
	})

	t.Run("invalid flag value", func(t *testing.T) {
		_, err := run("--display", "fancy")
		assert.ErrorContains(t, err, "display must be one of")
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := run("--config", filepath.Join(t.TempDir(), "nope.yaml"))
		assert.Error(t, err)
	})
}

func TestMonitorCommand(t *testing.T) {
	port := serialmux.NewTestableSerialPort()
	port.EOFWhenDrained = true
	port.AddReadData(testutil.Concat(
		testutil.Frame(0x01, 0xB8, 0x0B),
		testutil.Frame(0x07, 0x9C, 0xFF),
	))
	factory := serialmux.NewMockSerialPortFactory(port)
	usePortFactory(t, factory)

	out, errOut, code := runApp(t, "monitor", "--port", "/dev/ttyTEST", "--baud", "9600")
	require.Equal(t, 0, code, errOut)

	assert.True(t, strings.HasPrefix(out, "Listening on /dev/ttyTEST at 9600 baud...\n"))
	assert.Contains(t, out, row("RPM", "3000"))
	assert.Contains(t, out, row("Steering Angle", "-100"))
	assert.Contains(t, out, row("Speed", telemetry.Placeholder))

	call := factory.LastCall()
	require.NotNil(t, call)
	assert.Equal(t, "/dev/ttyTEST", call.Path)
	assert.Equal(t, 9600, call.Options.BaudRate)
	assert.True(t, port.IsClosed())
}

func TestMonitorCommandShowsAnomalies(t *testing.T) {
	port := serialmux.NewTestableSerialPort()
	port.EOFWhenDrained = true
	port.AddReadData([]byte{0xFE, 0x01, 0x99, 0x06, 0x01, 0x05})
	usePortFactory(t, serialmux.NewMockSerialPortFactory(port))

	out, errOut, code := runApp(t, "monitor")
	require.Equal(t, 0, code, errOut)

	frames := strings.Split(out, "\033[H\033[2J")
	last := frames[len(frames)-1]
	assert.True(t, strings.HasPrefix(last, "Listening on /dev/ttyS0 at 115200 baud...\n\nCurrent Values:\n"), last)
	assert.Contains(t, last, row("Status Flags", "5"))
	assert.Contains(t, last, "Unknown records: 1, decode failures: 0\n")
	assert.Contains(t, last, "Unknown Type FE, Length 1, Raw: 99\n")
}

func TestMonitorCommandReopensAfterReadError(t *testing.T) {
	first := serialmux.NewTestableSerialPort()
	first.ReadError = errors.New("device unplugged")
	second := serialmux.NewTestableSerialPort()
	second.EOFWhenDrained = true
	second.AddReadData(testutil.Frame(0x01, 0xE8, 0x03))
	factory := &seqFactory{ports: []serialmux.SerialPorter{first, second}}
	usePortFactory(t, factory)

	out, errOut, code := runApp(t, "monitor", "--port", "/dev/ttyTEST", "--reopen-delay", "1ms")
	require.Equal(t, 0, code, errOut)
	assert.Contains(t, out, row("RPM", "1000"))
	assert.Equal(t, 2, factory.opens)
	assert.True(t, first.IsClosed())
	assert.True(t, second.IsClosed())
}

func TestMonitorCommandFailures(t *testing.T) {
	t.Run("read error without reopen", func(t *testing.T) {
		port := serialmux.NewTestableSerialPort()
		port.ReadError = errors.New("device unplugged")
		usePortFactory(t, serialmux.NewMockSerialPortFactory(port))

		_, errOut, code := runApp(t, "monitor", "--display", "none")
		assert.Equal(t, 1, code)
		assert.Contains(t, errOut, "device unplugged")
	})

	t.Run("open error", func(t *testing.T) {
		factory := serialmux.NewMockSerialPortFactory(nil)
		factory.Error = errors.New("permission denied")
		usePortFactory(t, factory)

		_, errOut, code := runApp(t, "monitor", "--port", "/dev/ttyNOPE", "--display", "none")
		assert.Equal(t, 1, code)
		assert.Contains(t, errOut, "failed to open serial port /dev/ttyNOPE: permission denied")
	})

	t.Run("bad baud", func(t *testing.T) {
		usePortFactory(t, serialmux.NewMockSerialPortFactory(serialmux.NewTestableSerialPort()))
		_, _, code := runApp(t, "monitor", "--baud", "12345")
		assert.Equal(t, 1, code)
	})
}

func TestReplayCommand(t *testing.T) {
	capture := testutil.Concat(
		testutil.Frame(0x01, 0xB8, 0x0B),
		testutil.Frame(0x0A, 0x03),
		testutil.Frame(0x7F, 0x00),
		testutil.Frame(0x05, 0x50, 0x00),
	)
	path := filepath.Join(t.TempDir(), "capture.bin")
	require.NoError(t, os.WriteFile(path, capture, 0o644))

	out, errOut, code := runApp(t, "replay", "--file", path, "--chunk-size", "3", "--interval", "1ms")
	require.Equal(t, 0, code, errOut)
	assert.Contains(t, out, row("RPM", "3000"))
	assert.Contains(t, out, row("Gear Position", "3"))
	assert.Contains(t, out, row("Speed", "80"))
	assert.NotContains(t, out, "Listening on")
}

func TestReplayCommandNeedsOneSource(t *testing.T) {
	for _, args := range [][]string{
		{"replay"},
		{"replay", "--synthetic", "--file", "capture.bin"},
	} {
		_, errOut, code := runApp(t, args...)
		assert.Equal(t, 1, code)
		assert.Contains(t, errOut, "exactly one of --file or --synthetic")
	}
}

func TestSnapshotCommand(t *testing.T) {
	reg := telemetry.DefaultRegistry()
	store := telemetry.NewStore(reg)
	rpm, ok := reg.Lookup(0x01)
	require.True(t, ok)
	_, err := store.RecordValue(rpm, []byte{0xB8, 0x0B})
	require.NoError(t, err)

	srv := httptest.NewServer(api.NewServer(store, api.WithSource("/dev/ttyS0")).ServeMux())
	defer srv.Close()

	t.Run("table", func(t *testing.T) {
		out, errOut, code := runApp(t, "snapshot", "--from", srv.URL)
		require.Equal(t, 0, code, errOut)
		assert.True(t, strings.HasPrefix(out, "Current Values:\n"))
		assert.Contains(t, out, row("RPM", "3000"))
		assert.Contains(t, out, row("Fuel Level", telemetry.Placeholder))
	})

	t.Run("json", func(t *testing.T) {
		out, errOut, code := runApp(t, "snapshot", "--from", srv.URL, "--format", "json")
		require.Equal(t, 0, code, errOut)
		var resp api.SnapshotResponse
		require.NoError(t, json.Unmarshal([]byte(out), &resp))
		assert.Equal(t, "/dev/ttyS0", resp.Source)
		r, ok := resp.Readings.Get("RPM")
		require.True(t, ok)
		assert.True(t, r.Valid)
		assert.EqualValues(t, 3000, r.Value)
	})

	t.Run("unreachable", func(t *testing.T) {
		_, errOut, code := runApp(t, "snapshot", "--from", "127.0.0.1:1")
		assert.Equal(t, 1, code)
		assert.Contains(t, errOut, "failed to fetch snapshot")
	})
}

func TestMonitorCommandRecordsAndLogs(t *testing.T) {
	mfs := useMemoryFileSystem(t)
	stream := testutil.Concat(
		testutil.Frame(0x03, 0x2C, 0x01),
		testutil.Frame(0xFE, 0x99),
		testutil.Frame(0x06, 0x05),
	)
	port := serialmux.NewTestableSerialPort()
	port.EOFWhenDrained = true
	port.AddReadData(stream)
	usePortFactory(t, serialmux.NewMockSerialPortFactory(port))

	_, errOut, code := runApp(t, "monitor",
		"--display", "none",
		"--record", "/captures/drive.bin",
		"--log-file", "/var/log/tlvmon.log",
		"--log-format", "json",
	)
	require.Equal(t, 0, code, errOut)
	assert.Empty(t, errOut, "logs go to the log file")

	capture, err := mfs.ReadFile("/captures/drive.bin")
	require.NoError(t, err)
	assert.Equal(t, stream, capture)

	logs, err := mfs.ReadFile("/var/log/tlvmon.log")
	require.NoError(t, err)
	assert.Contains(t, string(logs), `"message":"Unknown Type FE, Length 1, Raw: 99"`)
	assert.Contains(t, string(logs), `"message":"source ended"`)

	// The capture replays to the same values.
	out, errOut, code := runApp(t, "replay", "--file", "/captures/drive.bin", "--interval", "1ms")
	require.Equal(t, 0, code, errOut)
	assert.Contains(t, out, row("Oil Pressure", "300"))
	assert.Contains(t, out, row("Status Flags", "5"))
}
