package monitoring

import (
	"bytes"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestSetLogger(t *testing.T) {
	original := Logf
	defer func() { Logf = original }()

	var got string
	SetLogger(func(format string, v ...interface{}) {
		got = fmt.Sprintf(format, v...)
	})
	Logf("read %d bytes", 64)
	assert.Equal(t, "read 64 bytes", got)

	// nil installs a no-op
	SetLogger(nil)
	assert.NotPanics(t, func() { Logf("test message") })
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    zapcore.Level
		wantErr bool
	}{
		{"", zapcore.InfoLevel, false},
		{"debug", zapcore.DebugLevel, false},
		{"WARN", zapcore.WarnLevel, false},
		{"error", zapcore.ErrorLevel, false},
		{"chatty", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNewLogger_JSON(t *testing.T) {
	var buf bytes.Buffer
	l, err := NewLogger(Options{Level: "warn", Format: "json", Output: &buf})
	require.NoError(t, err)

	l.Info("dropped")
	l.Warn("decode failure", zap.String("channel", "RPM"))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "warn", entry["level"])
	assert.Equal(t, "decode failure", entry["message"])
	assert.Equal(t, "RPM", entry["channel"])
	assert.Contains(t, entry, "timestamp")
}

func TestNewLogger_Console(t *testing.T) {
	var buf bytes.Buffer
	l, err := NewLogger(Options{Output: &buf})
	require.NoError(t, err)

	l.Debug("hidden")
	l.Info("Listening on /dev/ttyS0")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "info")
	assert.Contains(t, buf.String(), "Listening on /dev/ttyS0")
}

func TestNewLogger_InvalidOptions(t *testing.T) {
	_, err := NewLogger(Options{Format: "xml"})
	assert.ErrorContains(t, err, "invalid log format")

	_, err = NewLogger(Options{Level: "loud"})
	assert.ErrorContains(t, err, "invalid log level")
}

func TestInstall(t *testing.T) {
	var buf bytes.Buffer
	l, err := NewLogger(Options{Format: "json", Output: &buf})
	require.NoError(t, err)

	restore := Install(l)
	Logf("opened %s", "/dev/ttyUSB0")
	zap.L().Info("global")
	restore()

	assert.Contains(t, buf.String(), "opened /dev/ttyUSB0")
	assert.Contains(t, buf.String(), "global")

	buf.Reset()
	zap.L().Info("after restore")
	assert.Empty(t, buf.String())
}
