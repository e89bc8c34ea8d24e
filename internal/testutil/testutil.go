// Package testutil provides shared test utilities and fixtures.
package testutil

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

// AssertStatusCode checks that the response status code matches expected.
func AssertStatusCode(t *testing.T, got, want int) {
	t.Helper()
	if got != want {
		t.Errorf("status code = %d, want %d", got, want)
	}
}

// AssertNoError fails the test if err is not nil.
func AssertNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// NewTestRequest creates a test HTTP request.
func NewTestRequest(method, path string) *http.Request {
	return httptest.NewRequest(method, path, nil)
}

// NewLoopbackRequest creates a test HTTP request from 127.0.0.1, which the
// /debug/ handlers require.
func NewLoopbackRequest(method, path string) *http.Request {
	req := httptest.NewRequest(method, path, nil)
	req.RemoteAddr = "127.0.0.1:12345"
	return req
}

// NewTestRecorder creates a test response recorder.
func NewTestRecorder() *httptest.ResponseRecorder {
	return httptest.NewRecorder()
}

// Frame builds one wire record by hand, with the length byte taken from
// len(value). It deliberately bypasses the encoder so tests can state the
// exact bytes on the wire.
func Frame(typ byte, value ...byte) []byte {
	out := make([]byte, 0, 2+len(value))
	out = append(out, typ, byte(len(value)))
	return append(out, value...)
}

// Concat joins byte slices into one stream.
func Concat(parts ...[]byte) []byte {
	var n int
	for _, p := range parts {
		n += len(p)
	}
	out := make([]byte, 0, n)
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

// Chunks splits data into consecutive pieces of the given sizes. Any
// remainder becomes a final chunk; sizes past the end yield nothing.
func Chunks(data []byte, sizes ...int) [][]byte {
	var out [][]byte
	for _, n := range sizes {
		if len(data) == 0 {
			break
		}
		n = min(n, len(data))
		out = append(out, data[:n])
		data = data[n:]
	}
	if len(data) > 0 {
		out = append(out, data)
	}
	return out
}
