package testutil

import (
	"net/http"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestAssertHelpers(t *testing.T) {
	t.Parallel()

	AssertStatusCode(t, http.StatusOK, http.StatusOK)
	AssertNoError(t, nil)
}

func TestNewTestRequest(t *testing.T) {
	t.Parallel()

	req := NewTestRequest(http.MethodGet, "/api/snapshot")
	if req.Method != http.MethodGet {
		t.Errorf("method = %s, want GET", req.Method)
	}
	if req.URL.Path != "/api/snapshot" {
		t.Errorf("path = %s, want /api/snapshot", req.URL.Path)
	}
}

func TestNewLoopbackRequest(t *testing.T) {
	t.Parallel()

	req := NewLoopbackRequest(http.MethodGet, "/debug/serial")
	if req.RemoteAddr != "127.0.0.1:12345" {
		t.Errorf("remote addr = %s, want 127.0.0.1:12345", req.RemoteAddr)
	}
}

func TestNewTestRecorder(t *testing.T) {
	t.Parallel()

	rec := NewTestRecorder()
	if rec.Code != http.StatusOK {
		t.Errorf("initial code = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestFrame(t *testing.T) {
	t.Parallel()

	if diff := cmp.Diff([]byte{0x01, 0x02, 0x34, 0x12}, Frame(0x01, 0x34, 0x12)); diff != "" {
		t.Errorf("Frame mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]byte{0x0B, 0x00}, Frame(0x0B)); diff != "" {
		t.Errorf("empty Frame mismatch (-want +got):\n%s", diff)
	}
}

func TestConcatAndChunks(t *testing.T) {
	t.Parallel()

	stream := Concat(Frame(0x0A, 0x03), Frame(0xFE, 0x99))
	want := []byte{0x0A, 0x01, 0x03, 0xFE, 0x01, 0x99}
	if diff := cmp.Diff(want, stream); diff != "" {
		t.Errorf("Concat mismatch (-want +got):\n%s", diff)
	}

	got := Chunks(stream, 1, 3)
	wantChunks := [][]byte{{0x0A}, {0x01, 0x03, 0xFE}, {0x01, 0x99}}
	if diff := cmp.Diff(wantChunks, got); diff != "" {
		t.Errorf("Chunks mismatch (-want +got):\n%s", diff)
	}

	if got := Chunks(stream, 10, 10); len(got) != 1 {
		t.Errorf("Chunks past end = %d chunks, want 1", len(got))
	}
}
