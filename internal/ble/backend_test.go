package ble

import (
	"testing"
	"time"

	"github.com/chaz8081/bleprint/internal/ble/protocol"
)

func TestNewCentralUnknownBackend(t *testing.T) {
	if _, err := NewCentral("serial", BackendOptions{}); err == nil {
		t.Fatal("NewCentral(\"serial\") error = nil, want error")
	}
}

func TestBackendOptionsDefaults(t *testing.T) {
	tests := []struct {
		name      string
		chunkSize int
		want      int
	}{
		{"zero uses default", 0, protocol.DefaultChunkSize},
		{"below minimum", 5, protocol.MinChunkSize},
		{"explicit", 100, 100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := BackendOptions{ChunkSize: tt.chunkSize, ChunkDelay: time.Millisecond}.withDefaults()
			if got.ChunkSize != tt.want {
				t.Errorf("ChunkSize = %d, want %d", got.ChunkSize, tt.want)
			}
			if got.ChunkDelay != time.Millisecond {
				t.Errorf("ChunkDelay = %v, want 1ms", got.ChunkDelay)
			}
			if got.Logger == nil {
				t.Error("Logger = nil, want NullLogger")
			}
		})
	}
}

func TestConnectRequestsSupersede(t *testing.T) {
	var r connectRequests

	old := r.begin("p1")
	if !r.take("p1") {
		t.Fatal("take() = false for an outstanding request")
	}
	cur := r.begin("p1")

	// The abandoned request answers after the retry was issued.
	if r.finish("p1", old) {
		t.Error("finish(old) = true, want the superseded request ignored")
	}
	if !r.finish("p1", cur) {
		t.Error("finish(current) = false, want true")
	}
	if r.finish("p1", cur) {
		t.Error("second finish(current) = true, want false")
	}
}

func TestConnectRequestsPerPeripheral(t *testing.T) {
	var r connectRequests

	a := r.begin("a")
	b := r.begin("b")
	if a == b {
		t.Fatalf("begin() returned %d twice", a)
	}
	if r.finish("a", b) {
		t.Error("finish(a, b's seq) = true, want false")
	}
	if !r.finish("a", a) || !r.finish("b", b) {
		t.Error("finish() = false for current requests")
	}
	if r.take("a") {
		t.Error("take() = true after the request finished")
	}
}

func TestScanRunsRestartAfterStop(t *testing.T) {
	var s scanRuns

	first, prev, done1, ok := s.start()
	if !ok || prev != nil {
		t.Fatalf("start() = ok %v, prev %v, want a fresh run", ok, prev)
	}
	if _, _, _, ok := s.start(); ok {
		t.Error("start() while active = true, want false")
	}
	if !s.stop() {
		t.Fatal("stop() = false with an active run")
	}
	if s.current(first) {
		t.Error("current(first) = true after stop")
	}

	// Restarting before the stopped run returned still opens a run.
	second, prev, _, ok := s.start()
	if !ok {
		t.Fatal("start() after stop = false, want a new run")
	}
	if prev != (<-chan struct{})(done1) {
		t.Error("start() did not hand back the stopped run's done channel")
	}
	if !s.current(second) {
		t.Error("current(second) = false")
	}

	// The stopped run returning must not end the new one.
	s.finish(first)
	if !s.current(second) {
		t.Error("current(second) = false after the first run finished")
	}
	s.finish(second)
	if s.current(second) || s.stop() {
		t.Error("run still active after finishing")
	}
}
