package diag

import (
	"bufio"
	"bytes"
	"encoding/json"
	"sync"
	"testing"

	"go.uber.org/zap"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) lines(t *testing.T) []map[string]any {
	t.Helper()
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []map[string]any
	sc := bufio.NewScanner(bytes.NewReader(b.buf.Bytes()))
	for sc.Scan() {
		var m map[string]any
		if err := json.Unmarshal(sc.Bytes(), &m); err != nil {
			t.Fatalf("line %q is not JSON: %v", sc.Text(), err)
		}
		out = append(out, m)
	}
	return out
}

type countDrops struct{ n int }

func (c *countDrops) DiagnosticDropped() { c.n++ }

func TestAsyncSinkWritesEventsAndFrames(t *testing.T) {
	var buf syncBuffer
	s := New(&buf, Options{})

	s.Event("state", zap.String("to", "connecting"))
	s.Frame(Inbound, "DXB-1A2B", []byte{0x0A, 0x11})
	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	lines := buf.lines(t)
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2", len(lines))
	}
	if lines[0]["msg"] != "state" || lines[0]["to"] != "connecting" {
		t.Errorf("event line = %v", lines[0])
	}
	frame := lines[1]
	if frame["dir"] != "rx" || frame["hex"] != "0a11" || frame["b64"] != "ChE=" || frame["device"] != "DXB-1A2B" {
		t.Errorf("frame line = %v", frame)
	}
}

func TestAsyncSinkRateLimitsFrames(t *testing.T) {
	var buf syncBuffer
	drops := &countDrops{}
	s := New(&buf, Options{FramesPerSecond: 1, Drops: drops})

	for range 5 {
		s.Frame(Outbound, "dev", []byte{1})
	}
	_ = s.Close()

	if got := len(buf.lines(t)); got != 1 {
		t.Errorf("wrote %d frames, want 1", got)
	}
	if s.Dropped() != 4 || drops.n != 4 {
		t.Errorf("Dropped() = %d, counter = %d, want 4", s.Dropped(), drops.n)
	}
}

func TestAsyncSinkDropsAfterClose(t *testing.T) {
	var buf syncBuffer
	s := New(&buf, Options{})
	_ = s.Close()
	_ = s.Close()

	s.Event("late")
	if s.Dropped() != 1 {
		t.Errorf("Dropped() = %d, want 1", s.Dropped())
	}
}

func TestNopSink(t *testing.T) {
	s := Nop()
	s.Event("ignored")
	s.Frame(Outbound, "dev", nil)
}
