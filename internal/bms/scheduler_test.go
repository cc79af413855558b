package bms

import (
	"testing"

	"github.com/chaz8081/bmslink/internal/ble/protocol"
)

func TestSchedulerRotates(t *testing.T) {
	s := NewScheduler(5)
	want := []protocol.Opcode{protocol.OpGetInfo, protocol.OpCellVolt, protocol.OpGetInfo, protocol.OpCellVolt}
	for i, w := range want {
		got, ok := s.Next(false)
		if !ok || got != w {
			t.Fatalf("tick %d: Next() = %v, %v; want %v, true", i, got, ok, w)
		}
	}
}

func TestSchedulerStallsThenForcesSend(t *testing.T) {
	s := NewScheduler(5)
	for i := 0; i < 5; i++ {
		if _, ok := s.Next(true); ok {
			t.Fatalf("tick %d: sent while in flight below the stall bound", i)
		}
	}
	if s.Stalls() != 5 {
		t.Errorf("Stalls() = %d, want 5", s.Stalls())
	}
	if op, ok := s.Next(true); !ok || op != protocol.OpGetInfo {
		t.Errorf("Next() after max stalls = %v, %v; want getInfo, true", op, ok)
	}
	if s.Stalls() != 0 {
		t.Errorf("Stalls() = %d after forced send, want 0", s.Stalls())
	}
}

func TestSchedulerSwitchToLegacyKeepsCursorInRange(t *testing.T) {
	s := NewScheduler(0)
	s.Next(false)
	s.Next(false)
	s.Next(false) // cursor now 1 of 2

	s.SwitchToLegacy()
	seen := map[protocol.Opcode]int{}
	for i := 0; i < 6; i++ {
		op, _ := s.Next(false)
		seen[op]++
	}
	if seen[protocol.OpGetInfo] != 0 {
		t.Error("getInfo polled after legacy switch")
	}
	for _, op := range []protocol.Opcode{protocol.OpCellVolt, protocol.OpLegacyInfo1, protocol.OpLegacyInfo2} {
		if seen[op] != 2 {
			t.Errorf("%v polled %d times in 6 ticks, want 2", op, seen[op])
		}
	}

	s.Reset()
	if op, _ := s.Next(false); op != protocol.OpGetInfo {
		t.Errorf("Next() after Reset = %v, want getInfo", op)
	}
}
