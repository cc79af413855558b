package link

import (
	"time"

	"github.com/chaz8081/bmslink/internal/timeutil"
)

type timerKind int

const (
	timerDeadline timerKind = iota
	timerPoll
	timerRSSI
	timerBatch
	numTimers
)

func (k timerKind) String() string {
	switch k {
	case timerDeadline:
		return "deadline"
	case timerPoll:
		return "poll"
	case timerRSSI:
		return "rssi"
	case timerBatch:
		return "batch"
	default:
		return "unknown"
	}
}

// timerFired is posted to the event loop when a slot's timer elapses.
type timerFired struct {
	kind  timerKind
	token uint64
}

// slot holds at most one pending timer. Arming a slot replaces its token, so
// a callback from a timer that was replaced or cancelled arrives stale.
type slot struct {
	token uint64
	timer timeutil.Timer
}

type timerSlots struct {
	clock timeutil.Clock
	post  func(any)
	next  uint64
	slots [numTimers]slot
}

func (t *timerSlots) arm(kind timerKind, d time.Duration) {
	t.cancel(kind)
	t.next++
	tok := t.next
	t.slots[kind] = slot{
		token: tok,
		timer: t.clock.AfterFunc(d, func() { t.post(timerFired{kind: kind, token: tok}) }),
	}
}

func (t *timerSlots) cancel(kind timerKind) {
	if s := t.slots[kind]; s.timer != nil {
		s.timer.Stop()
	}
	t.slots[kind] = slot{}
}

func (t *timerSlots) armed(kind timerKind) bool {
	return t.slots[kind].token != 0
}

// consume reports whether f is the live timer for its slot and clears the
// slot if so.
func (t *timerSlots) consume(f timerFired) bool {
	if f.token == 0 || t.slots[f.kind].token != f.token {
		return false
	}
	t.slots[f.kind] = slot{}
	return true
}
