package link

import (
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/chaz8081/bmslink/internal/ble"
)

// PeripheralRef is one entry of the visible discovery list.
type PeripheralRef struct {
	ID       ble.PeripheralID
	Name     string
	RSSI     int
	LastSeen time.Time
}

// resetDiscovery forgets every sighting. Called when a scan (re)starts.
func (s *Supervisor) resetDiscovery() {
	had := len(s.visible) > 0
	s.seen = make(map[ble.PeripheralID]ble.Peripheral)
	s.pending = make(map[ble.PeripheralID]PeripheralRef)
	s.visible = nil
	s.timers.cancel(timerBatch)
	if had {
		s.publishPeripherals()
	}
}

// sighting queues an RSSI observation for the next batch flush. Only the
// latest value per peripheral survives a window.
func (s *Supervisor) sighting(p ble.Peripheral, rssi int) {
	s.pending[p.ID] = PeripheralRef{
		ID:       p.ID,
		Name:     p.Name,
		RSSI:     rssi,
		LastSeen: s.clock.Now(),
	}
	if !s.timers.armed(timerBatch) {
		s.timers.arm(timerBatch, s.batchWindow)
	}
}

// flushBatch applies pending sightings to the visible list. Existing
// entries are updated in place; new ones are appended in arrival order.
func (s *Supervisor) flushBatch() {
	if len(s.pending) == 0 {
		return
	}
	for i := range s.visible {
		if ref, ok := s.pending[s.visible[i].ID]; ok {
			s.visible[i] = ref
			delete(s.pending, ref.ID)
		}
	}
	// Map order is random; sort new entries so the list is stable for a given
	// event sequence.
	fresh := make([]PeripheralRef, 0, len(s.pending))
	for _, ref := range s.pending {
		fresh = append(fresh, ref)
	}
	sortRefs(fresh)
	s.visible = append(s.visible, fresh...)
	clear(s.pending)

	s.logger.Debug("discovery list updated", zapRefs(s.visible))
	s.publishPeripherals()
}

// seedConnected makes the active device visible while scanning.
func (s *Supervisor) seedConnected() {
	if s.target == nil {
		return
	}
	s.visible = []PeripheralRef{{
		ID:       s.target.ID,
		Name:     s.target.Name,
		RSSI:     s.rssi,
		LastSeen: s.clock.Now(),
	}}
	s.publishPeripherals()
}

func (s *Supervisor) publishPeripherals() {
	out := make([]PeripheralRef, len(s.visible))
	copy(out, s.visible)

	s.mu.Lock()
	s.snapshot = out
	s.mu.Unlock()

	s.observer.OnPeripherals(out)
}

func sortRefs(refs []PeripheralRef) {
	slices.SortFunc(refs, func(a, b PeripheralRef) int {
		if c := a.LastSeen.Compare(b.LastSeen); c != 0 {
			return c
		}
		return strings.Compare(string(a.ID), string(b.ID))
	})
}

func zapRefs(refs []PeripheralRef) zap.Field {
	return zap.Int("peripherals", len(refs))
}
