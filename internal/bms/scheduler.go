package bms

import "github.com/chaz8081/bmslink/internal/ble/protocol"

// DefaultMaxStalls is how many poll ticks are skipped while a multi-page
// response is in flight before polling resumes anyway.
const DefaultMaxStalls = 5

var (
	standardCommands = []protocol.Opcode{protocol.OpGetInfo, protocol.OpCellVolt}
	legacyCommands   = []protocol.Opcode{protocol.OpCellVolt, protocol.OpLegacyInfo1, protocol.OpLegacyInfo2}
)

// Scheduler rotates through the poll commands and holds off while a
// response is still arriving.
type Scheduler struct {
	commands  []protocol.Opcode
	cursor    int
	stalls    int
	maxStalls int
}

// NewScheduler returns a scheduler over the standard command list.
func NewScheduler(maxStalls int) *Scheduler {
	if maxStalls <= 0 {
		maxStalls = DefaultMaxStalls
	}
	return &Scheduler{
		commands:  standardCommands,
		maxStalls: maxStalls,
	}
}

// Next is called once per poll tick. inFlight reports whether a multi-page
// response is partially assembled. It returns the opcode to send, or false
// when this tick is skipped.
func (s *Scheduler) Next(inFlight bool) (protocol.Opcode, bool) {
	if inFlight && s.stalls < s.maxStalls {
		s.stalls++
		return 0, false
	}
	s.stalls = 0
	op := s.commands[s.cursor%len(s.commands)]
	s.cursor = (s.cursor + 1) % len(s.commands)
	return op, true
}

// SwitchToLegacy replaces getInfo with the two legacy info commands.
func (s *Scheduler) SwitchToLegacy() {
	s.commands = legacyCommands
	s.cursor %= len(s.commands)
}

// Commands returns the current command rotation.
func (s *Scheduler) Commands() []protocol.Opcode {
	out := make([]protocol.Opcode, len(s.commands))
	copy(out, s.commands)
	return out
}

// Stalls returns the number of consecutive skipped ticks.
func (s *Scheduler) Stalls() int { return s.stalls }

// Reset returns to the standard list with cleared cursor and stall count.
func (s *Scheduler) Reset() {
	s.commands = standardCommands
	s.cursor = 0
	s.stalls = 0
}
