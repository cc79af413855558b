package bms

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/chaz8081/bmslink/internal/ble/protocol"
	"github.com/chaz8081/bmslink/internal/diag"
	"github.com/chaz8081/bmslink/internal/metrics"
)

var (
	// ErrUnknownOpcode is the drop reason for an unrecognized opcode after the
	// session already fell back to the legacy protocol.
	ErrUnknownOpcode = errors.New("bms: unknown opcode in legacy mode")
	// ErrUnlockRejected is the drop reason when the device refuses the
	// password.
	ErrUnlockRejected = errors.New("bms: unlock rejected")
)

// Mode is the wire protocol variant spoken by the device.
type Mode int

const (
	ModeStandard Mode = iota
	ModeLegacy
)

func (m Mode) String() string {
	if m == ModeLegacy {
		return "legacy"
	}
	return "standard"
}

// Link is what a Session needs from the connection that owns it. All calls
// happen on the owner's goroutine.
type Link interface {
	// Send writes one frame to the device.
	Send(frame []byte) error
	// Authenticated reports that the device accepted the unlock; the owner
	// starts polling.
	Authenticated()
	// Drop asks the owner to tear the link down for err.
	Drop(err error)
	// Publish delivers a decoded reading.
	Publish(t Telemetry)
}

// Signals are observability toggles. Each flips on every occurrence.
type Signals struct {
	Error        bool
	DataReceived bool
}

// Options configure a Session.
type Options struct {
	MaxStalls int
	Logger    *zap.Logger
	Diag      diag.Sink
	Metrics   *metrics.AppMetrics
}

// Session runs the application protocol for one authenticated link. It is
// not safe for concurrent use; the owner serializes every call.
type Session struct {
	device  string
	link    Link
	logger  *zap.Logger
	diag    diag.Sink
	metrics *metrics.AppMetrics

	reasm     protocol.Reassembler
	scheduler *Scheduler
	legacy    legacyHalves
	mode      Mode
	polling   bool
	signals   Signals
}

// NewSession creates a session for the named device.
func NewSession(device string, link Link, opts Options) *Session {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Diag == nil {
		opts.Diag = diag.Nop()
	}
	return &Session{
		device:    device,
		link:      link,
		logger:    opts.Logger.With(zap.String("device", device)),
		diag:      opts.Diag,
		metrics:   opts.Metrics,
		scheduler: NewScheduler(opts.MaxStalls),
	}
}

// Start begins the handshake. Devices that need no password are
// authenticated immediately. An error means nothing was sent and the link
// should be torn down.
func (s *Session) Start() error {
	if SkipsUnlock(s.device) {
		s.logger.Info("device needs no unlock")
		s.authenticated()
		return nil
	}
	pw, err := UnlockPassword(s.device)
	if err != nil {
		return err
	}
	s.logger.Debug("sending unlock")
	return s.send(protocol.OpUnlock, pw[:])
}

// Mode returns the protocol variant in use.
func (s *Session) Mode() Mode { return s.mode }

// Polling reports whether the unlock completed.
func (s *Session) Polling() bool { return s.polling }

// Signals returns the current observability toggles.
func (s *Session) Signals() Signals { return s.signals }

// Commands returns the current poll rotation.
func (s *Session) Commands() []protocol.Opcode { return s.scheduler.Commands() }

// Poll sends the next command unless a multi-page response is still
// arriving. It is a no-op before authentication.
func (s *Session) Poll() {
	if !s.polling {
		return
	}
	op, ok := s.scheduler.Next(s.reasm.InProgress())
	if !ok {
		s.metrics.Stall()
		s.logger.Debug("poll skipped, response in flight", zap.Int("stalls", s.scheduler.Stalls()))
		return
	}
	if err := s.send(op, nil); err != nil {
		s.logger.Warn("poll write failed", zap.Stringer("opcode", op), zap.Error(err))
	}
}

func (s *Session) send(op protocol.Opcode, payload []byte) error {
	frame := protocol.Encode(op, payload)
	s.diag.Frame(diag.Outbound, s.device, frame)
	if err := s.link.Send(frame); err != nil {
		return fmt.Errorf("bms: send %v: %w", op, err)
	}
	s.metrics.FrameSent(op.String())
	return nil
}

// HandleNotification processes one raw notification from the device.
func (s *Session) HandleNotification(raw []byte) {
	if len(raw) == 0 {
		return
	}
	if protocol.IsAck(raw) {
		s.metrics.AckIgnored()
		return
	}

	s.diag.Frame(diag.Inbound, s.device, raw)
	if err := s.link.Send(protocol.Ack(raw)); err != nil {
		s.logger.Warn("ack write failed", zap.Error(err))
	} else {
		s.metrics.AckSent()
	}

	page, err := protocol.DecodePage(raw)
	if err != nil {
		s.metrics.MalformedPage()
		s.logger.Debug("dropping page", zap.Error(err))
		return
	}
	s.metrics.PageReceived()

	res := s.reasm.Feed(page)
	if res.Resync {
		s.signals.Error = !s.signals.Error
		s.metrics.Resync()
		s.diag.Event("resync", zap.String("device", s.device))
	}
	if res.Err != nil {
		s.discard("message discarded", res.Err)
		return
	}
	if res.Message == nil {
		return
	}

	s.signals.DataReceived = !s.signals.DataReceived
	s.dispatch(*res.Message)
}

func (s *Session) dispatch(msg protocol.Message) {
	resp, err := ParseResponse(msg)
	if err != nil {
		s.discard("undecodable message", err)
		return
	}
	s.metrics.MessageDecoded(msg.Opcode().String())

	switch r := resp.(type) {
	case UnlockAccepted:
		s.authenticated()
	case UnlockRejected:
		s.logger.Warn("unlock rejected")
		s.link.Drop(ErrUnlockRejected)
	case PackInfo:
		s.link.Publish(r)
	case CellVoltages:
		s.link.Publish(r)
	case LegacyInfo1:
		s.mergeLegacy(s.legacy.withFirst(r))
	case LegacyInfo2:
		s.mergeLegacy(s.legacy.withSecond(r))
	case Unknown:
		s.unknownOpcode(r.Opcode)
	}
}

// discard flips the error signal and counts err by cause.
func (s *Session) discard(msg string, err error) {
	s.signals.Error = !s.signals.Error
	if errors.Is(err, protocol.ErrShortMessage) {
		s.metrics.ShortMessage()
	} else {
		s.metrics.ChecksumError()
	}
	s.diag.Event(msg, zap.String("device", s.device), zap.Error(err))
	s.logger.Debug(msg, zap.Error(err))
}

func (s *Session) mergeLegacy(h legacyHalves) {
	var pack *PackInfo
	s.legacy, pack = mergeLegacy(h)
	if pack != nil {
		s.link.Publish(*pack)
	}
}

func (s *Session) unknownOpcode(op protocol.Opcode) {
	s.metrics.UnknownOpcode()
	if s.mode == ModeLegacy {
		s.logger.Warn("unknown opcode in legacy mode", zap.Stringer("opcode", op))
		s.link.Drop(fmt.Errorf("%w: %v", ErrUnknownOpcode, op))
		return
	}
	s.mode = ModeLegacy
	s.scheduler.SwitchToLegacy()
	s.metrics.ModeSwitch()
	s.diag.Event("legacy fallback", zap.String("device", s.device), zap.Stringer("opcode", op))
	s.logger.Info("switching to legacy protocol", zap.Stringer("opcode", op))
}

func (s *Session) authenticated() {
	if s.polling {
		return
	}
	s.polling = true
	s.link.Authenticated()
}
