// Package link supervises the BLE connection to one BMS. A Supervisor owns
// a single event loop that serializes radio callbacks, timers and caller
// requests, and runs the bms.Session for the authenticated link.
package link

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/chaz8081/bmslink/internal/ble"
	"github.com/chaz8081/bmslink/internal/bms"
	"github.com/chaz8081/bmslink/internal/config"
	"github.com/chaz8081/bmslink/internal/diag"
	"github.com/chaz8081/bmslink/internal/metrics"
	"github.com/chaz8081/bmslink/internal/timeutil"
)

const (
	DefaultConnectTimeout = 5 * time.Second
	DefaultPollInterval   = 300 * time.Millisecond
	DefaultRSSIInterval   = 5 * time.Second
	DefaultBatchWindow    = time.Second

	// SimulatedDeviceName is the device name reported in simulated mode.
	SimulatedDeviceName = "Dummy Device"

	eventBuffer = 256
)

const simulatedID ble.PeripheralID = "simulated"

// Observer receives supervisor output. Calls happen on the event loop and
// must not block or call back into the Supervisor.
type Observer interface {
	OnState(st Status)
	OnPeripherals(refs []PeripheralRef)
	OnTelemetry(device string, t bms.Telemetry)
}

type nopObserver struct{}

func (nopObserver) OnState(Status)                    {}
func (nopObserver) OnPeripherals([]PeripheralRef)     {}
func (nopObserver) OnTelemetry(string, bms.Telemetry) {}

// Status is a point-in-time view of the link.
type Status struct {
	State      State
	PoweredOn  bool
	Scanning   bool
	Device     string
	Peripheral ble.PeripheralID
	Mode       bms.Mode
	Simulated  bool
	RSSI       int
	SessionID  string
	LastError  string
	Pack       *bms.PackInfo
	Cells      *bms.CellVoltages
}

// Options configure a Supervisor. Radio is required; zero durations fall
// back to the package defaults.
type Options struct {
	Radio    ble.Radio
	Settings config.SettingsStore
	Clock    timeutil.Clock
	Logger   *zap.Logger
	Diag     diag.Sink
	Metrics  *metrics.AppMetrics
	Observer Observer

	ConnectTimeout time.Duration
	PollInterval   time.Duration
	RSSIInterval   time.Duration
	BatchWindow    time.Duration
	MaxStalls      int

	// StopScanWhenActive stops scanning as soon as a link authenticates.
	StopScanWhenActive bool
}

// Supervisor drives the link lifecycle.
type Supervisor struct {
	radio    ble.Radio
	settings config.SettingsStore
	clock    timeutil.Clock
	root     *zap.Logger
	logger   *zap.Logger
	diag     diag.Sink
	metrics  *metrics.AppMetrics
	observer Observer

	connectTimeout     time.Duration
	pollInterval       time.Duration
	rssiInterval       time.Duration
	batchWindow        time.Duration
	maxStalls          int
	stopScanWhenActive bool

	events chan any
	done   chan struct{}
	timers timerSlots

	// Everything below is owned by the event loop.
	state     State
	poweredOn bool
	scanning  bool
	autoSpent bool
	simulated bool
	simTick   int
	target    *ble.Peripheral
	linked    bool
	write     *ble.Characteristic
	session   *bms.Session
	sessionID string
	rssi      int
	lastErr   string
	pack      *bms.PackInfo
	cells     *bms.CellVoltages

	seen    map[ble.PeripheralID]ble.Peripheral
	pending map[ble.PeripheralID]PeripheralRef
	visible []PeripheralRef

	mu        sync.Mutex
	published Status
	snapshot  []PeripheralRef
}

// New creates a supervisor and installs its radio event handler. Nothing
// runs until Run is called.
func New(opts Options) (*Supervisor, error) {
	if opts.Radio == nil {
		return nil, errors.New("link: radio is required")
	}
	if opts.Settings == nil {
		opts.Settings = config.NewMemoryStore(config.Settings{})
	}
	if opts.Clock == nil {
		opts.Clock = timeutil.RealClock{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Diag == nil {
		opts.Diag = diag.Nop()
	}
	if opts.Observer == nil {
		opts.Observer = nopObserver{}
	}

	s := &Supervisor{
		radio:              opts.Radio,
		settings:           opts.Settings,
		clock:              opts.Clock,
		root:               opts.Logger,
		logger:             opts.Logger.Named("link"),
		diag:               opts.Diag,
		metrics:            opts.Metrics,
		observer:           opts.Observer,
		connectTimeout:     orDefault(opts.ConnectTimeout, DefaultConnectTimeout),
		pollInterval:       orDefault(opts.PollInterval, DefaultPollInterval),
		rssiInterval:       orDefault(opts.RSSIInterval, DefaultRSSIInterval),
		batchWindow:        orDefault(opts.BatchWindow, DefaultBatchWindow),
		maxStalls:          opts.MaxStalls,
		stopScanWhenActive: opts.StopScanWhenActive,
		events:             make(chan any, eventBuffer),
		done:               make(chan struct{}),
	}
	s.timers = timerSlots{clock: s.clock, post: s.post}
	s.resetDiscovery()
	s.refresh()
	s.radio.SetEventHandler(func(ev ble.Event) { s.post(ev) })
	return s, nil
}

func orDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}

// Run processes events until ctx is cancelled, then tears down any link and
// stops scanning. It starts the simulated link when the settings ask for one.
func (s *Supervisor) Run(ctx context.Context) error {
	defer close(s.done)

	if s.settings.Settings().SimulateDevice {
		s.simulate()
	}
	for {
		select {
		case <-ctx.Done():
			s.shutdown()
			return nil
		case ev := <-s.events:
			s.dispatch(ev)
		}
	}
}

// StartScan begins scanning if the radio is powered on.
func (s *Supervisor) StartScan() { s.post(func() { s.startScan() }) }

// StopScan stops scanning.
func (s *Supervisor) StopScan() { s.post(func() { s.stopScan() }) }

// Connect starts a link to a peripheral seen during the current scan.
func (s *Supervisor) Connect(id ble.PeripheralID) { s.post(func() { s.connect(id) }) }

// Disconnect tears down the current link, real or simulated.
func (s *Supervisor) Disconnect() {
	s.post(func() { s.teardown(ErrRequested, true) })
}

// Simulate replaces any link with a simulated device that publishes fixed
// telemetry on every poll tick.
func (s *Supervisor) Simulate() { s.post(func() { s.simulate() }) }

// Status returns the latest link status.
func (s *Supervisor) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.published
}

// Peripherals returns the latest batched discovery list.
func (s *Supervisor) Peripherals() []PeripheralRef {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.snapshot)
}

func (s *Supervisor) post(ev any) {
	select {
	case s.events <- ev:
	case <-s.done:
	}
}

// pump drains queued events on the caller's goroutine. Tests use it in place
// of Run.
func (s *Supervisor) pump() {
	for {
		select {
		case ev := <-s.events:
			s.dispatch(ev)
		default:
			return
		}
	}
}

func (s *Supervisor) dispatch(ev any) {
	switch ev := ev.(type) {
	case func():
		ev()
	case timerFired:
		s.onTimer(ev)
	case ble.StateChanged:
		s.onPower(ev.PoweredOn)
	case ble.Discovered:
		s.onDiscovered(ev)
	case ble.Connected:
		s.onConnected(ev)
	case ble.ConnectFailed:
		s.onConnectFailed(ev)
	case ble.Disconnected:
		s.onDisconnected(ev)
	case ble.ServicesFound:
		s.onServices(ev)
	case ble.CharacteristicsFound:
		s.onCharacteristics(ev)
	case ble.RSSIRead:
		s.onRSSI(ev)
	case ble.ValueUpdated:
		s.onValue(ev)
	default:
		s.logger.Warn("unhandled event", zap.String("type", fmt.Sprintf("%T", ev)))
	}
}

func (s *Supervisor) isTarget(id ble.PeripheralID) bool {
	return s.target != nil && !s.simulated && s.target.ID == id
}

func (s *Supervisor) transition(to State) {
	if s.state == to {
		return
	}
	from := s.state
	s.state = to
	s.metrics.Transition(to.String(), int(to))
	s.diag.Event("state", zap.Stringer("from", from), zap.Stringer("to", to), zap.String("session", s.sessionID))
	s.logger.Debug("link state", zap.Stringer("from", from), zap.Stringer("to", to))
	s.notify()
}

// refresh republishes the status snapshot without notifying the observer.
func (s *Supervisor) refresh() {
	st := Status{
		State:     s.state,
		PoweredOn: s.poweredOn,
		Scanning:  s.scanning,
		Simulated: s.simulated,
		RSSI:      s.rssi,
		SessionID: s.sessionID,
		LastError: s.lastErr,
		Pack:      s.pack,
		Cells:     s.cells,
	}
	if s.target != nil {
		st.Device = s.target.Name
		st.Peripheral = s.target.ID
	}
	if s.session != nil {
		st.Mode = s.session.Mode()
	}
	s.mu.Lock()
	s.published = st
	s.mu.Unlock()
}

func (s *Supervisor) notify() {
	s.refresh()
	s.observer.OnState(s.Status())
}

func (s *Supervisor) onPower(on bool) {
	if on == s.poweredOn {
		return
	}
	s.poweredOn = on
	s.diag.Event("radio power", zap.Bool("on", on))
	if on {
		s.logger.Info("radio powered on")
		s.startScan()
		return
	}

	s.logger.Warn("radio powered off")
	s.scanning = false
	s.timers.cancel(timerBatch)
	s.timers.cancel(timerRSSI)
	if !s.simulated {
		s.teardown(ErrRadioOff, false)
	}
	if s.state == StateScanning {
		s.transition(StateIdle)
	}
	s.notify()
}

func (s *Supervisor) startScan() {
	if !s.poweredOn {
		s.logger.Warn("scan requested while the radio is off")
		return
	}
	if s.scanning {
		if err := s.radio.StopScan(); err != nil {
			s.logger.Debug("stopping previous scan", zap.Error(err))
		}
	}
	if err := s.radio.Scan(""); err != nil {
		s.logger.Error("starting scan", zap.Error(err))
		return
	}
	s.scanning = true
	s.resetDiscovery()
	s.diag.Event("scan started")
	s.logger.Info("scanning")

	switch {
	case s.state == StateActive && !s.simulated:
		s.seedConnected()
		s.timers.arm(timerRSSI, 0)
		s.notify()
	case s.state == StateIdle:
		s.transition(StateScanning)
	default:
		s.notify()
	}
}

func (s *Supervisor) stopScan() {
	if !s.scanning {
		return
	}
	if err := s.radio.StopScan(); err != nil {
		s.logger.Warn("stopping scan", zap.Error(err))
	}
	s.scanning = false
	s.timers.cancel(timerBatch)
	s.timers.cancel(timerRSSI)
	clear(s.pending)
	s.diag.Event("scan stopped")

	if s.state == StateScanning {
		s.transition(StateIdle)
		return
	}
	s.notify()
}

func (s *Supervisor) onDiscovered(ev ble.Discovered) {
	p := ev.Peripheral
	if !s.scanning || p.Name == "" {
		return
	}
	s.seen[p.ID] = p

	set := s.settings.Settings()
	if !s.autoSpent && set.AutoReconnect && s.target == nil &&
		set.LastConnectedDeviceName != "" && p.Name == set.LastConnectedDeviceName {
		s.logger.Info("reconnecting to last device", zap.String("device", p.Name))
		s.connect(p.ID)
	}

	if set.FilterDevicePrefix && !strings.HasPrefix(p.Name, set.DevicePrefix) {
		return
	}
	s.sighting(p, ev.RSSI)
}

func (s *Supervisor) connect(id ble.PeripheralID) {
	if s.state.attempting() {
		s.logger.Debug("connect ignored, attempt in progress", zap.String("peripheral", string(id)))
		return
	}
	if s.isTarget(id) {
		s.logger.Debug("already connected", zap.String("device", s.target.Name))
		return
	}
	p, ok := s.seen[id]
	if !ok {
		s.logger.Warn("connect to unknown peripheral", zap.String("peripheral", string(id)))
		return
	}
	if s.target != nil {
		s.teardown(ErrSuperseded, true)
	}

	s.autoSpent = true
	s.target = &p
	s.linked = false
	s.sessionID = uuid.NewString()
	s.lastErr = ""
	s.timers.arm(timerDeadline, s.connectTimeout)
	s.diag.Event("connecting", zap.String("device", p.Name), zap.String("peripheral", string(p.ID)), zap.String("session", s.sessionID))
	s.logger.Info("connecting", zap.String("device", p.Name), zap.String("session", s.sessionID))
	s.transition(StateConnecting)

	if err := s.radio.Connect(id); err != nil {
		s.teardown(fmt.Errorf("%w: %v", ErrConnectFailed, err), false)
	}
}

func (s *Supervisor) onConnected(ev ble.Connected) {
	if !s.isTarget(ev.Peripheral.ID) || s.state != StateConnecting {
		s.logger.Debug("ignoring connect event", zap.String("peripheral", string(ev.Peripheral.ID)))
		return
	}
	s.linked = true
	s.transition(StateServiceDiscovery)
	if err := s.radio.DiscoverServices(s.target.ID, ble.ServiceUUID); err != nil {
		s.teardown(fmt.Errorf("%w: %v", ErrServiceNotFound, err), true)
	}
}

func (s *Supervisor) onConnectFailed(ev ble.ConnectFailed) {
	if !s.isTarget(ev.Peripheral) || s.state != StateConnecting {
		return
	}
	s.teardown(fmt.Errorf("%w: %v", ErrConnectFailed, ev.Err), false)
}

func (s *Supervisor) onDisconnected(ev ble.Disconnected) {
	if !s.isTarget(ev.Peripheral) {
		return
	}
	reason := ErrLinkLost
	if ev.Err != nil {
		reason = fmt.Errorf("%w: %v", ErrLinkLost, ev.Err)
	}
	s.teardown(reason, false)
}

func (s *Supervisor) onServices(ev ble.ServicesFound) {
	if !s.isTarget(ev.Peripheral) || s.state != StateServiceDiscovery {
		return
	}
	if ev.Err != nil {
		s.teardown(fmt.Errorf("%w: %v", ErrServiceNotFound, ev.Err), true)
		return
	}
	i := slices.IndexFunc(ev.Services, func(svc ble.Service) bool {
		return ble.SameUUID(svc.UUID, ble.ServiceUUID)
	})
	if i < 0 {
		s.teardown(ErrServiceNotFound, true)
		return
	}
	s.transition(StateCharacteristicDiscovery)
	if err := s.radio.DiscoverCharacteristics(ev.Services[i]); err != nil {
		s.teardown(fmt.Errorf("%w: %v", ErrNoCharacteristics, err), true)
	}
}

func (s *Supervisor) onCharacteristics(ev ble.CharacteristicsFound) {
	if !s.isTarget(ev.Service.Peripheral) || s.state != StateCharacteristicDiscovery {
		return
	}
	if ev.Err != nil {
		s.teardown(fmt.Errorf("%w: %v", ErrNoCharacteristics, ev.Err), true)
		return
	}
	if len(ev.Characteristics) == 0 {
		s.teardown(ErrNoCharacteristics, true)
		return
	}

	var write *ble.Characteristic
	for _, c := range ev.Characteristics {
		if c.Notifiable() {
			if err := s.radio.SetNotify(c, true); err != nil {
				s.logger.Warn("enabling notifications", zap.String("characteristic", c.UUID), zap.Error(err))
			}
		}
		if ble.SameUUID(c.UUID, ble.WriteCharUUID) &&
			c.Properties&(ble.PropWrite|ble.PropWriteWithoutResponse) != 0 {
			write = &c
		}
	}
	if write == nil {
		s.teardown(ErrWriteCharacteristicNotFound, true)
		return
	}
	s.write = write
	s.transition(StateAuthenticating)

	l := &sessionLink{sup: s}
	l.session = bms.NewSession(s.target.Name, l, bms.Options{
		MaxStalls: s.maxStalls,
		Logger:    s.root.Named("bms").With(zap.String("session", s.sessionID)),
		Diag:      s.diag,
		Metrics:   s.metrics,
	})
	s.session = l.session
	if err := s.session.Start(); err != nil {
		s.teardown(err, true)
	}
}

func (s *Supervisor) onAuthenticated() {
	if s.state != StateAuthenticating {
		return
	}
	s.timers.cancel(timerDeadline)
	s.logger.Info("link active", zap.String("device", s.target.Name), zap.String("session", s.sessionID))
	s.transition(StateActive)

	if err := s.settings.SetLastConnectedDevice(s.target.Name); err != nil {
		s.logger.Warn("saving last connected device", zap.Error(err))
	}
	s.timers.arm(timerPoll, 0)
	if s.scanning {
		if s.stopScanWhenActive {
			s.stopScan()
		} else {
			s.timers.arm(timerRSSI, s.rssiInterval)
		}
	}
}

func (s *Supervisor) onValue(ev ble.ValueUpdated) {
	if s.session == nil || !s.isTarget(ev.Characteristic.Service.Peripheral) {
		return
	}
	mode := s.session.Mode()
	s.session.HandleNotification(ev.Value)
	if s.session != nil && s.session.Mode() != mode {
		s.notify()
	}
}

func (s *Supervisor) onRSSI(ev ble.RSSIRead) {
	if ev.Err != nil {
		s.logger.Debug("rssi read failed", zap.Error(ev.Err))
		return
	}
	if !s.isTarget(ev.Peripheral) {
		return
	}
	s.rssi = ev.RSSI
	s.metrics.SetRSSI(ev.RSSI)
	s.refresh()
	if s.scanning {
		s.sighting(*s.target, ev.RSSI)
	}
}

func (s *Supervisor) onTimer(f timerFired) {
	if !s.timers.consume(f) {
		s.logger.Debug("stale timer", zap.Stringer("timer", f.kind))
		return
	}
	switch f.kind {
	case timerDeadline:
		s.onDeadline()
	case timerPoll:
		s.onPoll()
	case timerRSSI:
		s.onRSSITick()
	case timerBatch:
		s.flushBatch()
	}
}

func (s *Supervisor) onDeadline() {
	if !s.state.attempting() {
		return
	}
	if !s.linked {
		s.metrics.Timeout("connect")
		s.teardown(ErrConnectTimeout, true)
		return
	}
	s.metrics.Timeout("auth")
	s.teardown(ErrAuthTimeout, true)
}

func (s *Supervisor) onPoll() {
	if s.state != StateActive {
		return
	}
	switch {
	case s.simulated:
		if s.simTick%2 == 0 {
			s.publish(bms.SimulatedPack())
		} else {
			s.publish(bms.SimulatedCells())
		}
		s.simTick++
	case s.session != nil:
		s.session.Poll()
	}
	if s.state == StateActive {
		s.timers.arm(timerPoll, s.pollInterval)
	}
}

func (s *Supervisor) onRSSITick() {
	if s.state != StateActive || s.simulated || !s.scanning {
		return
	}
	if err := s.radio.ReadRSSI(s.target.ID); err != nil {
		s.logger.Debug("requesting rssi", zap.Error(err))
	}
	s.timers.arm(timerRSSI, s.rssiInterval)
}

func (s *Supervisor) publish(t bms.Telemetry) {
	switch v := t.(type) {
	case bms.PackInfo:
		s.pack = &v
	case bms.CellVoltages:
		s.cells = &v
	}
	s.refresh()
	s.observer.OnTelemetry(s.target.Name, t)
}

func (s *Supervisor) simulate() {
	if s.simulated {
		return
	}
	if s.target != nil {
		s.teardown(ErrSuperseded, true)
	}
	s.simulated = true
	s.simTick = 0
	s.target = &ble.Peripheral{ID: simulatedID, Name: SimulatedDeviceName}
	s.sessionID = uuid.NewString()
	s.lastErr = ""
	s.logger.Info("simulating device", zap.String("session", s.sessionID))
	s.transition(StateActive)
	s.timers.arm(timerPoll, 0)
}

// teardown returns the link to Idle. release asks the radio to drop the
// link or cancel the pending connect; it is false when the radio already
// reported the link gone.
func (s *Supervisor) teardown(reason error, release bool) {
	if s.target == nil {
		return
	}
	target := *s.target
	s.transition(StateDisconnecting)

	s.timers.cancel(timerDeadline)
	s.timers.cancel(timerPoll)
	s.timers.cancel(timerRSSI)
	if release && !s.simulated {
		if err := s.radio.Disconnect(target.ID); err != nil {
			s.logger.Warn("disconnecting", zap.String("device", target.Name), zap.Error(err))
		}
	}

	s.metrics.Disconnect(reasonLabel(reason))
	s.diag.Event("disconnected", zap.String("device", target.Name), zap.String("session", s.sessionID), zap.Error(reason))
	if errors.Is(reason, ErrRequested) || errors.Is(reason, ErrSuperseded) {
		s.logger.Info("disconnected", zap.String("device", target.Name), zap.Error(reason))
	} else {
		s.logger.Warn("link closed", zap.String("device", target.Name), zap.Error(reason))
	}

	s.simulated = false
	s.simTick = 0
	s.target = nil
	s.linked = false
	s.write = nil
	s.session = nil
	s.sessionID = ""
	s.rssi = 0
	s.pack = nil
	s.cells = nil
	s.lastErr = reason.Error()
	s.transition(StateIdle)
}

func (s *Supervisor) shutdown() {
	s.teardown(ErrRequested, true)
	s.stopScan()
	for k := range numTimers {
		s.timers.cancel(k)
	}
}

// sessionLink is the bms.Link handed to one session. Calls from a session
// that is no longer current are ignored.
type sessionLink struct {
	sup     *Supervisor
	session *bms.Session
}

func (l *sessionLink) live() bool {
	return l.session != nil && l.sup.session == l.session
}

func (l *sessionLink) Send(frame []byte) error {
	if !l.live() || l.sup.write == nil {
		return fmt.Errorf("%w: session closed", ErrLinkLost)
	}
	return l.sup.radio.Write(*l.sup.write, frame)
}

func (l *sessionLink) Authenticated() {
	if l.live() {
		l.sup.onAuthenticated()
	}
}

func (l *sessionLink) Drop(err error) {
	if l.live() {
		l.sup.teardown(err, true)
	}
}

func (l *sessionLink) Publish(t bms.Telemetry) {
	if l.live() {
		l.sup.publish(t)
	}
}
