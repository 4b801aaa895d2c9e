package ble

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/chaz8081/blexplorer/internal/gattname"
)

// FailurePolicy controls whether asynchronous transport failures are
// reported to the EventSink.
type FailurePolicy int

const (
	// FailureSurface emits OperationFailed for every failed operation.
	FailureSurface FailurePolicy = iota
	// FailureSilent only logs failures; the sink sees no event.
	FailureSilent
)

func (p FailurePolicy) String() string {
	if p == FailureSilent {
		return "silent"
	}
	return "surface"
}

// ParseFailurePolicy converts "surface" or "silent" to a FailurePolicy.
func ParseFailurePolicy(s string) (FailurePolicy, error) {
	switch s {
	case "", "surface":
		return FailureSurface, nil
	case "silent":
		return FailureSilent, nil
	default:
		return FailureSurface, fmt.Errorf("ble: unknown failure policy %q", s)
	}
}

// Options configures the Manager.
type Options struct {
	ScanDuration    time.Duration // used when StartScan gets d <= 0
	AllowDuplicates bool          // report every advertisement, not once per address
	FailurePolicy   FailurePolicy
	Logger          logrus.FieldLogger
	InboxSize       int // buffered callbacks waiting for the manager loop
}

// DefaultOptions returns the values NewManager uses for unset fields.
func DefaultOptions() Options {
	return Options{
		ScanDuration:  10 * time.Second,
		FailurePolicy: FailureSurface,
		Logger:        logrus.StandardLogger(),
		InboxSize:     64,
	}
}

type session struct {
	id         SessionID
	peripheral Peripheral
	conn       Connection

	discovering bool
	services    []Service
	reads       map[string]int  // pending reads per characteristic UUID
	requested   map[string]bool // last notification state asked of the transport
	notifying   map[string]bool // confirmed by the transport
}

func (s *session) has(c Characteristic) bool {
	for _, svc := range s.services {
		if svc.UUID != c.ServiceUUID {
			continue
		}
		for _, ch := range svc.Characteristics {
			if ch.UUID == c.UUID {
				return true
			}
		}
	}
	return false
}

// Manager owns the single connection session and the scan. All state is
// confined to one goroutine; operations and transport callbacks are applied
// in the order they reach its mailbox.
type Manager struct {
	adapter Adapter
	opts    Options
	log     logrus.FieldLogger

	inbox     chan func()
	done      chan struct{}
	closed    chan struct{}
	closeOnce sync.Once
	events    *dispatcher

	// Owned by the loop goroutine.
	state    State
	scanGen  uint64
	scanStop alarm
	seen     map[string]bool
	found    []Peripheral
	sess     *session
}

// NewManager starts a Manager on the given adapter. Events go to sink, which
// may be nil. Panics if adapter is nil (programmer error).
func NewManager(adapter Adapter, sink EventSink, opts Options) *Manager {
	if adapter == nil {
		panic("ble: NewManager called with nil adapter")
	}
	if sink == nil {
		sink = EventSinkFuncs{}
	}
	def := DefaultOptions()
	if opts.ScanDuration <= 0 {
		opts.ScanDuration = def.ScanDuration
	}
	if opts.Logger == nil {
		opts.Logger = def.Logger
	}
	if opts.InboxSize <= 0 {
		opts.InboxSize = def.InboxSize
	}
	m := &Manager{
		adapter: adapter,
		opts:    opts,
		log:     opts.Logger,
		inbox:   make(chan func(), opts.InboxSize),
		done:    make(chan struct{}),
		closed:  make(chan struct{}),
		events:  newDispatcher(sink),
		state:   StateIdle,
	}
	go m.loop()
	return m
}

func (m *Manager) loop() {
	defer close(m.closed)
	for {
		select {
		case fn := <-m.inbox:
			select {
			case <-m.done:
				return
			default:
			}
			fn()
		case <-m.done:
			return
		}
	}
}

// call runs fn on the loop goroutine and waits for its result.
func (m *Manager) call(fn func() error) error {
	reply := make(chan error, 1)
	select {
	case <-m.done:
		return ErrClosed
	default:
	}
	select {
	case m.inbox <- func() { reply <- fn() }:
	case <-m.done:
		return ErrClosed
	}
	select {
	case err := <-reply:
		return err
	case <-m.closed:
		select {
		case err := <-reply:
			return err
		default:
			return ErrClosed
		}
	}
}

// post queues fn for the loop goroutine without waiting. It is used by
// transport callbacks and timers.
func (m *Manager) post(fn func()) {
	select {
	case <-m.done:
		return
	default:
	}
	select {
	case m.inbox <- fn:
	case <-m.done:
	}
}

func (m *Manager) emit(ev func(EventSink)) {
	m.events.push(ev)
}

// transition is the only place the state changes.
func (m *Manager) transition(to State) {
	from := m.state
	if from == to {
		return
	}
	if !canTransition(from, to) {
		m.log.WithFields(logrus.Fields{"from": from, "to": to}).Error("[BLE] illegal state transition")
	}
	m.state = to
	m.log.WithFields(logrus.Fields{"from": from, "to": to}).Debug("[BLE] state")
}

func (m *Manager) fail(op Operation, uuid string, err error) {
	var address string
	if m.sess != nil {
		address = m.sess.peripheral.Address
	}
	opErr := &OperationError{Op: op, Address: address, UUID: uuid, Err: err}
	m.log.WithError(err).WithField("op", op).Warn("[BLE] operation failed")
	if m.opts.FailurePolicy == FailureSurface {
		m.emit(func(s EventSink) { s.OperationFailed(op, opErr) })
	}
}

// AdapterAvailable reports whether the radio is present and powered on.
// Callers should check it before scanning or connecting.
func (m *Manager) AdapterAvailable() bool {
	return m.adapter.Available()
}

// StartScan begins discovery and stops it automatically after d (or
// Options.ScanDuration when d <= 0). Calling it while scanning restarts the
// timeout window.
func (m *Manager) StartScan(d time.Duration) error {
	if d <= 0 {
		d = m.opts.ScanDuration
	}
	return m.call(func() error { return m.startScan(d) })
}

func (m *Manager) startScan(d time.Duration) error {
	if m.state == StateScanning {
		m.armScanStop(d)
		m.log.WithField("duration", d).Debug("[BLE] scan window restarted")
		return nil
	}
	if m.state.Active() {
		return fmt.Errorf("ble: start scan in state %s: %w", m.state, ErrInvalidState)
	}
	if !m.adapter.Available() {
		m.log.Warn("[BLE] adapter unavailable, not scanning")
		return ErrAdapterUnavailable
	}

	m.scanGen++
	gen := m.scanGen
	m.seen = make(map[string]bool)
	m.found = nil
	onFound := func(p Peripheral) {
		m.post(func() { m.onPeripheral(gen, p) })
	}
	onError := func(err error) {
		m.post(func() { m.onScanFailed(gen, err) })
	}
	if err := m.adapter.StartScan(onFound, onError); err != nil {
		return fmt.Errorf("ble: start scan: %w", err)
	}

	m.transition(StateScanning)
	m.emit(func(s EventSink) { s.ScanStarted() })
	m.armScanStop(d)
	m.log.WithField("duration", d).Info("[BLE] scanning")
	return nil
}

func (m *Manager) armScanStop(d time.Duration) {
	m.scanStop.Arm(d, func(gen uint64) {
		m.post(func() { m.onScanTimeout(gen) })
	})
}

func (m *Manager) onScanTimeout(gen uint64) {
	if !m.scanStop.Current(gen) {
		return
	}
	m.log.Debug("[BLE] scan window elapsed")
	m.stopScan()
}

// StopScan ends discovery. Safe to call when not scanning.
func (m *Manager) StopScan() {
	_ = m.call(func() error {
		m.stopScan()
		return nil
	})
}

func (m *Manager) stopScan() {
	if m.state != StateScanning {
		return
	}
	m.scanStop.Cancel()
	if err := m.adapter.StopScan(); err != nil {
		m.log.WithError(err).Warn("[BLE] stop scan")
	}
	m.transition(StateIdle)
	m.emit(func(s EventSink) { s.ScanStopped() })
	m.log.WithField("found", len(m.found)).Info("[BLE] scan stopped")
}

// onScanFailed handles a scan that the adapter ended on its own.
func (m *Manager) onScanFailed(gen uint64, err error) {
	if gen != m.scanGen || m.state != StateScanning {
		return
	}
	m.stopScan()
	m.fail(OpScan, "", err)
}

func (m *Manager) onPeripheral(gen uint64, p Peripheral) {
	if gen != m.scanGen || m.state != StateScanning {
		return
	}
	if m.seen[p.Address] {
		for i := range m.found {
			if m.found[i].Address == p.Address {
				if p.Name == "" {
					p.Name = m.found[i].Name
				}
				m.found[i] = p
			}
		}
		if !m.opts.AllowDuplicates {
			return
		}
	} else {
		m.seen[p.Address] = true
		m.found = append(m.found, p)
	}
	m.emit(func(s EventSink) { s.PeripheralDiscovered(p) })
}

// Connect starts connecting to the peripheral with the given address. Any
// running scan is stopped and any existing session is torn down first. The
// result arrives as a Connected or Disconnected event.
func (m *Manager) Connect(address string) error {
	if address == "" {
		return errors.New("ble: connect: empty address")
	}
	return m.call(func() error { return m.connect(address) })
}

func (m *Manager) connect(address string) error {
	if !m.adapter.Available() {
		return ErrAdapterUnavailable
	}
	m.stopScan()
	m.endSession()

	p := Peripheral{Address: address}
	for _, f := range m.found {
		if f.Address == address {
			p = f
			break
		}
	}
	s := &session{
		id:         uuid.New(),
		peripheral: p,
		reads:      make(map[string]int),
		requested:  make(map[string]bool),
		notifying:  make(map[string]bool),
	}
	conn, err := m.adapter.Open(address, sessionHandler{m: m, id: s.id})
	if err != nil {
		return fmt.Errorf("ble: connect to %s: %w", address, err)
	}
	s.conn = conn
	m.sess = s
	m.transition(StateConnecting)
	m.log.WithFields(logrus.Fields{"address": address, "session": s.id}).Info("[BLE] connecting")
	return nil
}

// Disconnect closes the active session. Safe to call without one.
func (m *Manager) Disconnect() {
	_ = m.call(func() error {
		m.endSession()
		return nil
	})
}

// endSession releases the transport handle and emits Disconnected.
func (m *Manager) endSession() {
	s := m.sess
	if s == nil {
		return
	}
	m.sess = nil
	if err := s.conn.Close(); err != nil {
		m.log.WithError(err).WithField("address", s.peripheral.Address).Warn("[BLE] close connection")
	}
	m.transition(StateDisconnected)
	m.emit(func(sink EventSink) { sink.Disconnected(s.peripheral) })
	m.log.WithFields(logrus.Fields{"address": s.peripheral.Address, "session": s.id}).Info("[BLE] disconnected")
}

// current returns the active session if id matches it.
func (m *Manager) current(id SessionID, what string) *session {
	if m.sess == nil || m.sess.id != id {
		m.log.WithFields(logrus.Fields{"session": id, "callback": what}).Debug("[BLE] dropping stale callback")
		return nil
	}
	return m.sess
}

func (m *Manager) onConnectionState(id SessionID, connected bool, err error) {
	s := m.current(id, "connection-state")
	if s == nil {
		return
	}
	if connected {
		if m.state != StateConnecting {
			return
		}
		m.transition(StateConnected)
		m.emit(func(sink EventSink) { sink.Connected(s.peripheral) })
		m.log.WithField("address", s.peripheral.Address).Info("[BLE] connected")
		return
	}
	if err != nil && m.state == StateConnecting {
		m.fail(OpConnect, "", err)
	}
	m.endSession()
}

// DiscoverServices asks the peripheral for its services. Valid only in
// Connected; the result arrives as a ServicesDiscovered event.
func (m *Manager) DiscoverServices() error {
	return m.call(func() error {
		if m.sess == nil || m.state != StateConnected {
			return fmt.Errorf("ble: discover services in state %s: %w", m.state, ErrInvalidState)
		}
		if m.sess.discovering {
			return fmt.Errorf("ble: discover services already pending: %w", ErrInvalidState)
		}
		if err := m.sess.conn.DiscoverServices(); err != nil {
			return fmt.Errorf("ble: discover services: %w", err)
		}
		m.sess.discovering = true
		return nil
	})
}

func (m *Manager) onServicesDiscovered(id SessionID, services []Service, err error) {
	s := m.current(id, "services-discovered")
	if s == nil {
		return
	}
	if !s.discovering || m.state != StateConnected {
		return
	}
	s.discovering = false
	if err != nil {
		m.fail(OpDiscoverServices, "", err)
		return
	}
	s.services = describe(s.id, services)
	m.transition(StateServicesDiscovered)
	out := copyServices(s.services)
	m.emit(func(sink EventSink) { sink.ServicesDiscovered(out) })
	m.log.WithFields(logrus.Fields{"address": s.peripheral.Address, "services": len(out)}).Info("[BLE] services discovered")
}

// describe stamps the transport's descriptors with names and the session tag.
func describe(id SessionID, services []Service) []Service {
	out := make([]Service, len(services))
	for i, svc := range services {
		out[i] = Service{
			UUID:            svc.UUID,
			Name:            gattname.Service(svc.UUID),
			Characteristics: make([]Characteristic, len(svc.Characteristics)),
		}
		for j, c := range svc.Characteristics {
			out[i].Characteristics[j] = Characteristic{
				UUID:         c.UUID,
				ServiceUUID:  svc.UUID,
				Name:         gattname.Characteristic(c.UUID),
				Capabilities: c.Capabilities,
				session:      id,
			}
		}
	}
	return out
}

func copyServices(in []Service) []Service {
	out := make([]Service, len(in))
	for i, svc := range in {
		out[i] = svc
		out[i].Characteristics = append([]Characteristic(nil), svc.Characteristics...)
	}
	return out
}

// checkDescriptor validates that c may be used in the current session.
func (m *Manager) checkDescriptor(c Characteristic, want Capability) error {
	switch {
	case m.sess != nil && m.state != StateServicesDiscovered:
		return fmt.Errorf("ble: characteristic %s in state %s: %w", c.UUID, m.state, ErrInvalidState)
	case m.sess == nil && c.session == uuid.Nil:
		return fmt.Errorf("ble: characteristic %s in state %s: %w", c.UUID, m.state, ErrInvalidState)
	case m.sess == nil || c.session != m.sess.id || !m.sess.has(c):
		return fmt.Errorf("ble: characteristic %s: %w", c.UUID, ErrStaleDescriptor)
	case !c.Capabilities.Any(want):
		return fmt.Errorf("ble: characteristic %s (%s): %w", c.UUID, c.Capabilities, ErrNotSupported)
	}
	return nil
}

// ReadCharacteristic starts an asynchronous read. The value arrives as a
// DataAvailable event.
func (m *Manager) ReadCharacteristic(c Characteristic) error {
	return m.call(func() error {
		if err := m.checkDescriptor(c, CapRead); err != nil {
			return err
		}
		if err := m.sess.conn.ReadCharacteristic(c.UUID); err != nil {
			return fmt.Errorf("ble: read %s: %w", c.UUID, err)
		}
		m.sess.reads[c.UUID]++
		return nil
	})
}

func (m *Manager) onCharacteristicRead(id SessionID, uuid string, value []byte, err error) {
	s := m.current(id, "characteristic-read")
	if s == nil || m.state != StateServicesDiscovered {
		return
	}
	if s.reads[uuid] == 0 {
		m.log.WithField("uuid", uuid).Debug("[BLE] unsolicited read result")
		return
	}
	s.reads[uuid]--
	if err != nil {
		m.fail(OpRead, uuid, err)
		return
	}
	v := CharacteristicValue{UUID: uuid, Value: value}
	m.emit(func(sink EventSink) { sink.DataAvailable(v) })
}

// SetNotification enables or disables push delivery for c. Asking for the
// state last requested is a no-op.
func (m *Manager) SetNotification(c Characteristic, enabled bool) error {
	return m.call(func() error {
		if err := m.checkDescriptor(c, CapNotify|CapIndicate); err != nil {
			return err
		}
		if m.sess.requested[c.UUID] == enabled {
			return nil
		}
		if err := m.sess.conn.SetNotify(c.UUID, enabled); err != nil {
			return fmt.Errorf("ble: set notify %s: %w", c.UUID, err)
		}
		m.sess.requested[c.UUID] = enabled
		return nil
	})
}

func (m *Manager) onNotifyStateChanged(id SessionID, uuid string, enabled bool, err error) {
	s := m.current(id, "notify-state")
	if s == nil || m.state != StateServicesDiscovered {
		return
	}
	if err != nil {
		if s.requested[uuid] == enabled {
			s.requested[uuid] = s.notifying[uuid]
		}
		m.fail(OpNotify, uuid, err)
		return
	}
	if enabled {
		s.notifying[uuid] = true
	} else {
		delete(s.notifying, uuid)
	}
	m.log.WithFields(logrus.Fields{"uuid": uuid, "enabled": enabled}).Debug("[BLE] notification state")
}

func (m *Manager) onCharacteristicChanged(id SessionID, uuid string, value []byte) {
	s := m.current(id, "characteristic-changed")
	if s == nil || m.state != StateServicesDiscovered {
		return
	}
	v := CharacteristicValue{UUID: uuid, Value: value, Notification: true}
	m.emit(func(sink EventSink) { sink.DataAvailable(v) })
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	var st State
	if err := m.call(func() error { st = m.state; return nil }); err != nil {
		return StateDisconnected
	}
	return st
}

// Peripheral returns the target of the active session.
func (m *Manager) Peripheral() (Peripheral, bool) {
	var (
		p  Peripheral
		ok bool
	)
	_ = m.call(func() error {
		if m.sess != nil {
			p, ok = m.sess.peripheral, true
		}
		return nil
	})
	return p, ok
}

// Services returns the descriptors discovered in the active session. It is
// empty unless the state is ServicesDiscovered.
func (m *Manager) Services() []Service {
	var out []Service
	_ = m.call(func() error {
		if m.sess != nil && m.state == StateServicesDiscovered {
			out = copyServices(m.sess.services)
		}
		return nil
	})
	return out
}

// Peripherals returns the peripherals found by the most recent scan, in
// discovery order.
func (m *Manager) Peripherals() []Peripheral {
	var out []Peripheral
	_ = m.call(func() error {
		out = append([]Peripheral(nil), m.found...)
		return nil
	})
	return out
}

// Notifying returns the UUIDs of characteristics with notifications enabled.
func (m *Manager) Notifying() []string {
	var out []string
	_ = m.call(func() error {
		if m.sess == nil {
			return nil
		}
		for _, svc := range m.sess.services {
			for _, c := range svc.Characteristics {
				if m.sess.notifying[c.UUID] {
					out = append(out, c.UUID)
				}
			}
		}
		return nil
	})
	return out
}

// Close stops any scan, releases the session and stops the manager. Events
// already emitted are still delivered.
func (m *Manager) Close() error {
	err := m.call(func() error {
		m.stopScan()
		m.endSession()
		m.closeOnce.Do(func() { close(m.done) })
		return nil
	})
	if errors.Is(err, ErrClosed) {
		return nil
	}
	m.events.close()
	return err
}

// sessionHandler tags transport callbacks with the session they belong to
// and forwards them to the manager loop.
type sessionHandler struct {
	m  *Manager
	id SessionID
}

var _ ConnectionHandler = sessionHandler{}

func (h sessionHandler) ConnectionStateChanged(connected bool, err error) {
	h.m.post(func() { h.m.onConnectionState(h.id, connected, err) })
}

func (h sessionHandler) ServicesDiscovered(services []Service, err error) {
	h.m.post(func() { h.m.onServicesDiscovered(h.id, services, err) })
}

func (h sessionHandler) CharacteristicRead(uuid string, value []byte, err error) {
	v := append([]byte(nil), value...)
	h.m.post(func() { h.m.onCharacteristicRead(h.id, uuid, v, err) })
}

func (h sessionHandler) CharacteristicChanged(uuid string, value []byte) {
	v := append([]byte(nil), value...)
	h.m.post(func() { h.m.onCharacteristicChanged(h.id, uuid, v) })
}

func (h sessionHandler) NotifyStateChanged(uuid string, enabled bool, err error) {
	h.m.post(func() { h.m.onNotifyStateChanged(h.id, uuid, enabled, err) })
}
