package ble

import (
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	"tinygo.org/x/bluetooth"
)

// readBufferSize covers the largest attribute value allowed by ATT (512 bytes).
const readBufferSize = 512

var errNotConnected = errors.New("ble: not connected")

// TinygoAdapter wraps tinygo-org/bluetooth (BlueZ on Linux, CoreBluetooth on
// macOS, WinRT on Windows). Blocking tinygo calls run on their own goroutines
// and report back through the ConnectionHandler.
//
// On macOS, device addresses are CoreBluetooth UUIDs rather than MAC
// addresses; both are carried in Peripheral.Address as strings.
type TinygoAdapter struct {
	adapter *bluetooth.Adapter
	log     logrus.FieldLogger

	enableMu sync.Mutex
	enabled  bool

	// mu protects scan and conns.
	mu    sync.Mutex
	scan  *scanRun
	conns map[string]*tinygoConnection // keyed by normalized address
}

// scanRun tracks one call to the blocking tinygo Scan. stopped is set by
// StopScan, possibly before Scan has registered anything to cancel.
type scanRun struct {
	done    chan struct{}
	stopped bool
}

// NewTinygoAdapter creates an adapter backed by the default system radio.
func NewTinygoAdapter(log logrus.FieldLogger) *TinygoAdapter {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &TinygoAdapter{
		adapter: bluetooth.DefaultAdapter,
		log:     log,
		conns:   make(map[string]*tinygoConnection),
	}
}

// Compile-time check that TinygoAdapter implements Adapter.
var _ Adapter = (*TinygoAdapter)(nil)

// enable initializes the radio on first use. A failure is not cached, so a
// radio that appears later is picked up by the next call.
func (a *TinygoAdapter) enable() error {
	a.enableMu.Lock()
	defer a.enableMu.Unlock()
	if a.enabled {
		return nil
	}
	if err := a.adapter.Enable(); err != nil {
		return err
	}
	// tinygo reports peripheral disconnects through the adapter-level
	// handler, with connected=false.
	a.adapter.SetConnectHandler(func(device bluetooth.Device, connected bool) {
		if connected {
			return
		}
		a.mu.Lock()
		conn, ok := a.conns[device.Address.String()]
		a.mu.Unlock()
		if ok {
			conn.dropped()
		}
	})
	a.enabled = true
	return nil
}

func (a *TinygoAdapter) Available() bool {
	if err := a.enable(); err != nil {
		a.log.WithError(err).Debug("[BLE] adapter enable failed")
		return false
	}
	return true
}

// StartScan runs tinygo's blocking Scan on its own goroutine. tinygo only
// checks whether the radio is powered once scanning begins, so that failure
// arrives through onError.
func (a *TinygoAdapter) StartScan(onFound func(Peripheral), onError func(error)) error {
	if err := a.enable(); err != nil {
		return fmt.Errorf("ble: enable adapter: %w", err)
	}
	run, prev, err := a.beginScan()
	if err != nil {
		return err
	}
	go a.runScan(run, prev, onFound, onError)
	return nil
}

// beginScan registers a new scan. prev is a stopped scan whose goroutine may
// still be inside tinygo's Scan.
func (a *TinygoAdapter) beginScan() (run, prev *scanRun, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.scan != nil && !a.scan.stopped {
		return nil, nil, errors.New("ble: scan already running")
	}
	prev = a.scan
	run = &scanRun{done: make(chan struct{})}
	a.scan = run
	return run, prev, nil
}

func (a *TinygoAdapter) runScan(run, prev *scanRun, onFound func(Peripheral), onError func(error)) {
	defer close(run.done)
	defer a.endScan(run)
	// tinygo allows one Scan at a time.
	if prev != nil {
		<-prev.done
	}
	if a.stopRequested(run) {
		return
	}
	err := a.adapter.Scan(func(adapter *bluetooth.Adapter, result bluetooth.ScanResult) {
		if a.stopRequested(run) {
			// StopScan ran before Scan could be cancelled; finish it here.
			_ = adapter.StopScan()
			return
		}
		onFound(Peripheral{
			Address: result.Address.String(),
			Name:    result.LocalName(),
			RSSI:    int(result.RSSI),
		})
	})
	if err == nil || a.stopRequested(run) {
		return
	}
	a.log.WithError(err).Warn("[BLE] scan ended with error")
	if onError != nil {
		onError(err)
	}
}

func (a *TinygoAdapter) stopRequested(run *scanRun) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return run.stopped
}

func (a *TinygoAdapter) endScan(run *scanRun) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.scan == run {
		a.scan = nil
	}
}

// StopScan marks the running scan stopped and cancels it. If tinygo has not
// started listening yet, the scan goroutine cancels it on the first result.
func (a *TinygoAdapter) StopScan() error {
	a.mu.Lock()
	run := a.scan
	if run == nil || run.stopped {
		a.mu.Unlock()
		return nil
	}
	run.stopped = true
	a.mu.Unlock()
	if err := a.adapter.StopScan(); err != nil {
		a.log.WithError(err).Debug("[BLE] scan not yet running, stop deferred")
	}
	return nil
}

func (a *TinygoAdapter) Open(address string, h ConnectionHandler) (Connection, error) {
	if err := a.enable(); err != nil {
		return nil, fmt.Errorf("ble: enable adapter: %w", err)
	}
	var addr bluetooth.Address
	addr.Set(address)

	c := &tinygoConnection{
		owner: a,
		key:   addr.String(),
		h:     h,
	}
	a.mu.Lock()
	a.conns[c.key] = c
	a.mu.Unlock()

	go c.connect(addr)
	return c, nil
}

func (a *TinygoAdapter) forget(c *tinygoConnection) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.conns[c.key] == c {
		delete(a.conns, c.key)
	}
}

type tinygoConnection struct {
	owner *TinygoAdapter
	key   string
	h     ConnectionHandler

	mu     sync.Mutex
	device *bluetooth.Device
	chars  map[string]*bluetooth.DeviceCharacteristic
	closed bool
}

var _ Connection = (*tinygoConnection)(nil)

func (c *tinygoConnection) connect(addr bluetooth.Address) {
	// tinygo's Connect blocks with its own timeout.
	device, err := c.owner.adapter.Connect(addr, bluetooth.ConnectionParams{})

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		if err == nil {
			_ = device.Disconnect()
		}
		return
	}
	if err != nil {
		c.closed = true
		c.mu.Unlock()
		c.owner.forget(c)
		c.h.ConnectionStateChanged(false, err)
		return
	}
	c.device = &device
	c.mu.Unlock()
	c.h.ConnectionStateChanged(true, nil)
}

// dropped handles a link loss reported by the adapter.
func (c *tinygoConnection) dropped() {
	c.mu.Lock()
	if c.closed || c.device == nil {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()
	c.owner.forget(c)
	c.h.ConnectionStateChanged(false, nil)
}

func (c *tinygoConnection) connected() (*bluetooth.Device, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.device == nil {
		return nil, errNotConnected
	}
	return c.device, nil
}

// characteristic returns the discovered handle for uuid. The handle is shared
// across calls: tinygo keeps notification state inside it.
func (c *tinygoConnection) characteristic(uuid string) (*bluetooth.DeviceCharacteristic, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.device == nil {
		return nil, errNotConnected
	}
	ch, ok := c.chars[uuid]
	if !ok {
		return nil, fmt.Errorf("ble: characteristic %s not found", uuid)
	}
	return ch, nil
}

func (c *tinygoConnection) DiscoverServices() error {
	device, err := c.connected()
	if err != nil {
		return err
	}
	go func() {
		svcs, err := device.DiscoverServices(nil)
		if err != nil {
			c.h.ServicesDiscovered(nil, fmt.Errorf("ble: discover services: %w", err))
			return
		}
		chars := make(map[string]*bluetooth.DeviceCharacteristic)
		out := make([]Service, 0, len(svcs))
		for _, svc := range svcs {
			dcs, err := svc.DiscoverCharacteristics(nil)
			if err != nil {
				c.h.ServicesDiscovered(nil, fmt.Errorf("ble: discover characteristics of %s: %w", svc.UUID().String(), err))
				return
			}
			s := Service{UUID: svc.UUID().String()}
			for i := range dcs {
				dc := &dcs[i]
				id := dc.UUID().String()
				chars[id] = dc
				// tinygo does not expose declared properties on every
				// platform; reads and subscriptions fail at the radio if
				// the peripheral does not support them.
				s.Characteristics = append(s.Characteristics, Characteristic{
					UUID:         id,
					Capabilities: CapRead | CapNotify,
				})
			}
			out = append(out, s)
		}
		c.mu.Lock()
		c.chars = chars
		c.mu.Unlock()
		c.h.ServicesDiscovered(out, nil)
	}()
	return nil
}

func (c *tinygoConnection) ReadCharacteristic(uuid string) error {
	ch, err := c.characteristic(uuid)
	if err != nil {
		return err
	}
	go func() {
		buf := make([]byte, readBufferSize)
		n, err := ch.Read(buf)
		if err != nil {
			c.h.CharacteristicRead(uuid, nil, err)
			return
		}
		c.h.CharacteristicRead(uuid, buf[:n], nil)
	}()
	return nil
}

func (c *tinygoConnection) SetNotify(uuid string, enabled bool) error {
	ch, err := c.characteristic(uuid)
	if err != nil {
		return err
	}
	go func() {
		var err error
		if enabled {
			err = ch.EnableNotifications(func(buf []byte) {
				c.h.CharacteristicChanged(uuid, buf)
			})
		} else {
			err = ch.EnableNotifications(nil)
		}
		c.h.NotifyStateChanged(uuid, enabled, err)
	}()
	return nil
}

func (c *tinygoConnection) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	device := c.device
	c.device = nil
	c.chars = nil
	c.mu.Unlock()

	c.owner.forget(c)
	if device != nil {
		return device.Disconnect()
	}
	return nil
}
