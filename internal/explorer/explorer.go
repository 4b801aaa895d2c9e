// Package explorer turns manager events into a browsable list of devices and
// characteristics, and drives the next step of the exploration (service
// discovery on connect, notification subscription after discovery).
package explorer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	"github.com/sirupsen/logrus"

	"github.com/chaz8081/blexplorer/internal/ble"
)

// Central is the part of ble.Manager the controller drives.
type Central interface {
	Connect(address string) error
	DiscoverServices() error
	ReadCharacteristic(c ble.Characteristic) error
	SetNotification(c ble.Characteristic, enabled bool) error
}

var _ Central = (*ble.Manager)(nil)

var errNotBound = errors.New("explorer: controller not bound to a central")

// Row is one characteristic in the service/characteristic list.
type Row struct {
	ServiceName    string
	Characteristic ble.Characteristic
}

// Controller implements ble.EventSink. Bind must be called before events
// that need to drive the Central arrive; until then those steps are skipped.
type Controller struct {
	out io.Writer
	log logrus.FieldLogger

	mu         sync.Mutex
	central    Central
	devices    []ble.Peripheral
	rows       []Row
	tracked    *ble.Characteristic // characteristic with notifications enabled
	scanning   bool
	peripheral *ble.Peripheral
	discovered bool
	scans      int // completed scans
	drops      int // disconnects
	received   int
	failures   int
	changed    chan struct{}
}

var _ ble.EventSink = (*Controller)(nil)

// New creates a controller that renders to out.
func New(out io.Writer, log logrus.FieldLogger) *Controller {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Controller{
		out:     out,
		log:     log,
		changed: make(chan struct{}),
	}
}

// Bind sets the Central the controller drives.
func (c *Controller) Bind(central Central) {
	c.mu.Lock()
	c.central = central
	c.mu.Unlock()
}

// changedLocked wakes every Wait caller.
func (c *Controller) changedLocked() {
	close(c.changed)
	c.changed = make(chan struct{})
}

func (c *Controller) printf(format string, args ...any) {
	if c.out == nil {
		return
	}
	fmt.Fprintf(c.out, format, args...)
}

func (c *Controller) ScanStarted() {
	c.mu.Lock()
	c.devices = nil
	c.rows = nil
	c.scanning = true
	c.changedLocked()
	c.mu.Unlock()
	c.printf("Scanning...\n")
}

func (c *Controller) ScanStopped() {
	c.mu.Lock()
	c.scanning = false
	c.scans++
	n := len(c.devices)
	c.changedLocked()
	c.mu.Unlock()
	c.printf("Scan stopped, %d device(s) found\n", n)
}

func (c *Controller) PeripheralDiscovered(p ble.Peripheral) {
	c.mu.Lock()
	for i := range c.devices {
		if c.devices[i].Address == p.Address {
			c.devices[i] = p
			c.mu.Unlock()
			return
		}
	}
	c.devices = append(c.devices, p)
	idx := len(c.devices) - 1
	c.changedLocked()
	c.mu.Unlock()
	c.printf("  [%d] %-17s  %-24s  RSSI %d\n", idx, p.Address, p.Name, p.RSSI)
}

func (c *Controller) Connected(p ble.Peripheral) {
	c.mu.Lock()
	c.peripheral = &p
	central := c.central
	c.changedLocked()
	c.mu.Unlock()
	c.printf("Connected to %s\n", p.DisplayName())

	if central == nil {
		return
	}
	if err := central.DiscoverServices(); err != nil {
		c.log.WithError(err).Warn("[BLE] discover services")
	}
}

func (c *Controller) Disconnected(p ble.Peripheral) {
	c.mu.Lock()
	c.rows = nil
	c.tracked = nil
	c.peripheral = nil
	c.discovered = false
	c.drops++
	c.changedLocked()
	c.mu.Unlock()
	c.printf("Disconnected from %s\n", p.DisplayName())
}

func (c *Controller) ServicesDiscovered(services []ble.Service) {
	var rows []Row
	for _, svc := range services {
		for _, ch := range svc.Characteristics {
			rows = append(rows, Row{ServiceName: svc.Name, Characteristic: ch})
		}
	}

	c.mu.Lock()
	c.rows = rows
	c.discovered = true
	central := c.central
	c.changedLocked()
	c.mu.Unlock()

	for i, r := range rows {
		c.printf("  [%d] %s / %s (%s)\n", i, r.ServiceName, r.Characteristic.Name, r.Characteristic.Capabilities)
	}
	if central != nil {
		c.applyNotificationPolicy(central, rows)
	}
}

// applyNotificationPolicy keeps at most one subscription: a readable
// characteristic clears the tracked one, a notifiable one replaces it.
func (c *Controller) applyNotificationPolicy(central Central, rows []Row) {
	for _, r := range rows {
		ch := r.Characteristic
		if ch.Capabilities.Has(ble.CapRead) {
			c.mu.Lock()
			tracked := c.tracked
			c.tracked = nil
			c.mu.Unlock()
			if tracked != nil {
				if err := central.SetNotification(*tracked, false); err != nil {
					c.log.WithError(err).WithField("uuid", tracked.UUID).Warn("[BLE] disable notification")
				}
			}
		}
		if ch.Capabilities.Has(ble.CapNotify) {
			if err := central.SetNotification(ch, true); err != nil {
				c.log.WithError(err).WithField("uuid", ch.UUID).Warn("[BLE] enable notification")
				continue
			}
			c.mu.Lock()
			c.tracked = &ch
			c.mu.Unlock()
		}
	}
}

func (c *Controller) DataAvailable(v ble.CharacteristicValue) {
	c.mu.Lock()
	c.received++
	name := v.UUID
	for _, r := range c.rows {
		if r.Characteristic.UUID == v.UUID {
			name = r.Characteristic.Name
			break
		}
	}
	c.changedLocked()
	c.mu.Unlock()

	kind := "read"
	if v.Notification {
		kind = "notification"
	}
	c.printf("%s %s:\n%s\n", name, kind, FormatValue(v.Value))
}

func (c *Controller) OperationFailed(op ble.Operation, err error) {
	c.mu.Lock()
	c.failures++
	c.changedLocked()
	c.mu.Unlock()
	c.printf("%s failed: %v\n", op, err)
}

// FormatValue renders a value as its printable text followed by a line of
// uppercase hex bytes. Bytes that are not valid UTF-8 and non-printable runes
// show as '.'.
func FormatValue(value []byte) string {
	var b strings.Builder
	for rest := value; len(rest) > 0; {
		r, size := utf8.DecodeRune(rest)
		rest = rest[size:]
		if (r == utf8.RuneError && size == 1) || !unicode.IsPrint(r) {
			b.WriteByte('.')
			continue
		}
		b.WriteRune(r)
	}
	return b.String() + "\n" + fmt.Sprintf("% X", value)
}

// Devices returns the discovered peripherals in discovery order.
func (c *Controller) Devices() []ble.Peripheral {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]ble.Peripheral(nil), c.devices...)
}

// Rows returns the characteristics of the connected peripheral.
func (c *Controller) Rows() []Row {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Row(nil), c.rows...)
}

// Find returns the index of the device whose address or name matches target.
func (c *Controller) Find(target string) (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, p := range c.devices {
		if strings.EqualFold(p.Address, target) || (p.Name != "" && p.Name == target) {
			return i, true
		}
	}
	return -1, false
}

// Select connects to device i.
func (c *Controller) Select(i int) error {
	c.mu.Lock()
	central := c.central
	if i < 0 || i >= len(c.devices) {
		c.mu.Unlock()
		return fmt.Errorf("no device at index %d", i)
	}
	p := c.devices[i]
	c.mu.Unlock()
	if central == nil {
		return errNotBound
	}
	return central.Connect(p.Address)
}

// ReadRow reads characteristic row i.
func (c *Controller) ReadRow(i int) error {
	c.mu.Lock()
	central := c.central
	if i < 0 || i >= len(c.rows) {
		c.mu.Unlock()
		return fmt.Errorf("no characteristic at index %d", i)
	}
	ch := c.rows[i].Characteristic
	c.mu.Unlock()
	if central == nil {
		return errNotBound
	}
	return central.ReadCharacteristic(ch)
}

// Tracked returns the characteristic with notifications enabled, if any.
func (c *Controller) Tracked() (ble.Characteristic, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tracked == nil {
		return ble.Characteristic{}, false
	}
	return *c.tracked, true
}

// Snapshot is a consistent view of the controller state.
type Snapshot struct {
	Scanning    bool
	Connected   bool
	Discovered  bool
	Devices     int
	Rows        int
	Scans       int // ScanStopped events seen
	Disconnects int
	Received    int
	Failures    int
}

func (c *Controller) snapshotLocked() Snapshot {
	return Snapshot{
		Scanning:    c.scanning,
		Connected:   c.peripheral != nil,
		Discovered:  c.discovered,
		Devices:     len(c.devices),
		Rows:        len(c.rows),
		Scans:       c.scans,
		Disconnects: c.drops,
		Received:    c.received,
		Failures:    c.failures,
	}
}

// Snapshot returns the current state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Wait blocks until cond holds for the controller state or ctx is done.
func (c *Controller) Wait(ctx context.Context, cond func(Snapshot) bool) error {
	for {
		c.mu.Lock()
		ok := cond(c.snapshotLocked())
		ch := c.changed
		c.mu.Unlock()
		if ok {
			return nil
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
