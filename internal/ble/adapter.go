// Package ble provides the central-role BLE connection manager. It drives one
// peripheral connection at a time through scan, connect, service discovery,
// characteristic reads and notifications, and reports the results as events.
package ble

import (
	"strings"

	"github.com/google/uuid"
)

// SessionID identifies one connection attempt. Callbacks carrying an ID that
// no longer matches the active session are discarded.
type SessionID = uuid.UUID

// Peripheral is a device discovered during a scan.
type Peripheral struct {
	Address string
	Name    string
	RSSI    int
}

// DisplayName returns the advertised name, or the address when the
// peripheral did not advertise one.
func (p Peripheral) DisplayName() string {
	if p.Name != "" {
		return p.Name
	}
	return p.Address
}

// Capability is the set of properties a peripheral declares for a characteristic.
type Capability uint8

const (
	CapRead Capability = 1 << iota
	CapWrite
	CapWriteNoResponse
	CapNotify
	CapIndicate
)

// Has reports whether every bit of want is set.
func (c Capability) Has(want Capability) bool {
	return want != 0 && c&want == want
}

// Any reports whether at least one bit of want is set.
func (c Capability) Any(want Capability) bool {
	return c&want != 0
}

func (c Capability) String() string {
	if c == 0 {
		return "none"
	}
	var parts []string
	for _, f := range []struct {
		bit  Capability
		name string
	}{
		{CapRead, "read"},
		{CapWrite, "write"},
		{CapWriteNoResponse, "write-without-response"},
		{CapNotify, "notify"},
		{CapIndicate, "indicate"},
	} {
		if c&f.bit != 0 {
			parts = append(parts, f.name)
		}
	}
	return strings.Join(parts, "|")
}

// Characteristic describes a characteristic discovered on the connected
// peripheral. It is only valid for the session that discovered it.
type Characteristic struct {
	UUID         string
	ServiceUUID  string
	Name         string
	Capabilities Capability

	session SessionID
}

// Session returns the ID of the session that discovered the characteristic.
func (c Characteristic) Session() SessionID { return c.session }

// Service describes a discovered GATT service and its characteristics, in the
// order the transport reported them.
type Service struct {
	UUID            string
	Name            string
	Characteristics []Characteristic
}

// CharacteristicValue is a value returned by a read or pushed by a notification.
type CharacteristicValue struct {
	UUID         string
	Value        []byte
	Notification bool
}

// ConnectionHandler receives the asynchronous results of one Connection.
// Implementations may be called from any goroutine.
type ConnectionHandler interface {
	// ConnectionStateChanged reports the link coming up or going down. A
	// failed connection attempt is reported as connected=false with err set.
	ConnectionStateChanged(connected bool, err error)
	// ServicesDiscovered completes a DiscoverServices call.
	ServicesDiscovered(services []Service, err error)
	// CharacteristicRead completes a ReadCharacteristic call.
	CharacteristicRead(uuid string, value []byte, err error)
	// CharacteristicChanged delivers an unsolicited notification.
	CharacteristicChanged(uuid string, value []byte)
	// NotifyStateChanged completes a SetNotify call.
	NotifyStateChanged(uuid string, enabled bool, err error)
}

// Connection is a transport link to a single peripheral. Every method must
// return without waiting for the radio; results arrive on the
// ConnectionHandler passed to Adapter.Open.
type Connection interface {
	DiscoverServices() error
	ReadCharacteristic(uuid string) error
	SetNotify(uuid string, enabled bool) error
	// Close releases the link. It must be safe to call more than once.
	Close() error
}

// Adapter abstracts the BLE hardware adapter for testing.
type Adapter interface {
	// Available reports whether a radio is present and powered on. Some
	// transports only find out the radio is off once a scan runs; that is
	// reported through StartScan's onError.
	Available() bool
	// StartScan begins discovery. onFound is called for each advertisement
	// until StopScan is called. If the scan ends on its own with an error
	// (radio powered off, bus failure), onError is called once with it.
	StartScan(onFound func(Peripheral), onError func(error)) error
	// StopScan ends discovery. It is safe to call when not scanning.
	StopScan() error
	// Open starts connecting to the peripheral with the given address.
	Open(address string, h ConnectionHandler) (Connection, error)
}
