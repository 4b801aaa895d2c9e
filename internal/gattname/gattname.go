// Package gattname maps GATT service and characteristic UUIDs to the names
// assigned by the Bluetooth SIG. Unknown UUIDs are returned uppercased.
package gattname

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

type entry struct {
	short string // 16-bit assigned number, uppercase hex
	name  string
}

// Order matters: the first containment match wins.
var services = []entry{
	{"1800", "Generic Access"},
	{"1801", "Generic Attribute"},
	{"180A", "Device Information"},
	{"1805", "Current Time"},
	{"180D", "Heart Rate"},
	{"180F", "Battery Service"},
	{"1809", "Health Thermometer"},
	{"1810", "Blood Pressure"},
	{"1812", "Human Interface Device"},
	{"1816", "Cycling Speed and Cadence"},
	{"181A", "Environmental Sensing"},
}

var characteristics = []entry{
	{"2A00", "Device Name"},
	{"2A01", "Appearance"},
	{"2A05", "Service Changed"},
	{"2A24", "Model Number"},
	{"2A29", "Manufacturer Name"},
	{"2A04", "Peripheral Preferred Connection Parameters"},
	{"2A19", "Battery Level"},
	{"2A23", "System ID"},
	{"2A25", "Serial Number"},
	{"2A26", "Firmware Revision"},
	{"2A27", "Hardware Revision"},
	{"2A28", "Software Revision"},
	{"2A2B", "Current Time"},
	{"2A37", "Heart Rate Measurement"},
	{"2A38", "Body Sensor Location"},
	{"2A6E", "Temperature"},
	{"2A6F", "Humidity"},
}

// Service returns the friendly name of a service UUID. 16-bit UUIDs, short
// or expanded over the Bluetooth base UUID, match their assigned number
// exactly. Any other UUID matches the first table entry whose assigned
// number it contains. Unknown UUIDs come back uppercased.
func Service(id string) string { return lookup(services, id) }

// Characteristic returns the friendly name of a characteristic UUID, matched
// the same way as Service.
func Characteristic(id string) string { return lookup(characteristics, id) }

func lookup(table []entry, id string) string {
	up := strings.ToUpper(strings.TrimSpace(id))
	if up == "" {
		return ""
	}
	if short, ok := ShortForm(up); ok {
		for _, e := range table {
			if e.short == short {
				return e.name
			}
		}
		return up
	}
	for _, e := range table {
		if strings.Contains(up, e.short) {
			return e.name
		}
	}
	return up
}

// bluetoothBase is 00000000-0000-1000-8000-00805F9B34FB, the base of every
// 16- and 32-bit SIG-assigned UUID.
var bluetoothBase = uuid.MustParse("00000000-0000-1000-8000-00805f9b34fb")

// ShortForm returns the 16-bit assigned number of id when id is a 16-bit
// UUID, either written short ("2a00", "0x2A00") or expanded over the
// Bluetooth base UUID.
func ShortForm(id string) (string, bool) {
	s := strings.TrimPrefix(strings.ToUpper(strings.TrimSpace(id)), "0X")
	if len(s) == 4 && isHex(s) {
		return s, true
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return "", false
	}
	if u[0] != 0 || u[1] != 0 {
		return "", false
	}
	for i := 4; i < len(u); i++ {
		if u[i] != bluetoothBase[i] {
			return "", false
		}
	}
	return fmt.Sprintf("%02X%02X", u[2], u[3]), true
}

func isHex(s string) bool {
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9', r >= 'A' && r <= 'F':
		default:
			return false
		}
	}
	return true
}
