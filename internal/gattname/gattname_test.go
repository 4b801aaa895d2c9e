package gattname

import "testing"

func TestServiceNames(t *testing.T) {
	tests := []struct {
		id   string
		want string
	}{
		{"00001800-0000-1000-8000-00805f9b34fb", "Generic Access"},
		{"00001801-0000-1000-8000-00805f9b34fb", "Generic Attribute"},
		{"0000180a-0000-1000-8000-00805f9b34fb", "Device Information"},
		{"0000180F-0000-1000-8000-00805F9B34FB", "Battery Service"},
		{"180d", "Heart Rate"},
		{"0x181A", "Environmental Sensing"},
	}
	for _, tt := range tests {
		if got := Service(tt.id); got != tt.want {
			t.Errorf("Service(%q) = %q, want %q", tt.id, got, tt.want)
		}
	}
}

func TestCharacteristicNames(t *testing.T) {
	tests := []struct {
		id   string
		want string
	}{
		{"00002a00-0000-1000-8000-00805f9b34fb", "Device Name"},
		{"00002a01-0000-1000-8000-00805f9b34fb", "Appearance"},
		{"00002a05-0000-1000-8000-00805f9b34fb", "Service Changed"},
		{"00002a24-0000-1000-8000-00805f9b34fb", "Model Number"},
		{"00002a29-0000-1000-8000-00805f9b34fb", "Manufacturer Name"},
		{"00002a19-0000-1000-8000-00805f9b34fb", "Battery Level"},
		{"2a37", "Heart Rate Measurement"},
	}
	for _, tt := range tests {
		if got := Characteristic(tt.id); got != tt.want {
			t.Errorf("Characteristic(%q) = %q, want %q", tt.id, got, tt.want)
		}
	}
}

func TestUnknownUUIDIsUppercased(t *testing.T) {
	id := "6e400001-b5a3-f393-e0a9-e50e24dcca9e"
	want := "6E400001-B5A3-F393-E0A9-E50E24DCCA9E"
	if got := Service(id); got != want {
		t.Errorf("Service(%q) = %q, want %q", id, got, want)
	}
	if got := Characteristic(id); got != want {
		t.Errorf("Characteristic(%q) = %q, want %q", id, got, want)
	}

	// A 16-bit UUID outside the table is not matched by containment.
	if got := Service("0000FFE0-0000-1000-8000-00805F9B34FB"); got != "0000FFE0-0000-1000-8000-00805F9B34FB" {
		t.Errorf("Service(FFE0) = %q, want uppercased UUID", got)
	}
	if got := Service(""); got != "" {
		t.Errorf("Service(\"\") = %q, want empty", got)
	}
}

func TestVendorUUIDContainingAssignedNumber(t *testing.T) {
	// Vendor UUIDs are matched by containment, first table entry wins.
	id := "12341800-aaaa-bbbb-cccc-dddddddddddd"
	if got := Service(id); got != "Generic Access" {
		t.Errorf("Service(%q) = %q, want Generic Access", id, got)
	}
}

func TestBaseUUIDMatchesExactly(t *testing.T) {
	tests := []struct {
		id   string
		want string
	}{
		{"0x180f", "Battery Service"},
		{"0000180F-0000-1000-8000-00805F9B34FB", "Battery Service"},
		{"00001234-0000-1000-8000-00805f9b34fb", "00001234-0000-1000-8000-00805F9B34FB"},
	}
	for _, tt := range tests {
		if got := Service(tt.id); got != tt.want {
			t.Errorf("Service(%q) = %q, want %q", tt.id, got, tt.want)
		}
	}
}

func TestShortForm(t *testing.T) {
	tests := []struct {
		id     string
		want   string
		wantOK bool
	}{
		{"2a00", "2A00", true},
		{"0x180F", "180F", true},
		{"00002a19-0000-1000-8000-00805f9b34fb", "2A19", true},
		{"0000FFF0-0000-1000-8000-00805F9B34FB", "FFF0", true},
		{"12342a19-0000-1000-8000-00805f9b34fb", "", false},
		{"00002a19-0000-1000-8000-00805f9b34fc", "", false},
		{"6e400001-b5a3-f393-e0a9-e50e24dcca9e", "", false},
		{"zzzz", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		got, ok := ShortForm(tt.id)
		if ok != tt.wantOK || got != tt.want {
			t.Errorf("ShortForm(%q) = (%q, %v), want (%q, %v)", tt.id, got, ok, tt.want, tt.wantOK)
		}
	}
}
