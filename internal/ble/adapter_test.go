package ble

import (
	"errors"
	"strings"
	"testing"
)

func TestCapabilityHasAndAny(t *testing.T) {
	c := CapRead | CapNotify

	if !c.Has(CapRead) {
		t.Error("Has(CapRead) = false")
	}
	if c.Has(CapRead | CapWrite) {
		t.Error("Has(CapRead|CapWrite) = true, want false")
	}
	if c.Has(0) {
		t.Error("Has(0) = true, want false")
	}
	if !c.Any(CapNotify | CapIndicate) {
		t.Error("Any(CapNotify|CapIndicate) = false")
	}
	if c.Any(CapWrite | CapWriteNoResponse) {
		t.Error("Any(CapWrite|CapWriteNoResponse) = true, want false")
	}
}

func TestCapabilityString(t *testing.T) {
	tests := []struct {
		c    Capability
		want string
	}{
		{0, "none"},
		{CapRead, "read"},
		{CapRead | CapNotify, "read|notify"},
		{CapWrite | CapWriteNoResponse | CapIndicate, "write|write-without-response|indicate"},
	}
	for _, tt := range tests {
		if got := tt.c.String(); got != tt.want {
			t.Errorf("Capability(%d).String() = %q, want %q", tt.c, got, tt.want)
		}
	}
}

func TestPeripheralDisplayName(t *testing.T) {
	if got := (Peripheral{Address: addrA, Name: "Thermo"}).DisplayName(); got != "Thermo" {
		t.Errorf("DisplayName() = %q, want Thermo", got)
	}
	if got := (Peripheral{Address: addrA}).DisplayName(); got != addrA {
		t.Errorf("DisplayName() without name = %q, want %q", got, addrA)
	}
}

func TestOperationErrorUnwraps(t *testing.T) {
	cause := errors.New("gatt 133")
	err := &OperationError{Op: OpRead, Address: addrA, UUID: "2a19", Err: cause}

	if !errors.Is(err, cause) {
		t.Error("errors.Is(OperationError, cause) = false")
	}
	msg := err.Error()
	for _, part := range []string{"read", "2a19", addrA, "gatt 133"} {
		if !strings.Contains(msg, part) {
			t.Errorf("Error() = %q, missing %q", msg, part)
		}
	}

	noUUID := &OperationError{Op: OpConnect, Address: addrA, Err: cause}
	if got := noUUID.Error(); !strings.Contains(got, "connect") || !strings.Contains(got, addrA) {
		t.Errorf("Error() = %q", got)
	}
}

func TestParseFailurePolicy(t *testing.T) {
	tests := []struct {
		in      string
		want    FailurePolicy
		wantErr bool
	}{
		{"", FailureSurface, false},
		{"surface", FailureSurface, false},
		{"silent", FailureSilent, false},
		{"loud", FailureSurface, true},
	}
	for _, tt := range tests {
		got, err := ParseFailurePolicy(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseFailurePolicy(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseFailurePolicy(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestTinygoAdapterImplementsInterface(t *testing.T) {
	var _ Adapter = (*TinygoAdapter)(nil)
}
