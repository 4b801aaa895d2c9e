package ble

import (
	"errors"
	"fmt"
)

var (
	// ErrAdapterUnavailable means the radio is missing or powered off.
	ErrAdapterUnavailable = errors.New("ble: adapter unavailable")
	// ErrInvalidState means the operation is not allowed in the current state.
	ErrInvalidState = errors.New("ble: invalid state")
	// ErrStaleDescriptor means the characteristic belongs to a session that
	// has ended, or was never discovered.
	ErrStaleDescriptor = errors.New("ble: stale descriptor")
	// ErrNotSupported means the characteristic does not declare the needed capability.
	ErrNotSupported = errors.New("ble: operation not supported by characteristic")
	// ErrClosed is returned by every operation after Close.
	ErrClosed = errors.New("ble: manager closed")
)

// Operation names an asynchronous manager operation.
type Operation int

const (
	OpScan Operation = iota
	OpConnect
	OpDiscoverServices
	OpRead
	OpNotify
)

func (o Operation) String() string {
	switch o {
	case OpScan:
		return "scan"
	case OpConnect:
		return "connect"
	case OpDiscoverServices:
		return "discover-services"
	case OpRead:
		return "read"
	case OpNotify:
		return "notify"
	default:
		return fmt.Sprintf("Operation(%d)", int(o))
	}
}

// OperationError is delivered with OperationFailed when a transport
// operation fails after it was started.
type OperationError struct {
	Op      Operation
	Address string
	UUID    string // characteristic, for read and notify
	Err     error
}

func (e *OperationError) Error() string {
	if e.UUID != "" {
		return fmt.Sprintf("ble: %s %s on %s: %v", e.Op, e.UUID, e.Address, e.Err)
	}
	return fmt.Sprintf("ble: %s %s: %v", e.Op, e.Address, e.Err)
}

func (e *OperationError) Unwrap() error { return e.Err }
