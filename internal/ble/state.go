package ble

import "fmt"

// State is the lifecycle state of the Manager.
type State int

const (
	StateIdle State = iota
	StateScanning
	StateConnecting
	StateConnected
	StateServicesDiscovered
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateScanning:
		return "Scanning"
	case StateConnecting:
		return "Connecting"
	case StateConnected:
		return "Connected"
	case StateServicesDiscovered:
		return "ServicesDiscovered"
	case StateDisconnected:
		return "Disconnected"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Active reports whether a connection session exists in this state.
func (s State) Active() bool {
	return s == StateConnecting || s == StateConnected || s == StateServicesDiscovered
}

var transitions = map[State][]State{
	StateIdle:               {StateScanning, StateConnecting},
	StateDisconnected:       {StateScanning, StateConnecting},
	StateScanning:           {StateIdle},
	StateConnecting:         {StateConnected, StateDisconnected},
	StateConnected:          {StateServicesDiscovered, StateDisconnected},
	StateServicesDiscovered: {StateDisconnected},
}

func canTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
