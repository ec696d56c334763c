package ble

import "fmt"

// StateKind is the phase of the connection state machine.
type StateKind int

const (
	StateDisconnected StateKind = iota
	StateConnecting
	StateServicesDiscovering
	StateCharacteristicsDiscovering
	StateReady
	StateFailed
)

func (k StateKind) String() string {
	switch k {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateServicesDiscovering:
		return "discovering-services"
	case StateCharacteristicsDiscovering:
		return "discovering-characteristics"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(k))
	}
}

// InProgress reports whether a connection attempt is running.
func (k StateKind) InProgress() bool {
	return k == StateConnecting || k == StateServicesDiscovering || k == StateCharacteristicsDiscovering
}

// ConnectionState is a snapshot of the connection state machine.
type ConnectionState struct {
	Kind StateKind
	// Peripheral is the peripheral of the current or last attempt.
	Peripheral PeripheralID
	// ServiceUUID and Characteristic are set only in StateReady.
	ServiceUUID    string
	Characteristic CharacteristicDescriptor
	// Err is set only in StateFailed and wraps one of ErrConnect,
	// ErrTimeout or ErrNoCharacteristic.
	Err error
	// Attempt numbers connection attempts; it is unchanged by transitions
	// within one attempt.
	Attempt uint64
}

// Ready reports whether print jobs can be submitted.
func (s ConnectionState) Ready() bool {
	return s.Kind == StateReady
}

// Reason returns a human-readable description of the state, including the
// failure reason in StateFailed.
func (s ConnectionState) Reason() string {
	switch s.Kind {
	case StateFailed:
		if s.Err != nil {
			return s.Err.Error()
		}
		return "connection failed"
	case StateReady:
		return fmt.Sprintf("ready on %s via %s", s.Peripheral, s.Characteristic.UUID)
	case StateDisconnected:
		return "not connected"
	default:
		return fmt.Sprintf("%s %s", s.Kind, s.Peripheral)
	}
}

func (s ConnectionState) String() string {
	return s.Reason()
}
