package attendance

import (
	"fmt"
	"slices"

	"github.com/srg/bleattend/internal/device"
)

// Status is the lifecycle of the single BLE connection.
type Status int

const (
	Disconnected Status = iota
	Connecting
	Connected
)

func (s Status) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// ConnectionState is the active (or pending) connection. PeripheralID is empty
// while Disconnected.
type ConnectionState struct {
	Status       Status
	PeripheralID string
}

// State is a session snapshot. Transitions return a new State and never modify
// the receiver's slices.
type State struct {
	Peripherals []device.Peripheral
	Connection  ConnectionState
	Roster      []Record
	UserID      string
	IsScanning  bool
	HasAttended bool
}

// Clone returns a deep copy safe to hand to another goroutine.
func (s State) Clone() State {
	s.Peripherals = slices.Clone(s.Peripherals)
	s.Roster = slices.Clone(s.Roster)
	return s
}

// ConnectedTo returns the connected peripheral id, or "" when not Connected.
func (s State) ConnectedTo() string {
	if s.Connection.Status != Connected {
		return ""
	}
	return s.Connection.PeripheralID
}

func (s State) beginScan() State {
	s.Peripherals = []device.Peripheral{}
	s.IsScanning = true
	return s
}

func (s State) withPeripherals(ps []device.Peripheral) State {
	s.Peripherals = ps
	return s
}

func (s State) endScan() State {
	s.IsScanning = false
	return s
}

func (s State) beginConnect(peripheralID string) (State, error) {
	if s.Connection.Status != Disconnected {
		return s, fmt.Errorf("%w: %s to %q", device.ErrAlreadyConnected, s.Connection.Status, s.Connection.PeripheralID)
	}
	s.Connection = ConnectionState{Status: Connecting, PeripheralID: peripheralID}
	return s, nil
}

func (s State) connected(peripheralID string) State {
	s.Connection = ConnectionState{Status: Connected, PeripheralID: peripheralID}
	return s
}

func (s State) disconnected() State {
	s.Connection = ConnectionState{Status: Disconnected}
	return s
}

func (s State) withUserID(id string) State {
	s.UserID = id
	return s
}

func (s State) attended() State {
	s.HasAttended = true
	return s
}

func (s State) replaceRoster(records []Record) State {
	s.Roster = slices.Clone(records)
	if s.Roster == nil {
		s.Roster = []Record{}
	}
	return s
}

func (s State) appendRecord(r Record) State {
	roster := make([]Record, len(s.Roster), len(s.Roster)+1)
	copy(roster, s.Roster)
	s.Roster = append(roster, r)
	return s
}
