package device

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// NotFoundError represents an error when a BLE resource is not found
type NotFoundError struct {
	Resource string   // "peripheral", "service", "characteristic"
	UUIDs    []string // One or more identifiers (e.g., [serviceUUID] or [serviceUUID, charUUID])
}

func (e *NotFoundError) Error() string {
	if len(e.UUIDs) == 0 {
		return fmt.Sprintf("%s not found", e.Resource)
	}
	if len(e.UUIDs) == 1 {
		return fmt.Sprintf("%s %q not found", e.Resource, e.UUIDs[0])
	}
	// characteristic is looked up inside its service
	return fmt.Sprintf("%s %q not found in service %q", e.Resource, e.UUIDs[len(e.UUIDs)-1], e.UUIDs[0])
}

// ConnectionState represents the specific kind of connection state failure
type ConnectionState string

const (
	NotConnected     ConnectionState = "not_connected"
	AlreadyConnected ConnectionState = "already_connected"
	NotInitialized   ConnectionState = "not_initialized"
)

// ConnectionError represents any connection-related problem
type ConnectionError struct {
	State ConnectionState
	Msg   string
}

// Error implements the error interface
func (e *ConnectionError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Msg == "" {
		return string(e.State)
	}
	return fmt.Sprintf("%s: %s", e.State, e.Msg)
}

// Is allows errors.Is to compare ConnectionError values by State
func (e *ConnectionError) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*ConnectionError)
	if !ok {
		return false
	}
	return e.State == t.State
}

// Predefined sentinel errors for connection states
var (
	ErrNotConnected     = &ConnectionError{State: NotConnected}
	ErrAlreadyConnected = &ConnectionError{State: AlreadyConnected}
	ErrNotInitialized   = &ConnectionError{State: NotInitialized}
)

// Environment errors. Both are raised by the platform stack before any radio work happens.
var (
	ErrBluetoothOff     = errors.New("bluetooth is turned off")
	ErrPermissionDenied = errors.New("bluetooth permission denied")
)

// Operation errors
var (
	ErrTimeout     = errors.New("timeout")
	ErrUnsupported = errors.New("unsupported")
)

// IsConnectionState reports whether err is a ConnectionError with the given state
func IsConnectionState(err error, state ConnectionState) bool {
	var cerr *ConnectionError
	if errors.As(err, &cerr) {
		return cerr.State == state
	}
	return false
}

// IsEnvironmentError reports whether err means the radio cannot be used at all.
func IsEnvironmentError(err error) bool {
	return errors.Is(err, ErrBluetoothOff) || errors.Is(err, ErrPermissionDenied)
}

// containsIgnoreCase checks substring case-insensitively
func containsIgnoreCase(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}

// NormalizeError maps known platform error strings to the sentinels above.
// Returns wrapped errors to preserve original context.
func NormalizeError(err error) error {
	if err == nil {
		return nil
	}

	msg := err.Error()
	switch {
	case errors.Is(err, ErrBluetoothOff), errors.Is(err, ErrPermissionDenied), errors.Is(err, ErrNotConnected):
		return err
	case containsIgnoreCase(msg, "is bluetooth turned on"), containsIgnoreCase(msg, "bluetooth is turned off"),
		containsIgnoreCase(msg, "powered off"):
		return fmt.Errorf("%w: %v", ErrBluetoothOff, err)
	case containsIgnoreCase(msg, "unauthorized"), containsIgnoreCase(msg, "not authorized"),
		containsIgnoreCase(msg, "permission denied"):
		return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	case containsIgnoreCase(msg, "device not connected"), containsIgnoreCase(msg, "disconnected"):
		return fmt.Errorf("%w: %v", ErrNotConnected, err)
	case containsIgnoreCase(msg, "device already connected"):
		return fmt.Errorf("%w: %v", ErrAlreadyConnected, err)
	case containsIgnoreCase(msg, "connection is not initialized"):
		return fmt.Errorf("%w: %v", ErrNotInitialized, err)
	default:
		return err
	}
}

// Peripheral is a discoverable BLE device as seen during a scan.
type Peripheral struct {
	ID   string `json:"id"`             // device address, unique
	Name string `json:"name,omitempty"` // advertised local name, may be empty
}

// DisplayName returns the name, falling back to the address.
func (p Peripheral) DisplayName() string {
	if p.Name == "" {
		return p.ID
	}
	return p.Name
}

// ServiceInfo describes one GATT service of a connected peripheral.
type ServiceInfo struct {
	UUID            string   `json:"uuid"`
	Characteristics []string `json:"characteristics"`
}

// Advertisement is the subset of advertisement data the transport reads.
type Advertisement interface {
	LocalName() string
	Services() []string
	RSSI() int
	Addr() string
	Connectable() bool
}

// Transport is the BLE central the attendance kernel drives.
//
// Every call is single-shot: no retries are made on failure. Scan blocks until
// the scan stops (duration elapsed or ctx done) and calls onDiscovered for each
// advertisement, duplicates included.
type Transport interface {
	Scan(ctx context.Context, serviceUUIDs []string, duration time.Duration, onDiscovered func(Peripheral)) error
	Connect(ctx context.Context, peripheralID string) error
	RetrieveServices(ctx context.Context, peripheralID string) ([]ServiceInfo, error)
	Write(ctx context.Context, peripheralID, serviceUUID, characteristicUUID string, data []byte, length int) error
	Disconnect(ctx context.Context, peripheralID string) error
}
