package goble

import (
	"fmt"
	"strings"

	"github.com/srg/bleattend/internal/device"
)

// NormalizeError maps known go-ble and CoreBluetooth error strings to device sentinels.
// It ensures consistent handling even if the upstream library changes messages slightly.
// Returns wrapped errors to preserve original context.
func NormalizeError(err error) error {
	if err == nil {
		return nil
	}

	// CoreBluetooth reports the central manager state as "have=<state> want=5".
	msg := err.Error()
	switch {
	case strings.Contains(msg, "have=4 want=5"):
		return fmt.Errorf("%w: %v", device.ErrBluetoothOff, err)
	case strings.Contains(msg, "have=3 want=5"):
		return fmt.Errorf("%w: %v", device.ErrPermissionDenied, err)
	case strings.Contains(msg, "have=2 want=5"):
		return fmt.Errorf("%w: %v", device.ErrUnsupported, err)
	default:
		return device.NormalizeError(err)
	}
}
