package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/srg/bleattend/internal/attendance"
	"github.com/srg/bleattend/internal/device"
	"github.com/srg/bleattend/internal/realtime"
)

// Command-level errors
var (
	// ErrRealtimeDisabled is returned by commands that need the roster channel
	// when no app key is configured.
	ErrRealtimeDisabled = errors.New("realtime app key is not configured")
)

// NoticeError carries a failure notice out of a command.
type NoticeError struct {
	Notice attendance.Notice
}

func (e *NoticeError) Error() string {
	if e.Notice.Err != nil {
		return fmt.Sprintf("%s: %v", e.Notice.Condition, e.Notice.Err)
	}
	return e.Notice.Condition.String()
}

func (e *NoticeError) Unwrap() error {
	return e.Notice.Err
}

// FormatUserError turns an error into the single line printed on exit.
func FormatUserError(err error) string {
	if err == nil {
		return ""
	}

	var perr *realtime.ProtocolError
	var nerr *NoticeError

	switch {
	case errors.Is(err, device.ErrBluetoothOff):
		return "Bluetooth is turned off. Enable Bluetooth and try again."
	case errors.Is(err, device.ErrPermissionDenied):
		return "Bluetooth permission denied. Allow this terminal to use Bluetooth in System Settings > Privacy & Security > Bluetooth."
	case errors.Is(err, device.ErrUnsupported):
		return "Bluetooth Low Energy is not supported on this machine."
	case errors.As(err, &nerr):
		return nerr.Notice.String()
	case errors.Is(err, device.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return fmt.Sprintf("Timed out: %v", err)
	case errors.Is(err, ErrRealtimeDisabled):
		return "Realtime roster is not configured. Set realtime.app_key in the config file or BLEATTEND_REALTIME_APP_KEY."
	case errors.As(err, &perr):
		return fmt.Sprintf("Realtime server rejected the connection: %s", perr.Message)
	default:
		return err.Error()
	}
}
