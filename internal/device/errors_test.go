package device

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeError(t *testing.T) {
	tests := []struct {
		name      string
		input     error
		expectIs  error
		expectMsg string
	}{
		{
			name:      "darwin bluetooth off",
			input:     errors.New("central manager has invalid state: have=4 want=5: is Bluetooth turned on?"),
			expectIs:  ErrBluetoothOff,
			expectMsg: "bluetooth is turned off",
		},
		{
			name:      "powered off",
			input:     errors.New("adapter powered off"),
			expectIs:  ErrBluetoothOff,
			expectMsg: "powered off",
		},
		{
			name:      "unauthorized",
			input:     errors.New("central manager state: unauthorized"),
			expectIs:  ErrPermissionDenied,
			expectMsg: "unauthorized",
		},
		{
			name:      "device not connected",
			input:     errors.New("device not connected"),
			expectIs:  ErrNotConnected,
			expectMsg: "not_connected",
		},
		{
			name:      "already connected",
			input:     errors.New("device already connected"),
			expectIs:  ErrAlreadyConnected,
			expectMsg: "already_connected",
		},
		{
			name:      "sentinel passes through untouched",
			input:     fmt.Errorf("scan: %w", ErrBluetoothOff),
			expectIs:  ErrBluetoothOff,
			expectMsg: "scan: bluetooth is turned off",
		},
		{
			name:      "context canceled passes through",
			input:     context.Canceled,
			expectIs:  context.Canceled,
			expectMsg: "context canceled",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NormalizeError(tt.input)
			assert.ErrorIs(t, err, tt.expectIs)
			assert.Contains(t, err.Error(), tt.expectMsg)
		})
	}

	assert.NoError(t, NormalizeError(nil))
}

func TestConnectionError(t *testing.T) {
	err := &ConnectionError{State: NotConnected, Msg: "write attempted"}

	assert.Equal(t, "not_connected: write attempted", err.Error())
	assert.ErrorIs(t, err, ErrNotConnected, "MUST match sentinel by state")
	assert.NotErrorIs(t, err, ErrAlreadyConnected)
	assert.True(t, IsConnectionState(fmt.Errorf("wrapped: %w", err), NotConnected))
	assert.False(t, IsConnectionState(errors.New("other"), NotConnected))

	var nilErr *ConnectionError
	assert.Equal(t, "<nil>", nilErr.Error())
}

func TestNotFoundError(t *testing.T) {
	assert.Equal(t, "service not found", (&NotFoundError{Resource: "service"}).Error())
	assert.Equal(t, `peripheral "AA:01" not found`, (&NotFoundError{Resource: "peripheral", UUIDs: []string{"AA:01"}}).Error())
	assert.Equal(t,
		`characteristic "0300" not found in service "0100"`,
		(&NotFoundError{Resource: "characteristic", UUIDs: []string{"0100", "0300"}}).Error())
}

func TestIsEnvironmentError(t *testing.T) {
	assert.True(t, IsEnvironmentError(fmt.Errorf("x: %w", ErrBluetoothOff)))
	assert.True(t, IsEnvironmentError(ErrPermissionDenied))
	assert.False(t, IsEnvironmentError(ErrNotConnected))
}

func TestPeripheral_DisplayName(t *testing.T) {
	assert.Equal(t, "Door", Peripheral{ID: "AA:01", Name: "Door"}.DisplayName())
	assert.Equal(t, "AA:01", Peripheral{ID: "AA:01"}.DisplayName())
}
