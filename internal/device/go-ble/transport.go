package goble

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-ble/ble"
	"github.com/go-ble/ble/darwin"
	"github.com/sirupsen/logrus"
	"github.com/srg/bleattend/internal/device"
	"github.com/srg/bleattend/internal/groutine"
)

const (
	// DefaultConnectTimeout bounds a single dial attempt.
	DefaultConnectTimeout = 30 * time.Second

	// DefaultWriteDelay is the delay between consecutive write chunks.
	// This prevents overwhelming the BLE peripheral's receive buffer.
	DefaultWriteDelay = 10 * time.Millisecond
)

// Central is the part of ble.Device the transport drives.
type Central interface {
	Scan(ctx context.Context, allowDup bool, h ble.AdvHandler) error
	Dial(ctx context.Context, a ble.Addr) (ble.Client, error)
}

// gattClient is the part of ble.Client used once a peripheral is dialled.
type gattClient interface {
	DiscoverProfile(force bool) (*ble.Profile, error)
	WriteCharacteristic(c *ble.Characteristic, value []byte, noRsp bool) error
	CancelConnection() error
}

// DeviceFactory creates the platform central (can be overridden in tests)
//
//nolint:revive // DeviceFactory name is intentional for test mocking
var DeviceFactory = func() (Central, error) {
	dev, err := darwin.NewDevice()
	if err != nil {
		return nil, err
	}
	return dev, nil
}

// Options configures the go-ble transport.
type Options struct {
	ConnectTimeout  time.Duration
	WriteDelay      time.Duration
	AllowDuplicates bool // report every advertisement instead of first-per-address
}

// DefaultOptions returns default transport options
func DefaultOptions() *Options {
	return &Options{
		ConnectTimeout: DefaultConnectTimeout,
		WriteDelay:     DefaultWriteDelay,
	}
}

type link struct {
	client  gattClient
	profile *ble.Profile
	writeMu sync.Mutex
}

// Transport implements device.Transport over github.com/go-ble/ble.
type Transport struct {
	opts   Options
	logger *logrus.Logger

	mu      sync.Mutex
	central Central
	links   map[string]*link
}

var _ device.Transport = (*Transport)(nil)

// NewTransport creates a transport. The platform central is created lazily on first use
// so that a disabled adapter surfaces as an operation error rather than a constructor one.
func NewTransport(opts *Options, logger *logrus.Logger) *Transport {
	if logger == nil {
		logger = logrus.New()
	}
	if opts == nil {
		opts = DefaultOptions()
	}

	o := *opts
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = DefaultConnectTimeout
	}

	return &Transport{
		opts:   o,
		logger: logger,
		links:  make(map[string]*link),
	}
}

func (t *Transport) ensureCentral() (Central, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.central != nil {
		return t.central, nil
	}

	c, err := DeviceFactory()
	if err != nil {
		t.logger.WithError(err).Error("Failed to create BLE device")
		return nil, fmt.Errorf("failed to create BLE device: %w", NormalizeError(err))
	}
	t.central = c
	return c, nil
}

func (t *Transport) lookup(peripheralID string) (*link, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	l, ok := t.links[peripheralID]
	if !ok {
		return nil, &device.ConnectionError{State: device.NotConnected, Msg: peripheralID}
	}
	return l, nil
}

// Scan runs discovery for duration (0 = until ctx is done) and reports every
// advertisement that passes the service filter. Cancellation and deadline are normal stops.
func (t *Transport) Scan(ctx context.Context, serviceUUIDs []string, duration time.Duration, onDiscovered func(device.Peripheral)) error {
	var filter []string
	if len(serviceUUIDs) > 0 {
		var err error
		if filter, err = device.ValidateUUID(serviceUUIDs...); err != nil {
			return fmt.Errorf("invalid service filter: %w", err)
		}
	}

	central, err := t.ensureCentral()
	if err != nil {
		return err
	}

	scanCtx := ctx
	if duration > 0 {
		var cancel context.CancelFunc
		scanCtx, cancel = context.WithTimeout(ctx, duration)
		defer cancel()
	}

	t.logger.WithFields(logrus.Fields{
		"duration": duration,
		"services": filter,
	}).Info("Starting BLE scan...")

	handler := func(a ble.Advertisement) {
		adv := NewBLEAdvertisement(a)
		if !advertisesAny(adv, filter) {
			return
		}
		onDiscovered(toPeripheral(adv))
	}

	err = central.Scan(scanCtx, t.opts.AllowDuplicates, handler)
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		t.logger.WithError(err).Error("BLE scan failed")
		return fmt.Errorf("scan failed: %w", NormalizeError(err))
	}

	t.logger.Info("BLE scan stopped")
	return nil
}

// Connect dials the peripheral. Profile discovery is left to RetrieveServices.
func (t *Transport) Connect(ctx context.Context, peripheralID string) error {
	if strings.TrimSpace(peripheralID) == "" {
		return fmt.Errorf("device address is empty")
	}

	central, err := t.ensureCentral()
	if err != nil {
		return err
	}

	t.mu.Lock()
	_, exists := t.links[peripheralID]
	t.mu.Unlock()
	if exists {
		t.logger.WithField("address", peripheralID).Warn("Connection attempt while already connected")
		return device.ErrAlreadyConnected
	}

	t.logger.WithFields(logrus.Fields{
		"address": peripheralID,
		"timeout": t.opts.ConnectTimeout,
	}).Info("Connecting to BLE device...")

	dialCtx, cancel := context.WithTimeout(ctx, t.opts.ConnectTimeout)
	defer cancel()

	client, err := central.Dial(dialCtx, ble.NewAddr(peripheralID))
	if err != nil {
		t.logger.WithFields(logrus.Fields{
			"address": peripheralID,
			"error":   err,
		}).Error("Failed to dial BLE device")
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("failed to connect to device with address %q: %w", peripheralID, device.ErrTimeout)
		}
		return fmt.Errorf("failed to connect to device with address %q: %w", peripheralID, NormalizeError(err))
	}

	l := &link{client: client}
	t.mu.Lock()
	t.links[peripheralID] = l
	t.mu.Unlock()

	// CoreBluetooth reports link loss through Disconnected()
	if dc, ok := client.(interface{ Disconnected() <-chan struct{} }); ok {
		groutine.Go(context.Background(), "ble-link-monitor", func(context.Context) {
			<-dc.Disconnected()
			t.forget(peripheralID, l)
		})
	}

	t.logger.WithField("address", peripheralID).Info("BLE device connected successfully")
	return nil
}

// forget drops the link if it is still the registered one.
func (t *Transport) forget(peripheralID string, l *link) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if cur, ok := t.links[peripheralID]; ok && cur == l {
		delete(t.links, peripheralID)
		t.logger.WithField("address", peripheralID).Warn("BLE link lost")
	}
}

// RetrieveServices discovers the GATT profile and returns its service/characteristic layout.
func (t *Transport) RetrieveServices(_ context.Context, peripheralID string) ([]device.ServiceInfo, error) {
	l, err := t.lookup(peripheralID)
	if err != nil {
		return nil, err
	}

	profile, err := l.client.DiscoverProfile(true)
	if err != nil {
		return nil, fmt.Errorf("failed to discover profile: %w", NormalizeError(err))
	}

	t.mu.Lock()
	l.profile = profile
	t.mu.Unlock()

	result := make([]device.ServiceInfo, 0, len(profile.Services))
	for _, svc := range profile.Services {
		chars := make([]string, 0, len(svc.Characteristics))
		for _, c := range svc.Characteristics {
			chars = append(chars, c.UUID.String())
		}
		result = append(result, device.ServiceInfo{
			UUID:            device.NormalizeUUID(svc.UUID.String()),
			Characteristics: device.NormalizeUUIDs(chars),
		})
	}

	t.logger.WithFields(logrus.Fields{
		"address":  peripheralID,
		"services": len(result),
	}).Debug("Profile discovered successfully")
	return result, nil
}

// Write sends data to the characteristic with response, in chunks of at most length bytes.
// A non-positive length writes the payload in one operation.
func (t *Transport) Write(ctx context.Context, peripheralID, serviceUUID, characteristicUUID string, data []byte, length int) error {
	if len(data) == 0 {
		return fmt.Errorf("no data to write")
	}

	l, err := t.lookup(peripheralID)
	if err != nil {
		return err
	}

	char, err := t.resolveCharacteristic(l, serviceUUID, characteristicUUID)
	if err != nil {
		return err
	}

	chunk := length
	if chunk <= 0 || chunk > len(data) {
		chunk = len(data)
	}

	// Serialize writes per link
	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	t.logger.WithFields(logrus.Fields{
		"address":        peripheralID,
		"service":        serviceUUID,
		"characteristic": characteristicUUID,
		"bytes":          len(data),
		"chunk":          chunk,
	}).Debug("Writing characteristic")

	for len(data) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		n := chunk
		if n > len(data) {
			n = len(data)
		}
		if err := l.client.WriteCharacteristic(char, data[:n], false); err != nil {
			return fmt.Errorf("failed to write to characteristic %s in service %s: %w",
				characteristicUUID, serviceUUID, NormalizeError(err))
		}
		data = data[n:]
		if len(data) > 0 && t.opts.WriteDelay > 0 {
			time.Sleep(t.opts.WriteDelay)
		}
	}
	return nil
}

func (t *Transport) resolveCharacteristic(l *link, serviceUUID, characteristicUUID string) (*ble.Characteristic, error) {
	t.mu.Lock()
	profile := l.profile
	t.mu.Unlock()

	if profile == nil {
		p, err := l.client.DiscoverProfile(true)
		if err != nil {
			return nil, fmt.Errorf("failed to discover profile: %w", NormalizeError(err))
		}
		t.mu.Lock()
		l.profile = p
		t.mu.Unlock()
		profile = p
	}

	for _, svc := range profile.Services {
		if !device.EqualUUID(svc.UUID.String(), serviceUUID) {
			continue
		}
		for _, c := range svc.Characteristics {
			if device.EqualUUID(c.UUID.String(), characteristicUUID) {
				return c, nil
			}
		}
		return nil, &device.NotFoundError{Resource: "characteristic", UUIDs: []string{serviceUUID, characteristicUUID}}
	}
	return nil, &device.NotFoundError{Resource: "service", UUIDs: []string{serviceUUID}}
}

// Disconnect cancels the connection to the peripheral. The link is kept when the
// cancel fails so the caller can retry.
func (t *Transport) Disconnect(_ context.Context, peripheralID string) error {
	l, err := t.lookup(peripheralID)
	if err != nil {
		t.logger.WithField("address", peripheralID).Debug("Disconnect called but already disconnected")
		return err
	}

	t.logger.WithField("address", peripheralID).Info("Disconnecting BLE device...")
	if err := l.client.CancelConnection(); err != nil {
		return fmt.Errorf("failed to disconnect from %q: %w", peripheralID, NormalizeError(err))
	}

	t.mu.Lock()
	if cur, ok := t.links[peripheralID]; ok && cur == l {
		delete(t.links, peripheralID)
	}
	t.mu.Unlock()
	return nil
}
