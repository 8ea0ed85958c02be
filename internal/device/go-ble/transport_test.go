package goble

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/bleattend/internal/device"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"
)

const (
	testServiceUUID = "00000100-5659-402b-aeb3-d2f7dcd1b999"
	testCharUUID    = "00000300-5659-402b-aeb3-d2f7dcd1b999"
)

type fakeAddr string

func (a fakeAddr) String() string { return string(a) }

// fakeAdvertisement overrides the advertisement fields the transport reads.
type fakeAdvertisement struct {
	ble.Advertisement
	addr     string
	name     string
	services []ble.UUID
}

func (a *fakeAdvertisement) LocalName() string    { return a.name }
func (a *fakeAdvertisement) Addr() ble.Addr       { return fakeAddr(a.addr) }
func (a *fakeAdvertisement) Services() []ble.UUID { return a.services }
func (a *fakeAdvertisement) RSSI() int            { return -50 }
func (a *fakeAdvertisement) Connectable() bool    { return true }

// fakeClient overrides the ble.Client calls made by the transport.
type fakeClient struct {
	ble.Client

	mu           sync.Mutex
	profile      *ble.Profile
	discoverErr  error
	writeErr     error
	cancelErr    error
	writes       [][]byte
	cancelled    bool
	disconnected chan struct{}
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		profile: &ble.Profile{Services: []*ble.Service{
			{
				UUID: ble.MustParse(testServiceUUID),
				Characteristics: []*ble.Characteristic{
					{UUID: ble.MustParse(testCharUUID)},
				},
			},
			{
				UUID: ble.UUID16(0x180f),
				Characteristics: []*ble.Characteristic{
					{UUID: ble.UUID16(0x2a19)},
				},
			},
		}},
		disconnected: make(chan struct{}),
	}
}

func (c *fakeClient) DiscoverProfile(bool) (*ble.Profile, error) {
	if c.discoverErr != nil {
		return nil, c.discoverErr
	}
	return c.profile, nil
}

func (c *fakeClient) WriteCharacteristic(_ *ble.Characteristic, value []byte, _ bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeErr != nil {
		return c.writeErr
	}
	c.writes = append(c.writes, append([]byte(nil), value...))
	return nil
}

func (c *fakeClient) CancelConnection() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancelErr != nil {
		return c.cancelErr
	}
	if !c.cancelled {
		c.cancelled = true
		close(c.disconnected)
	}
	return nil
}

func (c *fakeClient) Disconnected() <-chan struct{} { return c.disconnected }

func (c *fakeClient) Writes() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writes
}

// MockCentral is a testify mock of the platform central.
type MockCentral struct {
	mock.Mock
	adverts []ble.Advertisement
}

func (m *MockCentral) Scan(ctx context.Context, allowDup bool, h ble.AdvHandler) error {
	args := m.Called(ctx, allowDup, h)
	for _, a := range m.adverts {
		h(a)
	}
	if args.Bool(1) {
		<-ctx.Done()
		return ctx.Err()
	}
	return args.Error(0)
}

func (m *MockCentral) Dial(ctx context.Context, a ble.Addr) (ble.Client, error) {
	args := m.Called(ctx, a.String())
	if c := args.Get(0); c != nil {
		return c.(ble.Client), args.Error(1)
	}
	return nil, args.Error(1)
}

type TransportTestSuite struct {
	suite.Suite
	originalFactory func() (Central, error)

	central   *MockCentral
	client    *fakeClient
	transport *Transport
}

func (suite *TransportTestSuite) SetupSuite() {
	suite.originalFactory = DeviceFactory
}

func (suite *TransportTestSuite) TearDownSuite() {
	DeviceFactory = suite.originalFactory
}

func (suite *TransportTestSuite) SetupTest() {
	suite.central = &MockCentral{}
	suite.client = newFakeClient()
	DeviceFactory = func() (Central, error) { return suite.central, nil }

	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel)
	suite.transport = NewTransport(&Options{ConnectTimeout: time.Second}, logger)
}

func (suite *TransportTestSuite) connect(address string) {
	suite.central.On("Dial", mock.Anything, address).Return(suite.client, nil).Once()
	suite.Require().NoError(suite.transport.Connect(context.Background(), address), "connect MUST succeed")
}

func (suite *TransportTestSuite) TestScan_ReportsEveryAdvertisement() {
	suite.central.adverts = []ble.Advertisement{
		&fakeAdvertisement{addr: "aa:01", name: "Door"},
		&fakeAdvertisement{addr: "bb:02", name: "Desk"},
		&fakeAdvertisement{addr: "aa:01", name: "Door (again)"},
	}
	suite.central.On("Scan", mock.Anything, false, mock.Anything).Return(nil, true)

	var got []device.Peripheral
	start := time.Now()
	err := suite.transport.Scan(context.Background(), nil, 50*time.Millisecond, func(p device.Peripheral) {
		got = append(got, p)
	})

	suite.NoError(err, "deadline MUST be treated as a normal scan stop")
	suite.GreaterOrEqual(time.Since(start), 50*time.Millisecond, "scan MUST run for its duration")
	suite.Equal([]device.Peripheral{
		{ID: "aa:01", Name: "Door"},
		{ID: "bb:02", Name: "Desk"},
		{ID: "aa:01", Name: "Door (again)"},
	}, got, "transport MUST NOT deduplicate; that is the session's job")
}

func (suite *TransportTestSuite) TestScan_FiltersByService() {
	suite.central.adverts = []ble.Advertisement{
		&fakeAdvertisement{addr: "aa:01", services: []ble.UUID{ble.MustParse(testServiceUUID)}},
		&fakeAdvertisement{addr: "bb:02", services: []ble.UUID{ble.UUID16(0x180d)}},
	}
	suite.central.On("Scan", mock.Anything, false, mock.Anything).Return(nil, false)

	var got []string
	err := suite.transport.Scan(context.Background(), []string{testServiceUUID}, 0, func(p device.Peripheral) {
		got = append(got, p.ID)
	})

	suite.NoError(err)
	suite.Equal([]string{"aa:01"}, got)
}

func (suite *TransportTestSuite) TestScan_NormalizesErrors() {
	tests := []struct {
		name     string
		mockErr  error
		expectIs error
	}{
		{
			name:     "bluetooth off",
			mockErr:  errors.New("central manager has invalid state: have=4 want=5: is Bluetooth turned on?"),
			expectIs: device.ErrBluetoothOff,
		},
		{
			name:     "unauthorized",
			mockErr:  errors.New("central manager has invalid state: have=3 want=5"),
			expectIs: device.ErrPermissionDenied,
		},
	}

	for _, tt := range tests {
		suite.Run(tt.name, func() {
			central := &MockCentral{}
			central.On("Scan", mock.Anything, false, mock.Anything).Return(tt.mockErr, false)
			DeviceFactory = func() (Central, error) { return central, nil }
			transport := NewTransport(nil, nil)

			err := transport.Scan(context.Background(), nil, time.Second, func(device.Peripheral) {})

			suite.ErrorIs(err, tt.expectIs, "error chain MUST contain expected sentinel error")
			suite.Contains(err.Error(), "scan failed")
		})
	}
}

func (suite *TransportTestSuite) TestScan_InvalidFilter() {
	err := suite.transport.Scan(context.Background(), []string{"not-a-uuid"}, time.Second, func(device.Peripheral) {})
	suite.ErrorContains(err, "invalid service filter")
	suite.central.AssertNotCalled(suite.T(), "Scan", mock.Anything, mock.Anything, mock.Anything)
}

func (suite *TransportTestSuite) TestFactoryError_IsNormalized() {
	DeviceFactory = func() (Central, error) {
		return nil, errors.New("central manager has invalid state: have=4 want=5: is Bluetooth turned on?")
	}
	transport := NewTransport(nil, nil)

	err := transport.Connect(context.Background(), "aa:01")
	suite.ErrorIs(err, device.ErrBluetoothOff)
}

func (suite *TransportTestSuite) TestConnect() {
	suite.Run("rejects empty address", func() {
		suite.ErrorContains(suite.transport.Connect(context.Background(), " "), "device address is empty")
	})

	suite.Run("dials once", func() {
		suite.connect("aa:01")
		err := suite.transport.Connect(context.Background(), "aa:01")
		suite.ErrorIs(err, device.ErrAlreadyConnected)
	})

	suite.Run("dial failure", func() {
		suite.central.On("Dial", mock.Anything, "bb:02").Return(nil, errors.New("connection refused")).Once()
		err := suite.transport.Connect(context.Background(), "bb:02")
		suite.ErrorContains(err, `failed to connect to device with address "bb:02"`)
	})

	suite.Run("dial timeout", func() {
		suite.central.On("Dial", mock.Anything, "cc:03").Return(nil, context.DeadlineExceeded).Once()
		err := suite.transport.Connect(context.Background(), "cc:03")
		suite.ErrorIs(err, device.ErrTimeout)
	})
}

func (suite *TransportTestSuite) TestRetrieveServices() {
	_, err := suite.transport.RetrieveServices(context.Background(), "aa:01")
	suite.ErrorIs(err, device.ErrNotConnected, "MUST fail before connect")

	suite.connect("aa:01")
	services, err := suite.transport.RetrieveServices(context.Background(), "aa:01")
	suite.Require().NoError(err)
	suite.Require().Len(services, 2)
	suite.Equal(device.NormalizeUUID(testServiceUUID), services[0].UUID)
	suite.Equal([]string{device.NormalizeUUID(testCharUUID)}, services[0].Characteristics)
	suite.Equal("180f", services[1].UUID)
}

func (suite *TransportTestSuite) TestWrite() {
	suite.Run("not connected", func() {
		err := suite.transport.Write(context.Background(), "aa:01", testServiceUUID, testCharUUID, []byte("x"), 1)
		suite.ErrorIs(err, device.ErrNotConnected)
	})

	suite.connect("aa:01")

	suite.Run("single chunk when length covers payload", func() {
		payload := []byte(`{"id":"abc","full_name":"Alice"}`)
		err := suite.transport.Write(context.Background(), "aa:01", testServiceUUID, testCharUUID, payload, len(payload))
		suite.Require().NoError(err)
		suite.Equal([][]byte{payload}, suite.client.Writes())
	})

	suite.Run("chunks by length", func() {
		suite.client.writes = nil
		err := suite.transport.Write(context.Background(), "aa:01", testServiceUUID, testCharUUID, []byte("abcdefg"), 3)
		suite.Require().NoError(err)
		suite.Equal([][]byte{[]byte("abc"), []byte("def"), []byte("g")}, suite.client.Writes())
	})

	suite.Run("unknown service", func() {
		err := suite.transport.Write(context.Background(), "aa:01", "180d", testCharUUID, []byte("x"), 1)
		var nf *device.NotFoundError
		suite.Require().ErrorAs(err, &nf)
		suite.Equal("service", nf.Resource)
	})

	suite.Run("unknown characteristic", func() {
		err := suite.transport.Write(context.Background(), "aa:01", testServiceUUID, "2a37", []byte("x"), 1)
		var nf *device.NotFoundError
		suite.Require().ErrorAs(err, &nf)
		suite.Equal("characteristic", nf.Resource)
	})

	suite.Run("empty payload", func() {
		err := suite.transport.Write(context.Background(), "aa:01", testServiceUUID, testCharUUID, nil, 0)
		suite.ErrorContains(err, "no data to write")
	})

	suite.Run("peripheral rejects write", func() {
		suite.client.writeErr = fmt.Errorf("ATT error 0x03")
		defer func() { suite.client.writeErr = nil }()
		err := suite.transport.Write(context.Background(), "aa:01", testServiceUUID, testCharUUID, []byte("x"), 1)
		suite.ErrorContains(err, "failed to write to characteristic")
	})
}

func (suite *TransportTestSuite) TestDisconnect() {
	err := suite.transport.Disconnect(context.Background(), "aa:01")
	suite.ErrorIs(err, device.ErrNotConnected, "MUST report unknown peripheral as not connected")

	suite.connect("aa:01")
	suite.Require().NoError(suite.transport.Disconnect(context.Background(), "aa:01"))
	suite.True(suite.client.cancelled)

	_, err = suite.transport.RetrieveServices(context.Background(), "aa:01")
	suite.ErrorIs(err, device.ErrNotConnected, "link MUST be forgotten after disconnect")
}

func (suite *TransportTestSuite) TestDisconnect_Failure() {
	suite.connect("aa:01")
	suite.client.cancelErr = errors.New("cancel failed")

	err := suite.transport.Disconnect(context.Background(), "aa:01")
	suite.ErrorContains(err, `failed to disconnect from "aa:01"`)
	suite.NotErrorIs(err, device.ErrNotConnected)

	_, err = suite.transport.RetrieveServices(context.Background(), "aa:01")
	suite.NoError(err, "link MUST be kept while it is still up")

	suite.client.mu.Lock()
	suite.client.cancelErr = nil
	suite.client.mu.Unlock()

	suite.Require().NoError(suite.transport.Disconnect(context.Background(), "aa:01"), "retry MUST reach the live link")
	suite.True(suite.client.cancelled)

	err = suite.transport.Disconnect(context.Background(), "aa:01")
	suite.ErrorIs(err, device.ErrNotConnected)
}

func (suite *TransportTestSuite) TestLinkLoss_ForgetsPeripheral() {
	suite.connect("aa:01")
	close(suite.client.disconnected)

	suite.Eventually(func() bool {
		_, err := suite.transport.RetrieveServices(context.Background(), "aa:01")
		return errors.Is(err, device.ErrNotConnected)
	}, time.Second, 10*time.Millisecond)
}

func TestTransportTestSuite(t *testing.T) {
	suite.Run(t, new(TransportTestSuite))
}
