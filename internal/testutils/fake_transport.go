package testutils

import (
	"context"
	"sync"
	"time"

	"github.com/srg/bleattend/internal/device"
)

// Transport operation names recorded by FakeTransport.
const (
	OpScan             = "scan"
	OpConnect          = "connect"
	OpRetrieveServices = "retrieve_services"
	OpWrite            = "write"
	OpDisconnect       = "disconnect"
)

// WriteCall is one Write received by FakeTransport.
type WriteCall struct {
	PeripheralID       string
	ServiceUUID        string
	CharacteristicUUID string
	Data               []byte
	Length             int
}

// Call is one recorded transport operation.
type Call struct {
	Op           string
	PeripheralID string
}

// FakeTransport is a scripted device.Transport. Configure it with the With*/Fail*
// methods, then inspect what the code under test asked of it.
type FakeTransport struct {
	mu sync.Mutex

	scanResults []device.Peripheral
	scanErr     error
	holdScan    bool

	connectErr  error
	connectGate chan struct{}

	services    []device.ServiceInfo
	servicesErr error

	writeErr  error
	writeGate chan struct{}

	disconnectErr error

	calls     []Call
	writes    []WriteCall
	connected map[string]bool
}

var _ device.Transport = (*FakeTransport)(nil)

func NewFakeTransport() *FakeTransport {
	return &FakeTransport{connected: make(map[string]bool)}
}

// WithScanResults sets the discoveries reported, in order, by every Scan.
func (f *FakeTransport) WithScanResults(ps ...device.Peripheral) *FakeTransport {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scanResults = ps
	return f
}

// HoldScan makes Scan block after reporting until its context ends,
// ignoring the requested duration.
func (f *FakeTransport) HoldScan() *FakeTransport {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.holdScan = true
	return f
}

func (f *FakeTransport) FailScan(err error) *FakeTransport {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scanErr = err
	return f
}

func (f *FakeTransport) FailConnect(err error) *FakeTransport {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connectErr = err
	return f
}

// GateConnect makes Connect wait until the returned function is called.
func (f *FakeTransport) GateConnect() (release func()) {
	return f.gate(&f.connectGate)
}

func (f *FakeTransport) WithServices(services ...device.ServiceInfo) *FakeTransport {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.services = services
	return f
}

func (f *FakeTransport) FailRetrieveServices(err error) *FakeTransport {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.servicesErr = err
	return f
}

func (f *FakeTransport) FailWrite(err error) *FakeTransport {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writeErr = err
	return f
}

// GateWrite makes Write wait until the returned function is called.
func (f *FakeTransport) GateWrite() (release func()) {
	return f.gate(&f.writeGate)
}

func (f *FakeTransport) FailDisconnect(err error) *FakeTransport {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnectErr = err
	return f
}

func (f *FakeTransport) gate(slot *chan struct{}) func() {
	ch := make(chan struct{})
	f.mu.Lock()
	*slot = ch
	f.mu.Unlock()

	var once sync.Once
	return func() { once.Do(func() { close(ch) }) }
}

func (f *FakeTransport) record(op, peripheralID string) {
	f.calls = append(f.calls, Call{Op: op, PeripheralID: peripheralID})
}

func wait(ctx context.Context, gate chan struct{}) error {
	if gate == nil {
		return nil
	}
	select {
	case <-gate:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *FakeTransport) Scan(ctx context.Context, _ []string, _ time.Duration, onDiscovered func(device.Peripheral)) error {
	f.mu.Lock()
	f.record(OpScan, "")
	results := append([]device.Peripheral(nil), f.scanResults...)
	scanErr := f.scanErr
	hold := f.holdScan
	f.mu.Unlock()

	if scanErr != nil {
		return scanErr
	}
	for _, p := range results {
		if ctx.Err() != nil {
			return nil
		}
		onDiscovered(p)
	}

	if hold {
		<-ctx.Done()
	}
	return nil
}

func (f *FakeTransport) Connect(ctx context.Context, peripheralID string) error {
	f.mu.Lock()
	f.record(OpConnect, peripheralID)
	gate := f.connectGate
	f.mu.Unlock()

	if err := wait(ctx, gate); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.connectErr != nil {
		return f.connectErr
	}
	if f.connected[peripheralID] {
		return device.ErrAlreadyConnected
	}
	f.connected[peripheralID] = true
	return nil
}

func (f *FakeTransport) RetrieveServices(_ context.Context, peripheralID string) ([]device.ServiceInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record(OpRetrieveServices, peripheralID)

	if f.servicesErr != nil {
		return nil, f.servicesErr
	}
	if !f.connected[peripheralID] {
		return nil, &device.ConnectionError{State: device.NotConnected, Msg: peripheralID}
	}
	return append([]device.ServiceInfo(nil), f.services...), nil
}

func (f *FakeTransport) Write(ctx context.Context, peripheralID, serviceUUID, characteristicUUID string, data []byte, length int) error {
	f.mu.Lock()
	f.record(OpWrite, peripheralID)
	f.writes = append(f.writes, WriteCall{
		PeripheralID:       peripheralID,
		ServiceUUID:        serviceUUID,
		CharacteristicUUID: characteristicUUID,
		Data:               append([]byte(nil), data...),
		Length:             length,
	})
	gate := f.writeGate
	f.mu.Unlock()

	if err := wait(ctx, gate); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return f.writeErr
	}
	if !f.connected[peripheralID] {
		return &device.ConnectionError{State: device.NotConnected, Msg: peripheralID}
	}
	return nil
}

func (f *FakeTransport) Disconnect(_ context.Context, peripheralID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record(OpDisconnect, peripheralID)

	if f.disconnectErr != nil {
		return f.disconnectErr
	}
	if !f.connected[peripheralID] {
		return &device.ConnectionError{State: device.NotConnected, Msg: peripheralID}
	}
	delete(f.connected, peripheralID)
	return nil
}

// DropLink simulates the peripheral going away without a Disconnect call.
func (f *FakeTransport) DropLink(peripheralID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.connected, peripheralID)
}

// Writes returns a copy of the writes received so far.
func (f *FakeTransport) Writes() []WriteCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]WriteCall(nil), f.writes...)
}

// Calls returns the peripheral ids passed to op, in call order.
func (f *FakeTransport) Calls(op string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []string
	for _, c := range f.calls {
		if c.Op == op {
			ids = append(ids, c.PeripheralID)
		}
	}
	return ids
}

// CallCount returns how many times op was invoked.
func (f *FakeTransport) CallCount(op string) int {
	return len(f.Calls(op))
}

// IsConnected reports whether the fake currently holds a link to peripheralID.
func (f *FakeTransport) IsConnected(peripheralID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected[peripheralID]
}
