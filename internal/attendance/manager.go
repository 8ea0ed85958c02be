package attendance

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hedzr/go-ringbuf/v2/mpmc"
	"github.com/sirupsen/logrus"
	"github.com/srg/bleattend/internal/device"
	"github.com/srg/bleattend/internal/groutine"
	"github.com/srg/bleattend/internal/ringchan"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

const (
	DefaultScanDuration      = 2 * time.Second
	DefaultConnectTimeout    = 30 * time.Second
	DefaultWriteTimeout      = 10 * time.Second
	DefaultDisconnectTimeout = 5 * time.Second
	DefaultNoticeHistory     = 64
	DefaultUpdateBuffer      = 16
	DefaultQueueSize         = 128

	attendedDisconnectFailedMessage = "You have successfully attended the event but there's a problem disconnecting to the peripheral, please disable bluetooth to force disconnection."
)

// ErrStopped is returned by operations invoked after Run has returned.
var ErrStopped = errors.New("attendance manager stopped")

// Options configures a Manager.
type Options struct {
	ScanDuration      time.Duration
	ConnectTimeout    time.Duration
	WriteTimeout      time.Duration
	DisconnectTimeout time.Duration
	NoticeHistory     uint32 // recent notices kept for Notices
	UpdateBuffer      int    // per-subscriber buffer, oldest updates are dropped when full
	QueueSize         int
	IDGenerator       IDGenerator
}

// DefaultOptions returns default manager options
func DefaultOptions() *Options {
	return &Options{
		ScanDuration:      DefaultScanDuration,
		ConnectTimeout:    DefaultConnectTimeout,
		WriteTimeout:      DefaultWriteTimeout,
		DisconnectTimeout: DefaultDisconnectTimeout,
		NoticeHistory:     DefaultNoticeHistory,
		UpdateBuffer:      DefaultUpdateBuffer,
		QueueSize:         DefaultQueueSize,
		IDGenerator:       NewAttendeeID,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.ScanDuration <= 0 {
		o.ScanDuration = d.ScanDuration
	}
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = d.ConnectTimeout
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = d.WriteTimeout
	}
	if o.DisconnectTimeout <= 0 {
		o.DisconnectTimeout = d.DisconnectTimeout
	}
	if o.NoticeHistory == 0 {
		o.NoticeHistory = d.NoticeHistory
	}
	if o.UpdateBuffer <= 0 {
		o.UpdateBuffer = d.UpdateBuffer
	}
	if o.QueueSize <= 0 {
		o.QueueSize = d.QueueSize
	}
	if o.IDGenerator == nil {
		o.IDGenerator = d.IDGenerator
	}
	return o
}

// Update is delivered to subscribers after every state change.
type Update struct {
	State  State
	Notice *Notice // nil when the change raised no notice
}

type event func(ctx context.Context)

// Manager runs one attendance session. All state transitions happen on the
// goroutine executing Run; the exported methods only enqueue work.
type Manager struct {
	transport device.Transport
	opts      Options
	logger    *logrus.Logger

	events  chan event
	done    chan struct{}
	running atomic.Bool

	// owned by the loop
	state       State
	peripherals *orderedmap.OrderedMap[string, device.Peripheral]
	scanGen     uint64
	cancelScan  context.CancelFunc
	pending     bool // write or disconnect in flight

	mu          sync.RWMutex
	snapshot    State
	subscribers map[*ringchan.RingChannel[Update]]struct{}
	stopped     bool

	notices mpmc.RichOverlappedRingBuffer[Notice]
}

// NewManager creates a session manager driving transport.
func NewManager(transport device.Transport, opts *Options, logger *logrus.Logger) *Manager {
	if logger == nil {
		logger = logrus.New()
	}
	if opts == nil {
		opts = DefaultOptions()
	}
	o := opts.withDefaults()

	initial := State{
		Peripherals: []device.Peripheral{},
		Roster:      []Record{},
	}

	return &Manager{
		transport:   transport,
		opts:        o,
		logger:      logger,
		events:      make(chan event, o.QueueSize),
		done:        make(chan struct{}),
		state:       initial,
		peripherals: orderedmap.New[string, device.Peripheral](),
		snapshot:    initial.Clone(),
		subscribers: make(map[*ringchan.RingChannel[Update]]struct{}),
		notices:     mpmc.NewOverlappedRingBuffer[Notice](o.NoticeHistory),
	}
}

// Run processes queued operations until ctx is done. In-flight transport calls
// are cancelled and subscriber channels closed on return.
func (m *Manager) Run(ctx context.Context) error {
	if !m.running.CompareAndSwap(false, true) {
		return errors.New("attendance manager is already running")
	}
	defer m.shutdown()

	loopCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	m.logger.Debug("Attendance session loop started")
	for {
		select {
		case <-loopCtx.Done():
			m.logger.Debug("Attendance session loop stopped")
			return nil
		case ev := <-m.events:
			ev(loopCtx)
		}
	}
}

func (m *Manager) shutdown() {
	if m.cancelScan != nil {
		m.cancelScan()
		m.cancelScan = nil
	}

	m.mu.Lock()
	m.stopped = true
	subs := m.subscribers
	m.subscribers = make(map[*ringchan.RingChannel[Update]]struct{})
	m.mu.Unlock()

	close(m.done)
	for sub := range subs {
		sub.Close()
	}
}

// Done is closed once Run has returned.
func (m *Manager) Done() <-chan struct{} {
	return m.done
}

func (m *Manager) post(ev event) error {
	select {
	case <-m.done:
		return ErrStopped
	default:
	}

	select {
	case m.events <- ev:
		return nil
	case <-m.done:
		return ErrStopped
	}
}

// State returns the latest published snapshot.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshot.Clone()
}

// Subscribe returns a channel of updates, primed with the current snapshot, and a
// function that cancels the subscription. The channel is closed on cancel or when
// Run returns.
func (m *Manager) Subscribe() (<-chan Update, func()) {
	sub := ringchan.New[Update](m.opts.UpdateBuffer)

	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		sub.Close()
		return sub.C(), func() {}
	}
	m.subscribers[sub] = struct{}{}
	sub.Send(Update{State: m.snapshot.Clone()})
	m.mu.Unlock()

	return sub.C(), func() {
		m.mu.Lock()
		delete(m.subscribers, sub)
		m.mu.Unlock()
		sub.Close()
	}
}

// Notices drains and returns the recent notices, oldest first.
func (m *Manager) Notices() []Notice {
	var out []Notice
	for !m.notices.IsEmpty() {
		n, err := m.notices.Dequeue()
		if err != nil {
			break
		}
		out = append(out, n)
	}
	return out
}

// publish makes next the current state and fans it out with the optional notice.
func (m *Manager) publish(next State, notice *Notice) {
	m.state = next
	snap := next.Clone()

	if notice != nil {
		m.record(*notice)
	}

	m.mu.Lock()
	m.snapshot = snap
	subs := make([]*ringchan.RingChannel[Update], 0, len(m.subscribers))
	for sub := range m.subscribers {
		subs = append(subs, sub)
	}
	m.mu.Unlock()

	for _, sub := range subs {
		if dropped := sub.Send(Update{State: snap.Clone(), Notice: notice}); dropped {
			m.logger.Debug("Subscriber is lagging, oldest update dropped")
		}
	}
}

func (m *Manager) notify(c Condition, err error) {
	m.publish(m.state, newNotice(c, err))
}

func (m *Manager) record(n Notice) {
	fields := logrus.Fields{"condition": n.Condition.String()}
	if n.Err != nil {
		fields["error"] = n.Err
	}
	if n.Condition.IsWarning() {
		m.logger.WithFields(fields).Warn(n.Message)
	} else {
		m.logger.WithFields(fields).Info(n.Message)
	}

	if _, err := m.notices.EnqueueM(n); err != nil {
		m.logger.WithError(err).Warn("Failed to record notice")
	}
}

// StartScan discards the current peripheral list and scans for ScanDuration.
// A scan already in progress is cancelled and its late results ignored.
func (m *Manager) StartScan() error {
	return m.post(func(ctx context.Context) {
		if m.cancelScan != nil {
			m.cancelScan()
		}
		m.scanGen++
		gen := m.scanGen

		m.peripherals = orderedmap.New[string, device.Peripheral]()
		m.publish(m.state.beginScan(), nil)

		scanCtx, cancel := context.WithCancel(ctx)
		m.cancelScan = cancel

		m.logger.WithFields(logrus.Fields{
			"generation": gen,
			"duration":   m.opts.ScanDuration,
		}).Debug("Scan requested")

		groutine.Go(scanCtx, "attendance-scan", func(scanCtx context.Context) {
			err := m.transport.Scan(scanCtx, nil, m.opts.ScanDuration, func(p device.Peripheral) {
				_ = m.post(func(context.Context) { m.onDiscovered(gen, p) })
			})
			_ = m.post(func(context.Context) { m.onScanStopped(gen, err) })
		})
	})
}

func (m *Manager) onDiscovered(gen uint64, p device.Peripheral) {
	if gen != m.scanGen || !m.state.IsScanning || p.ID == "" {
		return
	}
	if _, seen := m.peripherals.Get(p.ID); seen {
		return
	}
	m.peripherals.Set(p.ID, p)

	m.logger.WithFields(logrus.Fields{
		"id":   p.ID,
		"name": p.Name,
	}).Debug("Peripheral discovered")

	list := make([]device.Peripheral, 0, m.peripherals.Len())
	for pair := m.peripherals.Oldest(); pair != nil; pair = pair.Next() {
		list = append(list, pair.Value)
	}
	m.publish(m.state.withPeripherals(list), nil)
}

func (m *Manager) onScanStopped(gen uint64, err error) {
	if gen != m.scanGen {
		return
	}
	if m.cancelScan != nil {
		m.cancelScan()
		m.cancelScan = nil
	}

	next := m.state.endScan()
	switch {
	case err != nil:
		m.publish(next, newNotice(scanCondition(err), err))
	case len(next.Peripherals) == 0:
		m.publish(next, newNotice(ConditionNothingFound, nil))
	default:
		m.logger.WithField("peripherals", len(next.Peripherals)).Info("Scan finished")
		m.publish(next, nil)
	}
}

func scanCondition(err error) Condition {
	switch {
	case errors.Is(err, device.ErrBluetoothOff):
		return ConditionBluetoothDisabled
	case errors.Is(err, device.ErrPermissionDenied):
		return ConditionPermissionRequired
	default:
		return ConditionScanFailed
	}
}

// Connect opens the session's single connection to peripheralID.
func (m *Manager) Connect(peripheralID string) error {
	return m.post(func(ctx context.Context) {
		next, err := m.state.beginConnect(peripheralID)
		if err != nil {
			m.notify(ConditionAlreadyConnected, err)
			return
		}
		m.publish(next, nil)

		groutine.Go(ctx, "attendance-connect", func(ctx context.Context) {
			connCtx, cancel := context.WithTimeout(ctx, m.opts.ConnectTimeout)
			err := m.transport.Connect(connCtx, peripheralID)
			cancel()

			_ = m.post(func(ctx context.Context) { m.onConnectResult(ctx, peripheralID, err) })
		})
	})
}

func (m *Manager) onConnectResult(ctx context.Context, peripheralID string, err error) {
	if m.state.Connection.Status != Connecting || m.state.Connection.PeripheralID != peripheralID {
		m.logger.WithField("id", peripheralID).Debug("Ignoring stale connect result")
		return
	}

	if err != nil {
		m.publish(m.state.disconnected(), newNotice(ConditionConnectFailed, err))
		return
	}

	m.publish(m.state.connected(peripheralID), newNotice(ConditionConnected, nil))

	groutine.Go(ctx, "attendance-services", func(ctx context.Context) {
		services, err := m.transport.RetrieveServices(ctx, peripheralID)
		if err != nil {
			m.logger.WithFields(logrus.Fields{
				"id":    peripheralID,
				"error": err,
			}).Warn("Failed to retrieve services")
			return
		}
		m.logger.WithFields(logrus.Fields{
			"id":       peripheralID,
			"services": services,
		}).Info("Peripheral info")
	})
}

// Attend writes the attendee identity for fullName to the connected peripheral
// and disconnects once the write is acknowledged. It is rejected once the
// session has attended.
func (m *Manager) Attend(fullName string) error {
	return m.post(func(ctx context.Context) {
		peripheralID := m.state.ConnectedTo()
		if peripheralID == "" {
			m.notify(ConditionNotConnected, device.ErrNotConnected)
			return
		}

		// one identity per session
		if m.state.HasAttended {
			m.notify(ConditionAlreadyAttended, nil)
			return
		}

		name := strings.TrimSpace(fullName)
		if name == "" {
			m.notify(ConditionInvalidName, nil)
			return
		}

		if m.pending {
			m.notify(ConditionBusy, nil)
			return
		}

		id, err := uniqueID(m.opts.IDGenerator, m.state.Roster)
		if err != nil {
			m.notify(ConditionAttendFailed, err)
			return
		}

		payload, err := EncodePayload(Payload{ID: id, FullName: name})
		if err != nil {
			m.notify(ConditionAttendFailed, err)
			return
		}

		m.pending = true
		m.publish(m.state.withUserID(id), nil)

		m.logger.WithFields(logrus.Fields{
			"id":      peripheralID,
			"user_id": id,
			"bytes":   len(payload),
		}).Debug("Writing attendance payload")

		groutine.Go(ctx, "attendance-write", func(ctx context.Context) {
			writeCtx, cancel := context.WithTimeout(ctx, m.opts.WriteTimeout)
			err := m.transport.Write(writeCtx, peripheralID, PrimaryServiceUUID, WriteCharacteristicUUID, payload, len(payload))
			cancel()

			_ = m.post(func(ctx context.Context) { m.onWriteResult(ctx, peripheralID, err) })
		})
	})
}

func (m *Manager) onWriteResult(ctx context.Context, peripheralID string, err error) {
	if err != nil {
		m.pending = false
		m.notify(ConditionAttendFailed, err)
		return
	}

	m.publish(m.state.attended(), nil)
	m.requestDisconnect(ctx, peripheralID, true)
}

// Disconnect closes the active connection.
func (m *Manager) Disconnect() error {
	return m.post(func(ctx context.Context) {
		peripheralID := m.state.ConnectedTo()
		if peripheralID == "" {
			m.notify(ConditionNotConnected, device.ErrNotConnected)
			return
		}
		if m.pending {
			m.notify(ConditionBusy, nil)
			return
		}
		m.pending = true
		m.requestDisconnect(ctx, peripheralID, false)
	})
}

func (m *Manager) requestDisconnect(ctx context.Context, peripheralID string, afterAttend bool) {
	groutine.Go(ctx, "attendance-disconnect", func(ctx context.Context) {
		dcCtx, cancel := context.WithTimeout(ctx, m.opts.DisconnectTimeout)
		err := m.transport.Disconnect(dcCtx, peripheralID)
		cancel()

		_ = m.post(func(context.Context) { m.onDisconnectResult(peripheralID, afterAttend, err) })
	})
}

func (m *Manager) onDisconnectResult(peripheralID string, afterAttend bool, err error) {
	m.pending = false

	if m.state.ConnectedTo() != peripheralID {
		m.logger.WithField("id", peripheralID).Debug("Ignoring stale disconnect result")
		return
	}

	// the link is already gone, which is what was asked for
	if err != nil && !device.IsConnectionState(err, device.NotConnected) {
		n := newNotice(ConditionDisconnectFailed, err)
		if afterAttend {
			n.Message = attendedDisconnectFailedMessage
		}
		m.publish(m.state, n)
		return
	}

	if afterAttend {
		m.publish(m.state.disconnected(), newNotice(ConditionAttended, nil))
		return
	}
	m.publish(m.state.disconnected(), newNotice(ConditionDisconnected, nil))
}

// HandleRealtimeMessage applies a roster event: a snapshot replaces the roster,
// a single record is appended and announced.
func (m *Manager) HandleRealtimeMessage(msg Message) error {
	return m.post(func(context.Context) {
		if msg.IsAttendees {
			m.logger.WithField("attendees", len(msg.Attendees)).Debug("Roster snapshot received")
			m.publish(m.state.replaceRoster(msg.Attendees), nil)
			return
		}
		m.publish(m.state.appendRecord(msg.Record), attendeeEntered(msg.Record))
	})
}
