package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/bleattend/internal/attendance"
	"github.com/srg/bleattend/internal/device"
	goble "github.com/srg/bleattend/internal/device/go-ble"
	"github.com/srg/bleattend/internal/groutine"
	"github.com/srg/bleattend/internal/realtime"
	"github.com/srg/bleattend/pkg/config"
)

// transportFactory creates the BLE transport (can be overridden in tests)
var transportFactory = func(cfg *config.Config, logger *logrus.Logger) device.Transport {
	return goble.NewTransport(transportOptions(cfg), logger)
}

func transportOptions(cfg *config.Config) *goble.Options {
	return &goble.Options{
		ConnectTimeout:  cfg.ConnectTimeout,
		WriteDelay:      cfg.WriteChunkDelay,
		AllowDuplicates: cfg.ScanAllowDuplicates,
	}
}

func newRealtimeClient(cfg *config.Config, logger *logrus.Logger) *realtime.Client {
	return realtime.NewClient(realtime.Options{
		AppKey:         cfg.Realtime.AppKey,
		Cluster:        cfg.Realtime.Cluster,
		Host:           cfg.Realtime.Host,
		Encrypted:      cfg.Realtime.Encrypted,
		ReconnectDelay: cfg.Realtime.ReconnectDelay,
	}, logger)
}

// app is the per-command runtime: config, logger and a running session manager.
type app struct {
	cfg     *config.Config
	logger  *logrus.Logger
	out     *output
	manager *attendance.Manager
	roster  *realtime.Channel // nil until startRoster

	ctx    context.Context
	cancel context.CancelFunc
}

// newApp loads configuration and starts a session manager bound to cmd's context.
// Ctrl+C cancels app.ctx.
func newApp(cmd *cobra.Command) (*app, error) {
	cfgPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}

	logger, err := configureLogger(cmd, cfg)
	if err != nil {
		return nil, err
	}

	if f := cmd.Flags().Lookup("duration"); f != nil && f.Changed {
		d, _ := cmd.Flags().GetDuration("duration")
		if d <= 0 {
			return nil, fmt.Errorf("invalid duration %s: must be positive", d)
		}
		cfg.ScanDuration = d
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	opts := attendance.DefaultOptions()
	opts.ScanDuration = cfg.ScanDuration
	opts.ConnectTimeout = cfg.ConnectTimeout
	opts.WriteTimeout = cfg.WriteTimeout
	opts.DisconnectTimeout = cfg.DisconnectTimeout
	opts.UpdateBuffer = 256

	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)

	a := &app{
		cfg:     cfg,
		logger:  logger,
		out:     newOutput(cmd.OutOrStdout()),
		manager: attendance.NewManager(transportFactory(cfg, logger), opts, logger),
		ctx:     ctx,
		cancel:  cancel,
	}

	// Listen for Ctrl+C to cancel
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		defer signal.Stop(sigCh)
		select {
		case <-sigCh:
			a.out.printf("\nCtrl+C pressed, stopping...\n")
			cancel()
		case <-ctx.Done():
		}
	}()

	go func() {
		if err := a.manager.Run(ctx); err != nil {
			logger.WithError(err).Error("Session manager stopped")
		}
	}()

	return a, nil
}

// startRoster subscribes the manager to the realtime roster channel. The returned
// channel yields the client's terminal error, or nil once app.ctx is done.
func (a *app) startRoster() (<-chan error, error) {
	if !a.cfg.Realtime.Enabled() {
		return nil, ErrRealtimeDisabled
	}

	client := newRealtimeClient(a.cfg, a.logger)
	a.roster = client.Subscribe(a.cfg.Realtime.Channel)
	attendance.BindRoster(a.roster, a.cfg.Realtime.Event, a.manager)

	stopped := make(chan error, 1)
	groutine.Go(a.ctx, "realtime-client", func(ctx context.Context) {
		stopped <- client.Run(ctx)
		close(stopped)
	})
	return stopped, nil
}

// close stops the manager and waits for its loop to exit.
func (a *app) close() {
	a.cancel()
	<-a.manager.Done()
}

// session tracks one subscription for issuing operations and waiting on their outcome.
type session struct {
	manager     *attendance.Manager
	updates     <-chan attendance.Update
	unsubscribe func()
	timeout     time.Duration
}

func (a *app) newSession() *session {
	updates, unsubscribe := a.manager.Subscribe()
	timeout := a.cfg.ConnectTimeout + a.cfg.WriteTimeout + a.cfg.DisconnectTimeout + a.cfg.ScanDuration
	return &session{
		manager:     a.manager,
		updates:     updates,
		unsubscribe: unsubscribe,
		timeout:     timeout,
	}
}

func (s *session) close() {
	s.unsubscribe()
}

// drain discards updates produced before the next operation.
func (s *session) drain() {
	for {
		select {
		case _, ok := <-s.updates:
			if !ok {
				return
			}
		default:
			return
		}
	}
}

// await blocks until an update satisfies match.
func (s *session) await(ctx context.Context, match func(attendance.Update) bool) (attendance.Update, error) {
	timer := time.NewTimer(s.timeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return attendance.Update{}, ctx.Err()
		case <-timer.C:
			return attendance.Update{}, fmt.Errorf("no response from the session: %w", context.DeadlineExceeded)
		case u, ok := <-s.updates:
			if !ok {
				return attendance.Update{}, attendance.ErrStopped
			}
			if match(u) {
				return u, nil
			}
		}
	}
}

func hasCondition(u attendance.Update, conds ...attendance.Condition) bool {
	if u.Notice == nil {
		return false
	}
	for _, c := range conds {
		if u.Notice.Condition == c {
			return true
		}
	}
	return false
}

// failure converts a warning notice into an error.
func failure(u attendance.Update) error {
	if u.Notice != nil && u.Notice.Condition.IsWarning() {
		return &NoticeError{Notice: *u.Notice}
	}
	return nil
}

// scan runs one scan and returns the final state. Nothing found is not an error.
func (s *session) scan(ctx context.Context) (attendance.Update, error) {
	s.drain()
	if err := s.manager.StartScan(); err != nil {
		return attendance.Update{}, err
	}

	started := false
	u, err := s.await(ctx, func(u attendance.Update) bool {
		if hasCondition(u, attendance.ConditionBluetoothDisabled, attendance.ConditionPermissionRequired,
			attendance.ConditionScanFailed, attendance.ConditionNothingFound) {
			return true
		}
		if u.State.IsScanning {
			started = true
			return false
		}
		return started
	})
	if err != nil {
		return u, err
	}
	if hasCondition(u, attendance.ConditionNothingFound) {
		return u, nil
	}
	return u, failure(u)
}

func (s *session) connect(ctx context.Context, peripheralID string) (attendance.Update, error) {
	s.drain()
	if err := s.manager.Connect(peripheralID); err != nil {
		return attendance.Update{}, err
	}
	u, err := s.await(ctx, func(u attendance.Update) bool {
		return hasCondition(u, attendance.ConditionConnected, attendance.ConditionConnectFailed, attendance.ConditionAlreadyConnected)
	})
	if err != nil {
		return u, err
	}
	return u, failure(u)
}

// attend writes the attendance record. A failed disconnect afterwards is reported
// through the returned notice but is not an error: attendance was recorded.
func (s *session) attend(ctx context.Context, fullName string) (attendance.Update, error) {
	s.drain()
	if err := s.manager.Attend(fullName); err != nil {
		return attendance.Update{}, err
	}
	u, err := s.await(ctx, func(u attendance.Update) bool {
		return hasCondition(u, attendance.ConditionAttended, attendance.ConditionDisconnectFailed,
			attendance.ConditionAttendFailed, attendance.ConditionAlreadyAttended, attendance.ConditionNotConnected,
			attendance.ConditionInvalidName, attendance.ConditionBusy)
	})
	if err != nil {
		return u, err
	}
	if hasCondition(u, attendance.ConditionDisconnectFailed) && u.State.HasAttended {
		return u, nil
	}
	return u, failure(u)
}

func (s *session) disconnect(ctx context.Context) (attendance.Update, error) {
	s.drain()
	if err := s.manager.Disconnect(); err != nil {
		return attendance.Update{}, err
	}
	u, err := s.await(ctx, func(u attendance.Update) bool {
		return hasCondition(u, attendance.ConditionDisconnected, attendance.ConditionDisconnectFailed,
			attendance.ConditionNotConnected, attendance.ConditionBusy)
	})
	if err != nil {
		return u, err
	}
	return u, failure(u)
}
