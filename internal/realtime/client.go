package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/srg/bleattend/internal/groutine"
)

const (
	ProtocolVersion = 7
	ClientName      = "bleattend"
	ClientVersion   = "0.1.0"

	DefaultReconnectDelay   = 5 * time.Second
	DefaultHandshakeTimeout = 10 * time.Second
	DefaultActivityTimeout  = 120 * time.Second

	// how long to wait for any frame after our ping before declaring the link dead
	pongTimeout  = 30 * time.Second
	writeTimeout = 10 * time.Second
)

// ErrNotConnected is returned when a frame is sent without a live connection.
var ErrNotConnected = errors.New("realtime client is not connected")

// ConnState is the client connection lifecycle.
type ConnState int32

const (
	StateInitialized ConnState = iota
	StateConnecting
	StateConnected
	StateDisconnected
)

func (s ConnState) String() string {
	switch s {
	case StateInitialized:
		return "initialized"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Options configures the realtime client.
type Options struct {
	AppKey           string
	Cluster          string
	Host             string // host[:port], overrides the cluster host
	Encrypted        bool
	ReconnectDelay   time.Duration
	HandshakeTimeout time.Duration
}

// Client is a Pusher protocol subscriber.
type Client struct {
	opts   Options
	logger *logrus.Logger
	dialer *websocket.Dialer

	state    atomic.Int32
	channels *hashmap.Map[string, *Channel]

	connMu   sync.Mutex
	conn     *websocket.Conn
	socketID string

	writeMu sync.Mutex
}

// NewClient creates a client; nothing is dialled until Run.
func NewClient(opts Options, logger *logrus.Logger) *Client {
	if logger == nil {
		logger = logrus.New()
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = DefaultReconnectDelay
	}
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = DefaultHandshakeTimeout
	}

	return &Client{
		opts:   opts,
		logger: logger,
		dialer: &websocket.Dialer{
			Proxy:            websocket.DefaultDialer.Proxy,
			HandshakeTimeout: opts.HandshakeTimeout,
		},
		channels: hashmap.New[string, *Channel](),
	}
}

// URL returns the websocket endpoint for the configured app.
func (c *Client) URL() string {
	scheme, port := "ws", 80
	if c.opts.Encrypted {
		scheme, port = "wss", 443
	}

	host := c.opts.Host
	if host == "" {
		if c.opts.Cluster != "" {
			host = fmt.Sprintf("ws-%s.pusher.com:%d", c.opts.Cluster, port)
		} else {
			host = fmt.Sprintf("ws.pusherapp.com:%d", port)
		}
	}

	return fmt.Sprintf("%s://%s/app/%s?protocol=%d&client=%s&version=%s&flash=false",
		scheme, host, url.PathEscape(c.opts.AppKey), ProtocolVersion, ClientName, ClientVersion)
}

func (c *Client) State() ConnState {
	return ConnState(c.state.Load())
}

func (c *Client) setState(s ConnState) {
	if prev := ConnState(c.state.Swap(int32(s))); prev != s {
		c.logger.WithFields(logrus.Fields{
			"from": prev.String(),
			"to":   s.String(),
		}).Debug("Realtime connection state changed")
	}
}

// SocketID returns the id assigned by the server, or "" when not connected.
func (c *Client) SocketID() string {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	return c.socketID
}

// Subscribe returns the named channel, subscribing on the live connection if any
// and on every (re)connect.
func (c *Client) Subscribe(name string) *Channel {
	ch, loaded := c.channels.GetOrInsert(name, newChannel(name))
	if !loaded && c.State() == StateConnected {
		if err := c.sendSubscribe(name); err != nil {
			c.logger.WithFields(logrus.Fields{
				"channel": name,
				"error":   err,
			}).Warn("Failed to subscribe, will retry on reconnect")
		}
	}
	return ch
}

// Unsubscribe drops the channel and its handlers.
func (c *Client) Unsubscribe(name string) {
	if _, ok := c.channels.Get(name); !ok {
		return
	}
	c.channels.Del(name)
	if c.State() != StateConnected {
		return
	}
	frame, err := newFrame(EventUnsubscribe, "", subscription{Channel: name})
	if err == nil {
		err = c.send(frame)
	}
	if err != nil {
		c.logger.WithField("channel", name).WithError(err).Debug("Failed to send unsubscribe")
	}
}

func (c *Client) sendSubscribe(name string) error {
	frame, err := newFrame(EventSubscribe, "", subscription{Channel: name})
	if err != nil {
		return err
	}
	c.logger.WithField("channel", name).Debug("Subscribing to channel")
	return c.send(frame)
}

func (c *Client) send(f Frame) error {
	c.connMu.Lock()
	conn := c.conn
	c.connMu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteJSON(f); err != nil {
		return fmt.Errorf("failed to send %s: %w", f.Event, err)
	}
	return nil
}

// Run keeps a connection open until ctx is done, redialling after ReconnectDelay
// whenever it drops. A fatal pusher:error (codes 4000-4099) stops Run with that error.
func (c *Client) Run(ctx context.Context) error {
	if c.opts.AppKey == "" {
		return fmt.Errorf("realtime app key is required")
	}

	for {
		err := c.session(ctx)
		c.setState(StateDisconnected)

		if ctx.Err() != nil {
			return nil
		}

		var perr *ProtocolError
		if errors.As(err, &perr) && perr.Fatal() {
			c.logger.WithError(err).Error("Realtime server refused the connection")
			return err
		}

		c.logger.WithFields(logrus.Fields{
			"error": err,
			"delay": c.opts.ReconnectDelay,
		}).Warn("Realtime connection lost, reconnecting")

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(c.opts.ReconnectDelay):
		}
	}
}

// session runs one connection from dial to loss.
func (c *Client) session(ctx context.Context) error {
	c.setState(StateConnecting)

	endpoint := c.URL()
	c.logger.WithField("url", endpoint).Info("Connecting to realtime server...")

	conn, _, err := c.dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to dial realtime server: %w", err)
	}
	defer conn.Close()

	// unblock the reader on cancellation
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	info, err := c.handshake(conn)
	if err != nil {
		return err
	}

	activity := DefaultActivityTimeout
	if info.ActivityTimeout > 0 {
		activity = time.Duration(info.ActivityTimeout) * time.Second
	}

	c.connMu.Lock()
	c.conn = conn
	c.socketID = info.SocketID
	c.connMu.Unlock()
	defer c.detach()

	c.setState(StateConnected)
	c.logger.WithFields(logrus.Fields{
		"socket_id":        info.SocketID,
		"activity_timeout": activity,
	}).Info("Realtime connection established")

	c.channels.Range(func(name string, _ *Channel) bool {
		if err := c.sendSubscribe(name); err != nil {
			c.logger.WithField("channel", name).WithError(err).Warn("Failed to subscribe")
		}
		return true
	})

	pingCtx, cancelPing := context.WithCancel(ctx)
	defer cancelPing()
	groutine.Go(pingCtx, "realtime-ping", func(ctx context.Context) {
		c.keepAlive(ctx, activity)
	})

	for {
		_ = conn.SetReadDeadline(time.Now().Add(activity + pongTimeout))
		var f Frame
		if err := conn.ReadJSON(&f); err != nil {
			return fmt.Errorf("realtime read failed: %w", err)
		}
		if err := c.dispatch(f); err != nil {
			return err
		}
	}
}

func (c *Client) handshake(conn *websocket.Conn) (connectionInfo, error) {
	_ = conn.SetReadDeadline(time.Now().Add(c.opts.HandshakeTimeout))

	var f Frame
	if err := conn.ReadJSON(&f); err != nil {
		return connectionInfo{}, fmt.Errorf("realtime handshake failed: %w", err)
	}

	switch f.Event {
	case EventConnectionEstablished:
	case EventError:
		return connectionInfo{}, decodeProtocolError(f)
	default:
		return connectionInfo{}, fmt.Errorf("realtime handshake failed: unexpected event %q", f.Event)
	}

	var info connectionInfo
	data, err := f.Payload()
	if err == nil {
		err = json.Unmarshal(data, &info)
	}
	if err != nil {
		return connectionInfo{}, fmt.Errorf("realtime handshake failed: %w", err)
	}
	return info, nil
}

func (c *Client) detach() {
	c.connMu.Lock()
	c.conn = nil
	c.socketID = ""
	c.connMu.Unlock()

	c.channels.Range(func(_ string, ch *Channel) bool {
		ch.subscribed.Store(false)
		return true
	})
}

// keepAlive pings the server once per activity period.
func (c *Client) keepAlive(ctx context.Context, activity time.Duration) {
	ticker := time.NewTicker(activity)
	defer ticker.Stop()
	defer c.logger.Debugf("%s: exiting", groutine.Name(ctx))

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			frame, _ := newFrame(EventPing, "", struct{}{})
			if err := c.send(frame); err != nil {
				c.logger.WithError(err).Debug("Failed to send ping")
				return
			}
		}
	}
}

func (c *Client) dispatch(f Frame) error {
	switch f.Event {
	case EventPing:
		frame, _ := newFrame(EventPong, "", struct{}{})
		if err := c.send(frame); err != nil {
			return err
		}
		return nil

	case EventPong:
		c.logger.Debug("Realtime pong received")
		return nil

	case EventError:
		perr := decodeProtocolError(f)
		c.logger.WithFields(logrus.Fields{
			"code":    perr.Code,
			"message": perr.Message,
		}).Warn("Realtime server reported an error")
		if perr.Fatal() {
			return perr
		}
		return nil

	case EventSubscriptionSucceeded:
		ch, ok := c.channels.Get(f.Channel)
		if !ok {
			return nil
		}
		ch.subscribed.Store(true)
		c.logger.WithField("channel", f.Channel).Info("Subscribed to realtime channel")
		data, _ := f.Payload()
		ch.emit(EventSubscribed, data)
		return nil
	}

	if f.Channel == "" {
		c.logger.WithField("event", f.Event).Debug("Ignoring connection-level event")
		return nil
	}

	ch, ok := c.channels.Get(f.Channel)
	if !ok {
		return nil
	}

	data, err := f.Payload()
	if err != nil {
		c.logger.WithFields(logrus.Fields{
			"channel": f.Channel,
			"event":   f.Event,
			"error":   err,
		}).Warn("Dropping realtime event with undecodable data")
		return nil
	}

	if n := ch.emit(f.Event, data); n == 0 {
		c.logger.WithFields(logrus.Fields{
			"channel": f.Channel,
			"event":   f.Event,
		}).Debug("No handlers bound for realtime event")
	}
	return nil
}
