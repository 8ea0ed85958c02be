package testutils

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// PusherFrame is a protocol frame as seen by PusherServer.
type PusherFrame struct {
	Event   string          `json:"event"`
	Channel string          `json:"channel,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

type pusherConn struct {
	ws *websocket.Conn
	mu sync.Mutex
}

func (c *pusherConn) write(f PusherFrame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteJSON(f)
}

// PusherServer is an in-process Pusher protocol endpoint for realtime tests.
type PusherServer struct {
	t        testing.TB
	server   *httptest.Server
	upgrader websocket.Upgrader

	mu       sync.Mutex
	conns    []*pusherConn
	rejectAs *PusherFrame

	connects atomic.Int32
	frames   chan PusherFrame

	ActivityTimeout int
}

// NewPusherServer starts a server that accepts every client, acknowledges
// subscriptions and records every frame it receives. It is closed on test cleanup.
func NewPusherServer(t testing.TB) *PusherServer {
	s := &PusherServer{
		t:               t,
		frames:          make(chan PusherFrame, 256),
		ActivityTimeout: 120,
	}
	s.server = httptest.NewServer(http.HandlerFunc(s.handle))
	t.Cleanup(s.Close)
	return s
}

// Host returns the host:port clients should dial.
func (s *PusherServer) Host() string {
	return strings.TrimPrefix(s.server.URL, "http://")
}

// Connects returns how many websocket sessions were accepted.
func (s *PusherServer) Connects() int {
	return int(s.connects.Load())
}

// RejectWith makes new connections receive a pusher:error instead of the handshake.
func (s *PusherServer) RejectWith(code int, message string) {
	data, _ := json.Marshal(map[string]any{"code": code, "message": message})
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rejectAs = &PusherFrame{Event: "pusher:error", Data: data}
}

func (s *PusherServer) handle(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.t.Logf("pusher server: upgrade failed: %v", err)
		return
	}
	s.connects.Add(1)
	conn := &pusherConn{ws: ws}
	defer ws.Close()

	s.mu.Lock()
	reject := s.rejectAs
	s.mu.Unlock()
	if reject != nil {
		_ = conn.write(*reject)
		return
	}

	established, _ := json.Marshal(fmt.Sprintf(`{"socket_id":"%d.%d","activity_timeout":%d}`,
		s.connects.Load(), time.Now().UnixNano()%1000000, s.ActivityTimeout))
	if err := conn.write(PusherFrame{Event: "pusher:connection_established", Data: established}); err != nil {
		return
	}

	s.mu.Lock()
	s.conns = append(s.conns, conn)
	s.mu.Unlock()

	for {
		var f PusherFrame
		if err := ws.ReadJSON(&f); err != nil {
			return
		}
		if f.Event == "pusher:subscribe" {
			var sub struct {
				Channel string `json:"channel"`
			}
			_ = json.Unmarshal(f.Data, &sub)
			_ = conn.write(PusherFrame{Event: "pusher_internal:subscription_succeeded", Channel: sub.Channel, Data: json.RawMessage(`"{}"`)})
		}
		select {
		case s.frames <- f:
		default:
			s.t.Logf("pusher server: frame buffer full, dropping %s", f.Event)
		}
	}
}

// WaitForFrame returns the next received frame named event, skipping others.
func (s *PusherServer) WaitForFrame(event string) (PusherFrame, bool) {
	deadline := time.After(WaitTimeout)
	for {
		select {
		case f := <-s.frames:
			if f.Event == event {
				return f, true
			}
		case <-deadline:
			return PusherFrame{}, false
		}
	}
}

func (s *PusherServer) broadcast(f PusherFrame) {
	s.mu.Lock()
	conns := append([]*pusherConn(nil), s.conns...)
	s.mu.Unlock()
	for _, c := range conns {
		_ = c.write(f)
	}
}

// Trigger sends event on channel with data encoded as a JSON string, the way
// the hosted service delivers it.
func (s *PusherServer) Trigger(channel, event string, data any) {
	inner, err := json.Marshal(data)
	if err != nil {
		s.t.Fatalf("pusher server: encode %s: %v", event, err)
	}
	outer, _ := json.Marshal(string(inner))
	s.broadcast(PusherFrame{Event: event, Channel: channel, Data: outer})
}

// TriggerRaw sends event on channel with data passed through verbatim.
func (s *PusherServer) TriggerRaw(channel, event string, data json.RawMessage) {
	s.broadcast(PusherFrame{Event: event, Channel: channel, Data: data})
}

// Send writes an arbitrary frame to every client.
func (s *PusherServer) Send(f PusherFrame) {
	s.broadcast(f)
}

// DropConnections closes every live session from the server side.
func (s *PusherServer) DropConnections() {
	s.mu.Lock()
	conns := s.conns
	s.conns = nil
	s.mu.Unlock()
	for _, c := range conns {
		_ = c.ws.Close()
	}
}

func (s *PusherServer) Close() {
	s.DropConnections()
	s.server.Close()
}
