package realtime

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Pusher protocol event names.
const (
	EventConnectionEstablished = "pusher:connection_established"
	EventError                 = "pusher:error"
	EventPing                  = "pusher:ping"
	EventPong                  = "pusher:pong"
	EventSubscribe             = "pusher:subscribe"
	EventUnsubscribe           = "pusher:unsubscribe"
	EventSubscriptionSucceeded = "pusher_internal:subscription_succeeded"

	// EventSubscribed is dispatched to channel handlers once the server confirms a subscription.
	EventSubscribed = "pusher:subscription_succeeded"
)

// Frame is one protocol message in either direction.
type Frame struct {
	Event   string          `json:"event"`
	Channel string          `json:"channel,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Payload returns the frame data as JSON bytes. Servers send data either as a
// JSON-encoded string or as an inline value; both come back as the inner JSON.
func (f Frame) Payload() ([]byte, error) {
	data := bytes.TrimSpace(f.Data)
	if len(data) == 0 || data[0] != '"' {
		return data, nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("invalid data for %s: %w", f.Event, err)
	}
	return []byte(s), nil
}

func newFrame(event, channel string, data any) (Frame, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Frame{}, fmt.Errorf("failed to encode %s data: %w", event, err)
	}
	return Frame{Event: event, Channel: channel, Data: raw}, nil
}

type connectionInfo struct {
	SocketID        string `json:"socket_id"`
	ActivityTimeout int    `json:"activity_timeout"`
}

type subscription struct {
	Channel string `json:"channel"`
}

// ProtocolError is a pusher:error sent by the server.
type ProtocolError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *ProtocolError) Error() string {
	if e.Code == 0 {
		return fmt.Sprintf("pusher error: %s", e.Message)
	}
	return fmt.Sprintf("pusher error %d: %s", e.Code, e.Message)
}

// Fatal reports whether the server asked the client not to reconnect.
func (e *ProtocolError) Fatal() bool {
	return e.Code >= 4000 && e.Code <= 4099
}

func decodeProtocolError(f Frame) *ProtocolError {
	perr := &ProtocolError{}
	data, err := f.Payload()
	if err != nil || json.Unmarshal(data, perr) != nil {
		return &ProtocolError{Message: string(f.Data)}
	}
	return perr
}
