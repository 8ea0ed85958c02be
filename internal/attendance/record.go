package attendance

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Record is one attendee as carried by the realtime channel.
type Record struct {
	ID          string    `json:"id"`
	FullName    string    `json:"full_name"`
	TimeEntered Timestamp `json:"time_entered"`
}

// Timestamp is a server-assigned entry time. The server may send it as a string
// or as a unix number in seconds or milliseconds; the raw text is kept for display.
// Any other JSON value is kept verbatim with a zero Time.
type Timestamp struct {
	Time    time.Time
	Raw     string
	literal bool // Raw is a JSON literal, not a string value
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.DateTime,
	"2006-01-02T15:04:05",
	time.RFC1123Z,
	time.RFC1123,
}

// unix values above this are taken as milliseconds
const millisThreshold = 1e12

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*t = Timestamp{}
		return nil
	}

	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*t = Timestamp{Raw: s}
		for _, layout := range timestampLayouts {
			if parsed, err := time.Parse(layout, s); err == nil {
				t.Time = parsed
				break
			}
		}
		return nil
	}

	*t = Timestamp{Raw: string(data), literal: true}
	f, err := strconv.ParseFloat(string(data), 64)
	if err != nil {
		return nil
	}
	if f >= millisThreshold {
		t.Time = time.UnixMilli(int64(f))
	} else {
		sec := int64(f)
		t.Time = time.Unix(sec, int64((f-float64(sec))*1e9))
	}
	return nil
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	switch {
	case t.Raw == "" && t.Time.IsZero():
		return []byte("null"), nil
	case t.literal:
		return []byte(t.Raw), nil
	case t.Raw != "":
		return json.Marshal(t.Raw)
	default:
		return json.Marshal(t.Time.Format(time.RFC3339))
	}
}

// IsZero reports whether no entry time was sent.
func (t Timestamp) IsZero() bool {
	return t.Raw == "" && t.Time.IsZero()
}

func (t Timestamp) String() string {
	if t.literal && !t.Time.IsZero() {
		return t.Time.Local().Format(time.DateTime)
	}
	if t.Raw != "" {
		return t.Raw
	}
	if t.Time.IsZero() {
		return ""
	}
	return t.Time.Local().Format(time.DateTime)
}

// Payload is the identity written to the attendance characteristic.
type Payload struct {
	ID       string `json:"id"`
	FullName string `json:"full_name"`
}

// EncodePayload renders p as compact UTF-8 JSON with no trailing newline.
// HTML-sensitive characters in names are written verbatim.
func EncodePayload(p Payload) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(p); err != nil {
		return nil, fmt.Errorf("failed to encode payload: %w", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// Message is one realtime attendance event: either a full roster snapshot or a
// single attendee that just entered.
type Message struct {
	IsAttendees bool
	Attendees   []Record
	Record      Record
}

type wireMessage struct {
	IsAttendees bool     `json:"is_attendees"`
	Attendees   []Record `json:"attendees"`
	Record
}

// ErrEmptyMessage is returned for an event that carries neither a roster nor an attendee.
var ErrEmptyMessage = errors.New("message carries neither a roster nor an attendee")

// DecodeMessage parses a realtime attendance event.
func DecodeMessage(data []byte) (Message, error) {
	var w wireMessage
	if err := json.Unmarshal(data, &w); err != nil {
		return Message{}, fmt.Errorf("invalid attendance message: %w", err)
	}

	if w.IsAttendees {
		attendees := w.Attendees
		if attendees == nil {
			attendees = []Record{}
		}
		return Message{IsAttendees: true, Attendees: attendees}, nil
	}

	if strings.TrimSpace(w.FullName) == "" && w.ID == "" {
		return Message{}, ErrEmptyMessage
	}
	return Message{Record: w.Record}, nil
}
