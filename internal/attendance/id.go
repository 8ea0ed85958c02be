package attendance

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

const (
	// AttendeeIDLength is the length of a client-generated attendee id.
	AttendeeIDLength = 15

	attendeeIDAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

	maxIDAttempts = 8
)

// IDGenerator produces attendee ids.
type IDGenerator func() (string, error)

// NewAttendeeID returns a random alphanumeric id of AttendeeIDLength characters.
func NewAttendeeID() (string, error) {
	limit := big.NewInt(int64(len(attendeeIDAlphabet)))
	buf := make([]byte, AttendeeIDLength)
	for i := range buf {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", fmt.Errorf("failed to generate attendee id: %w", err)
		}
		buf[i] = attendeeIDAlphabet[n.Int64()]
	}
	return string(buf), nil
}

// uniqueID draws ids from gen until one is not taken by the roster.
func uniqueID(gen IDGenerator, roster []Record) (string, error) {
	taken := make(map[string]struct{}, len(roster))
	for _, r := range roster {
		taken[r.ID] = struct{}{}
	}

	for attempt := 0; attempt < maxIDAttempts; attempt++ {
		id, err := gen()
		if err != nil {
			return "", err
		}
		if _, dup := taken[id]; !dup {
			return id, nil
		}
	}
	return "", fmt.Errorf("could not generate a unique attendee id after %d attempts", maxIDAttempts)
}
