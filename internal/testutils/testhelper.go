package testutils

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	// WaitTimeout bounds how long tests wait for asynchronous outcomes.
	WaitTimeout = 2 * time.Second
	// WaitTick is the polling interval used with WaitTimeout.
	WaitTick = 5 * time.Millisecond
)

type TestHelper struct {
	T      *testing.T
	Logger *logrus.Logger
}

// NewTestHelper creates a test helper with a debug-level logger.
func NewTestHelper(t *testing.T) *TestHelper {
	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel) // enable debug logs to track execution flow
	return &TestHelper{
		T:      t,
		Logger: logger,
	}
}
