package main

import (
	"bytes"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/srg/bleattend/internal/device"
	"github.com/srg/bleattend/internal/testutils"
	"github.com/srg/bleattend/pkg/config"
	"github.com/stretchr/testify/suite"
)

// Test peripheral addresses for consistent fake identification
const (
	TestPeripheral1 = "aa:00:00:00:00:01"
	TestPeripheral2 = "aa:00:00:00:00:02"
)

// syncBuffer is a bytes.Buffer safe for the command's background writers.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// CommandTestSuite runs bleattend commands against a FakeTransport.
type CommandTestSuite struct {
	suite.Suite
	transport       *testutils.FakeTransport
	originalFactory func(*config.Config, *logrus.Logger) device.Transport
}

func (s *CommandTestSuite) SetupTest() {
	s.transport = testutils.NewFakeTransport().WithScanResults(
		device.Peripheral{ID: TestPeripheral1, Name: "Lecture Hall"},
		device.Peripheral{ID: TestPeripheral2, Name: "Lab"},
	)

	s.originalFactory = transportFactory
	transportFactory = func(*config.Config, *logrus.Logger) device.Transport {
		return s.transport
	}

	s.T().Setenv(config.EnvPrefix+"SCAN_DURATION", "20ms")
	s.T().Setenv(config.EnvPrefix+"CONNECT_TIMEOUT", "1s")
	s.T().Setenv(config.EnvPrefix+"WRITE_TIMEOUT", "1s")
	s.T().Setenv(config.EnvPrefix+"DISCONNECT_TIMEOUT", "1s")
	s.T().Setenv(config.EnvPrefix+"REALTIME_APP_KEY", "")
}

func (s *CommandTestSuite) TearDownTest() {
	transportFactory = s.originalFactory
}

// ExecuteCommand runs the root command with args, returns output and error.
func (s *CommandTestSuite) ExecuteCommand(args ...string) (string, error) {
	return s.ExecuteCommandWithInput("", args...)
}

// ExecuteCommandWithInput runs the root command with stdin set to input.
func (s *CommandTestSuite) ExecuteCommandWithInput(input string, args ...string) (string, error) {
	buf := &syncBuffer{}
	cmd := newRootCmd()
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetIn(strings.NewReader(input))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}
