package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.NotNil(t, cfg)
	assert.Equal(t, "silent", cfg.LogLevel)
	assert.Equal(t, "table", cfg.OutputFormat)
	assert.Equal(t, 2*time.Second, cfg.ScanDuration)
	assert.False(t, cfg.ScanAllowDuplicates)
	assert.Equal(t, 30*time.Second, cfg.ConnectTimeout)
	assert.Equal(t, 10*time.Second, cfg.WriteTimeout)
	assert.Equal(t, 5*time.Second, cfg.DisconnectTimeout)
	assert.Equal(t, 10*time.Millisecond, cfg.WriteChunkDelay)

	assert.Equal(t, "attendance-channel", cfg.Realtime.Channel)
	assert.Equal(t, "attendance-event", cfg.Realtime.Event)
	assert.Equal(t, "mt1", cfg.Realtime.Cluster)
	assert.True(t, cfg.Realtime.Encrypted)
	assert.Equal(t, 5*time.Second, cfg.Realtime.ReconnectDelay)
	assert.Empty(t, cfg.Realtime.AppKey)
	assert.False(t, cfg.Realtime.Enabled())

	assert.NoError(t, cfg.Validate())
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bleattend.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_YAMLOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
log_level: debug
scan_duration: 5s
scan_allow_duplicates: true
realtime:
  app_key: abc123
  cluster: eu
  encrypted: false
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 5*time.Second, cfg.ScanDuration)
	assert.True(t, cfg.ScanAllowDuplicates)
	assert.Equal(t, "abc123", cfg.Realtime.AppKey)
	assert.Equal(t, "eu", cfg.Realtime.Cluster)
	assert.False(t, cfg.Realtime.Encrypted)
	assert.True(t, cfg.Realtime.Enabled())

	// untouched keys keep their defaults
	assert.Equal(t, 30*time.Second, cfg.ConnectTimeout)
	assert.Equal(t, "attendance-channel", cfg.Realtime.Channel)
}

func TestLoad_EnvOverridesYAML(t *testing.T) {
	path := writeConfig(t, `
scan_duration: 5s
realtime:
  app_key: from-file
`)
	t.Setenv("BLEATTEND_SCAN_DURATION", "3s")
	t.Setenv("BLEATTEND_SCAN_ALLOW_DUPLICATES", "true")
	t.Setenv("BLEATTEND_REALTIME_APP_KEY", "from-env")
	t.Setenv("BLEATTEND_REALTIME_CHANNEL", "room-42")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 3*time.Second, cfg.ScanDuration)
	assert.True(t, cfg.ScanAllowDuplicates)
	assert.Equal(t, "from-env", cfg.Realtime.AppKey)
	assert.Equal(t, "room-42", cfg.Realtime.Channel)
	assert.Equal(t, "attendance-event", cfg.Realtime.Event)
}

func TestLoad_NoFile(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoad_Errors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
		assert.ErrorContains(t, err, "failed to read config file")
	})

	t.Run("malformed yaml", func(t *testing.T) {
		_, err := Load(writeConfig(t, "realtime: [unterminated"))
		assert.ErrorContains(t, err, "failed to parse config file")
	})

	t.Run("bad env duration", func(t *testing.T) {
		t.Setenv("BLEATTEND_CONNECT_TIMEOUT", "soon")
		_, err := Load("")
		assert.ErrorContains(t, err, "failed to read environment")
	})

	t.Run("invalid values", func(t *testing.T) {
		_, err := Load(writeConfig(t, "log_level: loud\nscan_duration: 0s\n"))
		assert.ErrorContains(t, err, "invalid log level: loud")
		assert.ErrorContains(t, err, "scan_duration must be positive")
	})
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults", func(*Config) {}, ""},
		{"json output", func(c *Config) { c.OutputFormat = "json" }, ""},
		{"csv output", func(c *Config) { c.OutputFormat = "csv" }, "invalid output format 'csv'"},
		{"negative chunk delay", func(c *Config) { c.WriteChunkDelay = -time.Millisecond }, "write_chunk_delay must not be negative"},
		{"zero chunk delay", func(c *Config) { c.WriteChunkDelay = 0 }, ""},
		{"empty channel", func(c *Config) { c.Realtime.Channel = " " }, "realtime.channel is required"},
		{"empty event", func(c *Config) { c.Realtime.Event = "" }, "realtime.event is required"},
		{"zero reconnect delay", func(c *Config) { c.Realtime.ReconnectDelay = 0 }, "realtime.reconnect_delay must be positive"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				assert.ErrorContains(t, err, tt.wantErr)
			}
		})
	}
}

func TestConfig_NewLogger(t *testing.T) {
	tests := []struct {
		name     string
		logLevel string
		expected logrus.Level
	}{
		{"silent", "silent", logrus.PanicLevel},
		{"debug", "debug", logrus.DebugLevel},
		{"info", "info", logrus.InfoLevel},
		{"warn", "warn", logrus.WarnLevel},
		{"warning alias", "WARNING", logrus.WarnLevel},
		{"error", "error", logrus.ErrorLevel},
		{"invalid falls back to silent", "loud", logrus.PanicLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{LogLevel: tt.logLevel}

			logger := cfg.NewLogger()

			assert.NotNil(t, logger)
			assert.Equal(t, tt.expected, logger.GetLevel())

			// Verify formatter is set correctly
			formatter, ok := logger.Formatter.(*logrus.TextFormatter)
			assert.True(t, ok)
			assert.True(t, formatter.FullTimestamp)
			assert.Equal(t, time.RFC3339, formatter.TimestampFormat)
		})
	}
}
