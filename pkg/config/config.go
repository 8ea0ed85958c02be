package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "BLEATTEND_"

// Config holds application configuration
type Config struct {
	LogLevel     string        `yaml:"log_level" env:"LOG_LEVEL" default:"silent"`
	OutputFormat string        `yaml:"output_format" env:"OUTPUT_FORMAT" default:"table"`
	ScanDuration time.Duration `yaml:"scan_duration" env:"SCAN_DURATION" default:"2s"`
	// report every advertisement instead of the first per address
	ScanAllowDuplicates bool `yaml:"scan_allow_duplicates" env:"SCAN_ALLOW_DUPLICATES" default:"false"`

	ConnectTimeout    time.Duration `yaml:"connect_timeout" env:"CONNECT_TIMEOUT" default:"30s"`
	WriteTimeout      time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT" default:"10s"`
	DisconnectTimeout time.Duration `yaml:"disconnect_timeout" env:"DISCONNECT_TIMEOUT" default:"5s"`
	WriteChunkDelay   time.Duration `yaml:"write_chunk_delay" env:"WRITE_CHUNK_DELAY" default:"10ms"`

	Realtime RealtimeConfig `yaml:"realtime" envPrefix:"REALTIME_"`
}

// RealtimeConfig configures the roster subscription.
type RealtimeConfig struct {
	AppKey         string        `yaml:"app_key" env:"APP_KEY"`
	Cluster        string        `yaml:"cluster" env:"CLUSTER" default:"mt1"`
	Host           string        `yaml:"host" env:"HOST"`
	Encrypted      bool          `yaml:"encrypted" env:"ENCRYPTED" default:"true"`
	Channel        string        `yaml:"channel" env:"CHANNEL" default:"attendance-channel"`
	Event          string        `yaml:"event" env:"EVENT" default:"attendance-event"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay" env:"RECONNECT_DELAY" default:"5s"`
}

// Enabled reports whether enough is configured to connect.
func (r RealtimeConfig) Enabled() bool {
	return r.AppKey != ""
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	return cfg
}

// Load builds the configuration from defaults, then the YAML file at path (if
// path is non-empty), then BLEATTEND_* environment variables.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field ranges and enumerations.
func (c *Config) Validate() error {
	var errs []error

	if _, err := c.Level(); err != nil {
		errs = append(errs, err)
	}
	switch c.OutputFormat {
	case "table", "json":
	default:
		errs = append(errs, fmt.Errorf("invalid output format '%s': must be one of [table json]", c.OutputFormat))
	}

	durations := []struct {
		name string
		v    time.Duration
	}{
		{"scan_duration", c.ScanDuration},
		{"connect_timeout", c.ConnectTimeout},
		{"write_timeout", c.WriteTimeout},
		{"disconnect_timeout", c.DisconnectTimeout},
		{"realtime.reconnect_delay", c.Realtime.ReconnectDelay},
	}
	for _, d := range durations {
		if d.v <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", d.name, d.v))
		}
	}
	if c.WriteChunkDelay < 0 {
		errs = append(errs, fmt.Errorf("write_chunk_delay must not be negative, got %s", c.WriteChunkDelay))
	}

	if strings.TrimSpace(c.Realtime.Channel) == "" {
		errs = append(errs, errors.New("realtime.channel is required"))
	}
	if strings.TrimSpace(c.Realtime.Event) == "" {
		errs = append(errs, errors.New("realtime.event is required"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}

// Level parses LogLevel.
func (c *Config) Level() (logrus.Level, error) {
	switch strings.ToLower(c.LogLevel) {
	case "silent", "panic":
		return logrus.PanicLevel, nil
	case "debug":
		return logrus.DebugLevel, nil
	case "info":
		return logrus.InfoLevel, nil
	case "warn", "warning":
		return logrus.WarnLevel, nil
	case "error":
		return logrus.ErrorLevel, nil
	default:
		return logrus.PanicLevel, fmt.Errorf("invalid log level: %s (must be silent, debug, info, warn, or error)", c.LogLevel)
	}
}

// NewLogger creates a configured logger instance
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()

	level, err := c.Level()
	if err != nil {
		level = logrus.PanicLevel
	}
	logger.SetLevel(level)

	// Use structured logging format
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	return logger
}
