// Package config loads all runtime tunables for the session server from the
// environment, applying sane defaults and reporting invalid overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultControlAddr is the TCP address the control channel listens on.
	DefaultControlAddr = ":43210"
	// DefaultLowLatencyAddr is the UDP address the low-latency channel binds to.
	DefaultLowLatencyAddr = ":43211"
	// DefaultAdminAddr is the address of the operator REST surface.
	DefaultAdminAddr = ":43212"
	// DefaultPingInterval controls the keepalive cadence for control connections.
	DefaultPingInterval = 30 * time.Second
	// DefaultMaxPayloadBytes limits inbound control frame size.
	DefaultMaxPayloadBytes int64 = 1 << 16

	// DefaultLivenessTimeout evicts clients silent on the control channel for longer.
	DefaultLivenessTimeout = 30 * time.Second
	// DefaultSweepInterval is the cadence of the liveness eviction sweep.
	DefaultSweepInterval = 10 * time.Second

	// DefaultTimeRefTimeout bounds the time reference exchange at game start.
	DefaultTimeRefTimeout = 2 * time.Second

	// DefaultLogLevel controls verbosity for server logs.
	DefaultLogLevel = "info"
	// DefaultLogPath is where structured logs are written.
	DefaultLogPath = "gameserver.log"
	// DefaultLogMaxSizeMB caps the size of a single log file before rotation.
	DefaultLogMaxSizeMB = 100
	// DefaultLogMaxBackups limits retained rotated log files.
	DefaultLogMaxBackups = 10
	// DefaultLogCompress toggles gzip compression for rotated log files.
	DefaultLogCompress = true
)

// Config captures all runtime tunables for the session server.
type Config struct {
	ControlAddr     string
	LowLatencyAddr  string
	AdminAddr       string
	AdminToken      string
	PingInterval    time.Duration
	MaxPayloadBytes int64
	LivenessTimeout time.Duration
	SweepInterval   time.Duration
	TimeRefURL      string
	TimeRefTimeout  time.Duration
	JournalDir      string
	Logging         LoggingConfig
}

// LoggingConfig captures structured logging configuration options.
type LoggingConfig struct {
	Level      string
	Path       string
	MaxSizeMB  int
	MaxBackups int
	Compress   bool
}

// Load reads the server configuration from environment variables, applying
// defaults and returning descriptive errors for invalid overrides.
func Load() (*Config, error) {
	cfg := &Config{
		ControlAddr:     getString("GAMESERVER_CONTROL_ADDR", DefaultControlAddr),
		LowLatencyAddr:  getString("GAMESERVER_UDP_ADDR", DefaultLowLatencyAddr),
		AdminAddr:       getString("GAMESERVER_ADMIN_ADDR", DefaultAdminAddr),
		AdminToken:      strings.TrimSpace(os.Getenv("GAMESERVER_ADMIN_TOKEN")),
		PingInterval:    DefaultPingInterval,
		MaxPayloadBytes: DefaultMaxPayloadBytes,
		LivenessTimeout: DefaultLivenessTimeout,
		SweepInterval:   DefaultSweepInterval,
		TimeRefURL:      strings.TrimSpace(os.Getenv("GAMESERVER_TIMEREF_URL")),
		TimeRefTimeout:  DefaultTimeRefTimeout,
		JournalDir:      strings.TrimSpace(os.Getenv("GAMESERVER_JOURNAL_DIR")),
		Logging: LoggingConfig{
			Level:      strings.TrimSpace(getString("GAMESERVER_LOG_LEVEL", DefaultLogLevel)),
			Path:       strings.TrimSpace(getString("GAMESERVER_LOG_PATH", DefaultLogPath)),
			MaxSizeMB:  DefaultLogMaxSizeMB,
			MaxBackups: DefaultLogMaxBackups,
			Compress:   DefaultLogCompress,
		},
	}

	var problems []string

	if raw := strings.TrimSpace(os.Getenv("GAMESERVER_PING_INTERVAL")); raw != "" {
		duration, err := time.ParseDuration(raw)
		if err != nil || duration <= 0 {
			problems = append(problems, fmt.Sprintf("GAMESERVER_PING_INTERVAL must be a positive duration, got %q", raw))
		} else {
			cfg.PingInterval = duration
		}
	}

	if raw := strings.TrimSpace(os.Getenv("GAMESERVER_MAX_PAYLOAD_BYTES")); raw != "" {
		value, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || value <= 0 {
			problems = append(problems, fmt.Sprintf("GAMESERVER_MAX_PAYLOAD_BYTES must be a positive integer, got %q", raw))
		} else {
			cfg.MaxPayloadBytes = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("GAMESERVER_LIVENESS_TIMEOUT")); raw != "" {
		duration, err := time.ParseDuration(raw)
		if err != nil || duration <= 0 {
			problems = append(problems, fmt.Sprintf("GAMESERVER_LIVENESS_TIMEOUT must be a positive duration, got %q", raw))
		} else {
			cfg.LivenessTimeout = duration
		}
	}

	if raw := strings.TrimSpace(os.Getenv("GAMESERVER_SWEEP_INTERVAL")); raw != "" {
		duration, err := time.ParseDuration(raw)
		if err != nil || duration <= 0 {
			problems = append(problems, fmt.Sprintf("GAMESERVER_SWEEP_INTERVAL must be a positive duration, got %q", raw))
		} else {
			cfg.SweepInterval = duration
		}
	}

	if raw := strings.TrimSpace(os.Getenv("GAMESERVER_TIMEREF_TIMEOUT")); raw != "" {
		duration, err := time.ParseDuration(raw)
		if err != nil || duration <= 0 {
			problems = append(problems, fmt.Sprintf("GAMESERVER_TIMEREF_TIMEOUT must be a positive duration, got %q", raw))
		} else {
			cfg.TimeRefTimeout = duration
		}
	}

	if raw := strings.TrimSpace(os.Getenv("GAMESERVER_LOG_MAX_SIZE_MB")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value <= 0 {
			problems = append(problems, fmt.Sprintf("GAMESERVER_LOG_MAX_SIZE_MB must be a positive integer, got %q", raw))
		} else {
			cfg.Logging.MaxSizeMB = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("GAMESERVER_LOG_MAX_BACKUPS")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value < 0 {
			problems = append(problems, fmt.Sprintf("GAMESERVER_LOG_MAX_BACKUPS must be a non-negative integer, got %q", raw))
		} else {
			cfg.Logging.MaxBackups = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("GAMESERVER_LOG_COMPRESS")); raw != "" {
		value, err := strconv.ParseBool(raw)
		if err != nil {
			problems = append(problems, fmt.Sprintf("GAMESERVER_LOG_COMPRESS must be a boolean value, got %q", raw))
		} else {
			cfg.Logging.Compress = value
		}
	}

	if len(problems) > 0 {
		return nil, fmt.Errorf("%s", strings.Join(problems, "; "))
	}

	return cfg, nil
}

func getString(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}
