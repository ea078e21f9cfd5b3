package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ControlAddr != DefaultControlAddr {
		t.Fatalf("unexpected control addr: %q", cfg.ControlAddr)
	}
	if cfg.LowLatencyAddr != DefaultLowLatencyAddr {
		t.Fatalf("unexpected udp addr: %q", cfg.LowLatencyAddr)
	}
	if cfg.LivenessTimeout != DefaultLivenessTimeout {
		t.Fatalf("unexpected liveness timeout: %v", cfg.LivenessTimeout)
	}
	if cfg.Logging.Level != DefaultLogLevel || cfg.Logging.MaxSizeMB != DefaultLogMaxSizeMB {
		t.Fatalf("unexpected logging config: %+v", cfg.Logging)
	}
}

func TestLoadHonoursOverrides(t *testing.T) {
	t.Setenv("GAMESERVER_CONTROL_ADDR", ":9000")
	t.Setenv("GAMESERVER_LIVENESS_TIMEOUT", "45s")
	t.Setenv("GAMESERVER_SWEEP_INTERVAL", "5s")
	t.Setenv("GAMESERVER_LOG_MAX_BACKUPS", "3")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ControlAddr != ":9000" {
		t.Fatalf("override ignored: %q", cfg.ControlAddr)
	}
	if cfg.LivenessTimeout != 45*time.Second || cfg.SweepInterval != 5*time.Second {
		t.Fatalf("duration overrides ignored: %+v", cfg)
	}
	if cfg.Logging.MaxBackups != 3 {
		t.Fatalf("log backups override ignored: %d", cfg.Logging.MaxBackups)
	}
}

func TestLoadCollectsAllProblems(t *testing.T) {
	t.Setenv("GAMESERVER_LIVENESS_TIMEOUT", "soon")
	t.Setenv("GAMESERVER_MAX_PAYLOAD_BYTES", "-1")

	_, err := Load()
	if err == nil {
		t.Fatalf("expected validation error")
	}
	if !strings.Contains(err.Error(), "GAMESERVER_LIVENESS_TIMEOUT") ||
		!strings.Contains(err.Error(), "GAMESERVER_MAX_PAYLOAD_BYTES") {
		t.Fatalf("expected both problems reported, got %v", err)
	}
}
