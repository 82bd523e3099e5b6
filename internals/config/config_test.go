package config

import (
	"testing"
	"time"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg := LoadConfig()

	if cfg.Server.Port != 8080 {
		t.Errorf("default port: got %d, want 8080", cfg.Server.Port)
	}
	if cfg.Presence.SeatLockTTL != 5*time.Second {
		t.Errorf("seat lock TTL: got %v, want 5s", cfg.Presence.SeatLockTTL)
	}
	if cfg.Presence.StaleAfter != 2*time.Minute {
		t.Errorf("stale threshold: got %v, want 2m", cfg.Presence.StaleAfter)
	}
	if cfg.Presence.SweepInterval != 5*time.Second {
		t.Errorf("sweep interval: got %v, want 5s", cfg.Presence.SweepInterval)
	}
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Setenv("COORD_PORT", "9090")
	t.Setenv("COORD_STALE_AFTER_SEC", "30")
	t.Setenv("METRICS_ENABLED", "false")

	cfg := LoadConfig()

	if cfg.Server.Port != 9090 {
		t.Errorf("port override: got %d, want 9090", cfg.Server.Port)
	}
	if cfg.Presence.StaleAfter != 30*time.Second {
		t.Errorf("stale override: got %v, want 30s", cfg.Presence.StaleAfter)
	}
	if cfg.Metrics.Enabled {
		t.Error("metrics override not applied")
	}
}

func TestLoadConfig_BadValuesFallBack(t *testing.T) {
	t.Setenv("COORD_PORT", "not-a-number")
	t.Setenv("METRICS_ENABLED", "maybe")

	cfg := LoadConfig()

	if cfg.Server.Port != 8080 {
		t.Errorf("unparsable port should fall back: got %d", cfg.Server.Port)
	}
	if !cfg.Metrics.Enabled {
		t.Error("unparsable bool should fall back to default")
	}
}
