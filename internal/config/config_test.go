package config

import (
	"testing"
	"time"
)

func TestLoadAppliesDefaults(t *testing.T) {
	t.Setenv("REALTIME_ADMIN_SECRET", "test-secret")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != "8080" {
		t.Fatalf("expected default port 8080, got %q", cfg.Port)
	}
	if cfg.Heartbeat.Interval != 30*time.Second {
		t.Fatalf("unexpected heartbeat interval: %v", cfg.Heartbeat.Interval)
	}
}

func TestLoadRejectsBuiltinAuthWithoutSecret(t *testing.T) {
	t.Setenv("REALTIME_AUTH_BUILTIN", "true")
	t.Setenv("REALTIME_ADMIN_SECRET", "")
	if _, err := Load(); err == nil {
		t.Fatalf("expected error when builtin auth has no admin secret")
	}
}

func TestGetEnvListParsesCommaSeparated(t *testing.T) {
	t.Setenv("REALTIME_AUDIT_TIERS", "read, write,admin")
	got := getEnvList("REALTIME_AUDIT_TIERS", []string{"admin"})
	if len(got) != 3 || got[0] != "read" || got[1] != "write" || got[2] != "admin" {
		t.Fatalf("unexpected parsed list: %+v", got)
	}
}

func TestGetEnvDurationFallsBackOnInvalid(t *testing.T) {
	t.Setenv("REALTIME_HEARTBEAT_INTERVAL", "not-a-duration")
	got := getEnvDuration("REALTIME_HEARTBEAT_INTERVAL", 5*time.Second)
	if got != 5*time.Second {
		t.Fatalf("expected fallback duration, got %v", got)
	}
}
