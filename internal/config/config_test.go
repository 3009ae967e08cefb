// Package config tests for environment loading.
package config

import (
	"testing"
	"time"
)

// TestLoadDefaults verifies defaults are applied when only required
// variables are set.
func TestLoadDefaults(t *testing.T) {
	t.Setenv("SYNC_AUTH_TOKEN", "test-token")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.ServerURL != "http://localhost:5000" {
		t.Errorf("ServerURL = %s, want default", cfg.ServerURL)
	}

	if cfg.SyncInterval != 5*time.Minute {
		t.Errorf("SyncInterval = %s, want 5m", cfg.SyncInterval)
	}

	if cfg.MaxAttempts != 5 {
		t.Errorf("MaxAttempts = %d, want 5", cfg.MaxAttempts)
	}

	if cfg.SettleDelay != 5*time.Second {
		t.Errorf("SettleDelay = %s, want 5s", cfg.SettleDelay)
	}
}

// TestLoadRejectsZeroAttempts verifies retry policy validation.
func TestLoadRejectsZeroAttempts(t *testing.T) {
	t.Setenv("SYNC_AUTH_TOKEN", "x")
	t.Setenv("SYNC_MAX_ATTEMPTS", "0")

	_, err := Load()
	if err == nil {
		t.Fatal("expected validation error for zero max attempts")
	}
}

// TestLoadOverrides verifies explicit environment values win.
func TestLoadOverrides(t *testing.T) {
	t.Setenv("SYNC_AUTH_TOKEN", "tok")
	t.Setenv("SYNC_SERVER_URL", "https://api.example.com")
	t.Setenv("SYNC_INTERVAL", "90s")
	t.Setenv("SYNC_MAX_ATTEMPTS", "3")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.ServerURL != "https://api.example.com" {
		t.Errorf("ServerURL = %s", cfg.ServerURL)
	}

	if cfg.SyncInterval != 90*time.Second {
		t.Errorf("SyncInterval = %s, want 90s", cfg.SyncInterval)
	}

	if cfg.MaxAttempts != 3 {
		t.Errorf("MaxAttempts = %d, want 3", cfg.MaxAttempts)
	}
}

// TestValidateRejectsBadDelays verifies policy validation.
func TestValidateRejectsBadDelays(t *testing.T) {
	t.Setenv("SYNC_AUTH_TOKEN", "tok")
	t.Setenv("SYNC_BASE_DELAY", "0s")

	if _, err := Load(); err == nil {
		t.Fatal("expected validation error for zero base delay")
	}
}
