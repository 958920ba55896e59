package vaultauth

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadConfigMissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.KDFIterations != MinKDFIterations {
		t.Errorf("KDFIterations = %d, want %d", cfg.KDFIterations, MinKDFIterations)
	}
	if cfg.SessionTTL() != 30*time.Minute {
		t.Errorf("SessionTTL = %v, want 30m", cfg.SessionTTL())
	}
	if cfg.RateLimit.Attempts != 5 {
		t.Errorf("Attempts = %d, want 5", cfg.RateLimit.Attempts)
	}
}

func TestLoadConfigOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
kdf_iterations: 800000
session_ttl_minutes: 10
rate_limit:
  attempts: 3
`
	if err := os.WriteFile(path, []byte(data), 0600); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.KDFIterations != 800_000 {
		t.Errorf("KDFIterations = %d, want 800000", cfg.KDFIterations)
	}
	if cfg.SessionTTL() != 10*time.Minute {
		t.Errorf("SessionTTL = %v, want 10m", cfg.SessionTTL())
	}
	if cfg.RateLimit.Attempts != 3 {
		t.Errorf("Attempts = %d, want 3", cfg.RateLimit.Attempts)
	}
	// Unset fields keep their defaults.
	if cfg.BackupCodeCount != 10 {
		t.Errorf("BackupCodeCount = %d, want 10", cfg.BackupCodeCount)
	}
}

func TestLoadConfigClampsWeakIterations(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("kdf_iterations: 1000\n"), 0600); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.KDFIterations != MinKDFIterations {
		t.Errorf("KDFIterations = %d, want clamped %d", cfg.KDFIterations, MinKDFIterations)
	}
}
