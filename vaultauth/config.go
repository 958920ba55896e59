package vaultauth

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the tunable parameters of the subsystem. Rate-limit sizing
// and the session TTL are operational policy, not invariants; the KDF
// iteration floor is the one value that only clamps upward.
type Config struct {
	// KDFIterations for PBKDF2-HMAC-SHA256. Values below MinKDFIterations
	// are raised to the floor.
	KDFIterations int `yaml:"kdf_iterations"`

	// SessionTTLMinutes bounds the lifetime of unlock sessions.
	SessionTTLMinutes int `yaml:"session_ttl_minutes"`

	// BackupCodeCount is the batch size for generated recovery codes.
	BackupCodeCount int `yaml:"backup_code_count"`

	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// RateLimitConfig sizes the unlock attempt limiter.
type RateLimitConfig struct {
	Attempts       int `yaml:"attempts"`
	WindowSeconds  int `yaml:"window_seconds"`
	IdleTTLMinutes int `yaml:"idle_ttl_minutes"`
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		KDFIterations:     MinKDFIterations,
		SessionTTLMinutes: 30,
		BackupCodeCount:   10,
		RateLimit: RateLimitConfig{
			Attempts:       5,
			WindowSeconds:  300,
			IdleTTLMinutes: 60,
		},
	}
}

// LoadConfig loads configuration from a YAML file, overlaying the defaults.
// A missing file yields the defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	return cfg.normalized(), nil
}

// normalized backfills zero values and enforces the KDF floor.
func (c Config) normalized() Config {
	def := DefaultConfig()
	if c.KDFIterations < MinKDFIterations {
		c.KDFIterations = MinKDFIterations
	}
	if c.SessionTTLMinutes <= 0 {
		c.SessionTTLMinutes = def.SessionTTLMinutes
	}
	if c.BackupCodeCount <= 0 {
		c.BackupCodeCount = def.BackupCodeCount
	}
	if c.RateLimit.Attempts <= 0 {
		c.RateLimit.Attempts = def.RateLimit.Attempts
	}
	if c.RateLimit.WindowSeconds <= 0 {
		c.RateLimit.WindowSeconds = def.RateLimit.WindowSeconds
	}
	if c.RateLimit.IdleTTLMinutes <= 0 {
		c.RateLimit.IdleTTLMinutes = def.RateLimit.IdleTTLMinutes
	}
	return c
}

// SessionTTL returns the session lifetime as a duration.
func (c Config) SessionTTL() time.Duration {
	return time.Duration(c.SessionTTLMinutes) * time.Minute
}

// Window returns the rate-limit window as a duration.
func (c RateLimitConfig) Window() time.Duration {
	return time.Duration(c.WindowSeconds) * time.Second
}

// IdleTTL returns how long an idle limiter entry is retained.
func (c RateLimitConfig) IdleTTL() time.Duration {
	return time.Duration(c.IdleTTLMinutes) * time.Minute
}
