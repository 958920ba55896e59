package vaultauth

import (
	"errors"
	"time"
)

// Sentinel errors for the unlock and setup paths. Callers match these with
// errors.Is; the HTTP layer maps them to response codes via ErrorCode.
var (
	// ErrIdenticalSecrets is returned by Setup when the real and decoy
	// passphrases are equal. Checked before any key derivation happens.
	ErrIdenticalSecrets = errors.New("vaultauth: real and decoy passphrases must differ")

	// ErrVaultNotConfigured is returned when no auth record exists for the
	// (user, vault) pair. This is the only failure that is allowed to be
	// distinguishable - there is no secret material to protect yet.
	ErrVaultNotConfigured = errors.New("vaultauth: vault not configured")

	// ErrInvalidPassphrase is the single collapsed failure for a wrong real
	// passphrase, a wrong decoy passphrase, or a decoy that was never
	// configured. Callers must not be able to tell these apart.
	ErrInvalidPassphrase = errors.New("vaultauth: invalid passphrase")

	// ErrAuthenticationFailed is the internal unwrap failure from the
	// authenticated wrap method. It never crosses the service boundary;
	// the unlock engine maps it to ErrInvalidPassphrase.
	ErrAuthenticationFailed = errors.New("vaultauth: key unwrap authentication failed")

	// ErrSessionNotFound is returned for unknown or expired session handles.
	ErrSessionNotFound = errors.New("vaultauth: session not found")

	// ErrCodeNotFound is returned when a backup code does not match any
	// unused code for the vault, or has already been spent.
	ErrCodeNotFound = errors.New("vaultauth: backup code invalid or already used")
)

// RateLimitedError is returned when too many unlock attempts were made for a
// (user, vault, source) tuple. The message shape matches a wrong-passphrase
// failure; only the retry hint is extra.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return "vaultauth: too many attempts"
}

// Response codes for callers that expose these failures over an API.
const (
	CodeInvalidPassphrase  = "invalid_passphrase"
	CodeRateLimited        = "rate_limited"
	CodeVaultNotConfigured = "vault_not_configured"
	CodeIdenticalSecrets   = "identical_secrets"
)

// ErrorCode maps a subsystem error to its wire-level code. Internal errors
// (including ErrAuthenticationFailed, which should never escape) collapse to
// invalid_passphrase so no cryptographic detail leaks outward.
func ErrorCode(err error) string {
	var rle *RateLimitedError
	switch {
	case errors.As(err, &rle):
		return CodeRateLimited
	case errors.Is(err, ErrVaultNotConfigured):
		return CodeVaultNotConfigured
	case errors.Is(err, ErrIdenticalSecrets):
		return CodeIdenticalSecrets
	default:
		return CodeInvalidPassphrase
	}
}
