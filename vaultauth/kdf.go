package vaultauth

import (
	"crypto/sha256"

	"golang.org/x/crypto/pbkdf2"
)

// MinKDFIterations is the floor for PBKDF2-HMAC-SHA256 iteration counts,
// matching current OWASP hardening guidance. Configured values below the
// floor are clamped up, never down.
const MinKDFIterations = 600_000

// KeyDeriver turns a passphrase and salt into fixed-size key material.
// Derivation is deterministic for identical inputs: the same passphrase and
// salt must re-derive the same KEK. Implementations are pure functions and
// injectable so tests can count invocations.
type KeyDeriver interface {
	Derive(passphrase, salt []byte, length int) []byte
}

// PBKDF2Deriver derives keys with PBKDF2-HMAC-SHA256.
type PBKDF2Deriver struct {
	iterations int
}

// NewPBKDF2Deriver returns a deriver running at least MinKDFIterations.
func NewPBKDF2Deriver(iterations int) PBKDF2Deriver {
	if iterations < MinKDFIterations {
		iterations = MinKDFIterations
	}
	return PBKDF2Deriver{iterations: iterations}
}

// Iterations reports the effective iteration count.
func (d PBKDF2Deriver) Iterations() int {
	return d.iterations
}

// Derive stretches the passphrase into length bytes of key material.
// A zero-length salt is a programming error, not a runtime failure.
func (d PBKDF2Deriver) Derive(passphrase, salt []byte, length int) []byte {
	if len(salt) == 0 {
		panic("vaultauth: key derivation requires a non-empty salt")
	}
	return pbkdf2.Key(passphrase, salt, d.iterations, length, sha256.New)
}
