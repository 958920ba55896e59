package vaultauth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
)

const (
	// SaltSize is the size of per-slot KDF salts.
	SaltSize = 32

	// KEKSize is the size of the Key-Encrypting-Key (256 bits).
	KEKSize = 32

	sessionTokenSize = 32
)

// generateSalt generates a random 32-byte KDF salt.
func generateSalt() ([]byte, error) {
	salt := make([]byte, SaltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, err
	}
	return salt, nil
}

// generateSecureToken generates a random token of the specified length.
func generateSecureToken(length int) ([]byte, error) {
	token := make([]byte, length)
	if _, err := rand.Read(token); err != nil {
		return nil, err
	}
	return token, nil
}

// newSessionID returns an unguessable URL-safe session handle.
func newSessionID() (string, error) {
	token, err := generateSecureToken(sessionTokenSize)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(token), nil
}

// wrapKeyFromPassphrase derives the wrap-key from a passphrase. This is a
// fast, non-stretching step: the security boundary is the KDF-derived KEK,
// the wrap-key only seals the envelope around it.
func wrapKeyFromPassphrase(passphrase []byte) []byte {
	sum := sha256.Sum256(passphrase)
	return sum[:]
}
