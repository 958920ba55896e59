// Package envelope encrypts a whole database file at rest under a vault KEK.
//
// On disk the database lives as <path>.encrypted: a 12-byte GCM nonce
// followed by the AES-256-GCM ciphertext of the whole file. While open, a
// decrypted working copy sits in a private temp directory; Close re-encrypts
// the working copy with a fresh nonce and removes it.
package envelope

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
)

const (
	gcmNonceSize = 12
	keySize      = 32
)

var (
	// ErrDatabaseNotFound means neither an encrypted envelope nor a legacy
	// plaintext file exists at the configured path.
	ErrDatabaseNotFound = errors.New("database not found")

	// ErrDecryptFailed means the envelope exists but did not authenticate
	// under the offered key. The envelope is never opened partially.
	ErrDecryptFailed = errors.New("database decryption failed")
)

// FileEnvelope manages one encrypted database file.
type FileEnvelope struct {
	path     string
	key      []byte
	log      zerolog.Logger
	tempDir  string
	workPath string

	// NeedsMigration is set by Connect when it fell back to a legacy
	// plaintext file. The caller should run MigrateFromPlaintext once the
	// database is otherwise healthy.
	NeedsMigration bool
}

// New creates an envelope for the database at path, keyed by a 32-byte KEK.
func New(path string, key []byte, logger zerolog.Logger) (*FileEnvelope, error) {
	if len(key) != keySize {
		return nil, fmt.Errorf("envelope key must be %d bytes", keySize)
	}
	k := make([]byte, keySize)
	copy(k, key)
	return &FileEnvelope{path: path, key: k, log: logger}, nil
}

// EncryptedPath returns the on-disk location of the sealed database.
func (e *FileEnvelope) EncryptedPath() string {
	return e.path + ".encrypted"
}

// Connect makes a usable plaintext database file available and returns its
// path. Preference order: decrypt the envelope; fall back to a legacy
// plaintext file (setting NeedsMigration); otherwise ErrDatabaseNotFound.
//
// SECURITY: the decrypted working copy is written 0600 inside a fresh 0700
// temp directory. Decryption happens fully in memory, so a wrong key fails
// before any plaintext byte reaches disk.
func (e *FileEnvelope) Connect() (string, error) {
	blob, err := os.ReadFile(e.EncryptedPath())
	if err == nil {
		plaintext, err := e.decrypt(blob)
		if err != nil {
			return "", err
		}
		workPath, err := e.stage(plaintext)
		if err != nil {
			return "", err
		}
		e.log.Debug().Str("path", e.path).Msg("database envelope opened")
		return workPath, nil
	}
	if !os.IsNotExist(err) {
		return "", fmt.Errorf("failed to read envelope: %w", err)
	}

	if _, err := os.Stat(e.path); err == nil {
		e.NeedsMigration = true
		e.workPath = e.path
		e.log.Warn().Str("path", e.path).Msg("using unencrypted legacy database")
		return e.path, nil
	}

	return "", ErrDatabaseNotFound
}

// Close seals the working copy back into the envelope and deletes the
// plaintext. Safe to call only after Connect succeeded.
//
// When Connect fell back to a legacy plaintext file, the working copy is
// that file itself; sealing it without moving the original aside would
// leave the plaintext at rest next to the envelope. Close therefore runs
// the full migration in that case, keeping <path>.plaintext.bak.
func (e *FileEnvelope) Close() error {
	if e.workPath == "" {
		return nil
	}
	if e.workPath == e.path {
		return e.MigrateFromPlaintext()
	}
	plaintext, err := os.ReadFile(e.workPath)
	if err != nil {
		return fmt.Errorf("failed to read working copy: %w", err)
	}

	if err := e.seal(plaintext); err != nil {
		return err
	}

	if e.tempDir != "" {
		if err := os.RemoveAll(e.tempDir); err != nil {
			e.log.Warn().Str("dir", e.tempDir).Msg("failed to remove working directory")
		}
		e.tempDir = ""
	}
	e.workPath = ""
	e.log.Debug().Str("path", e.path).Msg("database envelope sealed")
	return nil
}

// MigrateFromPlaintext seals a legacy plaintext database into the envelope.
// The original is kept as <path>.plaintext.bak until the operator removes
// it; migration must never be the step that destroys the only copy.
func (e *FileEnvelope) MigrateFromPlaintext() error {
	plaintext, err := os.ReadFile(e.path)
	if err != nil {
		if os.IsNotExist(err) {
			return ErrDatabaseNotFound
		}
		return fmt.Errorf("failed to read plaintext database: %w", err)
	}

	if err := e.seal(plaintext); err != nil {
		return err
	}

	backup := e.path + ".plaintext.bak"
	if err := os.Rename(e.path, backup); err != nil {
		return fmt.Errorf("failed to move plaintext aside: %w", err)
	}

	e.NeedsMigration = false
	if e.workPath == e.path {
		e.workPath = ""
	}
	e.log.Info().Str("path", e.path).Msg("database migrated to encrypted envelope")
	return nil
}

// Probe reports whether key opens the envelope at path. Used to verify KEKs
// recovered through unauthenticated legacy wraps. A missing envelope is
// treated as a pass: there is nothing to check against.
func Probe(path string, key []byte) bool {
	if len(key) != keySize {
		return false
	}
	blob, err := os.ReadFile(path + ".encrypted")
	if err != nil {
		return os.IsNotExist(err)
	}
	e := FileEnvelope{key: key}
	_, err = e.decrypt(blob)
	return err == nil
}

// seal encrypts plaintext with a fresh nonce and atomically replaces the
// envelope file.
func (e *FileEnvelope) seal(plaintext []byte) error {
	aead, err := newAEAD(e.key)
	if err != nil {
		return err
	}
	nonce := make([]byte, gcmNonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("failed to generate nonce: %w", err)
	}
	blob := aead.Seal(nonce, nonce, plaintext, nil)

	target := e.EncryptedPath()
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, blob, 0600); err != nil {
		return fmt.Errorf("failed to write envelope: %w", err)
	}
	if err := os.Rename(tmp, target); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace envelope: %w", err)
	}
	return nil
}

// decrypt opens an envelope blob in memory.
func (e *FileEnvelope) decrypt(blob []byte) ([]byte, error) {
	if len(blob) < gcmNonceSize {
		return nil, ErrDecryptFailed
	}
	aead, err := newAEAD(e.key)
	if err != nil {
		return nil, err
	}
	plaintext, err := aead.Open(nil, blob[:gcmNonceSize], blob[gcmNonceSize:], nil)
	if err != nil {
		return nil, ErrDecryptFailed
	}
	return plaintext, nil
}

// stage writes the decrypted database into a private temp directory.
func (e *FileEnvelope) stage(plaintext []byte) (string, error) {
	dir, err := os.MkdirTemp("", "duovault-db-*")
	if err != nil {
		return "", fmt.Errorf("failed to create working directory: %w", err)
	}
	if err := os.Chmod(dir, 0700); err != nil {
		os.RemoveAll(dir)
		return "", fmt.Errorf("failed to restrict working directory: %w", err)
	}
	workPath := filepath.Join(dir, filepath.Base(e.path))
	if err := os.WriteFile(workPath, plaintext, 0600); err != nil {
		os.RemoveAll(dir)
		return "", fmt.Errorf("failed to write working copy: %w", err)
	}
	e.tempDir = dir
	e.workPath = workPath
	return workPath, nil
}

func newAEAD(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return aead, nil
}
