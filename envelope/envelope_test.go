package envelope

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
)

func testKey(seed string) []byte {
	sum := sha256.Sum256([]byte(seed))
	return sum[:]
}

func newTestEnvelope(t *testing.T, path, seed string) *FileEnvelope {
	t.Helper()
	env, err := New(path, testKey(seed), zerolog.Nop())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return env
}

func TestNewRejectsShortKey(t *testing.T) {
	if _, err := New("x.db", []byte("short"), zerolog.Nop()); err == nil {
		t.Error("New accepted a short key")
	}
}

func TestEnvelopeRoundtrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vault.db")
	content := []byte("sqlite pretend content")

	if err := os.WriteFile(path, content, 0600); err != nil {
		t.Fatalf("seed write failed: %v", err)
	}

	env := newTestEnvelope(t, path, "k1")
	if err := env.MigrateFromPlaintext(); err != nil {
		t.Fatalf("MigrateFromPlaintext failed: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("plaintext still at original path after migration")
	}
	if _, err := os.Stat(path + ".plaintext.bak"); err != nil {
		t.Error("migration did not keep a backup of the original")
	}
	sealed, err := os.ReadFile(env.EncryptedPath())
	if err != nil {
		t.Fatalf("envelope missing: %v", err)
	}
	if bytes.Contains(sealed, content) {
		t.Error("envelope contains plaintext")
	}

	// Reopen with the same key.
	env2 := newTestEnvelope(t, path, "k1")
	workPath, err := env2.Connect()
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if env2.NeedsMigration {
		t.Error("NeedsMigration set after opening an envelope")
	}
	got, err := os.ReadFile(workPath)
	if err != nil {
		t.Fatalf("working copy unreadable: %v", err)
	}
	if !bytes.Equal(got, content) {
		t.Error("decrypted content does not match original")
	}
	info, err := os.Stat(workPath)
	if err != nil {
		t.Fatalf("stat failed: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("working copy mode = %o, want 0600", info.Mode().Perm())
	}

	// Mutate the working copy and seal it back.
	updated := []byte("updated content")
	if err := os.WriteFile(workPath, updated, 0600); err != nil {
		t.Fatalf("update write failed: %v", err)
	}
	if err := env2.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if _, err := os.Stat(workPath); !os.IsNotExist(err) {
		t.Error("working copy survived Close")
	}

	env3 := newTestEnvelope(t, path, "k1")
	workPath3, err := env3.Connect()
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	got, _ = os.ReadFile(workPath3)
	if !bytes.Equal(got, updated) {
		t.Error("Close did not persist the updated content")
	}
	env3.Close()
}

func TestWrongKeyFailsClosed(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vault.db")
	if err := os.WriteFile(path, []byte("secret"), 0600); err != nil {
		t.Fatalf("seed write failed: %v", err)
	}
	env := newTestEnvelope(t, path, "right")
	if err := env.MigrateFromPlaintext(); err != nil {
		t.Fatalf("MigrateFromPlaintext failed: %v", err)
	}

	wrong := newTestEnvelope(t, path, "wrong")
	if _, err := wrong.Connect(); !errors.Is(err, ErrDecryptFailed) {
		t.Errorf("Connect error = %v, want ErrDecryptFailed", err)
	}

	// No plaintext may appear on disk from the failed attempt.
	entries, _ := os.ReadDir(dir)
	for _, e := range entries {
		if e.Name() != filepath.Base(path)+".encrypted" && e.Name() != filepath.Base(path)+".plaintext.bak" {
			t.Errorf("unexpected file after failed decrypt: %s", e.Name())
		}
	}
}

func TestBitFlipFailsClosed(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vault.db")
	if err := os.WriteFile(path, []byte("secret"), 0600); err != nil {
		t.Fatalf("seed write failed: %v", err)
	}
	env := newTestEnvelope(t, path, "k1")
	if err := env.MigrateFromPlaintext(); err != nil {
		t.Fatalf("MigrateFromPlaintext failed: %v", err)
	}

	blob, err := os.ReadFile(env.EncryptedPath())
	if err != nil {
		t.Fatalf("read envelope failed: %v", err)
	}
	blob[len(blob)-1] ^= 0x01
	if err := os.WriteFile(env.EncryptedPath(), blob, 0600); err != nil {
		t.Fatalf("tamper write failed: %v", err)
	}

	again := newTestEnvelope(t, path, "k1")
	if _, err := again.Connect(); !errors.Is(err, ErrDecryptFailed) {
		t.Errorf("Connect error = %v, want ErrDecryptFailed", err)
	}
}

func TestConnectLegacyPlaintext(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vault.db")
	if err := os.WriteFile(path, []byte("legacy"), 0600); err != nil {
		t.Fatalf("seed write failed: %v", err)
	}

	env := newTestEnvelope(t, path, "k1")
	workPath, err := env.Connect()
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if workPath != path {
		t.Errorf("legacy Connect path = %q, want %q", workPath, path)
	}
	if !env.NeedsMigration {
		t.Error("NeedsMigration not set for a legacy plaintext database")
	}

	if err := env.MigrateFromPlaintext(); err != nil {
		t.Fatalf("MigrateFromPlaintext failed: %v", err)
	}
	if env.NeedsMigration {
		t.Error("NeedsMigration still set after migration")
	}
}

// Closing a legacy session must not leave the plaintext original behind
// next to the freshly sealed envelope.
func TestCloseAfterLegacyConnectMigrates(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vault.db")
	content := []byte("legacy content")
	if err := os.WriteFile(path, content, 0600); err != nil {
		t.Fatalf("seed write failed: %v", err)
	}

	env := newTestEnvelope(t, path, "k1")
	if _, err := env.Connect(); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if err := env.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("plaintext still at original path after Close")
	}
	if _, err := os.Stat(path + ".plaintext.bak"); err != nil {
		t.Error("Close did not keep the plaintext backup")
	}
	if env.NeedsMigration {
		t.Error("NeedsMigration still set after Close")
	}

	// The next open prefers the envelope and yields the same content.
	again := newTestEnvelope(t, path, "k1")
	workPath, err := again.Connect()
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	if again.NeedsMigration {
		t.Error("NeedsMigration set after opening the sealed envelope")
	}
	got, _ := os.ReadFile(workPath)
	if !bytes.Equal(got, content) {
		t.Error("sealed content does not match the legacy original")
	}
	again.Close()
}

func TestConnectMissingDatabase(t *testing.T) {
	env := newTestEnvelope(t, filepath.Join(t.TempDir(), "vault.db"), "k1")
	if _, err := env.Connect(); !errors.Is(err, ErrDatabaseNotFound) {
		t.Errorf("Connect error = %v, want ErrDatabaseNotFound", err)
	}
}

func TestProbe(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vault.db")
	if err := os.WriteFile(path, []byte("secret"), 0600); err != nil {
		t.Fatalf("seed write failed: %v", err)
	}
	env := newTestEnvelope(t, path, "k1")
	if err := env.MigrateFromPlaintext(); err != nil {
		t.Fatalf("MigrateFromPlaintext failed: %v", err)
	}

	if !Probe(path, testKey("k1")) {
		t.Error("Probe rejected the correct key")
	}
	if Probe(path, testKey("k2")) {
		t.Error("Probe accepted a wrong key")
	}
	// No envelope to check against passes.
	if !Probe(filepath.Join(dir, "missing.db"), testKey("k1")) {
		t.Error("Probe failed for a missing envelope")
	}
}
