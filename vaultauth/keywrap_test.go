package vaultauth

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"testing"
)

func testKEK() []byte {
	kek := make([]byte, KEKSize)
	for i := range kek {
		kek[i] = byte(i)
	}
	return kek
}

func testWrapKey(passphrase string) []byte {
	sum := sha256.Sum256([]byte(passphrase))
	return sum[:]
}

func TestWrapUnwrapRoundtrip(t *testing.T) {
	kek := testKEK()
	wrapKey := testWrapKey("correct horse")

	wrapped, err := Wrap(kek, wrapKey, WrapMethodAESKW)
	if err != nil {
		t.Fatalf("Wrap failed: %v", err)
	}
	if wrapped.Method != WrapMethodAESKW {
		t.Errorf("Method = %q, want %q", wrapped.Method, WrapMethodAESKW)
	}
	if len(wrapped.Nonce) != 12 {
		t.Errorf("nonce length = %d, want 12", len(wrapped.Nonce))
	}
	if bytes.Contains(wrapped.Ciphertext, kek) {
		t.Error("ciphertext contains plaintext KEK")
	}

	got, err := Unwrap(wrapped, wrapKey)
	if err != nil {
		t.Fatalf("Unwrap failed: %v", err)
	}
	if !bytes.Equal(got, kek) {
		t.Errorf("unwrapped KEK does not match original")
	}
}

func TestUnwrapWrongKeyFailsClosed(t *testing.T) {
	wrapped, err := Wrap(testKEK(), testWrapKey("right"), WrapMethodAESKW)
	if err != nil {
		t.Fatalf("Wrap failed: %v", err)
	}

	got, err := Unwrap(wrapped, testWrapKey("wrong"))
	if !errors.Is(err, ErrAuthenticationFailed) {
		t.Errorf("Unwrap error = %v, want ErrAuthenticationFailed", err)
	}
	if got != nil {
		t.Error("Unwrap returned key material on authentication failure")
	}
}

func TestUnwrapTamperedCiphertext(t *testing.T) {
	wrapKey := testWrapKey("pass")
	wrapped, err := Wrap(testKEK(), wrapKey, WrapMethodAESKW)
	if err != nil {
		t.Fatalf("Wrap failed: %v", err)
	}
	wrapped.Ciphertext[0] ^= 0x01

	if _, err := Unwrap(wrapped, wrapKey); !errors.Is(err, ErrAuthenticationFailed) {
		t.Errorf("Unwrap error = %v, want ErrAuthenticationFailed", err)
	}
}

func TestLegacyUnwrapAlwaysSucceeds(t *testing.T) {
	kek := testKEK()
	wrapKey := testWrapKey("legacy pass")
	wrapped := wrapLegacy(kek, wrapKey)

	// Right key recovers the KEK.
	got, err := Unwrap(wrapped, wrapKey)
	if err != nil {
		t.Fatalf("Unwrap failed: %v", err)
	}
	if !bytes.Equal(got, kek) {
		t.Error("legacy unwrap with correct key did not recover KEK")
	}

	// Wrong key also "succeeds" but yields garbage. That is the flaw the
	// authenticated method replaces; callers must verify with a probe.
	garbage, err := Unwrap(wrapped, testWrapKey("wrong"))
	if err != nil {
		t.Fatalf("legacy unwrap with wrong key errored: %v", err)
	}
	if bytes.Equal(garbage, kek) {
		t.Error("wrong key recovered the real KEK")
	}
}

func TestWrapRejectsLegacyMethod(t *testing.T) {
	if _, err := Wrap(testKEK(), testWrapKey("p"), WrapMethodXORLegacy); err == nil {
		t.Error("Wrap accepted the legacy method for new material")
	}
}

func TestMigrate(t *testing.T) {
	kek := testKEK()
	wrapKey := testWrapKey("migrating")
	legacy := wrapLegacy(kek, wrapKey)

	out, migrated, err := Migrate(legacy, wrapKey)
	if err != nil {
		t.Fatalf("Migrate failed: %v", err)
	}
	if !migrated {
		t.Fatal("Migrate did not migrate a legacy blob")
	}
	if out.Method != WrapMethodAESKW {
		t.Errorf("migrated method = %q, want %q", out.Method, WrapMethodAESKW)
	}
	got, err := Unwrap(out, wrapKey)
	if err != nil {
		t.Fatalf("Unwrap of migrated blob failed: %v", err)
	}
	if !bytes.Equal(got, kek) {
		t.Error("migration changed the wrapped KEK")
	}

	// Migrating an already-authenticated blob is a no-op.
	again, migrated, err := Migrate(out, wrapKey)
	if err != nil {
		t.Fatalf("second Migrate failed: %v", err)
	}
	if migrated {
		t.Error("Migrate reported work on an already-migrated blob")
	}
	if !bytes.Equal(again.Ciphertext, out.Ciphertext) {
		t.Error("no-op migration altered the blob")
	}
}

func TestWrappedKeyEncodeDecode(t *testing.T) {
	wrapped, err := Wrap(testKEK(), testWrapKey("encode me"), WrapMethodAESKW)
	if err != nil {
		t.Fatalf("Wrap failed: %v", err)
	}

	blob, err := wrapped.Encode()
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	decoded, err := DecodeWrappedKey(blob)
	if err != nil {
		t.Fatalf("DecodeWrappedKey failed: %v", err)
	}
	if decoded.Method != wrapped.Method ||
		!bytes.Equal(decoded.Nonce, wrapped.Nonce) ||
		!bytes.Equal(decoded.Ciphertext, wrapped.Ciphertext) {
		t.Error("decoded blob does not match original")
	}

	if _, err := DecodeWrappedKey([]byte("not cbor")); err == nil {
		t.Error("DecodeWrappedKey accepted garbage")
	}
}

func TestWrapMethodValid(t *testing.T) {
	tests := []struct {
		method WrapMethod
		want   bool
	}{
		{WrapMethodAESKW, true},
		{WrapMethodXORLegacy, true},
		{WrapMethod("rot13"), false},
		{WrapMethod(""), false},
	}
	for _, tt := range tests {
		if got := tt.method.Valid(); got != tt.want {
			t.Errorf("Valid(%q) = %v, want %v", tt.method, got, tt.want)
		}
	}
}
