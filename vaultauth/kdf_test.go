package vaultauth

import (
	"bytes"
	"testing"
)

func TestPBKDF2DeriveDeterministic(t *testing.T) {
	// Low iteration count keeps the test fast; NewPBKDF2Deriver clamps, so
	// build the deriver directly.
	d := PBKDF2Deriver{iterations: 1000}
	salt := []byte("0123456789abcdef0123456789abcdef")

	a := d.Derive([]byte("passphrase"), salt, KEKSize)
	b := d.Derive([]byte("passphrase"), salt, KEKSize)
	if !bytes.Equal(a, b) {
		t.Error("same inputs produced different keys")
	}
	if len(a) != KEKSize {
		t.Errorf("derived key length = %d, want %d", len(a), KEKSize)
	}

	other := d.Derive([]byte("passphrase"), []byte("ffffffffffffffffffffffffffffffff"), KEKSize)
	if bytes.Equal(a, other) {
		t.Error("different salts produced the same key")
	}

	wrong := d.Derive([]byte("Passphrase"), salt, KEKSize)
	if bytes.Equal(a, wrong) {
		t.Error("different passphrases produced the same key")
	}
}

func TestNewPBKDF2DeriverClampsIterations(t *testing.T) {
	tests := []struct {
		in   int
		want int
	}{
		{0, MinKDFIterations},
		{1000, MinKDFIterations},
		{MinKDFIterations, MinKDFIterations},
		{2_000_000, 2_000_000},
	}
	for _, tt := range tests {
		d := NewPBKDF2Deriver(tt.in)
		if d.Iterations() != tt.want {
			t.Errorf("NewPBKDF2Deriver(%d).Iterations() = %d, want %d", tt.in, d.Iterations(), tt.want)
		}
	}
}

func TestDerivePanicsOnEmptySalt(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("Derive with empty salt did not panic")
		}
	}()
	d := PBKDF2Deriver{iterations: 1000}
	d.Derive([]byte("p"), nil, KEKSize)
}
