package vaultauth

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// WrapMethod identifies how a KEK is wrapped under its wrap-key.
type WrapMethod string

const (
	// WrapMethodAESKW is the current authenticated construction:
	// AES-256-GCM over the raw KEK with a fresh random 96-bit nonce.
	// Unwrapping with the wrong wrap-key fails closed.
	WrapMethodAESKW WrapMethod = "aes_kw"

	// WrapMethodXORLegacy is the historical scheme: the KEK XORed against a
	// SHA-256 keystream of the wrap-key. It has no authentication, so
	// unwrapping always mechanically succeeds; correctness can only be
	// confirmed downstream. Retained for reading pre-existing vaults only.
	WrapMethodXORLegacy WrapMethod = "xor_legacy"
)

// Valid reports whether the method is one of the known wrap methods.
func (m WrapMethod) Valid() bool {
	return m == WrapMethodAESKW || m == WrapMethodXORLegacy
}

const gcmNonceSize = 12

// WrappedKey is the self-describing wrapped form of a KEK. It is what the
// store persists, encoded as compact CBOR with integer keys.
type WrappedKey struct {
	Method     WrapMethod `cbor:"1,keyasint"`
	Nonce      []byte     `cbor:"2,keyasint,omitempty"`
	Ciphertext []byte     `cbor:"3,keyasint"`
}

// Encode serializes the wrapped key to CBOR for storage.
func (w WrappedKey) Encode() ([]byte, error) {
	return cbor.Marshal(w)
}

// DecodeWrappedKey parses a CBOR blob produced by Encode.
func DecodeWrappedKey(data []byte) (WrappedKey, error) {
	var w WrappedKey
	if err := cbor.Unmarshal(data, &w); err != nil {
		return WrappedKey{}, fmt.Errorf("decode wrapped key: %w", err)
	}
	if !w.Method.Valid() {
		return WrappedKey{}, fmt.Errorf("decode wrapped key: unknown method %q", w.Method)
	}
	return w, nil
}

// Wrap seals a KEK under the wrap-key. Only the authenticated method may
// produce new wrapped material; the legacy scheme is read-only.
func Wrap(kek, wrapKey []byte, method WrapMethod) (WrappedKey, error) {
	if method != WrapMethodAESKW {
		return WrappedKey{}, fmt.Errorf("wrap: method %q is not allowed for new data", method)
	}
	aead, err := newWrapAEAD(wrapKey)
	if err != nil {
		return WrappedKey{}, err
	}
	nonce := make([]byte, gcmNonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return WrappedKey{}, err
	}
	return WrappedKey{
		Method:     WrapMethodAESKW,
		Nonce:      nonce,
		Ciphertext: aead.Seal(nil, nonce, kek, nil),
	}, nil
}

// Unwrap recovers the KEK from its wrapped form.
//
// Under aes_kw a wrong wrap-key returns ErrAuthenticationFailed, never a
// plausible-looking garbage key. Under xor_legacy the operation always
// succeeds mechanically; the caller must verify the result by using it.
func Unwrap(w WrappedKey, wrapKey []byte) ([]byte, error) {
	switch w.Method {
	case WrapMethodAESKW:
		aead, err := newWrapAEAD(wrapKey)
		if err != nil {
			return nil, err
		}
		if len(w.Nonce) != gcmNonceSize {
			return nil, ErrAuthenticationFailed
		}
		kek, err := aead.Open(nil, w.Nonce, w.Ciphertext, nil)
		if err != nil {
			return nil, ErrAuthenticationFailed
		}
		return kek, nil
	case WrapMethodXORLegacy:
		return xorKeystream(w.Ciphertext, wrapKey), nil
	default:
		return nil, fmt.Errorf("unwrap: unknown method %q", w.Method)
	}
}

// Migrate rewraps a legacy-wrapped KEK under the authenticated method. The
// caller must only invoke it after the legacy-unwrapped key has been
// positively verified. Migrating an already-migrated key is a no-op: the
// input is returned unchanged and migrated is false.
func Migrate(w WrappedKey, wrapKey []byte) (out WrappedKey, migrated bool, err error) {
	if w.Method == WrapMethodAESKW {
		return w, false, nil
	}
	kek, err := Unwrap(w, wrapKey)
	if err != nil {
		return WrappedKey{}, false, err
	}
	defer zeroBytes(kek)
	rewrapped, err := Wrap(kek, wrapKey, WrapMethodAESKW)
	if err != nil {
		return WrappedKey{}, false, err
	}
	return rewrapped, true, nil
}

// wrapLegacy exists for tests and data-format tooling that need to produce
// legacy-wrapped material. Production setup paths never call it.
func wrapLegacy(kek, wrapKey []byte) WrappedKey {
	return WrappedKey{
		Method:     WrapMethodXORLegacy,
		Ciphertext: xorKeystream(kek, wrapKey),
	}
}

func newWrapAEAD(wrapKey []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(wrapKey)
	if err != nil {
		return nil, fmt.Errorf("wrap cipher: %w", err)
	}
	return cipher.NewGCM(block)
}

// xorKeystream XORs data against SHA-256 counter blocks of the wrap-key.
// XOR is its own inverse, so this both wraps and unwraps.
func xorKeystream(data, wrapKey []byte) []byte {
	out := make([]byte, len(data))
	var counter [4]byte
	for off := 0; off < len(data); off += sha256.Size {
		binary.BigEndian.PutUint32(counter[:], uint32(off/sha256.Size))
		h := sha256.New()
		h.Write(wrapKey)
		h.Write(counter[:])
		block := h.Sum(nil)
		for i := 0; i < sha256.Size && off+i < len(data); i++ {
			out[off+i] = data[off+i] ^ block[i]
		}
	}
	return out
}
