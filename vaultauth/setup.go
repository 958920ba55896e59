package vaultauth

import (
	"bytes"
	"context"
	"time"

	"github.com/rs/zerolog"
)

// SetupResult is returned by a successful vault setup. Setup doubles as the
// first unlock, so a real-vault session is already established.
type SetupResult struct {
	SessionID    string
	DecoyEnabled bool
}

// SetupEngine creates a vault with one or two independent secrets. The real
// and optional decoy slot are built identically - fresh salt, KDF-derived
// KEK, authenticated wrap - so nothing about the stored record betrays
// which slot is which.
type SetupEngine struct {
	deriver  KeyDeriver
	store    Store
	sessions *SessionManager
	log      zerolog.Logger
}

// NewSetupEngine wires the engine.
func NewSetupEngine(deriver KeyDeriver, store Store, sessions *SessionManager, logger zerolog.Logger) *SetupEngine {
	return &SetupEngine{deriver: deriver, store: store, sessions: sessions, log: logger}
}

// Setup provisions the auth record for (userID, vaultID). passphraseDecoy
// may be nil for a vault without a decoy. Identical passphrases fail with
// ErrIdenticalSecrets before any key material is derived.
func (e *SetupEngine) Setup(ctx context.Context, userID, vaultID string, passphraseReal, passphraseDecoy SensitiveBytes) (*SetupResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if passphraseDecoy != nil && bytes.Equal(passphraseReal, passphraseDecoy) {
		return nil, ErrIdenticalSecrets
	}

	saltReal, kekReal, wrappedReal, err := e.buildSlot(passphraseReal)
	if err != nil {
		return nil, err
	}
	defer zeroBytes(kekReal)

	now := time.Now().UTC()
	record := &Record{
		UserID:      userID,
		VaultID:     vaultID,
		SaltReal:    saltReal,
		WrappedReal: wrappedReal,
		WrapMethod:  WrapMethodAESKW,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if passphraseDecoy != nil {
		saltDecoy, kekDecoy, wrappedDecoy, err := e.buildSlot(passphraseDecoy)
		zeroBytes(kekDecoy)
		if err != nil {
			return nil, err
		}
		// Distinct salts are a record invariant; with 32 random bytes a
		// collision is not a practical concern, but the invariant is cheap
		// to hold.
		for bytes.Equal(saltDecoy, saltReal) {
			saltDecoy, err = generateSalt()
			if err != nil {
				return nil, err
			}
		}
		record.SaltDecoy = saltDecoy
		record.WrappedDecoy = &wrappedDecoy
		record.DecoyEnabled = true
	}

	if err := e.store.Upsert(ctx, record); err != nil {
		return nil, err
	}

	sessionID, err := e.sessions.Create(userID, vaultID, kekReal, VaultTypeReal)
	if err != nil {
		return nil, err
	}

	e.log.Info().
		Str("user_id", userID).
		Str("vault_id", vaultID).
		Msg("vault configured")

	return &SetupResult{SessionID: sessionID, DecoyEnabled: record.DecoyEnabled}, nil
}

// buildSlot derives one slot's material: fresh salt, KDF-derived KEK, KEK
// wrapped under the passphrase's wrap-key with the authenticated method.
func (e *SetupEngine) buildSlot(passphrase SensitiveBytes) (salt, kek []byte, wrapped WrappedKey, err error) {
	salt, err = generateSalt()
	if err != nil {
		return nil, nil, WrappedKey{}, err
	}
	kek = e.deriver.Derive(passphrase, salt, KEKSize)

	wrapKey := wrapKeyFromPassphrase(passphrase)
	defer zeroBytes(wrapKey)

	wrapped, err = Wrap(kek, wrapKey, WrapMethodAESKW)
	if err != nil {
		zeroBytes(kek)
		return nil, nil, WrappedKey{}, err
	}
	return salt, kek, wrapped, nil
}
