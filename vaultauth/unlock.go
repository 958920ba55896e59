package vaultauth

import (
	"context"

	"github.com/rs/zerolog"
)

// KeyProbe verifies that a candidate KEK recovered through the legacy
// unauthenticated wrap actually decrypts known vault structure. The engine
// calls it only for xor_legacy slots, where the unwrap itself proves
// nothing. A typical probe attempts to open the vault's envelope file.
type KeyProbe func(kek []byte) bool

// UnlockResult is returned for a successful unlock.
type UnlockResult struct {
	SessionID string
	VaultType VaultType
}

// UnlockEngine resolves an offered passphrase against the real and decoy
// slots of a vault auth record by trial unwrap.
//
// The central deniability invariant: a failed attempt is indistinguishable
// in latency and content whether the vault has no decoy, a decoy that did
// not match, or a plainly wrong passphrase. Both slots are always exercised;
// when the decoy slot is absent a dummy unwrap of identical shape runs in
// its place.
type UnlockEngine struct {
	store    Store
	limiter  *RateLimiter
	sessions *SessionManager
	probe    KeyProbe
	log      zerolog.Logger

	// dummy is unwrapped in place of an absent decoy slot so response
	// latency does not reveal whether a decoy exists.
	dummy WrappedKey
}

// NewUnlockEngine wires the engine. probe may be nil, in which case legacy
// slots never match: an unverified legacy unwrap is indistinguishable from a
// wrong passphrase and must not open a session.
func NewUnlockEngine(store Store, limiter *RateLimiter, sessions *SessionManager, probe KeyProbe, logger zerolog.Logger) *UnlockEngine {
	nonce, err := generateSecureToken(gcmNonceSize)
	if err != nil {
		panic("vaultauth: no entropy for dummy slot: " + err.Error())
	}
	ct, err := generateSecureToken(KEKSize + 16)
	if err != nil {
		panic("vaultauth: no entropy for dummy slot: " + err.Error())
	}
	return &UnlockEngine{
		store:    store,
		limiter:  limiter,
		sessions: sessions,
		probe:    probe,
		log:      logger,
		dummy:    WrappedKey{Method: WrapMethodAESKW, Nonce: nonce, Ciphertext: ct},
	}
}

// AttemptUnlock drives the unlock state machine for one offered passphrase.
//
// Rate limiting is unconditional: a blocked tuple stays blocked even for a
// correct passphrase. On success the tuple's failure counter is cleared, an
// opportunistic wrap migration runs for legacy slots, and a session bound
// to the recovered KEK is returned.
func (e *UnlockEngine) AttemptUnlock(ctx context.Context, userID, vaultID string, passphrase SensitiveBytes, source string) (*UnlockResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if retryAfter, allowed := e.limiter.Check(userID, vaultID, source); !allowed {
		return nil, &RateLimitedError{RetryAfter: retryAfter}
	}

	record, err := e.store.Get(ctx, userID, vaultID)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, ErrVaultNotConfigured
	}

	wrapKey := wrapKeyFromPassphrase(passphrase)
	defer zeroBytes(wrapKey)

	kek, vaultType, matched := e.resolve(record, wrapKey)
	if !matched {
		e.limiter.RecordFailure(userID, vaultID, source)
		return nil, ErrInvalidPassphrase
	}
	defer zeroBytes(kek)

	e.migrateIfLegacy(ctx, record, vaultType, wrapKey)

	sessionID, err := e.sessions.Create(userID, vaultID, kek, vaultType)
	if err != nil {
		return nil, err
	}
	e.limiter.Reset(userID, vaultID, source)

	e.log.Info().
		Str("user_id", userID).
		Str("vault_id", vaultID).
		Msg("vault unlocked")

	return &UnlockResult{SessionID: sessionID, VaultType: vaultType}, nil
}

// resolve tests the offered wrap-key against both slots. The decoy slot (or
// its dummy stand-in) is always exercised, even after a real-slot match, so
// every path through here does the same cryptographic work.
func (e *UnlockEngine) resolve(record *Record, wrapKey []byte) (kek []byte, vaultType VaultType, matched bool) {
	realKEK, realOK := e.trySlot(record.WrappedReal, wrapKey)

	decoySlot := e.dummy
	if record.DecoyEnabled && record.WrappedDecoy != nil {
		decoySlot = *record.WrappedDecoy
	}
	decoyKEK, decoyOK := e.trySlot(decoySlot, wrapKey)
	if !record.DecoyEnabled {
		// A dummy slot can never legitimately match.
		zeroBytes(decoyKEK)
		decoyOK = false
	}

	switch {
	case realOK:
		zeroBytes(decoyKEK)
		return realKEK, VaultTypeReal, true
	case decoyOK:
		return decoyKEK, VaultTypeDecoy, true
	default:
		return nil, "", false
	}
}

// trySlot unwraps one slot. Authenticated failures are conclusive; legacy
// unwraps prove nothing on their own and count as a match only after the
// probe confirms the recovered KEK. Without a probe there is no way to tell
// the right passphrase from a wrong one, so the slot fails closed.
func (e *UnlockEngine) trySlot(w WrappedKey, wrapKey []byte) ([]byte, bool) {
	kek, err := Unwrap(w, wrapKey)
	if err != nil {
		return nil, false
	}
	if w.Method == WrapMethodXORLegacy {
		if e.probe == nil || !e.probe(kek) {
			zeroBytes(kek)
			return nil, false
		}
	}
	return kek, true
}

// migrateIfLegacy rewraps the matched slot under the authenticated method.
// Best-effort: a migration failure is logged and swallowed, it must never
// block a successful unlock.
func (e *UnlockEngine) migrateIfLegacy(ctx context.Context, record *Record, vaultType VaultType, wrapKey []byte) {
	slot, wrapped := SlotReal, record.WrappedReal
	if vaultType == VaultTypeDecoy {
		slot, wrapped = SlotDecoy, *record.WrappedDecoy
	}
	if wrapped.Method != WrapMethodXORLegacy {
		return
	}

	rewrapped, migrated, err := Migrate(wrapped, wrapKey)
	if err != nil || !migrated {
		if err != nil {
			e.log.Warn().Str("vault_id", record.VaultID).Msg("wrap migration failed")
		}
		return
	}
	if err := e.store.UpdateWrapSlot(ctx, record.UserID, record.VaultID, slot, rewrapped); err != nil {
		e.log.Warn().Str("vault_id", record.VaultID).Msg("wrap migration persist failed")
	}
}
