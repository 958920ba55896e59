package vaultauth

import (
	"bytes"
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
)

// Service is the top-level entry point for vault authentication. It owns the
// engines and shared state (limiter, sessions) and exposes one method per
// operation a caller can perform.
type Service struct {
	cfg      Config
	deriver  KeyDeriver
	store    Store
	limiter  *RateLimiter
	sessions *SessionManager
	setup    *SetupEngine
	unlock   *UnlockEngine
	codes    *BackupCodeService
	log      zerolog.Logger
}

// Option customizes Service construction.
type Option func(*serviceOptions)

type serviceOptions struct {
	deriver KeyDeriver
	probe   KeyProbe
	logger  *zerolog.Logger
}

// WithDeriver overrides the key derivation function. Tests use this to avoid
// paying full PBKDF2 cost on every unlock.
func WithDeriver(d KeyDeriver) Option {
	return func(o *serviceOptions) { o.deriver = d }
}

// WithKeyProbe installs the verifier for KEKs recovered through the legacy
// unauthenticated wrap. Without a probe, legacy-wrapped slots never unlock:
// the unwrap alone cannot distinguish a right passphrase from a wrong one.
func WithKeyProbe(p KeyProbe) Option {
	return func(o *serviceOptions) { o.probe = p }
}

// WithLogger overrides the service logger.
func WithLogger(l zerolog.Logger) Option {
	return func(o *serviceOptions) { o.logger = &l }
}

// NewService wires a Service from config and a backing store.
func NewService(cfg Config, store Store, opts ...Option) *Service {
	var o serviceOptions
	for _, opt := range opts {
		opt(&o)
	}

	logger := zerolog.Nop()
	if o.logger != nil {
		logger = *o.logger
	}
	deriver := o.deriver
	if deriver == nil {
		deriver = NewPBKDF2Deriver(cfg.KDFIterations)
	}

	limiter := NewRateLimiter(cfg.RateLimit.Attempts, cfg.RateLimit.Window(), cfg.RateLimit.IdleTTL())
	sessions := NewSessionManager(cfg.SessionTTL())

	return &Service{
		cfg:      cfg,
		deriver:  deriver,
		store:    store,
		limiter:  limiter,
		sessions: sessions,
		setup:    NewSetupEngine(deriver, store, sessions, logger),
		unlock:   NewUnlockEngine(store, limiter, sessions, o.probe, logger),
		codes:    NewBackupCodeService(store, deriver, sessions, cfg.BackupCodeCount, logger),
		log:      logger,
	}
}

// Setup provisions a vault with a real passphrase and an optional decoy.
func (s *Service) Setup(ctx context.Context, userID, vaultID string, passphraseReal, passphraseDecoy SensitiveBytes) (*SetupResult, error) {
	return s.setup.Setup(ctx, userID, vaultID, passphraseReal, passphraseDecoy)
}

// Unlock attempts to open the vault with the offered passphrase. source
// identifies the caller origin for rate-limit bucketing.
func (s *Service) Unlock(ctx context.Context, userID, vaultID string, passphrase SensitiveBytes, source string) (*UnlockResult, error) {
	return s.unlock.AttemptUnlock(ctx, userID, vaultID, passphrase, source)
}

// Session returns the live session for id, or ErrSessionNotFound.
func (s *Service) Session(id string) (*SessionView, error) {
	return s.sessions.Get(id)
}

// Logout destroys a single session. Unknown ids are a no-op.
func (s *Service) Logout(id string) {
	s.sessions.Destroy(id)
}

// DestroyAllSessions drops every session for the vault. Used on account
// logout and vault switch.
func (s *Service) DestroyAllSessions(userID, vaultID string) {
	s.sessions.DestroyAll(userID, vaultID)
}

// ChangePassphrase replaces the passphrase of whichever slot the current
// passphrase matches. The KEK is retained - the vault's content stays
// readable - so only the wrap and slot salt change.
//
// The attempt is rate limited like an unlock: each change attempt is a
// passphrase oracle otherwise.
func (s *Service) ChangePassphrase(ctx context.Context, userID, vaultID string, current, next SensitiveBytes, source string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if bytes.Equal(current, next) {
		return ErrIdenticalSecrets
	}

	if retryAfter, allowed := s.limiter.Check(userID, vaultID, source); !allowed {
		return &RateLimitedError{RetryAfter: retryAfter}
	}

	record, err := s.store.Get(ctx, userID, vaultID)
	if err != nil {
		return err
	}
	if record == nil {
		return ErrVaultNotConfigured
	}

	wrapKey := wrapKeyFromPassphrase(current)
	defer zeroBytes(wrapKey)

	kek, vaultType, matched := s.unlock.resolve(record, wrapKey)
	if !matched {
		s.limiter.RecordFailure(userID, vaultID, source)
		return ErrInvalidPassphrase
	}
	defer zeroBytes(kek)

	// The new passphrase must not collide with the other slot, or the vault
	// would stop being deniable: one passphrase opening both slots.
	newWrapKey := wrapKeyFromPassphrase(next)
	defer zeroBytes(newWrapKey)
	if otherKEK, otherType, otherMatched := s.unlock.resolve(record, newWrapKey); otherMatched {
		zeroBytes(otherKEK)
		if otherType != vaultType {
			return ErrIdenticalSecrets
		}
	}

	salt, err := generateSalt()
	if err != nil {
		return err
	}
	wrapped, err := Wrap(kek, newWrapKey, WrapMethodAESKW)
	if err != nil {
		return err
	}

	slot := SlotReal
	if vaultType == VaultTypeDecoy {
		slot = SlotDecoy
	}
	if err := s.store.ReplaceSlotSecret(ctx, userID, vaultID, slot, salt, wrapped); err != nil {
		return err
	}
	s.limiter.Reset(userID, vaultID, source)

	s.log.Info().
		Str("user_id", userID).
		Str("vault_id", vaultID).
		Msg("vault passphrase changed")
	return nil
}

// GenerateBackupCodes mints a fresh batch of recovery codes for the session's
// vault. Only a real-vault session may generate codes; a decoy session gets
// ErrSessionNotFound so the API reveals nothing about which vault it is.
func (s *Service) GenerateBackupCodes(ctx context.Context, sessionID string) ([]string, error) {
	sess, err := s.sessions.Get(sessionID)
	if err != nil {
		return nil, err
	}
	if sess.VaultType != VaultTypeReal {
		return nil, ErrSessionNotFound
	}
	defer sess.KEK.Zero()
	return s.codes.Generate(ctx, sess.UserID, sess.VaultID, sess.KEK)
}

// RedeemBackupCode exchanges an unused recovery code for a real-vault
// session. Redemption counts against the same limiter as passphrase
// attempts; a wrong code is reported as ErrInvalidPassphrase.
func (s *Service) RedeemBackupCode(ctx context.Context, userID, vaultID, code, source string) (*UnlockResult, error) {
	if retryAfter, allowed := s.limiter.Check(userID, vaultID, source); !allowed {
		return nil, &RateLimitedError{RetryAfter: retryAfter}
	}

	result, err := s.codes.Redeem(ctx, userID, vaultID, code)
	if err != nil {
		if errors.Is(err, ErrCodeNotFound) {
			s.limiter.RecordFailure(userID, vaultID, source)
			return nil, ErrInvalidPassphrase
		}
		return nil, err
	}
	s.limiter.Reset(userID, vaultID, source)
	return result, nil
}

// VaultStatus summarizes a vault's auth record for an authenticated caller.
type VaultStatus struct {
	Configured   bool       `json:"configured"`
	DecoyEnabled bool       `json:"decoy_enabled"`
	WrapMethod   WrapMethod `json:"wrap_method"`
	UnusedCodes  int        `json:"unused_codes"`
	TotalCodes   int        `json:"total_codes"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// Status reports the vault's configuration. It requires a real-vault
// session: decoy presence and recovery-code inventory are exactly the
// facts a decoy caller must not learn.
func (s *Service) Status(ctx context.Context, sessionID string) (*VaultStatus, error) {
	sess, err := s.sessions.Get(sessionID)
	if err != nil {
		return nil, err
	}
	sess.KEK.Zero()
	if sess.VaultType != VaultTypeReal {
		return nil, ErrSessionNotFound
	}

	record, err := s.store.Get(ctx, sess.UserID, sess.VaultID)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return &VaultStatus{}, nil
	}
	unused, total, err := s.store.CountBackupCodes(ctx, sess.UserID, sess.VaultID)
	if err != nil {
		return nil, err
	}
	return &VaultStatus{
		Configured:   true,
		DecoyEnabled: record.DecoyEnabled,
		WrapMethod:   record.WrapMethod,
		UnusedCodes:  unused,
		TotalCodes:   total,
		CreatedAt:    record.CreatedAt,
		UpdatedAt:    record.UpdatedAt,
	}, nil
}
