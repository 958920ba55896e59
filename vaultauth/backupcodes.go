package vaultauth

import (
	"context"
	"crypto/sha256"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// BackupCodeService issues and redeems one-time recovery codes as a
// secondary unlock path independent of the passphrase.
//
// A code is four hyphen-separated 4-character hex groups. Only its SHA-256
// hash is persisted; alongside the hash each row stores the real KEK
// wrapped under a key derived from the code itself, so a valid code can
// actually recover the vault rather than merely prove knowledge.
type BackupCodeService struct {
	store    Store
	deriver  KeyDeriver
	sessions *SessionManager
	count    int
	log      zerolog.Logger
}

const codeGroupCount = 4

// NewBackupCodeService wires the service. count is the batch size for
// Generate.
func NewBackupCodeService(store Store, deriver KeyDeriver, sessions *SessionManager, count int, logger zerolog.Logger) *BackupCodeService {
	if count <= 0 {
		count = 10
	}
	return &BackupCodeService{
		store:    store,
		deriver:  deriver,
		sessions: sessions,
		count:    count,
		log:      logger,
	}
}

// Generate mints a fresh batch of codes for the vault and persists their
// hashes plus recovery-wrapped KEK material. The plaintext codes are
// returned exactly once and never stored or logged; kek must be the real
// KEK from an unlocked session.
func (s *BackupCodeService) Generate(ctx context.Context, userID, vaultID string, kek []byte) ([]string, error) {
	record, err := s.store.Get(ctx, userID, vaultID)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, ErrVaultNotConfigured
	}

	batchID := uuid.NewString()
	now := time.Now().UTC()
	codes := make([]string, 0, s.count)
	rows := make([]BackupCode, 0, s.count)

	for i := 0; i < s.count; i++ {
		code, err := newCode()
		if err != nil {
			return nil, err
		}
		salt, err := generateSalt()
		if err != nil {
			return nil, err
		}

		// The code is stretched with the slow KDF before wrapping: a stolen
		// database still forces a full brute-force per guess.
		codeKey := s.deriver.Derive([]byte(NormalizeCode(code)), salt, KEKSize)
		wrapped, err := Wrap(kek, codeKey, WrapMethodAESKW)
		zeroBytes(codeKey)
		if err != nil {
			return nil, err
		}
		blob, err := wrapped.Encode()
		if err != nil {
			return nil, err
		}

		codes = append(codes, code)
		rows = append(rows, BackupCode{
			ID:         uuid.NewString(),
			BatchID:    batchID,
			CodeHash:   HashCode(code),
			Salt:       salt,
			WrappedKEK: blob,
			CreatedAt:  now,
		})
	}

	if err := s.store.StoreBackupCodes(ctx, userID, vaultID, rows); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("user_id", userID).
		Str("vault_id", vaultID).
		Int("count", len(rows)).
		Msg("backup codes generated")

	return codes, nil
}

// Redeem atomically spends one code and, when valid, opens a real-vault
// session from the recovery-wrapped KEK. A spent or unknown code returns
// ErrCodeNotFound.
func (s *BackupCodeService) Redeem(ctx context.Context, userID, vaultID, code string) (*UnlockResult, error) {
	normalized := NormalizeCode(code)
	row, err := s.store.RedeemBackupCode(ctx, userID, vaultID, HashCode(normalized))
	if err != nil {
		return nil, err
	}

	wrapped, err := DecodeWrappedKey(row.WrappedKEK)
	if err != nil {
		return nil, fmt.Errorf("backup code payload corrupt: %w", err)
	}

	codeKey := s.deriver.Derive([]byte(normalized), row.Salt, KEKSize)
	defer zeroBytes(codeKey)

	kek, err := Unwrap(wrapped, codeKey)
	if err != nil {
		// The hash matched but the wrapped material did not open: the row is
		// unusable either way, so surface the collapsed failure.
		return nil, ErrCodeNotFound
	}
	defer zeroBytes(kek)

	sessionID, err := s.sessions.Create(userID, vaultID, kek, VaultTypeReal)
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("user_id", userID).
		Str("vault_id", vaultID).
		Msg("backup code redeemed")

	return &UnlockResult{SessionID: sessionID, VaultType: VaultTypeReal}, nil
}

// NormalizeCode canonicalizes user input before hashing: separators and
// whitespace stripped, lowercase hex. "AAAA-BBBB" and "aaaabbbb" hash the
// same.
func NormalizeCode(code string) string {
	code = strings.ToLower(strings.TrimSpace(code))
	code = strings.ReplaceAll(code, "-", "")
	return strings.ReplaceAll(code, " ", "")
}

// HashCode returns the SHA-256 hash of a normalized code.
func HashCode(code string) []byte {
	sum := sha256.Sum256([]byte(NormalizeCode(code)))
	return sum[:]
}

// newCode builds one code from two random bytes per group, formatted as
// XXXX-XXXX-XXXX-XXXX.
func newCode() (string, error) {
	raw, err := generateSecureToken(codeGroupCount * 2)
	if err != nil {
		return "", err
	}
	groups := make([]string, codeGroupCount)
	for i := 0; i < codeGroupCount; i++ {
		groups[i] = fmt.Sprintf("%02x%02x", raw[i*2], raw[i*2+1])
	}
	return strings.Join(groups, "-"), nil
}
