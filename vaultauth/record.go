package vaultauth

import (
	"context"
	"time"
)

// VaultType identifies which secret a session was opened with.
type VaultType string

const (
	VaultTypeReal  VaultType = "real"
	VaultTypeDecoy VaultType = "decoy"
)

// Slot names the two wrapped-KEK slots of an auth record.
type Slot string

const (
	SlotReal  Slot = "real"
	SlotDecoy Slot = "decoy"
)

// Record is the persisted auth metadata for one (user, vault) pair.
//
// Invariant: when DecoyEnabled both decoy fields are present and the two
// salts differ. The two passphrases behind the slots differed at setup time;
// that is enforced by Setup and never re-checked later.
//
// WrapMethod reflects the real slot's method. Each wrapped blob is also
// self-describing, which is what allows the two slots to migrate
// independently: only the slot whose passphrase was offered can be rewrapped.
type Record struct {
	UserID       string
	VaultID      string
	SaltReal     []byte
	WrappedReal  WrappedKey
	SaltDecoy    []byte
	WrappedDecoy *WrappedKey
	DecoyEnabled bool
	WrapMethod   WrapMethod
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// BackupCode is one recovery code row. Only the SHA-256 hash of the code
// text is persisted; WrappedKEK carries the real KEK wrapped under a key
// derived from the code itself, which is what makes redemption an actual
// unlock path. Salt is the per-row KDF salt for that derivation, so a later
// passphrase change cannot strand outstanding codes. Each row transitions
// used=false -> true exactly once.
type BackupCode struct {
	ID         string
	BatchID    string
	CodeHash   []byte
	Salt       []byte
	WrappedKEK []byte
	Used       bool
	CreatedAt  time.Time
	UsedAt     *time.Time
}

// Store persists auth records and backup codes. The SQLite implementation
// lives in the storage package; the interface exists so the engine can be
// exercised against fakes in tests.
//
// Implementations must scope writes for one (user, vault) row to a single
// transaction so concurrent unlock attempts cannot race a migration.
type Store interface {
	// Upsert creates or replaces the record for (record.UserID, record.VaultID).
	Upsert(ctx context.Context, record *Record) error

	// Get returns the record, or (nil, nil) when none exists.
	Get(ctx context.Context, userID, vaultID string) (*Record, error)

	// UpdateWrapSlot replaces one slot's wrapped blob in place. When slot is
	// SlotReal the record-level wrap_method column follows the new blob.
	UpdateWrapSlot(ctx context.Context, userID, vaultID string, slot Slot, wrapped WrappedKey) error

	// ReplaceSlotSecret atomically installs a new salt and wrapped blob for
	// one slot (passphrase change).
	ReplaceSlotSecret(ctx context.Context, userID, vaultID string, slot Slot, salt []byte, wrapped WrappedKey) error

	// StoreBackupCodes persists a batch of code rows, replacing any unused
	// codes from earlier batches for the same vault.
	StoreBackupCodes(ctx context.Context, userID, vaultID string, codes []BackupCode) error

	// RedeemBackupCode atomically marks the matching unused code as used and
	// returns it. ErrCodeNotFound when no unused code matches.
	RedeemBackupCode(ctx context.Context, userID, vaultID string, codeHash []byte) (*BackupCode, error)

	// CountBackupCodes reports unused and total code counts for the vault.
	CountBackupCodes(ctx context.Context, userID, vaultID string) (unused, total int, err error)
}
