// Package storage persists vault auth records and backup codes in SQLite.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/duovault/duovault/vaultauth"
)

// SQLiteStore is the durable backend for vault auth metadata. Key material
// in the tables is already wrapped; the store never sees a plaintext KEK.
//
// Tables:
//   - vault_auth_metadata: one row per (user_id, vault_id) with both slots
//   - backup_codes: recovery code batches, hash plus recovery-wrapped KEK
type SQLiteStore struct {
	db *sql.DB

	mu sync.Mutex
}

var _ vaultauth.Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens (or creates) the store at dbPath. ":memory:" gives an
// ephemeral store for tests.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma %q: %w", pragma, err)
		}
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	-- Auth record, one row per vault. Both slots are stored identically so
	-- the row itself does not reveal which secret is the decoy.
	CREATE TABLE IF NOT EXISTS vault_auth_metadata (
		user_id TEXT NOT NULL,
		vault_id TEXT NOT NULL,
		salt_real BLOB NOT NULL,
		wrapped_real BLOB NOT NULL,
		salt_decoy BLOB,
		wrapped_decoy BLOB,
		decoy_enabled INTEGER NOT NULL DEFAULT 0,
		wrap_method TEXT NOT NULL CHECK(wrap_method IN ('aes_kw', 'xor_legacy')),
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (user_id, vault_id)
	);

	-- Recovery codes. code_hash is SHA-256 of the normalized code;
	-- wrapped_kek is the vault KEK wrapped under a key derived from the
	-- code with the row's salt.
	CREATE TABLE IF NOT EXISTS backup_codes (
		code_id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		vault_id TEXT NOT NULL,
		batch_id TEXT NOT NULL,
		code_hash BLOB NOT NULL,
		salt BLOB NOT NULL,
		wrapped_kek BLOB NOT NULL,
		used INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		used_at INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_backup_codes_vault
		ON backup_codes(user_id, vault_id, used);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Upsert inserts or replaces the auth record for the record's vault.
func (s *SQLiteStore) Upsert(ctx context.Context, record *vaultauth.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	wrappedReal, err := record.WrappedReal.Encode()
	if err != nil {
		return fmt.Errorf("failed to encode real slot: %w", err)
	}
	var wrappedDecoy []byte
	if record.WrappedDecoy != nil {
		wrappedDecoy, err = record.WrappedDecoy.Encode()
		if err != nil {
			return fmt.Errorf("failed to encode decoy slot: %w", err)
		}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO vault_auth_metadata (
			user_id, vault_id, salt_real, wrapped_real,
			salt_decoy, wrapped_decoy, decoy_enabled, wrap_method,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, vault_id) DO UPDATE SET
			salt_real = excluded.salt_real,
			wrapped_real = excluded.wrapped_real,
			salt_decoy = excluded.salt_decoy,
			wrapped_decoy = excluded.wrapped_decoy,
			decoy_enabled = excluded.decoy_enabled,
			wrap_method = excluded.wrap_method,
			updated_at = excluded.updated_at
	`,
		record.UserID, record.VaultID, record.SaltReal, wrappedReal,
		record.SaltDecoy, wrappedDecoy, boolToInt(record.DecoyEnabled), string(record.WrapMethod),
		record.CreatedAt.Unix(), record.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert auth record: %w", err)
	}
	return nil
}

// Get returns the auth record for (userID, vaultID), or (nil, nil) when the
// vault has never been configured.
func (s *SQLiteStore) Get(ctx context.Context, userID, vaultID string) (*vaultauth.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		record       vaultauth.Record
		wrappedReal  []byte
		wrappedDecoy []byte
		decoyEnabled int
		wrapMethod   string
		createdAt    int64
		updatedAt    int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id, vault_id, salt_real, wrapped_real,
		       salt_decoy, wrapped_decoy, decoy_enabled, wrap_method,
		       created_at, updated_at
		FROM vault_auth_metadata
		WHERE user_id = ? AND vault_id = ?
	`, userID, vaultID).Scan(
		&record.UserID, &record.VaultID, &record.SaltReal, &wrappedReal,
		&record.SaltDecoy, &wrappedDecoy, &decoyEnabled, &wrapMethod,
		&createdAt, &updatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get auth record: %w", err)
	}

	record.WrappedReal, err = vaultauth.DecodeWrappedKey(wrappedReal)
	if err != nil {
		return nil, fmt.Errorf("failed to decode real slot: %w", err)
	}
	if len(wrappedDecoy) > 0 {
		decoded, err := vaultauth.DecodeWrappedKey(wrappedDecoy)
		if err != nil {
			return nil, fmt.Errorf("failed to decode decoy slot: %w", err)
		}
		record.WrappedDecoy = &decoded
	}
	record.DecoyEnabled = decoyEnabled == 1
	record.WrapMethod = vaultauth.WrapMethod(wrapMethod)
	record.CreatedAt = time.Unix(createdAt, 0).UTC()
	record.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return &record, nil
}

// UpdateWrapSlot replaces one slot's wrapped blob, leaving its salt alone.
// Used by the opportunistic wrap migration. The record-level wrap_method
// column tracks the real slot's method.
func (s *SQLiteStore) UpdateWrapSlot(ctx context.Context, userID, vaultID string, slot vaultauth.Slot, wrapped vaultauth.WrappedKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	blob, err := wrapped.Encode()
	if err != nil {
		return fmt.Errorf("failed to encode slot: %w", err)
	}

	var query string
	switch slot {
	case vaultauth.SlotReal:
		query = `
			UPDATE vault_auth_metadata
			SET wrapped_real = ?, wrap_method = ?, updated_at = ?
			WHERE user_id = ? AND vault_id = ?`
	case vaultauth.SlotDecoy:
		query = `
			UPDATE vault_auth_metadata
			SET wrapped_decoy = ?, updated_at = ?
			WHERE user_id = ? AND vault_id = ?`
	default:
		return fmt.Errorf("invalid slot: %s", slot)
	}

	now := time.Now().Unix()
	var result sql.Result
	if slot == vaultauth.SlotReal {
		result, err = s.db.ExecContext(ctx, query, blob, string(wrapped.Method), now, userID, vaultID)
	} else {
		result, err = s.db.ExecContext(ctx, query, blob, now, userID, vaultID)
	}
	if err != nil {
		return fmt.Errorf("failed to update wrap slot: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return vaultauth.ErrVaultNotConfigured
	}
	return nil
}

// ReplaceSlotSecret swaps one slot's salt and wrapped blob together.
// Used by passphrase change.
func (s *SQLiteStore) ReplaceSlotSecret(ctx context.Context, userID, vaultID string, slot vaultauth.Slot, salt []byte, wrapped vaultauth.WrappedKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	blob, err := wrapped.Encode()
	if err != nil {
		return fmt.Errorf("failed to encode slot: %w", err)
	}

	var query string
	switch slot {
	case vaultauth.SlotReal:
		query = `
			UPDATE vault_auth_metadata
			SET salt_real = ?, wrapped_real = ?, wrap_method = ?, updated_at = ?
			WHERE user_id = ? AND vault_id = ?`
	case vaultauth.SlotDecoy:
		query = `
			UPDATE vault_auth_metadata
			SET salt_decoy = ?, wrapped_decoy = ?, updated_at = ?
			WHERE user_id = ? AND vault_id = ? AND decoy_enabled = 1`
	default:
		return fmt.Errorf("invalid slot: %s", slot)
	}

	now := time.Now().Unix()
	var result sql.Result
	if slot == vaultauth.SlotReal {
		result, err = s.db.ExecContext(ctx, query, salt, blob, string(wrapped.Method), now, userID, vaultID)
	} else {
		result, err = s.db.ExecContext(ctx, query, salt, blob, now, userID, vaultID)
	}
	if err != nil {
		return fmt.Errorf("failed to replace slot secret: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return vaultauth.ErrVaultNotConfigured
	}
	return nil
}

// StoreBackupCodes persists a fresh batch and invalidates the unused codes
// of any earlier batch, so exactly one batch is ever redeemable.
func (s *SQLiteStore) StoreBackupCodes(ctx context.Context, userID, vaultID string, codes []vaultauth.BackupCode) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM backup_codes
		WHERE user_id = ? AND vault_id = ? AND used = 0
	`, userID, vaultID); err != nil {
		return fmt.Errorf("failed to clear previous batch: %w", err)
	}

	for _, code := range codes {
		var usedAt interface{}
		if code.UsedAt != nil {
			usedAt = code.UsedAt.Unix()
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO backup_codes (
				code_id, user_id, vault_id, batch_id,
				code_hash, salt, wrapped_kek, used, created_at, used_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			code.ID, userID, vaultID, code.BatchID,
			code.CodeHash, code.Salt, code.WrappedKEK, boolToInt(code.Used),
			code.CreatedAt.Unix(), usedAt,
		); err != nil {
			return fmt.Errorf("failed to store backup code: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit batch: %w", err)
	}
	return nil
}

// RedeemBackupCode atomically consumes the unused code matching codeHash.
// A code that does not exist, or was already used, is the same error.
func (s *SQLiteStore) RedeemBackupCode(ctx context.Context, userID, vaultID string, codeHash []byte) (*vaultauth.BackupCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var (
		code      vaultauth.BackupCode
		createdAt int64
	)
	err = tx.QueryRowContext(ctx, `
		SELECT code_id, batch_id, code_hash, salt, wrapped_kek, created_at
		FROM backup_codes
		WHERE user_id = ? AND vault_id = ? AND code_hash = ? AND used = 0
	`, userID, vaultID, codeHash).Scan(
		&code.ID, &code.BatchID, &code.CodeHash, &code.Salt, &code.WrappedKEK, &createdAt,
	)
	if err == sql.ErrNoRows {
		return nil, vaultauth.ErrCodeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up backup code: %w", err)
	}
	code.CreatedAt = time.Unix(createdAt, 0).UTC()

	now := time.Now().UTC()
	result, err := tx.ExecContext(ctx, `
		UPDATE backup_codes
		SET used = 1, used_at = ?
		WHERE code_id = ? AND used = 0
	`, now.Unix(), code.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to mark code used: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		// Lost a race to a concurrent redemption.
		return nil, vaultauth.ErrCodeNotFound
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit redemption: %w", err)
	}

	code.Used = true
	code.UsedAt = &now
	return &code, nil
}

// CountBackupCodes reports the unused and total code counts for a vault.
func (s *SQLiteStore) CountBackupCodes(ctx context.Context, userID, vaultID string) (unused, total int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	err = s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(CASE WHEN used = 0 THEN 1 ELSE 0 END), 0)
		FROM backup_codes
		WHERE user_id = ? AND vault_id = ?
	`, userID, vaultID).Scan(&total, &unused)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to count backup codes: %w", err)
	}
	return unused, total, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
