package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/duovault/duovault/envelope"
	"github.com/duovault/duovault/vaultauth"
)

var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Encrypt, decrypt, or migrate the vault database file",
}

func init() {
	dbCmd.AddCommand(dbEncryptCmd)
	dbCmd.AddCommand(dbDecryptCmd)
	dbCmd.AddCommand(dbMigrateCmd)
}

// unlockForDB authenticates and returns the session KEK for envelope work.
// openService wires the envelope probe from --db, so legacy-wrapped slots
// are verified against the envelope itself.
func unlockForDB(ctx context.Context) (vaultauth.SensitiveBytes, func(), error) {
	if userID == "" {
		return nil, nil, fmt.Errorf("--user is required")
	}
	if dbPath == "" {
		return nil, nil, fmt.Errorf("--db is required")
	}

	svc, store, err := openService()
	if err != nil {
		return nil, nil, err
	}

	passphrase, err := readPassphrase("Passphrase: ")
	if err != nil {
		store.Close()
		return nil, nil, err
	}
	defer passphrase.Zero()

	result, err := svc.Unlock(ctx, userID, vaultID, passphrase, sourceCLI)
	if err != nil {
		store.Close()
		return nil, nil, describeUnlockError(err)
	}
	sess, err := svc.Session(result.SessionID)
	if err != nil {
		store.Close()
		return nil, nil, err
	}

	cleanup := func() {
		sess.KEK.Zero()
		svc.Logout(result.SessionID)
		store.Close()
	}
	return sess.KEK, cleanup, nil
}

var dbEncryptCmd = &cobra.Command{
	Use:   "encrypt",
	Short: "Seal a plaintext database file into its encrypted envelope",
	RunE: func(cmd *cobra.Command, args []string) error {
		kek, cleanup, err := unlockForDB(context.Background())
		if err != nil {
			return err
		}
		defer cleanup()

		env, err := envelope.New(dbPath, kek, log.Logger)
		if err != nil {
			return err
		}
		if err := env.MigrateFromPlaintext(); err != nil {
			return err
		}
		fmt.Printf("Encrypted to %s (original kept as %s.plaintext.bak)\n", env.EncryptedPath(), dbPath)
		return nil
	},
}

var dbDecryptCmd = &cobra.Command{
	Use:   "decrypt",
	Short: "Restore the plaintext database file from its envelope",
	RunE: func(cmd *cobra.Command, args []string) error {
		kek, cleanup, err := unlockForDB(context.Background())
		if err != nil {
			return err
		}
		defer cleanup()

		env, err := envelope.New(dbPath, kek, log.Logger)
		if err != nil {
			return err
		}
		workPath, err := env.Connect()
		if err != nil {
			return err
		}
		if env.NeedsMigration {
			return fmt.Errorf("%s is already plaintext", dbPath)
		}
		if err := copyFile(workPath, dbPath); err != nil {
			return err
		}
		if err := env.Close(); err != nil {
			return err
		}
		fmt.Printf("Decrypted to %s\n", dbPath)
		return nil
	},
}

var dbMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Migrate a legacy plaintext database into the encrypted envelope",
	RunE: func(cmd *cobra.Command, args []string) error {
		kek, cleanup, err := unlockForDB(context.Background())
		if err != nil {
			return err
		}
		defer cleanup()

		env, err := envelope.New(dbPath, kek, log.Logger)
		if err != nil {
			return err
		}
		if _, err := env.Connect(); err != nil {
			return err
		}
		if !env.NeedsMigration {
			env.Close()
			fmt.Println("Database is already encrypted.")
			return nil
		}
		if err := env.MigrateFromPlaintext(); err != nil {
			return err
		}
		fmt.Printf("Migrated %s into %s\n", dbPath, env.EncryptedPath())
		return nil
	},
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
