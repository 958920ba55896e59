package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/duovault/duovault/vaultauth"
)

// sourceCLI buckets rate-limit state for attempts made from this tool.
const sourceCLI = "cli"

var unlockCmd = &cobra.Command{
	Use:   "unlock",
	Short: "Unlock a vault with its passphrase",
	RunE: func(cmd *cobra.Command, args []string) error {
		if userID == "" {
			return fmt.Errorf("--user is required")
		}

		svc, store, err := openService()
		if err != nil {
			return err
		}
		defer store.Close()

		passphrase, err := readPassphrase("Passphrase: ")
		if err != nil {
			return err
		}
		defer passphrase.Zero()

		result, err := svc.Unlock(context.Background(), userID, vaultID, passphrase, sourceCLI)
		if err != nil {
			return describeUnlockError(err)
		}

		// The session id is the only output. Which vault opened is never
		// printed; the caller knows which passphrase they typed.
		fmt.Printf("Session: %s\n", result.SessionID)
		return nil
	},
}

func describeUnlockError(err error) error {
	var rl *vaultauth.RateLimitedError
	switch {
	case errors.As(err, &rl):
		return fmt.Errorf("too many attempts, retry in %s", rl.RetryAfter)
	case errors.Is(err, vaultauth.ErrInvalidPassphrase):
		return fmt.Errorf("invalid passphrase")
	case errors.Is(err, vaultauth.ErrVaultNotConfigured):
		return fmt.Errorf("vault not configured, run setup first")
	default:
		return err
	}
}
