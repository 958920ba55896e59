package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show vault configuration (requires the vault passphrase)",
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

		ctx := context.Background()
		result, err := svc.Unlock(ctx, userID, vaultID, passphrase, sourceCLI)
		if err != nil {
			return describeUnlockError(err)
		}
		defer svc.Logout(result.SessionID)

		status, err := svc.Status(ctx, result.SessionID)
		if err != nil {
			return describeUnlockError(err)
		}

		fmt.Printf("Vault:          %s\n", vaultID)
		fmt.Printf("Configured:     %t\n", status.Configured)
		fmt.Printf("Decoy enabled:  %t\n", status.DecoyEnabled)
		fmt.Printf("Wrap method:    %s\n", status.WrapMethod)
		fmt.Printf("Recovery codes: %d unused of %d\n", status.UnusedCodes, status.TotalCodes)
		return nil
	},
}
