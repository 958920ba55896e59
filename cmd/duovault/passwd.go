package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/duovault/duovault/vaultauth"
)

var passwdCmd = &cobra.Command{
	Use:   "passwd",
	Short: "Change the passphrase of whichever slot the current one opens",
	RunE: func(cmd *cobra.Command, args []string) error {
		if userID == "" {
			return fmt.Errorf("--user is required")
		}

		svc, store, err := openService()
		if err != nil {
			return err
		}
		defer store.Close()

		current, err := readPassphrase("Current passphrase: ")
		if err != nil {
			return err
		}
		defer current.Zero()

		next, err := readConfirmedPassphrase("New passphrase: ")
		if err != nil {
			return err
		}
		defer next.Zero()

		err = svc.ChangePassphrase(context.Background(), userID, vaultID, current, next, sourceCLI)
		if err != nil {
			if errors.Is(err, vaultauth.ErrIdenticalSecrets) {
				return fmt.Errorf("new passphrase must differ from existing vault passphrases")
			}
			return describeUnlockError(err)
		}

		fmt.Println("Passphrase changed.")
		return nil
	},
}
