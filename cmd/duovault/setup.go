package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/duovault/duovault/vaultauth"
)

var withDecoy bool

func init() {
	setupCmd.Flags().BoolVar(&withDecoy, "decoy", false, "also configure a decoy passphrase")
}

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Configure a vault with a passphrase and an optional decoy",
	RunE: func(cmd *cobra.Command, args []string) error {
		if userID == "" {
			return fmt.Errorf("--user is required")
		}

		svc, store, err := openService()
		if err != nil {
			return err
		}
		defer store.Close()

		passReal, err := readConfirmedPassphrase("Vault passphrase: ")
		if err != nil {
			return err
		}
		defer passReal.Zero()

		var passDecoy vaultauth.SensitiveBytes
		if withDecoy {
			passDecoy, err = readConfirmedPassphrase("Decoy passphrase: ")
			if err != nil {
				return err
			}
			defer passDecoy.Zero()
		}

		result, err := svc.Setup(context.Background(), userID, vaultID, passReal, passDecoy)
		if err != nil {
			return err
		}

		fmt.Printf("Vault %q configured.\n", vaultID)
		fmt.Printf("Session: %s\n", result.SessionID)
		return nil
	},
}
