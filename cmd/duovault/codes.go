package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var codesCmd = &cobra.Command{
	Use:   "codes",
	Short: "Manage recovery codes",
}

func init() {
	codesCmd.AddCommand(codesGenerateCmd)
	codesCmd.AddCommand(codesRedeemCmd)
}

var codesGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate a fresh batch of recovery codes",
	Long: `Generates recovery codes for the vault. The vault passphrase is required;
generating a new batch invalidates any unused codes from earlier batches.
Each code is shown once and cannot be recovered later.`,
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

		codes, err := svc.GenerateBackupCodes(ctx, result.SessionID)
		if err != nil {
			return describeUnlockError(err)
		}

		fmt.Println("Recovery codes (store them somewhere safe, they are shown once):")
		for _, code := range codes {
			fmt.Printf("  %s\n", code)
		}
		return nil
	},
}

var codesRedeemCmd = &cobra.Command{
	Use:   "redeem",
	Short: "Redeem a recovery code for a session",
	RunE: func(cmd *cobra.Command, args []string) error {
		if userID == "" {
			return fmt.Errorf("--user is required")
		}

		svc, store, err := openService()
		if err != nil {
			return err
		}
		defer store.Close()

		fmt.Fprint(os.Stderr, "Recovery code: ")
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && line == "" {
			return fmt.Errorf("failed to read code: %w", err)
		}
		code := strings.TrimSpace(line)

		result, err := svc.RedeemBackupCode(context.Background(), userID, vaultID, code, sourceCLI)
		if err != nil {
			return describeUnlockError(err)
		}

		fmt.Printf("Session: %s\n", result.SessionID)
		fmt.Println("Code consumed. Set a new passphrase and regenerate codes.")
		return nil
	},
}
