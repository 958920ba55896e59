// Command duovault manages passphrase-protected vaults: setup with an
// optional decoy passphrase, unlocking, recovery codes, and whole-file
// database encryption.
package main

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/duovault/duovault/envelope"
	"github.com/duovault/duovault/platform"
	"github.com/duovault/duovault/storage"
	"github.com/duovault/duovault/vaultauth"
)

var (
	configPath string
	storePath  string
	userID     string
	vaultID    string
	dbPath     string
	verbose    bool

	rootCmd = &cobra.Command{
		Use:   "duovault",
		Short: "Dual-passphrase vault key management",
		Long: `duovault manages vault key material: passphrase-derived key wrapping
with an optional decoy passphrase, session-bound unlock, recovery codes,
and whole-file database encryption.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
			log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
			if verbose {
				zerolog.SetGlobalLevel(zerolog.DebugLevel)
			} else {
				zerolog.SetGlobalLevel(zerolog.InfoLevel)
			}

			if err := platform.DisableCoreDumps(); err != nil {
				log.Warn().Err(err).Msg("failed to disable core dumps")
			}
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config file (optional)")
	rootCmd.PersistentFlags().StringVar(&storePath, "store", "duovault.db", "path to the auth metadata store")
	rootCmd.PersistentFlags().StringVar(&userID, "user", "", "user identifier")
	rootCmd.PersistentFlags().StringVar(&vaultID, "vault", "default", "vault identifier")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "path to the vault database file; required to unlock legacy-wrapped vaults")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(setupCmd)
	rootCmd.AddCommand(unlockCmd)
	rootCmd.AddCommand(passwdCmd)
	rootCmd.AddCommand(codesCmd)
	rootCmd.AddCommand(dbCmd)
	rootCmd.AddCommand(statusCmd)
}

// openService wires a Service over the SQLite store. The caller must Close
// the returned store. When --db is given the envelope file doubles as the
// verifier for legacy-wrapped keys; without it, legacy vaults cannot unlock.
func openService(opts ...vaultauth.Option) (*vaultauth.Service, *storage.SQLiteStore, error) {
	cfg, err := vaultauth.LoadConfig(configPath)
	if err != nil {
		return nil, nil, err
	}
	store, err := storage.NewSQLiteStore(storePath)
	if err != nil {
		return nil, nil, err
	}
	opts = append([]vaultauth.Option{vaultauth.WithLogger(log.Logger)}, opts...)
	if dbPath != "" {
		opts = append(opts, vaultauth.WithKeyProbe(func(kek []byte) bool {
			return envelope.Probe(dbPath, kek)
		}))
	}
	svc := vaultauth.NewService(cfg, store, opts...)
	return svc, store, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
