package main

import (
	"bytes"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/celerix-dev/celerix-prefs/internal/config"
	"github.com/celerix-dev/celerix-prefs/pkg/engine"
	"github.com/celerix-dev/celerix-prefs/pkg/sdk"
	"github.com/celerix-dev/celerix-prefs/pkg/vault"
)

var (
	migrateToBolt string
	migrateToDir  string

	snapshotPassphrase string
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Copy every file to another backend",
	Long: `Copy the raw entries of every file to a bolt database or a JSON data
directory. Entries are copied as stored, so obfuscated files stay readable
with the same password.

Examples:
  prefsctl migrate --to-bolt ./data/prefs.db
  prefsctl --backend remote --addr host:7001 migrate --to-dir ./backup`,
	Args: cobra.NoArgs,
	RunE: runMigrate,
}

var exportCmd = &cobra.Command{
	Use:   "export <file> [name...]",
	Short: "Write a CBOR snapshot of raw files",
	Long: `Write a CBOR snapshot of the named preference files, or of every file
when none are named. Entries are written as stored. With --passphrase the
snapshot is encrypted and authenticated.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runExport,
}

var importCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Restore files from a CBOR snapshot",
	Long: `Restore the files of a snapshot written by export. Each restored file is
replaced entirely; files not in the snapshot are left alone. Encrypted
snapshots need the --passphrase they were exported with.`,
	Args: cobra.ExactArgs(1),
	RunE: runImport,
}

func init() {
	migrateCmd.Flags().StringVar(&migrateToBolt, "to-bolt", "", "destination bolt database")
	migrateCmd.Flags().StringVar(&migrateToDir, "to-dir", "", "destination JSON data directory")
	exportCmd.Flags().StringVar(&snapshotPassphrase, "passphrase", "", "encrypt the snapshot")
	importCmd.Flags().StringVar(&snapshotPassphrase, "passphrase", "", "decrypt the snapshot")
	rootCmd.AddCommand(migrateCmd, exportCmd, importCmd)
}

func runMigrate(cmd *cobra.Command, args []string) error {
	if (migrateToBolt == "") == (migrateToDir == "") {
		return fmt.Errorf("exactly one of --to-bolt or --to-dir is required")
	}

	return withBackend(func(_ *config.Config, src *config.Backend) error {
		var (
			dst     engine.Opener
			closeFn func() error
		)
		if migrateToBolt != "" {
			b, err := engine.OpenBolt(migrateToBolt)
			if err != nil {
				return err
			}
			dst, closeFn = b, b.Close
		} else {
			ms, err := sdk.Embedded(migrateToDir)
			if err != nil {
				return err
			}
			dst, closeFn = ms, func() error { ms.Wait(); return nil }
		}

		err := engine.Migrate(src, dst)
		if cerr := closeFn(); err == nil {
			err = cerr
		}
		if err != nil {
			return err
		}
		names, _ := src.Files()
		fmt.Fprintf(cmd.OutOrStdout(), "Migrated %d files.\n", len(names))
		return nil
	})
}

func runExport(cmd *cobra.Command, args []string) error {
	return withBackend(func(_ *config.Config, src *config.Backend) error {
		var buf bytes.Buffer
		if err := engine.Export(&buf, src, args[1:]...); err != nil {
			return err
		}

		data := buf.Bytes()
		if snapshotPassphrase != "" {
			sealed, err := vault.Seal(data, snapshotPassphrase)
			if err != nil {
				return err
			}
			data = sealed
		}
		return os.WriteFile(args[0], data, 0600)
	})
}

func runImport(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	if vault.IsSealed(data) {
		if snapshotPassphrase == "" {
			return fmt.Errorf("%s is encrypted; --passphrase is required", args[0])
		}
		if data, err = vault.Unseal(data, snapshotPassphrase); err != nil {
			return err
		}
	}

	return withBackend(func(_ *config.Config, dst *config.Backend) error {
		restored, err := engine.Import(bytes.NewReader(data), dst)
		for _, name := range restored {
			fmt.Fprintf(cmd.OutOrStdout(), "Restored %s\n", name)
		}
		return err
	})
}
