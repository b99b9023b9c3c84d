package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/celerix-dev/celerix-prefs/pkg/prefs"
)

var (
	rotatePassword string
	rotateSalt     string
	rotatePlain    bool
)

var rotateCmd = &cobra.Command{
	Use:   "rotate",
	Short: "Re-encode every obfuscated file with a new password",
	Long: `Re-encode every obfuscated file with a new password, or store them in
plain text with --plain. Every entry is decoded before anything is written:
if one fails to decode nothing changes and the offending file and key are
reported.

Without --new-salt a salt is generated and kept in the default file.

Examples:
  prefsctl rotate --password old --new-password new
  prefsctl rotate --password old --plain`,
	Args: cobra.NoArgs,
	RunE: runRotate,
}

func init() {
	rotateCmd.Flags().StringVar(&rotatePassword, "new-password", "", "password to re-encode with")
	rotateCmd.Flags().StringVar(&rotateSalt, "new-salt", "", "salt to re-encode with (generated when empty)")
	rotateCmd.Flags().BoolVar(&rotatePlain, "plain", false, "store every file in plain text")
	rootCmd.AddCommand(rotateCmd)
}

func runRotate(cmd *cobra.Command, args []string) error {
	if rotatePlain == (rotatePassword != "") {
		return fmt.Errorf("exactly one of --new-password or --plain is required")
	}

	return withPrefs(func(p *prefs.Prefs) error {
		var err error
		if rotatePlain {
			err = p.ChangeObfuscator(nil)
		} else {
			var salt []byte
			if rotateSalt != "" {
				salt = []byte(rotateSalt)
			}
			err = p.ChangePassword(rotatePassword, salt)
		}

		var rotErr *prefs.RotationError
		if errors.As(err, &rotErr) {
			return fmt.Errorf("nothing was changed: %w", err)
		}
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Rotation complete.")
		return nil
	})
}
