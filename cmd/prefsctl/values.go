package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/celerix-dev/celerix-prefs/internal/config"
	"github.com/celerix-dev/celerix-prefs/pkg/prefs"
)

var getCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Print the value of a key",
	Long: `Print the decoded value of a key. Missing keys print an empty line;
use "has" to tell a missing key from an empty value.

Examples:
  prefsctl get theme
  prefsctl get token -f secure`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withPrefs(func(p *prefs.Prefs) error {
			fmt.Fprintln(cmd.OutOrStdout(), p.Get(args[0], flagFile))
			return nil
		})
	},
}

var setCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Store a value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withPrefs(func(p *prefs.Prefs) error {
			p.Put(args[0], args[1], flagFile)
			return nil
		})
	},
}

var rmCmd = &cobra.Command{
	Use:   "rm <key>...",
	Short: "Remove keys",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withPrefs(func(p *prefs.Prefs) error {
			for _, key := range args {
				p.Remove(key, "", flagFile)
			}
			return nil
		})
	},
}

var hasCmd = &cobra.Command{
	Use:   "has <key>",
	Short: "Report whether a key is stored",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withPrefs(func(p *prefs.Prefs) error {
			fmt.Fprintln(cmd.OutOrStdout(), p.Contains(args[0], flagFile))
			return nil
		})
	},
}

var dumpRaw bool

var dumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Print every entry of a file as JSON",
	Long: `Print every entry of a file as JSON. Entries that do not decode are
shown as stored. With --raw nothing is decoded.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withPrefs(func(p *prefs.Prefs) error {
			if dumpRaw {
				return printJSON(cmd.OutOrStdout(), p.GetAllObfuscated(flagFile))
			}
			return printJSON(cmd.OutOrStdout(), p.GetAll(flagFile))
		})
	},
}

var filesCmd = &cobra.Command{
	Use:   "files",
	Short: "List preference files",
	Long: `List the preference files present in the backend, including ones no
configuration names.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withBackend(func(_ *config.Config, b *config.Backend) error {
			names, err := b.Files()
			if err != nil {
				return err
			}
			for _, name := range names {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
			return nil
		})
	},
}

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove every entry of a file",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withPrefs(func(p *prefs.Prefs) error {
			p.Clear(flagFile)
			return nil
		})
	},
}

func init() {
	dumpCmd.Flags().BoolVar(&dumpRaw, "raw", false, "print entries as stored")

	rootCmd.AddCommand(getCmd, setCmd, rmCmd, hasCmd, dumpCmd, filesCmd, clearCmd)
}
