// Package main is the entry point for the prefsctl CLI.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/celerix-dev/celerix-prefs/internal/config"
	"github.com/celerix-dev/celerix-prefs/pkg/prefs"
)

// Version is set at build time via ldflags.
var Version = "dev"

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "prefsctl",
	Short: "prefsctl - inspect and edit obfuscated preference files",
	Long: `prefsctl reads and writes preference files through the same facade
applications use, so obfuscated keys and values are decoded with the
configured password.

Files live in a local data directory (JSON or bolt) or on a prefsd daemon.
Settings come from a YAML config file, PREFS_* environment variables and flags,
in increasing order of precedence.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

var (
	flagConfig   string
	flagBackend  string
	flagDataDir  string
	flagAddr     string
	flagPassword string
	flagFile     string
)

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.SetVersionTemplate("prefsctl version {{.Version}}\n")

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flagConfig, "config", "", "config file (default $PREFS_CONFIG or ./prefs.yaml)")
	pf.StringVar(&flagBackend, "backend", "", "backend: auto, json, bolt or remote")
	pf.StringVar(&flagDataDir, "data-dir", "", "data directory for the json and bolt backends")
	pf.StringVar(&flagAddr, "addr", "", "prefsd address for the remote backend")
	pf.StringVar(&flagPassword, "password", "", "password the files are obfuscated with")
	pf.StringVarP(&flagFile, "file", "f", "", "preference file (default file when empty)")
}

// loadConfig reads the config file and applies flag overrides.
func loadConfig() (*config.Config, error) {
	path := flagConfig
	if path == "" {
		path = os.Getenv("PREFS_CONFIG")
	}
	if path == "" {
		path = "prefs.yaml"
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if flagBackend != "" {
		cfg.Backend = flagBackend
	}
	if flagDataDir != "" {
		cfg.DataDir = flagDataDir
	}
	if flagAddr != "" {
		cfg.Addr = flagAddr
	}
	if flagPassword != "" {
		cfg.Password = flagPassword
	}
	return cfg, nil
}

// withBackend opens the configured backend for fn and closes it afterwards.
func withBackend(fn func(cfg *config.Config, b *config.Backend) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	b, err := cfg.OpenBackend()
	if err != nil {
		return fmt.Errorf("open %s backend: %w", cfg.Backend, err)
	}
	err = fn(cfg, b)
	if cerr := b.Close(); err == nil {
		err = cerr
	}
	return err
}

// withPrefs runs fn with a facade over the configured backend. Files already in
// the backend are registered even when the config does not name them.
func withPrefs(fn func(p *prefs.Prefs) error) error {
	return withBackend(func(cfg *config.Config, b *config.Backend) error {
		pc, err := cfg.PrefsConfig()
		if err != nil {
			return err
		}
		if err := config.DiscoverStores(&pc, b.Backend); err != nil {
			return err
		}
		pc.Logger = log.New(os.Stderr, "[prefsctl] ", 0)
		if pc.LogLevel == prefs.LogDisabled {
			pc.LogLevel = prefs.LogErrors
		}
		p, err := prefs.New(b, pc)
		if err != nil {
			return err
		}
		return fn(p)
	})
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
