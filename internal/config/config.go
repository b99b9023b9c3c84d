// Package config loads the YAML configuration shared by prefsd and prefsctl.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/celerix-dev/celerix-prefs/pkg/engine"
	"github.com/celerix-dev/celerix-prefs/pkg/prefs"
	"github.com/celerix-dev/celerix-prefs/pkg/sdk"
)

const (
	BackendAuto   = "auto"
	BackendJSON   = "json"
	BackendBolt   = "bolt"
	BackendRemote = "remote"

	// Default configuration values
	DefaultBackend = BackendAuto
	DefaultDataDir = "./data"
	DefaultCache   = true

	boltFileName = "prefs.db"
)

// Config is the on-disk configuration. It is user-managed and never written by the tools.
type Config struct {
	// Backend selects where preference files live: auto, json, bolt or remote.
	// auto uses the daemon at Addr when it answers and the JSON data dir otherwise.
	Backend  string `yaml:"backend"`
	DataDir  string `yaml:"data_dir"`
	BoltPath string `yaml:"bolt_path"`
	Addr     string `yaml:"addr"`

	DefaultStore string `yaml:"default_store"`
	DefaultMode  string `yaml:"default_mode"`
	Cache        bool   `yaml:"cache"`
	LogLevel     string `yaml:"log_level"`

	Password string `yaml:"password"`
	// Salt is used as is; empty means a generated salt kept in the default file.
	Salt string `yaml:"salt"`

	Stores []Store `yaml:"stores"`
}

// Store registers one preference file.
type Store struct {
	Name       string `yaml:"name"`
	Mode       string `yaml:"mode"`
	Obfuscated bool   `yaml:"obfuscated"`
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Backend: DefaultBackend,
		DataDir: DefaultDataDir,
		Cache:   DefaultCache,
	}
}

// Load reads path if it exists, otherwise returns defaults. Partial files are
// merged with defaults. Environment overrides are applied last.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse %s: %w", path, err)
			}
		case errors.Is(err, os.ErrNotExist):
			// No config file - keep defaults
		default:
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("PREFS_STORE_ADDR"); v != "" {
		c.Addr = v
	}
	if v := os.Getenv("PREFS_PASSWORD"); v != "" {
		c.Password = v
	}
	if v := os.Getenv("PREFS_DATA_DIR"); v != "" {
		c.DataDir = v
	}
}

// PrefsConfig converts the file settings into a prefs.Config.
func (c *Config) PrefsConfig() (prefs.Config, error) {
	mode, err := engine.ParseMode(c.DefaultMode)
	if err != nil {
		return prefs.Config{}, fmt.Errorf("default_mode: %w", err)
	}
	level, err := prefs.ParseLogLevel(c.LogLevel)
	if err != nil {
		return prefs.Config{}, fmt.Errorf("log_level: %w", err)
	}

	out := prefs.Config{
		DefaultStore: c.DefaultStore,
		DefaultMode:  mode,
		DisableCache: !c.Cache,
		LogLevel:     level,
		Password:     c.Password,
	}
	if c.Salt != "" {
		out.Salt = []byte(c.Salt)
	}
	for i, s := range c.Stores {
		if s.Name == "" {
			return prefs.Config{}, fmt.Errorf("stores[%d]: name is required", i)
		}
		m, err := engine.ParseMode(s.Mode)
		if err != nil {
			return prefs.Config{}, fmt.Errorf("stores[%d]: %w", i, err)
		}
		out.Stores = append(out.Stores, prefs.StoreConfig{Name: s.Name, Mode: m, Obfuscated: s.Obfuscated})
	}
	return out, nil
}

// DiscoverStores registers every file of l that pc does not name yet, as an
// obfuscated file. Modes reported by l are kept, otherwise pc.DefaultMode is used.
func DiscoverStores(pc *prefs.Config, l engine.Lister) error {
	names, err := l.Files()
	if err != nil {
		return fmt.Errorf("list files: %w", err)
	}

	known := map[string]bool{pc.DefaultStore: true}
	if pc.DefaultStore == "" {
		known[prefs.DefaultStoreName] = true
	}
	for _, s := range pc.Stores {
		known[s.Name] = true
	}

	moder, _ := l.(interface{ Mode(string) (engine.Mode, bool) })
	for _, name := range names {
		if known[name] {
			continue
		}
		mode := pc.DefaultMode
		if moder != nil {
			if m, ok := moder.Mode(name); ok {
				mode = m
			}
		}
		pc.Stores = append(pc.Stores, prefs.StoreConfig{Name: name, Mode: mode, Obfuscated: true})
		known[name] = true
	}
	return nil
}

// Backend is an opened engine.Backend together with its shutdown step.
type Backend struct {
	engine.Backend
	// Kind is the backend actually opened; never BackendAuto.
	Kind    string
	closeFn func() error
}

// Close flushes and releases the backend.
func (b *Backend) Close() error {
	if b.closeFn == nil {
		return nil
	}
	return b.closeFn()
}

// OpenBackend opens the configured backend.
func (c *Config) OpenBackend() (*Backend, error) {
	switch c.Backend {
	case BackendJSON:
		return c.openJSON()

	case BackendBolt:
		path := c.BoltPath
		if path == "" {
			if err := os.MkdirAll(c.DataDir, 0700); err != nil {
				return nil, err
			}
			path = filepath.Join(c.DataDir, boltFileName)
		}
		b, err := engine.OpenBolt(path)
		if err != nil {
			return nil, err
		}
		return &Backend{Backend: b, Kind: BackendBolt, closeFn: b.Close}, nil

	case BackendRemote:
		if c.Addr == "" {
			return nil, fmt.Errorf("backend remote needs addr or PREFS_STORE_ADDR")
		}
		return c.openRemote()

	case BackendAuto, "":
		if c.Addr != "" {
			if b, err := c.openRemote(); err == nil {
				return b, nil
			}
		}
		return c.openJSON()
	}
	return nil, fmt.Errorf("unknown backend %q", c.Backend)
}

func (c *Config) openJSON() (*Backend, error) {
	ms, err := sdk.Embedded(c.DataDir)
	if err != nil {
		return nil, err
	}
	return &Backend{Backend: ms, Kind: BackendJSON, closeFn: func() error {
		ms.Wait()
		return nil
	}}, nil
}

func (c *Config) openRemote() (*Backend, error) {
	client, err := sdk.Connect(c.Addr)
	if err != nil {
		return nil, err
	}
	return &Backend{Backend: client, Kind: BackendRemote, closeFn: client.Close}, nil
}
