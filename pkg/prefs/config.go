package prefs

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"

	"github.com/celerix-dev/celerix-prefs/pkg/engine"
	"github.com/celerix-dev/celerix-prefs/pkg/vault"
)

// DefaultStoreName is used when Config.DefaultStore is empty.
const DefaultStoreName = "default"

// saltKeySuffix marks the reserved entry holding a generated salt in the default file.
const saltKeySuffix = "!"

// Config assembles a Prefs. The zero value is usable: default file "default",
// private mode, cache on, logging off, no obfuscation.
type Config struct {
	// DefaultStore names the file used when a preference names none.
	DefaultStore string
	DefaultMode  engine.Mode

	// DisableCache turns off the process-local read cache.
	DisableCache bool

	LogLevel LogLevel
	// Logger receives log lines. Defaults to stderr with a "[Prefs] " prefix.
	Logger *log.Logger

	// Obfuscator is used as is unless Password is set.
	Obfuscator vault.Obfuscator
	// Password builds a vault.DefaultObfuscator. With a nil Salt a random salt is
	// generated once and kept, obfuscated, in the default file.
	Password string
	Salt     []byte

	// Stores registers additional preference files.
	Stores []StoreConfig

	// OnPreferenceSet is called after every successful write, including rotation rewrites.
	OnPreferenceSet func(SetEvent)
}

// StoreConfig registers one preference file.
type StoreConfig struct {
	Name       string
	Mode       engine.Mode
	Obfuscated bool
}

// SetEvent describes a value written to a backing store. For files without an
// obfuscator the obfuscated fields equal the plain ones.
type SetEvent struct {
	File            string
	Key             string
	Value           string
	ObfuscatedKey   string
	ObfuscatedValue string
}

func (cfg Config) withDefaults() Config {
	if cfg.DefaultStore == "" {
		cfg.DefaultStore = DefaultStoreName
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stderr, "[Prefs] ", log.LstdFlags)
	}
	return cfg
}

// New builds the registry, opens every configured store and sets up the obfuscator.
// Errors are configuration errors; nothing is partially usable after one.
func New(opener engine.Opener, cfg Config) (*Prefs, error) {
	if opener == nil {
		return nil, ErrNoOpener
	}
	cfg = cfg.withDefaults()

	p := &Prefs{
		opener:       opener,
		reg:          newRegistry(cfg.DefaultStore, cfg.DefaultMode),
		cacheEnabled: !cfg.DisableCache,
		cache:        make(map[string]any),
		bindings:     make(map[string][]weakBinding),
		reserved:     make(map[string]string),
		onSet:        cfg.OnPreferenceSet,
		log:          &logger{level: cfg.LogLevel, out: cfg.Logger},
	}
	for _, s := range cfg.Stores {
		if s.Name == "" {
			return nil, fmt.Errorf("prefs: store with empty name")
		}
		p.reg.register(s.Name, s.Mode, s.Obfuscated)
	}
	if err := p.reg.build(opener); err != nil {
		return nil, fmt.Errorf("prefs: build stores: %w", err)
	}

	p.obf = cfg.Obfuscator
	if cfg.Password != "" {
		obf, salt, err := p.deriveObfuscator(cfg.Password, cfg.Salt)
		if err != nil {
			return nil, err
		}
		if salt != nil {
			if err := p.reg.defaultContainer().store.Put(salt.key, salt.value); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrSaltGeneration, err)
			}
			p.reserved[salt.key] = salt.value
		}
		p.obf = obf
	}

	p.log.verbosef("Built prefs: default file %q, obfuscator %T, files %v", cfg.DefaultStore, p.obf, p.reg.names())
	return p, nil
}

// saltEntry is the reserved default-file entry holding an obfuscated generated salt.
type saltEntry struct {
	key, value string
}

// deriveObfuscator builds a DefaultObfuscator for password. With a nil salt the
// salt is read from, or generated for, the default file; the returned entry must
// then be written there by the caller. Must be called with p.mu held.
func (p *Prefs) deriveObfuscator(password string, salt []byte) (vault.Obfuscator, *saltEntry, error) {
	if salt != nil {
		obf, err := vault.NewDefaultObfuscator(password, salt)
		return obf, nil, err
	}

	boot, err := vault.NewDefaultObfuscator(password, []byte(password))
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrSaltGeneration, err)
	}
	k, err := boot.Obfuscate("key")
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrSaltGeneration, err)
	}
	entry := &saltEntry{key: k + saltKeySuffix}

	st, err := p.reg.defaultContainer().materialize(p.opener)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrSaltGeneration, err)
	}

	var text string
	raw, err := st.Get(entry.key)
	switch {
	case err == nil && raw != "":
		if text, err = boot.Deobfuscate(raw); err != nil {
			return nil, nil, fmt.Errorf("%w: stored salt: %v", ErrSaltGeneration, err)
		}
		entry.value = raw
	case err == nil || errors.Is(err, engine.ErrKeyNotFound):
		var b [8]byte
		if _, err := rand.Read(b[:]); err != nil {
			return nil, nil, fmt.Errorf("%w: %v", ErrSaltGeneration, err)
		}
		text = strconv.FormatInt(int64(binary.BigEndian.Uint64(b[:])), 10)
		if entry.value, err = boot.Obfuscate(text); err != nil {
			return nil, nil, fmt.Errorf("%w: %v", ErrSaltGeneration, err)
		}
		p.log.verbosef("Generated a new salt for the default file")
	default:
		return nil, nil, fmt.Errorf("%w: %v", ErrSaltGeneration, err)
	}

	obf, err := vault.NewDefaultObfuscator(password, []byte(text))
	if err != nil {
		return nil, nil, err
	}
	return obf, entry, nil
}
