// Package engine defines the backing key-value stores behind preference files.
//
// A preference file is a flat string-to-string map opened by name and Mode.
// The facade in pkg/prefs owns obfuscation, caching and notification; stores
// here only hold the raw (possibly obfuscated) text.
package engine

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

var (
	// ErrKeyNotFound is returned when a requested key does not exist in a file.
	ErrKeyNotFound = errors.New("key not found")
	// ErrFileNotFound is returned when a requested preference file does not exist.
	ErrFileNotFound = errors.New("file not found")
)

// Mode controls who may read a preference file once persisted.
type Mode int

const (
	// ModePrivate files are readable by the owner only.
	ModePrivate Mode = iota
	// ModeShared files are world readable.
	ModeShared
)

// Perm returns the file permission used when persisting a file with this mode.
func (m Mode) Perm() os.FileMode {
	if m == ModeShared {
		return 0644
	}
	return 0600
}

func (m Mode) String() string {
	if m == ModeShared {
		return "shared"
	}
	return "private"
}

// ParseMode parses "private" or "shared". Empty input is ModePrivate.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "private":
		return ModePrivate, nil
	case "shared":
		return ModeShared, nil
	}
	return ModePrivate, fmt.Errorf("unknown mode %q", s)
}

// --- Functional Interfaces (Interface Segregation) ---

// Reader reads raw entries from a single preference file.
type Reader interface {
	// Get returns ErrKeyNotFound when the key is absent.
	Get(key string) (string, error)
	// All returns a copy of every entry in the file.
	All() (map[string]string, error)
}

// Writer mutates a single preference file.
type Writer interface {
	Put(key, value string) error
	Remove(key string) error
	Clear() error
}

// Store is a handle on one preference file.
type Store interface {
	Reader
	Writer
}

// Opener opens preference files by name. Opening the same name twice returns
// handles on the same data.
type Opener interface {
	Open(name string, mode Mode) (Store, error)
}

// Lister enumerates the preference files known to a backend.
type Lister interface {
	Files() ([]string, error)
}

// Backend is an Opener that can also enumerate its files.
type Backend interface {
	Opener
	Lister
}
