package prefs

import (
	"errors"
	"fmt"
)

var (
	// ErrNoOpener is returned by New when no backing store opener is given.
	ErrNoOpener = errors.New("prefs: no backing store opener")
	// ErrUnsupportedType is returned by NewPref for default values of an unknown type.
	ErrUnsupportedType = errors.New("prefs: unsupported preference type")
	// ErrSaltGeneration is returned when a salt cannot be read or created in the default store.
	ErrSaltGeneration = errors.New("prefs: salt generation error")

	// errUnbound reports a stored value that does not end with its own obfuscated key.
	errUnbound = errors.New("value is not bound to its key")
)

// RotationError reports why an obfuscator rotation was aborted.
// When it is returned no store has been modified.
type RotationError struct {
	File string
	Key  string // raw stored key, empty when the whole file failed
	Err  error
}

func (e *RotationError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("prefs: rotation aborted on %q: %v", e.File, e.Err)
	}
	return fmt.Sprintf("prefs: rotation aborted on %q key %q: %v", e.File, e.Key, e.Err)
}

func (e *RotationError) Unwrap() error { return e.Err }
