package engine

import "fmt"

// Migrate copies the raw entries of every file in src into dst.
// This works for:
// - Embedded JSON -> Bolt (the "Upgrade")
// - Remote -> Embedded (the "Backup/Offline")
//
// Entries are copied as stored, so obfuscated files stay readable with the
// same password after the move.
func Migrate(src Backend, dst Opener) error {
	// 1. Get all files from the source
	names, err := src.Files()
	if err != nil {
		return fmt.Errorf("failed to list files: %w", err)
	}

	for _, name := range names {
		// 2. Get the full KV map for this file
		from, err := src.Open(name, ModePrivate)
		if err != nil {
			return fmt.Errorf("failed to open source file %s: %w", name, err)
		}
		data, err := from.All()
		if err != nil {
			return fmt.Errorf("failed to dump file %s: %w", name, err)
		}

		// 3. Push every key into the destination
		to, err := dst.Open(name, modeOf(src, name))
		if err != nil {
			return fmt.Errorf("failed to open destination file %s: %w", name, err)
		}
		for k, v := range data {
			if err := to.Put(k, v); err != nil {
				return fmt.Errorf("failed to set key %s in destination: %w", k, err)
			}
		}
	}

	return nil
}

// modeOf returns the recorded mode when the backend tracks one.
func modeOf(b any, name string) Mode {
	if m, ok := b.(interface{ Mode(string) (Mode, bool) }); ok {
		if mode, ok := m.Mode(name); ok {
			return mode
		}
	}
	return ModePrivate
}
