package engine

import (
	"fmt"
	"io"
	"sort"

	"github.com/fxamacker/cbor/v2"
)

// Snapshot is a point-in-time copy of raw preference files.
// It is the load format of Persistence and the CBOR export format.
type Snapshot struct {
	Files map[string]FileSnapshot `cbor:"1,keyasint"`
}

// FileSnapshot holds the raw entries of one file.
type FileSnapshot struct {
	Mode    Mode              `cbor:"1,keyasint"`
	Entries map[string]string `cbor:"2,keyasint"`
}

// TakeSnapshot reads the named files from src. With no names every file is read.
func TakeSnapshot(src Backend, names ...string) (*Snapshot, error) {
	if len(names) == 0 {
		var err error
		names, err = src.Files()
		if err != nil {
			return nil, fmt.Errorf("list files: %w", err)
		}
	}

	snap := &Snapshot{Files: make(map[string]FileSnapshot, len(names))}
	for _, name := range names {
		f, err := src.Open(name, ModePrivate)
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", name, err)
		}
		entries, err := f.All()
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
		snap.Files[name] = FileSnapshot{Mode: modeOf(src, name), Entries: entries}
	}
	return snap, nil
}

// Export writes a CBOR snapshot of the named files (all files when none are given).
func Export(w io.Writer, src Backend, names ...string) error {
	snap, err := TakeSnapshot(src, names...)
	if err != nil {
		return err
	}
	if err := cbor.NewEncoder(w).Encode(snap); err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	return nil
}

// Import reads a CBOR snapshot and replaces the content of each file it names in dst.
// It returns the names of the restored files.
func Import(r io.Reader, dst Opener) ([]string, error) {
	var snap Snapshot
	if err := cbor.NewDecoder(r).Decode(&snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}

	names := make([]string, 0, len(snap.Files))
	for name := range snap.Files {
		names = append(names, name)
	}
	sort.Strings(names)

	var restored []string
	for _, name := range names {
		f := snap.Files[name]
		st, err := dst.Open(name, f.Mode)
		if err != nil {
			return restored, fmt.Errorf("open %s: %w", name, err)
		}
		if err := st.Clear(); err != nil {
			return restored, fmt.Errorf("clear %s: %w", name, err)
		}
		for k, v := range f.Entries {
			if err := st.Put(k, v); err != nil {
				return restored, fmt.Errorf("restore %s/%s: %w", name, k, err)
			}
		}
		restored = append(restored, name)
	}
	return restored, nil
}
