package engine

import (
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Persistence handles the disk I/O for the MemStore: one JSON file per preference file.
type Persistence struct {
	DataDir string
	mu      sync.Mutex // Protects concurrent writes to the filesystem
}

// fileDoc is the on-disk layout of a single preference file.
type fileDoc struct {
	Mode    string            `json:"mode"`
	Entries map[string]string `json:"entries"`
}

// NewPersistence initializes a persistence handler.
func NewPersistence(dir string) (*Persistence, error) {
	// Ensure the data directory exists
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, err
	}
	return &Persistence{DataDir: dir}, nil
}

// pathFor escapes the preference name so any name maps to a single file in DataDir.
func (p *Persistence) pathFor(name string) string {
	return filepath.Join(p.DataDir, url.PathEscape(name)+".json")
}

// SaveFile writes a single preference file atomically with the permission of mode.
func (p *Persistence) SaveFile(name string, mode Mode, entries map[string]string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	// 1. Convert map to JSON bytes
	bytes, err := json.MarshalIndent(fileDoc{Mode: mode.String(), Entries: entries}, "", "  ")
	if err != nil {
		return err
	}

	// 2. Write to a temporary file, then rename over the target.
	// If the power fails, you have either the old file or the new one, never a corrupt one.
	return atomicWriteFile(p.pathFor(name), bytes, mode.Perm())
}

// LoadAll returns every preference file found in the data directory.
func (p *Persistence) LoadAll() (*Snapshot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	snap := &Snapshot{Files: make(map[string]FileSnapshot)}

	files, err := os.ReadDir(p.DataDir)
	if err != nil {
		return nil, err
	}

	for _, file := range files {
		if file.IsDir() || filepath.Ext(file.Name()) != ".json" {
			continue
		}
		name, err := url.PathUnescape(strings.TrimSuffix(file.Name(), ".json"))
		if err != nil {
			log.Printf("Warning: Skipping preference file with undecodable name %s: %v", file.Name(), err)
			continue
		}

		content, err := os.ReadFile(filepath.Join(p.DataDir, file.Name()))
		if err != nil {
			log.Printf("Warning: Could not read preference file %s: %v", file.Name(), err)
			continue // Skip corrupted/unreadable files
		}

		var doc fileDoc
		if err := json.Unmarshal(content, &doc); err != nil {
			log.Printf("Warning: Could not unmarshal preference data from %s: %v", file.Name(), err)
			continue
		}
		mode, err := ParseMode(doc.Mode)
		if err != nil {
			log.Printf("Warning: %s: %v, using private", file.Name(), err)
		}
		if doc.Entries == nil {
			doc.Entries = make(map[string]string)
		}
		snap.Files[name] = FileSnapshot{Mode: mode, Entries: doc.Entries}
	}
	return snap, nil
}

// atomicWriteFile writes data to a temp file and renames it to the target path.
func atomicWriteFile(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}

	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename %s: %w", filepath.Base(path), err)
	}
	return nil
}
