package sdk

import (
	"fmt"
	"os"

	"github.com/celerix-dev/celerix-prefs/pkg/engine"
)

// New initializes the backend based on the environment.
// It returns the interface, so the app doesn't care if it's local or remote.
func New(dataDir string) (engine.Backend, error) {
	// 1. Check if a remote daemon is defined in the environment
	if remoteAddr := os.Getenv("PREFS_STORE_ADDR"); remoteAddr != "" {
		client, err := Connect(remoteAddr)
		if err == nil {
			return client, nil
		}
		fmt.Fprintf(os.Stderr, "[Prefs SDK] Could not reach %s (%v), using embedded store\n", remoteAddr, err)
	}

	// 2. Fallback to embedded mode
	// This uses the same engine the daemon uses, but inside the app process.
	return Embedded(dataDir)
}

// Embedded loads dataDir into a MemStore that persists back to it.
func Embedded(dataDir string) (*engine.MemStore, error) {
	p, err := engine.NewPersistence(dataDir)
	if err != nil {
		return nil, err
	}

	allData, err := p.LoadAll()
	if err != nil {
		return nil, err
	}

	return engine.NewMemStore(allData, p), nil
}
