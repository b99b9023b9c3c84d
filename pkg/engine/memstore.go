package engine

import (
	"log"
	"sort"
	"sync"
)

// MemStore is the thread-safe in-memory backend. Writes are visible to readers
// immediately and persisted in the background when a Persistence is attached.
type MemStore struct {
	mu sync.RWMutex
	// Structure: [file][key]value
	data      map[string]map[string]string
	modes     map[string]Mode
	persister *Persistence
	wg        sync.WaitGroup

	// seq orders background saves so an older snapshot never overwrites a newer one.
	seq    map[string]uint64
	saveMu sync.Mutex
	saved  map[string]uint64
}

var _ Backend = (*MemStore)(nil)

// NewMemStore initializes a store.
// It accepts existing data (from LoadAll) and a persister, which may be nil.
func NewMemStore(initial *Snapshot, p *Persistence) *MemStore {
	m := &MemStore{
		data:      make(map[string]map[string]string),
		modes:     make(map[string]Mode),
		persister: p,
		seq:       make(map[string]uint64),
		saved:     make(map[string]uint64),
	}
	if initial != nil {
		for name, f := range initial.Files {
			m.data[name] = f.Entries
			if m.data[name] == nil {
				m.data[name] = make(map[string]string)
			}
			m.modes[name] = f.Mode
		}
	}
	return m
}

// Wait waits for all background persistence tasks to complete.
func (m *MemStore) Wait() {
	m.wg.Wait()
}

// Open returns a handle on the named file, creating it if needed.
// The mode is recorded the first time a file is seen.
func (m *MemStore) Open(name string, mode Mode) (Store, error) {
	m.mu.Lock()
	if _, ok := m.data[name]; !ok {
		m.data[name] = make(map[string]string)
	}
	if _, ok := m.modes[name]; !ok {
		m.modes[name] = mode
	}
	m.mu.Unlock()
	return &memFile{m: m, name: name}, nil
}

// Files returns the names of all files, sorted.
func (m *MemStore) Files() ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	list := make([]string, 0, len(m.data))
	for name := range m.data {
		list = append(list, name)
	}
	sort.Strings(list)
	return list, nil
}

// Mode reports the mode a file was opened with.
func (m *MemStore) Mode(name string) (Mode, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	mode, ok := m.modes[name]
	return mode, ok
}

func (m *MemStore) get(name, key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	file, ok := m.data[name]
	if !ok {
		return "", ErrFileNotFound
	}
	val, ok := file[key]
	if !ok {
		return "", ErrKeyNotFound
	}
	return val, nil
}

func (m *MemStore) all(name string) (map[string]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	file, ok := m.data[name]
	if !ok {
		return nil, ErrFileNotFound
	}
	// Return a copy to prevent external mutation of the internal map
	out := make(map[string]string, len(file))
	for k, v := range file {
		out[k] = v
	}
	return out, nil
}

// mutate applies fn to the named file under the write lock and schedules a save.
func (m *MemStore) mutate(name string, fn func(file map[string]string)) {
	m.mu.Lock()
	file := m.data[name]
	if file == nil {
		file = make(map[string]string)
		m.data[name] = file
	}
	fn(file)

	// Copy the file's state to save safely in background
	snapshot := make(map[string]string, len(file))
	for k, v := range file {
		snapshot[k] = v
	}
	mode := m.modes[name]
	m.seq[name]++
	seq := m.seq[name]
	m.mu.Unlock()

	if m.persister != nil {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			m.saveMu.Lock()
			defer m.saveMu.Unlock()
			if seq <= m.saved[name] {
				return
			}
			m.saved[name] = seq
			if err := m.persister.SaveFile(name, mode, snapshot); err != nil {
				log.Printf("Warning: Could not persist preference file %s: %v", name, err)
			}
		}()
	}
}

// memFile is a Store pinned to one file of a MemStore.
type memFile struct {
	m    *MemStore
	name string
}

func (f *memFile) Get(key string) (string, error) {
	return f.m.get(f.name, key)
}

func (f *memFile) All() (map[string]string, error) {
	return f.m.all(f.name)
}

func (f *memFile) Put(key, value string) error {
	f.m.mutate(f.name, func(file map[string]string) { file[key] = value })
	return nil
}

func (f *memFile) Remove(key string) error {
	f.m.mutate(f.name, func(file map[string]string) { delete(file, key) })
	return nil
}

func (f *memFile) Clear() error {
	f.m.mutate(f.name, func(file map[string]string) { clear(file) })
	return nil
}
