package prefs

import (
	"fmt"
	"sort"

	"github.com/celerix-dev/celerix-prefs/pkg/engine"
)

// container is a registry entry: one preference file and its backing store.
type container struct {
	name       string
	mode       engine.Mode
	obfuscated bool // uses the facade's obfuscator, if one is set

	built bool
	store engine.Store
}

// materialize opens the backing store once.
func (c *container) materialize(o engine.Opener) (engine.Store, error) {
	if c.built {
		return c.store, nil
	}
	st, err := o.Open(c.name, c.mode)
	if err != nil {
		return nil, fmt.Errorf("open %q: %w", c.name, err)
	}
	c.store = st
	c.built = true
	return st, nil
}

// registry maps preference file names to containers. It is guarded by the facade lock.
type registry struct {
	defaultName string
	entries     map[string]*container
}

func newRegistry(defaultName string, defaultMode engine.Mode) *registry {
	r := &registry{defaultName: defaultName, entries: make(map[string]*container)}
	r.register(defaultName, defaultMode, true)
	return r
}

// register records a file. Registering a name again overwrites its mode and flag.
func (r *registry) register(name string, mode engine.Mode, obfuscated bool) *container {
	if c, ok := r.entries[name]; ok {
		c.mode = mode
		c.obfuscated = obfuscated
		return c
	}
	c := &container{name: name, mode: mode, obfuscated: obfuscated}
	r.entries[name] = c
	return c
}

// lookup finds a registered file. The empty name is the default file.
func (r *registry) lookup(name string) (*container, bool) {
	if name == "" {
		name = r.defaultName
	}
	c, ok := r.entries[name]
	return c, ok
}

// resolve is lookup with unknown names falling back to the default file.
func (r *registry) resolve(name string) *container {
	if c, ok := r.lookup(name); ok {
		return c
	}
	return r.entries[r.defaultName]
}

func (r *registry) defaultContainer() *container {
	return r.entries[r.defaultName]
}

func (r *registry) isDefault(c *container) bool {
	return c.name == r.defaultName
}

// build materializes every registered store. Already built entries are skipped.
func (r *registry) build(o engine.Opener) error {
	for _, c := range r.sorted() {
		if _, err := c.materialize(o); err != nil {
			return err
		}
	}
	return nil
}

func (r *registry) names() []string {
	list := make([]string, 0, len(r.entries))
	for name := range r.entries {
		list = append(list, name)
	}
	sort.Strings(list)
	return list
}

// sorted returns the containers in name order so multi-file work is deterministic.
func (r *registry) sorted() []*container {
	out := make([]*container, 0, len(r.entries))
	for _, name := range r.names() {
		out = append(out, r.entries[name])
	}
	return out
}
