// Package prefs is a typed preference store on top of engine backing stores.
//
// A Prefs value owns a registry of preference files, an optional obfuscator
// applied to keys and values, a process-local read cache and change observers.
// Every operation is serialised by a single lock. Reads never fail: missing,
// undecodable or unparsable values yield the preference default. Writes never
// fail either: errors are logged and the write is skipped.
//
// When an obfuscator is active a value v stored under key k is written as
//
//	Obfuscate(k) -> Obfuscate(v + Obfuscate(k))
//
// so a value copied onto another key no longer decodes for that key.
package prefs

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/celerix-dev/celerix-prefs/pkg/engine"
	"github.com/celerix-dev/celerix-prefs/pkg/vault"
)

// Prefs is the preference store facade. Create it with New.
type Prefs struct {
	mu sync.Mutex

	opener       engine.Opener
	reg          *registry
	obf          vault.Obfuscator
	cacheEnabled bool
	cache        map[string]any // "file$key" -> decoded typed value
	observers    []*observer
	bindings     map[string][]weakBinding // key -> live typed preferences
	reserved     map[string]string        // default-file entries owned by the facade (salt)
	onSet        func(SetEvent)
	log          *logger
}

// descriptor is the untyped view of a preference the facade works with.
type descriptor struct {
	key     string
	file    string // registered file name; empty for untyped calls means default
	def     any
	parse   func(string) (any, error)
	format  func(any) string
	accepts func(any) bool
}

func cacheKey(file, key string) string {
	return file + "$" + key
}

// containerFor returns the registered file, registering unknown names with the
// default obfuscation policy. Must be called with p.mu held.
func (p *Prefs) containerFor(file string) *container {
	if c, ok := p.reg.lookup(file); ok {
		return c
	}
	p.log.errorf("Preference file %q was used before being registered; registering it as obfuscated with the default mode", file)
	return p.reg.register(file, p.reg.defaultContainer().mode, true)
}

func (p *Prefs) obfuscatorFor(c *container) vault.Obfuscator {
	if c.obfuscated {
		return p.obf
	}
	return nil
}

func (p *Prefs) isReserved(c *container, key string) bool {
	if !p.reg.isDefault(c) {
		return false
	}
	_, ok := p.reserved[key]
	return ok
}

// bindValue produces the stored form of value for obfKey.
func bindValue(obf vault.Obfuscator, obfKey, value string) (string, error) {
	return obf.Obfuscate(value + obfKey)
}

// unbindValue decodes a stored value and checks it belongs to obfKey.
func unbindValue(obf vault.Obfuscator, obfKey, stored string) (string, error) {
	dec, err := obf.Deobfuscate(stored)
	if err != nil {
		return "", err
	}
	plain, ok := strings.CutSuffix(dec, obfKey)
	if !ok {
		return "", errUnbound
	}
	return plain, nil
}

// readText returns the decoded text stored for key, "" when absent.
func (p *Prefs) readText(c *container, key string) string {
	st, err := c.materialize(p.opener)
	if err != nil {
		p.log.errorf("Error opening %q: %v", c.name, err)
		return ""
	}

	obf := p.obfuscatorFor(c)
	if obf == nil {
		v, err := st.Get(key)
		if err != nil && !errors.Is(err, engine.ErrKeyNotFound) {
			p.log.errorf("Error reading %q from %q: %v", key, c.name, err)
		}
		return v
	}

	text, err := p.readObfuscated(obf, st, key)
	if err != nil {
		p.log.errorf("Error decoding %q from %q: %v", key, c.name, err)
		// Best effort: whatever sits at the plain key, usually nothing.
		v, _ := st.Get(key)
		return v
	}
	return text
}

func (p *Prefs) readObfuscated(obf vault.Obfuscator, st engine.Store, key string) (string, error) {
	obfKey, err := obf.Obfuscate(key)
	if err != nil {
		return "", err
	}
	raw, err := st.Get(obfKey)
	if errors.Is(err, engine.ErrKeyNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	if raw == "" {
		return "", nil
	}
	return unbindValue(obf, obfKey, raw)
}

// get is the read path. Must be called with p.mu held.
func (p *Prefs) get(d *descriptor) any {
	c := p.containerFor(d.file)
	ck := cacheKey(c.name, d.key)

	if p.cacheEnabled {
		if v, ok := p.cache[ck]; ok && d.accepts(v) {
			p.log.valuef("Cached %q from %q: %v", d.key, c.name, v)
			return v
		}
	}

	v := d.def
	if text := p.readText(c, d.key); text != "" {
		parsed, err := d.parse(text)
		if err != nil {
			p.log.errorf("Error parsing %q from %q: %v", d.key, c.name, err)
		} else {
			v = parsed
		}
	}
	p.log.valuef("Read %q from %q: %v", d.key, c.name, v)

	if p.cacheEnabled {
		p.cache[ck] = v
	}
	return v
}

// put is the write path. typed puts update the cache and notify other preferences
// with value; untyped puts evict the cache entry and let preferences re-read.
// Must be called with p.mu held.
func (p *Prefs) put(d *descriptor, value any, typed bool, q *pending) {
	c := p.containerFor(d.file)
	ck := cacheKey(c.name, d.key)

	if p.cacheEnabled {
		if typed {
			p.cache[ck] = value
		} else {
			delete(p.cache, ck)
		}
	}
	p.queueObservers(d.key, value, q)
	if typed {
		p.queueBindings(c.name, d.key, value, q)
	}

	p.write(c, d.key, strings.TrimSpace(d.format(value)), q)

	if !typed {
		p.queueBindingReloads(c, d.key, q)
	}
}

// write stores text under key, obfuscating both when the file requires it.
func (p *Prefs) write(c *container, key, text string, q *pending) {
	st, err := c.materialize(p.opener)
	if err != nil {
		p.log.errorf("Error opening %q: %v", c.name, err)
		return
	}

	ev := SetEvent{File: c.name, Key: key, Value: text, ObfuscatedKey: key, ObfuscatedValue: text}
	if obf := p.obfuscatorFor(c); obf != nil {
		obfKey, err := obf.Obfuscate(key)
		if err != nil {
			p.log.errorf("Error obfuscating key %q for %q, value not saved: %v", key, c.name, err)
			return
		}
		obfValue, err := bindValue(obf, obfKey, text)
		if err != nil {
			p.log.errorf("Error obfuscating value of %q for %q, value not saved: %v", key, c.name, err)
			return
		}
		ev.ObfuscatedKey, ev.ObfuscatedValue = obfKey, obfValue
	}

	if err := st.Put(ev.ObfuscatedKey, ev.ObfuscatedValue); err != nil {
		p.log.errorf("Error writing %q to %q: %v", key, c.name, err)
		return
	}
	p.log.valuef("Put %q = %q in %q (stored as %q = %q)", key, text, c.name, ev.ObfuscatedKey, ev.ObfuscatedValue)
	p.queueSetEvent(ev, q)
}

func (p *Prefs) queueSetEvent(ev SetEvent, q *pending) {
	if hook := p.onSet; hook != nil {
		q.add(func() { hook(ev) })
	}
}

// remove deletes key from its file. Observers see the default value.
// Must be called with p.mu held.
func (p *Prefs) remove(d *descriptor, q *pending) {
	c := p.containerFor(d.file)
	delete(p.cache, cacheKey(c.name, d.key))

	p.queueObservers(d.key, d.def, q)
	p.queueBindingDefaults(c.name, d.key, q)

	st, err := c.materialize(p.opener)
	if err != nil {
		p.log.errorf("Error opening %q: %v", c.name, err)
		return
	}
	if obf := p.obfuscatorFor(c); obf != nil {
		obfKey, err := obf.Obfuscate(d.key)
		if err != nil {
			p.log.errorf("Error obfuscating key %q for %q: %v", d.key, c.name, err)
		} else if err := st.Remove(obfKey); err != nil {
			p.log.errorf("Error removing %q from %q: %v", d.key, c.name, err)
		}
	}
	// The plain key may hold a value written before an obfuscator was set.
	if err := st.Remove(d.key); err != nil {
		p.log.errorf("Error removing %q from %q: %v", d.key, c.name, err)
	}
	p.log.valuef("Removed %q from %q", d.key, c.name)
}

// contains checks the backing store, never the cache. Must be called with p.mu held.
func (p *Prefs) contains(d *descriptor) bool {
	c := p.containerFor(d.file)
	st, err := c.materialize(p.opener)
	if err != nil {
		p.log.errorf("Error opening %q: %v", c.name, err)
		return false
	}

	k := d.key
	if obf := p.obfuscatorFor(c); obf != nil {
		if obfKey, err := obf.Obfuscate(d.key); err == nil {
			k = obfKey
		} else {
			p.log.errorf("Error obfuscating key %q for %q: %v", d.key, c.name, err)
		}
	}
	_, err = st.Get(k)
	return err == nil
}

// --- Public facade ---

func (p *Prefs) getValue(d *descriptor) any {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.get(d)
}

func (p *Prefs) putValue(d *descriptor, value any, typed bool) {
	var q pending
	p.mu.Lock()
	p.put(d, value, typed, &q)
	p.mu.Unlock()
	q.run()
}

func (p *Prefs) removeValue(d *descriptor) {
	var q pending
	p.mu.Lock()
	p.remove(d, &q)
	p.mu.Unlock()
	q.run()
}

func (p *Prefs) containsValue(d *descriptor) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.contains(d)
}

func untyped(key, file string, def any) *descriptor {
	return &descriptor{
		key:     key,
		file:    file,
		def:     def,
		parse:   func(s string) (any, error) { return s, nil },
		format:  formatAny,
		accepts: func(v any) bool { _, ok := v.(string); return ok },
	}
}

func formatAny(v any) string {
	if v == nil {
		return ""
	}
	return fmt.Sprint(v)
}

// Get returns the text stored for key in file ("" for the default file), or "".
func (p *Prefs) Get(key, file string) string {
	v, _ := p.getValue(untyped(key, file, "")).(string)
	return v
}

// Put stores the text form of value under key in file.
func (p *Prefs) Put(key string, value any, file string) {
	p.putValue(untyped(key, file, ""), value, false)
}

// Remove deletes key from file. Observers receive def as the new value.
func (p *Prefs) Remove(key string, def any, file string) {
	p.removeValue(untyped(key, file, def))
}

// Contains reports whether key is persisted in file.
func (p *Prefs) Contains(key, file string) bool {
	return p.containsValue(untyped(key, file, ""))
}

// Lookup returns the text stored for key in file and whether key is persisted,
// both read under the same lock.
func (p *Prefs) Lookup(key, file string) (string, bool) {
	d := untyped(key, file, "")
	p.mu.Lock()
	defer p.mu.Unlock()
	v, _ := p.get(d).(string)
	return v, p.contains(d)
}

// Clear removes every entry of file. Unknown names clear the default file.
// Only observers of typed preferences of that file are notified, with their defaults.
func (p *Prefs) Clear(file string) {
	var q pending
	p.mu.Lock()
	p.clearFile(file, &q)
	p.mu.Unlock()
	q.run()
}

func (p *Prefs) clearFile(file string, q *pending) {
	c := p.reg.resolve(file)
	isDefault := p.reg.isDefault(c)

	if isDefault {
		clear(p.cache)
	} else {
		prefix := c.name + "$"
		for k := range p.cache {
			if strings.HasPrefix(k, prefix) {
				delete(p.cache, k)
			}
		}
	}
	p.queueFileDefaults(c.name, q)

	st, err := c.materialize(p.opener)
	if err != nil {
		p.log.errorf("Error opening %q: %v", c.name, err)
		return
	}
	if err := st.Clear(); err != nil {
		p.log.errorf("Error clearing %q: %v", c.name, err)
		return
	}
	if isDefault {
		for k, v := range p.reserved {
			if err := st.Put(k, v); err != nil {
				p.log.errorf("Error restoring reserved entry in %q: %v", c.name, err)
			}
		}
	}
	p.log.verbosef("Cleared %q", c.name)
}

// GetAll returns the decoded entries of file. Entries that fail to decode are
// returned as stored. Unknown names read the default file.
func (p *Prefs) GetAll(file string) map[string]string {
	p.mu.Lock()
	defer p.mu.Unlock()

	c, raw := p.rawEntries(file)
	obf := p.obfuscatorFor(c)
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		if obf == nil {
			out[k] = v
			continue
		}
		key, err := obf.Deobfuscate(k)
		if err != nil {
			p.log.errorf("Error decoding a key of %q: %v", c.name, err)
			out[k] = v
			continue
		}
		value, err := unbindValue(obf, k, v)
		if err != nil {
			p.log.errorf("Error decoding %q of %q: %v", key, c.name, err)
			out[k] = v
			continue
		}
		out[key] = value
	}
	return out
}

// GetAllObfuscated returns the entries of file exactly as stored.
func (p *Prefs) GetAllObfuscated(file string) map[string]string {
	p.mu.Lock()
	defer p.mu.Unlock()

	_, raw := p.rawEntries(file)
	return raw
}

func (p *Prefs) rawEntries(file string) (*container, map[string]string) {
	c := p.reg.resolve(file)
	st, err := c.materialize(p.opener)
	if err != nil {
		p.log.errorf("Error opening %q: %v", c.name, err)
		return c, map[string]string{}
	}
	raw, err := st.All()
	if err != nil {
		p.log.errorf("Error reading %q: %v", c.name, err)
		return c, map[string]string{}
	}
	for k := range raw {
		if p.isReserved(c, k) {
			delete(raw, k)
		}
	}
	return c, raw
}

// FileNames returns every registered preference file, including auto-registered ones.
func (p *Prefs) FileNames() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reg.names()
}

// DefaultFile returns the name of the default preference file.
func (p *Prefs) DefaultFile() string {
	return p.reg.defaultName
}

// Build opens any registered file whose store is not open yet.
func (p *Prefs) Build() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reg.build(p.opener)
}
