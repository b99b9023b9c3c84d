package prefs

import (
	"errors"
	"fmt"
	"sort"

	"github.com/celerix-dev/celerix-prefs/pkg/engine"
	"github.com/celerix-dev/celerix-prefs/pkg/vault"
)

// stagedFile is the fully re-encoded content of one file, ready to commit.
type stagedFile struct {
	c       *container
	st      engine.Store
	entries []SetEvent
}

// ChangeObfuscator re-encodes every obfuscated file with next and then makes it
// the active obfuscator. A nil next stores values in plain text.
//
// All files are decoded before any is written. If any entry fails to decode the
// rotation is aborted with a *RotationError and nothing is changed.
func (p *Prefs) ChangeObfuscator(next vault.Obfuscator) error {
	var q pending
	p.mu.Lock()
	err := p.rotate(next, nil, &q)
	p.mu.Unlock()
	q.run()
	return err
}

// ChangePassword rotates to a vault.DefaultObfuscator built from password and salt.
// A nil salt is generated and kept in the default file, as with Config.Password.
func (p *Prefs) ChangePassword(password string, salt []byte) error {
	var q pending
	p.mu.Lock()
	next, entry, err := p.deriveObfuscator(password, salt)
	if err == nil {
		err = p.rotate(next, entry, &q)
	}
	p.mu.Unlock()
	q.run()
	return err
}

// rotate implements the two-phase rotation. Must be called with p.mu held.
func (p *Prefs) rotate(next vault.Obfuscator, salt *saltEntry, q *pending) error {
	// Cached values are only valid for the obfuscator that produced them.
	clear(p.cache)

	plan, err := p.stage(next, salt)
	if err != nil {
		p.log.errorf("Obfuscator change aborted, nothing was modified: %v", err)
		return err
	}

	var commitErr error
	defaultRotated := false
	for _, f := range plan {
		if p.reg.isDefault(f.c) {
			defaultRotated = true
		}
		if err := f.st.Clear(); err != nil {
			commitErr = errors.Join(commitErr, fmt.Errorf("clear %q: %w", f.c.name, err))
			continue
		}
		for _, ev := range f.entries {
			if err := f.st.Put(ev.ObfuscatedKey, ev.ObfuscatedValue); err != nil {
				commitErr = errors.Join(commitErr, fmt.Errorf("write %q to %q: %w", ev.Key, f.c.name, err))
				continue
			}
			p.queueSetEvent(ev, q)
		}
		p.log.verbosef("Re-encoded %d entries of %q", len(f.entries), f.c.name)
	}

	// Reserved entries were cleared with the default file; keep only the new salt.
	if defaultRotated {
		clear(p.reserved)
	}
	if salt != nil {
		if err := p.reg.defaultContainer().store.Put(salt.key, salt.value); err != nil {
			commitErr = errors.Join(commitErr, fmt.Errorf("write salt: %w", err))
		}
		p.reserved[salt.key] = salt.value
	}

	p.obf = next
	if commitErr != nil {
		p.log.errorf("Obfuscator changed with write errors: %v", commitErr)
		return fmt.Errorf("prefs: rotation commit: %w", commitErr)
	}
	p.log.verbosef("Obfuscator changed to %T", next)
	return nil
}

// stage decodes every obfuscated file with the current obfuscator and encodes it
// with next, without touching any store.
func (p *Prefs) stage(next vault.Obfuscator, salt *saltEntry) ([]stagedFile, error) {
	old := p.obf
	var plan []stagedFile

	for _, c := range p.reg.sorted() {
		if !c.obfuscated {
			continue
		}
		st, err := c.materialize(p.opener)
		if err != nil {
			return nil, &RotationError{File: c.name, Err: err}
		}
		raw, err := st.All()
		if err != nil {
			return nil, &RotationError{File: c.name, Err: err}
		}

		keys := make([]string, 0, len(raw))
		for k := range raw {
			if p.isReserved(c, k) || (salt != nil && p.reg.isDefault(c) && k == salt.key) {
				continue
			}
			keys = append(keys, k)
		}
		sort.Strings(keys)

		f := stagedFile{c: c, st: st, entries: make([]SetEvent, 0, len(keys))}
		for _, k := range keys {
			ev, err := reencode(old, next, k, raw[k])
			if err != nil {
				return nil, &RotationError{File: c.name, Key: k, Err: err}
			}
			ev.File = c.name
			f.entries = append(f.entries, ev)
		}
		plan = append(plan, f)
	}
	return plan, nil
}

// reencode turns one stored entry into its form under next.
func reencode(old, next vault.Obfuscator, storedKey, storedValue string) (SetEvent, error) {
	key, value := storedKey, storedValue
	if old != nil {
		var err error
		if key, err = old.Deobfuscate(storedKey); err != nil {
			return SetEvent{}, fmt.Errorf("decode key: %w", err)
		}
		if value, err = unbindValue(old, storedKey, storedValue); err != nil {
			return SetEvent{}, fmt.Errorf("decode value: %w", err)
		}
	}

	ev := SetEvent{Key: key, Value: value, ObfuscatedKey: key, ObfuscatedValue: value}
	if next != nil {
		var err error
		if ev.ObfuscatedKey, err = next.Obfuscate(key); err != nil {
			return SetEvent{}, fmt.Errorf("encode key: %w", err)
		}
		if ev.ObfuscatedValue, err = bindValue(next, ev.ObfuscatedKey, value); err != nil {
			return SetEvent{}, fmt.Errorf("encode value: %w", err)
		}
	}
	return ev, nil
}
