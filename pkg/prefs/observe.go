package prefs

import (
	"slices"
	"sync"
	"weak"
)

// Subscription is returned by Observe calls. Stop unsubscribes; it is safe to call more than once.
type Subscription struct {
	once sync.Once
	stop func()
}

// Stop removes the observer. Notifications already queued by a running
// operation may still be delivered.
func (s *Subscription) Stop() {
	if s == nil {
		return
	}
	s.once.Do(s.stop)
}

type observer struct {
	fn func(key string, value any)
}

type weakBinding = weak.Pointer[binding]

// binding links a live typed preference to the facade. The facade only holds
// weak pointers to bindings, so a collected preference stops being notified.
type binding struct {
	desc      *descriptor
	observers []*valueObserver
}

type valueObserver struct {
	fn func(value any)
}

// pending collects callbacks produced under the facade lock; they run after it is released.
type pending []func()

func (q *pending) add(fn func()) {
	*q = append(*q, fn)
}

func (q pending) run() {
	for _, fn := range q {
		fn()
	}
}

// Observe registers fn to be called with (key, value) on every put and remove.
// Observers run synchronously, in registration order, after the facade lock is released.
func (p *Prefs) Observe(fn func(key string, value any)) *Subscription {
	o := &observer{fn: fn}

	p.mu.Lock()
	p.observers = append(p.observers, o)
	p.mu.Unlock()

	return &Subscription{stop: func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		p.observers = slices.DeleteFunc(p.observers, func(x *observer) bool { return x == o })
	}}
}

// bind registers a descriptor so puts made through other descriptors of the same
// key and file reach its observers. It must be called with p.mu held.
func (p *Prefs) bind(d *descriptor) *binding {
	b := &binding{desc: d}
	p.bindings[d.key] = append(p.bindings[d.key], weak.Make(b))
	return b
}

// observeBinding adds a typed observer to b. The returned Subscription does not
// keep b alive.
func (p *Prefs) observeBinding(b *binding, fn func(value any)) *Subscription {
	o := &valueObserver{fn: fn}

	p.mu.Lock()
	b.observers = append(b.observers, o)
	p.mu.Unlock()

	wb := weak.Make(b)
	return &Subscription{stop: func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		if b := wb.Value(); b != nil {
			b.observers = slices.DeleteFunc(b.observers, func(x *valueObserver) bool { return x == o })
		}
	}}
}

// liveBindings returns the bindings for key that are still referenced, pruning the rest.
func (p *Prefs) liveBindings(key string) []*binding {
	ptrs := p.bindings[key]
	kept := ptrs[:0]
	var out []*binding
	for _, wp := range ptrs {
		if b := wp.Value(); b != nil {
			kept = append(kept, wp)
			out = append(out, b)
		}
	}
	if len(kept) == 0 {
		delete(p.bindings, key)
	} else {
		p.bindings[key] = kept
	}
	return out
}

func (p *Prefs) queueObservers(key string, value any, q *pending) {
	for _, o := range p.observers {
		fn := o.fn
		q.add(func() { fn(key, value) })
	}
}

func (b *binding) queue(value any, q *pending) {
	if !b.desc.accepts(value) {
		return
	}
	for _, o := range b.observers {
		fn := o.fn
		q.add(func() { fn(value) })
	}
}

// queueBindings notifies every live preference of (key, file) with value.
func (p *Prefs) queueBindings(file, key string, value any, q *pending) {
	for _, b := range p.liveBindings(key) {
		if b.desc.file == file {
			b.queue(value, q)
		}
	}
}

// queueBindingDefaults notifies every live preference of (key, file) with its own default.
func (p *Prefs) queueBindingDefaults(file, key string, q *pending) {
	for _, b := range p.liveBindings(key) {
		if b.desc.file == file {
			b.queue(b.desc.def, q)
		}
	}
}

// queueBindingReloads notifies every live preference of (key, file) with its freshly read value.
func (p *Prefs) queueBindingReloads(c *container, key string, q *pending) {
	for _, b := range p.liveBindings(key) {
		if b.desc.file == c.name && len(b.observers) > 0 {
			b.queue(p.get(b.desc), q)
		}
	}
}

// queueFileDefaults notifies every live preference of file with its default.
func (p *Prefs) queueFileDefaults(file string, q *pending) {
	keys := make([]string, 0, len(p.bindings))
	for key := range p.bindings {
		keys = append(keys, key)
	}
	slices.Sort(keys)
	for _, key := range keys {
		p.queueBindingDefaults(file, key, q)
	}
}
