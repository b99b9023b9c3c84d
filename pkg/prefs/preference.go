package prefs

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Kind tags the value type of a Preference.
type Kind int

const (
	KindString Kind = iota
	KindInt
	KindInt64
	KindFloat32
	KindFloat64
	KindBool
	// KindEnum values are stored by their String form.
	KindEnum
	// KindCustom covers NewCustom and NewJSON preferences.
	KindCustom
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindInt:
		return "int"
	case KindInt64:
		return "int64"
	case KindFloat32:
		return "float32"
	case KindFloat64:
		return "float64"
	case KindBool:
		return "bool"
	case KindEnum:
		return "enum"
	case KindCustom:
		return "custom"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Preference is a typed handle on one key of one preference file.
// Several Preferences may share a key and file; a Put through one notifies the others.
type Preference[T any] struct {
	prefs  *Prefs
	kind   Kind
	def    T
	parse  func(string) (T, error)
	format func(T) string
	desc   *descriptor
	b      *binding // keeps the facade's weak pointer alive as long as the Preference is
}

func newPreference[T any](p *Prefs, kind Kind, key string, def T, file string,
	parse func(string) (T, error), format func(T) string) *Preference[T] {
	pr := &Preference[T]{prefs: p, kind: kind, def: def, parse: parse, format: format}
	pr.desc = &descriptor{
		key: key,
		def: def,
		parse: func(s string) (any, error) {
			v, err := parse(s)
			if err != nil {
				return nil, err
			}
			return v, nil
		},
		format: func(v any) string {
			if t, ok := v.(T); ok {
				return format(t)
			}
			return formatAny(v)
		},
		accepts: func(v any) bool {
			_, ok := v.(T)
			return ok
		},
	}

	p.mu.Lock()
	pr.desc.file = p.containerFor(file).name
	pr.b = p.bind(pr.desc)
	p.mu.Unlock()
	return pr
}

// Key returns the plain key, before any obfuscation.
func (pr *Preference[T]) Key() string { return pr.desc.key }

// File returns the registered preference file the value lives in.
func (pr *Preference[T]) File() string { return pr.desc.file }

// Default returns the value reported when nothing usable is stored.
func (pr *Preference[T]) Default() T { return pr.def }

func (pr *Preference[T]) Kind() Kind { return pr.kind }

// Parse converts stored text to a value.
func (pr *Preference[T]) Parse(s string) (T, error) { return pr.parse(s) }

// Format converts a value to the text that is stored.
func (pr *Preference[T]) Format(v T) string { return pr.format(v) }

// Get returns the current value, or the default when it is unset or unreadable.
func (pr *Preference[T]) Get() T {
	if v, ok := pr.prefs.getValue(pr.desc).(T); ok {
		return v
	}
	return pr.def
}

// Put stores v.
func (pr *Preference[T]) Put(v T) {
	pr.prefs.putValue(pr.desc, v, true)
}

// Remove deletes the stored value; observers see the default.
func (pr *Preference[T]) Remove() {
	pr.prefs.removeValue(pr.desc)
}

// Contains reports whether a value is persisted.
func (pr *Preference[T]) Contains() bool {
	return pr.prefs.containsValue(pr.desc)
}

// Observe calls fn with the new value whenever this key and file change, through
// this Preference or any other one sharing the key and file. Notifications stop
// once the Preference is garbage collected, even if the Subscription is still held.
func (pr *Preference[T]) Observe(fn func(T)) *Subscription {
	return pr.prefs.observeBinding(pr.b, func(v any) {
		if t, ok := v.(T); ok {
			fn(t)
		}
	})
}

// --- Constructors ---

// NewString stores text as is. An empty file name means the default file;
// unknown names are registered as obfuscated files.
func NewString(p *Prefs, key, def, file string) *Preference[string] {
	return newPreference(p, KindString, key, def, file,
		func(s string) (string, error) { return s, nil },
		func(v string) string { return v })
}

// NewInt stores decimal integers.
func NewInt(p *Prefs, key string, def int, file string) *Preference[int] {
	return newPreference(p, KindInt, key, def, file, strconv.Atoi, strconv.Itoa)
}

// NewInt64 stores decimal 64-bit integers.
func NewInt64(p *Prefs, key string, def int64, file string) *Preference[int64] {
	return newPreference(p, KindInt64, key, def, file, parseInt64, formatInt64)
}

// NewFloat32 stores the shortest text that parses back to the same float32.
func NewFloat32(p *Prefs, key string, def float32, file string) *Preference[float32] {
	return newPreference(p, KindFloat32, key, def, file, parseFloat32, formatFloat32)
}

// NewFloat64 stores the shortest text that parses back to the same float64.
func NewFloat64(p *Prefs, key string, def float64, file string) *Preference[float64] {
	return newPreference(p, KindFloat64, key, def, file, parseFloat64, formatFloat64)
}

// NewBool stores "true" or "false".
func NewBool(p *Prefs, key string, def bool, file string) *Preference[bool] {
	return newPreference(p, KindBool, key, def, file, strconv.ParseBool, strconv.FormatBool)
}

// NewEnum stores one of values by its String form.
func NewEnum[T fmt.Stringer](p *Prefs, key string, def T, values []T, file string) *Preference[T] {
	parse := func(s string) (T, error) {
		for _, v := range values {
			if v.String() == s {
				return v, nil
			}
		}
		var zero T
		return zero, fmt.Errorf("unknown value %q", s)
	}
	return newPreference(p, KindEnum, key, def, file, parse, func(v T) string { return v.String() })
}

// NewCustom stores values with caller supplied conversions.
func NewCustom[T any](p *Prefs, key string, def T, file string,
	parse func(string) (T, error), format func(T) string) *Preference[T] {
	return newPreference(p, KindCustom, key, def, file, parse, format)
}

// NewJSON stores values as JSON text.
func NewJSON[T any](p *Prefs, key string, def T, file string) *Preference[T] {
	parse := func(s string) (T, error) {
		var v T
		err := json.Unmarshal([]byte(s), &v)
		return v, err
	}
	format := func(v T) string {
		b, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(b)
	}
	return newPreference(p, KindCustom, key, def, file, parse, format)
}

// NewPref picks the kind from the dynamic type of def. Types other than string,
// int, int64, float32, float64 and bool return ErrUnsupportedType; use NewEnum,
// NewCustom or NewJSON for those.
func NewPref[T any](p *Prefs, key string, def T, file string) (*Preference[T], error) {
	var (
		kind   Kind
		parse  func(string) (any, error)
		format func(any) string = formatAny
	)
	switch any(def).(type) {
	case string:
		kind, parse = KindString, func(s string) (any, error) { return s, nil }
	case int:
		kind, parse = KindInt, func(s string) (any, error) { return strconv.Atoi(s) }
	case int64:
		kind, parse = KindInt64, func(s string) (any, error) { return parseInt64(s) }
	case float32:
		kind, parse = KindFloat32, func(s string) (any, error) { return parseFloat32(s) }
		format = func(v any) string {
			if f, ok := v.(float32); ok {
				return formatFloat32(f)
			}
			return formatAny(v)
		}
	case float64:
		kind, parse = KindFloat64, func(s string) (any, error) { return parseFloat64(s) }
		format = func(v any) string {
			if f, ok := v.(float64); ok {
				return formatFloat64(f)
			}
			return formatAny(v)
		}
	case bool:
		kind, parse = KindBool, func(s string) (any, error) { return strconv.ParseBool(s) }
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedType, def)
	}

	return newPreference(p, kind, key, def, file,
		func(s string) (T, error) {
			v, err := parse(s)
			if err != nil {
				var zero T
				return zero, err
			}
			t, ok := v.(T)
			if !ok {
				return t, fmt.Errorf("%w: %T", ErrUnsupportedType, v)
			}
			return t, nil
		},
		func(v T) string { return format(any(v)) }), nil
}

func parseInt64(s string) (int64, error) { return strconv.ParseInt(s, 10, 64) }
func formatInt64(v int64) string         { return strconv.FormatInt(v, 10) }

func parseFloat32(s string) (float32, error) {
	f, err := strconv.ParseFloat(s, 32)
	return float32(f), err
}

func formatFloat32(v float32) string { return strconv.FormatFloat(float64(v), 'g', -1, 32) }

func parseFloat64(s string) (float64, error) { return strconv.ParseFloat(s, 64) }
func formatFloat64(v float64) string         { return strconv.FormatFloat(v, 'g', -1, 64) }
