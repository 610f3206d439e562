// Package config gives typed, defaulted access to free-form settings maps,
// such as the per-agent settings block of an agent configuration.
//
// Keys may be dotted paths into nested maps: "vision.max_bytes" reads
// settings["vision"]["max_bytes"]. Accessors never fail: a missing key or a
// value of the wrong type yields the supplied default.
package config

import (
	"maps"
	"strings"
	"time"
)

// Config wraps a settings map.
type Config struct {
	data map[string]any
}

// New creates a Config from the given map. A nil map is treated as empty.
func New(data map[string]any) Config {
	if data == nil {
		data = make(map[string]any)
	}
	return Config{data: data}
}

// lookup resolves a possibly dotted key. An exact top-level match wins over
// path traversal.
func (c Config) lookup(key string) (any, bool) {
	if v, ok := c.data[key]; ok {
		return v, true
	}
	if !strings.Contains(key, ".") {
		return nil, false
	}

	var cur any = c.data
	for part := range strings.SplitSeq(key, ".") {
		m, ok := asMap(cur)
		if !ok {
			return nil, false
		}
		if cur, ok = m[part]; !ok {
			return nil, false
		}
	}
	return cur, true
}

// asMap accepts both decoder map shapes.
func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case map[any]any:
		out := make(map[string]any, len(m))
		for k, val := range m {
			s, ok := k.(string)
			if !ok {
				return nil, false
			}
			out[s] = val
		}
		return out, true
	}
	return nil, false
}

// String returns the string at key, or def.
func (c Config) String(key, def string) string {
	if s, ok := get[string](c, key); ok {
		return s
	}
	return def
}

// Bool returns the bool at key, or def.
func (c Config) Bool(key string, def bool) bool {
	if b, ok := get[bool](c, key); ok {
		return b
	}
	return def
}

// Int returns the integer at key, or def. Floats are accepted only when
// they have no fractional part.
func (c Config) Int(key string, def int) int {
	v, ok := c.lookup(key)
	if !ok {
		return def
	}
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case uint64:
		return int(n)
	case float64:
		if n == float64(int(n)) {
			return int(n)
		}
	}
	return def
}

// Float returns the number at key, or def.
func (c Config) Float(key string, def float64) float64 {
	v, ok := c.lookup(key)
	if !ok {
		return def
	}
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int64:
		return float64(n)
	}
	return def
}

// Duration returns the duration at key, or def. Strings are parsed with
// time.ParseDuration; bare numbers are seconds.
func (c Config) Duration(key string, def time.Duration) time.Duration {
	v, ok := c.lookup(key)
	if !ok {
		return def
	}
	switch d := v.(type) {
	case time.Duration:
		return d
	case string:
		if parsed, err := time.ParseDuration(d); err == nil {
			return parsed
		}
	case int:
		return time.Duration(d) * time.Second
	case int64:
		return time.Duration(d) * time.Second
	case float64:
		return time.Duration(d * float64(time.Second))
	}
	return def
}

// StringSlice returns the strings at key, or def if any element is not a string.
func (c Config) StringSlice(key string, def []string) []string {
	v, ok := c.lookup(key)
	if !ok {
		return def
	}
	switch s := v.(type) {
	case []string:
		return s
	case []any:
		out := make([]string, 0, len(s))
		for _, item := range s {
			str, ok := item.(string)
			if !ok {
				return def
			}
			out = append(out, str)
		}
		return out
	}
	return def
}

// Sub returns the nested map at key as a Config, empty if absent.
func (c Config) Sub(key string) Config {
	v, ok := c.lookup(key)
	if !ok {
		return New(nil)
	}
	m, ok := asMap(v)
	if !ok {
		return New(nil)
	}
	return New(m)
}

// Any returns the raw value at key, or def.
func (c Config) Any(key string, def any) any {
	if v, ok := c.lookup(key); ok {
		return v
	}
	return def
}

// Has reports whether key resolves to a value.
func (c Config) Has(key string) bool {
	_, ok := c.lookup(key)
	return ok
}

// With returns a copy with the top-level entries of override applied.
func (c Config) With(override map[string]any) Config {
	merged := maps.Clone(c.data)
	maps.Copy(merged, override)
	return New(merged)
}

// Raw returns the underlying map. Do not modify it.
func (c Config) Raw() map[string]any {
	return c.data
}

func get[T any](c Config, key string) (T, bool) {
	v, ok := c.lookup(key)
	if !ok {
		var zero T
		return zero, false
	}
	t, ok := v.(T)
	return t, ok
}
