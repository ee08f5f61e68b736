package message

import (
	"fmt"
	"strings"
)

// Values is the decoded form of map payloads and headers. Lookups through Get
// accept the original key or a normalized form of it, so handlers can read
// "developerMessage", "developermessage" or "developer_message" alike.
type Values map[string]any

// Get returns the value stored under key, trying an exact match first and then
// a case- and separator-insensitive match. When several keys normalize alike,
// the lexically smallest one wins.
func (v Values) Get(key string) (any, bool) {
	if val, ok := v[key]; ok {
		return val, true
	}
	want := NormalizeKey(key)
	found := ""
	matched := false
	for k := range v {
		if NormalizeKey(k) == want && (!matched || k < found) {
			found, matched = k, true
		}
	}
	if !matched {
		return nil, false
	}
	return v[found], true
}

// String returns the value under key formatted as a string, or "".
func (v Values) String(key string) string {
	val, ok := v.Get(key)
	if !ok || val == nil {
		return ""
	}
	if s, ok := val.(string); ok {
		return s
	}
	return fmt.Sprint(val)
}

// Int returns the numeric value under key, or 0.
func (v Values) Int(key string) int {
	val, _ := v.Get(key)
	switch n := val.(type) {
	case int:
		return n
	case int8:
		return int(n)
	case int16:
		return int(n)
	case int32:
		return int(n)
	case int64:
		return int(n)
	case uint:
		return int(n)
	case uint8:
		return int(n)
	case uint16:
		return int(n)
	case uint32:
		return int(n)
	case uint64:
		return int(n)
	case float32:
		return int(n)
	case float64:
		return int(n)
	}
	return 0
}

// Values returns the nested map under key.
func (v Values) Values(key string) Values {
	val, _ := v.Get(key)
	nested, _ := val.(Values)
	return nested
}

func (v Values) Has(key string) bool {
	_, ok := v.Get(key)
	return ok
}

// NormalizeKey folds case and drops "_" and "-", the form Get matches keys by.
func NormalizeKey(key string) string {
	key = strings.ToLower(key)
	return strings.NewReplacer("_", "", "-", "").Replace(key)
}

// Normalize converts decoded maps, including nested ones, into Values.
func Normalize(v any) any {
	switch t := v.(type) {
	case Values:
		for k, val := range t {
			t[k] = Normalize(val)
		}
		return t
	case map[string]any:
		out := make(Values, len(t))
		for k, val := range t {
			out[k] = Normalize(val)
		}
		return out
	case map[any]any:
		out := make(Values, len(t))
		for k, val := range t {
			out[fmt.Sprint(k)] = Normalize(val)
		}
		return out
	case []any:
		for i, val := range t {
			t[i] = Normalize(val)
		}
		return t
	}
	return v
}
