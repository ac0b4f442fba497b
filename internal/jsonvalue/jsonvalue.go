// Package jsonvalue reads loosely typed values decoded from catalog JSON
// into any.
package jsonvalue

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Truthy reports whether v is present and non-empty: nil, "", false, 0 and
// empty arrays or objects are not.
func Truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case string:
		return t != ""
	case bool:
		return t
	case float64:
		return t != 0
	case []any:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	}
	return true
}

// String renders scalars as text and anything else as compact JSON.
func String(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	case nil:
		return ""
	}
	b, _ := json.Marshal(v)
	return string(b)
}

// First returns the first truthy value among keys, or nil.
func First(m map[string]any, keys ...string) any {
	for _, k := range keys {
		if v := m[k]; Truthy(v) {
			return v
		}
	}
	return nil
}

// Int converts numbers, numeric strings and booleans to int.
func Int(v any) (int, bool) {
	switch t := v.(type) {
	case float64:
		return int(t), true
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(t))
		return n, err == nil
	case bool:
		if t {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}
