// ABOUTME: Coercion helpers for reading form-backed config maps.
// ABOUTME: Config values arrive as JSON types; these normalize them.

package core

import (
	"strconv"
)

// BoolValue reads a bool config key. String forms "true"/"false" are
// accepted because form inputs round-trip through JSON.
func BoolValue(cfg map[string]any, key string) bool {
	switch v := cfg[key].(type) {
	case bool:
		return v
	case string:
		b, err := strconv.ParseBool(v)
		return err == nil && b
	default:
		return false
	}
}

// StringValue reads a string config key, empty when absent.
func StringValue(cfg map[string]any, key string) string {
	s, _ := cfg[key].(string)
	return s
}

// IntValue reads an integer config key. JSON numbers decode as float64;
// numeric strings are also accepted.
func IntValue(cfg map[string]any, key string, fallback int) int {
	switch v := cfg[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case string:
		n, err := strconv.Atoi(v)
		if err != nil {
			return fallback
		}
		return n
	default:
		return fallback
	}
}

// StringsValue reads a multi-value config key: either a []any of strings
// (multi-select) or a single string.
func StringsValue(cfg map[string]any, key string) []string {
	switch v := cfg[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case string:
		if v == "" {
			return nil
		}
		return []string{v}
	default:
		return nil
	}
}
