package jsonmap

import (
	"strings"

	"gorm.io/datatypes"
)

// Without copies values into a GORM JSON map, leaving out the given keys.
func Without(values map[string]interface{}, keys ...string) datatypes.JSONMap {
	out := make(datatypes.JSONMap, len(values))
	for key, value := range values {
		out[key] = value
	}
	for _, key := range keys {
		delete(out, key)
	}
	return out
}

// FirstString returns the first of keys holding a non-blank string, trimmed.
func FirstString(values map[string]interface{}, keys ...string) string {
	for _, key := range keys {
		if str, ok := values[key].(string); ok && strings.TrimSpace(str) != "" {
			return strings.TrimSpace(str)
		}
	}
	return ""
}
