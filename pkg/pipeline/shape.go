package pipeline

import (
	"sort"
	"strings"
)

// KeyType is one entry of a structural summary: a key name and a
// coarse JSON type, enough for the oracle to pick fields without
// seeing the payload itself.
type KeyType struct {
	Key  string `json:"key"`
	Type string `json:"type"`
}

func extractKeysAndTypes(obj any) []KeyType {
	m, ok := obj.(map[string]any)
	if !ok {
		return nil
	}

	out := make([]KeyType, 0, len(m))
	for _, key := range sortedKeys(m) {
		out = append(out, KeyType{Key: key, Type: jsonType(m[key])})
	}
	return out
}

func jsonType(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case bool:
		return "boolean"
	case string:
		return "string"
	case float64, int, int64:
		return "number"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	}
	return "unknown"
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// valueAtPath walks a dot-notation path into nested objects. Any
// missing segment yields nil.
func valueAtPath(obj any, path string) any {
	if path == "" {
		return obj
	}

	current := obj
	for _, key := range strings.Split(path, ".") {
		node, ok := current.(map[string]any)
		if !ok {
			return nil
		}
		current, ok = node[key]
		if !ok {
			return nil
		}
	}
	return current
}

// sliceUserData reduces each record to the user-facing and link
// fields the oracle selected.
func sliceUserData(data []any, userFields, linkFields []string) []map[string]any {
	keep := make(map[string]bool, len(userFields)+len(linkFields))
	for _, f := range userFields {
		keep[f] = true
	}
	for _, f := range linkFields {
		keep[f] = true
	}

	out := make([]map[string]any, 0, len(data))
	for _, item := range data {
		record, ok := item.(map[string]any)
		if !ok {
			continue
		}
		reduced := make(map[string]any)
		for key, value := range record {
			if keep[key] {
				reduced[key] = value
			}
		}
		out = append(out, reduced)
	}
	return out
}
