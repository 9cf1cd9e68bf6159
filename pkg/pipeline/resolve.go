package pipeline

import (
	"encoding/json"
	"strings"
)

// RefCap bounds the serialized size of any resolved schema fragment.
// A resolution that would exceed it is discarded in favor of the
// unresolved original, keeping prompt growth deterministic.
const RefCap = 3000

// ResolveRefs flattens internal "$ref" pointers in a schema node
// against the document root. Oversized resolutions are discarded
// per node and per key rather than truncated, so the result is
// always either fully expanded or left as written.
func ResolveRefs(schema, root any) any {
	if serializedLen(schema) > RefCap {
		return schema
	}

	switch node := schema.(type) {
	case map[string]any:
		if ref, ok := node["$ref"].(string); ok {
			target := walkPointer(ref, root)
			if target == nil {
				return schema
			}
			resolved := ResolveRefs(target, root)
			if serializedLen(resolved) > RefCap {
				return schema
			}
			return resolved
		}

		out := make(map[string]any, len(node))
		for key, value := range node {
			resolved := ResolveRefs(value, root)
			if serializedLen(resolved) > RefCap {
				out[key] = value
				continue
			}
			out[key] = resolved
		}
		return out

	case []any:
		out := make([]any, len(node))
		for i, value := range node {
			resolved := ResolveRefs(value, root)
			if serializedLen(resolved) > RefCap {
				out[i] = value
				continue
			}
			out[i] = resolved
		}
		return out
	}

	return schema
}

// walkPointer follows a "#/components/schemas/Name" style pointer,
// returning nil when any segment is missing.
func walkPointer(pointer string, root any) any {
	current := root
	for _, part := range strings.Split(pointer, "/") {
		if part == "#" || part == "" {
			continue
		}
		node, ok := current.(map[string]any)
		if !ok {
			return nil
		}
		current, ok = node[part]
		if !ok {
			return nil
		}
	}
	return current
}

func serializedLen(v any) int {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return 0
	}
	return len(data)
}
