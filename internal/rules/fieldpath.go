// internal/rules/fieldpath.go
package rules

import (
	"strings"
)

/*
 * Dotted field path resolution for events.
 *
 * Paths are plain strings ("source.ip"). A literal key containing dots wins
 * over descent, so {"a.b": 1, "a": {"b": 2}} resolves "a.b" to 1.
 *
 * Descent rules:
 *   - mapping: follow the key
 *   - sequence: broadcast the remaining path over every element, producing
 *     a sequence with nil where an element lacks the key
 *   - scalar with path remaining: not found
 *
 * Missing keys and type mismatches are never errors. Callers that need the
 * individual candidate values use Values, which flattens one level of
 * broadcasting and drops nils.
 */

// Resolve returns the value at path and whether it is present and non-nil.
func Resolve(data map[string]any, path string) (any, bool) {
	if v, ok := data[path]; ok && v != nil {
		return v, true
	}

	keys := strings.Split(path, ".")
	var current any = data
	for _, key := range keys {
		switch v := current.(type) {
		case map[string]any:
			current = v[key]
		case []any:
			current = broadcast(v, key)
		default:
			return nil, false
		}
		if current == nil {
			return nil, false
		}
	}

	if list, ok := current.([]any); ok && allNil(list) && len(list) > 0 {
		return nil, false
	}
	return current, true
}

// Values resolves path and returns the candidate values a filter tests.
// A sequence contributes its elements; nil elements are dropped.
func Values(data map[string]any, path string) []any {
	v, ok := Resolve(data, path)
	if !ok {
		return nil
	}
	list, ok := v.([]any)
	if !ok {
		return []any{v}
	}
	out := make([]any, 0, len(list))
	for _, elem := range list {
		if elem != nil {
			out = append(out, elem)
		}
	}
	return out
}

// broadcast applies one key lookup to every element of a sequence.
func broadcast(list []any, key string) []any {
	out := make([]any, len(list))
	for i, elem := range list {
		if m, ok := elem.(map[string]any); ok {
			out[i] = m[key]
		}
	}
	return out
}

func allNil(list []any) bool {
	for _, v := range list {
		if v != nil {
			return false
		}
	}
	return true
}
