// internal/rules/coercion.go
package rules

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/solatis/routingfilter/internal/types"
	"github.com/spf13/cast"
)

/*
 * Value coercion for filter evaluation.
 *
 * Three views of an event value are needed:
 *   - text: lower-cased string form for the string variants (EQUALS on
 *     strings, STARTSWITH, ENDSWITH, KEYWORD, REGEXP, DOMAIN, NETWORK)
 *   - scalar: normalized comparable form for EQUALS (strings lower-cased,
 *     every numeric kind widened to float64, bools kept)
 *   - numeric: float64 for the comparator variants, strict
 *
 * Mappings and sequences have no text or scalar form; they never match a
 * string variant. For the comparators they are a hard error, as are bools.
 */

// toText returns the lower-cased string form of a scalar value.
// Returns false for nil, mappings and sequences.
func toText(value any) (string, bool) {
	switch v := value.(type) {
	case nil, map[string]any, []any:
		return "", false
	case string:
		return strings.ToLower(v), true
	case json.Number:
		return v.String(), true
	}
	s, err := cast.ToStringE(value)
	if err != nil {
		return "", false
	}
	return strings.ToLower(s), true
}

// toScalar normalizes value for equality comparison.
// Returns false for values that cannot be compared with ==.
func toScalar(value any) (any, bool) {
	switch v := value.(type) {
	case nil, map[string]any, []any:
		return nil, false
	case string:
		return strings.ToLower(v), true
	case bool:
		return v, true
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return strings.ToLower(v.String()), true
		}
		return f, true
	case float64, float32, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return cast.ToFloat64(v), true
	default:
		s, err := cast.ToStringE(v)
		if err != nil {
			return nil, false
		}
		return strings.ToLower(s), true
	}
}

// toNumber converts value to float64 for comparator filters.
// Numeric strings are accepted; bools, mappings and sequences are rejected.
func toNumber(value any) (float64, error) {
	switch v := value.(type) {
	case bool, map[string]any, []any, nil:
		return 0, fmt.Errorf("%w: %v (%T)", types.ErrNotNumeric, value, value)
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return 0, fmt.Errorf("%w: %q", types.ErrNotNumeric, v.String())
		}
		return f, nil
	case string:
		f, err := cast.ToFloat64E(strings.TrimSpace(v))
		if err != nil || strings.TrimSpace(v) == "" {
			return 0, fmt.Errorf("%w: %q", types.ErrNotNumeric, v)
		}
		return f, nil
	}
	f, err := cast.ToFloat64E(value)
	if err != nil {
		return 0, fmt.Errorf("%w: %v (%T)", types.ErrNotNumeric, value, value)
	}
	return f, nil
}

// toStrings flattens a document "key" or "value" field into strings.
// A scalar becomes a one-element list; nil becomes an empty list.
func toStrings(raw any) ([]string, error) {
	items := toList(raw)
	out := make([]string, 0, len(items))
	for _, item := range items {
		s, err := cast.ToStringE(item)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// toList wraps a scalar document field into a list.
func toList(raw any) []any {
	switch v := raw.(type) {
	case nil:
		return nil
	case []any:
		return v
	case []string:
		out := make([]any, len(v))
		for i, s := range v {
			out[i] = s
		}
		return out
	default:
		return []any{v}
	}
}
