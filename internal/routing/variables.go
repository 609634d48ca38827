package routing

import (
	"strings"

	"github.com/solatis/routingfilter/internal/types"
	"go.uber.org/zap"
)

// VariablePrefix marks a filter value as a variable reference.
const VariablePrefix = "$"

// substitute expands variable references in a filter "value" field.
// A variable holding a list is spliced in place; an unknown variable is
// logged and kept as a literal.
func substitute(value any, vars types.Variables, logger *zap.Logger) any {
	switch v := value.(type) {
	case string:
		expanded, ok := lookup(v, vars, logger)
		if !ok {
			return v
		}
		if len(expanded) == 1 {
			return expanded[0]
		}
		return expanded
	case []any:
		out := make([]any, 0, len(v))
		for _, item := range v {
			s, isString := item.(string)
			if !isString {
				out = append(out, item)
				continue
			}
			expanded, ok := lookup(s, vars, logger)
			if !ok {
				out = append(out, s)
				continue
			}
			out = append(out, expanded...)
		}
		return out
	default:
		return value
	}
}

// lookup resolves one "$NAME" token. Returns false for non-references and
// for unknown names.
func lookup(token string, vars types.Variables, logger *zap.Logger) ([]any, bool) {
	if !strings.HasPrefix(token, VariablePrefix) {
		return nil, false
	}
	raw, ok := vars[token]
	if !ok {
		logger.Warn("unresolved variable kept as literal", zap.String("variable", token))
		return nil, false
	}
	switch v := raw.(type) {
	case []any:
		return v, true
	case []string:
		out := make([]any, len(v))
		for i, s := range v {
			out[i] = s
		}
		return out, true
	default:
		return []any{v}, true
	}
}

// copyVariables returns a shallow copy of vars, never nil.
func copyVariables(vars types.Variables) types.Variables {
	out := make(types.Variables, len(vars))
	for k, v := range vars {
		out[k] = v
	}
	return out
}
