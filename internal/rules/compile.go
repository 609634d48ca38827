// internal/rules/compile.go
package rules

import (
	"fmt"
	"regexp"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/solatis/routingfilter/internal/types"
)

/*
 * Rule compilation and validation.
 *
 * Compiles a decoded types.RuleDocument into a Rule with constructed filters,
 * in document order, and the output payload for one namespace.
 *
 * Compilation workflow:
 *   1. Assign the document id, or a UUIDv7 when absent
 *   2. Parse each filter type, flatten key/value into lists
 *   3. Construct each Filter (variant-specific validation)
 *   4. Extract the output stored under the namespace key
 *
 * Filter order is preserved. Evaluation short-circuits on the first false
 * filter, and comparator errors are observable, so reordering would change
 * results.
 *
 * Compiled regexps are shared through a bounded LRU keyed by pattern. Reloads
 * recompile every rule; the cache keeps that from recompiling unchanged
 * patterns.
 */

const regexpCacheSize = 1024

var regexpCache, _ = lru.New[string, *regexp.Regexp](regexpCacheSize)

// Compile validates doc and builds the Rule for namespace ns.
func Compile(doc types.RuleDocument, ns types.Namespace, opts ...FilterOption) (*Rule, error) {
	id := types.RuleID(doc.ID)
	if id == "" {
		id = types.NewRuleID()
	}

	filters := make([]*Filter, 0, len(doc.Filters))
	for i, fd := range doc.Filters {
		f, err := compileFilter(fd, opts...)
		if err != nil {
			return nil, fmt.Errorf("rule %s: filter %d: %w", id, i, err)
		}
		filters = append(filters, f)
	}

	output, err := compileOutput(doc.Remain[string(ns)])
	if err != nil {
		return nil, fmt.Errorf("rule %s: %w", id, err)
	}

	return NewRule(id, filters, output), nil
}

// compileFilter turns one filter document into a Filter.
func compileFilter(fd types.FilterDocument, opts ...FilterOption) (*Filter, error) {
	ft, err := ParseFilterType(fd.Type)
	if err != nil {
		return nil, err
	}
	keys, err := toStrings(fd.Key)
	if err != nil {
		return nil, fmt.Errorf("%w: key: %v", types.ErrMalformedDocument, err)
	}
	return NewFilter(ft, keys, toList(fd.Value), opts...)
}

// compileOutput validates the namespace payload. nil and {} both mean a
// match-only rule.
func compileOutput(raw any) (types.Output, error) {
	if raw == nil {
		return nil, nil
	}
	m, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: output must be a mapping, got %T", types.ErrMalformedDocument, raw)
	}
	if len(m) == 0 {
		return nil, nil
	}
	return types.Output(m), nil
}

// compileRegexps compiles REGEXP values case-insensitive and multi-line.
func compileRegexps(values []any) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(values))
	for _, v := range values {
		pattern, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("%w: %v (%T)", types.ErrInvalidRegexp, v, v)
		}
		re, err := cachedRegexp("(?im)" + pattern)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", types.ErrInvalidRegexp, err)
		}
		out = append(out, re)
	}
	return out, nil
}

func cachedRegexp(pattern string) (*regexp.Regexp, error) {
	if re, ok := regexpCache.Get(pattern); ok {
		return re, nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	regexpCache.Add(pattern, re)
	return re, nil
}
