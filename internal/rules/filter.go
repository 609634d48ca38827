// internal/rules/filter.go
package rules

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/solatis/routingfilter/internal/types"
	"go.uber.org/zap"
	"go4.org/netipx"
)

/*
 * Filter predicates.
 *
 * A Filter tests one or more event keys against one or more configured
 * values. Every variant except TYPEOF is existential: it matches when any
 * resolved value of any key satisfies the predicate for any configured value.
 *
 * Variants:
 *   - ALL: always true
 *   - EXISTS / NOT_EXISTS: any / none of the keys resolve to a non-nil value
 *   - EQUALS / NOT_EQUALS: normalized equality, case-insensitive for strings
 *   - STARTSWITH / ENDSWITH / KEYWORD: prefix / suffix / substring
 *   - REGEXP: unanchored search, case-insensitive, multi-line
 *   - NETWORK / NOT_NETWORK: address or CIDR containment, overlap for CIDRs
 *   - DOMAIN: equal to a domain or a subdomain of it
 *   - GREATER / LESS / GREATER_EQ / LESS_EQ: float comparison, strict
 *   - TYPEOF: the value at one key has one of the configured type tags
 *
 * Construction validates everything that can be validated without an event,
 * so a bad rule is rejected at load time. At match time only the comparators
 * can fail; every other variant degrades to false and logs.
 */

// FilterType is the closed set of filter variants.
type FilterType int

const (
	FilterUnspecified FilterType = iota
	FilterAll
	FilterExists
	FilterNotExists
	FilterEquals
	FilterNotEquals
	FilterStartsWith
	FilterEndsWith
	FilterKeyword
	FilterRegexp
	FilterNetwork
	FilterNotNetwork
	FilterDomain
	FilterGreater
	FilterLess
	FilterGreaterEq
	FilterLessEq
	FilterTypeOf
)

var filterTypeNames = map[string]FilterType{
	"ALL":           FilterAll,
	"EXISTS":        FilterExists,
	"NOT_EXISTS":    FilterNotExists,
	"EQUALS":        FilterEquals,
	"NOT_EQUALS":    FilterNotEquals,
	"STARTSWITH":    FilterStartsWith,
	"ENDSWITH":      FilterEndsWith,
	"KEYWORD":       FilterKeyword,
	"REGEXP":        FilterRegexp,
	"NETWORK":       FilterNetwork,
	"NOT_NETWORK":   FilterNotNetwork,
	"DOMAIN":        FilterDomain,
	"GREATER":       FilterGreater,
	"LESS":          FilterLess,
	"GREATER_EQ":    FilterGreaterEq,
	"GREATER_EQUAL": FilterGreaterEq,
	"LESS_EQ":       FilterLessEq,
	"LESS_EQUAL":    FilterLessEq,
	"TYPEOF":        FilterTypeOf,
}

// ParseFilterType maps a document "type" string to a FilterType.
// Names are case-insensitive; GREATER_EQUAL and LESS_EQUAL are accepted aliases.
func ParseFilterType(s string) (FilterType, error) {
	ft, ok := filterTypeNames[strings.ToUpper(strings.TrimSpace(s))]
	if !ok {
		return FilterUnspecified, fmt.Errorf("%w: %q", types.ErrInvalidFilterType, s)
	}
	return ft, nil
}

// String returns the canonical document name.
func (ft FilterType) String() string {
	switch ft {
	case FilterAll:
		return "ALL"
	case FilterExists:
		return "EXISTS"
	case FilterNotExists:
		return "NOT_EXISTS"
	case FilterEquals:
		return "EQUALS"
	case FilterNotEquals:
		return "NOT_EQUALS"
	case FilterStartsWith:
		return "STARTSWITH"
	case FilterEndsWith:
		return "ENDSWITH"
	case FilterKeyword:
		return "KEYWORD"
	case FilterRegexp:
		return "REGEXP"
	case FilterNetwork:
		return "NETWORK"
	case FilterNotNetwork:
		return "NOT_NETWORK"
	case FilterDomain:
		return "DOMAIN"
	case FilterGreater:
		return "GREATER"
	case FilterLess:
		return "LESS"
	case FilterGreaterEq:
		return "GREATER_EQ"
	case FilterLessEq:
		return "LESS_EQ"
	case FilterTypeOf:
		return "TYPEOF"
	default:
		return "UNSPECIFIED"
	}
}

// Filter is an immutable predicate over events.
type Filter struct {
	Type   FilterType
	Keys   []string
	Values []any

	texts   []string         // lower-cased values for string variants
	scalars []any            // normalized values for EQUALS
	regexps []*regexp.Regexp // REGEXP
	network *netipx.IPSet    // NETWORK, NOT_NETWORK
	domains *domainIndex     // DOMAIN
	numbers []float64        // comparators
	tags    []TypeTag        // TYPEOF

	logger *zap.Logger
}

// FilterOption configures a Filter.
type FilterOption func(*Filter)

// WithFilterLogger sets the logger used for soft failures at match time.
func WithFilterLogger(logger *zap.Logger) FilterOption {
	return func(f *Filter) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// NewFilter validates keys and values for the variant and prepares the
// per-variant matching state.
func NewFilter(ft FilterType, keys []string, values []any, opts ...FilterOption) (*Filter, error) {
	f := &Filter{
		Type:   ft,
		Keys:   keys,
		Values: values,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(f)
	}

	if ft == FilterAll {
		return f, nil
	}
	if ft == FilterUnspecified || ft > FilterTypeOf {
		return nil, fmt.Errorf("%w: %d", types.ErrInvalidFilterType, int(ft))
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("%s: %w", ft, types.ErrMissingKey)
	}

	var err error
	switch ft {
	case FilterExists, FilterNotExists:
		return f, nil
	case FilterTypeOf:
		if len(keys) != 1 {
			return nil, fmt.Errorf("%s: %w, got %d", ft, types.ErrTooManyKeys, len(keys))
		}
		f.tags, err = parseTypeTags(values)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", ft, err)
		}
		return f, nil
	}

	if len(values) == 0 {
		return nil, fmt.Errorf("%s: %w", ft, types.ErrMissingValue)
	}

	switch ft {
	case FilterEquals, FilterNotEquals:
		f.scalars = make([]any, 0, len(values))
		for _, v := range values {
			s, ok := toScalar(v)
			if !ok {
				return nil, fmt.Errorf("%s: unsupported value %v (%T)", ft, v, v)
			}
			f.scalars = append(f.scalars, s)
		}
	case FilterStartsWith, FilterEndsWith, FilterKeyword:
		f.texts, err = textValues(values)
	case FilterDomain:
		f.texts, err = textValues(values)
		if err == nil {
			f.domains = newDomainIndex(f.texts)
		}
	case FilterRegexp:
		f.regexps, err = compileRegexps(values)
	case FilterNetwork, FilterNotNetwork:
		f.network, err = buildIPSet(values)
	case FilterGreater, FilterLess, FilterGreaterEq, FilterLessEq:
		f.numbers = make([]float64, 0, len(values))
		for _, v := range values {
			n, nerr := toNumber(v)
			if nerr != nil {
				return nil, fmt.Errorf("%s: %w: %v", ft, types.ErrInvalidNumber, v)
			}
			f.numbers = append(f.numbers, n)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", ft, err)
	}
	return f, nil
}

// Match evaluates the filter against event.
// Only comparator variants return an error (ErrNotNumeric).
func (f *Filter) Match(event map[string]any) (bool, error) {
	switch f.Type {
	case FilterAll:
		return true, nil
	case FilterExists:
		return f.exists(event), nil
	case FilterNotExists:
		return !f.exists(event), nil
	case FilterEquals:
		return f.anyValue(event, f.equals), nil
	case FilterNotEquals:
		return !f.anyValue(event, f.equals), nil
	case FilterStartsWith:
		return f.anyText(event, strings.HasPrefix), nil
	case FilterEndsWith:
		return f.anyText(event, strings.HasSuffix), nil
	case FilterKeyword:
		return f.anyText(event, strings.Contains), nil
	case FilterDomain:
		return f.anyValue(event, f.matchDomain), nil
	case FilterRegexp:
		return f.anyValue(event, f.matchRegexp), nil
	case FilterNetwork:
		return f.anyValue(event, f.inNetwork), nil
	case FilterNotNetwork:
		return !f.anyValue(event, f.inNetwork), nil
	case FilterGreater, FilterLess, FilterGreaterEq, FilterLessEq:
		return f.compare(event)
	case FilterTypeOf:
		return f.typeOf(event), nil
	default:
		return false, nil
	}
}

// exists reports whether any key resolves to a non-nil value.
func (f *Filter) exists(event map[string]any) bool {
	for _, key := range f.Keys {
		if _, ok := Resolve(event, key); ok {
			return true
		}
	}
	return false
}

// anyValue reports whether pred holds for any resolved value of any key.
func (f *Filter) anyValue(event map[string]any, pred func(any) bool) bool {
	for _, key := range f.Keys {
		for _, v := range Values(event, key) {
			if pred(v) {
				return true
			}
		}
	}
	return false
}

// anyText applies a string predicate (target, configured) over all pairs.
func (f *Filter) anyText(event map[string]any, pred func(s, substr string) bool) bool {
	return f.anyValue(event, func(v any) bool {
		target, ok := toText(v)
		if !ok {
			return false
		}
		for _, t := range f.texts {
			if pred(target, t) {
				return true
			}
		}
		return false
	})
}

func (f *Filter) equals(v any) bool {
	target, ok := toScalar(v)
	if !ok {
		return false
	}
	for _, s := range f.scalars {
		if s == target {
			return true
		}
	}
	return false
}

func (f *Filter) matchDomain(v any) bool {
	target, ok := toText(v)
	if !ok {
		return false
	}
	return f.domains.Match(target)
}

func (f *Filter) matchRegexp(v any) bool {
	target, ok := toText(v)
	if !ok {
		return false
	}
	for _, re := range f.regexps {
		if re.MatchString(target) {
			return true
		}
	}
	return false
}

func (f *Filter) inNetwork(v any) bool {
	target, ok := toText(v)
	if !ok {
		f.logger.Warn("network filter target is not a scalar", zap.Any("value", v))
		return false
	}
	matched, err := matchNetwork(f.network, target)
	if err != nil {
		f.logger.Warn("network filter target is not an address", zap.String("value", target), zap.Error(err))
		return false
	}
	return matched
}

// compare evaluates the comparator variants. A missing key is a non-match;
// a present non-numeric value is an error.
func (f *Filter) compare(event map[string]any) (bool, error) {
	for _, key := range f.Keys {
		for _, v := range Values(event, key) {
			n, err := toNumber(v)
			if err != nil {
				return false, fmt.Errorf("%s on %q: %w", f.Type, key, err)
			}
			for _, term := range f.numbers {
				if compareNumber(f.Type, n, term) {
					return true, nil
				}
			}
		}
	}
	return false, nil
}

func compareNumber(ft FilterType, value, term float64) bool {
	switch ft {
	case FilterGreater:
		return value > term
	case FilterLess:
		return value < term
	case FilterGreaterEq:
		return value >= term
	case FilterLessEq:
		return value <= term
	default:
		return false
	}
}

// typeOf checks the raw value at the single key against the type tags.
// An empty tag list accepts every type.
func (f *Filter) typeOf(event map[string]any) bool {
	v, ok := Resolve(event, f.Keys[0])
	if !ok {
		return false
	}
	if len(f.tags) == 0 {
		return true
	}
	for _, tag := range f.tags {
		if hasTypeTag(v, tag) {
			return true
		}
	}
	return false
}

func textValues(values []any) ([]string, error) {
	out := make([]string, 0, len(values))
	for _, v := range values {
		s, ok := toText(v)
		if !ok {
			return nil, fmt.Errorf("unsupported value %v (%T)", v, v)
		}
		out = append(out, s)
	}
	return out, nil
}
