// internal/rules/rule.go
package rules

import (
	"fmt"
	"sync"

	"github.com/solatis/routingfilter/internal/types"
)

/*
 * Rule evaluation and delivery de-duplication.
 *
 * A Rule is an AND of filters plus an output payload keyed by output name.
 * Matching a rule also consults the routing history of the event:
 *
 *   1. Any filter false -> no match (short-circuit, document order)
 *   2. Every output name already in history -> no match (already delivered)
 *   3. Otherwise output names missing from history are stamped with the
 *      call timestamp and returned; names already in history are dropped
 *   4. The hit tally for the event's stats bucket is incremented
 *
 * Match never writes to the history it is given. Newly stamped names are
 * returned as a separate fragment; the caller merges them.
 *
 * Hit counts are the only mutable state and are guarded by a per-rule mutex.
 */

// MatchContext carries per-call state down the rule tree.
type MatchContext struct {
	History     types.History // outputs already delivered for this event
	Now         string        // timestamp stamped on newly delivered outputs
	StatsBucket string        // hit-count bucket for this event
}

// Rule is an immutable conjunction of filters with an output payload.
type Rule struct {
	ID      types.RuleID
	Filters []*Filter
	Output  types.Output // nil for match-only rules

	mu   sync.Mutex
	hits types.HitCounts
}

// NewRule creates a rule. An empty output is stored as nil.
func NewRule(id types.RuleID, filters []*Filter, output types.Output) *Rule {
	if len(output) == 0 {
		output = nil
	}
	return &Rule{
		ID:      id,
		Filters: filters,
		Output:  output,
		hits:    make(types.HitCounts),
	}
}

// Match evaluates the rule. It returns nil when the rule does not match or
// its outputs were all delivered already, and the history fragment of newly
// delivered output names otherwise.
func (r *Rule) Match(event map[string]any, mc MatchContext) (*types.MatchResult, types.History, error) {
	for _, f := range r.Filters {
		ok, err := f.Match(event)
		if err != nil {
			return nil, nil, fmt.Errorf("rule %s: %w", r.ID, err)
		}
		if !ok {
			return nil, nil, nil
		}
	}

	if r.Output != nil && r.delivered(mc.History) {
		return nil, nil, nil
	}

	r.hit(mc.StatsBucket)

	if r.Output == nil {
		return &types.MatchResult{ID: r.ID}, nil, nil
	}

	output := make(types.Output, len(r.Output))
	fragment := make(types.History, len(r.Output))
	for name, payload := range r.Output {
		if _, done := mc.History[name]; done {
			continue
		}
		output[name] = copyValue(payload)
		fragment[name] = mc.Now
	}
	return &types.MatchResult{ID: r.ID, Output: output}, fragment, nil
}

// delivered reports whether every output name is already in history.
func (r *Rule) delivered(history types.History) bool {
	for name := range r.Output {
		if _, ok := history[name]; !ok {
			return false
		}
	}
	return true
}

func (r *Rule) hit(bucket string) {
	if bucket == "" {
		bucket = DefaultStatsBucket
	}
	r.mu.Lock()
	r.hits[bucket]++
	r.mu.Unlock()
}

// Stats returns a copy of the hit counts, clearing them when reset is true.
func (r *Rule) Stats(reset bool) types.HitCounts {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(types.HitCounts, len(r.hits))
	for k, v := range r.hits {
		out[k] = v
	}
	if reset {
		r.hits = make(types.HitCounts)
	}
	return out
}

// DefaultStatsBucket is used when the event carries no rule name.
const DefaultStatsBucket = "unknown"

// copyValue deep-copies mappings and sequences so callers may modify results.
func copyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = copyValue(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = copyValue(e)
		}
		return out
	default:
		return v
	}
}
