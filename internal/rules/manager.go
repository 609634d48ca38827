package rules

import (
	"github.com/solatis/routingfilter/internal/types"
)

// RuleManager holds the ordered rules of one tag. The first matching rule
// wins.
type RuleManager struct {
	Tag   string
	rules []*Rule
}

// NewRuleManager creates a manager for tag with the given rules in order.
func NewRuleManager(tag string, rules ...*Rule) *RuleManager {
	return &RuleManager{Tag: tag, rules: append([]*Rule(nil), rules...)}
}

// With returns a new manager holding m's rules followed by rules.
// Rule pointers are shared, so hit counts carry over.
func (m *RuleManager) With(rules ...*Rule) *RuleManager {
	out := make([]*Rule, 0, len(m.rules)+len(rules))
	out = append(out, m.rules...)
	out = append(out, rules...)
	return &RuleManager{Tag: m.Tag, rules: out}
}

// Rules returns the rules in evaluation order.
func (m *RuleManager) Rules() []*Rule {
	return m.rules
}

// Count returns the number of rules.
func (m *RuleManager) Count() int {
	return len(m.rules)
}

// Match returns the first matching rule's result, or nil when tag is not
// this manager's tag or no rule matches.
func (m *RuleManager) Match(event map[string]any, tag string, mc MatchContext) (*types.MatchResult, types.History, error) {
	if tag != m.Tag {
		return nil, nil, nil
	}
	for _, r := range m.rules {
		res, fragment, err := r.Match(event, mc)
		if err != nil {
			return nil, nil, err
		}
		if res != nil {
			return res, fragment, nil
		}
	}
	return nil, nil, nil
}

// Stats collects hit counts per rule id. Rules sharing an id are summed.
func (m *RuleManager) Stats(reset bool) map[types.RuleID]types.HitCounts {
	out := make(map[types.RuleID]types.HitCounts, len(m.rules))
	for _, r := range m.rules {
		mergeHits(out, r.ID, r.Stats(reset))
	}
	return out
}

func mergeHits(dst map[types.RuleID]types.HitCounts, id types.RuleID, hits types.HitCounts) {
	cur, ok := dst[id]
	if !ok {
		cur = make(types.HitCounts, len(hits))
		dst[id] = cur
	}
	for bucket, n := range hits {
		cur[bucket] += n
	}
}
