// internal/rules/stream.go
package rules

import (
	"fmt"
	"sort"

	"github.com/solatis/routingfilter/internal/types"
	"github.com/spf13/cast"
)

/*
 * Tag dispatch for one namespace.
 *
 * A Stream maps tags to RuleManagers. For an event:
 *   1. Tags are read from the tag field (scalar or sequence), deduplicated
 *      in event order
 *   2. The "all" manager, when registered, is evaluated first; a result
 *      there is returned alone and no other manager runs
 *   3. Otherwise every event tag with a registered manager contributes at
 *      most one result, in event tag order
 *
 * History stamped by an earlier manager in the same call is visible to the
 * later ones, so two tags routing to the same output deliver it once.
 */

// AllTag is the reserved tag evaluated for every event.
const AllTag = "all"

// Stream is the tag -> RuleManager table of one namespace.
type Stream struct {
	Namespace types.Namespace
	managers  map[string]*RuleManager
}

// NewStream creates an empty stream for namespace ns.
func NewStream(ns types.Namespace) *Stream {
	return &Stream{Namespace: ns, managers: make(map[string]*RuleManager)}
}

// AddRuleManager registers managers by tag, replacing any other manager
// for the same tag. Registering the same manager twice is an error.
func (s *Stream) AddRuleManager(managers ...*RuleManager) error {
	for _, m := range managers {
		if cur, ok := s.managers[m.Tag]; ok && cur == m {
			return fmt.Errorf("%w: tag %q", types.ErrDuplicateManager, m.Tag)
		}
		s.managers[m.Tag] = m
	}
	return nil
}

// DeleteRuleManager removes the managers for tags. Unknown tags are ignored.
func (s *Stream) DeleteRuleManager(tags ...string) {
	for _, tag := range tags {
		delete(s.managers, tag)
	}
}

// RuleManager returns the manager registered for tag.
func (s *Stream) RuleManager(tag string) (*RuleManager, bool) {
	m, ok := s.managers[tag]
	return m, ok
}

// Tags returns the registered tags, sorted.
func (s *Stream) Tags() []string {
	tags := make([]string, 0, len(s.managers))
	for tag := range s.managers {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}

// Count returns the number of rules across all managers.
func (s *Stream) Count() int {
	n := 0
	for _, m := range s.managers {
		n += m.Count()
	}
	return n
}

// Clone returns a stream with its own tag table sharing the managers.
func (s *Stream) Clone() *Stream {
	out := NewStream(s.Namespace)
	for tag, m := range s.managers {
		out.managers[tag] = m
	}
	return out
}

// Match evaluates the event and returns the results together with the
// history fragment of outputs delivered by this call.
func (s *Stream) Match(event map[string]any, tagField string, mc MatchContext) ([]types.MatchResult, types.History, error) {
	working := make(types.History, len(mc.History))
	for k, v := range mc.History {
		working[k] = v
	}
	mc.History = working
	delivered := make(types.History)

	collect := func(fragment types.History) {
		for k, v := range fragment {
			working[k] = v
			delivered[k] = v
		}
	}

	results := make([]types.MatchResult, 0, 1)

	if all, ok := s.managers[AllTag]; ok {
		res, fragment, err := all.Match(event, AllTag, mc)
		if err != nil {
			return nil, nil, err
		}
		if res != nil {
			collect(fragment)
			return append(results, *res), delivered, nil
		}
	}

	for _, tag := range EventTags(event, tagField) {
		if tag == AllTag {
			continue
		}
		m, ok := s.managers[tag]
		if !ok {
			continue
		}
		res, fragment, err := m.Match(event, tag, mc)
		if err != nil {
			return nil, nil, err
		}
		if res != nil {
			collect(fragment)
			results = append(results, *res)
		}
	}
	return results, delivered, nil
}

// Stats collects hit counts of every rule in the stream.
func (s *Stream) Stats(reset bool) map[types.RuleID]types.HitCounts {
	out := make(map[types.RuleID]types.HitCounts)
	for _, m := range s.managers {
		for id, hits := range m.Stats(reset) {
			mergeHits(out, id, hits)
		}
	}
	return out
}

// EventTags reads the tags of an event from field, deduplicated in order.
// Non-string scalars are converted to strings; mappings are ignored.
func EventTags(event map[string]any, field string) []string {
	raw, ok := Resolve(event, field)
	if !ok {
		return nil
	}
	items, isList := raw.([]any)
	if !isList {
		items = []any{raw}
	}
	seen := make(map[string]struct{}, len(items))
	tags := make([]string, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		if _, isMap := item.(map[string]any); isMap {
			continue
		}
		tag, err := cast.ToStringE(item)
		if err != nil {
			continue
		}
		if _, dup := seen[tag]; dup {
			continue
		}
		seen[tag] = struct{}{}
		tags = append(tags, tag)
	}
	return tags
}
