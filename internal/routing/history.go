package routing

import (
	"fmt"
	"strings"

	"github.com/solatis/routingfilter/internal/rules"
	"github.com/solatis/routingfilter/internal/types"
	"github.com/spf13/cast"
)

// DefaultHistoryField is where delivered outputs are recorded on the event.
const DefaultHistoryField = "certego.routing_history"

// ensureHistory returns the history mapping at path, creating the nested
// mappings that are missing. A non-mapping value on the path is an error.
func ensureHistory(event map[string]any, path []string) (map[string]any, error) {
	current := event
	for i, key := range path {
		next, ok := current[key]
		if !ok || next == nil {
			created := make(map[string]any)
			current[key] = created
			current = created
			continue
		}
		m, ok := next.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: %s is %T", types.ErrInvalidHistory, strings.Join(path[:i+1], "."), next)
		}
		current = m
	}
	return current, nil
}

// readHistory snapshots the history mapping. Only the keys matter for
// de-duplication; values are kept as their string form.
func readHistory(container map[string]any) types.History {
	history := make(types.History, len(container))
	for name, ts := range container {
		history[name] = cast.ToString(ts)
	}
	return history
}

// mergeHistory records newly delivered outputs on the event.
func mergeHistory(container map[string]any, delivered types.History) {
	for name, ts := range delivered {
		container[name] = ts
	}
}

// statsBucket reads the hit-count bucket from the event. Missing, list and
// mapping values fall back to the rule's default bucket.
func statsBucket(event map[string]any, field string) string {
	raw, ok := rules.Resolve(event, field)
	if !ok {
		return ""
	}
	switch raw.(type) {
	case []any, map[string]any:
		return ""
	}
	bucket, err := cast.ToStringE(raw)
	if err != nil {
		return ""
	}
	return bucket
}
