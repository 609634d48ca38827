// internal/routing/routing.go
package routing

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/solatis/routingfilter/internal/rules"
	"github.com/solatis/routingfilter/internal/types"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

/*
 * Routing orchestrator.
 *
 * Routing owns one Stream per namespace plus the variables used during
 * loading. The loaded rule tree is published as an immutable snapshot:
 *
 *   Load:  copy the current snapshot, compile new rules into the copy,
 *          swap the pointer
 *   Match: read the pointer once, evaluate against that snapshot
 *
 * Loads are serialized by a mutex; matches never take it. Rules are shared
 * between snapshots, so hit counts survive an additive load. Rules dropped
 * by Reload, Reset or DeleteTags hand their unread hits to a retired set,
 * reported by the next Stats call.
 *
 * Match keeps the routing history on the event: the history container is
 * created when absent, the stream returns the fragment it delivered, and the
 * fragment is merged back into the caller's event. A match error leaves the
 * event's history untouched.
 */

const (
	// DefaultTagField is the event field holding the dispatch tags.
	DefaultTagField = "tags"

	// DefaultStatsField is the event field naming the hit-count bucket.
	DefaultStatsField = "rule.name"
)

// MatchObserver receives the outcome of every Match call.
type MatchObserver interface {
	ObserveMatch(ns types.Namespace, results []types.MatchResult, err error, elapsed time.Duration)
}

type snapshot struct {
	streams   map[types.Namespace]*rules.Stream
	variables types.Variables
}

func emptySnapshot() *snapshot {
	s := &snapshot{
		streams:   make(map[types.Namespace]*rules.Stream, len(types.Namespaces)),
		variables: types.Variables{},
	}
	for _, ns := range types.Namespaces {
		s.streams[ns] = rules.NewStream(ns)
	}
	return s
}

// stats collects hit counts of every stream, one entry per namespace.
func (s *snapshot) stats(reset bool) types.Stats {
	out := make(types.Stats, len(s.streams))
	for ns, stream := range s.streams {
		out[ns] = stream.Stats(reset)
	}
	return out
}

func (s *snapshot) clone() *snapshot {
	out := &snapshot{
		streams:   make(map[types.Namespace]*rules.Stream, len(s.streams)),
		variables: copyVariables(s.variables),
	}
	for ns, stream := range s.streams {
		out.streams[ns] = stream.Clone()
	}
	return out
}

// Routing evaluates events against the loaded rule set.
type Routing struct {
	mu       sync.Mutex
	current  atomic.Pointer[snapshot]

	statsMu sync.Mutex
	retired types.Stats
	logger   *zap.Logger
	clock    clock.Clock
	observer MatchObserver

	historyPath []string
	statsField  string
	tagField    string
}

// Option configures a Routing.
type Option func(*Routing)

// WithLogger sets the logger used for load diagnostics and filter soft
// failures.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Routing) { r.logger = logger }
}

// WithClock sets the clock used for history timestamps.
func WithClock(c clock.Clock) Option {
	return func(r *Routing) { r.clock = c }
}

// WithHistoryField sets the dotted event path of the routing history.
func WithHistoryField(field string) Option {
	return func(r *Routing) { r.historyPath = strings.Split(field, ".") }
}

// WithStatsField sets the dotted event path naming the hit-count bucket.
func WithStatsField(field string) Option {
	return func(r *Routing) { r.statsField = field }
}

// WithTagField sets the tag field used when Match is called with an empty
// one.
func WithTagField(field string) Option {
	return func(r *Routing) { r.tagField = field }
}

// WithObserver registers an observer for Match outcomes.
func WithObserver(o MatchObserver) Option {
	return func(r *Routing) { r.observer = o }
}

// New creates a Routing with no rules loaded.
func New(opts ...Option) *Routing {
	r := &Routing{
		logger:      zap.NewNop(),
		clock:       clock.New(),
		historyPath: strings.Split(DefaultHistoryField, "."),
		statsField:  DefaultStatsField,
		tagField:    DefaultTagField,
		retired:     make(types.Stats),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.current.Store(emptySnapshot())
	return r
}

// Load adds the rules of docs to the current rule set. vars are merged into
// the stored variables (vars win) before substitution.
//
// Rules that fail to decode or compile are logged and skipped; their errors
// are returned combined. The remaining rules are loaded either way.
func (r *Routing) Load(docs []map[string]any, vars types.Variables) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	next := r.current.Load().clone()
	err := r.loadInto(next, docs, vars)
	r.current.Store(next)
	return err
}

// Reload replaces the whole rule set and the stored variables. Unread hit
// counts of the previous rules are kept for the next Stats call.
func (r *Routing) Reload(docs []map[string]any, vars types.Variables) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	next := emptySnapshot()
	err := r.loadInto(next, docs, vars)
	r.swap(next)
	return err
}

// Reset drops every rule and variable. Unread hit counts are kept for the
// next Stats call.
func (r *Routing) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.swap(emptySnapshot())
}

// swap publishes next and retires the hits of the replaced snapshot. The
// old snapshot is drained after the swap so matches that started before it
// are still counted. Callers hold r.mu.
func (r *Routing) swap(next *snapshot) {
	old := r.current.Swap(next)
	r.retire(old.stats(true))
}

func (r *Routing) retire(stats types.Stats) {
	r.statsMu.Lock()
	defer r.statsMu.Unlock()
	addStats(r.retired, stats)
}

// addStats adds the non-empty hit counts of src into dst.
func addStats(dst, src types.Stats) {
	for ns, byRule := range src {
		for id, hits := range byRule {
			if len(hits) == 0 {
				continue
			}
			if dst[ns] == nil {
				dst[ns] = make(map[types.RuleID]types.HitCounts)
			}
			cur := dst[ns][id]
			if cur == nil {
				cur = make(types.HitCounts, len(hits))
				dst[ns][id] = cur
			}
			for bucket, n := range hits {
				cur[bucket] += n
			}
		}
	}
}

func (r *Routing) loadInto(snap *snapshot, raws []map[string]any, vars types.Variables) error {
	for k, v := range vars {
		snap.variables[k] = v
	}

	var errs error
	docs := make([]types.Document, 0, len(raws))
	for i, raw := range raws {
		doc, err := DecodeDocument(raw)
		for _, e := range multierr.Errors(err) {
			r.logger.Error("skipping part of rule document", zap.Int("document", i), zap.Error(e))
			errs = multierr.Append(errs, fmt.Errorf("document %d: %w", i, e))
		}
		docs = append(docs, doc)
	}

	merged := mergeDocuments(docs)
	loaded := 0
	for _, ns := range types.Namespaces {
		stream := snap.streams[ns]

		tags := make([]string, 0, len(merged[ns]))
		for tag := range merged[ns] {
			tags = append(tags, tag)
		}
		sort.Strings(tags)

		for _, tag := range tags {
			compiled := make([]*rules.Rule, 0, len(merged[ns][tag]))
			for i, raw := range merged[ns][tag] {
				rule, err := r.compileRule(raw, ns, snap.variables)
				if err != nil {
					r.logger.Error("skipping rule",
						zap.String("namespace", string(ns)),
						zap.String("tag", tag),
						zap.Int("index", i),
						zap.Error(err))
					errs = multierr.Append(errs, fmt.Errorf("%s/%s[%d]: %w", ns, tag, i, err))
					continue
				}
				compiled = append(compiled, rule)
			}
			loaded += len(compiled)

			manager := rules.NewRuleManager(tag, compiled...)
			if existing, ok := stream.RuleManager(tag); ok {
				manager = existing.With(compiled...)
			}
			if err := stream.AddRuleManager(manager); err != nil {
				errs = multierr.Append(errs, err)
			}
		}
	}

	r.logger.Info("rules loaded",
		zap.Int("documents", len(raws)),
		zap.Int("rules", loaded),
		zap.Int("errors", len(multierr.Errors(errs))))
	return errs
}

func (r *Routing) compileRule(raw any, ns types.Namespace, vars types.Variables) (*rules.Rule, error) {
	doc, err := decodeRule(raw)
	if err != nil {
		return nil, err
	}
	for i := range doc.Filters {
		doc.Filters[i].Value = substitute(doc.Filters[i].Value, vars, r.logger)
	}
	return rules.Compile(doc, ns, rules.WithFilterLogger(r.logger))
}

// Match evaluates event against the namespace's stream. An empty tagField
// uses the configured default. Newly delivered outputs are recorded in the
// event's routing history.
func (r *Routing) Match(event types.Event, ns types.Namespace, tagField string) (results []types.MatchResult, err error) {
	if r.observer != nil {
		start := r.clock.Now()
		defer func() {
			r.observer.ObserveMatch(ns, results, err, r.clock.Since(start))
		}()
	}

	stream, ok := r.current.Load().streams[ns]
	if !ok {
		return nil, fmt.Errorf("%w: %q", types.ErrInvalidNamespace, ns)
	}
	if tagField == "" {
		tagField = r.tagField
	}
	if event == nil {
		event = types.Event{}
	}

	container, err := ensureHistory(event, r.historyPath)
	if err != nil {
		return nil, err
	}
	mc := rules.MatchContext{
		History:     readHistory(container),
		Now:         r.clock.Now().UTC().Format(time.RFC3339Nano),
		StatsBucket: statsBucket(event, r.statsField),
	}

	results, delivered, err := stream.Match(event, tagField, mc)
	if err != nil {
		return nil, err
	}
	mergeHistory(container, delivered)
	return results, nil
}

// Stats returns hit counts per namespace and rule id, including unread
// hits of rules removed since the last reset. With reset the counts are
// zeroed after being read.
func (r *Routing) Stats(reset bool) types.Stats {
	r.statsMu.Lock()
	defer r.statsMu.Unlock()

	out := r.current.Load().stats(reset)
	addStats(out, r.retired)
	if reset {
		r.retired = make(types.Stats)
	}
	return out
}

// Count returns the number of loaded rules across namespaces.
func (r *Routing) Count() int {
	n := 0
	for _, stream := range r.current.Load().streams {
		n += stream.Count()
	}
	return n
}

// CountNamespace returns the number of rules loaded in ns.
func (r *Routing) CountNamespace(ns types.Namespace) int {
	stream, ok := r.current.Load().streams[ns]
	if !ok {
		return 0
	}
	return stream.Count()
}

// DeleteTags removes the rule managers of tags from namespace ns.
func (r *Routing) DeleteTags(ns types.Namespace, tags ...string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	next := r.current.Load().clone()
	stream, ok := next.streams[ns]
	if !ok {
		return fmt.Errorf("%w: %q", types.ErrInvalidNamespace, ns)
	}
	removed := types.Stats{ns: {}}
	for _, tag := range tags {
		if m, ok := stream.RuleManager(tag); ok {
			addStats(removed, types.Stats{ns: m.Stats(true)})
		}
	}
	stream.DeleteRuleManager(tags...)
	r.current.Store(next)
	r.retire(removed)
	return nil
}

// Variables returns a copy of the stored variables.
func (r *Routing) Variables() types.Variables {
	return copyVariables(r.current.Load().variables)
}

// Rules returns namespace -> tag -> rule ids in evaluation order.
func (r *Routing) Rules() map[types.Namespace]map[string][]types.RuleID {
	snap := r.current.Load()
	out := make(map[types.Namespace]map[string][]types.RuleID, len(snap.streams))
	for ns, stream := range snap.streams {
		tags := make(map[string][]types.RuleID)
		for _, tag := range stream.Tags() {
			m, _ := stream.RuleManager(tag)
			ids := make([]types.RuleID, 0, m.Count())
			for _, rule := range m.Rules() {
				ids = append(ids, rule.ID)
			}
			tags[tag] = ids
		}
		out[ns] = tags
	}
	return out
}
