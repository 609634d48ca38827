// Package types provides domain models shared across routingfilter components.
//
// Events and rule documents are loosely typed mappings at the edges (JSON,
// YAML, redis, database rows). This package names those shapes so the rule
// engine and the loaders agree on them without importing each other.
package types

import "fmt"

// Event is one structured message to classify. Values are whatever the
// decoder produced: strings, json.Number or float64, bools, nil, []any and
// nested map[string]any. Integers only classify as int when they arrive as
// json.Number or a Go integer kind; float64 values are always float.
type Event map[string]any

// RuleID identifies a rule. Documents may carry their own id; otherwise a
// UUIDv7 is assigned at load time.
type RuleID string

// Namespace is a top-level rule partition. Each namespace owns its own Stream.
type Namespace string

const (
	NamespaceStreams   Namespace = "streams"
	NamespaceCustomers Namespace = "customers"
)

// Namespaces lists the registered namespaces in evaluation-independent order.
var Namespaces = []Namespace{NamespaceStreams, NamespaceCustomers}

// ParseNamespace validates a namespace name.
func ParseNamespace(s string) (Namespace, error) {
	switch Namespace(s) {
	case NamespaceStreams, NamespaceCustomers:
		return Namespace(s), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidNamespace, s)
	}
}

// Output maps an output name (e.g. a destination stream) to its payload.
type Output map[string]any

// History maps an output name to the RFC 3339 timestamp of its first
// delivery for one event.
type History map[string]string

// Variables maps "$NAME" to a string or a list of strings.
type Variables map[string]any

// HitCounts maps a stats bucket (the event's rule name) to its hit count.
type HitCounts map[string]int64

// Stats maps namespace -> rule id -> hit counts.
type Stats map[Namespace]map[RuleID]HitCounts

// MatchResult is one matched rule. Output is nil for match-only rules.
type MatchResult struct {
	ID     RuleID `json:"id"`
	Output Output `json:"output"`
}
