// internal/types/rules.go
package types

/*
 * Rule document types.
 *
 * A rule document is the loosely typed mapping loaded from JSON, YAML, redis
 * or the database:
 *
 *   {"streams": {"rules": {"<tag>": [<rule>, ...]}}, "customers": {...}}
 *
 * Key types:
 *   - Document: namespace -> NamespaceDocument
 *   - NamespaceDocument: tag -> ordered raw rule entries
 *   - RuleDocument: one decoded rule; the output lives under the namespace key
 *   - FilterDocument: one decoded filter; key and value are scalar or list
 *
 * Documents are decoded one level at a time: every top-level key on its
 * own, and rules stay raw ([]any) in NamespaceDocument. A bad key, a bad
 * namespace body or a non-mapping rule entry is rejected on its own,
 * without discarding its siblings.
 */

// Document is one rule document keyed by namespace. Only valid namespaces
// appear.
type Document map[Namespace]NamespaceDocument

// NamespaceDocument holds the per-tag rule lists of one namespace.
type NamespaceDocument struct {
	Rules map[string][]any `mapstructure:"rules" json:"rules" yaml:"rules"`
}

// RuleDocument is the decoded form of one rule mapping.
// Remain collects every other key; the output is Remain[namespace].
type RuleDocument struct {
	ID      string           `mapstructure:"id"`
	Filters []FilterDocument `mapstructure:"filters"`
	Remain  map[string]any   `mapstructure:",remain"`
}

// FilterDocument is the decoded form of one filter mapping.
type FilterDocument struct {
	Type        string `mapstructure:"type"`
	Key         any    `mapstructure:"key"`
	Value       any    `mapstructure:"value"`
	Description string `mapstructure:"description"`
}
