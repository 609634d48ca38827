package routing

import (
	"fmt"
	"sort"

	"github.com/mitchellh/mapstructure"
	"github.com/solatis/routingfilter/internal/types"
	"go.uber.org/multierr"
)

// DecodeDocument decodes the namespace level of one raw rule document.
// Each top-level key is decoded on its own: keys that are not namespaces,
// and namespace bodies that do not decode, are left out of the result and
// reported in the returned error. Individual rules stay raw; see decodeRule.
func DecodeDocument(raw map[string]any) (types.Document, error) {
	names := make([]string, 0, len(raw))
	for name := range raw {
		names = append(names, name)
	}
	sort.Strings(names)

	doc := make(types.Document, len(names))
	var errs error
	for _, name := range names {
		ns, err := types.ParseNamespace(name)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		var nsDoc types.NamespaceDocument
		if err := decode(raw[name], &nsDoc); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w: %v", name, types.ErrMalformedDocument, err))
			continue
		}
		doc[ns] = nsDoc
	}
	return doc, errs
}

// decodeRule decodes one raw rule entry. Loosely typed input is accepted
// (numeric ids become strings); unknown keys land in Remain.
func decodeRule(raw any) (types.RuleDocument, error) {
	m, ok := raw.(map[string]any)
	if !ok {
		return types.RuleDocument{}, fmt.Errorf("%w: rule is %T, want a mapping", types.ErrMalformedDocument, raw)
	}
	var rule types.RuleDocument
	if err := decode(m, &rule); err != nil {
		return types.RuleDocument{}, fmt.Errorf("%w: %v", types.ErrMalformedDocument, err)
	}
	return rule, nil
}

func decode(input any, result any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           result,
	})
	if err != nil {
		return err
	}
	return dec.Decode(input)
}

// taggedRules is the merged view of several documents: namespace -> tag ->
// raw rules in document order.
type taggedRules map[types.Namespace]map[string][]any

// mergeDocuments concatenates the per-tag rule lists of docs in order.
func mergeDocuments(docs []types.Document) taggedRules {
	merged := make(taggedRules)
	for _, doc := range docs {
		for ns, nsDoc := range doc {
			tags, ok := merged[ns]
			if !ok {
				tags = make(map[string][]any)
				merged[ns] = tags
			}
			for tag, rules := range nsDoc.Rules {
				tags[tag] = append(tags[tag], rules...)
			}
		}
	}
	return merged
}
