// Package source loads rule documents and variables from files, redis and
// the database, and watches files and redis for changes.
package source

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/solatis/routingfilter/internal/types"
)

// Bundle is a set of rule documents plus the variables they are loaded
// with.
type Bundle struct {
	Documents []map[string]any `json:"documents"`
	Variables types.Variables  `json:"variables,omitempty"`
}

// Source produces a Bundle.
type Source interface {
	Name() string
	Load(ctx context.Context) (Bundle, error)
}

// Combine loads every source in order. Documents are concatenated;
// variables of later sources override earlier ones. A source reporting
// ErrNoBundle contributes nothing.
func Combine(ctx context.Context, sources ...Source) (Bundle, error) {
	out := Bundle{Variables: types.Variables{}}
	for _, s := range sources {
		b, err := s.Load(ctx)
		if errors.Is(err, ErrNoBundle) {
			continue
		}
		if err != nil {
			return Bundle{}, fmt.Errorf("load %s: %w", s.Name(), err)
		}
		out.Documents = append(out.Documents, b.Documents...)
		for k, v := range b.Variables {
			out.Variables[k] = v
		}
	}
	return out, nil
}

// decodeJSONDocuments accepts one document or an array of documents.
func decodeJSONDocuments(data []byte) ([]map[string]any, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, nil
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()

	if trimmed[0] == '[' {
		var docs []map[string]any
		if err := dec.Decode(&docs); err != nil {
			return nil, fmt.Errorf("%w: %v", types.ErrMalformedDocument, err)
		}
		return docs, nil
	}

	var doc map[string]any
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrMalformedDocument, err)
	}
	return []map[string]any{doc}, nil
}

func decodeJSONVariables(data []byte) (types.Variables, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var vars types.Variables
	if err := dec.Decode(&vars); err != nil {
		return nil, fmt.Errorf("decode variables: %w", err)
	}
	return vars, nil
}
