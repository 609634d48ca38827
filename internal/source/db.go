package source

import (
	"context"
	"fmt"

	"github.com/solatis/routingfilter/internal/core/db"
	"github.com/solatis/routingfilter/internal/types"
	"go.uber.org/zap"
)

// DocumentStore is the read side of db.Store.
type DocumentStore interface {
	Documents(ctx context.Context) ([]db.DocumentRow, error)
	Variables(ctx context.Context) (types.Variables, error)
}

// DBSource loads the documents and variables stored in the database.
type DBSource struct {
	store  DocumentStore
	logger *zap.Logger
}

// NewDBSource creates a source over store.
func NewDBSource(store DocumentStore, logger *zap.Logger) *DBSource {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DBSource{store: store, logger: logger}
}

// Name implements Source.
func (s *DBSource) Name() string { return "db" }

// Load returns stored documents in name order. A body that no longer
// decodes is logged and skipped.
func (s *DBSource) Load(ctx context.Context) (Bundle, error) {
	rows, err := s.store.Documents(ctx)
	if err != nil {
		return Bundle{}, fmt.Errorf("list documents: %w", err)
	}
	vars, err := s.store.Variables(ctx)
	if err != nil {
		return Bundle{}, fmt.Errorf("list variables: %w", err)
	}

	b := Bundle{Documents: make([]map[string]any, 0, len(rows)), Variables: vars}
	for _, row := range rows {
		doc, err := row.Decode()
		if err != nil {
			s.logger.Warn("skipping stored document", zap.String("name", row.Name), zap.Error(err))
			continue
		}
		b.Documents = append(b.Documents, doc)
	}
	return b, nil
}
