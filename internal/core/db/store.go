package db

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/solatis/routingfilter/internal/types"
)

/*
 * Persistent rule documents, variables and hit counts.
 *
 * Documents are stored as JSON bodies keyed by a caller-chosen name; storing
 * a name again replaces its body. Variables are stored one row per "$NAME"
 * with a JSON value. Hit counts are accumulated: AddHits adds to the stored
 * count instead of replacing it, so flushing Routing.Stats(true) on a
 * schedule never double counts.
 */

// ErrDocumentNotFound is returned when no document has the requested name.
var ErrDocumentNotFound = errors.New("rule document not found")

// DocumentRow is one stored rule document.
type DocumentRow struct {
	ID        string `db:"document_id"`
	Name      string `db:"name"`
	Body      string `db:"body"`
	CreatedAt string `db:"created_at"`
	UpdatedAt string `db:"updated_at"`
}

// Decode parses the document body. Numbers decode as json.Number.
func (r DocumentRow) Decode() (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(r.Body)))
	dec.UseNumber()
	var doc map[string]any
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("document %s: %w: %v", r.Name, types.ErrMalformedDocument, err)
	}
	return doc, nil
}

type variableRow struct {
	Name      string `db:"name"`
	Value     string `db:"value"`
	UpdatedAt string `db:"updated_at"`
}

// HitRow is one stored hit count.
type HitRow struct {
	Namespace string `db:"namespace"`
	RuleID    string `db:"rule_id"`
	Bucket    string `db:"bucket"`
	Hits      int64  `db:"hits"`
	UpdatedAt string `db:"updated_at"`
}

// Store reads and writes rule data through the named queries.
type Store struct {
	db    *sqlx.DB
	q     *Queries
	clock clock.Clock
}

// NewStore loads the named queries for db.
func NewStore(db *sqlx.DB, c clock.Clock) (*Store, error) {
	q, err := LoadQueries(db)
	if err != nil {
		return nil, err
	}
	if c == nil {
		c = clock.New()
	}
	return &Store{db: db, q: q, clock: c}, nil
}

func (s *Store) now() string {
	return s.clock.Now().UTC().Format(time.RFC3339)
}

// PutDocument stores doc under name, replacing any previous body.
func (s *Store) PutDocument(ctx context.Context, name string, doc map[string]any) error {
	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode document %s: %w", name, err)
	}
	id, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("generate document id: %w", err)
	}
	now := s.now()
	if _, err := s.q.Exec(ctx, "upsert-document", id.String(), name, string(body), now, now); err != nil {
		return fmt.Errorf("store document %s: %w", name, err)
	}
	return nil
}

// Document returns the stored document called name.
func (s *Store) Document(ctx context.Context, name string) (DocumentRow, error) {
	var row DocumentRow
	err := s.q.Get(ctx, "get-document", &row, name)
	if errors.Is(err, sql.ErrNoRows) {
		return DocumentRow{}, fmt.Errorf("%w: %s", ErrDocumentNotFound, name)
	}
	if err != nil {
		return DocumentRow{}, fmt.Errorf("get document %s: %w", name, err)
	}
	return row, nil
}

// Documents returns every stored document ordered by name.
func (s *Store) Documents(ctx context.Context) ([]DocumentRow, error) {
	var rows []DocumentRow
	if err := s.q.Select(ctx, "list-documents", &rows); err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	return rows, nil
}

// DeleteDocument removes the document called name.
func (s *Store) DeleteDocument(ctx context.Context, name string) error {
	res, err := s.q.Exec(ctx, "delete-document", name)
	if err != nil {
		return fmt.Errorf("delete document %s: %w", name, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrDocumentNotFound, name)
	}
	return nil
}

// PutVariables stores vars in one transaction, replacing existing values.
func (s *Store) PutVariables(ctx context.Context, vars types.Variables) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := s.now()
	for name, value := range vars {
		encoded, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("encode variable %s: %w", name, err)
		}
		if _, err := s.q.ExecTx(ctx, tx, "upsert-variable", name, string(encoded), now); err != nil {
			return fmt.Errorf("store variable %s: %w", name, err)
		}
	}
	return tx.Commit()
}

// Variables returns every stored variable.
func (s *Store) Variables(ctx context.Context) (types.Variables, error) {
	var rows []variableRow
	if err := s.q.Select(ctx, "list-variables", &rows); err != nil {
		return nil, fmt.Errorf("list variables: %w", err)
	}
	vars := make(types.Variables, len(rows))
	for _, row := range rows {
		var value any
		if err := json.Unmarshal([]byte(row.Value), &value); err != nil {
			return nil, fmt.Errorf("decode variable %s: %w", row.Name, err)
		}
		vars[row.Name] = value
	}
	return vars, nil
}

// AddHits adds stats to the stored counts in one transaction and returns
// the number of rows written. Zero counts are skipped.
func (s *Store) AddHits(ctx context.Context, stats types.Stats) (int, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := s.now()
	written := 0
	for ns, byRule := range stats {
		for id, hits := range byRule {
			for bucket, n := range hits {
				if n == 0 {
					continue
				}
				if _, err := s.q.ExecTx(ctx, tx, "add-hits", string(ns), string(id), bucket, n, now); err != nil {
					return 0, fmt.Errorf("add hits %s/%s: %w", ns, id, err)
				}
				written++
			}
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit hits: %w", err)
	}
	return written, nil
}

// Hits returns the stored counts. A non-empty ns restricts the result to
// that namespace.
func (s *Store) Hits(ctx context.Context, ns types.Namespace) ([]HitRow, error) {
	var rows []HitRow
	var err error
	if ns == "" {
		err = s.q.Select(ctx, "list-hits", &rows)
	} else {
		err = s.q.Select(ctx, "list-hits-by-namespace", &rows, string(ns))
	}
	if err != nil {
		return nil, fmt.Errorf("list hits: %w", err)
	}
	return rows, nil
}

// HitsAsStats folds rows into the shape returned by Routing.Stats.
func HitsAsStats(rows []HitRow) types.Stats {
	out := make(types.Stats)
	for _, row := range rows {
		ns := types.Namespace(row.Namespace)
		byRule, ok := out[ns]
		if !ok {
			byRule = make(map[types.RuleID]types.HitCounts)
			out[ns] = byRule
		}
		id := types.RuleID(row.RuleID)
		if byRule[id] == nil {
			byRule[id] = make(types.HitCounts)
		}
		byRule[id][row.Bucket] += row.Hits
	}
	return out
}
