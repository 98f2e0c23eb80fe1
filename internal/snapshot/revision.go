package snapshot

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// RevisionSource reports the schema migration revision the live database is at
type RevisionSource interface {
	CurrentRevision(ctx context.Context) (string, error)
}

// RevisionTable locates the single-row table a migration tool keeps its
// current revision in.
type RevisionTable struct {
	Table  string
	Column string
}

// DefaultRevisionTable is golang-migrate's single-row schema_migrations.
// Tools that keep one row per applied migration, such as Rails, do not fit:
// Read returns an arbitrary row and Replace drops the history.
func DefaultRevisionTable() RevisionTable {
	return RevisionTable{Table: "schema_migrations", Column: "version"}
}

func (r RevisionTable) normalized() RevisionTable {
	d := DefaultRevisionTable()
	if r.Table == "" {
		r.Table = d.Table
	}
	if r.Column == "" {
		r.Column = d.Column
	}
	return r
}

// Read returns the stored revision, or "" when the table has no row or the
// row is NULL. A missing table is returned as an error.
func (r RevisionTable) Read(ctx context.Context, q Querier) (string, error) {
	r = r.normalized()
	query := fmt.Sprintf("SELECT %s FROM %s LIMIT 1", QuoteIdentifier(r.Column), QuoteIdentifier(r.Table))

	var rev sql.NullString
	err := q.QueryRowContext(ctx, query).Scan(&rev)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return rev.String, nil
}

// Replace clears the table and, for a non-empty revision, inserts it as the
// only row.
func (r RevisionTable) Replace(ctx context.Context, q Querier, revision string) error {
	r = r.normalized()
	if _, err := q.ExecContext(ctx, "DELETE FROM "+QuoteIdentifier(r.Table)); err != nil {
		return fmt.Errorf("clear %s: %w", r.Table, err)
	}
	if revision == "" {
		return nil
	}
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (?)", QuoteIdentifier(r.Table), QuoteIdentifier(r.Column))
	if _, err := q.ExecContext(ctx, query, revision); err != nil {
		return fmt.Errorf("write %s: %w", r.Table, err)
	}
	return nil
}

// TableRevisionSource reads the revision from a RevisionTable
type TableRevisionSource struct {
	db    Querier
	table RevisionTable
}

// NewTableRevisionSource creates a RevisionSource over db
func NewTableRevisionSource(db Querier, table RevisionTable) *TableRevisionSource {
	return &TableRevisionSource{db: db, table: table.normalized()}
}

// CurrentRevision implements RevisionSource
func (s *TableRevisionSource) CurrentRevision(ctx context.Context) (string, error) {
	return s.table.Read(ctx, s.db)
}

// Table returns the revision table being read
func (s *TableRevisionSource) Table() RevisionTable {
	return s.table
}
