package snapshot

import (
	"context"
	"database/sql"
	"errors"
	"strings"
)

// ErrTableNotFound is the cause carried by a SchemaAccessError when a table
// has no columns in the live catalog.
var ErrTableNotFound = errors.New("table not found")

// Querier is the subset of *sql.DB, *sql.Conn and *sql.Tx used here
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Catalog enumerates the live schema
type Catalog interface {
	// ListTables returns the base tables of the current schema, sorted. The
	// revision table is included; callers skip it when handling data.
	ListTables(ctx context.Context) ([]string, error)
	// ListColumns returns a table's columns in ordinal order.
	ListColumns(ctx context.Context, table string) ([]Column, error)
	TableExists(ctx context.Context, table string) (bool, error)
}

const (
	listTablesQuery = "SELECT TABLE_NAME FROM INFORMATION_SCHEMA.TABLES " +
		"WHERE TABLE_SCHEMA = DATABASE() AND TABLE_TYPE = 'BASE TABLE' ORDER BY TABLE_NAME"
	listColumnsQuery = "SELECT COLUMN_NAME, DATA_TYPE FROM INFORMATION_SCHEMA.COLUMNS " +
		"WHERE TABLE_SCHEMA = DATABASE() AND TABLE_NAME = ? ORDER BY ORDINAL_POSITION"
	tableExistsQuery = "SELECT COUNT(*) FROM INFORMATION_SCHEMA.TABLES " +
		"WHERE TABLE_SCHEMA = DATABASE() AND TABLE_NAME = ?"
)

// MySQLCatalog reads INFORMATION_SCHEMA for the connection's default schema.
// Views are not listed.
type MySQLCatalog struct {
	db Querier
}

// NewMySQLCatalog creates a catalog backed by db
func NewMySQLCatalog(db Querier) *MySQLCatalog {
	return &MySQLCatalog{db: db}
}

// ListTables implements Catalog
func (c *MySQLCatalog) ListTables(ctx context.Context) ([]string, error) {
	rows, err := c.db.QueryContext(ctx, listTablesQuery)
	if err != nil {
		return nil, newSchemaAccessError("list tables", "", err)
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, newSchemaAccessError("list tables", "", err)
		}
		tables = append(tables, name)
	}
	if err := rows.Err(); err != nil {
		return nil, newSchemaAccessError("list tables", "", err)
	}
	return tables, nil
}

// ListColumns implements Catalog
func (c *MySQLCatalog) ListColumns(ctx context.Context, table string) ([]Column, error) {
	rows, err := c.db.QueryContext(ctx, listColumnsQuery, table)
	if err != nil {
		return nil, newSchemaAccessError("list columns", table, err)
	}
	defer rows.Close()

	var columns []Column
	for rows.Next() {
		var col Column
		if err := rows.Scan(&col.Name, &col.DataType); err != nil {
			return nil, newSchemaAccessError("list columns", table, err)
		}
		columns = append(columns, col)
	}
	if err := rows.Err(); err != nil {
		return nil, newSchemaAccessError("list columns", table, err)
	}
	if len(columns) == 0 {
		return nil, newSchemaAccessError("list columns", table, ErrTableNotFound)
	}
	return columns, nil
}

// TableExists implements Catalog
func (c *MySQLCatalog) TableExists(ctx context.Context, table string) (bool, error) {
	var n int
	if err := c.db.QueryRowContext(ctx, tableExistsQuery, table).Scan(&n); err != nil {
		return false, newSchemaAccessError("check table", table, err)
	}
	return n > 0, nil
}

// QuoteIdentifier wraps name in backticks, doubling embedded backticks.
func QuoteIdentifier(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

func quoteColumns(columns []string) string {
	quoted := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = QuoteIdentifier(c)
	}
	return strings.Join(quoted, ", ")
}
