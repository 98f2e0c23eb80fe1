package snapshot

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"strings"
	"time"

	"mysql-snapshot/internal/logging"
)

// DB is what a restore needs from a connection pool: catalog reads and a
// dedicated connection for the transaction.
type DB interface {
	Querier
	Conn(ctx context.Context) (*sql.Conn, error)
}

// RestoreOptions configures a Restorer
type RestoreOptions struct {
	RevisionTable RevisionTable
	// DisableForeignKeyChecks turns FOREIGN_KEY_CHECKS off on the restore
	// connection so tables can be emptied and refilled in any order.
	DisableForeignKeyChecks bool
}

// Restorer replaces the live data with an artifact's contents in one
// transaction. Callers must not run two restores, or a restore and a build,
// against the same database at once.
type Restorer struct {
	db      DB
	catalog Catalog
	differ  *Differ
	codec   ArtifactCodec
	options RestoreOptions
	logger  *logging.Logger
}

// NewRestorer creates a Restorer. differ may be nil when no preview is wanted.
func NewRestorer(db DB, catalog Catalog, differ *Differ, codec ArtifactCodec, options RestoreOptions, logger *logging.Logger) *Restorer {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	options.RevisionTable = options.RevisionTable.normalized()
	return &Restorer{db: db, catalog: catalog, differ: differ, codec: codec, options: options, logger: logger}
}

// restorePlan is the read-only pre-flight result
type restorePlan struct {
	liveTables     []string
	columns        map[string][]Column
	revisionExists bool
}

// Restore loads the artifact at path and restores it. Failures are reported
// in the result, never as a panic or error.
func (r *Restorer) Restore(ctx context.Context, path string, showDiff bool) *RestoreResult {
	start := time.Now()

	snap, err := r.codec.Load(path)
	if err != nil {
		return r.failed(path, start, nil, err)
	}

	var summary *DiffSummary
	if showDiff && r.differ != nil {
		summary, err = r.differ.DiffSnapshot(ctx, snap)
		if err != nil {
			r.logger.WithError(err).Warn("Failed to compute pre-restore diff")
			summary = nil
		}
	}

	result := r.RestoreSnapshot(ctx, snap)
	result.DiffSummary = summary
	if !result.Success {
		r.logger.LogRestoreCompleted(path, false, 0, 0, time.Since(start), result.Message)
		return result
	}
	r.logger.LogRestoreCompleted(path, true, result.RestoredTables, result.RestoredRows, time.Since(start), result.Message)
	return result
}

func (r *Restorer) failed(path string, start time.Time, summary *DiffSummary, err error) *RestoreResult {
	result := &RestoreResult{
		Success:     false,
		Message:     fmt.Sprintf("Restore failed: %v", err),
		DiffSummary: summary,
	}
	r.logger.LogRestoreCompleted(path, false, 0, 0, time.Since(start), result.Message)
	return result
}

// Verify runs the read-only pre-flight checks a restore of snap would run
func (r *Restorer) Verify(ctx context.Context, snap *Snapshot) error {
	_, err := r.plan(ctx, snap)
	return err
}

func (r *Restorer) plan(ctx context.Context, snap *Snapshot) (*restorePlan, error) {
	live, err := r.catalog.ListTables(ctx)
	if err != nil {
		return nil, err
	}
	p := &restorePlan{columns: make(map[string][]Column)}

	liveSet := make(map[string]struct{}, len(live))
	for _, t := range live {
		liveSet[t] = struct{}{}
		if t == r.options.RevisionTable.Table {
			p.revisionExists = true
		} else {
			p.liveTables = append(p.liveTables, t)
		}
	}

	for _, table := range snap.TableNames() {
		ts := snap.Tables[table]
		if ts.RowCount == 0 {
			continue
		}
		if _, ok := liveSet[table]; !ok {
			return nil, fmt.Errorf("table %s is not present in the live schema", table)
		}
		columns, err := r.catalog.ListColumns(ctx, table)
		if err != nil {
			return nil, err
		}
		byName := make(map[string]Column, len(columns))
		for _, c := range columns {
			byName[c.Name] = c
		}
		ordered := make([]Column, len(ts.Columns))
		for i, name := range ts.Columns {
			c, ok := byName[name]
			if !ok {
				return nil, fmt.Errorf("column %s.%s is not present in the live schema", table, name)
			}
			ordered[i] = c
		}
		p.columns[table] = ordered
	}

	if !p.revisionExists && snap.Metadata.MigrationRevision != "" {
		return nil, fmt.Errorf("revision table %s is not present in the live schema", r.options.RevisionTable.Table)
	}
	return p, nil
}

// RestoreSnapshot restores an already loaded snapshot
func (r *Restorer) RestoreSnapshot(ctx context.Context, snap *Snapshot) *RestoreResult {
	p, err := r.plan(ctx, snap)
	if err != nil {
		return &RestoreResult{Message: fmt.Sprintf("Restore failed: %v", err)}
	}

	tables, rows, err := r.apply(ctx, snap, p)
	if err != nil {
		return &RestoreResult{Message: fmt.Sprintf("Restore failed: %v", err)}
	}
	return &RestoreResult{
		Success:        true,
		Message:        fmt.Sprintf("Restored %d rows into %d tables", rows, tables),
		RestoredTables: tables,
		RestoredRows:   rows,
	}
}

func (r *Restorer) apply(ctx context.Context, snap *Snapshot, p *restorePlan) (tables int, rows int64, err error) {
	conn, err := r.db.Conn(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Close()

	if r.options.DisableForeignKeyChecks {
		if _, err := conn.ExecContext(ctx, "SET FOREIGN_KEY_CHECKS = 0"); err != nil {
			return 0, 0, fmt.Errorf("disable foreign key checks: %w", err)
		}
		defer func() {
			if _, resetErr := conn.ExecContext(context.WithoutCancel(ctx), "SET FOREIGN_KEY_CHECKS = 1"); resetErr != nil {
				r.logger.WithError(resetErr).Warn("Failed to re-enable foreign key checks, discarding connection")
				discardConn(conn)
			}
		}()
	}

	stx, err := beginScoped(ctx, conn)
	if err != nil {
		return 0, 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer stx.Close()

	for _, table := range p.liveTables {
		if _, err := stx.ExecContext(ctx, "DELETE FROM "+QuoteIdentifier(table)); err != nil {
			return 0, 0, fmt.Errorf("clear table %s: %w", table, err)
		}
	}

	if p.revisionExists {
		if err := r.reconcileRevision(ctx, stx, snap.Metadata.MigrationRevision); err != nil {
			return 0, 0, err
		}
	}

	for _, table := range snap.TableNames() {
		ts := snap.Tables[table]
		if ts.RowCount == 0 {
			continue
		}
		if err := r.insertRows(ctx, stx, table, ts, p.columns[table]); err != nil {
			return 0, 0, err
		}
		tables++
		rows += int64(ts.RowCount)
	}

	if err := stx.Commit(); err != nil {
		return 0, 0, fmt.Errorf("commit: %w", err)
	}
	return tables, rows, nil
}

// discardConn keeps a session with altered state out of the pool
func discardConn(conn *sql.Conn) {
	_ = conn.Raw(func(any) error { return driver.ErrBadConn })
}

func (r *Restorer) reconcileRevision(ctx context.Context, q Querier, target string) error {
	current, err := r.options.RevisionTable.Read(ctx, q)
	if err != nil {
		return fmt.Errorf("read migration revision: %w", err)
	}
	if current == target {
		return nil
	}
	r.logger.WithFields(map[string]interface{}{
		"from": current,
		"to":   target,
	}).Info("Resetting migration revision")
	return r.options.RevisionTable.Replace(ctx, q, target)
}

func (r *Restorer) insertRows(ctx context.Context, q Querier, table string, ts *TableSnapshot, columns []Column) error {
	hints := make([]TypeHint, len(columns))
	for i, c := range columns {
		hints[i] = HintForType(c.DataType)
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(ts.Columns)), ", ")
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", QuoteIdentifier(table), quoteColumns(ts.Columns), placeholders)

	args := make([]any, len(ts.Columns))
	for n, row := range ts.Data {
		for i, v := range DecodeRow(row, hints) {
			args[i] = v.DriverValue()
		}
		if _, err := q.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("insert into %s (row %d): %w", table, n, err)
		}
	}
	return nil
}
