package snapshot

import (
	"context"
	"sort"

	apperrors "mysql-snapshot/internal/errors"
	"mysql-snapshot/internal/logging"
)

// Differ compares artifacts with the live database. It never writes.
type Differ struct {
	db            Querier
	catalog       Catalog
	codec         ArtifactCodec
	revisionTable string
	logger        *logging.Logger
}

// NewDiffer creates a Differ. A nil logger discards output.
func NewDiffer(db Querier, catalog Catalog, codec ArtifactCodec, revisionTable RevisionTable, logger *logging.Logger) *Differ {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Differ{
		db:            db,
		catalog:       catalog,
		codec:         codec,
		revisionTable: revisionTable.normalized().Table,
		logger:        logger,
	}
}

// Diff loads the artifact at path and compares it with the live database
func (d *Differ) Diff(ctx context.Context, path string) (*DiffSummary, error) {
	snap, err := d.codec.Load(path)
	if err != nil {
		return nil, err
	}
	summary, err := d.DiffSnapshot(ctx, snap)
	if err != nil {
		return nil, err
	}
	d.logger.LogDiffComputed(path, len(summary.Tables), summary.TotalCurrentRows, summary.TotalBackupRows, summary.TotalDiff)
	return summary, nil
}

// DiffSnapshot compares snap with the live database. Counts are taken one
// table at a time and are not a point-in-time view under concurrent writes.
func (d *Differ) DiffSnapshot(ctx context.Context, snap *Snapshot) (*DiffSummary, error) {
	live, err := d.catalog.ListTables(ctx)
	if err != nil {
		return nil, err
	}
	liveSet := make(map[string]struct{}, len(live))
	for _, t := range live {
		liveSet[t] = struct{}{}
	}

	summary := newDiffSummary()
	for _, table := range snap.TableNames() {
		var current int64
		if _, ok := liveSet[table]; ok {
			if current, err = d.countRows(ctx, table); err != nil {
				return nil, err
			}
		}
		summary.add(table, current, int64(snap.Tables[table].RowCount))
	}

	liveOnly := make([]string, 0)
	for _, table := range excludeTable(live, d.revisionTable) {
		if _, ok := snap.Tables[table]; !ok {
			liveOnly = append(liveOnly, table)
		}
	}
	sort.Strings(liveOnly)
	for _, table := range liveOnly {
		current, err := d.countRows(ctx, table)
		if err != nil {
			return nil, err
		}
		summary.add(table, current, 0)
	}
	return summary, nil
}

// countRows degrades to 0 on per-table failures such as a concurrently
// dropped table; a lost connection aborts the diff.
func (d *Differ) countRows(ctx context.Context, table string) (int64, error) {
	var n int64
	err := d.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+QuoteIdentifier(table)).Scan(&n)
	if err == nil {
		return n, nil
	}
	if apperrors.IsConnectionError(err) || ctx.Err() != nil {
		return 0, newSchemaAccessError("count rows", table, err)
	}
	d.logger.WithField("table", table).WithError(err).Warn("Failed to count rows, treating table as empty")
	return 0, nil
}
