package snapshot

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	apperrors "mysql-snapshot/internal/errors"
	"mysql-snapshot/internal/logging"
	"mysql-snapshot/internal/storage"
)

// BuilderOptions configures a Builder
type BuilderOptions struct {
	DatabaseName  string
	DatabaseHost  string
	RevisionTable RevisionTable
	Codec         ArtifactCodec
}

// Builder captures the live database into artifacts
type Builder struct {
	db        Querier
	catalog   Catalog
	revisions RevisionSource
	options   BuilderOptions
	logger    *logging.Logger
	now       func() time.Time
}

// NewBuilder creates a Builder. A nil logger discards output.
func NewBuilder(db Querier, catalog Catalog, revisions RevisionSource, options BuilderOptions, logger *logging.Logger) *Builder {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	options.RevisionTable = options.RevisionTable.normalized()
	if options.Codec.Compression == "" {
		options.Codec.Compression = CompressionGzip
	}
	return &Builder{
		db:        db,
		catalog:   catalog,
		revisions: revisions,
		options:   options,
		logger:    logger,
		now:       time.Now,
	}
}

// Capture reads every table into an in-memory Snapshot. Each table is read
// with a single unpaginated SELECT, so the whole database must fit in memory.
func (b *Builder) Capture(ctx context.Context) (*Snapshot, error) {
	revision, err := b.currentRevision(ctx)
	if err != nil {
		return nil, err
	}

	tables, err := b.catalog.ListTables(ctx)
	if err != nil {
		return nil, err
	}

	snap := &Snapshot{
		Metadata: Metadata{
			Version:           FormatVersion,
			Timestamp:         b.now().UTC(),
			MigrationRevision: revision,
			DatabaseName:      b.options.DatabaseName,
			DatabaseHost:      b.options.DatabaseHost,
		},
		Tables: make(map[string]*TableSnapshot, len(tables)),
	}

	for _, table := range excludeTable(tables, b.options.RevisionTable.Table) {
		ts, err := b.captureTable(ctx, table)
		if err != nil {
			return nil, err
		}
		snap.Tables[table] = ts
	}
	return snap, nil
}

func (b *Builder) currentRevision(ctx context.Context) (string, error) {
	if b.revisions == nil {
		return "", nil
	}
	revision, err := b.revisions.CurrentRevision(ctx)
	switch {
	case apperrors.IsTableNotFound(err):
		b.logger.WithField("table", b.options.RevisionTable.Table).
			Warn("Revision table not found, recording empty migration revision")
		return "", nil
	case err != nil:
		return "", newDatabaseError("failed to read migration revision", err)
	case revision == "":
		b.logger.Warn("No migration revision recorded, recording empty migration revision")
	}
	return revision, nil
}

func (b *Builder) captureTable(ctx context.Context, table string) (*TableSnapshot, error) {
	start := time.Now()

	columns, err := b.catalog.ListColumns(ctx, table)
	if err != nil {
		return nil, err
	}
	names := ColumnNames(columns)

	query := fmt.Sprintf("SELECT %s FROM %s", quoteColumns(names), QuoteIdentifier(table))
	rows, err := b.db.QueryContext(ctx, query)
	if err != nil {
		return nil, newDatabaseError("failed to read table", err).WithContext("table", table)
	}
	defer rows.Close()

	types, err := rows.ColumnTypes()
	if err != nil {
		return nil, newDatabaseError("failed to read column types", err).WithContext("table", table)
	}
	databaseTypes := make([]string, len(names))
	for i := range databaseTypes {
		if i < len(types) && types[i].DatabaseTypeName() != "" {
			databaseTypes[i] = types[i].DatabaseTypeName()
		} else {
			databaseTypes[i] = columns[i].DataType
		}
	}

	ts := &TableSnapshot{Columns: names, Data: [][]any{}}
	cells := make([]any, len(names))
	dest := make([]any, len(names))
	for i := range cells {
		dest[i] = &cells[i]
	}

	for rows.Next() {
		if err := rows.Scan(dest...); err != nil {
			return nil, newDatabaseError("failed to scan row", err).WithContext("table", table)
		}
		row := make([]any, len(cells))
		for i, cell := range cells {
			row[i] = Encode(FromDriver(cell, databaseTypes[i]))
		}
		ts.Data = append(ts.Data, row)
	}
	if err := rows.Err(); err != nil {
		return nil, newDatabaseError("failed to read table", err).WithContext("table", table)
	}

	ts.RowCount = len(ts.Data)
	b.logger.LogTableCaptured(table, ts.RowCount, time.Since(start))
	return ts, nil
}

// Build captures the database and writes the artifact into outputDir,
// returning its path. No partial file is left behind on failure.
func (b *Builder) Build(ctx context.Context, outputDir string) (path string, err error) {
	start := time.Now()
	var (
		snap *Snapshot
		size int64
	)
	defer func() {
		tables, rows := 0, 0
		if snap != nil {
			tables, rows = len(snap.Tables), int(snap.TotalRows())
		}
		b.logger.LogSnapshotCreated(path, tables, rows, size, time.Since(start), err)
	}()

	snap, err = b.Capture(ctx)
	if err != nil {
		var be *BackupError
		if !errors.As(err, &be) {
			return "", newDatabaseError("failed to enumerate schema", err)
		}
		return "", err
	}

	if err := os.MkdirAll(outputDir, 0o750); err != nil {
		return "", newStorageError("failed to create backup directory", err).WithContext("dir", outputDir)
	}

	target := filepath.Join(outputDir, ArtifactName(snap.Metadata.Timestamp, b.options.Codec.Compression))
	if _, statErr := os.Stat(target); statErr == nil {
		return "", NewBackupError(BackupErrorTypeConflict, "backup file already exists", nil).WithContext("path", target)
	} else if !errors.Is(statErr, fs.ErrNotExist) {
		return "", newStorageError("failed to check backup file", statErr).WithContext("path", target)
	}

	data, err := b.options.Codec.Encode(snap)
	if err != nil {
		return "", err
	}
	if err := storage.WriteFileAtomic(target, data); err != nil {
		return "", newStorageError("failed to write backup file", err).WithContext("path", target)
	}

	size = int64(len(data))
	return target, nil
}

func excludeTable(tables []string, excluded string) []string {
	out := make([]string, 0, len(tables))
	for _, t := range tables {
		if t != excluded {
			out = append(out, t)
		}
	}
	return out
}
