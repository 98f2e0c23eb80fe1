package snapshot

import (
	"fmt"
	"sort"
	"time"

	json "github.com/goccy/go-json"
)

// FormatVersion is written into every artifact's metadata
const FormatVersion = "1.0"

// Metadata describes when and from where a snapshot was taken
type Metadata struct {
	Version           string    `json:"version"`
	Timestamp         time.Time `json:"timestamp"`
	MigrationRevision string    `json:"migration_version"`
	DatabaseName      string    `json:"database_name"`
	DatabaseHost      string    `json:"database_host"`
}

// UnmarshalJSON accepts timestamps with or without a zone offset; zoneless
// ones are read as UTC.
func (m *Metadata) UnmarshalJSON(data []byte) error {
	var aux struct {
		Version           string `json:"version"`
		Timestamp         string `json:"timestamp"`
		MigrationRevision string `json:"migration_version"`
		DatabaseName      string `json:"database_name"`
		DatabaseHost      string `json:"database_host"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	*m = Metadata{
		Version:           aux.Version,
		MigrationRevision: aux.MigrationRevision,
		DatabaseName:      aux.DatabaseName,
		DatabaseHost:      aux.DatabaseHost,
	}
	if aux.Timestamp == "" {
		return nil
	}
	t, ok := parseTimestamp(aux.Timestamp)
	if !ok {
		return fmt.Errorf("invalid metadata timestamp %q", aux.Timestamp)
	}
	m.Timestamp = t
	return nil
}

// TableSnapshot holds the full contents of one table. Data rows contain
// codec-encoded values in Columns order.
type TableSnapshot struct {
	RowCount int      `json:"row_count"`
	Columns  []string `json:"columns"`
	Data     [][]any  `json:"data"`
}

// Snapshot is the in-memory form of an artifact
type Snapshot struct {
	Metadata Metadata                  `json:"metadata"`
	Tables   map[string]*TableSnapshot `json:"tables"`
}

// TableNames returns the captured table names in sorted order
func (s *Snapshot) TableNames() []string {
	names := make([]string, 0, len(s.Tables))
	for name := range s.Tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// TotalRows sums row_count over all tables
func (s *Snapshot) TotalRows() int64 {
	var total int64
	for _, t := range s.Tables {
		total += int64(t.RowCount)
	}
	return total
}

// Validate checks the structural invariants a loaded artifact must satisfy
func (s *Snapshot) Validate() error {
	if s.Metadata.Version == "" {
		return fmt.Errorf("metadata.version is missing")
	}
	if s.Metadata.Version != FormatVersion {
		return fmt.Errorf("unsupported format version %q", s.Metadata.Version)
	}
	for _, name := range s.TableNames() {
		t := s.Tables[name]
		if t == nil {
			return fmt.Errorf("table %s: missing body", name)
		}
		if t.RowCount != len(t.Data) {
			return fmt.Errorf("table %s: row_count %d does not match %d data rows", name, t.RowCount, len(t.Data))
		}
		for i, row := range t.Data {
			if len(row) != len(t.Columns) {
				return fmt.Errorf("table %s: row %d has %d values for %d columns", name, i, len(row), len(t.Columns))
			}
		}
	}
	return nil
}

// TableDiff compares one table's live row count with the snapshot's
type TableDiff struct {
	CurrentRows int64 `json:"current_rows" yaml:"current_rows"`
	BackupRows  int64 `json:"backup_rows" yaml:"backup_rows"`
	Diff        int64 `json:"diff" yaml:"diff"`
}

// NewTableDiff derives Diff as backup minus current
func NewTableDiff(current, backup int64) TableDiff {
	return TableDiff{CurrentRows: current, BackupRows: backup, Diff: backup - current}
}

// DiffSummary is the per-table and total comparison between a snapshot and
// the live database
type DiffSummary struct {
	Tables           map[string]TableDiff `json:"tables" yaml:"tables"`
	TotalCurrentRows int64                `json:"total_current_rows" yaml:"total_current_rows"`
	TotalBackupRows  int64                `json:"total_backup_rows" yaml:"total_backup_rows"`
	TotalDiff        int64                `json:"total_diff" yaml:"total_diff"`
}

func newDiffSummary() *DiffSummary {
	return &DiffSummary{Tables: make(map[string]TableDiff)}
}

func (d *DiffSummary) add(table string, current, backup int64) {
	td := NewTableDiff(current, backup)
	d.Tables[table] = td
	d.TotalCurrentRows += td.CurrentRows
	d.TotalBackupRows += td.BackupRows
	d.TotalDiff += td.Diff
}

// TableNames returns the compared tables in sorted order
func (d *DiffSummary) TableNames() []string {
	names := make([]string, 0, len(d.Tables))
	for name := range d.Tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RestoreResult reports the outcome of a restore. Failures are reported
// here rather than as an error.
type RestoreResult struct {
	Success        bool         `json:"success" yaml:"success"`
	Message        string       `json:"message" yaml:"message"`
	DiffSummary    *DiffSummary `json:"diff_summary,omitempty" yaml:"diff_summary,omitempty"`
	RestoredTables int          `json:"restored_tables" yaml:"restored_tables"`
	RestoredRows   int64        `json:"restored_rows" yaml:"restored_rows"`
}

// Column is one live column with its MySQL data type
type Column struct {
	Name     string
	DataType string
}

// ColumnNames projects a column list onto its names
func ColumnNames(columns []Column) []string {
	names := make([]string, len(columns))
	for i, c := range columns {
		names[i] = c.Name
	}
	return names
}
