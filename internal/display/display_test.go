package display

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"mysql-snapshot/internal/retention"
	"mysql-snapshot/internal/snapshot"
	"mysql-snapshot/internal/storage"
)

func newTestPrinter(format Format) (*Printer, *bytes.Buffer) {
	var buf bytes.Buffer
	return NewPrinter(&buf, true, format), &buf
}

func sampleDiff() *snapshot.DiffSummary {
	return &snapshot.DiffSummary{
		Tables: map[string]snapshot.TableDiff{
			"users":  snapshot.NewTableDiff(10, 12),
			"orders": snapshot.NewTableDiff(5, 0),
			"tags":   snapshot.NewTableDiff(3, 3),
		},
		TotalCurrentRows: 18,
		TotalBackupRows:  15,
		TotalDiff:        -3,
	}
}

func TestParseFormat(t *testing.T) {
	for in, want := range map[string]Format{"": FormatTable, "table": FormatTable, "JSON": FormatJSON, " yaml ": FormatYAML} {
		got, err := ParseFormat(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}
	_, err := ParseFormat("xml")
	assert.Error(t, err)
}

func TestColorSystemDisabledForNonTerminal(t *testing.T) {
	cs := NewColorSystem(&bytes.Buffer{}, true)
	assert.False(t, cs.Enabled())
	assert.Equal(t, "plain", cs.Colorize("plain", ColorError))
}

func TestFormatDiffLine(t *testing.T) {
	assert.Equal(t, "users: 10 → 12 (+2)", FormatDiffLine("users", snapshot.NewTableDiff(10, 12)))
	assert.Equal(t, "orders: 5 → 0 (-5)", FormatDiffLine("orders", snapshot.NewTableDiff(5, 0)))
	assert.Equal(t, "tags: 3 → 3 (0)", FormatDiffLine("tags", snapshot.NewTableDiff(3, 3)))
}

func TestPrintDiffTable(t *testing.T) {
	p, buf := newTestPrinter(FormatTable)
	require.NoError(t, p.PrintDiff(sampleDiff()))

	out := buf.String()
	assert.Contains(t, out, "users: 10 → 12 (+2)")
	assert.Contains(t, out, "total: 18 → 15 (-3)")
	assert.Less(t, strings.Index(out, "orders:"), strings.Index(out, "tags:"))
	assert.Less(t, strings.Index(out, "tags:"), strings.Index(out, "users:"))
}

func TestPrintDiffJSON(t *testing.T) {
	p, buf := newTestPrinter(FormatJSON)
	require.NoError(t, p.PrintDiff(sampleDiff()))

	var decoded snapshot.DiffSummary
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, int64(2), decoded.Tables["users"].Diff)
	assert.Equal(t, int64(-3), decoded.TotalDiff)
}

func TestPrintArtifacts(t *testing.T) {
	artifacts := []storage.ObjectInfo{
		{Key: "backup_20250102_000000.backup.gz", Size: 2048, LastModified: time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)},
		{Key: "backup_20250101_000000.backup.zst", Size: 12, LastModified: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)},
	}

	t.Run("table", func(t *testing.T) {
		p, buf := newTestPrinter(FormatTable)
		require.NoError(t, p.PrintArtifacts("./backups", artifacts))
		out := buf.String()
		assert.Contains(t, out, "backup_20250102_000000.backup.gz")
		assert.Contains(t, out, "2.0 KiB")
		assert.Contains(t, out, "2025-01-01T00:00:00Z")
	})

	t.Run("yaml", func(t *testing.T) {
		p, buf := newTestPrinter(FormatYAML)
		require.NoError(t, p.PrintArtifacts("s3://bucket/prefix", artifacts))
		var decoded ArtifactListing
		require.NoError(t, yaml.Unmarshal(buf.Bytes(), &decoded))
		assert.Equal(t, "s3://bucket/prefix", decoded.Location)
		require.Len(t, decoded.Artifacts, 2)
		assert.Equal(t, int64(2048), decoded.Artifacts[0].Size)
	})

	t.Run("empty json", func(t *testing.T) {
		p, buf := newTestPrinter(FormatJSON)
		require.NoError(t, p.PrintArtifacts("./backups", nil))
		assert.Contains(t, buf.String(), `"artifacts": []`)
	})
}

func TestPrintSnapshot(t *testing.T) {
	snap := &snapshot.Snapshot{
		Metadata: snapshot.Metadata{
			Version:      snapshot.FormatVersion,
			Timestamp:    time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC),
			DatabaseName: "app",
			DatabaseHost: "db",
		},
		Tables: map[string]*snapshot.TableSnapshot{
			"users":  {RowCount: 2, Columns: []string{"id"}, Data: [][]any{{int64(1)}, {int64(2)}}},
			"orders": {RowCount: 0, Columns: []string{"id"}, Data: [][]any{}},
		},
	}
	summary := NewSnapshotSummary("backup_20250102_030405.backup.gz", snap)
	assert.Equal(t, int64(2), summary.TotalRows)

	p, buf := newTestPrinter(FormatTable)
	require.NoError(t, p.PrintSnapshot(summary))
	out := buf.String()
	assert.Contains(t, out, "app@db")
	assert.Contains(t, out, "(none)")
	assert.Contains(t, out, "2025-01-02T03:04:05Z")
	assert.Less(t, strings.Index(out, "orders"), strings.Index(out, "users"))
}

func TestPrintRestoreResult(t *testing.T) {
	p, buf := newTestPrinter(FormatTable)
	require.NoError(t, p.PrintRestoreResult(&snapshot.RestoreResult{Success: false, Message: "Restore failed: boom"}))
	assert.Contains(t, buf.String(), "✗ Restore failed: boom")

	p, buf = newTestPrinter(FormatJSON)
	require.NoError(t, p.PrintRestoreResult(&snapshot.RestoreResult{Success: true, RestoredTables: 2, RestoredRows: 7}))
	assert.Contains(t, buf.String(), `"restored_rows": 7`)
}

func TestPrintSweepReport(t *testing.T) {
	report := &retention.SweepReport{
		DryRun: true,
		Local:  &retention.PassReport{Location: "./backups", Scanned: 3, Kept: 1, Deleted: []string{"backup_20240101_000000.backup.gz"}, Skipped: []string{"backup_garbage.backup.gz"}},
		Remote: &retention.PassReport{Location: "s3://bucket", Err: errors.New("access denied")},
	}
	p, buf := newTestPrinter(FormatTable)
	require.NoError(t, p.PrintSweepReport(report))

	out := buf.String()
	assert.Contains(t, out, "would delete 1")
	assert.Contains(t, out, "backup_20240101_000000.backup.gz")
	assert.Contains(t, out, "skipped unrecognised name backup_garbage.backup.gz")
	assert.Contains(t, out, "s3://bucket: access denied")
}

func TestQuietAndStructuredSuppressStatus(t *testing.T) {
	p, buf := newTestPrinter(FormatTable)
	p.SetQuiet(true)
	p.Info("hidden")
	p.Success("hidden")
	p.Warning("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")

	p, buf = newTestPrinter(FormatJSON)
	p.Warning("not json")
	assert.Empty(t, buf.String())
}

func TestTableRender(t *testing.T) {
	table := NewTable(NewColorSystem(&bytes.Buffer{}, false), "NAME", "ROWS").SetAlignment(1, AlignRight)
	table.AddRow(ColorNone, "users", "12")
	table.AddRow(ColorNone, "ünïcode", "3")

	lines := strings.Split(strings.TrimRight(table.Render(), "\n"), "\n")
	require.Len(t, lines, 6)
	assert.Equal(t, "+---------+------+", lines[0])
	assert.Equal(t, "| NAME    | ROWS |", lines[1])
	assert.Equal(t, "| users   |   12 |", lines[3])
	assert.Equal(t, "| ünïcode |    3 |", lines[4])

	assert.Empty(t, NewTable(NewColorSystem(&bytes.Buffer{}, false)).Render())
}

func TestFormatSize(t *testing.T) {
	assert.Equal(t, "512 B", FormatSize(512))
	assert.Equal(t, "1.5 KiB", FormatSize(1536))
	assert.Equal(t, "3.0 MiB", FormatSize(3*1024*1024))
}

func TestConfirm(t *testing.T) {
	newPrompter := func(input string, tty bool) (*Prompter, *bytes.Buffer) {
		var out bytes.Buffer
		return &Prompter{in: strings.NewReader(input), out: &out, interactive: func() bool { return tty }}, &out
	}

	p, out := newPrompter("yes\n", true)
	ok, err := p.Confirm("Restore?")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "Restore? [y/N]: ", out.String())

	p, _ = newPrompter("n\n", true)
	ok, err = p.Confirm("Restore?")
	require.NoError(t, err)
	assert.False(t, ok)

	p, _ = newPrompter("Y", true)
	ok, err = p.Confirm("Restore?")
	require.NoError(t, err)
	assert.True(t, ok)

	p, _ = newPrompter("y\n", false)
	_, err = p.Confirm("Restore?")
	assert.ErrorIs(t, err, ErrNotInteractive)

	_, err = NewPrompter(strings.NewReader("y\n"), &bytes.Buffer{}).Confirm("Restore?")
	assert.ErrorIs(t, err, ErrNotInteractive)
}
