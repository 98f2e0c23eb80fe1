package display

import (
	"fmt"
	"path"
	"sort"
	"strconv"
	"time"

	"mysql-snapshot/internal/retention"
	"mysql-snapshot/internal/snapshot"
	"mysql-snapshot/internal/storage"
)

// ArtifactListing is the structured form of a list command
type ArtifactListing struct {
	Location  string               `json:"location" yaml:"location"`
	Artifacts []storage.ObjectInfo `json:"artifacts" yaml:"artifacts"`
}

// SnapshotSummary is the structured form of an inspect command
type SnapshotSummary struct {
	Artifact  string            `json:"artifact" yaml:"artifact"`
	Metadata  snapshot.Metadata `json:"metadata" yaml:"metadata"`
	Tables    map[string]int    `json:"tables" yaml:"tables"`
	TotalRows int64             `json:"total_rows" yaml:"total_rows"`
}

// NewSnapshotSummary collects per-table row counts from snap
func NewSnapshotSummary(artifact string, snap *snapshot.Snapshot) SnapshotSummary {
	s := SnapshotSummary{
		Artifact:  artifact,
		Metadata:  snap.Metadata,
		Tables:    make(map[string]int, len(snap.Tables)),
		TotalRows: snap.TotalRows(),
	}
	for name, t := range snap.Tables {
		s.Tables[name] = t.RowCount
	}
	return s
}

// FormatDiffLine renders one table as "name: current → backup (+n)"
func FormatDiffLine(table string, d snapshot.TableDiff) string {
	return fmt.Sprintf("%s: %d → %d (%s)", table, d.CurrentRows, d.BackupRows, signed(d.Diff))
}

func signed(n int64) string {
	if n > 0 {
		return "+" + strconv.FormatInt(n, 10)
	}
	return strconv.FormatInt(n, 10)
}

func diffColor(n int64) Color {
	switch {
	case n > 0:
		return ColorSuccess
	case n < 0:
		return ColorWarning
	default:
		return ColorMuted
	}
}

// PrintDiff renders a diff summary, one line per table followed by totals
func (p *Printer) PrintDiff(summary *snapshot.DiffSummary) error {
	if summary == nil {
		return nil
	}
	if p.Structured() {
		return p.Structure(summary)
	}

	fmt.Fprintln(p.out, p.colors.Colorize("Changes if restored (current → backup):", ColorBold))
	names := summary.TableNames()
	if len(names) == 0 {
		fmt.Fprintln(p.out, p.colors.Colorize("  no tables", ColorMuted))
	}
	for _, name := range names {
		d := summary.Tables[name]
		fmt.Fprintf(p.out, "  %s\n", p.colors.Colorize(FormatDiffLine(name, d), diffColor(d.Diff)))
	}
	total := snapshot.NewTableDiff(summary.TotalCurrentRows, summary.TotalBackupRows)
	fmt.Fprintf(p.out, "  %s\n", p.colors.Colorize(FormatDiffLine("total", total), ColorBold))
	return nil
}

// PrintArtifacts lists the artifacts of one store, newest first as given
func (p *Printer) PrintArtifacts(location string, artifacts []storage.ObjectInfo) error {
	if p.Structured() {
		if artifacts == nil {
			artifacts = []storage.ObjectInfo{}
		}
		return p.Structure(ArtifactListing{Location: location, Artifacts: artifacts})
	}

	fmt.Fprintln(p.out, p.colors.Colorize(location, ColorBold))
	if len(artifacts) == 0 {
		fmt.Fprintln(p.out, p.colors.Colorize("  no artifacts found", ColorMuted))
		return nil
	}
	table := NewTable(p.colors, "NAME", "SIZE", "MODIFIED").SetAlignment(1, AlignRight)
	for _, a := range artifacts {
		table.AddRow(ColorNone, path.Base(a.Key), FormatSize(a.Size), a.LastModified.UTC().Format(time.RFC3339))
	}
	table.RenderTo(p.out)
	return nil
}

// PrintSnapshot renders an artifact's metadata and per-table row counts
func (p *Printer) PrintSnapshot(summary SnapshotSummary) error {
	if p.Structured() {
		return p.Structure(summary)
	}

	meta := summary.Metadata
	revision := meta.MigrationRevision
	if revision == "" {
		revision = "(none)"
	}
	fmt.Fprintln(p.out, p.colors.Colorize(summary.Artifact, ColorBold))
	fmt.Fprintf(p.out, "  format version: %s\n", meta.Version)
	fmt.Fprintf(p.out, "  taken at:       %s\n", meta.Timestamp.UTC().Format(time.RFC3339))
	fmt.Fprintf(p.out, "  database:       %s@%s\n", meta.DatabaseName, meta.DatabaseHost)
	fmt.Fprintf(p.out, "  revision:       %s\n", revision)

	table := NewTable(p.colors, "TABLE", "ROWS").SetAlignment(1, AlignRight)
	names := make([]string, 0, len(summary.Tables))
	for name := range summary.Tables {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		table.AddRow(ColorNone, name, strconv.Itoa(summary.Tables[name]))
	}
	table.AddRow(ColorBold, "total", strconv.FormatInt(summary.TotalRows, 10))
	table.RenderTo(p.out)
	return nil
}

// PrintRestoreResult renders the outcome of a restore
func (p *Printer) PrintRestoreResult(result *snapshot.RestoreResult) error {
	if p.Structured() {
		return p.Structure(result)
	}
	if result.Success {
		p.Success("%s", result.Message)
	} else {
		p.Error("%s", result.Message)
	}
	return nil
}

// PrintSweepReport renders the outcome of a retention sweep
func (p *Printer) PrintSweepReport(report *retention.SweepReport) error {
	if p.Structured() {
		return p.Structure(report)
	}

	verb := "deleted"
	if report.DryRun {
		verb = "would delete"
	}
	for _, pass := range []*retention.PassReport{report.Local, report.Remote} {
		if pass == nil {
			continue
		}
		if pass.Err != nil {
			p.Error("%s: %v", pass.Location, pass.Err)
			continue
		}
		p.Info("%s: scanned %d, kept %d, %s %d", pass.Location, pass.Scanned, pass.Kept, verb, len(pass.Deleted))
		for _, name := range pass.Deleted {
			fmt.Fprintf(p.out, "  - %s\n", p.colors.Colorize(name, ColorMuted))
		}
		for _, name := range pass.Skipped {
			p.Warning("%s: skipped unrecognised name %s", pass.Location, name)
		}
		for _, msg := range pass.Errors {
			p.Error("%s: %s", pass.Location, msg)
		}
	}
	return nil
}

// FormatSize renders a byte count using binary units
func FormatSize(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
