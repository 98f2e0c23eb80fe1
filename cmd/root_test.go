package cmd

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/go-sql-driver/mysql"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"mysql-snapshot/internal/display"
	"mysql-snapshot/internal/snapshot"
)

// chdir changes the working directory for the duration of the test
func chdir(t *testing.T, dir string) {
	t.Helper()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
}

func resetFlags(c *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	c.Flags().VisitAll(reset)
	c.PersistentFlags().VisitAll(reset)
	for _, sub := range c.Commands() {
		resetFlags(sub)
	}
}

// execute runs the CLI with an isolated home, working directory and backup dir
func execute(t *testing.T, backupDir string, args ...string) (string, string, error) {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	chdir(t, home)
	t.Setenv("MYSQL_SNAPSHOT_BACKUP_DIR", backupDir)

	resetFlags(rootCmd)
	t.Cleanup(func() { resetFlags(rootCmd) })

	var stdout, stderr bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stderr)
	rootCmd.SetIn(bytes.NewReader(nil))
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func writeArtifact(t *testing.T, dir, name string) {
	t.Helper()
	snap := &snapshot.Snapshot{
		Metadata: snapshot.Metadata{
			Version:           snapshot.FormatVersion,
			Timestamp:         time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC),
			MigrationRevision: "20250101",
			DatabaseName:      "app",
			DatabaseHost:      "db",
		},
		Tables: map[string]*snapshot.TableSnapshot{
			"users": {RowCount: 1, Columns: []string{"id"}, Data: [][]any{{int64(1)}}},
		},
	}
	data, err := snapshot.ArtifactCodec{}.Encode(snap)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), data, 0o600))
}

func TestVersionCommand(t *testing.T) {
	SetVersionInfo("1.2.3", "today", "abc123", "go1.25")
	t.Cleanup(func() { SetVersionInfo("dev", "unknown", "unknown", "unknown") })

	out, _, err := execute(t, t.TempDir(), "version")
	require.NoError(t, err)
	assert.Contains(t, out, "mysql-snapshot version 1.2.3")
	assert.Contains(t, out, "Commit: abc123")
}

func TestConfigInit(t *testing.T) {
	target := filepath.Join(t.TempDir(), "conf", "snapshot.yaml")

	out, _, err := execute(t, t.TempDir(), "config", "init", "--output", target)
	require.NoError(t, err)
	assert.Contains(t, out, "Wrote "+target)

	data, err := os.ReadFile(target)
	require.NoError(t, err)
	var decoded map[string]interface{}
	require.NoError(t, yaml.Unmarshal(data, &decoded))
	assert.Contains(t, decoded, "backup")

	_, _, err = execute(t, t.TempDir(), "config", "init", "--output", target)
	assert.ErrorContains(t, err, "already exists")

	_, _, err = execute(t, t.TempDir(), "config", "init", "--output", target, "--force")
	assert.NoError(t, err)
}

func TestConfigInitStdout(t *testing.T) {
	out, _, err := execute(t, t.TempDir(), "config", "init", "--output", "-")
	require.NoError(t, err)
	assert.Contains(t, out, "# mysql-snapshot configuration")
	assert.Contains(t, out, "retention_days: 7")
}

func TestBackupListJSON(t *testing.T) {
	dir := t.TempDir()
	writeArtifact(t, dir, "backup_20250102_030405.backup.gz")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o600))

	out, _, err := execute(t, dir, "backup", "list", "--format", "json")
	require.NoError(t, err)

	var listings []display.ArtifactListing
	require.NoError(t, json.Unmarshal([]byte(out), &listings))
	require.Len(t, listings, 1)
	assert.Equal(t, dir, listings[0].Location)
	require.Len(t, listings[0].Artifacts, 1)
	assert.Equal(t, "backup_20250102_030405.backup.gz", listings[0].Artifacts[0].Key)
}

func TestBackupListRemoteNotConfigured(t *testing.T) {
	out, _, err := execute(t, t.TempDir(), "backup", "list", "--remote", "--no-color")
	require.NoError(t, err)
	assert.Contains(t, out, "no artifacts found")
	assert.Contains(t, out, "No remote storage configured")
}

func TestBackupInspect(t *testing.T) {
	dir := t.TempDir()
	writeArtifact(t, dir, "backup_20250102_030405.backup.gz")

	out, _, err := execute(t, dir, "backup", "inspect", "backup_20250102_030405.backup.gz", "--format", "yaml")
	require.NoError(t, err)

	var summary display.SnapshotSummary
	require.NoError(t, yaml.Unmarshal([]byte(out), &summary))
	assert.Equal(t, "backup_20250102_030405.backup.gz", summary.Artifact)
	assert.Equal(t, 1, summary.Tables["users"])
	assert.Equal(t, "20250101", summary.Metadata.MigrationRevision)
}

func TestBackupInspectMissingArtifact(t *testing.T) {
	_, _, err := execute(t, t.TempDir(), "backup", "inspect", "backup_20990101_000000.backup.gz")
	var be *snapshot.BackupError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, snapshot.BackupErrorTypeNotFound, be.Type)
}

func TestBackupSweepDryRun(t *testing.T) {
	dir := t.TempDir()
	writeArtifact(t, dir, "backup_20200101_000000.backup.gz")

	out, _, err := execute(t, dir, "backup", "sweep", "--dry-run", "--retention-days", "30")
	require.NoError(t, err)
	assert.Contains(t, out, "would delete 1")
	assert.FileExists(t, filepath.Join(dir, "backup_20200101_000000.backup.gz"))
}

func TestDatabaseCommandsRequireDatabaseConfig(t *testing.T) {
	_, _, err := execute(t, t.TempDir(), "backup", "diff", "backup_20250102_030405.backup.gz")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database name is required")
}

func TestInvalidFormat(t *testing.T) {
	_, _, err := execute(t, t.TempDir(), "backup", "list", "--format", "xml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "output format")
}

func TestVerboseAndQuietExclusive(t *testing.T) {
	_, _, err := execute(t, t.TempDir(), "backup", "list", "-v", "-q")
	assert.Error(t, err)
}

func TestReportError(t *testing.T) {
	var buf bytes.Buffer
	reportError(&buf, &mysql.MySQLError{Number: 2003, Message: "Can't connect to MySQL server"})
	assert.Contains(t, buf.String(), "Error: ")
	assert.Contains(t, buf.String(), "Check that the database server is running")

	buf.Reset()
	reportError(&buf, os.ErrInvalid)
	assert.NotContains(t, buf.String(), "Troubleshooting")
}

func TestRestorePreviewPrinter(t *testing.T) {
	summary := &snapshot.DiffSummary{
		Tables:           map[string]snapshot.TableDiff{"users": snapshot.NewTableDiff(4, 3)},
		TotalCurrentRows: 4,
		TotalBackupRows:  3,
		TotalDiff:        -1,
	}

	t.Run("structured output previews on stderr before prompting", func(t *testing.T) {
		var stdout, stderr bytes.Buffer
		p := display.NewPrinter(&stdout, false, display.FormatJSON)

		preview := restorePreviewPrinter(p, &stderr, false, true)
		require.NotNil(t, preview)
		require.NoError(t, printRestorePreview(preview, summary, nil))

		assert.Empty(t, stdout.String())
		assert.Contains(t, stderr.String(), "Changes if restored (current → backup):")
		assert.Contains(t, stderr.String(), "users: 4 → 3 (-1)")
	})

	t.Run("structured output reports a failed preview on stderr", func(t *testing.T) {
		var stdout, stderr bytes.Buffer
		p := display.NewPrinter(&stdout, false, display.FormatYAML)

		preview := restorePreviewPrinter(p, &stderr, false, true)
		require.NotNil(t, preview)
		require.NoError(t, printRestorePreview(preview, nil, errors.New("boom")))

		assert.Empty(t, stdout.String())
		assert.Contains(t, stderr.String(), "Could not compute the change summary: boom")
	})

	t.Run("structured output without a prompt shows nothing", func(t *testing.T) {
		var stdout, stderr bytes.Buffer
		p := display.NewPrinter(&stdout, false, display.FormatJSON)
		assert.Nil(t, restorePreviewPrinter(p, &stderr, false, false))
	})

	t.Run("table output previews on stdout", func(t *testing.T) {
		var stdout, stderr bytes.Buffer
		p := display.NewPrinter(&stdout, false, display.FormatTable)

		preview := restorePreviewPrinter(p, &stderr, false, false)
		require.NoError(t, printRestorePreview(preview, summary, nil))
		assert.Contains(t, stdout.String(), "users: 4 → 3 (-1)")
		assert.Empty(t, stderr.String())
	})
}
