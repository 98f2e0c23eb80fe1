package cmd

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"mysql-snapshot/internal/application"
	"mysql-snapshot/internal/display"
	"mysql-snapshot/internal/snapshot"
)

var (
	listRemote    bool
	fromRemote    bool
	assumeYes     bool
	dryRun        bool
	retentionDays int
)

// backupCmd groups the artifact commands
var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Create, compare, restore and sweep snapshot artifacts",
	Long: `Create, compare, restore and sweep snapshot artifacts.

Artifacts are named backup_YYYYMMDD_HHMMSS.backup.<gz|lz4|zst> (UTC) and live
in backup.dir, optionally mirrored to the configured remote store.`,
}

var backupOneshotCmd = &cobra.Command{
	Use:   "oneshot",
	Short: "Take a snapshot, upload it and sweep expired artifacts",
	Long: `Capture every table into a new artifact in backup.dir, copy it to the
remote store when one is configured, then delete artifacts older than
backup.retention_days from both stores.`,
	Args: cobra.NoArgs,
	RunE: runBackupOneshot,
}

var backupListCmd = &cobra.Command{
	Use:   "list",
	Short: "List artifacts",
	Long: `List local artifacts, newest first. With --remote the remote store is
listed as well.

Examples:
  mysql-snapshot backup list
  mysql-snapshot backup list --remote --format json`,
	Args: cobra.NoArgs,
	RunE: runBackupList,
}

var backupDiffCmd = &cobra.Command{
	Use:   "diff <file>",
	Short: "Compare an artifact's row counts with the live database",
	Args:  cobra.ExactArgs(1),
	RunE:  runBackupDiff,
}

var backupRestoreCmd = &cobra.Command{
	Use:   "restore <file>",
	Short: "Replace the live data with an artifact's contents",
	Long: `Replace the contents of every table with the artifact's rows in a single
transaction. The change summary is shown first and the restore only proceeds
after confirmation or with --yes. Tables not in the artifact are emptied.

Examples:
  # Check that the artifact fits the live schema without writing
  mysql-snapshot backup restore backup_20250101_120000.backup.gz --dry-run

  # Restore a remote artifact non-interactively
  mysql-snapshot backup restore backup_20250101_120000.backup.gz --from-s3 --yes`,
	Args: cobra.ExactArgs(1),
	RunE: runBackupRestore,
}

var backupSweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Delete artifacts older than the retention window",
	Args:  cobra.NoArgs,
	RunE:  runBackupSweep,
}

var backupInspectCmd = &cobra.Command{
	Use:   "inspect <file>",
	Short: "Show an artifact's metadata and per-table row counts",
	Args:  cobra.ExactArgs(1),
	RunE:  runBackupInspect,
}

func init() {
	backupListCmd.Flags().BoolVar(&listRemote, "remote", false, "also list the remote store")

	for _, c := range []*cobra.Command{backupDiffCmd, backupRestoreCmd, backupInspectCmd} {
		c.Flags().BoolVar(&fromRemote, "from-s3", false, "read the artifact from the configured remote store")
	}

	backupRestoreCmd.Flags().BoolVarP(&assumeYes, "yes", "y", false, "skip the confirmation prompt")
	backupRestoreCmd.Flags().BoolVar(&dryRun, "dry-run", false, "run the pre-flight checks without writing")

	backupSweepCmd.Flags().IntVar(&retentionDays, "retention-days", 0, "override backup.retention_days")
	backupSweepCmd.Flags().BoolVar(&dryRun, "dry-run", false, "report what would be deleted")

	backupCmd.AddCommand(backupOneshotCmd, backupListCmd, backupDiffCmd, backupRestoreCmd, backupSweepCmd, backupInspectCmd)
	rootCmd.AddCommand(backupCmd)
}

func runBackupOneshot(cmd *cobra.Command, args []string) error {
	s, err := newSession(cmd, true)
	if err != nil {
		return err
	}
	defer s.close()

	s.printer.Info("Starting backup of %s", s.config.Database.Database)
	result, err := s.app.Oneshot(s.ctx)
	if err != nil {
		if result != nil {
			s.printer.Warning("Artifact written to %s but not uploaded", result.Artifact)
		}
		return fmt.Errorf("backup failed: %w", err)
	}

	if s.printer.Structured() {
		return s.printer.Structure(result)
	}
	s.printer.Success("Backup written to %s", result.Artifact)
	if result.Uploaded != "" {
		s.printer.Success("Uploaded to %s", result.Uploaded)
	}
	return s.printer.PrintSweepReport(result.Sweep)
}

func runBackupList(cmd *cobra.Command, args []string) error {
	s, err := newSession(cmd, false)
	if err != nil {
		return err
	}
	defer s.close()

	local, err := s.app.ListLocal(s.ctx)
	if err != nil {
		return err
	}
	listings := []display.ArtifactListing{{Location: s.app.LocalLocation(), Artifacts: local}}

	if listRemote {
		remote, err := s.app.ListRemote(s.ctx)
		switch {
		case errors.Is(err, application.ErrRemoteNotConfigured):
			s.printer.Warning("No remote storage configured")
		case err != nil:
			return err
		default:
			listings = append(listings, display.ArtifactListing{Location: s.app.RemoteLocation(), Artifacts: remote})
		}
	}

	if s.printer.Structured() {
		return s.printer.Structure(listings)
	}
	for _, l := range listings {
		if err := s.printer.PrintArtifacts(l.Location, l.Artifacts); err != nil {
			return err
		}
	}
	return nil
}

func runBackupDiff(cmd *cobra.Command, args []string) error {
	s, err := newSession(cmd, true)
	if err != nil {
		return err
	}
	defer s.close()

	summary, err := s.app.Diff(s.ctx, args[0], fromRemote)
	if err != nil {
		return err
	}
	return s.printer.PrintDiff(summary)
}

// dryRunReport is the structured output of restore --dry-run
type dryRunReport struct {
	Artifact string                `json:"artifact" yaml:"artifact"`
	Database string                `json:"database" yaml:"database"`
	Diff     *snapshot.DiffSummary `json:"diff,omitempty" yaml:"diff,omitempty"`
}

func runBackupRestore(cmd *cobra.Command, args []string) error {
	s, err := newSession(cmd, true)
	if err != nil {
		return err
	}
	defer s.close()

	plan, err := s.app.PrepareRestore(s.ctx, args[0], fromRemote)
	if err != nil {
		return fmt.Errorf("restore failed: %w", err)
	}
	defer plan.Close()

	prompting := !dryRun && !assumeYes
	if preview := restorePreviewPrinter(s.printer, cmd.ErrOrStderr(), s.config.Display.ColorEnabled, prompting); preview != nil {
		if err := printRestorePreview(preview, plan.Diff, plan.DiffErr); err != nil {
			return err
		}
	}

	if dryRun {
		if err := s.app.VerifyRestore(s.ctx, plan); err != nil {
			return fmt.Errorf("dry run failed: %w", err)
		}
		if s.printer.Structured() {
			return s.printer.Structure(dryRunReport{Artifact: plan.Artifact.Name, Database: s.config.Database.Database, Diff: plan.Diff})
		}
		s.printer.Success("Dry run passed: %s can be restored into %s", plan.Artifact.Name, s.config.Database.Database)
		return nil
	}

	if !assumeYes {
		prompter := display.NewPrompter(cmd.InOrStdin(), cmd.ErrOrStderr())
		question := fmt.Sprintf("Database '%s' will be restored from '%s'. All current data will be lost. Continue?",
			s.config.Database.Database, plan.Artifact.Name)
		ok, err := prompter.Confirm(question)
		if err != nil {
			return err
		}
		if !ok {
			s.printer.Warning("Restore cancelled")
			return nil
		}
	}

	result := s.app.Restore(s.ctx, plan)
	if err := s.printer.PrintRestoreResult(result); err != nil {
		return err
	}
	if !result.Success {
		return errors.New(result.Message)
	}
	return nil
}

// restorePreviewPrinter picks where the change summary goes before a restore.
// Structured stdout must stay parseable, so a pending prompt gets a table
// preview on stderr instead. Returns nil when no preview is shown.
func restorePreviewPrinter(p *display.Printer, stderr io.Writer, colorEnabled, prompting bool) *display.Printer {
	if !p.Structured() {
		return p
	}
	if !prompting {
		return nil
	}
	return display.NewPrinter(stderr, colorEnabled, display.FormatTable)
}

func printRestorePreview(p *display.Printer, summary *snapshot.DiffSummary, diffErr error) error {
	if summary != nil {
		return p.PrintDiff(summary)
	}
	p.Warning("Could not compute the change summary: %v", diffErr)
	return nil
}

func runBackupSweep(cmd *cobra.Command, args []string) error {
	s, err := newSession(cmd, false)
	if err != nil {
		return err
	}
	defer s.close()

	days := s.config.Backup.RetentionDays
	if cmd.Flags().Changed("retention-days") {
		days = retentionDays
	}

	report := s.app.Sweep(s.ctx, days, dryRun)
	return s.printer.PrintSweepReport(report)
}

func runBackupInspect(cmd *cobra.Command, args []string) error {
	s, err := newSession(cmd, false)
	if err != nil {
		return err
	}
	defer s.close()

	artifact, snap, err := s.app.Inspect(s.ctx, args[0], fromRemote)
	if err != nil {
		return err
	}
	return s.printer.PrintSnapshot(display.NewSnapshotSummary(artifact.Name, snap))
}
