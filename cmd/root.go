package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"mysql-snapshot/internal/application"
	"mysql-snapshot/internal/config"
	"mysql-snapshot/internal/display"
	apperrors "mysql-snapshot/internal/errors"
	"mysql-snapshot/internal/logging"
)

var (
	cfgFile string

	verbose      bool
	quiet        bool
	noColor      bool
	outputFormat string
	logFile      string
)

// Version information
var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
	goVersion = "unknown"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "mysql-snapshot",
	Short: "Snapshot, compare and restore the data of a MySQL database",
	Long: `mysql-snapshot captures every table of a MySQL database into a compressed
JSON artifact, compares artifacts with the live database and restores them
in a single transaction. Artifacts can be copied to S3, Azure Blob Storage or
Google Cloud Storage and are swept once they pass the retention window.

Examples:
  # Take a snapshot, upload it and sweep expired artifacts
  mysql-snapshot backup oneshot

  # Show what a restore would change
  mysql-snapshot backup diff backup_20250101_120000.backup.gz

  # Restore from the remote store without prompting
  mysql-snapshot backup restore backup_20250101_120000.backup.gz --from-s3 --yes`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		reportError(os.Stderr, err)
		os.Exit(1)
	}
}

// SetVersionInfo sets the version information from build flags
func SetVersionInfo(v, bt, gc, gv string) {
	version = v
	buildTime = bt
	gitCommit = gc
	goVersion = gv
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is $HOME/.mysql-snapshot.yaml)")
	flags.BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	flags.BoolVarP(&quiet, "quiet", "q", false, "suppress non-error output")
	flags.BoolVar(&noColor, "no-color", false, "disable color output")
	flags.StringVar(&outputFormat, "format", "", "output format (table, json, yaml)")
	flags.StringVar(&logFile, "log-file", "", "also write logs to this file")
	rootCmd.MarkFlagsMutuallyExclusive("verbose", "quiet")

	rootCmd.AddCommand(createVersionCommand())
	rootCmd.AddCommand(createConfigCommand())
}

// session holds everything one command invocation needs
type session struct {
	ctx     context.Context
	cancel  context.CancelFunc
	config  *config.Config
	logger  *logging.Logger
	printer *display.Printer
	app     *application.Application
}

func (s *session) close() {
	if err := s.app.Close(); err != nil {
		s.logger.WithError(err).Warn("Failed to release resources")
	}
	s.cancel()
}

// bindFlags maps persistent flags onto configuration keys
func bindFlags(v *viper.Viper, cmd *cobra.Command) error {
	bindings := map[string]string{
		"display.output_format": "format",
		"logging.file":          "log-file",
	}
	for key, flag := range bindings {
		f := cmd.Flags().Lookup(flag)
		if f == nil || !f.Changed {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("failed to bind --%s: %w", flag, err)
		}
	}
	return nil
}

// loadConfig reads the file, environment and flags into a Config
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	v, err := config.NewViper(cfgFile)
	if err != nil {
		return nil, err
	}
	if err := bindFlags(v, cmd); err != nil {
		return nil, err
	}
	cfg, err := config.Load(v)
	if err != nil {
		return nil, err
	}
	if noColor {
		cfg.Display.ColorEnabled = false
	}
	if verbose && quiet {
		return nil, errors.New("--verbose and --quiet flags are mutually exclusive")
	}
	return cfg, nil
}

func newLogger(cfg *config.Config, stderr io.Writer) (*logging.Logger, error) {
	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return nil, err
	}
	switch {
	case quiet:
		level = logging.LogLevelQuiet
	case verbose:
		level = logging.LogLevelVerbose
	}
	return logging.NewLogger(logging.Config{
		Level:   level,
		Output:  stderr,
		Format:  cfg.Logging.Format,
		LogFile: cfg.Logging.File,
	})
}

// newSession loads configuration and builds the application. Commands that
// never touch the database pass needsDB=false so an incomplete database
// section does not stop them.
func newSession(cmd *cobra.Command, needsDB bool) (*session, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	validate := cfg.ValidateOffline
	if needsDB {
		validate = cfg.Validate
	}
	if err := validate(); err != nil {
		return nil, err
	}

	logger, err := newLogger(cfg, cmd.ErrOrStderr())
	if err != nil {
		return nil, err
	}
	format, err := display.ParseFormat(cfg.Display.OutputFormat)
	if err != nil {
		return nil, err
	}
	printer := display.NewPrinter(cmd.OutOrStdout(), cfg.Display.ColorEnabled, format)
	printer.SetQuiet(quiet)

	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := apperrors.SignalContext(parent)
	id := logging.NewCorrelationID()
	ctx = logging.ContextWithCorrelationID(ctx, id)
	logger.AttachCorrelationID(id)

	app, err := application.New(ctx, cfg, logger)
	if err != nil {
		cancel()
		return nil, err
	}
	return &session{ctx: ctx, cancel: cancel, config: cfg, logger: logger, printer: printer, app: app}, nil
}

// reportError prints err with troubleshooting hints for its category
func reportError(w io.Writer, err error) {
	fmt.Fprintf(w, "Error: %v\n", err)

	appErr := apperrors.NewErrorClassifier().ClassifyError(err)
	var hints []string
	switch appErr.Type {
	case apperrors.ErrorTypeConnection:
		hints = []string{
			"Check that the database server is running",
			"Verify the host and port are correct",
			"Ensure network connectivity to the database server",
		}
	case apperrors.ErrorTypePermission:
		hints = []string{
			"Verify the username and password are correct",
			"Check that the user can read INFORMATION_SCHEMA and every table",
		}
	case apperrors.ErrorTypeTimeout:
		hints = []string{
			"Try increasing database.timeout",
			"Check database server load",
		}
	case apperrors.ErrorTypeInterruption:
		hints = []string{"The operation was interrupted; an unfinished restore has been rolled back"}
	}
	if len(hints) == 0 {
		return
	}
	fmt.Fprintf(w, "\nTroubleshooting hints:\n")
	for _, h := range hints {
		fmt.Fprintf(w, "- %s\n", h)
	}
}

// createVersionCommand creates the version subcommand
func createVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version information",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "mysql-snapshot version %s\n", version)
			fmt.Fprintf(out, "Built: %s\n", buildTime)
			fmt.Fprintf(out, "Commit: %s\n", gitCommit)
			fmt.Fprintf(out, "Go version: %s\n", goVersion)
		},
	}
}

// createConfigCommand creates the config command group
func createConfigCommand() *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the configuration file",
	}

	var (
		output string
		force  bool
	)
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a sample configuration file",
		Long: `Write a configuration file populated with the default values.

Examples:
  # Write $HOME/.mysql-snapshot.yaml
  mysql-snapshot config init

  # Print the sample to stdout
  mysql-snapshot config init --output -`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if output == "-" {
				data, err := config.Sample()
				if err != nil {
					return err
				}
				_, err = cmd.OutOrStdout().Write(data)
				return err
			}
			if output == "" {
				home, err := os.UserHomeDir()
				if err != nil {
					return fmt.Errorf("failed to locate home directory: %w", err)
				}
				output = config.DefaultPath(home)
			}
			if err := config.WriteSample(output, force); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", output)
			return nil
		},
	}
	initCmd.Flags().StringVarP(&output, "output", "o", "", "destination path, or - for stdout")
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")

	configCmd.AddCommand(initCmd)
	return configCmd
}
