// Package config loads the mysql-snapshot configuration from an optional
// YAML file, MYSQL_SNAPSHOT_* environment variables and command line flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"mysql-snapshot/internal/database"
	"mysql-snapshot/internal/logging"
	"mysql-snapshot/internal/snapshot"
	"mysql-snapshot/internal/storage"
)

// EnvPrefix prefixes every environment variable, e.g. MYSQL_SNAPSHOT_DATABASE_HOST
const EnvPrefix = "MYSQL_SNAPSHOT"

// DefaultConfigName is looked up in $HOME and the working directory
const DefaultConfigName = ".mysql-snapshot"

// Config is the complete application configuration
type Config struct {
	Database database.DatabaseConfig `mapstructure:"database" yaml:"database"`
	Backup   BackupConfig            `mapstructure:"backup" yaml:"backup"`
	Storage  storage.Config          `mapstructure:"storage" yaml:"storage"`
	Logging  LoggingConfig           `mapstructure:"logging" yaml:"logging"`
	Display  DisplayConfig           `mapstructure:"display" yaml:"display"`
}

// BackupConfig controls how artifacts are built, kept and restored
type BackupConfig struct {
	Dir           string `mapstructure:"dir" yaml:"dir"`
	Compression   string `mapstructure:"compression" yaml:"compression"`
	Level         int    `mapstructure:"level" yaml:"level"`
	RetentionDays int    `mapstructure:"retention_days" yaml:"retention_days"`

	RevisionTable  string `mapstructure:"revision_table" yaml:"revision_table"`
	RevisionColumn string `mapstructure:"revision_column" yaml:"revision_column"`

	DisableForeignKeyChecks bool             `mapstructure:"disable_foreign_key_checks" yaml:"disable_foreign_key_checks"`
	Encryption              EncryptionConfig `mapstructure:"encryption" yaml:"encryption"`
}

// EncryptionConfig selects where the artifact passphrase comes from
type EncryptionConfig struct {
	Enabled   bool   `mapstructure:"enabled" yaml:"enabled"`
	KeySource string `mapstructure:"key_source" yaml:"key_source"` // env or file
	KeyEnvVar string `mapstructure:"key_env_var" yaml:"key_env_var"`
	KeyPath   string `mapstructure:"key_path" yaml:"key_path"`
}

// LoggingConfig configures the logrus logger
type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
	File   string `mapstructure:"file" yaml:"file"`
}

// DisplayConfig configures terminal output
type DisplayConfig struct {
	ColorEnabled bool   `mapstructure:"color_enabled" yaml:"color_enabled"`
	OutputFormat string `mapstructure:"output_format" yaml:"output_format"`
}

// Default returns the configuration used when nothing is set
func Default() *Config {
	rev := snapshot.DefaultRevisionTable()
	return &Config{
		Database: database.DatabaseConfig{
			Host:         "localhost",
			Port:         3306,
			Timeout:      30 * time.Second,
			MaxOpenConns: 4,
		},
		Backup: BackupConfig{
			Dir:                     "./backups",
			Compression:             string(snapshot.CompressionGzip),
			RetentionDays:           7,
			RevisionTable:           rev.Table,
			RevisionColumn:          rev.Column,
			DisableForeignKeyChecks: true,
			Encryption: EncryptionConfig{
				KeySource: "env",
				KeyEnvVar: EnvPrefix + "_ENCRYPTION_KEY",
			},
		},
		Logging: LoggingConfig{Level: "normal", Format: "text"},
		Display: DisplayConfig{ColorEnabled: true, OutputFormat: "table"},
	}
}

// NewViper returns a viper instance reading configFile (or the default file
// when empty) plus the environment. A missing default file is not an error.
func NewViper(configFile string) (*viper.Viper, error) {
	v := viper.New()
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(home)
		}
		v.AddConfigPath(".")
		v.SetConfigType("yaml")
		v.SetConfigName(DefaultConfigName)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}
	return v, nil
}

// SetDefaults registers every key with its default so that environment
// variables are honoured by Unmarshal even without a config file.
func SetDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("database.host", d.Database.Host)
	v.SetDefault("database.port", d.Database.Port)
	v.SetDefault("database.username", "")
	v.SetDefault("database.password", "")
	v.SetDefault("database.database", "")
	v.SetDefault("database.timeout", d.Database.Timeout)
	v.SetDefault("database.max_open_conns", d.Database.MaxOpenConns)

	v.SetDefault("backup.dir", d.Backup.Dir)
	v.SetDefault("backup.compression", d.Backup.Compression)
	v.SetDefault("backup.level", d.Backup.Level)
	v.SetDefault("backup.retention_days", d.Backup.RetentionDays)
	v.SetDefault("backup.revision_table", d.Backup.RevisionTable)
	v.SetDefault("backup.revision_column", d.Backup.RevisionColumn)
	v.SetDefault("backup.disable_foreign_key_checks", d.Backup.DisableForeignKeyChecks)
	v.SetDefault("backup.encryption.enabled", false)
	v.SetDefault("backup.encryption.key_source", d.Backup.Encryption.KeySource)
	v.SetDefault("backup.encryption.key_env_var", d.Backup.Encryption.KeyEnvVar)
	v.SetDefault("backup.encryption.key_path", "")

	v.SetDefault("storage.provider", "")
	v.SetDefault("storage.prefix", "")
	for _, key := range []string{"bucket", "region", "access_key", "secret_key", "endpoint"} {
		v.SetDefault("storage.s3."+key, "")
	}
	v.SetDefault("storage.s3.force_path_style", false)
	for _, key := range []string{"account_name", "account_key", "container_name", "service_url"} {
		v.SetDefault("storage.azure."+key, "")
	}
	for _, key := range []string{"bucket", "credentials_path", "endpoint"} {
		v.SetDefault("storage.gcs."+key, "")
	}

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("logging.file", "")

	v.SetDefault("display.color_enabled", d.Display.ColorEnabled)
	v.SetDefault("display.output_format", d.Display.OutputFormat)
}

// Load unmarshals v into a Config. It does not validate.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}
	cfg.Database.SetDefaults()
	if cfg.Backup.RetentionDays <= 0 {
		cfg.Backup.RetentionDays = Default().Backup.RetentionDays
	}
	return &cfg, nil
}

// Validate checks every section and reports all problems at once
func (c *Config) Validate() error {
	return c.validate(true)
}

// ValidateOffline checks everything except the database section, for
// commands that only touch artifacts and object stores
func (c *Config) ValidateOffline() error {
	return c.validate(false)
}

func (c *Config) validate(withDatabase bool) error {
	var errs []error

	if withDatabase {
		if err := c.Database.Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := c.Backup.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("backup: %w", err))
	}
	if err := c.Storage.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("storage: %w", err))
	}
	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		errs = append(errs, fmt.Errorf("logging: %w", err))
	}
	switch c.Logging.Format {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("logging: invalid format %q, must be text or json", c.Logging.Format))
	}
	if !isOutputFormat(c.Display.OutputFormat) {
		errs = append(errs, fmt.Errorf("display: invalid output format %q, must be one of: %s",
			c.Display.OutputFormat, strings.Join(OutputFormats, ", ")))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %w", errors.Join(errs...))
	}
	return nil
}

// OutputFormats lists the accepted display.output_format values
var OutputFormats = []string{"table", "json", "yaml"}

func isOutputFormat(s string) bool {
	for _, f := range OutputFormats {
		if f == s {
			return true
		}
	}
	return false
}

// Validate checks the backup section
func (b *BackupConfig) Validate() error {
	var errs []error
	if b.Dir == "" {
		errs = append(errs, errors.New("dir is required"))
	}
	if _, err := snapshot.ParseCompressionType(b.Compression); err != nil {
		errs = append(errs, err)
	}
	if b.Level < 0 || b.Level > 22 {
		errs = append(errs, fmt.Errorf("level must be between 0 and 22, got %d", b.Level))
	}
	if b.RetentionDays < 0 {
		errs = append(errs, errors.New("retention_days must not be negative"))
	}
	if err := b.Encryption.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("encryption: %w", err))
	}
	return errors.Join(errs...)
}

// CompressionType returns the parsed compression algorithm
func (b *BackupConfig) CompressionType() snapshot.CompressionType {
	c, err := snapshot.ParseCompressionType(b.Compression)
	if err != nil {
		return snapshot.CompressionGzip
	}
	return c
}

// RevisionTableRef returns the configured revision table
func (b *BackupConfig) RevisionTableRef() snapshot.RevisionTable {
	return snapshot.RevisionTable{Table: b.RevisionTable, Column: b.RevisionColumn}
}

// Validate checks the encryption section
func (e *EncryptionConfig) Validate() error {
	if !e.Enabled {
		return nil
	}
	switch e.KeySource {
	case "env":
		if e.KeyEnvVar == "" {
			return errors.New("key_env_var is required for env key source")
		}
	case "file":
		if e.KeyPath == "" {
			return errors.New("key_path is required for file key source")
		}
	default:
		return fmt.Errorf("invalid key source: %s", e.KeySource)
	}
	return nil
}

// Passphrase resolves the encryption passphrase. It returns "" when
// encryption is disabled.
func (e *EncryptionConfig) Passphrase() (string, error) {
	if !e.Enabled {
		return "", nil
	}
	var key string
	switch e.KeySource {
	case "env":
		key = os.Getenv(e.KeyEnvVar)
		if key == "" {
			return "", fmt.Errorf("encryption key environment variable %s is not set", e.KeyEnvVar)
		}
	case "file":
		data, err := os.ReadFile(e.KeyPath)
		if err != nil {
			return "", fmt.Errorf("failed to read encryption key file: %w", err)
		}
		key = strings.TrimSpace(string(data))
		if key == "" {
			return "", fmt.Errorf("encryption key file %s is empty", e.KeyPath)
		}
	default:
		return "", fmt.Errorf("invalid key source: %s", e.KeySource)
	}
	return key, nil
}

// Codec builds the artifact codec described by the backup section
func (b *BackupConfig) Codec() (snapshot.ArtifactCodec, error) {
	passphrase, err := b.Encryption.Passphrase()
	if err != nil {
		return snapshot.ArtifactCodec{}, err
	}
	return snapshot.ArtifactCodec{
		Compression: b.CompressionType(),
		Level:       b.Level,
		Encryptor:   snapshot.NewEncryptor(passphrase),
	}, nil
}
