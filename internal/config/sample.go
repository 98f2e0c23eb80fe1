package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const sampleHeader = `# mysql-snapshot configuration
#
# Every key can be overridden with an environment variable named
# MYSQL_SNAPSHOT_<SECTION>_<KEY>, e.g. MYSQL_SNAPSHOT_DATABASE_PASSWORD.
# storage.provider may be "", s3, azure or gcs.

`

// Sample returns the YAML written by `config init`
func Sample() ([]byte, error) {
	cfg := Default()
	cfg.Database.Username = "root"
	cfg.Database.Database = "app"
	cfg.Storage.S3.Region = "us-east-1"

	var buf bytes.Buffer
	buf.WriteString(sampleHeader)
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return nil, fmt.Errorf("failed to encode sample configuration: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteSample writes the sample configuration to path. An existing file is
// only replaced when force is set.
func WriteSample(path string, force bool) error {
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("configuration file %s already exists (use --force to overwrite)", path)
	} else if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}

	data, err := Sample()
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}
	// the file may hold credentials
	return os.WriteFile(path, data, 0o600)
}

// DefaultPath is where `config init` writes when no path is given
func DefaultPath(home string) string {
	return filepath.Join(home, DefaultConfigName+".yaml")
}
