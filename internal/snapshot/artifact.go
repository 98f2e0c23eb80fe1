package snapshot

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"strings"
	"time"

	json "github.com/goccy/go-json"
)

const (
	artifactPrefix     = "backup_"
	artifactInfix      = ".backup"
	artifactTimeLayout = "20060102_150405"
)

// ArtifactName returns the file name for a snapshot taken at ts, e.g.
// "backup_20250101_120000.backup.gz". The timestamp is rendered in UTC.
func ArtifactName(ts time.Time, compression CompressionType) string {
	return artifactPrefix + ts.UTC().Format(artifactTimeLayout) + artifactInfix + compression.Extension()
}

// ParseArtifactName extracts the capture time and compression from an
// artifact name or key. Directory components are ignored.
func ParseArtifactName(name string) (time.Time, CompressionType, error) {
	base := path.Base(strings.ReplaceAll(name, "\\", "/"))
	if !strings.HasPrefix(base, artifactPrefix) {
		return time.Time{}, "", fmt.Errorf("not an artifact name: %q", name)
	}
	rest := strings.TrimPrefix(base, artifactPrefix)

	for _, c := range []CompressionType{CompressionGzip, CompressionLZ4, CompressionZstd} {
		suffix := artifactInfix + c.Extension()
		if !strings.HasSuffix(rest, suffix) {
			continue
		}
		ts, err := time.ParseInLocation(artifactTimeLayout, strings.TrimSuffix(rest, suffix), time.UTC)
		if err != nil {
			return time.Time{}, "", fmt.Errorf("invalid artifact timestamp in %q: %w", name, err)
		}
		return ts, c, nil
	}
	return time.Time{}, "", fmt.Errorf("not an artifact name: %q", name)
}

// IsArtifactName reports whether name follows the artifact naming convention
func IsArtifactName(name string) bool {
	_, _, err := ParseArtifactName(name)
	return err == nil
}

// ArtifactCodec turns a Snapshot into artifact bytes and back
type ArtifactCodec struct {
	Compression CompressionType
	Level       int
	// Encryptor seals written artifacts and opens encrypted ones; nil
	// writes plaintext and rejects encrypted input.
	Encryptor *Encryptor
}

// Marshal serializes s as JSON
func Marshal(s *Snapshot) ([]byte, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, NewBackupError(BackupErrorTypeCorruption, "failed to serialize snapshot", err)
	}
	return data, nil
}

// Unmarshal parses artifact JSON. Numbers are kept as json.Number so
// integers and floats survive exactly.
func Unmarshal(data []byte) (*Snapshot, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var s Snapshot
	if err := dec.Decode(&s); err != nil {
		return nil, newCorruptionError("artifact is not valid snapshot JSON", err)
	}
	if s.Tables == nil {
		s.Tables = make(map[string]*TableSnapshot)
	}
	if err := s.Validate(); err != nil {
		return nil, newCorruptionError("artifact failed validation", err)
	}
	return &s, nil
}

// Encode produces the on-disk bytes of s
func (c ArtifactCodec) Encode(s *Snapshot) ([]byte, error) {
	data, err := Marshal(s)
	if err != nil {
		return nil, err
	}
	compression := c.Compression
	if compression == "" {
		compression = CompressionGzip
	}
	data, err = Compress(data, compression, c.Level)
	if err != nil {
		return nil, err
	}
	if c.Encryptor != nil {
		return c.Encryptor.Seal(data)
	}
	return data, nil
}

// Decode parses artifact bytes. Encryption and compression are detected
// from the content, not the file name.
func (c ArtifactCodec) Decode(data []byte) (*Snapshot, error) {
	if IsEncrypted(data) {
		if c.Encryptor == nil {
			return nil, newEncryptionError("artifact is encrypted but no encryption key is configured", nil)
		}
		var err error
		if data, err = c.Encryptor.Open(data); err != nil {
			return nil, err
		}
	}
	raw, err := Decompress(data)
	if err != nil {
		return nil, err
	}
	return Unmarshal(raw)
}

// Load reads and decodes the artifact at path
func (c ArtifactCodec) Load(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, NewBackupError(BackupErrorTypeNotFound, "backup file not found", err).WithContext("path", path)
	}
	if err != nil {
		return nil, newStorageError("failed to read backup file", err).WithContext("path", path)
	}
	s, err := c.Decode(data)
	if err != nil {
		var be *BackupError
		if errors.As(err, &be) {
			return nil, be.WithContext("path", path)
		}
		return nil, err
	}
	return s, nil
}
