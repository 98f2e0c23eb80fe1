package snapshot

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// CompressionType selects the artifact compression algorithm
type CompressionType string

const (
	CompressionGzip CompressionType = "gzip"
	CompressionLZ4  CompressionType = "lz4"
	CompressionZstd CompressionType = "zstd"
)

var (
	gzipMagic = []byte{0x1f, 0x8b}
	lz4Magic  = []byte{0x04, 0x22, 0x4d, 0x18}
	zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}
)

// ParseCompressionType accepts the configured names; "" means gzip.
func ParseCompressionType(s string) (CompressionType, error) {
	switch CompressionType(strings.ToLower(strings.TrimSpace(s))) {
	case "", CompressionGzip, "gz":
		return CompressionGzip, nil
	case CompressionLZ4:
		return CompressionLZ4, nil
	case CompressionZstd, "zst":
		return CompressionZstd, nil
	}
	return "", fmt.Errorf("unsupported compression algorithm: %s", s)
}

// Extension returns the file suffix artifacts compressed with c carry
func (c CompressionType) Extension() string {
	switch c {
	case CompressionLZ4:
		return ".lz4"
	case CompressionZstd:
		return ".zst"
	default:
		return ".gz"
	}
}

// Compressor compresses and decompresses whole artifacts in memory
type Compressor interface {
	Compress(data []byte, level int) ([]byte, error)
	Decompress(data []byte) ([]byte, error)
	Algorithm() CompressionType
}

var compressors = map[CompressionType]Compressor{
	CompressionGzip: gzipCompressor{},
	CompressionLZ4:  lz4Compressor{},
	CompressionZstd: zstdCompressor{},
}

// Compress applies algorithm at level. Level 0 selects the algorithm default.
func Compress(data []byte, algorithm CompressionType, level int) ([]byte, error) {
	c, ok := compressors[algorithm]
	if !ok {
		return nil, newCompressionError(fmt.Sprintf("unsupported compression algorithm: %s", algorithm), nil)
	}
	return c.Compress(data, level)
}

// DetectCompression identifies the algorithm from the leading magic bytes
func DetectCompression(data []byte) (CompressionType, bool) {
	switch {
	case bytes.HasPrefix(data, gzipMagic):
		return CompressionGzip, true
	case bytes.HasPrefix(data, zstdMagic):
		return CompressionZstd, true
	case bytes.HasPrefix(data, lz4Magic):
		return CompressionLZ4, true
	}
	return "", false
}

// Decompress detects the algorithm and inflates data
func Decompress(data []byte) ([]byte, error) {
	algorithm, ok := DetectCompression(data)
	if !ok {
		return nil, newCorruptionError("unrecognized artifact compression", nil)
	}
	return compressors[algorithm].Decompress(data)
}

type gzipCompressor struct{}

func (gzipCompressor) Algorithm() CompressionType { return CompressionGzip }

func (gzipCompressor) Compress(data []byte, level int) ([]byte, error) {
	if level < gzip.BestSpeed || level > gzip.BestCompression {
		level = gzip.DefaultCompression
	}

	var buf bytes.Buffer
	writer, err := gzip.NewWriterLevel(&buf, level)
	if err != nil {
		return nil, newCompressionError("failed to create gzip writer", err)
	}
	if _, err := writer.Write(data); err != nil {
		writer.Close()
		return nil, newCompressionError("failed to write data to gzip writer", err)
	}
	if err := writer.Close(); err != nil {
		return nil, newCompressionError("failed to close gzip writer", err)
	}
	return buf.Bytes(), nil
}

func (gzipCompressor) Decompress(data []byte) ([]byte, error) {
	reader, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, newCompressionError("failed to create gzip reader", err)
	}
	defer reader.Close()

	out, err := io.ReadAll(reader)
	if err != nil {
		return nil, newCompressionError("failed to decompress gzip data", err)
	}
	return out, nil
}

type lz4Compressor struct{}

func (lz4Compressor) Algorithm() CompressionType { return CompressionLZ4 }

func (lz4Compressor) Compress(data []byte, level int) ([]byte, error) {
	var buf bytes.Buffer
	writer := lz4.NewWriter(&buf)
	if level > 6 {
		if err := writer.Apply(lz4.CompressionLevelOption(lz4.Level9)); err != nil {
			return nil, newCompressionError("failed to set LZ4 high compression", err)
		}
	}
	if _, err := writer.Write(data); err != nil {
		writer.Close()
		return nil, newCompressionError("failed to write data to LZ4 writer", err)
	}
	if err := writer.Close(); err != nil {
		return nil, newCompressionError("failed to close LZ4 writer", err)
	}
	return buf.Bytes(), nil
}

func (lz4Compressor) Decompress(data []byte) ([]byte, error) {
	out, err := io.ReadAll(lz4.NewReader(bytes.NewReader(data)))
	if err != nil {
		return nil, newCompressionError("failed to decompress LZ4 data", err)
	}
	return out, nil
}

type zstdCompressor struct{}

func (zstdCompressor) Algorithm() CompressionType { return CompressionZstd }

func (zstdCompressor) Compress(data []byte, level int) ([]byte, error) {
	encoderLevel := zstd.SpeedDefault
	switch {
	case level == 0:
	case level <= 1:
		encoderLevel = zstd.SpeedFastest
	case level <= 6:
		encoderLevel = zstd.SpeedBetterCompression
	default:
		encoderLevel = zstd.SpeedBestCompression
	}

	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(encoderLevel))
	if err != nil {
		return nil, newCompressionError("failed to create zstd encoder", err)
	}
	defer encoder.Close()
	return encoder.EncodeAll(data, make([]byte, 0, len(data)/2)), nil
}

func (zstdCompressor) Decompress(data []byte) ([]byte, error) {
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, newCompressionError("failed to create zstd decoder", err)
	}
	defer decoder.Close()

	out, err := decoder.DecodeAll(data, nil)
	if err != nil {
		return nil, newCompressionError("failed to decompress zstd data", err)
	}
	return out, nil
}
