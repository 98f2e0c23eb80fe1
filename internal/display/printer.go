// Package display renders command output for terminals and for machine
// consumption (JSON, YAML).
package display

import (
	"fmt"
	"io"
	"strings"

	json "github.com/goccy/go-json"
	"gopkg.in/yaml.v3"
)

// Format selects how results are rendered
type Format string

const (
	FormatTable Format = "table"
	FormatJSON  Format = "json"
	FormatYAML  Format = "yaml"
)

// ParseFormat maps a flag value onto a Format. Empty means table.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return FormatTable, nil
	case FormatTable, FormatJSON, FormatYAML:
		return f, nil
	default:
		return "", fmt.Errorf("unsupported output format %q (want table, json or yaml)", s)
	}
}

// Printer writes status lines and results to a single writer
type Printer struct {
	out    io.Writer
	colors *ColorSystem
	format Format
	quiet  bool
}

// NewPrinter creates a Printer. Colours are only used when colorEnabled is
// set and out is a colour-capable terminal.
func NewPrinter(out io.Writer, colorEnabled bool, format Format) *Printer {
	if format == "" {
		format = FormatTable
	}
	return &Printer{out: out, colors: NewColorSystem(out, colorEnabled), format: format}
}

// SetQuiet suppresses Info and Success lines
func (p *Printer) SetQuiet(quiet bool) {
	p.quiet = quiet
}

// Format returns the configured output format
func (p *Printer) Format() Format {
	return p.format
}

// Structured reports whether results are rendered as JSON or YAML. Status
// lines are suppressed in that mode so the output stays parseable.
func (p *Printer) Structured() bool {
	return p.format == FormatJSON || p.format == FormatYAML
}

func (p *Printer) status(role Color, symbol, format string, args ...interface{}) {
	if p.Structured() {
		return
	}
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintf(p.out, "%s %s\n", p.colors.Colorize(symbol, role), msg)
}

func (p *Printer) Info(format string, args ...interface{}) {
	if p.quiet {
		return
	}
	p.status(ColorInfo, "ℹ", format, args...)
}

func (p *Printer) Success(format string, args ...interface{}) {
	if p.quiet {
		return
	}
	p.status(ColorSuccess, "✓", format, args...)
}

func (p *Printer) Warning(format string, args ...interface{}) {
	p.status(ColorWarning, "⚠", format, args...)
}

func (p *Printer) Error(format string, args ...interface{}) {
	p.status(ColorError, "✗", format, args...)
}

// Structure writes v as JSON or YAML according to the configured format.
// In table format it falls back to JSON.
func (p *Printer) Structure(v interface{}) error {
	switch p.format {
	case FormatYAML:
		enc := yaml.NewEncoder(p.out)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return fmt.Errorf("failed to encode YAML: %w", err)
		}
		return enc.Close()
	default:
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode JSON: %w", err)
		}
		_, err = fmt.Fprintln(p.out, string(data))
		return err
	}
}
