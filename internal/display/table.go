package display

import (
	"fmt"
	"io"
	"strings"
	"unicode/utf8"
)

// Alignment represents column alignment options
type Alignment int

const (
	AlignLeft Alignment = iota
	AlignRight
)

// BorderStyle defines table border characters
type BorderStyle struct {
	Corner     string
	Horizontal string
	Vertical   string
}

var (
	ASCIIBorderStyle   = BorderStyle{Corner: "+", Horizontal: "-", Vertical: "|"}
	CompactBorderStyle = BorderStyle{}
)

// Table renders rows of cells with padded columns. Cell colouring is
// applied after padding so escape codes do not skew widths.
type Table struct {
	headers    []string
	rows       [][]string
	rowColors  []Color
	alignments map[int]Alignment
	border     BorderStyle
	colors     *ColorSystem
}

// NewTable creates a table with ASCII borders
func NewTable(colors *ColorSystem, headers ...string) *Table {
	return &Table{
		headers:    headers,
		alignments: make(map[int]Alignment),
		border:     ASCIIBorderStyle,
		colors:     colors,
	}
}

// SetBorder changes the border style
func (t *Table) SetBorder(b BorderStyle) *Table {
	t.border = b
	return t
}

// SetAlignment sets the alignment of column i
func (t *Table) SetAlignment(i int, a Alignment) *Table {
	t.alignments[i] = a
	return t
}

// AddRow appends a row rendered in role
func (t *Table) AddRow(role Color, cells ...string) {
	t.rows = append(t.rows, cells)
	t.rowColors = append(t.rowColors, role)
}

func (t *Table) widths() []int {
	n := len(t.headers)
	for _, r := range t.rows {
		if len(r) > n {
			n = len(r)
		}
	}
	widths := make([]int, n)
	measure := func(cells []string) {
		for i, c := range cells {
			if w := utf8.RuneCountInString(c); w > widths[i] {
				widths[i] = w
			}
		}
	}
	measure(t.headers)
	for _, r := range t.rows {
		measure(r)
	}
	return widths
}

// Render returns the table as a string
func (t *Table) Render() string {
	if len(t.headers) == 0 && len(t.rows) == 0 {
		return ""
	}
	widths := t.widths()

	var b strings.Builder
	rule := t.rule(widths)
	if rule != "" {
		b.WriteString(rule)
	}
	if len(t.headers) > 0 {
		b.WriteString(t.line(t.headers, widths, ColorPrimary))
		b.WriteString(rule)
	}
	for i, r := range t.rows {
		b.WriteString(t.line(r, widths, t.rowColors[i]))
	}
	b.WriteString(rule)
	return b.String()
}

// RenderTo writes the table to w
func (t *Table) RenderTo(w io.Writer) {
	fmt.Fprint(w, t.Render())
}

func (t *Table) rule(widths []int) string {
	if t.border.Horizontal == "" {
		return ""
	}
	var b strings.Builder
	b.WriteString(t.border.Corner)
	for _, w := range widths {
		b.WriteString(strings.Repeat(t.border.Horizontal, w+2))
		b.WriteString(t.border.Corner)
	}
	b.WriteString("\n")
	return b.String()
}

func (t *Table) line(cells []string, widths []int, role Color) string {
	sep := t.border.Vertical
	var b strings.Builder
	b.WriteString(sep)
	for i, w := range widths {
		cell := ""
		if i < len(cells) {
			cell = cells[i]
		}
		pad := strings.Repeat(" ", w-utf8.RuneCountInString(cell))
		colored := t.colors.Colorize(cell, role)
		if t.alignments[i] == AlignRight {
			b.WriteString(" " + pad + colored + " ")
		} else {
			b.WriteString(" " + colored + pad + " ")
		}
		b.WriteString(sep)
	}
	return strings.TrimRight(b.String(), " ") + "\n"
}
