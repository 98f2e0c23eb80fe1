package display

import (
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/muesli/termenv"
)

// Color names a semantic colour role
type Color int

const (
	ColorNone Color = iota
	ColorPrimary
	ColorSuccess
	ColorWarning
	ColorError
	ColorInfo
	ColorMuted
	ColorBold
)

// ColorSystem applies colours when the output supports them
type ColorSystem struct {
	enabled bool
	colors  map[Color]*color.Color
}

// NewColorSystem returns a ColorSystem for w. Colours are disabled when
// enabled is false, w is not a terminal, NO_COLOR is set or the terminal
// reports no colour support.
func NewColorSystem(w io.Writer, enabled bool) *ColorSystem {
	cs := &ColorSystem{enabled: enabled && detectColorSupport(w)}
	cs.colors = map[Color]*color.Color{
		ColorPrimary: color.New(color.FgHiBlue, color.Bold),
		ColorSuccess: color.New(color.FgHiGreen),
		ColorWarning: color.New(color.FgHiYellow),
		ColorError:   color.New(color.FgHiRed),
		ColorInfo:    color.New(color.FgCyan),
		ColorMuted:   color.New(color.FgWhite, color.Faint),
		ColorBold:    color.New(color.Bold),
	}
	for _, c := range cs.colors {
		if cs.enabled {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	return cs
}

func detectColorSupport(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	if !isatty.IsTerminal(f.Fd()) && !isatty.IsCygwinTerminal(f.Fd()) {
		return false
	}
	if os.Getenv("NO_COLOR") != "" || os.Getenv("TERM") == "dumb" {
		return false
	}
	return termenv.NewOutput(f).EnvColorProfile() != termenv.Ascii
}

// Enabled reports whether colours are emitted
func (cs *ColorSystem) Enabled() bool {
	return cs.enabled
}

// Colorize wraps text in the colour for role
func (cs *ColorSystem) Colorize(text string, role Color) string {
	c, ok := cs.colors[role]
	if !cs.enabled || !ok {
		return text
	}
	return c.Sprint(text)
}
