package display

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/term"
)

// ErrNotInteractive is returned when a confirmation is needed but stdin is
// not a terminal
var ErrNotInteractive = errors.New("confirmation required but input is not a terminal (use --yes)")

// Prompter asks yes/no questions on a terminal
type Prompter struct {
	in          io.Reader
	out         io.Writer
	interactive func() bool
}

// NewPrompter prompts on out and reads answers from in. Inputs that are not
// terminals are never prompted.
func NewPrompter(in io.Reader, out io.Writer) *Prompter {
	p := &Prompter{in: in, out: out, interactive: func() bool { return false }}
	if f, ok := in.(interface{ Fd() uintptr }); ok {
		p.interactive = func() bool { return term.IsTerminal(int(f.Fd())) }
	}
	return p
}

// Confirm asks question and returns true only for an explicit yes. It never
// blocks on a non-terminal input.
func (p *Prompter) Confirm(question string) (bool, error) {
	if !p.interactive() {
		return false, ErrNotInteractive
	}
	fmt.Fprintf(p.out, "%s [y/N]: ", question)

	line, err := bufio.NewReader(p.in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return false, fmt.Errorf("failed to read confirmation: %w", err)
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}
