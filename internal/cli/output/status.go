package output

import (
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
)

var (
	green  = color.New(color.FgGreen)
	yellow = color.New(color.FgYellow)
	red    = color.New(color.FgRed)
	cyan   = color.New(color.FgCyan)
)

// IsTerminal reports whether w is an interactive terminal.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// Status prints one-line status messages.
type Status struct {
	w       io.Writer
	noColor bool
}

// NewStatus returns a Status writing to w. Color is used only when w is a
// terminal and noColor is false; color.NoColor also honors NO_COLOR.
func NewStatus(w io.Writer, noColor bool) *Status {
	return &Status{w: w, noColor: noColor || color.NoColor || !IsTerminal(w)}
}

func (s *Status) print(c *color.Color, symbol, format string, args ...any) {
	msg := symbol + " " + fmt.Sprintf(format, args...)
	if s.noColor {
		fmt.Fprintln(s.w, msg)
		return
	}
	c.Fprintln(s.w, msg)
}

// Successf prints a success line.
func (s *Status) Successf(format string, args ...any) { s.print(green, "✓", format, args...) }

// Warningf prints a warning line.
func (s *Status) Warningf(format string, args ...any) { s.print(yellow, "⚠", format, args...) }

// Errorf prints an error line.
func (s *Status) Errorf(format string, args ...any) { s.print(red, "✗", format, args...) }

// Infof prints an informational line.
func (s *Status) Infof(format string, args ...any) { s.print(cyan, "ℹ", format, args...) }
