// Package render formats analysis results and usage for people: lipgloss
// tables for the terminal and GitHub flavoured markdown for summaries.
package render

import (
	"io"
	"os"

	"golang.org/x/term"
)

const defaultWidth = 80

// IsTerminal reports whether w is a terminal.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// Width returns the width of the terminal behind w. It is 0 when w is not a
// terminal, leaving tables at their natural width, and 80 when the size of a
// terminal cannot be read.
func Width(w io.Writer) int {
	if !IsTerminal(w) {
		return 0
	}
	f := w.(*os.File)
	width, _, err := term.GetSize(int(f.Fd()))
	if err != nil || width <= 0 {
		return defaultWidth
	}
	return width
}
