package tui

import (
	"os"

	"golang.org/x/term"
)

// IsInteractive reports whether stdout is attached to a real terminal,
// following golang.org/x/term's standard IsTerminal(fd) usage (see
// DESIGN.md for its grounding) — the check a hosting program needs before
// choosing a tea.Program over a plain log stream.
func IsInteractive() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}
