package logger

import "golang.org/x/term"

// isTerminal reports whether the file descriptor is attached to a terminal.
// Color output is only enabled when writing to one.
func isTerminal(fd uintptr) bool {
	return term.IsTerminal(int(fd))
}
