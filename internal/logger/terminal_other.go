//go:build !linux && !darwin

package logger

// isTerminal conservatively reports false on platforms without termios
// support, disabling colored output.
func isTerminal(fd uintptr) bool {
	return false
}
