// Package core provides shared functionality for the bigshell packages.
package core

import (
	"errors"
	"fmt"
	"io"
	"os"
)

// Exit codes following POSIX conventions
const (
	ExitSuccess = 0
	ExitFailure = 1
	ExitUsage   = 2
)

// Error kinds reported by the variable registry and the builtins.
// Collaborator failures (environment writes, job table, wait) are
// wrapped and can be unwrapped with errors.Is/As.
var (
	// ErrInvalidArgument covers bad variable names and bad, missing,
	// or excess builtin arguments.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrNotFound covers unknown job ids and lookups such as an
	// unset HOME.
	ErrNotFound = errors.New("not found")
)

// Stdio holds the standard I/O streams for the shell.
// This allows for easy testing by injecting mock streams.
type Stdio struct {
	In  io.Reader
	Out io.Writer
	Err io.Writer
}

// DefaultStdio returns Stdio configured with os.Stdin, os.Stdout, os.Stderr.
func DefaultStdio() *Stdio {
	return &Stdio{
		In:  os.Stdin,
		Out: os.Stdout,
		Err: os.Stderr,
	}
}

// Errorf writes a formatted error message to stderr.
func (s *Stdio) Errorf(format string, args ...any) {
	fmt.Fprintf(s.Err, format, args...)
}

// Printf writes a formatted message to stdout.
func (s *Stdio) Printf(format string, args ...any) {
	fmt.Fprintf(s.Out, format, args...)
}

// Print writes a message to stdout.
func (s *Stdio) Print(args ...any) {
	fmt.Fprint(s.Out, args...)
}

// Println writes a message to stdout with a newline.
func (s *Stdio) Println(args ...any) {
	fmt.Fprintln(s.Out, args...)
}

// UsageError prints a usage error and returns ExitUsage.
func UsageError(stdio *Stdio, name, message string) int {
	stdio.Errorf("%s: %s\n", name, message)
	return ExitUsage
}
