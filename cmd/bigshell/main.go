// Command bigshell is the standalone entry point for the shell.
package main

import (
	"os"

	"github.com/rcarmo/bigshell/pkg/core"
	"github.com/rcarmo/bigshell/pkg/shell"
)

func main() {
	stdio := core.DefaultStdio()
	os.Exit(shell.Run(stdio, os.Args[1:]))
}
