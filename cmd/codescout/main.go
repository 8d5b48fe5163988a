// Package main provides the entry point for the codescout CLI.
package main

import (
	"fmt"
	"os"

	"github.com/codescout-dev/codescout/cmd/codescout/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
