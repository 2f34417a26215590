// Package main provides the entry point for the cdocs CLI.
package main

import (
	"os"

	"github.com/compounding-docs/cdocs/cmd/cdocs/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
