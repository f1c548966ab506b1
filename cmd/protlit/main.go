// Package main provides the entry point for the protlit CLI.
package main

import (
	"os"

	"github.com/protlit/protlit/cmd/protlit/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
