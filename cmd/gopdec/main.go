// Package main is the entry point for the gopdec CLI.
package main

import (
	"os"

	"github.com/jmylchreest/gopdec/cmd/gopdec/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
