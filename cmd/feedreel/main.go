// Package main is the entry point for the feedreel application.
package main

import (
	"os"

	"github.com/jmylchreest/feedreel/cmd/feedreel/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
