// Package main is the entry point for camrec.
package main

import (
	"os"

	"github.com/jmylchreest/camrec/cmd/camrec/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
