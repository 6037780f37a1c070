// Command provctl inspects, verifies and archives .provenance documents.
//
// Usage:
//
//	provctl verify [--format text|json|markdown] <file.provenance>...
//	provctl stats <file.provenance>
//	provctl replay [--at N] [--frames] <file.provenance>
//	provctl new [--title T] [--content-file F] <file>
//	provctl record [--script F] <file.provenance>
//	provctl archive add|list|show|verify|export|delete ...
//	provctl serve
//
// verify exits with status 1 when any document fails verification.
package main

import (
	"errors"
	"fmt"
	"os"
)

var (
	// Version information (set at build time)
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
)

func main() {
	root := newRootCmd(os.Stdout, os.Stderr)
	if err := root.Execute(); err != nil {
		if !errors.Is(err, errVerificationFailed) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}
