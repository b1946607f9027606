// Package main is the entry point for the statecore CLI.
//
// Usage:
//
//	statecore run scenario.yaml             # Run one scenario, print its trace
//	statecore test ./scenarios              # Run every scenario, compare golden traces
//	statecore validate scenario.cue         # Statically check a scenario
//	statecore trace --db statecore.db       # Print a journaled run
//	statecore version                       # Show version info
package main

import (
	"fmt"
	"os"

	"github.com/roach88/statecore/internal/cli"
)

// Version information - set at build time via ldflags.
// Example: go build -ldflags "-X main.version=1.0.0"
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	cmd := cli.NewRootCommand(cli.BuildInfo{
		Version: version,
		Commit:  commit,
		Date:    date,
	})
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
