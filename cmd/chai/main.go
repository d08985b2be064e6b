// Command chai runs the CHAI ingestion service: per-ecosystem pipelines,
// the canonical-project deduplicator, and the monitor endpoint.
package main

import (
	"os"

	"github.com/chai-pm/chai/internal/cli"
)

// set via ldflags at build time
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	cli.SetVersion(version, commit, date)
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
