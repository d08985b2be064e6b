package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	charmlog "github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/chai-pm/chai/pkg/config"
)

var (
	version string // semantic version (e.g., "v1.2.3")
	commit  string // git commit SHA
	date    string // build timestamp
)

// SetVersion sets the version information displayed by --version.
// Called by the main package with values injected via ldflags at build time.
func SetVersion(v, c, d string) {
	version = v
	commit = c
	date = d
}

// Execute runs the chai CLI and returns an error if any command fails.
//
// The root command wires the environment-driven config and the logger into
// the command context; subcommands pull both back out. A SIGINT/SIGTERM
// cancels the context, and every stage observes that cooperatively — the
// current ingest transaction either commits before the acknowledgement or
// rolls back.
func Execute() error {
	var verbose bool

	exec := config.LoadExec()

	root := &cobra.Command{
		Use:          "chai",
		Short:        "CHAI normalizes package-manager data into one relational graph",
		Long:         `CHAI ingests package data from crates.io, Homebrew, Debian, and the pkgx pantry, diffs it against the current store, and maintains canonical project identities across ecosystems.`,
		Version:      version,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := charmlog.InfoLevel
			if verbose || exec.Debug {
				level = charmlog.DebugLevel
			}
			ctx := withLogger(cmd.Context(), newLogger(os.Stderr, level))
			cmd.SetContext(ctx)
		},
	}

	root.SetVersionTemplate(fmt.Sprintf("chai %s\ncommit: %s\nbuilt: %s\n", version, commit, date))
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose logging")

	root.AddCommand(newPipelineCmd(exec))
	root.AddCommand(newDedupeCmd(exec))
	root.AddCommand(newMonitorCmd(exec))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return root.ExecuteContext(ctx)
}
