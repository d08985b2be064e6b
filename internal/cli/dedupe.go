package cli

import (
	"github.com/spf13/cobra"

	"github.com/chai-pm/chai/pkg/config"
	"github.com/chai-pm/chai/pkg/store"
)

func newDedupeCmd(exec config.Exec) *cobra.Command {
	return &cobra.Command{
		Use:   "dedupe",
		Short: "Merge packages across ecosystems into canonical projects",
		Long: `Reads every package's most recent homepage URL, canonicalizes it, and
reconciles the canon tables: new canonical URLs get a canon row, and each
package is assigned to the canon of its homepage. Runs after the adapter
pipelines for a cycle. With LOAD=false (the default) the reconciliation is
computed and logged but nothing is written.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := loggerFromContext(ctx)

			st, err := store.Connect(ctx, exec.DatabaseURL, logger)
			if err != nil {
				return err
			}
			defer st.Close()
			if err := st.EnsureSchema(ctx); err != nil {
				return err
			}

			prog := newProgress(logger)
			if err := runDedupe(ctx, exec, st); err != nil {
				return err
			}
			prog.done("deduplication finished")
			return nil
		},
	}
}
