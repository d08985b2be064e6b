package cli

import (
	"context"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/chai-pm/chai/internal/monitor"
	"github.com/chai-pm/chai/pkg/config"
	"github.com/chai-pm/chai/pkg/store"
)

func newMonitorCmd(exec config.Exec) *cobra.Command {
	return &cobra.Command{
		Use:   "monitor",
		Short: "Serve the health and metrics endpoint",
		Long: `Serves GET /healthz and GET /metrics on CHAI_MONITOR_ADDR as its own
process, the way the pipelines and deduplicator run as their own jobs. The
store connection is verified at startup so a broken DSN fails fast rather
than reporting healthy.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := loggerFromContext(ctx)

			st, err := store.Connect(ctx, exec.DatabaseURL, logger)
			if err != nil {
				return err
			}
			defer st.Close()

			registry := monitor.NewRegistry()
			srv := monitor.NewServer(exec.MonitorAddr, registry, logger)

			errCh := make(chan error, 1)
			go func() {
				logger.Info("monitor listening", "addr", exec.MonitorAddr)
				errCh <- srv.ListenAndServe()
			}()

			select {
			case <-ctx.Done():
				logger.Info("shutting down monitor")
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				return srv.Shutdown(shutdownCtx)
			case err := <-errCh:
				if err != nil && err != http.ErrServerClosed {
					return err
				}
				return nil
			}
		},
	}
}
