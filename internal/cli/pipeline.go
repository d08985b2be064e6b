package cli

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/chai-pm/chai/internal/monitor"
	"github.com/chai-pm/chai/pkg/adapters/crates"
	"github.com/chai-pm/chai/pkg/adapters/debian"
	"github.com/chai-pm/chai/pkg/adapters/homebrew"
	"github.com/chai-pm/chai/pkg/adapters/pkgx"
	"github.com/chai-pm/chai/pkg/config"
	"github.com/chai-pm/chai/pkg/dedupe"
	"github.com/chai-pm/chai/pkg/errors"
	"github.com/chai-pm/chai/pkg/fetcher"
	"github.com/chai-pm/chai/pkg/pipeline"
	"github.com/chai-pm/chai/pkg/scheduler"
	"github.com/chai-pm/chai/pkg/store"
)

// sourcesFile optionally overrides compiled-in upstream locations.
const sourcesFile = "sources.toml"

func newPipelineCmd(exec config.Exec) *cobra.Command {
	var withDedupe bool

	cmd := &cobra.Command{
		Use:   "pipeline [package-manager...]",
		Short: "Run ingestion pipelines",
		Long: `Runs the fetch → parse → diff → ingest cycle for the named package
managers (all of them when none are given). With ENABLE_SCHEDULER=true the
pipelines re-run every FREQUENCY hours until interrupted; otherwise each
runs once and the process exits.

With --dedupe, each cycle ends with the canonical-project deduplicator:
the scheduler waits for every pipeline of the cycle before it runs.`,
		ValidArgs: config.KnownPackageManagers(),
		RunE: func(cmd *cobra.Command, args []string) error {
			names := args
			if len(names) == 0 {
				names = config.KnownPackageManagers()
			}
			return runPipelines(cmd.Context(), exec, names, withDedupe)
		},
	}
	cmd.Flags().BoolVar(&withDedupe, "dedupe", false, "run the deduplicator after each full cycle")
	return cmd
}

func runPipelines(ctx context.Context, exec config.Exec, names []string, withDedupe bool) error {
	logger := loggerFromContext(ctx)

	st, err := store.Connect(ctx, exec.DatabaseURL, logger)
	if err != nil {
		return err
	}
	defer st.Close()
	if err := st.EnsureSchema(ctx); err != nil {
		return err
	}

	registry := monitor.NewRegistry()
	monitorSrv := monitor.NewServer(exec.MonitorAddr, registry, logger)
	go func() {
		logger.Info("monitor listening", "addr", exec.MonitorAddr)
		if err := monitorSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Warn("monitor server stopped", "err", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		monitorSrv.Shutdown(shutdownCtx)
	}()

	pipelines := make(map[string]*pipeline.Pipeline, len(names))
	for _, name := range names {
		p, err := buildPipeline(ctx, exec, st, name)
		if err != nil {
			return err
		}
		pipelines[name] = p
	}

	runOne := func(ctx context.Context, name string) error {
		prog := newProgress(logger)
		stats, err := pipelines[name].Run(ctx)
		registry.Record(name, stats, err)
		if err != nil {
			logger.Error("pipeline failed", "pm", name, "err", err)
			return err
		}
		prog.done(fmt.Sprintf("%s ingested %d new, %d updated packages", name, stats.NewPackages, stats.UpdatedPackages))
		return nil
	}

	// runCycle runs every pipeline concurrently (one worker each), then —
	// strictly after all of them — the deduplicator.
	runCycle := func(ctx context.Context) error {
		var wg sync.WaitGroup
		errs := make([]error, len(names))
		for i, name := range names {
			wg.Add(1)
			go func(i int, name string) {
				defer wg.Done()
				errs[i] = runOne(ctx, name)
			}(i, name)
		}
		wg.Wait()

		for _, err := range errs {
			if err != nil {
				return errors.New(errors.ErrCodeInternal, "one or more pipelines failed")
			}
		}
		if withDedupe {
			if err := runDedupe(ctx, exec, st); err != nil {
				logger.Error("dedupe failed", "err", err)
				return err
			}
		}
		return nil
	}

	if !exec.EnableScheduler {
		logger.Info("scheduler disabled, running once")
		return runCycle(ctx)
	}

	sched := scheduler.New(logger)
	every := time.Duration(exec.Frequency) * time.Hour
	if withDedupe {
		// the cycle job is the ordering barrier between pipelines and dedupe
		if err := sched.Add(ctx, "cycle", every, runCycle); err != nil {
			return err
		}
	} else {
		for _, name := range names {
			jobName := name
			err := sched.Add(ctx, jobName, every, func(ctx context.Context) error {
				return runOne(ctx, jobName)
			})
			if err != nil {
				return err
			}
		}
	}

	sched.Run(ctx)
	return nil
}

// runDedupe executes one deduplication pass against an open store.
func runDedupe(ctx context.Context, exec config.Exec, st *store.Store) error {
	logger := loggerFromContext(ctx)

	urlTypes, depTypes, userSources, err := st.BootstrapTypes(ctx)
	if err != nil {
		return err
	}
	cfg := &config.Config{
		Exec:            exec,
		URLTypes:        urlTypes,
		DependencyTypes: depTypes,
		UserSources:     userSources,
	}
	return dedupe.New(cfg, st, logger).Run(ctx)
}

// buildPipeline assembles one adapter's pipeline: bootstrap the type ids,
// resolve the source spec, and wire fetcher + parser.
func buildPipeline(ctx context.Context, exec config.Exec, st *store.Store, name string) (*pipeline.Pipeline, error) {
	logger := loggerFromContext(ctx).With("pm", name)

	spec, err := config.LoadSource(name, sourcesFile)
	if err != nil {
		return nil, err
	}

	pm, urlTypes, depTypes, userSources, err := st.Bootstrap(ctx, name)
	if err != nil {
		return nil, err
	}

	cfg := &config.Config{
		PackageManager:  pm,
		Source:          spec,
		Exec:            exec,
		URLTypes:        urlTypes,
		DependencyTypes: depTypes,
		UserSources:     userSources,
	}

	var parser pipeline.Parser
	switch name {
	case "crates":
		parser = crates.New(logger)
	case "homebrew":
		parser = homebrew.New(logger)
	case "debian":
		parser = debian.New(logger)
	case "pkgx":
		parser = pkgx.New(logger)
	default:
		return nil, errors.New(errors.ErrCodeInvalidInput, "no parser for package manager %q", name)
	}

	src := fetcher.New(spec, exec.DataDir, logger)
	return pipeline.New(cfg, st, src, parser, logger), nil
}
