// Package pipeline orchestrates one package manager's ingestion run:
//
//	fetch → parse ─┐
//	               ├→ diff → ingest → (delete?)
//	cache load ────┘
//
// The cache load runs concurrently with fetch+parse; both must finish
// before diffing. Every stage checks the context at its boundary, and the
// store applies the delta in a single transaction, so a cancelled or failed
// run leaves no partial state. A failed run is reported through the
// returned error; the next scheduled cycle retries from scratch.
package pipeline

import (
	"context"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/chai-pm/chai/pkg/cache"
	"github.com/chai-pm/chai/pkg/config"
	"github.com/chai-pm/chai/pkg/diff"
	"github.com/chai-pm/chai/pkg/errors"
	"github.com/chai-pm/chai/pkg/model"
)

// testRecordLimit caps parsed snapshots in TEST mode so fixture runs stay
// small.
const testRecordLimit = 10

// Storer is the slice of the store a pipeline writes through.
type Storer interface {
	LoadCurrentGraph(ctx context.Context, pmID uuid.UUID) ([]model.Package, []model.Dependency, error)
	LoadCurrentURLs(ctx context.Context, pmID uuid.UUID) ([]model.URL, []model.PackageURL, error)
	Ingest(ctx context.Context, pmID uuid.UUID, delta *diff.Delta) error
	DeletePackagesByImportID(ctx context.Context, pmID uuid.UUID, importIDs []string) (int, error)
	RecordLoadHistory(ctx context.Context, h model.LoadHistory) error
}

// Source produces a directory of upstream files ready for parsing.
type Source interface {
	Fetch(ctx context.Context) (string, error)
	Latest() string
	Cleanup() error
}

// Parser converts a fetched directory into normalized package records.
// Parsers never touch the store.
type Parser interface {
	Parse(ctx context.Context, dir string) ([]model.NormalizedPackage, error)
}

// Stats summarizes one completed run.
type Stats struct {
	Parsed          int
	NewPackages     int
	UpdatedPackages int
	NewURLs         int
	NewLinks        int
	NewDeps         int
	RemovedDeps     int
	DeletedPackages int
	Duration        time.Duration
}

// Pipeline runs one package manager's ingestion.
type Pipeline struct {
	cfg    *config.Config
	store  Storer
	source Source
	parser Parser
	logger *log.Logger
}

// New assembles a pipeline from its collaborators.
func New(cfg *config.Config, store Storer, source Source, parser Parser, logger *log.Logger) *Pipeline {
	if logger == nil {
		logger = log.Default()
	}
	return &Pipeline{cfg: cfg, store: store, source: source, parser: parser, logger: logger}
}

// Run executes one full cycle. It is not safe for concurrent invocation;
// the scheduler guarantees single-flight per pipeline.
func (p *Pipeline) Run(ctx context.Context) (Stats, error) {
	start := time.Now()
	stats := Stats{}
	pm := p.cfg.PackageManager

	// cache load overlaps fetch+parse
	type cacheResult struct {
		cache *cache.Cache
		err   error
	}
	cacheCh := make(chan cacheResult, 1)
	go func() {
		c, err := p.loadCache(ctx)
		cacheCh <- cacheResult{cache: c, err: err}
	}()

	dir, err := p.resolveInput(ctx)
	if err != nil {
		<-cacheCh
		return stats, err
	}

	p.logger.Info("parsing", "pm", pm.Name, "dir", dir)
	snapshot, err := p.parser.Parse(ctx, dir)
	if err != nil {
		<-cacheCh
		return stats, err
	}
	if p.cfg.Exec.Test && len(snapshot) > testRecordLimit {
		snapshot = snapshot[:testRecordLimit]
	}
	stats.Parsed = len(snapshot)
	p.logger.Info("parsed snapshot", "pm", pm.Name, "records", len(snapshot))

	res := <-cacheCh
	if res.err != nil {
		return stats, res.err
	}
	if err := ctx.Err(); err != nil {
		return stats, errors.Wrap(errors.ErrCodeCancelled, err, "run cancelled")
	}

	p.logger.Info("diffing", "pm", pm.Name)
	delta := diff.New(p.cfg, res.cache, p.logger).Diff(snapshot)
	stats.NewPackages = len(delta.NewPackages)
	stats.UpdatedPackages = len(delta.UpdatedPackages)
	stats.NewURLs = len(delta.NewURLs)
	stats.NewLinks = len(delta.NewPackageURLs)
	stats.NewDeps = len(delta.NewDeps)
	stats.RemovedDeps = len(delta.RemovedDeps)

	if delta.Empty() {
		p.logger.Info("delta empty, nothing to ingest", "pm", pm.Name)
	} else {
		if err := p.store.Ingest(ctx, pm.ID, delta); err != nil {
			return stats, err
		}
	}

	if p.cfg.Source.Authoritative {
		deleted, err := p.deleteAbsent(ctx, res.cache, snapshot)
		if err != nil {
			return stats, err
		}
		stats.DeletedPackages = deleted
	}

	if p.cfg.Exec.NoCache {
		if err := p.source.Cleanup(); err != nil {
			p.logger.Warn("cleanup failed", "pm", pm.Name, "err", err)
		}
	}

	stats.Duration = time.Since(start)

	// the marker row goes in last so its counts include deletion detection
	if err := p.store.RecordLoadHistory(ctx, model.LoadHistory{
		PackageManagerID: pm.ID,
		NewPackages:      stats.NewPackages,
		UpdatedPackages:  stats.UpdatedPackages,
		NewURLs:          stats.NewURLs,
		NewLinks:         stats.NewLinks,
		NewDeps:          stats.NewDeps,
		RemovedDeps:      stats.RemovedDeps,
		DeletedPackages:  stats.DeletedPackages,
		Duration:         stats.Duration,
	}); err != nil {
		return stats, err
	}
	p.logger.Info("run complete", "pm", pm.Name, "duration", stats.Duration.Round(time.Millisecond))
	return stats, nil
}

// resolveInput fetches the source or reuses the last fetched snapshot.
func (p *Pipeline) resolveInput(ctx context.Context) (string, error) {
	if p.cfg.Exec.Fetch && !p.cfg.Exec.Test {
		p.logger.Info("fetching", "pm", p.cfg.PackageManager.Name)
		return p.source.Fetch(ctx)
	}

	p.logger.Info("fetch disabled, reusing latest snapshot", "pm", p.cfg.PackageManager.Name)
	latest := p.source.Latest()
	if _, err := os.Stat(latest); err != nil {
		return "", errors.Wrap(errors.ErrCodeInvalidInput, err, "no fetched snapshot at %s", latest)
	}
	return latest, nil
}

// loadCache materializes the diff baseline from the store.
func (p *Pipeline) loadCache(ctx context.Context) (*cache.Cache, error) {
	pmID := p.cfg.PackageManager.ID
	packages, deps, err := p.store.LoadCurrentGraph(ctx, pmID)
	if err != nil {
		return nil, err
	}
	urls, links, err := p.store.LoadCurrentURLs(ctx, pmID)
	if err != nil {
		return nil, err
	}
	c := cache.Build(packages, deps, urls, links)
	p.logger.Info("loaded cache", "pm", p.cfg.PackageManager.Name,
		"packages", len(packages), "urls", len(urls), "deps", len(deps))
	return c, nil
}

// deleteAbsent removes packages missing from an authoritative snapshot.
func (p *Pipeline) deleteAbsent(ctx context.Context, c *cache.Cache, snapshot []model.NormalizedPackage) (int, error) {
	current := c.ImportIDs()
	for _, pkg := range snapshot {
		delete(current, pkg.ImportID)
	}
	if len(current) == 0 {
		return 0, nil
	}

	absent := make([]string, 0, len(current))
	for id := range current {
		absent = append(absent, id)
	}
	p.logger.Info("deleting packages absent from authoritative snapshot",
		"pm", p.cfg.PackageManager.Name, "count", len(absent))
	return p.store.DeletePackagesByImportID(ctx, p.cfg.PackageManager.ID, absent)
}
