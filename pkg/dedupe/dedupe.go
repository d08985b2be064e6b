// Package dedupe merges packages across ecosystems into canonical projects.
//
// A canonical project ("canon") is keyed by the canonical form of a
// package's most recent homepage URL. The job reads the current canon
// table, computes the desired assignment for every package with a usable
// homepage, inserts canons for URLs never seen before, and upserts the
// package → canon mapping. Canons are never garbage-collected: a package
// whose homepage moves away from a canon leaves it behind intact.
//
// The job runs independently of the adapter pipelines and strictly after
// them within a cycle. Re-running it on unchanged input performs zero
// writes. The LOAD flag gates writes entirely: when false the job logs what
// it would do and exits, which is the default.
package dedupe

import (
	"context"
	"sort"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/chai-pm/chai/pkg/canonical"
	"github.com/chai-pm/chai/pkg/config"
	"github.com/chai-pm/chai/pkg/model"
	"github.com/chai-pm/chai/pkg/store"
)

// Storer is the slice of the store the deduplicator needs.
type Storer interface {
	Canons(ctx context.Context) (map[string]uuid.UUID, error)
	LatestHomepages(ctx context.Context, homepageTypeID uuid.UUID) ([]store.PackageHomepage, error)
	ApplyCanons(ctx context.Context, canons []model.Canon, mappings []model.CanonPackage) error
}

// Deduplicator is the canonical-project merge job.
type Deduplicator struct {
	cfg    *config.Config
	store  Storer
	logger *log.Logger
}

// New assembles the job.
func New(cfg *config.Config, s Storer, logger *log.Logger) *Deduplicator {
	if logger == nil {
		logger = log.Default()
	}
	return &Deduplicator{cfg: cfg, store: s, logger: logger}
}

// Run executes one reconciliation cycle.
func (d *Deduplicator) Run(ctx context.Context) error {
	current, err := d.store.Canons(ctx)
	if err != nil {
		return err
	}
	d.logger.Info("loaded canons", "count", len(current))

	homepages, err := d.store.LatestHomepages(ctx, d.cfg.URLTypes.Homepage)
	if err != nil {
		return err
	}
	d.logger.Info("loaded homepage entries", "count", len(homepages))

	newCanons, mappings := Reconcile(current, homepages, d.logger)
	d.logger.Info("reconciled", "new_canons", len(newCanons), "mappings", len(mappings))

	if !d.cfg.Exec.Load {
		d.logger.Info("LOAD=false, skipping writes")
		return nil
	}
	return d.store.ApplyCanons(ctx, newCanons, mappings)
}

// badHomepage filters URL values that slipped into stores as placeholder
// text rather than locations.
func badHomepage(url string) bool {
	return url == "" || url == "null"
}

// Reconcile computes the canon inserts and package assignments that bring
// the canon tables in line with the latest homepages. homepages must be
// ordered most-recent-first per package; the first usable entry per package
// wins. Both outputs are sorted by natural key.
func Reconcile(current map[string]uuid.UUID, homepages []store.PackageHomepage, logger *log.Logger) ([]model.Canon, []model.CanonPackage) {
	now := time.Now().UTC()

	// latest usable homepage per package, canonicalized
	type pick struct {
		name string
		url  string
	}
	latest := make(map[uuid.UUID]pick)
	order := make([]uuid.UUID, 0, len(homepages))
	for _, h := range homepages {
		if _, ok := latest[h.PackageID]; ok {
			continue
		}
		if badHomepage(h.URL) {
			continue
		}
		canon, err := canonical.Canonicalize(h.URL)
		if err != nil {
			logger.Debug("dropping malformed homepage", "package", h.PackageID, "url", h.URL)
			continue
		}
		latest[h.PackageID] = pick{name: h.Name, url: canon}
		order = append(order, h.PackageID)
	}

	// canons for URLs never seen before; the first package observed for a
	// URL donates its name
	assigned := make(map[string]uuid.UUID, len(current))
	for url, id := range current {
		assigned[url] = id
	}
	var newCanons []model.Canon
	for _, pkgID := range order {
		p := latest[pkgID]
		if _, ok := assigned[p.url]; ok {
			continue
		}
		c := model.Canon{
			ID:        uuid.New(),
			URL:       p.url,
			Name:      p.name,
			CreatedAt: now,
			UpdatedAt: now,
		}
		assigned[p.url] = c.ID
		newCanons = append(newCanons, c)
	}

	// desired assignment for every package with a usable homepage
	var mappings []model.CanonPackage
	for _, pkgID := range order {
		p := latest[pkgID]
		mappings = append(mappings, model.CanonPackage{
			ID:        uuid.New(),
			CanonID:   assigned[p.url],
			PackageID: pkgID,
			CreatedAt: now,
			UpdatedAt: now,
		})
	}

	sort.Slice(newCanons, func(i, j int) bool { return newCanons[i].URL < newCanons[j].URL })
	sort.Slice(mappings, func(i, j int) bool {
		return mappings[i].PackageID.String() < mappings[j].PackageID.String()
	})
	return newCanons, mappings
}
