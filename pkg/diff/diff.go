// Package diff computes the minimal delta between a parsed upstream
// snapshot and the store's current state for one package manager.
//
// The differ never touches the store. It reads the cache baseline, stages
// every mutation in a [Delta], and leaves application to the store's
// transactional ingest. Diffing is idempotent: running a snapshot against a
// cache that already reflects it yields an empty delta.
//
// # Staged identity
//
// Packages and URLs that are new in this snapshot receive their uuid at
// staging time. Later records in the same snapshot resolve against staged
// entities exactly as they would against cached ones, so a dependency on a
// package first seen three records earlier still resolves in the same run.
//
// # Row-level failures
//
// Malformed URLs are dropped with a debug log line. Dependency edges whose
// target import id is neither in the store nor in the snapshot are dropped
// with a warning. Neither aborts the diff.
package diff

import (
	"sort"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/chai-pm/chai/pkg/cache"
	"github.com/chai-pm/chai/pkg/canonical"
	"github.com/chai-pm/chai/pkg/config"
	"github.com/chai-pm/chai/pkg/model"
)

// Differ computes deltas for a single package manager. It is single-use:
// create one per pipeline run.
type Differ struct {
	cfg    *config.Config
	cache  *cache.Cache
	logger *log.Logger
	now    time.Time

	stagedPkgs  map[string]model.Package   // import_id → staged new package
	stagedURLs  map[cache.URLKey]model.URL // (url, type) → staged new URL
	stagedUsers map[userKey]bool
	stagedLinks map[userLinkKey]bool

	// reverse lookups used for deterministic ordering of the delta
	importByPkgID map[uuid.UUID]string
	keyByURLID    map[uuid.UUID]cache.URLKey
}

// New creates a differ over the given baseline.
func New(cfg *config.Config, c *cache.Cache, logger *log.Logger) *Differ {
	if logger == nil {
		logger = log.Default()
	}
	d := &Differ{
		cfg:           cfg,
		cache:         c,
		logger:        logger,
		now:           time.Now().UTC(),
		stagedPkgs:    make(map[string]model.Package),
		stagedURLs:    make(map[cache.URLKey]model.URL),
		stagedUsers:   make(map[userKey]bool),
		stagedLinks:   make(map[userLinkKey]bool),
		importByPkgID: make(map[uuid.UUID]string),
		keyByURLID:    make(map[uuid.UUID]cache.URLKey),
	}
	for importID, p := range c.Packages {
		d.importByPkgID[p.ID] = importID
	}
	for key, u := range c.URLs {
		d.keyByURLID[u.ID] = key
	}
	return d
}

// Diff computes the delta for a full snapshot. Duplicate import ids within
// the snapshot are collapsed to their first occurrence.
func (d *Differ) Diff(snapshot []model.NormalizedPackage) *Delta {
	delta := &Delta{}

	// Pass 1: resolve or stage every package so that dependency targets on
	// packages first seen later in the snapshot still resolve.
	seen := make(map[string]bool, len(snapshot))
	ordered := make([]model.NormalizedPackage, 0, len(snapshot))
	for _, pkg := range snapshot {
		if pkg.ImportID == "" {
			d.logger.Debug("skipping record without import id", "pm", d.cfg.PackageManager.Name)
			continue
		}
		if seen[pkg.ImportID] {
			d.logger.Debug("duplicate import id in snapshot", "import_id", pkg.ImportID)
			continue
		}
		seen[pkg.ImportID] = true
		ordered = append(ordered, pkg)
		d.diffPackage(pkg, delta)
	}

	// Pass 2: URLs, links, and dependencies, now that every endpoint has an
	// identity.
	for _, pkg := range ordered {
		pkgID := d.resolvePackage(pkg.ImportID)
		d.diffURLs(pkgID, pkg, delta)
		d.diffDeps(pkgID, pkg, delta)
		d.diffUsers(pkgID, pkg, delta)
	}

	d.finalize(delta)
	return delta
}

// resolvePackage returns the id for an import id known to be either cached
// or staged.
func (d *Differ) resolvePackage(importID string) uuid.UUID {
	if p, ok := d.cache.Packages[importID]; ok {
		return p.ID
	}
	return d.stagedPkgs[importID].ID
}

func (d *Differ) diffPackage(pkg model.NormalizedPackage, delta *Delta) {
	existing, ok := d.cache.Packages[pkg.ImportID]
	if !ok {
		p := model.Package{
			ID:               uuid.New(),
			DerivedID:        d.cfg.PackageManager.Name + "/" + pkg.ImportID,
			Name:             pkg.Name,
			PackageManagerID: d.cfg.PackageManager.ID,
			ImportID:         pkg.ImportID,
			Readme:           pkg.Readme,
			CreatedAt:        d.now,
			UpdatedAt:        d.now,
		}
		d.stagedPkgs[pkg.ImportID] = p
		d.importByPkgID[p.ID] = pkg.ImportID
		delta.NewPackages = append(delta.NewPackages, p)
		return
	}

	if existing.Readme != pkg.Readme || existing.Name != pkg.Name {
		delta.UpdatedPackages = append(delta.UpdatedPackages, model.PackageUpdate{
			ID:        existing.ID,
			ImportID:  pkg.ImportID,
			Name:      pkg.Name,
			Readme:    pkg.Readme,
			UpdatedAt: d.now,
		})
	}
}

func (d *Differ) diffURLs(pkgID uuid.UUID, pkg model.NormalizedPackage, delta *Delta) {
	typeNames := make([]string, 0, len(pkg.URLs))
	for name := range pkg.URLs {
		typeNames = append(typeNames, name)
	}
	sort.Strings(typeNames)

	existing := d.cache.PackageURLs[pkgID]
	linked := make(map[uuid.UUID]bool) // staged links for this package

	for _, typeName := range typeNames {
		typeID, ok := d.cfg.URLTypes.ID(typeName)
		if !ok {
			d.logger.Debug("unknown url type", "type", typeName, "import_id", pkg.ImportID)
			continue
		}

		urls := append([]string(nil), pkg.URLs[typeName]...)
		sort.Strings(urls)
		for _, raw := range urls {
			if raw == "" {
				continue
			}
			canon, err := canonical.Canonicalize(raw)
			if err != nil {
				d.logger.Debug("dropping malformed url", "url", raw, "import_id", pkg.ImportID, "err", err)
				continue
			}

			urlID := d.resolveURL(canon, typeID)

			if _, ok := existing[urlID]; ok {
				continue
			}
			if linked[urlID] {
				continue
			}
			linked[urlID] = true
			delta.NewPackageURLs = append(delta.NewPackageURLs, model.PackageURL{
				ID:        uuid.New(),
				PackageID: pkgID,
				URLID:     urlID,
				CreatedAt: d.now,
				UpdatedAt: d.now,
			})
		}
	}
}

// resolveURL returns the id of the URL row for (canon, typeID), staging a
// new row when neither the cache nor this run has seen it.
func (d *Differ) resolveURL(canon string, typeID uuid.UUID) uuid.UUID {
	key := cache.URLKey{URL: canon, TypeID: typeID}
	if u, ok := d.stagedURLs[key]; ok {
		return u.ID
	}
	if u, ok := d.cache.URLs[key]; ok {
		return u.ID
	}
	u := model.URL{
		ID:        uuid.New(),
		URL:       canon,
		URLTypeID: typeID,
		CreatedAt: d.now,
		UpdatedAt: d.now,
	}
	d.stagedURLs[key] = u
	d.keyByURLID[u.ID] = key
	return u.ID
}

// depCandidate is a dependency target after priority dedup.
type depCandidate struct {
	typeName string
	semver   string
}

func (d *Differ) diffDeps(pkgID uuid.UUID, pkg model.NormalizedPackage, delta *Delta) {
	// Collapse multiple declarations of the same target to the single
	// highest-priority type.
	candidates := make(map[string]depCandidate)
	for _, dep := range pkg.Dependencies {
		if dep.ImportID == "" {
			continue
		}
		cur, ok := candidates[dep.ImportID]
		if !ok || model.DepTypePriority[dep.TypeName] > model.DepTypePriority[cur.typeName] {
			candidates[dep.ImportID] = depCandidate{typeName: dep.TypeName, semver: dep.Semver}
		}
	}

	// Resolve endpoints and build the desired edge set.
	desired := make(map[cache.DepKey]string, len(candidates))
	for depImportID, cand := range candidates {
		typeID, ok := d.cfg.DependencyTypes.ID(cand.typeName)
		if !ok {
			d.logger.Debug("unknown dependency type", "type", cand.typeName, "import_id", pkg.ImportID)
			continue
		}
		targetID, ok := d.resolveDepTarget(depImportID)
		if !ok {
			d.logger.Warn("dependency endpoint not in snapshot or store; dropping edge",
				"import_id", pkg.ImportID, "dependency", depImportID)
			continue
		}
		desired[cache.DepKey{DependencyID: targetID, TypeID: typeID}] = cand.semver
	}

	existing := d.cache.Dependencies[pkgID]

	for key, semver := range desired {
		if cur, ok := existing[key]; ok {
			if cur.SemverRange != semver {
				// Same edge, new constraint: the upsert path updates it.
				delta.NewDeps = append(delta.NewDeps, model.Dependency{
					ID:               uuid.New(),
					PackageID:        pkgID,
					DependencyID:     key.DependencyID,
					DependencyTypeID: key.TypeID,
					SemverRange:      semver,
					CreatedAt:        d.now,
					UpdatedAt:        d.now,
				})
			}
			continue
		}
		delta.NewDeps = append(delta.NewDeps, model.Dependency{
			ID:               uuid.New(),
			PackageID:        pkgID,
			DependencyID:     key.DependencyID,
			DependencyTypeID: key.TypeID,
			SemverRange:      semver,
			CreatedAt:        d.now,
			UpdatedAt:        d.now,
		})
	}

	for key, row := range existing {
		if _, ok := desired[key]; !ok {
			delta.RemovedDeps = append(delta.RemovedDeps, row)
		}
	}
}

// resolveDepTarget resolves a dependency import id against the cache first,
// then against packages staged earlier in this same run.
func (d *Differ) resolveDepTarget(importID string) (uuid.UUID, bool) {
	if p, ok := d.cache.Packages[importID]; ok {
		return p.ID, true
	}
	if p, ok := d.stagedPkgs[importID]; ok {
		return p.ID, true
	}
	return uuid.Nil, false
}

// userKey and userLinkKey dedupe account rows staged across packages.
type userKey struct {
	username string
	sourceID uuid.UUID
}

type userLinkKey struct {
	userKey
	packageID uuid.UUID
}

// diffUsers stages upstream accounts and their package links. The store has
// no user baseline in the cache; both inserts are conflict-do-nothing, so
// re-staging known accounts costs nothing.
func (d *Differ) diffUsers(pkgID uuid.UUID, pkg model.NormalizedPackage, delta *Delta) {
	for _, u := range pkg.Users {
		if u.Username == "" {
			continue
		}
		sourceID, ok := d.cfg.UserSources.ID(u.Source)
		if !ok {
			d.logger.Debug("unknown user source", "source", u.Source, "import_id", pkg.ImportID)
			continue
		}
		uk := userKey{username: u.Username, sourceID: sourceID}
		if !d.stagedUsers[uk] {
			d.stagedUsers[uk] = true
			delta.NewUsers = append(delta.NewUsers, model.User{
				ID:        uuid.New(),
				Username:  u.Username,
				SourceID:  sourceID,
				CreatedAt: d.now,
				UpdatedAt: d.now,
			})
		}
		lk := userLinkKey{userKey: uk, packageID: pkgID}
		if d.stagedLinks[lk] {
			continue
		}
		d.stagedLinks[lk] = true
		delta.NewUserLinks = append(delta.NewUserLinks, UserLink{
			Username:  u.Username,
			SourceID:  sourceID,
			PackageID: pkgID,
		})
	}
}

// finalize collects staged URLs and sorts every delta set by natural keys
// so re-runs over identical input emit identical batches.
func (d *Differ) finalize(delta *Delta) {
	for _, u := range d.stagedURLs {
		delta.NewURLs = append(delta.NewURLs, u)
	}

	sort.Slice(delta.NewPackages, func(i, j int) bool {
		return delta.NewPackages[i].ImportID < delta.NewPackages[j].ImportID
	})
	sort.Slice(delta.UpdatedPackages, func(i, j int) bool {
		return delta.UpdatedPackages[i].ImportID < delta.UpdatedPackages[j].ImportID
	})
	sort.Slice(delta.NewURLs, func(i, j int) bool {
		a, b := delta.NewURLs[i], delta.NewURLs[j]
		if a.URL != b.URL {
			return a.URL < b.URL
		}
		return a.URLTypeID.String() < b.URLTypeID.String()
	})
	sort.Slice(delta.NewPackageURLs, func(i, j int) bool {
		a, b := delta.NewPackageURLs[i], delta.NewPackageURLs[j]
		ai, bi := d.importByPkgID[a.PackageID], d.importByPkgID[b.PackageID]
		if ai != bi {
			return ai < bi
		}
		ak, bk := d.keyByURLID[a.URLID], d.keyByURLID[b.URLID]
		if ak.URL != bk.URL {
			return ak.URL < bk.URL
		}
		return ak.TypeID.String() < bk.TypeID.String()
	})
	depLess := func(deps []model.Dependency) func(i, j int) bool {
		return func(i, j int) bool {
			a, b := deps[i], deps[j]
			ai, bi := d.importByPkgID[a.PackageID], d.importByPkgID[b.PackageID]
			if ai != bi {
				return ai < bi
			}
			ad, bd := d.importByPkgID[a.DependencyID], d.importByPkgID[b.DependencyID]
			if ad != bd {
				return ad < bd
			}
			return a.DependencyTypeID.String() < b.DependencyTypeID.String()
		}
	}
	sort.Slice(delta.NewDeps, depLess(delta.NewDeps))
	sort.Slice(delta.RemovedDeps, depLess(delta.RemovedDeps))
	sort.Slice(delta.NewUsers, func(i, j int) bool {
		a, b := delta.NewUsers[i], delta.NewUsers[j]
		if a.Username != b.Username {
			return a.Username < b.Username
		}
		return a.SourceID.String() < b.SourceID.String()
	})
	sort.Slice(delta.NewUserLinks, func(i, j int) bool {
		a, b := delta.NewUserLinks[i], delta.NewUserLinks[j]
		ai, bi := d.importByPkgID[a.PackageID], d.importByPkgID[b.PackageID]
		if ai != bi {
			return ai < bi
		}
		return a.Username < b.Username
	})
}
