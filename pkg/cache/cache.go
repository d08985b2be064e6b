// Package cache holds the in-memory projection of the store's current graph
// for one package manager. A pipeline builds it once per run, concurrently
// with fetch and parse, and treats it as read-only from then on: the diff engine
// compares the parsed snapshot against this baseline and stages all
// mutations in the delta.
package cache

import (
	"github.com/google/uuid"

	"github.com/chai-pm/chai/pkg/canonical"
	"github.com/chai-pm/chai/pkg/model"
)

// URLKey identifies a URL row: the same string may exist once per URL type.
type URLKey struct {
	URL    string
	TypeID uuid.UUID
}

// DepKey identifies a dependency edge from a package.
type DepKey struct {
	DependencyID uuid.UUID
	TypeID       uuid.UUID
}

// Cache is the diff baseline for a single package manager.
//
// Invariants:
//   - URL keys are canonical; non-canonical rows in the store are omitted
//     (never replicated, never removed)
//   - every dependency edge's endpoints exist in Packages
type Cache struct {
	// Packages maps import_id to the current package row.
	Packages map[string]model.Package

	// URLs maps (canonical url, url_type_id) to the current URL row.
	URLs map[URLKey]model.URL

	// PackageURLs maps package id to its current set of links, by url id.
	PackageURLs map[uuid.UUID]map[uuid.UUID]model.PackageURL

	// Dependencies maps package id to its current outgoing edges.
	Dependencies map[uuid.UUID]map[DepKey]model.Dependency

	// byID maps package id back to import_id for dependency lookups.
	byID map[uuid.UUID]string
}

// Build assembles a Cache from the store's current rows for one package
// manager. URLs that are not canonical are skipped; dependency edges whose
// endpoints are not among packages are skipped.
func Build(packages []model.Package, deps []model.Dependency, urls []model.URL, links []model.PackageURL) *Cache {
	c := &Cache{
		Packages:     make(map[string]model.Package, len(packages)),
		URLs:         make(map[URLKey]model.URL, len(urls)),
		PackageURLs:  make(map[uuid.UUID]map[uuid.UUID]model.PackageURL),
		Dependencies: make(map[uuid.UUID]map[DepKey]model.Dependency),
		byID:         make(map[uuid.UUID]string, len(packages)),
	}

	for _, p := range packages {
		c.Packages[p.ImportID] = p
		c.byID[p.ID] = p.ImportID
	}

	for _, u := range urls {
		if !canonical.IsCanonical(u.URL) {
			continue
		}
		c.URLs[URLKey{URL: u.URL, TypeID: u.URLTypeID}] = u
	}

	for _, l := range links {
		m, ok := c.PackageURLs[l.PackageID]
		if !ok {
			m = make(map[uuid.UUID]model.PackageURL)
			c.PackageURLs[l.PackageID] = m
		}
		m[l.URLID] = l
	}

	for _, d := range deps {
		if _, ok := c.byID[d.PackageID]; !ok {
			continue
		}
		if _, ok := c.byID[d.DependencyID]; !ok {
			continue
		}
		m, ok := c.Dependencies[d.PackageID]
		if !ok {
			m = make(map[DepKey]model.Dependency)
			c.Dependencies[d.PackageID] = m
		}
		m[DepKey{DependencyID: d.DependencyID, TypeID: d.DependencyTypeID}] = d
	}

	return c
}

// ImportIDOf resolves a package id back to its import id. The second return
// is false for ids outside this package manager's partition.
func (c *Cache) ImportIDOf(id uuid.UUID) (string, bool) {
	s, ok := c.byID[id]
	return s, ok
}

// ImportIDs returns the set of all import ids currently in the store for
// this package manager. Authoritative adapters subtract the snapshot's
// import ids from this set to detect deletions.
func (c *Cache) ImportIDs() map[string]bool {
	ids := make(map[string]bool, len(c.Packages))
	for id := range c.Packages {
		ids[id] = true
	}
	return ids
}
