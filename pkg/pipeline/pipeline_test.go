package pipeline

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chai-pm/chai/pkg/config"
	"github.com/chai-pm/chai/pkg/diff"
	"github.com/chai-pm/chai/pkg/model"
)

// memStore is an in-memory Storer that applies deltas with the same key
// semantics as the postgres store.
type memStore struct {
	packages map[uuid.UUID]model.Package
	urls     map[uuid.UUID]model.URL
	links    map[uuid.UUID]model.PackageURL
	deps     map[uuid.UUID]model.Dependency
	history  []model.LoadHistory

	ingests int
	writes  int
}

func newMemStore() *memStore {
	return &memStore{
		packages: make(map[uuid.UUID]model.Package),
		urls:     make(map[uuid.UUID]model.URL),
		links:    make(map[uuid.UUID]model.PackageURL),
		deps:     make(map[uuid.UUID]model.Dependency),
	}
}

func (m *memStore) LoadCurrentGraph(_ context.Context, pmID uuid.UUID) ([]model.Package, []model.Dependency, error) {
	var packages []model.Package
	for _, p := range m.packages {
		if p.PackageManagerID == pmID {
			packages = append(packages, p)
		}
	}
	var deps []model.Dependency
	for _, d := range m.deps {
		deps = append(deps, d)
	}
	return packages, deps, nil
}

func (m *memStore) LoadCurrentURLs(_ context.Context, _ uuid.UUID) ([]model.URL, []model.PackageURL, error) {
	var urls []model.URL
	for _, u := range m.urls {
		urls = append(urls, u)
	}
	var links []model.PackageURL
	for _, l := range m.links {
		links = append(links, l)
	}
	return urls, links, nil
}

func (m *memStore) Ingest(_ context.Context, _ uuid.UUID, d *diff.Delta) error {
	m.ingests++
	for _, p := range d.NewPackages {
		m.packages[p.ID] = p
		m.writes++
	}
	for _, u := range d.UpdatedPackages {
		p := m.packages[u.ID]
		p.Name = u.Name
		p.Readme = u.Readme
		m.packages[p.ID] = p
		m.writes++
	}
	for _, u := range d.NewURLs {
		m.urls[u.ID] = u
		m.writes++
	}
	for _, l := range d.NewPackageURLs {
		m.links[l.ID] = l
		m.writes++
	}
	for _, r := range d.RemovedDeps {
		for id, dep := range m.deps {
			if dep.PackageID == r.PackageID && dep.DependencyID == r.DependencyID {
				delete(m.deps, id)
				m.writes++
			}
		}
	}
	for _, n := range d.NewDeps {
		for id, dep := range m.deps {
			if dep.PackageID == n.PackageID && dep.DependencyID == n.DependencyID {
				delete(m.deps, id)
			}
		}
		m.deps[n.ID] = n
		m.writes++
	}
	return nil
}

func (m *memStore) DeletePackagesByImportID(_ context.Context, pmID uuid.UUID, importIDs []string) (int, error) {
	absent := make(map[string]bool, len(importIDs))
	for _, id := range importIDs {
		absent[id] = true
	}
	deleted := 0
	for id, p := range m.packages {
		if p.PackageManagerID != pmID || !absent[p.ImportID] {
			continue
		}
		delete(m.packages, id)
		deleted++
		m.writes++
		for depID, dep := range m.deps {
			if dep.PackageID == id || dep.DependencyID == id {
				delete(m.deps, depID)
			}
		}
		for linkID, l := range m.links {
			if l.PackageID == id {
				delete(m.links, linkID)
			}
		}
	}
	return deleted, nil
}

func (m *memStore) RecordLoadHistory(_ context.Context, h model.LoadHistory) error {
	m.history = append(m.history, h)
	return nil
}

// stubSource serves a pre-existing directory and never fetches.
type stubSource struct{ dir string }

func (s stubSource) Fetch(context.Context) (string, error) { return s.dir, nil }
func (s stubSource) Latest() string                        { return s.dir }
func (s stubSource) Cleanup() error                        { return nil }

// stubParser returns a fixed snapshot.
type stubParser struct{ snapshot []model.NormalizedPackage }

func (p stubParser) Parse(context.Context, string) ([]model.NormalizedPackage, error) {
	return p.snapshot, nil
}

func testConfig(authoritative bool) *config.Config {
	return &config.Config{
		PackageManager: model.PackageManager{ID: uuid.New(), Name: "crates"},
		Source:         config.SourceSpec{Name: "crates", Authoritative: authoritative},
		Exec:           config.Exec{Fetch: true},
		URLTypes: config.URLTypes{
			Homepage: uuid.New(), Source: uuid.New(), Repository: uuid.New(), Documentation: uuid.New(),
		},
		DependencyTypes: config.DependencyTypes{
			Runtime: uuid.New(), Build: uuid.New(), Test: uuid.New(),
			Recommended: uuid.New(), Optional: uuid.New(), UsesFromMacos: uuid.New(),
		},
	}
}

func serdeSnapshot() []model.NormalizedPackage {
	return []model.NormalizedPackage{
		{
			ImportID: "serde",
			Name:     "serde",
			URLs:     map[string][]string{model.URLTypeHomepage: {"https://serde.rs/"}},
			Dependencies: []model.NormalizedDep{
				{ImportID: "proc-macro2", TypeName: model.DepTypeRuntime},
			},
		},
		{ImportID: "proc-macro2", Name: "proc-macro2"},
	}
}

func TestRunIngestsNewPackages(t *testing.T) {
	store := newMemStore()
	p := New(testConfig(true), store, stubSource{dir: t.TempDir()}, stubParser{snapshot: serdeSnapshot()}, nil)

	stats, err := p.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, stats.NewPackages)
	assert.Len(t, store.packages, 2)
	require.Len(t, store.urls, 1)
	for _, u := range store.urls {
		assert.Equal(t, "https://serde.rs", u.URL)
	}
	assert.Len(t, store.links, 1)
	assert.Len(t, store.deps, 1)
}

func TestRunIdempotent(t *testing.T) {
	store := newMemStore()
	cfg := testConfig(true)
	src := stubSource{dir: t.TempDir()}
	parser := stubParser{snapshot: serdeSnapshot()}

	_, err := New(cfg, store, src, parser, nil).Run(context.Background())
	require.NoError(t, err)
	writes := store.writes

	stats, err := New(cfg, store, src, parser, nil).Run(context.Background())
	require.NoError(t, err)

	assert.Zero(t, stats.NewPackages+stats.UpdatedPackages+stats.NewURLs+stats.NewDeps+stats.RemovedDeps)
	assert.Equal(t, writes, store.writes, "second run must perform zero writes")
}

func TestRunDeletesAbsentOnAuthoritative(t *testing.T) {
	store := newMemStore()
	cfg := testConfig(true)

	full := append(serdeSnapshot(), model.NormalizedPackage{ImportID: "foo", Name: "foo"})
	_, err := New(cfg, store, stubSource{dir: t.TempDir()}, stubParser{snapshot: full}, nil).Run(context.Background())
	require.NoError(t, err)
	require.Len(t, store.packages, 3)

	stats, err := New(cfg, store, stubSource{dir: t.TempDir()}, stubParser{snapshot: serdeSnapshot()}, nil).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, stats.DeletedPackages)
	assert.Len(t, store.packages, 2)

	// the marker row carries the deletion count, not a placeholder
	require.Len(t, store.history, 2)
	assert.Equal(t, 1, store.history[1].DeletedPackages)
}

func TestRunKeepsAbsentOnNonAuthoritative(t *testing.T) {
	store := newMemStore()
	cfg := testConfig(false)

	full := append(serdeSnapshot(), model.NormalizedPackage{ImportID: "foo", Name: "foo"})
	_, err := New(cfg, store, stubSource{dir: t.TempDir()}, stubParser{snapshot: full}, nil).Run(context.Background())
	require.NoError(t, err)

	stats, err := New(cfg, store, stubSource{dir: t.TempDir()}, stubParser{snapshot: serdeSnapshot()}, nil).Run(context.Background())
	require.NoError(t, err)

	assert.Zero(t, stats.DeletedPackages)
	assert.Len(t, store.packages, 3)
}

func TestRunEmptySnapshotNonAuthoritative(t *testing.T) {
	store := newMemStore()
	cfg := testConfig(false)

	_, err := New(cfg, store, stubSource{dir: t.TempDir()}, stubParser{snapshot: serdeSnapshot()}, nil).Run(context.Background())
	require.NoError(t, err)
	writes := store.writes

	_, err = New(cfg, store, stubSource{dir: t.TempDir()}, stubParser{}, nil).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, writes, store.writes)
	assert.Len(t, store.packages, 2)
}

func TestRunEmptySnapshotAuthoritativeDeletesAll(t *testing.T) {
	store := newMemStore()
	cfg := testConfig(true)

	_, err := New(cfg, store, stubSource{dir: t.TempDir()}, stubParser{snapshot: serdeSnapshot()}, nil).Run(context.Background())
	require.NoError(t, err)

	stats, err := New(cfg, store, stubSource{dir: t.TempDir()}, stubParser{}, nil).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, stats.DeletedPackages)
	assert.Empty(t, store.packages)
}

func TestRunCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	store := newMemStore()
	p := New(testConfig(true), store, stubSource{dir: t.TempDir()}, stubParser{snapshot: serdeSnapshot()}, nil)

	_, err := p.Run(ctx)
	require.Error(t, err)
	assert.Zero(t, store.ingests, "no partial ingest after cancellation")
}
