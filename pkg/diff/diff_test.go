package diff

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chai-pm/chai/pkg/cache"
	"github.com/chai-pm/chai/pkg/config"
	"github.com/chai-pm/chai/pkg/model"
)

func testConfig() *config.Config {
	return &config.Config{
		PackageManager: model.PackageManager{ID: uuid.New(), Name: "crates"},
		URLTypes: config.URLTypes{
			Homepage:      uuid.New(),
			Source:        uuid.New(),
			Repository:    uuid.New(),
			Documentation: uuid.New(),
		},
		DependencyTypes: config.DependencyTypes{
			Runtime:       uuid.New(),
			Build:         uuid.New(),
			Test:          uuid.New(),
			Recommended:   uuid.New(),
			Optional:      uuid.New(),
			UsesFromMacos: uuid.New(),
		},
		UserSources: config.UserSources{GitHub: uuid.New(), Crates: uuid.New()},
	}
}

func emptyCache() *cache.Cache {
	return cache.Build(nil, nil, nil, nil)
}

// applyDelta simulates a successful ingest followed by a cache reload, so
// tests can assert diff idempotence without a database.
func applyDelta(c *cache.Cache, d *Delta) *cache.Cache {
	var packages []model.Package
	for _, p := range c.Packages {
		if u := findUpdate(d, p.ID); u != nil {
			p.Name = u.Name
			p.Readme = u.Readme
		}
		packages = append(packages, p)
	}
	packages = append(packages, d.NewPackages...)

	var urls []model.URL
	for _, u := range c.URLs {
		urls = append(urls, u)
	}
	urls = append(urls, d.NewURLs...)

	var links []model.PackageURL
	for _, m := range c.PackageURLs {
		for _, l := range m {
			links = append(links, l)
		}
	}
	links = append(links, d.NewPackageURLs...)

	removed := make(map[cache.DepKey]uuid.UUID)
	for _, r := range d.RemovedDeps {
		removed[cache.DepKey{DependencyID: r.DependencyID, TypeID: r.DependencyTypeID}] = r.PackageID
	}
	var deps []model.Dependency
	for pkgID, m := range c.Dependencies {
		for key, dep := range m {
			if removed[key] == pkgID {
				continue
			}
			if hasNewDep(d, pkgID, key) {
				continue // upsert replaces it
			}
			deps = append(deps, dep)
		}
	}
	deps = append(deps, d.NewDeps...)

	return cache.Build(packages, deps, urls, links)
}

func findUpdate(d *Delta, id uuid.UUID) *model.PackageUpdate {
	for i := range d.UpdatedPackages {
		if d.UpdatedPackages[i].ID == id {
			return &d.UpdatedPackages[i]
		}
	}
	return nil
}

func hasNewDep(d *Delta, pkgID uuid.UUID, key cache.DepKey) bool {
	for _, n := range d.NewDeps {
		if n.PackageID == pkgID && n.DependencyID == key.DependencyID && n.DependencyTypeID == key.TypeID {
			return true
		}
	}
	return false
}

func TestDiffNewPackageWithDependency(t *testing.T) {
	cfg := testConfig()
	snapshot := []model.NormalizedPackage{
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

	delta := New(cfg, emptyCache(), nil).Diff(snapshot)

	require.Len(t, delta.NewPackages, 2)
	assert.Equal(t, "proc-macro2", delta.NewPackages[0].ImportID)
	assert.Equal(t, "serde", delta.NewPackages[1].ImportID)
	assert.Equal(t, "crates/serde", delta.NewPackages[1].DerivedID)

	require.Len(t, delta.NewURLs, 1)
	assert.Equal(t, "https://serde.rs", delta.NewURLs[0].URL, "trailing slash stripped")
	assert.Equal(t, cfg.URLTypes.Homepage, delta.NewURLs[0].URLTypeID)

	require.Len(t, delta.NewPackageURLs, 1)
	assert.Equal(t, delta.NewURLs[0].ID, delta.NewPackageURLs[0].URLID)

	// the dependency resolves through the staged identity of proc-macro2
	require.Len(t, delta.NewDeps, 1)
	dep := delta.NewDeps[0]
	assert.Equal(t, delta.NewPackages[1].ID, dep.PackageID)
	assert.Equal(t, delta.NewPackages[0].ID, dep.DependencyID)
	assert.Equal(t, cfg.DependencyTypes.Runtime, dep.DependencyTypeID)
	assert.Empty(t, delta.RemovedDeps)
}

func TestDiffDependencyTypePriority(t *testing.T) {
	cfg := testConfig()
	snapshot := []model.NormalizedPackage{
		{
			ImportID: "a",
			Name:     "a",
			Dependencies: []model.NormalizedDep{
				{ImportID: "b", TypeName: model.DepTypeBuild},
				{ImportID: "b", TypeName: model.DepTypeRuntime},
				{ImportID: "b", TypeName: model.DepTypeOptional},
			},
		},
		{ImportID: "b", Name: "b"},
	}

	delta := New(cfg, emptyCache(), nil).Diff(snapshot)

	require.Len(t, delta.NewDeps, 1)
	assert.Equal(t, cfg.DependencyTypes.Runtime, delta.NewDeps[0].DependencyTypeID)
}

func TestDiffIdempotent(t *testing.T) {
	cfg := testConfig()
	snapshot := []model.NormalizedPackage{
		{
			ImportID: "serde",
			Name:     "serde",
			Readme:   "a framework",
			URLs: map[string][]string{
				model.URLTypeHomepage:   {"https://serde.rs/"},
				model.URLTypeRepository: {"https://github.com/serde-rs/serde"},
			},
			Dependencies: []model.NormalizedDep{
				{ImportID: "proc-macro2", TypeName: model.DepTypeRuntime, Semver: "^1.0"},
			},
		},
		{ImportID: "proc-macro2", Name: "proc-macro2"},
	}

	first := New(cfg, emptyCache(), nil).Diff(snapshot)
	require.False(t, first.Empty())

	after := applyDelta(emptyCache(), first)
	second := New(cfg, after, nil).Diff(snapshot)
	assert.True(t, second.Empty(), "re-running an applied snapshot must stage nothing, got %+v", second)
}

func TestDiffReadmeChange(t *testing.T) {
	cfg := testConfig()
	base := []model.NormalizedPackage{{ImportID: "foo", Name: "foo", Readme: "v1"}}
	after := applyDelta(emptyCache(), New(cfg, emptyCache(), nil).Diff(base))

	changed := []model.NormalizedPackage{{ImportID: "foo", Name: "foo", Readme: "v2"}}
	delta := New(cfg, after, nil).Diff(changed)

	assert.Empty(t, delta.NewPackages)
	require.Len(t, delta.UpdatedPackages, 1)
	assert.Equal(t, "v2", delta.UpdatedPackages[0].Readme)
}

func TestDiffDependencyTypeChange(t *testing.T) {
	cfg := testConfig()
	base := []model.NormalizedPackage{
		{ImportID: "a", Name: "a", Dependencies: []model.NormalizedDep{{ImportID: "b", TypeName: model.DepTypeBuild}}},
		{ImportID: "b", Name: "b"},
	}
	after := applyDelta(emptyCache(), New(cfg, emptyCache(), nil).Diff(base))

	changed := []model.NormalizedPackage{
		{ImportID: "a", Name: "a", Dependencies: []model.NormalizedDep{{ImportID: "b", TypeName: model.DepTypeRuntime}}},
		{ImportID: "b", Name: "b"},
	}
	delta := New(cfg, after, nil).Diff(changed)

	require.Len(t, delta.NewDeps, 1)
	assert.Equal(t, cfg.DependencyTypes.Runtime, delta.NewDeps[0].DependencyTypeID)
	require.Len(t, delta.RemovedDeps, 1)
	assert.Equal(t, cfg.DependencyTypes.Build, delta.RemovedDeps[0].DependencyTypeID)
}

func TestDiffRemovedDependency(t *testing.T) {
	cfg := testConfig()
	base := []model.NormalizedPackage{
		{ImportID: "a", Name: "a", Dependencies: []model.NormalizedDep{{ImportID: "b", TypeName: model.DepTypeRuntime}}},
		{ImportID: "b", Name: "b"},
	}
	after := applyDelta(emptyCache(), New(cfg, emptyCache(), nil).Diff(base))

	changed := []model.NormalizedPackage{
		{ImportID: "a", Name: "a"},
		{ImportID: "b", Name: "b"},
	}
	delta := New(cfg, after, nil).Diff(changed)

	assert.Empty(t, delta.NewDeps)
	require.Len(t, delta.RemovedDeps, 1)
}

func TestDiffMissingDependencyEndpointDropped(t *testing.T) {
	cfg := testConfig()
	snapshot := []model.NormalizedPackage{
		{ImportID: "a", Name: "a", Dependencies: []model.NormalizedDep{{ImportID: "ghost", TypeName: model.DepTypeRuntime}}},
	}
	delta := New(cfg, emptyCache(), nil).Diff(snapshot)

	assert.Len(t, delta.NewPackages, 1)
	assert.Empty(t, delta.NewDeps)
}

func TestDiffSelfDependency(t *testing.T) {
	cfg := testConfig()
	snapshot := []model.NormalizedPackage{
		{ImportID: "a", Name: "a", Dependencies: []model.NormalizedDep{{ImportID: "a", TypeName: model.DepTypeRuntime}}},
	}
	delta := New(cfg, emptyCache(), nil).Diff(snapshot)

	require.Len(t, delta.NewDeps, 1)
	assert.Equal(t, delta.NewDeps[0].PackageID, delta.NewDeps[0].DependencyID)
}

func TestDiffMalformedURLDropped(t *testing.T) {
	cfg := testConfig()
	snapshot := []model.NormalizedPackage{
		{ImportID: "a", Name: "a", URLs: map[string][]string{model.URLTypeHomepage: {"ftp://nope.example/x"}}},
	}
	delta := New(cfg, emptyCache(), nil).Diff(snapshot)

	assert.Empty(t, delta.NewURLs)
	assert.Empty(t, delta.NewPackageURLs)
}

func TestDiffSharedURLStagedOnce(t *testing.T) {
	cfg := testConfig()
	snapshot := []model.NormalizedPackage{
		{ImportID: "a", Name: "a", URLs: map[string][]string{model.URLTypeHomepage: {"https://example.com/proj/"}}},
		{ImportID: "b", Name: "b", URLs: map[string][]string{model.URLTypeHomepage: {"https://example.com/proj"}}},
	}
	delta := New(cfg, emptyCache(), nil).Diff(snapshot)

	require.Len(t, delta.NewURLs, 1)
	assert.Len(t, delta.NewPackageURLs, 2)
}

func TestDiffDeterministicOrder(t *testing.T) {
	cfg := testConfig()
	snapshot := []model.NormalizedPackage{
		{ImportID: "zeta", Name: "zeta", URLs: map[string][]string{model.URLTypeHomepage: {"https://z.example"}}},
		{ImportID: "alpha", Name: "alpha", URLs: map[string][]string{model.URLTypeHomepage: {"https://a.example"}}},
		{ImportID: "mid", Name: "mid", Dependencies: []model.NormalizedDep{
			{ImportID: "alpha", TypeName: model.DepTypeRuntime},
			{ImportID: "zeta", TypeName: model.DepTypeRuntime},
		}},
	}

	delta := New(cfg, emptyCache(), nil).Diff(snapshot)

	require.Len(t, delta.NewPackages, 3)
	assert.Equal(t, "alpha", delta.NewPackages[0].ImportID)
	assert.Equal(t, "mid", delta.NewPackages[1].ImportID)
	assert.Equal(t, "zeta", delta.NewPackages[2].ImportID)

	require.Len(t, delta.NewURLs, 2)
	assert.Equal(t, "https://a.example", delta.NewURLs[0].URL)

	require.Len(t, delta.NewDeps, 2)
	// both edges come from "mid"; ordered by dependency import id
	alphaID := delta.NewPackages[0].ID
	assert.Equal(t, alphaID, delta.NewDeps[0].DependencyID)
}

func TestDiffUsersDeduped(t *testing.T) {
	cfg := testConfig()
	snapshot := []model.NormalizedPackage{
		{ImportID: "a", Name: "a", Users: []model.NormalizedUser{{Username: "alice", Source: "github"}}},
		{ImportID: "b", Name: "b", Users: []model.NormalizedUser{{Username: "alice", Source: "github"}}},
	}
	delta := New(cfg, emptyCache(), nil).Diff(snapshot)

	require.Len(t, delta.NewUsers, 1)
	assert.Len(t, delta.NewUserLinks, 2)
}
