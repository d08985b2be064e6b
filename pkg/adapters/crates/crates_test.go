package crates

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chai-pm/chai/pkg/model"
)

func writeDump(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	sub := filepath.Join(dir, "2024-06-01-020014", "data")
	require.NoError(t, os.MkdirAll(sub, 0o755))
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(sub, name), []byte(content), 0o644))
	}
	return dir
}

func TestParseCratesDump(t *testing.T) {
	dir := writeDump(t, map[string]string{
		"crates.csv": `id,name,description,homepage,documentation,repository,readme
1,serde,A serialization framework,https://serde.rs/,https://docs.rs/serde,https://github.com/serde-rs/serde,Serde readme
2,proc-macro2,Procedural macros,,,,
`,
		"default_versions.csv": `crate_id,version_id
1,10
2,20
`,
		"dependencies.csv": `id,version_id,crate_id,req,optional,kind
100,10,2,^1.0,f,0
101,10,2,^1.0,f,1
102,99,2,^0.5,f,0
`,
		"users.csv": `id,gh_login,name
7,dtolnay,David
`,
		"crate_owners.csv": `crate_id,owner_id,owner_kind
1,7,0
`,
	})

	pkgs, err := New(nil).Parse(context.Background(), dir)
	require.NoError(t, err)
	require.Len(t, pkgs, 2)

	byID := make(map[string]model.NormalizedPackage)
	for _, p := range pkgs {
		byID[p.ImportID] = p
	}

	serde := byID["serde"]
	assert.Equal(t, "Serde readme", serde.Readme)
	assert.Equal(t, []string{"https://serde.rs/"}, serde.URLs[model.URLTypeHomepage])
	assert.Equal(t, []string{"https://docs.rs/serde"}, serde.URLs[model.URLTypeDocumentation])
	assert.Equal(t, []string{"https://github.com/serde-rs/serde"}, serde.URLs[model.URLTypeRepository])
	assert.Equal(t, []string{"https://github.com/serde-rs/serde"}, serde.URLs[model.URLTypeSource],
		"github repository doubles as source")

	// edge 102 belongs to a non-default version and is skipped; the
	// duplicate kinds are left to the diff's priority dedup
	require.Len(t, serde.Dependencies, 2)
	assert.Equal(t, "proc-macro2", serde.Dependencies[0].ImportID)
	assert.Equal(t, model.DepTypeRuntime, serde.Dependencies[0].TypeName)
	assert.Equal(t, "^1.0", serde.Dependencies[0].Semver)
	assert.Equal(t, model.DepTypeBuild, serde.Dependencies[1].TypeName)

	require.Len(t, serde.Users, 1)
	assert.Equal(t, "dtolnay", serde.Users[0].Username)
	assert.Equal(t, "github", serde.Users[0].Source)

	proc := byID["proc-macro2"]
	assert.Equal(t, "Procedural macros", proc.Readme, "description backfills a missing readme")
	assert.Empty(t, proc.URLs)
}

func TestParseOptionalDependency(t *testing.T) {
	dir := writeDump(t, map[string]string{
		"crates.csv": `id,name,description,homepage,documentation,repository,readme
1,a,,,,,
2,b,,,,,
`,
		"default_versions.csv": `crate_id,version_id
1,10
`,
		"dependencies.csv": `id,version_id,crate_id,req,optional,kind
100,10,2,^1,t,0
`,
	})

	pkgs, err := New(nil).Parse(context.Background(), dir)
	require.NoError(t, err)

	for _, p := range pkgs {
		if p.ImportID != "a" {
			continue
		}
		require.Len(t, p.Dependencies, 1)
		assert.Equal(t, model.DepTypeOptional, p.Dependencies[0].TypeName)
	}
}

func TestParseMissingOwnersIsNotFatal(t *testing.T) {
	dir := writeDump(t, map[string]string{
		"crates.csv": `id,name,description,homepage,documentation,repository,readme
1,a,,,,,
`,
		"default_versions.csv": "crate_id,version_id\n",
		"dependencies.csv":     "id,version_id,crate_id,req,optional,kind\n",
	})

	pkgs, err := New(nil).Parse(context.Background(), dir)
	require.NoError(t, err)
	assert.Len(t, pkgs, 1)
}
