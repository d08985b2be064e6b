package config

import (
	"os"

	"github.com/BurntSushi/toml"

	"github.com/chai-pm/chai/pkg/errors"
)

// FetchType selects how a source's payload is downloaded and unpacked.
type FetchType string

const (
	FetchTarball FetchType = "tarball"
	FetchGzip    FetchType = "gzip"
	FetchGit     FetchType = "git"
)

// SourceSpec describes one adapter's upstream source.
//
// Authoritative marks sources whose payload is a full dump: only those may
// emit deletions when a package disappears from the snapshot. Homebrew and
// Debian publish partial/merged views, so absence there is not evidence of
// removal.
type SourceSpec struct {
	Name          string
	URL           string
	Fetch         FetchType
	Authoritative bool
}

// defaultSources are the compiled-in upstream locations per ecosystem.
var defaultSources = map[string]SourceSpec{
	"crates": {
		Name:          "crates",
		URL:           "https://static.crates.io/db-dump.tar.gz",
		Fetch:         FetchTarball,
		Authoritative: true,
	},
	"homebrew": {
		Name:          "homebrew",
		URL:           "https://formulae.brew.sh/api/formula.json",
		Fetch:         FetchGzip,
		Authoritative: false,
	},
	"debian": {
		Name:          "debian",
		URL:           "https://deb.debian.org/debian/dists/stable/main/binary-amd64/Packages.gz",
		Fetch:         FetchGzip,
		Authoritative: false,
	},
	"pkgx": {
		Name:          "pkgx",
		URL:           "https://github.com/pkgxdev/pantry",
		Fetch:         FetchGit,
		Authoritative: true,
	},
}

// LoadSource resolves the source spec for a package manager, applying
// overrides from tomlPath when the file exists. The file holds one table
// per ecosystem:
//
//	[crates]
//	url = "http://localhost:9000/db-dump.tar.gz"
//	fetch = "tarball"
//	authoritative = true
func LoadSource(name, tomlPath string) (SourceSpec, error) {
	spec, ok := defaultSources[name]
	if !ok {
		return SourceSpec{}, errors.New(errors.ErrCodeInvalidInput, "unknown package manager %q", name)
	}

	if tomlPath == "" {
		return spec, nil
	}
	if _, err := os.Stat(tomlPath); os.IsNotExist(err) {
		return spec, nil
	}

	type override struct {
		URL           string    `toml:"url"`
		Fetch         FetchType `toml:"fetch"`
		Authoritative *bool     `toml:"authoritative"`
	}
	var overrides map[string]override
	if _, err := toml.DecodeFile(tomlPath, &overrides); err != nil {
		return SourceSpec{}, errors.Wrap(errors.ErrCodeInvalidInput, err, "parsing %s", tomlPath)
	}

	o, ok := overrides[name]
	if !ok {
		return spec, nil
	}
	if o.URL != "" {
		spec.URL = o.URL
	}
	if o.Fetch != "" {
		spec.Fetch = o.Fetch
	}
	if o.Authoritative != nil {
		spec.Authoritative = *o.Authoritative
	}
	return spec, nil
}

// KnownPackageManagers lists the ecosystems with compiled-in sources, in a
// fixed order.
func KnownPackageManagers() []string {
	return []string{"crates", "debian", "homebrew", "pkgx"}
}
