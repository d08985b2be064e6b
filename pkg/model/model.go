// Package model defines the relational entities CHAI projects every
// package-manager source into, plus the normalized record shape parsers
// hand to the diff engine.
//
// Entities mirror the store schema one to one. Identity is a uuid4 assigned
// at staging time; uniqueness is enforced by the store's natural keys
// (package_manager_id, import_id), (url, url_type_id), and so on.
package model

import (
	"time"

	"github.com/google/uuid"
)

// PackageManager is one upstream ecosystem (crates, homebrew, debian, pkgx).
type PackageManager struct {
	ID        uuid.UUID
	Name      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Package is a single package within one ecosystem. ImportID is the
// ecosystem-local identifier (crate name, formula name, ...); DerivedID is
// the global "<pm>/<import_id>" identifier.
type Package struct {
	ID               uuid.UUID
	DerivedID        string
	Name             string
	PackageManagerID uuid.UUID
	ImportID         string
	Readme           string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// PackageUpdate carries the mutable fields (name and readme) of an existing
// package whose name or readme changed in the current snapshot. Both fields
// are always set; the one that did not change carries its current value.
type PackageUpdate struct {
	ID        uuid.UUID
	ImportID  string // natural key, for deterministic ordering and logs
	Name      string
	Readme    string
	UpdatedAt time.Time
}

// URLType names a URL's role: homepage, source, repository, documentation.
type URLType struct {
	ID   uuid.UUID
	Name string
}

// URL is a canonicalized URL of one type. The same string may exist once
// per type.
type URL struct {
	ID        uuid.UUID
	URL       string
	URLTypeID uuid.UUID
	CreatedAt time.Time
	UpdatedAt time.Time
}

// PackageURL links a package to one of its URLs.
type PackageURL struct {
	ID        uuid.UUID
	PackageID uuid.UUID
	URLID     uuid.UUID
	CreatedAt time.Time
	UpdatedAt time.Time
}

// DependencyType names an edge's role: runtime, build, test, recommended,
// optional, uses_from_macos.
type DependencyType struct {
	ID   uuid.UUID
	Name string
}

// Dependency is a directed edge between two packages. At most one edge
// exists per (PackageID, DependencyID); when a source declares several
// types for the same pair, the highest-priority type wins.
type Dependency struct {
	ID               uuid.UUID
	PackageID        uuid.UUID
	DependencyID     uuid.UUID
	DependencyTypeID uuid.UUID
	SemverRange      string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Source identifies where user accounts come from (github, crates).
type Source struct {
	ID   uuid.UUID
	Name string
}

// User is an upstream account, unique per (Username, SourceID).
type User struct {
	ID        uuid.UUID
	Username  string
	SourceID  uuid.UUID
	CreatedAt time.Time
	UpdatedAt time.Time
}

// UserPackage links a user to a package they own or maintain.
type UserPackage struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	PackageID uuid.UUID
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Canon is a canonical project: the merged identity of packages across
// ecosystems that share a canonical homepage URL.
type Canon struct {
	ID        uuid.UUID
	URL       string
	Name      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// CanonPackage assigns a package to exactly one canon.
type CanonPackage struct {
	ID        uuid.UUID
	CanonID   uuid.UUID
	PackageID uuid.UUID
	CreatedAt time.Time
	UpdatedAt time.Time
}

// LoadHistory records one successful ingest: which ecosystem, how large the
// delta was, and how long the run took. Readers treat the newest row as the
// marker that the store reflects a complete run.
type LoadHistory struct {
	ID               uuid.UUID
	PackageManagerID uuid.UUID
	NewPackages      int
	UpdatedPackages  int
	NewURLs          int
	NewLinks         int
	NewDeps          int
	RemovedDeps      int
	DeletedPackages  int
	Duration         time.Duration
	CreatedAt        time.Time
}
