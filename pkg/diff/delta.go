package diff

import (
	"github.com/google/uuid"

	"github.com/chai-pm/chai/pkg/model"
)

// UserLink ties an upstream account to a package by natural key. The store
// resolves the user id at ingest time so that accounts already persisted
// from earlier runs link correctly.
type UserLink struct {
	Username  string
	SourceID  uuid.UUID
	PackageID uuid.UUID
}

// Delta is the minimal set of mutations that brings the store into
// alignment with a parsed snapshot. The sets are disjoint and emitted in
// deterministic order (sorted by natural keys), so identical inputs produce
// identical batches.
//
// RemovedPackageURLs is always empty for now: links for URLs no longer
// advertised upstream are retained as historical evidence. The field exists
// so the ingest contract does not change if that policy does.
type Delta struct {
	NewPackages        []model.Package
	UpdatedPackages    []model.PackageUpdate
	NewURLs            []model.URL
	NewPackageURLs     []model.PackageURL
	RemovedPackageURLs []model.PackageURL
	NewDeps            []model.Dependency
	RemovedDeps        []model.Dependency
	NewUsers           []model.User
	NewUserLinks       []UserLink
}

// Empty reports whether applying the delta would perform zero writes.
func (d *Delta) Empty() bool {
	return len(d.NewPackages) == 0 &&
		len(d.UpdatedPackages) == 0 &&
		len(d.NewURLs) == 0 &&
		len(d.NewPackageURLs) == 0 &&
		len(d.RemovedPackageURLs) == 0 &&
		len(d.NewDeps) == 0 &&
		len(d.RemovedDeps) == 0 &&
		len(d.NewUsers) == 0 &&
		len(d.NewUserLinks) == 0
}
