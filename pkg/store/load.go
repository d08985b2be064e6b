package store

import (
	"context"

	"github.com/google/uuid"

	"github.com/chai-pm/chai/pkg/model"
)

// LoadCurrentGraph materializes every package of one package manager along
// with its dependency edges. Together with [Store.LoadCurrentURLs] this is
// the snapshot the diff engine uses as its baseline.
func (s *Store) LoadCurrentGraph(ctx context.Context, pmID uuid.UUID) ([]model.Package, []model.Dependency, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, derived_id, name, package_manager_id, import_id, COALESCE(readme, ''), created_at, updated_at
		FROM packages
		WHERE package_manager_id = $1`, pmID)
	if err != nil {
		return nil, nil, wrapPgError(err, "loading packages")
	}
	defer rows.Close()

	var packages []model.Package
	for rows.Next() {
		var p model.Package
		if err := rows.Scan(&p.ID, &p.DerivedID, &p.Name, &p.PackageManagerID, &p.ImportID, &p.Readme, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, nil, wrapPgError(err, "scanning package")
		}
		packages = append(packages, p)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, wrapPgError(err, "iterating packages")
	}

	depRows, err := s.pool.Query(ctx, `
		SELECT d.id, d.package_id, d.dependency_id, d.dependency_type_id, COALESCE(d.semver_range, ''), d.created_at, d.updated_at
		FROM dependencies d
		JOIN packages p ON p.id = d.package_id
		WHERE p.package_manager_id = $1`, pmID)
	if err != nil {
		return nil, nil, wrapPgError(err, "loading dependencies")
	}
	defer depRows.Close()

	var deps []model.Dependency
	for depRows.Next() {
		var d model.Dependency
		if err := depRows.Scan(&d.ID, &d.PackageID, &d.DependencyID, &d.DependencyTypeID, &d.SemverRange, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, nil, wrapPgError(err, "scanning dependency")
		}
		deps = append(deps, d)
	}
	if err := depRows.Err(); err != nil {
		return nil, nil, wrapPgError(err, "iterating dependencies")
	}

	return packages, deps, nil
}

// LoadCurrentURLs materializes every URL referenced by one package
// manager's packages, plus the package↔URL link set.
func (s *Store) LoadCurrentURLs(ctx context.Context, pmID uuid.UUID) ([]model.URL, []model.PackageURL, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT DISTINCT u.id, u.url, u.url_type_id, u.created_at, u.updated_at
		FROM urls u
		JOIN package_urls pu ON pu.url_id = u.id
		JOIN packages p ON p.id = pu.package_id
		WHERE p.package_manager_id = $1`, pmID)
	if err != nil {
		return nil, nil, wrapPgError(err, "loading urls")
	}
	defer rows.Close()

	var urls []model.URL
	for rows.Next() {
		var u model.URL
		if err := rows.Scan(&u.ID, &u.URL, &u.URLTypeID, &u.CreatedAt, &u.UpdatedAt); err != nil {
			return nil, nil, wrapPgError(err, "scanning url")
		}
		urls = append(urls, u)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, wrapPgError(err, "iterating urls")
	}

	linkRows, err := s.pool.Query(ctx, `
		SELECT pu.id, pu.package_id, pu.url_id, pu.created_at, pu.updated_at
		FROM package_urls pu
		JOIN packages p ON p.id = pu.package_id
		WHERE p.package_manager_id = $1`, pmID)
	if err != nil {
		return nil, nil, wrapPgError(err, "loading package urls")
	}
	defer linkRows.Close()

	var links []model.PackageURL
	for linkRows.Next() {
		var l model.PackageURL
		if err := linkRows.Scan(&l.ID, &l.PackageID, &l.URLID, &l.CreatedAt, &l.UpdatedAt); err != nil {
			return nil, nil, wrapPgError(err, "scanning package url")
		}
		links = append(links, l)
	}
	if err := linkRows.Err(); err != nil {
		return nil, nil, wrapPgError(err, "iterating package urls")
	}

	return urls, links, nil
}
