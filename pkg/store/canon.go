package store

import (
	"context"

	"github.com/google/uuid"

	"github.com/chai-pm/chai/pkg/model"
)

// PackageHomepage is one (package, homepage URL) pair read for the
// deduplicator, most recent URL first per package.
type PackageHomepage struct {
	PackageID uuid.UUID
	Name      string
	URL       string
}

// Canons returns the full canonical-URL → canon-id map.
func (s *Store) Canons(ctx context.Context) (map[string]uuid.UUID, error) {
	rows, err := s.pool.Query(ctx, `SELECT url, id FROM canons`)
	if err != nil {
		return nil, wrapPgError(err, "loading canons")
	}
	defer rows.Close()

	canons := make(map[string]uuid.UUID)
	for rows.Next() {
		var url string
		var id uuid.UUID
		if err := rows.Scan(&url, &id); err != nil {
			return nil, wrapPgError(err, "scanning canon")
		}
		canons[url] = id
	}
	return canons, rows.Err()
}

// LatestHomepages returns every package's homepage URLs across all package
// managers, ordered so that the most recently updated URL for each package
// comes first. The deduplicator keeps the first entry per package.
func (s *Store) LatestHomepages(ctx context.Context, homepageTypeID uuid.UUID) ([]PackageHomepage, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT p.id, p.name, u.url
		FROM packages p
		JOIN package_urls pu ON pu.package_id = p.id
		JOIN urls u ON u.id = pu.url_id
		WHERE u.url_type_id = $1
		ORDER BY p.id, u.updated_at DESC`, homepageTypeID)
	if err != nil {
		return nil, wrapPgError(err, "loading homepages")
	}
	defer rows.Close()

	var out []PackageHomepage
	for rows.Next() {
		var h PackageHomepage
		if err := rows.Scan(&h.PackageID, &h.Name, &h.URL); err != nil {
			return nil, wrapPgError(err, "scanning homepage")
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// ApplyCanons inserts new canons and upserts package → canon assignments in
// one transaction. Assignment conflicts update canon_id only when it
// actually changed, so a no-op reconciliation performs zero writes.
func (s *Store) ApplyCanons(ctx context.Context, canons []model.Canon, mappings []model.CanonPackage) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return wrapPgError(err, "beginning canon load")
	}
	defer tx.Rollback(ctx)

	for _, c := range canons {
		_, err := tx.Exec(ctx, `
			INSERT INTO canons (id, url, name, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (url) DO NOTHING`,
			c.ID, c.URL, c.Name, c.CreatedAt, c.UpdatedAt)
		if err != nil {
			return wrapPgError(err, "inserting canon %s", c.URL)
		}
	}

	for _, m := range mappings {
		_, err := tx.Exec(ctx, `
			INSERT INTO canon_packages (id, canon_id, package_id, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (package_id) DO UPDATE
			SET canon_id = EXCLUDED.canon_id, updated_at = EXCLUDED.updated_at
			WHERE canon_packages.canon_id IS DISTINCT FROM EXCLUDED.canon_id`,
			m.ID, m.CanonID, m.PackageID, m.CreatedAt, m.UpdatedAt)
		if err != nil {
			return wrapPgError(err, "assigning canon for package %s", m.PackageID)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return wrapPgError(err, "committing canon load")
	}
	return nil
}
