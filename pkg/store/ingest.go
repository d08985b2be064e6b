package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/chai-pm/chai/pkg/diff"
	"github.com/chai-pm/chai/pkg/errors"
	"github.com/chai-pm/chai/pkg/model"
)

// Ingest applies one pipeline run's delta atomically. The transaction
// either commits every staged row or rolls back entirely; a cancelled
// context rolls back.
//
// Ordering inside the transaction respects foreign keys and the dependency
// upsert key: urls → packages → package updates → links → link removals →
// dependency removals → dependency upserts → users → user links. Removals run before
// upserts because both are keyed on (package_id, dependency_id): a type
// change is staged as one removal plus one insert, and applying them in
// the other order would delete the fresh row.
//
// The load_history marker is not part of this transaction: the pipeline
// records it via [Store.RecordLoadHistory] once the whole run, including
// deletion detection, has finished, so the row carries the real counts.
func (s *Store) Ingest(ctx context.Context, pmID uuid.UUID, delta *diff.Delta) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return wrapPgError(err, "beginning ingest")
	}
	defer tx.Rollback(ctx)

	urlIDs, err := ingestURLs(ctx, tx, delta.NewURLs)
	if err != nil {
		return err
	}

	batch := &pgx.Batch{}

	for _, p := range delta.NewPackages {
		batch.Queue(`
			INSERT INTO packages (id, derived_id, name, package_manager_id, import_id, readme, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (package_manager_id, import_id) DO NOTHING`,
			p.ID, p.DerivedID, p.Name, p.PackageManagerID, p.ImportID, p.Readme, p.CreatedAt, p.UpdatedAt)
	}
	for _, u := range delta.UpdatedPackages {
		batch.Queue(`UPDATE packages SET name = $2, readme = $3, updated_at = $4 WHERE id = $1`,
			u.ID, u.Name, u.Readme, u.UpdatedAt)
	}
	for _, l := range delta.NewPackageURLs {
		urlID := l.URLID
		if actual, ok := urlIDs[l.URLID]; ok {
			urlID = actual
		}
		batch.Queue(`
			INSERT INTO package_urls (id, package_id, url_id, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (package_id, url_id) DO NOTHING`,
			l.ID, l.PackageID, urlID, l.CreatedAt, l.UpdatedAt)
	}
	for _, l := range delta.RemovedPackageURLs {
		batch.Queue(`DELETE FROM package_urls WHERE package_id = $1 AND url_id = $2`,
			l.PackageID, l.URLID)
	}
	for _, d := range delta.RemovedDeps {
		batch.Queue(`DELETE FROM dependencies WHERE package_id = $1 AND dependency_id = $2`,
			d.PackageID, d.DependencyID)
	}
	for _, d := range delta.NewDeps {
		batch.Queue(`
			INSERT INTO dependencies (id, package_id, dependency_id, dependency_type_id, semver_range, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (package_id, dependency_id) DO UPDATE
			SET dependency_type_id = EXCLUDED.dependency_type_id,
			    semver_range = EXCLUDED.semver_range,
			    updated_at = EXCLUDED.updated_at`,
			d.ID, d.PackageID, d.DependencyID, d.DependencyTypeID, d.SemverRange, d.CreatedAt, d.UpdatedAt)
	}
	for _, u := range delta.NewUsers {
		batch.Queue(`
			INSERT INTO users (id, username, source_id, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (username, source_id) DO NOTHING`,
			u.ID, u.Username, u.SourceID, u.CreatedAt, u.UpdatedAt)
	}
	now := time.Now().UTC()
	for _, l := range delta.NewUserLinks {
		// resolve the user id through the natural key: the staged row may
		// have lost its conflict race against an earlier run's account
		batch.Queue(`
			INSERT INTO user_packages (id, user_id, package_id, created_at, updated_at)
			SELECT $1, u.id, $2, $3, $4 FROM users u
			WHERE u.username = $5 AND u.source_id = $6
			ON CONFLICT (user_id, package_id) DO NOTHING`,
			uuid.New(), l.PackageID, now, now, l.Username, l.SourceID)
	}

	if err := flushBatch(ctx, tx, batch); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		if ctx.Err() != nil {
			return errors.Wrap(errors.ErrCodeCancelled, ctx.Err(), "ingest cancelled")
		}
		return wrapPgError(err, "committing ingest")
	}

	s.logger.Info("ingested delta",
		"new_packages", len(delta.NewPackages),
		"updated_packages", len(delta.UpdatedPackages),
		"new_urls", len(delta.NewURLs),
		"new_links", len(delta.NewPackageURLs),
		"new_deps", len(delta.NewDeps),
		"removed_deps", len(delta.RemovedDeps))
	return nil
}

// RecordLoadHistory inserts the marker row for one successful run. Written
// last, after ingest and deletion detection, so readers can treat the
// newest row as proof of a complete run with its real counts.
func (s *Store) RecordLoadHistory(ctx context.Context, h model.LoadHistory) error {
	if h.ID == uuid.Nil {
		h.ID = uuid.New()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO load_history (id, package_manager_id, new_packages, updated_packages, new_urls, new_links, new_deps, removed_deps, deleted_packages, duration_ms, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		h.ID, h.PackageManagerID, h.NewPackages, h.UpdatedPackages, h.NewURLs,
		h.NewLinks, h.NewDeps, h.RemovedDeps, h.DeletedPackages,
		h.Duration.Milliseconds(), time.Now().UTC())
	if err != nil {
		return wrapPgError(err, "recording load history")
	}
	return nil
}

// ingestURLs upserts the staged URLs and returns a staged-id → actual-id
// map. URL rows are shared across pipelines, so another ecosystem may have
// inserted the same (url, type) between cache load and ingest; the
// RETURNING clause hands back whichever id won.
func ingestURLs(ctx context.Context, tx pgx.Tx, urls []model.URL) (map[uuid.UUID]uuid.UUID, error) {
	ids := make(map[uuid.UUID]uuid.UUID, len(urls))
	for _, u := range urls {
		var actual uuid.UUID
		err := tx.QueryRow(ctx, `
			INSERT INTO urls (id, url, url_type_id, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (url, url_type_id) DO UPDATE SET updated_at = urls.updated_at
			RETURNING id`,
			u.ID, u.URL, u.URLTypeID, u.CreatedAt, u.UpdatedAt).Scan(&actual)
		if err != nil {
			return nil, wrapPgError(err, "upserting url %s", u.URL)
		}
		ids[u.ID] = actual
	}
	return ids, nil
}

func flushBatch(ctx context.Context, tx pgx.Tx, batch *pgx.Batch) error {
	if batch.Len() == 0 {
		return nil
	}
	br := tx.SendBatch(ctx, batch)
	defer br.Close()
	for range batch.Len() {
		if _, err := br.Exec(); err != nil {
			if ctx.Err() != nil {
				return errors.Wrap(errors.ErrCodeCancelled, ctx.Err(), "ingest cancelled")
			}
			return wrapPgError(err, "applying delta")
		}
	}
	return nil
}
