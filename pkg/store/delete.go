package store

import (
	"context"

	"github.com/google/uuid"
)

// DeletePackagesByImportID removes packages absent from an authoritative
// snapshot, cascading into every edge the packages own: dependency edges on
// either side, URL links, user links, and canon membership. Canons
// themselves are never garbage-collected. Runs as one transaction.
func (s *Store) DeletePackagesByImportID(ctx context.Context, pmID uuid.UUID, importIDs []string) (int, error) {
	if len(importIDs) == 0 {
		return 0, nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, wrapPgError(err, "beginning delete")
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx,
		`SELECT id FROM packages WHERE package_manager_id = $1 AND import_id = ANY($2)`,
		pmID, importIDs)
	if err != nil {
		return 0, wrapPgError(err, "resolving packages for delete")
	}
	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, wrapPgError(err, "scanning package id")
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, wrapPgError(err, "iterating package ids")
	}
	if len(ids) == 0 {
		return 0, tx.Commit(ctx)
	}

	for _, stmt := range []string{
		`DELETE FROM dependencies WHERE package_id = ANY($1) OR dependency_id = ANY($1)`,
		`DELETE FROM package_urls WHERE package_id = ANY($1)`,
		`DELETE FROM user_packages WHERE package_id = ANY($1)`,
		`DELETE FROM canon_packages WHERE package_id = ANY($1)`,
		`DELETE FROM packages WHERE id = ANY($1)`,
	} {
		if _, err := tx.Exec(ctx, stmt, ids); err != nil {
			return 0, wrapPgError(err, "cascading delete")
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, wrapPgError(err, "committing delete")
	}

	s.logger.Info("deleted packages absent from snapshot", "count", len(ids))
	return len(ids), nil
}
