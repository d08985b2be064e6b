// Package store is the PostgreSQL persistence layer for the CHAI graph.
//
// All bulk writes are single statements with ON CONFLICT clauses keyed on
// the natural uniqueness constraints, and a pipeline run's whole delta is
// applied inside one transaction: either every staged row lands, or none
// do. Reads materialize the current state of one package manager's
// partition so the diff engine can use it as a baseline.
package store

import (
	"context"
	stderrors "errors"

	"github.com/charmbracelet/log"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chai-pm/chai/pkg/errors"
)

// Store wraps a pgx connection pool.
type Store struct {
	pool   *pgxpool.Pool
	logger *log.Logger
}

// Connect opens a pool against the given DSN and verifies connectivity.
func Connect(ctx context.Context, dsn string, logger *log.Logger) (*Store, error) {
	if dsn == "" {
		return nil, errors.New(errors.ErrCodeInvalidInput, "CHAI_DATABASE_URL is not set")
	}
	if logger == nil {
		logger = log.Default()
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInternal, err, "opening pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errors.Wrap(errors.ErrCodeInternal, err, "pinging database")
	}
	return &Store{pool: pool, logger: logger}, nil
}

// Close releases the pool.
func (s *Store) Close() {
	s.pool.Close()
}

// wrapPgError maps constraint violations to the store-constraint code so
// pipelines abort the run instead of swallowing an invariant bug.
func wrapPgError(err error, format string, args ...any) error {
	var pgErr *pgconn.PgError
	if stderrors.As(err, &pgErr) && len(pgErr.Code) >= 2 && pgErr.Code[:2] == "23" { // integrity constraint class
		return errors.Wrap(errors.ErrCodeStoreConstraint, err, format, args...)
	}
	return errors.Wrap(errors.ErrCodeInternal, err, format, args...)
}
