package store

import (
	"context"

	"github.com/google/uuid"

	"github.com/chai-pm/chai/pkg/config"
	"github.com/chai-pm/chai/pkg/model"
)

// selectOrCreate resolves the id of a named row in one of the small lookup
// tables, inserting it first when missing. The insert is conflict-safe so
// concurrent pipelines bootstrapping the same names cannot race.
func (s *Store) selectOrCreate(ctx context.Context, table, name string) (uuid.UUID, error) {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO `+table+` (id, name) VALUES ($1, $2) ON CONFLICT (name) DO NOTHING`,
		uuid.New(), name)
	if err != nil {
		return uuid.Nil, wrapPgError(err, "creating %s row %q", table, name)
	}
	var id uuid.UUID
	err = s.pool.QueryRow(ctx, `SELECT id FROM `+table+` WHERE name = $1`, name).Scan(&id)
	if err != nil {
		return uuid.Nil, wrapPgError(err, "selecting %s row %q", table, name)
	}
	return id, nil
}

// Bootstrap resolves the type ids a pipeline needs, creating missing rows.
// It runs once at startup; the resulting ids live in the Config for the
// rest of the process.
func (s *Store) Bootstrap(ctx context.Context, pmName string) (model.PackageManager, config.URLTypes, config.DependencyTypes, config.UserSources, error) {
	pmID, err := s.selectOrCreate(ctx, "package_managers", pmName)
	if err != nil {
		return model.PackageManager{}, config.URLTypes{}, config.DependencyTypes{}, config.UserSources{}, err
	}
	pm := model.PackageManager{ID: pmID, Name: pmName}

	ut, dt, us, err := s.BootstrapTypes(ctx)
	return pm, ut, dt, us, err
}

// BootstrapTypes resolves the shared lookup-table ids without touching the
// package_managers table. The deduplicator uses this directly: it spans all
// ecosystems and owns no partition.
func (s *Store) BootstrapTypes(ctx context.Context) (config.URLTypes, config.DependencyTypes, config.UserSources, error) {
	var (
		ut config.URLTypes
		dt config.DependencyTypes
		us config.UserSources
	)

	urlTypes := map[string]*uuid.UUID{
		model.URLTypeHomepage:      &ut.Homepage,
		model.URLTypeSource:        &ut.Source,
		model.URLTypeRepository:    &ut.Repository,
		model.URLTypeDocumentation: &ut.Documentation,
	}
	for name, dst := range urlTypes {
		id, err := s.selectOrCreate(ctx, "url_types", name)
		if err != nil {
			return ut, dt, us, err
		}
		*dst = id
	}

	depTypes := map[string]*uuid.UUID{
		model.DepTypeRuntime:       &dt.Runtime,
		model.DepTypeBuild:         &dt.Build,
		model.DepTypeTest:          &dt.Test,
		model.DepTypeRecommended:   &dt.Recommended,
		model.DepTypeOptional:      &dt.Optional,
		model.DepTypeUsesFromMacos: &dt.UsesFromMacos,
	}
	for name, dst := range depTypes {
		id, err := s.selectOrCreate(ctx, "dependency_types", name)
		if err != nil {
			return ut, dt, us, err
		}
		*dst = id
	}

	sources := map[string]*uuid.UUID{
		"github": &us.GitHub,
		"crates": &us.Crates,
	}
	for name, dst := range sources {
		id, err := s.selectOrCreate(ctx, "sources", name)
		if err != nil {
			return ut, dt, us, err
		}
		*dst = id
	}

	return ut, dt, us, nil
}
