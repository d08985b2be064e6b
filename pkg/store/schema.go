package store

import (
	"context"
)

// ddl creates every table and unique constraint the service relies on.
// Production deployments run real migrations; this exists so local and test
// databases can bootstrap themselves.
const ddl = `
CREATE TABLE IF NOT EXISTS sources (
	id UUID PRIMARY KEY,
	name TEXT NOT NULL UNIQUE,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS package_managers (
	id UUID PRIMARY KEY,
	name TEXT NOT NULL UNIQUE,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS url_types (
	id UUID PRIMARY KEY,
	name TEXT NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS dependency_types (
	id UUID PRIMARY KEY,
	name TEXT NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS packages (
	id UUID PRIMARY KEY,
	derived_id TEXT NOT NULL UNIQUE,
	name TEXT NOT NULL,
	package_manager_id UUID NOT NULL REFERENCES package_managers(id),
	import_id TEXT NOT NULL,
	readme TEXT,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	CONSTRAINT uq_packages_pm_import UNIQUE (package_manager_id, import_id)
);
CREATE INDEX IF NOT EXISTS ix_packages_import_id ON packages (import_id);

CREATE TABLE IF NOT EXISTS urls (
	id UUID PRIMARY KEY,
	url TEXT NOT NULL,
	url_type_id UUID NOT NULL REFERENCES url_types(id),
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	CONSTRAINT uq_urls_url_type UNIQUE (url, url_type_id)
);

CREATE TABLE IF NOT EXISTS package_urls (
	id UUID PRIMARY KEY,
	package_id UUID NOT NULL REFERENCES packages(id),
	url_id UUID NOT NULL REFERENCES urls(id),
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	CONSTRAINT uq_package_urls UNIQUE (package_id, url_id)
);

CREATE TABLE IF NOT EXISTS dependencies (
	id UUID PRIMARY KEY,
	package_id UUID NOT NULL REFERENCES packages(id),
	dependency_id UUID NOT NULL REFERENCES packages(id),
	dependency_type_id UUID NOT NULL REFERENCES dependency_types(id),
	semver_range TEXT,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	CONSTRAINT uq_dependencies_pkg_dep UNIQUE (package_id, dependency_id)
);
CREATE INDEX IF NOT EXISTS ix_dependencies_dependency_id ON dependencies (dependency_id);

CREATE TABLE IF NOT EXISTS users (
	id UUID PRIMARY KEY,
	username TEXT NOT NULL,
	source_id UUID NOT NULL REFERENCES sources(id),
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	CONSTRAINT uq_users_username_source UNIQUE (username, source_id)
);

CREATE TABLE IF NOT EXISTS user_packages (
	id UUID PRIMARY KEY,
	user_id UUID NOT NULL REFERENCES users(id),
	package_id UUID NOT NULL REFERENCES packages(id),
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	CONSTRAINT uq_user_packages UNIQUE (user_id, package_id)
);

CREATE TABLE IF NOT EXISTS canons (
	id UUID PRIMARY KEY,
	url TEXT NOT NULL UNIQUE,
	name TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS canon_packages (
	id UUID PRIMARY KEY,
	canon_id UUID NOT NULL REFERENCES canons(id),
	package_id UUID NOT NULL REFERENCES packages(id) UNIQUE,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS tea_ranks (
	canon_id UUID PRIMARY KEY REFERENCES canons(id),
	rank DOUBLE PRECISION NOT NULL,
	calculated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS load_history (
	id UUID PRIMARY KEY,
	package_manager_id UUID NOT NULL REFERENCES package_managers(id),
	new_packages INT NOT NULL,
	updated_packages INT NOT NULL,
	new_urls INT NOT NULL,
	new_links INT NOT NULL,
	new_deps INT NOT NULL,
	removed_deps INT NOT NULL,
	deleted_packages INT NOT NULL,
	duration_ms BIGINT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);
`

// EnsureSchema creates any missing tables.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return wrapPgError(err, "ensuring schema")
	}
	return nil
}
