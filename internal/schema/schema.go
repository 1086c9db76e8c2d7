// Package schema creates and migrates the database tables.
package schema

import (
	"context"

	"github.com/geodepot/geodepot/internal/apierror"
	"github.com/geodepot/geodepot/pkg/database"
	"github.com/geodepot/geodepot/pkg/logger"
)

// statements run in order inside one transaction. Every statement is
// idempotent, so Apply can run on every startup.
var statements = []string{
	`CREATE TABLE IF NOT EXISTS users (
		user_id       BIGSERIAL PRIMARY KEY,
		name          TEXT NOT NULL,
		email         TEXT NOT NULL UNIQUE,
		password_hash BYTEA,
		created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,

	`CREATE TABLE IF NOT EXISTS object_meta (
		meta_id    BIGSERIAL PRIMARY KEY,
		uuid       UUID NOT NULL UNIQUE,
		notes      TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		created_by BIGINT NOT NULL REFERENCES users (user_id)
	)`,

	`CREATE TABLE IF NOT EXISTS user_groups (
		group_id    BIGSERIAL PRIMARY KEY,
		name        TEXT NOT NULL UNIQUE,
		description TEXT NOT NULL DEFAULT '',
		meta_id     BIGINT NOT NULL REFERENCES object_meta (meta_id)
	)`,

	`CREATE TABLE IF NOT EXISTS user_group_members (
		group_id BIGINT NOT NULL REFERENCES user_groups (group_id),
		user_id  BIGINT NOT NULL REFERENCES users (user_id),
		meta_id  BIGINT NOT NULL REFERENCES object_meta (meta_id),
		PRIMARY KEY (group_id, user_id)
	)`,

	`CREATE TABLE IF NOT EXISTS api_keys (
		key_hash   BYTEA PRIMARY KEY,
		user_id    BIGINT NOT NULL REFERENCES users (user_id),
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		active     BOOLEAN NOT NULL DEFAULT TRUE
	)`,

	`CREATE TABLE IF NOT EXISTS namespaces (
		namespace_id BIGSERIAL PRIMARY KEY,
		path         TEXT NOT NULL UNIQUE,
		description  TEXT NOT NULL DEFAULT '',
		public       BOOLEAN NOT NULL,
		meta_id      BIGINT NOT NULL REFERENCES object_meta (meta_id),
		created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,

	`CREATE TABLE IF NOT EXISTS user_scopes (
		scope_id        BIGSERIAL PRIMARY KEY,
		user_id         BIGINT NOT NULL REFERENCES users (user_id),
		scope           TEXT NOT NULL,
		namespace_group TEXT,
		namespace_id    BIGINT REFERENCES namespaces (namespace_id),
		meta_id         BIGINT NOT NULL REFERENCES object_meta (meta_id),
		CHECK (namespace_group IS NULL OR namespace_id IS NULL)
	)`,

	`CREATE TABLE IF NOT EXISTS user_group_scopes (
		scope_id        BIGSERIAL PRIMARY KEY,
		group_id        BIGINT NOT NULL REFERENCES user_groups (group_id),
		scope           TEXT NOT NULL,
		namespace_group TEXT,
		namespace_id    BIGINT REFERENCES namespaces (namespace_id),
		meta_id         BIGINT NOT NULL REFERENCES object_meta (meta_id),
		CHECK (namespace_group IS NULL OR namespace_id IS NULL)
	)`,

	// locality_refs rows exist before the locality they name: the canonical
	// ref is inserted with a null loc_id, the locality points back at it via
	// canonical_ref_id, and the loc_id is backported afterwards.
	`CREATE TABLE IF NOT EXISTS locality_refs (
		ref_id  BIGSERIAL PRIMARY KEY,
		path    TEXT NOT NULL UNIQUE,
		loc_id  BIGINT,
		meta_id BIGINT NOT NULL REFERENCES object_meta (meta_id)
	)`,

	`CREATE TABLE IF NOT EXISTS localities (
		loc_id           BIGSERIAL PRIMARY KEY,
		canonical_ref_id BIGINT NOT NULL REFERENCES locality_refs (ref_id),
		parent_id        BIGINT REFERENCES localities (loc_id),
		name             TEXT NOT NULL,
		default_proj     TEXT,
		meta_id          BIGINT NOT NULL REFERENCES object_meta (meta_id),
		CHECK (parent_id IS NULL OR parent_id <> loc_id)
	)`,

	`CREATE TABLE IF NOT EXISTS geo_layers (
		layer_id     BIGSERIAL PRIMARY KEY,
		namespace_id BIGINT NOT NULL REFERENCES namespaces (namespace_id),
		path         TEXT NOT NULL,
		description  TEXT NOT NULL DEFAULT '',
		source_url   TEXT,
		meta_id      BIGINT NOT NULL REFERENCES object_meta (meta_id),
		UNIQUE (namespace_id, path)
	)`,

	`CREATE TABLE IF NOT EXISTS geo_bins (
		geo_bin_id     BIGSERIAL PRIMARY KEY,
		geometry_hash  BYTEA NOT NULL UNIQUE,
		geometry       BYTEA NOT NULL,
		internal_point BYTEA,
		created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,

	`CREATE TABLE IF NOT EXISTS geographies (
		geo_id       BIGSERIAL PRIMARY KEY,
		namespace_id BIGINT NOT NULL REFERENCES namespaces (namespace_id),
		path         TEXT NOT NULL,
		meta_id      BIGINT NOT NULL REFERENCES object_meta (meta_id),
		UNIQUE (namespace_id, path)
	)`,

	`CREATE TABLE IF NOT EXISTS geo_versions (
		version_id BIGSERIAL PRIMARY KEY,
		geo_id     BIGINT NOT NULL REFERENCES geographies (geo_id),
		valid_from TIMESTAMPTZ NOT NULL,
		valid_to   TIMESTAMPTZ,
		geo_bin_id BIGINT NOT NULL REFERENCES geo_bins (geo_bin_id),
		CHECK (valid_to IS NULL OR valid_to > valid_from)
	)`,

	// At most one current version per entity.
	`CREATE UNIQUE INDEX IF NOT EXISTS geo_versions_current
		ON geo_versions (geo_id) WHERE valid_to IS NULL`,

	`CREATE INDEX IF NOT EXISTS geo_versions_interval
		ON geo_versions (geo_id, valid_from)`,

	`CREATE TABLE IF NOT EXISTS geo_set_versions (
		set_version_id BIGSERIAL PRIMARY KEY,
		layer_id       BIGINT NOT NULL REFERENCES geo_layers (layer_id),
		loc_id         BIGINT NOT NULL REFERENCES localities (loc_id),
		meta_id        BIGINT NOT NULL REFERENCES object_meta (meta_id),
		created_at     TIMESTAMPTZ NOT NULL
	)`,

	`CREATE INDEX IF NOT EXISTS geo_set_versions_lookup
		ON geo_set_versions (layer_id, loc_id, created_at DESC)`,

	`CREATE TABLE IF NOT EXISTS geo_set_members (
		set_version_id BIGINT NOT NULL REFERENCES geo_set_versions (set_version_id),
		geo_id         BIGINT NOT NULL REFERENCES geographies (geo_id),
		PRIMARY KEY (set_version_id, geo_id)
	)`,

	`CREATE TABLE IF NOT EXISTS change_stamps (
		stamp_id       BIGSERIAL PRIMARY KEY,
		resource_table TEXT NOT NULL,
		namespace_id   BIGINT REFERENCES namespaces (namespace_id),
		token          UUID NOT NULL,
		UNIQUE NULLS NOT DISTINCT (resource_table, namespace_id)
	)`,
}

// Apply creates any missing tables and indexes.
func Apply(ctx context.Context, db *database.PostgreSQL, log *logger.Logger) error {
	tx, err := db.Pool().Begin(ctx)
	if err != nil {
		return apierror.FromStorage(err, "schema")
	}
	defer tx.Rollback(ctx)

	for _, stmt := range statements {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return apierror.Internal(err, "failed to apply schema statement")
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return apierror.FromStorage(err, "schema")
	}
	log.Info("Database schema is up to date")
	return nil
}
