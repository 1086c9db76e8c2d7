// Package geography stores geographic entities as immutable, bitemporal
// version chains over a content-addressed blob store. Entities are never
// overwritten: every mutation appends a version with a validity interval,
// and geometry payloads are deduplicated by content hash.
package geography

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/geodepot/geodepot/internal/apierror"
	"github.com/geodepot/geodepot/internal/pathutil"
	"github.com/geodepot/geodepot/internal/services/changestamp"
	"github.com/geodepot/geodepot/pkg/database"
	"github.com/geodepot/geodepot/pkg/logger"
)

// Table is the changestamp collection name for geographies.
const Table = "geographies"

// Service handles geography storage and versioning
type Service struct {
	db     *database.PostgreSQL
	stamps *changestamp.Service
	logger *logger.Logger
}

// NewService creates a new geography service
func NewService(db *database.PostgreSQL, stamps *changestamp.Service, logger *logger.Logger) *Service {
	return &Service{
		db:     db,
		stamps: stamps,
		logger: logger,
	}
}

// Geography is the identity of a geographic entity. It is never mutated;
// all change happens on its version chain.
type Geography struct {
	ID          int64
	NamespaceID int64
	Path        string
	MetaID      int64
}

// Version is one entry in an entity's version chain. ValidTo is nil for the
// current version.
type Version struct {
	ID          int64
	GeoID       int64
	ValidFrom   time.Time
	ValidTo     *time.Time
	BinID       int64
	ContentHash []byte
}

// Versioned pairs an entity with one of its versions.
type Versioned struct {
	Geography Geography
	Version   Version
}

// Ref identifies an entity by namespace and path.
type Ref struct {
	NamespaceID int64
	Path        string
}

// Payload is the geometry content for a create or supersede.
type Payload struct {
	Path          string
	Geometry      []byte
	InternalPoint []byte
}

// Get retrieves a geography identity by path.
func (s *Service) Get(ctx context.Context, namespaceID int64, path string) (*Geography, error) {
	canonical, err := pathutil.NormalizeCaseSensitive(path)
	if err != nil {
		return nil, err
	}
	query := `
		SELECT geo_id, namespace_id, path, meta_id
		FROM geographies
		WHERE namespace_id = $1 AND path = $2
	`
	var g Geography
	if err := s.db.Pool().QueryRow(ctx, query, namespaceID, canonical).Scan(
		&g.ID, &g.NamespaceID, &g.Path, &g.MetaID,
	); err != nil {
		return nil, apierror.FromStorage(err, "geography")
	}
	return &g, nil
}

// Create inserts a single new geography with its first version.
func (s *Service) Create(ctx context.Context, namespaceID int64, p Payload, metaID int64) (*Versioned, error) {
	created, err := s.CreateBulk(ctx, namespaceID, []Payload{p}, metaID)
	if err != nil {
		return nil, err
	}
	return created[0], nil
}

// CreateBulk inserts new geographies with their first versions. The batch is
// all-or-nothing: any pre-existing or duplicate path fails the whole batch
// before anything is written.
func (s *Service) CreateBulk(ctx context.Context, namespaceID int64, payloads []Payload, metaID int64) ([]*Versioned, error) {
	if len(payloads) == 0 {
		return nil, apierror.Unprocessable("no geographies given")
	}
	paths, err := normalizePaths(payloads)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()

	tx, err := s.db.Pool().Begin(ctx)
	if err != nil {
		return nil, apierror.FromStorage(err, "geography")
	}
	defer tx.Rollback(ctx)

	existing, err := existingPathsTx(ctx, tx, namespaceID, paths)
	if err != nil {
		return nil, err
	}
	if len(existing) > 0 {
		return nil, apierror.Conflict("cannot create geographies that already exist: %v", existing)
	}

	out, err := s.insertVersionsTx(ctx, tx, namespaceID, payloads, paths, metaID, now, true)
	if err != nil {
		return nil, err
	}

	if _, err := s.stamps.TouchTx(ctx, tx, &namespaceID, Table); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, apierror.FromStorage(err, "geography")
	}
	s.stamps.Invalidate(ctx, &namespaceID, Table)
	return out, nil
}

// CreateForkTx inserts new geographies inside an existing transaction. Used
// by the fork planner so the whole fork commits atomically.
func (s *Service) CreateForkTx(ctx context.Context, tx pgx.Tx, namespaceID int64, payloads []Payload, metaID int64, now time.Time) ([]*Versioned, error) {
	paths, err := normalizePaths(payloads)
	if err != nil {
		return nil, err
	}
	existing, err := existingPathsTx(ctx, tx, namespaceID, paths)
	if err != nil {
		return nil, err
	}
	if len(existing) > 0 {
		return nil, apierror.Conflict("cannot create geographies that already exist: %v", existing)
	}
	out, err := s.insertVersionsTx(ctx, tx, namespaceID, payloads, paths, metaID, now, true)
	if err != nil {
		return nil, err
	}
	if _, err := s.stamps.TouchTx(ctx, tx, &namespaceID, Table); err != nil {
		return nil, err
	}
	return out, nil
}

// insertVersionsTx writes blob, identity (when createIdentity), and version
// rows for each payload.
func (s *Service) insertVersionsTx(ctx context.Context, tx pgx.Tx, namespaceID int64, payloads []Payload, paths []string, metaID int64, now time.Time, createIdentity bool) ([]*Versioned, error) {
	out := make([]*Versioned, 0, len(payloads))
	for i, p := range payloads {
		binID, hash, err := s.getOrCreateBlobTx(ctx, tx, p.Geometry, p.InternalPoint)
		if err != nil {
			return nil, err
		}

		var g Geography
		if createIdentity {
			if err := tx.QueryRow(ctx, `
				INSERT INTO geographies (namespace_id, path, meta_id)
				VALUES ($1, $2, $3)
				RETURNING geo_id, namespace_id, path, meta_id
			`, namespaceID, paths[i], metaID).Scan(
				&g.ID, &g.NamespaceID, &g.Path, &g.MetaID,
			); err != nil {
				return nil, apierror.FromStorage(err, "geography")
			}
		} else {
			if err := tx.QueryRow(ctx, `
				SELECT geo_id, namespace_id, path, meta_id
				FROM geographies
				WHERE namespace_id = $1 AND path = $2
			`, namespaceID, paths[i]).Scan(
				&g.ID, &g.NamespaceID, &g.Path, &g.MetaID,
			); err != nil {
				return nil, apierror.FromStorage(err, "geography")
			}
		}

		var v Version
		if err := tx.QueryRow(ctx, `
			INSERT INTO geo_versions (geo_id, valid_from, valid_to, geo_bin_id)
			VALUES ($1, $2, NULL, $3)
			RETURNING version_id, geo_id, valid_from, valid_to, geo_bin_id
		`, g.ID, now, binID).Scan(
			&v.ID, &v.GeoID, &v.ValidFrom, &v.ValidTo, &v.BinID,
		); err != nil {
			return nil, apierror.FromStorage(err, "geography version")
		}
		v.ContentHash = hash
		out = append(out, &Versioned{Geography: g, Version: v})
	}
	return out, nil
}

func normalizePaths(payloads []Payload) ([]string, error) {
	paths := make([]string, len(payloads))
	seen := make(map[string][]string)
	for i, p := range payloads {
		canonical, err := pathutil.NormalizeCaseSensitive(p.Path)
		if err != nil {
			return nil, err
		}
		paths[i] = canonical
		seen[canonical] = append(seen[canonical], p.Path)
	}
	for canonical, raw := range seen {
		if len(raw) > 1 {
			return nil, apierror.Unprocessable("cannot create geographies with duplicate paths: %q", canonical)
		}
	}
	return paths, nil
}

func existingPathsTx(ctx context.Context, tx pgx.Tx, namespaceID int64, paths []string) ([]string, error) {
	rows, err := tx.Query(ctx, `
		SELECT path FROM geographies
		WHERE namespace_id = $1 AND path = ANY($2)
	`, namespaceID, paths)
	if err != nil {
		return nil, apierror.FromStorage(err, "geography")
	}
	defer rows.Close()

	var existing []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, apierror.FromStorage(err, "geography")
		}
		existing = append(existing, p)
	}
	if err := rows.Err(); err != nil {
		return nil, apierror.FromStorage(err, "geography")
	}
	return existing, nil
}
