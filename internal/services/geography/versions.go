package geography

import (
	"context"
	"time"

	"github.com/geodepot/geodepot/internal/apierror"
	"github.com/geodepot/geodepot/internal/pathutil"
)

// Supersede closes the entity's current version at now and opens a new one
// referencing a (possibly newly deduplicated) blob. Fails when the entity has
// no current version: it must be created first.
func (s *Service) Supersede(ctx context.Context, namespaceID int64, p Payload, metaID int64) (*Versioned, error) {
	patched, err := s.PatchBulk(ctx, namespaceID, []Payload{p}, metaID)
	if err != nil {
		return nil, err
	}
	return patched[0], nil
}

// PatchBulk supersedes the current versions of existing geographies in bulk.
// All entities must exist; the whole batch fails when any is missing.
func (s *Service) PatchBulk(ctx context.Context, namespaceID int64, payloads []Payload, metaID int64) ([]*Versioned, error) {
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
	if len(existing) < len(paths) {
		existingSet := make(map[string]bool, len(existing))
		for _, p := range existing {
			existingSet[p] = true
		}
		var missing []string
		for _, p := range paths {
			if !existingSet[p] {
				missing = append(missing, p)
			}
		}
		return nil, apierror.NotFound("cannot update geographies that do not exist: %v", missing)
	}

	// Close out the current versions. The partial unique index on
	// (geo_id) WHERE valid_to IS NULL rejects a concurrent supersede of the
	// same entity at commit time.
	tag, err := tx.Exec(ctx, `
		UPDATE geo_versions v
		SET valid_to = $3
		FROM geographies g
		WHERE v.geo_id = g.geo_id
		  AND g.namespace_id = $1 AND g.path = ANY($2)
		  AND v.valid_to IS NULL
	`, namespaceID, paths, now)
	if err != nil {
		return nil, apierror.FromStorage(err, "geography version")
	}
	if tag.RowsAffected() < int64(len(paths)) {
		return nil, apierror.Conflict("some geographies have no current version to supersede")
	}

	out, err := s.insertVersionsTx(ctx, tx, namespaceID, payloads, paths, metaID, now, false)
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

// ReadAsOf returns the version of an entity whose validity interval contains
// at, with its geometry hash.
func (s *Service) ReadAsOf(ctx context.Context, namespaceID int64, path string, at time.Time) (*Versioned, error) {
	canonical, err := pathutil.NormalizeCaseSensitive(path)
	if err != nil {
		return nil, err
	}
	query := `
		SELECT g.geo_id, g.namespace_id, g.path, g.meta_id,
		       v.version_id, v.valid_from, v.valid_to, v.geo_bin_id, b.geometry_hash
		FROM geographies g
		JOIN geo_versions v ON v.geo_id = g.geo_id
		JOIN geo_bins b ON b.geo_bin_id = v.geo_bin_id
		WHERE g.namespace_id = $1 AND g.path = $2
		  AND v.valid_from <= $3
		  AND (v.valid_to IS NULL OR v.valid_to > $3)
	`
	var out Versioned
	if err := s.db.Pool().QueryRow(ctx, query, namespaceID, canonical, at).Scan(
		&out.Geography.ID, &out.Geography.NamespaceID, &out.Geography.Path, &out.Geography.MetaID,
		&out.Version.ID, &out.Version.ValidFrom, &out.Version.ValidTo, &out.Version.BinID,
		&out.Version.ContentHash,
	); err != nil {
		return nil, apierror.FromStorage(err, "geography version")
	}
	out.Version.GeoID = out.Geography.ID
	return &out, nil
}

// ReadGeometry returns the geometry payload for a version's blob.
func (s *Service) ReadGeometry(ctx context.Context, binID int64) ([]byte, error) {
	var wkb []byte
	if err := s.db.Pool().QueryRow(ctx,
		`SELECT geometry FROM geo_bins WHERE geo_bin_id = $1`, binID).Scan(&wkb); err != nil {
		return nil, apierror.FromStorage(err, "geometry blob")
	}
	return wkb, nil
}

// BulkReader is the explicit capability interface for stores that support
// batched as-of reads. Callers that need batching require a BulkReader;
// there is no runtime probing or per-item fallback.
type BulkReader interface {
	ReadBulkAsOf(ctx context.Context, refs []Ref, at time.Time) ([]*Versioned, error)
}

var _ BulkReader = (*Service)(nil)

// ReadBulkAsOf resolves a batch of refs to their as-of versions. The batch is
// all-or-nothing: if any ref has no version at the requested instant, the
// whole call fails with a NotFound listing every missing ref.
func (s *Service) ReadBulkAsOf(ctx context.Context, refs []Ref, at time.Time) ([]*Versioned, error) {
	if len(refs) == 0 {
		return nil, apierror.Unprocessable("no geography references given")
	}

	nsIDs := make([]int64, len(refs))
	paths := make([]string, len(refs))
	for i, r := range refs {
		canonical, err := pathutil.NormalizeCaseSensitive(r.Path)
		if err != nil {
			return nil, err
		}
		nsIDs[i] = r.NamespaceID
		paths[i] = canonical
	}

	// unnest keeps (namespace, path) pairs aligned, so the same path in two
	// namespaces resolves independently.
	query := `
		SELECT g.geo_id, g.namespace_id, g.path, g.meta_id,
		       v.version_id, v.valid_from, v.valid_to, v.geo_bin_id, b.geometry_hash
		FROM unnest($1::bigint[], $2::text[]) AS want(namespace_id, path)
		JOIN geographies g
		  ON g.namespace_id = want.namespace_id AND g.path = want.path
		JOIN geo_versions v ON v.geo_id = g.geo_id
		JOIN geo_bins b ON b.geo_bin_id = v.geo_bin_id
		WHERE v.valid_from <= $3
		  AND (v.valid_to IS NULL OR v.valid_to > $3)
	`
	rows, err := s.db.Pool().Query(ctx, query, nsIDs, paths, at)
	if err != nil {
		return nil, apierror.FromStorage(err, "geography versions")
	}
	defer rows.Close()

	found := make(map[Ref]*Versioned, len(refs))
	for rows.Next() {
		var out Versioned
		if err := rows.Scan(
			&out.Geography.ID, &out.Geography.NamespaceID, &out.Geography.Path, &out.Geography.MetaID,
			&out.Version.ID, &out.Version.ValidFrom, &out.Version.ValidTo, &out.Version.BinID,
			&out.Version.ContentHash,
		); err != nil {
			return nil, apierror.FromStorage(err, "geography versions")
		}
		out.Version.GeoID = out.Geography.ID
		found[Ref{out.Geography.NamespaceID, out.Geography.Path}] = &out
	}
	if err := rows.Err(); err != nil {
		return nil, apierror.FromStorage(err, "geography versions")
	}

	results := make([]*Versioned, len(refs))
	var missing []string
	for i := range refs {
		key := Ref{nsIDs[i], paths[i]}
		if v, ok := found[key]; ok {
			results[i] = v
		} else {
			missing = append(missing, paths[i])
		}
	}
	if len(missing) > 0 {
		return nil, apierror.NotFound("geographies not found: %v", missing)
	}
	return results, nil
}
