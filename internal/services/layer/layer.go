// Package layer manages geographic layers and the set versions that bind a
// layer and a locality to a concrete collection of geographies.
package layer

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

// Table names the layer resource for change stamping.
const Table = "geo_layers"

// SetTable names the set-version resource for change stamping.
const SetTable = "geo_set_versions"

// Service implements layer and set-version operations.
type Service struct {
	db     *database.PostgreSQL
	stamps *changestamp.Service
	logger *logger.Logger
}

func NewService(db *database.PostgreSQL, stamps *changestamp.Service, logger *logger.Logger) *Service {
	return &Service{
		db:     db,
		stamps: stamps,
		logger: logger,
	}
}

// GeoLayer is a named collection scheme for geographies within a namespace
// (e.g. counties, census tracts). Paths are unique per namespace.
type GeoLayer struct {
	ID          int64
	NamespaceID int64
	Path        string
	Description string
	SourceURL   *string
	MetaID      int64
}

// SetVersion is one immutable snapshot of the geographies bound to a
// (layer, locality) pair. Newer snapshots supersede older ones; snapshots are
// never edited in place.
type SetVersion struct {
	ID        int64
	LayerID   int64
	LocID     int64
	MetaID    int64
	CreatedAt time.Time
}

// PathHash pairs a geography path with the content hash of its geometry at
// some instant.
type PathHash struct {
	Path string
	Hash []byte
}

// Create registers a new layer in a namespace.
func (s *Service) Create(ctx context.Context, namespaceID int64, path, description string, sourceURL *string, metaID int64) (*GeoLayer, error) {
	canonical, err := pathutil.NormalizeExact(path, 1, false)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.Pool().Begin(ctx)
	if err != nil {
		return nil, apierror.FromStorage(err, "layer")
	}
	defer tx.Rollback(ctx)

	layer := &GeoLayer{
		NamespaceID: namespaceID,
		Path:        canonical,
		Description: description,
		SourceURL:   sourceURL,
		MetaID:      metaID,
	}
	if err := tx.QueryRow(ctx, `
		INSERT INTO geo_layers (namespace_id, path, description, source_url, meta_id)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING layer_id
	`, namespaceID, canonical, description, sourceURL, metaID).Scan(&layer.ID); err != nil {
		return nil, apierror.FromStorage(err, "layer")
	}

	if _, err := s.stamps.TouchTx(ctx, tx, &namespaceID, Table); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, apierror.FromStorage(err, "layer")
	}
	s.stamps.Invalidate(ctx, &namespaceID, Table)
	return layer, nil
}

// Get retrieves a layer by path within a namespace.
func (s *Service) Get(ctx context.Context, namespaceID int64, path string) (*GeoLayer, error) {
	canonical, err := pathutil.NormalizeExact(path, 1, false)
	if err != nil {
		return nil, err
	}
	var layer GeoLayer
	if err := s.db.Pool().QueryRow(ctx, `
		SELECT layer_id, namespace_id, path, description, source_url, meta_id
		FROM geo_layers
		WHERE namespace_id = $1 AND path = $2
	`, namespaceID, canonical).Scan(
		&layer.ID, &layer.NamespaceID, &layer.Path, &layer.Description,
		&layer.SourceURL, &layer.MetaID,
	); err != nil {
		return nil, apierror.FromStorage(err, "layer")
	}
	return &layer, nil
}

// List returns all layers in a namespace ordered by path.
func (s *Service) List(ctx context.Context, namespaceID int64) ([]*GeoLayer, error) {
	rows, err := s.db.Pool().Query(ctx, `
		SELECT layer_id, namespace_id, path, description, source_url, meta_id
		FROM geo_layers
		WHERE namespace_id = $1
		ORDER BY path
	`, namespaceID)
	if err != nil {
		return nil, apierror.FromStorage(err, "layer")
	}
	defer rows.Close()

	var layers []*GeoLayer
	for rows.Next() {
		var layer GeoLayer
		if err := rows.Scan(
			&layer.ID, &layer.NamespaceID, &layer.Path, &layer.Description,
			&layer.SourceURL, &layer.MetaID,
		); err != nil {
			return nil, apierror.FromStorage(err, "layer")
		}
		layers = append(layers, &layer)
	}
	if err := rows.Err(); err != nil {
		return nil, apierror.FromStorage(err, "layer")
	}
	return layers, nil
}

// MapLocality binds a set of geographies to a (layer, locality) pair by
// cutting a new set-version snapshot. Every geography must live in the
// layer's namespace. A new snapshot is always created, even when the
// membership is unchanged from the previous one.
func (s *Service) MapLocality(ctx context.Context, layer *GeoLayer, locID int64, geoIDs []int64, metaID int64) (*SetVersion, error) {
	if len(geoIDs) == 0 {
		return nil, apierror.Unprocessable("cannot map a locality to an empty set of geographies")
	}

	tx, err := s.db.Pool().Begin(ctx)
	if err != nil {
		return nil, apierror.FromStorage(err, "set version")
	}
	defer tx.Rollback(ctx)

	sv, err := s.MapLocalityTx(ctx, tx, layer, locID, geoIDs, metaID, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, apierror.FromStorage(err, "set version")
	}
	s.stamps.Invalidate(ctx, &layer.NamespaceID, SetTable)
	return sv, nil
}

// MapLocalityTx is MapLocality inside an existing transaction, so the fork
// planner can remap the target set atomically with its writes.
func (s *Service) MapLocalityTx(ctx context.Context, tx pgx.Tx, layer *GeoLayer, locID int64, geoIDs []int64, metaID int64, now time.Time) (*SetVersion, error) {
	var outside int64
	if err := tx.QueryRow(ctx, `
		SELECT count(*) FROM unnest($1::bigint[]) AS want(geo_id)
		LEFT JOIN geographies g
		  ON g.geo_id = want.geo_id AND g.namespace_id = $2
		WHERE g.geo_id IS NULL
	`, geoIDs, layer.NamespaceID).Scan(&outside); err != nil {
		return nil, apierror.FromStorage(err, "set version")
	}
	if outside > 0 {
		return nil, apierror.Unprocessable(
			"%d geographies are missing or outside the layer's namespace", outside)
	}

	sv := &SetVersion{
		LayerID:   layer.ID,
		LocID:     locID,
		MetaID:    metaID,
		CreatedAt: now,
	}
	if err := tx.QueryRow(ctx, `
		INSERT INTO geo_set_versions (layer_id, loc_id, meta_id, created_at)
		VALUES ($1, $2, $3, $4)
		RETURNING set_version_id
	`, layer.ID, locID, metaID, now).Scan(&sv.ID); err != nil {
		return nil, apierror.FromStorage(err, "set version")
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO geo_set_members (set_version_id, geo_id)
		SELECT $1, want.geo_id FROM unnest($2::bigint[]) AS want(geo_id)
	`, sv.ID, geoIDs); err != nil {
		return nil, apierror.FromStorage(err, "set version")
	}

	if _, err := s.stamps.TouchTx(ctx, tx, &layer.NamespaceID, SetTable); err != nil {
		return nil, err
	}
	return sv, nil
}

// CurrentSet returns the newest set version for a (layer, locality) pair.
// Ties on created_at break toward the higher id, which was inserted later.
func (s *Service) CurrentSet(ctx context.Context, layerID, locID int64) (*SetVersion, error) {
	return s.setAsOf(ctx, s.db.Pool(), layerID, locID, nil)
}

// CurrentSetTx is CurrentSet against the caller's transaction snapshot.
func (s *Service) CurrentSetTx(ctx context.Context, tx pgx.Tx, layerID, locID int64) (*SetVersion, error) {
	return s.setAsOf(ctx, tx, layerID, locID, nil)
}

// SetAsOf returns the set version that was current at the given instant.
func (s *Service) SetAsOf(ctx context.Context, layerID, locID int64, at time.Time) (*SetVersion, error) {
	return s.setAsOf(ctx, s.db.Pool(), layerID, locID, &at)
}

// querier is the read slice of pgx shared by pools and transactions.
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func (s *Service) setAsOf(ctx context.Context, q querier, layerID, locID int64, at *time.Time) (*SetVersion, error) {
	query := `
		SELECT set_version_id, layer_id, loc_id, meta_id, created_at
		FROM geo_set_versions
		WHERE layer_id = $1 AND loc_id = $2
		  AND ($3::timestamptz IS NULL OR created_at <= $3)
		ORDER BY created_at DESC, set_version_id DESC
		LIMIT 1
	`
	var sv SetVersion
	if err := q.QueryRow(ctx, query, layerID, locID, at).Scan(
		&sv.ID, &sv.LayerID, &sv.LocID, &sv.MetaID, &sv.CreatedAt,
	); err != nil {
		return nil, apierror.FromStorage(err, "set version")
	}
	return &sv, nil
}

// PathHashPairs resolves the set version current at the given instant for a
// (layer, locality) pair and returns each member geography's path with the
// content hash of its geometry as of that instant. The result is empty, not
// an error, when the layer has never been mapped to the locality.
func (s *Service) PathHashPairs(ctx context.Context, layerID, locID int64, at time.Time) ([]PathHash, error) {
	sv, err := s.SetAsOf(ctx, layerID, locID, at)
	if err != nil {
		if apierror.IsKind(err, apierror.KindNotFound) {
			return nil, nil
		}
		return nil, err
	}

	rows, err := s.db.Pool().Query(ctx, `
		SELECT g.path, b.geometry_hash
		FROM geo_set_members m
		JOIN geographies g ON g.geo_id = m.geo_id
		JOIN geo_versions v ON v.geo_id = g.geo_id
		JOIN geo_bins b ON b.geo_bin_id = v.geo_bin_id
		WHERE m.set_version_id = $1
		  AND v.valid_from <= $2
		  AND (v.valid_to IS NULL OR v.valid_to > $2)
		ORDER BY g.path
	`, sv.ID, at)
	if err != nil {
		return nil, apierror.FromStorage(err, "set members")
	}
	defer rows.Close()

	var pairs []PathHash
	for rows.Next() {
		var ph PathHash
		if err := rows.Scan(&ph.Path, &ph.Hash); err != nil {
			return nil, apierror.FromStorage(err, "set members")
		}
		pairs = append(pairs, ph)
	}
	if err := rows.Err(); err != nil {
		return nil, apierror.FromStorage(err, "set members")
	}
	return pairs, nil
}

// MemberGeoIDs returns the geography ids in a set version.
func (s *Service) MemberGeoIDs(ctx context.Context, setVersionID int64) ([]int64, error) {
	return s.memberGeoIDs(ctx, s.db.Pool(), setVersionID)
}

// MemberGeoIDsTx is MemberGeoIDs against the caller's transaction snapshot.
func (s *Service) MemberGeoIDsTx(ctx context.Context, tx pgx.Tx, setVersionID int64) ([]int64, error) {
	return s.memberGeoIDs(ctx, tx, setVersionID)
}

func (s *Service) memberGeoIDs(ctx context.Context, q querier, setVersionID int64) ([]int64, error) {
	rows, err := q.Query(ctx, `
		SELECT geo_id FROM geo_set_members WHERE set_version_id = $1 ORDER BY geo_id
	`, setVersionID)
	if err != nil {
		return nil, apierror.FromStorage(err, "set members")
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, apierror.FromStorage(err, "set members")
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, apierror.FromStorage(err, "set members")
	}
	return ids, nil
}
