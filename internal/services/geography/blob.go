package geography

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/zeebo/blake3"

	"github.com/geodepot/geodepot/internal/apierror"
)

// HashGeometry computes the content hash of a geometry payload. The same
// primitive is used for storage deduplication and for fork-safety
// comparison, so hashes computed independently on each side of a fork are
// directly comparable.
func HashGeometry(wkb []byte) []byte {
	sum := blake3.Sum256(wkb)
	return sum[:]
}

// emptyPolygonWKB is the canonical well-known-binary encoding of an empty
// polygon (little-endian, geometry type 3, zero rings).
var emptyPolygonWKB = []byte{0x01, 0x03, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00}

// EmptyGeometryHash is the content hash of a degenerate geometry. Fork
// validation uses it to detect empty polygons without decoding payloads.
var EmptyGeometryHash = HashGeometry(emptyPolygonWKB)

// getOrCreateBlobTx inserts a geometry payload into the content-addressed
// store, or returns the existing row for its hash. The upsert "updates" the
// row with its own values so concurrent duplicate inserts resolve at the
// uniqueness constraint instead of failing.
func (s *Service) getOrCreateBlobTx(ctx context.Context, tx pgx.Tx, wkb []byte, internalPoint []byte) (int64, []byte, error) {
	hash := HashGeometry(wkb)
	query := `
		INSERT INTO geo_bins (geometry, internal_point, geometry_hash)
		VALUES ($1, $2, $3)
		ON CONFLICT (geometry_hash)
		DO UPDATE SET geometry = EXCLUDED.geometry
		RETURNING geo_bin_id
	`
	var binID int64
	if err := tx.QueryRow(ctx, query, wkb, internalPoint, hash).Scan(&binID); err != nil {
		s.logger.Errorf("Failed to store geometry blob: %v", err)
		return 0, nil, apierror.FromStorage(err, "geometry blob")
	}
	return binID, hash, nil
}
