// Package fork plans and applies hash-validated copies of geographies from
// one namespace's layer into another. A fork is not a merge: any divergence
// between paths the two sides share is fatal.
package fork

import (
	"bytes"
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/geodepot/geodepot/internal/apierror"
	"github.com/geodepot/geodepot/internal/services/changestamp"
	"github.com/geodepot/geodepot/internal/services/geography"
	"github.com/geodepot/geodepot/internal/services/layer"
	"github.com/geodepot/geodepot/internal/services/locality"
	"github.com/geodepot/geodepot/internal/services/namespace"
	"github.com/geodepot/geodepot/internal/services/scope"
	"github.com/geodepot/geodepot/pkg/database"
	"github.com/geodepot/geodepot/pkg/logger"
)

// Flags are the caller-supplied fork policy switches. Both default to the
// safe (refusing) side.
type Flags struct {
	// AllowEmptyPolys permits forking paths whose geometry is the canonical
	// empty polygon. Empty geometries usually indicate an upstream load bug.
	AllowEmptyPolys bool
	// AllowExtraSourceGeos permits copying paths that exist only in the
	// source. Without it a fork may not introduce any new path.
	AllowExtraSourceGeos bool
}

// Request names the two sides of a fork.
type Request struct {
	SourceNamespace string
	TargetNamespace string
	SourceLayer     string
	TargetLayer     string
	Locality        string
	// AsOf fixes the shared snapshot instant for both sides. Nil means now.
	AsOf  *time.Time
	Flags Flags
}

// Mismatch is a path present on both sides with differing geometry hashes.
type Mismatch struct {
	Path       string
	SourceHash []byte
	TargetHash []byte
}

// Diff partitions the source and target snapshots by path.
type Diff struct {
	// Common holds paths on both sides with equal hashes, with the shared
	// hash.
	Common []layer.PathHash
	// Mismatched holds paths on both sides whose hashes differ.
	Mismatched []Mismatch
	// SourceOnly holds paths only the source has, with source hashes.
	SourceOnly []layer.PathHash
	// TargetOnly holds paths only the target has, with target hashes.
	TargetOnly []layer.PathHash
}

func (d *Diff) sourceEmpty() bool {
	return len(d.Common) == 0 && len(d.Mismatched) == 0 && len(d.SourceOnly) == 0
}

func (d *Diff) targetEmpty() bool {
	return len(d.Common) == 0 && len(d.Mismatched) == 0 && len(d.TargetOnly) == 0
}

// ComputeDiff partitions two path-hash snapshots. It is pure: both inputs
// must already be taken at the same shared instant.
func ComputeDiff(source, target []layer.PathHash) Diff {
	targetByPath := make(map[string][]byte, len(target))
	for _, t := range target {
		targetByPath[t.Path] = t.Hash
	}
	sourcePaths := make(map[string]bool, len(source))

	var d Diff
	for _, s := range source {
		sourcePaths[s.Path] = true
		tHash, ok := targetByPath[s.Path]
		switch {
		case !ok:
			d.SourceOnly = append(d.SourceOnly, s)
		case bytes.Equal(s.Hash, tHash):
			d.Common = append(d.Common, s)
		default:
			d.Mismatched = append(d.Mismatched, Mismatch{
				Path:       s.Path,
				SourceHash: s.Hash,
				TargetHash: tHash,
			})
		}
	}
	for _, t := range target {
		if !sourcePaths[t.Path] {
			d.TargetOnly = append(d.TargetOnly, t)
		}
	}

	sort.Slice(d.SourceOnly, func(i, j int) bool { return d.SourceOnly[i].Path < d.SourceOnly[j].Path })
	sort.Slice(d.TargetOnly, func(i, j int) bool { return d.TargetOnly[i].Path < d.TargetOnly[j].Path })
	sort.Slice(d.Mismatched, func(i, j int) bool { return d.Mismatched[i].Path < d.Mismatched[j].Path })
	return d
}

// Validate applies the fork safety rules to a diff, in a fixed order. Hash
// mismatches and extra target paths are refused regardless of flags.
func Validate(d Diff, flags Flags) error {
	if d.sourceEmpty() && d.targetEmpty() {
		return apierror.Conflict("both layers do not contain any geographies")
	}
	if d.sourceEmpty() {
		return apierror.Conflict(
			"the source layer does not contain any geographies but the target does; " +
				"the namespaces or layers may be swapped")
	}

	if !flags.AllowEmptyPolys {
		empty := geography.EmptyGeometryHash
		var emptyPaths []string
		for _, ph := range d.Common {
			if bytes.Equal(ph.Hash, empty) {
				emptyPaths = append(emptyPaths, ph.Path)
			}
		}
		for _, m := range d.Mismatched {
			if bytes.Equal(m.SourceHash, empty) {
				emptyPaths = append(emptyPaths, m.Path)
			}
		}
		for _, ph := range d.SourceOnly {
			if bytes.Equal(ph.Hash, empty) {
				emptyPaths = append(emptyPaths, ph.Path)
			}
		}
		if len(emptyPaths) > 0 {
			return apierror.Conflict(
				"geometries are empty polygons for paths %v; set allow_empty_polys to fork them anyway",
				emptyPaths)
		}
	}

	if len(d.Mismatched) > 0 {
		paths := make([]string, len(d.Mismatched))
		for i, m := range d.Mismatched {
			paths[i] = m.Path
		}
		return apierror.Conflict(
			"geometries differ between the source and target layers for paths %v", paths)
	}

	if len(d.TargetOnly) > 0 {
		paths := make([]string, len(d.TargetOnly))
		for i, ph := range d.TargetOnly {
			paths[i] = ph.Path
		}
		return apierror.Conflict(
			"the target layer contains paths not present in the source: %v; "+
				"the target must be a subset of the source", paths)
	}

	if len(d.SourceOnly) > 0 && !flags.AllowExtraSourceGeos {
		paths := make([]string, len(d.SourceOnly))
		for i, ph := range d.SourceOnly {
			paths[i] = ph.Path
		}
		return apierror.Conflict(
			"no geometries present in target for paths %v and allow_extra_source_geos is not set", paths)
	}
	return nil
}

// Plan is a validated fork ready to apply. The recorded change stamps pin the
// snapshot the plan was computed against.
type Plan struct {
	SourceNamespace *namespace.Namespace
	TargetNamespace *namespace.Namespace
	SourceLayer     *layer.GeoLayer
	TargetLayer     *layer.GeoLayer
	Locality        *locality.Locality
	AsOf            time.Time
	Diff            Diff
	Flags           Flags

	sourceStamp *uuid.UUID
	targetStamp *uuid.UUID
}

// Service plans and applies forks.
type Service struct {
	db         *database.PostgreSQL
	namespaces *namespace.Service
	localities *locality.Service
	layers     *layer.Service
	geos       *geography.Service
	stamps     *changestamp.Service
	logger     *logger.Logger
}

func NewService(
	db *database.PostgreSQL,
	namespaces *namespace.Service,
	localities *locality.Service,
	layers *layer.Service,
	geos *geography.Service,
	stamps *changestamp.Service,
	logger *logger.Logger,
) *Service {
	return &Service{
		db:         db,
		namespaces: namespaces,
		localities: localities,
		layers:     layers,
		geos:       geos,
		stamps:     stamps,
		logger:     logger,
	}
}

// Plan resolves and authorizes both sides of a fork, computes the diff at one
// shared instant, and validates it. Nothing is mutated.
func (s *Service) Plan(ctx context.Context, facts *scope.Facts, req Request) (*Plan, error) {
	srcNS, err := s.namespaces.GetReadable(ctx, req.SourceNamespace, facts)
	if err != nil {
		return nil, err
	}
	tgtNS, err := s.namespaces.GetWritable(ctx, req.TargetNamespace, facts)
	if err != nil {
		return nil, err
	}
	if srcNS.ID != tgtNS.ID && !srcNS.Public {
		return nil, apierror.PermissionDenied(
			"namespace %q is not public, so its geographies cannot be forked into other namespaces",
			srcNS.Path)
	}

	loc, err := s.localities.Get(ctx, req.Locality)
	if err != nil {
		return nil, err
	}
	srcLayer, err := s.layers.Get(ctx, srcNS.ID, req.SourceLayer)
	if err != nil {
		return nil, err
	}
	tgtLayer, err := s.layers.Get(ctx, tgtNS.ID, req.TargetLayer)
	if err != nil {
		return nil, err
	}

	asOf := time.Now().UTC()
	if req.AsOf != nil {
		asOf = req.AsOf.UTC()
	}
	srcPairs, err := s.layers.PathHashPairs(ctx, srcLayer.ID, loc.ID, asOf)
	if err != nil {
		return nil, err
	}
	tgtPairs, err := s.layers.PathHashPairs(ctx, tgtLayer.ID, loc.ID, asOf)
	if err != nil {
		return nil, err
	}

	diff := ComputeDiff(srcPairs, tgtPairs)
	if err := Validate(diff, req.Flags); err != nil {
		return nil, err
	}

	srcStamp, err := s.stamps.Read(ctx, &srcNS.ID, geography.Table)
	if err != nil {
		return nil, err
	}
	tgtStamp, err := s.stamps.Read(ctx, &tgtNS.ID, geography.Table)
	if err != nil {
		return nil, err
	}

	return &Plan{
		SourceNamespace: srcNS,
		TargetNamespace: tgtNS,
		SourceLayer:     srcLayer,
		TargetLayer:     tgtLayer,
		Locality:        loc,
		AsOf:            asOf,
		Diff:            diff,
		Flags:           req.Flags,
		sourceStamp:     srcStamp,
		targetStamp:     tgtStamp,
	}, nil
}

// Apply materializes a plan: it creates a geography with an initial version
// in the target namespace for each source-only path, then remaps the target
// (layer, locality) set to the full resulting membership. Everything commits
// in one serializable transaction; if either namespace's geography stamp
// moved since the plan was computed, the apply fails with Conflict and the
// caller must replan.
func (s *Service) Apply(ctx context.Context, plan *Plan, metaID int64) ([]*geography.Versioned, error) {
	refs := make([]geography.Ref, len(plan.Diff.SourceOnly))
	for i, ph := range plan.Diff.SourceOnly {
		refs[i] = geography.Ref{NamespaceID: plan.SourceNamespace.ID, Path: ph.Path}
	}

	var payloads []geography.Payload
	if len(refs) > 0 {
		versions, err := s.geos.ReadBulkAsOf(ctx, refs, plan.AsOf)
		if err != nil {
			return nil, err
		}
		payloads = make([]geography.Payload, len(versions))
		for i, v := range versions {
			wkb, err := s.geos.ReadGeometry(ctx, v.Version.BinID)
			if err != nil {
				return nil, err
			}
			payloads[i] = geography.Payload{Path: v.Geography.Path, Geometry: wkb}
		}
	}

	now := time.Now().UTC()
	tx, err := s.db.Pool().BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return nil, apierror.FromStorage(err, "fork")
	}
	defer tx.Rollback(ctx)

	if err := s.checkStampTx(ctx, tx, plan.SourceNamespace, plan.sourceStamp); err != nil {
		return nil, err
	}
	if err := s.checkStampTx(ctx, tx, plan.TargetNamespace, plan.targetStamp); err != nil {
		return nil, err
	}

	var created []*geography.Versioned
	if len(payloads) > 0 {
		created, err = s.geos.CreateForkTx(ctx, tx, plan.TargetNamespace.ID, payloads, metaID, now)
		if err != nil {
			return nil, err
		}
	}

	memberIDs, err := s.targetMembersTx(ctx, tx, plan)
	if err != nil {
		return nil, err
	}
	for _, v := range created {
		memberIDs = append(memberIDs, v.Geography.ID)
	}
	if _, err := s.layers.MapLocalityTx(ctx, tx, plan.TargetLayer, plan.Locality.ID, memberIDs, metaID, now); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, apierror.FromStorage(err, "fork")
	}
	s.stamps.Invalidate(ctx, &plan.TargetNamespace.ID, geography.Table)
	s.stamps.Invalidate(ctx, &plan.TargetNamespace.ID, layer.SetTable)

	s.logger.Infof(
		"Forked %d geographies from %s/%s into %s/%s (locality %s)",
		len(created), plan.SourceNamespace.Path, plan.SourceLayer.Path,
		plan.TargetNamespace.Path, plan.TargetLayer.Path, plan.Locality.CanonicalRef)
	return created, nil
}

func (s *Service) checkStampTx(ctx context.Context, tx pgx.Tx, ns *namespace.Namespace, planned *uuid.UUID) error {
	current, err := s.stamps.ReadTx(ctx, tx, &ns.ID, geography.Table)
	if err != nil {
		return err
	}
	same := (current == nil && planned == nil) ||
		(current != nil && planned != nil && *current == *planned)
	if !same {
		return apierror.Conflict(
			"geographies in namespace %q changed after the fork was planned; plan again", ns.Path)
	}
	return nil
}

func (s *Service) targetMembersTx(ctx context.Context, tx pgx.Tx, plan *Plan) ([]int64, error) {
	sv, err := s.layers.CurrentSetTx(ctx, tx, plan.TargetLayer.ID, plan.Locality.ID)
	if err != nil {
		if apierror.IsKind(err, apierror.KindNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return s.layers.MemberGeoIDsTx(ctx, tx, sv.ID)
}
