package locality

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/geodepot/geodepot/internal/apierror"
	"github.com/geodepot/geodepot/internal/pathutil"
	"github.com/geodepot/geodepot/internal/services/changestamp"
	"github.com/geodepot/geodepot/pkg/database"
	"github.com/geodepot/geodepot/pkg/logger"
)

// Table is the changestamp collection name for localities.
const Table = "localities"

// Service handles the locality tree. Localities form a self-referential
// hierarchy (country, state, county, ...) addressed through reference paths;
// each locality has one canonical ref plus any number of aliases.
type Service struct {
	db     *database.PostgreSQL
	stamps *changestamp.Service
	logger *logger.Logger
}

// NewService creates a new locality service
func NewService(db *database.PostgreSQL, stamps *changestamp.Service, logger *logger.Logger) *Service {
	return &Service{
		db:     db,
		stamps: stamps,
		logger: logger,
	}
}

// Locality is a node in the locality tree.
type Locality struct {
	ID           int64
	CanonicalRef string
	ParentID     *int64
	Name         string
	DefaultProj  *string
	MetaID       int64
}

// Create describes a locality to be created.
type Create struct {
	CanonicalPath string
	ParentPath    *string
	Name          string
	DefaultProj   *string
	Aliases       []string
}

// CreateBulk creates localities with their canonical refs and aliases.
// The whole batch succeeds or fails together.
func (s *Service) CreateBulk(ctx context.Context, creates []Create, metaID int64) ([]*Locality, error) {
	if len(creates) == 0 {
		return nil, apierror.Unprocessable("no localities given")
	}

	seen := make(map[string]bool, len(creates))
	for i := range creates {
		canonical, err := pathutil.Normalize(creates[i].CanonicalPath)
		if err != nil {
			return nil, err
		}
		if seen[canonical] {
			return nil, apierror.Unprocessable("duplicate locality path %q in batch", canonical)
		}
		seen[canonical] = true
		creates[i].CanonicalPath = canonical

		if creates[i].ParentPath != nil {
			parent, err := pathutil.Normalize(*creates[i].ParentPath)
			if err != nil {
				return nil, err
			}
			creates[i].ParentPath = &parent
		}
	}

	tx, err := s.db.Pool().Begin(ctx)
	if err != nil {
		return nil, apierror.FromStorage(err, "locality")
	}
	defer tx.Rollback(ctx)

	out := make([]*Locality, 0, len(creates))
	for _, c := range creates {
		var parentID *int64
		if c.ParentPath != nil {
			id, err := s.resolveRefTx(ctx, tx, *c.ParentPath)
			if err != nil {
				if apierror.IsKind(err, apierror.KindNotFound) {
					return nil, apierror.Unprocessable("reference to unknown parent location %q", *c.ParentPath)
				}
				return nil, err
			}
			parentID = &id
		}

		var refID int64
		if err := tx.QueryRow(ctx, `
			INSERT INTO locality_refs (path, meta_id)
			VALUES ($1, $2)
			RETURNING ref_id
		`, c.CanonicalPath, metaID).Scan(&refID); err != nil {
			s.logger.Errorf("Failed to create canonical ref %s: %v", c.CanonicalPath, err)
			return nil, apierror.FromStorage(err, "locality ref")
		}

		loc := &Locality{CanonicalRef: c.CanonicalPath, ParentID: parentID, MetaID: metaID}
		if err := tx.QueryRow(ctx, `
			INSERT INTO localities (canonical_ref_id, parent_id, meta_id, name, default_proj)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING loc_id, name, default_proj
		`, refID, parentID, metaID, c.Name, c.DefaultProj).Scan(
			&loc.ID, &loc.Name, &loc.DefaultProj,
		); err != nil {
			return nil, apierror.FromStorage(err, "locality")
		}

		// Backport the locality id onto its refs.
		if _, err := tx.Exec(ctx,
			`UPDATE locality_refs SET loc_id = $1 WHERE ref_id = $2`, loc.ID, refID); err != nil {
			return nil, apierror.FromStorage(err, "locality ref")
		}

		for _, alias := range c.Aliases {
			aliasPath, err := pathutil.Normalize(alias)
			if err != nil {
				return nil, err
			}
			if _, err := tx.Exec(ctx, `
				INSERT INTO locality_refs (path, loc_id, meta_id)
				VALUES ($1, $2, $3)
			`, aliasPath, loc.ID, metaID); err != nil {
				return nil, apierror.FromStorage(err, "locality ref")
			}
		}
		out = append(out, loc)
	}

	if _, err := s.stamps.TouchTx(ctx, tx, nil, Table); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, apierror.FromStorage(err, "locality")
	}
	s.stamps.Invalidate(ctx, nil, Table)
	return out, nil
}

// Get retrieves a locality by any of its reference paths.
func (s *Service) Get(ctx context.Context, ref string) (*Locality, error) {
	path, err := pathutil.Normalize(ref)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT l.loc_id, cr.path, l.parent_id, l.name, l.default_proj, l.meta_id
		FROM locality_refs r
		JOIN localities l ON l.loc_id = r.loc_id
		JOIN locality_refs cr ON cr.ref_id = l.canonical_ref_id
		WHERE r.path = $1
	`
	var loc Locality
	if err := s.db.Pool().QueryRow(ctx, query, path).Scan(
		&loc.ID, &loc.CanonicalRef, &loc.ParentID, &loc.Name, &loc.DefaultProj, &loc.MetaID,
	); err != nil {
		return nil, apierror.FromStorage(err, "locality")
	}
	return &loc, nil
}

// List returns all localities.
func (s *Service) List(ctx context.Context) ([]*Locality, error) {
	query := `
		SELECT l.loc_id, cr.path, l.parent_id, l.name, l.default_proj, l.meta_id
		FROM localities l
		JOIN locality_refs cr ON cr.ref_id = l.canonical_ref_id
		ORDER BY cr.path
	`
	rows, err := s.db.Pool().Query(ctx, query)
	if err != nil {
		return nil, apierror.FromStorage(err, "localities")
	}
	defer rows.Close()

	var out []*Locality
	for rows.Next() {
		var loc Locality
		if err := rows.Scan(
			&loc.ID, &loc.CanonicalRef, &loc.ParentID, &loc.Name, &loc.DefaultProj, &loc.MetaID,
		); err != nil {
			return nil, apierror.FromStorage(err, "localities")
		}
		out = append(out, &loc)
	}
	if err := rows.Err(); err != nil {
		return nil, apierror.FromStorage(err, "localities")
	}
	return out, nil
}

// Reparent moves a locality under a new parent (or to the root when
// newParentRef is nil). The direct-parent inequality constraint only stops
// immediate self-loops, so the full ancestor chain of the proposed parent is
// walked to reject longer cycles before anything is written.
func (s *Service) Reparent(ctx context.Context, ref string, newParentRef *string) error {
	loc, err := s.Get(ctx, ref)
	if err != nil {
		return err
	}

	tx, err := s.db.Pool().Begin(ctx)
	if err != nil {
		return apierror.FromStorage(err, "locality")
	}
	defer tx.Rollback(ctx)

	var parentID *int64
	if newParentRef != nil {
		path, err := pathutil.Normalize(*newParentRef)
		if err != nil {
			return err
		}
		id, err := s.resolveRefTx(ctx, tx, path)
		if err != nil {
			return err
		}
		if id == loc.ID {
			return apierror.Unprocessable("locality cannot be its own parent")
		}
		if err := s.checkNoCycleTx(ctx, tx, loc.ID, id); err != nil {
			return err
		}
		parentID = &id
	}

	if _, err := tx.Exec(ctx,
		`UPDATE localities SET parent_id = $1 WHERE loc_id = $2`, parentID, loc.ID); err != nil {
		return apierror.FromStorage(err, "locality")
	}

	if _, err := s.stamps.TouchTx(ctx, tx, nil, Table); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return apierror.FromStorage(err, "locality")
	}
	s.stamps.Invalidate(ctx, nil, Table)
	return nil
}

// checkNoCycleTx walks up from the proposed parent; finding locID among its
// ancestors means the reparent would close a cycle.
func (s *Service) checkNoCycleTx(ctx context.Context, tx pgx.Tx, locID, parentID int64) error {
	current := &parentID
	for current != nil {
		if *current == locID {
			return apierror.Unprocessable("reparenting would create a cycle in the locality tree")
		}
		var next *int64
		if err := tx.QueryRow(ctx,
			`SELECT parent_id FROM localities WHERE loc_id = $1`, *current).Scan(&next); err != nil {
			return apierror.FromStorage(err, "locality")
		}
		current = next
	}
	return nil
}

func (s *Service) resolveRefTx(ctx context.Context, tx pgx.Tx, path string) (int64, error) {
	var id *int64
	if err := tx.QueryRow(ctx,
		`SELECT loc_id FROM locality_refs WHERE path = $1`, path).Scan(&id); err != nil {
		return 0, apierror.FromStorage(err, "locality")
	}
	if id == nil {
		return 0, apierror.Unprocessable("dangling locality reference %q", path)
	}
	return *id, nil
}
