package namespace

import (
	"context"
	"time"

	"github.com/geodepot/geodepot/internal/apierror"
	"github.com/geodepot/geodepot/internal/pathutil"
	"github.com/geodepot/geodepot/internal/services/changestamp"
	"github.com/geodepot/geodepot/internal/services/scope"
	"github.com/geodepot/geodepot/pkg/database"
	"github.com/geodepot/geodepot/pkg/logger"
)

// Table is the changestamp collection name for namespaces.
const Table = "namespaces"

// Service handles namespace operations
type Service struct {
	db     *database.PostgreSQL
	stamps *changestamp.Service
	logger *logger.Logger
}

// NewService creates a new namespace service
func NewService(db *database.PostgreSQL, stamps *changestamp.Service, logger *logger.Logger) *Service {
	return &Service{
		db:     db,
		stamps: stamps,
		logger: logger,
	}
}

// Namespace is an isolation boundary for data.
type Namespace struct {
	ID          int64
	Path        string
	Description string
	Public      bool
	MetaID      int64
	CreatedAt   time.Time
}

// Group returns the visibility group this namespace's permission checks
// fall into.
func (n *Namespace) Group() scope.NamespaceGroup {
	if n.Public {
		return scope.GroupPublic
	}
	return scope.GroupPrivate
}

// Create inserts a new namespace. The caller must hold the namespace-create
// scope; this is checked at the API boundary.
func (s *Service) Create(ctx context.Context, path, description string, public bool, metaID int64) (*Namespace, error) {
	canonical, err := pathutil.NormalizeExact(path, 1, false)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.Pool().Begin(ctx)
	if err != nil {
		return nil, apierror.FromStorage(err, "namespace")
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO namespaces (path, description, public, meta_id)
		VALUES ($1, $2, $3, $4)
		RETURNING namespace_id, path, description, public, meta_id, created_at
	`
	var ns Namespace
	if err := tx.QueryRow(ctx, query, canonical, description, public, metaID).Scan(
		&ns.ID, &ns.Path, &ns.Description, &ns.Public, &ns.MetaID, &ns.CreatedAt,
	); err != nil {
		s.logger.Errorf("Failed to create namespace %s: %v", canonical, err)
		return nil, apierror.FromStorage(err, "namespace")
	}

	if _, err := s.stamps.TouchTx(ctx, tx, nil, Table); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, apierror.FromStorage(err, "namespace")
	}
	s.stamps.Invalidate(ctx, nil, Table)
	return &ns, nil
}

// Get retrieves a namespace by path without any visibility check. Callers
// gating on permissions should use GetVisible.
func (s *Service) Get(ctx context.Context, path string) (*Namespace, error) {
	canonical, err := pathutil.NormalizeExact(path, 1, false)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT namespace_id, path, description, public, meta_id, created_at
		FROM namespaces
		WHERE path = $1
	`
	var ns Namespace
	if err := s.db.Pool().QueryRow(ctx, query, canonical).Scan(
		&ns.ID, &ns.Path, &ns.Description, &ns.Public, &ns.MetaID, &ns.CreatedAt,
	); err != nil {
		return nil, apierror.FromStorage(err, "namespace")
	}
	return &ns, nil
}

// GetReadable retrieves a namespace the actor can read in. A missing
// namespace and one the actor cannot see produce the same NotFound, so the
// existence of private namespaces is not leaked.
func (s *Service) GetReadable(ctx context.Context, path string, facts *scope.Facts) (*Namespace, error) {
	ns, err := s.Get(ctx, path)
	if err != nil {
		if apierror.IsKind(err, apierror.KindNotFound) {
			return nil, notFoundMasked(path, "read")
		}
		return nil, err
	}
	if !facts.CanReadInNamespace(ns.ID, ns.Public) {
		return nil, notFoundMasked(path, "read")
	}
	return ns, nil
}

// GetWritable retrieves a namespace the actor can write in, with the same
// existence masking as GetReadable.
func (s *Service) GetWritable(ctx context.Context, path string, facts *scope.Facts) (*Namespace, error) {
	ns, err := s.Get(ctx, path)
	if err != nil {
		if apierror.IsKind(err, apierror.KindNotFound) {
			return nil, notFoundMasked(path, "write")
		}
		return nil, err
	}
	if !facts.CanWriteInNamespace(ns.ID, ns.Public) {
		return nil, notFoundMasked(path, "write")
	}
	return ns, nil
}

// ListReadable returns all namespaces the actor can read in.
func (s *Service) ListReadable(ctx context.Context, facts *scope.Facts) ([]*Namespace, error) {
	query := `
		SELECT namespace_id, path, description, public, meta_id, created_at
		FROM namespaces
		ORDER BY path
	`
	rows, err := s.db.Pool().Query(ctx, query)
	if err != nil {
		return nil, apierror.FromStorage(err, "namespaces")
	}
	defer rows.Close()

	var out []*Namespace
	for rows.Next() {
		var ns Namespace
		if err := rows.Scan(
			&ns.ID, &ns.Path, &ns.Description, &ns.Public, &ns.MetaID, &ns.CreatedAt,
		); err != nil {
			return nil, apierror.FromStorage(err, "namespaces")
		}
		if facts.CanReadInNamespace(ns.ID, ns.Public) {
			out = append(out, &ns)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, apierror.FromStorage(err, "namespaces")
	}
	return out, nil
}

func notFoundMasked(path, mode string) error {
	return apierror.NotFound(
		"namespace %q not found, or you do not have sufficient permissions to %s data in this namespace",
		path, mode)
}
