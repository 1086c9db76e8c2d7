package meta

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/geodepot/geodepot/internal/apierror"
	"github.com/geodepot/geodepot/pkg/database"
	"github.com/geodepot/geodepot/pkg/logger"
)

// Service handles object metadata operations. Every created object in the
// system references one ObjectMeta row recording who created it and why.
type Service struct {
	db     *database.PostgreSQL
	logger *logger.Logger
}

// NewService creates a new meta service
func NewService(db *database.PostgreSQL, logger *logger.Logger) *Service {
	return &Service{
		db:     db,
		logger: logger,
	}
}

// ObjectMeta is an audit record attached to created objects.
type ObjectMeta struct {
	ID        int64
	UUID      uuid.UUID
	Notes     string
	CreatedAt time.Time
	CreatedBy int64
}

// Create inserts a new metadata row owned by the given user.
func (s *Service) Create(ctx context.Context, notes string, userID int64) (*ObjectMeta, error) {
	query := `
		INSERT INTO object_meta (uuid, notes, created_by)
		VALUES ($1, $2, $3)
		RETURNING meta_id, uuid, notes, created_at, created_by
	`
	var m ObjectMeta
	err := s.db.Pool().QueryRow(ctx, query, uuid.New(), notes, userID).Scan(
		&m.ID, &m.UUID, &m.Notes, &m.CreatedAt, &m.CreatedBy,
	)
	if err != nil {
		s.logger.Errorf("Failed to create object metadata: %v", err)
		return nil, apierror.FromStorage(err, "object metadata")
	}
	return &m, nil
}

// GetByUUID retrieves a metadata row by its public UUID.
func (s *Service) GetByUUID(ctx context.Context, id uuid.UUID) (*ObjectMeta, error) {
	query := `
		SELECT meta_id, uuid, notes, created_at, created_by
		FROM object_meta
		WHERE uuid = $1
	`
	var m ObjectMeta
	err := s.db.Pool().QueryRow(ctx, query, id).Scan(
		&m.ID, &m.UUID, &m.Notes, &m.CreatedAt, &m.CreatedBy,
	)
	if err != nil {
		return nil, apierror.FromStorage(err, "object metadata")
	}
	return &m, nil
}

// ForRequest resolves the metadata row a mutating request references and
// verifies it belongs to the acting user. Metadata created by another user
// cannot be attached to new objects.
func (s *Service) ForRequest(ctx context.Context, id uuid.UUID, userID int64) (*ObjectMeta, error) {
	m, err := s.GetByUUID(ctx, id)
	if err != nil {
		if apierror.IsKind(err, apierror.KindNotFound) {
			return nil, apierror.Unprocessable("metadata object %s could not be found", id)
		}
		return nil, err
	}
	if m.CreatedBy != userID {
		return nil, apierror.PermissionDenied("cannot use a metadata object created by another user")
	}
	return m, nil
}
