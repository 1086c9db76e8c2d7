package user

import (
	"context"
	"crypto/rand"
	"crypto/sha512"
	"encoding/hex"
	"regexp"
	"strings"
	"time"

	"github.com/geodepot/geodepot/internal/apierror"
	"github.com/geodepot/geodepot/pkg/database"
	"github.com/geodepot/geodepot/pkg/logger"
)

// Service handles user, group, and API key operations
type Service struct {
	db     *database.PostgreSQL
	logger *logger.Logger
}

// NewService creates a new user service
func NewService(db *database.PostgreSQL, logger *logger.Logger) *Service {
	return &Service{
		db:     db,
		logger: logger,
	}
}

// User represents a registered user
type User struct {
	ID        int64
	Name      string
	Email     string
	CreatedAt time.Time
}

// Group represents a user group whose scope grants members inherit
type Group struct {
	ID          int64
	Name        string
	Description string
	MetaID      int64
}

// apiKeyPattern matches the presented form of an API key: 64 lowercase hex
// characters (256 bits).
var apiKeyPattern = regexp.MustCompile(`^[0-9a-f]{64}$`)

// Create inserts a new user.
func (s *Service) Create(ctx context.Context, name, email string) (*User, error) {
	query := `
		INSERT INTO users (name, email)
		VALUES ($1, $2)
		RETURNING user_id, name, email, created_at
	`
	var u User
	err := s.db.Pool().QueryRow(ctx, query, name, strings.ToLower(email)).Scan(
		&u.ID, &u.Name, &u.Email, &u.CreatedAt,
	)
	if err != nil {
		s.logger.Errorf("Failed to create user %s: %v", email, err)
		return nil, apierror.FromStorage(err, "user")
	}
	return &u, nil
}

// GetByEmail retrieves a user by email address.
func (s *Service) GetByEmail(ctx context.Context, email string) (*User, error) {
	query := `
		SELECT user_id, name, email, created_at
		FROM users
		WHERE email = $1
	`
	var u User
	err := s.db.Pool().QueryRow(ctx, query, strings.ToLower(email)).Scan(
		&u.ID, &u.Name, &u.Email, &u.CreatedAt,
	)
	if err != nil {
		return nil, apierror.FromStorage(err, "user")
	}
	return &u, nil
}

// SetPasswordHash stores a password digest for a user. Only bootstrap
// accounts carry passwords; regular access goes through API keys.
func (s *Service) SetPasswordHash(ctx context.Context, userID int64, hash []byte) error {
	query := `UPDATE users SET password_hash = $2 WHERE user_id = $1`
	tag, err := s.db.Pool().Exec(ctx, query, userID, hash)
	if err != nil {
		return apierror.FromStorage(err, "user")
	}
	if tag.RowsAffected() == 0 {
		return apierror.NotFound("user %d not found", userID)
	}
	return nil
}

// GetPasswordHash retrieves a user and their password digest by email. The
// digest is nil for accounts without a password.
func (s *Service) GetPasswordHash(ctx context.Context, email string) (*User, []byte, error) {
	query := `
		SELECT user_id, name, email, created_at, password_hash
		FROM users
		WHERE email = $1
	`
	var u User
	var hash []byte
	err := s.db.Pool().QueryRow(ctx, query, strings.ToLower(email)).Scan(
		&u.ID, &u.Name, &u.Email, &u.CreatedAt, &hash,
	)
	if err != nil {
		return nil, nil, apierror.FromStorage(err, "user")
	}
	return &u, hash, nil
}

// Get retrieves a user by id.
func (s *Service) Get(ctx context.Context, id int64) (*User, error) {
	query := `
		SELECT user_id, name, email, created_at
		FROM users
		WHERE user_id = $1
	`
	var u User
	err := s.db.Pool().QueryRow(ctx, query, id).Scan(
		&u.ID, &u.Name, &u.Email, &u.CreatedAt,
	)
	if err != nil {
		return nil, apierror.FromStorage(err, "user")
	}
	return &u, nil
}

// CreateGroup inserts a new user group.
func (s *Service) CreateGroup(ctx context.Context, name, description string, metaID int64) (*Group, error) {
	query := `
		INSERT INTO user_groups (name, description, meta_id)
		VALUES ($1, $2, $3)
		RETURNING group_id, name, description, meta_id
	`
	var g Group
	err := s.db.Pool().QueryRow(ctx, query, name, description, metaID).Scan(
		&g.ID, &g.Name, &g.Description, &g.MetaID,
	)
	if err != nil {
		s.logger.Errorf("Failed to create group %s: %v", name, err)
		return nil, apierror.FromStorage(err, "user group")
	}
	return &g, nil
}

// AddMember adds a user to a group.
func (s *Service) AddMember(ctx context.Context, groupID, userID, metaID int64) error {
	query := `
		INSERT INTO user_group_members (user_id, group_id, meta_id)
		VALUES ($1, $2, $3)
	`
	if _, err := s.db.Pool().Exec(ctx, query, userID, groupID, metaID); err != nil {
		s.logger.Errorf("Failed to add user %d to group %d: %v", userID, groupID, err)
		return apierror.FromStorage(err, "group membership")
	}
	return nil
}

// CreateAPIKey generates a new API key for a user, stores its sha512 digest,
// and returns the raw key. The raw key is not recoverable afterwards.
func (s *Service) CreateAPIKey(ctx context.Context, userID int64) (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", apierror.Internal(err, "failed to generate API key")
	}
	key := hex.EncodeToString(raw)
	digest := sha512.Sum512([]byte(key))

	query := `
		INSERT INTO api_keys (key_hash, user_id, active)
		VALUES ($1, $2, TRUE)
	`
	if _, err := s.db.Pool().Exec(ctx, query, digest[:], userID); err != nil {
		s.logger.Errorf("Failed to store API key for user %d: %v", userID, err)
		return "", apierror.FromStorage(err, "API key")
	}
	return key, nil
}

// DeactivateAPIKey marks an API key inactive by its raw value.
func (s *Service) DeactivateAPIKey(ctx context.Context, rawKey string) error {
	digest, err := digestOf(rawKey)
	if err != nil {
		return err
	}
	tag, err := s.db.Pool().Exec(ctx,
		`UPDATE api_keys SET active = FALSE WHERE key_hash = $1`, digest)
	if err != nil {
		return apierror.FromStorage(err, "API key")
	}
	if tag.RowsAffected() == 0 {
		return apierror.NotFound("API key not found")
	}
	return nil
}

// AuthenticateAPIKey resolves the user owning an active API key. The key is
// located by the deterministic sha512 digest of its presented form.
func (s *Service) AuthenticateAPIKey(ctx context.Context, rawKey string) (*User, error) {
	digest, err := digestOf(rawKey)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT u.user_id, u.name, u.email, u.created_at, k.active
		FROM api_keys k
		JOIN users u ON u.user_id = k.user_id
		WHERE k.key_hash = $1
	`
	var (
		u      User
		active bool
	)
	if err := s.db.Pool().QueryRow(ctx, query, digest).Scan(
		&u.ID, &u.Name, &u.Email, &u.CreatedAt, &active,
	); err != nil {
		if apierror.IsKind(apierror.FromStorage(err, "API key"), apierror.KindNotFound) {
			return nil, apierror.PermissionDenied("unknown API key")
		}
		return nil, apierror.FromStorage(err, "API key")
	}
	if !active {
		return nil, apierror.PermissionDenied("API key is not active")
	}
	return &u, nil
}

func digestOf(rawKey string) ([]byte, error) {
	key := strings.ToLower(strings.TrimSpace(rawKey))
	if !apiKeyPattern.MatchString(key) {
		return nil, apierror.Unprocessable("invalid API key format")
	}
	digest := sha512.Sum512([]byte(key))
	return digest[:], nil
}
