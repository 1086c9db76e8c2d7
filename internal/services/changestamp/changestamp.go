// Package changestamp tracks an opaque token per (namespace, resource table)
// that is regenerated on every mutation. Collaborators use the token for
// conditional-read short-circuiting; it has no bearing on write correctness.
package changestamp

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/geodepot/geodepot/internal/apierror"
	"github.com/geodepot/geodepot/pkg/database"
	"github.com/geodepot/geodepot/pkg/logger"
)

// Execer is the slice of pgx shared by pools and transactions, so a stamp can
// be bumped inside the same transaction as the mutation it records.
type Execer interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

// RowQuerier is the single-row read slice of pgx, for stamp reads that must
// observe the caller's transaction.
type RowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// cacheTTL bounds staleness if an invalidation is lost; the database row is
// always authoritative.
const cacheTTL = 5 * time.Minute

// Service tracks change stamps, optionally caching reads in redis.
type Service struct {
	db     *database.PostgreSQL
	cache  *database.Redis
	logger *logger.Logger
}

// NewService creates a new changestamp service. The cache may be nil.
func NewService(db *database.PostgreSQL, cache *database.Redis, logger *logger.Logger) *Service {
	return &Service{
		db:     db,
		cache:  cache,
		logger: logger,
	}
}

// Touch regenerates the stamp for (namespaceID, table) using the pool.
// A nil namespaceID addresses a global (non-namespaced) collection.
func (s *Service) Touch(ctx context.Context, namespaceID *int64, table string) (uuid.UUID, error) {
	token, err := s.TouchTx(ctx, s.db.Pool(), namespaceID, table)
	if err != nil {
		return uuid.Nil, err
	}
	s.Invalidate(ctx, namespaceID, table)
	return token, nil
}

// TouchTx regenerates the stamp within the caller's transaction. The token is
// replaced, never incremented. The cache is deliberately left alone here:
// until the transaction commits, the old token is still the correct one, and
// evicting early would let a concurrent read re-fill the cache with it right
// as the new token lands. Callers invalidate after commit.
func (s *Service) TouchTx(ctx context.Context, q Execer, namespaceID *int64, table string) (uuid.UUID, error) {
	token := uuid.New()
	query := `
		INSERT INTO change_stamps (resource_table, namespace_id, token)
		VALUES ($1, $2, $3)
		ON CONFLICT (resource_table, namespace_id)
		DO UPDATE SET token = EXCLUDED.token
	`
	if _, err := q.Exec(ctx, query, table, namespaceID, token); err != nil {
		return uuid.Nil, apierror.FromStorage(err, "change stamp")
	}
	return token, nil
}

// Invalidate drops the cached stamp for (namespaceID, table). Call it once
// the transaction that touched the stamp has committed. Best effort: a lost
// eviction is bounded by cacheTTL.
func (s *Service) Invalidate(ctx context.Context, namespaceID *int64, table string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, cacheKey(namespaceID, table)); err != nil {
		s.logger.Warnf("Failed to invalidate change stamp cache for %s: %v", table, err)
	}
}

// Read returns the current stamp for (namespaceID, table), or nil if the
// collection has never been touched.
func (s *Service) Read(ctx context.Context, namespaceID *int64, table string) (*uuid.UUID, error) {
	if s.cache != nil {
		if cached, err := s.cache.Get(ctx, cacheKey(namespaceID, table)); err == nil && cached != "" {
			if token, parseErr := uuid.Parse(cached); parseErr == nil {
				return &token, nil
			}
		}
	}

	query := `
		SELECT token
		FROM change_stamps
		WHERE resource_table = $1 AND namespace_id IS NOT DISTINCT FROM $2
	`
	var token uuid.UUID
	err := s.db.Pool().QueryRow(ctx, query, table, namespaceID).Scan(&token)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, apierror.FromStorage(err, "change stamp")
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, cacheKey(namespaceID, table), token.String(), cacheTTL); err != nil {
			s.logger.Warnf("Failed to cache change stamp for %s: %v", table, err)
		}
	}
	return &token, nil
}

// ReadTx reads the stamp within the caller's transaction, skipping the cache
// so the value reflects the transaction's snapshot.
func (s *Service) ReadTx(ctx context.Context, q RowQuerier, namespaceID *int64, table string) (*uuid.UUID, error) {
	query := `
		SELECT token
		FROM change_stamps
		WHERE resource_table = $1 AND namespace_id IS NOT DISTINCT FROM $2
	`
	var token uuid.UUID
	err := q.QueryRow(ctx, query, table, namespaceID).Scan(&token)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, apierror.FromStorage(err, "change stamp")
	}
	return &token, nil
}

func cacheKey(namespaceID *int64, table string) string {
	if namespaceID == nil {
		return fmt.Sprintf("changestamp:global:%s", table)
	}
	return fmt.Sprintf("changestamp:%d:%s", *namespaceID, table)
}
