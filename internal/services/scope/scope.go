// Package scope resolves a user's effective capabilities. A Facts value is an
// immutable snapshot of every grant the user holds, directly or through group
// membership, partitioned into three independent buckets: global,
// namespace-group, and namespace-specific. Every read and write path in the
// system is gated by predicates over one of these buckets.
package scope

import (
	"context"

	"github.com/geodepot/geodepot/internal/apierror"
	"github.com/geodepot/geodepot/pkg/database"
	"github.com/geodepot/geodepot/pkg/logger"
)

// Type is a named capability.
type Type string

const (
	NamespaceRead         Type = "namespace:read:*"
	NamespaceWrite        Type = "namespace:write:*"
	NamespaceWriteDerived Type = "namespace:write_derived:*"
	NamespaceCreate       Type = "namespace:create"
	LocalityRead          Type = "locality:read"
	LocalityWrite         Type = "locality:write"
	MetaRead              Type = "meta:read"
	MetaWrite             Type = "meta:write"

	// All is the wildcard: within whichever bucket it appears, it satisfies
	// any scope requirement.
	All Type = "all"
)

// NamespaceGroup is a coarse visibility bucket of namespaces.
type NamespaceGroup string

const (
	GroupPublic  NamespaceGroup = "public"
	GroupPrivate NamespaceGroup = "private"
	GroupAll     NamespaceGroup = "all"
)

// Grant is one scope row as stored. Exactly one of the following holds:
// NamespaceID set (namespace-specific), NamespaceGroup set (group-wide), or
// neither (global). NamespaceGroup "all" with no namespace also counts as
// global, matching how grants are interpreted at load time.
type Grant struct {
	Scope          Type
	NamespaceGroup *NamespaceGroup
	NamespaceID    *int64
}

type groupKey struct {
	scope Type
	group NamespaceGroup
}

type namespaceKey struct {
	scope Type
	nsID  int64
}

// Facts is an immutable per-request snapshot of a user's effective grants.
// Build one fresh for every authenticated request; never share or mutate.
type Facts struct {
	global          map[Type]struct{}
	namespaceGroups map[groupKey]struct{}
	namespaces      map[namespaceKey]struct{}
}

// NewFacts aggregates the user's own grants and all group-inherited grants
// into the three indexed buckets.
func NewFacts(grants []Grant) *Facts {
	f := &Facts{
		global:          make(map[Type]struct{}),
		namespaceGroups: make(map[groupKey]struct{}),
		namespaces:      make(map[namespaceKey]struct{}),
	}
	for _, g := range grants {
		switch {
		case g.NamespaceID != nil && g.NamespaceGroup == nil:
			f.namespaces[namespaceKey{g.Scope, *g.NamespaceID}] = struct{}{}
		case g.NamespaceID == nil && g.NamespaceGroup != nil:
			f.namespaceGroups[groupKey{g.Scope, *g.NamespaceGroup}] = struct{}{}
			if *g.NamespaceGroup == GroupAll {
				f.global[g.Scope] = struct{}{}
			}
		case g.NamespaceID == nil && g.NamespaceGroup == nil:
			f.global[g.Scope] = struct{}{}
		default:
			// Both discriminators set: malformed row, ignore it rather than
			// widen access.
		}
	}
	return f
}

// HasGlobal reports whether the global bucket contains scope or the wildcard.
func (f *Facts) HasGlobal(scope Type) bool {
	if _, ok := f.global[All]; ok {
		return true
	}
	_, ok := f.global[scope]
	return ok
}

// HasNamespaceGroup reports whether the namespace-group bucket satisfies
// scope for the given group, via the exact pair, the wildcard scope, the
// all-namespaces group, or both.
func (f *Facts) HasNamespaceGroup(scope Type, group NamespaceGroup) bool {
	candidates := []groupKey{
		{scope, group},
		{All, group},
		{scope, GroupAll},
		{All, GroupAll},
	}
	for _, k := range candidates {
		if _, ok := f.namespaceGroups[k]; ok {
			return true
		}
	}
	return false
}

// HasNamespace reports whether scope is satisfied in the given namespace:
// either through the namespace's visibility group, or through a
// namespace-specific grant (exact or wildcard).
func (f *Facts) HasNamespace(scope Type, namespaceID int64, public bool) bool {
	group := GroupPrivate
	if public {
		group = GroupPublic
	}
	if f.HasNamespaceGroup(scope, group) {
		return true
	}
	if _, ok := f.namespaces[namespaceKey{scope, namespaceID}]; ok {
		return true
	}
	_, ok := f.namespaces[namespaceKey{All, namespaceID}]
	return ok
}

// CanReadLocalities reports global locality read access.
func (f *Facts) CanReadLocalities() bool { return f.HasGlobal(LocalityRead) }

// CanWriteLocalities reports global locality write access.
func (f *Facts) CanWriteLocalities() bool { return f.HasGlobal(LocalityWrite) }

// CanReadMeta reports global metadata read access.
func (f *Facts) CanReadMeta() bool { return f.HasGlobal(MetaRead) }

// CanWriteMeta reports global metadata write access.
func (f *Facts) CanWriteMeta() bool { return f.HasGlobal(MetaWrite) }

// CanCreateNamespace reports the global namespace-creation capability.
func (f *Facts) CanCreateNamespace() bool { return f.HasGlobal(NamespaceCreate) }

// CanReadInNamespace reports read access within a namespace.
func (f *Facts) CanReadInNamespace(namespaceID int64, public bool) bool {
	return f.HasNamespace(NamespaceRead, namespaceID, public)
}

// CanWriteInNamespace reports write access within a namespace.
func (f *Facts) CanWriteInNamespace(namespaceID int64, public bool) bool {
	return f.HasNamespace(NamespaceWrite, namespaceID, public)
}

// CanWriteDerivedInNamespace reports derived-write access within a namespace.
// Base write implies derived write, so computed artifacts never need a
// second grant.
func (f *Facts) CanWriteDerivedInNamespace(namespaceID int64, public bool) bool {
	return f.HasNamespace(NamespaceWriteDerived, namespaceID, public) ||
		f.HasNamespace(NamespaceWrite, namespaceID, public)
}

// CanReadInPublicNamespaces reports read access to the public group.
func (f *Facts) CanReadInPublicNamespaces() bool {
	return f.HasNamespaceGroup(NamespaceRead, GroupPublic)
}

// Service loads scope grants from storage.
type Service struct {
	db     *database.PostgreSQL
	logger *logger.Logger
}

// NewService creates a new scope service
func NewService(db *database.PostgreSQL, logger *logger.Logger) *Service {
	return &Service{
		db:     db,
		logger: logger,
	}
}

// FactsForUser builds a fresh permission snapshot for a user from the user's
// own grants plus every grant of every group the user belongs to.
func (s *Service) FactsForUser(ctx context.Context, userID int64) (*Facts, error) {
	query := `
		SELECT scope, namespace_group, namespace_id
		FROM user_scopes
		WHERE user_id = $1
		UNION ALL
		SELECT gs.scope, gs.namespace_group, gs.namespace_id
		FROM user_group_scopes gs
		JOIN user_group_members gm ON gm.group_id = gs.group_id
		WHERE gm.user_id = $1
	`
	rows, err := s.db.Pool().Query(ctx, query, userID)
	if err != nil {
		s.logger.Errorf("Failed to load scope grants for user %d: %v", userID, err)
		return nil, apierror.FromStorage(err, "scope grants")
	}
	defer rows.Close()

	var grants []Grant
	for rows.Next() {
		var (
			g     Grant
			group *string
		)
		if err := rows.Scan(&g.Scope, &group, &g.NamespaceID); err != nil {
			return nil, apierror.FromStorage(err, "scope grants")
		}
		if group != nil {
			ng := NamespaceGroup(*group)
			g.NamespaceGroup = &ng
		}
		grants = append(grants, g)
	}
	if err := rows.Err(); err != nil {
		return nil, apierror.FromStorage(err, "scope grants")
	}

	return NewFacts(grants), nil
}

// Grant inserts a scope grant for a user.
func (s *Service) Grant(ctx context.Context, userID int64, g Grant, metaID int64) error {
	if g.NamespaceID != nil && g.NamespaceGroup != nil {
		return apierror.Unprocessable("a scope grant cannot name both a namespace and a namespace group")
	}
	query := `
		INSERT INTO user_scopes (user_id, scope, namespace_group, namespace_id, meta_id)
		VALUES ($1, $2, $3, $4, $5)
	`
	var group *string
	if g.NamespaceGroup != nil {
		v := string(*g.NamespaceGroup)
		group = &v
	}
	if _, err := s.db.Pool().Exec(ctx, query, userID, g.Scope, group, g.NamespaceID, metaID); err != nil {
		s.logger.Errorf("Failed to grant scope %s to user %d: %v", g.Scope, userID, err)
		return apierror.FromStorage(err, "scope grant")
	}
	return nil
}

// Revoke removes a scope grant from a user. Grants are never mutated in
// place; revocation is the only change after creation.
func (s *Service) Revoke(ctx context.Context, userID int64, g Grant) error {
	query := `
		DELETE FROM user_scopes
		WHERE user_id = $1 AND scope = $2
		  AND namespace_group IS NOT DISTINCT FROM $3
		  AND namespace_id IS NOT DISTINCT FROM $4
	`
	var group *string
	if g.NamespaceGroup != nil {
		v := string(*g.NamespaceGroup)
		group = &v
	}
	tag, err := s.db.Pool().Exec(ctx, query, userID, g.Scope, group, g.NamespaceID)
	if err != nil {
		return apierror.FromStorage(err, "scope grant")
	}
	if tag.RowsAffected() == 0 {
		return apierror.NotFound("scope grant not found")
	}
	return nil
}
