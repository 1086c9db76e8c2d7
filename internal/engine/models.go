package engine

import (
	"encoding/hex"
	"time"

	"github.com/geodepot/geodepot/internal/services/fork"
	"github.com/geodepot/geodepot/internal/services/geography"
	"github.com/geodepot/geodepot/internal/services/layer"
	"github.com/geodepot/geodepot/internal/services/locality"
	"github.com/geodepot/geodepot/internal/services/namespace"
	"github.com/geodepot/geodepot/internal/services/user"
)

// REST API models. Geometry payloads are raw WKB and travel base64-encoded
// in JSON.

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type SessionRequest struct {
	APIKey string `json:"api_key"`
}

type SessionResponse struct {
	Token string       `json:"token"`
	User  UserResponse `json:"user"`
}

type UserResponse struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}

func toUserResponse(u *user.User) UserResponse {
	return UserResponse{ID: u.ID, Name: u.Name, Email: u.Email, CreatedAt: u.CreatedAt}
}

type CreateUserRequest struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

type APIKeyResponse struct {
	Key string `json:"key"`
}

type GrantScopeRequest struct {
	Scope          string  `json:"scope"`
	NamespaceGroup *string `json:"namespace_group,omitempty"`
	Namespace      *string `json:"namespace,omitempty"`
	Notes          string  `json:"notes,omitempty"`
}

type CreateNamespaceRequest struct {
	Path        string `json:"path"`
	Description string `json:"description,omitempty"`
	Public      bool   `json:"public"`
	Notes       string `json:"notes,omitempty"`
}

type NamespaceResponse struct {
	Path        string    `json:"path"`
	Description string    `json:"description"`
	Public      bool      `json:"public"`
	CreatedAt   time.Time `json:"created_at"`
}

func toNamespaceResponse(ns *namespace.Namespace) NamespaceResponse {
	return NamespaceResponse{
		Path:        ns.Path,
		Description: ns.Description,
		Public:      ns.Public,
		CreatedAt:   ns.CreatedAt,
	}
}

type CreateLocalityRequest struct {
	CanonicalPath string   `json:"canonical_path"`
	Name          string   `json:"name"`
	ParentPath    *string  `json:"parent_path,omitempty"`
	DefaultProj   *string  `json:"default_proj,omitempty"`
	Aliases       []string `json:"aliases,omitempty"`
}

type CreateLocalitiesRequest struct {
	Localities []CreateLocalityRequest `json:"localities"`
	Notes      string                  `json:"notes,omitempty"`
}

type ReparentLocalityRequest struct {
	ParentPath *string `json:"parent_path"`
}

type LocalityResponse struct {
	CanonicalPath string  `json:"canonical_path"`
	Name          string  `json:"name"`
	DefaultProj   *string `json:"default_proj,omitempty"`
}

func toLocalityResponse(loc *locality.Locality) LocalityResponse {
	return LocalityResponse{
		CanonicalPath: loc.CanonicalRef,
		Name:          loc.Name,
		DefaultProj:   loc.DefaultProj,
	}
}

type CreateLayerRequest struct {
	Path        string  `json:"path"`
	Description string  `json:"description,omitempty"`
	SourceURL   *string `json:"source_url,omitempty"`
	Notes       string  `json:"notes,omitempty"`
}

type LayerResponse struct {
	Path        string  `json:"path"`
	Namespace   string  `json:"namespace"`
	Description string  `json:"description"`
	SourceURL   *string `json:"source_url,omitempty"`
}

func toLayerResponse(l *layer.GeoLayer, nsPath string) LayerResponse {
	return LayerResponse{
		Path:        l.Path,
		Namespace:   nsPath,
		Description: l.Description,
		SourceURL:   l.SourceURL,
	}
}

type GeographyPayload struct {
	Path          string `json:"path"`
	Geometry      []byte `json:"geometry,omitempty"`
	InternalPoint []byte `json:"internal_point,omitempty"`
}

type ImportGeographiesRequest struct {
	Geographies []GeographyPayload `json:"geographies"`
	Notes       string             `json:"notes,omitempty"`
}

type GeographyResponse struct {
	Path        string     `json:"path"`
	Namespace   string     `json:"namespace,omitempty"`
	ValidFrom   time.Time  `json:"valid_from"`
	ValidTo     *time.Time `json:"valid_to,omitempty"`
	ContentHash string     `json:"content_hash"`
	Geometry    []byte     `json:"geometry,omitempty"`
}

func toGeographyResponse(v *geography.Versioned, nsPath string) GeographyResponse {
	return GeographyResponse{
		Path:        v.Geography.Path,
		Namespace:   nsPath,
		ValidFrom:   v.Version.ValidFrom,
		ValidTo:     v.Version.ValidTo,
		ContentHash: hex.EncodeToString(v.Version.ContentHash),
	}
}

type MapLocalityRequest struct {
	Paths []string `json:"paths"`
	Notes string   `json:"notes,omitempty"`
}

type SetVersionResponse struct {
	Layer     string    `json:"layer"`
	Locality  string    `json:"locality"`
	CreatedAt time.Time `json:"created_at"`
	Members   int       `json:"members"`
}

type PathHashResponse struct {
	Path        string `json:"path"`
	ContentHash string `json:"content_hash"`
}

type ForkRequest struct {
	SourceNamespace      string     `json:"source_namespace"`
	TargetNamespace      string     `json:"target_namespace"`
	SourceLayer          string     `json:"source_layer"`
	TargetLayer          string     `json:"target_layer"`
	Locality             string     `json:"locality"`
	AsOf                 *time.Time `json:"as_of,omitempty"`
	AllowEmptyPolys      bool       `json:"allow_empty_polys,omitempty"`
	AllowExtraSourceGeos bool       `json:"allow_extra_source_geos,omitempty"`
	Notes                string     `json:"notes,omitempty"`
}

// ForkCheckResponse describes what a fork of the same request would do,
// without doing it.
type ForkCheckResponse struct {
	Forkable   bool      `json:"forkable"`
	AsOf       time.Time `json:"as_of"`
	Common     int       `json:"common"`
	SourceOnly []string  `json:"source_only"`
}

func toForkCheckResponse(plan *fork.Plan) ForkCheckResponse {
	resp := ForkCheckResponse{
		Forkable:   true,
		AsOf:       plan.AsOf,
		Common:     len(plan.Diff.Common),
		SourceOnly: make([]string, 0, len(plan.Diff.SourceOnly)),
	}
	for _, ph := range plan.Diff.SourceOnly {
		resp.SourceOnly = append(resp.SourceOnly, ph.Path)
	}
	return resp
}

type ForkResponse struct {
	Created    []GeographyResponse `json:"created"`
	Common     int                 `json:"common"`
	SourceOnly int                 `json:"source_only"`
}

func toForkResponse(plan *fork.Plan, created []*geography.Versioned) ForkResponse {
	resp := ForkResponse{
		Created:    make([]GeographyResponse, 0, len(created)),
		Common:     len(plan.Diff.Common),
		SourceOnly: len(plan.Diff.SourceOnly),
	}
	for _, v := range created {
		resp.Created = append(resp.Created, toGeographyResponse(v, plan.TargetNamespace.Path))
	}
	return resp
}

type CreateMetaRequest struct {
	Notes string `json:"notes"`
}

type MetaResponse struct {
	UUID      string    `json:"uuid"`
	Notes     string    `json:"notes"`
	CreatedAt time.Time `json:"created_at"`
	CreatedBy int64     `json:"created_by"`
}

type LogEntryResponse struct {
	Time    time.Time `json:"time"`
	Level   string    `json:"level"`
	Message string    `json:"message"`
}

type MetricsResponse struct {
	RequestsProcessed int64 `json:"requests_processed"`
	Errors            int64 `json:"errors"`
}

type HealthResponse struct {
	Status      string            `json:"status"`
	Checks      map[string]string `json:"checks,omitempty"`
	LastHealthy *time.Time        `json:"last_healthy,omitempty"`
}
