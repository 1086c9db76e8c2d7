package engine

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/geodepot/geodepot/internal/services/scope"
)

// UserHandlers contains the user, API key, and scope grant endpoint handlers
type UserHandlers struct {
	engine *Engine
}

func NewUserHandlers(engine *Engine) *UserHandlers {
	return &UserHandlers{engine: engine}
}

// CreateUser handles POST /api/v1/users. Admin only.
func (uh *UserHandlers) CreateUser(w http.ResponseWriter, r *http.Request) {
	uh.engine.TrackOperation()
	defer uh.engine.UntrackOperation()

	facts, ok := requestFacts(r)
	if !ok || !facts.HasGlobal(scope.All) {
		writeErrorResponse(w, http.StatusForbidden, "creating users requires admin access", "")
		return
	}

	var req CreateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "invalid request body", "")
		return
	}
	if req.Name == "" || req.Email == "" {
		writeErrorResponse(w, http.StatusBadRequest, "name and email are required", "")
		return
	}

	u, err := uh.engine.users.Create(r.Context(), req.Name, req.Email)
	if err != nil {
		writeAPIError(uh.engine, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, toUserResponse(u))
}

// CreateAPIKey handles POST /api/v1/api-keys. The key is returned once and
// never stored in presentable form.
func (uh *UserHandlers) CreateAPIKey(w http.ResponseWriter, r *http.Request) {
	uh.engine.TrackOperation()
	defer uh.engine.UntrackOperation()

	u, ok := requestUser(r)
	if !ok {
		writeErrorResponse(w, http.StatusInternalServerError, "user not found in context", "")
		return
	}

	key, err := uh.engine.users.CreateAPIKey(r.Context(), u.ID)
	if err != nil {
		writeAPIError(uh.engine, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, APIKeyResponse{Key: key})
}

// DeactivateAPIKey handles DELETE /api/v1/api-keys. The key to revoke is
// presented in the X-Revoke-Key header; revocation is permanent.
func (uh *UserHandlers) DeactivateAPIKey(w http.ResponseWriter, r *http.Request) {
	uh.engine.TrackOperation()
	defer uh.engine.UntrackOperation()

	key := r.Header.Get("X-Revoke-Key")
	if key == "" {
		writeErrorResponse(w, http.StatusBadRequest, "the X-Revoke-Key header is required", "")
		return
	}

	if err := uh.engine.users.DeactivateAPIKey(r.Context(), key); err != nil {
		writeAPIError(uh.engine, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GrantScope handles POST /api/v1/users/{user_id}/scopes. Admin only.
func (uh *UserHandlers) GrantScope(w http.ResponseWriter, r *http.Request) {
	uh.engine.TrackOperation()
	defer uh.engine.UntrackOperation()

	facts, ok := requestFacts(r)
	if !ok || !facts.HasGlobal(scope.All) {
		writeErrorResponse(w, http.StatusForbidden, "granting scopes requires admin access", "")
		return
	}

	userID, err := strconv.ParseInt(mux.Vars(r)["user_id"], 10, 64)
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "user_id must be an integer", "")
		return
	}
	var req GrantScopeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "invalid request body", "")
		return
	}

	grant, err := uh.resolveGrant(r, req)
	if err != nil {
		writeAPIError(uh.engine, w, err)
		return
	}

	u, ok := requestUser(r)
	if !ok {
		writeErrorResponse(w, http.StatusInternalServerError, "user not found in context", "")
		return
	}
	m, err := uh.engine.metas.Create(r.Context(), req.Notes, u.ID)
	if err != nil {
		writeAPIError(uh.engine, w, err)
		return
	}
	if err := uh.engine.scopes.Grant(r.Context(), userID, grant, m.ID); err != nil {
		writeAPIError(uh.engine, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RevokeScope handles DELETE /api/v1/users/{user_id}/scopes. Admin only.
func (uh *UserHandlers) RevokeScope(w http.ResponseWriter, r *http.Request) {
	uh.engine.TrackOperation()
	defer uh.engine.UntrackOperation()

	facts, ok := requestFacts(r)
	if !ok || !facts.HasGlobal(scope.All) {
		writeErrorResponse(w, http.StatusForbidden, "revoking scopes requires admin access", "")
		return
	}

	userID, err := strconv.ParseInt(mux.Vars(r)["user_id"], 10, 64)
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "user_id must be an integer", "")
		return
	}
	var req GrantScopeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "invalid request body", "")
		return
	}

	grant, err := uh.resolveGrant(r, req)
	if err != nil {
		writeAPIError(uh.engine, w, err)
		return
	}
	if err := uh.engine.scopes.Revoke(r.Context(), userID, grant); err != nil {
		writeAPIError(uh.engine, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// resolveGrant translates the request's namespace path or group name into a
// grant. The scope service rejects grants with both axes set.
func (uh *UserHandlers) resolveGrant(r *http.Request, req GrantScopeRequest) (scope.Grant, error) {
	grant := scope.Grant{Scope: scope.Type(req.Scope)}
	if req.NamespaceGroup != nil {
		group := scope.NamespaceGroup(*req.NamespaceGroup)
		grant.NamespaceGroup = &group
	}
	if req.Namespace != nil {
		ns, err := uh.engine.namespaces.Get(r.Context(), *req.Namespace)
		if err != nil {
			return scope.Grant{}, err
		}
		grant.NamespaceID = &ns.ID
	}
	return grant, nil
}
