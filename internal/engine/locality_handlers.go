package engine

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/geodepot/geodepot/internal/services/locality"
)

// LocalityHandlers contains the locality endpoint handlers
type LocalityHandlers struct {
	engine *Engine
}

func NewLocalityHandlers(engine *Engine) *LocalityHandlers {
	return &LocalityHandlers{engine: engine}
}

// ListLocalities handles GET /api/v1/localities
func (lh *LocalityHandlers) ListLocalities(w http.ResponseWriter, r *http.Request) {
	lh.engine.TrackOperation()
	defer lh.engine.UntrackOperation()

	facts, ok := requestFacts(r)
	if !ok || !facts.CanReadLocalities() {
		writeErrorResponse(w, http.StatusForbidden, "reading localities requires the locality:read scope", "")
		return
	}
	if handleConditional(lh.engine.stamps, w, r, nil, locality.Table) {
		return
	}

	localities, err := lh.engine.localities.List(r.Context())
	if err != nil {
		writeAPIError(lh.engine, w, err)
		return
	}
	resp := make([]LocalityResponse, 0, len(localities))
	for _, loc := range localities {
		resp = append(resp, toLocalityResponse(loc))
	}
	writeJSONResponse(w, http.StatusOK, resp)
}

// CreateLocalities handles POST /api/v1/localities. The batch succeeds or
// fails as a whole.
func (lh *LocalityHandlers) CreateLocalities(w http.ResponseWriter, r *http.Request) {
	lh.engine.TrackOperation()
	defer lh.engine.UntrackOperation()

	facts, ok := requestFacts(r)
	if !ok || !facts.CanWriteLocalities() {
		writeErrorResponse(w, http.StatusForbidden, "writing localities requires the locality:write scope", "")
		return
	}

	var req CreateLocalitiesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "invalid request body", "")
		return
	}
	if len(req.Localities) == 0 {
		writeErrorResponse(w, http.StatusBadRequest, "localities is required", "")
		return
	}

	creates := make([]locality.Create, len(req.Localities))
	for i, l := range req.Localities {
		creates[i] = locality.Create{
			CanonicalPath: l.CanonicalPath,
			ParentPath:    l.ParentPath,
			Name:          l.Name,
			DefaultProj:   l.DefaultProj,
			Aliases:       l.Aliases,
		}
	}

	m, err := metaForWrite(lh.engine, r, req.Notes)
	if err != nil {
		writeAPIError(lh.engine, w, err)
		return
	}
	created, err := lh.engine.localities.CreateBulk(r.Context(), creates, m.ID)
	if err != nil {
		writeAPIError(lh.engine, w, err)
		return
	}

	resp := make([]LocalityResponse, 0, len(created))
	for _, loc := range created {
		resp = append(resp, toLocalityResponse(loc))
	}
	writeJSONResponse(w, http.StatusCreated, resp)
}

// ShowLocality handles GET /api/v1/localities/{ref}
func (lh *LocalityHandlers) ShowLocality(w http.ResponseWriter, r *http.Request) {
	lh.engine.TrackOperation()
	defer lh.engine.UntrackOperation()

	facts, ok := requestFacts(r)
	if !ok || !facts.CanReadLocalities() {
		writeErrorResponse(w, http.StatusForbidden, "reading localities requires the locality:read scope", "")
		return
	}

	loc, err := lh.engine.localities.Get(r.Context(), mux.Vars(r)["ref"])
	if err != nil {
		writeAPIError(lh.engine, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, toLocalityResponse(loc))
}

// ReparentLocality handles PUT /api/v1/localities/{ref}/parent. A null
// parent_path detaches the locality from the tree.
func (lh *LocalityHandlers) ReparentLocality(w http.ResponseWriter, r *http.Request) {
	lh.engine.TrackOperation()
	defer lh.engine.UntrackOperation()

	facts, ok := requestFacts(r)
	if !ok || !facts.CanWriteLocalities() {
		writeErrorResponse(w, http.StatusForbidden, "writing localities requires the locality:write scope", "")
		return
	}

	var req ReparentLocalityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "invalid request body", "")
		return
	}

	if err := lh.engine.localities.Reparent(r.Context(), mux.Vars(r)["ref"], req.ParentPath); err != nil {
		writeAPIError(lh.engine, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
