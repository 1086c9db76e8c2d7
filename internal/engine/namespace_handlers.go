package engine

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/geodepot/geodepot/internal/services/namespace"
)

// NamespaceHandlers contains the namespace endpoint handlers
type NamespaceHandlers struct {
	engine *Engine
}

func NewNamespaceHandlers(engine *Engine) *NamespaceHandlers {
	return &NamespaceHandlers{engine: engine}
}

// ListNamespaces handles GET /api/v1/namespaces. Only namespaces the caller
// can read appear in the listing.
func (nh *NamespaceHandlers) ListNamespaces(w http.ResponseWriter, r *http.Request) {
	nh.engine.TrackOperation()
	defer nh.engine.UntrackOperation()

	facts, ok := requestFacts(r)
	if !ok {
		writeErrorResponse(w, http.StatusInternalServerError, "facts not found in context", "")
		return
	}
	if handleConditional(nh.engine.stamps, w, r, nil, namespace.Table) {
		return
	}

	namespaces, err := nh.engine.namespaces.ListReadable(r.Context(), facts)
	if err != nil {
		writeAPIError(nh.engine, w, err)
		return
	}

	resp := make([]NamespaceResponse, 0, len(namespaces))
	for _, ns := range namespaces {
		resp = append(resp, toNamespaceResponse(ns))
	}
	writeJSONResponse(w, http.StatusOK, resp)
}

// CreateNamespace handles POST /api/v1/namespaces
func (nh *NamespaceHandlers) CreateNamespace(w http.ResponseWriter, r *http.Request) {
	nh.engine.TrackOperation()
	defer nh.engine.UntrackOperation()

	facts, ok := requestFacts(r)
	if !ok || !facts.CanCreateNamespace() {
		writeErrorResponse(w, http.StatusForbidden, "creating namespaces requires the namespace:create scope", "")
		return
	}

	var req CreateNamespaceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "invalid request body", "")
		return
	}
	if req.Path == "" {
		writeErrorResponse(w, http.StatusBadRequest, "path is required", "")
		return
	}

	m, err := metaForWrite(nh.engine, r, req.Notes)
	if err != nil {
		writeAPIError(nh.engine, w, err)
		return
	}
	ns, err := nh.engine.namespaces.Create(r.Context(), req.Path, req.Description, req.Public, m.ID)
	if err != nil {
		writeAPIError(nh.engine, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, toNamespaceResponse(ns))
}

// ShowNamespace handles GET /api/v1/namespaces/{namespace}
func (nh *NamespaceHandlers) ShowNamespace(w http.ResponseWriter, r *http.Request) {
	nh.engine.TrackOperation()
	defer nh.engine.UntrackOperation()

	facts, ok := requestFacts(r)
	if !ok {
		writeErrorResponse(w, http.StatusInternalServerError, "facts not found in context", "")
		return
	}

	ns, err := nh.engine.namespaces.GetReadable(r.Context(), mux.Vars(r)["namespace"], facts)
	if err != nil {
		writeAPIError(nh.engine, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, toNamespaceResponse(ns))
}
