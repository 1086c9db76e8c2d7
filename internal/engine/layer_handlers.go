package engine

import (
	"encoding/hex"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/geodepot/geodepot/internal/services/layer"
)

// LayerHandlers contains the layer and set mapping endpoint handlers
type LayerHandlers struct {
	engine *Engine
}

func NewLayerHandlers(engine *Engine) *LayerHandlers {
	return &LayerHandlers{engine: engine}
}

// ListLayers handles GET /api/v1/layers/{namespace}
func (lh *LayerHandlers) ListLayers(w http.ResponseWriter, r *http.Request) {
	lh.engine.TrackOperation()
	defer lh.engine.UntrackOperation()

	facts, ok := requestFacts(r)
	if !ok {
		writeErrorResponse(w, http.StatusInternalServerError, "facts not found in context", "")
		return
	}
	ns, err := lh.engine.namespaces.GetReadable(r.Context(), mux.Vars(r)["namespace"], facts)
	if err != nil {
		writeAPIError(lh.engine, w, err)
		return
	}
	if handleConditional(lh.engine.stamps, w, r, &ns.ID, layer.Table) {
		return
	}

	layers, err := lh.engine.layers.List(r.Context(), ns.ID)
	if err != nil {
		writeAPIError(lh.engine, w, err)
		return
	}
	resp := make([]LayerResponse, 0, len(layers))
	for _, l := range layers {
		resp = append(resp, toLayerResponse(l, ns.Path))
	}
	writeJSONResponse(w, http.StatusOK, resp)
}

// CreateLayer handles POST /api/v1/layers/{namespace}
func (lh *LayerHandlers) CreateLayer(w http.ResponseWriter, r *http.Request) {
	lh.engine.TrackOperation()
	defer lh.engine.UntrackOperation()

	facts, ok := requestFacts(r)
	if !ok {
		writeErrorResponse(w, http.StatusInternalServerError, "facts not found in context", "")
		return
	}
	ns, err := lh.engine.namespaces.GetWritable(r.Context(), mux.Vars(r)["namespace"], facts)
	if err != nil {
		writeAPIError(lh.engine, w, err)
		return
	}

	var req CreateLayerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "invalid request body", "")
		return
	}
	if req.Path == "" {
		writeErrorResponse(w, http.StatusBadRequest, "path is required", "")
		return
	}

	m, err := metaForWrite(lh.engine, r, req.Notes)
	if err != nil {
		writeAPIError(lh.engine, w, err)
		return
	}
	l, err := lh.engine.layers.Create(r.Context(), ns.ID, req.Path, req.Description, req.SourceURL, m.ID)
	if err != nil {
		writeAPIError(lh.engine, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, toLayerResponse(l, ns.Path))
}

// ShowLayer handles GET /api/v1/layers/{namespace}/{layer}
func (lh *LayerHandlers) ShowLayer(w http.ResponseWriter, r *http.Request) {
	lh.engine.TrackOperation()
	defer lh.engine.UntrackOperation()

	facts, ok := requestFacts(r)
	if !ok {
		writeErrorResponse(w, http.StatusInternalServerError, "facts not found in context", "")
		return
	}
	vars := mux.Vars(r)
	ns, err := lh.engine.namespaces.GetReadable(r.Context(), vars["namespace"], facts)
	if err != nil {
		writeAPIError(lh.engine, w, err)
		return
	}
	l, err := lh.engine.layers.Get(r.Context(), ns.ID, vars["layer"])
	if err != nil {
		writeAPIError(lh.engine, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, toLayerResponse(l, ns.Path))
}

// MapLocality handles PUT /api/v1/layers/{namespace}/{layer}/localities/{locality}.
// It cuts a new set-version snapshot binding the named geographies to the
// (layer, locality) pair.
func (lh *LayerHandlers) MapLocality(w http.ResponseWriter, r *http.Request) {
	lh.engine.TrackOperation()
	defer lh.engine.UntrackOperation()

	facts, ok := requestFacts(r)
	if !ok {
		writeErrorResponse(w, http.StatusInternalServerError, "facts not found in context", "")
		return
	}
	vars := mux.Vars(r)
	ns, err := lh.engine.namespaces.GetWritable(r.Context(), vars["namespace"], facts)
	if err != nil {
		writeAPIError(lh.engine, w, err)
		return
	}
	l, err := lh.engine.layers.Get(r.Context(), ns.ID, vars["layer"])
	if err != nil {
		writeAPIError(lh.engine, w, err)
		return
	}
	loc, err := lh.engine.localities.Get(r.Context(), vars["locality"])
	if err != nil {
		writeAPIError(lh.engine, w, err)
		return
	}

	var req MapLocalityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "invalid request body", "")
		return
	}
	if len(req.Paths) == 0 {
		writeErrorResponse(w, http.StatusBadRequest, "paths is required", "")
		return
	}

	geoIDs := make([]int64, len(req.Paths))
	for i, path := range req.Paths {
		g, err := lh.engine.geographies.Get(r.Context(), ns.ID, path)
		if err != nil {
			writeAPIError(lh.engine, w, err)
			return
		}
		geoIDs[i] = g.ID
	}

	m, err := metaForWrite(lh.engine, r, req.Notes)
	if err != nil {
		writeAPIError(lh.engine, w, err)
		return
	}
	sv, err := lh.engine.layers.MapLocality(r.Context(), l, loc.ID, geoIDs, m.ID)
	if err != nil {
		writeAPIError(lh.engine, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, SetVersionResponse{
		Layer:     l.Path,
		Locality:  loc.CanonicalRef,
		CreatedAt: sv.CreatedAt,
		Members:   len(geoIDs),
	})
}

// ListMembers handles GET /api/v1/layers/{namespace}/{layer}/localities/{locality}.
// It returns the path and content hash of each member as of the optional
// ?at= instant (RFC 3339), defaulting to now.
func (lh *LayerHandlers) ListMembers(w http.ResponseWriter, r *http.Request) {
	lh.engine.TrackOperation()
	defer lh.engine.UntrackOperation()

	facts, ok := requestFacts(r)
	if !ok {
		writeErrorResponse(w, http.StatusInternalServerError, "facts not found in context", "")
		return
	}
	vars := mux.Vars(r)
	ns, err := lh.engine.namespaces.GetReadable(r.Context(), vars["namespace"], facts)
	if err != nil {
		writeAPIError(lh.engine, w, err)
		return
	}
	l, err := lh.engine.layers.Get(r.Context(), ns.ID, vars["layer"])
	if err != nil {
		writeAPIError(lh.engine, w, err)
		return
	}
	loc, err := lh.engine.localities.Get(r.Context(), vars["locality"])
	if err != nil {
		writeAPIError(lh.engine, w, err)
		return
	}

	at, err := parseAsOf(r)
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "at must be an RFC 3339 timestamp", "")
		return
	}
	if handleConditional(lh.engine.stamps, w, r, &ns.ID, layer.SetTable) {
		return
	}

	pairs, err := lh.engine.layers.PathHashPairs(r.Context(), l.ID, loc.ID, at)
	if err != nil {
		writeAPIError(lh.engine, w, err)
		return
	}
	resp := make([]PathHashResponse, 0, len(pairs))
	for _, p := range pairs {
		resp = append(resp, PathHashResponse{Path: p.Path, ContentHash: hex.EncodeToString(p.Hash)})
	}
	writeJSONResponse(w, http.StatusOK, resp)
}

// parseAsOf reads the optional ?at= query parameter.
func parseAsOf(r *http.Request) (time.Time, error) {
	raw := r.URL.Query().Get("at")
	if raw == "" {
		return time.Now().UTC(), nil
	}
	return time.Parse(time.RFC3339, raw)
}
