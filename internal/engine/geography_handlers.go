package engine

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/geodepot/geodepot/internal/services/geography"
)

// GeographyHandlers contains the geography endpoint handlers
type GeographyHandlers struct {
	engine *Engine
}

func NewGeographyHandlers(engine *Engine) *GeographyHandlers {
	return &GeographyHandlers{engine: engine}
}

// ImportGeographies handles POST /api/v1/geographies/{namespace}. Every
// geography in the batch is created with its first version, or none are.
func (gh *GeographyHandlers) ImportGeographies(w http.ResponseWriter, r *http.Request) {
	gh.engine.TrackOperation()
	defer gh.engine.UntrackOperation()

	ns, payloads, req, ok := gh.decodeWrite(w, r)
	if !ok {
		return
	}
	m, err := metaForWrite(gh.engine, r, req.Notes)
	if err != nil {
		writeAPIError(gh.engine, w, err)
		return
	}

	created, err := gh.engine.geographies.CreateBulk(r.Context(), ns.ID, payloads, m.ID)
	if err != nil {
		writeAPIError(gh.engine, w, err)
		return
	}
	gh.writeVersioned(w, http.StatusCreated, created, ns.Path)
}

// PatchGeographies handles PATCH /api/v1/geographies/{namespace}. Every
// geography must already exist; each current version is closed and a new one
// opened.
func (gh *GeographyHandlers) PatchGeographies(w http.ResponseWriter, r *http.Request) {
	gh.engine.TrackOperation()
	defer gh.engine.UntrackOperation()

	ns, payloads, req, ok := gh.decodeWrite(w, r)
	if !ok {
		return
	}
	m, err := metaForWrite(gh.engine, r, req.Notes)
	if err != nil {
		writeAPIError(gh.engine, w, err)
		return
	}

	patched, err := gh.engine.geographies.PatchBulk(r.Context(), ns.ID, payloads, m.ID)
	if err != nil {
		writeAPIError(gh.engine, w, err)
		return
	}
	gh.writeVersioned(w, http.StatusOK, patched, ns.Path)
}

// ShowGeography handles GET /api/v1/geographies/{namespace}/{path}. The
// optional ?at= instant selects a historical version; the response carries
// the version's geometry.
func (gh *GeographyHandlers) ShowGeography(w http.ResponseWriter, r *http.Request) {
	gh.engine.TrackOperation()
	defer gh.engine.UntrackOperation()

	facts, ok := requestFacts(r)
	if !ok {
		writeErrorResponse(w, http.StatusInternalServerError, "facts not found in context", "")
		return
	}
	vars := mux.Vars(r)
	ns, err := gh.engine.namespaces.GetReadable(r.Context(), vars["namespace"], facts)
	if err != nil {
		writeAPIError(gh.engine, w, err)
		return
	}

	at, err := parseAsOf(r)
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "at must be an RFC 3339 timestamp", "")
		return
	}

	v, err := gh.engine.geographies.ReadAsOf(r.Context(), ns.ID, vars["path"], at)
	if err != nil {
		writeAPIError(gh.engine, w, err)
		return
	}
	wkb, err := gh.engine.geographies.ReadGeometry(r.Context(), v.Version.BinID)
	if err != nil {
		writeAPIError(gh.engine, w, err)
		return
	}

	resp := toGeographyResponse(v, ns.Path)
	resp.Geometry = wkb
	writeJSONResponse(w, http.StatusOK, resp)
}

// decodeWrite resolves the target namespace with write access and decodes
// the batch payload shared by import and patch.
func (gh *GeographyHandlers) decodeWrite(w http.ResponseWriter, r *http.Request) (ns nsRef, payloads []geography.Payload, req ImportGeographiesRequest, ok bool) {
	facts, haveFacts := requestFacts(r)
	if !haveFacts {
		writeErrorResponse(w, http.StatusInternalServerError, "facts not found in context", "")
		return
	}
	resolved, err := gh.engine.namespaces.GetWritable(r.Context(), mux.Vars(r)["namespace"], facts)
	if err != nil {
		writeAPIError(gh.engine, w, err)
		return
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "invalid request body", "")
		return
	}
	if len(req.Geographies) == 0 {
		writeErrorResponse(w, http.StatusBadRequest, "geographies is required", "")
		return
	}

	payloads = make([]geography.Payload, len(req.Geographies))
	for i, g := range req.Geographies {
		payloads[i] = geography.Payload{
			Path:          g.Path,
			Geometry:      g.Geometry,
			InternalPoint: g.InternalPoint,
		}
	}
	return nsRef{ID: resolved.ID, Path: resolved.Path}, payloads, req, true
}

// nsRef is the slice of a namespace the geography handlers need.
type nsRef struct {
	ID   int64
	Path string
}

func (gh *GeographyHandlers) writeVersioned(w http.ResponseWriter, status int, versions []*geography.Versioned, nsPath string) {
	resp := make([]GeographyResponse, 0, len(versions))
	for _, v := range versions {
		resp = append(resp, toGeographyResponse(v, nsPath))
	}
	writeJSONResponse(w, status, resp)
}
