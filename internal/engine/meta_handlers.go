package engine

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/geodepot/geodepot/internal/apierror"
	"github.com/geodepot/geodepot/internal/services/meta"
)

// metaIDHeader lets a client attach one metadata record to several writes.
const metaIDHeader = "X-Geodepot-Meta-Id"

// MetaHandlers contains the object metadata endpoint handlers
type MetaHandlers struct {
	engine *Engine
}

func NewMetaHandlers(engine *Engine) *MetaHandlers {
	return &MetaHandlers{engine: engine}
}

// CreateMeta handles POST /api/v1/meta
func (mh *MetaHandlers) CreateMeta(w http.ResponseWriter, r *http.Request) {
	mh.engine.TrackOperation()
	defer mh.engine.UntrackOperation()

	facts, ok := requestFacts(r)
	if !ok || !facts.CanWriteMeta() {
		writeErrorResponse(w, http.StatusForbidden, "writing metadata requires the meta:write scope", "")
		return
	}
	u, ok := requestUser(r)
	if !ok {
		writeErrorResponse(w, http.StatusInternalServerError, "user not found in context", "")
		return
	}

	var req CreateMetaRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "invalid request body", "")
		return
	}

	m, err := mh.engine.metas.Create(r.Context(), req.Notes, u.ID)
	if err != nil {
		writeAPIError(mh.engine, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, toMetaResponse(m))
}

// GetMeta handles GET /api/v1/meta/{uuid}
func (mh *MetaHandlers) GetMeta(w http.ResponseWriter, r *http.Request) {
	mh.engine.TrackOperation()
	defer mh.engine.UntrackOperation()

	facts, ok := requestFacts(r)
	if !ok || !facts.CanReadMeta() {
		writeErrorResponse(w, http.StatusForbidden, "reading metadata requires the meta:read scope", "")
		return
	}

	id, err := uuid.Parse(mux.Vars(r)["uuid"])
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "uuid is not valid", "")
		return
	}
	m, err := mh.engine.metas.GetByUUID(r.Context(), id)
	if err != nil {
		writeAPIError(mh.engine, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, toMetaResponse(m))
}

func toMetaResponse(m *meta.ObjectMeta) MetaResponse {
	return MetaResponse{
		UUID:      m.UUID.String(),
		Notes:     m.Notes,
		CreatedAt: m.CreatedAt,
		CreatedBy: m.CreatedBy,
	}
}

// metaForWrite attaches object metadata to a mutation: either the record
// named by the X-Geodepot-Meta-Id header (which must belong to the caller),
// or a fresh one built from the request's notes.
func metaForWrite(e *Engine, r *http.Request, notes string) (*meta.ObjectMeta, error) {
	u, ok := requestUser(r)
	if !ok {
		return nil, apierror.PermissionDenied("authentication required")
	}
	if header := r.Header.Get(metaIDHeader); header != "" {
		id, err := uuid.Parse(header)
		if err != nil {
			return nil, apierror.Unprocessable("the %s header is not a valid uuid", metaIDHeader)
		}
		return e.metas.ForRequest(r.Context(), id, u.ID)
	}
	return e.metas.Create(r.Context(), notes, u.ID)
}
