package engine

import (
	"encoding/json"
	"net/http"

	"github.com/geodepot/geodepot/internal/services/fork"
)

// ForkHandlers contains the cross-namespace fork endpoint handler
type ForkHandlers struct {
	engine *Engine
}

func NewForkHandlers(engine *Engine) *ForkHandlers {
	return &ForkHandlers{engine: engine}
}

// decodeForkRequest reads and validates the shared fork request body. It
// writes the error response itself when the body is unusable.
func decodeForkRequest(w http.ResponseWriter, r *http.Request) (*ForkRequest, bool) {
	var req ForkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "invalid request body", "")
		return nil, false
	}
	for _, field := range []struct{ name, value string }{
		{"source_namespace", req.SourceNamespace},
		{"target_namespace", req.TargetNamespace},
		{"source_layer", req.SourceLayer},
		{"target_layer", req.TargetLayer},
		{"locality", req.Locality},
	} {
		if field.value == "" {
			writeErrorResponse(w, http.StatusBadRequest, field.name+" is required", "")
			return nil, false
		}
	}
	return &req, true
}

func (req *ForkRequest) toServiceRequest() fork.Request {
	return fork.Request{
		SourceNamespace: req.SourceNamespace,
		TargetNamespace: req.TargetNamespace,
		SourceLayer:     req.SourceLayer,
		TargetLayer:     req.TargetLayer,
		Locality:        req.Locality,
		AsOf:            req.AsOf,
		Flags: fork.Flags{
			AllowEmptyPolys:      req.AllowEmptyPolys,
			AllowExtraSourceGeos: req.AllowExtraSourceGeos,
		},
	}
}

// CheckFork handles POST /api/v1/fork/check. The request is planned and
// validated exactly as a fork would be, but nothing is applied; a 200 means
// the same request would fork cleanly right now.
func (fh *ForkHandlers) CheckFork(w http.ResponseWriter, r *http.Request) {
	fh.engine.TrackOperation()
	defer fh.engine.UntrackOperation()

	facts, ok := requestFacts(r)
	if !ok {
		writeErrorResponse(w, http.StatusInternalServerError, "facts not found in context", "")
		return
	}
	req, ok := decodeForkRequest(w, r)
	if !ok {
		return
	}

	plan, err := fh.engine.forks.Plan(r.Context(), facts, req.toServiceRequest())
	if err != nil {
		writeAPIError(fh.engine, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, toForkCheckResponse(plan))
}

// Fork handles POST /api/v1/fork. The request is planned and, when the diff
// validates, applied in one serializable transaction.
func (fh *ForkHandlers) Fork(w http.ResponseWriter, r *http.Request) {
	fh.engine.TrackOperation()
	defer fh.engine.UntrackOperation()

	facts, ok := requestFacts(r)
	if !ok {
		writeErrorResponse(w, http.StatusInternalServerError, "facts not found in context", "")
		return
	}
	req, ok := decodeForkRequest(w, r)
	if !ok {
		return
	}

	plan, err := fh.engine.forks.Plan(r.Context(), facts, req.toServiceRequest())
	if err != nil {
		writeAPIError(fh.engine, w, err)
		return
	}

	m, err := metaForWrite(fh.engine, r, req.Notes)
	if err != nil {
		writeAPIError(fh.engine, w, err)
		return
	}
	created, err := fh.engine.forks.Apply(r.Context(), plan, m.ID)
	if err != nil {
		writeAPIError(fh.engine, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, toForkResponse(plan, created))
}
