package engine

import (
	"net/http"
	"sync/atomic"

	"github.com/geodepot/geodepot/internal/services/scope"
)

// DebugHandlers contains admin-only introspection endpoint handlers
type DebugHandlers struct {
	engine *Engine
}

func NewDebugHandlers(engine *Engine) *DebugHandlers {
	return &DebugHandlers{engine: engine}
}

// RecentLogs handles GET /api/v1/debug/logs. It returns the most recent log
// entries retained in memory, oldest first.
func (dh *DebugHandlers) RecentLogs(w http.ResponseWriter, r *http.Request) {
	dh.engine.TrackOperation()
	defer dh.engine.UntrackOperation()

	facts, ok := requestFacts(r)
	if !ok || !facts.HasGlobal(scope.All) {
		writeErrorResponse(w, http.StatusForbidden, "reading logs requires admin access", "")
		return
	}

	entries := dh.engine.logs.Recent()
	resp := make([]LogEntryResponse, 0, len(entries))
	for _, e := range entries {
		resp = append(resp, LogEntryResponse{
			Time:    e.Time,
			Level:   e.Level,
			Message: e.Message,
		})
	}
	writeJSONResponse(w, http.StatusOK, resp)
}

// Metrics handles GET /api/v1/debug/metrics.
func (dh *DebugHandlers) Metrics(w http.ResponseWriter, r *http.Request) {
	dh.engine.TrackOperation()
	defer dh.engine.UntrackOperation()

	facts, ok := requestFacts(r)
	if !ok || !facts.HasGlobal(scope.All) {
		writeErrorResponse(w, http.StatusForbidden, "reading metrics requires admin access", "")
		return
	}

	writeJSONResponse(w, http.StatusOK, MetricsResponse{
		RequestsProcessed: atomic.LoadInt64(&dh.engine.metrics.requestsProcessed),
		Errors:            atomic.LoadInt64(&dh.engine.metrics.errors),
	})
}
