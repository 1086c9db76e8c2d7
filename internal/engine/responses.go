package engine

import (
	"encoding/json"
	"net/http"

	"github.com/geodepot/geodepot/internal/apierror"
)

// ErrorResponse is the envelope for every error the API returns.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

func writeErrorResponse(w http.ResponseWriter, statusCode int, message, details string) {
	writeJSONResponse(w, statusCode, ErrorResponse{Error: message, Details: details})
}

// writeAPIError maps a service error onto the HTTP error envelope.
func writeAPIError(e *Engine, w http.ResponseWriter, err error) {
	e.trackError()
	status := apierror.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		e.logger.Errorf("Request failed: %v", err)
		// Internal details stay out of responses.
		writeErrorResponse(w, status, "internal error", "")
		return
	}
	writeErrorResponse(w, status, err.Error(), "")
}
