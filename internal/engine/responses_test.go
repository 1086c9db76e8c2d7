package engine

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geodepot/geodepot/internal/apierror"
	"github.com/geodepot/geodepot/pkg/logger"
)

func decodeErrorResponse(t *testing.T, w *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	return resp
}

func TestWriteAPIErrorEnvelope(t *testing.T) {
	e := &Engine{logger: logger.New("engine-test", "dev")}

	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantError  string
	}{
		{
			"not found",
			apierror.NotFound("namespace %q not found", "census"),
			http.StatusNotFound,
			`not_found: namespace "census" not found`,
		},
		{
			"conflict",
			apierror.Conflict("geography already exists"),
			http.StatusConflict,
			"conflict: geography already exists",
		},
		{
			"permission denied",
			apierror.PermissionDenied("missing scope"),
			http.StatusForbidden,
			"permission_denied: missing scope",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			writeAPIError(e, w, tt.err)

			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
			resp := decodeErrorResponse(t, w)
			assert.Equal(t, tt.wantError, resp.Error)
			assert.Empty(t, resp.Details)
		})
	}
}

func TestWriteAPIErrorSanitizesInternalDetails(t *testing.T) {
	e := &Engine{logger: logger.New("engine-test", "dev")}

	tests := []struct {
		name string
		err  error
	}{
		{"classified internal", apierror.Internal(errors.New("pq: relation missing"), "query failed")},
		{"unclassified", errors.New("dial tcp 10.0.0.1:5432: connection refused")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			writeAPIError(e, w, tt.err)

			assert.Equal(t, http.StatusInternalServerError, w.Code)
			resp := decodeErrorResponse(t, w)
			assert.Equal(t, "internal error", resp.Error)
			assert.NotContains(t, w.Body.String(), "pq:")
			assert.NotContains(t, w.Body.String(), "10.0.0.1")
		})
	}
}

func TestWriteAPIErrorCountsErrors(t *testing.T) {
	e := &Engine{logger: logger.New("engine-test", "dev")}

	for i := 0; i < 3; i++ {
		writeAPIError(e, httptest.NewRecorder(), apierror.NotFound("missing"))
	}
	assert.Equal(t, int64(3), e.metrics.errors)
}
