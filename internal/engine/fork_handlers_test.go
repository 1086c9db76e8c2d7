package engine

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geodepot/geodepot/internal/services/fork"
	"github.com/geodepot/geodepot/internal/services/layer"
)

func TestDecodeForkRequest(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		wantOK    bool
		wantError string
	}{
		{
			"complete request",
			`{"source_namespace":"census","target_namespace":"plans","source_layer":"counties",
			  "target_layer":"counties","locality":"tx"}`,
			true, "",
		},
		{
			"malformed body",
			`{"source_namespace":`,
			false, "invalid request body",
		},
		{
			"missing target layer",
			`{"source_namespace":"census","target_namespace":"plans","source_layer":"counties",
			  "locality":"tx"}`,
			false, "target_layer is required",
		},
		{
			"missing locality",
			`{"source_namespace":"census","target_namespace":"plans","source_layer":"counties",
			  "target_layer":"counties"}`,
			false, "locality is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/api/v1/fork/check", strings.NewReader(tt.body))
			w := httptest.NewRecorder()

			req, ok := decodeForkRequest(w, r)

			assert.Equal(t, tt.wantOK, ok)
			if !tt.wantOK {
				assert.Equal(t, http.StatusBadRequest, w.Code)
				assert.Equal(t, tt.wantError, decodeErrorResponse(t, w).Error)
				return
			}
			require.NotNil(t, req)
			assert.Equal(t, "census", req.SourceNamespace)
			assert.Equal(t, "tx", req.Locality)
		})
	}
}

func TestForkRequestToServiceRequest(t *testing.T) {
	asOf := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	req := &ForkRequest{
		SourceNamespace:      "census",
		TargetNamespace:      "plans",
		SourceLayer:          "counties",
		TargetLayer:          "counties",
		Locality:             "tx",
		AsOf:                 &asOf,
		AllowEmptyPolys:      true,
		AllowExtraSourceGeos: true,
	}

	svc := req.toServiceRequest()

	assert.Equal(t, "census", svc.SourceNamespace)
	assert.Equal(t, "plans", svc.TargetNamespace)
	assert.Equal(t, &asOf, svc.AsOf)
	assert.True(t, svc.Flags.AllowEmptyPolys)
	assert.True(t, svc.Flags.AllowExtraSourceGeos)
}

func TestToForkCheckResponse(t *testing.T) {
	asOf := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	plan := &fork.Plan{
		AsOf: asOf,
		Diff: fork.Diff{
			Common: []layer.PathHash{
				{Path: "counties/bexar", Hash: []byte{0x01}},
				{Path: "counties/travis", Hash: []byte{0x02}},
			},
			SourceOnly: []layer.PathHash{
				{Path: "counties/harris", Hash: []byte{0x03}},
			},
		},
	}

	resp := toForkCheckResponse(plan)

	assert.True(t, resp.Forkable)
	assert.Equal(t, asOf, resp.AsOf)
	assert.Equal(t, 2, resp.Common)
	assert.Equal(t, []string{"counties/harris"}, resp.SourceOnly)
}
