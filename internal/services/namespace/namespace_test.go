package namespace

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geodepot/geodepot/internal/apierror"
	"github.com/geodepot/geodepot/internal/services/scope"
)

func TestNotFoundMasked(t *testing.T) {
	err := notFoundMasked("census/2020", "read")

	var apiErr *apierror.Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, apierror.KindNotFound, apiErr.Kind)
	assert.Contains(t, apiErr.Message, `"census/2020"`)
	assert.Contains(t, apiErr.Message, "sufficient permissions to read")
}

func TestNamespaceGroup(t *testing.T) {
	tests := []struct {
		name   string
		public bool
		want   scope.NamespaceGroup
	}{
		{"public namespace", true, scope.GroupPublic},
		{"private namespace", false, scope.GroupPrivate},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := &Namespace{Path: "census", Public: tt.public}
			assert.Equal(t, tt.want, n.Group())
		})
	}
}
