package pathutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geodepot/geodepot/internal/apierror"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "census/tracts", "census/tracts"},
		{"leading and trailing slashes", "/census/tracts/", "census/tracts"},
		{"duplicate slashes", "census///tracts", "census/tracts"},
		{"lowercased", "Census/Tracts", "census/tracts"},
		{"single segment", "/atlanta", "atlanta"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Normalize(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNormalizeCaseSensitive(t *testing.T) {
	got, err := NormalizeCaseSensitive("/Census/Tracts/13121011100_GEOID")
	require.NoError(t, err)
	assert.Equal(t, "census/tracts/13121011100_GEOID", got)
}

func TestNormalizeRejectsInvalidSubstrings(t *testing.T) {
	for _, in := range []string{"a/../b", "a b", "a;drop", "  "} {
		_, err := Normalize(in)
		require.Error(t, err, "input %q", in)
		assert.True(t, apierror.IsKind(err, apierror.KindUnprocessable))
	}
}

func TestNormalizeExact(t *testing.T) {
	_, err := NormalizeExact("census/tracts", 3, false)
	require.Error(t, err)
	assert.True(t, apierror.IsKind(err, apierror.KindUnprocessable))

	got, err := NormalizeExact("census/tracts/001", 3, false)
	require.NoError(t, err)
	assert.Equal(t, "census/tracts/001", got)
}
