package user

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geodepot/geodepot/internal/apierror"
)

func TestDigestOf(t *testing.T) {
	key := strings.Repeat("ab", 32)

	digest, err := digestOf(key)
	require.NoError(t, err)
	assert.Len(t, digest, 64)

	// The presented form is normalized before hashing, so casing and
	// surrounding whitespace do not change the digest.
	upper, err := digestOf("  " + strings.ToUpper(key) + "\n")
	require.NoError(t, err)
	assert.Equal(t, digest, upper)

	other, err := digestOf(strings.Repeat("cd", 32))
	require.NoError(t, err)
	assert.NotEqual(t, digest, other)
}

func TestDigestOfRejectsMalformedKeys(t *testing.T) {
	tests := []struct {
		name string
		key  string
	}{
		{"empty", ""},
		{"too short", strings.Repeat("ab", 16)},
		{"too long", strings.Repeat("ab", 33)},
		{"non-hex characters", strings.Repeat("gh", 32)},
		{"embedded whitespace", strings.Repeat("ab", 16) + " " + strings.Repeat("ab", 16)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := digestOf(tt.key)

			var apiErr *apierror.Error
			require.ErrorAs(t, err, &apiErr)
			assert.Equal(t, apierror.KindUnprocessable, apiErr.Kind)
		})
	}
}
