package geography

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geodepot/geodepot/internal/apierror"
)

func TestHashGeometryDeterministic(t *testing.T) {
	wkb := []byte{0x01, 0x01, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0xf0, 0x3f}
	first := HashGeometry(wkb)
	second := HashGeometry(wkb)
	assert.Equal(t, first, second)
	assert.Len(t, first, 32)
}

func TestHashGeometryDistinguishesContent(t *testing.T) {
	a := HashGeometry([]byte{0x01, 0x02, 0x03})
	b := HashGeometry([]byte{0x01, 0x02, 0x04})
	assert.NotEqual(t, a, b)
}

func TestEmptyGeometryHash(t *testing.T) {
	// A nil geometry and the canonical empty polygon share one blob.
	assert.Equal(t, EmptyGeometryHash, HashGeometry(emptyPolygonWKB))
	assert.Len(t, EmptyGeometryHash, 32)
}

func TestNormalizePaths(t *testing.T) {
	t.Run("canonicalizes and preserves order", func(t *testing.T) {
		paths, err := normalizePaths([]Payload{
			{Path: "Counties/Travis"},
			{Path: "counties/harris"},
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"counties/Travis", "counties/harris"}, paths)
	})

	t.Run("rejects duplicates after normalization", func(t *testing.T) {
		_, err := normalizePaths([]Payload{
			{Path: "counties/a"},
			{Path: "Counties/a"},
		})
		require.Error(t, err)
		assert.True(t, apierror.IsKind(err, apierror.KindUnprocessable))
	})

	t.Run("rejects invalid segments", func(t *testing.T) {
		_, err := normalizePaths([]Payload{{Path: "counties/../secret"}})
		require.Error(t, err)
		assert.True(t, apierror.IsKind(err, apierror.KindUnprocessable))
	})
}
