package fork

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geodepot/geodepot/internal/apierror"
	"github.com/geodepot/geodepot/internal/services/geography"
	"github.com/geodepot/geodepot/internal/services/layer"
)

func pairs(ph ...layer.PathHash) []layer.PathHash { return ph }

func pair(path string, hash byte) layer.PathHash {
	return layer.PathHash{Path: path, Hash: []byte{hash}}
}

func TestComputeDiff(t *testing.T) {
	source := pairs(pair("a", 1), pair("b", 2), pair("c", 3), pair("d", 4))
	target := pairs(pair("a", 1), pair("c", 9), pair("e", 5))

	d := ComputeDiff(source, target)

	require.Len(t, d.Common, 1)
	assert.Equal(t, "a", d.Common[0].Path)

	require.Len(t, d.Mismatched, 1)
	assert.Equal(t, "c", d.Mismatched[0].Path)
	assert.Equal(t, []byte{3}, d.Mismatched[0].SourceHash)
	assert.Equal(t, []byte{9}, d.Mismatched[0].TargetHash)

	require.Len(t, d.SourceOnly, 2)
	assert.Equal(t, "b", d.SourceOnly[0].Path)
	assert.Equal(t, "d", d.SourceOnly[1].Path)

	require.Len(t, d.TargetOnly, 1)
	assert.Equal(t, "e", d.TargetOnly[0].Path)
}

func TestComputeDiffEmptySides(t *testing.T) {
	d := ComputeDiff(nil, nil)
	assert.True(t, d.sourceEmpty())
	assert.True(t, d.targetEmpty())

	d = ComputeDiff(pairs(pair("a", 1)), nil)
	assert.False(t, d.sourceEmpty())
	assert.True(t, d.targetEmpty())
}

func TestValidateSourceOnlyRequiresOptIn(t *testing.T) {
	// Source has one path, target is empty. Copying is refused without
	// allow_extra_source_geos.
	d := ComputeDiff(pairs(pair("p1", 1)), nil)

	err := Validate(d, Flags{})
	require.Error(t, err)
	assert.True(t, apierror.IsKind(err, apierror.KindConflict))
	assert.Contains(t, err.Error(), "allow_extra_source_geos")

	assert.NoError(t, Validate(d, Flags{AllowExtraSourceGeos: true}))
}

func TestValidateSubsetTargetWithOptIn(t *testing.T) {
	// Target already holds p1 with a matching hash; only p2 is new.
	d := ComputeDiff(
		pairs(pair("p1", 1), pair("p2", 2)),
		pairs(pair("p1", 1)),
	)
	require.NoError(t, Validate(d, Flags{AllowExtraSourceGeos: true}))
	require.Len(t, d.SourceOnly, 1)
	assert.Equal(t, "p2", d.SourceOnly[0].Path)
}

func TestValidateHashMismatchAlwaysConflicts(t *testing.T) {
	d := ComputeDiff(pairs(pair("p1", 1)), pairs(pair("p1", 2)))

	for _, flags := range []Flags{
		{},
		{AllowExtraSourceGeos: true},
		{AllowEmptyPolys: true},
		{AllowExtraSourceGeos: true, AllowEmptyPolys: true},
	} {
		err := Validate(d, flags)
		require.Error(t, err)
		assert.True(t, apierror.IsKind(err, apierror.KindConflict))
		assert.Contains(t, err.Error(), "differ")
	}
}

func TestValidateBothEmpty(t *testing.T) {
	err := Validate(ComputeDiff(nil, nil), Flags{AllowExtraSourceGeos: true})
	require.Error(t, err)
	assert.True(t, apierror.IsKind(err, apierror.KindConflict))
	assert.Contains(t, err.Error(), "both layers do not contain any geographies")
}

func TestValidateSourceEmptyTargetNot(t *testing.T) {
	err := Validate(ComputeDiff(nil, pairs(pair("p1", 1))), Flags{AllowExtraSourceGeos: true})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "swapped")
}

func TestValidateTargetOnlyAlwaysConflicts(t *testing.T) {
	d := ComputeDiff(
		pairs(pair("p1", 1)),
		pairs(pair("p1", 1), pair("p9", 9)),
	)
	for _, flags := range []Flags{
		{},
		{AllowExtraSourceGeos: true, AllowEmptyPolys: true},
	} {
		err := Validate(d, flags)
		require.Error(t, err)
		assert.True(t, apierror.IsKind(err, apierror.KindConflict))
		assert.Contains(t, err.Error(), "subset")
	}
}

func TestValidateEmptyPolys(t *testing.T) {
	emptyHash := geography.EmptyGeometryHash
	d := ComputeDiff(
		pairs(layer.PathHash{Path: "p1", Hash: emptyHash}),
		nil,
	)

	err := Validate(d, Flags{AllowExtraSourceGeos: true})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "allow_empty_polys")

	assert.NoError(t, Validate(d, Flags{AllowExtraSourceGeos: true, AllowEmptyPolys: true}))
}

func TestValidateEmptyPolysInCommon(t *testing.T) {
	emptyHash := geography.EmptyGeometryHash
	d := ComputeDiff(
		pairs(layer.PathHash{Path: "p1", Hash: emptyHash}),
		pairs(layer.PathHash{Path: "p1", Hash: emptyHash}),
	)
	err := Validate(d, Flags{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "allow_empty_polys")
}
