package shapes

import (
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMake(t *testing.T) {
	s := Make(dtypes.Float32, 2, 3)
	require.True(t, s.Ok())
	assert.Equal(t, 2, s.Rank())
	assert.Equal(t, 6, s.Size())
	assert.Equal(t, uintptr(24), s.Memory())
	assert.Equal(t, "(Float32)[2 3]", s.String())
	assert.Equal(t, 3, s.Dim(-1))

	// Zero-element shapes are valid for device buffers.
	zero := Make(dtypes.Float32, 0)
	require.True(t, zero.Ok())
	assert.Equal(t, 0, zero.Size())
	assert.Equal(t, uintptr(0), zero.Memory())

	// Negative dimensions panic.
	require.Panics(t, func() { Make(dtypes.Float32, -1) })

	scalar := Scalar[int32]()
	assert.True(t, scalar.IsScalar())
	assert.Equal(t, 1, scalar.Size())
}

func TestEqual(t *testing.T) {
	a := Make(dtypes.Float32, 1024)
	b := Make(dtypes.Float32, 1024)
	c := Make(dtypes.Int32, 1024)
	d := Make(dtypes.Float32, 512)
	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
	assert.False(t, a.Equal(d))

	tuple := MakeTuple([]Shape{a, c})
	tuple2 := MakeTuple([]Shape{b, c.Clone()})
	assert.True(t, tuple.Equal(tuple2))
	assert.False(t, tuple.Equal(a))
	assert.False(t, a.Equal(tuple))
	assert.False(t, tuple.Equal(MakeTuple([]Shape{a})))
}

func TestLeaves(t *testing.T) {
	// An array shape is its own single leaf.
	array := Make(dtypes.Float64, 7)
	leaves := array.Leaves()
	require.Len(t, leaves, 1)
	assert.True(t, leaves[0].Path.Equal(Path{}))
	assert.True(t, leaves[0].Shape.Equal(array))

	// Nested tuple: leaves come in depth-first order with their tuple index paths.
	inner := MakeTuple([]Shape{
		Make(dtypes.Int8, 2),
		Make(dtypes.Int16, 3),
	})
	outer := MakeTuple([]Shape{
		Make(dtypes.Float32, 4),
		inner,
	})
	leaves = outer.Leaves()
	wantPaths := []Path{{0}, {1, 0}, {1, 1}}
	gotPaths := make([]Path, 0, len(leaves))
	for _, leaf := range leaves {
		gotPaths = append(gotPaths, leaf.Path)
	}
	if diff := cmp.Diff(wantPaths, gotPaths); diff != "" {
		t.Fatalf("leaf paths mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, dtypes.Int16, leaves[2].Shape.DType)

	// Equal shapes produce identical path sets.
	otherOuter := outer.Clone()
	otherLeaves := otherOuter.Leaves()
	require.Len(t, otherLeaves, len(leaves))
	for ii := range leaves {
		assert.True(t, leaves[ii].Path.Equal(otherLeaves[ii].Path))
	}
}

func TestSubShape(t *testing.T) {
	inner := MakeTuple([]Shape{Make(dtypes.Int8, 2), Make(dtypes.Int16, 3)})
	outer := MakeTuple([]Shape{Make(dtypes.Float32, 4), inner})
	assert.True(t, outer.SubShape(Path{1, 1}).Equal(Make(dtypes.Int16, 3)))
	assert.True(t, outer.SubShape(Path{}).Equal(outer))
	require.Panics(t, func() { outer.SubShape(Path{2}) })
	require.Panics(t, func() { outer.SubShape(Path{0, 0}) })
}

func TestString(t *testing.T) {
	tuple := MakeTuple([]Shape{Make(dtypes.Float32, 4), Scalar[int64]()})
	assert.Equal(t, "Tuple<(Float32)[4], (Int64)>", tuple.String())
	assert.Equal(t, "{1,0}", Path{1, 0}.String())
	assert.Equal(t, "{}", Path{}.String())
}
