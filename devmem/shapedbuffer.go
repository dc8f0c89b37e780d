package devmem

import (
	"fmt"
	"strings"

	"github.com/gomlx/devlink/types/shapes"
	"github.com/pkg/errors"
)

// LayoutFn maps a logical (on-host) shape to the physical (on-device) shape the device
// allocator uses. The identity mapping DefaultLayout suits devices with no special
// layout requirements.
type LayoutFn func(shape shapes.Shape) (shapes.Shape, error)

// DefaultLayout keeps the on-device shape identical to the logical shape.
func DefaultLayout(shape shapes.Shape) (shapes.Shape, error) {
	return shape, nil
}

// ShapedBuffer is a tree of device memory regions mirroring the tuple nesting of a
// shape: one region per leaf, plus one index-table region per tuple node. All regions
// live in a single arena.
//
// Once built, the tree structure -- leaf count, leaf sizes, nesting -- is fixed.
// Equal on-device shapes produce structurally isomorphic trees: same paths, leaves in
// the same shape-defined order.
type ShapedBuffer struct {
	onHostShape   shapes.Shape
	onDeviceShape shapes.Shape
	arena         *Arena
	regions       map[string]Region // Keyed by shapes.Path.String(), one entry per tree node.
}

// BufferLeaf pairs a leaf region with the path addressing it inside the tree.
type BufferLeaf struct {
	Path   shapes.Path
	Region Region
}

// AllocateShapedBuffer builds the region tree for the given logical shape on the given
// arena: it applies layoutFn to obtain the on-device shape, then allocates one region
// per leaf (sized by the leaf shape's memory) and one tuple index table per internal
// node (TupleIndexEntryBytes per child). Leaves with zero elements get zero-size
// regions.
func AllocateShapedBuffer(arena *Arena, layoutFn LayoutFn, shape shapes.Shape) (*ShapedBuffer, error) {
	if layoutFn == nil {
		layoutFn = DefaultLayout
	}
	deviceShape, err := layoutFn(shape)
	if err != nil {
		return nil, errors.WithMessagef(err, "computing on-device layout for shape %s", shape)
	}
	sb := &ShapedBuffer{
		onHostShape:   shape,
		onDeviceShape: deviceShape,
		arena:         arena,
		regions:       make(map[string]Region),
	}
	if err := sb.allocateNode(deviceShape, nil); err != nil {
		return nil, err
	}
	return sb, nil
}

func (sb *ShapedBuffer) allocateNode(shape shapes.Shape, path shapes.Path) error {
	if !shape.IsTuple() {
		region, err := sb.arena.Allocate(int(shape.Memory()))
		if err != nil {
			return errors.WithMessagef(err, "allocating leaf %s of shape %s", path, sb.onDeviceShape)
		}
		sb.regions[path.String()] = region
		return nil
	}
	table, err := sb.arena.Allocate(TupleIndexEntryBytes * shape.TupleSize())
	if err != nil {
		return errors.WithMessagef(err, "allocating tuple index table %s of shape %s", path, sb.onDeviceShape)
	}
	sb.regions[path.String()] = table
	for idx, element := range shape.TupleShapes {
		if err := sb.allocateNode(element, append(path, idx)); err != nil {
			return err
		}
	}
	return nil
}

// Shape returns the logical (on-host) shape.
func (sb *ShapedBuffer) Shape() shapes.Shape { return sb.onHostShape }

// OnDeviceShape returns the physical shape the regions were allocated for.
func (sb *ShapedBuffer) OnDeviceShape() shapes.Shape { return sb.onDeviceShape }

// Arena returns the arena holding all the buffer's regions.
func (sb *ShapedBuffer) Arena() *Arena { return sb.arena }

// Region returns the region at the given path of the tree (leaf or tuple node).
// It returns the null region for a path not in the tree.
func (sb *ShapedBuffer) Region(path shapes.Path) Region {
	return sb.regions[path.String()]
}

// Leaves returns the leaf regions in the deterministic shape-defined order, paired with
// their paths.
func (sb *ShapedBuffer) Leaves() []BufferLeaf {
	shapeLeaves := sb.onDeviceShape.Leaves()
	leaves := make([]BufferLeaf, 0, len(shapeLeaves))
	for _, leaf := range shapeLeaves {
		leaves = append(leaves, BufferLeaf{Path: leaf.Path, Region: sb.regions[leaf.Path.String()]})
	}
	return leaves
}

// TotalBytes returns the summed size of all leaf regions.
func (sb *ShapedBuffer) TotalBytes() int {
	var total int
	for _, leaf := range sb.Leaves() {
		total += leaf.Region.Size()
	}
	return total
}

// String implements fmt.Stringer, listing the leaf regions.
func (sb *ShapedBuffer) String() string {
	parts := make([]string, 0, len(sb.regions))
	for _, leaf := range sb.Leaves() {
		parts = append(parts, fmt.Sprintf("%s: %s", leaf.Path, leaf.Region))
	}
	return fmt.Sprintf("ShapedBuffer{%s, %s}", sb.onDeviceShape, strings.Join(parts, ", "))
}

// ZipLeaves pairs the leaves of two shaped buffers by path, in shape-defined order, and
// calls fn on each pair. It fails if the trees are not structurally isomorphic -- which
// for buffers of equal on-device shapes is unreachable.
func ZipLeaves(a, b *ShapedBuffer, fn func(path shapes.Path, ra, rb Region) error) error {
	aLeaves := a.Leaves()
	bLeaves := b.Leaves()
	if len(aLeaves) != len(bLeaves) {
		return errors.Errorf("buffer trees are not isomorphic: %d leaves vs %d leaves", len(aLeaves), len(bLeaves))
	}
	for ii, aLeaf := range aLeaves {
		bLeaf := bLeaves[ii]
		if !aLeaf.Path.Equal(bLeaf.Path) {
			return errors.Errorf("buffer trees are not isomorphic: leaf #%d at path %s vs path %s",
				ii, aLeaf.Path, bLeaf.Path)
		}
		if err := fn(aLeaf.Path, aLeaf.Region, bLeaf.Region); err != nil {
			return err
		}
	}
	return nil
}
