package shapes

import (
	"fmt"
	"slices"
	"strings"

	"github.com/gomlx/exceptions"
)

// Path addresses one node in a tuple shape's nesting tree: each entry is the tuple index to
// descend into. The empty Path addresses the shape itself.
//
// Equal shapes yield identical sets of leaf paths, which lets two independently allocated
// buffer trees of the same shape be zipped leaf-by-leaf.
type Path []int

// String implements fmt.Stringer. The empty path prints as "{}".
func (p Path) String() string {
	parts := make([]string, 0, len(p))
	for _, idx := range p {
		parts = append(parts, fmt.Sprintf("%d", idx))
	}
	return "{" + strings.Join(parts, ",") + "}"
}

// Equal compares two paths entry by entry.
func (p Path) Equal(p2 Path) bool {
	return slices.Equal(p, p2)
}

// Clone returns an independent copy of the path.
func (p Path) Clone() Path {
	return slices.Clone(p)
}

// Leaf pairs one leaf (array) shape with the Path that addresses it inside the enclosing shape.
type Leaf struct {
	Path  Path
	Shape Shape
}

// Leaves enumerates the leaf (array) shapes of s in deterministic depth-first order, tuple
// indices visited in increasing order. A non-tuple shape yields itself as its single leaf,
// with an empty Path.
//
// The order is the canonical one used to pair regions across isomorphic buffer trees.
func (s Shape) Leaves() []Leaf {
	var leaves []Leaf
	s.appendLeaves(nil, &leaves)
	return leaves
}

func (s Shape) appendLeaves(prefix Path, leaves *[]Leaf) {
	if !s.IsTuple() {
		*leaves = append(*leaves, Leaf{Path: prefix.Clone(), Shape: s})
		return
	}
	for idx, element := range s.TupleShapes {
		element.appendLeaves(append(prefix, idx), leaves)
	}
}

// SubShape returns the shape addressed by the given path. It panics if the path doesn't
// resolve within s.
func (s Shape) SubShape(path Path) Shape {
	sub := s
	for depth, idx := range path {
		if idx < 0 || idx >= sub.TupleSize() {
			exceptions.Panicf("Shape(%s).SubShape(%s): index %d at depth %d out-of-bounds", s, path, idx, depth)
		}
		sub = sub.TupleShapes[idx]
	}
	return sub
}
