// Package xslices provides missing functionality to the standard slices package.
package xslices

import (
	"sort"

	"golang.org/x/exp/constraints"
)

// SortedKeys returns the keys of a map in sorted order.
func SortedKeys[K constraints.Ordered, V any](m map[K]V) []K {
	keys := make([]K, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// Map applies fn to each element of in, returning the new resulting slice.
func Map[In, Out any](in []In, fn func(In) Out) (out []Out) {
	out = make([]Out, len(in))
	for ii, element := range in {
		out[ii] = fn(element)
	}
	return
}

// Last returns the last element of a slice. It panics on an empty slice.
func Last[T any](slice []T) T {
	return slice[len(slice)-1]
}
