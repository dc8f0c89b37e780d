// Package devmem models device memory: per-device arenas, typed regions, and
// shaped buffers -- trees of regions mirroring a shape's tuple nesting.
//
// Memory of one (simulated) device is a fixed-capacity Arena of bytes; a Region is a
// contiguous span inside one arena. The arena never reallocates, so region byte slices
// stay valid for the lifetime of the device, which is what lets stream workers copy
// between regions of different devices without host staging.
package devmem

import (
	"fmt"
	"sync"

	"github.com/pkg/errors"
)

// RegionAlignment is the alignment of every allocated region, in bytes.
const RegionAlignment = 64

// DefaultArenaBytes is the capacity NewArena uses when given a non-positive limit.
const DefaultArenaBytes = 64 << 20

// Arena is the memory of one device: a fixed-capacity byte buffer carved into regions
// by a bump allocator. Devices that share one Arena share a physical memory location.
type Arena struct {
	name string

	mu        sync.Mutex
	buf       []byte
	allocated int
}

// NewArena creates an arena with the given capacity in bytes. A non-positive capacity
// selects DefaultArenaBytes.
func NewArena(name string, capacityBytes int) *Arena {
	if capacityBytes <= 0 {
		capacityBytes = DefaultArenaBytes
	}
	return &Arena{
		name: name,
		buf:  make([]byte, capacityBytes),
	}
}

// Name returns the arena's name, usually the owning device's name.
func (a *Arena) Name() string { return a.name }

// Capacity returns the arena's total capacity in bytes.
func (a *Arena) Capacity() int { return len(a.buf) }

// InUse returns how many bytes have been allocated, including alignment padding.
func (a *Arena) InUse() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.allocated
}

// Allocate carves a new region of the given size out of the arena. Zero-size regions
// are valid (zero-element buffers own no memory). There is no Free: regions live as
// long as the device; memory is reclaimed by dropping the whole arena.
func (a *Arena) Allocate(size int) (Region, error) {
	if size < 0 {
		return Region{}, errors.Errorf("arena %q: cannot allocate negative size %d", a.name, size)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.allocated+size > len(a.buf) {
		return Region{}, errors.Errorf("arena %q out of memory: %d bytes requested, %d of %d in use",
			a.name, size, a.allocated, len(a.buf))
	}
	r := Region{arena: a, offset: a.allocated, size: size}
	a.allocated += aligned(size)
	return r, nil
}

func aligned(size int) int {
	return (size + RegionAlignment - 1) &^ (RegionAlignment - 1)
}

// Region is a contiguous span of device memory inside one arena.
// The zero Region is the null region: no arena, no bytes.
type Region struct {
	arena  *Arena
	offset int
	size   int
}

// IsNull returns whether this is the null region.
func (r Region) IsNull() bool { return r.arena == nil }

// Size returns the region's size in bytes.
func (r Region) Size() int { return r.size }

// Offset returns the region's device address: its byte offset inside the arena.
func (r Region) Offset() int { return r.offset }

// Arena returns the arena holding the region, or nil for the null region.
func (r Region) Arena() *Arena { return r.arena }

// Bytes returns the region's backing bytes. Only stream workers should touch the
// contents; ordering between writers and readers is the caller's concern, expressed
// through stream dependencies.
func (r Region) Bytes() []byte {
	if r.IsNull() {
		return nil
	}
	return r.arena.buf[r.offset : r.offset+r.size]
}

// SameLocation returns whether both regions live in the same arena, i.e. in the same
// physical memory.
func (r Region) SameLocation(other Region) bool {
	return r.arena != nil && r.arena == other.arena
}

// String implements fmt.Stringer.
func (r Region) String() string {
	if r.IsNull() {
		return "region<null>"
	}
	return fmt.Sprintf("region<%s@%d:+%d>", r.arena.name, r.offset, r.size)
}
