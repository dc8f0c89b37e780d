package transfer

import (
	"sync"
	"sync/atomic"

	"github.com/gomlx/devlink/devmem"
	"github.com/gomlx/devlink/streams"
	"github.com/gomlx/devlink/types/shapes"
	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
)

// DeviceTensor wraps a device-resident tensor for the transfer engine: its logical
// shape, its buffer tree once allocated, and its current definition event.
//
// The definition event is recorded on the stream that last wrote the buffer; readers
// must wait on it before touching the regions. A tensor carries at most one definition
// event at a time: a new write installs a new event, superseding -- not mutating -- the
// previous one, so readers holding the old event keep a stable reference.
type DeviceTensor struct {
	shape shapes.Shape
	refs  atomic.Int64

	mu       sync.Mutex
	sb       *devmem.ShapedBuffer
	defEvent *streams.Event
	pinned   bool
}

// NewDeviceTensor creates an unallocated tensor of the given shape, with one reference
// held by the caller.
func NewDeviceTensor(shape shapes.Shape) *DeviceTensor {
	t := &DeviceTensor{shape: shape}
	t.refs.Store(1)
	return t
}

// Shape returns the tensor's logical shape.
func (t *DeviceTensor) Shape() shapes.Shape { return t.shape }

// HasShapedBuffer returns whether the tensor's buffer tree has been allocated.
func (t *DeviceTensor) HasShapedBuffer() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sb != nil
}

// ShapedBuffer returns the tensor's buffer tree, or nil if not allocated.
func (t *DeviceTensor) ShapedBuffer() *devmem.ShapedBuffer {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sb
}

// AllocateShapedBuffer builds the tensor's buffer tree on the given arena using the
// device's layout policy. Once allocated the tree structure is fixed until the tensor
// is dropped. Allocating twice is an error.
func (t *DeviceTensor) AllocateShapedBuffer(arena *devmem.Arena, layoutFn devmem.LayoutFn) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.sb != nil {
		return errors.Errorf("tensor of shape %s already has an allocated buffer tree", t.shape)
	}
	sb, err := devmem.AllocateShapedBuffer(arena, layoutFn, t.shape)
	if err != nil {
		return err
	}
	t.sb = sb
	t.pinned = true
	return nil
}

// DMAEligible returns whether the tensor's backing can be read directly over the device
// interconnect: allocated, contiguous, pinned.
func (t *DeviceTensor) DMAEligible() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sb != nil && t.pinned
}

// SetPinned overrides the pinned-backing flag. Buffers allocated by
// AllocateShapedBuffer are pinned by default.
func (t *DeviceTensor) SetPinned(pinned bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pinned = pinned
}

// DefinitionEvent returns the tensor's current definition event, or nil if the tensor
// was never written.
func (t *DeviceTensor) DefinitionEvent() *streams.Event {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.defEvent
}

// WaitForDefinitionEventOnStream makes work enqueued on s after this call wait until
// the tensor's content is fully written. A no-op for tensors with no definition event.
func (t *DeviceTensor) WaitForDefinitionEventOnStream(s *streams.Stream) {
	ev := t.DefinitionEvent()
	if ev == nil {
		return
	}
	s.WaitForEvent(ev)
}

// ResetDefinitionEvent installs a fresh definition event recorded on the stream that is
// writing the tensor, superseding any previous one.
func (t *DeviceTensor) ResetDefinitionEvent(ev *streams.Event, s *streams.Stream) {
	if ev.Stream() != s {
		exceptions.Panicf("definition event for tensor of shape %s was recorded on %s, not on %s",
			t.shape, ev.Stream(), s)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.defEvent = ev
}

// AliasBuffer makes the tensor share the source tensor's buffer tree and definition
// event. Used when source and destination resolve to the same physical memory location,
// where a device copy would be pointless.
func (t *DeviceTensor) AliasBuffer(src *DeviceTensor) {
	src.mu.Lock()
	sb, ev, pinned := src.sb, src.defEvent, src.pinned
	src.mu.Unlock()
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sb = sb
	t.defEvent = ev
	t.pinned = pinned
}

// Ref acquires an additional reference to the tensor. The transfer engine holds one for
// the duration of an in-flight transfer.
func (t *DeviceTensor) Ref() {
	t.refs.Add(1)
}

// Unref releases one reference. Releasing more references than acquired panics.
func (t *DeviceTensor) Unref() {
	if t.refs.Add(-1) < 0 {
		exceptions.Panicf("tensor of shape %s released more references than acquired", t.shape)
	}
}

// NumRefs returns the current reference count. Useful to check lifetime pairing in
// tests.
func (t *DeviceTensor) NumRefs() int64 {
	return t.refs.Load()
}
