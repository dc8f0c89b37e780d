package devices

import (
	"fmt"
	"sync/atomic"

	"github.com/gomlx/devlink/devmem"
	"github.com/gomlx/devlink/streams"
	"github.com/gomlx/exceptions"
	"k8s.io/klog/v2"
)

// AllocatorAttributes qualifies where a buffer of a transfer endpoint is expected to
// live. The transfer engine carries them through for the execution engine's benefit;
// direct device-to-device copies only deal in device-resident buffers.
type AllocatorAttributes struct {
	// OnHost indicates the buffer lives in host memory rather than device memory.
	OnHost bool
}

// Config parameterizes the creation of one Device.
type Config struct {
	// Kind is the device kind, matching a registered Platform name.
	Kind string

	// Ordinal of the device within its platform.
	Ordinal int

	// ArenaBytes is the device memory capacity. Non-positive selects
	// devmem.DefaultArenaBytes.
	ArenaBytes int

	// SharedArena, if set, makes the device share a physical memory location with the
	// arena's other owners instead of allocating its own. ArenaBytes is ignored.
	SharedArena *devmem.Arena

	// NumDeviceToDeviceStreams is how many primary device-to-device streams the device
	// exposes. Defaults to 1.
	NumDeviceToDeviceStreams int

	// SubstreamLimit bounds each device-to-device stream's substream pool.
	// 0 keeps streams.DefaultMaxSubstreams; negative means unbounded.
	SubstreamLimit int
}

// Device is one accelerator device: its memory arena and command streams.
type Device struct {
	kind    string
	ordinal int
	arena   *devmem.Arena

	compute *streams.Stream
	h2d     *streams.Stream
	d2d     []*streams.Stream

	closed  atomic.Bool
	onError atomic.Pointer[func(error)]
}

// New creates a device with its arena and streams, per the config.
func New(cfg Config) *Device {
	name := fmt.Sprintf("%s:%d", cfg.Kind, cfg.Ordinal)
	arena := cfg.SharedArena
	if arena == nil {
		arena = devmem.NewArena(name, cfg.ArenaBytes)
	}
	numD2D := cfg.NumDeviceToDeviceStreams
	if numD2D <= 0 {
		numD2D = 1
	}
	d := &Device{
		kind:    cfg.Kind,
		ordinal: cfg.Ordinal,
		arena:   arena,
		compute: streams.New(name + "/compute"),
		h2d:     streams.New(name + "/h2d"),
		d2d:     make([]*streams.Stream, numD2D),
	}
	for ii := range d.d2d {
		d.d2d[ii] = streams.New(fmt.Sprintf("%s/d2d%d", name, ii))
		if cfg.SubstreamLimit != 0 {
			limit := cfg.SubstreamLimit
			if limit < 0 {
				limit = 0 // Unbounded.
			}
			d.d2d[ii].SetSubstreamLimit(limit)
		}
	}
	return d
}

// Kind returns the device kind (the platform name).
func (d *Device) Kind() string { return d.kind }

// Ordinal returns the device's ordinal within its platform.
func (d *Device) Ordinal() int { return d.ordinal }

// Name returns "<kind>:<ordinal>".
func (d *Device) Name() string { return fmt.Sprintf("%s:%d", d.kind, d.ordinal) }

// Arena returns the device's memory arena.
func (d *Device) Arena() *devmem.Arena { return d.arena }

// ComputeStream returns the device's default compute stream.
func (d *Device) ComputeStream() *streams.Stream { return d.compute }

// HostToDeviceStream returns the stream used for host-to-device metadata writes.
func (d *Device) HostToDeviceStream() *streams.Stream { return d.h2d }

// DeviceToDeviceStream returns the primary device-to-device stream for the given slot.
// It panics for an out-of-range slot.
func (d *Device) DeviceToDeviceStream(slot int) *streams.Stream {
	if slot < 0 || slot >= len(d.d2d) {
		exceptions.Panicf("device %s has %d device-to-device streams, slot %d requested",
			d.Name(), len(d.d2d), slot)
	}
	return d.d2d[slot]
}

// NumDeviceToDeviceStreams returns how many primary device-to-device streams the device
// exposes.
func (d *Device) NumDeviceToDeviceStreams() int { return len(d.d2d) }

// SharesMemoryWith reports whether both devices resolve to the same physical memory
// location, in which case transfers between them degenerate to aliasing.
func (d *Device) SharesMemoryWith(other *Device) bool {
	return other != nil && d.arena == other.arena
}

// SetErrorHandler installs the policy applied when a device-level fault is reported.
// The surrounding execution engine decides the policy; see transfer.CreateDevices for
// the close-on-failure option.
func (d *Device) SetErrorHandler(handler func(error)) {
	d.onError.Store(&handler)
}

// ReportError routes a device-level fault to the installed error handler, if any.
func (d *Device) ReportError(err error) {
	klog.Warningf("device %s reported error: %+v", d.Name(), err)
	if handler := d.onError.Load(); handler != nil {
		(*handler)(err)
	}
}

// Close marks the device closed and closes its streams. Pending stream work still
// drains; the device must not be used afterwards.
func (d *Device) Close() {
	if !d.closed.CompareAndSwap(false, true) {
		return
	}
	d.compute.Close()
	d.h2d.Close()
	for _, s := range d.d2d {
		s.Close()
	}
}

// IsClosed returns whether Close was called.
func (d *Device) IsClosed() bool { return d.closed.Load() }
