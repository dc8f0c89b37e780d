package devices

import (
	"github.com/gomlx/devlink/devmem"
	"github.com/gomlx/devlink/streams"
)

// Context bundles the per-device collaborators a transfer endpoint needs: the device,
// its streams, the shape layout policy and the allocator readiness query. The execution
// engine hands one Context per endpoint to the transfer engine.
type Context struct {
	device      *Device
	layout      devmem.LayoutFn
	canWriteNow func(*streams.Stream, *devmem.ShapedBuffer) bool
}

// NewContext creates a Context for the device with the default (identity) layout and an
// allocator that considers freshly allocated buffers immediately writable.
func (d *Device) NewContext() *Context {
	return &Context{
		device: d,
		layout: devmem.DefaultLayout,
	}
}

// Device returns the device this context belongs to.
func (c *Context) Device() *Device { return c.device }

// Stream returns the device's default compute stream.
func (c *Context) Stream() *streams.Stream { return c.device.ComputeStream() }

// HostToDeviceStream returns the device's host-to-device metadata stream.
func (c *Context) HostToDeviceStream() *streams.Stream { return c.device.HostToDeviceStream() }

// DeviceToDeviceStream returns the device's primary device-to-device stream for the
// given slot.
func (c *Context) DeviceToDeviceStream(slot int) *streams.Stream {
	return c.device.DeviceToDeviceStream(slot)
}

// LayoutFn returns the shape layout policy mapping logical shapes to on-device shapes.
func (c *Context) LayoutFn() devmem.LayoutFn { return c.layout }

// SetLayoutFn overrides the shape layout policy.
func (c *Context) SetLayoutFn(fn devmem.LayoutFn) { c.layout = fn }

// CanWriteNow reports whether the buffer can be written immediately with respect to the
// given compute stream, or whether pending work must be waited for first.
func (c *Context) CanWriteNow(s *streams.Stream, sb *devmem.ShapedBuffer) bool {
	if c.canWriteNow == nil {
		return true
	}
	return c.canWriteNow(s, sb)
}

// SetCanWriteNow overrides the allocator readiness query. Passing nil restores the
// default, which considers buffers always immediately writable.
func (c *Context) SetCanWriteNow(fn func(*streams.Stream, *devmem.ShapedBuffer) bool) {
	c.canWriteNow = fn
}
