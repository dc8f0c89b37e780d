// Package transfer implements the asynchronous device-to-device transfer engine: it
// moves a tensor's buffer tree directly between two devices over the interconnect,
// bypassing host memory, while preserving stream ordering and reporting completion
// through a single host callback.
//
// Each transfer checks out a substream from the destination's device-to-device stream
// pool (so concurrent transfers don't serialize on one stream), sequences waits against
// the source's definition event and the destination's compute stream, copies every leaf
// region, rebuilds tuple index metadata, installs a fresh definition event on the
// destination, and only then -- from a host callback that fires after all device work
// finished -- returns the substream and invokes the caller's completion callback.
package transfer

import (
	"github.com/dustin/go-humanize"
	"github.com/gomlx/devlink/devices"
	"github.com/gomlx/devlink/devmem"
	"github.com/gomlx/devlink/streams"
	"github.com/gomlx/devlink/types/keepalive"
	"github.com/gomlx/devlink/types/shapes"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Options configures an Engine at construction. Behavior is deterministic: there are no
// process-wide mutable flags.
type Options struct {
	// UseSubstreams selects whether transfers check out substreams from the
	// destination's device-to-device stream pool, or each create a dedicated stream.
	UseSubstreams bool

	// FailureClosesDevice makes the device factory install an error handler that
	// closes a device when a transfer reports a device-level fault on it. The policy
	// is applied by the device object, not by the engine.
	FailureClosesDevice bool
}

// DefaultOptions returns the options the device factory uses unless told otherwise:
// substream pooling on, failures close the device.
func DefaultOptions() Options {
	return Options{
		UseSubstreams:       true,
		FailureClosesDevice: true,
	}
}

// Engine orchestrates direct device-to-device transfers for one platform.
type Engine struct {
	platform devices.Platform
	opts     Options
}

// NewEngine creates a transfer engine for the platform with the given options.
func NewEngine(platform devices.Platform, opts Options) *Engine {
	return &Engine{platform: platform, opts: opts}
}

// DeviceToDevice asynchronously copies the input tensor to the output tensor over the
// device interconnect. It returns after enqueueing; done fires exactly once with the
// result, possibly from another goroutine, only after all device work for the transfer
// completed. Callers must always wait for done, even for failures that happen to be
// detected synchronously.
//
// The input must be populated and DMA-eligible; the output must be shape- and
// dtype-matching and not yet allocated. The input is kept alive (referenced) until
// completion.
func (e *Engine) DeviceToDevice(
	srcCtx, dstCtx *devices.Context,
	src, dst *devices.Device,
	srcAttrs, dstAttrs devices.AllocatorAttributes,
	input, output *DeviceTensor,
	d2dStreamIndex int,
	done func(error)) {
	_ = srcAttrs // Carried for the execution engine's benefit; direct copies are
	_ = dstAttrs // always device-resident to device-resident.
	if err := e.deviceToDevice(srcCtx, dstCtx, src, dst, input, output, d2dStreamIndex, done); err != nil {
		done(err)
	}
}

// deviceToDevice runs the synchronous part of a transfer. A nil return means done was
// called already or its invocation was handed off to a host callback; a non-nil return
// is routed to done by the caller.
func (e *Engine) deviceToDevice(
	srcCtx, dstCtx *devices.Context,
	src, dst *devices.Device,
	input, output *DeviceTensor,
	d2dStreamIndex int,
	done func(error)) error {
	if src.Name() != dst.Name() {
		// Cross-device transfers need the platform interconnect; single-device
		// (1x1) use doesn't require initialization.
		if e.platform == nil || !e.platform.Initialized() {
			return errors.Wrapf(ErrNotInitialized, "transfer %s to %s", src.Name(), dst.Name())
		}
	}
	if input.Shape().Size() == 0 {
		// Zero-element tensors have no backing buffers.
		done(nil)
		return nil
	}
	if input.Shape().DType != output.Shape().DType {
		return errors.Wrapf(ErrTypeMismatch, "input dtype %s, output dtype %s",
			input.Shape().DType, output.Shape().DType)
	}
	if !input.Shape().Equal(output.Shape()) {
		return errors.Wrapf(ErrShapeMismatch, "input shape %s, output shape %s",
			input.Shape(), output.Shape())
	}
	if !input.DMAEligible() {
		return errors.Wrapf(ErrNotDMAEligible, "input tensor of shape %s on %s",
			input.Shape(), src.Name())
	}

	if src.SharesMemoryWith(dst) {
		// Same physical memory location: alias instead of copying.
		// Surprisingly, this path does get triggered in practice.
		output.AliasBuffer(input)
		done(nil)
		return nil
	}

	// Pick a substream from the destination's pool if enabled, to avoid stream
	// exhaustion under concurrent transfers; otherwise use a dedicated stream.
	var master, xferStream *streams.Stream
	if e.opts.UseSubstreams {
		master = dstCtx.DeviceToDeviceStream(d2dStreamIndex)
		var err error
		xferStream, err = master.GetOrCreateSubstream()
		if err != nil {
			return errors.Wrapf(ErrResourceExhausted, "%v", err)
		}
	} else {
		xferStream = streams.New(dst.Name() + "/d2d-dedicated")
	}
	returnTransferStream := func() {
		if master != nil {
			master.ReturnSubstream(xferStream)
		} else {
			xferStream.Close()
		}
	}
	// The transfer stream is released on every exit path: here on early errors, or by
	// the host callback once it takes ownership below.
	handedOff := false
	defer func() {
		if !handedOff {
			returnTransferStream()
		}
	}()

	if output.HasShapedBuffer() {
		return errors.Wrapf(ErrAllocationFailure,
			"destination tensor of shape %s already has a buffer tree", output.Shape())
	}
	if err := output.AllocateShapedBuffer(dst.Arena(), dstCtx.LayoutFn()); err != nil {
		return errors.Wrapf(ErrAllocationFailure, "on %s: %v", dst.Name(), err)
	}
	inputBuffer := input.ShapedBuffer()
	outputBuffer := output.ShapedBuffer()

	if klog.V(2).Enabled() {
		klog.V(2).Infof("DeviceToDevice %s: %s -> %s, shape %s, %s in %d regions",
			uuid.NewString(), src.Name(), dst.Name(), input.Shape(),
			humanize.Bytes(uint64(inputBuffer.TotalBytes())), len(inputBuffer.Leaves()))
	}

	// Wait for the definition event of the source tensor so the input regions are
	// fully written before being read.
	input.WaitForDefinitionEventOnStream(xferStream)

	// Wait for the destination buffers to be ready, if they are not available for an
	// immediate write. If the representation is a tuple, the stream that writes the
	// tuple index tables must wait as well.
	if !dstCtx.CanWriteNow(dstCtx.Stream(), outputBuffer) {
		xferStream.WaitFor(dstCtx.Stream())
		if outputBuffer.OnDeviceShape().IsTuple() {
			dstCtx.HostToDeviceStream().WaitFor(dstCtx.Stream())
		}
	}

	err := devmem.ZipLeaves(inputBuffer, outputBuffer,
		func(path shapes.Path, in, out devmem.Region) error {
			if in.Size() != out.Size() {
				return errors.Wrapf(ErrRegionSizeMismatch, "leaf %s: input %d bytes, output %d bytes",
					path, in.Size(), out.Size())
			}
			if err := devmem.EnqueueCopy(xferStream, out, in); err != nil {
				return errors.Wrapf(ErrDeviceOperation, "enqueueing copy of leaf %s: %v", path, err)
			}
			return nil
		})
	if err != nil {
		return err
	}

	if outputBuffer.OnDeviceShape().IsTuple() {
		if err := devmem.WriteTupleIndexTables(dstCtx.HostToDeviceStream(), outputBuffer); err != nil {
			return errors.Wrapf(ErrDeviceOperation, "writing tuple index tables on %s: %v", dst.Name(), err)
		}
		// A tensor carries a single definition event, so the transfer stream must
		// wait for the index-table writes before that event is recorded.
		xferStream.WaitFor(dstCtx.HostToDeviceStream())
	}

	definitionEvent := streams.NewEvent()
	xferStream.RecordEvent(definitionEvent)
	output.ResetDefinitionEvent(definitionEvent, xferStream)

	// The input must remain alive until the transfer completes, so keep a reference.
	// Completion is reported only after the device finished all the work above: the
	// host callback below is the single completion signal for the whole operation.
	input.Ref()
	inputRef := keepalive.Acquire(input)
	handedOff = true
	xferStream.DoHostCallback(func() {
		err := xferStream.Err()
		returnTransferStream()
		inputRef.Release()
		input.Unref()
		if err != nil {
			err = errors.Wrapf(ErrDeviceOperation, "transfer %s to %s: %v", src.Name(), dst.Name(), err)
			dst.ReportError(err)
		}
		done(err)
	})
	return nil
}
