package transfer

import (
	"github.com/gomlx/devlink/devices"
	"github.com/gomlx/devlink/types/xsync"
)

// CopyFn is the signature of a device-to-device copy handler. It must return
// immediately; done fires exactly once with the transfer's result, possibly from
// another goroutine.
type CopyFn func(
	srcCtx, dstCtx *devices.Context,
	src, dst *devices.Device,
	srcAttrs, dstAttrs devices.AllocatorAttributes,
	input, output *DeviceTensor,
	d2dStreamIndex int,
	done func(error))

type registrationKey struct {
	srcKind, dstKind string
}

var copyRegistry xsync.SyncMap[registrationKey, CopyFn]

// RegisterCopy installs fn as the handler for transfers from srcKind devices to dstKind
// devices, replacing any previous handler for the pair. The device factory registers
// the direct-interconnect engine for same-kind pairs when the platform asks for it.
func RegisterCopy(srcKind, dstKind string, fn CopyFn) {
	copyRegistry.Store(registrationKey{srcKind: srcKind, dstKind: dstKind}, fn)
}

// LookupCopy returns the handler registered for the device kind pair, if any.
func LookupCopy(srcKind, dstKind string) (CopyFn, bool) {
	return copyRegistry.Load(registrationKey{srcKind: srcKind, dstKind: dstKind})
}
