package transfer

import "github.com/pkg/errors"

// Sentinel errors reported through a transfer's completion callback. Match them with
// errors.Is: the engine wraps them with per-transfer context.
var (
	// ErrNotInitialized: a cross-device transfer was requested but the destination
	// platform has not been initialized.
	ErrNotInitialized = errors.New("device platform has not been initialized")

	// ErrTypeMismatch: source and destination element types differ.
	ErrTypeMismatch = errors.New("source and destination dtypes do not match")

	// ErrShapeMismatch: source and destination shapes differ.
	ErrShapeMismatch = errors.New("source and destination shapes do not match")

	// ErrNotDMAEligible: the source buffer has no contiguous pinned device backing.
	ErrNotDMAEligible = errors.New("source buffer is not DMA-eligible")

	// ErrAllocationFailure: the destination buffer tree could not be created.
	ErrAllocationFailure = errors.New("destination buffer allocation failed")

	// ErrResourceExhausted: no transfer stream could be acquired.
	ErrResourceExhausted = errors.New("transfer stream acquisition failed")

	// ErrRegionSizeMismatch: corresponding leaves of the source and destination buffer
	// trees disagree in size. Unreachable given equal shapes; reported as a hard
	// failure instead of truncating the copy.
	ErrRegionSizeMismatch = errors.New("source and destination region sizes do not match")

	// ErrDeviceOperation: the device reported a fault while enqueueing or executing
	// transfer commands.
	ErrDeviceOperation = errors.New("device operation failed")
)
