// Package keepalive provides a simple Acquire and Release mechanism to
// make sure data is kept alive in between.
//
// The transfer engine uses it to pin a source buffer while an asynchronous
// device-to-device copy is in flight: the copy commands reference the buffer's
// memory from stream worker goroutines, and the acquiring function has long
// returned by the time they run.
//
// Example: the code guarantees `buffer` stays reachable until the host
// callback releases it:
//
//	ref := keepalive.Acquire(buffer)
//	stream.DoHostCallback(func() {
//		ref.Release()
//		...
//	})
package keepalive

import "sync"

var (
	// allRefs is the global pool of all acquired references being kept alive.
	//
	// It's indexed by KeepAlive values.
	//
	// Slots not holding a reference store the KeepAlive value of the next
	// available slot, forming a free list.
	allRefs []any

	// nextFree points to the next available free entry in allRefs, or EndOfList.
	nextFree KeepAlive

	// Protects against concurrent use.
	muRefs sync.Mutex
)

// KeepAlive is a handle to the reference being kept alive.
type KeepAlive int

const InitialFreeSlots = 128

const EndOfList = KeepAlive(-1)

// Initialize allRefs with InitialFreeSlots, and link them.
func init() {
	allRefs = make([]any, InitialFreeSlots)
	for ii := 0; ii < len(allRefs)-1; ii++ {
		allRefs[ii] = KeepAlive(ii + 1)
	}
	allRefs[len(allRefs)-1] = EndOfList
	nextFree = 0
}

// Acquire registers the reference, keeping it alive until the returned handle
// is released. Each Acquire must be matched by exactly one Release.
func Acquire(reference any) KeepAlive {
	muRefs.Lock()
	defer muRefs.Unlock()
	if nextFree == EndOfList {
		// No available slots, append a new one.
		allRefs = append(allRefs, reference)
		return KeepAlive(len(allRefs) - 1)
	}

	// Take the next entry from the free list.
	acquired := nextFree
	nextFree = allRefs[nextFree].(KeepAlive)
	allRefs[acquired] = reference
	return acquired
}

// Release the hold on the reference acquired earlier. After this the handle is
// invalid and must not be released again.
func (k KeepAlive) Release() {
	muRefs.Lock()
	defer muRefs.Unlock()

	allRefs[k] = nextFree
	nextFree = k
}

// NumAcquired returns the number of references currently being kept alive.
// Useful to check for leaks in tests.
func NumAcquired() int {
	muRefs.Lock()
	defer muRefs.Unlock()
	count := len(allRefs)
	for free := nextFree; free != EndOfList; free = allRefs[free].(KeepAlive) {
		count--
	}
	return count
}
