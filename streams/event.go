package streams

import (
	"sync/atomic"

	"github.com/gomlx/devlink/types/xsync"
)

// Event is a one-shot device-side completion marker.
//
// It is recorded on a stream with Stream.RecordEvent and triggers once all work enqueued
// on that stream before the recording has completed. Events are shared freely: a buffer's
// definition event is held by its writer and by every subsequent reader.
type Event struct {
	latch      *xsync.Latch
	recordedOn atomic.Pointer[Stream]
}

// NewEvent returns a new, un-triggered and un-recorded event.
func NewEvent() *Event {
	return &Event{latch: xsync.NewLatch()}
}

// Triggered returns whether the event has fired.
func (e *Event) Triggered() bool {
	return e.latch.Test()
}

// Wait blocks the calling goroutine until the event triggers. Host-side use only --
// streams wait on events with Stream.WaitForEvent.
func (e *Event) Wait() {
	e.latch.Wait()
}

// Stream returns the stream the event was (last) recorded on, or nil if it was never
// recorded.
func (e *Event) Stream() *Stream {
	return e.recordedOn.Load()
}
