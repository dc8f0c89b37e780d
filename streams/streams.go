// Package streams implements ordered device command queues ("streams"), completion
// events and host callbacks, plus a bounded pool of substreams per primary stream.
//
// A Stream is the unit of ordering on a device: commands enqueued on one stream execute
// strictly in FIFO order, asynchronously with respect to the enqueueing goroutine.
// Ordering across streams is expressed with events: a stream records an Event once all
// its previously enqueued work completes, and any other stream can be made to wait for
// it. Nothing in this package blocks the enqueueing goroutine on device completion.
//
// Each Stream is run by its own worker goroutine, which plays the role of the device-side
// command processor. A command that fails puts the stream in a sticky error state: later
// data commands are skipped, but events still trigger and host callbacks still fire, so
// waiters never hang and completion is always reported.
package streams

import (
	"fmt"
	"sync"

	"github.com/gomlx/devlink/types/xsync"
	"github.com/gomlx/exceptions"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// command is one entry in a stream's queue.
//
// Control commands (event records, event waits, host callbacks) execute even after the
// stream entered its sticky error state; data commands (copies, table writes) are skipped.
type command struct {
	desc    string
	fn      func() error
	control bool
}

// Stream is an ordered command queue belonging to one device.
//
// Create primary streams with New. Substreams are created and owned by their primary
// stream through GetOrCreateSubstream / ReturnSubstream.
type Stream struct {
	name   string
	id     uuid.UUID
	parent *Stream // Non-nil for substreams.

	mu       sync.Mutex
	cond     sync.Cond
	pending  []command
	status   error // Sticky: first command failure.
	closed   bool
	finished *xsync.Latch // Triggered when the worker exits.

	// Substream pool, only used on primary streams.
	subMu   sync.Mutex
	idle    []*Stream
	numSubs int
	maxSubs int
}

// DefaultMaxSubstreams bounds the substream pool of a primary stream unless changed
// with SetSubstreamLimit.
const DefaultMaxSubstreams = 16

// New creates a primary stream with the given name and starts its worker.
func New(name string) *Stream {
	return newStream(name, nil)
}

func newStream(name string, parent *Stream) *Stream {
	s := &Stream{
		name:     name,
		id:       uuid.New(),
		parent:   parent,
		maxSubs:  DefaultMaxSubstreams,
		finished: xsync.NewLatch(),
	}
	s.cond.L = &s.mu
	go s.run()
	return s
}

// run is the stream's worker goroutine: the simulated device-side command processor.
func (s *Stream) run() {
	for {
		s.mu.Lock()
		for len(s.pending) == 0 && !s.closed {
			s.cond.Wait()
		}
		if len(s.pending) == 0 {
			// Closed and drained.
			s.mu.Unlock()
			s.finished.Trigger()
			return
		}
		cmd := s.pending[0]
		s.pending = s.pending[1:]
		status := s.status
		s.mu.Unlock()

		if status != nil && !cmd.control {
			continue
		}
		if err := cmd.fn(); err != nil {
			s.mu.Lock()
			if s.status == nil {
				s.status = err
				klog.Warningf("stream %s: command %q failed: %+v", s.name, cmd.desc, err)
			}
			s.mu.Unlock()
		}
	}
}

// Name returns the name the stream was created with.
func (s *Stream) Name() string { return s.name }

// String implements fmt.Stringer.
func (s *Stream) String() string {
	return fmt.Sprintf("stream %q (%s)", s.name, s.id)
}

// IsPrimary returns whether this is a primary stream, as opposed to a substream
// checked out from one.
func (s *Stream) IsPrimary() bool { return s.parent == nil }

func (s *Stream) enqueue(cmd command) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		exceptions.Panicf("stream %q: enqueue after Close", s.name)
	}
	s.pending = append(s.pending, cmd)
	s.cond.Signal()
}

// Enqueue adds a data command to the stream. It returns immediately; fn runs on the
// stream's worker once all previously enqueued commands completed. If the stream is in
// an error state fn is skipped.
func (s *Stream) Enqueue(desc string, fn func() error) {
	s.enqueue(command{desc: desc, fn: fn})
}

// RecordEvent enqueues the recording of ev: the event triggers once every command
// enqueued on s so far has completed. Recording happens even on an errored stream, so
// waiters never hang.
func (s *Stream) RecordEvent(ev *Event) {
	ev.recordedOn.Store(s)
	s.enqueue(command{
		desc:    "record event",
		fn:      func() error { ev.latch.Trigger(); return nil },
		control: true,
	})
}

// WaitForEvent makes all commands enqueued on s after this call wait until ev triggers.
func (s *Stream) WaitForEvent(ev *Event) {
	s.enqueue(command{
		desc:    "wait for event",
		fn:      func() error { ev.latch.Wait(); return nil },
		control: true,
	})
}

// WaitFor makes all commands enqueued on s after this call wait until everything
// currently enqueued on the other stream completes.
func (s *Stream) WaitFor(other *Stream) {
	ev := NewEvent()
	other.RecordEvent(ev)
	s.WaitForEvent(ev)
}

// DoHostCallback enqueues fn to run on the host once every command previously enqueued
// on s has completed on the (simulated) device. Callbacks fire even if the stream is in
// an error state -- use Err to find out.
func (s *Stream) DoHostCallback(fn func()) {
	s.enqueue(command{
		desc:    "host callback",
		fn:      func() error { fn(); return nil },
		control: true,
	})
}

// Err returns the stream's sticky error state: the first command failure, or nil.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Sync blocks the calling goroutine until every command currently enqueued has
// completed. It is a host-side convenience for tests and tools; the transfer engine
// itself never calls it.
func (s *Stream) Sync() error {
	done := xsync.NewLatch()
	s.DoHostCallback(done.Trigger)
	done.Wait()
	return s.Err()
}

// Close marks the stream closed: remaining commands still drain, then the worker exits.
// It does not block; see Join. Enqueueing on a closed stream panics.
func (s *Stream) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.cond.Broadcast()
}

// Join blocks until the stream's worker exited, after Close.
func (s *Stream) Join() {
	s.finished.Wait()
}

// GetOrCreateSubstream checks out a substream from this primary stream's pool: an idle
// one if available, otherwise a newly created one if the pool is under capacity.
//
// It never blocks on device completion. Reuse of an idle substream is safe because a
// substream's own FIFO queue orders any new work after whatever was enqueued by the
// previous holder. It returns an error if the pool is exhausted.
//
// Each successful checkout must be matched by exactly one ReturnSubstream, on every
// exit path of the caller.
func (s *Stream) GetOrCreateSubstream() (*Stream, error) {
	if !s.IsPrimary() {
		exceptions.Panicf("stream %q is a substream, substreams cannot be further subdivided", s.name)
	}
	s.subMu.Lock()
	defer s.subMu.Unlock()
	if n := len(s.idle); n > 0 {
		sub := s.idle[n-1]
		s.idle = s.idle[:n-1]
		return sub, nil
	}
	if s.maxSubs > 0 && s.numSubs >= s.maxSubs {
		return nil, errors.Errorf("substream pool of %s exhausted: all %d substreams checked out", s, s.maxSubs)
	}
	sub := newStream(fmt.Sprintf("%s/sub%d", s.name, s.numSubs), s)
	s.numSubs++
	return sub, nil
}

// ReturnSubstream returns a checked-out substream to the pool, making it available for
// future checkouts. An errored substream is not reused: it is closed and its pool slot
// freed.
func (s *Stream) ReturnSubstream(sub *Stream) {
	if sub.parent != s {
		exceptions.Panicf("%s is not a substream of %s", sub, s)
	}
	s.subMu.Lock()
	defer s.subMu.Unlock()
	if sub.Err() != nil {
		klog.V(1).Infof("discarding errored substream %s: %v", sub, sub.Err())
		sub.Close()
		s.numSubs--
		return
	}
	s.idle = append(s.idle, sub)
}

// SetSubstreamLimit changes the capacity of this primary stream's substream pool.
// A limit <= 0 means unbounded. Change it before any checkout.
func (s *Stream) SetSubstreamLimit(limit int) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	s.maxSubs = limit
}

// NumCheckedOut returns how many substreams are currently checked out of this primary
// stream's pool. It returns to zero once all in-flight holders returned theirs.
func (s *Stream) NumCheckedOut() int {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	return s.numSubs - len(s.idle)
}
