package streams

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/gomlx/devlink/types/xsync"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreamFIFOOrder(t *testing.T) {
	s := New("test")
	defer s.Close()

	const numCommands = 100
	var got []int
	for ii := 0; ii < numCommands; ii++ {
		s.Enqueue("append", func() error {
			got = append(got, ii)
			return nil
		})
	}
	require.NoError(t, s.Sync())
	require.Len(t, got, numCommands)
	for ii, v := range got {
		require.Equal(t, ii, v)
	}
}

func TestWaitFor(t *testing.T) {
	producer := New("producer")
	consumer := New("consumer")
	defer producer.Close()
	defer consumer.Close()

	gate := xsync.NewLatch()
	var produced atomic.Bool
	producer.Enqueue("slow produce", func() error {
		gate.Wait()
		produced.Store(true)
		return nil
	})

	consumer.WaitFor(producer)
	var sawProduced atomic.Bool
	consumer.Enqueue("consume", func() error {
		sawProduced.Store(produced.Load())
		return nil
	})

	// The consumer command must not have run yet: its stream is waiting on the producer.
	time.Sleep(10 * time.Millisecond)
	assert.False(t, sawProduced.Load())

	gate.Trigger()
	require.NoError(t, consumer.Sync())
	assert.True(t, sawProduced.Load())
}

func TestHostCallbackFiresAfterWork(t *testing.T) {
	s := New("test")
	defer s.Close()

	gate := xsync.NewLatch()
	var workDone atomic.Bool
	s.Enqueue("work", func() error {
		gate.Wait()
		workDone.Store(true)
		return nil
	})

	callbackFired := xsync.NewLatch()
	var sawWorkDone bool
	s.DoHostCallback(func() {
		sawWorkDone = workDone.Load()
		callbackFired.Trigger()
	})

	assert.False(t, callbackFired.Test())
	gate.Trigger()
	callbackFired.Wait()
	assert.True(t, sawWorkDone)
}

func TestStickyError(t *testing.T) {
	s := New("test")
	defer s.Close()

	boom := errors.New("device fault")
	s.Enqueue("fail", func() error { return boom })

	// Data commands after the failure are skipped.
	var ran atomic.Bool
	s.Enqueue("skipped", func() error {
		ran.Store(true)
		return nil
	})

	// Events still trigger and callbacks still fire, so waiters make progress.
	other := New("other")
	defer other.Close()
	other.WaitFor(s)
	require.NoError(t, other.Sync())

	err := s.Sync()
	require.Error(t, err)
	assert.Equal(t, boom, errors.Cause(err))
	assert.False(t, ran.Load())
}

func TestEventRecording(t *testing.T) {
	s := New("test")
	defer s.Close()

	ev := NewEvent()
	assert.Nil(t, ev.Stream())
	assert.False(t, ev.Triggered())
	s.RecordEvent(ev)
	assert.Equal(t, s, ev.Stream())
	ev.Wait()
	assert.True(t, ev.Triggered())
}

func TestSubstreamPool(t *testing.T) {
	primary := New("primary")
	defer primary.Close()
	primary.SetSubstreamLimit(2)

	sub1, err := primary.GetOrCreateSubstream()
	require.NoError(t, err)
	assert.False(t, sub1.IsPrimary())
	assert.Equal(t, 1, primary.NumCheckedOut())

	sub2, err := primary.GetOrCreateSubstream()
	require.NoError(t, err)
	assert.Equal(t, 2, primary.NumCheckedOut())

	// Pool is exhausted.
	_, err = primary.GetOrCreateSubstream()
	require.Error(t, err)

	// Returned substreams are reused, most recent first.
	primary.ReturnSubstream(sub2)
	assert.Equal(t, 1, primary.NumCheckedOut())
	sub3, err := primary.GetOrCreateSubstream()
	require.NoError(t, err)
	assert.Same(t, sub2, sub3)

	primary.ReturnSubstream(sub1)
	primary.ReturnSubstream(sub3)
	assert.Equal(t, 0, primary.NumCheckedOut())

	// Substreams cannot be further subdivided.
	require.Panics(t, func() { _, _ = sub1.GetOrCreateSubstream() })

	// Returning a stranger's substream panics.
	other := New("other")
	defer other.Close()
	require.Panics(t, func() { primary.ReturnSubstream(other) })
}

func TestErroredSubstreamNotReused(t *testing.T) {
	primary := New("primary")
	defer primary.Close()
	primary.SetSubstreamLimit(1)

	sub, err := primary.GetOrCreateSubstream()
	require.NoError(t, err)
	sub.Enqueue("fail", func() error { return errors.New("device fault") })
	require.Error(t, sub.Sync())

	primary.ReturnSubstream(sub)
	assert.Equal(t, 0, primary.NumCheckedOut())

	// The errored substream was discarded; a fresh one takes its pool slot.
	sub2, err := primary.GetOrCreateSubstream()
	require.NoError(t, err)
	assert.NotSame(t, sub, sub2)
	require.NoError(t, sub2.Sync())
	primary.ReturnSubstream(sub2)
}

func TestCloseDrains(t *testing.T) {
	s := New("test")
	var count atomic.Int32
	for ii := 0; ii < 10; ii++ {
		s.Enqueue("count", func() error {
			count.Add(1)
			return nil
		})
	}
	s.Close()
	s.Join()
	assert.Equal(t, int32(10), count.Load())
	require.Panics(t, func() { s.Enqueue("late", func() error { return nil }) })
}
