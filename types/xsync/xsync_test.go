package xsync

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLatch(t *testing.T) {
	l := NewLatch()
	require.False(t, l.Test())

	var wg sync.WaitGroup
	const numWaiters = 4
	wg.Add(numWaiters)
	for ii := 0; ii < numWaiters; ii++ {
		go func() {
			l.Wait()
			wg.Done()
		}()
	}

	l.Trigger()
	l.Trigger() // Re-triggering is a no-op.
	require.True(t, l.Test())

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("waiters did not wake up after Trigger")
	}

	select {
	case <-l.WaitChan():
	default:
		t.Fatal("WaitChan should be closed after Trigger")
	}
}

func TestSyncMap(t *testing.T) {
	var m SyncMap[string, int]
	_, ok := m.Load("x")
	require.False(t, ok)

	m.Store("x", 10)
	v, ok := m.Load("x")
	require.True(t, ok)
	assert.Equal(t, 10, v)

	actual, loaded := m.LoadOrStore("x", 20)
	assert.True(t, loaded)
	assert.Equal(t, 10, actual)
	actual, loaded = m.LoadOrStore("y", 20)
	assert.False(t, loaded)
	assert.Equal(t, 20, actual)

	seen := make(map[string]int)
	m.Range(func(k string, v int) bool {
		seen[k] = v
		return true
	})
	assert.Equal(t, map[string]int{"x": 10, "y": 20}, seen)
}
