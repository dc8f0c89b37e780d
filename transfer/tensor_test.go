package transfer

import (
	"testing"

	"github.com/gomlx/devlink/devmem"
	"github.com/gomlx/devlink/streams"
	"github.com/gomlx/devlink/types/shapes"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeviceTensorLifecycle(t *testing.T) {
	shape := shapes.Make(dtypes.Float32, 8)
	tensor := NewDeviceTensor(shape)
	assert.True(t, shape.Equal(tensor.Shape()))
	assert.False(t, tensor.HasShapedBuffer())
	assert.Nil(t, tensor.ShapedBuffer())
	assert.False(t, tensor.DMAEligible())
	assert.Equal(t, int64(1), tensor.NumRefs())

	arena := devmem.NewArena("test", 1<<20)
	require.NoError(t, tensor.AllocateShapedBuffer(arena, nil))
	assert.True(t, tensor.HasShapedBuffer())
	assert.True(t, tensor.DMAEligible())
	require.Error(t, tensor.AllocateShapedBuffer(arena, nil))

	tensor.SetPinned(false)
	assert.False(t, tensor.DMAEligible())

	tensor.Ref()
	tensor.Unref()
	tensor.Unref()
	assert.Equal(t, int64(0), tensor.NumRefs())
	require.Panics(t, tensor.Unref)
}

func TestDeviceTensorDefinitionEvent(t *testing.T) {
	tensor := NewDeviceTensor(shapes.Make(dtypes.Int32, 4))
	assert.Nil(t, tensor.DefinitionEvent())

	writer := streams.New("writer")
	defer writer.Close()
	reader := streams.New("reader")
	defer reader.Close()

	// Waiting with no definition event is a no-op: the reader stream stays usable.
	tensor.WaitForDefinitionEventOnStream(reader)
	require.NoError(t, reader.Sync())

	ev := streams.NewEvent()
	writer.RecordEvent(ev)
	tensor.ResetDefinitionEvent(ev, writer)
	assert.Equal(t, ev, tensor.DefinitionEvent())

	// The event must have been recorded on the stream passed in.
	other := streams.NewEvent()
	reader.RecordEvent(other)
	require.Panics(t, func() { tensor.ResetDefinitionEvent(other, writer) })

	// A later write supersedes the event rather than re-triggering the old one.
	ev2 := streams.NewEvent()
	writer.RecordEvent(ev2)
	tensor.ResetDefinitionEvent(ev2, writer)
	assert.Equal(t, ev2, tensor.DefinitionEvent())
	assert.NotEqual(t, ev, ev2)
}

func TestDeviceTensorAlias(t *testing.T) {
	arena := devmem.NewArena("test", 1<<20)
	src := NewDeviceTensor(shapes.Make(dtypes.Float64, 2))
	require.NoError(t, src.AllocateShapedBuffer(arena, nil))
	writer := streams.New("writer")
	defer writer.Close()
	ev := streams.NewEvent()
	writer.RecordEvent(ev)
	src.ResetDefinitionEvent(ev, writer)

	dst := NewDeviceTensor(src.Shape())
	dst.AliasBuffer(src)
	assert.Equal(t, src.ShapedBuffer(), dst.ShapedBuffer())
	assert.Equal(t, ev, dst.DefinitionEvent())
	assert.True(t, dst.DMAEligible())
}
