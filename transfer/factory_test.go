package transfer

import (
	"testing"

	"github.com/gomlx/devlink/devices"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateDevices(t *testing.T) {
	platform := devices.NewSimulatedPlatform("factorykind", 3)
	platform.Initialize()
	devs, engine := CreateDevices(platform, DefaultOptions(), devices.Config{ArenaBytes: 1 << 20})
	defer func() {
		for _, d := range devs {
			d.Close()
		}
	}()
	require.Len(t, devs, 3)
	require.NotNil(t, engine)
	for ii, d := range devs {
		assert.Equal(t, "factorykind", d.Kind())
		assert.Equal(t, ii, d.Ordinal())
	}

	// The direct-interconnect handler was registered for same-kind pairs.
	fn, found := LookupCopy("factorykind", "factorykind")
	require.True(t, found)
	require.NotNil(t, fn)

	// And it works end to end when invoked through the registry.
	input := uploadFloat32(t, devs[0], []float32{1, 2, 3, 4})
	output := NewDeviceTensor(input.Shape())
	done := make(chan error, 1)
	fn(devs[0].NewContext(), devs[1].NewContext(), devs[0], devs[1],
		devices.AllocatorAttributes{}, devices.AllocatorAttributes{},
		input, output, 0, func(err error) { done <- err })
	require.NoError(t, <-done)
	assert.Equal(t, input.ShapedBuffer().Region(nil).Bytes(),
		output.ShapedBuffer().Region(nil).Bytes())
}

func TestCreateDevicesFailureClosesDevice(t *testing.T) {
	platform := devices.NewSimulatedPlatform("faultykind", 1)
	devs, _ := CreateDevices(platform, DefaultOptions(), devices.Config{})
	d := devs[0]
	assert.False(t, d.IsClosed())
	d.ReportError(errors.New("device fault"))
	assert.True(t, d.IsClosed())
}

func TestCreateDevicesWithoutDirectCopy(t *testing.T) {
	platform := devices.NewSimulatedPlatform("nodirectkind", 1)
	platform.DisableDirectDeviceToDeviceCopy()
	devs, _ := CreateDevices(platform, Options{UseSubstreams: true}, devices.Config{})
	defer devs[0].Close()

	_, found := LookupCopy("nodirectkind", "nodirectkind")
	assert.False(t, found)

	// Without the close-on-failure option faults only get logged.
	devs[0].ReportError(errors.New("device fault"))
	assert.False(t, devs[0].IsClosed())
}

func TestRegisterCopyOverrides(t *testing.T) {
	var calls int
	RegisterCopy("overridekind", "overridekind",
		func(_, _ *devices.Context, _, _ *devices.Device, _, _ devices.AllocatorAttributes,
			_, _ *DeviceTensor, _ int, done func(error)) {
			calls++
			done(nil)
		})
	RegisterCopy("overridekind", "overridekind",
		func(_, _ *devices.Context, _, _ *devices.Device, _, _ devices.AllocatorAttributes,
			_, _ *DeviceTensor, _ int, done func(error)) {
			calls += 100
			done(nil)
		})
	fn, found := LookupCopy("overridekind", "overridekind")
	require.True(t, found)
	fn(nil, nil, nil, nil, devices.AllocatorAttributes{}, devices.AllocatorAttributes{},
		nil, nil, 0, func(error) {})
	assert.Equal(t, 100, calls)

	_, found = LookupCopy("overridekind", "otherkind")
	assert.False(t, found)
}
