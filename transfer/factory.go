package transfer

import (
	"github.com/gomlx/devlink/devices"
	"k8s.io/klog/v2"
)

// CreateDevices builds one Device per visible device of the platform and wires the
// transfer machinery around them: it creates the platform's Engine, installs the
// failure policy on each device, and registers the direct-interconnect copy handler
// for same-kind transfers when the platform asks for it.
//
// template provides the per-device configuration (arena size, stream counts); its Kind
// and Ordinal fields are overridden per device. The caller owns the returned devices
// and must Close them.
func CreateDevices(platform devices.Platform, opts Options, template devices.Config) ([]*devices.Device, *Engine) {
	engine := NewEngine(platform, opts)
	numDevices := platform.VisibleDeviceCount()
	devs := make([]*devices.Device, numDevices)
	for ordinal := range devs {
		cfg := template
		cfg.Kind = platform.Name()
		cfg.Ordinal = ordinal
		d := devices.New(cfg)
		if opts.FailureClosesDevice {
			// A device-level fault leaves device state undefined; closing fails
			// subsequent work fast instead of computing on corrupt buffers.
			dev := d
			d.SetErrorHandler(func(err error) {
				klog.Errorf("closing device %s after fault: %v", dev.Name(), err)
				dev.Close()
			})
		}
		devs[ordinal] = d
	}
	if platform.ShouldRegisterDeviceToDeviceCopy() {
		RegisterCopy(platform.Name(), platform.Name(), engine.DeviceToDevice)
	}
	return devs, engine
}
