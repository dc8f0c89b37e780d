package devices

import "sync/atomic"

// SimulatedPlatform is an in-process Platform implementation backed by the simulated
// device executor. Tests and tools create one, register it, and initialize it before
// issuing cross-device transfers.
type SimulatedPlatform struct {
	name        string
	numDevices  int
	initialized atomic.Bool
	noDirectD2D bool
}

var _ Platform = (*SimulatedPlatform)(nil)

// NewSimulatedPlatform creates a platform of the given kind exposing numDevices devices.
func NewSimulatedPlatform(name string, numDevices int) *SimulatedPlatform {
	return &SimulatedPlatform{name: name, numDevices: numDevices}
}

// Name implements Platform.
func (p *SimulatedPlatform) Name() string { return p.name }

// Initialized implements Platform.
func (p *SimulatedPlatform) Initialized() bool { return p.initialized.Load() }

// Initialize marks the subsystem ready for cross-device work.
func (p *SimulatedPlatform) Initialize() { p.initialized.Store(true) }

// VisibleDeviceCount implements Platform.
func (p *SimulatedPlatform) VisibleDeviceCount() int { return p.numDevices }

// ShouldRegisterDeviceToDeviceCopy implements Platform.
func (p *SimulatedPlatform) ShouldRegisterDeviceToDeviceCopy() bool { return !p.noDirectD2D }

// DisableDirectDeviceToDeviceCopy makes the platform decline the direct-interconnect
// copy registration, forcing copies through the host path of the surrounding engine.
func (p *SimulatedPlatform) DisableDirectDeviceToDeviceCopy() { p.noDirectD2D = true }
