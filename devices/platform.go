// Package devices models accelerator platforms and devices for the transfer engine.
//
// A Platform is the process-wide accelerator subsystem of one device kind; it must be
// registered (usually during package initialization) before devices of that kind can be
// created, mirroring how backends register themselves with an execution engine. A
// Device owns its memory arena and its command streams: one compute stream, one
// host-to-device stream for metadata writes, and one or more device-to-device primary
// streams whose substream pools serve concurrent transfers.
package devices

import (
	"sync"

	"github.com/gomlx/devlink/types/xslices"
	"github.com/gomlx/exceptions"
)

// Platform is the accelerator subsystem for one device kind.
type Platform interface {
	// Name of the device kind, e.g. "sim".
	Name() string

	// Initialized reports whether the subsystem is ready for cross-device work.
	// Single-device use doesn't require initialization.
	Initialized() bool

	// VisibleDeviceCount returns how many physical devices the platform exposes.
	VisibleDeviceCount() int

	// ShouldRegisterDeviceToDeviceCopy reports whether same-kind device-to-device
	// copies should be handled by the direct-interconnect transfer engine.
	ShouldRegisterDeviceToDeviceCopy() bool
}

var (
	muPlatforms         sync.Mutex
	registeredPlatforms = make(map[string]Platform)
)

// RegisterPlatform registers the platform under its name. Registering the same name
// twice panics. To be safe, call it during initialization of a package.
func RegisterPlatform(p Platform) {
	muPlatforms.Lock()
	defer muPlatforms.Unlock()
	if _, found := registeredPlatforms[p.Name()]; found {
		exceptions.Panicf("platform %q registered twice", p.Name())
	}
	registeredPlatforms[p.Name()] = p
}

// GetPlatform returns the registered platform for the given device kind, or nil if none
// was registered.
func GetPlatform(name string) Platform {
	muPlatforms.Lock()
	defer muPlatforms.Unlock()
	return registeredPlatforms[name]
}

// Platforms returns the names of all registered platforms, sorted.
func Platforms() []string {
	muPlatforms.Lock()
	defer muPlatforms.Unlock()
	return xslices.SortedKeys(registeredPlatforms)
}

// unregisterPlatform removes a platform. Only for tests.
func unregisterPlatform(name string) {
	muPlatforms.Lock()
	defer muPlatforms.Unlock()
	delete(registeredPlatforms, name)
}
