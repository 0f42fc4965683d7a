// Package backend maintains the registry of shader patchers that prepare
// pipeline shaders for specific device types at archive time.
//
// Patchers are registered per device type, typically from init() functions
// in build-tagged files, and handed to an Archiver in one call:
//
//	arc, err := psopack.NewArchiver(flags, backend.Options()...)
package backend

import (
	"sync"

	"github.com/gogpu/psopack"
)

// registry holds registered patchers.
var (
	registryMu sync.RWMutex
	patchers   = make(map[psopack.DeviceType]psopack.Patcher)
)

// Register registers a patcher for the given device type. This is typically
// called from init() functions in backend packages. A patcher already
// registered for the device type is replaced.
func Register(dev psopack.DeviceType, p psopack.Patcher) {
	registryMu.Lock()
	defer registryMu.Unlock()
	patchers[dev] = p
}

// Unregister removes the patcher for a device type.
// This is useful for testing.
func Unregister(dev psopack.DeviceType) {
	registryMu.Lock()
	defer registryMu.Unlock()
	delete(patchers, dev)
}

// Get returns the patcher registered for a device type.
func Get(dev psopack.DeviceType) (psopack.Patcher, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	p, ok := patchers[dev]
	return p, ok
}

// IsRegistered checks if a patcher is registered for the device type.
func IsRegistered(dev psopack.DeviceType) bool {
	_, ok := Get(dev)
	return ok
}

// Available returns the device types with a registered patcher.
func Available() []psopack.DeviceType {
	registryMu.RLock()
	defer registryMu.RUnlock()

	devs := make([]psopack.DeviceType, 0, len(patchers))
	for dev := range patchers {
		devs = append(devs, dev)
	}
	return devs
}

// Options returns archiver options installing every registered patcher.
func Options() []psopack.ArchiverOption {
	registryMu.RLock()
	defer registryMu.RUnlock()

	opts := make([]psopack.ArchiverOption, 0, len(patchers))
	for dev, p := range patchers {
		opts = append(opts, psopack.WithPatcher(dev, p))
	}
	return opts
}
