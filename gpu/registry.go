package gpu

import (
	"sort"
	"sync"
)

// Well-known backend names.
const (
	BackendWebGPU   = "webgpu"
	BackendSoftware = "software"
)

// Factory creates an uninitialized backend.
type Factory func() Backend

var (
	registryMu sync.RWMutex
	backends   = make(map[string]Factory)
	// First registered entry in this list wins in Default.
	backendPriority = []string{BackendWebGPU, BackendSoftware}
)

// Register registers a backend factory, normally from an init function.
// A factory registered under an existing name replaces it.
func Register(name string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	backends[name] = factory
}

// Unregister removes a backend. Used by tests.
func Unregister(name string) {
	registryMu.Lock()
	defer registryMu.Unlock()
	delete(backends, name)
}

// Available returns the registered backend names in sorted order.
func Available() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(backends))
	for name := range backends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Get returns a new backend by name, or ErrBackendNotAvailable.
func Get(name string) (Backend, error) {
	registryMu.RLock()
	factory, ok := backends[name]
	registryMu.RUnlock()
	if !ok {
		return nil, ErrBackendNotAvailable
	}
	b := factory()
	if b == nil {
		return nil, ErrBackendNotAvailable
	}
	return b, nil
}

// Default returns the highest priority registered backend.
func Default() (Backend, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()

	for _, name := range backendPriority {
		if factory, ok := backends[name]; ok {
			if b := factory(); b != nil {
				return b, nil
			}
		}
	}
	return nil, ErrBackendNotAvailable
}
