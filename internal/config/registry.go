package config

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/MrWong99/gapless/pkg/audio"
)

// ErrDriverNotRegistered is returned by [Registry.Create] when no factory has
// been registered under the requested driver name.
var ErrDriverNotRegistered = errors.New("config: driver not registered")

// DriverFactory builds an output device. It receives the output entry and
// the playback settings the device must honour (format and lookahead).
type DriverFactory func(OutputEntry, PlaybackConfig) (audio.Device, error)

// Registry maps output driver names to their constructor functions. It is
// safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	drivers map[Driver]DriverFactory
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{drivers: make(map[Driver]DriverFactory)}
}

// Register registers an output factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) Register(name Driver, factory DriverFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.drivers[name] = factory
}

// Names returns the registered driver names in sorted order.
func (r *Registry) Names() []Driver {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]Driver, 0, len(r.drivers))
	for n := range r.drivers {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

// Create instantiates the output device registered under entry.Driver.
// Returns [ErrDriverNotRegistered] if no factory has been registered for
// that name.
func (r *Registry) Create(entry OutputEntry, pb PlaybackConfig) (audio.Device, error) {
	r.mu.RLock()
	factory, ok := r.drivers[entry.Driver]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: output/%q", ErrDriverNotRegistered, entry.Driver)
	}
	dev, err := factory(entry, pb)
	if err != nil {
		return nil, fmt.Errorf("config: create output %q: %w", entry.Driver, err)
	}
	return dev, nil
}
