// Package registry implements the device registry: a name-keyed
// collection of devices with capability queries answered by interface
// assertion rather than inheritance.
package registry

import (
	"context"
	"sync"

	daq "github.com/easternanemone/rust-daq-sub004"
)

// Shutdowner is implemented by devices that need an orderly stop when the
// registry shuts down.
type Shutdowner interface {
	Shutdown(ctx context.Context) error
}

// Registry is a shared-read, exclusive-write collection of devices. Reads
// (Get, capability queries) may proceed concurrently; Register and
// Unregister are rare and serialized.
type Registry struct {
	mu      sync.RWMutex
	devices map[string]daq.Device
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{devices: make(map[string]daq.Device)}
}

// Register adds a device, replacing any existing device with the same id.
func (r *Registry) Register(d daq.Device) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.devices[d.ID()] = d
}

// Unregister removes a device by id. It is a no-op if the id is unknown.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.devices, id)
}

// Get returns the device with the given id.
func (r *Registry) Get(id string) (daq.Device, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.devices[id]
	return d, ok
}

// IDs returns every registered device id.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.devices))
	for id := range r.devices {
		ids = append(ids, id)
	}
	return ids
}

// ShutdownAll calls Shutdown on every registered device that implements
// Shutdowner, collecting any errors rather than stopping at the first one.
func (r *Registry) ShutdownAll(ctx context.Context) []error {
	r.mu.RLock()
	devices := make([]daq.Device, 0, len(r.devices))
	for _, d := range r.devices {
		devices = append(devices, d)
	}
	r.mu.RUnlock()

	var errs []error
	for _, d := range devices {
		if s, ok := d.(Shutdowner); ok {
			if err := s.Shutdown(ctx); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errs
}

// Capability looks up a device by id and asserts it implements capability
// C, e.g. Capability[daq.Movable](r, "stage1"). ok is false if the device
// is unknown or does not implement C.
func Capability[C any](r *Registry, id string) (cap C, ok bool) {
	d, found := r.Get(id)
	if !found {
		return cap, false
	}
	cap, ok = d.(C)
	return cap, ok
}

// Capabilities reports every capability interface name a device
// implements, for HardwareService's capability-flag listing.
func (r *Registry) Capabilities(id string) []string {
	d, ok := r.Get(id)
	if !ok {
		return nil
	}
	var caps []string
	if _, ok := d.(daq.Movable); ok {
		caps = append(caps, "movable")
	}
	if _, ok := d.(daq.Readable); ok {
		caps = append(caps, "readable")
	}
	if _, ok := d.(daq.Triggerable); ok {
		caps = append(caps, "triggerable")
	}
	if _, ok := d.(daq.Settable); ok {
		caps = append(caps, "settable")
	}
	if _, ok := d.(daq.Parameterized); ok {
		caps = append(caps, "parameterized")
	}
	if _, ok := d.(daq.FrameProducer); ok {
		caps = append(caps, "frame_producer")
	}
	if _, ok := d.(daq.ShutterControl); ok {
		caps = append(caps, "shutter_control")
	}
	if _, ok := d.(daq.WavelengthTunable); ok {
		caps = append(caps, "wavelength_tunable")
	}
	if _, ok := d.(daq.EmissionControl); ok {
		caps = append(caps, "emission_control")
	}
	if _, ok := d.(daq.ExposureControl); ok {
		caps = append(caps, "exposure_control")
	}
	if _, ok := d.(daq.EmergencyStopper); ok {
		caps = append(caps, "emergency_stopper")
	}
	return caps
}
