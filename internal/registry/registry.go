// Package registry holds the in-memory device map.
//
// Readers always see a whole map: a full scan replaces it atomically with
// ReplaceAll, and an incremental update swaps a single entry through UpdateIf.
// Every ReplaceAll advances the generation; an incremental update computed
// against an older generation is discarded instead of resurrecting a device
// the newer scan dropped.
package registry

import (
	"sort"
	"sync"

	"github.com/therealutkarshpriyadarshi/logscope/pkg/types"
)

// Registry is a concurrency-safe device map
type Registry struct {
	mu         sync.RWMutex
	devices    map[string]*types.Device
	generation uint64
}

// New creates an empty registry
func New() *Registry {
	return &Registry{
		devices: make(map[string]*types.Device),
	}
}

// ReplaceAll swaps the whole map for devices and returns the new generation.
func (r *Registry) ReplaceAll(devices []*types.Device) uint64 {
	next := make(map[string]*types.Device, len(devices))
	for _, d := range devices {
		next[d.ID] = d
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.devices = next
	r.generation++
	return r.generation
}

// Generation returns the number of full replacements so far
func (r *Registry) Generation() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.generation
}

// Snapshot returns a copy of a device along with the generation it was read at.
func (r *Registry) Snapshot(id string) (types.Device, uint64, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.devices[id]
	if !ok {
		return types.Device{}, r.generation, false
	}
	return d.Clone(), r.generation, true
}

// UpdateResult describes what UpdateIf did
type UpdateResult int

const (
	Applied UpdateResult = iota
	Unknown
	Superseded
)

// UpdateIf replaces the entry for updated.ID, provided the registry is still
// at generation gen and the device still exists.
func (r *Registry) UpdateIf(gen uint64, updated *types.Device) UpdateResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.generation != gen {
		return Superseded
	}
	if _, ok := r.devices[updated.ID]; !ok {
		return Unknown
	}

	r.devices[updated.ID] = updated
	return Applied
}

// Get returns a copy of the device with the given id
func (r *Registry) Get(id string) (types.Device, bool) {
	d, _, ok := r.Snapshot(id)
	return d, ok
}

// List returns copies of all devices ordered by id
func (r *Registry) List() []types.Device {
	r.mu.RLock()
	devices := make([]types.Device, 0, len(r.devices))
	for _, d := range r.devices {
		devices = append(devices, d.Clone())
	}
	r.mu.RUnlock()

	sort.Slice(devices, func(i, j int) bool {
		return devices[i].ID < devices[j].ID
	})
	return devices
}

// IDs returns the ids of all devices, sorted
func (r *Registry) IDs() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.devices))
	for id := range r.devices {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	sort.Strings(ids)
	return ids
}

// Len returns the number of devices
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.devices)
}

// Sessions returns active sessions across devices, newest first. A non-empty
// deviceID restricts the result to that device; an unknown id yields none.
func (r *Registry) Sessions(deviceID string) []types.Session {
	r.mu.RLock()
	sessions := make([]types.Session, 0)
	for id, d := range r.devices {
		if deviceID != "" && id != deviceID {
			continue
		}
		for _, s := range d.ActiveSessions {
			sessions = append(sessions, s.Clone())
		}
	}
	r.mu.RUnlock()

	sort.Slice(sessions, func(i, j int) bool {
		if sessions[i].StartTime.Equal(sessions[j].StartTime) {
			if sessions[i].DeviceID == sessions[j].DeviceID {
				return sessions[i].ID < sessions[j].ID
			}
			return sessions[i].DeviceID < sessions[j].DeviceID
		}
		return sessions[i].StartTime.After(sessions[j].StartTime)
	})
	return sessions
}
