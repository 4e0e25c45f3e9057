// Package registry tracks which regions this server currently hosts: the set
// of online regions available to RPC handlers, and the retiring set for
// regions in the middle of a close. Grounded on the locking discipline of the
// teacher's fs.Registry (a single guard around the authoritative name→handle
// map), simplified from a hash-partitioned on-disk registry to the spec's
// single in-process RWMutex-guarded pair of maps.
package registry

import (
	"context"
	"sort"
	"sync"

	rs "github.com/sharedcode/regionserver"
)

// Region is the subset of region behavior the registry and chores need,
// avoiding an import cycle with package region.
type Region interface {
	Name() string
	Info() rs.RegionInfo
}

// Registry holds the online and retiring region sets for one server.
// A region name is present in at most one of the two maps at any time.
type Registry struct {
	mu       sync.RWMutex
	online   map[string]Region
	retiring map[string]Region
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{
		online:   make(map[string]Region),
		retiring: make(map[string]Region),
	}
}

// Lookup returns the named region if it is online, or, when includeRetiring is
// true, also considers the retiring set (a retiring region still answers
// reads). Returns NotServingRegion if absent from both consulted sets.
func (r *Registry) Lookup(ctx context.Context, name string, includeRetiring bool) (Region, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if reg, ok := r.online[name]; ok {
		return reg, nil
	}
	if includeRetiring {
		if reg, ok := r.retiring[name]; ok {
			return reg, nil
		}
	}
	return nil, rs.NewError(rs.NotServingRegion, nil, name)
}

// Open admits a newly opened region into the online set. It is rejected if a
// region of the same name is already online or retiring.
func (r *Registry) Open(region Region) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := region.Name()
	if _, ok := r.online[name]; ok {
		return rs.NewError(rs.RegionServerRunning, nil, name)
	}
	if _, ok := r.retiring[name]; ok {
		return rs.NewError(rs.RegionServerRunning, nil, name)
	}
	r.online[name] = region
	return nil
}

// BeginClose moves a region from online to retiring and returns it so the
// caller can drain in-flight RPCs and finish closing its stores and WAL tail.
func (r *Registry) BeginClose(name string) (Region, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	region, ok := r.online[name]
	if !ok {
		return nil, rs.NewError(rs.NotServingRegion, nil, name)
	}
	delete(r.online, name)
	r.retiring[name] = region
	return region, nil
}

// EndClose removes a region from the retiring set once its pending RPCs have
// drained and its resources are released.
func (r *Registry) EndClose(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.retiring, name)
}

// Snapshot returns the currently online regions, sorted by name, taken under
// the read lock and safe to iterate without holding it. Chores must call this
// rather than iterate the registry directly, since they perform I/O per region.
func (r *Registry) Snapshot() []Region {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Region, 0, len(r.online))
	for _, reg := range r.online {
		out = append(out, reg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// OnlineCount and RetiringCount back the administrative surface's region counters.
func (r *Registry) OnlineCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.online)
}

func (r *Registry) RetiringCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.retiring)
}

// Overlaps reports whether candidate's range overlaps any currently online
// region of the same table, enforcing the registry's partition invariant
// before a caller admits a newly opened region.
func (r *Registry) Overlaps(candidate rs.RegionInfo) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, reg := range r.online {
		if reg.Info().Overlaps(candidate) {
			return true
		}
	}
	return false
}
