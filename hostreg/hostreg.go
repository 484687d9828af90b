// Package hostreg owns the lifecycle of every known peer's HostInfo
// record: creation on first beacon/HostInfoPackage sighting, incarnation
// detection via the peer's magic number, and destruction on dead-route,
// death-message or reborn-magic events.
//
// Grounded on core/meta's pattern of a small typed metadata record with
// validate/normalize-on-construct and cast helpers (core/meta/bck.go),
// adapted here to a concurrency-safe registry since many Connections can
// observe the same peer concurrently.
package hostreg

import (
	"sync"

	"github.com/peismesh/kernel/clock"
	"github.com/peismesh/kernel/wire"
)

// DeadReason classifies why a host was removed: the callback fires
// unconditionally for all three. No package in this module sends a notice
// to the removed peer for any of them.
type DeadReason int

const (
	DeadRoute DeadReason = iota
	DeadMessage
	DeadReborn
)

func (r DeadReason) String() string {
	switch r {
	case DeadRoute:
		return "dead-route"
	case DeadMessage:
		return "dead-message"
	case DeadReborn:
		return "reborn"
	default:
		return "unknown"
	}
}

// DeadHostCallback is invoked once per removal, synchronously, from whatever
// goroutine/Step detected it.
type DeadHostCallback func(id int32, reason DeadReason)

// Registry is the process-wide table of known peers.
type Registry struct {
	mu    sync.RWMutex
	hosts map[int32]*wire.HostInfo
	onDead []DeadHostCallback
}

func New() *Registry {
	return &Registry{hosts: make(map[int32]*wire.HostInfo)}
}

// OnDeadHost registers a callback fired on every host removal.
func (r *Registry) OnDeadHost(cb DeadHostCallback) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onDead = append(r.onDead, cb)
}

// Observe ingests a freshly received HostInfo (from a beacon or a
// HostInfoPackage). If a host with the same PeerID already exists with a
// different Magic, that's an incarnation change ("reborn"): the old record
// is destroyed (firing the dead-host callback with DeadReborn) and replaced.
// Returns whether this was a brand new or reborn sighting.
func (r *Registry) Observe(hi *wire.HostInfo, now int64) (isNew bool) {
	r.mu.Lock()
	existing, ok := r.hosts[hi.PeerID]
	if ok && existing.Magic != hi.Magic {
		r.removeLocked(hi.PeerID, DeadReborn)
		ok = false
	}
	cp := *hi
	cp.LastSeen = now
	r.hosts[hi.PeerID] = &cp
	r.mu.Unlock()
	return !ok
}

// Lookup returns the current record for id, if any.
func (r *Registry) Lookup(id int32) (*wire.HostInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	hi, ok := r.hosts[id]
	return hi, ok
}

// Touch refreshes LastSeen without altering anything else, for traffic that
// proves liveness without re-sending a full HostInfo.
func (r *Registry) Touch(id int32, now int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if hi, ok := r.hosts[id]; ok {
		hi.LastSeen = now
	}
}

// Remove destroys a host record and fires every registered callback.
func (r *Registry) Remove(id int32, reason DeadReason) {
	r.mu.Lock()
	r.removeLocked(id, reason)
	r.mu.Unlock()
}

func (r *Registry) removeLocked(id int32, reason DeadReason) {
	if _, ok := r.hosts[id]; !ok {
		return
	}
	delete(r.hosts, id)
	for _, cb := range r.onDead {
		cb(id, reason)
	}
}

// SweepStale removes every host whose LastSeen predates now-timeout,
// reporting each removal as DeadRoute: no traffic and no route update
// for timeout implies a dead route.
func (r *Registry) SweepStale(now, timeout int64) int {
	r.mu.Lock()
	var stale []int32
	for id, hi := range r.hosts {
		if now-hi.LastSeen > timeout {
			stale = append(stale, id)
		}
	}
	for _, id := range stale {
		r.removeLocked(id, DeadRoute)
	}
	r.mu.Unlock()
	return len(stale)
}

// All returns a snapshot of every currently known host.
func (r *Registry) All() []*wire.HostInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*wire.HostInfo, 0, len(r.hosts))
	for _, hi := range r.hosts {
		out = append(out, hi)
	}
	return out
}

// Len reports how many hosts are currently tracked.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.hosts)
}

// Now is a small convenience so callers don't need to import clock directly
// just to drive SweepStale/Observe.
func Now() int64 { return clock.Mono() }
