// Package registry tracks the configured backend pool and which of them
// have answered an ARP probe recently enough to be considered live.
// Grounded on the teacher's core/backend_registry.go (mark/list-style
// liveness bookkeeping), generalized from an HTTP heartbeat timeout to the
// ARP-probe-and-reply liveness model this balancer uses.
package registry

import (
	"errors"
	"math/rand"
	"net"
)

// ErrNoBackends is returned by PickLive when the live set is empty.
var ErrNoBackends = errors.New("registry: no live backends")

// State is a backend's liveness state.
type State int

const (
	StateUnknown State = iota
	StateLive
)

// Backend is a configured server and what the registry currently knows
// about its L2 binding.
type Backend struct {
	IP    net.IP
	MAC   net.HardwareAddr
	Port  uint16
	State State
}

// Registry holds the ordered, configured server list (read-only after
// construction; round-robin probe order is owned by the prober, not here)
// and the live-server map. Per the balancer's single-owner concurrency
// model (SPEC_FULL.md §5), Registry is only ever touched from the
// balancer's owning goroutine, so it needs no internal locking.
type Registry struct {
	servers []net.IP
	live    map[string]*Backend
	rng     *rand.Rand
}

// New creates a Registry over the given configured server list, choosing
// backends with rng. balancer.New seeds a new source from the current time
// for each Balancer, so a process with several Balancers seeds several.
func New(servers []net.IP, rng *rand.Rand) *Registry {
	return &Registry{
		servers: servers,
		live:    make(map[string]*Backend),
		rng:     rng,
	}
}

func key(ip net.IP) string { return ip.String() }

// Servers returns the configured backend pool, in its original order.
func (r *Registry) Servers() []net.IP { return r.servers }

// IsConfigured reports whether ip is one of the configured backends.
func (r *Registry) IsConfigured(ip net.IP) bool {
	for _, s := range r.servers {
		if s.Equal(ip) {
			return true
		}
	}
	return false
}

// MarkLive records (or refreshes) a backend's (MAC, port) binding. It
// reports whether this was a transition worth logging: a rebind (prior
// binding differed) or a fresh arrival (was not live before). A refresh of
// an identical binding is silent and returns false.
func (r *Registry) MarkLive(ip net.IP, mac net.HardwareAddr, port uint16) bool {
	k := key(ip)
	existing, ok := r.live[k]
	if ok && existing.MAC.String() == mac.String() && existing.Port == port {
		return false
	}
	r.live[k] = &Backend{IP: ip, MAC: mac, Port: port, State: StateLive}
	return true
}

// MarkDead removes ip from the live set. Reports whether it had been live.
func (r *Registry) MarkDead(ip net.IP) bool {
	k := key(ip)
	if _, ok := r.live[k]; ok {
		delete(r.live, k)
		return true
	}
	return false
}

// IsLive reports whether ip currently has a live binding.
func (r *Registry) IsLive(ip net.IP) bool {
	_, ok := r.live[key(ip)]
	return ok
}

// Get returns the live binding for ip, if any.
func (r *Registry) Get(ip net.IP) (*Backend, bool) {
	b, ok := r.live[key(ip)]
	return b, ok
}

// PickLive returns one live backend, chosen uniformly at random.
func (r *Registry) PickLive() (*Backend, error) {
	if len(r.live) == 0 {
		return nil, ErrNoBackends
	}
	keys := make([]string, 0, len(r.live))
	for k := range r.live {
		keys = append(keys, k)
	}
	return r.live[keys[r.rng.Intn(len(keys))]], nil
}

// LiveCount returns the number of currently-live backends, for telemetry.
func (r *Registry) LiveCount() int { return len(r.live) }

// Snapshot returns a copy of the live backends, safe to hand to the admin
// API (itself only ever invoked from the owning goroutine, see
// SPEC_FULL.md §5).
func (r *Registry) Snapshot() []Backend {
	out := make([]Backend, 0, len(r.live))
	for _, b := range r.live {
		out = append(out, *b)
	}
	return out
}
