// Package flowmemory implements the bidirectional connection-affinity
// table: one AffinityEntry reachable from both its forward (client→service)
// and reverse (backend→client) 4-tuple key, so a flow that returns to the
// controller after its switch-side rule expires is rebound to the same
// backend instead of being re-balanced mid-connection.
//
// Grounded on the original's `self.memory` dict keyed by key1/key2 views
// of a single MemoryEntry (pox/misc/ip_loadbalancer.py). Rather than
// retaining the triggering packet, an Entry keeps the addresses and TCP
// ports from which ForwardKey and ReverseKey derive the two keys.
package flowmemory

import (
	"net"
	"time"
)

// DefaultTimeout is how long an AffinityEntry survives without a refresh.
// Deliberately much longer than ofp.FlowIdleTimeout: once the switch's
// hardware flow entry expires, the next packet of that flow returns to the
// controller, which must still remember which backend it was bound to.
const DefaultTimeout = 5 * time.Minute

// Key is a 4-tuple flow fingerprint, comparable so it can be used directly
// as a map key. Addresses are fixed to 4 bytes: the balancer only handles
// IPv4 TCP traffic.
type Key struct {
	SrcIP    [4]byte
	DstIP    [4]byte
	SrcPort  uint16
	DstPort  uint16
}

// NewKey builds a Key from a 4-tuple. Exported so the dispatcher can derive
// the same key a packet-in would, without needing a flowmemory.Entry.
func NewKey(src, dst net.IP, srcPort, dstPort uint16) Key {
	var k Key
	copy(k.SrcIP[:], src.To4())
	copy(k.DstIP[:], dst.To4())
	k.SrcPort = srcPort
	k.DstPort = dstPort
	return k
}

// Entry binds one client flow to one backend. ClientPort here is the
// switch ingress port the flow's first packet arrived on (the original's
// "client_port"), not a TCP port.
type Entry struct {
	BackendIP   net.IP
	ClientIP    net.IP
	ServiceIP   net.IP
	ClientTCP   uint16
	ServiceTCP  uint16
	ClientPort  uint16 // switch ingress port
	Expiry      time.Time
}

// ForwardKey is the (clientIP, serviceIP, clientPort, servicePort) view.
func (e *Entry) ForwardKey() Key {
	return NewKey(e.ClientIP, e.ServiceIP, e.ClientTCP, e.ServiceTCP)
}

// ReverseKey is the (backendIP, clientIP, servicePort, clientPort) view.
func (e *Entry) ReverseKey() Key {
	return NewKey(e.BackendIP, e.ClientIP, e.ServiceTCP, e.ClientTCP)
}

// IsExpired reports whether the entry is past its expiry at now.
func (e *Entry) IsExpired(now time.Time) bool { return now.After(e.Expiry) }

// Memory is the bidirectional flow table.
type Memory struct {
	timeout time.Duration
	table   map[Key]*Entry
}

// New creates an empty Memory with the given affinity timeout.
func New(timeout time.Duration) *Memory {
	return &Memory{timeout: timeout, table: make(map[Key]*Entry)}
}

// Lookup returns the entry for k, if present.
func (m *Memory) Lookup(k Key) (*Entry, bool) {
	e, ok := m.table[k]
	return e, ok
}

// Insert adds e under both its forward and reverse keys. The two keys
// always resolve to the same *Entry (invariant 1, SPEC_FULL.md §8).
func (m *Memory) Insert(e *Entry) {
	m.table[e.ForwardKey()] = e
	m.table[e.ReverseKey()] = e
}

// Refresh extends e's expiry from now. Both key views observe the change
// since they point at the same Entry.
func (m *Memory) Refresh(e *Entry, now time.Time) {
	e.Expiry = now.Add(m.timeout)
}

// Sweep removes every expired entry and returns how many map slots were
// freed (an entry present under two keys counts as two).
func (m *Memory) Sweep(now time.Time) int {
	before := len(m.table)
	for k, e := range m.table {
		if e.IsExpired(now) {
			delete(m.table, k)
		}
	}
	return before - len(m.table)
}

// Len returns the number of key slots currently stored (forward + reverse
// keys counted separately), for telemetry.
func (m *Memory) Len() int { return len(m.table) }

// Entries returns each distinct AffinityEntry once, for the admin API
// (an entry is stored under two keys but should be reported once).
func (m *Memory) Entries() []*Entry {
	seen := make(map[*Entry]bool, len(m.table)/2)
	out := make([]*Entry, 0, len(m.table)/2)
	for _, e := range m.table {
		if seen[e] {
			continue
		}
		seen[e] = true
		out = append(out, e)
	}
	return out
}
