// Package control declares the narrow interfaces the balancer needs from
// its OpenFlow controller runtime: a switch connection, a packet-in event
// stream, and a delayed-callback scheduler. Production implementations of
// these (wire codec, connection bring-up, event dispatch, the ARP-responder
// helper pre-owning the service IP) live outside this module; the
// balancer only ever programs against these interfaces.
package control

import (
	"time"

	"github.com/CHINTADINESH/iplb/internal/ofp"
	"github.com/CHINTADINESH/iplb/internal/packet"
)

// Connection is one OpenFlow switch connection. A Balancer is created per
// Connection and is its sole owner/writer.
type Connection interface {
	// Send enqueues an outgoing message on the connection's outbound
	// buffer. It does not block on network I/O.
	Send(msg ofp.OutgoingMessage) error
	// AddListeners registers the handler that receives this connection's
	// packet-in events. Called once, at Balancer construction.
	AddListeners(h PacketInHandler)
	// DPID is the switch's 64-bit OpenFlow datapath identifier.
	DPID() uint64
}

// PacketInHandler receives packet-in events for a Connection.
type PacketInHandler interface {
	HandlePacketIn(evt PacketIn)
}

// PacketIn is a single packet-in event escalated by the switch.
type PacketIn struct {
	InPort   uint16
	Parsed   *packet.Parsed
	BufferID *uint32 // nil means the switch included the full packet, no buffer
	Raw      []byte
}

// Scheduler runs fn once, after d elapses. Used by the Prober to
// self-reschedule its tick without blocking on a sleep.
type Scheduler interface {
	ScheduleAfter(d time.Duration, fn func())
}
