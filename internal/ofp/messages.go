// Package ofp defines the slice of the OpenFlow 1.0 wire protocol the
// balancer emits: flow_mod and packet_out messages, match fields, and the
// handful of actions needed to NAT the service IP onto a backend. The
// actual wire codec, connection bring-up, and packet-in decode are treated
// as an external service the balancer consumes (see control.Connection);
// this package only models the messages exchanged with it.
package ofp

import (
	"net"
	"time"
)

// Special port numbers from the OpenFlow 1.0 spec that the balancer uses.
const (
	PortNone  uint16 = 0xffff // OFPP_NONE: not a real port, no input port
	PortFlood uint16 = 0xfffb // OFPP_FLOOD: all ports except the input one
)

// FlowIdleTimeout is how long an installed flow_mod may sit idle in the
// switch before it expires and packets of that flow return to the
// controller. Deliberately much shorter than the controller-side flow
// memory timeout (see flowmemory.DefaultTimeout) so that a flow can
// reappear at the controller and still be rebound to its prior backend.
const FlowIdleTimeout = 10 * time.Second

// FlowPermanent is the hard_timeout value meaning "never expire".
const FlowPermanent time.Duration = 0

// FlowModCommand enumerates flow_mod command codes. Only ADD is used.
type FlowModCommand uint8

// OFPFC_ADD.
const FlowModAdd FlowModCommand = 0

// Match mirrors an exact-match ofp_match: the 5-tuple plus ingress port
// that "match from packet" would derive from a TCP/IP packet-in.
type Match struct {
	InPort  uint16
	DLSrc   net.HardwareAddr
	DLDst   net.HardwareAddr
	DLType  uint16
	NWSrc   net.IP
	NWDst   net.IP
	NWProto uint8
	TPSrc   uint16
	TPDst   uint16
}

// Action is implemented by every action the rule installer can emit.
type Action interface{ isAction() }

// ActionSetDLSrc rewrites the Ethernet source address (reverse direction).
type ActionSetDLSrc struct{ Addr net.HardwareAddr }

// ActionSetDLDst rewrites the Ethernet destination address (forward direction).
type ActionSetDLDst struct{ Addr net.HardwareAddr }

// ActionSetNWSrc rewrites the IPv4 source address (reverse direction).
type ActionSetNWSrc struct{ Addr net.IP }

// ActionSetNWDst rewrites the IPv4 destination address (forward direction).
type ActionSetNWDst struct{ Addr net.IP }

// ActionOutput sends the packet out a switch port.
type ActionOutput struct{ Port uint16 }

func (ActionSetDLSrc) isAction()  {}
func (ActionSetDLDst) isAction()  {}
func (ActionSetNWSrc) isAction()  {}
func (ActionSetNWDst) isAction()  {}
func (ActionOutput) isAction()    {}

// OutgoingMessage is implemented by every message type the balancer sends
// to the switch.
type OutgoingMessage interface{ isOutgoing() }

// FlowMod installs a rule that rewrites and forwards matching traffic
// without further controller involvement, and (when BufferID is set)
// releases the buffered packet-in through the newly-installed rule.
type FlowMod struct {
	Command     FlowModCommand
	IdleTimeout time.Duration
	HardTimeout time.Duration // FlowPermanent means never expire
	Match       Match
	Actions     []Action
	BufferID    *uint32
	Data        []byte
}

// PacketOut asks the switch to emit a packet, optionally releasing a
// buffered packet-in (BufferID non-nil) instead of carrying its own Data.
type PacketOut struct {
	BufferID *uint32
	InPort   uint16
	Actions  []Action
	Data     []byte
}

func (FlowMod) isOutgoing()    {}
func (PacketOut) isOutgoing()  {}
