// Package dispatcher implements the packet-in classification and handling
// at the heart of the balancer: ARP replies, server-origin TCP, and
// client-to-service TCP are each routed to the component that owns their
// state, with everything else dropped. Grounded on
// pox/misc/ip_loadbalancer.py's _handle_PacketIn, generalized from POX's
// event/packet objects to this module's control.PacketIn/packet.Parsed
// types.
package dispatcher

import (
	"net"
	"time"

	"github.com/google/gopacket/layers"

	"github.com/CHINTADINESH/iplb/internal/control"
	"github.com/CHINTADINESH/iplb/internal/flowmemory"
	"github.com/CHINTADINESH/iplb/internal/ofp"
	"github.com/CHINTADINESH/iplb/internal/registry"
	"github.com/CHINTADINESH/iplb/internal/ruleinstaller"
)

// Logger is the subset of logging.Logger the dispatcher needs.
type Logger interface {
	Infof(format string, args ...interface{})
	Debugf(format string, args ...interface{})
	Warnf(format string, args ...interface{})
}

// Metrics is the subset of metrics.Metrics the dispatcher drives.
type Metrics interface {
	Dropped(reason string)
	FlowModInstalled(direction string)
	ARPReplyTrusted()
	SetFlowEntries(n int)
}

// Prober is the subset of prober.Prober the dispatcher needs: clearing an
// outstanding probe when its ARP reply arrives.
type Prober interface {
	Retire(ip net.IP, now time.Time) bool
}

// Drop reasons, used both for logging and as metrics labels.
const (
	ReasonNoBackends     = "no_backends"
	ReasonUnknownReverse = "unknown_reverse_flow"
	ReasonOther          = "other"
)

// Dispatcher wires the registry, flow memory and prober together. The
// Balancer is the PacketInHandler registered against the switch connection
// and hands every packet-in on to the Dispatcher, so it is only ever
// invoked from the balancer's single owning goroutine
// (SPEC_FULL.md §5); it keeps no locks.
type Dispatcher struct {
	conn      control.Connection
	reg       *registry.Registry
	mem       *flowmemory.Memory
	prober    Prober
	serviceIP net.IP
	mac       net.HardwareAddr
	log       Logger
	metrics   Metrics
}

// New builds a Dispatcher. prober may be any type satisfying the narrow
// Prober interface above (*prober.Prober in production).
func New(conn control.Connection, reg *registry.Registry, mem *flowmemory.Memory, prb Prober, serviceIP net.IP, mac net.HardwareAddr, log Logger, metrics Metrics) *Dispatcher {
	return &Dispatcher{
		conn:      conn,
		reg:       reg,
		mem:       mem,
		prober:    prb,
		serviceIP: serviceIP,
		mac:       mac,
		log:       log,
		metrics:   metrics,
	}
}

// HandlePacketIn classifies and handles one packet-in event.
func (d *Dispatcher) HandlePacketIn(evt control.PacketIn) {
	p := evt.Parsed
	if p == nil {
		d.drop(evt, ReasonOther, "malformed packet")
		return
	}

	if tcp, ok := p.TCP(); ok {
		ip4, ok := p.IPv4()
		if !ok {
			d.drop(evt, ReasonOther, "tcp frame without ipv4 header")
			return
		}
		d.handleTCP(evt, ip4.SrcIP, ip4.DstIP, uint16(tcp.SrcPort), uint16(tcp.DstPort))
		return
	}

	if arp, ok := p.ARP(); ok && arp.Operation == layers.ARPReply {
		d.handleARPReply(arp, evt.InPort)
		return
	}

	d.drop(evt, ReasonOther, "not tcp or arp-reply")
}

func (d *Dispatcher) handleTCP(evt control.PacketIn, srcIP, dstIP net.IP, srcPort, dstPort uint16) {
	now := time.Now()

	if d.reg.IsConfigured(srcIP) {
		d.handleServerOrigin(evt, srcIP, dstIP, srcPort, dstPort, now)
		return
	}

	if dstIP.Equal(d.serviceIP) {
		d.handleClientToService(evt, srcIP, dstIP, srcPort, dstPort, now)
		return
	}

	d.drop(evt, ReasonOther, "tcp neither server-origin nor client-to-service")
}

// handleServerOrigin matches spec §4.4.1's "server-origin" branch: a
// packet's 5-tuple IS the reverse key of some forward flow.
func (d *Dispatcher) handleServerOrigin(evt control.PacketIn, srcIP, dstIP net.IP, srcPort, dstPort uint16, now time.Time) {
	key := flowmemory.NewKey(srcIP, dstIP, srcPort, dstPort)
	entry, ok := d.mem.Lookup(key)
	if !ok {
		d.drop(evt, ReasonUnknownReverse, "server-origin packet with no flow-memory hit")
		return
	}

	d.mem.Refresh(entry, now)
	match, ok := ruleinstaller.MatchFromPacket(evt.Parsed, evt.InPort)
	if !ok {
		d.drop(evt, ReasonOther, "match construction failed")
		return
	}
	fm := ruleinstaller.Reverse(match, d.mac, d.serviceIP, entry.ClientPort, evt.BufferID, evt.Raw)
	d.send(fm, "reverse")
}

// handleClientToService matches spec §4.4.1's "client-to-service" branch.
func (d *Dispatcher) handleClientToService(evt control.PacketIn, srcIP, dstIP net.IP, srcPort, dstPort uint16, now time.Time) {
	key := flowmemory.NewKey(srcIP, dstIP, srcPort, dstPort)
	entry, hit := d.mem.Lookup(key)

	if hit && d.reg.IsLive(entry.BackendIP) {
		// sticky hit: reuse the prior backend.
	} else {
		backend, err := d.reg.PickLive()
		if err != nil {
			if d.log != nil {
				d.log.Warnf("no servers!")
			}
			d.drop(evt, ReasonNoBackends, "no live backend available")
			return
		}
		entry = &flowmemory.Entry{
			BackendIP:  backend.IP,
			ClientIP:   srcIP,
			ServiceIP:  dstIP,
			ClientTCP:  srcPort,
			ServiceTCP: dstPort,
			ClientPort: evt.InPort,
		}
		d.mem.Insert(entry)
		if d.metrics != nil {
			d.metrics.SetFlowEntries(d.mem.Len())
		}
	}

	d.mem.Refresh(entry, now)
	backend, ok := d.reg.Get(entry.BackendIP)
	if !ok {
		// the backend that owns this entry died between the liveness
		// check above and now (can't happen on the single-owner loop,
		// guarded here for defense-in-depth against future callers).
		d.drop(evt, ReasonNoBackends, "backend vanished before install")
		return
	}

	match, ok := ruleinstaller.MatchFromPacket(evt.Parsed, evt.InPort)
	if !ok {
		d.drop(evt, ReasonOther, "match construction failed")
		return
	}
	fm := ruleinstaller.Forward(match, backend.MAC, backend.IP, backend.Port, evt.BufferID, evt.Raw)
	d.send(fm, "forward")
}

// handleARPReply matches spec §4.4.2: only probes the Prober is actually
// waiting on are trusted.
func (d *Dispatcher) handleARPReply(arp *layers.ARP, inPort uint16) {
	srcIP := net.IP(arp.SourceProtAddress)
	srcMAC := net.HardwareAddr(arp.SourceHwAddress)

	if !d.prober.Retire(srcIP, time.Now()) {
		return // untrusted: no matching outstanding probe
	}

	if d.reg.MarkLive(srcIP, srcMAC, inPort) && d.log != nil {
		d.log.Infof("server %s is up at %s port %d", srcIP, srcMAC, inPort)
	}
	if d.metrics != nil {
		d.metrics.ARPReplyTrusted()
	}
}

func (d *Dispatcher) send(fm ofp.FlowMod, direction string) {
	if err := d.conn.Send(fm); err != nil {
		if d.log != nil {
			d.log.Warnf("installing %s flow_mod: %v", direction, err)
		}
		return
	}
	if d.metrics != nil {
		d.metrics.FlowModInstalled(direction)
	}
}

// drop releases any buffered packet-in with no actions, per spec §4.4's
// drop semantics, and logs/counts the reason.
func (d *Dispatcher) drop(evt control.PacketIn, reason, detail string) {
	if d.log != nil {
		d.log.Debugf("dropping packet-in: %s (%s)", detail, reason)
	}
	if d.metrics != nil {
		d.metrics.Dropped(reason)
	}
	if evt.BufferID == nil {
		return
	}
	po := ofp.PacketOut{
		BufferID: evt.BufferID,
		InPort:   evt.InPort,
		Actions:  nil,
	}
	if err := d.conn.Send(po); err != nil && d.log != nil {
		d.log.Warnf("releasing buffered packet: %v", err)
	}
}
