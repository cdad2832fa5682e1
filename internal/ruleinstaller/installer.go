// Package ruleinstaller builds the flow_mod messages that NAT the service
// IP onto a backend at L2/L3, so only the first packet of each connection
// traverses the controller. Grounded on the original's ofp_flow_mod /
// ofp_action_dl_addr / ofp_action_nw_addr construction
// (pox/misc/ip_loadbalancer.py _handle_PacketIn).
package ruleinstaller

import (
	"net"

	"github.com/CHINTADINESH/iplb/internal/ofp"
	"github.com/CHINTADINESH/iplb/internal/packet"
)

const (
	ethTypeIPv4 = 0x0800
	ipProtoTCP  = 6
)

// MatchFromPacket derives an exact match over the 5-tuple and ingress port
// of a parsed TCP/IPv4 frame — the Go equivalent of the switch's own
// "match from packet" helper (`ofp_match.from_packet` in the original).
func MatchFromPacket(p *packet.Parsed, inport uint16) (ofp.Match, bool) {
	ip4, ok := p.IPv4()
	if !ok {
		return ofp.Match{}, false
	}
	tcp, ok := p.TCP()
	if !ok {
		return ofp.Match{}, false
	}
	eth := p.Ethernet()
	return ofp.Match{
		InPort:  inport,
		DLSrc:   eth.SrcMAC,
		DLDst:   eth.DstMAC,
		DLType:  ethTypeIPv4,
		NWSrc:   ip4.SrcIP,
		NWDst:   ip4.DstIP,
		NWProto: ipProtoTCP,
		TPSrc:   uint16(tcp.SrcPort),
		TPDst:   uint16(tcp.DstPort),
	}, true
}

// Forward builds the flow_mod that rewrites a client→service packet onto
// the chosen backend: set-dl-dst, set-nw-dst, output to the backend port.
func Forward(match ofp.Match, backendMAC net.HardwareAddr, backendIP net.IP, backendPort uint16, bufferID *uint32, data []byte) ofp.FlowMod {
	return ofp.FlowMod{
		Command:     ofp.FlowModAdd,
		IdleTimeout: ofp.FlowIdleTimeout,
		HardTimeout: ofp.FlowPermanent,
		Match:       match,
		Actions: []ofp.Action{
			ofp.ActionSetDLDst{Addr: backendMAC},
			ofp.ActionSetNWDst{Addr: backendIP},
			ofp.ActionOutput{Port: backendPort},
		},
		BufferID: bufferID,
		Data:     data,
	}
}

// Reverse builds the flow_mod that rewrites backend→client traffic to
// appear to originate from the balancer's own MAC and the service IP,
// output to the client's original ingress port. Per the original (and
// SPEC_FULL.md §9's resolved open question), this deliberately omits an
// explicit client-MAC rewrite, relying on switch default/learning
// behavior.
func Reverse(match ofp.Match, balancerMAC net.HardwareAddr, serviceIP net.IP, clientPort uint16, bufferID *uint32, data []byte) ofp.FlowMod {
	return ofp.FlowMod{
		Command:     ofp.FlowModAdd,
		IdleTimeout: ofp.FlowIdleTimeout,
		HardTimeout: ofp.FlowPermanent,
		Match:       match,
		Actions: []ofp.Action{
			ofp.ActionSetDLSrc{Addr: balancerMAC},
			ofp.ActionSetNWSrc{Addr: serviceIP},
			ofp.ActionOutput{Port: clientPort},
		},
		BufferID: bufferID,
		Data:     data,
	}
}
