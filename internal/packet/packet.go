// Package packet decodes and builds the Ethernet/ARP/IPv4/TCP frames the
// balancer handles. Decoding is a thin wrapper over gopacket; the balancer
// itself never hand-rolls header byte offsets.
package packet

import (
	"errors"
	"net"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// ErrMalformed is returned when a packet-in payload does not even contain a
// valid Ethernet frame.
var ErrMalformed = errors.New("packet: malformed frame")

// Parsed is a lazily-decoded Ethernet frame, exposing only the layers the
// dispatcher cares about (ARP, IPv4, TCP).
type Parsed struct {
	raw gopacket.Packet
	eth *layers.Ethernet
	arp *layers.ARP
	ip4 *layers.IPv4
	tcp *layers.TCP
}

// Parse decodes raw bytes captured off the wire into a Parsed frame.
func Parse(data []byte) (*Parsed, error) {
	pkt := gopacket.NewPacket(data, layers.LayerTypeEthernet, gopacket.DecodeOptions{
		Lazy:   true,
		NoCopy: true,
	})

	ethLayer, ok := pkt.Layer(layers.LayerTypeEthernet).(*layers.Ethernet)
	if !ok {
		return nil, ErrMalformed
	}

	p := &Parsed{raw: pkt, eth: ethLayer}
	if l, ok := pkt.Layer(layers.LayerTypeARP).(*layers.ARP); ok {
		p.arp = l
	}
	if l, ok := pkt.Layer(layers.LayerTypeIPv4).(*layers.IPv4); ok {
		p.ip4 = l
	}
	if l, ok := pkt.Layer(layers.LayerTypeTCP).(*layers.TCP); ok {
		p.tcp = l
	}
	return p, nil
}

// Ethernet returns the decoded Ethernet header. Always non-nil for a
// successfully Parse'd frame.
func (p *Parsed) Ethernet() *layers.Ethernet { return p.eth }

// ARP returns the decoded ARP payload, if any.
func (p *Parsed) ARP() (*layers.ARP, bool) { return p.arp, p.arp != nil }

// IPv4 returns the decoded IPv4 header, if any.
func (p *Parsed) IPv4() (*layers.IPv4, bool) { return p.ip4, p.ip4 != nil }

// TCP returns the decoded TCP header, if any.
func (p *Parsed) TCP() (*layers.TCP, bool) { return p.tcp, p.tcp != nil }

// Raw returns the gopacket.Packet the layers above were decoded from, for
// callers that need to re-serialize or inspect it further (e.g. match
// construction from the original bytes).
func (p *Parsed) Raw() gopacket.Packet { return p.raw }

// BuildARPRequest serializes a broadcast ARP request, wrapped in an
// Ethernet frame, asking who has dstIP while claiming srcIP/srcMAC.
func BuildARPRequest(srcMAC net.HardwareAddr, srcIP, dstIP net.IP) ([]byte, error) {
	return buildARP(srcMAC, srcIP, dstIP, layers.ARPRequest, netBroadcast)
}

// netBroadcast is declared here (rather than imported from netutil) to keep
// this package's only internal dependency on gopacket's own types.
var netBroadcast = net.HardwareAddr{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}

func buildARP(srcMAC net.HardwareAddr, srcIP, dstIP net.IP, op uint16, dstMAC net.HardwareAddr) ([]byte, error) {
	eth := &layers.Ethernet{
		SrcMAC:       srcMAC,
		DstMAC:       dstMAC,
		EthernetType: layers.EthernetTypeARP,
	}
	arp := &layers.ARP{
		AddrType:          layers.LinkTypeEthernet,
		Protocol:          layers.EthernetTypeIPv4,
		HwAddressSize:     6,
		ProtAddressSize:   4,
		Operation:         op,
		SourceHwAddress:   []byte(srcMAC),
		SourceProtAddress: srcIP.To4(),
		DstHwAddress:      []byte(dstMAC),
		DstProtAddress:    dstIP.To4(),
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true}
	if err := gopacket.SerializeLayers(buf, opts, eth, arp); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
