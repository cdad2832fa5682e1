package dispatcher

import (
	"math/rand"
	"net"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"github.com/CHINTADINESH/iplb/internal/control"
	"github.com/CHINTADINESH/iplb/internal/flowmemory"
	"github.com/CHINTADINESH/iplb/internal/ofp"
	"github.com/CHINTADINESH/iplb/internal/packet"
	"github.com/CHINTADINESH/iplb/internal/registry"
)

func buildTCPFrame(t *testing.T, srcMAC, dstMAC net.HardwareAddr, srcIP, dstIP net.IP, srcPort, dstPort uint16) *packet.Parsed {
	t.Helper()

	eth := &layers.Ethernet{SrcMAC: srcMAC, DstMAC: dstMAC, EthernetType: layers.EthernetTypeIPv4}
	ip4 := &layers.IPv4{
		Version:  4,
		IHL:      5,
		TTL:      64,
		Protocol: layers.IPProtocolTCP,
		SrcIP:    srcIP.To4(),
		DstIP:    dstIP.To4(),
	}
	tcp := &layers.TCP{
		SrcPort: layers.TCPPort(srcPort),
		DstPort: layers.TCPPort(dstPort),
		SYN:     true,
	}
	if err := tcp.SetNetworkLayerForChecksum(ip4); err != nil {
		t.Fatalf("SetNetworkLayerForChecksum: %v", err)
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, eth, ip4, tcp); err != nil {
		t.Fatalf("SerializeLayers: %v", err)
	}

	parsed, err := packet.Parse(buf.Bytes())
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return parsed
}

type fakeConn struct {
	sent []ofp.OutgoingMessage
}

func (f *fakeConn) Send(msg ofp.OutgoingMessage) error {
	f.sent = append(f.sent, msg)
	return nil
}
func (f *fakeConn) AddListeners(control.PacketInHandler) {}
func (f *fakeConn) DPID() uint64                         { return 1 }

type fakeProber struct{ retireResult bool }

func (f *fakeProber) Retire(net.IP, time.Time) bool { return f.retireResult }

func newHarness(t *testing.T, servers ...string) (*Dispatcher, *fakeConn, *registry.Registry, *flowmemory.Memory) {
	t.Helper()
	var ips []net.IP
	for _, s := range servers {
		ips = append(ips, net.ParseIP(s).To4())
	}
	reg := registry.New(ips, rand.New(rand.NewSource(1)))
	mem := flowmemory.New(flowmemory.DefaultTimeout)
	conn := &fakeConn{}
	balancerMAC := net.HardwareAddr{0, 0, 0, 0, 0, 0x10}
	d := New(conn, reg, mem, &fakeProber{}, net.ParseIP("10.0.0.100").To4(), balancerMAC, nil, nil)
	return d, conn, reg, mem
}

// S2 — Forward install.
func TestForwardInstallOnClientToServicePacket(t *testing.T) {
	d, conn, reg, mem := newHarness(t, "10.0.0.1")
	backendMAC := net.HardwareAddr{0xaa, 0xbb, 0xcc, 0, 0, 1}
	reg.MarkLive(net.ParseIP("10.0.0.1").To4(), backendMAC, 3)

	clientMAC := net.HardwareAddr{0, 0, 0, 0, 0, 0x20}
	parsed := buildTCPFrame(t, clientMAC, d.mac,
		net.ParseIP("192.168.1.5"), net.ParseIP("10.0.0.100"), 40000, 80)

	d.HandlePacketIn(control.PacketIn{InPort: 1, Parsed: parsed})

	if len(conn.sent) != 1 {
		t.Fatalf("expected 1 flow_mod sent, got %d", len(conn.sent))
	}
	fm, ok := conn.sent[0].(ofp.FlowMod)
	if !ok {
		t.Fatalf("expected FlowMod, got %#v", conn.sent[0])
	}
	dst, ok := fm.Actions[0].(ofp.ActionSetDLDst)
	if !ok || dst.Addr.String() != backendMAC.String() {
		t.Fatalf("expected set-dl-dst to backend mac, got %#v", fm.Actions[0])
	}
	out, ok := fm.Actions[2].(ofp.ActionOutput)
	if !ok || out.Port != 3 {
		t.Fatalf("expected output port 3, got %#v", fm.Actions[2])
	}

	fk := flowmemory.NewKey(net.ParseIP("192.168.1.5"), net.ParseIP("10.0.0.100"), 40000, 80)
	rk := flowmemory.NewKey(net.ParseIP("10.0.0.1"), net.ParseIP("192.168.1.5"), 80, 40000)
	fe, ok := mem.Lookup(fk)
	if !ok {
		t.Fatalf("expected forward key present in memory")
	}
	re, ok := mem.Lookup(rk)
	if !ok || re != fe {
		t.Fatalf("expected reverse key to resolve to the same entry")
	}
}

// S3 — Reverse install, following S2.
func TestReverseInstallAfterForward(t *testing.T) {
	d, conn, reg, mem := newHarness(t, "10.0.0.1")
	backendMAC := net.HardwareAddr{0xaa, 0xbb, 0xcc, 0, 0, 1}
	reg.MarkLive(net.ParseIP("10.0.0.1").To4(), backendMAC, 3)

	entry := &flowmemory.Entry{
		BackendIP:  net.ParseIP("10.0.0.1").To4(),
		ClientIP:   net.ParseIP("192.168.1.5").To4(),
		ServiceIP:  net.ParseIP("10.0.0.100").To4(),
		ClientTCP:  40000,
		ServiceTCP: 80,
		ClientPort: 1,
	}
	mem.Insert(entry)
	mem.Refresh(entry, time.Now())

	parsed := buildTCPFrame(t, backendMAC, d.mac,
		net.ParseIP("10.0.0.1"), net.ParseIP("192.168.1.5"), 80, 40000)
	d.HandlePacketIn(control.PacketIn{InPort: 3, Parsed: parsed})

	if len(conn.sent) != 1 {
		t.Fatalf("expected 1 flow_mod sent, got %d", len(conn.sent))
	}
	fm := conn.sent[0].(ofp.FlowMod)
	src, ok := fm.Actions[0].(ofp.ActionSetDLSrc)
	if !ok || src.Addr.String() != d.mac.String() {
		t.Fatalf("expected set-dl-src to balancer mac, got %#v", fm.Actions[0])
	}
	nwsrc, ok := fm.Actions[1].(ofp.ActionSetNWSrc)
	if !ok || !nwsrc.Addr.Equal(net.ParseIP("10.0.0.100")) {
		t.Fatalf("expected set-nw-src to service ip, got %#v", fm.Actions[1])
	}
	out, ok := fm.Actions[2].(ofp.ActionOutput)
	if !ok || out.Port != 1 {
		t.Fatalf("expected output to client port 1, got %#v", fm.Actions[2])
	}
}

// S5 — Unknown reverse: server-origin packet with no matching flow.
func TestUnknownReverseFlowIsDropped(t *testing.T) {
	d, conn, reg, _ := newHarness(t, "10.0.0.1")
	backendMAC := net.HardwareAddr{0xaa, 0xbb, 0xcc, 0, 0, 1}
	reg.MarkLive(net.ParseIP("10.0.0.1").To4(), backendMAC, 3)

	parsed := buildTCPFrame(t, backendMAC, d.mac,
		net.ParseIP("10.0.0.1"), net.ParseIP("192.168.1.5"), 80, 40000)
	bufID := uint32(42)
	d.HandlePacketIn(control.PacketIn{InPort: 3, Parsed: parsed, BufferID: &bufID})

	if len(conn.sent) != 1 {
		t.Fatalf("expected 1 packet_out release, got %d", len(conn.sent))
	}
	po, ok := conn.sent[0].(ofp.PacketOut)
	if !ok || po.Actions != nil {
		t.Fatalf("expected empty-action packet_out releasing the buffer, got %#v", conn.sent[0])
	}
}

// S6 — No live backends: client-to-service SYN with an empty live set.
func TestNoLiveBackendsIsDropped(t *testing.T) {
	d, conn, _, mem := newHarness(t, "10.0.0.1")

	clientMAC := net.HardwareAddr{0, 0, 0, 0, 0, 0x20}
	parsed := buildTCPFrame(t, clientMAC, d.mac,
		net.ParseIP("192.168.1.5"), net.ParseIP("10.0.0.100"), 40000, 80)

	d.HandlePacketIn(control.PacketIn{InPort: 1, Parsed: parsed})

	if len(conn.sent) != 0 {
		t.Fatalf("expected no messages sent, got %d", len(conn.sent))
	}
	if mem.Len() != 0 {
		t.Fatalf("expected no memory mutation, got %d entries", mem.Len())
	}
}

// S4 — Backend death and re-balance: a dead backend's stale entry is
// re-assigned on the next client-to-service packet for the same 5-tuple.
func TestStaleBackendIsRebalanced(t *testing.T) {
	d, conn, reg, mem := newHarness(t, "10.0.0.1", "10.0.0.2")
	deadMAC := net.HardwareAddr{0xaa, 0, 0, 0, 0, 1}
	liveMAC := net.HardwareAddr{0xbb, 0, 0, 0, 0, 2}
	reg.MarkLive(net.ParseIP("10.0.0.1").To4(), deadMAC, 3)
	reg.MarkLive(net.ParseIP("10.0.0.2").To4(), liveMAC, 4)

	entry := &flowmemory.Entry{
		BackendIP:  net.ParseIP("10.0.0.1").To4(),
		ClientIP:   net.ParseIP("192.168.1.5").To4(),
		ServiceIP:  net.ParseIP("10.0.0.100").To4(),
		ClientTCP:  40000,
		ServiceTCP: 80,
		ClientPort: 1,
	}
	mem.Insert(entry)

	reg.MarkDead(net.ParseIP("10.0.0.1").To4())

	clientMAC := net.HardwareAddr{0, 0, 0, 0, 0, 0x20}
	parsed := buildTCPFrame(t, clientMAC, d.mac,
		net.ParseIP("192.168.1.5"), net.ParseIP("10.0.0.100"), 40000, 80)
	d.HandlePacketIn(control.PacketIn{InPort: 1, Parsed: parsed})

	if len(conn.sent) != 1 {
		t.Fatalf("expected 1 flow_mod sent, got %d", len(conn.sent))
	}
	fm := conn.sent[0].(ofp.FlowMod)
	dst := fm.Actions[0].(ofp.ActionSetDLDst)
	if dst.Addr.String() != liveMAC.String() {
		t.Fatalf("expected rebalance onto the surviving live backend, got %s", dst.Addr)
	}

	fk := flowmemory.NewKey(net.ParseIP("192.168.1.5"), net.ParseIP("10.0.0.100"), 40000, 80)
	fe, _ := mem.Lookup(fk)
	if !fe.BackendIP.Equal(net.ParseIP("10.0.0.2").To4()) {
		t.Fatalf("expected memory entry rewritten to the new backend")
	}
}
