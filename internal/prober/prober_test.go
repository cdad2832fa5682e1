package prober

import (
	"math/rand"
	"net"
	"testing"
	"time"

	"github.com/CHINTADINESH/iplb/internal/control"
	"github.com/CHINTADINESH/iplb/internal/flowmemory"
	"github.com/CHINTADINESH/iplb/internal/ofp"
	"github.com/CHINTADINESH/iplb/internal/registry"
)

type fakeConn struct {
	sent []ofp.OutgoingMessage
	fail bool
}

func (f *fakeConn) Send(msg ofp.OutgoingMessage) error {
	if f.fail {
		return errSendFailed
	}
	f.sent = append(f.sent, msg)
	return nil
}
func (f *fakeConn) AddListeners(control.PacketInHandler) {}
func (f *fakeConn) DPID() uint64                         { return 1 }

var errSendFailed = &sendError{}

type sendError struct{}

func (*sendError) Error() string { return "send failed" }

// fakeScheduler runs ScheduleAfter synchronously on demand, rather than on a
// wall-clock timer, so tests can drive the prober deterministically. It
// also records the requested delay so tests can assert on probe cadence.
type fakeScheduler struct {
	pending []func()
	waits   []time.Duration
}

func (s *fakeScheduler) ScheduleAfter(d time.Duration, fn func()) {
	s.waits = append(s.waits, d)
	s.pending = append(s.pending, fn)
}

func (s *fakeScheduler) runOne() {
	if len(s.pending) == 0 {
		return
	}
	fn := s.pending[0]
	s.pending = s.pending[1:]
	fn()
}

func newTestProber(t *testing.T, servers ...string) (*Prober, *fakeConn, *fakeScheduler) {
	t.Helper()
	var ips []net.IP
	for _, s := range servers {
		ips = append(ips, net.ParseIP(s).To4())
	}
	reg := registry.New(ips, rand.New(rand.NewSource(1)))
	mem := flowmemory.New(flowmemory.DefaultTimeout)
	conn := &fakeConn{}
	sched := &fakeScheduler{}
	mac := net.HardwareAddr{0, 0, 0, 0, 0, 1}
	p := New(conn, sched, reg, mem, net.ParseIP("10.0.0.100").To4(), mac, nil, nil)
	return p, conn, sched
}

func TestStartSendsImmediateProbe(t *testing.T) {
	p, conn, _ := newTestProber(t, "10.0.0.1", "10.0.0.2")
	p.Start()

	if len(conn.sent) != 1 {
		t.Fatalf("expected 1 probe sent, got %d", len(conn.sent))
	}
	po, ok := conn.sent[0].(ofp.PacketOut)
	if !ok {
		t.Fatalf("expected a PacketOut, got %#v", conn.sent[0])
	}
	if po.InPort != ofp.PortNone {
		t.Fatalf("expected InPort=PortNone, got %d", po.InPort)
	}
	if len(po.Actions) != 1 {
		t.Fatalf("expected 1 action, got %d", len(po.Actions))
	}
	out, ok := po.Actions[0].(ofp.ActionOutput)
	if !ok || out.Port != ofp.PortFlood {
		t.Fatalf("expected flood output action, got %#v", po.Actions[0])
	}
}

// TestProbeWaitMatchesCycleOverN guards spec.md §4.2.6's
// probe_wait_time = max(0.25s, probe_cycle_time/N): after the pop-front/
// append-back rotation, len(p.rotation) is already back to N, so the
// reschedule delay must divide by N, not N+1.
func TestProbeWaitMatchesCycleOverN(t *testing.T) {
	p, _, sched := newTestProber(t, "10.0.0.1")
	p.SetTimings(5*time.Second, DefaultArpTimeout)
	p.Start()
	if len(sched.waits) != 1 {
		t.Fatalf("expected 1 scheduled wait, got %d", len(sched.waits))
	}
	if got, want := sched.waits[0], 5*time.Second; got != want {
		t.Fatalf("N=1: expected wait %v, got %v", want, got)
	}

	p2, _, sched2 := newTestProber(t, "10.0.0.1", "10.0.0.2")
	p2.SetTimings(5*time.Second, DefaultArpTimeout)
	p2.Start()
	if got, want := sched2.waits[0], 2500*time.Millisecond; got != want {
		t.Fatalf("N=2: expected wait %v, got %v", want, got)
	}
}

func TestRotationCyclesThroughServers(t *testing.T) {
	p, conn, sched := newTestProber(t, "10.0.0.1", "10.0.0.2")
	p.Start()
	sched.runOne()
	sched.runOne()

	if len(conn.sent) != 3 {
		t.Fatalf("expected 3 probes sent, got %d", len(conn.sent))
	}
	// Only 2 distinct servers exist; the third send re-probes the first
	// server, overwriting (not adding to) its outstanding-probe entry.
	if len(p.outstanding) != 2 {
		t.Fatalf("expected 2 outstanding probes tracked (one per server), got %d", len(p.outstanding))
	}
}

func TestUnansweredProbeMarksBackendDead(t *testing.T) {
	p, _, _ := newTestProber(t, "10.0.0.1")
	p.SetTimings(time.Hour, time.Millisecond)
	reg := p.reg
	server := net.ParseIP("10.0.0.1").To4()
	reg.MarkLive(server, net.HardwareAddr{0, 0, 0, 0, 0, 9}, 3)

	p.Start()
	if !reg.IsLive(server) {
		t.Fatalf("server should still be live immediately after probing")
	}

	time.Sleep(2 * time.Millisecond)
	p.tick(time.Now())

	if reg.IsLive(server) {
		t.Fatalf("server should be marked dead after an unanswered probe")
	}
}

func TestRetireClearsOutstandingAndReportsTrust(t *testing.T) {
	p, _, _ := newTestProber(t, "10.0.0.1")
	server := net.ParseIP("10.0.0.1").To4()

	if p.Retire(server, time.Now()) {
		t.Fatalf("Retire should report false when no probe was outstanding")
	}

	p.Start()
	if !p.Retire(server, time.Now().Add(5*time.Millisecond)) {
		t.Fatalf("Retire should report true for a genuinely outstanding probe")
	}
	if len(p.outstanding) != 0 {
		t.Fatalf("expected outstanding probe to be cleared")
	}
	if len(p.rttHistory) != 1 {
		t.Fatalf("expected 1 rtt sample recorded, got %d", len(p.rttHistory))
	}
}

func TestPercentileWithNoSamplesIsZero(t *testing.T) {
	p, _, _ := newTestProber(t)
	if got := p.percentile(0.5); got != 0 {
		t.Fatalf("expected 0 with no samples, got %v", got)
	}
}
