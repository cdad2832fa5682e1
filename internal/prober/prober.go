// Package prober implements the ARP-based backend liveness probe cycle:
// one ARP request per tick and at most one outstanding request per server,
// rotating round-robin through the configured servers, matching the original's _do_probe/_probe_wait_time
// (pox/misc/ip_loadbalancer.py) rather than any parallel health-check
// scheme. Probe round-trip time is additionally sampled into a rolling
// window and summarized with gonum/stat for observability — the original
// has no equivalent, this is ambient telemetry only and never influences
// liveness or selection.
package prober

import (
	"net"
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/CHINTADINESH/iplb/internal/control"
	"github.com/CHINTADINESH/iplb/internal/flowmemory"
	"github.com/CHINTADINESH/iplb/internal/ofp"
	"github.com/CHINTADINESH/iplb/internal/packet"
	"github.com/CHINTADINESH/iplb/internal/registry"
)

// Defaults mirror PROBE_CYCLE_TIME / ARP_TIMEOUT in the original.
const (
	DefaultProbeCycleTime = 5 * time.Second
	DefaultArpTimeout     = 3 * time.Second
	minProbeWait          = 250 * time.Millisecond
	rttHistorySize        = 64
)

// Logger is the subset of logging.Logger the prober needs.
type Logger interface {
	Debugf(format string, args ...interface{})
}

// Metrics is the subset of metrics.Metrics the prober drives.
type Metrics interface {
	ProbeSent()
	SetBackendsLive(n int)
	SetFlowEntries(n int)
	SetProbeRTT(p50, p99 float64)
}

type outstandingProbe struct {
	issued time.Time
	expiry time.Time
}

// Prober owns the probe rotation and outstanding-probe table. It is only
// ever driven from the balancer's single owning goroutine (SPEC_FULL.md
// §5); it keeps no locks of its own.
type Prober struct {
	conn  control.Connection
	sched control.Scheduler
	reg   *registry.Registry
	mem   *flowmemory.Memory

	serviceIP net.IP
	mac       net.HardwareAddr

	log     Logger
	metrics Metrics

	cycleTime  time.Duration
	arpTimeout time.Duration

	// rotation is the prober's own copy of the server order. It is
	// deliberately decoupled from registry.Registry: the registry tracks
	// which servers are configured/live, the prober tracks whose turn is
	// next, and the two must not fight over the same slice.
	rotation []net.IP

	outstanding map[string]outstandingProbe
	rttHistory  []float64
}

// New builds a Prober for serviceIP/mac against the given connection,
// scheduler, registry and flow memory.
func New(conn control.Connection, sched control.Scheduler, reg *registry.Registry, mem *flowmemory.Memory, serviceIP net.IP, mac net.HardwareAddr, log Logger, metrics Metrics) *Prober {
	servers := reg.Servers()
	rotation := make([]net.IP, len(servers))
	copy(rotation, servers)

	return &Prober{
		conn:        conn,
		sched:       sched,
		reg:         reg,
		mem:         mem,
		serviceIP:   serviceIP,
		mac:         mac,
		log:         log,
		metrics:     metrics,
		cycleTime:   DefaultProbeCycleTime,
		arpTimeout:  DefaultArpTimeout,
		rotation:    rotation,
		outstanding: make(map[string]outstandingProbe),
	}
}

// SetTimings overrides the probe cycle time and ARP reply timeout; call
// before Start.
func (p *Prober) SetTimings(cycle, arpTimeout time.Duration) {
	if cycle > 0 {
		p.cycleTime = cycle
	}
	if arpTimeout > 0 {
		p.arpTimeout = arpTimeout
	}
}

// Start issues the first probe immediately, mirroring __init__'s direct
// call to self._do_probe() in the original rather than waiting a full
// cycle before the first probe.
func (p *Prober) Start() {
	p.tick(time.Now())
}

func (p *Prober) tick(now time.Time) {
	p.expireOutstanding(now)
	p.sweepFlowMemory(now)

	if p.metrics != nil {
		p.metrics.SetBackendsLive(p.reg.LiveCount())
	}

	if len(p.rotation) == 0 {
		return
	}

	server := p.rotation[0]
	p.rotation = append(p.rotation[1:], server)
	p.sendProbe(server, now)

	wait := p.cycleTime / time.Duration(len(p.rotation))
	if wait < minProbeWait {
		wait = minProbeWait
	}
	p.sched.ScheduleAfter(wait, func() { p.tick(time.Now()) })
}

func (p *Prober) sendProbe(server net.IP, now time.Time) {
	data, err := packet.BuildARPRequest(p.mac, p.serviceIP, server)
	if err != nil {
		if p.log != nil {
			p.log.Debugf("building arp probe for %s: %v", server, err)
		}
		return
	}

	msg := ofp.PacketOut{
		InPort:  ofp.PortNone,
		Actions: []ofp.Action{ofp.ActionOutput{Port: ofp.PortFlood}},
		Data:    data,
	}
	if err := p.conn.Send(msg); err != nil {
		if p.log != nil {
			p.log.Debugf("sending arp probe to %s: %v", server, err)
		}
		return
	}
	if p.metrics != nil {
		p.metrics.ProbeSent()
	}

	p.outstanding[server.String()] = outstandingProbe{
		issued: now,
		expiry: now.Add(p.arpTimeout),
	}
}

// expireOutstanding marks any server whose probe has gone unanswered past
// arpTimeout as dead (the original's is_expired check inside _do_probe).
func (p *Prober) expireOutstanding(now time.Time) {
	for key, ob := range p.outstanding {
		if now.Before(ob.expiry) {
			continue
		}
		delete(p.outstanding, key)
		ip := net.ParseIP(key)
		if p.reg.MarkDead(ip) && p.log != nil {
			p.log.Debugf("server %s did not answer probe, marked dead", key)
		}
	}
}

func (p *Prober) sweepFlowMemory(now time.Time) {
	n := p.mem.Sweep(now)
	if p.metrics != nil {
		p.metrics.SetFlowEntries(p.mem.Len())
	}
	if n > 0 && p.log != nil {
		p.log.Debugf("expired %d flow-memory entries", n)
	}
}

// Retire records that an ARP reply arrived from ip and clears any
// outstanding probe for it, reporting whether a probe was actually
// outstanding. The dispatcher uses the return value to decide whether the
// reply is trusted. Only presence in the outstanding table is checked: a
// probe past its expiry still counts until the next tick removes it.
func (p *Prober) Retire(ip net.IP, now time.Time) bool {
	key := ip.String()
	ob, ok := p.outstanding[key]
	if !ok {
		return false
	}
	delete(p.outstanding, key)
	p.recordRTT(now.Sub(ob.issued).Seconds())
	return true
}

func (p *Prober) recordRTT(seconds float64) {
	if len(p.rttHistory) >= rttHistorySize {
		p.rttHistory = p.rttHistory[1:]
	}
	p.rttHistory = append(p.rttHistory, seconds)

	if p.metrics != nil {
		p.metrics.SetProbeRTT(p.percentile(0.5), p.percentile(0.99))
	}
}

// percentile returns the qth quantile of recorded probe RTTs, or 0 if no
// samples have been recorded yet.
func (p *Prober) percentile(q float64) float64 {
	n := len(p.rttHistory)
	if n == 0 {
		return 0
	}
	sorted := make([]float64, n)
	copy(sorted, p.rttHistory)
	sort.Float64s(sorted)
	return stat.Quantile(q, stat.Empirical, sorted, nil)
}
