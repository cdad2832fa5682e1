// Package balancer wires the registry, flow memory, prober, dispatcher
// and rule installer into one Balancer per OpenFlow switch connection,
// and supplies the single-owning-goroutine scheduling model described in
// SPEC_FULL.md §5: the original (pox/misc/ip_loadbalancer.py) runs on
// POX's single-threaded cooperative scheduler, where the Prober tick and
// packet-in handling never overlap. Go has no equivalent scheduler, so
// every mutation — packet-in, admin read, or prober tick — is funneled
// through one buffered channel drained by one goroutine.
package balancer

import (
	"math/rand"
	"net"
	"time"

	"github.com/CHINTADINESH/iplb/internal/control"
	"github.com/CHINTADINESH/iplb/internal/dispatcher"
	"github.com/CHINTADINESH/iplb/internal/flowmemory"
	"github.com/CHINTADINESH/iplb/internal/logging"
	"github.com/CHINTADINESH/iplb/internal/metrics"
	"github.com/CHINTADINESH/iplb/internal/netutil"
	"github.com/CHINTADINESH/iplb/internal/prober"
	"github.com/CHINTADINESH/iplb/internal/registry"
	"github.com/CHINTADINESH/iplb/internal/scheduler"
)

// commandQueueSize bounds how many packet-ins/admin-reads/prober-ticks may
// be queued awaiting the owning goroutine before callers start blocking.
const commandQueueSize = 256

type command func()

// loopScheduler adapts a scheduler.Timer (whose callback fires on a timer
// goroutine) into a control.Scheduler whose callback instead runs on the
// Balancer's owning goroutine — it only ever posts the callback onto the
// command queue, never invokes it directly.
type loopScheduler struct {
	b     *Balancer
	timer *scheduler.Timer
}

func (s *loopScheduler) ScheduleAfter(d time.Duration, fn func()) {
	s.timer.ScheduleAfter(d, func() { s.b.post(fn) })
}

// Balancer is created once per switch connection (mirrors the original's
// one-instance-per-ConnectionUp lifecycle) and owns every mutable
// structure below. Only the goroutine started by Run touches reg/mem/
// prober/dispatcher directly; every other caller goes through post.
type Balancer struct {
	conn   control.Connection
	cmds   chan command
	done   chan struct{}
	timer  *scheduler.Timer

	reg        *registry.Registry
	mem        *flowmemory.Memory
	prober     *prober.Prober
	dispatcher *dispatcher.Dispatcher

	serviceIP net.IP
	mac       net.HardwareAddr
	log       logging.Logger
}

// Config is the subset of config.Config a Balancer needs; kept separate
// from the config package to avoid an import cycle and to keep this
// package's dependency surface to exactly what it uses.
type Config struct {
	ServiceIP         net.IP
	Servers           []net.IP
	ProbeCycleTime    time.Duration
	ArpTimeout        time.Duration
	FlowMemoryTimeout time.Duration
}

// New builds a Balancer for conn and registers it as conn's packet-in
// handler. Call Run to start its owning goroutine and the first probe
// tick.
func New(conn control.Connection, cfg Config, log logging.Logger, m *metrics.Metrics) *Balancer {
	if log == nil {
		log = logging.Nop{}
	}
	mac := netutil.DPIDToMAC(conn.DPID())
	reg := registry.New(cfg.Servers, rand.New(rand.NewSource(time.Now().UnixNano())))
	mem := flowmemory.New(cfg.FlowMemoryTimeout)

	b := &Balancer{
		conn:      conn,
		cmds:      make(chan command, commandQueueSize),
		done:      make(chan struct{}),
		reg:       reg,
		mem:       mem,
		serviceIP: cfg.ServiceIP,
		mac:       mac,
		log:       log,
	}

	timer := scheduler.New()
	b.timer = timer
	sched := &loopScheduler{b: b, timer: timer}

	prb := prober.New(conn, sched, reg, mem, cfg.ServiceIP, mac, log, m)
	prb.SetTimings(cfg.ProbeCycleTime, cfg.ArpTimeout)
	b.prober = prb

	b.dispatcher = dispatcher.New(conn, reg, mem, prb, cfg.ServiceIP, mac, log, m)

	conn.AddListeners(b)
	return b
}

// Run starts the owning goroutine and issues the first probe tick. It
// returns immediately; the goroutine runs until Stop is called.
func (b *Balancer) Run() {
	go b.loop()
	b.post(b.prober.Start)
}

// Stop halts the prober's self-rescheduling and the owning goroutine.
// The switch connection itself is not closed here — that remains the
// controller runtime's responsibility (see control.Connection).
func (b *Balancer) Stop() {
	b.timer.Stop()
	close(b.done)
}

func (b *Balancer) loop() {
	for {
		select {
		case cmd := <-b.cmds:
			cmd()
		case <-b.done:
			return
		}
	}
}

// post enqueues cmd for execution on the owning goroutine. It never runs
// cmd inline, preserving the serialization guarantee of SPEC_FULL.md §5.
func (b *Balancer) post(cmd command) {
	select {
	case b.cmds <- cmd:
	case <-b.done:
	}
}

// HandlePacketIn implements control.PacketInHandler. The event is handed
// to the dispatcher on the owning goroutine, never inline on the caller's
// goroutine (which on a real controller runtime is typically the
// connection's own read loop).
func (b *Balancer) HandlePacketIn(evt control.PacketIn) {
	b.post(func() { b.dispatcher.HandlePacketIn(evt) })
}

// Backends answers the admin API's /backends endpoint. Reading registry
// state from any other goroutine would race with the owning goroutine's
// writes, so the read itself is posted onto the command queue and the
// result handed back over a reply channel.
func (b *Balancer) Backends() []registry.Backend {
	reply := make(chan []registry.Backend, 1)
	b.post(func() { reply <- b.reg.Snapshot() })
	select {
	case backends := <-reply:
		return backends
	case <-b.done:
		return nil
	}
}

// Flows answers the admin API's /flows endpoint, under the same
// posted-read discipline as Backends.
func (b *Balancer) Flows() []*flowmemory.Entry {
	reply := make(chan []*flowmemory.Entry, 1)
	b.post(func() { reply <- b.mem.Entries() })
	select {
	case entries := <-reply:
		return entries
	case <-b.done:
		return nil
	}
}
