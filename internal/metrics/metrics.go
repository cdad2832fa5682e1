// Package metrics wires the balancer's counters and gauges into
// Prometheus, grounded on the teacher's src/metrics.go (package-level
// prometheus.Counter/Gauge, registered once at startup and updated from
// the hot path) generalized from HTTP proxy counters to the SDN
// balancer's own events.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every counter/gauge the balancer updates. A nil *Metrics
// receiver is valid everywhere below (all methods no-op), so components
// may be wired without telemetry in tests.
type Metrics struct {
	probesSent        prometheus.Counter
	arpRepliesTotal   prometheus.Counter
	backendsLive      prometheus.Gauge
	flowEntries       prometheus.Gauge
	packetsDropped    *prometheus.CounterVec
	flowModsInstalled *prometheus.CounterVec
	probeRTTP50       prometheus.Gauge
	probeRTTP99       prometheus.Gauge
}

// New creates and registers the balancer's metrics against reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		probesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "iplb_probes_sent_total",
			Help: "Total number of ARP probes emitted.",
		}),
		arpRepliesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "iplb_arp_replies_total",
			Help: "Total number of trusted ARP replies processed.",
		}),
		backendsLive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "iplb_backends_live",
			Help: "Current number of backends considered live.",
		}),
		flowEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "iplb_flow_entries",
			Help: "Current number of flow-memory key slots (forward + reverse).",
		}),
		packetsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "iplb_packets_dropped_total",
			Help: "Total number of packet-ins dropped, by reason.",
		}, []string{"reason"}),
		flowModsInstalled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "iplb_flow_mods_installed_total",
			Help: "Total number of flow_mod messages installed, by direction.",
		}, []string{"direction"}),
		probeRTTP50: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "iplb_probe_rtt_seconds_p50",
			Help: "Median observed ARP probe round-trip time.",
		}),
		probeRTTP99: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "iplb_probe_rtt_seconds_p99",
			Help: "99th percentile observed ARP probe round-trip time.",
		}),
	}

	reg.MustRegister(
		m.probesSent,
		m.arpRepliesTotal,
		m.backendsLive,
		m.flowEntries,
		m.packetsDropped,
		m.flowModsInstalled,
		m.probeRTTP50,
		m.probeRTTP99,
	)
	return m
}

// Handler returns the HTTP handler serving the default Prometheus registry
// (promhttp.Handler). Metrics registered by New on any other Registerer are
// not served by it.
func Handler() http.Handler { return promhttp.Handler() }

func (m *Metrics) ProbeSent() {
	if m == nil {
		return
	}
	m.probesSent.Inc()
}

func (m *Metrics) ARPReplyTrusted() {
	if m == nil {
		return
	}
	m.arpRepliesTotal.Inc()
}

func (m *Metrics) SetBackendsLive(n int) {
	if m == nil {
		return
	}
	m.backendsLive.Set(float64(n))
}

func (m *Metrics) SetFlowEntries(n int) {
	if m == nil {
		return
	}
	m.flowEntries.Set(float64(n))
}

func (m *Metrics) Dropped(reason string) {
	if m == nil {
		return
	}
	m.packetsDropped.WithLabelValues(reason).Inc()
}

func (m *Metrics) FlowModInstalled(direction string) {
	if m == nil {
		return
	}
	m.flowModsInstalled.WithLabelValues(direction).Inc()
}

func (m *Metrics) SetProbeRTT(p50, p99 float64) {
	if m == nil {
		return
	}
	m.probeRTTP50.Set(p50)
	m.probeRTTP99.Set(p99)
}
