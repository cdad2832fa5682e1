// Package adminapi exposes read-only JSON snapshots of balancer state plus
// a Prometheus /metrics endpoint over HTTP, separate from the OpenFlow
// connection itself. Grounded on the teacher's src/main.go (gorilla/mux
// router wiring a handful of read-only JSON endpoints alongside
// promhttp.Handler()).
package adminapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/CHINTADINESH/iplb/internal/flowmemory"
	"github.com/CHINTADINESH/iplb/internal/registry"
)

// BackendView is the JSON shape of one backend in the /backends response.
type BackendView struct {
	IP    string `json:"ip"`
	MAC   string `json:"mac"`
	Port  uint16 `json:"port"`
	State string `json:"state"`
}

// FlowView is the JSON shape of one flow-memory entry in the /flows
// response's sample.
type FlowView struct {
	ClientIP   string `json:"client_ip"`
	ServiceIP  string `json:"service_ip"`
	BackendIP  string `json:"backend_ip"`
	ClientTCP  uint16 `json:"client_port"`
	ServiceTCP uint16 `json:"service_port"`
	ExpiresIn  string `json:"expires_in"`
}

// FlowsResponse is the /flows JSON shape: a count of every current
// flow-memory entry plus a bounded sample of them (SPEC_FULL.md §4.7).
type FlowsResponse struct {
	Count  int        `json:"count"`
	Sample []FlowView `json:"sample"`
}

// maxFlowSample bounds how many entries /flows ever serializes, so the
// endpoint stays cheap regardless of how many flows are live.
const maxFlowSample = 100

// Snapshot is whatever the admin API needs to read from the balancer to
// answer requests. Its methods are called from HTTP handler goroutines;
// *balancer.Balancer answers them by posting the read onto its owning
// goroutine and blocking until the reply arrives (SPEC_FULL.md §5).
type Snapshot interface {
	Backends() []registry.Backend
	Flows() []*flowmemory.Entry
}

// New builds the admin router. metricsHandler is typically
// metrics.Handler(); it is injected rather than imported directly so this
// package has no hard Prometheus dependency of its own.
func New(snap Snapshot, metricsHandler http.Handler) *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", handleHealthz).Methods(http.MethodGet)
	r.HandleFunc("/backends", handleBackends(snap)).Methods(http.MethodGet)
	r.HandleFunc("/flows", handleFlows(snap)).Methods(http.MethodGet)
	r.Handle("/metrics", metricsHandler).Methods(http.MethodGet)
	return r
}

func handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func handleBackends(snap Snapshot) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		backends := snap.Backends()
		out := make([]BackendView, 0, len(backends))
		for _, b := range backends {
			out = append(out, BackendView{
				IP:    b.IP.String(),
				MAC:   b.MAC.String(),
				Port:  b.Port,
				State: stateName(b.State),
			})
		}
		writeJSON(w, out)
	}
}

func handleFlows(snap Snapshot) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		entries := snap.Flows()
		now := time.Now()

		sampleSize := len(entries)
		if sampleSize > maxFlowSample {
			sampleSize = maxFlowSample
		}
		sample := make([]FlowView, 0, sampleSize)
		for _, e := range entries[:sampleSize] {
			sample = append(sample, FlowView{
				ClientIP:   e.ClientIP.String(),
				ServiceIP:  e.ServiceIP.String(),
				BackendIP:  e.BackendIP.String(),
				ClientTCP:  e.ClientTCP,
				ServiceTCP: e.ServiceTCP,
				ExpiresIn:  e.Expiry.Sub(now).Round(time.Second).String(),
			})
		}
		writeJSON(w, FlowsResponse{Count: len(entries), Sample: sample})
	}
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func stateName(s registry.State) string {
	switch s {
	case registry.StateLive:
		return "live"
	default:
		return "unknown"
	}
}
