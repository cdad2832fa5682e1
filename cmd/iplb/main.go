// Command iplb is the launch surface for the SDN load balancer: it parses
// the configuration contract (service IP, backend pool, timing knobs),
// wires up logging, metrics and the admin API, and registers a one-shot
// ConnectionUp handler that instantiates exactly one Balancer per switch
// connection — the controller runtime (wire codec, connection bring-up,
// event dispatch) is an external collaborator this binary only consumes
// through the control.Connection interface.
//
// Grounded on the teacher's cmd/proxy/main.go: flag/env-driven startup,
// an http.Server started in a goroutine, and a signal.Notify-based
// graceful shutdown.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/CHINTADINESH/iplb/internal/adminapi"
	"github.com/CHINTADINESH/iplb/internal/balancer"
	"github.com/CHINTADINESH/iplb/internal/config"
	"github.com/CHINTADINESH/iplb/internal/control"
	"github.com/CHINTADINESH/iplb/internal/logging"
	"github.com/CHINTADINESH/iplb/internal/metrics"
)

func main() {
	ip := flag.String("ip", "", "virtual service IP clients connect to (required)")
	servers := flag.String("servers", "", "comma- or whitespace-separated backend IPv4 list (required)")
	adminAddr := flag.String("admin-addr", "", "admin API listen address (default "+config.DefaultAdminAddr+")")
	logFile := flag.String("log-file", "", "log file path (default "+config.DefaultLogFile+")")
	probeCycle := flag.Duration("probe-cycle", 0, "probe cycle time (default 5s)")
	arpTimeout := flag.Duration("arp-timeout", 0, "ARP reply timeout (default 3s)")
	flowMemTimeout := flag.Duration("flow-memory-timeout", 0, "flow affinity timeout (default 5m)")
	flag.Parse()

	cfg, err := config.FromFlags(*ip, *servers, *adminAddr, *logFile, *probeCycle, *arpTimeout, *flowMemTimeout)
	if err != nil {
		log.Fatalf("iplb: %v", err)
	}

	stdLogger, err := config.NewLogger(cfg.LogFile)
	if err != nil {
		log.Fatalf("iplb: setting up logging: %v", err)
	}
	lg := logging.New(stdLogger)

	m := metrics.New(prometheus.DefaultRegisterer)

	lg.Infof("iplb starting: service_ip=%s servers=%v admin_addr=%s", cfg.ServiceIP, cfg.Servers, cfg.AdminAddr)

	balCfg := balancer.Config{
		ServiceIP:         cfg.ServiceIP,
		Servers:           cfg.Servers,
		ProbeCycleTime:    cfg.ProbeCycleTime,
		ArpTimeout:        cfg.ArpTimeout,
		FlowMemoryTimeout: cfg.FlowMemoryTimeout,
	}

	// onConnectionUp is the one-shot handler spec.md §6 describes: the
	// controller runtime calls this exactly once per switch connection,
	// and it instantiates (and starts) the one Balancer that owns it.
	var srv *http.Server
	onConnectionUp := func(conn control.Connection) *balancer.Balancer {
		b := balancer.New(conn, balCfg, lg, m)
		b.Run()
		lg.Infof("balancer attached to switch dpid=%d", conn.DPID())

		if cfg.AdminAddr != "" && srv == nil {
			router := adminapi.New(b, metrics.Handler())
			srv = &http.Server{Addr: cfg.AdminAddr, Handler: router}
			go func() {
				lg.Infof("admin api listening on %s", cfg.AdminAddr)
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					lg.Warnf("admin api server error: %v", err)
				}
			}()
		}
		return b
	}

	// No controller runtime lives in this module (see control.Connection's
	// doc comment); registering the handler here documents the contract a
	// host runtime must fulfil. ConnectionUp is exposed as a package
	// variable so an embedding controller can assign its real connection
	// factory before invoking it.
	ConnectionUp = onConnectionUp

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	lg.Infof("iplb shutting down")
	if srv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

// ConnectionUp is set during startup to the handler that instantiates one
// Balancer per switch connection. A host controller runtime invokes it
// once per ConnectionUp event (spec.md §6).
var ConnectionUp func(conn control.Connection) *balancer.Balancer
