// Package config loads the balancer's configuration. Grounded on the
// teacher's config.NewFromEnv (env-var overlay with defaults); this port
// additionally layers CLI flags over the environment, since the launch
// surface here is a flag-first CLI binary (cmd/iplb) rather than a
// sidecar that is purely env-configured.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is everything one Balancer instance needs to run.
type Config struct {
	ServiceIP net.IP
	Servers   []net.IP

	ProbeCycleTime     time.Duration
	ArpTimeout         time.Duration
	FlowMemoryTimeout  time.Duration
	FlowIdleTimeout    time.Duration

	AdminAddr string // FromFlags always sets one (DefaultAdminAddr if none given), so it never disables the admin API
	LogFile   string
}

// Defaults mirror the constants in the original pox/misc/ip_loadbalancer.py.
const (
	DefaultProbeCycleTime    = 5 * time.Second
	DefaultArpTimeout        = 3 * time.Second
	DefaultFlowMemoryTimeout = 5 * time.Minute
	DefaultFlowIdleTimeout   = 10 * time.Second
	DefaultAdminAddr         = ":8080"
	DefaultLogFile           = "logs/iplb.log"
)

// FromFlags builds a Config from explicit CLI flag values, falling back to
// environment variables (IPLB_*) and then to the spec's defaults — the
// same precedence order as the teacher's getenv/getenvInt helpers, with
// flags added as the outermost layer.
func FromFlags(ip, servers, adminAddr, logFile string, probeCycle, arpTimeout, flowMemTimeout time.Duration) (*Config, error) {
	c := &Config{}

	ipStr := firstNonEmpty(ip, os.Getenv("IPLB_SERVICE_IP"))
	if ipStr == "" {
		return nil, errors.New("config: service ip is required")
	}
	svcIP := net.ParseIP(ipStr).To4()
	if svcIP == nil {
		return nil, fmt.Errorf("config: invalid service ip %q", ipStr)
	}
	c.ServiceIP = svcIP

	serverStr := firstNonEmpty(servers, os.Getenv("IPLB_SERVERS"))
	parsed, err := parseServerList(serverStr)
	if err != nil {
		return nil, err
	}
	if len(parsed) == 0 {
		return nil, errors.New("config: servers list must contain at least one address")
	}
	c.Servers = parsed

	c.ProbeCycleTime = durationOrDefault(probeCycle, "IPLB_PROBE_CYCLE_SECONDS", DefaultProbeCycleTime)
	c.ArpTimeout = durationOrDefault(arpTimeout, "IPLB_ARP_TIMEOUT_SECONDS", DefaultArpTimeout)
	c.FlowMemoryTimeout = durationOrDefault(flowMemTimeout, "IPLB_FLOW_MEMORY_TIMEOUT_SECONDS", DefaultFlowMemoryTimeout)
	c.FlowIdleTimeout = DefaultFlowIdleTimeout

	c.AdminAddr = firstNonEmpty(adminAddr, os.Getenv("IPLB_ADMIN_ADDR"))
	if c.AdminAddr == "" {
		c.AdminAddr = DefaultAdminAddr
	}
	c.LogFile = firstNonEmpty(logFile, os.Getenv("IPLB_LOG_FILE"))
	if c.LogFile == "" {
		c.LogFile = DefaultLogFile
	}

	return c, nil
}

// parseServerList accepts a comma- or whitespace-separated IPv4 list,
// matching launch(ip, servers) in the original: servers.replace(",", " ").split().
func parseServerList(s string) ([]net.IP, error) {
	normalized := strings.ReplaceAll(s, ",", " ")
	fields := strings.Fields(normalized)
	out := make([]net.IP, 0, len(fields))
	for _, f := range fields {
		ip := net.ParseIP(f).To4()
		if ip == nil {
			return nil, fmt.Errorf("config: invalid server address %q", f)
		}
		out = append(out, ip)
	}
	return out, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func durationOrDefault(flagVal time.Duration, envKey string, def time.Duration) time.Duration {
	if flagVal > 0 {
		return flagVal
	}
	if v := os.Getenv(envKey); v != "" {
		if secs, err := strconv.ParseFloat(v, 64); err == nil && secs > 0 {
			return time.Duration(secs * float64(time.Second))
		}
	}
	return def
}
