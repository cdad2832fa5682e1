// Package netutil holds small address-derivation helpers shared by the
// balancer components.
package netutil

import "net"

// Broadcast is the Ethernet broadcast address.
var Broadcast = net.HardwareAddr{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}

// DPIDToMAC derives a synthetic MAC address from the low 48 bits of an
// OpenFlow datapath ID. This gives the balancer a unique, config-free L2
// identity per switch, used as the source MAC for probes and as the
// gateway MAC rewritten into reverse-direction traffic.
func DPIDToMAC(dpid uint64) net.HardwareAddr {
	masked := dpid & 0xffffffffffff
	mac := make(net.HardwareAddr, 6)
	for i := 5; i >= 0; i-- {
		mac[i] = byte(masked & 0xff)
		masked >>= 8
	}
	return mac
}
