package utils

import (
	"net"
	"strings"
)

// GetLocalIPs returns the non-loopback IPv4 addresses terminals can reach the
// node on, for the startup log and /health.
func GetLocalIPs() []string {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return nil
	}
	var ips []string
	for _, addr := range addrs {
		if ipnet, ok := addr.(*net.IPNet); ok && !ipnet.IP.IsLoopback() && ipnet.IP.To4() != nil {
			ips = append(ips, ipnet.IP.String())
		}
	}
	return FilterLinkLocal(ips)
}

// FilterLinkLocal drops link-local (169.254.x.x) addresses, but only if a
// routable alternative exists.
func FilterLinkLocal(ips []string) []string {
	hasRoutable := false
	for _, ip := range ips {
		if !strings.HasPrefix(ip, "169.254") {
			hasRoutable = true
			break
		}
	}
	if !hasRoutable {
		return ips
	}
	out := make([]string, 0, len(ips))
	for _, ip := range ips {
		if !strings.HasPrefix(ip, "169.254") {
			out = append(out, ip)
		}
	}
	return out
}
