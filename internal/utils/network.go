package utils

import (
	"net"
	"strings"
)

var privateRanges = mustParseCIDRs(
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"127.0.0.0/8",
	"::1/128",
	"fc00::/7",
	"fe80::/10",
)

func mustParseCIDRs(cidrs ...string) []*net.IPNet {
	out := make([]*net.IPNet, 0, len(cidrs))
	for _, cidr := range cidrs {
		_, network, err := net.ParseCIDR(cidr)
		if err != nil {
			panic(err)
		}
		out = append(out, network)
	}
	return out
}

// hostIP strips an optional port and IPv6 brackets.
func hostIP(addr string) net.IP {
	addr = strings.TrimSpace(addr)
	if host, _, err := net.SplitHostPort(addr); err == nil {
		addr = host
	}
	return net.ParseIP(strings.Trim(addr, "[]"))
}

// IsPrivateIP checks if an address (with or without port) is loopback,
// link-local or in an RFC1918/ULA range.
func IsPrivateIP(addr string) bool {
	ip := hostIP(addr)
	if ip == nil {
		return false
	}
	if ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() {
		return true
	}
	for _, network := range privateRanges {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}

// IsTrustedNetwork checks an address against CIDR ranges. With no ranges
// configured every private address is trusted.
func IsTrustedNetwork(addr string, trustedNetworks []string) bool {
	if len(trustedNetworks) == 0 {
		return IsPrivateIP(addr)
	}

	ip := hostIP(addr)
	if ip == nil {
		return false
	}
	for _, cidr := range trustedNetworks {
		_, network, err := net.ParseCIDR(strings.TrimSpace(cidr))
		if err != nil {
			continue
		}
		if network.Contains(ip) {
			return true
		}
	}
	return false
}
