package security

import (
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// ProxyTrust resolves the client address of a request, reading forwarding
// headers only when the direct peer is one of the configured proxies.
type ProxyTrust struct {
	prefixes []netip.Prefix
}

// NewProxyTrust parses the trusted proxy CIDRs. An empty list trusts no one.
func NewProxyTrust(cidrs []string) (*ProxyTrust, error) {
	pt := &ProxyTrust{}
	for _, cidr := range cidrs {
		p, err := netip.ParsePrefix(strings.TrimSpace(cidr))
		if err != nil {
			return nil, fmt.Errorf("trusted proxy %q: %w", cidr, err)
		}
		pt.prefixes = append(pt.prefixes, p.Masked())
	}
	return pt, nil
}

func (pt *ProxyTrust) trusts(addr netip.Addr) bool {
	addr = addr.Unmap()
	for _, p := range pt.prefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// ClientIP returns the peer address, or the first X-Forwarded-For (then
// X-Real-Ip) address when the peer is a trusted proxy.
func (pt *ProxyTrust) ClientIP(r *http.Request) string {
	direct, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		direct = r.RemoteAddr
	}
	addr, err := netip.ParseAddr(direct)
	if err != nil || !pt.trusts(addr) {
		return direct
	}

	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if fwd, err := netip.ParseAddr(strings.TrimSpace(first)); err == nil {
			return fwd.String()
		}
	}
	if fwd, err := netip.ParseAddr(strings.TrimSpace(r.Header.Get("X-Real-Ip"))); err == nil {
		return fwd.String()
	}
	return direct
}
