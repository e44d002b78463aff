package api

import (
	"net"
	"net/http"
	"strconv"
	"strings"
)

var forwardingHeaders = []string{"X-Forwarded-For", "X-Real-IP", "CF-Connecting-IP"}

// ProxyTrust decides whether forwarding headers from a peer are believed.
// An empty list trusts every peer.
type ProxyTrust struct {
	nets []*net.IPNet
}

// NewProxyTrust parses CIDRs and bare IPs. Invalid entries are returned.
func NewProxyTrust(entries []string) (*ProxyTrust, []string) {
	t := &ProxyTrust{}
	var invalid []string
	for _, e := range entries {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		if !strings.Contains(e, "/") {
			if ip := net.ParseIP(e); ip != nil {
				bits := 32
				if ip.To4() == nil {
					bits = 128
				}
				e = ip.String() + "/" + strconv.Itoa(bits)
			}
		}
		_, n, err := net.ParseCIDR(e)
		if err != nil {
			invalid = append(invalid, e)
			continue
		}
		t.nets = append(t.nets, n)
	}
	return t, invalid
}

// Restricted reports whether at least one trusted network is configured.
func (t *ProxyTrust) Restricted() bool {
	return t != nil && len(t.nets) > 0
}

func (t *ProxyTrust) trusts(peer string) bool {
	if t == nil || len(t.nets) == 0 {
		return true
	}
	ip := net.ParseIP(peer)
	if ip == nil {
		return false
	}
	for _, n := range t.nets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// ClientOrigin resolves the caller's address: the first X-Forwarded-For
// entry, then X-Real-IP, then CF-Connecting-IP, then the socket peer.
func ClientOrigin(r *http.Request, trust *ProxyTrust) string {
	peer := remoteIP(r.RemoteAddr)
	if !trust.trusts(peer) {
		return peer
	}
	for _, h := range forwardingHeaders {
		v := strings.TrimSpace(r.Header.Get(h))
		if v == "" {
			continue
		}
		if h == "X-Forwarded-For" {
			v = strings.TrimSpace(strings.Split(v, ",")[0])
		}
		if v != "" {
			return v
		}
	}
	return peer
}

func remoteIP(addr string) string {
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}
