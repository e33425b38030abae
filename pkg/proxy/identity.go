package proxy

import (
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"strings"

	"mercator-hq/throttle/pkg/config"
)

const (
	// ForwardedForHeader lists the client and the proxies a request passed.
	ForwardedForHeader = "X-Forwarded-For"

	// RealIPHeader carries the client address set by a single proxy.
	RealIPHeader = "X-Real-IP"
)

// Identity is the caller a request is attributed to.
type Identity struct {
	// IP is the client address without port.
	IP string

	// UserID is the authenticated user, empty for anonymous callers.
	UserID string
}

// IdentityExtractor determines the caller of a request.
//
// The client IP is the connection peer. When forwarded headers are trusted
// and the peer is a trusted proxy, X-Forwarded-For is walked from the right,
// skipping trusted proxies, and the first untrusted address wins; X-Real-IP
// is used when X-Forwarded-For is absent. Headers from untrusted peers are
// ignored so a client cannot pick its own bucket. The same holds for the
// user header, which is read only when trusted and sent by a trusted proxy.
type IdentityExtractor struct {
	userHeader     string
	trustUser      bool
	trustForwarded bool
	trusted        []netip.Prefix
}

// NewIdentityExtractor creates an extractor from the identity config.
func NewIdentityExtractor(cfg *config.IdentityConfig) (*IdentityExtractor, error) {
	e := &IdentityExtractor{
		userHeader:     cfg.UserHeader,
		trustUser:      cfg.TrustUserHeader,
		trustForwarded: cfg.TrustForwardedHeaders,
	}
	if e.userHeader == "" {
		e.userHeader = config.DefaultUserHeader
	}

	for _, cidr := range cfg.TrustedProxies {
		prefix, err := netip.ParsePrefix(cidr)
		if err != nil {
			return nil, fmt.Errorf("invalid trusted proxy %q: %w", cidr, err)
		}
		e.trusted = append(e.trusted, prefix.Masked())
	}

	return e, nil
}

// Extract returns the identity of r.
func (e *IdentityExtractor) Extract(r *http.Request) Identity {
	id := Identity{IP: e.ClientIP(r)}
	if e.trustUser && e.isTrusted(remoteIP(r.RemoteAddr)) {
		id.UserID = strings.TrimSpace(r.Header.Get(e.userHeader))
	}
	return id
}

// ClientIP returns the client address of r.
func (e *IdentityExtractor) ClientIP(r *http.Request) string {
	peer := remoteIP(r.RemoteAddr)
	if !e.trustForwarded || !e.isTrusted(peer) {
		return peer
	}

	if xff := r.Header.Values(ForwardedForHeader); len(xff) > 0 {
		hops := strings.Split(strings.Join(xff, ","), ",")
		for i := len(hops) - 1; i >= 0; i-- {
			hop := strings.TrimSpace(hops[i])
			addr, err := netip.ParseAddr(hop)
			if err != nil {
				// A malformed hop ends the trusted chain.
				return peer
			}
			if !e.isTrusted(addr.Unmap().String()) {
				return addr.Unmap().String()
			}
		}
		// Every hop is a trusted proxy; the leftmost is the best guess.
		if addr, err := netip.ParseAddr(strings.TrimSpace(hops[0])); err == nil {
			return addr.Unmap().String()
		}
	}

	if real := strings.TrimSpace(r.Header.Get(RealIPHeader)); real != "" {
		if addr, err := netip.ParseAddr(real); err == nil {
			return addr.Unmap().String()
		}
	}

	return peer
}

func (e *IdentityExtractor) isTrusted(ip string) bool {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	for _, prefix := range e.trusted {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

// remoteIP strips the port from a RemoteAddr value.
func remoteIP(remoteAddr string) string {
	host, _, err := net.SplitHostPort(strings.TrimSpace(remoteAddr))
	if err != nil {
		host = strings.TrimSpace(remoteAddr)
	}
	if addr, err := netip.ParseAddr(host); err == nil {
		return addr.Unmap().String()
	}
	return host
}
