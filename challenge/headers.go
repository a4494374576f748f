package challenge

import (
	"net/http"
	"net/netip"
	"strings"

	"github.com/omnia-iot/omnia-backend/interfaces"
)

const (
	HeaderForwardedFor = "X-Forwarded-For"
	HeaderProxiedFor   = "X-Proxied-For"
	HeaderPeerID       = "X-Peer-Id"
)

// ParseHeaders derives the requester of an /ip-challenge call.
//
// The last element of X-Forwarded-For is the adjacent peer. When it is the
// proxy, the original caller is X-Proxied-For and the gateway behind the proxy
// is X-Peer-Id, and both are required. Otherwise the proxy headers are ignored.
//
// Returns:
//   - the challenge value without its timestamp
//   - *interfaces.MissingHeaderError or *interfaces.MalformedHeaderError
func ParseHeaders(h http.Header, proxyIP netip.Addr) (interfaces.IPChallenge, error) {
	chain := strings.Join(h.Values(HeaderForwardedFor), ",")
	if strings.TrimSpace(chain) == "" {
		return interfaces.IPChallenge{}, &interfaces.MissingHeaderError{Name: strings.ToLower(HeaderForwardedFor)}
	}

	hops := strings.Split(chain, ",")
	lastHop := strings.TrimSpace(hops[len(hops)-1])
	peer, err := parseIP(HeaderForwardedFor, lastHop)
	if err != nil {
		return interfaces.IPChallenge{}, err
	}

	if !proxyIP.IsValid() || peer != proxyIP {
		return interfaces.IPChallenge{RequesterIP: peer.String()}, nil
	}

	proxiedFor := strings.TrimSpace(h.Get(HeaderProxiedFor))
	if proxiedFor == "" {
		return interfaces.IPChallenge{}, &interfaces.MissingHeaderError{Name: strings.ToLower(HeaderProxiedFor)}
	}
	peerID := strings.TrimSpace(h.Get(HeaderPeerID))
	if peerID == "" {
		return interfaces.IPChallenge{}, &interfaces.MissingHeaderError{Name: strings.ToLower(HeaderPeerID)}
	}
	origin, err := parseIP(HeaderProxiedFor, proxiedFor)
	if err != nil {
		return interfaces.IPChallenge{}, err
	}

	return interfaces.IPChallenge{
		RequesterIP:       origin.String(),
		ProxiedGatewayUID: peerID,
		IsProxied:         true,
	}, nil
}

func parseIP(header, value string) (netip.Addr, error) {
	addr, err := netip.ParseAddr(value)
	if err != nil {
		return netip.Addr{}, &interfaces.MalformedHeaderError{Name: strings.ToLower(header), Value: value}
	}
	return addr.Unmap(), nil
}
