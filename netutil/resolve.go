package netutil

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"strings"
	"time"

	"github.com/miekg/dns"
)

// DefaultResolver is the local stub resolver.
const DefaultResolver = "127.0.0.53:53"

var ErrNoAddress = errors.New("no IPv4 address found")

// ResolveIPv4 queries server for the A records of host.
func ResolveIPv4(ctx context.Context, host, server string) ([]netip.Addr, error) {
	if server == "" {
		server = DefaultResolver
	}

	m := new(dns.Msg)
	m.Id = dns.Id()
	m.RecursionDesired = true
	m.Question = []dns.Question{{Name: dns.Fqdn(host), Qtype: dns.TypeA, Qclass: dns.ClassINET}}

	c := &dns.Client{Timeout: 5 * time.Second}
	in, _, err := c.ExchangeContext(ctx, m, server)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", host, err)
	}
	if in.Rcode != dns.RcodeSuccess {
		return nil, fmt.Errorf("failed to resolve %s: %s", host, dns.RcodeToString[in.Rcode])
	}

	addrs := make([]netip.Addr, 0, len(in.Answer))
	for _, answer := range in.Answer {
		if a, ok := answer.(*dns.A); ok {
			if addr, ok := netip.AddrFromSlice(a.A.To4()); ok {
				addrs = append(addrs, addr)
			}
		}
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("%w for %s", ErrNoAddress, host)
	}
	return addrs, nil
}

// ProxyAddress turns the proxy host setting (a URL or bare host name) into
// the proxy's IPv4 address. Literal addresses are returned as is.
func ProxyAddress(ctx context.Context, proxyHost, server string) (netip.Addr, error) {
	host := proxyHost
	if i := strings.Index(host, "://"); i >= 0 {
		host = host[i+3:]
	}
	host, _, _ = strings.Cut(host, "/")
	if h, _, ok := strings.Cut(host, ":"); ok {
		host = h
	}

	if addr, err := netip.ParseAddr(host); err == nil {
		return addr, nil
	}

	addrs, err := ResolveIPv4(ctx, host, server)
	if err != nil {
		return netip.Addr{}, err
	}
	return addrs[0], nil
}
