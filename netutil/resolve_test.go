package netutil

import (
	"context"
	"net"
	"net/netip"
	"testing"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startDNS serves A records for the given names on a local UDP port.
func startDNS(t *testing.T, records map[string]string) string {
	t.Helper()
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := &dns.Server{
		PacketConn: pc,
		Handler: dns.HandlerFunc(func(w dns.ResponseWriter, r *dns.Msg) {
			m := new(dns.Msg)
			m.SetReply(r)
			if ip, ok := records[r.Question[0].Name]; ok {
				rr, err := dns.NewRR(r.Question[0].Name + " 60 IN A " + ip)
				if err == nil {
					m.Answer = append(m.Answer, rr)
				}
			} else {
				m.Rcode = dns.RcodeNameError
			}
			_ = w.WriteMsg(m)
		}),
	}
	started := make(chan struct{})
	srv.NotifyStartedFunc = func() { close(started) }
	go func() { _ = srv.ActivateAndServe() }()
	<-started
	t.Cleanup(func() { _ = srv.Shutdown() })

	return pc.LocalAddr().String()
}

func TestResolveIPv4(t *testing.T) {
	server := startDNS(t, map[string]string{"proxy.omnia-iot.com.": "3.70.56.192"})

	addrs, err := ResolveIPv4(context.Background(), "proxy.omnia-iot.com", server)
	require.NoError(t, err)
	assert.Equal(t, []netip.Addr{netip.MustParseAddr("3.70.56.192")}, addrs)

	_, err = ResolveIPv4(context.Background(), "missing.omnia-iot.com", server)
	assert.Error(t, err)
}

func TestProxyAddress(t *testing.T) {
	server := startDNS(t, map[string]string{"proxy.omnia-iot.com.": "3.70.56.192"})

	tests := []struct {
		name      string
		proxyHost string
		want      string
	}{
		{"url", "https://proxy.omnia-iot.com", "3.70.56.192"},
		{"url with port and path", "https://proxy.omnia-iot.com:8443/base", "3.70.56.192"},
		{"bare host", "proxy.omnia-iot.com", "3.70.56.192"},
		{"literal", "http://10.1.2.3:80", "10.1.2.3"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			addr, err := ProxyAddress(context.Background(), tt.proxyHost, server)
			require.NoError(t, err)
			assert.Equal(t, netip.MustParseAddr(tt.want), addr)
		})
	}
}
