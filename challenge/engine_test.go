package challenge

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/netip"
	"path/filepath"
	"testing"
	"time"

	"github.com/omnia-iot/omnia-backend/interfaces"
	"github.com/omnia-iot/omnia-backend/ratelimit"
	"github.com/omnia-iot/omnia-backend/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var proxyIP = netip.MustParseAddr("3.70.56.192")

func headers(kv ...string) http.Header {
	h := http.Header{}
	for i := 0; i+1 < len(kv); i += 2 {
		h.Add(kv[i], kv[i+1])
	}
	return h
}

func TestParseHeaders(t *testing.T) {
	tests := []struct {
		name    string
		headers http.Header
		want    interfaces.IPChallenge
		wantTag string
	}{
		{
			name:    "direct caller",
			headers: headers("x-forwarded-for", "198.51.100.7"),
			want:    interfaces.IPChallenge{RequesterIP: "198.51.100.7"},
		},
		{
			name:    "last hop of a chain",
			headers: headers("x-forwarded-for", "203.0.113.9, 10.1.1.1 ,198.51.100.7"),
			want:    interfaces.IPChallenge{RequesterIP: "198.51.100.7"},
		},
		{
			name:    "proxy headers ignored when last hop is not the proxy",
			headers: headers("x-forwarded-for", "198.51.100.7", "x-proxied-for", "10.0.0.5", "x-peer-id", "gw-abc"),
			want:    interfaces.IPChallenge{RequesterIP: "198.51.100.7"},
		},
		{
			name:    "proxied gateway",
			headers: headers("x-forwarded-for", "3.70.56.192", "x-proxied-for", "10.0.0.5", "x-peer-id", "gw-abc"),
			want:    interfaces.IPChallenge{RequesterIP: "10.0.0.5", ProxiedGatewayUID: "gw-abc", IsProxied: true},
		},
		{
			name:    "missing forwarded-for",
			headers: headers(),
			wantTag: "MissingHeader(x-forwarded-for)",
		},
		{
			name:    "proxy without proxied-for",
			headers: headers("x-forwarded-for", "3.70.56.192", "x-peer-id", "gw-abc"),
			wantTag: "MissingHeader(x-proxied-for)",
		},
		{
			name:    "proxy without peer id",
			headers: headers("x-forwarded-for", "3.70.56.192", "x-proxied-for", "10.0.0.5"),
			wantTag: "MissingHeader(x-peer-id)",
		},
		{
			name:    "garbage address",
			headers: headers("x-forwarded-for", "not-an-ip"),
			wantTag: "MalformedHeader(x-forwarded-for)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseHeaders(tt.headers, proxyIP)
			if tt.wantTag != "" {
				require.Error(t, err)
				assert.Equal(t, tt.wantTag, interfaces.ErrorTag(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func newTestEngine(t *testing.T, opts ...Option) (*Engine, *clock) {
	t.Helper()
	db, err := storage.Open(filepath.Join(t.TempDir(), "registry.db"), storage.WithNoSync(true))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	c := &clock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	opts = append([]Option{WithNow(c.now)}, opts...)
	return NewEngine(db, Config{ProxyIP: proxyIP, TTL: time.Minute, IngestLimit: 3}, logger, opts...), c
}

func TestNonceIsSingleUse(t *testing.T) {
	engine, _ := newTestEngine(t)

	_, err := engine.Ingest("n1", headers("x-forwarded-for", "198.51.100.7"))
	require.NoError(t, err)

	ip, err := engine.ConsumeIP("n1")
	require.NoError(t, err)
	assert.Equal(t, "198.51.100.7", ip)

	_, err = engine.Consume("n1")
	assert.ErrorIs(t, err, interfaces.ErrInvalidNonce)

	_, err = engine.Consume("never-ingested")
	assert.ErrorIs(t, err, interfaces.ErrInvalidNonce)
}

func TestIngestRejectsOutstandingNonce(t *testing.T) {
	engine, _ := newTestEngine(t)

	_, err := engine.Ingest("n1", headers("x-forwarded-for", "198.51.100.7"))
	require.NoError(t, err)

	_, err = engine.Ingest("n1", headers("x-forwarded-for", "203.0.113.1"))
	assert.ErrorIs(t, err, interfaces.ErrAlreadyExists)

	value, err := engine.Consume("n1")
	require.NoError(t, err)
	assert.Equal(t, "198.51.100.7", value.RequesterIP, "first ingestion wins")
}

func TestIngestRejectsEmptyNonce(t *testing.T) {
	engine, _ := newTestEngine(t)
	_, err := engine.Ingest("", headers("x-forwarded-for", "198.51.100.7"))
	assert.ErrorIs(t, err, interfaces.ErrMalformedBody)
}

func TestChallengeExpiry(t *testing.T) {
	engine, c := newTestEngine(t)

	_, err := engine.Ingest("fresh", headers("x-forwarded-for", "198.51.100.7"))
	require.NoError(t, err)
	_, err = engine.Ingest("stale", headers("x-forwarded-for", "198.51.100.7"))
	require.NoError(t, err)

	c.t = c.t.Add(time.Minute)
	_, err = engine.Consume("fresh")
	require.NoError(t, err, "a challenge is valid up to its TTL")

	c.t = c.t.Add(time.Second)
	_, err = engine.Consume("stale")
	assert.ErrorIs(t, err, interfaces.ErrChallengeExpired)

	_, err = engine.Consume("stale")
	assert.ErrorIs(t, err, interfaces.ErrInvalidNonce, "expired challenges are consumed too")
}

func TestPurgeExpired(t *testing.T) {
	engine, c := newTestEngine(t)

	_, err := engine.Ingest("old", headers("x-forwarded-for", "198.51.100.7"))
	require.NoError(t, err)
	c.t = c.t.Add(45 * time.Second)
	_, err = engine.Ingest("new", headers("x-forwarded-for", "198.51.100.7"))
	require.NoError(t, err)

	c.t = c.t.Add(30 * time.Second)
	purged, err := engine.PurgeExpired()
	require.NoError(t, err)
	assert.Equal(t, 1, purged)

	_, err = engine.Consume("old")
	assert.True(t, errors.Is(err, interfaces.ErrInvalidNonce))
	_, err = engine.Consume("new")
	assert.NoError(t, err)
}

func TestIngestRateLimit(t *testing.T) {
	engine, _ := newTestEngine(t, WithLimiter(ratelimit.NewInMemory(time.Hour)))

	for _, nonce := range []string{"a", "b", "c"} {
		_, err := engine.Ingest(nonce, headers("x-forwarded-for", "198.51.100.7"))
		require.NoError(t, err)
	}
	_, err := engine.Ingest("d", headers("x-forwarded-for", "198.51.100.7"))
	assert.ErrorIs(t, err, interfaces.ErrRateLimited)

	_, err = engine.Ingest("e", headers("x-forwarded-for", "203.0.113.1"))
	assert.NoError(t, err)
}
