package challenge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/netip"
	"time"

	"github.com/omnia-iot/omnia-backend/interfaces"
	"github.com/omnia-iot/omnia-backend/metrics"
	"github.com/omnia-iot/omnia-backend/ratelimit"
	"github.com/omnia-iot/omnia-backend/storage"
)

// DefaultTTL bounds the time between ingestion and consumption.
const DefaultTTL = 60 * time.Second

// Config holds the network-locality settings.
type Config struct {
	// ProxyIP is the address of the trusted proxy fronting proxied gateways.
	ProxyIP netip.Addr

	// TTL after which an unconsumed challenge is rejected and purged.
	TTL time.Duration

	// IngestLimit is the number of challenges one requester IP may submit
	// per limiter window. Zero disables rate limiting.
	IngestLimit int
}

// Engine stores challenges ingested over HTTP and hands out their verified
// requester IP exactly once.
type Engine struct {
	db         *storage.DB
	challenges *storage.Store[string, interfaces.IPChallenge]
	cfg        Config
	limiter    ratelimit.Limiter
	now        func() time.Time
	log        *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithNow sets the clock used for timestamps and expiry.
func WithNow(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// WithLimiter enables per-requester ingestion limits.
func WithLimiter(limiter ratelimit.Limiter) Option {
	return func(e *Engine) {
		e.limiter = limiter
	}
}

func NewEngine(db *storage.DB, cfg Config, log *slog.Logger, opts ...Option) *Engine {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	e := &Engine{
		db:         db,
		challenges: storage.NewStore[string, interfaces.IPChallenge](db, storage.RegionIPChallenges),
		cfg:        cfg,
		now:        time.Now,
		log:        log,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Ingest records a challenge for nonce from the request headers.
// An outstanding nonce cannot be ingested twice.
func (e *Engine) Ingest(nonce string, h http.Header) (interfaces.IPChallenge, error) {
	if nonce == "" {
		metrics.ChallengesIngested.WithLabelValues("malformed").Inc()
		return interfaces.IPChallenge{}, fmt.Errorf("%w: empty nonce", interfaces.ErrMalformedBody)
	}

	value, err := ParseHeaders(h, e.cfg.ProxyIP)
	if err != nil {
		metrics.ChallengesIngested.WithLabelValues("bad_headers").Inc()
		return interfaces.IPChallenge{}, err
	}

	if e.limiter != nil && e.cfg.IngestLimit > 0 {
		if d := e.limiter.Allow(value.RequesterIP, e.cfg.IngestLimit); !d.Allowed {
			metrics.ChallengesIngested.WithLabelValues("rate_limited").Inc()
			return interfaces.IPChallenge{}, fmt.Errorf("%w: %s until %s", interfaces.ErrRateLimited, value.RequesterIP, d.ResetAt.Format(time.RFC3339))
		}
	}

	value.TimestampNanos = e.now().UnixNano()
	if err := e.challenges.Create(nonce, value); err != nil {
		metrics.ChallengesIngested.WithLabelValues("duplicate").Inc()
		return interfaces.IPChallenge{}, err
	}

	metrics.ChallengesIngested.WithLabelValues("ok").Inc()
	e.log.Debug("Ingested IP challenge",
		"requesterIP", value.RequesterIP,
		"proxied", value.IsProxied,
		"peerID", value.ProxiedGatewayUID)
	return value, nil
}

// Consume atomically removes the challenge for nonce and returns it.
// A challenge older than the TTL is removed and reported as expired.
func (e *Engine) Consume(nonce string) (interfaces.IPChallenge, error) {
	value, err := e.challenges.Delete(nonce)
	if err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			metrics.ChallengesConsumed.WithLabelValues("invalid").Inc()
			return interfaces.IPChallenge{}, interfaces.ErrInvalidNonce
		}
		return interfaces.IPChallenge{}, err
	}

	if e.expired(value) {
		metrics.ChallengesConsumed.WithLabelValues("expired").Inc()
		return interfaces.IPChallenge{}, interfaces.ErrChallengeExpired
	}

	metrics.ChallengesConsumed.WithLabelValues("ok").Inc()
	return value, nil
}

// ConsumeIP is Consume returning only the verified requester IP.
func (e *Engine) ConsumeIP(nonce string) (string, error) {
	value, err := e.Consume(nonce)
	if err != nil {
		return "", err
	}
	return value.RequesterIP, nil
}

func (e *Engine) expired(value interfaces.IPChallenge) bool {
	return e.now().Sub(value.IssuedAt()) > e.cfg.TTL
}

// PurgeExpired removes every challenge older than the TTL.
func (e *Engine) PurgeExpired() (int, error) {
	purged := 0
	err := e.db.Update(func(tx *storage.Tx) error {
		view := e.challenges.In(tx)
		var stale []string
		err := view.Range(func(nonce string, value interfaces.IPChallenge) error {
			if e.expired(value) {
				stale = append(stale, nonce)
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, nonce := range stale {
			if _, err := view.Delete(nonce); err != nil {
				return err
			}
		}
		purged = len(stale)
		return nil
	})
	if err != nil {
		return 0, err
	}
	metrics.ChallengesPurged.Add(float64(purged))
	return purged, nil
}

// RunJanitor purges expired challenges every interval until ctx is done.
func (e *Engine) RunJanitor(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			purged, err := e.PurgeExpired()
			if err != nil {
				e.log.Error("Failed to purge expired IP challenges", "err", err)
				continue
			}
			if purged > 0 {
				e.log.Info("Purged expired IP challenges", "count", purged)
			}
		}
	}
}
