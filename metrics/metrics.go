// Package metrics registers the Prometheus collectors of the registry and
// serves them on a dedicated listener.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "omnia"

var (
	// ChallengesIngested counts /ip-challenge requests by outcome.
	ChallengesIngested = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ip_challenges_ingested_total",
		Help:      "IP challenges received over HTTP, by result.",
	}, []string{"result"})

	// ChallengesConsumed counts consumption attempts by outcome.
	ChallengesConsumed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ip_challenges_consumed_total",
		Help:      "IP challenge consumption attempts, by result.",
	}, []string{"result"})

	ChallengesPurged = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ip_challenges_purged_total",
		Help:      "Expired IP challenges removed by the janitor.",
	})

	GatewaysRegistered = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "gateways_registered_total",
		Help:      "Gateways registered in an environment.",
	})

	DevicesRegistered = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "devices_registered_total",
		Help:      "Devices registered on a gateway.",
	})

	AccessKeysIssued = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "access_keys_issued_total",
		Help:      "Access keys issued against a settled transfer.",
	})

	// AccessKeyPresentations counts verified presentations by result
	// ("ok" or the rejection reason).
	AccessKeyPresentations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "access_key_presentations_total",
		Help:      "Signed access-key presentations, by result.",
	}, []string{"result"})

	RDFInsertFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rdf_insert_failures_total",
		Help:      "Best-effort RDF inserts that failed.",
	})

	RPCRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rpc_requests_total",
		Help:      "RPC calls, by method and error tag.",
	}, []string{"method", "tag"})
)

// Registry holds every collector of the process.
var Registry = prometheus.NewRegistry()

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		ChallengesIngested,
		ChallengesConsumed,
		ChallengesPurged,
		GatewaysRegistered,
		DevicesRegistered,
		AccessKeysIssued,
		AccessKeyPresentations,
		RDFInsertFailures,
		RPCRequests,
	)
}

// MetricsServer exposes Registry on /metrics.
type MetricsServer struct {
	srv *http.Server
}

// New creates a metrics server listening on addr.
func New(addr string) (*MetricsServer, error) {
	mux := chi.NewRouter()
	mux.Handle("/metrics", promhttp.HandlerFor(Registry, promhttp.HandlerOpts{Registry: Registry}))

	return &MetricsServer{
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}, nil
}

func (m *MetricsServer) ListenAndServe() error {
	return m.srv.ListenAndServe()
}

func (m *MetricsServer) Shutdown(ctx context.Context) error {
	return m.srv.Shutdown(ctx)
}
