// Package metrics holds the Prometheus collectors of the wallet service.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/better-wallet/custody-wallets/internal/custody"
	"github.com/better-wallet/custody-wallets/pkg/types"
)

const namespace = "custody_wallets"

// Metrics implements custody.Observer and app.Observer and feeds the retry
// hook of custody.Policy.
type Metrics struct {
	gatherer prometheus.Gatherer

	custodyCalls    *prometheus.CounterVec
	custodyDuration *prometheus.HistogramVec
	retries         *prometheus.CounterVec
	provisions      *prometheus.CounterVec
	httpRequests    *prometheus.CounterVec
}

// New registers all collectors on reg.
func New(reg *prometheus.Registry) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		gatherer: reg,
		custodyCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "custody",
			Name:      "calls_total",
			Help:      "Custody provider and chain calls by family, operation and outcome",
		}, []string{"family", "op", "outcome"}),
		custodyDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "custody",
			Name:      "call_duration_seconds",
			Help:      "Latency of custody provider and chain calls",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		}, []string{"family", "op"}),
		retries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "custody",
			Name:      "retries_total",
			Help:      "Retries scheduled by the retry policy, by error kind",
		}, []string{"kind"}),
		provisions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "wallets",
			Name:      "provisions_total",
			Help:      "Provisioning runs by chain type and outcome",
		}, []string{"chain_type", "outcome"}),
		httpRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route and status code",
		}, []string{"route", "code"}),
	}
}

// ObserveCall implements custody.Observer.
func (m *Metrics) ObserveCall(family, op, outcome string, elapsed time.Duration) {
	m.custodyCalls.WithLabelValues(family, op, outcome).Inc()
	m.custodyDuration.WithLabelValues(family, op).Observe(elapsed.Seconds())
}

// ObserveRetry matches custody.Policy.OnRetry.
func (m *Metrics) ObserveRetry(_ int, kind custody.Kind, _ time.Duration) {
	m.retries.WithLabelValues(string(kind)).Inc()
}

// ObserveProvision implements app.Observer.
func (m *Metrics) ObserveProvision(chainType types.ChainType, outcome string) {
	m.provisions.WithLabelValues(chainType.String(), outcome).Inc()
}

// ObserveRequest counts one HTTP response.
func (m *Metrics) ObserveRequest(route string, status int) {
	m.httpRequests.WithLabelValues(route, strconv.Itoa(status)).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

var _ custody.Observer = (*Metrics)(nil)
