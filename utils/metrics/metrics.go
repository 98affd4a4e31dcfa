// Package metrics owns the process-wide prometheus registry and the metric
// families shared across components. Components create their own collectors
// and register them here during wiring, so tests can build components without
// touching global state.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

var (
	registry = prometheus.NewRegistry()
	logger   *zap.Logger
)

// Initialize installs the registry as the default registerer and attaches
// the standard process collectors.
func Initialize(log *zap.Logger) {
	logger = log
	prometheus.DefaultRegisterer = registry
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

// Registry returns the process registry.
func Registry() *prometheus.Registry {
	return registry
}

// Handler returns the exposition endpoint handler.
func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// SubstrateMetrics tracks the size of the execution substrate.
type SubstrateMetrics struct {
	Pools     prometheus.Gauge
	Providers prometheus.Gauge
	Snapshots prometheus.Counter
	Reverts   prometheus.Counter
}

func NewSubstrateMetrics(namespace string) *SubstrateMetrics {
	return &SubstrateMetrics{
		Pools: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pools",
			Help:      "Number of wired liquidity pools",
		}),
		Providers: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "loan_providers",
			Help:      "Number of wired loan providers",
		}),
		Snapshots: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshots_total",
			Help:      "Substrate snapshots taken",
		}),
		Reverts: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reverts_total",
			Help:      "Substrate snapshots reverted",
		}),
	}
}
