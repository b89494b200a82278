package cache

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the cache's prometheus collectors on a private registry so
// several services (tests, mostly) can coexist in one process.
type Metrics struct {
	Hits            prometheus.Counter
	Misses          prometheus.Counter
	Sets            prometheus.Counter
	RemoteErrors    prometheus.Counter
	Invalidations   *prometheus.CounterVec
	InvalidatedKeys prometheus.Counter
	Swept           prometheus.Counter
	Debounce        *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics registers the cache collectors on a fresh registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Hits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "catalog",
			Subsystem: "cache",
			Name:      "hits_total",
			Help:      "Cache lookups answered from a cache tier",
		}),
		Misses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "catalog",
			Subsystem: "cache",
			Name:      "misses_total",
			Help:      "Cache lookups that fell through to the source of truth",
		}),
		Sets: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "catalog",
			Subsystem: "cache",
			Name:      "sets_total",
			Help:      "Entries written",
		}),
		RemoteErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "catalog",
			Subsystem: "cache",
			Name:      "remote_errors_total",
			Help:      "Failed or timed out calls to the remote tier",
		}),
		Invalidations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "catalog",
			Subsystem: "cache",
			Name:      "invalidations_total",
			Help:      "Invalidate calls by result",
		}, []string{"result"}),
		InvalidatedKeys: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "catalog",
			Subsystem: "cache",
			Name:      "invalidated_keys_total",
			Help:      "Unique keys removed by invalidation",
		}),
		Swept: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "catalog",
			Subsystem: "cache",
			Name:      "swept_total",
			Help:      "Expired entries removed by the sweeper",
		}),
		Debounce: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "catalog",
			Subsystem: "cache",
			Name:      "debounce_total",
			Help:      "Clear requests by debounce outcome",
		}, []string{"outcome"}),
	}

	m.registry.MustRegister(
		m.Hits, m.Misses, m.Sets, m.RemoteErrors,
		m.Invalidations, m.InvalidatedKeys, m.Swept, m.Debounce,
	)
	return m
}

// RegisterEntriesGauge exposes the live entry count.
func (m *Metrics) RegisterEntriesGauge(count func() int) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "catalog",
		Subsystem: "cache",
		Name:      "entries",
		Help:      "Unexpired entries in the local tier",
	}, func() float64 { return float64(count()) }))
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
