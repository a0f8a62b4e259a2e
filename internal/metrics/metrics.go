// Package metrics exposes Prometheus instrumentation for searches and
// synergy cache rebuilds on a private registry.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	searchTotal     *prometheus.CounterVec
	searchDuration  *prometheus.HistogramVec
	degradedTotal   *prometheus.CounterVec
	rebuildTotal    *prometheus.CounterVec
	rebuildDuration prometheus.Histogram
	cacheRows       prometheus.Gauge
	cacheVersion    prometheus.Gauge
}

func New() *Metrics {
	registry := prometheus.NewRegistry()

	searchTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cardsynergy",
			Subsystem: "search",
			Name:      "requests_total",
			Help:      "Total search requests by intent and status.",
		},
		[]string{"intent", "status"},
	)
	searchDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "cardsynergy",
			Subsystem: "search",
			Name:      "duration_seconds",
			Help:      "Search latency in seconds by intent.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"intent"},
	)
	degradedTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cardsynergy",
			Subsystem: "search",
			Name:      "degraded_total",
			Help:      "Searches answered without vector retrieval, by intent.",
		},
		[]string{"intent"},
	)
	rebuildTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cardsynergy",
			Subsystem: "synergy_cache",
			Name:      "rebuild_total",
			Help:      "Synergy cache rebuilds by status.",
		},
		[]string{"status"},
	)
	rebuildDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "cardsynergy",
			Subsystem: "synergy_cache",
			Name:      "rebuild_duration_seconds",
			Help:      "Duration of successful synergy cache rebuilds.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600},
		},
	)
	cacheRows := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "cardsynergy",
			Subsystem: "synergy_cache",
			Name:      "rows",
			Help:      "Pair rows in the active synergy cache.",
		},
	)
	cacheVersion := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "cardsynergy",
			Subsystem: "synergy_cache",
			Name:      "version",
			Help:      "Version number of the active synergy cache.",
		},
	)

	registry.MustRegister(searchTotal, searchDuration, degradedTotal,
		rebuildTotal, rebuildDuration, cacheRows, cacheVersion)

	return &Metrics{
		registry:        registry,
		searchTotal:     searchTotal,
		searchDuration:  searchDuration,
		degradedTotal:   degradedTotal,
		rebuildTotal:    rebuildTotal,
		rebuildDuration: rebuildDuration,
		cacheRows:       cacheRows,
		cacheVersion:    cacheVersion,
	}
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the private registry for tests and extra collectors
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveSearch records one search. status is a short error code or "ok".
func (m *Metrics) ObserveSearch(intent, status string, degraded bool, duration time.Duration) {
	if intent == "" {
		intent = "unknown"
	}
	m.searchTotal.WithLabelValues(intent, status).Inc()
	m.searchDuration.WithLabelValues(intent).Observe(duration.Seconds())
	if degraded {
		m.degradedTotal.WithLabelValues(intent).Inc()
	}
}

// ObserveRebuild records a rebuild attempt
func (m *Metrics) ObserveRebuild(duration time.Duration, rows int, version int64, err error) {
	if err != nil {
		m.rebuildTotal.WithLabelValues("error").Inc()
		return
	}
	m.rebuildTotal.WithLabelValues("success").Inc()
	m.rebuildDuration.Observe(duration.Seconds())
	m.SetCache(rows, version)
}

// SetCache records the active cache after a rebuild or reload
func (m *Metrics) SetCache(rows int, version int64) {
	m.cacheRows.Set(float64(rows))
	m.cacheVersion.Set(float64(version))
}
