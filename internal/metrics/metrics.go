// Package metrics exposes Prometheus instruments for catalog traffic, cache
// efficiency and availability monitor runs.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "kirjastokaveri"

// Metrics holds the registered instruments. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	catalogRequests *prometheus.CounterVec
	cacheLookups    *prometheus.CounterVec
	monitorRuns     *prometheus.CounterVec
	monitorDuration prometheus.Histogram
	itemsChecked    prometheus.Counter
	notifications   prometheus.Counter
}

// New registers all instruments with reg. If reg is nil, it returns nil
// (no-op metrics).
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		return nil
	}

	m := &Metrics{
		catalogRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "catalog_requests_total",
			Help:      "Catalog API requests by endpoint and outcome.",
		}, []string{"endpoint", "outcome"}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Cache lookups by kind and result.",
		}, []string{"kind", "result"}),
		monitorRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "monitor_runs_total",
			Help:      "Availability monitor runs by outcome.",
		}, []string{"outcome"}),
		monitorDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "monitor_run_duration_seconds",
			Help:      "Duration of availability monitor runs.",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}),
		itemsChecked: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "monitor_items_checked_total",
			Help:      "Wishlist items checked by the availability monitor.",
		}),
		notifications: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "monitor_notifications_total",
			Help:      "Availability notifications created.",
		}),
	}

	reg.MustRegister(
		m.catalogRequests,
		m.cacheLookups,
		m.monitorRuns,
		m.monitorDuration,
		m.itemsChecked,
		m.notifications,
	)
	return m
}

// CatalogRequest counts one catalog call.
func (m *Metrics) CatalogRequest(endpoint string, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.catalogRequests.WithLabelValues(endpoint, outcome).Inc()
}

// CacheLookup counts one cache read of the given kind.
func (m *Metrics) CacheLookup(kind string, hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(kind, result).Inc()
}

// MonitorRun records a finished monitor run.
func (m *Metrics) MonitorRun(d time.Duration, checked, notified int, err error) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	m.monitorRuns.WithLabelValues(outcome).Inc()
	m.monitorDuration.Observe(d.Seconds())
	m.itemsChecked.Add(float64(checked))
	m.notifications.Add(float64(notified))
}

// MonitorSkipped counts a run rejected because another was in progress.
func (m *Metrics) MonitorSkipped() {
	if m == nil {
		return
	}
	m.monitorRuns.WithLabelValues("skipped").Inc()
}

// Handler serves the metrics gathered by g in the Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
