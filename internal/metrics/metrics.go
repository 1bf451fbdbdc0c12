// Package metrics provides Prometheus metrics for the indexer.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Namespace prefixes every metric name.
const Namespace = "stateindex"

// Event kinds counted by the reconciler.
const (
	KindInsert    = "insert"
	KindTombstone = "tombstone"
)

// Fetch failure reasons.
const (
	FailureUpstream = "upstream"
	FailureRollback = "rollback"
)

// Metrics holds all Prometheus metrics of one process.
//
// Collectors are registered on a private registry rather than the global
// default, so tests can create as many instances as they like.
type Metrics struct {
	registry *prometheus.Registry

	API    *API
	Ingest *Ingest
}

// API groups the HTTP request metrics.
type API struct {
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
}

// Ingest groups the reconciler metrics.
type Ingest struct {
	lastHandledHeight prometheus.Gauge
	eventsTotal       *prometheus.CounterVec
	fetchFailures     *prometheus.CounterVec
	batchesTotal      prometheus.Counter
}

// New creates and registers all metrics, plus the Go runtime and process
// collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		API: &API{
			requestsTotal: factory.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: Namespace,
					Name:      "api_requests_total",
					Help:      "Total number of HTTP requests",
				},
				[]string{"route", "status"},
			),
			requestDuration: factory.NewHistogramVec(
				prometheus.HistogramOpts{
					Namespace: Namespace,
					Name:      "api_request_duration_seconds",
					Help:      "HTTP request duration in seconds",
					Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
				},
				[]string{"route"},
			),
		},
		Ingest: &Ingest{
			lastHandledHeight: factory.NewGauge(
				prometheus.GaugeOpts{
					Namespace: Namespace,
					Name:      "ingest_last_handled_height",
					Help:      "Highest block height applied to the store",
				},
			),
			eventsTotal: factory.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: Namespace,
					Name:      "ingest_events_total",
					Help:      "Total number of data entry events applied",
				},
				[]string{"kind"},
			),
			fetchFailures: factory.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: Namespace,
					Name:      "ingest_fetch_failures_total",
					Help:      "Total number of failed update range fetches",
				},
				[]string{"reason"},
			),
			batchesTotal: factory.NewCounter(
				prometheus.CounterOpts{
					Namespace: Namespace,
					Name:      "ingest_batches_total",
					Help:      "Total number of batches applied",
				},
			),
		},
	}
}

// Registry returns the registry holding every collector.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the Prometheus HTTP handler for /metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// RecordRequest records one served HTTP request.
func (a *API) RecordRequest(route string, statusCode int, duration time.Duration) {
	a.requestsTotal.WithLabelValues(route, strconv.Itoa(statusCode)).Inc()
	a.requestDuration.WithLabelValues(route).Observe(duration.Seconds())
}

// SetLastHandledHeight publishes the reconciler watermark.
func (i *Ingest) SetLastHandledHeight(height int64) {
	i.lastHandledHeight.Set(float64(height))
}

// RecordBatch counts one applied batch and its events.
func (i *Ingest) RecordBatch(inserts, tombstones int) {
	i.batchesTotal.Inc()
	i.eventsTotal.WithLabelValues(KindInsert).Add(float64(inserts))
	i.eventsTotal.WithLabelValues(KindTombstone).Add(float64(tombstones))
}

// IncFetchFailures counts one failed range fetch by reason.
func (i *Ingest) IncFetchFailures(reason string) {
	i.fetchFailures.WithLabelValues(reason).Inc()
}
