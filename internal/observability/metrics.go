// Package observability bundles the Prometheus collectors for the crawl
// pipeline and serves them over HTTP.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Metrics holds the crawl collectors on a dedicated registry. All methods
// are safe on a nil receiver, so components take *Metrics optionally.
type Metrics struct {
	Registry         *prometheus.Registry
	RequestsTotal    *prometheus.CounterVec
	FetchDuration    *prometheus.HistogramVec
	RetriesTotal     prometheus.Counter
	FetchErrorsTotal *prometheus.CounterVec
	ProductsTotal    prometheus.Counter
}

// NewMetrics constructs and registers all collectors.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	requests := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crawler_requests_total",
			Help: "Requests issued by the worker pool, by task kind and outcome.",
		},
		[]string{"kind", "outcome"},
	)
	duration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "crawler_fetch_duration_seconds",
			Help:    "Fetch latency by task kind.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)
	retries := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "crawler_retries_total",
			Help: "Retry attempts scheduled by the worker pool.",
		},
	)
	fetchErrors := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crawler_fetch_errors_total",
			Help: "Tasks failed after exhausting the retry policy, by kind.",
		},
		[]string{"kind"},
	)
	products := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "crawler_products_total",
			Help: "Product records collected into snapshots.",
		},
	)

	registry.MustRegister(requests, duration, retries, fetchErrors, products)

	return &Metrics{
		Registry:         registry,
		RequestsTotal:    requests,
		FetchDuration:    duration,
		RetriesTotal:     retries,
		FetchErrorsTotal: fetchErrors,
		ProductsTotal:    products,
	}
}

// IncRequest counts one issued request by kind and outcome.
func (m *Metrics) IncRequest(kind, outcome string) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(kind, outcome).Inc()
}

// ObserveFetch records one fetch latency.
func (m *Metrics) ObserveFetch(kind string, d time.Duration) {
	if m == nil {
		return
	}
	m.FetchDuration.WithLabelValues(kind).Observe(d.Seconds())
}

// IncRetry counts one scheduled retry.
func (m *Metrics) IncRetry() {
	if m == nil {
		return
	}
	m.RetriesTotal.Inc()
}

// IncFetchError counts one task that ran out of attempts.
func (m *Metrics) IncFetchError(kind string) {
	if m == nil {
		return
	}
	m.FetchErrorsTotal.WithLabelValues(kind).Inc()
}

// IncProducts counts one collected product record.
func (m *Metrics) IncProducts() {
	if m == nil {
		return
	}
	m.ProductsTotal.Inc()
}

// Serve exposes /metrics on addr in the background.
func (m *Metrics) Serve(addr string, log zerolog.Logger) {
	if m == nil || addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{}))
	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil {
			log.Error().Err(err).Str("addr", addr).Msg("metrics server stopped")
		}
	}()
}
