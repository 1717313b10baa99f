// Package metrics holds the Prometheus collectors for the API and worker.
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

// Extraction outcomes recorded by the worker.
const (
	OutcomeExtracted = "extracted"
	OutcomeSkipped   = "skipped"
	OutcomeFailed    = "failed"
)

type Metrics struct {
	registry *prometheus.Registry

	httpRequests   *prometheus.CounterVec
	httpDuration   *prometheus.HistogramVec
	extractionJobs *prometheus.CounterVec
	jobsEnqueued   *prometheus.CounterVec
}

// New creates a private registry with the process and Go collectors and all
// docflow collectors registered.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		httpRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "docflow_http_requests_total",
			Help: "Total number of HTTP requests by method, route and status",
		}, []string{"method", "route", "status"}),
		httpDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "docflow_http_request_duration_seconds",
			Help:    "HTTP request latency by method and route",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		extractionJobs: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "docflow_text_extraction_jobs_total",
			Help: "Total number of text extraction jobs by outcome",
		}, []string{"outcome"}),
		jobsEnqueued: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "docflow_jobs_enqueued_total",
			Help: "Total number of background jobs dispatched by job name and result",
		}, []string{"job", "result"}),
	}
}

func (m *Metrics) ObserveRequest(method, route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

func (m *Metrics) IncExtraction(outcome string) {
	if m == nil {
		return
	}
	m.extractionJobs.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IncEnqueued(job string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.jobsEnqueued.WithLabelValues(job, result).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
