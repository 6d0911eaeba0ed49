package service

import (
	"fmt"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/noah-isme/dref-api/internal/models"
)

// MetricsService encapsulates Prometheus instrumentation and provides lightweight snapshots for API consumption.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	transitions     *prometheus.CounterVec
	staleWrites     *prometheus.CounterVec
	chainBuild      prometheus.Histogram
	eventsPublished *prometheus.CounterVec

	requestCount         uint64
	requestDurationTotal uint64
	chainBuildCount      uint64
	staleWriteCount      uint64
	eventFailureCount    uint64
}

// NewMetricsService registers core Prometheus collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dref_transitions_total",
		Help: "Lifecycle status transitions by record kind and target status",
	}, []string{"kind", "to"})

	staleWrites := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dref_stale_writes_total",
		Help: "Writes rejected because the caller read an outdated record",
	}, []string{"kind"})

	chainBuild := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "dref_chain_build_seconds",
		Help:    "Time to load and assemble one appeal code chain",
		Buckets: prometheus.DefBuckets,
	})

	eventsPublished := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dref_events_published_total",
		Help: "Lifecycle events handed to the event bus",
	}, []string{"result"})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, transitions, staleWrites, chainBuild, eventsPublished, goroutines)

	return &MetricsService{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		transitions:     transitions,
		staleWrites:     staleWrites,
		chainBuild:      chainBuild,
		eventsPublished: eventsPublished,
	}
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Registry returns the collector registry.
func (m *MetricsService) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveHTTPRequest records request metrics and aggregates simple stats for snapshots.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
	atomic.AddUint64(&m.requestCount, 1)
	atomic.AddUint64(&m.requestDurationTotal, uint64(duration.Nanoseconds()))
}

// RecordTransition counts a committed status change.
func (m *MetricsService) RecordTransition(kind models.RecordKind, to models.DrefStatus) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(string(kind), to.Label()).Inc()
}

// RecordStaleWrite counts a write rejected by the concurrency guard.
func (m *MetricsService) RecordStaleWrite(kind models.RecordKind) {
	if m == nil {
		return
	}
	m.staleWrites.WithLabelValues(string(kind)).Inc()
	atomic.AddUint64(&m.staleWriteCount, 1)
}

// ObserveChainBuild records how long one chain took to assemble.
func (m *MetricsService) ObserveChainBuild(duration time.Duration) {
	if m == nil {
		return
	}
	m.chainBuild.Observe(duration.Seconds())
	atomic.AddUint64(&m.chainBuildCount, 1)
}

// RecordEventPublished counts event bus deliveries.
func (m *MetricsService) RecordEventPublished(ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
		atomic.AddUint64(&m.eventFailureCount, 1)
	}
	m.eventsPublished.WithLabelValues(result).Inc()
}

// Snapshot returns aggregated metrics suitable for the readiness endpoint.
func (m *MetricsService) Snapshot() models.SystemMetrics {
	if m == nil {
		return models.SystemMetrics{}
	}
	requests := atomic.LoadUint64(&m.requestCount)
	reqDuration := atomic.LoadUint64(&m.requestDurationTotal)

	var avgRequestMs float64
	if requests > 0 {
		avgRequestMs = float64(reqDuration) / float64(requests) / float64(time.Millisecond)
	}

	return models.SystemMetrics{
		RequestsTotal:            requests,
		AverageRequestDurationMs: avgRequestMs,
		ChainBuilds:              atomic.LoadUint64(&m.chainBuildCount),
		StaleWrites:              atomic.LoadUint64(&m.staleWriteCount),
		EventFailures:            atomic.LoadUint64(&m.eventFailureCount),
		Goroutines:               runtime.NumGoroutine(),
		GeneratedAt:              time.Now().UTC(),
	}
}
