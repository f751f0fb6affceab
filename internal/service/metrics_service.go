package service

import (
	"fmt"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsService encapsulates Prometheus instrumentation for the API and the
// trajectory pipeline.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	conversions     *prometheus.CounterVec
	closures        *prometheus.CounterVec
	transfers       prometheus.Counter
	auditEvents     *prometheus.CounterVec
	ruleCacheHits   prometheus.Counter
	ruleCacheMisses prometheus.Counter
	ruleCacheRatio  prometheus.Gauge

	cacheHitCount  uint64
	cacheMissCount uint64
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

	conversions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "grade_conversions_total",
		Help: "Grade conversions applied, labeled by rule code",
	}, []string{"rule"})

	closures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cursada_closures_total",
		Help: "Closed enrollment attempts, labeled by outcome",
	}, []string{"outcome"})

	transfers := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "institution_transfers_total",
		Help: "Completed institution transfers",
	})

	auditEvents := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "audit_events_total",
		Help: "Audit ledger appends, labeled by action",
	}, []string{"action"})

	ruleCacheHits := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "rule_cache_hits_total",
		Help: "Conversion rule cache hits",
	})

	ruleCacheMisses := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "rule_cache_misses_total",
		Help: "Conversion rule cache misses",
	})

	ruleCacheRatio := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "rule_cache_hit_ratio",
		Help: "Ratio of rule cache hits to total lookups",
	})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, conversions, closures, transfers, auditEvents, ruleCacheHits, ruleCacheMisses, ruleCacheRatio, goroutines)

	handler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})

	return &MetricsService{
		registry:        registry,
		handler:         handler,
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		conversions:     conversions,
		closures:        closures,
		transfers:       transfers,
		auditEvents:     auditEvents,
		ruleCacheHits:   ruleCacheHits,
		ruleCacheMisses: ruleCacheMisses,
		ruleCacheRatio:  ruleCacheRatio,
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

// ObserveHTTPRequest records request metrics.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
}

// RecordConversion counts one applied grade conversion.
func (m *MetricsService) RecordConversion(ruleCode string) {
	if m == nil {
		return
	}
	m.conversions.WithLabelValues(ruleCode).Inc()
}

// RecordClosure counts one closed attempt by outcome.
func (m *MetricsService) RecordClosure(outcome string) {
	if m == nil {
		return
	}
	m.closures.WithLabelValues(outcome).Inc()
}

// RecordTransfer counts one completed institution transfer.
func (m *MetricsService) RecordTransfer() {
	if m == nil {
		return
	}
	m.transfers.Inc()
}

// RecordAuditEvent counts one ledger append by action.
func (m *MetricsService) RecordAuditEvent(action string) {
	if m == nil {
		return
	}
	m.auditEvents.WithLabelValues(action).Inc()
}

// RecordRuleCacheLookup records a rule cache hit or miss and refreshes the
// hit ratio gauge.
func (m *MetricsService) RecordRuleCacheLookup(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.ruleCacheHits.Inc()
		atomic.AddUint64(&m.cacheHitCount, 1)
	} else {
		m.ruleCacheMisses.Inc()
		atomic.AddUint64(&m.cacheMissCount, 1)
	}
	hits := atomic.LoadUint64(&m.cacheHitCount)
	misses := atomic.LoadUint64(&m.cacheMissCount)
	if total := hits + misses; total > 0 {
		m.ruleCacheRatio.Set(float64(hits) / float64(total))
	}
}
