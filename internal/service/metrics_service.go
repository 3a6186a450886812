package service

import (
	"net/http"
	"runtime"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "lms"

// MetricsService owns the Prometheus registry and the collectors the API
// and workers report into. A nil *MetricsService is a valid no-op.
type MetricsService struct {
	registry *prometheus.Registry
	handler  http.Handler

	requestDuration *prometheus.HistogramVec
	cacheLookups    *prometheus.CounterVec
	cacheLatency    prometheus.Histogram
	cacheHitRatio   prometheus.Gauge
	conflicts       *prometheus.CounterVec
	writes          *prometheus.CounterVec
	reportJobs      *prometheus.CounterVec
	chatMessages    prometheus.Counter

	cacheHits   uint64
	cacheMisses uint64
}

// NewMetricsService registers the collectors on a private registry.
func NewMetricsService() *MetricsService {
	m := &MetricsService{
		registry: prometheus.NewRegistry(),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route and status.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "cache_lookups_total",
			Help:      "Cache lookups by result.",
		}, []string{"result"}),
		cacheLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "cache_latency_seconds",
			Help:      "Latency of cache reads and writes.",
			Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1},
		}),
		cacheHitRatio: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "cache_hit_ratio",
			Help:      "Cache hits over total lookups since start.",
		}),
		conflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "schedule_conflicts_total",
			Help:      "Schedule conflicts reported, by check.",
		}, []string{"check"}),
		writes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "timetable_writes_total",
			Help:      "Enrollment and schedule writes by operation and outcome.",
		}, []string{"operation", "outcome"}),
		reportJobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "report_jobs_total",
			Help:      "Report jobs reaching a status.",
		}, []string{"status"}),
		chatMessages: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "chat_messages_total",
			Help:      "Chat messages sent.",
		}),
	}
	m.registry.MustRegister(
		m.requestDuration, m.cacheLookups, m.cacheLatency, m.cacheHitRatio,
		m.conflicts, m.writes, m.reportJobs, m.chatMessages,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m.handler = promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// ObserveHTTPRequest records one served request.
func (m *MetricsService) ObserveHTTPRequest(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unmatched"
	}
	m.requestDuration.WithLabelValues(method, route, strconv.Itoa(status)).Observe(d.Seconds())
}

// RecordCacheLookup counts a hit or miss and refreshes the hit ratio.
func (m *MetricsService) RecordCacheLookup(hit bool, d time.Duration) {
	if m == nil {
		return
	}
	m.cacheLatency.Observe(d.Seconds())
	if hit {
		m.cacheLookups.WithLabelValues("hit").Inc()
		atomic.AddUint64(&m.cacheHits, 1)
	} else {
		m.cacheLookups.WithLabelValues("miss").Inc()
		atomic.AddUint64(&m.cacheMisses, 1)
	}
	hits := atomic.LoadUint64(&m.cacheHits)
	if total := hits + atomic.LoadUint64(&m.cacheMisses); total > 0 {
		m.cacheHitRatio.Set(float64(hits) / float64(total))
	}
}

// ObserveCacheWrite records the latency of a cache write.
func (m *MetricsService) ObserveCacheWrite(d time.Duration) {
	if m == nil {
		return
	}
	m.cacheLatency.Observe(d.Seconds())
}

// RecordConflicts adds n conflicts found by check ("enrollment" or "schedule").
func (m *MetricsService) RecordConflicts(check string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.conflicts.WithLabelValues(check).Add(float64(n))
}

// RecordWrite counts a timetable write attempt outcome.
func (m *MetricsService) RecordWrite(operation, outcome string) {
	if m == nil {
		return
	}
	m.writes.WithLabelValues(operation, outcome).Inc()
}

// RecordReportJob counts a report job reaching status.
func (m *MetricsService) RecordReportJob(status string) {
	if m == nil {
		return
	}
	m.reportJobs.WithLabelValues(status).Inc()
}

// RecordChatMessage counts a sent chat message.
func (m *MetricsService) RecordChatMessage() {
	if m == nil {
		return
	}
	m.chatMessages.Inc()
}

// MetricsSnapshot is a small JSON friendly view of runtime counters.
type MetricsSnapshot struct {
	CacheHits     uint64    `json:"cache_hits"`
	CacheMisses   uint64    `json:"cache_misses"`
	CacheHitRatio float64   `json:"cache_hit_ratio"`
	Goroutines    int       `json:"goroutines"`
	GeneratedAt   time.Time `json:"generated_at"`
}

// Snapshot returns the current cache counters.
func (m *MetricsService) Snapshot() MetricsSnapshot {
	snap := MetricsSnapshot{Goroutines: runtime.NumGoroutine(), GeneratedAt: time.Now().UTC()}
	if m == nil {
		return snap
	}
	snap.CacheHits = atomic.LoadUint64(&m.cacheHits)
	snap.CacheMisses = atomic.LoadUint64(&m.cacheMisses)
	if total := snap.CacheHits + snap.CacheMisses; total > 0 {
		snap.CacheHitRatio = float64(snap.CacheHits) / float64(total)
	}
	return snap
}
