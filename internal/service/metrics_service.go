package service

import (
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "tp"

// MetricsService owns the Prometheus registry for the API process. Every
// method is safe on a nil receiver so callers can run without metrics.
type MetricsService struct {
	registry *prometheus.Registry
	handler  http.Handler

	httpDuration   *prometheus.HistogramVec
	httpRequests   *prometheus.CounterVec
	cacheLookups   *prometheus.CounterVec
	cacheLatency   *prometheus.HistogramVec
	transitions    *prometheus.CounterVec
	feedbackScores prometheus.Histogram
	sessionReplays prometheus.Counter
	jobRuns        *prometheus.CounterVec
	jobDuration    *prometheus.HistogramVec

	cacheHitCount  atomic.Uint64
	cacheMissCount atomic.Uint64
}

// NewMetricsService registers the HTTP, cache, workflow and job collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(registry)

	m := &MetricsService{registry: registry}
	m.httpDuration = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: metricsNamespace,
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency by route.",
		Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
	}, []string{"method", "route", "status"})
	m.httpRequests = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "HTTP requests by route and status.",
	}, []string{"method", "route", "status"})
	m.cacheLookups = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: "cache",
		Name:      "lookups_total",
		Help:      "List cache lookups by result.",
	}, []string{"result"})
	m.cacheLatency = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: metricsNamespace,
		Subsystem: "cache",
		Name:      "operation_seconds",
		Help:      "Redis round trip for list cache reads and writes.",
		Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1},
	}, []string{"op"})
	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Subsystem: "cache",
		Name:      "hit_ratio",
		Help:      "Share of list cache lookups served from Redis since start.",
	}, m.CacheHitRatio)
	m.transitions = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: "workflow",
		Name:      "transitions_total",
		Help:      "Lesson plan and observation status changes.",
	}, []string{"entity", "from", "to"})
	m.feedbackScores = factory.NewHistogram(prometheus.HistogramOpts{
		Namespace: metricsNamespace,
		Subsystem: "workflow",
		Name:      "feedback_score",
		Help:      "Scores given in observation feedback.",
		Buckets:   prometheus.LinearBuckets(0, 1, 11),
	})
	m.sessionReplays = factory.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: "auth",
		Name:      "session_replays_total",
		Help:      "Refresh tokens presented after they were rotated.",
	})
	m.jobRuns = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: "jobs",
		Name:      "runs_total",
		Help:      "Background job runs by queue and outcome.",
	}, []string{"queue", "outcome"})
	m.jobDuration = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: metricsNamespace,
		Subsystem: "jobs",
		Name:      "duration_seconds",
		Help:      "Background job run time.",
		Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
	}, []string{"queue"})

	m.handler = promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry})
	return m
}

// Handler exposes the registry in the Prometheus text format.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// ObserveHTTPRequest records one request against its route template.
func (m *MetricsService) ObserveHTTPRequest(method, route string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	code := strconv.Itoa(status)
	m.httpDuration.WithLabelValues(method, route, code).Observe(duration.Seconds())
	m.httpRequests.WithLabelValues(method, route, code).Inc()
}

// RecordCacheOperation records a list cache read.
func (m *MetricsService) RecordCacheOperation(hit bool, duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheLatency.WithLabelValues("get").Observe(duration.Seconds())
	if hit {
		m.cacheHitCount.Add(1)
		m.cacheLookups.WithLabelValues("hit").Inc()
		return
	}
	m.cacheMissCount.Add(1)
	m.cacheLookups.WithLabelValues("miss").Inc()
}

// ObserveCacheWrite records a list cache write.
func (m *MetricsService) ObserveCacheWrite(duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheLatency.WithLabelValues("set").Observe(duration.Seconds())
}

// RecordTransition counts a workflow state change, e.g. lesson_plan PENDING -> APPROVED.
func (m *MetricsService) RecordTransition(entity, from, to string) {
	if m == nil {
		return
	}
	if from == "" {
		from = "none"
	}
	m.transitions.WithLabelValues(entity, from, to).Inc()
}

// ObserveFeedbackScore records the score of a submitted feedback.
func (m *MetricsService) ObserveFeedbackScore(score int) {
	if m == nil {
		return
	}
	m.feedbackScores.Observe(float64(score))
}

// RecordSessionReplay counts a refresh token replay.
func (m *MetricsService) RecordSessionReplay() {
	if m == nil {
		return
	}
	m.sessionReplays.Inc()
}

// ObserveJob records one background job run.
func (m *MetricsService) ObserveJob(queue string, err error, duration time.Duration) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	m.jobRuns.WithLabelValues(queue, outcome).Inc()
	m.jobDuration.WithLabelValues(queue).Observe(duration.Seconds())
}

// CacheHitRatio returns hits over lookups since start, 0 before any lookup.
func (m *MetricsService) CacheHitRatio() float64 {
	if m == nil {
		return 0
	}
	hits := m.cacheHitCount.Load()
	total := hits + m.cacheMissCount.Load()
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total)
}
