package service

import (
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/noah-isme/course-enrollment-api/internal/models"
)

// MetricsService encapsulates Prometheus instrumentation. A nil receiver is a no-op.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	cacheLookups    *prometheus.CounterVec
	cacheLatency    prometheus.Observer
	placements      *prometheus.CounterVec
	transitions     *prometheus.CounterVec
	promotions      *prometheus.CounterVec
	seatsFreed      *prometheus.CounterVec
	lockRetries     *prometheus.CounterVec
	summaries       *prometheus.CounterVec
	cascadeSize     prometheus.Observer
	jobRuns         *prometheus.CounterVec
}

// NewMetricsService registers HTTP, cache and enrollment collectors.
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

	cacheLookups := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "summary_cache_lookups_total",
		Help: "Attendance summary cache lookups by result",
	}, []string{"result"})

	cacheLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "summary_cache_latency_seconds",
		Help:    "Latency for summary cache operations",
		Buckets: prometheus.DefBuckets,
	})

	placements := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "enrollment_placements_total",
		Help: "Initial enrollment placements by resulting status",
	}, []string{"status"})

	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "enrollment_transitions_total",
		Help: "Enrollment status transitions",
	}, []string{"from", "to"})

	promotions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "waitlist_promotions_total",
		Help: "Waitlist promotions into CONFIRMED by reason",
	}, []string{"reason"})

	seatsFreed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "offering_seats_freed_total",
		Help: "Seats released by a holder leaving its offering, by promotion mode",
	}, []string{"mode"})

	lockRetries := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "offering_lock_retries_total",
		Help: "Locked sections retried after a concurrent update",
	}, []string{"op"})

	summaries := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "attendance_summaries_computed_total",
		Help: "Attendance summaries recomputed by trigger",
	}, []string{"trigger"})

	cascadeSize := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "attendance_cascade_size",
		Help:    "Enrollments recomputed when an offering's shared denominator changed",
		Buckets: prometheus.ExponentialBuckets(1, 2, 8),
	})

	jobRuns := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "background_job_runs_total",
		Help: "Background job executions by type and outcome",
	}, []string{"type", "outcome"})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, cacheLookups, cacheLatency, placements, transitions, promotions, seatsFreed, lockRetries, summaries, cascadeSize, jobRuns, goroutines)

	return &MetricsService{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		cacheLookups:    cacheLookups,
		cacheLatency:    cacheLatency,
		placements:      placements,
		transitions:     transitions,
		promotions:      promotions,
		seatsFreed:      seatsFreed,
		lockRetries:     lockRetries,
		summaries:       summaries,
		cascadeSize:     cascadeSize,
		jobRuns:         jobRuns,
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

// Registry exposes the underlying registry for tests.
func (m *MetricsService) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
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

// RecordCacheOperation records a cache hit or miss.
func (m *MetricsService) RecordCacheOperation(hit bool, duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheLatency.Observe(duration.Seconds())
	if hit {
		m.cacheLookups.WithLabelValues("hit").Inc()
		return
	}
	m.cacheLookups.WithLabelValues("miss").Inc()
}

// ObservePlacement counts an initial placement.
func (m *MetricsService) ObservePlacement(status models.EnrollmentStatus) {
	if m == nil {
		return
	}
	m.placements.WithLabelValues(string(status)).Inc()
}

// ObserveTransition counts a status change.
func (m *MetricsService) ObserveTransition(from, to models.EnrollmentStatus) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(string(from), string(to)).Inc()
}

// ObservePromotion counts a waitlist movement for reason.
func (m *MetricsService) ObservePromotion(reason string) {
	if m == nil {
		return
	}
	m.promotions.WithLabelValues(reason).Inc()
}

// ObserveSeatFreed counts a released seat. Manual mode leaves it for an administrator.
func (m *MetricsService) ObserveSeatFreed(autoPromote bool) {
	if m == nil {
		return
	}
	mode := "manual"
	if autoPromote {
		mode = "auto"
	}
	m.seatsFreed.WithLabelValues(mode).Inc()
}

// ObserveLockRetry counts a retried locked section.
func (m *MetricsService) ObserveLockRetry(op string) {
	if m == nil {
		return
	}
	m.lockRetries.WithLabelValues(op).Inc()
}

// ObserveSummaries counts recomputed summaries.
func (m *MetricsService) ObserveSummaries(trigger string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.summaries.WithLabelValues(trigger).Add(float64(n))
}

// ObserveCascade records the fan-out of a denominator change.
func (m *MetricsService) ObserveCascade(n int) {
	if m == nil {
		return
	}
	m.cascadeSize.Observe(float64(n))
}

// ObserveJob counts a background job run.
func (m *MetricsService) ObserveJob(taskType string, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.jobRuns.WithLabelValues(taskType, outcome).Inc()
}
