package metrics

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kirillkom/product-truth-audit/internal/core/domain"
)

const namespace = "pta"

// HTTPServerMetrics covers the API process: request metrics plus the stage,
// sweep and breaker telemetry produced while serving those requests.
type HTTPServerMetrics struct {
	registry *prometheus.Registry
	service  string

	requestTotal    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	requestInFlight prometheus.Gauge

	stageRunsTotal     *prometheus.CounterVec
	stageDuration      *prometheus.HistogramVec
	sweepCandidates    *prometheus.CounterVec
	breakerTransitions *prometheus.CounterVec
}

func NewHTTPServerMetrics(service string) *HTTPServerMetrics {
	registry := prometheus.NewRegistry()

	requestTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests processed.",
		},
		[]string{"service", "method", "path", "status"},
	)
	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "method", "path"},
	)
	requestInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "in_flight_requests",
			Help:      "Number of in-flight HTTP requests.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)

	stageRunsTotal, stageDuration := newStageCollectors()
	sweepCandidates := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sweep",
			Name:      "candidates_total",
			Help:      "Refresh sweep candidates by result.",
		},
		[]string{"service", "result"},
	)
	breakerTransitions := newBreakerCollector()

	registry.MustRegister(
		requestTotal,
		requestDuration,
		requestInFlight,
		stageRunsTotal,
		stageDuration,
		sweepCandidates,
		breakerTransitions,
	)

	return &HTTPServerMetrics{
		registry:           registry,
		service:            service,
		requestTotal:       requestTotal,
		requestDuration:    requestDuration,
		requestInFlight:    requestInFlight,
		stageRunsTotal:     stageRunsTotal,
		stageDuration:      stageDuration,
		sweepCandidates:    sweepCandidates,
		breakerTransitions: breakerTransitions,
	}
}

func (m *HTTPServerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *HTTPServerMetrics) Middleware(service string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		path := normalizePath(r.URL.Path)
		recorder := &statusRecorder{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		m.requestInFlight.Inc()
		defer m.requestInFlight.Dec()

		next.ServeHTTP(recorder, r)

		m.requestTotal.WithLabelValues(
			service,
			r.Method,
			path,
			strconv.Itoa(recorder.statusCode),
		).Inc()
		m.requestDuration.WithLabelValues(service, r.Method, path).Observe(time.Since(start).Seconds())
	})
}

// ObserveStage implements ports.StageObserver.
func (m *HTTPServerMetrics) ObserveStage(stage domain.StageID, outcome string, cached bool, duration time.Duration) {
	observeStage(m.stageRunsTotal, m.stageDuration, m.service, stage, outcome, cached, duration)
}

// RecordSweep counts candidates by result; "s3_failed: reason" is reduced to
// "s3_failed" to keep label cardinality bounded.
func (m *HTTPServerMetrics) RecordSweep(report *domain.SweepReport) {
	if report == nil {
		return
	}
	for _, item := range report.Results {
		m.sweepCandidates.WithLabelValues(m.service, sweepResultLabel(item.Result)).Inc()
	}
}

func (m *HTTPServerMetrics) ObserveBreakerTransition(operation, from, to string) {
	m.breakerTransitions.WithLabelValues(m.service, operationLabel(operation), from, to).Inc()
}

func normalizePath(path string) string {
	switch {
	case strings.HasPrefix(path, "/v1/stages/"):
		return "/v1/stages/{stage}"
	case strings.HasPrefix(path, "/v1/runs/"):
		return "/v1/runs/{run_id}"
	case strings.HasPrefix(path, "/v1/products/") && strings.HasSuffix(path, "/claims.xlsx"):
		return "/v1/products/{slug}/claims.xlsx"
	default:
		return path
	}
}

func sweepResultLabel(result string) string {
	if i := strings.Index(result, ":"); i > 0 {
		return result[:i]
	}
	if result == "" {
		return "unknown"
	}
	return result
}

// operationLabel folds per-host fetch breakers into one series.
func operationLabel(operation string) string {
	if strings.HasPrefix(operation, "fetch.") {
		return "fetch"
	}
	return operation
}

func newStageCollectors() (*prometheus.CounterVec, *prometheus.HistogramVec) {
	total := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stage",
			Name:      "runs_total",
			Help:      "Stage runs by stage and outcome.",
		},
		[]string{"service", "stage", "outcome", "cached"},
	)
	duration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "stage",
			Name:      "duration_seconds",
			Help:      "Stage run duration in seconds.",
			Buckets:   []float64{0.01, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		},
		[]string{"service", "stage"},
	)
	return total, duration
}

func observeStage(
	total *prometheus.CounterVec,
	hist *prometheus.HistogramVec,
	service string,
	stage domain.StageID,
	outcome string,
	cached bool,
	duration time.Duration,
) {
	stageLabel := strconv.Itoa(int(stage))
	total.WithLabelValues(service, stageLabel, outcome, strconv.FormatBool(cached)).Inc()
	if !cached {
		hist.WithLabelValues(service, stageLabel).Observe(duration.Seconds())
	}
}

func newBreakerCollector() *prometheus.CounterVec {
	return prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "resilience",
			Name:      "breaker_transitions_total",
			Help:      "Circuit breaker state transitions.",
		},
		[]string{"service", "operation", "from", "to"},
	)
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusRecorder) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *statusRecorder) Flush() {
	flusher, ok := w.ResponseWriter.(http.Flusher)
	if ok {
		flusher.Flush()
	}
}

func (w *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not implement http.Hijacker")
	}
	return hijacker.Hijack()
}
