package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kirillkom/product-truth-audit/internal/core/domain"
)

type WorkerMetrics struct {
	registry *prometheus.Registry
	service  string

	stepTotal    *prometheus.CounterVec
	stepDuration *prometheus.HistogramVec
	stepInFlight prometheus.Gauge
	queueLag     *prometheus.HistogramVec
	idleTotal    *prometheus.CounterVec

	stageRunsTotal     *prometheus.CounterVec
	stageDuration      *prometheus.HistogramVec
	breakerTransitions *prometheus.CounterVec
}

func NewWorkerMetrics(service string) *WorkerMetrics {
	registry := prometheus.NewRegistry()

	stepTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "steps_total",
			Help:      "Worker activations that claimed a run, by step result.",
		},
		[]string{"service", "result"},
	)
	stepDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "step_duration_seconds",
			Help:      "Duration of one claimed step in seconds by result.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "result"},
	)
	stepInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "steps_in_flight",
			Help:      "Number of in-flight worker steps.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	queueLag := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "queue_lag_seconds",
			Help:      "Delay between a run becoming claimable and its claim.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"service"},
	)
	idleTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "idle_total",
			Help:      "Worker activations that found nothing to claim.",
		},
		[]string{"service"},
	)
	stageRunsTotal, stageDuration := newStageCollectors()
	breakerTransitions := newBreakerCollector()

	registry.MustRegister(stepTotal, stepDuration, stepInFlight, queueLag, idleTotal, stageRunsTotal, stageDuration, breakerTransitions)

	return &WorkerMetrics{
		registry:           registry,
		service:            service,
		stepTotal:          stepTotal,
		stepDuration:       stepDuration,
		stepInFlight:       stepInFlight,
		queueLag:           queueLag,
		idleTotal:          idleTotal,
		stageRunsTotal:     stageRunsTotal,
		stageDuration:      stageDuration,
		breakerTransitions: breakerTransitions,
	}
}

func (m *WorkerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *WorkerMetrics) StartStep() {
	m.stepInFlight.Inc()
}

// FinishStep records one activation. A nil outcome with a nil error is an
// idle activation.
func (m *WorkerMetrics) FinishStep(outcome *domain.StepOutcome, duration time.Duration, err error) {
	m.stepInFlight.Dec()

	result := "error"
	switch {
	case err != nil:
	case outcome == nil:
		m.idleTotal.WithLabelValues(m.service).Inc()
		return
	default:
		result = string(outcome.Result)
		if outcome.QueueLag >= 0 {
			m.queueLag.WithLabelValues(m.service).Observe(outcome.QueueLag.Seconds())
		}
	}

	m.stepTotal.WithLabelValues(m.service, result).Inc()
	m.stepDuration.WithLabelValues(m.service, result).Observe(duration.Seconds())
}

// ObserveStage implements ports.StageObserver.
func (m *WorkerMetrics) ObserveStage(stage domain.StageID, outcome string, cached bool, duration time.Duration) {
	observeStage(m.stageRunsTotal, m.stageDuration, m.service, stage, outcome, cached, duration)
}

func (m *WorkerMetrics) ObserveBreakerTransition(operation, from, to string) {
	m.breakerTransitions.WithLabelValues(m.service, operationLabel(operation), from, to).Inc()
}
