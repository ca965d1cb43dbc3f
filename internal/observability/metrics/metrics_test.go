package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/kirillkom/product-truth-audit/internal/core/domain"
)

func scrape(t *testing.T, handler http.Handler) string {
	t.Helper()
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read metrics: %v", err)
	}
	return string(body)
}

func TestHTTPServerMetricsRecordsStagesAndSweeps(t *testing.T) {
	m := NewHTTPServerMetrics("api")

	handler := m.Middleware("api", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/v1/stages/3", nil))

	m.ObserveStage(domain.StageVerify, "done", false, 2*time.Second)
	m.ObserveStage(domain.StageVerify, "cached", true, time.Millisecond)
	m.RecordSweep(&domain.SweepReport{Results: []domain.SweepItem{
		{ProductID: "p1", Result: "ok"},
		{ProductID: "p2", Result: "s3_failed: VALIDATION_FAILED"},
	}})
	m.ObserveBreakerTransition("fetch.shop.example", "closed", "open")

	body := scrape(t, m.Handler())
	for _, want := range []string{
		`pta_http_requests_total{method="POST",path="/v1/stages/{stage}",service="api",status="202"} 1`,
		`pta_stage_runs_total{cached="false",outcome="done",service="api",stage="3"} 1`,
		`pta_stage_runs_total{cached="true",outcome="cached",service="api",stage="3"} 1`,
		`pta_stage_duration_seconds_count{service="api",stage="3"} 1`,
		`pta_sweep_candidates_total{result="s3_failed",service="api"} 1`,
		`pta_resilience_breaker_transitions_total{from="closed",operation="fetch",service="api",to="open"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("metrics output missing %q", want)
		}
	}
}

func TestWorkerMetricsSeparatesIdleFromSteps(t *testing.T) {
	m := NewWorkerMetrics("worker")

	m.StartStep()
	m.FinishStep(nil, time.Millisecond, nil)
	m.StartStep()
	m.FinishStep(&domain.StepOutcome{Result: domain.StageStatusDone, QueueLag: 3 * time.Second}, time.Second, nil)

	body := scrape(t, m.Handler())
	for _, want := range []string{
		`pta_worker_idle_total{service="worker"} 1`,
		`pta_worker_steps_total{result="done",service="worker"} 1`,
		`pta_worker_queue_lag_seconds_count{service="worker"} 1`,
		`pta_worker_steps_in_flight{service="worker"} 0`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("metrics output missing %q", want)
		}
	}
}
