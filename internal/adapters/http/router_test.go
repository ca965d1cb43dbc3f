package httpadapter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/xuri/excelize/v2"

	"github.com/kirillkom/product-truth-audit/internal/config"
	"github.com/kirillkom/product-truth-audit/internal/core/domain"
)

type stageRunnerFake struct {
	result *domain.StageResult
	err    error
	calls  []stageRequest
}

func (f *stageRunnerFake) RunStage(_ context.Context, productID string, stage domain.StageID, forceRedo bool) (*domain.StageResult, error) {
	f.calls = append(f.calls, stageRequest{ProductID: productID, ForceRedo: forceRedo})
	if f.err != nil {
		return nil, f.err
	}
	result := *f.result
	result.Stage = stage
	return &result, nil
}

type sweeperFake struct {
	report    *domain.SweepReport
	err       error
	batchSize int
	staleDays int
}

func (f *sweeperFake) Sweep(_ context.Context, batchSize, staleDays int) (*domain.SweepReport, error) {
	f.batchSize, f.staleDays = batchSize, staleDays
	return f.report, f.err
}

type freshnessFake struct {
	slugs []string
}

func (f *freshnessFake) Check(_ context.Context, slug string) (*domain.FreshnessReport, error) {
	f.slugs = append(f.slugs, slug)
	if slug == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "freshness", errors.New("slug is required"))
	}
	return &domain.FreshnessReport{Slug: slug, Status: domain.FreshnessNoAudit}, nil
}

type runsFake struct{}

func (runsFake) Enqueue(_ context.Context, productID string, forceRedo bool) (*domain.AuditRun, error) {
	if productID == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "enqueue", errors.New("product id is required"))
	}
	return &domain.AuditRun{ID: "run-1", ProductID: productID, Status: domain.RunStatusQueued, Cursor: domain.StageClaims, ForceRedo: forceRedo}, nil
}

func (runsFake) GetRun(_ context.Context, id string) (*domain.AuditRun, error) {
	return nil, domain.WrapError(domain.ErrRunNotFound, "get run", errors.New(id))
}

type evidenceFake struct{}

func (evidenceFake) EvidenceBySlug(_ context.Context, slug string) (*domain.Product, *domain.EvidenceOutput, error) {
	if slug != "kettle" {
		return nil, nil, domain.WrapError(domain.ErrProductNotFound, "evidence", errors.New(slug))
	}
	return &domain.Product{ID: "p1", Slug: "kettle"}, &domain.EvidenceOutput{
		Sources: []domain.SourceReport{{URL: "https://a.example", Status: domain.SourceStatusFetched, Fragments: 4}},
		Corroboration: domain.Corroboration{
			Claims: []domain.CorroboratedClaim{{
				Key:     "2200 w",
				Count:   3,
				Sources: []string{"https://a.example", "https://b.example"},
				Samples: []string{"2200 W"},
			}},
			SourceCount: 2,
			ClaimCount:  1,
		},
	}, nil
}

type testDeps struct {
	stages    *stageRunnerFake
	sweeper   *sweeperFake
	freshness *freshnessFake
}

func newTestHandler(cfg config.Config) (http.Handler, *testDeps) {
	deps := &testDeps{
		stages:    &stageRunnerFake{result: &domain.StageResult{Status: domain.StageStatusDone, Output: json.RawMessage(`{"claims":[]}`)}},
		sweeper:   &sweeperFake{report: &domain.SweepReport{}},
		freshness: &freshnessFake{},
	}
	router := NewRouter(cfg, Services{
		Stages:    deps.stages,
		Sweeper:   deps.sweeper,
		Freshness: deps.freshness,
		Runs:      runsFake{},
		Evidence:  evidenceFake{},
	}, nil)
	return router.Handler(), deps
}

func postJSON(t *testing.T, handler http.Handler, path string, payload any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	return res
}

func decodeResponse(t *testing.T, res *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func TestRunStageReturnsOutput(t *testing.T) {
	handler, deps := newTestHandler(config.Config{})
	deps.stages.result.Cached = true

	res := postJSON(t, handler, "/v1/stages/1", map[string]any{"productId": "p1", "forceRedo": true}, nil)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", res.Code, res.Body.String())
	}
	body := decodeResponse(t, res)
	if body["ok"] != true || body["status"] != "done" || body["cached"] != true {
		t.Fatalf("unexpected body: %v", body)
	}
	if len(deps.stages.calls) != 1 || !deps.stages.calls[0].ForceRedo {
		t.Fatalf("forceRedo not forwarded: %+v", deps.stages.calls)
	}
	if res.Header().Get(requestIDHeader) == "" {
		t.Fatalf("expected request id header")
	}
}

func TestRunStageMapsFailureCodes(t *testing.T) {
	cases := []struct {
		code domain.StageErrorCode
		want int
	}{
		{domain.CodePrereqFailed, http.StatusConflict},
		{domain.CodeValidationFailed, http.StatusUnprocessableEntity},
		{domain.CodeExecutorFailure, http.StatusServiceUnavailable},
		{domain.CodeNotFound, http.StatusNotFound},
	}
	for _, tc := range cases {
		handler, deps := newTestHandler(config.Config{})
		deps.stages.result = &domain.StageResult{
			Status: domain.StageStatusError,
			Error:  &domain.StageError{Code: tc.code, Message: "stage 3 requires stage 2 to be done"},
		}
		res := postJSON(t, handler, "/v1/stages/3", map[string]any{"productId": "p1"}, nil)
		if res.Code != tc.want {
			t.Fatalf("%s: expected %d, got %d", tc.code, tc.want, res.Code)
		}
		body := decodeResponse(t, res)
		if body["ok"] != false || body["error"] != string(tc.code) || body["detail"] != "stage 3 requires stage 2 to be done" {
			t.Fatalf("%s: unexpected body %v", tc.code, body)
		}
	}
}

func TestRunStageInfrastructureErrorIs500(t *testing.T) {
	handler, deps := newTestHandler(config.Config{})
	deps.stages.err = errors.New("connection refused")

	res := postJSON(t, handler, "/v1/stages/2", map[string]any{"productId": "p1"}, nil)
	if res.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", res.Code)
	}
}

func TestRunStageRejectsBadInput(t *testing.T) {
	handler, deps := newTestHandler(config.Config{})

	if res := postJSON(t, handler, "/v1/stages/7", map[string]any{"productId": "p1"}, nil); res.Code != http.StatusBadRequest {
		t.Fatalf("stage 7: expected 400, got %d", res.Code)
	}
	if res := postJSON(t, handler, "/v1/stages/1", map[string]any{}, nil); res.Code != http.StatusBadRequest {
		t.Fatalf("missing product: expected 400, got %d", res.Code)
	}
	req := httptest.NewRequest(http.MethodPost, "/v1/stages/1", bytes.NewReader([]byte("{")))
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusBadRequest {
		t.Fatalf("bad json: expected 400, got %d", res.Code)
	}
	if len(deps.stages.calls) != 0 {
		t.Fatalf("runner must not be called for invalid input")
	}
}

func TestSweepRequiresCronSecret(t *testing.T) {
	handler, deps := newTestHandler(config.Config{CronSecret: "s3cret", SweepBatchSize: 10, StaleDays: 30})
	deps.sweeper.report = &domain.SweepReport{Processed: 1, Results: []domain.SweepItem{{ProductID: "p1", Result: "ok"}}}

	if res := postJSON(t, handler, "/v1/sweep", nil, nil); res.Code != http.StatusUnauthorized {
		t.Fatalf("no secret: expected 401, got %d", res.Code)
	}
	if res := postJSON(t, handler, "/v1/sweep", nil, map[string]string{"X-Cron-Secret": "wrong"}); res.Code != http.StatusUnauthorized {
		t.Fatalf("wrong secret: expected 401, got %d", res.Code)
	}

	res := postJSON(t, handler, "/v1/sweep", nil, map[string]string{"X-Cron-Secret": "s3cret"})
	if res.Code != http.StatusOK {
		t.Fatalf("header secret: expected 200, got %d", res.Code)
	}
	if deps.sweeper.batchSize != 10 || deps.sweeper.staleDays != 30 {
		t.Fatalf("sweep parameters not forwarded: %d %d", deps.sweeper.batchSize, deps.sweeper.staleDays)
	}
	body := decodeResponse(t, res)
	if body["processed"] != float64(1) {
		t.Fatalf("unexpected body %v", body)
	}

	if res := postJSON(t, handler, "/v1/sweep", nil, map[string]string{"Authorization": "Bearer s3cret"}); res.Code != http.StatusOK {
		t.Fatalf("bearer secret: expected 200, got %d", res.Code)
	}
}

func TestSweepRejectsEverythingWithoutConfiguredSecret(t *testing.T) {
	handler, _ := newTestHandler(config.Config{})
	if res := postJSON(t, handler, "/v1/sweep", nil, map[string]string{"Authorization": "Bearer "}); res.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", res.Code)
	}
}

func TestFreshnessAcceptsQueryAndBody(t *testing.T) {
	handler, deps := newTestHandler(config.Config{})

	req := httptest.NewRequest(http.MethodGet, "/v1/freshness?slug=kettle", nil)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("GET: expected 200, got %d", res.Code)
	}
	if body := decodeResponse(t, res); body["status"] != "no_audit" {
		t.Fatalf("unexpected body %v", body)
	}

	if res := postJSON(t, handler, "/v1/freshness", map[string]string{"slug": "toaster"}, nil); res.Code != http.StatusOK {
		t.Fatalf("POST: expected 200, got %d", res.Code)
	}
	if res := postJSON(t, handler, "/v1/freshness", map[string]string{}, nil); res.Code != http.StatusBadRequest {
		t.Fatalf("empty slug: expected 400, got %d", res.Code)
	}
	if len(deps.freshness.slugs) != 3 || deps.freshness.slugs[1] != "toaster" {
		t.Fatalf("unexpected slugs %v", deps.freshness.slugs)
	}
}

func TestRunsEndpoints(t *testing.T) {
	handler, _ := newTestHandler(config.Config{})

	res := postJSON(t, handler, "/v1/runs", map[string]any{"productId": "p1"}, nil)
	if res.Code != http.StatusAccepted {
		t.Fatalf("enqueue: expected 202, got %d", res.Code)
	}
	if body := decodeResponse(t, res); body["id"] != "run-1" || body["status"] != "queued" {
		t.Fatalf("unexpected run %v", body)
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/runs/missing", nil)
	getRes := httptest.NewRecorder()
	handler.ServeHTTP(getRes, req)
	if getRes.Code != http.StatusNotFound {
		t.Fatalf("get: expected 404, got %d", getRes.Code)
	}
}

func TestClaimsExportWorkbook(t *testing.T) {
	handler, _ := newTestHandler(config.Config{})

	req := httptest.NewRequest(http.MethodGet, "/v1/products/kettle/claims.xlsx", nil)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", res.Code, res.Body.String())
	}

	book, err := excelize.OpenReader(bytes.NewReader(res.Body.Bytes()))
	if err != nil {
		t.Fatalf("open workbook: %v", err)
	}
	defer func() { _ = book.Close() }()

	rows, err := book.GetRows(claimsSheet)
	if err != nil {
		t.Fatalf("claims rows: %v", err)
	}
	if len(rows) != 2 || rows[1][0] != "2200 w" || rows[1][1] != "3" {
		t.Fatalf("unexpected claims rows %v", rows)
	}
	sources, err := book.GetRows(sourcesSheet)
	if err != nil {
		t.Fatalf("source rows: %v", err)
	}
	if len(sources) != 2 || sources[1][2] != domain.SourceStatusFetched {
		t.Fatalf("unexpected source rows %v", sources)
	}

	missing := httptest.NewRecorder()
	handler.ServeHTTP(missing, httptest.NewRequest(http.MethodGet, "/v1/products/unknown/claims.xlsx", nil))
	if missing.Code != http.StatusNotFound {
		t.Fatalf("unknown product: expected 404, got %d", missing.Code)
	}
}
