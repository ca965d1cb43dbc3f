package httpadapter

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/kirillkom/product-truth-audit/internal/config"
	"github.com/kirillkom/product-truth-audit/internal/core/domain"
	"github.com/kirillkom/product-truth-audit/internal/core/ports"
)

const maxRequestBody = 64 << 10

// Metrics is the subset of the API metrics the router feeds directly.
type Metrics interface {
	Handler() http.Handler
	Middleware(service string, next http.Handler) http.Handler
	RecordSweep(report *domain.SweepReport)
}

type Services struct {
	Stages    ports.StageRunner
	Sweeper   ports.RefreshSweeper
	Freshness ports.FreshnessChecker
	Runs      ports.RunScheduler
	Evidence  ports.EvidenceReader
}

type Router struct {
	cfg      config.Config
	services Services
	metrics  Metrics
	logger   *slog.Logger
}

func NewRouter(cfg config.Config, services Services, metrics Metrics) *Router {
	return &Router{
		cfg:      cfg,
		services: services,
		metrics:  metrics,
		logger:   slog.Default(),
	}
}

func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", rt.healthz)
	if rt.metrics != nil {
		mux.Handle("GET /metrics", rt.metrics.Handler())
	}
	mux.HandleFunc("POST /v1/stages/{stage}", rt.runStage)
	mux.HandleFunc("POST /v1/sweep", rt.sweep)
	mux.HandleFunc("GET /v1/sweep", rt.sweep)
	mux.HandleFunc("GET /v1/freshness", rt.freshness)
	mux.HandleFunc("POST /v1/freshness", rt.freshness)
	mux.HandleFunc("POST /v1/runs", rt.enqueueRun)
	mux.HandleFunc("GET /v1/runs/{id}", rt.getRun)
	mux.HandleFunc("GET /v1/products/{slug}/claims.xlsx", rt.exportClaims)

	var handler http.Handler = mux
	handler = backpressureMiddleware(handler, rt.cfg.APIBackpressureMaxInFlight, rt.cfg.APIBackpressureWait)
	handler = rateLimitMiddleware(handler, rt.cfg.APIRateLimitRPS, rt.cfg.APIRateLimitBurst)
	if rt.metrics != nil {
		handler = rt.metrics.Middleware("api", handler)
	}
	handler = accessLogMiddleware(handler)
	return requestIDMiddleware(handler)
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type stageRequest struct {
	ProductID string `json:"productId"`
	ForceRedo bool   `json:"forceRedo"`
}

type stageResponse struct {
	OK     bool               `json:"ok"`
	Stage  domain.StageID     `json:"stage"`
	Status domain.StageStatus `json:"status,omitempty"`
	Cached bool               `json:"cached,omitempty"`
	Output json.RawMessage    `json:"output,omitempty"`
	Error  string             `json:"error,omitempty"`
	Detail string             `json:"detail,omitempty"`
}

func (rt *Router) runStage(w http.ResponseWriter, r *http.Request) {
	stage, err := domain.ParseStageID(r.PathValue("stage"))
	if err != nil {
		rt.writeError(w, r, err)
		return
	}

	var req stageRequest
	if err := decodeBody(w, r, &req); err != nil {
		rt.writeError(w, r, err)
		return
	}
	if strings.TrimSpace(req.ProductID) == "" {
		rt.writeError(w, r, domain.WrapError(domain.ErrInvalidInput, "run stage", errors.New("productId is required")))
		return
	}

	result, err := rt.services.Stages.RunStage(r.Context(), strings.TrimSpace(req.ProductID), stage, req.ForceRedo)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}

	resp := stageResponse{
		OK:     result.OK(),
		Stage:  stage,
		Status: result.Status,
		Cached: result.Cached,
		Output: result.Output,
	}
	if result.Error != nil {
		resp.Error = string(result.Error.Code)
		resp.Detail = result.Error.Message
		writeJSON(w, mapStageCodeToHTTPStatus(result.Error.Code), resp)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (rt *Router) sweep(w http.ResponseWriter, r *http.Request) {
	if !cronAuthorized(r, rt.cfg.CronSecret) {
		rt.writeError(w, r, domain.WrapError(domain.ErrUnauthorized, "sweep", errors.New("missing or invalid cron secret")))
		return
	}

	ctx := r.Context()
	if rt.cfg.SweepBudget > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, rt.cfg.SweepBudget)
		defer cancel()
	}

	report, err := rt.services.Sweeper.Sweep(ctx, rt.cfg.SweepBatchSize, rt.cfg.StaleDays)
	if rt.metrics != nil {
		rt.metrics.RecordSweep(report)
	}
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":        true,
		"processed": report.Processed,
		"results":   report.Results,
	})
}

func (rt *Router) freshness(w http.ResponseWriter, r *http.Request) {
	slug := r.URL.Query().Get("slug")
	if r.Method == http.MethodPost {
		var req struct {
			Slug string `json:"slug"`
		}
		if err := decodeBody(w, r, &req); err != nil {
			rt.writeError(w, r, err)
			return
		}
		slug = req.Slug
	}

	report, err := rt.services.Freshness.Check(r.Context(), slug)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (rt *Router) enqueueRun(w http.ResponseWriter, r *http.Request) {
	var req stageRequest
	if err := decodeBody(w, r, &req); err != nil {
		rt.writeError(w, r, err)
		return
	}
	run, err := rt.services.Runs.Enqueue(r.Context(), req.ProductID, req.ForceRedo)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, run)
}

func (rt *Router) getRun(w http.ResponseWriter, r *http.Request) {
	run, err := rt.services.Runs.GetRun(r.Context(), r.PathValue("id"))
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func decodeBody(w http.ResponseWriter, r *http.Request, out any) error {
	body := http.MaxBytesReader(w, r.Body, maxRequestBody)
	if err := json.NewDecoder(body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return domain.WrapError(domain.ErrInvalidInput, "decode request", errors.New("invalid json"))
	}
	return nil
}

func (rt *Router) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := mapErrorToHTTPStatus(err)
	if status >= http.StatusInternalServerError {
		rt.logger.Error("request_failed",
			"request_id", requestIDFromContext(r.Context()),
			"path", r.URL.Path,
			"error", err,
		)
	}
	if wait, ok := retryAfterSeconds(err); ok {
		w.Header().Set("Retry-After", wait)
	}
	writeJSON(w, status, map[string]any{
		"ok":     false,
		"error":  errorCode(err),
		"detail": err.Error(),
	})
}

func retryAfterSeconds(err error) (string, bool) {
	if !domain.IsKind(err, domain.ErrTemporary) {
		return "", false
	}
	return "5", true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
