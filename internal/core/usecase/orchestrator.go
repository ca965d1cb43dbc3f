package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kirillkom/product-truth-audit/internal/core/domain"
	"github.com/kirillkom/product-truth-audit/internal/core/ports"
)

const defaultStageTimeout = 5 * time.Minute

type OrchestratorOptions struct {
	StageTimeout time.Duration
	Observer     ports.StageObserver
	Logger       *slog.Logger
	Now          func() time.Time
}

// StageOrchestrator is the only path through which a stage executes. It owns
// caching, prerequisite checks, validation, downstream blocking and snapshot
// merging; executors only compute outputs.
type StageOrchestrator struct {
	products  ports.ProductRepository
	stages    ports.StageRepository
	snapshots ports.SnapshotRepository
	validator ports.OutputValidator
	executors map[domain.StageID]StageExecutor
	timeout   time.Duration
	observer  ports.StageObserver
	logger    *slog.Logger
	now       func() time.Time
}

func NewStageOrchestrator(
	products ports.ProductRepository,
	stages ports.StageRepository,
	snapshots ports.SnapshotRepository,
	validator ports.OutputValidator,
	executors []StageExecutor,
	opts OrchestratorOptions,
) *StageOrchestrator {
	byStage := make(map[domain.StageID]StageExecutor, len(executors))
	for _, executor := range executors {
		byStage[executor.Stage()] = executor
	}
	if opts.StageTimeout <= 0 {
		opts.StageTimeout = defaultStageTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &StageOrchestrator{
		products:  products,
		stages:    stages,
		snapshots: snapshots,
		validator: validator,
		executors: byStage,
		timeout:   opts.StageTimeout,
		observer:  opts.Observer,
		logger:    opts.Logger,
		now:       opts.Now,
	}
}

// RunStage executes or serves one stage for a product. Pipeline failures are
// reported inside the result; the returned error is reserved for storage and
// other infrastructure failures.
func (o *StageOrchestrator) RunStage(ctx context.Context, productID string, stage domain.StageID, forceRedo bool) (*domain.StageResult, error) {
	startedAt := time.Now()
	result, err := o.runStage(ctx, productID, stage, forceRedo)
	o.observe(stage, result, err, time.Since(startedAt))
	return result, err
}

func (o *StageOrchestrator) runStage(ctx context.Context, productID string, stage domain.StageID, forceRedo bool) (*domain.StageResult, error) {
	if !stage.Valid() {
		return nil, domain.WrapError(domain.ErrInvalidInput, "run stage", fmt.Errorf("stage %d out of range 1..4", stage))
	}
	executor, ok := o.executors[stage]
	if !ok {
		return nil, domain.WrapError(domain.ErrInvalidInput, "run stage", fmt.Errorf("no executor registered for stage %d", stage))
	}

	product, err := o.products.GetByID(ctx, productID)
	if err != nil {
		if domain.IsKind(err, domain.ErrProductNotFound) {
			return failedResult(productID, stage, domain.StageStatusPending, domain.CodeNotFound, fmt.Sprintf("product %s not found", productID)), nil
		}
		return nil, fmt.Errorf("load product: %w", err)
	}

	records, err := o.loadRecords(ctx, product.ID)
	if err != nil {
		return nil, err
	}

	current := records[stage]
	if !forceRedo && current.Cached() {
		return &domain.StageResult{
			ProductID: product.ID,
			Stage:     stage,
			Status:    domain.StageStatusDone,
			Output:    current.Output,
			Cached:    true,
		}, nil
	}

	input := StageInput{Product: product, Prereqs: make(map[domain.StageID]json.RawMessage)}
	for _, prereq := range stage.Prerequisites() {
		record := records[prereq]
		if record == nil || record.Status != domain.StageStatusDone || len(record.Output) == 0 {
			status := domain.StageStatusPending
			if current != nil {
				status = current.Status
			}
			return failedResult(product.ID, stage, status, domain.CodePrereqFailed,
				fmt.Sprintf("stage %d requires stage %d to be done", stage, prereq)), nil
		}
	}
	for id, record := range records {
		if id < stage && record.Cached() {
			input.Prereqs[id] = record.Output
		}
	}

	if err := o.stages.MarkRunning(ctx, product.ID, stage); err != nil {
		return nil, fmt.Errorf("mark stage %d running: %w", stage, err)
	}

	output, execErr := o.execute(ctx, executor, input)
	if execErr != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			o.recordError(product.ID, stage, domain.CodeExecutorFailure, execErr)
			return nil, fmt.Errorf("run stage %d: %w", stage, ctxErr)
		}
		if domain.IsKind(execErr, domain.ErrValidationFailed) {
			return o.invalidate(ctx, product.ID, stage, execErr)
		}
		return o.fail(ctx, product.ID, stage, domain.CodeExecutorFailure, execErr)
	}

	if err := o.validator.Validate(stage, output); err != nil {
		return o.invalidate(ctx, product.ID, stage, err)
	}

	if err := o.stages.MarkDone(ctx, product.ID, stage, output); err != nil {
		return nil, fmt.Errorf("mark stage %d done: %w", stage, err)
	}
	if err := o.mergeSnapshot(ctx, product.ID, stage, output); err != nil {
		return nil, err
	}

	return &domain.StageResult{
		ProductID: product.ID,
		Stage:     stage,
		Status:    domain.StageStatusDone,
		Output:    output,
	}, nil
}

// RebuildSnapshot re-merges every done stage output into the snapshot. It is
// an operator repair path; it never runs executors.
func (o *StageOrchestrator) RebuildSnapshot(ctx context.Context, productID string) (*domain.CanonicalSnapshot, error) {
	if _, err := o.products.GetByID(ctx, productID); err != nil {
		return nil, fmt.Errorf("load product: %w", err)
	}
	records, err := o.loadRecords(ctx, productID)
	if err != nil {
		return nil, err
	}
	for _, stage := range domain.AllStages {
		record := records[stage]
		if !record.Cached() {
			continue
		}
		if err := o.mergeSnapshot(ctx, productID, stage, record.Output); err != nil {
			return nil, err
		}
	}
	snapshot, err := o.snapshots.Get(ctx, productID)
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	return snapshot, nil
}

func (o *StageOrchestrator) execute(ctx context.Context, executor StageExecutor, input StageInput) (output json.RawMessage, err error) {
	stageCtx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	defer func() {
		if recovered := recover(); recovered != nil {
			output = nil
			err = domain.WrapError(domain.ErrExecutorFailure, "execute stage", fmt.Errorf("panic: %v", recovered))
		}
	}()

	output, err = executor.Execute(stageCtx, input)
	if err != nil {
		return nil, err
	}
	if stageCtx.Err() != nil && ctx.Err() == nil {
		return nil, domain.WrapError(domain.ErrExecutorFailure, "execute stage", fmt.Errorf("stage timed out after %s", o.timeout))
	}
	return output, nil
}

func (o *StageOrchestrator) invalidate(ctx context.Context, productID string, stage domain.StageID, cause error) (*domain.StageResult, error) {
	if err := o.stages.MarkError(ctx, productID, stage, domain.StageError{Code: domain.CodeValidationFailed, Message: cause.Error()}); err != nil {
		return nil, fmt.Errorf("mark stage %d error: %w", stage, err)
	}
	if next, ok := stage.Next(); ok {
		blocked := domain.StageError{
			Code:    domain.CodeUpstreamInvalid,
			Message: fmt.Sprintf("upstream stage %d produced invalid output", stage),
		}
		if err := o.stages.MarkBlocked(ctx, productID, next, blocked); err != nil {
			return nil, fmt.Errorf("mark stage %d blocked: %w", next, err)
		}
	}
	return failedResult(productID, stage, domain.StageStatusError, domain.CodeValidationFailed, cause.Error()), nil
}

func (o *StageOrchestrator) fail(ctx context.Context, productID string, stage domain.StageID, code domain.StageErrorCode, cause error) (*domain.StageResult, error) {
	if err := o.stages.MarkError(ctx, productID, stage, domain.StageError{Code: code, Message: cause.Error()}); err != nil {
		return nil, fmt.Errorf("mark stage %d error: %w", stage, err)
	}
	return failedResult(productID, stage, domain.StageStatusError, code, cause.Error()), nil
}

// recordError stores a failure after the caller's context is gone so the
// stage does not stay in running.
func (o *StageOrchestrator) recordError(productID string, stage domain.StageID, code domain.StageErrorCode, cause error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := o.stages.MarkError(ctx, productID, stage, domain.StageError{Code: code, Message: cause.Error()}); err != nil {
		o.logger.Warn("stage_error_record_failed", "product_id", productID, "stage", int(stage), "error", err)
	}
}

func (o *StageOrchestrator) mergeSnapshot(ctx context.Context, productID string, stage domain.StageID, output json.RawMessage) error {
	patch := domain.SnapshotPatch{}
	if stage == domain.StageAssessment {
		var assessment domain.AssessmentOutput
		if err := json.Unmarshal(output, &assessment); err == nil {
			verified := true
			quality := assessment.QualityScore
			patch.Verified = &verified
			patch.QualityScore = &quality
		}
	}
	entry := domain.SnapshotStage{Output: output, CompletedAt: o.now().UTC()}
	if err := o.snapshots.MergeStage(ctx, productID, stage, entry, patch); err != nil {
		return fmt.Errorf("merge stage %d into snapshot: %w", stage, err)
	}
	return nil
}

func (o *StageOrchestrator) loadRecords(ctx context.Context, productID string) (map[domain.StageID]*domain.StageRecord, error) {
	list, err := o.stages.ListByProduct(ctx, productID)
	if err != nil {
		return nil, fmt.Errorf("list stage records: %w", err)
	}
	records := make(map[domain.StageID]*domain.StageRecord, len(list))
	for i := range list {
		records[list[i].Stage] = &list[i]
	}
	return records, nil
}

func (o *StageOrchestrator) observe(stage domain.StageID, result *domain.StageResult, err error, duration time.Duration) {
	outcome := stageOutcome(result, err)
	cached := result != nil && result.Cached
	if o.observer != nil && stage.Valid() {
		o.observer.ObserveStage(stage, outcome, cached, duration)
	}

	attrs := []any{"stage", int(stage), "outcome", outcome, "cached", cached, "duration_ms", duration.Milliseconds()}
	if result != nil {
		attrs = append(attrs, "product_id", result.ProductID)
		if result.Error != nil {
			attrs = append(attrs, "error", result.Error.Message)
		}
	}
	if err != nil {
		attrs = append(attrs, "error", err.Error())
		o.logger.Error("stage_run", attrs...)
		return
	}
	o.logger.Info("stage_run", attrs...)
}

func stageOutcome(result *domain.StageResult, err error) string {
	switch {
	case err != nil && errors.Is(err, context.Canceled):
		return "canceled"
	case err != nil:
		return "infra_error"
	case result == nil:
		return "unknown"
	case result.Error != nil:
		return string(result.Error.Code)
	case result.Cached:
		return "cached"
	default:
		return "done"
	}
}

func failedResult(productID string, stage domain.StageID, status domain.StageStatus, code domain.StageErrorCode, message string) *domain.StageResult {
	return &domain.StageResult{
		ProductID: productID,
		Stage:     stage,
		Status:    status,
		Error:     &domain.StageError{Code: code, Message: message},
	}
}
