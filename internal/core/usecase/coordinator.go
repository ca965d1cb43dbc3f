package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/product-truth-audit/internal/core/domain"
	"github.com/kirillkom/product-truth-audit/internal/core/ports"
)

const defaultRunLease = 10 * time.Minute

type CoordinatorOptions struct {
	// Lease is how long a claim is honored before another worker may take the run over.
	Lease  time.Duration
	Logger *slog.Logger
	Now    func() time.Time
	NewID  func() string
}

// WorkClaimCoordinator owns the audit run queue: enqueueing, reading and the
// claim-execute-release step pooled workers perform.
type WorkClaimCoordinator struct {
	runs     ports.RunRepository
	products ports.ProductRepository
	runner   ports.StageRunner
	notifier ports.RunNotifier
	lease    time.Duration
	logger   *slog.Logger
	now      func() time.Time
	newID    func() string
}

func NewWorkClaimCoordinator(
	runs ports.RunRepository,
	products ports.ProductRepository,
	runner ports.StageRunner,
	notifier ports.RunNotifier,
	opts CoordinatorOptions,
) *WorkClaimCoordinator {
	if opts.Lease <= 0 {
		opts.Lease = defaultRunLease
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	return &WorkClaimCoordinator{
		runs:     runs,
		products: products,
		runner:   runner,
		notifier: notifier,
		lease:    opts.Lease,
		logger:   opts.Logger,
		now:      opts.Now,
		newID:    opts.NewID,
	}
}

func (c *WorkClaimCoordinator) Enqueue(ctx context.Context, productID string, forceRedo bool) (*domain.AuditRun, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "enqueue run", errors.New("product id is required"))
	}
	if _, err := c.products.GetByID(ctx, productID); err != nil {
		return nil, fmt.Errorf("load product: %w", err)
	}

	run := domain.NewAuditRun(c.newID(), productID, forceRedo, c.now().UTC())
	if err := c.runs.Create(ctx, run); err != nil {
		return nil, fmt.Errorf("create audit run: %w", err)
	}
	c.notify(ctx, run.ID)
	return run, nil
}

func (c *WorkClaimCoordinator) GetRun(ctx context.Context, id string) (*domain.AuditRun, error) {
	run, err := c.runs.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get audit run: %w", err)
	}
	return run, nil
}

// Step claims at most one run and advances it by exactly one stage. It
// returns domain.ErrClaimEmpty when nothing is claimable.
func (c *WorkClaimCoordinator) Step(ctx context.Context) (*domain.StepOutcome, error) {
	now := c.now().UTC()
	run, err := c.runs.ClaimNext(ctx, c.newID(), now, now.Add(-c.lease))
	if err != nil {
		if domain.IsKind(err, domain.ErrClaimEmpty) {
			return nil, err
		}
		return nil, fmt.Errorf("claim audit run: %w", err)
	}

	outcome := &domain.StepOutcome{RunID: run.ID, ProductID: run.ProductID, Stage: run.Cursor}
	if !run.UpdatedAt.IsZero() {
		outcome.QueueLag = now.Sub(run.UpdatedAt)
	}

	result, stepErr := c.runStage(ctx, run)
	finishedAt := c.now().UTC()
	switch {
	case stepErr != nil:
		run.Fail(run.Cursor, domain.StageStatusError, stepErr.Error(), finishedAt)
		outcome.Result = domain.StageStatusError
		outcome.Error = stepErr.Error()
	case !result.OK():
		message := "stage did not complete"
		if result.Error != nil {
			message = fmt.Sprintf("%s: %s", result.Error.Code, result.Error.Message)
		}
		run.Fail(run.Cursor, result.Status, message, finishedAt)
		outcome.Result = result.Status
		outcome.Error = message
	default:
		run.Advance(run.Cursor, finishedAt)
		outcome.Result = domain.StageStatusDone
		outcome.Cached = result.Cached
	}
	outcome.RunStatus = run.Status

	if err := c.release(run); err != nil {
		return outcome, err
	}
	if run.Status == domain.RunStatusQueued {
		c.notify(ctx, run.ID)
	}

	c.logger.Info("worker_step",
		"run_id", run.ID,
		"product_id", run.ProductID,
		"stage", int(outcome.Stage),
		"result", outcome.Result,
		"run_status", run.Status,
		"cached", outcome.Cached,
	)
	return outcome, nil
}

// runStage converts panics into step errors so the run is marked failed
// instead of holding its claim until the lease expires.
func (c *WorkClaimCoordinator) runStage(ctx context.Context, run *domain.AuditRun) (result *domain.StageResult, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			result = nil
			err = fmt.Errorf("panic in stage %d: %v", run.Cursor, recovered)
		}
	}()

	if !run.Cursor.Valid() {
		return nil, domain.WrapError(domain.ErrInvalidInput, "run step", fmt.Errorf("invalid cursor %d", run.Cursor))
	}
	return c.runner.RunStage(ctx, run.ProductID, run.Cursor, run.ForceRedo)
}

// release persists the step even when the activation's context has been
// canceled; the claim token guards against overwriting a takeover.
func (c *WorkClaimCoordinator) release(run *domain.AuditRun) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := c.runs.Release(ctx, run); err != nil {
		if domain.IsKind(err, domain.ErrClaimLost) {
			c.logger.Warn("worker_claim_lost", "run_id", run.ID, "stage", int(run.Cursor))
			return err
		}
		return fmt.Errorf("release audit run: %w", err)
	}
	return nil
}

func (c *WorkClaimCoordinator) notify(ctx context.Context, runID string) {
	if c.notifier == nil {
		return
	}
	if err := c.notifier.NotifyRunQueued(ctx, runID); err != nil {
		c.logger.Warn("run_notify_failed", "run_id", runID, "error", err)
	}
}
