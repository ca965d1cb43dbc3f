package domain

import "time"

type RunStatus string

const (
	RunStatusQueued   RunStatus = "queued"
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusFailed   RunStatus = "failed"
)

// AuditRun is a queued multi-stage pass over one product. Workers advance the
// cursor one stage per activation.
type AuditRun struct {
	ID         string                 `json:"id"`
	ProductID  string                 `json:"product_id"`
	Status     RunStatus              `json:"status"`
	Cursor     StageID                `json:"cursor"`
	Stages     map[string]StageStatus `json:"stages"`
	ForceRedo  bool                   `json:"force_redo"`
	Error      string                 `json:"error,omitempty"`
	CreatedAt  time.Time              `json:"created_at"`
	UpdatedAt  time.Time              `json:"updated_at"`
	ClaimedAt  *time.Time             `json:"claimed_at,omitempty"`
	FinishedAt *time.Time             `json:"finished_at,omitempty"`

	// ClaimToken identifies the current holder; release is conditional on it.
	ClaimToken string `json:"-"`
}

func NewAuditRun(id, productID string, forceRedo bool, now time.Time) *AuditRun {
	stages := make(map[string]StageStatus, len(AllStages))
	for _, stage := range AllStages {
		stages[stage.Key()] = StageStatusPending
	}
	return &AuditRun{
		ID:        id,
		ProductID: productID,
		Status:    RunStatusQueued,
		Cursor:    StageClaims,
		Stages:    stages,
		ForceRedo: forceRedo,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func (r *AuditRun) Terminal() bool {
	return r.Status == RunStatusComplete || r.Status == RunStatusFailed
}

// Advance records a finished stage and moves the cursor. The run returns to
// the queue unless the final stage completed.
func (r *AuditRun) Advance(stage StageID, now time.Time) {
	r.setStage(stage, StageStatusDone)
	r.Error = ""
	r.UpdatedAt = now
	if next, ok := stage.Next(); ok {
		r.Cursor = next
		r.Status = RunStatusQueued
		return
	}
	r.Status = RunStatusComplete
	r.FinishedAt = &now
}

func (r *AuditRun) Fail(stage StageID, stageStatus StageStatus, message string, now time.Time) {
	if stage.Valid() {
		r.setStage(stage, stageStatus)
	}
	r.Status = RunStatusFailed
	r.Error = message
	r.UpdatedAt = now
	r.FinishedAt = &now
}

func (r *AuditRun) setStage(stage StageID, status StageStatus) {
	if r.Stages == nil {
		r.Stages = make(map[string]StageStatus, len(AllStages))
	}
	r.Stages[stage.Key()] = status
}

// StepOutcome describes one worker activation.
type StepOutcome struct {
	RunID     string        `json:"run_id"`
	ProductID string        `json:"product_id"`
	Stage     StageID       `json:"stage"`
	Result    StageStatus   `json:"result"`
	Cached    bool          `json:"cached"`
	RunStatus RunStatus     `json:"run_status"`
	Error     string        `json:"error,omitempty"`
	QueueLag  time.Duration `json:"-"`
}
