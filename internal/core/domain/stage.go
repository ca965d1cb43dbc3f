package domain

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

type StageID int

const (
	StageClaims     StageID = 1
	StageEvidence   StageID = 2
	StageVerify     StageID = 3
	StageAssessment StageID = 4
)

var AllStages = []StageID{StageClaims, StageEvidence, StageVerify, StageAssessment}

func ParseStageID(raw string) (StageID, error) {
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, WrapError(ErrInvalidInput, "parse stage", fmt.Errorf("stage %q is not a number", raw))
	}
	stage := StageID(n)
	if !stage.Valid() {
		return 0, WrapError(ErrInvalidInput, "parse stage", fmt.Errorf("stage %d out of range 1..4", n))
	}
	return stage, nil
}

func (s StageID) Valid() bool {
	return s >= StageClaims && s <= StageAssessment
}

func (s StageID) Key() string {
	return strconv.Itoa(int(s))
}

func (s StageID) Name() string {
	switch s {
	case StageClaims:
		return "claim_extraction"
	case StageEvidence:
		return "evidence_discovery"
	case StageVerify:
		return "discrepancy_verification"
	case StageAssessment:
		return "final_assessment"
	default:
		return "unknown"
	}
}

// Next returns the downstream stage and false for the final stage.
func (s StageID) Next() (StageID, bool) {
	if s >= StageAssessment || !s.Valid() {
		return 0, false
	}
	return s + 1, true
}

// Prerequisites lists the stages that must be done before s may run.
func (s StageID) Prerequisites() []StageID {
	switch s {
	case StageVerify:
		return []StageID{StageClaims, StageEvidence}
	case StageAssessment:
		return []StageID{StageVerify}
	default:
		return nil
	}
}

type StageStatus string

const (
	StageStatusPending StageStatus = "pending"
	StageStatusRunning StageStatus = "running"
	StageStatusDone    StageStatus = "done"
	StageStatusError   StageStatus = "error"
	StageStatusBlocked StageStatus = "blocked"
)

type StageErrorCode string

const (
	CodeNotFound         StageErrorCode = "NOT_FOUND"
	CodePrereqFailed     StageErrorCode = "PREREQ_FAILED"
	CodeValidationFailed StageErrorCode = "VALIDATION_FAILED"
	CodeExecutorFailure  StageErrorCode = "EXECUTOR_FAILURE"
	CodeUpstreamInvalid  StageErrorCode = "UPSTREAM_INVALID"
)

type StageError struct {
	Code    StageErrorCode `json:"code"`
	Message string         `json:"message"`
}

func (e *StageError) Error() string {
	if e == nil {
		return ""
	}
	return string(e.Code) + ": " + e.Message
}

// StageRecord is the persisted state of one (product, stage) pair.
type StageRecord struct {
	ProductID string          `json:"product_id"`
	Stage     StageID         `json:"stage"`
	Status    StageStatus     `json:"status"`
	Output    json.RawMessage `json:"output,omitempty"`
	Error     *StageError     `json:"error,omitempty"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Cached reports whether the record can be served without recomputation.
func (r *StageRecord) Cached() bool {
	return r != nil && r.Status == StageStatusDone && hasOutput(r.Output)
}

// StageResult is what every entry point gets back from a stage run.
type StageResult struct {
	ProductID string          `json:"product_id"`
	Stage     StageID         `json:"stage"`
	Status    StageStatus     `json:"status"`
	Output    json.RawMessage `json:"output,omitempty"`
	Cached    bool            `json:"cached"`
	Error     *StageError     `json:"error,omitempty"`
}

func (r *StageResult) OK() bool {
	return r != nil && r.Error == nil && r.Status == StageStatusDone
}

func hasOutput(raw json.RawMessage) bool {
	if len(raw) == 0 {
		return false
	}
	switch string(raw) {
	case "null", "{}", "[]", `""`:
		return false
	default:
		return true
	}
}
