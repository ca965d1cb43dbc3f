package usecase

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/kirillkom/product-truth-audit/internal/core/domain"
)

// StageInput is what an executor sees: the product and the stored outputs of
// its satisfied prerequisites.
type StageInput struct {
	Product *domain.Product
	Prereqs map[domain.StageID]json.RawMessage
}

// StageExecutor wraps the domain logic of one stage. Errors of kind
// domain.ErrValidationFailed mean the produced output is structurally
// invalid; every other error is treated as a transient executor failure.
type StageExecutor interface {
	Stage() domain.StageID
	Execute(ctx context.Context, in StageInput) (json.RawMessage, error)
}

func decodePrereq(in StageInput, stage domain.StageID, out any) error {
	raw, ok := in.Prereqs[stage]
	if !ok || len(raw) == 0 {
		return domain.WrapError(domain.ErrInvalidInput, "load prerequisite", fmt.Errorf("stage %d output missing", stage))
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return domain.WrapError(domain.ErrInvalidInput, "load prerequisite", fmt.Errorf("decode stage %d output: %w", stage, err))
	}
	return nil
}

func marshalOutput(operation string, v any) (json.RawMessage, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%s: marshal output: %w", operation, err)
	}
	return raw, nil
}
