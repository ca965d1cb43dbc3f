package domain

import (
	"errors"
	"fmt"
)

var (
	ErrProductNotFound = errors.New("product not found")
	ErrRunNotFound     = errors.New("audit run not found")
	ErrInvalidInput    = errors.New("invalid input")
	ErrUnauthorized    = errors.New("unauthorized")
	ErrTemporary       = errors.New("temporary failure")

	ErrPrereqFailed     = errors.New("stage prerequisite not satisfied")
	ErrValidationFailed = errors.New("stage output failed validation")
	ErrExecutorFailure  = errors.New("stage executor failure")

	// ErrClaimEmpty is the idle signal of the work queue, not a failure.
	ErrClaimEmpty = errors.New("no queued audit runs")
	// ErrClaimLost reports that a run's lease was taken over before release.
	ErrClaimLost = errors.New("audit run claim lost")
)

// WrapError preserves typed semantic errors with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}
