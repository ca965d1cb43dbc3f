package httpadapter

import (
	"net/http"

	"github.com/kirillkom/product-truth-audit/internal/core/domain"
)

func mapErrorToHTTPStatus(err error) int {
	switch {
	case domain.IsKind(err, domain.ErrInvalidInput):
		return http.StatusBadRequest
	case domain.IsKind(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized
	case domain.IsKind(err, domain.ErrProductNotFound), domain.IsKind(err, domain.ErrRunNotFound):
		return http.StatusNotFound
	case domain.IsKind(err, domain.ErrTemporary):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func mapStageCodeToHTTPStatus(code domain.StageErrorCode) int {
	switch code {
	case domain.CodeNotFound:
		return http.StatusNotFound
	case domain.CodePrereqFailed, domain.CodeUpstreamInvalid:
		return http.StatusConflict
	case domain.CodeValidationFailed:
		return http.StatusUnprocessableEntity
	case domain.CodeExecutorFailure:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// errorCode is the machine-readable code written next to error details.
func errorCode(err error) string {
	switch {
	case domain.IsKind(err, domain.ErrInvalidInput):
		return "INVALID_INPUT"
	case domain.IsKind(err, domain.ErrUnauthorized):
		return "UNAUTHORIZED"
	case domain.IsKind(err, domain.ErrProductNotFound), domain.IsKind(err, domain.ErrRunNotFound):
		return string(domain.CodeNotFound)
	case domain.IsKind(err, domain.ErrTemporary):
		return "TEMPORARY"
	default:
		return "INTERNAL"
	}
}
