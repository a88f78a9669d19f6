package service

import (
	"errors"

	dErrors "opsflow/pkg/domain-errors"
	"opsflow/pkg/platform/sentinel"
)

// translate maps store and model errors onto the domain taxonomy. Domain
// errors pass through except invariant violations, which surface as
// validation failures.
func translate(err error, notFoundMsg string) error {
	if err == nil {
		return nil
	}
	if de, ok := dErrors.As(err); ok {
		if de.Code == dErrors.CodeInvariantViolation {
			return dErrors.New(dErrors.CodeValidation, de.Message)
		}
		return err
	}
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.New(dErrors.CodeNotFound, notFoundMsg)
	case errors.Is(err, sentinel.ErrConflict), errors.Is(err, sentinel.ErrInvalidState):
		return dErrors.Wrap(err, dErrors.CodeConflict, "request was modified concurrently, reload and retry")
	default:
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "storage unavailable")
	}
}
