package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/phrazzld/taskcore/internal/domain"
	"github.com/phrazzld/taskcore/internal/store"
)

// errBadRequest marks malformed input detected by the api layer itself.
var errBadRequest = errors.New("bad request")

// MapErrorToStatusCode maps internal errors onto HTTP status codes without
// exposing their types.
func MapErrorToStatusCode(err error) int {
	var validationErrs validator.ValidationErrors
	switch {
	case err == nil:
		return http.StatusInternalServerError

	case store.IsNotFoundError(err):
		return http.StatusNotFound

	case store.IsDuplicateError(err),
		errors.Is(err, store.ErrInvalidTransition),
		errors.Is(err, store.ErrNotOwner):
		return http.StatusConflict

	case errors.Is(err, errBadRequest),
		errors.Is(err, store.ErrInvalidEntity),
		errors.Is(err, domain.ErrValidation),
		errors.Is(err, domain.ErrEmptyTenantID),
		errors.Is(err, domain.ErrEmptyPayload),
		errors.Is(err, domain.ErrInvalidQueueClass),
		errors.Is(err, domain.ErrInvalidSourceKind),
		errors.Is(err, domain.ErrInvalidTaskStatus),
		errors.Is(err, domain.ErrInvalidMaxAttempts),
		errors.As(err, &validationErrs):
		return http.StatusBadRequest

	default:
		return http.StatusInternalServerError
	}
}

// GetSafeErrorMessage returns a client-facing message for err.
func GetSafeErrorMessage(err error) string {
	var validationErrs validator.ValidationErrors
	switch {
	case err == nil:
		return "An unexpected error occurred"
	case errors.As(err, &validationErrs):
		return SanitizeValidationError(validationErrs)
	case errors.Is(err, store.ErrTaskNotFound):
		return "Task not found"
	case errors.Is(err, store.ErrJobNotFound):
		return "Recurring job not found"
	case store.IsNotFoundError(err):
		return "Not found"
	case store.IsDuplicateError(err):
		return "Recurring job names must be unique per tenant"
	case errors.Is(err, store.ErrInvalidTransition):
		return "The task is not in a state that allows this operation"
	case errors.Is(err, store.ErrNotOwner):
		return "The task is being processed by another worker"
	case errors.Is(err, domain.ErrEmptyTenantID):
		return "Tenant is required"
	case errors.Is(err, domain.ErrEmptyPayload):
		return "A prompt or a command is required"
	case errors.Is(err, domain.ErrInvalidQueueClass):
		return "Invalid queue class"
	case errors.Is(err, domain.ErrInvalidSourceKind):
		return "Invalid source kind"
	case errors.Is(err, domain.ErrInvalidTaskStatus):
		return "Invalid task status"
	case errors.Is(err, domain.ErrInvalidMaxAttempts):
		return "Invalid max attempts"
	case errors.Is(err, errBadRequest):
		return "Invalid request"
	case errors.Is(err, store.ErrInvalidEntity), errors.Is(err, domain.ErrValidation):
		return "Invalid entity data"
	default:
		return "An unexpected error occurred"
	}
}

// SanitizeValidationError describes the first failed field without echoing values.
func SanitizeValidationError(errs validator.ValidationErrors) string {
	if len(errs) == 0 {
		return "Validation error"
	}
	fe := errs[0]
	return fmt.Sprintf("Invalid %s: %s", fe.Field(), validationTagMessage(fe.Tag()))
}

func validationTagMessage(tag string) string {
	switch tag {
	case "required":
		return "required field"
	case "min", "gte":
		return "too small"
	case "max", "lte":
		return "too large"
	case "oneof":
		return "invalid value"
	case "dive":
		return "invalid entry"
	default:
		return "validation failed"
	}
}
