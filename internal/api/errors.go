package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"labexec/pkg/domain"
)

// Error carries the HTTP status and machine code for a failed request.
type Error struct {
	Status int
	Code   string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	if e.Code != "" {
		return e.Code
	}
	return fmt.Sprintf("api error (%d)", e.Status)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(status int, code string, err error) *Error {
	return &Error{Status: status, Code: code, Err: err}
}

// APIError is the JSON body of an error response.
type APIError struct {
	Message    string             `json:"message"`
	Code       string             `json:"code,omitempty"`
	Violations []domain.Violation `json:"violations,omitempty"`
}

type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

// classify maps a service error onto a status and code.
func classify(err error) *Error {
	var (
		apiErr     *Error
		notFound   domain.NotFoundError
		exists     domain.AlreadyExistsError
		conflict   domain.ConcurrentModificationError
		transition domain.InvalidTransitionError
		inactive   domain.ExecutionNotActiveError
		missing    domain.IncompleteRequiredMeasurementsError
		tolerance  domain.ToleranceExceededError
		notDone    domain.StepNotCompletedError
		reason     domain.MissingReasonError
		invalid    domain.ValidationError
		incomplete domain.SampleIncompleteError
		blocked    domain.RuleViolationError
	)
	switch {
	case errors.As(err, &apiErr):
		return apiErr
	case errors.As(err, &notFound):
		return newError(http.StatusNotFound, "not_found", err)
	case errors.As(err, &exists):
		return newError(http.StatusConflict, "already_exists", err)
	case errors.As(err, &conflict):
		return newError(http.StatusPreconditionFailed, "concurrent_modification", err)
	case errors.As(err, &transition):
		return newError(http.StatusConflict, "invalid_transition", err)
	case errors.As(err, &inactive):
		return newError(http.StatusConflict, "execution_not_active", err)
	case errors.As(err, &notDone):
		return newError(http.StatusConflict, "step_not_completed", err)
	case errors.As(err, &missing):
		return newError(http.StatusUnprocessableEntity, "incomplete_required_measurements", err)
	case errors.As(err, &tolerance):
		return newError(http.StatusUnprocessableEntity, "tolerance_exceeded", err)
	case errors.As(err, &incomplete):
		return newError(http.StatusUnprocessableEntity, "sample_incomplete", err)
	case errors.As(err, &blocked):
		return newError(http.StatusUnprocessableEntity, "rule_violation", err)
	case errors.As(err, &reason):
		return newError(http.StatusBadRequest, "missing_reason", err)
	case errors.As(err, &invalid):
		return newError(http.StatusBadRequest, "validation_failed", err)
	default:
		return newError(http.StatusInternalServerError, "internal", err)
	}
}

// RespondError writes err as an ErrorEnvelope.
func RespondError(c *gin.Context, err error) {
	e := classify(err)
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	body := APIError{Message: msg, Code: e.Code}
	var blocked domain.RuleViolationError
	if errors.As(err, &blocked) {
		body.Violations = blocked.Result.Violations
	}
	c.AbortWithStatusJSON(e.Status, ErrorEnvelope{Error: body})
}
