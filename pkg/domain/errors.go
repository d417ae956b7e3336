package domain

import (
	"fmt"
	"strings"
)

// NotFoundError reports an unknown execution, sample, step, measurement,
// condition, or session id.
type NotFoundError struct {
	Entity EntityType
	ID     string
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

// InvalidTransitionError reports a lifecycle command attempted from a status
// that does not allow it. State is unchanged.
type InvalidTransitionError struct {
	Entity  EntityType
	ID      string
	Current string
	Command string
}

func (e InvalidTransitionError) Error() string {
	return fmt.Sprintf("cannot %s %s %s from status %s", e.Command, e.Entity, e.ID, e.Current)
}

// ExecutionNotActiveError rejects sample and step commands outside IN_PROGRESS.
type ExecutionNotActiveError struct {
	ExecutionID string
	Status      ExecutionStatus
}

func (e ExecutionNotActiveError) Error() string {
	return fmt.Sprintf("execution %s is not active (status %s)", e.ExecutionID, e.Status)
}

// IncompleteRequiredMeasurementsError names the required measurements that
// have no recorded value for the sample.
type IncompleteRequiredMeasurementsError struct {
	SampleID string
	StepID   string
	Missing  []string
}

func (e IncompleteRequiredMeasurementsError) Error() string {
	return fmt.Sprintf("step %s for sample %s is missing required measurements: %s",
		e.StepID, e.SampleID, strings.Join(e.Missing, ", "))
}

// ToleranceExceededError blocks step completion under strict tolerance.
type ToleranceExceededError struct {
	SampleID     string
	StepID       string
	Measurements []string
}

func (e ToleranceExceededError) Error() string {
	return fmt.Sprintf("step %s for sample %s has out-of-tolerance measurements: %s",
		e.StepID, e.SampleID, strings.Join(e.Measurements, ", "))
}

// StepNotCompletedError is returned when rolling back a step that is not in
// the sample's completed-step set.
type StepNotCompletedError struct {
	SampleID string
	StepID   string
}

func (e StepNotCompletedError) Error() string {
	return fmt.Sprintf("step %s is not completed for sample %s", e.StepID, e.SampleID)
}

// MissingReasonError rejects corrections and overrides without a reason.
type MissingReasonError struct {
	Action string
}

func (e MissingReasonError) Error() string {
	return fmt.Sprintf("%s requires a reason", e.Action)
}

// ValidationError reports malformed command input.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ConcurrentModificationError reports a stale version on save. The caller must
// reload and retry.
type ConcurrentModificationError struct {
	ExecutionID string
	Expected    int64
	Actual      int64
}

func (e ConcurrentModificationError) Error() string {
	return fmt.Sprintf("execution %s was modified concurrently (expected version %d, found %d)",
		e.ExecutionID, e.Expected, e.Actual)
}

// AlreadyExistsError is returned when creating an execution whose id is taken.
type AlreadyExistsError struct {
	Entity EntityType
	ID     string
}

func (e AlreadyExistsError) Error() string {
	return fmt.Sprintf("%s %s already exists", e.Entity, e.ID)
}

// SampleIncompleteError rejects completing a sample that still has steps
// ahead of it, unless the protocol allows an early completion override.
type SampleIncompleteError struct {
	SampleID  string
	Remaining []string
	Reason    string
}

func (e SampleIncompleteError) Error() string {
	msg := fmt.Sprintf("sample %s has remaining steps: %s", e.SampleID, strings.Join(e.Remaining, ", "))
	if e.Reason != "" {
		msg += " (" + e.Reason + ")"
	}
	return msg
}
