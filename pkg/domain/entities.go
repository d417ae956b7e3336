// Package domain defines the execution aggregate, its nested records, value
// types, typed errors, and rule evaluation primitives used by labexec.
package domain

import "time"

// EntityType identifies the kind of record a violation or error refers to.
type EntityType string

// Entity identifiers used in errors, violations, and audit entries.
const (
	EntityExecution   EntityType = "execution"
	EntitySample      EntityType = "sample"
	EntityStep        EntityType = "step"
	EntityMeasurement EntityType = "measurement"
	EntityCondition   EntityType = "test_condition"
	EntitySession     EntityType = "session"
	EntityCorrection  EntityType = "correction"
	EntityProtocol    EntityType = "protocol"
)

// ExecutionStatus enumerates the execution lifecycle states.
type ExecutionStatus string

// Canonical execution statuses.
const (
	ExecutionNotStarted ExecutionStatus = "NOT_STARTED"
	ExecutionInProgress ExecutionStatus = "IN_PROGRESS"
	ExecutionPaused     ExecutionStatus = "PAUSED"
	ExecutionCompleted  ExecutionStatus = "COMPLETED"
	ExecutionFailed     ExecutionStatus = "FAILED"
	ExecutionCancelled  ExecutionStatus = "CANCELLED"
)

// Terminal reports whether no further lifecycle transition is permitted.
func (s ExecutionStatus) Terminal() bool {
	switch s {
	case ExecutionCompleted, ExecutionFailed, ExecutionCancelled:
		return true
	}
	return false
}

// SampleStatus enumerates per-sample progress states.
type SampleStatus string

// Canonical sample statuses.
const (
	SamplePending    SampleStatus = "PENDING"
	SampleInProgress SampleStatus = "IN_PROGRESS"
	SampleCompleted  SampleStatus = "COMPLETED"
	SampleFailed     SampleStatus = "FAILED"
	SampleSkipped    SampleStatus = "SKIPPED"
)

// Terminal reports whether the sample accepts no further step activity.
func (s SampleStatus) Terminal() bool {
	switch s {
	case SampleCompleted, SampleFailed, SampleSkipped:
		return true
	}
	return false
}

// Quality is the outcome recorded when a sample is completed.
type Quality string

// Sample quality outcomes.
const (
	QualityPass    Quality = "pass"
	QualityFail    Quality = "fail"
	QualityWarning Quality = "warning"
)

// Valid reports whether q is a known quality outcome.
func (q Quality) Valid() bool {
	return q == QualityPass || q == QualityFail || q == QualityWarning
}

// CorrectionKind distinguishes rollbacks from value edits.
type CorrectionKind string

// Correction kinds.
const (
	CorrectionRollback  CorrectionKind = "ROLLBACK"
	CorrectionValueEdit CorrectionKind = "VALUE_EDIT"
)

// SessionStatus enumerates session states. Sessions are independent of step progress.
type SessionStatus string

// Session statuses.
const (
	SessionPlanned SessionStatus = "PLANNED"
	SessionActive  SessionStatus = "ACTIVE"
	SessionClosed  SessionStatus = "CLOSED"
)

// MeasurementDefinition declares one value to capture during a step.
type MeasurementDefinition struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Unit      string   `json:"unit,omitempty"`
	Type      DataType `json:"type"`
	Required  bool     `json:"required"`
	Expected  *Value   `json:"expected,omitempty"`
	Tolerance *float64 `json:"tolerance,omitempty"`
}

// StepDefinition is one ordered stage of the protocol.
type StepDefinition struct {
	ID           string                  `json:"id"`
	Title        string                  `json:"title"`
	Instructions []string                `json:"instructions,omitempty"`
	Measurements []MeasurementDefinition `json:"measurements,omitempty"`
}

// Measurement returns the definition with the given id.
func (s StepDefinition) Measurement(id string) (MeasurementDefinition, bool) {
	for _, m := range s.Measurements {
		if m.ID == id {
			return m, true
		}
	}
	return MeasurementDefinition{}, false
}

// ConditionDefinition declares an execution-wide test condition.
type ConditionDefinition struct {
	Name      string   `json:"name"`
	Target    Value    `json:"target"`
	Unit      string   `json:"unit,omitempty"`
	Tolerance *float64 `json:"tolerance,omitempty"`
	Required  bool     `json:"required"`
}

// ProtocolConfig carries per-protocol engine switches.
type ProtocolConfig struct {
	// StrictTolerance blocks step completion when any recorded value is out of tolerance.
	StrictTolerance bool `json:"strict_tolerance"`
	// AllowEarlySampleCompletion permits completing a sample before its last step with an override reason.
	AllowEarlySampleCompletion bool `json:"allow_early_sample_completion"`
}

// ProtocolDefinition is the read-only catalog input used to seed an execution.
type ProtocolDefinition struct {
	ID         string                `json:"id"`
	Version    string                `json:"version,omitempty"`
	Title      string                `json:"title"`
	Config     ProtocolConfig        `json:"config"`
	Steps      []StepDefinition      `json:"steps"`
	Conditions []ConditionDefinition `json:"conditions,omitempty"`
}

// TestCondition is the execution-level record of one condition definition.
type TestCondition struct {
	ConditionDefinition
	Actual          *Value     `json:"actual,omitempty"`
	IsSet           bool       `json:"is_set"`
	WithinTolerance *bool      `json:"within_tolerance,omitempty"`
	RecordedBy      string     `json:"recorded_by,omitempty"`
	RecordedAt      *time.Time `json:"recorded_at,omitempty"`
}

// Environment captures ambient readings. Global to the execution.
type Environment struct {
	Temperature *float64 `json:"temperature,omitempty"`
	Humidity    *float64 `json:"humidity,omitempty"`
	Pressure    *float64 `json:"pressure,omitempty"`
	Notes       string   `json:"notes,omitempty"`
}

// EnvironmentPatch is a partial environment update; nil fields are left untouched.
type EnvironmentPatch struct {
	Temperature *float64 `json:"temperature,omitempty"`
	Humidity    *float64 `json:"humidity,omitempty"`
	Pressure    *float64 `json:"pressure,omitempty"`
	Notes       *string  `json:"notes,omitempty"`
}

// MeasurementRecord is one recorded value for (sample, step, measurement).
type MeasurementRecord struct {
	StepID         string    `json:"step_id"`
	MeasurementID  string    `json:"measurement_id"`
	Value          Value     `json:"value"`
	Operator       string    `json:"operator"`
	RecordedAt     time.Time `json:"recorded_at"`
	Note           string    `json:"note,omitempty"`
	OutOfTolerance bool      `json:"out_of_tolerance"`
}

// CorrectionEntry is an immutable audit record of a rollback or value edit.
type CorrectionEntry struct {
	ID            string         `json:"id"`
	SampleID      string         `json:"sample_id"`
	StepID        string         `json:"step_id"`
	Kind          CorrectionKind `json:"kind"`
	MeasurementID string         `json:"measurement_id,omitempty"`
	PreviousValue *Value         `json:"previous_value,omitempty"`
	NewValue      *Value         `json:"new_value,omitempty"`
	// RemovedStep is set on rollbacks and names the step removed from the completed set.
	RemovedStep string    `json:"removed_step,omitempty"`
	Reason      string    `json:"reason"`
	Operator    string    `json:"operator"`
	RecordedAt  time.Time `json:"recorded_at"`
}

// Sample is one physical specimen tracked independently through the steps.
type Sample struct {
	ID             string              `json:"id"`
	Name           string              `json:"name"`
	Material       string              `json:"material,omitempty"`
	Description    string              `json:"description,omitempty"`
	Status         SampleStatus        `json:"status"`
	CompletedSteps []string            `json:"completed_steps"`
	Measurements   []MeasurementRecord `json:"measurements"`
	Corrections    []CorrectionEntry   `json:"corrections"`
	SkipReason     string              `json:"skip_reason,omitempty"`
	FailureReason  string              `json:"failure_reason,omitempty"`
	Quality        Quality             `json:"quality,omitempty"`
	Notes          string              `json:"notes,omitempty"`
	OverrideReason string              `json:"override_reason,omitempty"`
	StartedAt      *time.Time          `json:"started_at,omitempty"`
	FinishedAt     *time.Time          `json:"finished_at,omitempty"`
}

// HasCompleted reports whether stepID is in the completed-step set.
func (s Sample) HasCompleted(stepID string) bool {
	for _, id := range s.CompletedSteps {
		if id == stepID {
			return true
		}
	}
	return false
}

// Record returns the measurement record for (stepID, measurementID).
func (s Sample) Record(stepID, measurementID string) (MeasurementRecord, bool) {
	for _, rec := range s.Measurements {
		if rec.StepID == stepID && rec.MeasurementID == measurementID {
			return rec, true
		}
	}
	return MeasurementRecord{}, false
}

// RecordsForStep returns the records captured for stepID in insertion order.
func (s Sample) RecordsForStep(stepID string) []MeasurementRecord {
	var out []MeasurementRecord
	for _, rec := range s.Measurements {
		if rec.StepID == stepID {
			out = append(out, rec)
		}
	}
	return out
}

// Session groups samples worked together, e.g. by one operator shift.
type Session struct {
	ID        string        `json:"id"`
	Name      string        `json:"name"`
	SampleIDs []string      `json:"sample_ids"`
	Status    SessionStatus `json:"status"`
	Operator  string        `json:"operator,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// Execution is the aggregate root: one run of a protocol against a study.
type Execution struct {
	ID              string           `json:"id"`
	StudyID         string           `json:"study_id"`
	ProtocolID      string           `json:"protocol_id"`
	ProtocolVersion string           `json:"protocol_version,omitempty"`
	Title           string           `json:"title,omitempty"`
	Status          ExecutionStatus  `json:"status"`
	Config          ProtocolConfig   `json:"config"`
	Steps           []StepDefinition `json:"steps"`
	Conditions      []TestCondition  `json:"conditions"`
	Environment     Environment      `json:"environment"`
	Samples         []Sample         `json:"samples"`
	Sessions        []Session        `json:"sessions,omitempty"`
	Operator        string           `json:"operator,omitempty"`
	PauseNotes      string           `json:"pause_notes,omitempty"`
	Summary         string           `json:"summary,omitempty"`
	Recommendations string           `json:"recommendations,omitempty"`
	FailureReason   string           `json:"failure_reason,omitempty"`
	CancelReason    string           `json:"cancel_reason,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
	StartedAt       *time.Time       `json:"started_at,omitempty"`
	PausedAt        *time.Time       `json:"paused_at,omitempty"`
	ResumedAt       *time.Time       `json:"resumed_at,omitempty"`
	CompletedAt     *time.Time       `json:"completed_at,omitempty"`
	CancelledAt     *time.Time       `json:"cancelled_at,omitempty"`
	FailedAt        *time.Time       `json:"failed_at,omitempty"`
	Version         int64            `json:"version"`
}

// Step returns the step definition with the given id and its index.
func (e Execution) Step(id string) (StepDefinition, int, bool) {
	for i, s := range e.Steps {
		if s.ID == id {
			return s, i, true
		}
	}
	return StepDefinition{}, -1, false
}

// SampleIndex returns the position of the sample with the given id, or -1.
func (e Execution) SampleIndex(id string) int {
	for i := range e.Samples {
		if e.Samples[i].ID == id {
			return i
		}
	}
	return -1
}

// ConditionIndex returns the position of the named test condition, or -1.
func (e Execution) ConditionIndex(name string) int {
	for i := range e.Conditions {
		if e.Conditions[i].Name == name {
			return i
		}
	}
	return -1
}

// SessionIndex returns the position of the session with the given id, or -1.
func (e Execution) SessionIndex(id string) int {
	for i := range e.Sessions {
		if e.Sessions[i].ID == id {
			return i
		}
	}
	return -1
}

// ToSummary returns the listing projection of the execution.
func (e Execution) ToSummary() ExecutionSummary {
	return ExecutionSummary{
		ID:          e.ID,
		StudyID:     e.StudyID,
		ProtocolID:  e.ProtocolID,
		Title:       e.Title,
		Status:      e.Status,
		SampleCount: len(e.Samples),
		StepCount:   len(e.Steps),
		Operator:    e.Operator,
		CreatedAt:   e.CreatedAt,
		UpdatedAt:   e.UpdatedAt,
		Version:     e.Version,
	}
}

// ExecutionSummary is the lightweight listing row returned by ListByStudy.
type ExecutionSummary struct {
	ID          string          `json:"id"`
	StudyID     string          `json:"study_id"`
	ProtocolID  string          `json:"protocol_id"`
	Title       string          `json:"title,omitempty"`
	Status      ExecutionStatus `json:"status"`
	SampleCount int             `json:"sample_count"`
	StepCount   int             `json:"step_count"`
	Operator    string          `json:"operator,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
	Version     int64           `json:"version"`
}
