package core

import (
	"strings"
	"time"

	"labexec/pkg/domain"
)

// Actor identifies who issues a command and when it is applied.
type Actor struct {
	Operator string
	Now      time.Time
}

// MeasurementInput is one recordMeasurement command.
type MeasurementInput struct {
	StepID        string       `json:"step_id"`
	MeasurementID string       `json:"measurement_id"`
	Value         domain.Value `json:"value"`
	Note          string       `json:"note,omitempty"`
	// Reason is stored on the correction entry when an already completed step
	// is edited. The note is used when no reason is supplied.
	Reason string `json:"reason,omitempty"`
}

// SampleTracker applies step commands to one sample of an execution. It
// mutates the execution it was built from; callers pass a clone and only
// persist it when every command succeeded.
type SampleTracker struct {
	exec   *domain.Execution
	sample *domain.Sample
	log    CorrectionLog
	actor  Actor
	newID  func() string
}

// NewSampleTracker binds a tracker to sampleID inside exec.
func NewSampleTracker(exec *domain.Execution, sampleID string, actor Actor, newID func() string) (*SampleTracker, error) {
	idx := exec.SampleIndex(sampleID)
	if idx < 0 {
		return nil, domain.NotFoundError{Entity: domain.EntitySample, ID: sampleID}
	}
	sample := &exec.Samples[idx]
	return &SampleTracker{
		exec:   exec,
		sample: sample,
		log:    NewCorrectionLog(sample),
		actor:  actor,
		newID:  newID,
	}, nil
}

// Sample returns a copy of the tracked sample.
func (t *SampleTracker) Sample() domain.Sample { return t.sample.Clone() }

// CurrentStepIndex returns the first step not yet completed, or len(steps).
func (t *SampleTracker) CurrentStepIndex() int {
	return CurrentStepIndex(t.exec.Steps, t.sample.CompletedSteps)
}

// RecordMeasurement upserts the record for (step, measurement). Editing the
// value of a completed step preserves the previous value in a VALUE_EDIT
// correction. Re-recording an identical value and note is a no-op.
func (t *SampleTracker) RecordMeasurement(in MeasurementInput) (bool, error) {
	if err := t.ensureOpen("record measurement for"); err != nil {
		return false, err
	}
	step, _, ok := t.exec.Step(in.StepID)
	if !ok {
		return false, domain.NotFoundError{Entity: domain.EntityStep, ID: in.StepID}
	}
	def, ok := step.Measurement(in.MeasurementID)
	if !ok {
		return false, domain.NotFoundError{Entity: domain.EntityMeasurement, ID: in.MeasurementID}
	}
	if in.Value.IsZero() {
		return false, domain.ValidationError{Field: "value", Message: "a value is required"}
	}
	if def.Type != "" && in.Value.Type != def.Type {
		return false, domain.ValidationError{Field: "value", Message: "expected " + string(def.Type) + " value for " + def.ID + ", got " + string(in.Value.Type)}
	}
	if strings.TrimSpace(t.actor.Operator) == "" {
		return false, domain.ValidationError{Field: "operator", Message: "operator is required"}
	}

	within := WithinTolerance(def.Expected, def.Tolerance, in.Value)
	completed := t.sample.HasCompleted(in.StepID)
	recIdx := t.recordIndex(in.StepID, in.MeasurementID)

	if recIdx >= 0 {
		current := t.sample.Measurements[recIdx]
		if current.Value.Equal(in.Value) && current.Note == in.Note {
			return false, nil
		}
		if completed && !current.Value.Equal(in.Value) {
			if t.exec.Config.StrictTolerance && !within {
				return false, domain.ToleranceExceededError{SampleID: t.sample.ID, StepID: in.StepID, Measurements: []string{in.MeasurementID}}
			}
			reason := in.Reason
			if strings.TrimSpace(reason) == "" {
				reason = in.Note
			}
			prev, next := current.Value, in.Value
			if err := t.log.Append(domain.CorrectionEntry{
				ID:            t.newID(),
				SampleID:      t.sample.ID,
				StepID:        in.StepID,
				Kind:          domain.CorrectionValueEdit,
				MeasurementID: in.MeasurementID,
				PreviousValue: &prev,
				NewValue:      &next,
				Reason:        reason,
				Operator:      t.actor.Operator,
				RecordedAt:    t.actor.Now,
			}); err != nil {
				return false, err
			}
		}
		current.Value = in.Value
		current.Note = in.Note
		current.Operator = t.actor.Operator
		current.RecordedAt = t.actor.Now
		current.OutOfTolerance = !within
		t.sample.Measurements[recIdx] = current
	} else {
		t.sample.Measurements = append(t.sample.Measurements, domain.MeasurementRecord{
			StepID:         in.StepID,
			MeasurementID:  in.MeasurementID,
			Value:          in.Value,
			Operator:       t.actor.Operator,
			RecordedAt:     t.actor.Now,
			Note:           in.Note,
			OutOfTolerance: !within,
		})
	}
	t.markStarted()
	return true, nil
}

// CompleteStep adds stepID to the completed-step set once every required
// measurement has a value. Out-of-tolerance values are flagged on their
// records and only block in strict mode. Completing an already completed
// step is a no-op.
func (t *SampleTracker) CompleteStep(stepID string) (Validation, bool, error) {
	if err := t.ensureOpen("complete step for"); err != nil {
		return Validation{}, false, err
	}
	step, _, ok := t.exec.Step(stepID)
	if !ok {
		return Validation{}, false, domain.NotFoundError{Entity: domain.EntityStep, ID: stepID}
	}
	v := Validate(step, t.sample.RecordsForStep(stepID))
	if t.sample.HasCompleted(stepID) {
		return v, false, nil
	}
	if !v.Complete() {
		return v, false, domain.IncompleteRequiredMeasurementsError{SampleID: t.sample.ID, StepID: stepID, Missing: v.MissingRequired}
	}
	if out := v.OutOfTolerance(); len(out) > 0 && t.exec.Config.StrictTolerance {
		return v, false, domain.ToleranceExceededError{SampleID: t.sample.ID, StepID: stepID, Measurements: out}
	}
	for _, flag := range v.ToleranceFlags {
		if idx := t.recordIndex(stepID, flag.MeasurementID); idx >= 0 {
			t.sample.Measurements[idx].OutOfTolerance = !flag.WithinTolerance
		}
	}
	t.sample.CompletedSteps = append(t.sample.CompletedSteps, stepID)
	t.markStarted()
	return v, true, nil
}

// UncompleteStep removes stepID from the completed-step set and appends a
// ROLLBACK correction. Measurement records are kept.
func (t *SampleTracker) UncompleteStep(stepID, reason string) error {
	if err := t.ensureOpen("roll back step for"); err != nil {
		return err
	}
	if _, _, ok := t.exec.Step(stepID); !ok {
		return domain.NotFoundError{Entity: domain.EntityStep, ID: stepID}
	}
	if !t.sample.HasCompleted(stepID) {
		return domain.StepNotCompletedError{SampleID: t.sample.ID, StepID: stepID}
	}
	if err := t.log.Append(domain.CorrectionEntry{
		ID:          t.newID(),
		SampleID:    t.sample.ID,
		StepID:      stepID,
		Kind:        domain.CorrectionRollback,
		RemovedStep: stepID,
		Reason:      reason,
		Operator:    t.actor.Operator,
		RecordedAt:  t.actor.Now,
	}); err != nil {
		return err
	}
	kept := t.sample.CompletedSteps[:0]
	for _, id := range t.sample.CompletedSteps {
		if id != stepID {
			kept = append(kept, id)
		}
	}
	t.sample.CompletedSteps = kept
	return nil
}

// CompleteSample closes the sample with a quality outcome. Steps must all be
// done unless the protocol allows early completion and an override reason is
// given. Repeating the same completion is a no-op.
func (t *SampleTracker) CompleteSample(quality domain.Quality, notes, overrideReason string) (bool, error) {
	if !quality.Valid() {
		return false, domain.ValidationError{Field: "quality", Message: "quality must be pass, fail or warning"}
	}
	if t.sample.Status == domain.SampleCompleted && t.sample.Quality == quality {
		return false, nil
	}
	if err := t.ensureOpen("complete"); err != nil {
		return false, err
	}
	idx := t.CurrentStepIndex()
	if idx < len(t.exec.Steps) {
		remaining := t.remainingSteps()
		switch {
		case !t.exec.Config.AllowEarlySampleCompletion:
			return false, domain.SampleIncompleteError{SampleID: t.sample.ID, Remaining: remaining, Reason: "protocol does not allow early completion"}
		case strings.TrimSpace(overrideReason) == "":
			return false, domain.MissingReasonError{Action: "early sample completion"}
		}
		t.sample.OverrideReason = overrideReason
	}
	now := t.actor.Now
	t.sample.Status = domain.SampleCompleted
	t.sample.Quality = quality
	t.sample.Notes = notes
	t.sample.FinishedAt = &now
	return true, nil
}

// SkipSample marks the sample skipped from any non-terminal status.
func (t *SampleTracker) SkipSample(reason string) (bool, error) {
	if strings.TrimSpace(reason) == "" {
		return false, domain.MissingReasonError{Action: "skip sample"}
	}
	if t.sample.Status == domain.SampleSkipped && t.sample.SkipReason == reason {
		return false, nil
	}
	if err := t.ensureOpen("skip"); err != nil {
		return false, err
	}
	now := t.actor.Now
	t.sample.Status = domain.SampleSkipped
	t.sample.SkipReason = reason
	t.sample.FinishedAt = &now
	return true, nil
}

// FailSample marks the sample failed from any non-terminal status.
func (t *SampleTracker) FailSample(reason string) (bool, error) {
	if strings.TrimSpace(reason) == "" {
		return false, domain.MissingReasonError{Action: "fail sample"}
	}
	if t.sample.Status == domain.SampleFailed && t.sample.FailureReason == reason {
		return false, nil
	}
	if err := t.ensureOpen("fail"); err != nil {
		return false, err
	}
	now := t.actor.Now
	t.sample.Status = domain.SampleFailed
	t.sample.FailureReason = reason
	t.sample.FinishedAt = &now
	return true, nil
}

func (t *SampleTracker) ensureOpen(command string) error {
	if t.sample.Status.Terminal() {
		return domain.InvalidTransitionError{
			Entity:  domain.EntitySample,
			ID:      t.sample.ID,
			Current: string(t.sample.Status),
			Command: command,
		}
	}
	return nil
}

func (t *SampleTracker) markStarted() {
	if t.sample.Status == domain.SamplePending || t.sample.Status == "" {
		now := t.actor.Now
		t.sample.Status = domain.SampleInProgress
		t.sample.StartedAt = &now
	}
}

func (t *SampleTracker) recordIndex(stepID, measurementID string) int {
	for i, rec := range t.sample.Measurements {
		if rec.StepID == stepID && rec.MeasurementID == measurementID {
			return i
		}
	}
	return -1
}

func (t *SampleTracker) remainingSteps() []string {
	var out []string
	for _, s := range t.exec.Steps {
		if !t.sample.HasCompleted(s.ID) {
			out = append(out, s.ID)
		}
	}
	return out
}
