package core

import (
	"errors"
	"testing"
	"time"

	"labexec/pkg/domain"
)

func newTracker(t *testing.T, exec *domain.Execution, sampleID string) *SampleTracker {
	t.Helper()
	actor := Actor{Operator: "bob", Now: time.Date(2026, 4, 2, 10, 0, 0, 0, time.UTC)}
	tracker, err := NewSampleTracker(exec, sampleID, actor, sequentialIDs())
	if err != nil {
		t.Fatalf("new tracker: %v", err)
	}
	return tracker
}

func TestSampleTrackerUnknownSample(t *testing.T) {
	exec := ruleExecution(domain.ExecutionInProgress)
	_, err := NewSampleTracker(&exec, "Z", Actor{Operator: "bob"}, sequentialIDs())
	var nf domain.NotFoundError
	if !errors.As(err, &nf) || nf.Entity != domain.EntitySample {
		t.Fatalf("expected sample NotFoundError, got %v", err)
	}
}

func TestSampleTrackerWalksSteps(t *testing.T) {
	exec := ruleExecution(domain.ExecutionInProgress)
	tracker := newTracker(t, &exec, "X")

	if _, _, err := tracker.CompleteStep("S1"); err == nil {
		t.Fatalf("expected incomplete measurements error")
	}
	changed, err := tracker.RecordMeasurement(MeasurementInput{StepID: "S1", MeasurementID: "m1", Value: domain.Number(10.2)})
	if err != nil || !changed {
		t.Fatalf("record: changed=%v err=%v", changed, err)
	}
	if got := exec.Samples[0].Status; got != domain.SampleInProgress {
		t.Fatalf("expected sample to start on first record, got %s", got)
	}
	v, changed, err := tracker.CompleteStep("S1")
	if err != nil || !changed || !v.Complete() {
		t.Fatalf("complete S1: changed=%v err=%v validation=%+v", changed, err, v)
	}
	if tracker.CurrentStepIndex() != 1 {
		t.Fatalf("expected current step 1, got %d", tracker.CurrentStepIndex())
	}
	if _, changed, err := tracker.CompleteStep("S1"); err != nil || changed {
		t.Fatalf("expected repeat completion to be a no-op, changed=%v err=%v", changed, err)
	}

	if _, err := tracker.RecordMeasurement(MeasurementInput{StepID: "S2", MeasurementID: "clean", Value: domain.Bool(true)}); err != nil {
		t.Fatalf("record S2: %v", err)
	}
	if _, _, err := tracker.CompleteStep("S2"); err != nil {
		t.Fatalf("complete S2: %v", err)
	}
	if changed, err := tracker.CompleteSample(domain.QualityPass, "ok", ""); err != nil || !changed {
		t.Fatalf("complete sample: changed=%v err=%v", changed, err)
	}
	sample := tracker.Sample()
	if sample.Status != domain.SampleCompleted || sample.FinishedAt == nil || sample.Quality != domain.QualityPass {
		t.Fatalf("unexpected completed sample %+v", sample)
	}
	if _, err := tracker.RecordMeasurement(MeasurementInput{StepID: "S1", MeasurementID: "m2", Value: domain.Text("late")}); err == nil {
		t.Fatalf("expected terminal sample to reject records")
	}
}

func TestSampleTrackerRejectsBadRecords(t *testing.T) {
	exec := ruleExecution(domain.ExecutionInProgress)
	tracker := newTracker(t, &exec, "X")
	cases := []struct {
		name string
		in   MeasurementInput
	}{
		{"unknown step", MeasurementInput{StepID: "S9", MeasurementID: "m1", Value: domain.Number(1)}},
		{"unknown measurement", MeasurementInput{StepID: "S1", MeasurementID: "m9", Value: domain.Number(1)}},
		{"missing value", MeasurementInput{StepID: "S1", MeasurementID: "m1"}},
		{"wrong type", MeasurementInput{StepID: "S1", MeasurementID: "m1", Value: domain.Text("ten")}},
	}
	for _, tc := range cases {
		if _, err := tracker.RecordMeasurement(tc.in); err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
	}
	if len(exec.Samples[0].Measurements) != 0 || exec.Samples[0].Status != domain.SamplePending {
		t.Fatalf("expected rejected records to leave the sample untouched")
	}
}

func TestSampleTrackerRollbackKeepsRecords(t *testing.T) {
	exec := ruleExecution(domain.ExecutionInProgress)
	tracker := newTracker(t, &exec, "Y")
	if _, err := tracker.RecordMeasurement(MeasurementInput{StepID: "S1", MeasurementID: "m1", Value: domain.Number(10)}); err != nil {
		t.Fatalf("record: %v", err)
	}
	if _, _, err := tracker.CompleteStep("S1"); err != nil {
		t.Fatalf("complete: %v", err)
	}

	var notCompleted domain.StepNotCompletedError
	if err := tracker.UncompleteStep("S2", "redo"); !errors.As(err, &notCompleted) {
		t.Fatalf("expected StepNotCompletedError, got %v", err)
	}
	var missing domain.MissingReasonError
	if err := tracker.UncompleteStep("S1", " "); !errors.As(err, &missing) {
		t.Fatalf("expected MissingReasonError, got %v", err)
	}
	if err := tracker.UncompleteStep("S1", "fixture slipped"); err != nil {
		t.Fatalf("uncomplete: %v", err)
	}
	sample := tracker.Sample()
	if len(sample.CompletedSteps) != 0 || len(sample.Measurements) != 1 {
		t.Fatalf("expected rollback to keep records, got %+v", sample)
	}
	if len(sample.Corrections) != 1 || sample.Corrections[0].Kind != domain.CorrectionRollback || sample.Corrections[0].Operator != "bob" {
		t.Fatalf("unexpected corrections %+v", sample.Corrections)
	}
}

func TestSampleTrackerSkipAndFail(t *testing.T) {
	exec := ruleExecution(domain.ExecutionInProgress)
	skip := newTracker(t, &exec, "X")
	if _, err := skip.SkipSample(""); err == nil {
		t.Fatalf("expected reason to be required")
	}
	if changed, err := skip.SkipSample("not delivered"); err != nil || !changed {
		t.Fatalf("skip: changed=%v err=%v", changed, err)
	}
	if changed, err := skip.SkipSample("not delivered"); err != nil || changed {
		t.Fatalf("expected repeat skip to be a no-op, changed=%v err=%v", changed, err)
	}
	if _, err := skip.FailSample("broken"); err == nil {
		t.Fatalf("expected skipped sample to reject fail")
	}

	fail := newTracker(t, &exec, "Y")
	if changed, err := fail.FailSample("cracked in grips"); err != nil || !changed {
		t.Fatalf("fail: changed=%v err=%v", changed, err)
	}
	if got := exec.Samples[1]; got.Status != domain.SampleFailed || got.FailureReason != "cracked in grips" {
		t.Fatalf("unexpected failed sample %+v", got)
	}
}
