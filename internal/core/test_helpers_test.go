package core

import (
	"context"
	"fmt"
	"testing"
	"time"

	"labexec/pkg/domain"
)

func floatPtr(v float64) *float64 { return &v }

// tensileProtocol has two steps; S1 requires m1 (numeric, expected 10 +/- 0.5).
func tensileProtocol() domain.ProtocolDefinition {
	return domain.ProtocolDefinition{
		ID:      "tensile",
		Version: "1",
		Title:   "Tensile strength",
		Steps: []domain.StepDefinition{
			{
				ID:    "S1",
				Title: "Load specimen",
				Measurements: []domain.MeasurementDefinition{
					{ID: "m1", Name: "Load", Unit: "kN", Type: domain.TypeNumeric, Required: true, Expected: domain.Number(10).Ptr(), Tolerance: floatPtr(0.5)},
					{ID: "m2", Name: "Operator note", Type: domain.TypeText},
				},
			},
			{
				ID:    "S2",
				Title: "Inspect fracture",
				Measurements: []domain.MeasurementDefinition{
					{ID: "clean", Name: "Clean break", Type: domain.TypeBoolean, Required: true},
				},
			},
		},
		Conditions: []domain.ConditionDefinition{
			{Name: "chamber_temp", Target: domain.Number(23), Unit: "C", Tolerance: floatPtr(2), Required: true},
		},
	}
}

type fixedClock struct {
	now time.Time
}

func (c *fixedClock) Now() time.Time {
	c.now = c.now.Add(time.Second)
	return c.now
}

func sequentialIDs() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("id-%d", n)
	}
}

func newTestService(t *testing.T, opts ...Option) *Service {
	t.Helper()
	base := []Option{
		WithClock(&fixedClock{now: time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)}),
		WithIDGenerator(sequentialIDs()),
	}
	return NewInMemoryService(append(base, opts...)...)
}

// startedExecution creates and starts an execution with samples X and Y.
func startedExecution(t *testing.T, svc *Service, protocol domain.ProtocolDefinition) domain.Execution {
	t.Helper()
	ctx := context.Background()
	exec, _, err := svc.CreateExecution(ctx, protocol, NewExecution{
		ID:       "exec-1",
		StudyID:  "study-1",
		Operator: "alice",
		Samples:  []SampleInput{{ID: "X", Name: "Specimen X"}, {ID: "Y", Name: "Specimen Y"}},
	})
	if err != nil {
		t.Fatalf("create execution: %v", err)
	}
	exec, _, err = svc.Start(ctx, exec.ID, "alice")
	if err != nil {
		t.Fatalf("start execution: %v", err)
	}
	return exec
}

func mustRecord(t *testing.T, svc *Service, sampleID, stepID, measurementID string, v domain.Value) domain.Execution {
	t.Helper()
	exec, _, err := svc.RecordMeasurement(context.Background(), "exec-1", sampleID, "alice", MeasurementInput{
		StepID: stepID, MeasurementID: measurementID, Value: v,
	})
	if err != nil {
		t.Fatalf("record %s/%s/%s: %v", sampleID, stepID, measurementID, err)
	}
	return exec
}

func sampleOf(t *testing.T, exec domain.Execution, id string) domain.Sample {
	t.Helper()
	idx := exec.SampleIndex(id)
	if idx < 0 {
		t.Fatalf("sample %s not found", id)
	}
	return exec.Samples[idx]
}
