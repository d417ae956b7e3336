package integration

import (
	"bytes"
	"context"
	"io"
	"path/filepath"
	"testing"

	"labexec/internal/archive"
	"labexec/internal/blob"
	"labexec/internal/core"
	"labexec/internal/infra/persistence/memory"
	"labexec/internal/infra/persistence/sqlite"
	"labexec/pkg/domain"
)

func smokeProtocol() domain.ProtocolDefinition {
	tol := 0.5
	return domain.ProtocolDefinition{
		ID:      "tensile",
		Version: "1",
		Title:   "Tensile strength",
		Steps: []domain.StepDefinition{
			{
				ID: "S1", Title: "Load specimen",
				Measurements: []domain.MeasurementDefinition{
					{ID: "m1", Name: "Load", Unit: "kN", Type: domain.TypeNumeric, Required: true, Expected: domain.Number(10).Ptr(), Tolerance: &tol},
				},
			},
			{
				ID: "S2", Title: "Inspect fracture",
				Measurements: []domain.MeasurementDefinition{
					{ID: "clean", Name: "Clean break", Type: domain.TypeBoolean, Required: true},
				},
			},
		},
	}
}

// TestIntegrationSmoke runs one execution to completion against every
// in-process store and blob backend and checks the archived snapshot.
func TestIntegrationSmoke(t *testing.T) {
	storeVariants := []struct {
		name string
		open func(t *testing.T) domain.ExecutionStore
	}{
		{
			name: "memory-store",
			open: func(*testing.T) domain.ExecutionStore { return memory.NewStore() },
		},
		{
			name: "sqlite-store",
			open: func(t *testing.T) domain.ExecutionStore {
				s, err := sqlite.NewStore(context.Background(), filepath.Join(t.TempDir(), "labexec.db"))
				if err != nil {
					t.Fatalf("new sqlite store: %v", err)
				}
				return s
			},
		},
	}
	blobVariants := []struct {
		name string
		opts func(t *testing.T) blob.Options
	}{
		{"memory-blob", func(*testing.T) blob.Options { return blob.Options{Driver: blob.DriverMemory} }},
		{"filesystem-blob", func(t *testing.T) blob.Options {
			return blob.Options{Driver: blob.DriverFilesystem, FSRoot: t.TempDir()}
		}},
	}

	for _, sv := range storeVariants {
		for _, bv := range blobVariants {
			t.Run(sv.name+"/"+bv.name, func(t *testing.T) {
				ctx := context.Background()
				store := sv.open(t)
				if c, ok := store.(io.Closer); ok {
					t.Cleanup(func() { _ = c.Close() })
				}
				blobs, err := blob.Open(ctx, bv.opts(t))
				if err != nil {
					t.Fatalf("open blob store: %v", err)
				}
				archiver := archive.New(blobs)
				metrics := core.NewExpvarMetricsRecorder("")
				var traces bytes.Buffer
				tracer := core.NewJSONTracer(&traces)
				svc := core.NewService(store,
					core.WithArchiver(archiver),
					core.WithMetricsRecorder(metrics),
					core.WithTracer(tracer),
				)

				exec, _, err := svc.CreateExecution(ctx, smokeProtocol(), core.NewExecution{
					ID: "exec-1", StudyID: "study-1", Operator: "alice",
					Samples: []core.SampleInput{{ID: "X", Name: "Specimen X"}},
				})
				if err != nil {
					t.Fatalf("create execution: %v", err)
				}
				steps := []func() (domain.Execution, domain.Result, error){
					func() (domain.Execution, domain.Result, error) { return svc.Start(ctx, exec.ID, "alice") },
					func() (domain.Execution, domain.Result, error) {
						return svc.RecordMeasurement(ctx, exec.ID, "X", "alice", core.MeasurementInput{StepID: "S1", MeasurementID: "m1", Value: domain.Number(10.2)})
					},
					func() (domain.Execution, domain.Result, error) {
						return svc.CompleteStep(ctx, exec.ID, "X", "S1", "alice")
					},
					func() (domain.Execution, domain.Result, error) {
						return svc.RecordMeasurement(ctx, exec.ID, "X", "alice", core.MeasurementInput{StepID: "S2", MeasurementID: "clean", Value: domain.Bool(true)})
					},
					func() (domain.Execution, domain.Result, error) {
						return svc.CompleteStep(ctx, exec.ID, "X", "S2", "alice")
					},
					func() (domain.Execution, domain.Result, error) {
						return svc.CompleteSample(ctx, exec.ID, "X", "alice", domain.QualityPass, "clean break", "")
					},
					func() (domain.Execution, domain.Result, error) {
						return svc.Complete(ctx, exec.ID, "alice", "all specimens passed", "")
					},
				}
				for i, step := range steps {
					var res domain.Result
					exec, res, err = step()
					if err != nil {
						t.Fatalf("step %d: %v", i, err)
					}
					if res.HasBlocking() {
						t.Fatalf("step %d: unexpected blocking violations %+v", i, res.Violations)
					}
				}
				if exec.Status != domain.ExecutionCompleted {
					t.Fatalf("expected completed execution, got %s", exec.Status)
				}

				progress, err := svc.Progress(ctx, exec.ID)
				if err != nil {
					t.Fatalf("progress: %v", err)
				}
				if progress.Overall != 100 {
					t.Fatalf("expected full progress, got %+v", progress)
				}
				listed, err := svc.ListByStudy(ctx, "study-1")
				if err != nil || len(listed) != 1 || listed[0].Status != domain.ExecutionCompleted {
					t.Fatalf("unexpected study listing %+v (%v)", listed, err)
				}

				entries, err := archiver.List(ctx, "study-1", exec.ID)
				if err != nil {
					t.Fatalf("list archives: %v", err)
				}
				if len(entries) != 1 || entries[0].Version != exec.Version {
					t.Fatalf("expected one archive at version %d, got %+v", exec.Version, entries)
				}
				archived, err := archiver.Load(ctx, "study-1", exec.ID, exec.Version)
				if err != nil {
					t.Fatalf("load archive: %v", err)
				}
				if archived.Status != domain.ExecutionCompleted || archived.Summary != "all specimens passed" {
					t.Fatalf("unexpected archived snapshot %+v", archived)
				}

				if metrics.Snapshot().Commands["complete_execution"].Successes != 1 {
					t.Fatalf("expected complete_execution success metric, got %+v", metrics.Snapshot().Commands)
				}
				var found bool
				for _, span := range tracer.Spans() {
					if span.Operation == "complete_execution" && span.Status == "success" {
						found = true
					}
				}
				if !found || traces.Len() == 0 {
					t.Fatalf("expected complete_execution span, got %+v", tracer.Spans())
				}
			})
		}
	}
}
