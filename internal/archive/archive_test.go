package archive

import (
	"context"
	"errors"
	"testing"
	"time"

	"labexec/internal/blob"
	"labexec/internal/core"
	"labexec/pkg/domain"
)

func openMemory(t *testing.T) blob.Store {
	t.Helper()
	store, err := blob.Open(context.Background(), blob.Options{Driver: blob.DriverMemory})
	if err != nil {
		t.Fatalf("open blob store: %v", err)
	}
	return store
}

func snapshot(id string, version int64) domain.Execution {
	return domain.Execution{
		ID:         id,
		StudyID:    "study-1",
		ProtocolID: "tensile",
		Status:     domain.ExecutionCompleted,
		Steps:      []domain.StepDefinition{{ID: "S1", Title: "Measure"}},
		Samples:    []domain.Sample{{ID: "X", Name: "Specimen X", Status: domain.SampleCompleted, CompletedSteps: []string{"S1"}}},
		Summary:    "all within tolerance",
		CreatedAt:  time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC),
		UpdatedAt:  time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC),
		Version:    version,
	}
}

func TestKeyLayout(t *testing.T) {
	if got := Key("study-1", "exec-1", 7); got != "executions/study-1/exec-1/v7.json" {
		t.Fatalf("unexpected key %s", got)
	}
}

func TestArchiveAndLoad(t *testing.T) {
	ctx := context.Background()
	archiver := New(openMemory(t))
	exec := snapshot("exec-1", 9)
	if err := archiver.Archive(ctx, exec); err != nil {
		t.Fatalf("archive: %v", err)
	}
	if err := archiver.Archive(ctx, exec); err != nil {
		t.Fatalf("expected repeat archive to be a no-op, got %v", err)
	}
	loaded, err := archiver.Load(ctx, "study-1", "exec-1", 9)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Summary != exec.Summary || loaded.Version != 9 || !loaded.UpdatedAt.Equal(exec.UpdatedAt) {
		t.Fatalf("unexpected snapshot %+v", loaded)
	}
	_, err = archiver.Load(ctx, "study-1", "exec-1", 10)
	var nf domain.NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
}

func TestArchiveRejectsAnonymousExecution(t *testing.T) {
	if err := New(openMemory(t)).Archive(context.Background(), domain.Execution{}); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestListByStudyAndExecution(t *testing.T) {
	ctx := context.Background()
	archiver := New(openMemory(t))
	for _, exec := range []domain.Execution{snapshot("exec-1", 4), snapshot("exec-2", 6), snapshot("exec-10", 3)} {
		if err := archiver.Archive(ctx, exec); err != nil {
			t.Fatalf("archive %s: %v", exec.ID, err)
		}
	}
	all, err := archiver.List(ctx, "study-1", "")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 3 || all[0].ExecutionID != "exec-1" || all[0].Status != domain.ExecutionCompleted {
		t.Fatalf("unexpected listing %+v", all)
	}
	one, err := archiver.List(ctx, "study-1", "exec-1")
	if err != nil {
		t.Fatalf("list exec-1: %v", err)
	}
	if len(one) != 1 || one[0].Version != 4 || one[0].Size == 0 {
		t.Fatalf("expected exec-1 only, got %+v", one)
	}
}

func TestServiceArchivesOnTerminalTransition(t *testing.T) {
	ctx := context.Background()
	archiver := New(openMemory(t))
	svc := core.NewInMemoryService(core.WithArchiver(archiver))
	protocol := domain.ProtocolDefinition{ID: "visual", Title: "Visual check", Steps: []domain.StepDefinition{{ID: "S1", Title: "Look"}}}
	exec, _, err := svc.CreateExecution(ctx, protocol, core.NewExecution{
		StudyID: "study-9", Operator: "alice", Samples: []core.SampleInput{{ID: "X", Name: "Panel"}},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, _, err := svc.Cancel(ctx, exec.ID, "alice", "panel cracked in transit"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	entries, err := archiver.List(ctx, "study-9", exec.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 1 || entries[0].Version != 2 || entries[0].Status != domain.ExecutionCancelled {
		t.Fatalf("expected cancelled snapshot v2, got %+v", entries)
	}
}
