// Package storetest holds the behavioural contract every execution store
// backend runs in its own tests.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"labexec/pkg/domain"
)

// Factory returns an empty store for one subtest.
type Factory func(t *testing.T) domain.ExecutionStore

// Fixture returns a small execution owned by studyID and created at createdAt.
func Fixture(id, studyID string, createdAt time.Time) domain.Execution {
	tol := 0.5
	expected := domain.Number(10)
	return domain.Execution{
		ID:         id,
		StudyID:    studyID,
		ProtocolID: "tensile",
		Title:      "Tensile strength",
		Status:     domain.ExecutionNotStarted,
		Steps: []domain.StepDefinition{{
			ID:    "S1",
			Title: "Measure",
			Measurements: []domain.MeasurementDefinition{{
				ID: "m1", Name: "Load", Type: domain.TypeNumeric, Required: true,
				Expected: &expected, Tolerance: &tol,
			}},
		}},
		Conditions: []domain.TestCondition{},
		Samples: []domain.Sample{{
			ID:             "X",
			Name:           "Specimen X",
			Status:         domain.SamplePending,
			CompletedSteps: []string{},
			Measurements:   []domain.MeasurementRecord{},
			Corrections:    []domain.CorrectionEntry{},
		}},
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
	}
}

// Run exercises create, load, compare-and-swap save and study listing.
func Run(t *testing.T, newStore Factory) {
	t.Helper()
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	t.Run("CreateAndLoad", func(t *testing.T) {
		ctx := context.Background()
		store := newStore(t)
		created, err := store.Create(ctx, Fixture("exec-1", "study-1", base))
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		if created.Version != 1 {
			t.Fatalf("expected version 1, got %d", created.Version)
		}
		loaded, err := store.Load(ctx, "exec-1")
		if err != nil {
			t.Fatalf("load: %v", err)
		}
		if loaded.Version != 1 || loaded.StudyID != "study-1" || len(loaded.Samples) != 1 {
			t.Fatalf("unexpected loaded execution: %+v", loaded)
		}
		if got := loaded.Steps[0].Measurements[0]; got.Expected == nil || !got.Expected.Equal(domain.Number(10)) {
			t.Fatalf("expected measurement definition to round trip, got %+v", got)
		}
		if !loaded.CreatedAt.Equal(base) {
			t.Fatalf("expected created at %v, got %v", base, loaded.CreatedAt)
		}
	})

	t.Run("CreateDuplicate", func(t *testing.T) {
		ctx := context.Background()
		store := newStore(t)
		if _, err := store.Create(ctx, Fixture("exec-1", "study-1", base)); err != nil {
			t.Fatalf("create: %v", err)
		}
		_, err := store.Create(ctx, Fixture("exec-1", "study-1", base))
		var exists domain.AlreadyExistsError
		if !errors.As(err, &exists) {
			t.Fatalf("expected AlreadyExistsError, got %v", err)
		}
	})

	t.Run("LoadMissing", func(t *testing.T) {
		store := newStore(t)
		_, err := store.Load(context.Background(), "nope")
		var nf domain.NotFoundError
		if !errors.As(err, &nf) {
			t.Fatalf("expected NotFoundError, got %v", err)
		}
	})

	t.Run("SaveBumpsVersion", func(t *testing.T) {
		ctx := context.Background()
		store := newStore(t)
		created, err := store.Create(ctx, Fixture("exec-1", "study-1", base))
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		created.Status = domain.ExecutionInProgress
		saved, err := store.Save(ctx, created)
		if err != nil {
			t.Fatalf("save: %v", err)
		}
		if saved.Version != 2 {
			t.Fatalf("expected version 2, got %d", saved.Version)
		}
		loaded, err := store.Load(ctx, "exec-1")
		if err != nil {
			t.Fatalf("load: %v", err)
		}
		if loaded.Version != 2 || loaded.Status != domain.ExecutionInProgress {
			t.Fatalf("expected saved state, got version %d status %s", loaded.Version, loaded.Status)
		}
	})

	t.Run("SaveStaleVersion", func(t *testing.T) {
		ctx := context.Background()
		store := newStore(t)
		created, err := store.Create(ctx, Fixture("exec-1", "study-1", base))
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		first := created
		second := created
		first.PauseNotes = "first writer"
		if _, err := store.Save(ctx, first); err != nil {
			t.Fatalf("first save: %v", err)
		}
		second.PauseNotes = "second writer"
		_, err = store.Save(ctx, second)
		var conflict domain.ConcurrentModificationError
		if !errors.As(err, &conflict) {
			t.Fatalf("expected ConcurrentModificationError, got %v", err)
		}
		if conflict.Expected != 1 || conflict.Actual != 2 {
			t.Fatalf("unexpected conflict versions: %+v", conflict)
		}
		loaded, err := store.Load(ctx, "exec-1")
		if err != nil {
			t.Fatalf("load: %v", err)
		}
		if loaded.PauseNotes != "first writer" {
			t.Fatalf("expected first write to survive, got %q", loaded.PauseNotes)
		}
	})

	t.Run("SaveMissing", func(t *testing.T) {
		store := newStore(t)
		exec := Fixture("ghost", "study-1", base)
		exec.Version = 1
		_, err := store.Save(context.Background(), exec)
		var nf domain.NotFoundError
		if !errors.As(err, &nf) {
			t.Fatalf("expected NotFoundError, got %v", err)
		}
	})

	t.Run("ListByStudyOrdersByCreation", func(t *testing.T) {
		ctx := context.Background()
		store := newStore(t)
		fixtures := []domain.Execution{
			Fixture("exec-late", "study-1", base.Add(2*time.Hour)),
			Fixture("exec-early", "study-1", base),
			Fixture("exec-other", "study-2", base.Add(time.Hour)),
		}
		for _, f := range fixtures {
			if _, err := store.Create(ctx, f); err != nil {
				t.Fatalf("create %s: %v", f.ID, err)
			}
		}
		list, err := store.ListByStudy(ctx, "study-1")
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if len(list) != 2 || list[0].ID != "exec-early" || list[1].ID != "exec-late" {
			t.Fatalf("unexpected listing: %+v", list)
		}
		if list[0].SampleCount != 1 || list[0].StepCount != 1 {
			t.Fatalf("unexpected summary counts: %+v", list[0])
		}
		empty, err := store.ListByStudy(ctx, "study-none")
		if err != nil {
			t.Fatalf("list empty: %v", err)
		}
		if len(empty) != 0 {
			t.Fatalf("expected empty listing, got %+v", empty)
		}
	})
}
