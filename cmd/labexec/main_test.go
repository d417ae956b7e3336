package main

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"labexec/internal/config"
	"labexec/internal/core"
	"labexec/pkg/domain"
)

const protocolYAML = `id: tensile
version: "1"
title: Tensile strength
steps:
  - id: S1
    title: Load specimen
    measurements:
      - id: m1
        name: Peak load
        type: numeric
        required: true
`

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	root := newRootCmd(&out, &errOut)
	root.SetArgs(append(args, "--env-file", filepath.Join(t.TempDir(), "none.env")))
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func testProtocol() domain.ProtocolDefinition {
	return domain.ProtocolDefinition{
		ID: "tensile", Version: "1", Title: "Tensile strength",
		Steps: []domain.StepDefinition{{
			ID: "S1", Title: "Load specimen",
			Measurements: []domain.MeasurementDefinition{{ID: "m1", Name: "Peak load", Type: domain.TypeNumeric, Required: true}},
		}},
	}
}

func TestProtocolsValidateAndList(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "tensile.yaml"), []byte(protocolYAML), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	out, err := runCLI(t, "protocols", "validate", dir)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !strings.Contains(out, "1 protocol versions valid") {
		t.Fatalf("unexpected output %q", out)
	}
	out, err = runCLI(t, "protocols", "list", dir)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if !strings.Contains(out, "tensile") || !strings.Contains(out, "Tensile strength") {
		t.Fatalf("unexpected listing %q", out)
	}

	if err := os.WriteFile(filepath.Join(dir, "broken.yml"), []byte("id: broken\nsteps:\n  - id: S1\n  - id: S1\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := runCLI(t, "protocols", "validate", dir); err == nil || !strings.Contains(err.Error(), "broken.yml") {
		t.Fatalf("expected validation failure naming the file, got %v", err)
	}
}

func TestExecutionsListAndShow(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "labexec.db")
	t.Setenv("LABEXEC_STORAGE_DRIVER", "sqlite")
	t.Setenv("LABEXEC_SQLITE_PATH", dbPath)

	ctx := context.Background()
	store, err := core.OpenPersistentStore(ctx, core.StorageOptions{Driver: core.StorageSQLite, SQLitePath: dbPath})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	svc := core.NewService(store)
	if _, _, err := svc.CreateExecution(ctx, testProtocol(), core.NewExecution{
		ID: "exec-1", StudyID: "study-1", Operator: "alice",
		Samples: []core.SampleInput{{ID: "X", Name: "Specimen X"}},
	}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if c, ok := store.(io.Closer); ok {
		_ = c.Close()
	}

	out, err := runCLI(t, "executions", "list", "--study", "study-1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if !strings.Contains(out, "exec-1") || !strings.Contains(out, "NOT_STARTED") {
		t.Fatalf("unexpected listing %q", out)
	}

	out, err = runCLI(t, "executions", "show", "exec-1")
	if err != nil {
		t.Fatalf("show: %v", err)
	}
	if !strings.Contains(out, `"overall_progress": 0`) || !strings.Contains(out, `"current_step_id": "S1"`) {
		t.Fatalf("unexpected view %s", out)
	}

	if _, err := runCLI(t, "executions", "show", "missing"); err == nil {
		t.Fatalf("expected not found error")
	}
	if _, err := runCLI(t, "executions", "list"); err == nil {
		t.Fatalf("expected missing --study flag error")
	}
}

func TestEventsTailRequiresRedis(t *testing.T) {
	t.Setenv("LABEXEC_EVENTS_DRIVER", "memory")
	_, err := runCLI(t, "events", "tail")
	if err == nil || !strings.Contains(err.Error(), "redis event driver") {
		t.Fatalf("expected redis requirement error, got %v", err)
	}
}

func memoryConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = 0
	cfg.Storage.Driver = "memory"
	cfg.Blob.Driver = "memory"
	cfg.Events.Driver = "memory"
	cfg.Catalog.Path = filepath.Join(t.TempDir(), "absent")
	cfg.Logging.Mode = "development"
	cfg.Audit.Path = filepath.Join(t.TempDir(), "audit.jsonl")
	return cfg
}

func TestAppWiring(t *testing.T) {
	ctx := context.Background()
	cfg := memoryConfig(t)
	a, err := newApp(ctx, cfg)
	if err != nil {
		t.Fatalf("new app: %v", err)
	}

	var seen []domain.ExecutionEvent
	if err := a.bus.StartForwarder(ctx, func(ev domain.ExecutionEvent) { seen = append(seen, ev) }); err != nil {
		t.Fatalf("forwarder: %v", err)
	}
	exec, _, err := a.svc.CreateExecution(ctx, testProtocol(), core.NewExecution{
		StudyID: "study-1", Operator: "alice", Samples: []core.SampleInput{{Name: "X"}},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, _, err := a.svc.Cancel(ctx, exec.ID, "alice", "aborted"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if len(seen) != 2 || seen[1].Status != domain.ExecutionCancelled {
		t.Fatalf("expected create and cancel events, got %+v", seen)
	}
	archived, err := a.archiver.List(ctx, "study-1", exec.ID)
	if err != nil || len(archived) != 1 {
		t.Fatalf("expected one archive entry, got %v (%v)", archived, err)
	}

	router := a.router()
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `labexec_commands_total{operation="cancel_execution",outcome="success"} 1`) {
		t.Fatalf("metrics: %d %s", rec.Code, rec.Body.String())
	}
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/executions/"+exec.ID, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("get execution: %d %s", rec.Code, rec.Body.String())
	}

	if err := a.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	data, err := os.ReadFile(cfg.Audit.Path)
	if err != nil {
		t.Fatalf("read audit: %v", err)
	}
	if lines := strings.Count(string(data), "\n"); lines != 2 {
		t.Fatalf("expected 2 audit lines, got %d:\n%s", lines, data)
	}
}

func TestServeStopsOnCancel(t *testing.T) {
	cfg := memoryConfig(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- serve(ctx, cfg.Logging.Mode, func() (*app, error) { return newApp(ctx, cfg) })
	}()
	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("serve returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("serve did not stop")
	}
}

func TestNewAppRejectsBadCatalog(t *testing.T) {
	cfg := memoryConfig(t)
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "bad.yaml"), []byte("id: \n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg.Catalog.Path = dir
	if _, err := newApp(context.Background(), cfg); err == nil || !strings.Contains(err.Error(), "protocol catalog") {
		t.Fatalf("expected catalog error, got %v", err)
	}
}
