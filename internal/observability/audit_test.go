package observability

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"labexec/internal/core"
)

func TestAuditLogWritesJSONLines(t *testing.T) {
	var buf bytes.Buffer
	a := NewAuditLog(&buf)
	at := time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)
	a.Record(context.Background(), core.AuditEntry{
		Operation: "record_measurement", Status: core.AuditStatusSuccess,
		ExecutionID: "exec-1", SampleID: "X", Operator: "alice", Version: 3,
		Duration: 4 * time.Millisecond, Timestamp: at,
	})
	a.Record(context.Background(), core.AuditEntry{
		Operation: "complete_step", Status: core.AuditStatusError,
		ExecutionID: "exec-1", Error: "required measurements missing", Timestamp: at,
	})

	var lines []map[string]any
	sc := bufio.NewScanner(&buf)
	for sc.Scan() {
		var m map[string]any
		if err := json.Unmarshal(sc.Bytes(), &m); err != nil {
			t.Fatalf("line is not JSON: %v (%s)", err, sc.Text())
		}
		lines = append(lines, m)
	}
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
	first := lines[0]
	if first["operation"] != "record_measurement" || first["status"] != "success" || first["sample_id"] != "X" || first["operator"] != "alice" {
		t.Fatalf("unexpected first line %v", first)
	}
	if first["version"] != float64(3) || first["level"] != "info" || first["at"] != "2026-04-01T08:00:00Z" {
		t.Fatalf("unexpected first line %v", first)
	}
	second := lines[1]
	if second["level"] != "warn" || second["error"] != "required measurements missing" {
		t.Fatalf("unexpected second line %v", second)
	}
	if _, ok := second["sample_id"]; ok {
		t.Fatalf("empty fields should be omitted: %v", second)
	}
}

func TestOpenAuditLogAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit", "labexec.jsonl")
	for i := 0; i < 2; i++ {
		a, err := OpenAuditLog(path)
		if err != nil {
			t.Fatalf("open: %v", err)
		}
		a.Record(context.Background(), core.AuditEntry{Operation: "start_execution", Status: core.AuditStatusSuccess})
		if err := a.Close(); err != nil {
			t.Fatalf("close: %v", err)
		}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if n := bytes.Count(data, []byte("\n")); n != 2 {
		t.Fatalf("expected 2 appended lines, got %d", n)
	}

	stdout, err := OpenAuditLog("-")
	if err != nil {
		t.Fatalf("open stdout: %v", err)
	}
	if err := stdout.Close(); err != nil {
		t.Fatalf("closing stdout recorder should be a no-op: %v", err)
	}
}
