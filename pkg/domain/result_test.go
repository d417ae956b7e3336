package domain

import (
	"context"
	"fmt"
	"strings"
	"testing"
)

func TestResultMergeAndBlocking(t *testing.T) {
	var result Result
	result.Merge(Result{Violations: []Violation{{Rule: "warn", Severity: SeverityWarn}}})
	if result.HasBlocking() {
		t.Fatalf("expected no blocking violations")
	}
	result.Merge(Result{Violations: []Violation{{Rule: "block", Severity: SeverityBlock, Message: "sample missing"}}})
	if !result.HasBlocking() {
		t.Fatalf("expected blocking violation")
	}
	if warnings := result.Warnings(); len(warnings) != 1 || warnings[0].Rule != "warn" {
		t.Fatalf("unexpected warnings %+v", warnings)
	}
	err := RuleViolationError{Result: result}
	if !strings.Contains(err.Error(), "sample missing") {
		t.Fatalf("expected blocking message in error, got %q", err.Error())
	}
	if (RuleViolationError{}).Error() != "command blocked by rules" {
		t.Fatalf("unexpected empty error string")
	}
}

func TestResultMergeEmptyInput(t *testing.T) {
	original := Result{Violations: []Violation{{Rule: "existing", Severity: SeverityWarn}}}
	original.Merge(Result{})
	if len(original.Violations) != 1 || original.Violations[0].Rule != "existing" {
		t.Fatalf("expected original violations to remain, got %+v", original.Violations)
	}
}

func TestRulesEngineEvaluate(t *testing.T) {
	engine := NewRulesEngine()
	engine.Register(staticRule{"first"})
	engine.Register(staticRule{"second"})
	if names := engine.Rules(); len(names) != 2 || names[0] != "first" || names[1] != "second" {
		t.Fatalf("unexpected rule order %v", names)
	}
	res, err := engine.Evaluate(context.Background(), Change{Operation: "start_execution"})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if len(res.Violations) != 2 {
		t.Fatalf("expected two violations, got %+v", res.Violations)
	}
}

type staticRule struct{ name string }

func (r staticRule) Name() string { return r.name }

func (r staticRule) Evaluate(_ context.Context, change Change) (Result, error) {
	return Result{Violations: []Violation{{Rule: r.name, Severity: SeverityWarn, Message: change.Operation}}}, nil
}

func TestRulesEngineEvaluateError(t *testing.T) {
	engine := NewRulesEngine()
	engine.Register(errorRule{})
	if _, err := engine.Evaluate(context.Background(), Change{}); err == nil {
		t.Fatalf("expected evaluation error")
	}
}

type errorRule struct{}

func (errorRule) Name() string { return "error" }

func (errorRule) Evaluate(context.Context, Change) (Result, error) {
	return Result{}, fmt.Errorf("boom")
}
