package core

import (
	"context"
	"fmt"
	"reflect"

	"labexec/pkg/domain"
)

// StepDefinitionsFrozenRule blocks any change to the step list, and to the
// execution identity, once the execution has left NOT_STARTED.
func StepDefinitionsFrozenRule() domain.Rule {
	return stepDefinitionsFrozenRule{}
}

type stepDefinitionsFrozenRule struct{}

func (stepDefinitionsFrozenRule) Name() string { return "step_definitions_frozen" }

func (r stepDefinitionsFrozenRule) Evaluate(_ context.Context, change domain.Change) (domain.Result, error) {
	res := domain.Result{}
	before, after := change.Before, change.After
	if before.ID != after.ID || before.StudyID != after.StudyID || before.ProtocolID != after.ProtocolID {
		res.Violations = append(res.Violations, violation(r.Name(), domain.SeverityBlock, domain.EntityExecution, before.ID,
			fmt.Sprintf("execution %s identity cannot change", before.ID)))
	}
	if before.Status == domain.ExecutionNotStarted {
		return res, nil
	}
	if !reflect.DeepEqual(before.Steps, after.Steps) {
		res.Violations = append(res.Violations, violation(r.Name(), domain.SeverityBlock, domain.EntityStep, after.ID,
			fmt.Sprintf("step definitions of execution %s are frozen once started", after.ID)))
	}
	return res, nil
}

// CompletedStepIntegrityRule blocks a completed-step set that names unknown or
// duplicate steps, or a newly completed step missing a required value.
func CompletedStepIntegrityRule() domain.Rule {
	return completedStepIntegrityRule{}
}

type completedStepIntegrityRule struct{}

func (completedStepIntegrityRule) Name() string { return "completed_step_integrity" }

func (r completedStepIntegrityRule) Evaluate(_ context.Context, change domain.Change) (domain.Result, error) {
	res := domain.Result{}
	after := change.After
	previous := samplesByID(change.Before)
	for _, sample := range after.Samples {
		prior := previous[sample.ID]
		seen := make(map[string]struct{}, len(sample.CompletedSteps))
		for _, stepID := range sample.CompletedSteps {
			if _, dup := seen[stepID]; dup {
				res.Violations = append(res.Violations, violation(r.Name(), domain.SeverityBlock, domain.EntitySample, sample.ID,
					fmt.Sprintf("sample %s lists step %s as completed twice", sample.ID, stepID)))
				continue
			}
			seen[stepID] = struct{}{}
			step, _, ok := after.Step(stepID)
			if !ok {
				res.Violations = append(res.Violations, violation(r.Name(), domain.SeverityBlock, domain.EntitySample, sample.ID,
					fmt.Sprintf("sample %s completed unknown step %s", sample.ID, stepID)))
				continue
			}
			if prior.HasCompleted(stepID) {
				continue
			}
			if v := Validate(step, sample.Measurements); !v.Complete() {
				res.Violations = append(res.Violations, violation(r.Name(), domain.SeverityBlock, domain.EntityStep, stepID,
					fmt.Sprintf("step %s for sample %s completed without required measurements", stepID, sample.ID)))
			}
		}
	}
	return res, nil
}
