package core

import (
	"context"
	"fmt"

	"labexec/pkg/domain"
)

// ToleranceAdvisoryRule warns when a command leaves a measurement or test
// condition outside its declared tolerance.
func ToleranceAdvisoryRule() domain.Rule {
	return toleranceAdvisoryRule{}
}

type toleranceAdvisoryRule struct{}

func (toleranceAdvisoryRule) Name() string { return "tolerance_advisory" }

func (r toleranceAdvisoryRule) Evaluate(_ context.Context, change domain.Change) (domain.Result, error) {
	res := domain.Result{}
	previous := samplesByID(change.Before)
	for _, sample := range change.After.Samples {
		prior := previous[sample.ID]
		for _, rec := range sample.Measurements {
			if !rec.OutOfTolerance {
				continue
			}
			if old, ok := prior.Record(rec.StepID, rec.MeasurementID); ok && old.OutOfTolerance && old.Value.Equal(rec.Value) {
				continue
			}
			res.Violations = append(res.Violations, violation(r.Name(), domain.SeverityWarn, domain.EntityMeasurement, rec.MeasurementID,
				fmt.Sprintf("measurement %s of step %s for sample %s is out of tolerance (%s)",
					rec.MeasurementID, rec.StepID, sample.ID, rec.Value)))
		}
	}
	for _, cond := range change.After.Conditions {
		if cond.WithinTolerance == nil || *cond.WithinTolerance {
			continue
		}
		if i := change.Before.ConditionIndex(cond.Name); i >= 0 {
			old := change.Before.Conditions[i]
			if old.Actual != nil && cond.Actual != nil && old.Actual.Equal(*cond.Actual) {
				continue
			}
		}
		res.Violations = append(res.Violations, violation(r.Name(), domain.SeverityWarn, domain.EntityCondition, cond.Name,
			fmt.Sprintf("test condition %s is outside tolerance of target %s", cond.Name, cond.Target)))
	}
	return res, nil
}

// RequiredConditionsRule warns when an execution completes with required test
// conditions never recorded.
func RequiredConditionsRule() domain.Rule {
	return requiredConditionsRule{}
}

type requiredConditionsRule struct{}

func (requiredConditionsRule) Name() string { return "required_conditions" }

func (r requiredConditionsRule) Evaluate(_ context.Context, change domain.Change) (domain.Result, error) {
	res := domain.Result{}
	if change.After.Status != domain.ExecutionCompleted || change.Before.Status == domain.ExecutionCompleted {
		return res, nil
	}
	for _, cond := range change.After.Conditions {
		if cond.Required && !cond.IsSet {
			res.Violations = append(res.Violations, violation(r.Name(), domain.SeverityWarn, domain.EntityCondition, cond.Name,
				fmt.Sprintf("required test condition %s was never recorded", cond.Name)))
		}
	}
	return res, nil
}

// EarlyCompletionRule warns when a sample is completed ahead of its last step.
func EarlyCompletionRule() domain.Rule {
	return earlyCompletionRule{}
}

type earlyCompletionRule struct{}

func (earlyCompletionRule) Name() string { return "early_sample_completion" }

func (r earlyCompletionRule) Evaluate(_ context.Context, change domain.Change) (domain.Result, error) {
	res := domain.Result{}
	previous := samplesByID(change.Before)
	for _, sample := range change.After.Samples {
		if sample.Status != domain.SampleCompleted || previous[sample.ID].Status == domain.SampleCompleted {
			continue
		}
		if sample.OverrideReason == "" {
			continue
		}
		res.Violations = append(res.Violations, violation(r.Name(), domain.SeverityWarn, domain.EntitySample, sample.ID,
			fmt.Sprintf("sample %s completed before its final step: %s", sample.ID, sample.OverrideReason)))
	}
	return res, nil
}
