package core

import (
	"context"
	"fmt"

	"labexec/pkg/domain"
)

// LifecycleTransitionRule blocks illegal execution and sample status changes.
func LifecycleTransitionRule() domain.Rule {
	return lifecycleTransitionRule{}
}

type lifecycleTransitionRule struct{}

var validSampleStatuses = toSet(
	string(domain.SamplePending),
	string(domain.SampleInProgress),
	string(domain.SampleCompleted),
	string(domain.SampleFailed),
	string(domain.SampleSkipped),
)

func (lifecycleTransitionRule) Name() string { return "lifecycle_transition" }

func (r lifecycleTransitionRule) Evaluate(_ context.Context, change domain.Change) (domain.Result, error) {
	res := domain.Result{}
	before, after := change.Before, change.After

	if _, ok := validExecutionStatuses[after.Status]; !ok {
		res.Violations = append(res.Violations, violation(r.Name(), domain.SeverityBlock, domain.EntityExecution, after.ID,
			fmt.Sprintf("execution %s is set to invalid status %s", after.ID, after.Status)))
	} else if before.Status != after.Status && !allowedEdge(before.Status, after.Status) {
		res.Violations = append(res.Violations, violation(r.Name(), domain.SeverityBlock, domain.EntityExecution, after.ID,
			fmt.Sprintf("cannot move execution %s from %s to %s", after.ID, before.Status, after.Status)))
	}

	previous := samplesByID(before)
	for _, sample := range after.Samples {
		if _, ok := validSampleStatuses[string(sample.Status)]; !ok {
			res.Violations = append(res.Violations, violation(r.Name(), domain.SeverityBlock, domain.EntitySample, sample.ID,
				fmt.Sprintf("sample %s is set to invalid status %s", sample.ID, sample.Status)))
			continue
		}
		prior, ok := previous[sample.ID]
		if !ok || !prior.Status.Terminal() {
			continue
		}
		if prior.Status != sample.Status {
			res.Violations = append(res.Violations, violation(r.Name(), domain.SeverityBlock, domain.EntitySample, sample.ID,
				fmt.Sprintf("cannot move sample %s from terminal status %s to %s", sample.ID, prior.Status, sample.Status)))
		}
	}
	for id := range previous {
		if after.SampleIndex(id) < 0 {
			res.Violations = append(res.Violations, violation(r.Name(), domain.SeverityBlock, domain.EntitySample, id,
				fmt.Sprintf("sample %s cannot be removed from execution %s", id, after.ID)))
		}
	}
	return res, nil
}

func toSet(values ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return set
}
