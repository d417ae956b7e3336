package core

import "labexec/pkg/domain"

// CurrentStepIndex is the single derivation of a sample's current step: the
// index of the first step whose id is not in completed, or len(steps) when
// every step is done.
func CurrentStepIndex(steps []domain.StepDefinition, completed []string) int {
	done := make(map[string]struct{}, len(completed))
	for _, id := range completed {
		done[id] = struct{}{}
	}
	for i, s := range steps {
		if _, ok := done[s.ID]; !ok {
			return i
		}
	}
	return len(steps)
}

// SampleProgress is the share of steps completed, in percent. A protocol with
// no steps counts as fully done.
func SampleProgress(sample domain.Sample, totalSteps int) float64 {
	if totalSteps <= 0 {
		return 100
	}
	p := float64(len(sample.CompletedSteps)) / float64(totalSteps) * 100
	if p > 100 {
		return 100
	}
	return p
}

// OverallProgress aggregates completed steps across all samples, in percent.
func OverallProgress(exec domain.Execution) float64 {
	if len(exec.Samples) == 0 {
		return 0
	}
	total := len(exec.Steps)
	if total == 0 {
		return 100
	}
	var done int
	for _, s := range exec.Samples {
		done += len(s.CompletedSteps)
	}
	p := float64(done) / float64(len(exec.Samples)*total) * 100
	if p > 100 {
		return 100
	}
	return p
}
