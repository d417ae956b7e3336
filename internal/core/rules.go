package core

import "labexec/pkg/domain"

// NewDefaultRulesEngine builds a rules engine with the built-in policy set.
// Blocking rules guard aggregate invariants; the rest surface warnings.
func NewDefaultRulesEngine() *domain.RulesEngine {
	engine := domain.NewRulesEngine()
	engine.Register(LifecycleTransitionRule())
	engine.Register(StepDefinitionsFrozenRule())
	engine.Register(CompletedStepIntegrityRule())
	engine.Register(ToleranceAdvisoryRule())
	engine.Register(RequiredConditionsRule())
	engine.Register(EarlyCompletionRule())
	return engine
}

func violation(rule string, severity domain.Severity, entity domain.EntityType, id, msg string) domain.Violation {
	return domain.Violation{
		Rule:     rule,
		Severity: severity,
		Message:  msg,
		Entity:   entity,
		EntityID: id,
	}
}

func samplesByID(exec domain.Execution) map[string]domain.Sample {
	out := make(map[string]domain.Sample, len(exec.Samples))
	for _, s := range exec.Samples {
		out[s.ID] = s
	}
	return out
}
