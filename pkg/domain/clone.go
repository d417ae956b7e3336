package domain

import "time"

// Clone returns a deep copy so that no caller shares mutable state with the
// aggregate held by a store or the controller.
func (e Execution) Clone() Execution {
	cp := e
	cp.Steps = cloneSteps(e.Steps)
	if e.Conditions != nil {
		cp.Conditions = make([]TestCondition, len(e.Conditions))
		for i, c := range e.Conditions {
			cp.Conditions[i] = cloneCondition(c)
		}
	}
	cp.Environment = Environment{
		Temperature: cloneFloat(e.Environment.Temperature),
		Humidity:    cloneFloat(e.Environment.Humidity),
		Pressure:    cloneFloat(e.Environment.Pressure),
		Notes:       e.Environment.Notes,
	}
	if e.Samples != nil {
		cp.Samples = make([]Sample, len(e.Samples))
		for i, s := range e.Samples {
			cp.Samples[i] = s.Clone()
		}
	}
	if e.Sessions != nil {
		cp.Sessions = make([]Session, len(e.Sessions))
		for i, s := range e.Sessions {
			sc := s
			sc.SampleIDs = append([]string(nil), s.SampleIDs...)
			cp.Sessions[i] = sc
		}
	}
	cp.StartedAt = cloneTime(e.StartedAt)
	cp.PausedAt = cloneTime(e.PausedAt)
	cp.ResumedAt = cloneTime(e.ResumedAt)
	cp.CompletedAt = cloneTime(e.CompletedAt)
	cp.CancelledAt = cloneTime(e.CancelledAt)
	cp.FailedAt = cloneTime(e.FailedAt)
	return cp
}

// Clone returns a deep copy of the sample.
func (s Sample) Clone() Sample {
	cp := s
	cp.CompletedSteps = append([]string(nil), s.CompletedSteps...)
	cp.Measurements = append([]MeasurementRecord(nil), s.Measurements...)
	if s.Corrections != nil {
		cp.Corrections = make([]CorrectionEntry, len(s.Corrections))
		for i, c := range s.Corrections {
			cc := c
			cc.PreviousValue = cloneValue(c.PreviousValue)
			cc.NewValue = cloneValue(c.NewValue)
			cp.Corrections[i] = cc
		}
	}
	cp.StartedAt = cloneTime(s.StartedAt)
	cp.FinishedAt = cloneTime(s.FinishedAt)
	return cp
}

// Clone returns a deep copy of the protocol definition.
func (p ProtocolDefinition) Clone() ProtocolDefinition {
	cp := p
	cp.Steps = cloneSteps(p.Steps)
	if p.Conditions != nil {
		cp.Conditions = make([]ConditionDefinition, len(p.Conditions))
		for i, c := range p.Conditions {
			cc := c
			cc.Tolerance = cloneFloat(c.Tolerance)
			cp.Conditions[i] = cc
		}
	}
	return cp
}

func cloneSteps(in []StepDefinition) []StepDefinition {
	if in == nil {
		return nil
	}
	out := make([]StepDefinition, len(in))
	for i, s := range in {
		sc := s
		sc.Instructions = append([]string(nil), s.Instructions...)
		if s.Measurements != nil {
			sc.Measurements = make([]MeasurementDefinition, len(s.Measurements))
			for j, m := range s.Measurements {
				mc := m
				mc.Expected = cloneValue(m.Expected)
				mc.Tolerance = cloneFloat(m.Tolerance)
				sc.Measurements[j] = mc
			}
		}
		out[i] = sc
	}
	return out
}

func cloneCondition(c TestCondition) TestCondition {
	cp := c
	cp.Tolerance = cloneFloat(c.Tolerance)
	cp.Actual = cloneValue(c.Actual)
	if c.WithinTolerance != nil {
		v := *c.WithinTolerance
		cp.WithinTolerance = &v
	}
	cp.RecordedAt = cloneTime(c.RecordedAt)
	return cp
}

func cloneValue(v *Value) *Value {
	if v == nil {
		return nil
	}
	cp := *v
	return &cp
}

func cloneFloat(f *float64) *float64 {
	if f == nil {
		return nil
	}
	cp := *f
	return &cp
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	cp := *t
	return &cp
}
