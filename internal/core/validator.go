package core

import (
	"math"

	"labexec/pkg/domain"
)

// ToleranceFlag reports the tolerance outcome for one recorded measurement.
type ToleranceFlag struct {
	MeasurementID   string       `json:"measurement_id"`
	WithinTolerance bool         `json:"within_tolerance"`
	Actual          domain.Value `json:"actual"`
}

// Validation is the outcome of checking a sample's records against a step.
type Validation struct {
	MissingRequired []string        `json:"missing_required"`
	ToleranceFlags  []ToleranceFlag `json:"tolerance_flags"`
}

// Complete reports whether every required measurement has a value.
func (v Validation) Complete() bool { return len(v.MissingRequired) == 0 }

// OutOfTolerance returns the ids of recorded measurements outside their band.
func (v Validation) OutOfTolerance() []string {
	var out []string
	for _, f := range v.ToleranceFlags {
		if !f.WithinTolerance {
			out = append(out, f.MeasurementID)
		}
	}
	return out
}

// Validate checks records against the step's measurement definitions. Records
// for other steps or unknown measurement ids are ignored. Both result lists
// follow the step's definition order.
func Validate(step domain.StepDefinition, records []domain.MeasurementRecord) Validation {
	byID := make(map[string]domain.Value, len(records))
	for _, rec := range records {
		if rec.StepID != "" && rec.StepID != step.ID {
			continue
		}
		byID[rec.MeasurementID] = rec.Value
	}
	res := Validation{MissingRequired: []string{}, ToleranceFlags: []ToleranceFlag{}}
	for _, def := range step.Measurements {
		val, ok := byID[def.ID]
		if !ok || val.IsZero() {
			if def.Required {
				res.MissingRequired = append(res.MissingRequired, def.ID)
			}
			continue
		}
		res.ToleranceFlags = append(res.ToleranceFlags, ToleranceFlag{
			MeasurementID:   def.ID,
			WithinTolerance: WithinTolerance(def.Expected, def.Tolerance, val),
			Actual:          val,
		})
	}
	return res
}

// WithinTolerance applies the tolerance band. Numeric values pass when
// |actual-expected| <= tolerance and both are declared; text and boolean
// values must equal a declared expectation. Anything without an expectation
// passes.
func WithinTolerance(expected *domain.Value, tolerance *float64, actual domain.Value) bool {
	if expected == nil || expected.IsZero() {
		return true
	}
	switch actual.Type {
	case domain.TypeNumeric:
		if tolerance == nil || expected.Type != domain.TypeNumeric {
			return true
		}
		return math.Abs(actual.Number-expected.Number) <= *tolerance
	case domain.TypeText, domain.TypeBoolean:
		return expected.Equal(actual)
	}
	return true
}
