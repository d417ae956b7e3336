package core

import (
	"errors"
	"fmt"
	"strings"

	"labexec/pkg/domain"
)

// ValidateProtocol checks a catalog definition before it seeds an execution.
// All problems are reported together.
func ValidateProtocol(p domain.ProtocolDefinition) error {
	var errs []error
	add := func(field, format string, args ...any) {
		errs = append(errs, domain.ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}
	if strings.TrimSpace(p.ID) == "" {
		add("protocol.id", "is required")
	}
	steps := make(map[string]struct{}, len(p.Steps))
	for i, step := range p.Steps {
		field := fmt.Sprintf("steps[%d]", i)
		if strings.TrimSpace(step.ID) == "" {
			add(field+".id", "is required")
		} else if _, dup := steps[step.ID]; dup {
			add(field+".id", "duplicate step id %s", step.ID)
		}
		steps[step.ID] = struct{}{}

		measurements := make(map[string]struct{}, len(step.Measurements))
		for j, m := range step.Measurements {
			mf := fmt.Sprintf("%s.measurements[%d]", field, j)
			if strings.TrimSpace(m.ID) == "" {
				add(mf+".id", "is required")
			} else if _, dup := measurements[m.ID]; dup {
				add(mf+".id", "duplicate measurement id %s in step %s", m.ID, step.ID)
			}
			measurements[m.ID] = struct{}{}
			if !m.Type.Valid() {
				add(mf+".type", "unknown data type %q", m.Type)
				continue
			}
			if m.Expected != nil && m.Expected.Type != m.Type {
				add(mf+".expected", "expected value must be %s", m.Type)
			}
			if m.Tolerance != nil {
				if m.Type != domain.TypeNumeric {
					add(mf+".tolerance", "tolerance applies to numeric measurements only")
				} else if *m.Tolerance < 0 {
					add(mf+".tolerance", "must not be negative")
				}
			}
		}
	}
	conditions := make(map[string]struct{}, len(p.Conditions))
	for i, c := range p.Conditions {
		cf := fmt.Sprintf("conditions[%d]", i)
		if strings.TrimSpace(c.Name) == "" {
			add(cf+".name", "is required")
		} else if _, dup := conditions[c.Name]; dup {
			add(cf+".name", "duplicate condition %s", c.Name)
		}
		conditions[c.Name] = struct{}{}
		if c.Tolerance != nil && *c.Tolerance < 0 {
			add(cf+".tolerance", "must not be negative")
		}
		if c.Tolerance != nil && c.Target.Type != domain.TypeNumeric {
			add(cf+".tolerance", "tolerance applies to numeric targets only")
		}
	}
	return errors.Join(errs...)
}
