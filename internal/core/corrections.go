package core

import (
	"strings"

	"labexec/pkg/domain"
)

// CorrectionLog is the append-only audit trail of one sample. It wraps the
// sample's slice so appends land in the aggregate being mutated.
type CorrectionLog struct {
	entries *[]domain.CorrectionEntry
}

// NewCorrectionLog binds a log to the sample's correction slice.
func NewCorrectionLog(sample *domain.Sample) CorrectionLog {
	return CorrectionLog{entries: &sample.Corrections}
}

// Append validates and appends entry. Rollbacks need a reason; value edits
// may carry none. Entries are never modified afterwards.
func (l CorrectionLog) Append(entry domain.CorrectionEntry) error {
	switch entry.Kind {
	case domain.CorrectionRollback:
		if strings.TrimSpace(entry.Reason) == "" {
			return domain.MissingReasonError{Action: "rollback"}
		}
		if entry.RemovedStep == "" {
			return domain.ValidationError{Field: "removed_step", Message: "rollback must name the removed step"}
		}
	case domain.CorrectionValueEdit:
		if entry.MeasurementID == "" || entry.PreviousValue == nil || entry.NewValue == nil {
			return domain.ValidationError{Field: "measurement_id", Message: "value edit must carry measurement, previous and new value"}
		}
	default:
		return domain.ValidationError{Field: "kind", Message: "unknown correction kind " + string(entry.Kind)}
	}
	if entry.SampleID == "" || entry.StepID == "" {
		return domain.ValidationError{Field: "step_id", Message: "correction must reference sample and step"}
	}
	*l.entries = append(*l.entries, entry)
	return nil
}

// Len returns the number of entries.
func (l CorrectionLog) Len() int { return len(*l.entries) }

// EntriesForStep returns the entries for (sampleID, stepID) oldest first.
func (l CorrectionLog) EntriesForStep(sampleID, stepID string) []domain.CorrectionEntry {
	return EntriesForStep(*l.entries, sampleID, stepID)
}

// EntriesForStep filters a correction slice without touching it.
func EntriesForStep(entries []domain.CorrectionEntry, sampleID, stepID string) []domain.CorrectionEntry {
	out := []domain.CorrectionEntry{}
	for _, e := range entries {
		if e.SampleID == sampleID && e.StepID == stepID {
			out = append(out, e)
		}
	}
	return out
}
