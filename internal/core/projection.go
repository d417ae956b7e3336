package core

import "labexec/pkg/domain"

// SampleView is a sample plus its derived position in the protocol.
type SampleView struct {
	domain.Sample
	CurrentStepIndex int     `json:"current_step_index"`
	CurrentStepID    string  `json:"current_step_id,omitempty"`
	Progress         float64 `json:"progress"`
}

// ExecutionView is the aggregate as returned to callers: stored state plus
// progress derived on read. Derived fields are never persisted.
type ExecutionView struct {
	domain.Execution
	Samples         []SampleView `json:"samples"`
	OverallProgress float64      `json:"overall_progress"`
}

// NewExecutionView derives the view of exec.
func NewExecutionView(exec domain.Execution) ExecutionView {
	view := ExecutionView{
		Execution:       exec,
		Samples:         make([]SampleView, 0, len(exec.Samples)),
		OverallProgress: OverallProgress(exec),
	}
	for _, sample := range exec.Samples {
		idx := CurrentStepIndex(exec.Steps, sample.CompletedSteps)
		sv := SampleView{
			Sample:           sample,
			CurrentStepIndex: idx,
			Progress:         SampleProgress(sample, len(exec.Steps)),
		}
		if idx < len(exec.Steps) {
			sv.CurrentStepID = exec.Steps[idx].ID
		}
		view.Samples = append(view.Samples, sv)
	}
	return view
}

// SampleProgressRow is one line of a progress report.
type SampleProgressRow struct {
	SampleID         string              `json:"sample_id"`
	Name             string              `json:"name"`
	Status           domain.SampleStatus `json:"status"`
	CurrentStepIndex int                 `json:"current_step_index"`
	CurrentStepID    string              `json:"current_step_id,omitempty"`
	CompletedSteps   int                 `json:"completed_steps"`
	TotalSteps       int                 `json:"total_steps"`
	Percent          float64             `json:"percent"`
}

// ProgressReport summarises how far an execution has come.
type ProgressReport struct {
	ExecutionID string                 `json:"execution_id"`
	Status      domain.ExecutionStatus `json:"status"`
	Overall     float64                `json:"overall"`
	Samples     []SampleProgressRow    `json:"samples"`
	Version     int64                  `json:"version"`
}

// NewProgressReport derives the progress report of exec.
func NewProgressReport(exec domain.Execution) ProgressReport {
	report := ProgressReport{
		ExecutionID: exec.ID,
		Status:      exec.Status,
		Overall:     OverallProgress(exec),
		Samples:     make([]SampleProgressRow, 0, len(exec.Samples)),
		Version:     exec.Version,
	}
	for _, sv := range NewExecutionView(exec).Samples {
		report.Samples = append(report.Samples, SampleProgressRow{
			SampleID:         sv.ID,
			Name:             sv.Name,
			Status:           sv.Status,
			CurrentStepIndex: sv.CurrentStepIndex,
			CurrentStepID:    sv.CurrentStepID,
			CompletedSteps:   len(sv.CompletedSteps),
			TotalSteps:       len(exec.Steps),
			Percent:          sv.Progress,
		})
	}
	return report
}
