package domain

import "time"

// ExecutionEvent announces that an execution reached a new version.
type ExecutionEvent struct {
	ExecutionID string          `json:"execution_id"`
	StudyID     string          `json:"study_id"`
	Operation   string          `json:"operation"`
	SampleID    string          `json:"sample_id,omitempty"`
	Status      ExecutionStatus `json:"status"`
	Version     int64           `json:"version"`
	At          time.Time       `json:"at"`
}
