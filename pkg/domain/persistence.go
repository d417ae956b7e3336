package domain

import "context"

// ExecutionStore is the durable boundary the engine depends on. Implementations
// must make Save a compare-and-swap on Version: the write succeeds only when the
// stored version equals exec.Version, and the stored copy gets Version+1.
type ExecutionStore interface {
	// Create stores a brand new aggregate at version 1.
	Create(ctx context.Context, exec Execution) (Execution, error)
	// Load returns the aggregate or NotFoundError.
	Load(ctx context.Context, id string) (Execution, error)
	// Save writes exec if the stored version still matches, otherwise
	// ConcurrentModificationError. Returns the stored copy.
	Save(ctx context.Context, exec Execution) (Execution, error)
	// ListByStudy returns summaries ordered by creation time.
	ListByStudy(ctx context.Context, studyID string) ([]ExecutionSummary, error)
}
