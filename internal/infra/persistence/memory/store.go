// Package memory provides an in-process execution store with the same
// compare-and-swap semantics as the durable backends.
package memory

import (
	"context"
	"sort"
	"sync"

	"labexec/pkg/domain"
)

// Compile-time contract assertion ensuring the store satisfies the domain interface.
var _ domain.ExecutionStore = (*Store)(nil)

// Store keeps executions in a map guarded by a RWMutex. Values are cloned on
// the way in and out so callers never share nested slices with the store.
type Store struct {
	mu         sync.RWMutex
	executions map[string]domain.Execution
}

// NewStore constructs an empty store.
func NewStore() *Store {
	return &Store{executions: make(map[string]domain.Execution)}
}

// Create implements domain.ExecutionStore.
func (s *Store) Create(ctx context.Context, exec domain.Execution) (domain.Execution, error) {
	if err := ctx.Err(); err != nil {
		return domain.Execution{}, err
	}
	if exec.ID == "" {
		return domain.Execution{}, domain.ValidationError{Field: "id", Message: "is required"}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.executions[exec.ID]; ok {
		return domain.Execution{}, domain.AlreadyExistsError{Entity: domain.EntityExecution, ID: exec.ID}
	}
	stored := exec.Clone()
	stored.Version = 1
	s.executions[exec.ID] = stored
	return stored.Clone(), nil
}

// Load implements domain.ExecutionStore.
func (s *Store) Load(ctx context.Context, id string) (domain.Execution, error) {
	if err := ctx.Err(); err != nil {
		return domain.Execution{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	exec, ok := s.executions[id]
	if !ok {
		return domain.Execution{}, domain.NotFoundError{Entity: domain.EntityExecution, ID: id}
	}
	return exec.Clone(), nil
}

// Save implements domain.ExecutionStore.
func (s *Store) Save(ctx context.Context, exec domain.Execution) (domain.Execution, error) {
	if err := ctx.Err(); err != nil {
		return domain.Execution{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.executions[exec.ID]
	if !ok {
		return domain.Execution{}, domain.NotFoundError{Entity: domain.EntityExecution, ID: exec.ID}
	}
	if current.Version != exec.Version {
		return domain.Execution{}, domain.ConcurrentModificationError{
			ExecutionID: exec.ID,
			Expected:    exec.Version,
			Actual:      current.Version,
		}
	}
	stored := exec.Clone()
	stored.Version = exec.Version + 1
	s.executions[exec.ID] = stored
	return stored.Clone(), nil
}

// ListByStudy implements domain.ExecutionStore.
func (s *Store) ListByStudy(ctx context.Context, studyID string) ([]domain.ExecutionSummary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	out := make([]domain.ExecutionSummary, 0)
	for _, exec := range s.executions {
		if exec.StudyID == studyID {
			out = append(out, exec.ToSummary())
		}
	}
	s.mu.RUnlock()
	SortSummaries(out)
	return out, nil
}

// SortSummaries orders summaries by creation time, then id.
func SortSummaries(list []domain.ExecutionSummary) {
	sort.Slice(list, func(i, j int) bool {
		if !list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].CreatedAt.Before(list[j].CreatedAt)
		}
		return list[i].ID < list[j].ID
	})
}
