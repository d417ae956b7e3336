// Package redis provides an execution store on Redis. Each aggregate is one
// JSON string key; a sorted set per study indexes executions by creation time.
// Saves use WATCH/MULTI so a concurrent writer aborts the transaction.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"labexec/pkg/domain"
)

var _ domain.ExecutionStore = (*Store)(nil)

const defaultPrefix = "labexec"

// getter is satisfied by both the client and a WATCH transaction.
type getter interface {
	Get(ctx context.Context, key string) *goredis.StringCmd
}

// Store is the Redis-backed execution store.
type Store struct {
	rdb    goredis.UniversalClient
	prefix string
}

// Open dials addr, verifies the connection and returns a store.
func Open(ctx context.Context, addr, prefix string) (*Store, error) {
	if strings.TrimSpace(addr) == "" {
		return nil, fmt.Errorf("redis address is required")
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return NewStore(rdb, prefix), nil
}

// NewStore wraps an existing client.
func NewStore(rdb goredis.UniversalClient, prefix string) *Store {
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &Store{rdb: rdb, prefix: prefix}
}

// Close releases the client.
func (s *Store) Close() error { return s.rdb.Close() }

func (s *Store) executionKey(id string) string {
	return s.prefix + ":execution:" + id
}

func (s *Store) studyKey(studyID string) string {
	return s.prefix + ":study:" + studyID
}

// Create implements domain.ExecutionStore. The aggregate and its study index
// entry are written in one MULTI/EXEC under a WATCH on the execution key.
func (s *Store) Create(ctx context.Context, exec domain.Execution) (domain.Execution, error) {
	if exec.ID == "" {
		return domain.Execution{}, domain.ValidationError{Field: "id", Message: "is required"}
	}
	exec.Version = 1
	payload, err := json.Marshal(exec)
	if err != nil {
		return domain.Execution{}, fmt.Errorf("encode execution %s: %w", exec.ID, err)
	}
	key := s.executionKey(exec.ID)
	exists := domain.AlreadyExistsError{Entity: domain.EntityExecution, ID: exec.ID}

	err = s.rdb.Watch(ctx, func(tx *goredis.Tx) error {
		n, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if n > 0 {
			return exists
		}
		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.Set(ctx, key, payload, 0)
			pipe.ZAdd(ctx, s.studyKey(exec.StudyID), goredis.Z{
				Score:  float64(exec.CreatedAt.UnixNano()),
				Member: exec.ID,
			})
			return nil
		})
		return err
	}, key)
	switch {
	case err == nil:
		return exec, nil
	case errors.Is(err, goredis.TxFailedErr):
		return domain.Execution{}, exists
	case errors.As(err, new(domain.AlreadyExistsError)):
		return domain.Execution{}, exists
	default:
		return domain.Execution{}, fmt.Errorf("create execution %s: %w", exec.ID, err)
	}
}

// Load implements domain.ExecutionStore.
func (s *Store) Load(ctx context.Context, id string) (domain.Execution, error) {
	return s.load(ctx, s.rdb, id)
}

func (s *Store) load(ctx context.Context, c getter, id string) (domain.Execution, error) {
	raw, err := c.Get(ctx, s.executionKey(id)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return domain.Execution{}, domain.NotFoundError{Entity: domain.EntityExecution, ID: id}
	}
	if err != nil {
		return domain.Execution{}, fmt.Errorf("get execution %s: %w", id, err)
	}
	var exec domain.Execution
	if err := json.Unmarshal(raw, &exec); err != nil {
		return domain.Execution{}, fmt.Errorf("decode execution %s: %w", id, err)
	}
	return exec, nil
}

// Save implements domain.ExecutionStore.
func (s *Store) Save(ctx context.Context, exec domain.Execution) (domain.Execution, error) {
	key := s.executionKey(exec.ID)
	expected := exec.Version
	next := exec
	next.Version = expected + 1
	payload, err := json.Marshal(next)
	if err != nil {
		return domain.Execution{}, fmt.Errorf("encode execution %s: %w", exec.ID, err)
	}

	var conflict error
	err = s.rdb.Watch(ctx, func(tx *goredis.Tx) error {
		current, err := s.load(ctx, tx, exec.ID)
		if err != nil {
			return err
		}
		if current.Version != expected {
			conflict = domain.ConcurrentModificationError{ExecutionID: exec.ID, Expected: expected, Actual: current.Version}
			return conflict
		}
		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.Set(ctx, key, payload, 0)
			return nil
		})
		return err
	}, key)
	switch {
	case err == nil:
		return next, nil
	case conflict != nil:
		return domain.Execution{}, conflict
	case errors.Is(err, goredis.TxFailedErr):
		actual := expected + 1
		if current, lerr := s.Load(ctx, exec.ID); lerr == nil {
			actual = current.Version
		}
		return domain.Execution{}, domain.ConcurrentModificationError{ExecutionID: exec.ID, Expected: expected, Actual: actual}
	default:
		var nf domain.NotFoundError
		if errors.As(err, &nf) {
			return domain.Execution{}, nf
		}
		return domain.Execution{}, fmt.Errorf("save execution %s: %w", exec.ID, err)
	}
}

// ListByStudy implements domain.ExecutionStore.
func (s *Store) ListByStudy(ctx context.Context, studyID string) ([]domain.ExecutionSummary, error) {
	ids, err := s.rdb.ZRange(ctx, s.studyKey(studyID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list executions for study %s: %w", studyID, err)
	}
	out := make([]domain.ExecutionSummary, 0, len(ids))
	for _, id := range ids {
		exec, err := s.Load(ctx, id)
		if err != nil {
			var nf domain.NotFoundError
			if errors.As(err, &nf) {
				continue
			}
			return nil, err
		}
		out = append(out, exec.ToSummary())
	}
	return out, nil
}
