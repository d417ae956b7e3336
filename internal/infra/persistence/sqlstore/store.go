// Package sqlstore implements the execution store over database/sql. Dialect
// packages (sqlite, postgres) supply the driver, schema and placeholder style.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"labexec/pkg/domain"
)

var _ domain.ExecutionStore = (*Store)(nil)

// Dialect describes the SQL flavour of a backend.
type Dialect struct {
	Name string
	// Schema statements are applied in order when the store is opened.
	Schema []string
	// Numbered placeholders ($1, $2) instead of ?.
	Numbered bool
}

// Store persists each execution as one row: indexed columns for lookups plus
// the JSON aggregate. The version column guards every update.
type Store struct {
	db      *sql.DB
	dialect Dialect
}

// New applies the dialect schema and returns a store over db.
func New(ctx context.Context, db *sql.DB, dialect Dialect) (*Store, error) {
	for _, stmt := range dialect.Schema {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return nil, fmt.Errorf("apply %s schema: %w", dialect.Name, err)
		}
	}
	return &Store{db: db, dialect: dialect}, nil
}

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

// Create implements domain.ExecutionStore.
func (s *Store) Create(ctx context.Context, exec domain.Execution) (domain.Execution, error) {
	if exec.ID == "" {
		return domain.Execution{}, domain.ValidationError{Field: "id", Message: "is required"}
	}
	exec.Version = 1
	payload, err := json.Marshal(exec)
	if err != nil {
		return domain.Execution{}, fmt.Errorf("encode execution %s: %w", exec.ID, err)
	}
	res, err := s.db.ExecContext(ctx, s.bind(`INSERT INTO executions
		(id, study_id, protocol_id, status, version, payload, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?) ON CONFLICT (id) DO NOTHING`),
		exec.ID, exec.StudyID, exec.ProtocolID, string(exec.Status), exec.Version, string(payload),
		exec.CreatedAt.UnixNano(), exec.UpdatedAt.UnixNano())
	if err != nil {
		return domain.Execution{}, fmt.Errorf("insert execution %s: %w", exec.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return domain.Execution{}, fmt.Errorf("insert execution %s: %w", exec.ID, err)
	}
	if n == 0 {
		return domain.Execution{}, domain.AlreadyExistsError{Entity: domain.EntityExecution, ID: exec.ID}
	}
	return exec, nil
}

// Load implements domain.ExecutionStore.
func (s *Store) Load(ctx context.Context, id string) (domain.Execution, error) {
	var payload string
	err := s.db.QueryRowContext(ctx, s.bind(`SELECT payload FROM executions WHERE id = ?`), id).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Execution{}, domain.NotFoundError{Entity: domain.EntityExecution, ID: id}
	}
	if err != nil {
		return domain.Execution{}, fmt.Errorf("select execution %s: %w", id, err)
	}
	return decode(id, payload)
}

// Save implements domain.ExecutionStore.
func (s *Store) Save(ctx context.Context, exec domain.Execution) (domain.Execution, error) {
	expected := exec.Version
	exec.Version = expected + 1
	payload, err := json.Marshal(exec)
	if err != nil {
		return domain.Execution{}, fmt.Errorf("encode execution %s: %w", exec.ID, err)
	}
	res, err := s.db.ExecContext(ctx, s.bind(`UPDATE executions
		SET status = ?, version = ?, payload = ?, updated_at = ?
		WHERE id = ? AND version = ?`),
		string(exec.Status), exec.Version, string(payload), exec.UpdatedAt.UnixNano(), exec.ID, expected)
	if err != nil {
		return domain.Execution{}, fmt.Errorf("update execution %s: %w", exec.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return domain.Execution{}, fmt.Errorf("update execution %s: %w", exec.ID, err)
	}
	if n == 1 {
		return exec, nil
	}

	var actual int64
	err = s.db.QueryRowContext(ctx, s.bind(`SELECT version FROM executions WHERE id = ?`), exec.ID).Scan(&actual)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Execution{}, domain.NotFoundError{Entity: domain.EntityExecution, ID: exec.ID}
	}
	if err != nil {
		return domain.Execution{}, fmt.Errorf("select version %s: %w", exec.ID, err)
	}
	return domain.Execution{}, domain.ConcurrentModificationError{ExecutionID: exec.ID, Expected: expected, Actual: actual}
}

// ListByStudy implements domain.ExecutionStore.
func (s *Store) ListByStudy(ctx context.Context, studyID string) ([]domain.ExecutionSummary, error) {
	rows, err := s.db.QueryContext(ctx, s.bind(`SELECT id, payload FROM executions
		WHERE study_id = ? ORDER BY created_at, id`), studyID)
	if err != nil {
		return nil, fmt.Errorf("list executions for study %s: %w", studyID, err)
	}
	defer func() { _ = rows.Close() }()

	out := make([]domain.ExecutionSummary, 0)
	for rows.Next() {
		var id, payload string
		if err := rows.Scan(&id, &payload); err != nil {
			return nil, fmt.Errorf("scan execution: %w", err)
		}
		exec, err := decode(id, payload)
		if err != nil {
			return nil, err
		}
		out = append(out, exec.ToSummary())
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate executions: %w", err)
	}
	return out, nil
}

func decode(id, payload string) (domain.Execution, error) {
	var exec domain.Execution
	if err := json.Unmarshal([]byte(payload), &exec); err != nil {
		return domain.Execution{}, fmt.Errorf("decode execution %s: %w", id, err)
	}
	return exec, nil
}

// bind rewrites ? placeholders for numbered dialects.
func (s *Store) bind(query string) string {
	if !s.dialect.Numbered {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
