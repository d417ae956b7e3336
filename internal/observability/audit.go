package observability

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"labexec/internal/core"
)

// AuditLog writes one JSON line per command outcome.
type AuditLog struct {
	log    zerolog.Logger
	closer io.Closer
}

var _ core.AuditRecorder = (*AuditLog)(nil)

// NewAuditLog writes entries to w.
func NewAuditLog(w io.Writer) *AuditLog {
	return &AuditLog{log: zerolog.New(zerolog.SyncWriter(w))}
}

// OpenAuditLog appends to the file at path, creating it if needed. "-" writes
// to stdout.
func OpenAuditLog(path string) (*AuditLog, error) {
	if path == "-" {
		return NewAuditLog(os.Stdout), nil
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create audit dir: %w", err)
		}
	}
	f, err := os.OpenFile(filepath.Clean(path), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600) // #nosec G304 -- operator-configured path
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	a := NewAuditLog(f)
	a.closer = f
	return a, nil
}

// Record implements core.AuditRecorder.
func (a *AuditLog) Record(_ context.Context, entry core.AuditEntry) {
	level := zerolog.InfoLevel
	if entry.Status == core.AuditStatusError {
		level = zerolog.WarnLevel
	}
	ev := a.log.WithLevel(level).
		Time("at", entry.Timestamp).
		Str("operation", entry.Operation).
		Str("status", string(entry.Status)).
		Dur("duration", entry.Duration)
	if entry.ExecutionID != "" {
		ev = ev.Str("execution_id", entry.ExecutionID)
	}
	if entry.SampleID != "" {
		ev = ev.Str("sample_id", entry.SampleID)
	}
	if entry.Operator != "" {
		ev = ev.Str("operator", entry.Operator)
	}
	if entry.Version != 0 {
		ev = ev.Int64("version", entry.Version)
	}
	if entry.Error != "" {
		ev = ev.Str("error", entry.Error)
	}
	ev.Msg("audit")
}

// Close releases the underlying file, if any.
func (a *AuditLog) Close() error {
	if a.closer == nil {
		return nil
	}
	return a.closer.Close()
}
