package core

import (
	"context"
	"time"

	"labexec/pkg/domain"
)

// Logger is the structured logging surface the service writes to.
type Logger interface {
	Debug(msg string, kv ...any)
	Info(msg string, kv ...any)
	Warn(msg string, kv ...any)
	Error(msg string, kv ...any)
}

// Clock supplies command timestamps.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function into a Clock.
type ClockFunc func() time.Time

// Now implements Clock.
func (f ClockFunc) Now() time.Time { return f() }

// AuditStatus classifies a command outcome.
type AuditStatus string

// Audit outcomes. A noop is a replayed command that changed nothing.
const (
	AuditStatusSuccess AuditStatus = "success"
	AuditStatusNoop    AuditStatus = "noop"
	AuditStatusError   AuditStatus = "error"
)

// AuditEntry records one command outcome.
type AuditEntry struct {
	Operation   string        `json:"operation"`
	Status      AuditStatus   `json:"status"`
	ExecutionID string        `json:"execution_id,omitempty"`
	SampleID    string        `json:"sample_id,omitempty"`
	Operator    string        `json:"operator,omitempty"`
	Version     int64         `json:"version,omitempty"`
	Error       string        `json:"error,omitempty"`
	Duration    time.Duration `json:"duration"`
	Timestamp   time.Time     `json:"timestamp"`
}

// AuditRecorder receives one entry per command.
type AuditRecorder interface {
	Record(ctx context.Context, entry AuditEntry)
}

// MetricsRecorder observes command latency and outcome.
type MetricsRecorder interface {
	Observe(ctx context.Context, operation string, success bool, duration time.Duration)
}

// TraceSpan is ended once per command with its error, if any.
type TraceSpan interface {
	End(err error)
}

// Tracer starts a span per command.
type Tracer interface {
	Start(ctx context.Context, operation string) (context.Context, TraceSpan)
}

// EventPublisher announces durable changes to interested readers.
type EventPublisher interface {
	Publish(ctx context.Context, event domain.ExecutionEvent) error
}

// Archiver stores the final snapshot of an execution that reached a terminal status.
type Archiver interface {
	Archive(ctx context.Context, exec domain.Execution) error
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

type noopAudit struct{}

func (noopAudit) Record(context.Context, AuditEntry) {}

type noopMetrics struct{}

func (noopMetrics) Observe(context.Context, string, bool, time.Duration) {}

type noopTracer struct{}

func (noopTracer) Start(ctx context.Context, _ string) (context.Context, TraceSpan) {
	return ctx, noopSpan{}
}

type noopSpan struct{}

func (noopSpan) End(error) {}
