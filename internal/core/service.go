package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"labexec/internal/infra/persistence/memory"
	"labexec/pkg/domain"
)

// Service is the execution controller. It owns the canonical aggregate: every
// command loads the stored execution, applies to a clone, evaluates the rules
// and saves with an optimistic version check. A failed command leaves the
// stored aggregate untouched.
type Service struct {
	store     domain.ExecutionStore
	engine    *domain.RulesEngine
	clock     Clock
	logger    Logger
	audit     AuditRecorder
	metrics   MetricsRecorder
	tracer    Tracer
	publisher EventPublisher
	archiver  Archiver
	newID     func() string
	locks     *keyedMutex
}

// NewService constructs a service backed by the supplied store.
func NewService(store domain.ExecutionStore, opts ...Option) *Service {
	svc := &Service{
		store:   store,
		engine:  NewDefaultRulesEngine(),
		clock:   ClockFunc(func() time.Time { return time.Now().UTC() }),
		logger:  noopLogger{},
		audit:   noopAudit{},
		metrics: noopMetrics{},
		tracer:  noopTracer{},
		newID:   defaultID,
		locks:   newKeyedMutex(),
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

// NewInMemoryService creates a service over a fresh in-memory store.
func NewInMemoryService(opts ...Option) *Service {
	return NewService(memory.NewStore(), opts...)
}

// Store returns the underlying storage implementation.
func (s *Service) Store() domain.ExecutionStore {
	return s.store
}

// Rules returns the active rules engine.
func (s *Service) Rules() *domain.RulesEngine {
	return s.engine
}

// SampleInput describes a sample registered at creation or added later.
type SampleInput struct {
	ID          string `json:"id,omitempty"`
	Name        string `json:"name"`
	Material    string `json:"material,omitempty"`
	Description string `json:"description,omitempty"`
}

// NewExecution is the input for CreateExecution.
type NewExecution struct {
	ID       string        `json:"id,omitempty"`
	StudyID  string        `json:"study_id"`
	Title    string        `json:"title,omitempty"`
	Operator string        `json:"operator,omitempty"`
	Samples  []SampleInput `json:"samples"`
}

// CreateExecution seeds a NOT_STARTED execution from a protocol definition.
func (s *Service) CreateExecution(ctx context.Context, protocol domain.ProtocolDefinition, in NewExecution) (domain.Execution, domain.Result, error) {
	var created domain.Execution
	err := s.run(ctx, "create_execution", in.Operator, func(ctx context.Context, entry *AuditEntry) error {
		entry.ExecutionID = in.ID
		if strings.TrimSpace(in.StudyID) == "" {
			return domain.ValidationError{Field: "study_id", Message: "is required"}
		}
		if err := ValidateProtocol(protocol); err != nil {
			return err
		}
		now := s.clock.Now()
		p := protocol.Clone()
		exec := domain.Execution{
			ID:              in.ID,
			StudyID:         in.StudyID,
			ProtocolID:      p.ID,
			ProtocolVersion: p.Version,
			Title:           in.Title,
			Status:          domain.ExecutionNotStarted,
			Config:          p.Config,
			Steps:           p.Steps,
			Conditions:      make([]domain.TestCondition, 0, len(p.Conditions)),
			Samples:         make([]domain.Sample, 0, len(in.Samples)),
			Operator:        in.Operator,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		if exec.ID == "" {
			exec.ID = s.newID()
		}
		if exec.Title == "" {
			exec.Title = p.Title
		}
		if exec.Steps == nil {
			exec.Steps = []domain.StepDefinition{}
		}
		for _, c := range p.Conditions {
			exec.Conditions = append(exec.Conditions, domain.TestCondition{ConditionDefinition: c})
		}
		for _, si := range in.Samples {
			if err := s.addSample(&exec, si); err != nil {
				return err
			}
		}
		entry.ExecutionID = exec.ID
		var err error
		created, err = s.store.Create(ctx, exec)
		if err != nil {
			return err
		}
		entry.Version = created.Version
		s.announce(ctx, "create_execution", "", domain.Execution{}, created)
		return nil
	})
	return created, domain.Result{}, err
}

// Start moves NOT_STARTED to IN_PROGRESS. Starting a running execution is a no-op.
func (s *Service) Start(ctx context.Context, id, operator string) (domain.Execution, domain.Result, error) {
	return s.mutate(ctx, "start_execution", id, "", operator, func(exec *domain.Execution, actor Actor) (bool, error) {
		if exec.Status == domain.ExecutionInProgress {
			return false, nil
		}
		next, err := transition(*exec, CommandStart)
		if err != nil {
			return false, err
		}
		exec.Status = next
		exec.StartedAt = timePtr(actor.Now)
		if actor.Operator != "" {
			exec.Operator = actor.Operator
		}
		return true, nil
	})
}

// Pause suspends a running execution.
func (s *Service) Pause(ctx context.Context, id, operator, notes string) (domain.Execution, domain.Result, error) {
	return s.mutate(ctx, "pause_execution", id, "", operator, func(exec *domain.Execution, actor Actor) (bool, error) {
		next, err := transition(*exec, CommandPause)
		if err != nil {
			return false, err
		}
		exec.Status = next
		exec.PauseNotes = notes
		exec.PausedAt = timePtr(actor.Now)
		return true, nil
	})
}

// Resume continues a paused execution.
func (s *Service) Resume(ctx context.Context, id, operator string) (domain.Execution, domain.Result, error) {
	return s.mutate(ctx, "resume_execution", id, "", operator, func(exec *domain.Execution, actor Actor) (bool, error) {
		next, err := transition(*exec, CommandResume)
		if err != nil {
			return false, err
		}
		exec.Status = next
		exec.ResumedAt = timePtr(actor.Now)
		return true, nil
	})
}

// Complete finishes a running execution. Samples left open stay as they are.
func (s *Service) Complete(ctx context.Context, id, operator, summary, recommendations string) (domain.Execution, domain.Result, error) {
	return s.mutate(ctx, "complete_execution", id, "", operator, func(exec *domain.Execution, actor Actor) (bool, error) {
		next, err := transition(*exec, CommandComplete)
		if err != nil {
			return false, err
		}
		exec.Status = next
		exec.Summary = summary
		exec.Recommendations = recommendations
		exec.CompletedAt = timePtr(actor.Now)
		return true, nil
	})
}

// Cancel stops an execution from any non-terminal status. The reason is
// optional and stored when given.
func (s *Service) Cancel(ctx context.Context, id, operator, reason string) (domain.Execution, domain.Result, error) {
	return s.mutate(ctx, "cancel_execution", id, "", operator, func(exec *domain.Execution, actor Actor) (bool, error) {
		next, err := transition(*exec, CommandCancel)
		if err != nil {
			return false, err
		}
		exec.Status = next
		exec.CancelReason = reason
		exec.CancelledAt = timePtr(actor.Now)
		return true, nil
	})
}

// Fail marks a running or paused execution failed. A reason is required.
func (s *Service) Fail(ctx context.Context, id, operator, reason string) (domain.Execution, domain.Result, error) {
	return s.mutate(ctx, "fail_execution", id, "", operator, func(exec *domain.Execution, actor Actor) (bool, error) {
		if strings.TrimSpace(reason) == "" {
			return false, domain.MissingReasonError{Action: "fail execution"}
		}
		next, err := transition(*exec, CommandFail)
		if err != nil {
			return false, err
		}
		exec.Status = next
		exec.FailureReason = reason
		exec.FailedAt = timePtr(actor.Now)
		return true, nil
	})
}

// RecordTestCondition sets the actual value of a named condition and its
// tolerance flag. Allowed in any non-terminal status.
func (s *Service) RecordTestCondition(ctx context.Context, id, operator, name string, value domain.Value) (domain.Execution, domain.Result, error) {
	return s.mutate(ctx, "record_test_condition", id, "", operator, func(exec *domain.Execution, actor Actor) (bool, error) {
		if err := requireNotTerminal(*exec, "record test condition for"); err != nil {
			return false, err
		}
		idx := exec.ConditionIndex(name)
		if idx < 0 {
			return false, domain.NotFoundError{Entity: domain.EntityCondition, ID: name}
		}
		if value.IsZero() {
			return false, domain.ValidationError{Field: "value", Message: "a value is required"}
		}
		cond := &exec.Conditions[idx]
		if cond.Target.Type != "" && value.Type != cond.Target.Type {
			return false, domain.ValidationError{Field: "value", Message: fmt.Sprintf("expected %s value for condition %s", cond.Target.Type, name)}
		}
		if cond.IsSet && cond.Actual != nil && cond.Actual.Equal(value) {
			return false, nil
		}
		var target *domain.Value
		if !cond.Target.IsZero() {
			target = cond.Target.Ptr()
		}
		within := WithinTolerance(target, cond.Tolerance, value)
		cond.Actual = value.Ptr()
		cond.IsSet = true
		cond.WithinTolerance = &within
		cond.RecordedBy = actor.Operator
		cond.RecordedAt = timePtr(actor.Now)
		return true, nil
	})
}

// UpdateEnvironment merges the non-nil fields of patch into the environment.
func (s *Service) UpdateEnvironment(ctx context.Context, id, operator string, patch domain.EnvironmentPatch) (domain.Execution, domain.Result, error) {
	return s.mutate(ctx, "update_environment", id, "", operator, func(exec *domain.Execution, _ Actor) (bool, error) {
		if err := requireNotTerminal(*exec, "update environment for"); err != nil {
			return false, err
		}
		if patch.Humidity != nil && (*patch.Humidity < 0 || *patch.Humidity > 100) {
			return false, domain.ValidationError{Field: "humidity", Message: "must be between 0 and 100"}
		}
		env := &exec.Environment
		changed := mergeFloat(&env.Temperature, patch.Temperature)
		changed = mergeFloat(&env.Humidity, patch.Humidity) || changed
		changed = mergeFloat(&env.Pressure, patch.Pressure) || changed
		if patch.Notes != nil && *patch.Notes != env.Notes {
			env.Notes = *patch.Notes
			changed = true
		}
		return changed, nil
	})
}

// AddSample registers another sample while the execution is not terminal.
func (s *Service) AddSample(ctx context.Context, id, operator string, in SampleInput) (domain.Execution, domain.Result, error) {
	return s.mutate(ctx, "add_sample", id, in.ID, operator, func(exec *domain.Execution, _ Actor) (bool, error) {
		if err := requireNotTerminal(*exec, "add sample to"); err != nil {
			return false, err
		}
		return true, s.addSample(exec, in)
	})
}

// RecordMeasurement upserts a value for (sample, step, measurement).
func (s *Service) RecordMeasurement(ctx context.Context, id, sampleID, operator string, in MeasurementInput) (domain.Execution, domain.Result, error) {
	return s.mutateSample(ctx, "record_measurement", id, sampleID, operator, func(t *SampleTracker) (bool, error) {
		return t.RecordMeasurement(in)
	})
}

// CompleteStep marks a step complete for one sample once its required
// measurements are present.
func (s *Service) CompleteStep(ctx context.Context, id, sampleID, stepID, operator string) (domain.Execution, domain.Result, error) {
	return s.mutateSample(ctx, "complete_step", id, sampleID, operator, func(t *SampleTracker) (bool, error) {
		_, changed, err := t.CompleteStep(stepID)
		return changed, err
	})
}

// UncompleteStep rolls a completed step back and records the reason.
func (s *Service) UncompleteStep(ctx context.Context, id, sampleID, stepID, operator, reason string) (domain.Execution, domain.Result, error) {
	return s.mutateSample(ctx, "uncomplete_step", id, sampleID, operator, func(t *SampleTracker) (bool, error) {
		return true, t.UncompleteStep(stepID, reason)
	})
}

// CompleteSample closes a sample with a quality outcome.
func (s *Service) CompleteSample(ctx context.Context, id, sampleID, operator string, quality domain.Quality, notes, overrideReason string) (domain.Execution, domain.Result, error) {
	return s.mutateSample(ctx, "complete_sample", id, sampleID, operator, func(t *SampleTracker) (bool, error) {
		return t.CompleteSample(quality, notes, overrideReason)
	})
}

// SkipSample closes a sample without running its remaining steps.
func (s *Service) SkipSample(ctx context.Context, id, sampleID, operator, reason string) (domain.Execution, domain.Result, error) {
	return s.mutateSample(ctx, "skip_sample", id, sampleID, operator, func(t *SampleTracker) (bool, error) {
		return t.SkipSample(reason)
	})
}

// FailSample closes a sample as failed.
func (s *Service) FailSample(ctx context.Context, id, sampleID, operator, reason string) (domain.Execution, domain.Result, error) {
	return s.mutateSample(ctx, "fail_sample", id, sampleID, operator, func(t *SampleTracker) (bool, error) {
		return t.FailSample(reason)
	})
}

// CreateSession groups samples under a named PLANNED session.
func (s *Service) CreateSession(ctx context.Context, id, operator, name string, sampleIDs []string) (domain.Execution, domain.Result, error) {
	return s.mutate(ctx, "create_session", id, "", operator, func(exec *domain.Execution, actor Actor) (bool, error) {
		if err := requireNotTerminal(*exec, "create session for"); err != nil {
			return false, err
		}
		if strings.TrimSpace(name) == "" {
			return false, domain.ValidationError{Field: "name", Message: "is required"}
		}
		seen := make(map[string]struct{}, len(sampleIDs))
		ids := make([]string, 0, len(sampleIDs))
		for _, sid := range sampleIDs {
			if exec.SampleIndex(sid) < 0 {
				return false, domain.NotFoundError{Entity: domain.EntitySample, ID: sid}
			}
			if _, dup := seen[sid]; dup {
				continue
			}
			seen[sid] = struct{}{}
			ids = append(ids, sid)
		}
		exec.Sessions = append(exec.Sessions, domain.Session{
			ID:        s.newID(),
			Name:      name,
			SampleIDs: ids,
			Status:    domain.SessionPlanned,
			Operator:  actor.Operator,
			CreatedAt: actor.Now,
			UpdatedAt: actor.Now,
		})
		return true, nil
	})
}

var sessionTransitions = map[domain.SessionStatus]map[domain.SessionStatus]struct{}{
	domain.SessionPlanned: {domain.SessionActive: {}, domain.SessionClosed: {}},
	domain.SessionActive:  {domain.SessionClosed: {}},
}

// SetSessionStatus moves a session along PLANNED, ACTIVE, CLOSED.
func (s *Service) SetSessionStatus(ctx context.Context, id, sessionID, operator string, status domain.SessionStatus) (domain.Execution, domain.Result, error) {
	return s.mutate(ctx, "set_session_status", id, "", operator, func(exec *domain.Execution, actor Actor) (bool, error) {
		idx := exec.SessionIndex(sessionID)
		if idx < 0 {
			return false, domain.NotFoundError{Entity: domain.EntitySession, ID: sessionID}
		}
		session := &exec.Sessions[idx]
		if session.Status == status {
			return false, nil
		}
		if _, ok := sessionTransitions[session.Status][status]; !ok {
			return false, domain.InvalidTransitionError{
				Entity:  domain.EntitySession,
				ID:      sessionID,
				Current: string(session.Status),
				Command: "move to " + string(status),
			}
		}
		session.Status = status
		session.UpdatedAt = actor.Now
		return true, nil
	})
}

// Get returns the stored execution.
func (s *Service) Get(ctx context.Context, id string) (domain.Execution, error) {
	return s.store.Load(ctx, id)
}

// View returns the execution with derived progress.
func (s *Service) View(ctx context.Context, id string) (ExecutionView, error) {
	exec, err := s.store.Load(ctx, id)
	if err != nil {
		return ExecutionView{}, err
	}
	return NewExecutionView(exec), nil
}

// ListByStudy returns execution summaries for a study.
func (s *Service) ListByStudy(ctx context.Context, studyID string) ([]domain.ExecutionSummary, error) {
	return s.store.ListByStudy(ctx, studyID)
}

// Progress returns overall and per-sample progress.
func (s *Service) Progress(ctx context.Context, id string) (ProgressReport, error) {
	exec, err := s.store.Load(ctx, id)
	if err != nil {
		return ProgressReport{}, err
	}
	return NewProgressReport(exec), nil
}

// CorrectionsForStep returns the corrections recorded for one sample step,
// oldest first.
func (s *Service) CorrectionsForStep(ctx context.Context, id, sampleID, stepID string) ([]domain.CorrectionEntry, error) {
	exec, err := s.store.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	idx := exec.SampleIndex(sampleID)
	if idx < 0 {
		return nil, domain.NotFoundError{Entity: domain.EntitySample, ID: sampleID}
	}
	return EntriesForStep(exec.Samples[idx].Corrections, sampleID, stepID), nil
}

type mutation func(exec *domain.Execution, actor Actor) (bool, error)

func (s *Service) mutateSample(ctx context.Context, op, id, sampleID, operator string, fn func(*SampleTracker) (bool, error)) (domain.Execution, domain.Result, error) {
	return s.mutate(ctx, op, id, sampleID, operator, func(exec *domain.Execution, actor Actor) (bool, error) {
		if err := requireActive(*exec); err != nil {
			return false, err
		}
		tracker, err := NewSampleTracker(exec, sampleID, actor, s.newID)
		if err != nil {
			return false, err
		}
		return fn(tracker)
	})
}

// mutate runs one command against a clone of the stored aggregate. A command
// that reports no change returns the stored aggregate without saving.
func (s *Service) mutate(ctx context.Context, op, id, sampleID, operator string, fn mutation) (domain.Execution, domain.Result, error) {
	var (
		out domain.Execution
		res domain.Result
	)
	err := s.run(ctx, op, operator, func(ctx context.Context, entry *AuditEntry) error {
		entry.ExecutionID = id
		entry.SampleID = sampleID

		unlock := s.locks.lock(id)
		defer unlock()

		current, err := s.store.Load(ctx, id)
		if err != nil {
			return err
		}
		if want, ok := expectedVersion(ctx); ok && want != current.Version {
			return domain.ConcurrentModificationError{ExecutionID: id, Expected: want, Actual: current.Version}
		}
		next := current.Clone()
		now := s.clock.Now()
		changed, err := fn(&next, Actor{Operator: operator, Now: now})
		if err != nil {
			return err
		}
		if !changed {
			out = current
			entry.Status = AuditStatusNoop
			entry.Version = current.Version
			return nil
		}
		next.UpdatedAt = now
		res, err = s.engine.Evaluate(ctx, domain.Change{Operation: op, Before: current, After: next})
		if err != nil {
			return fmt.Errorf("evaluate rules: %w", err)
		}
		if res.HasBlocking() {
			return domain.RuleViolationError{Result: res}
		}
		saved, err := s.store.Save(ctx, next)
		if err != nil {
			return err
		}
		out = saved
		entry.Version = saved.Version
		s.announce(ctx, op, sampleID, current, saved)
		return nil
	})
	if err != nil {
		var blocked domain.RuleViolationError
		if errors.As(err, &blocked) {
			res = blocked.Result
		}
		return domain.Execution{}, res, err
	}
	return out, res, nil
}

// announce publishes the change and archives newly terminal executions.
// Neither can undo the save, so failures are only logged.
func (s *Service) announce(ctx context.Context, op, sampleID string, before, after domain.Execution) {
	if s.publisher != nil {
		event := domain.ExecutionEvent{
			ExecutionID: after.ID,
			StudyID:     after.StudyID,
			Operation:   op,
			SampleID:    sampleID,
			Status:      after.Status,
			Version:     after.Version,
			At:          after.UpdatedAt,
		}
		if err := s.publisher.Publish(ctx, event); err != nil {
			s.logger.Warn("publish execution event failed", "operation", op, "execution_id", after.ID, "error", err)
		}
	}
	if s.archiver != nil && after.Status.Terminal() && !before.Status.Terminal() {
		if err := s.archiver.Archive(ctx, after); err != nil {
			s.logger.Warn("archive execution failed", "execution_id", after.ID, "version", after.Version, "error", err)
		}
	}
}

func (s *Service) addSample(exec *domain.Execution, in SampleInput) error {
	if strings.TrimSpace(in.Name) == "" {
		return domain.ValidationError{Field: "sample.name", Message: "is required"}
	}
	id := in.ID
	if id == "" {
		id = s.newID()
	}
	if exec.SampleIndex(id) >= 0 {
		return domain.AlreadyExistsError{Entity: domain.EntitySample, ID: id}
	}
	exec.Samples = append(exec.Samples, domain.Sample{
		ID:             id,
		Name:           in.Name,
		Material:       in.Material,
		Description:    in.Description,
		Status:         domain.SamplePending,
		CompletedSteps: []string{},
		Measurements:   []domain.MeasurementRecord{},
		Corrections:    []domain.CorrectionEntry{},
	})
	return nil
}

// run wraps a command with tracing, metrics, audit and logging.
func (s *Service) run(ctx context.Context, op, operator string, fn func(context.Context, *AuditEntry) error) error {
	ctx, span := s.tracer.Start(ctx, op)
	started := time.Now()
	entry := AuditEntry{Operation: op, Operator: operator, Status: AuditStatusSuccess}

	err := fn(ctx, &entry)

	duration := time.Since(started)
	span.End(err)
	s.metrics.Observe(ctx, op, err == nil, duration)

	entry.Duration = duration
	entry.Timestamp = s.clock.Now()
	if err != nil {
		entry.Status = AuditStatusError
		entry.Error = err.Error()
	}
	s.audit.Record(ctx, entry)

	kv := []any{"operation", op, "execution_id", entry.ExecutionID, "status", string(entry.Status), "duration", duration}
	if entry.SampleID != "" {
		kv = append(kv, "sample_id", entry.SampleID)
	}
	if err != nil {
		s.logger.Error("command failed", append(kv, "error", err)...)
		return err
	}
	s.logger.Debug("command applied", append(kv, "version", entry.Version)...)
	return nil
}

func mergeFloat(dst **float64, v *float64) bool {
	if v == nil {
		return false
	}
	if *dst != nil && **dst == *v {
		return false
	}
	val := *v
	*dst = &val
	return true
}

func timePtr(t time.Time) *time.Time {
	return &t
}
