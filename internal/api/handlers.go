// Package api is the HTTP boundary over core.Service.
package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"labexec/internal/archive"
	"labexec/internal/catalog"
	"labexec/internal/core"
	"labexec/pkg/domain"
)

// Handler serves execution commands and reads.
type Handler struct {
	svc      *core.Service
	catalog  *catalog.Catalog
	archives *archive.Archiver
}

// NewHandler builds a Handler. catalog and archives may be nil.
func NewHandler(svc *core.Service, cat *catalog.Catalog, archives *archive.Archiver) *Handler {
	return &Handler{svc: svc, catalog: cat, archives: archives}
}

// CommandResponse is returned by every mutating endpoint.
type CommandResponse struct {
	Execution core.ExecutionView `json:"execution"`
	Warnings  []domain.Violation `json:"warnings,omitempty"`
}

func badRequest(format string, args ...any) *Error {
	return newError(http.StatusBadRequest, "bad_request", fmt.Errorf(format, args...))
}

func bind(c *gin.Context, dst any) bool {
	if c.Request.ContentLength == 0 {
		return true
	}
	if err := c.ShouldBindJSON(dst); err != nil {
		RespondError(c, badRequest("invalid request body: %v", err))
		return false
	}
	return true
}

// commandContext turns an If-Match header into an expected version.
func commandContext(c *gin.Context) (context.Context, error) {
	ctx := c.Request.Context()
	raw := strings.TrimSpace(c.GetHeader("If-Match"))
	if raw == "" || raw == "*" {
		return ctx, nil
	}
	raw = strings.Trim(strings.TrimPrefix(raw, "W/"), `"`)
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v < 1 {
		return nil, badRequest("If-Match must be an execution version, got %q", c.GetHeader("If-Match"))
	}
	return core.WithExpectedVersion(ctx, v), nil
}

func operatorOf(c *gin.Context, fromBody string) string {
	if op := strings.TrimSpace(fromBody); op != "" {
		return op
	}
	return strings.TrimSpace(c.GetHeader("X-Operator"))
}

func setETag(c *gin.Context, version int64) {
	c.Header("ETag", strconv.Quote(strconv.FormatInt(version, 10)))
}

func respondCommand(c *gin.Context, status int, exec domain.Execution, res domain.Result, err error) {
	if err != nil {
		RespondError(c, err)
		return
	}
	setETag(c, exec.Version)
	c.JSON(status, CommandResponse{Execution: core.NewExecutionView(exec), Warnings: res.Warnings()})
}

// command runs a mutating call with the request's expected version.
func (h *Handler) command(c *gin.Context, body any, call func(ctx context.Context) (domain.Execution, domain.Result, error)) {
	if body != nil && !bind(c, body) {
		return
	}
	ctx, err := commandContext(c)
	if err != nil {
		RespondError(c, err)
		return
	}
	exec, res, err := call(ctx)
	respondCommand(c, http.StatusOK, exec, res, err)
}

// GET /healthz
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// GET /api/protocols
func (h *Handler) ListProtocols(c *gin.Context) {
	if h.catalog == nil {
		c.JSON(http.StatusOK, gin.H{"protocols": []catalog.Summary{}})
		return
	}
	c.JSON(http.StatusOK, gin.H{"protocols": h.catalog.List()})
}

// GET /api/protocols/:id?version=
func (h *Handler) GetProtocol(c *gin.Context) {
	if h.catalog == nil {
		RespondError(c, domain.NotFoundError{Entity: domain.EntityProtocol, ID: c.Param("id")})
		return
	}
	p, err := h.catalog.Get(c.Param("id"), c.Query("version"))
	if err != nil {
		RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

type createExecutionRequest struct {
	core.NewExecution
	ProtocolID      string                     `json:"protocol_id"`
	ProtocolVersion string                     `json:"protocol_version"`
	Protocol        *domain.ProtocolDefinition `json:"protocol"`
}

// POST /api/executions
func (h *Handler) CreateExecution(c *gin.Context) {
	var req createExecutionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, badRequest("invalid request body: %v", err))
		return
	}
	var protocol domain.ProtocolDefinition
	switch {
	case req.Protocol != nil:
		protocol = *req.Protocol
	case req.ProtocolID != "" && h.catalog != nil:
		p, err := h.catalog.Get(req.ProtocolID, req.ProtocolVersion)
		if err != nil {
			RespondError(c, err)
			return
		}
		protocol = p
	default:
		RespondError(c, domain.ValidationError{Field: "protocol_id", Message: "a catalog protocol id or an inline protocol is required"})
		return
	}
	req.Operator = operatorOf(c, req.Operator)
	exec, res, err := h.svc.CreateExecution(c.Request.Context(), protocol, req.NewExecution)
	respondCommand(c, http.StatusCreated, exec, res, err)
}

// GET /api/executions/:id
func (h *Handler) GetExecution(c *gin.Context) {
	view, err := h.svc.View(c.Request.Context(), c.Param("id"))
	if err != nil {
		RespondError(c, err)
		return
	}
	setETag(c, view.Version)
	c.JSON(http.StatusOK, view)
}

// GET /api/executions/:id/progress
func (h *Handler) GetProgress(c *gin.Context) {
	report, err := h.svc.Progress(c.Request.Context(), c.Param("id"))
	if err != nil {
		RespondError(c, err)
		return
	}
	setETag(c, report.Version)
	c.JSON(http.StatusOK, report)
}

// GET /api/studies/:studyID/executions
func (h *Handler) ListStudyExecutions(c *gin.Context) {
	list, err := h.svc.ListByStudy(c.Request.Context(), c.Param("studyID"))
	if err != nil {
		RespondError(c, err)
		return
	}
	if list == nil {
		list = []domain.ExecutionSummary{}
	}
	c.JSON(http.StatusOK, gin.H{"executions": list})
}

// GET /api/executions/:id/archives
func (h *Handler) ListArchives(c *gin.Context) {
	exec, err := h.svc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		RespondError(c, err)
		return
	}
	entries := []archive.Entry{}
	if h.archives != nil {
		listed, err := h.archives.List(c.Request.Context(), exec.StudyID, exec.ID)
		if err != nil {
			RespondError(c, err)
			return
		}
		entries = append(entries, listed...)
	}
	c.JSON(http.StatusOK, gin.H{"archives": entries})
}

type operatorRequest struct {
	Operator string `json:"operator"`
}

type notesRequest struct {
	Operator string `json:"operator"`
	Notes    string `json:"notes"`
}

type reasonRequest struct {
	Operator string `json:"operator"`
	Reason   string `json:"reason"`
}

type completeExecutionRequest struct {
	Operator        string `json:"operator"`
	Summary         string `json:"summary"`
	Recommendations string `json:"recommendations"`
}

// POST /api/executions/:id/start
func (h *Handler) Start(c *gin.Context) {
	var req operatorRequest
	h.command(c, &req, func(ctx context.Context) (domain.Execution, domain.Result, error) {
		return h.svc.Start(ctx, c.Param("id"), operatorOf(c, req.Operator))
	})
}

// POST /api/executions/:id/pause
func (h *Handler) Pause(c *gin.Context) {
	var req notesRequest
	h.command(c, &req, func(ctx context.Context) (domain.Execution, domain.Result, error) {
		return h.svc.Pause(ctx, c.Param("id"), operatorOf(c, req.Operator), req.Notes)
	})
}

// POST /api/executions/:id/resume
func (h *Handler) Resume(c *gin.Context) {
	var req operatorRequest
	h.command(c, &req, func(ctx context.Context) (domain.Execution, domain.Result, error) {
		return h.svc.Resume(ctx, c.Param("id"), operatorOf(c, req.Operator))
	})
}

// POST /api/executions/:id/complete
func (h *Handler) Complete(c *gin.Context) {
	var req completeExecutionRequest
	h.command(c, &req, func(ctx context.Context) (domain.Execution, domain.Result, error) {
		return h.svc.Complete(ctx, c.Param("id"), operatorOf(c, req.Operator), req.Summary, req.Recommendations)
	})
}

// POST /api/executions/:id/cancel
func (h *Handler) Cancel(c *gin.Context) {
	var req reasonRequest
	h.command(c, &req, func(ctx context.Context) (domain.Execution, domain.Result, error) {
		return h.svc.Cancel(ctx, c.Param("id"), operatorOf(c, req.Operator), req.Reason)
	})
}

// POST /api/executions/:id/fail
func (h *Handler) Fail(c *gin.Context) {
	var req reasonRequest
	h.command(c, &req, func(ctx context.Context) (domain.Execution, domain.Result, error) {
		return h.svc.Fail(ctx, c.Param("id"), operatorOf(c, req.Operator), req.Reason)
	})
}

type conditionRequest struct {
	Operator string       `json:"operator"`
	Value    domain.Value `json:"value"`
}

// PUT /api/executions/:id/conditions/:name
func (h *Handler) RecordTestCondition(c *gin.Context) {
	var req conditionRequest
	h.command(c, &req, func(ctx context.Context) (domain.Execution, domain.Result, error) {
		return h.svc.RecordTestCondition(ctx, c.Param("id"), operatorOf(c, req.Operator), c.Param("name"), req.Value)
	})
}

type environmentRequest struct {
	domain.EnvironmentPatch
	Operator string `json:"operator"`
}

// PATCH /api/executions/:id/environment
func (h *Handler) UpdateEnvironment(c *gin.Context) {
	var req environmentRequest
	h.command(c, &req, func(ctx context.Context) (domain.Execution, domain.Result, error) {
		return h.svc.UpdateEnvironment(ctx, c.Param("id"), operatorOf(c, req.Operator), req.EnvironmentPatch)
	})
}

type addSampleRequest struct {
	core.SampleInput
	Operator string `json:"operator"`
}

// POST /api/executions/:id/samples
func (h *Handler) AddSample(c *gin.Context) {
	var req addSampleRequest
	h.command(c, &req, func(ctx context.Context) (domain.Execution, domain.Result, error) {
		return h.svc.AddSample(ctx, c.Param("id"), operatorOf(c, req.Operator), req.SampleInput)
	})
}

type measurementRequest struct {
	core.MeasurementInput
	Operator string `json:"operator"`
}

// POST /api/executions/:id/samples/:sampleID/measurements
func (h *Handler) RecordMeasurement(c *gin.Context) {
	var req measurementRequest
	h.command(c, &req, func(ctx context.Context) (domain.Execution, domain.Result, error) {
		return h.svc.RecordMeasurement(ctx, c.Param("id"), c.Param("sampleID"), operatorOf(c, req.Operator), req.MeasurementInput)
	})
}

// POST /api/executions/:id/samples/:sampleID/steps/:stepID/complete
func (h *Handler) CompleteStep(c *gin.Context) {
	var req operatorRequest
	h.command(c, &req, func(ctx context.Context) (domain.Execution, domain.Result, error) {
		return h.svc.CompleteStep(ctx, c.Param("id"), c.Param("sampleID"), c.Param("stepID"), operatorOf(c, req.Operator))
	})
}

// POST /api/executions/:id/samples/:sampleID/steps/:stepID/uncomplete
func (h *Handler) UncompleteStep(c *gin.Context) {
	var req reasonRequest
	h.command(c, &req, func(ctx context.Context) (domain.Execution, domain.Result, error) {
		return h.svc.UncompleteStep(ctx, c.Param("id"), c.Param("sampleID"), c.Param("stepID"), operatorOf(c, req.Operator), req.Reason)
	})
}

// GET /api/executions/:id/samples/:sampleID/steps/:stepID/corrections
func (h *Handler) CorrectionsForStep(c *gin.Context) {
	entries, err := h.svc.CorrectionsForStep(c.Request.Context(), c.Param("id"), c.Param("sampleID"), c.Param("stepID"))
	if err != nil {
		RespondError(c, err)
		return
	}
	if entries == nil {
		entries = []domain.CorrectionEntry{}
	}
	c.JSON(http.StatusOK, gin.H{"corrections": entries})
}

type completeSampleRequest struct {
	Operator       string         `json:"operator"`
	Quality        domain.Quality `json:"quality"`
	Notes          string         `json:"notes"`
	OverrideReason string         `json:"override_reason"`
}

// POST /api/executions/:id/samples/:sampleID/complete
func (h *Handler) CompleteSample(c *gin.Context) {
	var req completeSampleRequest
	h.command(c, &req, func(ctx context.Context) (domain.Execution, domain.Result, error) {
		return h.svc.CompleteSample(ctx, c.Param("id"), c.Param("sampleID"), operatorOf(c, req.Operator), req.Quality, req.Notes, req.OverrideReason)
	})
}

// POST /api/executions/:id/samples/:sampleID/skip
func (h *Handler) SkipSample(c *gin.Context) {
	var req reasonRequest
	h.command(c, &req, func(ctx context.Context) (domain.Execution, domain.Result, error) {
		return h.svc.SkipSample(ctx, c.Param("id"), c.Param("sampleID"), operatorOf(c, req.Operator), req.Reason)
	})
}

// POST /api/executions/:id/samples/:sampleID/fail
func (h *Handler) FailSample(c *gin.Context) {
	var req reasonRequest
	h.command(c, &req, func(ctx context.Context) (domain.Execution, domain.Result, error) {
		return h.svc.FailSample(ctx, c.Param("id"), c.Param("sampleID"), operatorOf(c, req.Operator), req.Reason)
	})
}

type createSessionRequest struct {
	Operator  string   `json:"operator"`
	Name      string   `json:"name"`
	SampleIDs []string `json:"sample_ids"`
}

// POST /api/executions/:id/sessions
func (h *Handler) CreateSession(c *gin.Context) {
	var req createSessionRequest
	h.command(c, &req, func(ctx context.Context) (domain.Execution, domain.Result, error) {
		return h.svc.CreateSession(ctx, c.Param("id"), operatorOf(c, req.Operator), req.Name, req.SampleIDs)
	})
}

type sessionStatusRequest struct {
	Operator string               `json:"operator"`
	Status   domain.SessionStatus `json:"status"`
}

// PUT /api/executions/:id/sessions/:sessionID/status
func (h *Handler) SetSessionStatus(c *gin.Context) {
	var req sessionStatusRequest
	h.command(c, &req, func(ctx context.Context) (domain.Execution, domain.Result, error) {
		return h.svc.SetSessionStatus(ctx, c.Param("id"), c.Param("sessionID"), operatorOf(c, req.Operator), req.Status)
	})
}
