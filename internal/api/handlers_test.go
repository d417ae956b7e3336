package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"labexec/internal/archive"
	"labexec/internal/blob"
	"labexec/internal/catalog"
	"labexec/internal/core"
	"labexec/pkg/domain"
)

func floatPtr(v float64) *float64 { return &v }

func tensileProtocol() domain.ProtocolDefinition {
	return domain.ProtocolDefinition{
		ID:      "tensile",
		Version: "1",
		Title:   "Tensile strength",
		Steps: []domain.StepDefinition{
			{
				ID: "S1", Title: "Load specimen",
				Measurements: []domain.MeasurementDefinition{
					{ID: "m1", Name: "Load", Unit: "kN", Type: domain.TypeNumeric, Required: true, Expected: domain.Number(10).Ptr(), Tolerance: floatPtr(0.5)},
				},
			},
			{
				ID: "S2", Title: "Inspect fracture",
				Measurements: []domain.MeasurementDefinition{
					{ID: "clean", Name: "Clean break", Type: domain.TypeBoolean, Required: true},
				},
			},
		},
		Conditions: []domain.ConditionDefinition{
			{Name: "chamber_temp", Target: domain.Number(23), Unit: "C", Tolerance: floatPtr(2), Required: true},
		},
	}
}

type testServer struct {
	router  *gin.Engine
	archive *archive.Archiver
}

func newTestServer(t *testing.T) testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	cat, err := catalog.New(tensileProtocol())
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	store, err := blob.Open(context.Background(), blob.Options{Driver: blob.DriverMemory})
	if err != nil {
		t.Fatalf("blob: %v", err)
	}
	archiver := archive.New(store)
	n := 0
	svc := core.NewInMemoryService(
		core.WithArchiver(archiver),
		core.WithIDGenerator(func() string { n++; return fmt.Sprintf("id-%d", n) }),
	)
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("labexec_commands_total 0\n"))
	})
	return testServer{
		router:  NewRouter(RouterConfig{Handler: NewHandler(svc, cat, archiver), Metrics: metrics}),
		archive: archiver,
	}
}

type response struct {
	Code int
	ETag string
	Body map[string]any
}

func (s testServer) do(t *testing.T, method, path, body string, headers ...string) response {
	t.Helper()
	var reader *bytes.Reader
	if body != "" {
		reader = bytes.NewReader([]byte(body))
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	out := response{Code: rec.Code, ETag: rec.Header().Get("ETag")}
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(rec.Body.Bytes(), &out.Body); err != nil {
			t.Fatalf("%s %s: decode body: %v (%s)", method, path, err, rec.Body.String())
		}
	}
	return out
}

func errorCode(r response) string {
	e, _ := r.Body["error"].(map[string]any)
	code, _ := e["code"].(string)
	return code
}

func warnings(r response) []any {
	w, _ := r.Body["warnings"].([]any)
	return w
}

func execution(r response) map[string]any {
	e, _ := r.Body["execution"].(map[string]any)
	return e
}

const createBody = `{"id":"exec-1","study_id":"study-1","protocol_id":"tensile","operator":"alice",
	"samples":[{"id":"X","name":"Specimen X"},{"id":"Y","name":"Specimen Y"}]}`

func TestExecutionLifecycleOverHTTP(t *testing.T) {
	s := newTestServer(t)

	r := s.do(t, http.MethodPost, "/api/executions", createBody)
	if r.Code != http.StatusCreated || r.ETag != `"1"` {
		t.Fatalf("create: got %d etag %q body %v", r.Code, r.ETag, r.Body)
	}
	if execution(r)["status"] != "NOT_STARTED" || execution(r)["protocol_id"] != "tensile" {
		t.Fatalf("unexpected created execution %v", execution(r))
	}

	r = s.do(t, http.MethodPost, "/api/executions/exec-1/start", `{"operator":"alice"}`, "If-Match", `"1"`)
	if r.Code != http.StatusOK || r.ETag != `"2"` || execution(r)["status"] != "IN_PROGRESS" {
		t.Fatalf("start: got %d etag %q body %v", r.Code, r.ETag, r.Body)
	}

	r = s.do(t, http.MethodPut, "/api/executions/exec-1/conditions/chamber_temp", `{"operator":"alice","value":30}`)
	if r.Code != http.StatusOK || len(warnings(r)) != 1 {
		t.Fatalf("condition: got %d body %v", r.Code, r.Body)
	}

	r = s.do(t, http.MethodPatch, "/api/executions/exec-1/environment", `{"humidity":45.5,"notes":"dry"}`, "X-Operator", "alice")
	if r.Code != http.StatusOK {
		t.Fatalf("environment: got %d body %v", r.Code, r.Body)
	}
	if env, _ := execution(r)["environment"].(map[string]any); env["humidity"] != 45.5 || env["notes"] != "dry" {
		t.Fatalf("unexpected environment %v", execution(r)["environment"])
	}

	r = s.do(t, http.MethodPost, "/api/executions/exec-1/samples/X/measurements",
		`{"operator":"alice","step_id":"S1","measurement_id":"m1","value":12}`)
	if r.Code != http.StatusOK || len(warnings(r)) != 1 {
		t.Fatalf("measurement: got %d body %v", r.Code, r.Body)
	}

	r = s.do(t, http.MethodPost, "/api/executions/exec-1/samples/X/steps/S1/complete", `{"operator":"alice"}`)
	if r.Code != http.StatusOK {
		t.Fatalf("complete step: got %d body %v", r.Code, r.Body)
	}

	r = s.do(t, http.MethodGet, "/api/executions/exec-1/progress", "")
	if r.Code != http.StatusOK || r.Body["overall"] != float64(25) {
		t.Fatalf("progress: got %d body %v", r.Code, r.Body)
	}

	r = s.do(t, http.MethodPost, "/api/executions/exec-1/samples/X/steps/S1/uncomplete", `{"operator":"alice","reason":"grip slipped"}`)
	if r.Code != http.StatusOK {
		t.Fatalf("uncomplete step: got %d body %v", r.Code, r.Body)
	}
	r = s.do(t, http.MethodGet, "/api/executions/exec-1/samples/X/steps/S1/corrections", "")
	if list, _ := r.Body["corrections"].([]any); r.Code != http.StatusOK || len(list) != 1 {
		t.Fatalf("corrections: got %d body %v", r.Code, r.Body)
	}

	r = s.do(t, http.MethodPost, "/api/executions/exec-1/sessions", `{"operator":"alice","name":"morning","sample_ids":["X","Y"]}`)
	if r.Code != http.StatusOK {
		t.Fatalf("session: got %d body %v", r.Code, r.Body)
	}
	sessions, _ := execution(r)["sessions"].([]any)
	if len(sessions) != 1 {
		t.Fatalf("expected one session, got %v", execution(r)["sessions"])
	}
	sessionID := sessions[0].(map[string]any)["id"].(string)
	r = s.do(t, http.MethodPut, "/api/executions/exec-1/sessions/"+sessionID+"/status", `{"operator":"alice","status":"ACTIVE"}`)
	if r.Code != http.StatusOK {
		t.Fatalf("session status: got %d body %v", r.Code, r.Body)
	}

	r = s.do(t, http.MethodPost, "/api/executions/exec-1/samples/Y/skip", `{"operator":"alice","reason":"cracked before test"}`)
	if r.Code != http.StatusOK {
		t.Fatalf("skip: got %d body %v", r.Code, r.Body)
	}

	r = s.do(t, http.MethodPost, "/api/executions/exec-1/cancel", `{"operator":"alice","reason":"machine fault"}`)
	if r.Code != http.StatusOK || execution(r)["status"] != "CANCELLED" {
		t.Fatalf("cancel: got %d body %v", r.Code, r.Body)
	}

	r = s.do(t, http.MethodGet, "/api/executions/exec-1/archives", "")
	if list, _ := r.Body["archives"].([]any); r.Code != http.StatusOK || len(list) != 1 {
		t.Fatalf("archives: got %d body %v", r.Code, r.Body)
	}

	r = s.do(t, http.MethodGet, "/api/studies/study-1/executions", "")
	if list, _ := r.Body["executions"].([]any); r.Code != http.StatusOK || len(list) != 1 {
		t.Fatalf("study listing: got %d body %v", r.Code, r.Body)
	}

	r = s.do(t, http.MethodGet, "/api/executions/exec-1", "")
	if r.Code != http.StatusOK || r.Body["status"] != "CANCELLED" || r.ETag == "" {
		t.Fatalf("get: got %d etag %q body %v", r.Code, r.ETag, r.Body)
	}
}

func TestErrorResponses(t *testing.T) {
	s := newTestServer(t)
	if r := s.do(t, http.MethodPost, "/api/executions", createBody); r.Code != http.StatusCreated {
		t.Fatalf("create: %d %v", r.Code, r.Body)
	}

	cases := []struct {
		name    string
		method  string
		path    string
		body    string
		headers []string
		status  int
		code    string
	}{
		{"unknown execution", http.MethodGet, "/api/executions/nope", "", nil, http.StatusNotFound, "not_found"},
		{"duplicate create", http.MethodPost, "/api/executions", createBody, nil, http.StatusConflict, "already_exists"},
		{"unknown protocol", http.MethodPost, "/api/executions", `{"study_id":"s","protocol_id":"bend"}`, nil, http.StatusNotFound, "not_found"},
		{"no protocol", http.MethodPost, "/api/executions", `{"study_id":"s"}`, nil, http.StatusBadRequest, "validation_failed"},
		{"malformed body", http.MethodPost, "/api/executions/exec-1/start", `{"operator":`, nil, http.StatusBadRequest, "bad_request"},
		{"resume not started", http.MethodPost, "/api/executions/exec-1/resume", `{"operator":"alice"}`, nil, http.StatusConflict, "invalid_transition"},
		{"measure before start", http.MethodPost, "/api/executions/exec-1/samples/X/measurements",
			`{"operator":"alice","step_id":"S1","measurement_id":"m1","value":10}`, nil, http.StatusConflict, "execution_not_active"},
		{"stale if-match", http.MethodPost, "/api/executions/exec-1/start", `{"operator":"alice"}`, []string{"If-Match", `"7"`}, http.StatusPreconditionFailed, "concurrent_modification"},
		{"bad if-match", http.MethodPost, "/api/executions/exec-1/start", `{"operator":"alice"}`, []string{"If-Match", "abc"}, http.StatusBadRequest, "bad_request"},
		{"fail without reason", http.MethodPost, "/api/executions/exec-1/fail", `{"operator":"alice"}`, nil, http.StatusBadRequest, "missing_reason"},
		{"humidity out of range", http.MethodPatch, "/api/executions/exec-1/environment", `{"humidity":140}`, nil, http.StatusBadRequest, "validation_failed"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := s.do(t, tc.method, tc.path, tc.body, tc.headers...)
			if r.Code != tc.status || errorCode(r) != tc.code {
				t.Fatalf("got %d %q, want %d %q (%v)", r.Code, errorCode(r), tc.status, tc.code, r.Body)
			}
		})
	}

	if r := s.do(t, http.MethodPost, "/api/executions/exec-1/start", `{"operator":"alice"}`); r.Code != http.StatusOK {
		t.Fatalf("start: %d %v", r.Code, r.Body)
	}
	r := s.do(t, http.MethodPost, "/api/executions/exec-1/samples/Y/steps/S1/complete", `{"operator":"alice"}`)
	if r.Code != http.StatusUnprocessableEntity || errorCode(r) != "incomplete_required_measurements" {
		t.Fatalf("complete step without values: got %d %v", r.Code, r.Body)
	}
	r = s.do(t, http.MethodPost, "/api/executions/exec-1/samples/Y/steps/S1/uncomplete", `{"operator":"alice","reason":"r"}`)
	if r.Code != http.StatusConflict || errorCode(r) != "step_not_completed" {
		t.Fatalf("uncomplete open step: got %d %v", r.Code, r.Body)
	}
	r = s.do(t, http.MethodPost, "/api/executions/exec-1/samples/Y/complete", `{"operator":"alice","quality":"pass"}`)
	if r.Code != http.StatusUnprocessableEntity || errorCode(r) != "sample_incomplete" {
		t.Fatalf("complete sample early: got %d %v", r.Code, r.Body)
	}
	r = s.do(t, http.MethodPost, "/api/executions/exec-1/cancel", `{"operator":"alice"}`)
	if r.Code != http.StatusOK || execution(r)["status"] != "CANCELLED" {
		t.Fatalf("cancel without reason: got %d %v", r.Code, r.Body)
	}
}

func TestInlineProtocolAndCatalogRoutes(t *testing.T) {
	s := newTestServer(t)

	r := s.do(t, http.MethodGet, "/api/protocols", "")
	if list, _ := r.Body["protocols"].([]any); r.Code != http.StatusOK || len(list) != 1 {
		t.Fatalf("protocols: got %d %v", r.Code, r.Body)
	}
	r = s.do(t, http.MethodGet, "/api/protocols/tensile?version=1", "")
	if r.Code != http.StatusOK || r.Body["id"] != "tensile" {
		t.Fatalf("protocol: got %d %v", r.Code, r.Body)
	}

	inline := `{"study_id":"study-2","operator":"bob","protocol":{"id":"visual","title":"Visual",
		"steps":[{"id":"V1","title":"Look","measurements":[{"id":"ok","name":"OK","type":"boolean","required":true}]}]},
		"samples":[{"name":"Panel"}]}`
	r = s.do(t, http.MethodPost, "/api/executions", inline)
	if r.Code != http.StatusCreated {
		t.Fatalf("inline create: got %d %v", r.Code, r.Body)
	}
	exec := execution(r)
	if exec["protocol_id"] != "visual" || exec["id"] == "" {
		t.Fatalf("unexpected inline execution %v", exec)
	}
	samples, _ := exec["samples"].([]any)
	if len(samples) != 1 || samples[0].(map[string]any)["progress"] != float64(0) {
		t.Fatalf("expected projected sample view, got %v", exec["samples"])
	}

	r = s.do(t, http.MethodPost, "/api/executions", `{"study_id":"s","protocol":{"id":"","steps":[]}}`)
	if r.Code != http.StatusBadRequest || errorCode(r) != "validation_failed" {
		t.Fatalf("invalid inline protocol: got %d %v", r.Code, r.Body)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	s := newTestServer(t)
	if r := s.do(t, http.MethodGet, "/healthz", ""); r.Code != http.StatusOK || r.Body["status"] != "ok" {
		t.Fatalf("healthz: %d %v", r.Code, r.Body)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "labexec_commands_total") {
		t.Fatalf("metrics: %d %s", rec.Code, rec.Body.String())
	}
}

func TestClassifyRuleViolation(t *testing.T) {
	gin.SetMode(gin.TestMode)
	res := domain.Result{Violations: []domain.Violation{
		{Rule: "lifecycle_transition", Severity: domain.SeverityBlock, Message: "no"},
	}}
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	RespondError(c, fmt.Errorf("save: %w", domain.RuleViolationError{Result: res}))
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rec.Code)
	}
	var env ErrorEnvelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if env.Error.Code != "rule_violation" || len(env.Error.Violations) != 1 {
		t.Fatalf("unexpected envelope %+v", env)
	}

	if e := classify(errors.New("disk on fire")); e.Status != http.StatusInternalServerError || e.Code != "internal" {
		t.Fatalf("unexpected default classification %+v", e)
	}
}
