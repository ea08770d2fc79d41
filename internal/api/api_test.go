package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/wuzengqing001225/SmartAgentSurvey/internal/flow"
	"github.com/wuzengqing001225/SmartAgentSurvey/internal/models"
	"github.com/wuzengqing001225/SmartAgentSurvey/internal/output"
	"github.com/wuzengqing001225/SmartAgentSurvey/internal/store"
)

// staticGenerator answers every generation call with the same JSON payload.
type staticGenerator struct {
	response string
}

func (g staticGenerator) Generate(ctx context.Context, prompt, systemPrompt string) (string, error) {
	return g.response, nil
}

func newTestServer(t *testing.T, gen flow.Generator) (*Server, *output.Manager) {
	t.Helper()
	out, err := output.NewManager(t.TempDir())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	engine := flow.NewEngine(gen)
	return NewServer(engine, out, store.NewInMemoryStore()), out
}

func startRequestBody() string {
	return `{
		"questionnaire": {
			"1": {"question": "First", "type": "text_response", "jump_logic": {"next": 2}},
			"2": {"question": "Second", "type": "text_response", "jump_logic": {"next": "end"}}
		},
		"respondents": [{"id": 1, "profile": "a test person"}],
		"executions": 1,
		"segmented": true
	}`
}

// waitForRun polls until the run's artifacts appear or the deadline passes.
func waitForRun(t *testing.T, out *output.Manager, run int) (map[string]models.AnswerRecord, map[string][]string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		answers, errs, err := out.ReadRun(run)
		if err == nil {
			return answers, errs
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("run %d artifacts never appeared", run)
	return nil, nil
}

func TestStartHandler(t *testing.T) {
	srv, out := newTestServer(t, staticGenerator{response: `{"1": "a", "2": "b"}`})
	handler := srv.Handler()

	req := httptest.NewRequest(http.MethodPost, "/api/execution/start", strings.NewReader(startRequestBody()))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp models.APIResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid response body: %v", err)
	}
	if resp.Status != string(models.APIStatusOK) {
		t.Errorf("unexpected status %s", resp.Status)
	}

	answers, _ := waitForRun(t, out, 1)
	if answers["1"]["1"] != "a" || answers["1"]["2"] != "b" {
		t.Errorf("unexpected persisted answers %v", answers)
	}
}

func TestStartHandlerInvalidJSON(t *testing.T) {
	srv, _ := newTestServer(t, staticGenerator{response: "{}"})
	req := httptest.NewRequest(http.MethodPost, "/api/execution/start", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestStartHandlerNoRespondents(t *testing.T) {
	srv, _ := newTestServer(t, staticGenerator{response: "{}"})
	body := `{"questionnaire": {"1": {"question": "First", "type": "text_response"}}, "respondents": []}`
	req := httptest.NewRequest(http.MethodPost, "/api/execution/start", strings.NewReader(body))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestStartHandlerRejectsCyclicQuestionnaire(t *testing.T) {
	srv, _ := newTestServer(t, staticGenerator{response: "{}"})
	body := `{
		"questionnaire": {
			"1": {"question": "First", "type": "text_response", "jump_logic": {"next": 2}},
			"2": {"question": "Second", "type": "text_response", "jump_logic": {"next": 1}}
		},
		"respondents": [{"id": 1}],
		"segmented": true
	}`
	req := httptest.NewRequest(http.MethodPost, "/api/execution/start", strings.NewReader(body))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for cyclic questionnaire, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp models.APIResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid response body: %v", err)
	}
	if !strings.Contains(resp.Message, "cycle") {
		t.Errorf("unexpected message %q", resp.Message)
	}
}

func TestStartHandlerMethodNotAllowed(t *testing.T) {
	srv, _ := newTestServer(t, staticGenerator{response: "{}"})
	req := httptest.NewRequest(http.MethodGet, "/api/execution/start", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", rec.Code)
	}
}

func TestStopHandler(t *testing.T) {
	srv, out := newTestServer(t, staticGenerator{response: "{}"})
	handler := srv.Handler()

	// Marker defaults to false.
	req := httptest.NewRequest(http.MethodGet, "/api/execution/stop", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"stopped":false`) {
		t.Errorf("unexpected body %s", rec.Body.String())
	}

	// POST requests the stop and persists the marker.
	req = httptest.NewRequest(http.MethodPost, "/api/execution/stop", nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !srv.engine.Stop().Stopped() {
		t.Error("engine stop flag not set")
	}
	stopped, err := out.ReadStopped()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !stopped {
		t.Error("stop marker not persisted")
	}

	req = httptest.NewRequest(http.MethodGet, "/api/execution/stop", nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if !strings.Contains(rec.Body.String(), `"stopped":true`) {
		t.Errorf("unexpected body %s", rec.Body.String())
	}
}

func TestProgressHandler(t *testing.T) {
	srv, out := newTestServer(t, staticGenerator{response: "{}"})
	if err := out.BeginRun(2); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := out.Progress(2, 50); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/execution/progress/2", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"progress":50`) {
		t.Errorf("unexpected body %s", rec.Body.String())
	}
}

func TestProgressHandlerReportsTotalExecutions(t *testing.T) {
	srv, _ := newTestServer(t, staticGenerator{response: `{"1": "a", "2": "b"}`})
	handler := srv.Handler()

	body := strings.Replace(startRequestBody(), `"executions": 1`, `"executions": 2`, 1)
	req := httptest.NewRequest(http.MethodPost, "/api/execution/start", strings.NewReader(body))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/api/execution/progress/1", nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"total_executions":2`) {
		t.Errorf("unexpected body %s", rec.Body.String())
	}
}

func TestProgressHandlerInvalidRun(t *testing.T) {
	srv, _ := newTestServer(t, staticGenerator{response: "{}"})
	for _, path := range []string{"/api/execution/progress/", "/api/execution/progress/zero", "/api/execution/progress/0"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", path, rec.Code)
		}
	}
}

func TestResultsHandler(t *testing.T) {
	srv, out := newTestServer(t, staticGenerator{response: "{}"})
	if err := out.BeginRun(1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	answers := map[string]models.AnswerRecord{"1": {"1": "yes"}}
	runErrors := map[string][]string{"1": {}}
	if err := out.SaveRun(1, answers, runErrors); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/execution/results/1", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `"yes"`) {
		t.Errorf("unexpected body %s", rec.Body.String())
	}
}

func TestResultsHandlerMissingRun(t *testing.T) {
	srv, _ := newTestServer(t, staticGenerator{response: "{}"})
	req := httptest.NewRequest(http.MethodGet, "/api/execution/results/7", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestRunsHandler(t *testing.T) {
	srv, _ := newTestServer(t, staticGenerator{response: `{"1": "a", "2": "b"}`})
	handler := srv.Handler()

	req := httptest.NewRequest(http.MethodPost, "/api/execution/start", strings.NewReader(startRequestBody()))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}

	// The store is written after the run artifacts, so poll the endpoint
	// itself until the run shows up.
	deadline := time.Now().Add(3 * time.Second)
	for {
		req = httptest.NewRequest(http.MethodGet, "/api/execution/runs", nil)
		rec = httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code == http.StatusOK && strings.Contains(rec.Body.String(), `"run":1`) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("persisted run never appeared: %d %s", rec.Code, rec.Body.String())
		}
		time.Sleep(10 * time.Millisecond)
	}
	if !strings.Contains(rec.Body.String(), `"a"`) || !strings.Contains(rec.Body.String(), `"batch_id"`) {
		t.Errorf("unexpected body %s", rec.Body.String())
	}
}

func TestRunsHandlerNoBatch(t *testing.T) {
	srv, _ := newTestServer(t, staticGenerator{response: "{}"})
	req := httptest.NewRequest(http.MethodGet, "/api/execution/runs", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestRunFromPath(t *testing.T) {
	if run, ok := runFromPath("/api/execution/progress/3", "/api/execution/progress/"); !ok || run != 3 {
		t.Errorf("expected run 3, got %d ok=%v", run, ok)
	}
	if _, ok := runFromPath("/api/execution/progress/3/extra", "/api/execution/progress/"); ok {
		t.Error("expected trailing path to be rejected")
	}
}
