// Package api provides HTTP handlers for SmartAgentSurvey endpoints.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/wuzengqing001225/SmartAgentSurvey/internal/flow"
	"github.com/wuzengqing001225/SmartAgentSurvey/internal/graph"
	"github.com/wuzengqing001225/SmartAgentSurvey/internal/models"
	"github.com/wuzengqing001225/SmartAgentSurvey/internal/profile"
)

func (s *Server) startHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	slog.Debug("Server.startHandler: processing start request", "method", r.Method, "path", r.URL.Path)
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		slog.Warn("Server.startHandler: method not allowed", "method", r.Method)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req models.ExecutionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.startHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}

	if err := req.Questionnaire.Validate(); err != nil {
		slog.Warn("Server.startHandler: questionnaire validation failed", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}
	if len(req.Respondents) == 0 {
		slog.Warn("Server.startHandler: no respondents provided")
		writeJSONResponse(w, http.StatusBadRequest, models.Error("No respondents provided"))
		return
	}

	batch, err := s.buildBatch(req)
	if err != nil {
		slog.Warn("Server.startHandler: failed to build batch", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}

	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		slog.Warn("Server.startHandler: execution already in progress")
		writeJSONResponse(w, http.StatusConflict, models.Error(errAlreadyRunning.Error()))
		return
	}
	s.running = true
	s.batchID = newBatchID()
	s.executions = batch.Executions
	batchID := s.batchID
	s.mu.Unlock()

	sink := persistingSink{out: s.out, st: s.st, batchID: batchID}
	go func() {
		defer func() {
			s.mu.Lock()
			s.running = false
			s.mu.Unlock()
		}()
		if _, _, err := s.engine.RunBatch(context.Background(), batch, sink); err != nil {
			slog.Error("Server.startHandler: batch execution failed", "error", err, "batch_id", batchID)
			return
		}
		slog.Info("Server.startHandler: batch execution finished", "batch_id", batchID, "executions", batch.Executions)
	}()

	slog.Info("Server.startHandler: batch execution started",
		"batch_id", batchID, "respondents", len(req.Respondents), "executions", batch.Executions, "segmented", batch.Segmented)
	writeJSONResponse(w, http.StatusAccepted, models.SuccessWithMessage("Execution started", map[string]any{
		"batch_id":   batchID,
		"executions": batch.Executions,
	}))
}

// buildBatch turns an execution request into an engine batch, compiling
// segments when the request asks for segmented traversal.
func (s *Server) buildBatch(req models.ExecutionRequest) (flow.Batch, error) {
	batch := flow.Batch{
		Questionnaire:  req.Questionnaire,
		ExecutionOrder: req.ExecutionOrder,
		Respondents:    req.Respondents,
		Executions:     req.Executions,
		Segmented:      req.Segmented,
	}
	if batch.Executions < 1 {
		batch.Executions = 1
	}

	if req.Segmented {
		maxPer := req.MaxQuestionsPerSegment
		if maxPer <= 0 {
			maxPer = models.DefaultMaxQuestionsPerSegment
		}
		segments, ok := graph.BuildSegments(req.Questionnaire, maxPer)
		if !ok {
			return flow.Batch{}, models.ErrCyclicQuestionnaire
		}
		batch.Segments = segments
	}

	if len(req.SampleDimensions) > 0 {
		dims, err := profile.ParseDimensions(req.SampleDimensions)
		if err != nil {
			return flow.Batch{}, err
		}
		batch.Profiles = profile.NewFormatter(dims)
	}
	return batch, nil
}

func (s *Server) stopHandler(w http.ResponseWriter, r *http.Request) {
	slog.Debug("Server.stopHandler: processing stop request", "method", r.Method, "path", r.URL.Path)
	switch r.Method {
	case http.MethodPost:
		s.engine.Stop().Set()
		if err := s.out.MarkStopped(true); err != nil {
			slog.Error("Server.stopHandler: failed to persist stop marker", "error", err)
			writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to persist stop marker"))
			return
		}
		slog.Info("Server.stopHandler: stop requested")
		writeJSONResponse(w, http.StatusOK, models.Stopped())
	case http.MethodGet:
		stopped, err := s.out.ReadStopped()
		if err != nil {
			slog.Error("Server.stopHandler: failed to read stop marker", "error", err)
			writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to read stop marker"))
			return
		}
		writeJSONResponse(w, http.StatusOK, models.Success(map[string]bool{"stopped": stopped}))
	default:
		w.Header().Set("Allow", strings.Join([]string{http.MethodGet, http.MethodPost}, ", "))
		slog.Warn("Server.stopHandler: method not allowed", "method", r.Method)
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) progressHandler(w http.ResponseWriter, r *http.Request) {
	slog.Debug("Server.progressHandler: processing progress request", "method", r.Method, "path", r.URL.Path)
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		slog.Warn("Server.progressHandler: method not allowed", "method", r.Method)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	run, ok := runFromPath(r.URL.Path, "/api/execution/progress/")
	if !ok {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid run number"))
		return
	}
	progress, err := s.out.ReadProgress(run)
	if err != nil {
		slog.Error("Server.progressHandler: failed to read progress", "error", err, "run", run)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to read progress"))
		return
	}
	s.mu.Lock()
	total := s.executions
	s.mu.Unlock()
	writeJSONResponse(w, http.StatusOK, models.Success(models.ProgressInfo{Progress: progress, CurrentExecution: run, TotalExecutions: total}))
}

func (s *Server) resultsHandler(w http.ResponseWriter, r *http.Request) {
	slog.Debug("Server.resultsHandler: processing results request", "method", r.Method, "path", r.URL.Path)
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		slog.Warn("Server.resultsHandler: method not allowed", "method", r.Method)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	run, ok := runFromPath(r.URL.Path, "/api/execution/results/")
	if !ok {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid run number"))
		return
	}
	answers, runErrors, err := s.out.ReadRun(run)
	if err != nil {
		slog.Warn("Server.resultsHandler: run results not available", "error", err, "run", run)
		writeJSONResponse(w, http.StatusNotFound, models.Error("Run results not available"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]any{
		"answers": answers,
		"errors":  runErrors,
	}))
}

// runsHandler lists every persisted run of a batch from the store. The batch
// defaults to the most recently started one; pass batch_id to read another.
func (s *Server) runsHandler(w http.ResponseWriter, r *http.Request) {
	slog.Debug("Server.runsHandler: processing runs request", "method", r.Method, "path", r.URL.Path)
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		slog.Warn("Server.runsHandler: method not allowed", "method", r.Method)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	batchID := r.URL.Query().Get("batch_id")
	if batchID == "" {
		s.mu.Lock()
		batchID = s.batchID
		s.mu.Unlock()
	}
	if batchID == "" {
		slog.Warn("Server.runsHandler: no batch started and no batch_id given")
		writeJSONResponse(w, http.StatusNotFound, models.Error("No batch has been started"))
		return
	}
	records, err := s.st.GetRuns(batchID)
	if err != nil {
		slog.Error("Server.runsHandler: failed to read runs from store", "error", err, "batch_id", batchID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to read runs"))
		return
	}
	runs := make([]map[string]any, 0, len(records))
	for _, rec := range records {
		runs = append(runs, map[string]any{
			"run":        rec.RunIndex,
			"answers":    json.RawMessage(rec.AnswersJSON),
			"errors":     json.RawMessage(rec.ErrorsJSON),
			"stopped":    rec.Stopped,
			"created_at": rec.CreatedAt,
		})
	}
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]any{
		"batch_id": batchID,
		"runs":     runs,
	}))
}

// runFromPath extracts the trailing run number of a progress or results URL.
func runFromPath(path, prefix string) (int, bool) {
	raw := strings.TrimPrefix(path, prefix)
	if raw == "" || strings.Contains(raw, "/") {
		return 0, false
	}
	run, err := strconv.Atoi(raw)
	if err != nil || run < 1 {
		return 0, false
	}
	return run, true
}
