// Package output persists execution artifacts as JSON files.
//
// Each run of a batch owns an isolated execution_<n>/ partition holding the
// run's answers, errors, and progress; the batch-level stop marker lives at
// the state directory root.
package output

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/wuzengqing001225/SmartAgentSurvey/internal/models"
)

// Artifact file names.
const (
	AnswersFileName  = "answers.json"
	ErrorsFileName   = "execution_errors.json"
	ProgressFileName = "progress.json"
	StopFileName     = "stop.json"
)

// DefaultDirPermissions defines the default permissions for output directories
const DefaultDirPermissions = 0755

// progressDoc is the persisted progress object.
type progressDoc struct {
	Progress float64 `json:"progress"`
}

// stopDoc is the persisted stop marker.
type stopDoc struct {
	Stopped bool `json:"stopped"`
}

// Manager writes run artifacts under a state directory. It implements the
// engine's BatchSink.
type Manager struct {
	baseDir string
}

// NewManager creates a Manager rooted at baseDir, creating the directory if
// needed.
func NewManager(baseDir string) (*Manager, error) {
	if err := os.MkdirAll(baseDir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create output directory", "error", err, "dir", baseDir)
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	slog.Debug("Output manager created", "dir", baseDir)
	return &Manager{baseDir: baseDir}, nil
}

// BaseDir returns the state directory root.
func (m *Manager) BaseDir() string {
	return m.baseDir
}

// RunDir returns the output partition for one run.
func (m *Manager) RunDir(run int) string {
	return filepath.Join(m.baseDir, fmt.Sprintf("execution_%d", run))
}

// BeginRun creates the run's output partition.
func (m *Manager) BeginRun(run int) error {
	dir := m.RunDir(run)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create run directory", "error", err, "dir", dir)
		return fmt.Errorf("failed to create run directory: %w", err)
	}
	return nil
}

// Progress persists the run's 0-100 progress value.
func (m *Manager) Progress(run int, progress float64) error {
	return m.saveJSON(filepath.Join(m.RunDir(run), ProgressFileName), progressDoc{Progress: progress}, false)
}

// SaveRun persists a completed run's answers and errors.
func (m *Manager) SaveRun(run int, answers map[string]models.AnswerRecord, errors map[string][]string) error {
	if err := m.saveJSON(filepath.Join(m.RunDir(run), AnswersFileName), answers, true); err != nil {
		return err
	}
	return m.saveJSON(filepath.Join(m.RunDir(run), ErrorsFileName), errors, true)
}

// MarkStopped persists the batch-level stop marker.
func (m *Manager) MarkStopped(stopped bool) error {
	return m.saveJSON(filepath.Join(m.baseDir, StopFileName), stopDoc{Stopped: stopped}, false)
}

// ReadProgress returns the persisted progress for one run, or 0 when the run
// has not started.
func (m *Manager) ReadProgress(run int) (float64, error) {
	data, err := os.ReadFile(filepath.Join(m.RunDir(run), ProgressFileName))
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read progress: %w", err)
	}
	var doc progressDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return 0, fmt.Errorf("failed to parse progress: %w", err)
	}
	return doc.Progress, nil
}

// ReadStopped returns the persisted stop marker, defaulting to false when no
// marker exists.
func (m *Manager) ReadStopped() (bool, error) {
	data, err := os.ReadFile(filepath.Join(m.baseDir, StopFileName))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read stop marker: %w", err)
	}
	var doc stopDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return false, fmt.Errorf("failed to parse stop marker: %w", err)
	}
	return doc.Stopped, nil
}

// ReadRun loads a persisted run's answers and errors.
func (m *Manager) ReadRun(run int) (map[string]models.AnswerRecord, map[string][]string, error) {
	answersData, err := os.ReadFile(filepath.Join(m.RunDir(run), AnswersFileName))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read answers: %w", err)
	}
	var answers map[string]models.AnswerRecord
	if err := json.Unmarshal(answersData, &answers); err != nil {
		return nil, nil, fmt.Errorf("failed to parse answers: %w", err)
	}

	errorsData, err := os.ReadFile(filepath.Join(m.RunDir(run), ErrorsFileName))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read errors: %w", err)
	}
	var runErrors map[string][]string
	if err := json.Unmarshal(errorsData, &runErrors); err != nil {
		return nil, nil, fmt.Errorf("failed to parse errors: %w", err)
	}
	return answers, runErrors, nil
}

// saveJSON writes v to path, indented for result artifacts and compact for
// small marker files.
func (m *Manager) saveJSON(path string, v any, indent bool) error {
	var (
		data []byte
		err  error
	)
	if indent {
		data, err = json.MarshalIndent(v, "", "  ")
	} else {
		data, err = json.Marshal(v)
	}
	if err != nil {
		slog.Error("Failed to marshal artifact", "error", err, "path", path)
		return fmt.Errorf("failed to marshal %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		slog.Error("Failed to write artifact", "error", err, "path", path)
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	slog.Debug("Artifact saved", "path", path, "bytes", len(data))
	return nil
}
