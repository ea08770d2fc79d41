// Package api provides HTTP handlers and the main API server logic for
// SmartAgentSurvey.
//
// It exposes endpoints for starting and stopping survey execution batches and
// for polling per-run progress and results. The API integrates the execution
// engine, the output manager, and the store modules.
package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/google/uuid"

	"github.com/wuzengqing001225/SmartAgentSurvey/internal/flow"
	"github.com/wuzengqing001225/SmartAgentSurvey/internal/genai"
	"github.com/wuzengqing001225/SmartAgentSurvey/internal/lockfile"
	"github.com/wuzengqing001225/SmartAgentSurvey/internal/models"
	"github.com/wuzengqing001225/SmartAgentSurvey/internal/output"
	"github.com/wuzengqing001225/SmartAgentSurvey/internal/store"
)

// Default server configuration.
const (
	// DefaultAddr is the address the API server listens on when none is configured.
	DefaultAddr = ":8080"
	// DefaultStateDir holds run artifacts and the instance lock.
	DefaultStateDir = "/var/lib/smartagentsurvey"
)

// Opts holds configured API options.
type Opts struct {
	Addr     string
	StateDir string
}

// Option configures the API server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithStateDir sets the state directory for artifacts and the instance lock.
func WithStateDir(dir string) Option {
	return func(o *Opts) { o.StateDir = dir }
}

// Server routes API requests to the execution engine and its persistence
// collaborators.
type Server struct {
	engine *flow.Engine
	out    *output.Manager
	st     store.Store

	mu         sync.Mutex
	running    bool
	batchID    string
	executions int
}

// NewServer assembles a Server from its collaborators.
func NewServer(engine *flow.Engine, out *output.Manager, st store.Store) *Server {
	return &Server{engine: engine, out: out, st: st}
}

// Handler returns the API route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/execution/start", s.startHandler)
	mux.HandleFunc("/api/execution/stop", s.stopHandler)
	mux.HandleFunc("/api/execution/progress/", s.progressHandler)
	mux.HandleFunc("/api/execution/results/", s.resultsHandler)
	mux.HandleFunc("/api/execution/runs", s.runsHandler)
	return mux
}

// Run assembles the full service and blocks serving the API: it locks the
// state directory, opens the configured store, builds the GenAI-backed
// execution engine, and listens on the configured address.
func Run(storeOpts []store.Option, genaiOpts []genai.Option, engineOpts []flow.Option, apiOpts []Option) error {
	cfg := Opts{Addr: DefaultAddr, StateDir: DefaultStateDir}
	for _, opt := range apiOpts {
		opt(&cfg)
	}

	lock, err := lockfile.AcquireLock(cfg.StateDir)
	if err != nil {
		return err
	}
	defer lock.Release()

	out, err := output.NewManager(cfg.StateDir)
	if err != nil {
		return err
	}

	st, err := openStore(storeOpts)
	if err != nil {
		return err
	}
	defer st.Close()

	gen, err := genai.NewClient(genaiOpts...)
	if err != nil {
		return err
	}

	engine := flow.NewEngine(gen, engineOpts...)
	srv := NewServer(engine, out, st)

	slog.Info("SmartAgentSurvey API running", "addr", cfg.Addr, "state_dir", cfg.StateDir)
	return http.ListenAndServe(cfg.Addr, srv.Handler())
}

// openStore picks a backend from the configured DSN: PostgreSQL for URL or
// key=value DSNs, SQLite for file paths, in-memory when no DSN is set.
func openStore(opts []store.Option) (store.Store, error) {
	var cfg store.Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.DSN == "" {
		slog.Debug("No store DSN configured, using in-memory store")
		return store.NewInMemoryStore(), nil
	}
	switch store.DetectDSNType(cfg.DSN) {
	case "postgres":
		return store.NewPostgresStore(opts...)
	default:
		return store.NewSQLiteStore(opts...)
	}
}

// persistingSink fans engine callbacks out to the output manager and, for
// completed runs, to the store.
type persistingSink struct {
	out     *output.Manager
	st      store.Store
	batchID string
}

func (p persistingSink) BeginRun(run int) error {
	return p.out.BeginRun(run)
}

func (p persistingSink) Progress(run int, progress float64) error {
	return p.out.Progress(run, progress)
}

func (p persistingSink) SaveRun(run int, answers map[string]models.AnswerRecord, errors map[string][]string) error {
	if err := p.out.SaveRun(run, answers, errors); err != nil {
		return err
	}
	answersJSON, errorsJSON, err := marshalRun(answers, errors)
	if err != nil {
		return err
	}
	if err := p.st.SaveRun(store.RunRecord{
		BatchID:     p.batchID,
		RunIndex:    run,
		AnswersJSON: answersJSON,
		ErrorsJSON:  errorsJSON,
	}); err != nil {
		// Artifacts on disk are the primary record; keep going if the
		// database copy fails.
		slog.Error("Failed to persist run to store", "error", err, "batch_id", p.batchID, "run", run)
	}
	return nil
}

func (p persistingSink) MarkStopped(stopped bool) error {
	return p.out.MarkStopped(stopped)
}

// marshalRun serializes one run's answer and error maps for the store.
func marshalRun(answers map[string]models.AnswerRecord, errors map[string][]string) (string, string, error) {
	answersJSON, err := json.Marshal(answers)
	if err != nil {
		return "", "", fmt.Errorf("failed to marshal answers: %w", err)
	}
	errorsJSON, err := json.Marshal(errors)
	if err != nil {
		return "", "", fmt.Errorf("failed to marshal errors: %w", err)
	}
	return string(answersJSON), string(errorsJSON), nil
}

// newBatchID mints a unique identifier for one start request.
func newBatchID() string {
	return uuid.NewString()
}

var _ flow.BatchSink = persistingSink{}

// errAlreadyRunning reports a start request while a batch is in flight.
var errAlreadyRunning = fmt.Errorf("an execution batch is already running")
