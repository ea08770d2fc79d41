// Package flow: the execution engine driving respondents through the
// questionnaire.
package flow

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"github.com/wuzengqing001225/SmartAgentSurvey/internal/models"
)

// Prompt fragments sent with every generation call. The format instruction is
// a strict contract: the model must return a bare JSON object mapping
// question-id strings to answers.
const (
	ProfilePreamble = "You act as a survey participant with the following profile: "

	FormatInstruction = `CRITICAL: Your response must contain ONLY valid JSON format, nothing else. Do not include any explanations, reasoning, or additional text before or after the JSON. The output format should be in JSON, with each value structured as "question number": answer. Do not place ` + "```json" + ` at the beginning or end. If you are asked to reason before/after answering a question, please put your reason and answer to the question in nested keys, like this: "question number": { "reason": "XXX", "answer": "XXX" }. But if you are not asked to give a reason, just put the answer in the value of the question number key and do not give the reason. Start your response directly with { and end with }. No other text is allowed.`
)

// DefaultMaxTokens is the answer-length budget used when none is configured.
const DefaultMaxTokens = 256

// Generator produces model text for one prompt. Implemented by genai.Client;
// any best-effort JSON extraction (markdown-fence stripping) happens behind
// this interface, before the engine parses the text.
type Generator interface {
	Generate(ctx context.Context, prompt, systemPrompt string) (string, error)
}

// ProfileProvider formats a respondent's profile description. The engine
// treats the description as an opaque string.
type ProfileProvider interface {
	Describe(r models.Respondent) string
}

// BatchSink receives progress updates and persists per-run artifacts.
type BatchSink interface {
	// BeginRun prepares the output partition for one run.
	BeginRun(run int) error
	// Progress reports a 0-100 value for the given run.
	Progress(run int, progress float64) error
	// SaveRun persists a completed run's answers and errors.
	SaveRun(run int, answers map[string]models.AnswerRecord, errors map[string][]string) error
	// MarkStopped records whether the batch was cancelled.
	MarkStopped(stopped bool) error
}

// NopSink discards all progress updates and artifacts.
type NopSink struct{}

func (NopSink) BeginRun(int) error          { return nil }
func (NopSink) Progress(int, float64) error { return nil }
func (NopSink) SaveRun(int, map[string]models.AnswerRecord, map[string][]string) error {
	return nil
}
func (NopSink) MarkStopped(bool) error { return nil }

// Batch describes one full execution request: the questionnaire and its
// routing segments, the respondent set, and how many repeated runs to
// perform. Segments are shared read-only routing data across respondents.
type Batch struct {
	Questionnaire  models.Questionnaire
	Segments       []models.Segment
	ExecutionOrder string
	Respondents    []models.Respondent
	Executions     int
	Segmented      bool
	Profiles       ProfileProvider
}

// Opts holds configured engine options.
type Opts struct {
	MaxTokens int
	Workers   int
	Stop      *StopFlag
}

// Option configures the Engine.
type Option func(*Opts)

// WithMaxTokens sets the answer-length budget passed to prompt formatting.
func WithMaxTokens(n int) Option {
	return func(o *Opts) { o.MaxTokens = n }
}

// WithWorkers sets the number of concurrent respondent workers. Values below
// 2 keep the sequential loop.
func WithWorkers(n int) Option {
	return func(o *Opts) { o.Workers = n }
}

// WithStopFlag shares an externally owned cancellation flag.
func WithStopFlag(f *StopFlag) Option {
	return func(o *Opts) { o.Stop = f }
}

// Engine walks every respondent through the segmented questionnaire,
// delegating answer generation and folding results into per-run maps.
// Respondents are fully isolated from one another; the only shared mutable
// state is the stop flag and the progress sink.
type Engine struct {
	generator Generator
	maxTokens int
	workers   int
	stop      *StopFlag
}

// NewEngine creates an execution engine around a Generator.
func NewEngine(gen Generator, opts ...Option) *Engine {
	cfg := Opts{MaxTokens: DefaultMaxTokens, Workers: 1}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Stop == nil {
		cfg.Stop = &StopFlag{}
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	return &Engine{generator: gen, maxTokens: cfg.MaxTokens, workers: cfg.Workers, stop: cfg.Stop}
}

// Stop exposes the engine's cancellation flag.
func (e *Engine) Stop() *StopFlag {
	return e.stop
}

// RunBatch performs the configured number of execution runs and returns the
// answers and errors of each, keyed by respondent-id string. The stop flag is
// reset at batch start; observing it mid-batch ends the batch after the
// current suspension point with whatever has been merged so far, and the
// sink records a stopped marker. Only configuration problems abort before
// running; per-respondent failures never do.
func (e *Engine) RunBatch(ctx context.Context, batch Batch, sink BatchSink) ([]map[string]models.AnswerRecord, []map[string][]string, error) {
	if sink == nil {
		sink = NopSink{}
	}
	if batch.Questionnaire.Size() == 0 {
		return nil, nil, models.ErrEmptyQuestionnaire
	}
	if len(batch.Respondents) == 0 {
		return nil, nil, models.ErrNoRespondents
	}
	if batch.Segmented && len(batch.Segments) == 0 {
		return nil, nil, models.ErrNoSegments
	}

	e.stop.Reset()
	if err := sink.MarkStopped(false); err != nil {
		return nil, nil, fmt.Errorf("failed to reset stop marker: %w", err)
	}

	executions := batch.Executions
	if executions < 1 {
		executions = 1
	}

	slog.Info("Starting execution batch", "executions", executions, "respondents", len(batch.Respondents), "segments", len(batch.Segments), "segmented", batch.Segmented, "workers", e.workers)

	answersByRun := make([]map[string]models.AnswerRecord, 0, executions)
	errorsByRun := make([]map[string][]string, 0, executions)

	for run := 1; run <= executions; run++ {
		if err := sink.BeginRun(run); err != nil {
			return answersByRun, errorsByRun, fmt.Errorf("failed to begin run %d: %w", run, err)
		}
		answers, errs, stopped := e.runExecution(ctx, batch, run, sink)
		answersByRun = append(answersByRun, answers)
		errorsByRun = append(errorsByRun, errs)

		if stopped {
			slog.Info("Execution batch stopped", "run", run, "respondents_completed", len(answers))
			if err := sink.MarkStopped(true); err != nil {
				slog.Error("Failed to persist stop marker", "error", err)
			}
			return answersByRun, errorsByRun, nil
		}

		if err := sink.SaveRun(run, answers, errs); err != nil {
			return answersByRun, errorsByRun, fmt.Errorf("failed to save run %d: %w", run, err)
		}
		slog.Info("Execution run completed", "run", run, "respondents", len(answers))
	}

	return answersByRun, errorsByRun, nil
}

// runExecution is one full pass over all respondents.
func (e *Engine) runExecution(ctx context.Context, batch Batch, run int, sink BatchSink) (map[string]models.AnswerRecord, map[string][]string, bool) {
	byAnchor := segmentsByAnchor(batch.Segments)
	if batch.Segmented && e.workers > 1 {
		return e.runExecutionParallel(ctx, batch, run, sink, byAnchor)
	}

	answers := make(map[string]models.AnswerRecord)
	errsMap := make(map[string][]string)
	total := len(batch.Respondents)

	for i, resp := range batch.Respondents {
		if err := sink.Progress(run, float64(i)*100/float64(total)); err != nil {
			slog.Warn("Progress update failed", "run", run, "error", err)
		}
		if e.stopRequested(ctx) {
			return answers, errsMap, true
		}

		id := strconv.Itoa(resp.ID)
		if batch.Segmented {
			record, respErrs, stopped := e.runRespondent(ctx, batch, byAnchor, resp)
			errsMap[id] = respErrs
			if stopped {
				return answers, errsMap, true
			}
			answers = MergeRun(answers, id, record)
		} else {
			record, respErrs := e.answerFull(ctx, batch, resp)
			errsMap[id] = respErrs
			answers = MergeRun(answers, id, record)
		}
	}

	if err := sink.Progress(run, 100); err != nil {
		slog.Warn("Final progress update failed", "run", run, "error", err)
	}
	return answers, errsMap, false
}

// runRespondent walks one respondent's state machine:
// START -> SELECT_SEGMENT -> AWAIT_RESPONSE -> MERGE -> (SELECT_SEGMENT | DONE).
// The returned bool reports whether cancellation was observed mid-traversal;
// in that case the partial record is discarded by the caller while the error
// list is kept.
func (e *Engine) runRespondent(ctx context.Context, batch Batch, byAnchor map[int][]models.Segment, resp models.Respondent) (models.AnswerRecord, []string, bool) {
	surveySize := batch.Questionnaire.Size()
	answers := models.AnswerRecord{}
	respErrs := make([]string, 0)

	var (
		current  int
		prevLast int
		match    Match
		parsed   models.AnswerRecord
	)

	state := stateStart
	for {
		switch state {
		case stateStart:
			current = 1
			state = stateSelectSegment

		case stateSelectSegment:
			if current > surveySize {
				state = stateDone
				continue
			}
			if e.stopRequested(ctx) {
				return answers, respErrs, true
			}
			candidates := byAnchor[current]
			if len(candidates) == 0 {
				// The terminal segment ends at its own last id, so
				// reaching it again with no further segment is normal
				// completion. Anything else is a routing hole.
				if current != prevLast {
					slog.Error("No segment anchored at current question", "respondent", resp.ID, "question", current)
					respErrs = append(respErrs, fmt.Sprintf("No segment anchored at question %d", current))
				}
				state = stateDone
				continue
			}
			match = Resolve(candidates, answers[strconv.Itoa(current)])
			if len(candidates) > 1 {
				switch match.Tier {
				case models.MatchPartial:
					respErrs = append(respErrs, fmt.Sprintf("Jump condition imperfect match at question %d", current))
				case models.MatchNone:
					slog.Error("Jump condition not match", "respondent", resp.ID, "question", current)
					respErrs = append(respErrs, fmt.Sprintf("Jump condition not match at question %d", current))
				}
			}
			state = stateAwaitResponse

		case stateAwaitResponse:
			questions := FormatQuestionRange(batch.Questionnaire, match.Segment.Questions, e.maxTokens)
			raw, err := e.generator.Generate(ctx, batch.ExecutionOrder+"\n"+questions, e.systemPrompt(batch, resp))
			parsed = models.AnswerRecord{}
			if err != nil {
				slog.Error("Generation call failed", "respondent", resp.ID, "question", current, "error", err)
				respErrs = append(respErrs, fmt.Sprintf("Generation error at segment starting with question %d: %v", current, err))
			} else if uerr := json.Unmarshal([]byte(raw), &parsed); uerr != nil {
				slog.Error("Invalid JSON in model response", "respondent", resp.ID, "question", current, "error", uerr, "raw", raw)
				respErrs = append(respErrs, fmt.Sprintf("JSON parsing error at segment starting with question %d: %v", current, uerr))
				parsed = models.AnswerRecord{}
			}
			state = stateMerge

		case stateMerge:
			answers = Merge(answers, parsed)
			last := match.Segment.Last()
			if last == current {
				// A segment ending at its own anchor is terminal unless
				// this was the first pass over a branch point at question
				// 1, where the answer just merged can re-resolve the jump.
				// With a lone candidate, or no movement since the previous
				// pass, re-selecting can never advance.
				if last != 1 || len(byAnchor[current]) == 1 || last == prevLast {
					state = stateDone
					continue
				}
			}
			prevLast = last
			current = last
			state = stateSelectSegment

		case stateDone:
			return answers, respErrs, false
		}
	}
}

// answerFull is the degenerate non-segmented mode: one call covering the
// entire questionnaire, no branch resolution, one merge.
func (e *Engine) answerFull(ctx context.Context, batch Batch, resp models.Respondent) (models.AnswerRecord, []string) {
	respErrs := make([]string, 0)
	questions, _ := FormatFullQuestionnaire(batch.Questionnaire, e.maxTokens)

	raw, err := e.generator.Generate(ctx, batch.ExecutionOrder+"\n"+questions, e.systemPrompt(batch, resp))
	parsed := models.AnswerRecord{}
	if err != nil {
		slog.Error("Generation call failed", "respondent", resp.ID, "error", err)
		respErrs = append(respErrs, fmt.Sprintf("Generation error: %v", err))
	} else if uerr := json.Unmarshal([]byte(raw), &parsed); uerr != nil {
		slog.Error("Invalid JSON in model response", "respondent", resp.ID, "error", uerr, "raw", raw)
		respErrs = append(respErrs, fmt.Sprintf("JSON parsing error: %v", uerr))
		parsed = models.AnswerRecord{}
	}
	return parsed, respErrs
}

// respondentResult carries one worker's outcome back to the aggregator.
type respondentResult struct {
	id      string
	answers models.AnswerRecord
	errors  []string
	stopped bool
	skipped bool
}

// runExecutionParallel fans respondents out over a bounded worker pool.
// Per-respondent state stays fully isolated; results are folded in
// respondent order afterwards so output is deterministic, and progress
// reports completed counts under a mutex so updates stay monotonic.
func (e *Engine) runExecutionParallel(ctx context.Context, batch Batch, run int, sink BatchSink, byAnchor map[int][]models.Segment) (map[string]models.AnswerRecord, map[string][]string, bool) {
	total := len(batch.Respondents)
	results := make([]respondentResult, total)
	jobs := make(chan int)

	var wg sync.WaitGroup
	var progressMu sync.Mutex
	completed := 0

	for w := 0; w < e.workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				resp := batch.Respondents[i]
				if e.stopRequested(ctx) {
					results[i] = respondentResult{skipped: true}
					continue
				}
				record, respErrs, stopped := e.runRespondent(ctx, batch, byAnchor, resp)
				results[i] = respondentResult{
					id:      strconv.Itoa(resp.ID),
					answers: record,
					errors:  respErrs,
					stopped: stopped,
				}
				progressMu.Lock()
				completed++
				if err := sink.Progress(run, float64(completed)*100/float64(total)); err != nil {
					slog.Warn("Progress update failed", "run", run, "error", err)
				}
				progressMu.Unlock()
			}
		}()
	}

	for i := range batch.Respondents {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	answers := make(map[string]models.AnswerRecord)
	errsMap := make(map[string][]string)
	anyStopped := false
	for _, r := range results {
		if r.skipped {
			anyStopped = true
			continue
		}
		errsMap[r.id] = r.errors
		if r.stopped {
			anyStopped = true
			continue
		}
		answers = MergeRun(answers, r.id, r.answers)
	}
	return answers, errsMap, anyStopped
}

// systemPrompt combines the respondent profile with the strict JSON
// instruction.
func (e *Engine) systemPrompt(batch Batch, resp models.Respondent) string {
	profile := resp.Profile
	if batch.Profiles != nil {
		profile = batch.Profiles.Describe(resp)
	}
	return ProfilePreamble + profile + "\n" + FormatInstruction
}

// stopRequested checks the stop flag and context at a suspension point.
func (e *Engine) stopRequested(ctx context.Context) bool {
	if e.stop.Stopped() {
		return true
	}
	if ctx != nil && ctx.Err() != nil {
		slog.Debug("Context cancelled, treating as stop request", "error", ctx.Err())
		return true
	}
	return false
}

// segmentsByAnchor indexes the segment list by anchor id, preserving segment
// order within each anchor so the first candidate stays the default.
func segmentsByAnchor(segments []models.Segment) map[int][]models.Segment {
	byAnchor := make(map[int][]models.Segment, len(segments))
	for _, s := range segments {
		byAnchor[s.Anchor] = append(byAnchor[s.Anchor], s)
	}
	return byAnchor
}
