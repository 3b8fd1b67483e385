package autoflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/randalmurphal/autoflow/artifact"
	"github.com/randalmurphal/autoflow/journal"
	"github.com/randalmurphal/autoflow/loop"
	"github.com/randalmurphal/autoflow/memory"
	"github.com/randalmurphal/autoflow/notify"
	"github.com/randalmurphal/autoflow/session"
	"github.com/randalmurphal/autoflow/workflow"
)

// =============================================================================
// Run Results
// =============================================================================

// Outcome classifies a finished run.
type Outcome string

// Run outcomes.
const (
	// OutcomeComplete means every stage produced its artifact.
	OutcomeComplete Outcome = "complete"
	// OutcomeDegraded means at least one degradable stage failed but
	// the run carried on without it.
	OutcomeDegraded Outcome = "degraded"
	// OutcomeFailed means a fatal stage failure or cancellation ended
	// the run early.
	OutcomeFailed Outcome = "failed"
)

// StageState is the terminal state of one stage within a run.
type StageState string

// Stage states. Every planned stage ends in exactly one of these.
const (
	// StageComplete means the stage produced its artifact.
	StageComplete StageState = "complete"
	// StageFailed means the stage exhausted its attempts and failed.
	StageFailed StageState = "failed"
	// StageSkipped means the stage was never dispatched because a
	// fatal failure or cancellation ended the run first.
	StageSkipped StageState = "skipped"
	// StageDegraded means an upstream degradable stage failed, so this
	// dependent was never invoked.
	StageDegraded StageState = "degraded"
	// StageCancelled means run cancellation interrupted the stage
	// while it was in flight.
	StageCancelled StageState = "cancelled"
)

// StageReport describes how one stage ended.
type StageReport struct {
	ID       string        `json:"id"`
	Kind     string        `json:"kind"`
	State    StageState    `json:"state"`
	Attempts int           `json:"attempts"`
	Duration time.Duration `json:"duration"`
	Err      string        `json:"error,omitempty"`
}

// LoopSummary condenses the quality loop outcome of a refined stage.
type LoopSummary struct {
	Stage         string     `json:"stage"`
	Score         float64    `json:"score"`
	Iterations    int        `json:"iterations"`
	BestIteration int        `json:"best_iteration"`
	Accepted      bool       `json:"accepted"`
	Phase         loop.Phase `json:"phase"`
}

// RunResult is the full record of one engine run.
type RunResult struct {
	RunID     string                      `json:"run_id"`
	SessionID string                      `json:"session_id"`
	Outcome   Outcome                     `json:"outcome"`
	Artifacts map[string]session.Artifact `json:"artifacts,omitempty"`
	Stages    []StageReport               `json:"stages"`
	Refined   *LoopSummary                `json:"refined,omitempty"`
	Warnings  []string                    `json:"warnings,omitempty"`
	TokensIn  int                         `json:"tokens_in"`
	TokensOut int                         `json:"tokens_out"`
	StartedAt time.Time                   `json:"started_at"`
	Elapsed   time.Duration               `json:"elapsed"`
}

// Stage returns the report for one stage ID, or nil if the plan never
// contained it.
func (r *RunResult) Stage(id string) *StageReport {
	for i := range r.Stages {
		if r.Stages[i].ID == id {
			return &r.Stages[i]
		}
	}
	return nil
}

// =============================================================================
// Engine
// =============================================================================

// Deps bundles the collaborators an Engine needs. Executors, and for
// refined stages Generators and Scorers, are keyed by stage kind.
// Bank, Artifacts, Journal, and Notifier are optional; a nil entry
// disables that concern.
type Deps struct {
	Executors  map[string]StageExecutor
	Generators map[string]loop.Generator
	Scorers    map[string]loop.Scorer
	Summarizer session.Summarizer
	Bank       *memory.Bank
	Artifacts  *artifact.Manager
	Journal    *journal.FileStore
	Notifier   notify.Notifier
	Logger     *slog.Logger
}

// Engine executes workflow requests: it plans the stage pipeline,
// dispatches stages level by level on a bounded worker pool, runs the
// quality loop for refined stages, and records the outcome in the
// journal and the memory bank.
type Engine struct {
	cfg        Config
	executors  map[string]StageExecutor
	generators map[string]loop.Generator
	scorers    map[string]loop.Scorer
	summarizer session.Summarizer
	bank       *memory.Bank
	artifacts  *artifact.Manager
	journal    *journal.FileStore
	notifier   notify.Notifier
	logger     *slog.Logger
}

// New builds an Engine from a validated Config and its collaborators.
// When a Journal store is supplied the engine records events into it
// alongside any configured Notifier.
func New(cfg Config, deps Deps) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	notifier := deps.Notifier
	if deps.Journal != nil {
		recorder := journal.NewRecorder(deps.Journal)
		if notifier != nil {
			notifier = notify.NewMultiNotifier(notifier, recorder)
		} else {
			notifier = recorder
		}
	}

	e := &Engine{
		cfg:        cfg,
		executors:  make(map[string]StageExecutor, len(deps.Executors)),
		generators: make(map[string]loop.Generator, len(deps.Generators)),
		scorers:    make(map[string]loop.Scorer, len(deps.Scorers)),
		summarizer: deps.Summarizer,
		bank:       deps.Bank,
		artifacts:  deps.Artifacts,
		journal:    deps.Journal,
		notifier:   notifier,
		logger:     logger,
	}
	for kind, ex := range deps.Executors {
		e.executors[kind] = ex
	}
	for kind, gen := range deps.Generators {
		e.generators[kind] = gen
	}
	for kind, sc := range deps.Scorers {
		e.scorers[kind] = sc
	}
	return e, nil
}

// Config returns the engine configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

// MemorySummary looks up the recorded summary for a session ID. It
// reports false when no bank is configured or the session is unknown.
func (e *Engine) MemorySummary(sessionID string) (memory.Summary, bool) {
	if e.bank == nil {
		return memory.Summary{}, false
	}
	return e.bank.Get(sessionID)
}

// Run executes one workflow request. A fresh session is created when
// sessionID is empty; passing the ID of an earlier run continues that
// session's context. Malformed requests and missing collaborators
// return a *ValidationError; everything that happens after dispatch
// begins is reported through the RunResult instead.
func (e *Engine) Run(ctx context.Context, req *workflow.Request, sessionID string) (*RunResult, error) {
	if req == nil {
		return nil, &ValidationError{Field: "request", Err: ErrNilRequest}
	}
	if err := req.Validate(); err != nil {
		return nil, &ValidationError{Field: "request", Err: err}
	}

	plan, err := workflow.BuildPlan(req)
	if err != nil {
		return nil, &ValidationError{Field: "plan", Err: err}
	}

	runID, err := journal.NewRunID(req.Name)
	if err != nil {
		return nil, &ValidationError{Field: "run", Err: err}
	}

	if sessionID == "" {
		sessionID = session.NewID()
	}

	r := &runner{
		engine:      e,
		plan:        plan,
		req:         req,
		runID:       runID,
		sess:        session.New(sessionID),
		reports:     make(map[string]*StageReport, plan.Len()),
		degraded:    make(map[string]string),
		controllers: make(map[string]*loop.Controller),
	}
	if err := r.prepare(); err != nil {
		return nil, err
	}

	if err := r.sess.AddContext(session.KindRequest, "request", req.Render()); err != nil {
		return nil, &ValidationError{Field: "session", Err: err}
	}
	r.recallMemory()

	started := time.Now()
	journalOpen := false
	if e.journal != nil {
		if err := e.journal.StartRun(runID, journal.RunMetadata{SessionID: sessionID, Request: req.Name}); err != nil {
			r.warn(fmt.Sprintf("start journal: %v", err))
		} else {
			journalOpen = true
		}
	}

	e.emit(ctx, notify.Event{
		Type:      notify.EventRunStarted,
		RunID:     runID,
		SessionID: sessionID,
		Message:   fmt.Sprintf("run started: %s (%d stages)", req.Name, plan.Len()),
		Severity:  notify.SeverityInfo,
		Metadata:  map[string]any{"request": req.Name, "stages": plan.Len()},
	})

	r.execute(ctx)
	r.sess.Finalize()

	result := r.buildResult(started)
	e.persistArtifacts(r, result)
	e.recordMemory(ctx, r, result, started)
	if journalOpen {
		e.closeJournal(r, result)
	}
	result.Warnings = r.warnings

	e.emit(ctx, runFinishedEvent(result))
	e.logger.Info("run finished",
		"run_id", runID,
		"session_id", sessionID,
		"outcome", string(result.Outcome),
		"elapsed", result.Elapsed,
		"tokens_in", result.TokensIn,
		"tokens_out", result.TokensOut)

	return result, nil
}

// prepare verifies that every planned stage has its collaborator and
// compiles a quality loop controller for each refined stage.
func (r *runner) prepare() error {
	e := r.engine
	for _, st := range r.plan.Stages() {
		if st.Refined {
			gen, ok := e.generators[st.Kind]
			if !ok || gen == nil {
				return &ValidationError{Field: "stage " + st.ID, Err: fmt.Errorf("%w for kind %q", ErrNoGenerator, st.Kind)}
			}
			scorer, ok := e.scorers[st.Kind]
			if !ok || scorer == nil {
				return &ValidationError{Field: "stage " + st.ID, Err: fmt.Errorf("%w for kind %q", ErrNoScorer, st.Kind)}
			}
			ctrl, err := loop.New(gen, scorer, loop.Config{
				Threshold:   e.cfg.Threshold,
				Ceiling:     e.cfg.Ceiling,
				Logger:      e.logger,
				OnIteration: r.iterationHook(st.ID),
			})
			if err != nil {
				return &ValidationError{Field: "stage " + st.ID, Err: err}
			}
			r.controllers[st.ID] = ctrl
			continue
		}
		if ex, ok := e.executors[st.Kind]; !ok || ex == nil {
			return &ValidationError{Field: "stage " + st.ID, Err: fmt.Errorf("%w for kind %q", ErrNoExecutor, st.Kind)}
		}
	}
	return nil
}

// recallMemory seeds the session with a note about the previous run
// of the same session, when the bank knows one.
func (r *runner) recallMemory() {
	e := r.engine
	if e.bank == nil {
		return
	}
	prior, ok := e.bank.Get(r.sess.ID())
	if !ok {
		return
	}
	note := fmt.Sprintf(
		"A previous run served this session: request %q finished %s with score %.1f after %d iteration(s).",
		prior.RequestName, prior.Outcome, prior.Score, prior.Iterations)
	if err := r.sess.AddContext(session.KindNote, "prior-run", note); err != nil {
		r.warn(fmt.Sprintf("recall note: %v", err))
	}
}

// persistArtifacts writes the final artifact set through the artifact
// manager, one file per kind, named for the artifact it holds.
func (e *Engine) persistArtifacts(r *runner, result *RunResult) {
	if e.artifacts == nil || len(result.Artifacts) == 0 {
		return
	}
	if err := e.artifacts.EnsureRunDir(r.runID); err != nil {
		r.warn(fmt.Sprintf("artifact dir: %v", err))
		return
	}
	for kind, art := range result.Artifacts {
		name := artifact.FileName(kind, r.req.CI)
		if err := e.artifacts.Save(r.runID, name, []byte(art.Content)); err != nil {
			r.warn(fmt.Sprintf("save artifact %s: %v", name, err))
		}
	}
	if report, ok := e.reviewReport(result); ok {
		if err := e.artifacts.Save(r.runID, artifact.FileReview, []byte(report)); err != nil {
			r.warn(fmt.Sprintf("save artifact %s: %v", artifact.FileReview, err))
		}
	}
}

// reviewReport asks the playbook scorer for its last review in
// serialized form, when the scorer can produce one.
func (e *Engine) reviewReport(result *RunResult) (string, bool) {
	art, ok := result.Artifacts[workflow.KindPlaybook]
	if !ok {
		return "", false
	}
	reporter, ok := e.scorers[workflow.KindPlaybook].(interface {
		ReportFor(content string) (string, bool)
	})
	if !ok {
		return "", false
	}
	return reporter.ReportFor(art.Content)
}

// recordMemory appends the run summary to the bank, once per session.
func (e *Engine) recordMemory(ctx context.Context, r *runner, result *RunResult, started time.Time) {
	if e.bank == nil {
		return
	}

	digests := make(map[string]string, len(result.Artifacts))
	for kind, art := range result.Artifacts {
		digests[kind] = memory.Digest(art.Content)
	}
	states := make(map[string]string, len(result.Stages))
	for _, sr := range result.Stages {
		states[sr.ID] = string(sr.State)
	}

	sum := memory.Summary{
		SessionID:       r.sess.ID(),
		RequestName:     r.req.Name,
		RequestDigest:   memory.Digest(r.req.Render()),
		Outcome:         string(result.Outcome),
		ArtifactDigests: digests,
		StageStates:     states,
		TokensIn:        result.TokensIn,
		TokensOut:       result.TokensOut,
		StartedAt:       started,
		FinishedAt:      time.Now(),
	}
	if result.Refined != nil {
		sum.Score = result.Refined.Score
		sum.Iterations = result.Refined.Iterations
		sum.Accepted = result.Refined.Accepted
	}

	if err := e.bank.Record(ctx, sum); err != nil {
		if errors.Is(err, memory.ErrAlreadyRecorded) {
			r.warn(fmt.Sprintf("memory: session %s already recorded", r.sess.ID()))
		} else {
			perr := &PersistenceError{SessionID: r.sess.ID(), Err: err}
			r.warn(perr.Error())
		}
		return
	}

	e.emit(ctx, notify.Event{
		Type:      notify.EventMemoryPersisted,
		RunID:     r.runID,
		SessionID: r.sess.ID(),
		Message:   fmt.Sprintf("memory summary recorded for session %s", r.sess.ID()),
		Severity:  notify.SeverityInfo,
		Metadata:  map[string]any{"outcome": string(result.Outcome)},
	})
}

// closeJournal stamps the run's terminal status into the journal.
func (e *Engine) closeJournal(r *runner, result *RunResult) {
	var err error
	switch {
	case r.fatalErr != nil:
		err = e.journal.EndRunWithError(r.runID, r.fatalErr)
	case result.Outcome == OutcomeFailed:
		err = e.journal.EndRunWithError(r.runID, errors.New("run cancelled"))
	case result.Outcome == OutcomeDegraded:
		err = e.journal.EndRun(r.runID, journal.StatusDegraded)
	default:
		err = e.journal.EndRun(r.runID, journal.StatusComplete)
	}
	if err != nil {
		r.warn(fmt.Sprintf("end journal: %v", err))
	}
}

// emit delivers one event. Delivery is fire-and-forget: sink errors
// are logged at debug level and never affect the run.
func (e *Engine) emit(ctx context.Context, ev notify.Event) {
	if e.notifier == nil {
		return
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	if err := e.notifier.Notify(ctx, ev); err != nil {
		e.logger.Debug("notify failed", "type", string(ev.Type), "error", err)
	}
}

func runFinishedEvent(result *RunResult) notify.Event {
	ev := notify.Event{
		RunID:     result.RunID,
		SessionID: result.SessionID,
		Severity:  notify.SeverityInfo,
		Metadata: map[string]any{
			"elapsed_ms": result.Elapsed.Milliseconds(),
			"tokens_in":  result.TokensIn,
			"tokens_out": result.TokensOut,
		},
	}
	switch result.Outcome {
	case OutcomeComplete:
		ev.Type = notify.EventRunCompleted
		ev.Message = "run completed"
	case OutcomeDegraded:
		ev.Type = notify.EventRunDegraded
		ev.Severity = notify.SeverityWarning
		ev.Message = "run degraded: " + failedStageList(result)
	default:
		ev.Type = notify.EventRunFailed
		ev.Severity = notify.SeverityError
		ev.Message = "run failed: " + failedStageList(result)
	}
	return ev
}

func failedStageList(result *RunResult) string {
	var failed []string
	for _, sr := range result.Stages {
		if sr.State == StageFailed || sr.State == StageCancelled {
			failed = append(failed, sr.ID)
		}
	}
	if len(failed) == 0 {
		return "no stage failures"
	}
	list := failed[0]
	for _, id := range failed[1:] {
		list += ", " + id
	}
	return "stage(s) " + list
}
