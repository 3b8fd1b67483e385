package autoflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/randalmurphal/autoflow/loop"
	"github.com/randalmurphal/autoflow/notify"
	"github.com/randalmurphal/autoflow/pipeline"
	"github.com/randalmurphal/autoflow/session"
	"github.com/randalmurphal/autoflow/workflow"
)

// =============================================================================
// Runner
// =============================================================================

// runner holds the mutable state of one engine run. The level loop
// runs on a single goroutine; stage goroutines touch shared state only
// through the mutex-guarded helpers below.
type runner struct {
	engine      *Engine
	plan        *pipeline.Pipeline
	req         *workflow.Request
	runID       string
	sess        *session.Session
	controllers map[string]*loop.Controller

	mu        sync.Mutex
	cancelFn  context.CancelFunc
	fatalErr  error
	warnings  []string
	tokensIn  int
	tokensOut int
	refined   *LoopSummary

	// Settled on the level loop goroutine only.
	reports   map[string]*StageReport
	degraded  map[string]string
	cancelled bool
}

// stageOutcome carries one stage's dispatch result back to the level
// loop. Attempts stays zero when cancellation preempted dispatch.
type stageOutcome struct {
	stage    pipeline.Stage
	attempts int
	duration time.Duration
	err      error
	loopRes  *loop.Result
}

func (r *runner) warn(msg string) {
	r.mu.Lock()
	r.warnings = append(r.warnings, msg)
	r.mu.Unlock()
}

func (r *runner) addTokens(in, out int) {
	r.mu.Lock()
	r.tokensIn += in
	r.tokensOut += out
	r.mu.Unlock()
}

func (r *runner) fatal() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.fatalErr
}

// abort records the first fatal error and cancels every in-flight
// stage of the run.
func (r *runner) abort(err error) {
	r.mu.Lock()
	if r.fatalErr == nil {
		r.fatalErr = err
	}
	cancel := r.cancelFn
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (r *runner) setRefined(stageID string, res *loop.Result) {
	r.mu.Lock()
	r.refined = &LoopSummary{
		Stage:         stageID,
		Score:         res.Score,
		Iterations:    res.Iterations,
		BestIteration: res.BestIteration,
		Accepted:      res.Accepted,
		Phase:         res.Phase,
	}
	r.mu.Unlock()
}

// iterationHook surfaces each quality loop attempt as an event.
func (r *runner) iterationHook(stageID string) func(loop.Iteration) {
	return func(it loop.Iteration) {
		msg := fmt.Sprintf("iteration %d", it.Number)
		meta := map[string]any{"iteration": it.Number, "scored": it.Scored}
		if it.Scored {
			msg = fmt.Sprintf("iteration %d scored %.1f", it.Number, it.Score)
			meta["score"] = it.Score
		}
		if it.Err != "" {
			meta["error"] = it.Err
		}
		r.engine.emit(context.Background(), notify.Event{
			Type:      notify.EventLoopIteration,
			RunID:     r.runID,
			SessionID: r.sess.ID(),
			Stage:     stageID,
			Message:   msg,
			Severity:  notify.SeverityInfo,
			Metadata:  meta,
		})
	}
}

// =============================================================================
// Level Dispatch
// =============================================================================

// execute walks the plan level by level. Each level is joined before
// the next starts; a fatal failure or caller cancellation stops
// further dispatch.
func (r *runner) execute(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	r.mu.Lock()
	r.cancelFn = cancel
	r.mu.Unlock()

	for _, level := range r.plan.Levels() {
		if ctx.Err() != nil {
			r.cancelled = true
			break
		}
		if r.fatal() != nil {
			break
		}

		r.compactIfNeeded(runCtx)

		runnable := r.settlePremarked(ctx, level)
		if len(runnable) == 0 {
			continue
		}

		r.runLevel(ctx, runCtx, runnable)

		if ctx.Err() != nil {
			r.cancelled = true
			break
		}
	}

	r.finalizeStates()
}

// compactIfNeeded compacts the session once its entry count exceeds
// the context ceiling. A lossy or failed compaction is a warning, not
// a run failure.
func (r *runner) compactIfNeeded(ctx context.Context) {
	e := r.engine
	if e.cfg.ContextCeiling <= 0 || r.sess.Len() <= e.cfg.ContextCeiling {
		return
	}

	report, err := r.sess.CompactWithDeadline(ctx, e.cfg.KeepRecent, e.summarizer)
	if err != nil {
		cerr := &CompactionError{SessionID: r.sess.ID(), Err: err}
		r.warn(cerr.Error())
	}
	if !report.Compacted {
		return
	}

	severity := notify.SeverityInfo
	if report.Lossy {
		severity = notify.SeverityWarning
	}
	e.emit(ctx, notify.Event{
		Type:      notify.EventContextCompacted,
		RunID:     r.runID,
		SessionID: r.sess.ID(),
		Message:   fmt.Sprintf("context compacted: %d discarded, %d kept", report.Discarded, report.Kept),
		Severity:  severity,
		Metadata:  map[string]any{"discarded": report.Discarded, "kept": report.Kept, "lossy": report.Lossy},
	})
	e.logger.Debug("context compacted",
		"run_id", r.runID,
		"discarded", report.Discarded,
		"kept", report.Kept,
		"lossy", report.Lossy)
}

// settlePremarked reports stages already degraded by an upstream
// failure and returns the level's runnable remainder.
func (r *runner) settlePremarked(ctx context.Context, level []string) []pipeline.Stage {
	runnable := make([]pipeline.Stage, 0, len(level))
	for _, id := range level {
		st, _ := r.plan.Stage(id)
		if upstream, ok := r.degraded[id]; ok {
			r.reports[id] = &StageReport{
				ID:    st.ID,
				Kind:  st.Kind,
				State: StageDegraded,
				Err:   fmt.Sprintf("upstream stage %s failed", upstream),
			}
			r.engine.emit(ctx, notify.Event{
				Type:      notify.EventStageSkipped,
				RunID:     r.runID,
				SessionID: r.sess.ID(),
				Stage:     st.ID,
				Message:   fmt.Sprintf("stage %s degraded: upstream stage %s failed", st.ID, upstream),
				Severity:  notify.SeverityWarning,
				Metadata:  map[string]any{"upstream": upstream},
			})
			continue
		}
		runnable = append(runnable, st)
	}
	return runnable
}

// runLevel dispatches one level. Parallel stages share a bounded
// worker batch; an exclusive stage flushes the batch and runs alone.
func (r *runner) runLevel(ctx, runCtx context.Context, stages []pipeline.Stage) {
	var batches [][]pipeline.Stage
	var current []pipeline.Stage
	for _, st := range stages {
		if st.Concurrency == pipeline.Exclusive {
			if len(current) > 0 {
				batches = append(batches, current)
				current = nil
			}
			batches = append(batches, []pipeline.Stage{st})
			continue
		}
		current = append(current, st)
	}
	if len(current) > 0 {
		batches = append(batches, current)
	}

	for _, batch := range batches {
		if r.fatal() != nil || runCtx.Err() != nil {
			break
		}
		r.runBatch(ctx, runCtx, batch)
	}
}

// runBatch runs one batch of stages concurrently, capped by the
// worker count, and settles results in declaration order after the
// join.
func (r *runner) runBatch(ctx, runCtx context.Context, batch []pipeline.Stage) {
	workers := r.engine.cfg.Workers
	if workers < 1 {
		workers = 1
	}
	sem := make(chan struct{}, workers)
	outs := make([]*stageOutcome, len(batch))

	var wg sync.WaitGroup
	for i, st := range batch {
		wg.Add(1)
		go func(i int, st pipeline.Stage) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			if runCtx.Err() != nil {
				outs[i] = &stageOutcome{stage: st, err: runCtx.Err()}
				return
			}
			outs[i] = r.runStage(runCtx, st)
		}(i, st)
	}
	wg.Wait()

	for _, out := range outs {
		r.settle(ctx, out)
	}
}

// runStage invokes one stage, retrying per its policy. A fatal
// terminal failure aborts the run before returning.
func (r *runner) runStage(runCtx context.Context, st pipeline.Stage) *stageOutcome {
	e := r.engine
	out := &stageOutcome{stage: st}
	start := time.Now()

	maxAttempts := 1
	if st.Policy == pipeline.Retried {
		maxAttempts = st.MaxAttempts
	}
	timeout := e.cfg.StageTimeout
	if st.Timeout > 0 {
		timeout = st.Timeout
	}

	e.emit(runCtx, notify.Event{
		Type:      notify.EventStageStarted,
		RunID:     r.runID,
		SessionID: r.sess.ID(),
		Stage:     st.ID,
		Message:   fmt.Sprintf("stage %s started", st.ID),
		Severity:  notify.SeverityInfo,
		Metadata:  map[string]any{"kind": st.Kind, "max_attempts": maxAttempts},
	})
	e.logger.Debug("stage dispatch",
		"run_id", r.runID,
		"stage", st.ID,
		"kind", st.Kind,
		"refined", st.Refined)

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		out.attempts = attempt
		stageCtx, cancel := context.WithTimeout(runCtx, timeout)
		err := r.attempt(stageCtx, st, out)
		cancel()
		if err == nil {
			out.duration = time.Since(start)
			return out
		}

		timedOut := errors.Is(err, context.DeadlineExceeded) && runCtx.Err() == nil
		lastErr = &StageError{Stage: st.ID, Attempt: attempt, Timeout: timedOut, Err: err}
		if runCtx.Err() != nil {
			break
		}
		if attempt < maxAttempts {
			e.logger.Warn("stage attempt failed",
				"run_id", r.runID,
				"stage", st.ID,
				"attempt", attempt,
				"error", err)
		}
	}
	out.err = lastErr
	out.duration = time.Since(start)

	terminal := st.Policy
	if st.Policy == pipeline.Retried {
		terminal = st.Fallback
	}
	if terminal == pipeline.Fatal && runCtx.Err() == nil {
		r.abort(lastErr)
	}
	return out
}

// attempt performs one invocation: the quality loop for refined
// stages, the kind's executor otherwise. Success places the artifact
// and appends it to the session context.
func (r *runner) attempt(ctx context.Context, st pipeline.Stage, out *stageOutcome) error {
	if st.Refined {
		ctrl := r.controllers[st.ID]
		res, err := ctrl.Refine(ctx, r.sess)
		if err != nil {
			if errors.Is(err, loop.ErrNoScoredIteration) {
				return &ScoringError{Stage: st.ID, Iterations: ctrl.Ceiling(), Err: err}
			}
			return err
		}
		r.addTokens(res.TokensIn, res.TokensOut)
		out.loopRes = res
		r.setRefined(st.ID, res)
		r.placeArtifact(st, session.Artifact{
			Kind:       st.Kind,
			StageID:    st.ID,
			Content:    res.Content,
			Score:      res.Score,
			Iterations: res.Iterations,
			Accepted:   res.Accepted,
		})
		return nil
	}

	res, err := r.engine.executors[st.Kind].Execute(ctx, ExecRequest{
		Stage:     st,
		Request:   r.req,
		Context:   r.sess.Snapshot(),
		Artifacts: r.sess.Artifacts(),
	})
	r.addTokens(res.TokensIn, res.TokensOut)
	if err != nil {
		return err
	}
	r.placeArtifact(st, session.Artifact{
		Kind:     st.Kind,
		StageID:  st.ID,
		Content:  res.Content,
		Accepted: true,
	})
	return nil
}

func (r *runner) placeArtifact(st pipeline.Stage, art session.Artifact) {
	if err := r.sess.PutArtifact(art); err != nil {
		r.warn(fmt.Sprintf("store artifact %s: %v", st.Kind, err))
		return
	}
	if err := r.sess.AddContext(session.KindArtifact, st.Kind, art.Content); err != nil {
		r.warn(fmt.Sprintf("record artifact %s: %v", st.Kind, err))
	}
}

// settle assigns one dispatched stage its terminal state. Runs on the
// level loop goroutine after the batch join.
func (r *runner) settle(ctx context.Context, out *stageOutcome) {
	st := out.stage
	rep := &StageReport{
		ID:       st.ID,
		Kind:     st.Kind,
		State:    StageComplete,
		Attempts: out.attempts,
		Duration: out.duration,
	}
	r.reports[st.ID] = rep

	parentCancelled := ctx.Err() != nil

	switch {
	case out.err == nil && !parentCancelled:
		meta := map[string]any{"attempts": out.attempts, "duration_ms": out.duration.Milliseconds()}
		if out.loopRes != nil {
			meta["score"] = out.loopRes.Score
			meta["iterations"] = out.loopRes.Iterations
			meta["accepted"] = out.loopRes.Accepted
		}
		r.engine.emit(ctx, notify.Event{
			Type:      notify.EventStageCompleted,
			RunID:     r.runID,
			SessionID: r.sess.ID(),
			Stage:     st.ID,
			Message:   fmt.Sprintf("stage %s completed", st.ID),
			Severity:  notify.SeverityInfo,
			Metadata:  meta,
		})

	case out.err == nil && parentCancelled:
		// Finished only after the run was cancelled, so the output is
		// a partial product. It stays out of the final artifact set.
		r.sess.RemoveArtifact(st.Kind)
		rep.State = StageCancelled
		rep.Err = "run cancelled"
		r.emitInterrupted(st, "stage %s cancelled")

	case out.attempts == 0:
		rep.State = StageSkipped
		rep.Err = r.interruptReason()
		r.emitInterrupted(st, "stage %s skipped")

	case parentCancelled || (r.fatal() != nil && errors.Is(out.err, context.Canceled)):
		rep.State = StageCancelled
		rep.Err = out.err.Error()
		r.emitInterrupted(st, "stage %s cancelled")

	default:
		rep.State = StageFailed
		rep.Err = out.err.Error()
		r.engine.emit(ctx, notify.Event{
			Type:      notify.EventStageFailed,
			RunID:     r.runID,
			SessionID: r.sess.ID(),
			Stage:     st.ID,
			Message:   fmt.Sprintf("stage %s failed: %v", st.ID, out.err),
			Severity:  notify.SeverityError,
			Metadata:  map[string]any{"attempts": out.attempts, "policy": string(st.Policy)},
		})
		r.engine.logger.Error("stage failed",
			"run_id", r.runID,
			"stage", st.ID,
			"attempts", out.attempts,
			"error", out.err)

		if r.fatal() == nil {
			for _, dep := range r.plan.Dependents(st.ID) {
				if _, ok := r.degraded[dep]; !ok {
					r.degraded[dep] = st.ID
				}
			}
		}
	}
}

func (r *runner) interruptReason() string {
	if r.fatal() != nil {
		return "skipped after fatal failure"
	}
	return "skipped after cancellation"
}

func (r *runner) emitInterrupted(st pipeline.Stage, format string) {
	r.engine.emit(context.Background(), notify.Event{
		Type:      notify.EventStageSkipped,
		RunID:     r.runID,
		SessionID: r.sess.ID(),
		Stage:     st.ID,
		Message:   fmt.Sprintf(format, st.ID),
		Severity:  notify.SeverityWarning,
	})
}

// finalizeStates reports every stage the level loop never reached.
func (r *runner) finalizeStates() {
	for _, st := range r.plan.Stages() {
		if _, ok := r.reports[st.ID]; ok {
			continue
		}
		rep := &StageReport{ID: st.ID, Kind: st.Kind}
		if upstream, ok := r.degraded[st.ID]; ok {
			rep.State = StageDegraded
			rep.Err = fmt.Sprintf("upstream stage %s failed", upstream)
		} else {
			rep.State = StageSkipped
			rep.Err = r.interruptReason()
		}
		r.reports[st.ID] = rep
		r.emitInterrupted(st, "stage %s skipped")
	}
}

// buildResult assembles the run report in plan declaration order.
func (r *runner) buildResult(started time.Time) *RunResult {
	result := &RunResult{
		RunID:     r.runID,
		SessionID: r.sess.ID(),
		Artifacts: r.sess.Artifacts(),
		Refined:   r.refined,
		TokensIn:  r.tokensIn,
		TokensOut: r.tokensOut,
		StartedAt: started,
		Elapsed:   time.Since(started),
	}

	outcome := OutcomeComplete
	result.Stages = make([]StageReport, 0, r.plan.Len())
	for _, st := range r.plan.Stages() {
		rep := r.reports[st.ID]
		result.Stages = append(result.Stages, *rep)
		if rep.State == StageFailed || rep.State == StageDegraded {
			outcome = OutcomeDegraded
		}
	}
	if r.fatalErr != nil || r.cancelled {
		outcome = OutcomeFailed
	}
	result.Outcome = outcome
	return result
}
