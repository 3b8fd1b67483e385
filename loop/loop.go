// Package loop drives the quality refinement cycle for a refinable
// artifact: generate a candidate, score it, and either accept, refine
// with reviewer feedback, or stop when the iteration budget runs out.
//
// The cycle is an explicit state machine whose phases are the nodes of
// a compiled flowgraph. Generating and Scoring alternate through a
// Refining step until the run settles in a terminal phase.
package loop

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/randalmurphal/flowgraph/pkg/flowgraph"

	"github.com/randalmurphal/autoflow/session"
)

// Phase names one state of the refinement machine.
type Phase string

const (
	// PhaseGenerating produces a candidate artifact.
	PhaseGenerating Phase = "generating"
	// PhaseScoring evaluates the current candidate.
	PhaseScoring Phase = "scoring"
	// PhaseRefining merges reviewer feedback before the next attempt.
	PhaseRefining Phase = "refining"
	// PhaseAccepted is terminal: a candidate cleared the threshold.
	PhaseAccepted Phase = "accepted"
	// PhaseExhausted is terminal: the budget ran out and the best
	// scored candidate was returned unaccepted.
	PhaseExhausted Phase = "exhausted"
	// PhaseFailed is terminal: no iteration ever produced a score.
	PhaseFailed Phase = "failed"
)

// Generator produces candidate artifact content from the session
// context.
type Generator interface {
	Generate(ctx context.Context, req GenRequest) (GenResult, error)
}

// GenRequest carries what a generator needs for one attempt.
type GenRequest struct {
	// Context is the session snapshot, feedback entries included.
	Context []session.Entry
	// Iteration is 1-based.
	Iteration int
	// Feedback holds the most recent reviewer feedback, empty on the
	// first attempt.
	Feedback string
}

// GenResult is one generated candidate.
type GenResult struct {
	Content   string
	TokensIn  int
	TokensOut int
}

// Scorer evaluates candidate content on the fixed 0-5 scale.
type Scorer interface {
	Score(ctx context.Context, content string) (Score, error)
}

// Score is a scorer verdict.
type Score struct {
	// Value sits on the 0-5 scale.
	Value float64
	// Feedback guides the next refinement. May be empty.
	Feedback  string
	TokensIn  int
	TokensOut int
}

// Iteration records one loop attempt for the trace.
type Iteration struct {
	Number   int           `json:"number"`
	Content  string        `json:"content,omitempty"`
	Scored   bool          `json:"scored"`
	Score    float64       `json:"score,omitempty"`
	Feedback string        `json:"feedback,omitempty"`
	Err      string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Result is the loop's terminal outcome.
type Result struct {
	// Content is the accepted candidate, or the best scored one when
	// the budget ran out.
	Content string
	// Score is the score of Content.
	Score float64
	// Iterations counts generation attempts actually made.
	Iterations int
	// BestIteration is the 1-based attempt that produced Content.
	BestIteration int
	// Accepted is true only when a candidate cleared the threshold.
	Accepted bool
	// Phase is the terminal phase, PhaseAccepted or PhaseExhausted.
	Phase Phase
	// Trace lists every attempt in order.
	Trace     []Iteration
	TokensIn  int
	TokensOut int
}

// ErrNoScoredIteration indicates every attempt failed before scoring,
// so the loop has no candidate to return.
var ErrNoScoredIteration = errors.New("no iteration produced a score")

// Config bounds the loop.
type Config struct {
	// Threshold is the accepting score on the 0-5 scale.
	Threshold float64
	// Ceiling caps generation attempts. Values below 1 become 1.
	Ceiling int
	// Logger defaults to slog.Default().
	Logger *slog.Logger
	// OnIteration, when set, observes each settled attempt.
	OnIteration func(Iteration)
}

// Controller runs refinement loops. One controller is safe to reuse
// across runs; per-run state lives in the graph state, never on the
// controller.
type Controller struct {
	gen    Generator
	scorer Scorer
	cfg    Config
	logger *slog.Logger
	run    func(flowgraph.Context, loopState) (loopState, error)
}

// loopState flows through the compiled graph. It carries the machine's
// current phase plus the bookkeeping the routers decide on.
type loopState struct {
	sess *session.Session

	phase     Phase
	iteration int

	content  string
	genOK    bool
	scoreOK  bool
	score    float64
	feedback string
	accepted bool
	lastErr  error

	anyScored     bool
	bestContent   string
	bestScore     float64
	bestIteration int

	finalContent string
	finalScore   float64

	trace     []Iteration
	tokensIn  int
	tokensOut int
}

// New compiles the refinement graph around the two collaborators.
func New(gen Generator, scorer Scorer, cfg Config) (*Controller, error) {
	if gen == nil {
		return nil, fmt.Errorf("loop: generator is required")
	}
	if scorer == nil {
		return nil, fmt.Errorf("loop: scorer is required")
	}
	if cfg.Ceiling < 1 {
		cfg.Ceiling = 1
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	c := &Controller{gen: gen, scorer: scorer, cfg: cfg, logger: logger}

	graph := flowgraph.NewGraph[loopState]().
		AddNode("generate", c.generateNode).
		AddNode("score", c.scoreNode).
		AddNode("refine", c.refineNode).
		AddNode("settle", c.settleNode).
		AddConditionalEdge("generate", c.afterGenerate).
		AddConditionalEdge("score", c.afterScore).
		AddEdge("refine", "generate").
		AddEdge("settle", flowgraph.END).
		SetEntry("generate")

	compiled, err := graph.Compile()
	if err != nil {
		return nil, fmt.Errorf("loop: compile graph: %w", err)
	}
	c.run = compiled.Run
	return c, nil
}

// Refine drives generate/score/refine until a terminal phase and
// returns the settled result. A nil error with Accepted=false means
// the budget ran out and Content is the best candidate seen. An
// ErrNoScoredIteration error means not one attempt survived to
// scoring.
func (c *Controller) Refine(ctx context.Context, sess *session.Session) (*Result, error) {
	fctx := flowgraph.NewContext(ctx)
	out, err := c.run(fctx, loopState{sess: sess})
	if err != nil {
		return nil, fmt.Errorf("refinement loop: %w", err)
	}

	if out.phase == PhaseFailed {
		if out.lastErr != nil {
			return nil, fmt.Errorf("%w after %d attempts: %v", ErrNoScoredIteration, out.iteration, out.lastErr)
		}
		return nil, fmt.Errorf("%w after %d attempts", ErrNoScoredIteration, out.iteration)
	}

	return &Result{
		Content:       out.finalContent,
		Score:         out.finalScore,
		Iterations:    out.iteration,
		BestIteration: out.bestIteration,
		Accepted:      out.accepted,
		Phase:         out.phase,
		Trace:         out.trace,
		TokensIn:      out.tokensIn,
		TokensOut:     out.tokensOut,
	}, nil
}

// Ceiling returns the effective attempt cap.
func (c *Controller) Ceiling() int { return c.cfg.Ceiling }

// Threshold returns the accepting score.
func (c *Controller) Threshold() float64 { return c.cfg.Threshold }
