package testutil

import (
	"context"
	"fmt"
	"sync"

	"github.com/randalmurphal/autoflow"
	"github.com/randalmurphal/autoflow/loop"
	"github.com/randalmurphal/autoflow/notify"
)

// StaticGenerator is a loop.Generator double that returns fixed
// content stamped with the iteration number.
type StaticGenerator struct {
	Content   string
	TokensIn  int
	TokensOut int

	mu    sync.Mutex
	calls int
}

func (g *StaticGenerator) Generate(_ context.Context, req loop.GenRequest) (loop.GenResult, error) {
	g.mu.Lock()
	g.calls++
	g.mu.Unlock()

	return loop.GenResult{
		Content:   fmt.Sprintf("%s# draft %d\n", g.Content, req.Iteration),
		TokensIn:  g.TokensIn,
		TokensOut: g.TokensOut,
	}, nil
}

// Calls reports how many times Generate ran.
func (g *StaticGenerator) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

// ScriptedScorer is a loop.Scorer double that replays a fixed score
// sequence. Once the script runs out it repeats the last score; with
// an empty script every call scores 5.0.
type ScriptedScorer struct {
	Scores   []float64
	Feedback string

	mu    sync.Mutex
	calls int
}

func (s *ScriptedScorer) Score(_ context.Context, _ string) (loop.Score, error) {
	s.mu.Lock()
	idx := s.calls
	s.calls++
	s.mu.Unlock()

	value := 5.0
	if len(s.Scores) > 0 {
		if idx >= len(s.Scores) {
			idx = len(s.Scores) - 1
		}
		value = s.Scores[idx]
	}

	return loop.Score{Value: value, Feedback: s.Feedback, TokensIn: 10, TokensOut: 5}, nil
}

// Calls reports how many times Score ran.
func (s *ScriptedScorer) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// EchoExecutor returns a stage executor that produces deterministic
// content naming the stage and request.
func EchoExecutor() autoflow.StageExecutor {
	return autoflow.ExecutorFunc(func(_ context.Context, req autoflow.ExecRequest) (autoflow.ExecResult, error) {
		return autoflow.ExecResult{
			Content:   fmt.Sprintf("# %s for %s\n", req.Stage.Kind, req.Request.Name),
			TokensIn:  20,
			TokensOut: 8,
		}, nil
	})
}

// FailingExecutor returns a stage executor that always fails with err.
func FailingExecutor(err error) autoflow.StageExecutor {
	return autoflow.ExecutorFunc(func(_ context.Context, _ autoflow.ExecRequest) (autoflow.ExecResult, error) {
		return autoflow.ExecResult{}, err
	})
}

// CaptureNotifier records every event it receives. Safe for
// concurrent use.
type CaptureNotifier struct {
	mu     sync.Mutex
	events []notify.Event
}

func (n *CaptureNotifier) Notify(_ context.Context, event notify.Event) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
	return nil
}

// Events returns a copy of everything recorded so far.
func (n *CaptureNotifier) Events() []notify.Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]notify.Event, len(n.events))
	copy(out, n.events)
	return out
}

// OfType returns the recorded events matching t, in arrival order.
func (n *CaptureNotifier) OfType(t notify.EventType) []notify.Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []notify.Event
	for _, ev := range n.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}
