package autoflow

import (
	"context"

	"github.com/randalmurphal/autoflow/pipeline"
	"github.com/randalmurphal/autoflow/session"
	"github.com/randalmurphal/autoflow/workflow"
)

// ExecRequest carries everything a stage executor may read: the stage
// being run, the originating request, a context snapshot, and the
// artifacts produced by completed stages. All fields are copies; an
// executor cannot mutate the session through them.
type ExecRequest struct {
	Stage     pipeline.Stage
	Request   *workflow.Request
	Context   []session.Entry
	Artifacts map[string]session.Artifact
}

// ExecResult is a stage executor's output.
type ExecResult struct {
	Content   string
	TokensIn  int
	TokensOut int
}

// StageExecutor produces one artifact kind. Implementations must be safe
// for concurrent use: parallel stages within a level share one executor
// registry.
type StageExecutor interface {
	Execute(ctx context.Context, req ExecRequest) (ExecResult, error)
}

// ExecutorFunc adapts a function to the StageExecutor interface.
type ExecutorFunc func(ctx context.Context, req ExecRequest) (ExecResult, error)

// Execute implements StageExecutor.
func (f ExecutorFunc) Execute(ctx context.Context, req ExecRequest) (ExecResult, error) {
	return f(ctx, req)
}
