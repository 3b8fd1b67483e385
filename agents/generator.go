package agents

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/randalmurphal/flowgraph/pkg/flowgraph/llm"

	"github.com/randalmurphal/autoflow"
	"github.com/randalmurphal/autoflow/loop"
	"github.com/randalmurphal/autoflow/prompt"
)

// PlaybookGenerator produces and revises playbooks. It is the generation
// collaborator of the quality loop and doubles as the playbook stage
// executor when the stage runs without refinement.
type PlaybookGenerator struct {
	client  Completer
	prompts *prompt.Loader
}

// NewPlaybookGenerator creates a playbook generator.
func NewPlaybookGenerator(client Completer, prompts *prompt.Loader) *PlaybookGenerator {
	return &PlaybookGenerator{client: client, prompts: prompts}
}

// Generate produces a playbook candidate from the context snapshot.
// Iterations after the first use the revision prompt and must address
// the carried feedback.
func (g *PlaybookGenerator) Generate(ctx context.Context, req loop.GenRequest) (loop.GenResult, error) {
	name := "generate-playbook"
	if req.Iteration > 1 {
		name = "refine-playbook"
	}

	var systemPrompt string
	if sp, err := g.prompts.Load(name); err == nil {
		systemPrompt = sp
	} else {
		slog.Warn("system prompt unavailable", "prompt", name, "error", err)
	}

	result, err := g.client.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: systemPrompt,
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: g.buildPrompt(req)}},
	})
	if err != nil {
		return loop.GenResult{}, fmt.Errorf("generate playbook: %w", err)
	}

	content := stripFences(result.Content)
	if content == "" {
		return loop.GenResult{}, errors.New("generate playbook: empty completion")
	}

	return loop.GenResult{
		Content:   content,
		TokensIn:  result.Usage.InputTokens,
		TokensOut: result.Usage.OutputTokens,
	}, nil
}

// Execute implements the stage executor boundary.
func (g *PlaybookGenerator) Execute(ctx context.Context, req autoflow.ExecRequest) (autoflow.ExecResult, error) {
	result, err := g.Generate(ctx, loop.GenRequest{Context: req.Context, Iteration: 1})
	if err != nil {
		return autoflow.ExecResult{}, err
	}
	return autoflow.ExecResult{
		Content:   result.Content,
		TokensIn:  result.TokensIn,
		TokensOut: result.TokensOut,
	}, nil
}

func (g *PlaybookGenerator) buildPrompt(req loop.GenRequest) string {
	var b strings.Builder
	if req.Iteration > 1 {
		fmt.Fprintf(&b, "Revise the playbook. This is iteration %d.\n\n", req.Iteration)
	} else {
		b.WriteString("Write the playbook for this request.\n\n")
	}
	b.WriteString(renderContext(req.Context))
	if req.Feedback != "" {
		b.WriteString("\n\n## Feedback to address\n\n")
		b.WriteString(req.Feedback)
	}
	return b.String()
}
