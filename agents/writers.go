package agents

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/randalmurphal/flowgraph/pkg/flowgraph/llm"

	"github.com/randalmurphal/autoflow"
	"github.com/randalmurphal/autoflow/prompt"
	"github.com/randalmurphal/autoflow/workflow"
)

// DocsWriter generates the README artifact. It runs in parallel with
// playbook generation, so the playbook is included in its prompt only
// when a prior stage already produced one.
type DocsWriter struct {
	client  Completer
	prompts *prompt.Loader
}

// NewDocsWriter creates the docs stage executor.
func NewDocsWriter(client Completer, prompts *prompt.Loader) *DocsWriter {
	return &DocsWriter{client: client, prompts: prompts}
}

// Execute implements the stage executor boundary.
func (w *DocsWriter) Execute(ctx context.Context, req autoflow.ExecRequest) (autoflow.ExecResult, error) {
	var b strings.Builder
	b.WriteString("Write the README for this automation.\n\n")
	b.WriteString(renderContext(req.Context))
	if artifact, ok := req.Artifacts[workflow.KindPlaybook]; ok {
		b.WriteString("\n\n## Playbook\n\n```yaml\n")
		b.WriteString(strings.TrimRight(artifact.Content, "\n"))
		b.WriteString("\n```\n")
	}

	return complete(ctx, w.client, w.prompts, "write-docs", b.String(), false)
}

// TestWriter generates the verify playbook from the converged playbook.
type TestWriter struct {
	client  Completer
	prompts *prompt.Loader
}

// NewTestWriter creates the tests stage executor.
func NewTestWriter(client Completer, prompts *prompt.Loader) *TestWriter {
	return &TestWriter{client: client, prompts: prompts}
}

// Execute implements the stage executor boundary.
func (w *TestWriter) Execute(ctx context.Context, req autoflow.ExecRequest) (autoflow.ExecResult, error) {
	playbook, ok := req.Artifacts[workflow.KindPlaybook]
	if !ok {
		return autoflow.ExecResult{}, errors.New("write tests: playbook artifact not available")
	}

	var b strings.Builder
	b.WriteString("Write the verify playbook for this playbook.\n\n")
	b.WriteString("## Playbook\n\n```yaml\n")
	b.WriteString(strings.TrimRight(playbook.Content, "\n"))
	b.WriteString("\n```\n")

	return complete(ctx, w.client, w.prompts, "write-tests", b.String(), true)
}

// CIWriter generates the CI pipeline for the request's declared platform.
type CIWriter struct {
	client  Completer
	prompts *prompt.Loader
}

// NewCIWriter creates the cicd stage executor.
func NewCIWriter(client Completer, prompts *prompt.Loader) *CIWriter {
	return &CIWriter{client: client, prompts: prompts}
}

// Execute implements the stage executor boundary.
func (w *CIWriter) Execute(ctx context.Context, req autoflow.ExecRequest) (autoflow.ExecResult, error) {
	if req.Request == nil || req.Request.CI == workflow.CINone {
		return autoflow.ExecResult{}, errors.New("write cicd: no ci platform declared")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Write the CI pipeline. Target platform: %s.\n\n", req.Request.CI)
	if playbook, ok := req.Artifacts[workflow.KindPlaybook]; ok {
		b.WriteString("## Playbook\n\n```yaml\n")
		b.WriteString(strings.TrimRight(playbook.Content, "\n"))
		b.WriteString("\n```\n\n")
	}
	if tests, ok := req.Artifacts[workflow.KindTests]; ok {
		b.WriteString("## Verify playbook\n\n```yaml\n")
		b.WriteString(strings.TrimRight(tests.Content, "\n"))
		b.WriteString("\n```\n")
	}

	return complete(ctx, w.client, w.prompts, "write-cicd", b.String(), true)
}

// complete runs one prompt through the client. Fenced output is
// unwrapped for YAML artifacts and left intact for Markdown ones.
func complete(ctx context.Context, client Completer, prompts *prompt.Loader, name, userPrompt string, unfence bool) (autoflow.ExecResult, error) {
	var systemPrompt string
	if sp, err := prompts.Load(name); err == nil {
		systemPrompt = sp
	} else {
		slog.Warn("system prompt unavailable", "prompt", name, "error", err)
	}

	result, err := client.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: systemPrompt,
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: userPrompt}},
	})
	if err != nil {
		return autoflow.ExecResult{}, fmt.Errorf("%s: %w", name, err)
	}

	content := strings.TrimSpace(result.Content)
	if unfence {
		content = stripFences(content)
	}
	if content == "" {
		return autoflow.ExecResult{}, fmt.Errorf("%s: empty completion", name)
	}

	return autoflow.ExecResult{
		Content:   content,
		TokensIn:  result.Usage.InputTokens,
		TokensOut: result.Usage.OutputTokens,
	}, nil
}
