package agents

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/randalmurphal/flowgraph/pkg/flowgraph/llm"

	"github.com/randalmurphal/autoflow/prompt"
	"github.com/randalmurphal/autoflow/session"
)

// ContextSummarizer compresses discarded context entries during session
// compaction. It is a cheap fast-tier task; point it at a small model.
type ContextSummarizer struct {
	client  Completer
	prompts *prompt.Loader
}

// NewContextSummarizer creates the compaction summarizer.
func NewContextSummarizer(client Completer, prompts *prompt.Loader) *ContextSummarizer {
	return &ContextSummarizer{client: client, prompts: prompts}
}

// Summarize implements the session summarizer boundary.
func (s *ContextSummarizer) Summarize(ctx context.Context, entries []session.Entry) (string, error) {
	if len(entries) == 0 {
		return "", nil
	}

	var systemPrompt string
	if sp, err := s.prompts.Load("summarize-context"); err == nil {
		systemPrompt = sp
	}

	var b strings.Builder
	b.WriteString("Summarize this run context so the run can continue without it.\n\n")
	b.WriteString(renderContext(entries))

	result, err := s.client.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: systemPrompt,
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: b.String()}},
	})
	if err != nil {
		return "", fmt.Errorf("summarize context: %w", err)
	}

	summary := strings.TrimSpace(result.Content)
	if summary == "" {
		return "", errors.New("summarize context: empty completion")
	}
	return summary, nil
}
