package agents

import (
	"context"
	"fmt"
	"strings"

	"github.com/randalmurphal/flowgraph/pkg/flowgraph/llm"

	"github.com/randalmurphal/autoflow/session"
)

// Completer is the completion surface every agent needs. llm.Client
// satisfies it, as does the CLI-backed client in this package, so tests
// can drive agents with llm.NewMockClient.
type Completer interface {
	Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error)
}

// renderContext renders a context snapshot into prompt sections. Entries
// keep their insertion order; the request always sorts first because it
// is inserted first.
func renderContext(entries []session.Entry) string {
	var b strings.Builder
	for _, e := range entries {
		switch e.Kind {
		case session.KindRequest:
			b.WriteString("## Request\n\n")
		case session.KindSummary:
			b.WriteString("## Earlier context (summarized)\n\n")
		case session.KindArtifact:
			fmt.Fprintf(&b, "## Artifact: %s\n\n", e.Key)
		case session.KindFeedback:
			b.WriteString("## Review feedback\n\n")
		default:
			fmt.Fprintf(&b, "## Note: %s\n\n", e.Key)
		}
		b.WriteString(strings.TrimRight(e.Value, "\n"))
		b.WriteString("\n\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// stripFences unwraps a reply that is one fenced code block. Replies
// without a leading fence pass through trimmed.
func stripFences(s string) string {
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	nl := strings.Index(trimmed, "\n")
	if nl < 0 {
		return trimmed
	}
	rest := trimmed[nl+1:]
	end := strings.LastIndex(rest, "```")
	if end < 0 {
		return trimmed
	}
	return strings.TrimSpace(rest[:end])
}

// extractBlock returns the body of the first ```<lang> fenced block, or
// ok=false when the content has none.
func extractBlock(content, lang string) (string, bool) {
	marker := "```" + lang
	start := strings.Index(content, marker)
	if start < 0 {
		return "", false
	}
	body := content[start+len(marker):]
	end := strings.Index(body, "```")
	if end < 0 {
		return "", false
	}
	return strings.TrimSpace(body[:end]), true
}
