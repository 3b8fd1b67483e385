package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"

	"github.com/randalmurphal/flowgraph/pkg/flowgraph/llm"
	"gopkg.in/yaml.v3"

	"github.com/randalmurphal/autoflow/loop"
	"github.com/randalmurphal/autoflow/memory"
	"github.com/randalmurphal/autoflow/prompt"
)

// Severity deductions on the 0-5 scale.
const (
	deductCritical = 1.0
	deductHigh     = 0.5
	deductMedium   = 0.25
	deductLow      = 0.1
)

// reviewCacheLimit bounds the content-keyed review cache.
const reviewCacheLimit = 64

var secretKeyRe = regexp.MustCompile(`(?i)^-?\s*(\w*(?:password|passwd|secret|api_key|apikey|token|private_key))\s*:\s*(.*)$`)

// Reviewer scores playbook candidates: a static security and idempotence
// scan runs first, then an LLM review; the merged findings produce the
// score. An LLM failure degrades the review to the static findings alone
// rather than failing the iteration.
type Reviewer struct {
	client  Completer
	prompts *prompt.Loader

	mu      sync.Mutex
	reviews map[string]*Review
}

// NewReviewer creates a playbook reviewer.
func NewReviewer(client Completer, prompts *prompt.Loader) *Reviewer {
	return &Reviewer{
		client:  client,
		prompts: prompts,
		reviews: make(map[string]*Review),
	}
}

// Score implements the loop scoring boundary.
func (r *Reviewer) Score(ctx context.Context, content string) (loop.Score, error) {
	review, tokensIn, tokensOut := r.review(ctx, content)
	return loop.Score{
		Value:     review.Score,
		Feedback:  review.Feedback(),
		TokensIn:  tokensIn,
		TokensOut: tokensOut,
	}, nil
}

// ReviewFor returns the cached review of a previously scored candidate.
func (r *Reviewer) ReviewFor(content string) (*Review, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	review, ok := r.reviews[memory.Digest(content)]
	return review, ok
}

// ReportFor returns the review of a scored candidate serialized as JSON,
// for storage as the run's review artifact.
func (r *Reviewer) ReportFor(content string) (string, bool) {
	review, ok := r.ReviewFor(content)
	if !ok {
		return "", false
	}
	data, err := json.MarshalIndent(review, "", "  ")
	if err != nil {
		return "", false
	}
	return string(data), true
}

func (r *Reviewer) review(ctx context.Context, content string) (*Review, int, int) {
	review := &Review{Findings: ScanPlaybook(content)}

	llmReview, tokensIn, tokensOut, err := r.llmReview(ctx, content)
	if err != nil {
		slog.Warn("llm review unavailable, scoring on static findings",
			"error", err)
	} else {
		review.Summary = llmReview.Summary
		review.Findings = append(review.Findings, llmReview.Findings...)
	}

	review.Score = scoreFindings(review.Findings)
	review.Approved = !review.HasBlocking()

	r.remember(content, review)
	return review, tokensIn, tokensOut
}

func (r *Reviewer) llmReview(ctx context.Context, content string) (Review, int, int, error) {
	var systemPrompt string
	if sp, err := r.prompts.Load("review-playbook"); err == nil {
		systemPrompt = sp
	}

	result, err := r.client.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: systemPrompt,
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: formatReviewPrompt(content)}},
	})
	if err != nil {
		return Review{}, 0, 0, fmt.Errorf("review playbook: %w", err)
	}

	return parseReview(result.Content), result.Usage.InputTokens, result.Usage.OutputTokens, nil
}

func (r *Reviewer) remember(content string, review *Review) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.reviews) >= reviewCacheLimit {
		for key := range r.reviews {
			delete(r.reviews, key)
			break
		}
	}
	r.reviews[memory.Digest(content)] = review
}

// formatReviewPrompt creates the review prompt
func formatReviewPrompt(content string) string {
	var b strings.Builder
	b.WriteString("Review this playbook:\n\n")
	b.WriteString("## Playbook\n\n")
	b.WriteString("```yaml\n")
	b.WriteString(strings.TrimRight(content, "\n"))
	b.WriteString("\n```\n\n")
	b.WriteString("Respond with your JSON verdict.\n")
	return b.String()
}

// ScanPlaybook runs the static checks: YAML well-formedness, hardcoded
// credentials, disabled secret masking, unexplained privilege
// escalation, and raw shell usage.
func ScanPlaybook(content string) []Finding {
	var findings []Finding

	var doc any
	if err := yaml.Unmarshal([]byte(content), &doc); err != nil {
		findings = append(findings, Finding{
			Severity: SeverityCritical,
			Category: CategorySyntax,
			Message:  fmt.Sprintf("not valid YAML: %v", err),
		})
		return findings
	}
	if _, ok := doc.([]any); !ok {
		findings = append(findings, Finding{
			Severity: SeverityHigh,
			Category: CategorySyntax,
			Message:  "playbook must be a list of plays",
		})
	}

	for i, line := range strings.Split(content, "\n") {
		no := i + 1
		trimmed := strings.TrimSpace(line)
		lower := strings.ToLower(trimmed)

		if m := secretKeyRe.FindStringSubmatch(trimmed); m != nil {
			value := strings.TrimSpace(m[2])
			if value != "" && !strings.Contains(value, "{{") && !strings.HasPrefix(value, "!vault") {
				findings = append(findings, Finding{
					Severity: SeverityCritical,
					Category: CategorySecurity,
					Message:  fmt.Sprintf("hardcoded credential in %q", strings.ToLower(m[1])),
					Line:     no,
				})
			}
		}

		if strings.HasPrefix(lower, "no_log:") && strings.Contains(lower, "false") {
			findings = append(findings, Finding{
				Severity: SeverityHigh,
				Category: CategorySecurity,
				Message:  "no_log disabled; task output may leak secrets",
				Line:     no,
			})
		}

		if strings.HasPrefix(lower, "become:") && strings.Contains(lower, "true") &&
			!strings.Contains(line, "#") {
			findings = append(findings, Finding{
				Severity: SeverityMedium,
				Category: CategorySecurity,
				Message:  "privilege escalation without an explanatory comment",
				Line:     no,
			})
		}

		if isRawShell(lower) {
			findings = append(findings, Finding{
				Severity: SeverityMedium,
				Category: CategoryIdempotence,
				Message:  "raw shell/command task; prefer an idempotent module",
				Line:     no,
			})
		}
	}

	return findings
}

// isRawShell matches shell/command used as a task key, including the
// fully-qualified forms.
func isRawShell(lower string) bool {
	for _, key := range []string{
		"shell:", "- shell:",
		"command:", "- command:",
		"ansible.builtin.shell:", "- ansible.builtin.shell:",
		"ansible.builtin.command:", "- ansible.builtin.command:",
	} {
		if strings.HasPrefix(lower, key) {
			return true
		}
	}
	return false
}

// scoreFindings maps findings to the 0-5 review scale.
func scoreFindings(findings []Finding) float64 {
	score := 5.0
	for _, f := range findings {
		switch f.Severity {
		case SeverityCritical:
			score -= deductCritical
		case SeverityHigh:
			score -= deductHigh
		case SeverityMedium:
			score -= deductMedium
		case SeverityLow:
			score -= deductLow
		}
	}
	if score < 0 {
		return 0
	}
	if score > 5 {
		return 5
	}
	return score
}
