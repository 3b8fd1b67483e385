package agents

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Finding severity constants. The reviewer's score derives from these.
const (
	SeverityCritical = "critical"
	SeverityHigh     = "high"
	SeverityMedium   = "medium"
	SeverityLow      = "low"
)

// Finding category constants
const (
	CategorySecurity    = "security"
	CategoryIdempotence = "idempotence"
	CategorySyntax      = "syntax"
	CategoryStyle       = "style"
)

// Finding is a single review finding against a playbook.
type Finding struct {
	Severity string `json:"severity"`
	Category string `json:"category,omitempty"`
	Task     string `json:"task,omitempty"` // task name or yaml path
	Message  string `json:"detail"`
	Line     int    `json:"line,omitempty"`
}

// Review is the review verdict for one playbook candidate. It is stored
// as the review artifact and its rendered form feeds the refinement loop.
type Review struct {
	Approved bool      `json:"approved"`
	Score    float64   `json:"score"`
	Summary  string    `json:"summary"`
	Findings []Finding `json:"findings,omitempty"`
}

// SeverityCounts tallies findings by severity.
func (r *Review) SeverityCounts() map[string]int {
	counts := make(map[string]int)
	for _, f := range r.Findings {
		counts[f.Severity]++
	}
	return counts
}

// HasBlocking reports whether any finding is critical or high severity.
func (r *Review) HasBlocking() bool {
	for _, f := range r.Findings {
		if f.Severity == SeverityCritical || f.Severity == SeverityHigh {
			return true
		}
	}
	return false
}

// Feedback renders the review as refinement guidance: the summary
// followed by one line per finding, worst first.
func (r *Review) Feedback() string {
	var b strings.Builder
	if r.Summary != "" {
		b.WriteString(r.Summary)
		b.WriteString("\n")
	}
	for _, severity := range []string{SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow} {
		for _, f := range r.Findings {
			if f.Severity != severity {
				continue
			}
			if f.Task != "" {
				fmt.Fprintf(&b, "- [%s] %s: %s\n", f.Severity, f.Task, f.Message)
			} else {
				fmt.Fprintf(&b, "- [%s] %s\n", f.Severity, f.Message)
			}
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// Markdown renders the full review report with severity sections.
func (r *Review) Markdown() string {
	var b strings.Builder
	b.WriteString("# Playbook Review\n\n")
	fmt.Fprintf(&b, "**Score**: %.2f / 5.00\n", r.Score)
	if r.Approved {
		b.WriteString("**Verdict**: approved\n")
	} else {
		b.WriteString("**Verdict**: changes requested\n")
	}
	if r.Summary != "" {
		b.WriteString("\n")
		b.WriteString(r.Summary)
		b.WriteString("\n")
	}

	for _, severity := range []string{SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow} {
		var section []Finding
		for _, f := range r.Findings {
			if f.Severity == severity {
				section = append(section, f)
			}
		}
		if len(section) == 0 {
			continue
		}
		fmt.Fprintf(&b, "\n## %s\n\n", strings.ToUpper(severity[:1])+severity[1:])
		for _, f := range section {
			if f.Task != "" {
				fmt.Fprintf(&b, "- **%s**: %s", f.Task, f.Message)
			} else {
				fmt.Fprintf(&b, "- %s", f.Message)
			}
			if f.Line > 0 {
				fmt.Fprintf(&b, " (line %d)", f.Line)
			}
			b.WriteString("\n")
		}
	}
	return b.String()
}

// parseReview extracts a Review from an LLM reply. It looks for a
// ```json block first, then tries the whole content as JSON; anything
// unparseable becomes an unapproved review carrying the raw content as
// its summary so the information is not lost.
func parseReview(content string) Review {
	jsonStr, ok := extractBlock(content, "json")
	if !ok {
		jsonStr = strings.TrimSpace(content)
	}

	var review Review
	if err := json.Unmarshal([]byte(jsonStr), &review); err != nil {
		return Review{
			Approved: false,
			Summary:  strings.TrimSpace(content),
		}
	}
	return review
}
