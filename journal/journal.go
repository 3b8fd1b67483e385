package journal

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	nanoid "github.com/matoous/go-nanoid/v2"
)

// Journal errors
var (
	ErrRunNotFound      = errors.New("run not found")
	ErrRunAlreadyExists = errors.New("run already exists")
	ErrRunNotStarted    = errors.New("run not started")
)

// Status is the lifecycle status of a journaled run
type Status string

// Run status constants. The terminal statuses match run outcomes.
const (
	StatusRunning  Status = "running"
	StatusComplete Status = "complete"
	StatusDegraded Status = "degraded"
	StatusFailed   Status = "failed"
)

// Entry is one recorded event in a run journal
type Entry struct {
	ID        int            `json:"id"`
	Type      string         `json:"type"`
	Stage     string         `json:"stage,omitempty"`
	Message   string         `json:"message"`
	Severity  string         `json:"severity,omitempty"`
	TokensIn  int            `json:"tokens_in,omitempty"`
	TokensOut int            `json:"tokens_out,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Meta is run-level metadata, stored beside the journal so listing does
// not load full journals
type Meta struct {
	RunID          string    `json:"run_id"`
	SessionID      string    `json:"session_id"`
	Request        string    `json:"request,omitempty"`
	Status         Status    `json:"status"`
	Error          string    `json:"error,omitempty"`
	StartedAt      time.Time `json:"started_at"`
	EndedAt        time.Time `json:"ended_at,omitempty"`
	EntryCount     int       `json:"entry_count"`
	TotalTokensIn  int       `json:"total_tokens_in"`
	TotalTokensOut int       `json:"total_tokens_out"`
}

// Journal is the full record of one run
type Journal struct {
	RunID    string  `json:"run_id"`
	Metadata Meta    `json:"metadata"`
	Entries  []Entry `json:"entries"`
}

// RunMetadata carries the known-at-start fields for a new journal
type RunMetadata struct {
	SessionID string
	Request   string
}

// ListFilter filters journal listing
type ListFilter struct {
	SessionID string
	Status    Status
	After     time.Time
	Before    time.Time
	Limit     int
}

var runIDCleanRe = regexp.MustCompile(`[^a-z0-9]+`)

// NewRunID mints a run ID from the request name: date, slug, and a
// short random suffix, e.g. "2026-02-11-deploy-nginx-a1b2".
func NewRunID(name string) (string, error) {
	suffix, err := nanoid.Generate("0123456789abcdef", 4)
	if err != nil {
		return "", fmt.Errorf("generate run id: %w", err)
	}

	slug := runIDCleanRe.ReplaceAllString(strings.ToLower(name), "-")
	slug = strings.Trim(slug, "-")
	if slug == "" {
		slug = "run"
	}

	return fmt.Sprintf("%s-%s-%s", time.Now().Format("2006-01-02"), slug, suffix), nil
}
