package journal

import (
	"fmt"
	"io"
	"strings"
)

// Statistics holds aggregated run statistics
type Statistics struct {
	TotalRuns      int
	CompleteRuns   int
	DegradedRuns   int
	FailedRuns     int
	ActiveRuns     int
	TotalTokensIn  int
	TotalTokensOut int
	AvgTokensIn    int
	AvgTokensOut   int
}

// Stats aggregates statistics over runs matching filter
func (s *FileStore) Stats(filter ListFilter) (*Statistics, error) {
	runs, err := s.List(filter)
	if err != nil {
		return nil, err
	}

	stats := &Statistics{}
	for _, run := range runs {
		stats.TotalRuns++
		stats.TotalTokensIn += run.TotalTokensIn
		stats.TotalTokensOut += run.TotalTokensOut

		switch run.Status {
		case StatusComplete:
			stats.CompleteRuns++
		case StatusDegraded:
			stats.DegradedRuns++
		case StatusFailed:
			stats.FailedRuns++
		case StatusRunning:
			stats.ActiveRuns++
		}
	}

	if stats.TotalRuns > 0 {
		stats.AvgTokensIn = stats.TotalTokensIn / stats.TotalRuns
		stats.AvgTokensOut = stats.TotalTokensOut / stats.TotalRuns
	}

	return stats, nil
}

// WriteMetaTable renders a run listing as a fixed-width table
func WriteMetaTable(w io.Writer, metas []Meta) error {
	if len(metas) == 0 {
		fmt.Fprintln(w, "No runs found.")
		return nil
	}

	fmt.Fprintf(w, "%-36s %-10s %-17s %-12s %7s\n",
		"RUN ID", "STATUS", "STARTED", "SESSION", "TOKENS")
	fmt.Fprintln(w, strings.Repeat("-", 88))

	for _, m := range metas {
		tokens := fmt.Sprintf("%d/%d", m.TotalTokensIn, m.TotalTokensOut)
		fmt.Fprintf(w, "%-36s %-10s %-17s %-12s %7s\n",
			truncate(m.RunID, 36),
			m.Status,
			m.StartedAt.Format("2006-01-02 15:04"),
			truncate(m.SessionID, 12),
			tokens)
	}

	fmt.Fprintf(w, "\nTotal: %d runs\n", len(metas))
	return nil
}

// WriteStats renders aggregated statistics
func WriteStats(w io.Writer, stats *Statistics) error {
	fmt.Fprintln(w, "Run Statistics:")
	fmt.Fprintln(w, strings.Repeat("-", 40))
	fmt.Fprintf(w, "Total Runs:      %d\n", stats.TotalRuns)
	fmt.Fprintf(w, "  Complete:      %d\n", stats.CompleteRuns)
	fmt.Fprintf(w, "  Degraded:      %d\n", stats.DegradedRuns)
	fmt.Fprintf(w, "  Failed:        %d\n", stats.FailedRuns)
	fmt.Fprintf(w, "  Active:        %d\n", stats.ActiveRuns)
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Total Tokens:    %d in / %d out\n", stats.TotalTokensIn, stats.TotalTokensOut)
	fmt.Fprintf(w, "Avg Tokens/Run:  %d in / %d out\n", stats.AvgTokensIn, stats.AvgTokensOut)
	return nil
}

// truncate shortens a string to max length
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	return s[:max-3] + "..."
}
