package memory

import (
	"sort"
	"strings"
	"unicode"
)

// Stats holds aggregate figures over every recorded session.
type Stats struct {
	TotalSessions   int            `json:"total_sessions"`
	Outcomes        map[string]int `json:"outcomes"`
	AcceptedRuns    int            `json:"accepted_runs"`
	AverageScore    float64        `json:"average_score"`
	TotalIterations int            `json:"total_iterations"`
	TotalTokensIn   int            `json:"total_tokens_in"`
	TotalTokensOut  int            `json:"total_tokens_out"`
}

// Stats aggregates across all recorded sessions. AverageScore covers
// only sessions that carry a score above zero.
func (b *Bank) Stats() Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	stats := Stats{Outcomes: make(map[string]int)}
	scored := 0
	var scoreSum float64
	for _, sum := range b.summaries {
		stats.TotalSessions++
		stats.Outcomes[sum.Outcome]++
		stats.TotalIterations += sum.Iterations
		stats.TotalTokensIn += sum.TokensIn
		stats.TotalTokensOut += sum.TokensOut
		if sum.Accepted {
			stats.AcceptedRuns++
		}
		if sum.Score > 0 {
			scored++
			scoreSum += sum.Score
		}
	}
	if scored > 0 {
		stats.AverageScore = scoreSum / float64(scored)
	}
	return stats
}

// Match pairs a recorded session with its keyword overlap against a
// query.
type Match struct {
	Summary Summary `json:"summary"`
	Overlap int     `json:"overlap"`
}

// Similar ranks recorded sessions by keyword overlap between the query
// text and each session's request text. Sessions with no overlap are
// omitted. Ties rank the more recently finished session first.
func (b *Bank) Similar(query string, limit int) []Match {
	queryWords := keywords(query)
	if len(queryWords) == 0 {
		return nil
	}

	b.mu.RLock()
	candidates := make([]Summary, 0, len(b.summaries))
	for _, sum := range b.summaries {
		candidates = append(candidates, sum)
	}
	b.mu.RUnlock()

	var matches []Match
	for _, sum := range candidates {
		text := sum.RequestText
		if text == "" {
			text = sum.RequestName
		}
		overlap := 0
		for word := range keywords(text) {
			if queryWords[word] {
				overlap++
			}
		}
		if overlap > 0 {
			matches = append(matches, Match{Summary: sum, Overlap: overlap})
		}
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Overlap != matches[j].Overlap {
			return matches[i].Overlap > matches[j].Overlap
		}
		if !matches[i].Summary.FinishedAt.Equal(matches[j].Summary.FinishedAt) {
			return matches[i].Summary.FinishedAt.After(matches[j].Summary.FinishedAt)
		}
		return matches[i].Summary.SessionID < matches[j].Summary.SessionID
	})

	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	return matches
}

// keywords lowercases the text and collects words of three or more
// letters, dropping short glue words.
func keywords(text string) map[string]bool {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	set := make(map[string]bool, len(words))
	for _, w := range words {
		if len(w) >= 3 && !stopwords[w] {
			set[w] = true
		}
	}
	return set
}

var stopwords = map[string]bool{
	"and": true, "the": true, "for": true, "with": true,
	"that": true, "this": true, "from": true, "into": true,
}
