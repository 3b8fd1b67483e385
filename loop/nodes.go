package loop

import (
	"time"

	"github.com/randalmurphal/flowgraph/pkg/flowgraph"

	"github.com/randalmurphal/autoflow/session"
)

// generateNode asks the generator for a candidate. A generator error
// does not abort the graph; it marks the attempt failed and lets the
// router decide whether budget remains for another.
func (c *Controller) generateNode(ctx flowgraph.Context, st loopState) (loopState, error) {
	st.phase = PhaseGenerating
	st.iteration++
	st.genOK = false
	st.scoreOK = false

	start := time.Now()
	res, err := c.gen.Generate(ctx, GenRequest{
		Context:   st.sess.Snapshot(),
		Iteration: st.iteration,
		Feedback:  st.feedback,
	})
	record := Iteration{Number: st.iteration, Duration: time.Since(start)}

	if err != nil {
		st.lastErr = err
		record.Err = err.Error()
		st.trace = append(st.trace, record)
		c.logger.Warn("candidate generation failed",
			"iteration", st.iteration,
			"error", err)
		c.observe(record)
		return st, nil
	}

	st.content = res.Content
	st.genOK = true
	st.tokensIn += res.TokensIn
	st.tokensOut += res.TokensOut
	record.Content = res.Content
	st.trace = append(st.trace, record)
	return st, nil
}

// scoreNode evaluates the current candidate and updates the running
// best. Strictly-greater comparison keeps the earliest attempt ahead
// on score ties.
func (c *Controller) scoreNode(ctx flowgraph.Context, st loopState) (loopState, error) {
	st.phase = PhaseScoring

	start := time.Now()
	sc, err := c.scorer.Score(ctx, st.content)
	last := len(st.trace) - 1
	st.trace[last].Duration += time.Since(start)

	if err != nil {
		st.lastErr = err
		st.scoreOK = false
		st.trace[last].Err = err.Error()
		c.logger.Warn("candidate scoring failed",
			"iteration", st.iteration,
			"error", err)
		c.observe(st.trace[last])
		return st, nil
	}

	st.scoreOK = true
	st.score = sc.Value
	st.feedback = sc.Feedback
	st.tokensIn += sc.TokensIn
	st.tokensOut += sc.TokensOut
	st.trace[last].Scored = true
	st.trace[last].Score = sc.Value
	st.trace[last].Feedback = sc.Feedback

	if !st.anyScored || sc.Value > st.bestScore {
		st.anyScored = true
		st.bestContent = st.content
		st.bestScore = sc.Value
		st.bestIteration = st.iteration
	}
	st.accepted = sc.Value >= c.cfg.Threshold

	c.logger.Debug("candidate scored",
		"iteration", st.iteration,
		"score", sc.Value,
		"threshold", c.cfg.Threshold,
		"accepted", st.accepted)
	c.observe(st.trace[last])
	return st, nil
}

// refineNode merges reviewer feedback into the session context so the
// next generation sees it.
func (c *Controller) refineNode(_ flowgraph.Context, st loopState) (loopState, error) {
	st.phase = PhaseRefining
	if st.feedback != "" {
		if err := st.sess.AddContext(session.KindFeedback, "review-feedback", st.feedback); err != nil {
			return st, err
		}
	}
	return st, nil
}

// settleNode fixes the terminal phase and the final candidate.
func (c *Controller) settleNode(_ flowgraph.Context, st loopState) (loopState, error) {
	switch {
	case st.accepted:
		st.phase = PhaseAccepted
		st.finalContent = st.content
		st.finalScore = st.score
		st.bestIteration = st.iteration
	case st.anyScored:
		st.phase = PhaseExhausted
		st.finalContent = st.bestContent
		st.finalScore = st.bestScore
	default:
		st.phase = PhaseFailed
	}
	return st, nil
}

// afterGenerate routes a fresh candidate to scoring, retries a failed
// generation while budget remains, and settles otherwise.
func (c *Controller) afterGenerate(_ flowgraph.Context, st loopState) string {
	if st.genOK {
		return "score"
	}
	if st.iteration < c.cfg.Ceiling {
		return "generate"
	}
	return "settle"
}

// afterScore settles on acceptance or an empty budget, refines after a
// below-threshold score, and retries generation when scoring itself
// failed.
func (c *Controller) afterScore(_ flowgraph.Context, st loopState) string {
	if st.accepted {
		return "settle"
	}
	if st.iteration >= c.cfg.Ceiling {
		return "settle"
	}
	if st.scoreOK {
		return "refine"
	}
	return "generate"
}

func (c *Controller) observe(it Iteration) {
	if c.cfg.OnIteration != nil {
		c.cfg.OnIteration(it)
	}
}
