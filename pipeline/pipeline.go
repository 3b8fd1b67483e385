// Package pipeline models the stage graph for a single run: which
// artifacts get produced, in what dependency order, and under which
// failure policy.
//
// A Pipeline is immutable once constructed. New validates the whole
// graph (unique IDs, known dependencies, acyclicity), so any Pipeline
// that exists has at least one topological order and Levels never
// stalls.
package pipeline

import (
	"errors"
	"fmt"
	"time"
)

// Concurrency classifies how a stage shares its dependency level.
type Concurrency string

const (
	// Parallel stages may run alongside other runnable stages of the
	// same level.
	Parallel Concurrency = "parallel"

	// Exclusive stages run alone: nothing else from their level is
	// in flight while they execute.
	Exclusive Concurrency = "exclusive"
)

// FailurePolicy declares how the engine reacts when a stage fails.
type FailurePolicy string

const (
	// Fatal aborts the run. In-flight siblings are cancelled and no
	// further stages are dispatched.
	Fatal FailurePolicy = "fatal"

	// Degraded records the failure, leaves the stage's artifact absent,
	// and lets independent stages continue. Transitive dependents are
	// never invoked and are reported as degraded.
	Degraded FailurePolicy = "degraded"

	// Retried re-invokes the stage up to MaxAttempts times. Once the
	// budget is spent the stage's Fallback policy applies.
	Retried FailurePolicy = "retried"
)

// Stage describes one unit of work in a run.
type Stage struct {
	// ID names the stage uniquely within its pipeline.
	ID string

	// Kind names the artifact the stage produces. One producer per kind.
	Kind string

	// DependsOn lists stage IDs that must settle before this stage starts.
	DependsOn []string

	// Concurrency defaults to Parallel when empty.
	Concurrency Concurrency

	// Policy defaults to Fatal when empty.
	Policy FailurePolicy

	// Fallback is the terminal policy applied after a Retried stage
	// exhausts MaxAttempts. Fatal or Degraded only. Defaults to Fatal.
	// Ignored for non-Retried stages.
	Fallback FailurePolicy

	// MaxAttempts bounds total invocations for Retried stages.
	// Values below 1 are normalized to 1.
	MaxAttempts int

	// Timeout overrides the engine's per-stage timeout when positive.
	Timeout time.Duration

	// Refined routes the stage through the quality refinement loop
	// instead of a single executor call.
	Refined bool
}

// Graph construction errors. New wraps these with the offending stage ID.
var (
	ErrNoStages           = errors.New("pipeline has no stages")
	ErrEmptyStageID       = errors.New("empty stage id")
	ErrDuplicateStage     = errors.New("duplicate stage id")
	ErrUnknownDependency  = errors.New("unknown dependency")
	ErrSelfDependency     = errors.New("stage depends on itself")
	ErrCycle              = errors.New("dependency cycle")
	ErrInvalidPolicy      = errors.New("invalid failure policy")
	ErrInvalidFallback    = errors.New("invalid fallback policy")
	ErrInvalidConcurrency = errors.New("invalid concurrency class")
)

// Pipeline is a validated, immutable stage graph.
type Pipeline struct {
	stages     map[string]Stage
	order      []string
	dependents map[string][]string
}

// New validates the stage set and builds the graph. Construction is the
// only way to obtain a Pipeline, so a cyclic or malformed graph can
// never reach the engine.
func New(stages []Stage) (*Pipeline, error) {
	if len(stages) == 0 {
		return nil, ErrNoStages
	}

	p := &Pipeline{
		stages:     make(map[string]Stage, len(stages)),
		order:      make([]string, 0, len(stages)),
		dependents: make(map[string][]string),
	}

	for _, s := range stages {
		if s.ID == "" {
			return nil, ErrEmptyStageID
		}
		if _, ok := p.stages[s.ID]; ok {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateStage, s.ID)
		}
		normalized, err := normalize(s)
		if err != nil {
			return nil, err
		}
		p.stages[s.ID] = normalized
		p.order = append(p.order, s.ID)
	}

	for _, id := range p.order {
		s := p.stages[id]
		for _, dep := range s.DependsOn {
			if dep == id {
				return nil, fmt.Errorf("%w: %q", ErrSelfDependency, id)
			}
			if _, ok := p.stages[dep]; !ok {
				return nil, fmt.Errorf("%w: %q -> %q", ErrUnknownDependency, id, dep)
			}
			p.dependents[dep] = append(p.dependents[dep], id)
		}
	}

	if err := p.detectCycles(); err != nil {
		return nil, err
	}
	return p, nil
}

func normalize(s Stage) (Stage, error) {
	if s.Kind == "" {
		s.Kind = s.ID
	}
	switch s.Concurrency {
	case "":
		s.Concurrency = Parallel
	case Parallel, Exclusive:
	default:
		return s, fmt.Errorf("%w: %q on stage %q", ErrInvalidConcurrency, s.Concurrency, s.ID)
	}
	switch s.Policy {
	case "":
		s.Policy = Fatal
	case Fatal, Degraded, Retried:
	default:
		return s, fmt.Errorf("%w: %q on stage %q", ErrInvalidPolicy, s.Policy, s.ID)
	}
	if s.Policy == Retried {
		switch s.Fallback {
		case "":
			s.Fallback = Fatal
		case Fatal, Degraded:
		default:
			return s, fmt.Errorf("%w: %q on stage %q", ErrInvalidFallback, s.Fallback, s.ID)
		}
	} else {
		s.Fallback = ""
	}
	if s.MaxAttempts < 1 {
		s.MaxAttempts = 1
	}
	// DependsOn is copied so later mutation of the caller's slice cannot
	// reach the validated graph.
	if len(s.DependsOn) > 0 {
		deps := make([]string, len(s.DependsOn))
		copy(deps, s.DependsOn)
		s.DependsOn = deps
	}
	return s, nil
}

// detectCycles runs a depth-first search with permanent and temporary
// mark sets. Hitting a temporarily marked stage means the recursion
// stack loops back on itself.
func (p *Pipeline) detectCycles() error {
	permanent := make(map[string]bool, len(p.order))
	temporary := make(map[string]bool)

	var visit func(id string) error
	visit = func(id string) error {
		if permanent[id] {
			return nil
		}
		if temporary[id] {
			return fmt.Errorf("%w involving stage %q", ErrCycle, id)
		}
		temporary[id] = true
		for _, dep := range p.dependents[id] {
			if err := visit(dep); err != nil {
				return err
			}
		}
		delete(temporary, id)
		permanent[id] = true
		return nil
	}

	for _, id := range p.order {
		if !permanent[id] {
			if err := visit(id); err != nil {
				return err
			}
		}
	}
	return nil
}

// Stage returns the stage with the given ID.
func (p *Pipeline) Stage(id string) (Stage, bool) {
	s, ok := p.stages[id]
	return s, ok
}

// Stages returns all stages in declaration order.
func (p *Pipeline) Stages() []Stage {
	out := make([]Stage, 0, len(p.order))
	for _, id := range p.order {
		out = append(out, p.stages[id])
	}
	return out
}

// Len returns the number of stages.
func (p *Pipeline) Len() int {
	return len(p.order)
}

// Levels partitions the stages into dependency levels. Level 0 holds
// stages with no predecessors; each later level holds stages whose
// predecessors all sit in earlier levels. Order within a level follows
// declaration order, so the layering is deterministic.
func (p *Pipeline) Levels() [][]string {
	indegree := make(map[string]int, len(p.order))
	for _, id := range p.order {
		indegree[id] = len(p.stages[id].DependsOn)
	}

	current := make([]string, 0)
	for _, id := range p.order {
		if indegree[id] == 0 {
			current = append(current, id)
		}
	}

	var levels [][]string
	for len(current) > 0 {
		levels = append(levels, current)
		unlocked := make(map[string]bool)
		for _, id := range current {
			for _, dep := range p.dependents[id] {
				indegree[dep]--
				if indegree[dep] == 0 {
					unlocked[dep] = true
				}
			}
		}
		next := make([]string, 0, len(unlocked))
		for _, id := range p.order {
			if unlocked[id] {
				next = append(next, id)
			}
		}
		current = next
	}
	return levels
}

// Dependents returns the transitive dependent closure of a stage in
// declaration order. The engine uses it to mark everything downstream
// of a degraded stage without invoking it.
func (p *Pipeline) Dependents(id string) []string {
	seen := make(map[string]bool)
	var walk func(string)
	walk = func(cur string) {
		for _, d := range p.dependents[cur] {
			if !seen[d] {
				seen[d] = true
				walk(d)
			}
		}
	}
	walk(id)

	if len(seen) == 0 {
		return nil
	}
	out := make([]string, 0, len(seen))
	for _, sid := range p.order {
		if seen[sid] {
			out = append(out, sid)
		}
	}
	return out
}
