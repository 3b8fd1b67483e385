package task

import (
	"github.com/randalmurphal/llmkit/model"
)

// Type represents the type of work an agent is performing.
// This determines which model tier is appropriate.
type Type string

const (
	// Request analysis - needs reasoning
	Plan Type = "plan"

	// Standard generation tasks - default tier
	Generate Type = "generate"
	Refine   Type = "refine"
	Review   Type = "review"
	Document Type = "document"
	Test     Type = "test"
	CICD     Type = "cicd"

	// Fast tasks - can use smaller models
	Summarize Type = "summarize"
)

// DefaultModelMap maps task types to default models.
var DefaultModelMap = map[Type]model.ModelName{
	Plan:      model.ModelOpus,
	Generate:  model.ModelSonnet,
	Refine:    model.ModelSonnet,
	Review:    model.ModelSonnet,
	Document:  model.ModelSonnet,
	Test:      model.ModelSonnet,
	CICD:      model.ModelSonnet,
	Summarize: model.ModelHaiku,
}

// TierForTask returns the appropriate tier for a task type.
func TierForTask(t Type) model.Tier {
	switch t {
	case Plan:
		return model.TierThinking
	case Summarize:
		return model.TierFast
	default:
		return model.TierDefault
	}
}

// ForKind maps an artifact kind to the task type of the stage that
// produces it. Unknown kinds are standard generation work.
func ForKind(kind string) Type {
	switch kind {
	case "playbook":
		return Generate
	case "review":
		return Review
	case "docs":
		return Document
	case "tests":
		return Test
	case "cicd":
		return CICD
	default:
		return Generate
	}
}

// NewSelector creates a model selector configured for automation run tasks.
// It uses the standard task-to-tier mapping.
func NewSelector(opts ...model.SelectorOption) *model.Selector {
	// Prepend the tier function to use Type
	allOpts := append([]model.SelectorOption{
		model.WithTierFunc(func(task any) model.Tier {
			if t, ok := task.(Type); ok {
				return TierForTask(t)
			}
			return model.TierDefault
		}),
	}, opts...)

	return model.NewSelector(allOpts...)
}

// SelectModel selects the appropriate model for a task type.
// Uses the default model map unless overridden.
func SelectModel(t Type) model.ModelName {
	if m, ok := DefaultModelMap[t]; ok {
		return m
	}
	// Fall back to tier-based selection
	switch TierForTask(t) {
	case model.TierThinking:
		return model.ModelOpus
	case model.TierFast:
		return model.ModelHaiku
	default:
		return model.ModelSonnet
	}
}
