package workflow

import (
	"github.com/randalmurphal/autoflow/pipeline"
)

// Artifact kinds produced by the default plan. Stage IDs in the default
// plan match the kind of the artifact they produce.
const (
	KindPlaybook = "playbook"
	KindDocs     = "docs"
	KindTests    = "tests"
	KindCICD     = "cicd"
	KindReview   = "review"
)

// BuildPlan derives the per-run pipeline from a request.
//
// The playbook stage is always present and is the refinable one: it runs
// inside the quality loop and retries once before its failure becomes
// fatal. Documentation is planned only when the request asks for docs,
// CI/CD only when the request declares a CI platform. Docs generation
// depends only on the request, so it shares level 0 with the playbook;
// tests need the converged playbook, and the CI definition needs the
// tests it will run.
func BuildPlan(req *Request) (*pipeline.Pipeline, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	stages := []pipeline.Stage{
		{
			ID:          KindPlaybook,
			Kind:        KindPlaybook,
			Policy:      pipeline.Retried,
			MaxAttempts: 2,
			Fallback:    pipeline.Fatal,
			Refined:     true,
		},
	}
	if req.Docs {
		stages = append(stages, pipeline.Stage{
			ID:     KindDocs,
			Kind:   KindDocs,
			Policy: pipeline.Degraded,
		})
	}
	stages = append(stages, pipeline.Stage{
		ID:        KindTests,
		Kind:      KindTests,
		DependsOn: []string{KindPlaybook},
		Policy:    pipeline.Degraded,
	})
	if req.CI != CINone {
		stages = append(stages, pipeline.Stage{
			ID:        KindCICD,
			Kind:      KindCICD,
			DependsOn: []string{KindTests},
			Policy:    pipeline.Degraded,
		})
	}

	return pipeline.New(stages)
}
