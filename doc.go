// Package autoflow orchestrates multi-stage automation workflows: it
// plans a stage pipeline from a request, drives each stage through an
// executor or a quality refinement loop, and records what happened.
//
// The root package holds the Engine, its Config, the executor
// boundary, and the run error taxonomy. Supporting concerns live in
// subpackages by domain:
//
//   - pipeline: stage graph validation and level scheduling order
//   - session: per-run working context, artifacts, and compaction
//   - memory: durable cross-run summaries with recall and statistics
//   - loop: the generate/score/refine quality loop
//   - workflow: automation requests and the stage plan built from them
//   - agents: LLM-backed generators, reviewers, writers, summarizers
//   - prompt: prompt template loading
//   - task: task-complexity model selection
//   - journal: per-run event journals on disk
//   - artifact: run output storage, export, and retention
//   - notify: event delivery (log, Slack, webhook)
//   - config: layered configuration resolution
//   - errors: CLI-facing error presentation
//   - testutil: test fixtures and doubles
//
// # Quick Start
//
//	req, _ := workflow.LoadRequest("deploy-web.yml")
//
//	engine, _ := autoflow.New(autoflow.DefaultConfig(), autoflow.Deps{
//	    Generators: map[string]loop.Generator{workflow.KindPlaybook: gen},
//	    Scorers:    map[string]loop.Scorer{workflow.KindPlaybook: reviewer},
//	    Executors: map[string]autoflow.StageExecutor{
//	        workflow.KindDocs:  docsWriter,
//	        workflow.KindTests: testWriter,
//	        workflow.KindCICD:  ciWriter,
//	    },
//	})
//
//	result, err := engine.Run(ctx, req, "")
//
// See individual package documentation for detailed usage.
package autoflow
