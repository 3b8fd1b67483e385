// Package workflow defines the automation request model and derives the
// per-run pipeline from it.
//
// Core types:
//   - Request: A validated automation request (tasks, target platform, CI platform)
//   - Task: One unit of automation the generated playbook must perform
//
// Operations:
//   - ParseRequest / LoadRequest: YAML parsing with validation
//   - BuildPlan: Derives the stage graph a run will execute
//
// Example usage:
//
//	req, err := workflow.LoadRequest("deploy-nginx.yaml")
//	if err != nil {
//	    return err
//	}
//	plan, err := workflow.BuildPlan(req)
package workflow
