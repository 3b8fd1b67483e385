// Package task provides task-based model selection for LLM operations.
//
// Core types:
//   - Type: Type of work (generation, review, summarization, etc.)
//
// Task types:
//   - Plan: Request analysis, high-stakes reasoning
//   - Generate/Refine: Playbook generation and revision
//   - Review: Playbook review and scoring
//   - Document/Test/CICD: Companion artifact generation
//   - Summarize: Context compaction, cheap and fast
//
// Example usage:
//
//	selector := task.NewSelector()
//	name := task.SelectModel(task.ForKind("playbook"))
package task
