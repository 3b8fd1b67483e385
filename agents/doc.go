// Package agents provides the LLM-backed collaborators an engine run
// needs: playbook generation and refinement, review scoring, companion
// artifact writers, and context summarization.
//
// Core types:
//   - PlaybookGenerator: Generates and revises playbook candidates
//   - Reviewer: Scores candidates from static checks plus an LLM review
//   - DocsWriter, TestWriter, CIWriter: Stage executors for companion artifacts
//   - ContextSummarizer: Compresses discarded context during compaction
//   - CLIClient: Completion transport backed by the claude CLI binary
//
// Every agent speaks to the model through the Completer interface, which
// llm.Client satisfies, so tests drive agents with llm.NewMockClient.
//
// Example usage:
//
//	loader := prompt.NewLoader(projectDir)
//	gen := agents.NewPlaybookGenerator(client, loader)
//	rev := agents.NewReviewer(client, loader)
package agents
