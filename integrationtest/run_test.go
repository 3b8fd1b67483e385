package integrationtest

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/randalmurphal/flowgraph/pkg/flowgraph/llm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/autoflow"
	"github.com/randalmurphal/autoflow/artifact"
	"github.com/randalmurphal/autoflow/journal"
	"github.com/randalmurphal/autoflow/notify"
	"github.com/randalmurphal/autoflow/testutil"
	"github.com/randalmurphal/autoflow/workflow"
)

// TestFullRun drives a complete request through real agents, a real
// SQLite memory bank, and on-disk journal and artifact stores.
func TestFullRun(t *testing.T) {
	client, _ := routedClient(cleanReview)
	h := newHarness(t, client)

	req := testutil.SampleRequest()
	result, err := h.engine.Run(context.Background(), req, "s-full")
	require.NoError(t, err)

	assert.Equal(t, autoflow.OutcomeComplete, result.Outcome)
	assert.Empty(t, result.Warnings)

	// Every planned stage completed.
	require.Len(t, result.Stages, 4)
	for _, rep := range result.Stages {
		assert.Equal(t, autoflow.StageComplete, rep.State, "stage %s", rep.ID)
	}

	// The playbook converged on the first iteration.
	require.NotNil(t, result.Refined)
	assert.Equal(t, workflow.KindPlaybook, result.Refined.Stage)
	assert.True(t, result.Refined.Accepted)
	assert.Equal(t, 1, result.Refined.Iterations)
	assert.InDelta(t, 5.0, result.Refined.Score, 0.001)

	// All four artifacts are in the result and on disk, plus the
	// review report.
	assert.Len(t, result.Artifacts, 4)
	for _, name := range []string{
		artifact.FilePlaybook,
		artifact.FileDocs,
		artifact.FileTests,
		artifact.FileWorkflowGitHub,
		artifact.FileReview,
	} {
		assert.True(t, h.artifacts.Has(result.RunID, name), "artifact %s should be on disk", name)
	}

	playbook, err := h.artifacts.Load(result.RunID, artifact.FilePlaybook)
	require.NoError(t, err)
	assert.Contains(t, string(playbook), "Install nginx")

	review, err := h.artifacts.Load(result.RunID, artifact.FileReview)
	require.NoError(t, err)
	assert.Contains(t, string(review), "Idempotent modules throughout.")

	// The journal closed with the run's outcome.
	jr, err := h.journal.Load(result.RunID)
	require.NoError(t, err)
	assert.Equal(t, journal.StatusComplete, jr.Metadata.Status)
	assert.Equal(t, "s-full", jr.Metadata.SessionID)
	assert.False(t, jr.Metadata.EndedAt.IsZero())
	assert.NotEmpty(t, jr.Entries)

	// Event stream brackets the run.
	events := h.notifier.Events()
	require.NotEmpty(t, events)
	assert.Equal(t, notify.EventRunStarted, events[0].Type)
	assert.Equal(t, notify.EventRunCompleted, events[len(events)-1].Type)
	assert.Len(t, h.notifier.OfType(notify.EventStageCompleted), 4)
}

// TestRefinementLoop scripts a rejection followed by an acceptance and
// verifies the reviewer's feedback reaches the revision prompt.
func TestRefinementLoop(t *testing.T) {
	client, log := routedClient(rejectReview, cleanReview)
	h := newHarness(t, client)

	result, err := h.engine.Run(context.Background(), testutil.MinimalRequest(), "s-refine")
	require.NoError(t, err)

	assert.Equal(t, autoflow.OutcomeComplete, result.Outcome)
	require.NotNil(t, result.Refined)
	assert.True(t, result.Refined.Accepted)
	assert.Equal(t, 2, result.Refined.Iterations)
	assert.Equal(t, 2, result.Refined.BestIteration)
	assert.InDelta(t, 5.0, result.Refined.Score, 0.001)

	// Draft, review, revision, review, then the verify playbook.
	assert.Len(t, log.matching("Write the playbook"), 1)
	assert.Len(t, log.matching("Review this playbook:"), 2)
	assert.Len(t, log.matching("Write the verify playbook"), 1)

	revisions := log.matching("Revise the playbook")
	require.Len(t, revisions, 1)
	assert.Contains(t, revisions[0], "nginx service state is not verified",
		"review findings should reach the revision prompt")
}

// TestDegradedRun fails the tests stage and verifies its dependents are
// marked while earlier artifacts survive.
func TestDegradedRun(t *testing.T) {
	client, _ := routedClient(cleanReview)
	h := newHarness(t, client, func(deps *autoflow.Deps) {
		deps.Executors[workflow.KindTests] = testutil.FailingExecutor(errors.New("verify run broke"))
	})

	result, err := h.engine.Run(context.Background(), testutil.SampleRequest(), "s-degraded")
	require.NoError(t, err)

	assert.Equal(t, autoflow.OutcomeDegraded, result.Outcome)
	assert.Equal(t, autoflow.StageFailed, result.Stage(workflow.KindTests).State)
	assert.Equal(t, autoflow.StageDegraded, result.Stage(workflow.KindCICD).State)
	assert.Equal(t, autoflow.StageComplete, result.Stage(workflow.KindPlaybook).State)

	// Completed artifacts are persisted, the failed stage's is not.
	assert.True(t, h.artifacts.Has(result.RunID, artifact.FilePlaybook))
	assert.True(t, h.artifacts.Has(result.RunID, artifact.FileDocs))
	assert.False(t, h.artifacts.Has(result.RunID, artifact.FileTests))

	jr, err := h.journal.Load(result.RunID)
	require.NoError(t, err)
	assert.Equal(t, journal.StatusDegraded, jr.Metadata.Status)

	assert.Len(t, h.notifier.OfType(notify.EventStageFailed), 1)
	assert.Len(t, h.notifier.OfType(notify.EventRunDegraded), 1)
}

// TestFatalRun wires an LLM that never answers, so the playbook stage
// exhausts its attempts and the run fails.
func TestFatalRun(t *testing.T) {
	failing := llm.NewMockClient("").WithCompleteFunc(func(_ context.Context, _ llm.CompletionRequest) (*llm.CompletionResponse, error) {
		return nil, errors.New("model unavailable")
	})
	h := newHarness(t, failing)

	result, err := h.engine.Run(context.Background(), testutil.MinimalRequest(), "s-fatal")
	require.NoError(t, err)

	assert.Equal(t, autoflow.OutcomeFailed, result.Outcome)
	assert.Equal(t, autoflow.StageFailed, result.Stage(workflow.KindPlaybook).State)
	assert.Equal(t, autoflow.StageSkipped, result.Stage(workflow.KindTests).State)
	assert.Empty(t, result.Artifacts)

	jr, err := h.journal.Load(result.RunID)
	require.NoError(t, err)
	assert.Equal(t, journal.StatusFailed, jr.Metadata.Status)
	assert.NotEmpty(t, jr.Metadata.Error)

	assert.Len(t, h.notifier.OfType(notify.EventRunFailed), 1)
}

// TestSessionMemory verifies run summaries persist across runs and
// sessions stay isolated, including across a SQLite reopen.
func TestSessionMemory(t *testing.T) {
	client, log := routedClient(cleanReview)
	h := newHarness(t, client)
	ctx := context.Background()

	first, err := h.engine.Run(ctx, testutil.SampleRequest(), "s-alpha")
	require.NoError(t, err)
	require.Equal(t, autoflow.OutcomeComplete, first.Outcome)

	sum, ok := h.engine.MemorySummary("s-alpha")
	require.True(t, ok, "first run should be remembered")
	assert.Equal(t, "deploy-web", sum.RequestName)
	assert.Equal(t, string(autoflow.OutcomeComplete), sum.Outcome)
	assert.True(t, sum.Accepted)
	assert.Len(t, sum.ArtifactDigests, 4)
	assert.Equal(t, string(autoflow.StageComplete), sum.StageStates[workflow.KindPlaybook])

	// A second run on the same session recalls the summary and warns
	// that the session is already recorded.
	second, err := h.engine.Run(ctx, testutil.SampleRequest(), "s-alpha")
	require.NoError(t, err)
	assert.Equal(t, autoflow.OutcomeComplete, second.Outcome)
	require.NotEmpty(t, second.Warnings)
	assert.Contains(t, second.Warnings[0], "already recorded")

	drafts := log.matching("Write the playbook")
	require.Len(t, drafts, 2)
	assert.Contains(t, drafts[1], "A previous run served this session",
		"recalled summary should be in the second run's context")

	// A different session records independently.
	_, err = h.engine.Run(ctx, testutil.MinimalRequest(), "s-beta")
	require.NoError(t, err)
	assert.Equal(t, 2, h.bank.Len())

	// The summaries survive a fresh connection to the same database.
	reopened := reopenBank(t, h.stateDir)
	got, ok := reopened.Get("s-alpha")
	require.True(t, ok, "summary should survive reopen")
	assert.Equal(t, sum.RequestDigest, got.RequestDigest)
}
