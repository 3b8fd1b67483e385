package integrationtest

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/randalmurphal/flowgraph/pkg/flowgraph/llm"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/autoflow"
	"github.com/randalmurphal/autoflow/agents"
	"github.com/randalmurphal/autoflow/artifact"
	"github.com/randalmurphal/autoflow/journal"
	"github.com/randalmurphal/autoflow/loop"
	"github.com/randalmurphal/autoflow/memory"
	"github.com/randalmurphal/autoflow/prompt"
	"github.com/randalmurphal/autoflow/testutil"
	"github.com/randalmurphal/autoflow/workflow"
)

// samplePlaybook is what the mock LLM drafts. It is a valid play list
// with idempotent modules, so the static scan adds no findings and the
// scripted review alone decides the score.
const samplePlaybook = `- hosts: web
  tasks:
    - name: Install nginx
      ansible.builtin.apt:
        name: nginx
        state: present
        update_cache: true
    - name: Start nginx
      ansible.builtin.service:
        name: nginx
        state: started
        enabled: true
`

const verifyPlaybook = `- hosts: web
  tasks:
    - name: Check nginx responds
      ansible.builtin.uri:
        url: http://localhost:80
        status_code: 200
`

const ciWorkflow = `name: deploy-web
on: [push]
jobs:
  deploy:
    runs-on: ubuntu-latest
    steps:
      - uses: actions/checkout@v4
      - name: Run playbook
        run: ansible-playbook playbook.yml
`

const sampleDocs = "# deploy-web\n\nInstalls and starts nginx on the web tier.\n"

const sampleSummary = "The playbook and docs are drafted; nginx install and start are covered."

// cleanReview accepts the candidate outright.
const cleanReview = `{"approved": true, "summary": "Idempotent modules throughout.", "findings": []}`

// rejectReview carries three high findings, enough to pull the score
// under the default threshold and force a refinement iteration.
const rejectReview = `{"approved": false, "summary": "The playbook never verifies the service.", "findings": [
  {"severity": "high", "detail": "nginx service state is not verified"},
  {"severity": "high", "detail": "package cache may be stale"},
  {"severity": "high", "detail": "no handler reloads nginx on config change"}
]}`

// promptLog records every user prompt the mock LLM saw.
type promptLog struct {
	mu      sync.Mutex
	prompts []string
}

func (l *promptLog) add(p string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.prompts = append(l.prompts, p)
}

// matching returns the recorded prompts starting with prefix.
func (l *promptLog) matching(prefix string) []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []string
	for _, p := range l.prompts {
		if strings.HasPrefix(p, prefix) {
			out = append(out, p)
		}
	}
	return out
}

// routedClient builds a mock LLM that answers each agent by prompt
// shape rather than by call order, so parallel stages cannot race over
// a shared response script. Review replies are consumed in the given
// order, repeating the last one once the script runs out.
func routedClient(reviews ...string) (*llm.MockClient, *promptLog) {
	if len(reviews) == 0 {
		reviews = []string{cleanReview}
	}

	log := &promptLog{}
	var mu sync.Mutex
	reviewCalls := 0

	client := llm.NewMockClient("").WithCompleteFunc(func(_ context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
		var prompt string
		if len(req.Messages) > 0 {
			prompt = req.Messages[len(req.Messages)-1].Content
		}
		log.add(prompt)

		switch {
		case strings.HasPrefix(prompt, "Review this playbook:"):
			mu.Lock()
			idx := reviewCalls
			reviewCalls++
			mu.Unlock()
			if idx >= len(reviews) {
				idx = len(reviews) - 1
			}
			return &llm.CompletionResponse{Content: reviews[idx]}, nil
		case strings.HasPrefix(prompt, "Write the playbook"),
			strings.HasPrefix(prompt, "Revise the playbook"):
			return &llm.CompletionResponse{Content: samplePlaybook}, nil
		case strings.HasPrefix(prompt, "Write the README"):
			return &llm.CompletionResponse{Content: sampleDocs}, nil
		case strings.HasPrefix(prompt, "Write the verify playbook"):
			return &llm.CompletionResponse{Content: verifyPlaybook}, nil
		case strings.HasPrefix(prompt, "Write the CI pipeline"):
			return &llm.CompletionResponse{Content: ciWorkflow}, nil
		case strings.HasPrefix(prompt, "Summarize this run context"):
			return &llm.CompletionResponse{Content: sampleSummary}, nil
		default:
			return &llm.CompletionResponse{Content: "ok"}, nil
		}
	})

	return client, log
}

// harness wires a full engine against real on-disk stores under a temp
// state directory.
type harness struct {
	engine    *autoflow.Engine
	artifacts *artifact.Manager
	journal   *journal.FileStore
	bank      *memory.Bank
	notifier  *testutil.CaptureNotifier
	stateDir  string
}

// newHarness builds the engine the way the CLI would: agents backed by
// client, SQLite memory, file journal, and disk artifacts.
func newHarness(t *testing.T, client agents.Completer, mutate ...func(*autoflow.Deps)) *harness {
	t.Helper()

	stateDir := t.TempDir()

	journalStore, err := journal.NewFileStore(journal.StoreConfig{
		BaseDir: filepath.Join(stateDir, "journal"),
	})
	require.NoError(t, err)

	store, err := memory.NewSQLiteStore(memory.SQLiteConfig{
		DataDir: filepath.Join(stateDir, "memory"),
	})
	require.NoError(t, err)

	bank, err := memory.NewBank(context.Background(), store)
	require.NoError(t, err)
	t.Cleanup(func() { _ = bank.Close() })

	prompts := prompt.NewLoader(stateDir)
	gen := agents.NewPlaybookGenerator(client, prompts)
	reviewer := agents.NewReviewer(client, prompts)

	notifier := &testutil.CaptureNotifier{}
	artifacts := artifact.NewManager(artifact.Config{
		BaseDir: filepath.Join(stateDir, "artifacts"),
	})

	deps := autoflow.Deps{
		Generators: map[string]loop.Generator{workflow.KindPlaybook: gen},
		Scorers:    map[string]loop.Scorer{workflow.KindPlaybook: reviewer},
		Executors: map[string]autoflow.StageExecutor{
			workflow.KindPlaybook: gen,
			workflow.KindDocs:     agents.NewDocsWriter(client, prompts),
			workflow.KindTests:    agents.NewTestWriter(client, prompts),
			workflow.KindCICD:     agents.NewCIWriter(client, prompts),
		},
		Summarizer: agents.NewContextSummarizer(client, prompts),
		Bank:       bank,
		Artifacts:  artifacts,
		Journal:    journalStore,
		Notifier:   notifier,
	}
	for _, fn := range mutate {
		fn(&deps)
	}

	engine, err := autoflow.New(autoflow.DefaultConfig(), deps)
	require.NoError(t, err)

	return &harness{
		engine:    engine,
		artifacts: artifacts,
		journal:   journalStore,
		bank:      bank,
		notifier:  notifier,
		stateDir:  stateDir,
	}
}

// reopenBank opens a fresh bank over a harness state directory,
// proving the summaries were actually written through.
func reopenBank(t *testing.T, stateDir string) *memory.Bank {
	t.Helper()

	store, err := memory.NewSQLiteStore(memory.SQLiteConfig{
		DataDir: filepath.Join(stateDir, "memory"),
	})
	require.NoError(t, err)

	bank, err := memory.NewBank(context.Background(), store)
	require.NoError(t, err)
	t.Cleanup(func() { _ = bank.Close() })

	return bank
}
