package agents

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/randalmurphal/flowgraph/pkg/flowgraph/llm"
)

// CLI transport errors
var (
	// ErrCLINotFound indicates the claude CLI binary was not found.
	ErrCLINotFound = errors.New("claude CLI not found")

	// ErrCLITimeout indicates the claude CLI execution timed out.
	ErrCLITimeout = errors.New("claude CLI timed out")

	// ErrCLIFailed indicates the claude CLI exited with an error.
	ErrCLIFailed = errors.New("claude CLI failed")
)

// CLIClient is a completion transport backed by the claude CLI binary.
// It satisfies Completer, so agents can run against either an llm.Client
// or a locally installed CLI. Pair it with task.SelectModel to pick the
// model per agent.
type CLIClient struct {
	binaryPath string        // Path to claude binary
	model      string        // Model flag (empty = CLI default)
	timeout    time.Duration // Per-completion timeout
	maxTurns   int           // Max conversation turns
}

// CLIConfig configures the CLI transport.
type CLIConfig struct {
	BinaryPath string        // Path to claude binary (default: "claude")
	Model      string        // Model flag (empty = CLI default)
	Timeout    time.Duration // Per-completion timeout (default: 5m)
	MaxTurns   int           // Max conversation turns (default: 1)
}

// NewCLIClient creates a CLI-backed completion client.
// Returns ErrCLINotFound if the binary is not installed.
func NewCLIClient(cfg CLIConfig) (*CLIClient, error) {
	binaryPath := cfg.BinaryPath
	if binaryPath == "" {
		binaryPath = "claude"
	}

	if _, err := exec.LookPath(binaryPath); err != nil {
		return nil, ErrCLINotFound
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 5 * time.Minute
	}

	maxTurns := cfg.MaxTurns
	if maxTurns == 0 {
		maxTurns = 1
	}

	return &CLIClient{
		binaryPath: binaryPath,
		model:      cfg.Model,
		timeout:    timeout,
		maxTurns:   maxTurns,
	}, nil
}

// Complete runs one completion through the CLI binary.
func (c *CLIClient) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	args := c.buildArgs(req.SystemPrompt, joinMessages(req.Messages))

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, c.binaryPath, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: after %v", ErrCLITimeout, c.timeout)
		}
		if errors.Is(ctx.Err(), context.Canceled) {
			return nil, ctx.Err()
		}
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("%w: %s", ErrCLIFailed, msg)
		}
		return nil, fmt.Errorf("%w: %v", ErrCLIFailed, err)
	}

	output, tokensIn, tokensOut, err := parseCLIOutput(stdout.Bytes())
	if err != nil {
		// Fallback to raw output
		output = strings.TrimSpace(stdout.String())
	}

	resp := &llm.CompletionResponse{Content: output}
	resp.Usage.InputTokens = tokensIn
	resp.Usage.OutputTokens = tokensOut
	return resp, nil
}

// Model returns the configured model flag.
func (c *CLIClient) Model() string {
	return c.model
}

// buildArgs constructs command line arguments for claude CLI.
func (c *CLIClient) buildArgs(systemPrompt, prompt string) []string {
	args := []string{"--print", "--output-format", "json"}

	if c.model != "" {
		args = append(args, "--model", c.model)
	}
	if systemPrompt != "" {
		args = append(args, "--system-prompt", systemPrompt)
	}
	if c.maxTurns > 0 {
		args = append(args, "--max-turns", fmt.Sprintf("%d", c.maxTurns))
	}

	args = append(args, "-p", prompt)
	return args
}

// joinMessages flattens a message list into one prompt body.
func joinMessages(messages []llm.Message) string {
	parts := make([]string, 0, len(messages))
	for _, m := range messages {
		parts = append(parts, m.Content)
	}
	return strings.Join(parts, "\n\n")
}

// cliJSONOutput represents the JSON output from claude CLI.
type cliJSONOutput struct {
	Result       string `json:"result"`
	TokensIn     int    `json:"tokens_in"`
	TokensOut    int    `json:"tokens_out"`
	InputTokens  int    `json:"input_tokens"`
	OutputTokens int    `json:"output_tokens"`
}

// parseCLIOutput parses the JSON output from claude CLI. The object may
// be surrounded by other text, and token fields vary across versions.
func parseCLIOutput(data []byte) (string, int, int, error) {
	data = bytes.TrimSpace(data)

	var output cliJSONOutput
	if err := json.Unmarshal(data, &output); err != nil {
		start := bytes.Index(data, []byte("{"))
		end := bytes.LastIndex(data, []byte("}"))
		if start < 0 || end <= start {
			return "", 0, 0, fmt.Errorf("no json found in output")
		}
		if err := json.Unmarshal(data[start:end+1], &output); err != nil {
			return "", 0, 0, fmt.Errorf("parse json output: %w", err)
		}
	}

	tokensIn := output.TokensIn
	if tokensIn == 0 {
		tokensIn = output.InputTokens
	}
	tokensOut := output.TokensOut
	if tokensOut == 0 {
		tokensOut = output.OutputTokens
	}

	return output.Result, tokensIn, tokensOut, nil
}
