package workflow

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Request validation errors.
var (
	// ErrMissingName indicates the request has no name.
	ErrMissingName = errors.New("request name is required")

	// ErrNoTasks indicates the request declares no tasks.
	ErrNoTasks = errors.New("request declares no tasks")

	// ErrUnknownCI indicates an unrecognized CI platform.
	ErrUnknownCI = errors.New("unknown ci platform")
)

// CIPlatform identifies the CI system a request targets.
type CIPlatform string

// Supported CI platforms. CINone means no CI/CD stage is planned.
const (
	CINone   CIPlatform = ""
	CIGitHub CIPlatform = "github"
	CIGitLab CIPlatform = "gitlab"
)

// Task is one unit of automation the playbook must perform.
type Task struct {
	Name   string            `yaml:"name"`
	Module string            `yaml:"module,omitempty"`
	Params map[string]string `yaml:"params,omitempty"`
}

// Request describes the automation a run should produce.
type Request struct {
	Name        string            `yaml:"name"`
	Description string            `yaml:"description,omitempty"`
	Platform    string            `yaml:"platform,omitempty"` // target distro/OS
	CI          CIPlatform        `yaml:"ci,omitempty"`
	Docs        bool              `yaml:"docs,omitempty"`
	Tasks       []Task            `yaml:"tasks"`
	Variables   map[string]string `yaml:"variables,omitempty"`
	Tags        []string          `yaml:"tags,omitempty"`
}

// ParseRequest parses a YAML automation request.
func ParseRequest(data []byte) (*Request, error) {
	var req Request
	if err := yaml.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("parse request: %w", err)
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return &req, nil
}

// LoadRequest reads and parses a request file.
func LoadRequest(path string) (*Request, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read request %s: %w", path, err)
	}
	req, err := ParseRequest(data)
	if err != nil {
		return nil, fmt.Errorf("request %s: %w", path, err)
	}
	return req, nil
}

// Validate checks the request for structural problems.
func (r *Request) Validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return ErrMissingName
	}
	if len(r.Tasks) == 0 {
		return ErrNoTasks
	}
	for i, task := range r.Tasks {
		if strings.TrimSpace(task.Name) == "" {
			return fmt.Errorf("task %d: name is required", i+1)
		}
	}
	switch r.CI {
	case CINone, CIGitHub, CIGitLab:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownCI, r.CI)
	}
	return nil
}

// Render produces the canonical text form of the request. It is the
// request entry stage executors see in their context snapshot, and the
// text the memory bank digests.
func (r *Request) Render() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Automation request: %s\n", r.Name)
	if r.Description != "" {
		fmt.Fprintf(&b, "Description: %s\n", r.Description)
	}
	if r.Platform != "" {
		fmt.Fprintf(&b, "Target platform: %s\n", r.Platform)
	}
	if r.CI != CINone {
		fmt.Fprintf(&b, "CI platform: %s\n", r.CI)
	}
	b.WriteString("Tasks:\n")
	for _, task := range r.Tasks {
		if task.Module != "" {
			fmt.Fprintf(&b, "- %s (module: %s)\n", task.Name, task.Module)
		} else {
			fmt.Fprintf(&b, "- %s\n", task.Name)
		}
		for _, key := range sortedKeys(task.Params) {
			fmt.Fprintf(&b, "    %s: %s\n", key, task.Params[key])
		}
	}
	if len(r.Variables) > 0 {
		b.WriteString("Variables:\n")
		for _, key := range sortedKeys(r.Variables) {
			fmt.Fprintf(&b, "  %s: %s\n", key, r.Variables[key])
		}
	}
	if len(r.Tags) > 0 {
		fmt.Fprintf(&b, "Tags: %s\n", strings.Join(r.Tags, ", "))
	}
	return b.String()
}

// sortedKeys returns map keys in stable order so Render output is
// deterministic for digesting.
func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
