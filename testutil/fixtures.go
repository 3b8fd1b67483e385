package testutil

import (
	"os"
	"path/filepath"
	"testing"

	"gopkg.in/yaml.v3"

	"github.com/randalmurphal/autoflow/workflow"
)

// SampleRequest returns a small valid request covering the full stage
// set: a refined playbook, docs, tests, and a CI workflow.
func SampleRequest() *workflow.Request {
	return &workflow.Request{
		Name:        "deploy-web",
		Description: "Install and start nginx on the web tier.",
		Platform:    "ubuntu",
		CI:          workflow.CIGitHub,
		Docs:        true,
		Tasks: []workflow.Task{
			{Name: "install nginx", Module: "apt", Params: map[string]string{"name": "nginx", "state": "present"}},
			{Name: "start nginx", Module: "service", Params: map[string]string{"name": "nginx", "state": "started"}},
		},
		Variables: map[string]string{"http_port": "80"},
		Tags:      []string{"web", "nginx"},
	}
}

// MinimalRequest returns the smallest request that passes validation:
// one task, no docs, no CI. Plans built from it contain only the
// playbook stage.
func MinimalRequest() *workflow.Request {
	return &workflow.Request{
		Name:  "ping-hosts",
		Tasks: []workflow.Task{{Name: "ping", Module: "ping"}},
	}
}

// WriteRequestFile marshals req to YAML in a temp directory and
// returns the file path. The file is cleaned up when the test ends.
func WriteRequestFile(t *testing.T, req *workflow.Request) string {
	t.Helper()

	data, err := yaml.Marshal(req)
	if err != nil {
		t.Fatalf("failed to marshal request: %v", err)
	}

	return TempFile(t, "request.yml", data)
}

// LoadFixture loads a fixture file from the testdata directory.
// The path is relative to the testdata directory.
func LoadFixture(t *testing.T, path string) []byte {
	t.Helper()

	fullPath := filepath.Join("testdata", path)
	data, err := os.ReadFile(fullPath)
	if err != nil {
		t.Fatalf("failed to load fixture %s: %v", path, err)
	}

	return data
}

// LoadFixtureString loads a fixture file as a string.
func LoadFixtureString(t *testing.T, path string) string {
	t.Helper()
	return string(LoadFixture(t, path))
}

// TempDir creates a temporary directory for the test.
// It returns the directory path and is automatically cleaned up when the test ends.
func TempDir(t *testing.T) string {
	t.Helper()
	return t.TempDir()
}

// TempFile creates a temporary file with the given content.
// Returns the file path. File is automatically cleaned up when the test ends.
func TempFile(t *testing.T, name string, content []byte) string {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, name)

	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("failed to create temp file %s: %v", name, err)
	}

	return path
}

// TempFileString creates a temporary file with string content.
func TempFileString(t *testing.T, name, content string) string {
	return TempFile(t, name, []byte(content))
}
