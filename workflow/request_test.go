package workflow

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const sampleRequest = `
name: deploy-nginx
description: Install and configure nginx with TLS
platform: ubuntu
ci: github
docs: true
tasks:
  - name: Install nginx
    module: apt
    params:
      name: nginx
      state: present
  - name: Write site config
    module: template
variables:
  domain: example.com
tags: [web, tls]
`

func TestParseRequest(t *testing.T) {
	req, err := ParseRequest([]byte(sampleRequest))
	if err != nil {
		t.Fatalf("ParseRequest: %v", err)
	}

	if req.Name != "deploy-nginx" {
		t.Errorf("Name = %q, want deploy-nginx", req.Name)
	}
	if req.CI != CIGitHub {
		t.Errorf("CI = %q, want github", req.CI)
	}
	if !req.Docs {
		t.Error("Docs should be true")
	}
	if len(req.Tasks) != 2 {
		t.Fatalf("len(Tasks) = %d, want 2", len(req.Tasks))
	}
	if req.Tasks[0].Module != "apt" {
		t.Errorf("Tasks[0].Module = %q, want apt", req.Tasks[0].Module)
	}
	if req.Tasks[0].Params["state"] != "present" {
		t.Errorf("Tasks[0].Params[state] = %q, want present", req.Tasks[0].Params["state"])
	}
	if req.Variables["domain"] != "example.com" {
		t.Errorf("Variables[domain] = %q", req.Variables["domain"])
	}
}

func TestParseRequest_MissingName(t *testing.T) {
	_, err := ParseRequest([]byte("tasks:\n  - name: something\n"))
	if !errors.Is(err, ErrMissingName) {
		t.Errorf("err = %v, want ErrMissingName", err)
	}
}

func TestParseRequest_NoTasks(t *testing.T) {
	_, err := ParseRequest([]byte("name: empty\n"))
	if !errors.Is(err, ErrNoTasks) {
		t.Errorf("err = %v, want ErrNoTasks", err)
	}
}

func TestParseRequest_UnknownCI(t *testing.T) {
	_, err := ParseRequest([]byte("name: x\nci: jenkins\ntasks:\n  - name: y\n"))
	if !errors.Is(err, ErrUnknownCI) {
		t.Errorf("err = %v, want ErrUnknownCI", err)
	}
}

func TestParseRequest_UnnamedTask(t *testing.T) {
	_, err := ParseRequest([]byte("name: x\ntasks:\n  - module: apt\n"))
	if err == nil || !strings.Contains(err.Error(), "task 1") {
		t.Errorf("err = %v, want task 1 name error", err)
	}
}

func TestParseRequest_BadYAML(t *testing.T) {
	_, err := ParseRequest([]byte("name: [unterminated"))
	if err == nil {
		t.Error("expected parse error")
	}
}

func TestLoadRequest(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "request.yaml")
	if err := os.WriteFile(path, []byte(sampleRequest), 0644); err != nil {
		t.Fatal(err)
	}

	req, err := LoadRequest(path)
	if err != nil {
		t.Fatalf("LoadRequest: %v", err)
	}
	if req.Name != "deploy-nginx" {
		t.Errorf("Name = %q", req.Name)
	}
}

func TestLoadRequest_Missing(t *testing.T) {
	_, err := LoadRequest(filepath.Join(t.TempDir(), "absent.yaml"))
	if err == nil {
		t.Error("expected error for missing file")
	}
}

func TestRequest_Render(t *testing.T) {
	req, err := ParseRequest([]byte(sampleRequest))
	if err != nil {
		t.Fatal(err)
	}

	text := req.Render()

	for _, want := range []string{
		"Automation request: deploy-nginx",
		"Target platform: ubuntu",
		"CI platform: github",
		"- Install nginx (module: apt)",
		"domain: example.com",
		"Tags: web, tls",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("Render missing %q:\n%s", want, text)
		}
	}

	// Map iteration must not leak into the rendering
	if text != req.Render() {
		t.Error("Render should be deterministic")
	}
}
