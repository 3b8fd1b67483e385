package workflow

import (
	"reflect"
	"testing"

	"github.com/randalmurphal/autoflow/pipeline"
)

func fullRequest() *Request {
	return &Request{
		Name:  "deploy-nginx",
		CI:    CIGitHub,
		Docs:  true,
		Tasks: []Task{{Name: "Install nginx", Module: "apt"}},
	}
}

func TestBuildPlan_FullGraph(t *testing.T) {
	plan, err := BuildPlan(fullRequest())
	if err != nil {
		t.Fatalf("BuildPlan: %v", err)
	}

	if plan.Len() != 4 {
		t.Fatalf("Len = %d, want 4", plan.Len())
	}

	levels := plan.Levels()
	want := [][]string{
		{KindPlaybook, KindDocs},
		{KindTests},
		{KindCICD},
	}
	if !reflect.DeepEqual(levels, want) {
		t.Errorf("Levels = %v, want %v", levels, want)
	}
}

func TestBuildPlan_PlaybookStage(t *testing.T) {
	plan, err := BuildPlan(fullRequest())
	if err != nil {
		t.Fatal(err)
	}

	st, ok := plan.Stage(KindPlaybook)
	if !ok {
		t.Fatal("playbook stage missing")
	}
	if !st.Refined {
		t.Error("playbook should be the refinable stage")
	}
	if st.Policy != pipeline.Retried {
		t.Errorf("Policy = %v, want Retried", st.Policy)
	}
	if st.MaxAttempts != 2 {
		t.Errorf("MaxAttempts = %d, want 2", st.MaxAttempts)
	}
	if st.Fallback != pipeline.Fatal {
		t.Errorf("Fallback = %v, want Fatal", st.Fallback)
	}
}

func TestBuildPlan_WithoutDocs(t *testing.T) {
	req := fullRequest()
	req.Docs = false

	plan, err := BuildPlan(req)
	if err != nil {
		t.Fatal(err)
	}

	if _, ok := plan.Stage(KindDocs); ok {
		t.Error("docs stage should be omitted")
	}
	if plan.Len() != 3 {
		t.Errorf("Len = %d, want 3", plan.Len())
	}
}

func TestBuildPlan_WithoutCI(t *testing.T) {
	req := fullRequest()
	req.CI = CINone

	plan, err := BuildPlan(req)
	if err != nil {
		t.Fatal(err)
	}

	if _, ok := plan.Stage(KindCICD); ok {
		t.Error("cicd stage should be omitted")
	}
	levels := plan.Levels()
	if len(levels) != 2 {
		t.Errorf("levels = %v, want 2 levels", levels)
	}
}

func TestBuildPlan_DependentsOfPlaybook(t *testing.T) {
	plan, err := BuildPlan(fullRequest())
	if err != nil {
		t.Fatal(err)
	}

	deps := plan.Dependents(KindPlaybook)
	want := []string{KindTests, KindCICD}
	if !reflect.DeepEqual(deps, want) {
		t.Errorf("Dependents(playbook) = %v, want %v", deps, want)
	}
}

func TestBuildPlan_InvalidRequest(t *testing.T) {
	if _, err := BuildPlan(&Request{Name: "x"}); err == nil {
		t.Error("expected validation error for request without tasks")
	}
}
