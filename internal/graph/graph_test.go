package graph_test

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"blaze/internal/domain"
	"blaze/internal/graph"
	"blaze/internal/parallel"
)

type fakeLoader struct{ projects map[string]*domain.Project }

func (f fakeLoader) Load(name string) (*domain.Project, error) {
	p, ok := f.projects[name]
	if !ok {
		return nil, fmt.Errorf("unknown project %q", name)
	}
	return p, nil
}

func arrayWorkspace(names ...string) *domain.Workspace {
	projects := make(map[string]domain.ProjectRef, len(names))
	for _, n := range names {
		projects[n] = domain.ProjectRef{}
	}
	return &domain.Workspace{Projects: projects}
}

func TestBuildCrossProjectDependency(t *testing.T) {
	lib := &domain.Project{Name: "lib", Targets: map[string]domain.Target{
		"lib-build": {Name: "lib-build"},
	}}
	svc := &domain.Project{Name: "svc", Targets: map[string]domain.Target{
		"build": {Name: "build", Dependencies: []domain.Dependency{
			{Target: "lib-build", Projects: []string{"lib"}},
		}},
	}}
	loader := fakeLoader{projects: map[string]*domain.Project{"svc": svc, "lib": lib}}
	ws := arrayWorkspace("svc", "lib")

	g, err := graph.Build(ws, loader, domain.Selection{Kind: domain.SelectionArray, Names: []string{"svc"}}, "build", nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(g.Nodes) != 2 {
		t.Fatalf("expected 2 nodes, got %d (%v)", len(g.Nodes), g.Targets())
	}
	root := g.Nodes["svc:build"]
	if root == nil || !root.Root {
		t.Fatalf("expected svc:build to be a root node, got %+v", root)
	}
	if len(root.Edges) != 1 || root.Edges[0].Double != "lib:lib-build" {
		t.Fatalf("expected svc:build to depend on lib:lib-build, got %+v", root.Edges)
	}
	if g.Nodes["lib:lib-build"] == nil {
		t.Fatal("expected lib:lib-build node to exist")
	}
}

func TestBuildDetectsCycle(t *testing.T) {
	proj := &domain.Project{Name: "p", Targets: map[string]domain.Target{
		"a": {Name: "a", Dependencies: []domain.Dependency{{Target: "b"}}},
		"b": {Name: "b", Dependencies: []domain.Dependency{{Target: "a"}}},
	}}
	loader := fakeLoader{projects: map[string]*domain.Project{"p": proj}}
	ws := arrayWorkspace("p")

	_, err := graph.Build(ws, loader, domain.Selection{Kind: domain.SelectionArray, Names: []string{"p"}}, "a", nil)
	if err == nil || !strings.Contains(err.Error(), "circular dependency detected") {
		t.Fatalf("expected a circular dependency error, got %v", err)
	}
}

func TestBuildRespectsMaxDepth(t *testing.T) {
	proj := &domain.Project{Name: "p", Targets: map[string]domain.Target{
		"a": {Name: "a", Dependencies: []domain.Dependency{{Target: "b"}}},
		"b": {Name: "b"},
	}}
	loader := fakeLoader{projects: map[string]*domain.Project{"p": proj}}
	ws := arrayWorkspace("p")
	zero := 0

	g, err := graph.Build(ws, loader, domain.Selection{Kind: domain.SelectionArray, Names: []string{"p"}}, "a", &zero)
	if err != nil {
		t.Fatal(err)
	}
	if len(g.Nodes) != 1 {
		t.Fatalf("expected max_depth=0 to prevent dependency expansion, got nodes %v", g.Targets())
	}
}

func TestBuildSkipsProjectsWithoutTheTarget(t *testing.T) {
	withTarget := &domain.Project{Name: "has", Targets: map[string]domain.Target{"build": {Name: "build"}}}
	without := &domain.Project{Name: "hasnot", Targets: map[string]domain.Target{"test": {Name: "test"}}}
	loader := fakeLoader{projects: map[string]*domain.Project{"has": withTarget, "hasnot": without}}
	ws := arrayWorkspace("has", "hasnot")

	g, err := graph.Build(ws, loader, domain.Selection{Kind: domain.SelectionAll}, "build", nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(g.Nodes) != 1 || g.Nodes["has:build"] == nil {
		t.Fatalf("expected only has:build, got %v", g.Targets())
	}
}

func chainGraph(t *testing.T, bOptional bool) *graph.Graph {
	t.Helper()
	proj := &domain.Project{Name: "p", Targets: map[string]domain.Target{
		"a": {Name: "a", Dependencies: []domain.Dependency{{Target: "b", Optional: bOptional}}},
		"b": {Name: "b"},
	}}
	loader := fakeLoader{projects: map[string]*domain.Project{"p": proj}}
	ws := arrayWorkspace("p")
	g, err := graph.Build(ws, loader, domain.Selection{Kind: domain.SelectionArray, Names: []string{"p"}}, "a", nil)
	if err != nil {
		t.Fatal(err)
	}
	return g
}

func TestExecuteRunsDependencyBeforeDependent(t *testing.T) {
	g := chainGraph(t, false)
	pool := parallel.New(domain.ParallelismAll())

	var order []string
	results, err := graph.Execute(context.Background(), g, pool, func(n *graph.Node, children map[string]graph.Outcome[string]) (string, error) {
		order = append(order, n.Double)
		if n.Double == "p:a" {
			child, ok := children["p:b"]
			if !ok || child.Value != "b-result" {
				t.Fatalf("expected p:a to see p:b's result, got %+v ok=%v", child, ok)
			}
			return "a-result", nil
		}
		return "b-result", nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if order[0] != "p:b" || order[1] != "p:a" {
		t.Fatalf("expected b before a, got %v", order)
	}
	if results["p:a"].Value != "a-result" || results["p:b"].Value != "b-result" {
		t.Fatalf("unexpected results %+v", results)
	}
}

func TestExecuteCancelsTransitiveOnRequiredFailure(t *testing.T) {
	g := chainGraph(t, false)
	pool := parallel.New(domain.ParallelismAll())

	ran := map[string]bool{}
	results, err := graph.Execute(context.Background(), g, pool, func(n *graph.Node, children map[string]graph.Outcome[string]) (string, error) {
		ran[n.Double] = true
		if n.Double == "p:b" {
			return "", fmt.Errorf("boom")
		}
		return "ok", nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if ran["p:a"] {
		t.Fatal("expected p:a to be canceled, not executed, after its required dependency failed")
	}
	if !results["p:a"].Canceled {
		t.Fatalf("expected p:a marked Canceled, got %+v", results["p:a"])
	}
	if results["p:b"].Err == nil {
		t.Fatal("expected p:b's failure to be recorded")
	}
}

func TestExecuteRunsDependentDespiteOptionalFailure(t *testing.T) {
	g := chainGraph(t, true)
	pool := parallel.New(domain.ParallelismAll())

	ran := map[string]bool{}
	_, err := graph.Execute(context.Background(), g, pool, func(n *graph.Node, children map[string]graph.Outcome[string]) (string, error) {
		ran[n.Double] = true
		if n.Double == "p:b" {
			return "", fmt.Errorf("boom")
		}
		return "ok", nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if !ran["p:a"] {
		t.Fatal("expected p:a to still run despite its optional dependency failing")
	}
}

func TestFormatProducesIndentedTree(t *testing.T) {
	g := chainGraph(t, false)
	var sb strings.Builder
	err := g.Format(&sb, func(n *graph.Node) string { return n.Double })
	if err != nil {
		t.Fatal(err)
	}
	want := "p:a\n└── p:b\n"
	if sb.String() != want {
		t.Fatalf("got %q, want %q", sb.String(), want)
	}
}
