package domain_test

import (
	"regexp"
	"testing"

	"blaze/internal/domain"
)

func buildWorkspace() *domain.Workspace {
	return &domain.Workspace{
		Root: "/ws",
		Name: "demo",
		Projects: map[string]domain.ProjectRef{
			"a": {Path: "a", Tags: []string{"svc"}},
			"b": {Path: "b", Tags: []string{"lib"}},
			"c": {Path: "c", Tags: []string{"svc", "lib"}},
		},
	}
}

func TestSelectionAll(t *testing.T) {
	ws := buildWorkspace()
	names, err := (domain.Selection{Kind: domain.SelectionAll}).Resolve(ws)
	if err != nil {
		t.Fatal(err)
	}
	if len(names) != 3 {
		t.Fatalf("expected 3 projects, got %v", names)
	}
}

func TestSelectionArrayMissingProjectFails(t *testing.T) {
	ws := buildWorkspace()
	_, err := (domain.Selection{Kind: domain.SelectionArray, Names: []string{"a", "zzz"}}).Resolve(ws)
	if err == nil {
		t.Fatal("expected error for missing project")
	}
}

func TestSelectionTagged(t *testing.T) {
	ws := buildWorkspace()
	names, err := (domain.Selection{Kind: domain.SelectionTagged, Tags: []string{"lib"}}).Resolve(ws)
	if err != nil {
		t.Fatal(err)
	}
	if len(names) != 2 {
		t.Fatalf("expected b,c got %v", names)
	}
}

func TestSelectionIncludeExclude(t *testing.T) {
	ws := buildWorkspace()
	sel := domain.Selection{
		Kind:           domain.SelectionIncludeExclude,
		IncludePattern: regexp.MustCompile("^[ab]$"),
		ExcludePattern: regexp.MustCompile("^b$"),
	}
	names, err := sel.Resolve(ws)
	if err != nil {
		t.Fatal(err)
	}
	if len(names) != 1 || names[0] != "a" {
		t.Fatalf("expected [a], got %v", names)
	}
}

func TestNewTargetExecutionRequiresExistingTarget(t *testing.T) {
	proj := &domain.Project{
		Name:    "a",
		Targets: map[string]domain.Target{"build": {Name: "build"}},
	}
	if _, err := domain.NewTargetExecution(proj, "missing"); err == nil {
		t.Fatal("expected error for missing target")
	}
	te, err := domain.NewTargetExecution(proj, "build")
	if err != nil {
		t.Fatal(err)
	}
	if te.Double() != "a:build" {
		t.Fatalf("expected a:build, got %s", te.Double())
	}
}

func TestPackageIDSharedAcrossEquivalentReferences(t *testing.T) {
	r1 := domain.ExecutorReference{URL: "git+https://example.com/repo.git", Location: domain.LocationHTTPGit, Checkout: "main"}
	r2 := domain.ExecutorReference{URL: "git+https://example.com/repo.git", Location: domain.LocationHTTPGit, Checkout: "main"}
	r3 := domain.ExecutorReference{URL: "git+https://example.com/repo.git", Location: domain.LocationHTTPGit, Checkout: "dev"}

	if r1.PackageID() != r2.PackageID() {
		t.Fatal("expected equal package ids for identical references")
	}
	if r1.PackageID() == r3.PackageID() {
		t.Fatal("expected different package ids for different checkouts")
	}
}

func TestTTLZeroAmountRejected(t *testing.T) {
	spec := domain.TTLSpec{Unit: domain.TTLDays, Amount: 0}
	if err := spec.Validate(); err == nil {
		t.Fatal("expected zero-amount ttl to be rejected")
	}
}

func TestParseExecutorURLSchemes(t *testing.T) {
	cases := map[string]domain.LocationKind{
		"std:commands":                   domain.LocationStd,
		"file:///tmp/exec":               domain.LocationFile,
		"ssh://git@host/repo.git":        domain.LocationSSHGit,
		"git://host/repo.git":            domain.LocationGit,
		"npm:left-pad":                   domain.LocationNpm,
		"cargo:serde":                    domain.LocationCargo,
		"https://host/repo.git?format=git":     domain.LocationHTTPGit,
		"https://host/artifact.tar.gz":         domain.LocationTarballHTTP,
	}
	for raw, want := range cases {
		ref, err := domain.ParseExecutorURL(raw)
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", raw, err)
		}
		if ref.Location != want {
			t.Fatalf("%s: expected location %v, got %v", raw, want, ref.Location)
		}
	}
}

func TestParseExecutorURLUnknownSchemeRejected(t *testing.T) {
	if _, err := domain.ParseExecutorURL("ftp://host/thing"); err == nil {
		t.Fatal("expected error for unknown scheme")
	}
}
