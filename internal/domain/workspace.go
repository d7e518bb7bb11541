// Package domain defines blaze's data model: Workspace, Project, Target,
// Dependency, ExecutorReference and TargetExecution, as named in spec.md
// §3. Workspace and Project loading itself remains an external
// collaborator (the Configuration Loader, spec.md §1 Non-goals) — this
// package only defines the immutable values that loader must produce.
package domain

import "fmt"

// Workspace is the external, immutable root of a blaze run.
type Workspace struct {
	Root     string
	Name     string
	Projects map[string]ProjectRef
	Settings Settings
}

// ProjectRef is the workspace-level entry for a project: enough to locate
// and tag it without yet loading its target definitions.
type ProjectRef struct {
	Path        string
	Tags        []string
	Description string
}

// Settings holds workspace-wide run configuration.
type Settings struct {
	DefaultSelector     string
	NamedSelectors      map[string]Selection
	Parallelism         Parallelism
	ResolutionParallelism int
	LogLevel            string
}

// Project is the external, immutable representation of a single project's
// configuration file plus its ordered targets.
type Project struct {
	Name             string
	Root             string
	ConfigFilePath   string
	ConfigFileFormat string
	TargetNames      []string // preserves declaration order
	Targets          map[string]Target
}

// Target describes a named unit of work on a project (spec.md §3).
type Target struct {
	Name         string
	Executor     *ExecutorReference // nil => Noop target (spec.md §4.L)
	Options      map[string]any
	Dependencies []Dependency
	Cache        *CacheSpec
	Stateless    bool
	Description  string
}

// CachePropagation controls whether a dependency edge contributes to the
// parent's invalidation check (spec.md §3, §4.I "child-executions").
type CachePropagation int

const (
	PropagateAlways CachePropagation = iota
	PropagateNever
)

// Dependency is one edge from a Target to another named target.
type Dependency struct {
	Target       string
	Projects     []string // optional: explicit target projects; empty => same project as the dependent
	Propagation  CachePropagation
	Optional     bool
}

// Double is the canonical "{project}:{target}" external identifier for a
// TargetExecution (spec.md Glossary).
func Double(project, target string) string {
	return fmt.Sprintf("%s:%s", project, target)
}

// TargetExecution identifies a single (Project, target-name) pair. It can
// only be constructed via NewTargetExecution, which enforces the
// existence invariant named in spec.md §3.
type TargetExecution struct {
	Project *Project
	Name    string
}

// NewTargetExecution validates that target exists on project before
// constructing the pair, per spec.md §3's invariant.
func NewTargetExecution(project *Project, target string) (TargetExecution, error) {
	if project == nil {
		return TargetExecution{}, fmt.Errorf("project is nil")
	}
	if _, ok := project.Targets[target]; !ok {
		return TargetExecution{}, fmt.Errorf("target %q does not exist on project %q", target, project.Name)
	}
	return TargetExecution{Project: project, Name: target}, nil
}

// Double returns the canonical "{project}:{target}" identifier.
func (te TargetExecution) Double() string {
	return Double(te.Project.Name, te.Name)
}

// Target returns the resolved Target definition for this execution.
func (te TargetExecution) Target() Target {
	return te.Project.Targets[te.Name]
}
