// Package graph implements the Execution Graph (spec.md §4.K): building
// a dependency graph across projects from a root Selection and target
// name, then executing it with a user-provided routine under the
// ordering and cancellation rules spec.md §5 describes.
//
// Grounded on original_source/core/src/executions/graph.rs's
// ExecutionGraph::try_new (breadth-first construction, ancestor-chain
// cycle detection, max_depth gating) and ExecutionGraph::execute (an
// inverted dependency graph, pending/canceled sets, transitive-closure
// cancellation on required-edge failure, ASCII tree fmt). The original's
// DependencyAccessor indirection (project + target + dependency index,
// dereferenced back through Arc<Project>) exists only for Rust's
// ownership model; a Go Edge stores the resolved domain.Dependency value
// directly since there is no borrow checker to satisfy.
package graph

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	"blaze/internal/domain"
	"blaze/internal/parallel"
	"blaze/internal/workspace"
)

// Edge is one dependency of a Node, resolved against the declaring
// Target's Dependencies list at construction time.
type Edge struct {
	Double      string
	Optional    bool
	Propagation domain.CachePropagation
}

// Node is one (project, target) pair selected into the graph.
type Node struct {
	Double  string
	Root    bool
	Depth   int
	Project *domain.Project
	Target  string
	Edges   []Edge // this node's own dependencies, declaration order, deduplicated by double
}

func (n *Node) addEdge(e Edge) {
	for _, existing := range n.Edges {
		if existing.Double == e.Double {
			return
		}
	}
	n.Edges = append(n.Edges, e)
}

// Graph is the constructed, acyclic dependency graph over TargetExecutions.
type Graph struct {
	Nodes map[string]*Node
	Roots []string // discovery order
}

// Targets returns every double in the graph, sorted.
func (g *Graph) Targets() []string {
	out := make([]string, 0, len(g.Nodes))
	for d := range g.Nodes {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}

// ExecutorReferences returns the deduplicated set of executor references
// needed to run this graph, deduplicated by PackageID (the identity that
// matters for resolution, spec.md §4.G), sorted by URL for determinism.
func (g *Graph) ExecutorReferences() []domain.ExecutorReference {
	seen := make(map[uint64]domain.ExecutorReference)
	for _, n := range g.Nodes {
		ref := n.Project.Targets[n.Target].Executor
		if ref == nil {
			continue
		}
		seen[ref.PackageID()] = *ref
	}
	out := make([]domain.ExecutorReference, 0, len(seen))
	for _, ref := range seen {
		out = append(out, ref)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].URL < out[j].URL })
	return out
}

type queueItem struct {
	projectNames []string
	target       string
	ancestors    []string
	ancestorsSet map[string]struct{}
	depth        int

	parentDouble string // "" for the root item
	dependency   domain.Dependency
}

// Build runs the breadth-first construction spec.md §4.K step 1-4
// describes: selecting root projects, instantiating a node per
// (project, target) pair, rejecting cycles within an ancestor chain, and
// expanding declared dependencies up to maxDepth (nil means unbounded).
func Build(ws *domain.Workspace, loader workspace.ProjectLoader, selection domain.Selection, target string, maxDepth *int) (*Graph, error) {
	rootNames, err := selection.Resolve(ws)
	if err != nil {
		return nil, fmt.Errorf("graph: selecting root projects: %w", err)
	}

	g := &Graph{Nodes: make(map[string]*Node)}
	projects := make(map[string]*domain.Project)

	queue := []queueItem{{
		projectNames: rootNames,
		target:       target,
		ancestorsSet: map[string]struct{}{},
		depth:        0,
	}}

	for len(queue) > 0 {
		item := queue[0]
		queue = queue[1:]

		for _, projectName := range item.projectNames {
			project, ok := projects[projectName]
			if !ok {
				loaded, err := loader.Load(projectName)
				if err != nil {
					return nil, fmt.Errorf("graph: loading project %q: %w", projectName, err)
				}
				project = loaded
				projects[projectName] = project
			}

			if _, exists := project.Targets[item.target]; !exists {
				continue
			}
			double := domain.Double(projectName, item.target)

			if _, inChain := item.ancestorsSet[double]; inChain {
				chain := reproduceCycle(item.ancestors, double)
				return nil, fmt.Errorf("graph: circular dependency detected (%s)", strings.Join(chain, " <=> "))
			}

			if item.parentDouble != "" {
				g.Nodes[item.parentDouble].addEdge(Edge{
					Double:      double,
					Optional:    item.dependency.Optional,
					Propagation: item.dependency.Propagation,
				})
			}

			if _, exists := g.Nodes[double]; exists {
				continue
			}

			node := &Node{
				Double:  double,
				Root:    item.depth == 0,
				Depth:   item.depth,
				Project: project,
				Target:  item.target,
			}
			g.Nodes[double] = node
			if node.Root {
				g.Roots = append(g.Roots, double)
			}

			if maxDepth != nil && item.depth >= *maxDepth {
				continue
			}

			for _, dep := range project.Targets[item.target].Dependencies {
				depProjects := dep.Projects
				if len(depProjects) == 0 {
					depProjects = []string{projectName}
				}

				nextAncestors := append(append([]string(nil), item.ancestors...), double)
				nextSet := make(map[string]struct{}, len(item.ancestorsSet)+1)
				for k := range item.ancestorsSet {
					nextSet[k] = struct{}{}
				}
				nextSet[double] = struct{}{}

				queue = append(queue, queueItem{
					projectNames: depProjects,
					target:       dep.Target,
					ancestors:    nextAncestors,
					ancestorsSet: nextSet,
					depth:        item.depth + 1,
					parentDouble: double,
					dependency:   dep,
				})
			}
		}
	}

	return g, nil
}

func reproduceCycle(ancestors []string, repeated string) []string {
	idx := 0
	for i, a := range ancestors {
		if a == repeated {
			idx = i
			break
		}
	}
	chain := append([]string(nil), ancestors[idx:]...)
	return append(chain, repeated)
}

// Outcome is one node's execution result: Value/Err for a node that ran,
// or Canceled for a node whose required dependency failed.
type Outcome[T any] struct {
	Value    T
	Err      error
	Canceled bool
}

type parentEdge struct {
	parent   string
	optional bool
}

func (g *Graph) invert() map[string][]parentEdge {
	inverted := make(map[string][]parentEdge, len(g.Nodes))
	for d := range g.Nodes {
		inverted[d] = nil
	}
	for parentDouble, node := range g.Nodes {
		for _, e := range node.Edges {
			inverted[e.Double] = append(inverted[e.Double], parentEdge{parent: parentDouble, optional: e.Optional})
		}
	}
	return inverted
}

// cancelTransitive computes the transitive closure over required edges
// from double upward (spec.md §4.K step 2's drain rule), removing every
// affected double from pending and returning them for the caller to mark
// Canceled.
func cancelTransitive(double string, inverted map[string][]parentEdge, pending map[string]struct{}) []string {
	toCancel := make(map[string]struct{})
	frontier := map[string]struct{}{double: {}}
	for len(frontier) > 0 {
		next := make(map[string]struct{})
		for child := range frontier {
			for _, pe := range inverted[child] {
				if pe.optional {
					continue
				}
				if _, already := toCancel[pe.parent]; already {
					continue
				}
				toCancel[pe.parent] = struct{}{}
				next[pe.parent] = struct{}{}
			}
		}
		frontier = next
	}
	out := make([]string, 0, len(toCancel))
	for d := range toCancel {
		delete(pending, d)
		out = append(out, d)
	}
	return out
}

func selectableNodes[T any](g *Graph, pending map[string]struct{}, results map[string]Outcome[T]) []string {
	var out []string
	for d := range pending {
		node := g.Nodes[d]
		ready := true
		for _, e := range node.Edges {
			res, has := results[e.Double]
			if e.Optional {
				if !has {
					ready = false
					break
				}
				continue
			}
			if !has || res.Err != nil || res.Canceled {
				ready = false
				break
			}
		}
		if ready {
			out = append(out, d)
		}
	}
	sort.Strings(out)
	return out
}

// runRecovered invokes run, converting a panic into an error instead of
// letting it escape on the pool's worker goroutine: spec.md §5 requires
// panics to "become errors at the drain site" without poisoning the pool,
// and the pool's own completion signal (ch) only fires from inside this
// closure, so an unrecovered panic here would leave the node inflight
// forever instead of surfacing a failure.
func runRecovered[T any](node *Node, children map[string]Outcome[T], run func(n *Node, children map[string]Outcome[T]) (T, error)) (value T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("graph: panic executing %q: %v", node.Double, r)
		}
	}()
	return run(node, children)
}

// Execute runs every node in g under pool's bound, per spec.md §4.K's
// execution procedure: a node only starts once every required
// dependency has completed Ok (optional dependencies only have to be
// settled, Ok/Err/Canceled), and a failed node cancels the transitive
// closure of its required-edge ancestors. run receives a read-only
// snapshot of already-completed children, keyed by double.
func Execute[T any](ctx context.Context, g *Graph, pool *parallel.Pool, run func(n *Node, children map[string]Outcome[T]) (T, error)) (map[string]Outcome[T], error) {
	results := make(map[string]Outcome[T], len(g.Nodes))
	if len(g.Nodes) == 0 {
		return results, nil
	}

	inverted := g.invert()
	pending := make(map[string]struct{}, len(g.Nodes))
	for d := range g.Nodes {
		pending[d] = struct{}{}
	}
	inflight := make(map[string]struct{})

	type completion struct {
		double string
		value  T
		err    error
	}
	ch := make(chan completion, len(g.Nodes))

	for len(pending) > 0 || len(inflight) > 0 {
		for _, d := range selectableNodes(g, pending, results) {
			delete(pending, d)
			inflight[d] = struct{}{}

			node := g.Nodes[d]
			children := make(map[string]Outcome[T], len(node.Edges))
			for _, e := range node.Edges {
				if res, ok := results[e.Double]; ok {
					children[e.Double] = res
				}
			}

			if err := pool.Push(ctx, func() {
				value, runErr := runRecovered(node, children, run)
				ch <- completion{double: d, value: value, err: runErr}
			}); err != nil {
				return nil, fmt.Errorf("graph: scheduling %q: %w", d, err)
			}
		}

		if len(inflight) == 0 {
			break
		}

		c := <-ch
		delete(inflight, c.double)
		if c.err != nil {
			results[c.double] = Outcome[T]{Err: c.err}
			for _, canceled := range cancelTransitive(c.double, inverted, pending) {
				results[canceled] = Outcome[T]{Canceled: true}
			}
		} else {
			results[c.double] = Outcome[T]{Value: c.value}
		}
	}

	return results, nil
}

// Format prints a tree-style view starting from root nodes, using ASCII
// branch glyphs, per spec.md §4.K.
func (g *Graph) Format(w io.Writer, format func(n *Node) string) error {
	roots := append([]string(nil), g.Roots...)
	sort.Strings(roots)
	for _, root := range roots {
		node := g.Nodes[root]
		if _, err := fmt.Fprintf(w, "%s\n", format(node)); err != nil {
			return err
		}
		if err := g.formatChildren(w, node.Edges, "", format); err != nil {
			return err
		}
	}
	return nil
}

func (g *Graph) formatChildren(w io.Writer, edges []Edge, prefix string, format func(n *Node) string) error {
	for i, e := range edges {
		last := i == len(edges)-1
		node := g.Nodes[e.Double]

		branch, nextPrefix := "├── ", prefix+"│   "
		if last {
			branch, nextPrefix = "└── ", prefix+"    "
		}
		if _, err := fmt.Fprintf(w, "%s%s%s\n", prefix, branch, format(node)); err != nil {
			return err
		}
		if err := g.formatChildren(w, node.Edges, nextPrefix, format); err != nil {
			return err
		}
	}
	return nil
}
