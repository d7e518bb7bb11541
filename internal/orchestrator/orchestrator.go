// Package orchestrator implements the Run Orchestrator (spec.md §4.L):
// the top-level procedure that builds the Execution Graph, resolves
// executors, invokes each node under the Execution Cache Driver and
// Process Lock, and reports a status tree plus run statistics.
//
// Grounded on original_source/core/src/commands/run.rs's run_target
// orchestration (build graph, resolve executors unless dry-run, execute
// under the graph's scheduling, print a status tree) and on the
// teacher's internal/core.Runner (internal/core/runner.go) for the
// cache-around-execution shape the Execution Cache Driver generalizes.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/zeebo/xxh3"

	"blaze/internal/bridge"
	"blaze/internal/cachestore"
	"blaze/internal/domain"
	"blaze/internal/execcache"
	"blaze/internal/graph"
	"blaze/internal/invalidation"
	"blaze/internal/jsonvalue"
	"blaze/internal/parallel"
	"blaze/internal/processlock"
	"blaze/internal/resolver"
	"blaze/internal/workspace"
)

// Orchestrator wires every other component into one Run.
type Orchestrator struct {
	Workspace *domain.Workspace
	Loader    workspace.ProjectLoader
	Logger    zerolog.Logger

	Cache    *cachestore.Store // nil disables caching; every node runs NoCache.
	Locks    *processlock.Locker
	Resolver *resolver.Manager // nil (or DryRun=true) skips resolution entirely.

	// RustBridgeSource supplies the Rust bridge executable's embedded
	// bytes, wired by the build that bundles the companion bridge
	// crate's compiled output (see DESIGN.md); nil means this run never
	// invokes a Rust executor.
	RustBridgeSource bridge.BridgeBinarySource

	DryRun       bool
	DisplayGraph bool
	Colors       bool // forced on/off; callers typically set this from BLAZE_COLORS / isatty.
}

// ColorsEnabled reports the default BLAZE_COLORS policy: on when stdout
// is a terminal, off otherwise (spec.md §6), for callers that have not
// set an explicit override via the BLAZE_COLORS environment variable.
func ColorsEnabled(stdoutFd uintptr) bool {
	return isatty.IsTerminal(stdoutFd) || isatty.IsCygwinTerminal(stdoutFd)
}

// Stats summarizes one Run's outcomes (spec.md §4.L step 6).
type Stats struct {
	Executed int
	Cached   int
	Failed   int
	Pending  int // nodes canceled without running because a required dependency failed.
}

// Report is the result of one Run.
type Report struct {
	Stats Stats
	Tree  string // empty unless DisplayGraph is set.
}

type nodeStatus int

const (
	statusExecuted nodeStatus = iota
	statusCached
	statusNoop
	statusFailed
	statusIgnored
)

type nodeResult struct {
	status   nodeStatus
	duration time.Duration
	hash     uint64
	err      error
}

// Run executes target across the projects selection resolves to,
// per spec.md §4.L.
func (o *Orchestrator) Run(ctx context.Context, selection domain.Selection, target string, maxDepth *int) (*Report, error) {
	if o.Locks != nil {
		if err := o.Locks.CleanupStale(func() error { return nil }); err != nil {
			return nil, errors.Wrap(err, "orchestrator: lock cleanup maintenance")
		}
	}

	g, err := graph.Build(o.Workspace, o.Loader, selection, target, maxDepth)
	if err != nil {
		return nil, errors.Wrap(err, "orchestrator: building execution graph")
	}
	if len(g.Nodes) == 0 {
		o.Logger.Warn().Str("target", target).Msg("no matching targets; nothing to run")
		return &Report{}, nil
	}

	var resolved map[uint64]resolver.ResolvedExecutor
	if !o.DryRun && o.Resolver != nil {
		resolved, err = o.Resolver.ResolveAll(g.ExecutorReferences())
		if err != nil {
			return nil, errors.Wrap(err, "orchestrator: resolving executors")
		}
	}

	pool := parallel.New(o.Workspace.Settings.Parallelism)
	now := time.Now()

	results, err := graph.Execute(ctx, g, pool, func(n *graph.Node, children map[string]graph.Outcome[nodeResult]) (nodeResult, error) {
		return o.runNode(ctx, n, children, resolved, now)
	})
	if err != nil {
		return nil, errors.Wrap(err, "orchestrator: executing graph")
	}

	report := &Report{Stats: summarize(results)}
	if o.DisplayGraph {
		report.Tree = o.renderTree(g, results)
	}
	return report, nil
}

func summarize(results map[string]graph.Outcome[nodeResult]) Stats {
	var s Stats
	for _, r := range results {
		switch {
		case r.Canceled:
			s.Pending++
		case r.Err != nil:
			s.Failed++
		default:
			switch r.Value.status {
			case statusCached:
				s.Cached++
			default:
				s.Executed++
			}
		}
	}
	return s
}

// runNode invokes a single node: process-lock wrapping for stateful
// targets, cache-driver wrapping when a cache store exists, dispatching
// to Noop / std:commands / std:exec / a custom Node or Rust bridge
// according to the target's resolved executor, per spec.md §4.L step 4.
func (o *Orchestrator) runNode(ctx context.Context, n *graph.Node, children map[string]graph.Outcome[nodeResult], resolved map[uint64]resolver.ResolvedExecutor, now time.Time) (nodeResult, error) {
	logger := o.Logger.With().Str("double", n.Double).Logger()
	tgt := n.Project.Targets[n.Target]
	start := time.Now()

	run := func() (nodeResult, error) {
		if tgt.Executor == nil {
			return nodeResult{status: statusNoop}, nil
		}
		err := o.invoke(ctx, n, tgt, resolved, logger)
		status := statusExecuted
		if err != nil {
			status = statusFailed
		}
		return nodeResult{status: status, duration: time.Since(start), err: err}, err
	}

	var executorNonce uint64
	if tgt.Executor != nil {
		if res, ok := resolved[tgt.Executor.PackageID()]; ok {
			executorNonce = res.Nonce
		}
	}

	if tgt.Stateless {
		return o.runCached(n, tgt, children, run, logger, now, executorNonce)
	}

	lockID := xxh3.HashString(n.Double)
	var out nodeResult
	var runErr error
	err := o.Locks.Locked(lockID, func() {
		logger.Info().Msgf("waiting for %s in another process", n.Double)
	}, func() error {
		out, runErr = o.runCached(n, tgt, children, run, logger, now, executorNonce)
		return runErr
	})
	if err != nil && runErr == nil {
		return nodeResult{status: statusFailed, err: err}, err
	}
	return out, runErr
}

func (o *Orchestrator) runCached(n *graph.Node, tgt domain.Target, children map[string]graph.Outcome[nodeResult], run func() (nodeResult, error), logger zerolog.Logger, now time.Time, executorNonce uint64) (nodeResult, error) {
	childResults := make([]invalidation.ChildResult, 0, len(n.Edges))
	for _, e := range n.Edges {
		if c, ok := children[e.Double]; ok && !c.Canceled {
			childResults = append(childResults, invalidation.ChildResult{
				Double:      e.Double,
				Propagation: e.Propagation,
				Hash:        c.Value.hash,
			})
		}
	}

	result, err := execcache.Run(o.Cache, execcache.Params{
		Project:       n.Project,
		Target:        n.Target,
		TargetDef:     tgt,
		Cache:         tgt.Cache,
		Options:       toJSONValue(tgt.Options),
		Children:      childResults,
		HasExecutor:   tgt.Executor != nil,
		ExecutorNonce: executorNonce,
		Now:           now,
	}, run)
	if err != nil {
		logger.Error().Err(err).Msg("execution failed")
		return nodeResult{status: statusFailed, err: err}, err
	}

	switch result.Outcome {
	case execcache.Cached:
		logger.Debug().Msg("cache hit; skipping execution")
		return nodeResult{status: statusCached, hash: result.Hash}, nil
	default:
		value := result.Value
		value.hash = result.Hash
		return value, nil
	}
}

func (o *Orchestrator) invoke(ctx context.Context, n *graph.Node, tgt domain.Target, resolved map[uint64]resolver.ResolvedExecutor, logger zerolog.Logger) error {
	ref := *tgt.Executor
	res, ok := resolved[ref.PackageID()]
	if !ok {
		return fmt.Errorf("executor %q was not resolved for %s", ref.URL, n.Double)
	}

	execCtx := bridge.Context{Workspace: o.Workspace, Project: n.Project, Target: n.Target}
	options := toJSONValue(tgt.Options)

	if res.Source.Std {
		return o.invokeStd(ctx, ref.URL, execCtx, options, logger)
	}
	return o.invokeCustom(ctx, execCtx, res.Source.Path, options, logger)
}

func (o *Orchestrator) invokeStd(ctx context.Context, url string, execCtx bridge.Context, options jsonvalue.Value, logger zerolog.Logger) error {
	name, err := stdExecutorName(url)
	if err != nil {
		return err
	}
	switch name {
	case "commands":
		return runStdCommands(ctx, execCtx, options, logger)
	case "exec":
		return runStdExec(ctx, execCtx, options, logger)
	default:
		return fmt.Errorf("unknown standard executor %q", url)
	}
}

func (o *Orchestrator) invokeCustom(ctx context.Context, execCtx bridge.Context, root string, options jsonvalue.Value, logger zerolog.Logger) error {
	isNode, err := bridge.IsNodeExecutor(root)
	if err != nil {
		return fmt.Errorf("inspecting executor package at %q: %w", root, err)
	}
	if isNode {
		pkg, err := bridge.LoadNodePackage(root)
		if err != nil {
			return err
		}
		if err := pkg.Prepare(ctx); err != nil {
			return err
		}
		return pkg.Execute(execCtx, options, logger)
	}

	isRust, err := bridge.IsRustExecutor(root)
	if err != nil {
		return fmt.Errorf("inspecting executor package at %q: %w", root, err)
	}
	if !isRust {
		return fmt.Errorf("executor package at %q is neither a Node nor a Rust executor", root)
	}
	pkg, err := bridge.LoadRustPackage(root)
	if err != nil {
		return err
	}
	if err := pkg.Prepare(ctx); err != nil {
		return err
	}
	return pkg.ToRustPackage().Execute(execCtx, options, o.Locks, o.RustBridgeSource, logger)
}

// renderTree formats the graph with status annotations, using
// github.com/fatih/color gated by Colors (spec.md §4.L step 5, §6's
// BLAZE_COLORS).
func (o *Orchestrator) renderTree(g *graph.Graph, results map[string]graph.Outcome[nodeResult]) string {
	color.NoColor = !o.Colors

	var sb strings.Builder
	_ = g.Format(&sb, func(n *graph.Node) string {
		return n.Double + " " + annotate(results[n.Double])
	})
	return sb.String()
}

func annotate(r graph.Outcome[nodeResult]) string {
	switch {
	case r.Canceled:
		return color.New(color.FgYellow).Sprint("(ignored)")
	case r.Err != nil:
		return color.New(color.FgRed).Sprintf("(failed: %v)", r.Err)
	default:
		switch r.Value.status {
		case statusCached:
			return color.New(color.FgCyan).Sprint("(cached)")
		case statusNoop:
			return color.New(color.FgWhite).Sprint("(noop)")
		default:
			return color.New(color.FgGreen).Sprintf("(executed in %s)", r.Value.duration.Round(time.Millisecond))
		}
	}
}

// stdExecutorName extracts the opaque part of a std: URL ("std:commands"
// -> "commands"), grounded on how net/url.Parse treats a scheme with no
// "//" authority.
func stdExecutorName(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("bad standard executor url %q: %w", raw, err)
	}
	return u.Opaque, nil
}

func toJSONValue(options map[string]any) jsonvalue.Value {
	data, err := json.Marshal(options)
	if err != nil {
		return jsonvalue.Null()
	}
	var v jsonvalue.Value
	if err := v.UnmarshalJSON(data); err != nil {
		return jsonvalue.Null()
	}
	return v
}
