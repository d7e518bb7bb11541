// Package invalidation implements the Invalidation Checks (spec.md §4.I):
// the pluggable state()/validate() pairs the Execution Cache Driver
// composes per Target, each keyed by a well-known metadata key.
//
// Grounded on original_source/common/src/cache.rs's InvalidationStrategy
// (the set of configurable checks and their field shapes) and
// original_source/core/src/usecases (command-fails spawns an external
// process the same way the Executor Bridge does, reusing
// internal/procsup).
package invalidation

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"blaze/internal/domain"
	"blaze/internal/fingerprint"
	"blaze/internal/jsonvalue"
	"blaze/internal/procsup"
)

// ChildResult is one dependency's outcome, as the Execution Cache Driver
// sees it when assembling the child-executions check (spec.md §4.I).
type ChildResult struct {
	Double      string
	Propagation domain.CachePropagation
	Hash        uint64
}

// ExecutionContext is everything a Check needs to compute its state or
// validate cached state for one TargetExecution.
type ExecutionContext struct {
	Project           *domain.Project
	Target            string
	Options           jsonvalue.Value
	HasExecutor       bool
	ExecutorNonce     uint64
	Children          []ChildResult
	Now               time.Time
	PriorExecutionTime *time.Time // nil when no prior ExecutionCacheState exists.
}

// Check is one pluggable invalidation check (spec.md §4.I): State
// produces the fragment of metadata to persist after a successful run
// (ok=false means it contributes nothing), Validate decides whether
// previously cached state (which may be absent even if State once
// produced data, e.g. a check added after the fact) still holds.
type Check interface {
	Key() string
	State(ctx ExecutionContext) (data []byte, ok bool)
	Validate(ctx ExecutionContext, cached map[string][]byte) bool
}

// Build assembles the ordered list of checks for one Target's
// InvalidationSpec, per spec.md §4.J step 2: child-propagation always
// first, executor-identity next if an executor is in play, then every
// configured check in the order ttl / files-missing / input-changes /
// output-changes / command-fails / env-changes.
func Build(spec *domain.InvalidationSpec, hasExecutor bool) []Check {
	checks := []Check{childExecutionsCheck{}}
	if hasExecutor {
		checks = append(checks, executorStateCheck{})
	}
	if spec == nil {
		return checks
	}
	if spec.TTL != nil {
		checks = append(checks, ttlCheck{spec: *spec.TTL})
	}
	if len(spec.FilesMissing) > 0 {
		checks = append(checks, filesMissingCheck{paths: spec.FilesMissing})
	}
	if spec.InputChanges != nil {
		checks = append(checks, fileChangesCheck{key: "input-file-changes", spec: *spec.InputChanges})
	}
	if spec.OutputChanges != nil {
		checks = append(checks, fileChangesCheck{key: "output-file-changes", spec: *spec.OutputChanges})
	}
	if spec.CommandFails != nil {
		checks = append(checks, commandFailsCheck{spec: *spec.CommandFails})
	}
	if len(spec.Env) > 0 {
		checks = append(checks, envCheck{names: spec.Env})
	}
	return checks
}

// childExecutionsCheck is always prepended by Build because it reflects
// graph wiring, not Target configuration (spec.md §4.I).
type childExecutionsCheck struct{}

func (childExecutionsCheck) Key() string { return "child-executions" }

func (childExecutionsCheck) State(ctx ExecutionContext) ([]byte, bool) {
	m := make(map[string]uint64, len(ctx.Children))
	for _, c := range ctx.Children {
		if c.Propagation != domain.PropagateNever {
			m[c.Double] = c.Hash
		}
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, false
	}
	return data, true
}

func (childExecutionsCheck) Validate(ctx ExecutionContext, cached map[string][]byte) bool {
	raw, ok := cached["child-executions"]
	if !ok {
		return false
	}
	var prior map[string]uint64
	if err := json.Unmarshal(raw, &prior); err != nil {
		return false
	}
	current := make(map[string]uint64, len(ctx.Children))
	for _, c := range ctx.Children {
		current[c.Double] = c.Hash
	}
	for double, hash := range prior {
		h, ok := current[double]
		if !ok || h != hash {
			return false
		}
	}
	return true
}

// executorStateCheck validates the resolver's reported nonce hasn't
// changed, i.e. the resolved executor package is still the one the cache
// entry was produced against.
type executorStateCheck struct{}

func (executorStateCheck) Key() string { return "executor_state" }

func (executorStateCheck) State(ctx ExecutionContext) ([]byte, bool) {
	if !ctx.HasExecutor {
		return nil, false
	}
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], ctx.ExecutorNonce)
	return buf[:], true
}

func (executorStateCheck) Validate(ctx ExecutionContext, cached map[string][]byte) bool {
	raw, ok := cached["executor_state"]
	if !ok || len(raw) != 8 {
		return false
	}
	return binary.BigEndian.Uint64(raw) == ctx.ExecutorNonce
}

// ttlCheck implements the `ttl`/expired check. It only compares the
// deadline and does not call domain.TTLSpec.Validate: with a zero Amount
// the deadline is the recorded time itself, so the entry is invalid as
// soon as the clock has moved past it.
type ttlCheck struct{ spec domain.TTLSpec }

func (ttlCheck) Key() string { return "ttl" }

func (ttlCheck) State(ctx ExecutionContext) ([]byte, bool) {
	data, err := ctx.Now.MarshalBinary()
	if err != nil {
		return nil, false
	}
	return data, true
}

func (c ttlCheck) Validate(ctx ExecutionContext, cached map[string][]byte) bool {
	raw, ok := cached["ttl"]
	if !ok {
		return false
	}
	var at time.Time
	if err := at.UnmarshalBinary(raw); err != nil {
		return false
	}
	deadline := at.Add(c.spec.Unit.Duration(c.spec.Amount))
	return !deadline.Before(ctx.Now)
}

// fileChangesCheck backs both input-file-changes and output-file-changes;
// only the configured key and matcher spec differ.
type fileChangesCheck struct {
	key  string
	spec domain.FileChangesSpec
}

func (c fileChangesCheck) Key() string { return c.key }

func (c fileChangesCheck) current(ctx ExecutionContext, prior fingerprint.MatchedFilesState) (fingerprint.MatchedFilesState, error) {
	paths, err := fingerprint.Match(ctx.Project.Root, c.spec)
	if err != nil {
		return nil, err
	}
	return fingerprint.ComputeState(paths, c.spec.Behavior, prior)
}

func (c fileChangesCheck) State(ctx ExecutionContext) ([]byte, bool) {
	state, err := c.current(ctx, nil)
	if err != nil {
		return nil, false
	}
	data, err := json.Marshal(state)
	if err != nil {
		return nil, false
	}
	return data, true
}

func (c fileChangesCheck) Validate(ctx ExecutionContext, cached map[string][]byte) bool {
	raw, ok := cached[c.key]
	if !ok {
		return false
	}
	var prior fingerprint.MatchedFilesState
	if err := json.Unmarshal(raw, &prior); err != nil {
		return false
	}
	current, err := c.current(ctx, prior)
	if err != nil {
		return false
	}
	_, changes := fingerprint.Merge(prior, current, c.spec.Behavior)
	return len(changes) == 0
}

// commandFailsCheck spawns an external process both to validate (must
// exit 0) and, opportunistically, from State so the script can observe
// "was this the first time?" via the fixed environment (spec.md §4.I).
type commandFailsCheck struct{ spec domain.CommandFailsSpec }

func (commandFailsCheck) Key() string { return "command-fails" }

func (c commandFailsCheck) run(ctx ExecutionContext) (bool, error) {
	optionsJSON, err := json.Marshal(ctx.Options)
	if err != nil {
		return false, fmt.Errorf("invalidation: encoding options: %w", err)
	}
	env := append(os.Environ(),
		"BLAZE_PROJECT="+ctx.Project.Name,
		"BLAZE_TARGET="+ctx.Target,
		"BLAZE_OPTIONS="+string(optionsJSON),
	)
	if ctx.PriorExecutionTime != nil {
		env = append(env, fmt.Sprintf("BLAZE_LAST_EXECUTION_TIME=%d", ctx.PriorExecutionTime.UnixMilli()))
	} else {
		env = append(env, "BLAZE_FRESH_EXECUTION=true")
	}

	proc, err := procsup.Run(context.Background(), c.spec.Program, c.spec.Args, procsup.Options{
		Cwd:         ctx.Project.Root,
		Environment: env,
	})
	if err != nil {
		return false, err
	}
	res, err := proc.Wait()
	if err != nil {
		return false, err
	}
	return res.Success, nil
}

func (c commandFailsCheck) State(ctx ExecutionContext) ([]byte, bool) {
	_, _ = c.run(ctx)
	return []byte{}, true
}

func (c commandFailsCheck) Validate(ctx ExecutionContext, _ map[string][]byte) bool {
	ok, err := c.run(ctx)
	return err == nil && ok
}

// envCheck implements the `env` check: the named variables' values must
// be byte-identical to the cached snapshot.
type envCheck struct{ names []string }

func (envCheck) Key() string { return "env" }

func (c envCheck) snapshot() map[string]string {
	m := make(map[string]string, len(c.names))
	for _, n := range c.names {
		m[n] = os.Getenv(n)
	}
	return m
}

func (c envCheck) State(ExecutionContext) ([]byte, bool) {
	data, err := json.Marshal(c.snapshot())
	if err != nil {
		return nil, false
	}
	return data, true
}

func (c envCheck) Validate(ctx ExecutionContext, cached map[string][]byte) bool {
	raw, ok := cached["env"]
	if !ok {
		return false
	}
	var prior map[string]string
	if err := json.Unmarshal(raw, &prior); err != nil {
		return false
	}
	current := c.snapshot()
	if len(prior) != len(current) {
		return false
	}
	for k, v := range prior {
		if current[k] != v {
			return false
		}
	}
	return true
}

// filesMissingCheck produces no state (spec.md §4.I): it only ever
// invalidates based on the live filesystem.
type filesMissingCheck struct{ paths []string }

func (filesMissingCheck) Key() string { return "files-missing" }

func (filesMissingCheck) State(ExecutionContext) ([]byte, bool) { return nil, false }

func (c filesMissingCheck) Validate(ctx ExecutionContext, _ map[string][]byte) bool {
	for _, p := range c.paths {
		full := p
		if !filepath.IsAbs(full) {
			full = filepath.Join(ctx.Project.Root, full)
		}
		if _, err := os.Stat(full); err != nil {
			return false
		}
	}
	return true
}
