// Package execcache implements the Execution Cache Driver (spec.md
// §4.J): deciding, for one TargetExecution, whether a cached result is
// still valid and otherwise running and persisting a fresh one.
//
// Grounded on original_source/core/src/executions/execution.rs's
// TargetExecution::cached: the same pre-nonce running hash, the same
// "all checks pass AND nonce-mixed hash matches" validity rule, and the
// same run-and-cache/invalidate-on-failure procedure, composed over
// internal/invalidation's checks and persisted via internal/cachestore.
package execcache

import (
	"crypto/rand"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"time"

	"blaze/internal/cachestore"
	"blaze/internal/domain"
	"blaze/internal/invalidation"
	"blaze/internal/jsonvalue"
)

// Outcome classifies how a TargetExecution's result was obtained,
// mirroring original_source's CachedExecutionState<T> variants.
type Outcome int

const (
	// NoCache: the target has no CacheSpec; f() always runs.
	NoCache Outcome = iota
	// Cached: a valid cache entry was found; f() did not run.
	Cached
	// New: the cache was missing, invalid, or stale; f() ran and a
	// fresh entry was written.
	New
)

func (o Outcome) String() string {
	switch o {
	case NoCache:
		return "NoCache"
	case Cached:
		return "Cached"
	case New:
		return "New"
	default:
		return fmt.Sprintf("Outcome(%d)", o)
	}
}

// Result is the outcome of one Run call. Hash is meaningful for Cached
// and New (it becomes the value a parent's child-executions check
// records); Value only carries a real result for NoCache and New, since
// a Cached outcome never re-executed f().
type Result[T any] struct {
	Outcome Outcome
	Hash    uint64
	Value   T
}

// Params is everything Run needs about the TargetExecution beyond the
// user closure itself.
type Params struct {
	Project       *domain.Project
	Target        string
	TargetDef     domain.Target // the Target's own declared value, hashed structurally by seedHash
	Cache         *domain.CacheSpec // nil => NoCache
	Options       jsonvalue.Value
	Children      []invalidation.ChildResult
	HasExecutor   bool
	ExecutorNonce uint64
	Now           time.Time
}

// Run executes the Execution Cache Driver's procedure (spec.md §4.J)
// for one TargetExecution. store may be nil, in which case every call
// behaves as NoCache (the Run Orchestrator only wires in a Driver when
// a cache store exists, spec.md §4.L step 4).
func Run[T any](store *cachestore.Store, params Params, f func() (T, error)) (Result[T], error) {
	if store == nil || params.Cache == nil {
		value, err := f()
		return Result[T]{Outcome: NoCache, Value: value}, err
	}

	double := domain.Double(params.Project.Name, params.Target)
	key := cachestore.Key(fmt.Sprintf("executions/%s", double))

	checks := invalidation.Build(&params.Cache.Invalidation, params.HasExecutor)

	preNonceHash, err := seedHash(params.Project.Root, params.TargetDef)
	if err != nil {
		return Result[T]{}, fmt.Errorf("execcache: hashing target %q: %w", double, err)
	}

	runAndCache := func() (Result[T], error) {
		value, err := f()
		if err != nil {
			if invalidateErr := store.Invalidate(key); invalidateErr != nil {
				return Result[T]{}, fmt.Errorf("execcache: invalidating %q after failed run: %w (original error: %v)", double, invalidateErr, err)
			}
			return Result[T]{}, err
		}

		ctx := invalidationContext(params)
		metadata := map[string][]byte{}
		for _, c := range checks {
			if data, ok := c.State(ctx); ok {
				metadata[c.Key()] = data
			}
		}

		nonce := randomNonce()
		newHash := mixNonce(preNonceHash, nonce)

		if err := store.Put(key, cachestore.ExecutionCacheState{
			Nonce:    nonce,
			Hash:     newHash,
			Time:     params.Now,
			Metadata: metadata,
		}); err != nil {
			return Result[T]{}, fmt.Errorf("execcache: caching %q: %w", double, err)
		}
		return Result[T]{Outcome: New, Hash: newHash, Value: value}, nil
	}

	prior, found, err := store.Get(key)
	if err != nil {
		return Result[T]{}, fmt.Errorf("execcache: reading cache entry for %q: %w", double, err)
	}
	if !found {
		return runAndCache()
	}

	ctx := invalidationContext(params)
	priorTime := prior.Time
	ctx.PriorExecutionTime = &priorTime

	for _, c := range checks {
		if !c.Validate(ctx, prior.Metadata) {
			return runAndCache()
		}
	}

	currentHash := mixNonce(preNonceHash, prior.Nonce)
	if currentHash != prior.Hash {
		return runAndCache()
	}
	return Result[T]{Outcome: Cached, Hash: currentHash}, nil
}

func invalidationContext(params Params) invalidation.ExecutionContext {
	return invalidation.ExecutionContext{
		Project:       params.Project,
		Target:        params.Target,
		Options:       params.Options,
		HasExecutor:   params.HasExecutor,
		ExecutorNonce: params.ExecutorNonce,
		Children:      params.Children,
		Now:           params.Now,
	}
}

// seedHash begins the 64-bit running hash over (project root, the
// Target value hashed structurally), the "pre-nonce hash" spec.md §4.J
// step 3 names. Hashing the Target's declared value (not just its name)
// is what makes step 5's "the target's configuration changed ⇒
// run-and-cache" branch work: a changed executor URL, options, or
// dependency list changes this hash even when every file/env/ttl check
// still passes, grounded on original_source/core/src/executions/
// execution.rs's TargetExecution::cached, which hashes
// self.project.root() and self.get_target() (the whole Target) into the
// same running hasher.
func seedHash(projectRoot string, target domain.Target) (uint64, error) {
	encoded, err := json.Marshal(target)
	if err != nil {
		return 0, fmt.Errorf("encoding target for hashing: %w", err)
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(projectRoot))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write(encoded)
	return h.Sum64(), nil
}

// randomNonce draws the fresh 64-bit nonce spec.md §4.J step 6 mixes
// into the pre-nonce hash on every run-and-cache.
func randomNonce() uint64 {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 0
	}
	return binary.BigEndian.Uint64(buf[:])
}

// mixNonce folds a nonce into a running hash the same way seedHash built
// it, so the end result is deterministic given the same (seed, nonce)
// pair regardless of call order.
func mixNonce(running, nonce uint64) uint64 {
	h := fnv.New64a()
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], running)
	_, _ = h.Write(buf[:])
	binary.BigEndian.PutUint64(buf[:], nonce)
	_, _ = h.Write(buf[:])
	return h.Sum64()
}
