// Package resolver implements the Executor Resolver (spec.md §4.G):
// turning an ExecutorReference into a runnable local source, grouped and
// locked by PackageID so two references that name the same underlying
// package are only ever resolved once, and persisted across runs via the
// Cache Store so unchanged packages are not re-fetched every invocation.
//
// Grounded on original_source/core/src/executors/resolve/mod.rs
// (resolve_executors/resolve_custom_executor): group by package id,
// take a per-package-id lock, restore persisted {nonce, resolution_state}
// from the cache store, call Resolve on first sight or Update on repeat
// sight, and cache the result with a fresh nonce whenever the resolver
// reports its state changed. Concurrency across package ids is a
// simpler, shorter-lived fan-out than the Parallel Runner's graph
// execution (internal/parallel): bounded first-error-wins resolution of
// independent package groups, which golang.org/x/sync/errgroup expresses
// directly via SetLimit + Wait.
package resolver

import (
	"crypto/rand"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"blaze/internal/cachestore"
	"blaze/internal/domain"
	"blaze/internal/jsonvalue"
	"blaze/internal/processlock"
)

// ExecutorSource is the local, runnable form an ExecutorReference resolves
// to: a directory on disk the Executor Loader (spec.md §4.H) can inspect
// for package.json/Cargo.toml metadata, or run directly for std executors.
type ExecutorSource struct {
	Path string
	Std  bool // true for std: references; Path is meaningless in that case.
}

// ResolvedExecutor is one package id's resolution outcome.
type ResolvedExecutor struct {
	Reference domain.ExecutorReference
	Source    ExecutorSource
	Nonce     uint64 // exposed as the executor's identity for cache invalidation (spec.md §4.I).
}

// Resolver resolves and incrementally updates one location kind's
// packages. SupportsUpdate reports whether Update is meaningful for this
// kind; resolvers that return false are always re-resolved from scratch
// (SPEC_FULL.md §6(a): Cargo/Npm/Tarball `update` is unsupported).
type Resolver interface {
	Resolve(ref domain.ExecutorReference) (ExecutorSource, jsonvalue.Value, error)
	Update(ref domain.ExecutorReference, state jsonvalue.Value) (ExecutorSource, *jsonvalue.Value, error)
	SupportsUpdate() bool
}

// Manager resolves ExecutorReferences into ResolvedExecutors, persisting
// state in an optional Cache Store and serializing concurrent resolution
// of the same package id via an optional Locker.
type Manager struct {
	WorkspaceRoot string
	Cache         *cachestore.Store // nil disables persistence: every run resolves fresh.
	Locks         *processlock.Locker
	Parallelism   domain.Parallelism
}

// ResolveAll resolves every reference in refs, grouping by PackageID so
// equivalent references resolve exactly once.
func (m *Manager) ResolveAll(refs []domain.ExecutorReference) (map[uint64]ResolvedExecutor, error) {
	groups := make(map[uint64][]domain.ExecutorReference)
	var order []uint64
	for _, ref := range refs {
		id := ref.PackageID()
		if _, ok := groups[id]; !ok {
			order = append(order, id)
		}
		groups[id] = append(groups[id], ref)
	}

	group := new(errgroup.Group)
	if !m.Parallelism.IsInfinite() {
		group.SetLimit(m.Parallelism.Max())
	}

	var mu sync.Mutex
	results := make(map[uint64]ResolvedExecutor, len(order))

	for _, id := range order {
		id, refsForID := id, groups[id]
		group.Go(func() error {
			res, err := m.resolveGroup(id, refsForID)
			if err != nil {
				return fmt.Errorf("resolver: resolving package %016x: %w", id, err)
			}
			mu.Lock()
			results[id] = res
			mu.Unlock()
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (m *Manager) resolveGroup(id uint64, refs []domain.ExecutorReference) (ResolvedExecutor, error) {
	run := func() (ResolvedExecutor, error) {
		var cached *ResolvedExecutor
		for _, ref := range refs {
			if ref.Location == domain.LocationStd {
				return ResolvedExecutor{Reference: ref, Source: ExecutorSource{Std: true}}, nil
			}
			res, fresh, err := m.resolveCustom(id, ref)
			if err != nil {
				return ResolvedExecutor{}, err
			}
			if fresh {
				return res, nil
			}
			if cached == nil {
				cached = &res
			}
		}
		if cached != nil {
			return *cached, nil
		}
		return ResolvedExecutor{}, fmt.Errorf("no reference in group resolved to an executor")
	}

	if m.Locks == nil {
		return run()
	}
	var result ResolvedExecutor
	err := m.Locks.Locked(id, nil, func() error {
		r, err := run()
		result = r
		return err
	})
	return result, err
}

// resolveCustom resolves or updates a single custom reference, returning
// fresh=true when it produced a new (not merely cached) source so the
// caller can stop scanning the rest of its package-id group.
func (m *Manager) resolveCustom(id uint64, ref domain.ExecutorReference) (ResolvedExecutor, bool, error) {
	r, err := resolverFor(ref.Location, m.WorkspaceRoot)
	if err != nil {
		return ResolvedExecutor{}, false, err
	}

	stateKey := fmt.Sprintf("executors/%016x", id)
	var existingState *jsonvalue.Value
	var existingNonce uint64
	if m.Cache != nil {
		entry, ok, err := m.Cache.Get(cachestore.Key(stateKey))
		if err != nil {
			return ResolvedExecutor{}, false, fmt.Errorf("restoring resolution state: %w", err)
		}
		if ok {
			existingNonce = entry.Nonce
			if raw, has := entry.Metadata["resolution_state"]; has {
				var v jsonvalue.Value
				if err := json.Unmarshal(raw, &v); err != nil {
					return ResolvedExecutor{}, false, fmt.Errorf("decoding cached resolution state: %w", err)
				}
				existingState = &v
			}
		}
	}

	var (
		src      ExecutorSource
		newState *jsonvalue.Value
		nonce    uint64
		fresh    bool
	)

	switch {
	case existingState != nil && r.SupportsUpdate():
		var err error
		src, newState, err = r.Update(ref, *existingState)
		if err != nil {
			return ResolvedExecutor{}, false, fmt.Errorf("updating executor %q: %w", ref.URL, err)
		}
		if newState != nil {
			nonce = randomNonce()
			fresh = true
		} else {
			nonce = existingNonce
			fresh = false
		}
	default:
		var state jsonvalue.Value
		var err error
		src, state, err = r.Resolve(ref)
		if err != nil {
			return ResolvedExecutor{}, false, fmt.Errorf("resolving executor %q: %w", ref.URL, err)
		}
		newState = &state
		nonce = randomNonce()
		fresh = true
	}

	if m.Cache != nil && newState != nil {
		data, err := json.Marshal(newState)
		if err != nil {
			return ResolvedExecutor{}, false, fmt.Errorf("encoding resolution state: %w", err)
		}
		if err := m.Cache.Put(cachestore.Key(stateKey), cachestore.ExecutionCacheState{
			Nonce:    nonce,
			Metadata: map[string][]byte{"resolution_state": data},
		}); err != nil {
			return ResolvedExecutor{}, false, fmt.Errorf("persisting resolution state: %w", err)
		}
	}

	return ResolvedExecutor{Reference: ref, Source: src, Nonce: nonce}, fresh, nil
}

func randomNonce() uint64 {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		// crypto/rand failing is catastrophic for the host; a zero nonce
		// degrades to "always looks unchanged" instead of crashing here.
		return 0
	}
	return binary.BigEndian.Uint64(b[:])
}
