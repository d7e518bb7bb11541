// Package cachestore implements the Cache Store (spec.md §4.C): persistent
// storage for one ExecutionCacheState per cache key, shared between every
// blaze process operating on a workspace.
//
// Grounded on the teacher's internal/core.FileCache (atomic temp-file-then-
// rename writes, hash-prefix directory sharding), generalized from a JSON
// stdout/stderr/artifact blob to the CBOR-encoded ExecutionCacheState
// record spec.md §4.C/§4.J describe, and from no cross-process
// coordination to advisory locking via internal/processlock (the teacher
// never needed it: script-weaver's cache is only ever touched by the one
// process that created it).
package cachestore

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/zeebo/xxh3"

	"blaze/internal/processlock"
)

// ExecutionCacheState is the persisted record for one cache key
// (spec.md §4.C, §4.J): the nonce from the most recent execution, the
// running hash it was derived from, the execution's wall-clock time,
// and a free-form metadata blob each invalidation check may read or
// write.
type ExecutionCacheState struct {
	Nonce    uint64            `cbor:"nonce"`
	Hash     uint64            `cbor:"hash"`
	Time     time.Time         `cbor:"time"`
	Metadata map[string][]byte `cbor:"metadata"`
}

// Store persists ExecutionCacheState records under dir, one file per key,
// sharded by the first two hex digits of the key's fingerprint to keep
// any single directory from growing unbounded.
type Store struct {
	dir    string
	locker *processlock.Locker
}

// Open creates (if needed) the cache directory and the lock directory
// backing its advisory locks.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cachestore: creating cache dir %q: %w", dir, err)
	}
	locker, err := processlock.New(filepath.Join(dir, "locks"))
	if err != nil {
		return nil, fmt.Errorf("cachestore: %w", err)
	}
	return &Store{dir: dir, locker: locker}, nil
}

// Key fingerprints an arbitrary cache-key string (internal/execcache
// passes "executions/{double}", internal/resolver "executors/{package
// id}") with xxh3 into the 64-bit id used to name and lock the on-disk
// entry.
func Key(seed string) uint64 {
	return xxh3.HashString(seed)
}

func (s *Store) entryPath(key uint64) string {
	name := fmt.Sprintf("%016x", key)
	return filepath.Join(s.dir, name[:2], name)
}

// Get reads the state for key, returning (_, false, nil) on a cache miss.
// A corrupt entry (spec.md §4.C: "CacheCorrupt is treated as a cache
// miss") is reported via the bool return, not an error, so callers don't
// need to special-case decode failures.
func (s *Store) Get(key uint64) (ExecutionCacheState, bool, error) {
	var state ExecutionCacheState
	var readErr error
	err := s.locker.Locked(key, nil, func() error {
		data, err := os.ReadFile(s.entryPath(key))
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			readErr = fmt.Errorf("cachestore: reading entry %016x: %w", key, err)
			return nil
		}
		if err := cbor.Unmarshal(data, &state); err != nil {
			// Corrupt entry: treat as a miss, do not propagate the decode error.
			state = ExecutionCacheState{}
			return nil
		}
		return nil
	})
	if err != nil {
		return ExecutionCacheState{}, false, err
	}
	if readErr != nil {
		return ExecutionCacheState{}, false, readErr
	}
	if state.Metadata == nil && state.Nonce == 0 && state.Hash == 0 && state.Time.IsZero() {
		return ExecutionCacheState{}, false, nil
	}
	return state, true, nil
}

// Put writes state for key, replacing any existing entry atomically.
func (s *Store) Put(key uint64, state ExecutionCacheState) error {
	data, err := cbor.Marshal(state)
	if err != nil {
		return fmt.Errorf("cachestore: encoding entry %016x: %w", key, err)
	}
	return s.locker.Locked(key, nil, func() error {
		path := s.entryPath(key)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return fmt.Errorf("cachestore: creating shard dir: %w", err)
		}
		return writeFileAtomic(path, data, 0o644)
	})
}

// Invalidate removes the entry for key, forcing the next cache check to
// treat it as a miss.
func (s *Store) Invalidate(key uint64) error {
	return s.locker.Locked(key, nil, func() error {
		err := os.Remove(s.entryPath(key))
		if err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("cachestore: invalidating entry %016x: %w", key, err)
		}
		return nil
	})
}

func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	base := filepath.Base(path)
	tmp, err := os.CreateTemp(dir, base+".tmp.*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		_ = tmp.Close()
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		return err
	}
	_ = tmp.Sync()
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return err
	}
	committed = true
	return nil
}
