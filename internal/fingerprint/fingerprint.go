// Package fingerprint implements the File-Fingerprint Engine (spec.md
// §4.B): enumerating files by glob pattern and computing/comparing
// per-file state (mtime, hash, or both).
//
// Grounded on the teacher's internal/core.InputResolver (glob expansion,
// strict sort, path normalization), generalized from "read content for
// hashing" to the three configurable comparison behaviors the execution
// cache's invalidation checks need.
package fingerprint

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/zeebo/xxh3"

	"blaze/internal/domain"
)

// FileState is the per-file fingerprint recorded for one behavior.
type FileState struct {
	MTime   int64 // unix nanoseconds; present for Timestamps and Mixed.
	HashSet bool
	Hash    uint64 // xxh3-64 of file content; present for Hash and Mixed.
}

// MatchedFilesState maps path -> FileState for every file matched by the
// matchers of a single behavior.
type MatchedFilesState map[string]FileState

// ChangeKind classifies how a path differs between two MatchedFilesStates.
type ChangeKind int

const (
	Created ChangeKind = iota
	Removed
	Modified
)

// Change is one path's classification from Merge.
type Change struct {
	Path string
	Kind ChangeKind
}

// Match enumerates every file selected by matcher, rooted at matcher.Root
// (or baseDir if Root is empty). Absolute patterns and ".." segments are
// rejected per spec.md §4.B.
func Match(baseDir string, matcher domain.FileChangesSpec) ([]string, error) {
	if filepath.IsAbs(matcher.Pattern) {
		return nil, fmt.Errorf("fingerprint: absolute patterns are not allowed: %q", matcher.Pattern)
	}
	if containsDotDot(matcher.Pattern) {
		return nil, fmt.Errorf("fingerprint: %q must not contain '..' segments", matcher.Pattern)
	}
	root := matcher.Root
	if root == "" {
		root = baseDir
	} else if filepath.IsAbs(root) {
		return nil, fmt.Errorf("fingerprint: absolute roots are not allowed: %q", root)
	} else {
		root = filepath.Join(baseDir, root)
	}

	fsys := os.DirFS(root)
	matches, err := doublestar.Glob(fsys, matcher.Pattern)
	if err != nil {
		return nil, fmt.Errorf("fingerprint: invalid pattern %q: %w", matcher.Pattern, err)
	}

	excluded := make([]func(string) bool, 0, len(matcher.Excludes))
	for _, ex := range matcher.Excludes {
		pattern := ex
		excluded = append(excluded, func(p string) bool {
			ok, _ := doublestar.Match(pattern, p)
			return ok
		})
	}

	out := make([]string, 0, len(matches))
	for _, m := range matches {
		full := filepath.Join(root, m)
		info, err := os.Lstat(full)
		if err != nil {
			return nil, fmt.Errorf("fingerprint: stat %q: %w", full, err)
		}
		resolved := full
		if info.Mode()&os.ModeSymlink != 0 {
			target, err := filepath.EvalSymlinks(full)
			if err != nil {
				return nil, fmt.Errorf("fingerprint: resolving symlink %q: %w", full, err)
			}
			resolved = target
			info, err = os.Stat(resolved)
			if err != nil {
				return nil, fmt.Errorf("fingerprint: stat symlink target %q: %w", resolved, err)
			}
		}
		if info.IsDir() {
			continue
		}
		skip := false
		for _, isExcluded := range excluded {
			if isExcluded(m) {
				skip = true
				break
			}
		}
		if skip {
			continue
		}
		out = append(out, filepath.ToSlash(resolved))
	}
	sort.Strings(out)
	return out, nil
}

func containsDotDot(pattern string) bool {
	for _, seg := range strings.Split(filepath.ToSlash(pattern), "/") {
		if seg == ".." {
			return true
		}
	}
	return false
}

// ComputeState stats (and, depending on behavior, hashes) every path in
// paths, producing the MatchedFilesState the Execution Cache Driver's
// invalidation checks compare against prior state. prior is the
// previously recorded state for the same matcher, or nil when none
// exists yet (e.g. the State() call after a fresh run); when non-nil and
// behavior is Mixed, a path whose mtime matches its entry in prior skips
// rehashing entirely and reuses the prior hash, per spec.md §4.B /
// testable property #6 ("if mtime is unchanged, no hash is computed").
func ComputeState(paths []string, behavior domain.FileChangesBehavior, prior MatchedFilesState) (MatchedFilesState, error) {
	state := make(MatchedFilesState, len(paths))
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, fmt.Errorf("fingerprint: stat %q: %w", p, err)
		}
		fs := FileState{}
		if behavior == domain.BehaviorTimestamps || behavior == domain.BehaviorMixed {
			fs.MTime = info.ModTime().UnixNano()
		}

		needHash := behavior == domain.BehaviorHash
		if behavior == domain.BehaviorMixed {
			if prevSt, ok := prior[p]; ok && prevSt.HashSet && prevSt.MTime == fs.MTime {
				fs.Hash = prevSt.Hash
				fs.HashSet = true
			} else {
				needHash = true
			}
		}
		if needHash {
			h, err := hashFile(p)
			if err != nil {
				return nil, err
			}
			fs.Hash = h
			fs.HashSet = true
		}
		state[p] = fs
	}
	return state, nil
}

func hashFile(path string) (uint64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("fingerprint: opening %q: %w", path, err)
	}
	defer f.Close()
	h := xxh3.New()
	if _, err := io.Copy(h, f); err != nil {
		return 0, fmt.Errorf("fingerprint: hashing %q: %w", path, err)
	}
	return h.Sum64(), nil
}

// Merge classifies every path in now against previous, per spec.md §4.B:
// Created (new only), Removed (previous only), Modified (both, state
// differs). For Mixed, if mtime is unchanged the file is unmodified
// without rehashing (the "Mixed optimization"); when mtime differs, the
// hash is recomputed and only a hash mismatch yields Modified, but the
// returned new_state always carries the refreshed mtime.
func Merge(previous, now MatchedFilesState, behavior domain.FileChangesBehavior) (newState MatchedFilesState, changes []Change) {
	newState = make(MatchedFilesState, len(now))
	paths := make([]string, 0, len(now)+len(previous))
	seen := make(map[string]struct{}, len(now)+len(previous))
	for p := range now {
		paths = append(paths, p)
		seen[p] = struct{}{}
	}
	for p := range previous {
		if _, ok := seen[p]; !ok {
			paths = append(paths, p)
		}
	}
	sort.Strings(paths)

	for _, p := range paths {
		nowSt, inNow := now[p]
		prevSt, inPrev := previous[p]

		switch {
		case inNow && !inPrev:
			changes = append(changes, Change{Path: p, Kind: Created})
			newState[p] = nowSt
		case !inNow && inPrev:
			changes = append(changes, Change{Path: p, Kind: Removed})
			// Removed paths do not survive into the new state.
		case inNow && inPrev:
			if behavior == domain.BehaviorMixed {
				if nowSt.MTime == prevSt.MTime {
					newState[p] = prevSt
					continue
				}
				// mtime changed: only a hash mismatch is a real Modified event,
				// but the mtime is refreshed either way.
				refreshed := FileState{MTime: nowSt.MTime, Hash: nowSt.Hash, HashSet: true}
				if nowSt.Hash != prevSt.Hash {
					changes = append(changes, Change{Path: p, Kind: Modified})
				}
				newState[p] = refreshed
				continue
			}
			if nowSt != prevSt {
				changes = append(changes, Change{Path: p, Kind: Modified})
			}
			newState[p] = nowSt
		}
	}
	return newState, changes
}
