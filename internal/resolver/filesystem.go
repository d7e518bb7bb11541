package resolver

import (
	"fmt"
	"os"
	"strings"

	"blaze/internal/domain"
	"blaze/internal/jsonvalue"
)

// fsResolver resolves LocationFile references: the URL already names a
// local directory, so there is nothing to fetch, only to verify.
//
// Grounded on original_source/core/src/executors/resolve/file_system.rs's
// role in resolver_for_location: the simplest resolver in the pack,
// since LocalFileSystem carries no identity-affecting fields beyond the
// URL itself (domain.ExecutorReference.PackageID agrees).
type fsResolver struct{}

func (fsResolver) Resolve(ref domain.ExecutorReference) (ExecutorSource, jsonvalue.Value, error) {
	path := strings.TrimPrefix(ref.URL, "file://")
	info, err := os.Stat(path)
	if err != nil {
		return ExecutorSource{}, jsonvalue.Null(), fmt.Errorf("filesystem executor %q: %w", path, err)
	}
	if !info.IsDir() {
		return ExecutorSource{}, jsonvalue.Null(), fmt.Errorf("filesystem executor %q is not a directory", path)
	}
	return ExecutorSource{Path: path}, jsonvalue.Null(), nil
}

func (r fsResolver) Update(ref domain.ExecutorReference, _ jsonvalue.Value) (ExecutorSource, *jsonvalue.Value, error) {
	src, _, err := r.Resolve(ref)
	return src, nil, err
}

func (fsResolver) SupportsUpdate() bool { return true }
