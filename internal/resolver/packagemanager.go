package resolver

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"blaze/internal/domain"
	"blaze/internal/jsonvalue"
	"blaze/internal/procsup"
)

// packageManagerResolver resolves LocationNpm and LocationCargo packages
// by shelling out to the corresponding package manager's install command
// via the Process Supervisor, the same way the teacher's
// internal/core.Executor runs a target's build command.
//
// Grounded on original_source/core/src/executors/resolve/npm.rs and
// cargo.rs, which fetch a versioned package into a scoped directory.
// Per SPEC_FULL.md §6(a), neither supports Update: every run reinstalls.
type packageManagerResolver struct {
	root    string
	program string
	args    func(ref domain.ExecutorReference, destDir string) []string
	loc     domain.LocationKind
}

func npmResolver(root string) packageManagerResolver {
	return packageManagerResolver{
		root:    root,
		program: "npm",
		loc:     domain.LocationNpm,
		args: func(ref domain.ExecutorReference, destDir string) []string {
			spec := npmPackageSpec(ref)
			return []string{"install", "--no-save", "--prefix", destDir, spec}
		},
	}
}

func cargoResolver(root string) packageManagerResolver {
	return packageManagerResolver{
		root:    root,
		program: "cargo",
		loc:     domain.LocationCargo,
		args: func(ref domain.ExecutorReference, destDir string) []string {
			args := []string{"install", "--root", destDir, packageNameFromURL(ref.URL)}
			if ref.Version != "" {
				args = append(args, "--version", ref.Version)
			}
			return args
		},
	}
}

func npmPackageSpec(ref domain.ExecutorReference) string {
	name := packageNameFromURL(ref.URL)
	if ref.Version == "" {
		return name
	}
	return name + "@" + ref.Version
}

func packageNameFromURL(url string) string {
	if i := strings.IndexByte(url, ':'); i >= 0 {
		return url[i+1:]
	}
	return url
}

func (r packageManagerResolver) workDir(ref domain.ExecutorReference) string {
	return filepath.Join(r.root, ".blaze", "resolved", fmt.Sprintf("%016x", ref.PackageID()))
}

func (r packageManagerResolver) Resolve(ref domain.ExecutorReference) (ExecutorSource, jsonvalue.Value, error) {
	dir := r.workDir(ref)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return ExecutorSource{}, jsonvalue.Null(), fmt.Errorf("creating %s install directory: %w", r.program, err)
	}

	env := os.Environ()
	if ref.Token != "" {
		env = append(env, fmt.Sprintf("BLAZE_%s_TOKEN=%s", r.program, ref.Token))
	}

	p, err := procsup.Run(context.Background(), r.program, r.args(ref, dir), procsup.Options{Cwd: dir, Environment: env})
	if err != nil {
		return ExecutorSource{}, jsonvalue.Null(), fmt.Errorf("spawning %s: %w", r.program, err)
	}
	out, err := p.Stdout()
	if err == nil {
		_, _ = io.Copy(io.Discard, out)
	}
	res, err := p.Wait()
	if err != nil {
		return ExecutorSource{}, jsonvalue.Null(), fmt.Errorf("waiting on %s: %w", r.program, err)
	}
	if !res.Success {
		return ExecutorSource{}, jsonvalue.Null(), fmt.Errorf("%s exited with code %d resolving %q", r.program, res.Code, ref.URL)
	}
	return ExecutorSource{Path: dir}, jsonvalue.Null(), nil
}

func (r packageManagerResolver) Update(ref domain.ExecutorReference, _ jsonvalue.Value) (ExecutorSource, *jsonvalue.Value, error) {
	return ExecutorSource{}, nil, errUnsupportedUpdate{location: r.loc}
}

func (packageManagerResolver) SupportsUpdate() bool { return false }
