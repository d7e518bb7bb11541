package resolver

import (
	"archive/tar"
	"compress/gzip"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"blaze/internal/domain"
	"blaze/internal/jsonvalue"
)

// tarballResolver downloads and extracts a LocationTarballHTTP package.
//
// Grounded on original_source/downloads/src/main.rs (fetch-then-extract
// download flow) and resolve/http_git.rs's sibling transport-over-HTTP
// resolver. archive/tar and compress/gzip are stdlib here because no
// repo in the retrieval pack imports a third-party tar/gzip library
// (net/http-based downloaders in the pack, e.g. sourcegraph-src-cli,
// likewise decompress via the standard library) — see DESIGN.md.
//
// Per SPEC_FULL.md §6(a), tarball packages never support Update: every
// run re-downloads and re-extracts.
type tarballResolver struct {
	root string
}

func (r tarballResolver) workDir(ref domain.ExecutorReference) string {
	return filepath.Join(r.root, ".blaze", "resolved", fmt.Sprintf("%016x", ref.PackageID()))
}

func (r tarballResolver) Resolve(ref domain.ExecutorReference) (ExecutorSource, jsonvalue.Value, error) {
	dir := r.workDir(ref)
	_ = os.RemoveAll(dir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return ExecutorSource{}, jsonvalue.Null(), fmt.Errorf("creating tarball working directory: %w", err)
	}

	req, err := http.NewRequest(http.MethodGet, ref.URL, nil)
	if err != nil {
		return ExecutorSource{}, jsonvalue.Null(), fmt.Errorf("building request for %q: %w", ref.URL, err)
	}
	for k, v := range ref.Headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return ExecutorSource{}, jsonvalue.Null(), fmt.Errorf("downloading %q: %w", ref.URL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return ExecutorSource{}, jsonvalue.Null(), fmt.Errorf("downloading %q: unexpected status %s", ref.URL, resp.Status)
	}

	gz, err := gzip.NewReader(resp.Body)
	if err != nil {
		return ExecutorSource{}, jsonvalue.Null(), fmt.Errorf("opening gzip stream for %q: %w", ref.URL, err)
	}
	defer gz.Close()

	if err := extractTar(gz, dir); err != nil {
		return ExecutorSource{}, jsonvalue.Null(), fmt.Errorf("extracting %q: %w", ref.URL, err)
	}
	return ExecutorSource{Path: dir}, jsonvalue.Null(), nil
}

func extractTar(r io.Reader, dest string) error {
	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		target := filepath.Join(dest, filepath.Clean(hdr.Name))
		if !strings.HasPrefix(target, filepath.Clean(dest)+string(os.PathSeparator)) {
			return fmt.Errorf("tar entry %q escapes destination", hdr.Name)
		}
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, os.FileMode(hdr.Mode))
			if err != nil {
				return err
			}
			if _, err := io.Copy(f, tr); err != nil {
				f.Close()
				return err
			}
			f.Close()
		}
	}
}

func (r tarballResolver) Update(ref domain.ExecutorReference, _ jsonvalue.Value) (ExecutorSource, *jsonvalue.Value, error) {
	return ExecutorSource{}, nil, errUnsupportedUpdate{location: domain.LocationTarballHTTP}
}

func (tarballResolver) SupportsUpdate() bool { return false }
