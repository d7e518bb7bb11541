package bridge_test

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"blaze/internal/bridge"
)

func writeCargoToml(t *testing.T, dir, body string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, "Cargo.toml"), []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
}

const validCargoToml = `
[package]
name = "my-executor"

[package.metadata.blaze]
exported = "run"
type = "executor"
version = "1"

[lib]
crate-type = ["rlib", "dylib"]
`

func TestIsRustExecutor(t *testing.T) {
	dir := t.TempDir()
	ok, err := bridge.IsRustExecutor(dir)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("expected no Cargo.toml to report false")
	}

	writeCargoToml(t, dir, validCargoToml)
	ok, err = bridge.IsRustExecutor(dir)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected Cargo.toml to report true")
	}
}

func TestLoadRustPackageValid(t *testing.T) {
	dir := t.TempDir()
	writeCargoToml(t, dir, validCargoToml)

	pkg, err := bridge.LoadRustPackage(dir)
	if err != nil {
		t.Fatal(err)
	}
	if pkg.Name != "my-executor" || pkg.ExportedFn != "run" || pkg.Root != dir {
		t.Fatalf("unexpected package %+v", pkg)
	}
}

func TestLoadRustPackageRejectsMissingCrateType(t *testing.T) {
	dir := t.TempDir()
	writeCargoToml(t, dir, `
[package]
name = "my-executor"

[package.metadata.blaze]
exported = "run"
type = "executor"
version = "1"

[lib]
crate-type = ["rlib"]
`)
	_, err := bridge.LoadRustPackage(dir)
	if err == nil || !strings.Contains(err.Error(), "crate-type") {
		t.Fatalf("expected a crate-type error, got %v", err)
	}
}

func TestLoadRustPackageRejectsWrongMetadataType(t *testing.T) {
	dir := t.TempDir()
	writeCargoToml(t, dir, `
[package]
name = "my-executor"

[package.metadata.blaze]
exported = "run"
type = "library"
version = "1"

[lib]
crate-type = ["rlib", "dylib"]
`)
	_, err := bridge.LoadRustPackage(dir)
	if err == nil || !strings.Contains(err.Error(), "metadata.blaze.type") {
		t.Fatalf("expected a metadata.blaze.type error, got %v", err)
	}
}

func TestLoadRustPackageRejectsWrongVersion(t *testing.T) {
	dir := t.TempDir()
	writeCargoToml(t, dir, `
[package]
name = "my-executor"

[package.metadata.blaze]
exported = "run"
type = "executor"
version = "2"

[lib]
crate-type = ["rlib", "dylib"]
`)
	_, err := bridge.LoadRustPackage(dir)
	if err == nil || !strings.Contains(err.Error(), "metadata.blaze.version") {
		t.Fatalf("expected a metadata.blaze.version error, got %v", err)
	}
}

func TestLoadRustPackageRejectsMissingExported(t *testing.T) {
	dir := t.TempDir()
	writeCargoToml(t, dir, `
[package]
name = "my-executor"

[package.metadata.blaze]
type = "executor"
version = "1"

[lib]
crate-type = ["rlib", "dylib"]
`)
	_, err := bridge.LoadRustPackage(dir)
	if err == nil || !strings.Contains(err.Error(), "exported") {
		t.Fatalf("expected an exported error, got %v", err)
	}
}

func TestRustExecutorPackageToRustPackage(t *testing.T) {
	dir := t.TempDir()
	writeCargoToml(t, dir, validCargoToml)
	pkg, err := bridge.LoadRustPackage(dir)
	if err != nil {
		t.Fatal(err)
	}

	rp := pkg.ToRustPackage()
	if rp.ExportedSymbolName != "run" {
		t.Fatalf("expected exported symbol to round-trip, got %q", rp.ExportedSymbolName)
	}

	var want string
	switch runtime.GOOS {
	case "windows":
		want = "my-executor.dll"
	case "darwin":
		want = "libmy-executor.dylib"
	default:
		want = "libmy-executor.so"
	}
	if filepath.Base(rp.LibraryPath) != want {
		t.Fatalf("expected library filename %q, got %q", want, filepath.Base(rp.LibraryPath))
	}
	if filepath.Dir(rp.LibraryPath) != filepath.Join(dir, "target", "release") {
		t.Fatalf("expected library path under target/release, got %q", rp.LibraryPath)
	}
}
