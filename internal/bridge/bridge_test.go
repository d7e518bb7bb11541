package bridge_test

import (
	"os"
	"path/filepath"
	"testing"

	"blaze/internal/bridge"
	"blaze/internal/processlock"
)

func writePackageJSON(t *testing.T, dir, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, "package.json"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestLoadNodePackageDefaultsBuildToScriptPresence(t *testing.T) {
	dir := t.TempDir()
	writePackageJSON(t, dir, `{
		"blaze.version": "1",
		"blaze.type": "executor",
		"blaze.path": "index.mjs",
		"scripts": {"build": "tsc"}
	}`)
	pkg, err := bridge.LoadNodePackage(dir)
	if err != nil {
		t.Fatal(err)
	}
	if pkg.Build != "build" {
		t.Fatalf("expected default build script to be picked up, got %q", pkg.Build)
	}
	if !pkg.Install {
		t.Fatal("expected install to default to true")
	}
}

func TestLoadNodePackageExplicitBuildFalseDisablesBuild(t *testing.T) {
	dir := t.TempDir()
	writePackageJSON(t, dir, `{
		"blaze.version": "1",
		"blaze.type": "executor",
		"blaze.path": "index.mjs",
		"scripts": {"build": "tsc"},
		"blaze.build": false
	}`)
	pkg, err := bridge.LoadNodePackage(dir)
	if err != nil {
		t.Fatal(err)
	}
	if pkg.Build != "" {
		t.Fatalf("expected no build script, got %q", pkg.Build)
	}
}

func TestLoadNodePackageRejectsWrongVersion(t *testing.T) {
	dir := t.TempDir()
	writePackageJSON(t, dir, `{"blaze.version": "2", "blaze.type": "executor", "blaze.path": "index.mjs"}`)
	if _, err := bridge.LoadNodePackage(dir); err == nil {
		t.Fatal("expected an error for unsupported blaze.version")
	}
}

func TestLoadNodePackageRejectsExplicitBuildTrueWithoutScript(t *testing.T) {
	dir := t.TempDir()
	writePackageJSON(t, dir, `{
		"blaze.version": "1",
		"blaze.type": "executor",
		"blaze.path": "index.mjs",
		"blaze.build": true
	}`)
	if _, err := bridge.LoadNodePackage(dir); err == nil {
		t.Fatal("expected an error when blaze.build=true but no default script exists")
	}
}

func TestIsNodeExecutorDetectsPackageJSON(t *testing.T) {
	dir := t.TempDir()
	ok, err := bridge.IsNodeExecutor(dir)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("expected false without a package.json")
	}
	writePackageJSON(t, dir, `{}`)
	ok, err = bridge.IsNodeExecutor(dir)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected true once package.json exists")
	}
}

func TestInstallBridgeExecutableReusesMatchingChecksum(t *testing.T) {
	root := t.TempDir()
	locker, err := processlock.New(filepath.Join(root, "locks"))
	if err != nil {
		t.Fatal(err)
	}
	src := bridge.BridgeBinarySource{Bytes: []byte("fake-binary-bytes"), Checksum: "abc123"}

	path1, err := bridge.InstallBridgeExecutable(locker, root, src)
	if err != nil {
		t.Fatal(err)
	}
	info1, err := os.Stat(path1)
	if err != nil {
		t.Fatal(err)
	}

	path2, err := bridge.InstallBridgeExecutable(locker, root, src)
	if err != nil {
		t.Fatal(err)
	}
	if path1 != path2 {
		t.Fatalf("expected stable bridge path, got %q then %q", path1, path2)
	}
	info2, _ := os.Stat(path2)
	if !info1.ModTime().Equal(info2.ModTime()) {
		t.Fatal("expected matching checksum to skip rewriting the bridge executable")
	}
}

func TestInstallBridgeExecutableRewritesOnChecksumMismatch(t *testing.T) {
	root := t.TempDir()
	locker, err := processlock.New(filepath.Join(root, "locks"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := bridge.InstallBridgeExecutable(locker, root, bridge.BridgeBinarySource{Bytes: []byte("v1"), Checksum: "v1sum"}); err != nil {
		t.Fatal(err)
	}
	path, err := bridge.InstallBridgeExecutable(locker, root, bridge.BridgeBinarySource{Bytes: []byte("v2"), Checksum: "v2sum"})
	if err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "v2" {
		t.Fatalf("expected rewritten bridge contents %q, got %q", "v2", string(data))
	}
}
