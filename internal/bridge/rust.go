package bridge

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"

	"github.com/rs/zerolog"

	"blaze/internal/jsonvalue"
	"blaze/internal/processlock"
)

const (
	rustBridgeInstallLockID = processlock.RustBridgeLockID
	rustBridgeLocation      = ".blaze/rust"
	rustBridgeChecksumFile  = "checksum.txt"
)

func rustBridgeExecutableName() string {
	if runtime.GOOS == "windows" {
		return "bridge.exe"
	}
	return "bridge"
}

// RustPackage identifies a resolved Rust executor's compiled artifact:
// the dynamic library to load and the symbol it exports, grounded on
// original_source/core/src/executors/rust/executor.rs's RustExecutor.
type RustPackage struct {
	LibraryPath        string
	ExportedSymbolName string
}

// BridgeBinarySource supplies the embedded bridge executable's bytes and
// checksum. In the original this came from build-time
// include_bytes!(env!("BLAZE_RUST_BRIDGE_EXECUTABLE_PATH")); here it is
// injected so InstallBridgeExecutable is fully testable without
// fabricating binary content — the real source is wired by the build
// that embeds the companion rust/bridge crate's compiled output (see
// DESIGN.md).
type BridgeBinarySource struct {
	Bytes    []byte
	Checksum string
}

// InstallBridgeExecutable installs the Rust bridge executable under
// workspaceRoot/.blaze/rust, reusing the existing copy if its checksum
// file already matches. Serialized across processes via the well-known
// RustBridgeLockID (spec.md §4.D), grounded on
// original_source/core/src/executors/rust/executor.rs's
// install_bridge_executable.
func InstallBridgeExecutable(locker *processlock.Locker, workspaceRoot string, src BridgeBinarySource) (string, error) {
	dir := filepath.Join(workspaceRoot, rustBridgeLocation)
	binPath := filepath.Join(dir, rustBridgeExecutableName())
	checksumPath := filepath.Join(dir, rustBridgeChecksumFile)

	var resultPath string
	err := locker.Locked(rustBridgeInstallLockID, nil, func() error {
		existing, err := os.ReadFile(checksumPath)
		if err == nil && string(existing) == src.Checksum {
			resultPath = binPath
			return nil
		}
		if err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("reading bridge checksum: %w", err)
		}

		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating rust bridge directory: %w", err)
		}
		if err := writeExecutable(binPath, src.Bytes); err != nil {
			return fmt.Errorf("writing rust bridge executable: %w", err)
		}
		if err := os.WriteFile(checksumPath, []byte(src.Checksum), 0o644); err != nil {
			return fmt.Errorf("writing rust bridge checksum: %w", err)
		}
		resultPath = binPath
		return nil
	})
	return resultPath, err
}

func writeExecutable(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o744)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(f, bytes.NewReader(data))
	return err
}

// Execute installs (if needed) the bridge executable and runs it, handing
// it this package's library path and exported symbol as the bridge
// metadata.
func (p RustPackage) Execute(execCtx Context, options jsonvalue.Value, locker *processlock.Locker, src BridgeBinarySource, logger zerolog.Logger) error {
	bin, err := InstallBridgeExecutable(locker, execCtx.Workspace.Root, src)
	if err != nil {
		return fmt.Errorf("installing rust bridge executable: %w", err)
	}

	metadata := jsonvalue.Object(map[string]jsonvalue.Value{
		"libraryPath":        jsonvalue.String(p.LibraryPath),
		"exportedSymbolName": jsonvalue.String(p.ExportedSymbolName),
	})

	return Invoke(execCtx, options, ProcessParams{Program: bin}, metadata, logger)
}
