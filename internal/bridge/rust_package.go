package bridge

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/pelletier/go-toml/v2"

	"blaze/internal/procsup"
)

const (
	rustCargoToml                = "Cargo.toml"
	rustCargoLocationEnvOverride = "BLAZE_CARGO_LOCATION"
	rustDefaultCargoLocation     = "cargo"
)

// cargoManifest is the slice of a Cargo.toml this loader cares about,
// grounded on original_source/core/src/executors/rust/package.rs.
type cargoManifest struct {
	Lib struct {
		CrateType []string `toml:"crate-type"`
	} `toml:"lib"`
	Package struct {
		Name     string `toml:"name"`
		Metadata struct {
			Blaze struct {
				Exported string `toml:"exported"`
				Type     string `toml:"type"`
				Version  string `toml:"version"`
			} `toml:"blaze"`
		} `toml:"metadata"`
	} `toml:"package"`
}

// RustExecutorPackage is a resolved Rust executor's Cargo.toml metadata,
// grounded on original_source's RustExecutorPackage::from_root.
type RustExecutorPackage struct {
	Root       string
	Name       string
	ExportedFn string
}

// IsRustExecutor reports whether root contains a Cargo.toml, the
// discriminator the Executor Loader uses once IsNodeExecutor is false.
func IsRustExecutor(root string) (bool, error) {
	info, err := os.Stat(filepath.Join(root, rustCargoToml))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return !info.IsDir(), nil
}

// LoadRustPackage parses and validates root/Cargo.toml.
func LoadRustPackage(root string) (*RustExecutorPackage, error) {
	data, err := os.ReadFile(filepath.Join(root, rustCargoToml))
	if err != nil {
		return nil, fmt.Errorf("rust executor: reading Cargo.toml: %w", err)
	}
	var manifest cargoManifest
	if err := toml.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("rust executor: parsing Cargo.toml: %w", err)
	}

	required := []string{"rlib", "dylib"}
	for _, want := range required {
		found := false
		for _, got := range manifest.Lib.CrateType {
			if got == want {
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("rust executor: [lib.crate-type] must contain %v", required)
		}
	}

	if manifest.Package.Name == "" {
		return nil, fmt.Errorf("rust executor: [package.name] must name your executor")
	}
	if manifest.Package.Metadata.Blaze.Exported == "" {
		return nil, fmt.Errorf("rust executor: [package.metadata.blaze.exported] must name your executor function")
	}
	if manifest.Package.Metadata.Blaze.Type != "executor" {
		return nil, fmt.Errorf("rust executor: [package.metadata.blaze.type] must be \"executor\"")
	}
	if manifest.Package.Metadata.Blaze.Version != "1" {
		return nil, fmt.Errorf("rust executor: [package.metadata.blaze.version] must be \"1\"")
	}

	return &RustExecutorPackage{
		Root:       root,
		Name:       manifest.Package.Name,
		ExportedFn: manifest.Package.Metadata.Blaze.Exported,
	}, nil
}

// Prepare runs `cargo build --release`, grounded on
// original_source/core/src/executors/rust/loaders.rs's use of
// BLAZE_CARGO_LOCATION.
func (p *RustExecutorPackage) Prepare(ctx context.Context) error {
	program := rustDefaultCargoLocation
	if override := os.Getenv(rustCargoLocationEnvOverride); override != "" {
		program = override
	}
	proc, err := procsup.Run(ctx, program, []string{"build", "--release"}, procsup.Options{
		Cwd:           p.Root,
		Environment:   os.Environ(),
		DisplayOutput: true,
	})
	if err != nil {
		return err
	}
	res, err := proc.Wait()
	if err != nil {
		return err
	}
	if !res.Success {
		return fmt.Errorf("cargo build --release exited with code %d (path=%s)", res.Code, p.Root)
	}
	return nil
}

// ToRustPackage produces the bridge-facing RustPackage, locating the
// release artifact cargo build --release produces for this platform.
func (p *RustExecutorPackage) ToRustPackage() RustPackage {
	return RustPackage{
		LibraryPath:        filepath.Join(p.Root, "target", "release", dylibFilename(p.Name)),
		ExportedSymbolName: p.ExportedFn,
	}
}

func dylibFilename(name string) string {
	switch runtime.GOOS {
	case "windows":
		return name + ".dll"
	case "darwin":
		return "lib" + name + ".dylib"
	default:
		return "lib" + name + ".so"
	}
}
