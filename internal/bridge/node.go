package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"blaze/internal/jsonvalue"
	"blaze/internal/procsup"
)

const (
	nodePackageJSON          = "package.json"
	nodeMetadataVersionKey   = "blaze.version"
	nodeMetadataVersion      = "1"
	nodeMetadataTypeKey      = "blaze.type"
	nodeMetadataType         = "executor"
	nodeMetadataPathKey      = "blaze.path"
	nodeMetadataInstallKey   = "blaze.install"
	nodeMetadataBuildKey     = "blaze.build"
	nodeDefaultBuildScript   = "build"
	nodeScriptsKey           = "scripts"
	nodeLocationEnvOverride  = "BLAZE_NODE_LOCATION"
	nodeDefaultLocation      = "node"
)

// NodePackage is a resolved Node executor's package.json metadata,
// grounded on original_source/core/src/executors/node/package.rs.
type NodePackage struct {
	Root    string
	Path    string // module entry point, relative to Root.
	Version string
	Install bool
	Build   string // empty means no build step.
}

// IsNodeExecutor reports whether root contains a package.json, the first
// discriminator the Executor Loader uses to pick between Node and Rust.
func IsNodeExecutor(root string) (bool, error) {
	info, err := os.Stat(filepath.Join(root, nodePackageJSON))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return !info.IsDir(), nil
}

// LoadNodePackage parses and validates root/package.json.
func LoadNodePackage(root string) (*NodePackage, error) {
	data, err := os.ReadFile(filepath.Join(root, nodePackageJSON))
	if err != nil {
		return nil, fmt.Errorf("node executor: reading package.json: %w", err)
	}
	var v jsonvalue.Value
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("node executor: parsing package.json: %w", err)
	}

	version, ok := v.Get(nodeMetadataVersionKey).AsString()
	if !ok {
		return nil, fmt.Errorf("node executor package.json must contain a %q string property", nodeMetadataVersionKey)
	}
	if version != nodeMetadataVersion {
		return nil, fmt.Errorf("%q must have value %q, got %q", nodeMetadataVersionKey, nodeMetadataVersion, version)
	}

	kind, ok := v.Get(nodeMetadataTypeKey).AsString()
	if !ok {
		return nil, fmt.Errorf("node executor package.json must contain a %q string property", nodeMetadataTypeKey)
	}
	if kind != nodeMetadataType {
		return nil, fmt.Errorf("%q must have value %q, got %q", nodeMetadataTypeKey, nodeMetadataType, kind)
	}

	path, ok := v.Get(nodeMetadataPathKey).AsString()
	if !ok {
		return nil, fmt.Errorf("node executor package.json must contain a %q string property", nodeMetadataPathKey)
	}

	_, hasDefaultScript := func() (jsonvalue.Value, bool) {
		scripts, ok := v.Get(nodeScriptsKey).AsObject()
		if !ok {
			return jsonvalue.Null(), false
		}
		s, ok := scripts[nodeDefaultBuildScript]
		return s, ok
	}()

	build := ""
	switch buildVal := v.Get(nodeMetadataBuildKey); buildVal.Kind() {
	case jsonvalue.KindBool:
		b, _ := buildVal.AsBool()
		if b {
			if !hasDefaultScript {
				return nil, fmt.Errorf("default %q script is not present and %q is explicitly true", nodeDefaultBuildScript, nodeMetadataBuildKey)
			}
			build = nodeDefaultBuildScript
		}
	case jsonvalue.KindString:
		build, _ = buildVal.AsString()
	case jsonvalue.KindNull:
		if hasDefaultScript {
			build = nodeDefaultBuildScript
		}
	default:
		return nil, fmt.Errorf("invalid value in %q: must be a boolean or a build script name", nodeMetadataBuildKey)
	}

	install := true
	if installVal := v.Get(nodeMetadataInstallKey); installVal.Kind() == jsonvalue.KindBool {
		install, _ = installVal.AsBool()
	}

	return &NodePackage{Root: root, Path: path, Version: version, Install: install, Build: build}, nil
}

// Prepare runs `npm install` and the configured build script, if any,
// grounded on NodeExecutorPackage::build.
func (p *NodePackage) Prepare(ctx context.Context) error {
	if p.Install {
		if err := runNpm(ctx, p.Root, "install"); err != nil {
			return fmt.Errorf("node executor installation failed (path=%s): %w", p.Root, err)
		}
	}
	if p.Build != "" {
		if err := runNpm(ctx, p.Root, "run", p.Build); err != nil {
			return fmt.Errorf("node executor build failed (path=%s): %w", p.Root, err)
		}
	}
	return nil
}

func runNpm(ctx context.Context, cwd string, args ...string) error {
	proc, err := procsup.Run(ctx, "npm", args, procsup.Options{Cwd: cwd, Environment: os.Environ(), DisplayOutput: true})
	if err != nil {
		return err
	}
	res, err := proc.Wait()
	if err != nil {
		return err
	}
	if !res.Success {
		return fmt.Errorf("npm %v exited with code %d", args, res.Code)
	}
	return nil
}

// nodeBridgeBootstrap is a minimal ES module bootstrap piped to node's
// stdin (spec.md §4.H: executors are invoked via a JSON handshake on the
// bridge's final argument). It dynamically imports the resolved module
// and calls its default export's run(context, options), grounded on
// original_source/core/src/executors/node/executor.rs's
// execute_node_bridge, which pipes an equivalent bundled bootstrap.
const nodeBridgeBootstrap = `
const [handshakeJson] = process.argv.slice(2);
const handshake = JSON.parse(handshakeJson);
const { module: modulePath } = handshake.metadata;
const mod = await import(modulePath);
const run = mod.default?.run ?? mod.run;
await run(handshake.executorParams.context, handshake.executorParams.options);
`

// Execute runs the Node executor's entry module in an out-of-process
// node bridge.
func (p *NodePackage) Execute(execCtx Context, options jsonvalue.Value, logger zerolog.Logger) error {
	program := nodeDefaultLocation
	if override := os.Getenv(nodeLocationEnvOverride); override != "" {
		program = override
	}
	module := filepath.Join(p.Root, p.Path)
	metadata := jsonvalue.Object(map[string]jsonvalue.Value{"module": jsonvalue.String(module)})

	return Invoke(execCtx, options, ProcessParams{
		Program: program,
		Arguments: []string{
			"--unhandled-rejections=strict",
			"--input-type=module",
			"--title=blaze-node-bridge",
			"-",
			"--",
		},
		Input: []byte(nodeBridgeBootstrap),
	}, metadata, logger)
}
