// Package bridge implements the Executor Loader & Bridge (spec.md §4.H):
// running a resolved Node or Rust executor package in a dedicated
// out-of-process bridge, handing it the invocation context and options
// over a JSON handshake, and wiring its stdout/stderr plus a structured
// log side-channel back to the host.
//
// Grounded throughout on original_source/core/src/executors/{bridge.rs,
// env.rs, node/*.rs, rust/executor.rs}.
package bridge

import (
	"blaze/internal/domain"
	"blaze/internal/jsonvalue"
)

// Context is the per-invocation data a bridge process receives, mirroring
// original_source's ExecutorContext plus the fixed environment variables
// get_executor_env derives from it.
type Context struct {
	Workspace *domain.Workspace
	Project   *domain.Project
	Target    string
}

// Env builds the fixed BLAZE_* environment variables every executor
// invocation receives (spec.md §4.H), grounded on
// original_source/core/src/executors/env.rs's get_executor_env.
func (c Context) Env() []string {
	ws := c.Workspace
	return []string{
		"BLAZE_WORKSPACE_NAME=" + ws.Name,
		"BLAZE_WORKSPACE_ROOT=" + ws.Root,
		"BLAZE_WORKSPACE_CONFIGURATION_FILE_PATH=" + c.Project.ConfigFilePath,
		"BLAZE_WORKSPACE_CONFIGURATION_FILE_FORMAT=" + c.Project.ConfigFileFormat,
		"BLAZE_PROJECT_NAME=" + c.Project.Name,
		"BLAZE_PROJECT_ROOT=" + c.Project.Root,
		"BLAZE_TARGET=" + c.Target,
	}
}

// handshake is the JSON payload written to the bridge process's last
// argument (spec.md §4.H: "a JSON handshake"), mirroring
// original_source/core/src/executors/bridge.rs's BridgeInputMessage.
type handshake struct {
	ExecutorParams handshakeParams `json:"executorParams"`
	Metadata       jsonvalue.Value `json:"metadata"`
}

type handshakeParams struct {
	Context bridgedContext  `json:"context"`
	Options jsonvalue.Value `json:"options"`
}

// bridgedContext is Context flattened for the wire, plus the log
// channel's socket path the bridge must connect to and write
// newline-delimited {message, level} records to.
type bridgedContext struct {
	WorkspaceName string `json:"workspaceName"`
	WorkspaceRoot string `json:"workspaceRoot"`
	ProjectName   string `json:"projectName"`
	ProjectRoot   string `json:"projectRoot"`
	Target        string `json:"target"`
	LoggerSocket  string `json:"loggerSocket"`
}
