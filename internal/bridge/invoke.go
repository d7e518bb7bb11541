package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/rs/zerolog"

	"blaze/internal/jsonvalue"
	"blaze/internal/logchannel"
	"blaze/internal/procsup"
)

// ProcessParams describes how to spawn the bridge process itself
// (spec.md §4.H): a program, its fixed arguments, and optional bytes to
// write to its stdin once running.
type ProcessParams struct {
	Program   string
	Arguments []string
	Input     []byte
}

// Invoke runs one bridge process to completion: it opens a log channel,
// appends the JSON handshake as the process's final argument, spawns it
// with output displayed on the host, optionally feeds stdin, waits, and
// tears the log channel back down. Mirrors
// original_source/core/src/executors/bridge.rs's bridge_executor.
func Invoke(ctx Context, options jsonvalue.Value, process ProcessParams, metadata jsonvalue.Value, logger zerolog.Logger) error {
	socketDir, err := os.MkdirTemp("", "blaze-bridge-")
	if err != nil {
		return fmt.Errorf("bridge: creating log channel directory: %w", err)
	}
	defer os.RemoveAll(socketDir)

	logs, err := logchannel.Open(socketDir, logger)
	if err != nil {
		return fmt.Errorf("bridge: opening log channel: %w", err)
	}

	msg := handshake{
		ExecutorParams: handshakeParams{
			Context: bridgedContext{
				WorkspaceName: ctx.Workspace.Name,
				WorkspaceRoot: ctx.Workspace.Root,
				ProjectName:   ctx.Project.Name,
				ProjectRoot:   ctx.Project.Root,
				Target:        ctx.Target,
				LoggerSocket:  logs.Path(),
			},
			Options: options,
		},
		Metadata: metadata,
	}
	encoded, err := json.Marshal(msg)
	if err != nil {
		_ = logs.Close()
		return fmt.Errorf("bridge: encoding handshake: %w", err)
	}

	args := append(append([]string{}, process.Arguments...), string(encoded))
	env := append(append([]string{}, os.Environ()...), ctx.Env()...)

	proc, err := procsup.Run(context.Background(), process.Program, args, procsup.Options{
		Cwd:           ctx.Project.Root,
		Environment:   env,
		DisplayOutput: true,
	})
	if err != nil {
		_ = logs.Close()
		return fmt.Errorf("bridge: spawning %q: %w", process.Program, err)
	}

	if process.Input != nil {
		if err := proc.StdinWrite(process.Input); err != nil {
			_ = logs.Close()
			return fmt.Errorf("bridge: writing stdin: %w", err)
		}
	}

	result, waitErr := proc.Wait()

	if err := logs.Close(); err != nil {
		logger.Error().Err(err).Msg("could not close executor bridge log channel")
	}

	if waitErr != nil {
		return fmt.Errorf("bridge: waiting for %q: %w", process.Program, waitErr)
	}
	if !result.Success {
		return fmt.Errorf("bridge process %q failed with exit code %d", process.Program, result.Code)
	}
	return nil
}
