package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"blaze/internal/bridge"
	"blaze/internal/jsonvalue"
	"blaze/internal/procsup"
)

// execOptions is std:exec's option schema, grounded on
// original_source/core/src/executors/std/exec/mod.rs's Options.
type execOptions struct {
	Program     string            `json:"program"`
	Arguments   []string          `json:"arguments"`
	Environment map[string]string `json:"environment"`
	Cwd         string            `json:"cwd"`
	Quiet       bool              `json:"quiet"`
	Shell       jsonvalue.Value   `json:"shell"`
}

// runStdExec implements the std:exec standard executor (spec.md §4.L):
// a single program, optionally under a shell, with the usual env/cwd
// plumbing.
func runStdExec(ctx context.Context, execCtx bridge.Context, options jsonvalue.Value, logger zerolog.Logger) error {
	var opts execOptions
	if err := decodeOptions(options, &opts); err != nil {
		return fmt.Errorf("std:exec: %w", err)
	}
	if opts.Program == "" {
		return fmt.Errorf("std:exec: %q is required", "program")
	}

	program := opts.Program
	if !filepath.IsAbs(program) {
		program = filepath.Join(execCtx.Project.Root, program)
	}

	shell, err := parseUseShell(opts.Shell)
	if err != nil {
		return fmt.Errorf("std:exec: %w", err)
	}

	argv, args := program, opts.Arguments
	if shell != nil {
		argv, args = shell.format(program, args)
		logger.Debug().Str("shell", shell.program).Msg("using shell")
	}

	env := mergeEnv(opts.Environment, execCtx.Env())
	cwd := opts.Cwd
	if cwd == "" {
		cwd = execCtx.Project.Root
	} else if !filepath.IsAbs(cwd) {
		cwd = filepath.Join(execCtx.Project.Root, cwd)
	}

	logger.Debug().Str("cwd", cwd).Msgf("launching %s", argv)

	proc, err := procsup.Run(ctx, argv, args, procsup.Options{
		Cwd:           cwd,
		Environment:   env,
		DisplayOutput: !opts.Quiet,
	})
	if err != nil {
		return fmt.Errorf("std:exec: could not create process for %q: %w", argv, err)
	}
	result, err := proc.Wait()
	if err != nil {
		return fmt.Errorf("std:exec: could not wait for process termination: %w", err)
	}
	if !result.Success {
		return fmt.Errorf("std:exec: execution failed for %q (status code %d)", argv, result.Code)
	}
	return nil
}

func decodeOptions(v jsonvalue.Value, into any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding options: %w", err)
	}
	if err := json.Unmarshal(data, into); err != nil {
		return fmt.Errorf("decoding options: %w", err)
	}
	return nil
}

func mergeEnv(base map[string]string, fixed []string) []string {
	out := os.Environ()
	for k, v := range base {
		out = append(out, k+"="+v)
	}
	out = append(out, fixed...)
	return out
}
