package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/rs/zerolog"

	"blaze/internal/bridge"
	"blaze/internal/jsonvalue"
	"blaze/internal/procsup"
)

// onFailure is std:commands' per-command fail policy (spec.md §4.L),
// grounded on original_source/core/src/executors/std/commands/command.rs's
// OnFailure.
type onFailure string

const (
	onFailureIgnore     onFailure = "Ignore"
	onFailureRestart    onFailure = "Restart"
	onFailureExit       onFailure = "Exit"
	onFailureForceExit  onFailure = "ForceExit"
	onFailureDefaultVal onFailure = onFailureExit
)

// command is one std:commands entry, grounded on the same file's Command.
type command struct {
	Program     string            `json:"program"`
	Arguments   []string          `json:"arguments"`
	Detach      bool              `json:"detach"`
	OnFailure   onFailure         `json:"onFailure"`
	Cwd         string            `json:"cwd"`
	Environment map[string]string `json:"environment"`
	Quiet       bool              `json:"quiet"`
}

func (c command) String() string {
	if len(c.Arguments) == 0 {
		return c.Program
	}
	return c.Program + " " + joinArgs(c.Arguments)
}

// UnmarshalJSON accepts either a bare command line string or a full
// command object, mirroring the original's untagged
// CommandDeserializationMode.
func (c *command) UnmarshalJSON(data []byte) error {
	var line string
	if err := json.Unmarshal(data, &line); err == nil {
		*c = command{Program: line, OnFailure: onFailureDefaultVal}
		return nil
	}

	type commandAlias command
	aux := commandAlias{OnFailure: onFailureDefaultVal}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*c = command(aux)
	if c.OnFailure == "" {
		c.OnFailure = onFailureDefaultVal
	}
	return nil
}

type commandsOptions struct {
	Commands []command       `json:"commands"`
	Shell    jsonvalue.Value `json:"shell"`
}

type commandTermination struct {
	index  int
	result procsup.Result
	err    error
}

// runStdCommands implements the std:commands standard executor (spec.md
// §4.L): sequential commands by default, with detach/on-failure
// semantics, grounded on
// original_source/core/src/executors/std/commands/{mod.rs,runner.rs}.
func runStdCommands(ctx context.Context, execCtx bridge.Context, options jsonvalue.Value, logger zerolog.Logger) error {
	var opts commandsOptions
	if err := decodeOptions(options, &opts); err != nil {
		return fmt.Errorf("std:commands: %w", err)
	}
	if len(opts.Commands) == 0 {
		return nil
	}

	shell, err := parseUseShell(opts.Shell)
	if err != nil {
		return fmt.Errorf("std:commands: %w", err)
	}

	fixedEnv := execCtx.Env()
	runCommand := func(i int) (*procsup.Process, error) {
		c := opts.Commands[i]
		program := c.Program
		if !filepath.IsAbs(program) {
			program = filepath.Join(execCtx.Project.Root, program)
		}
		argv, args := program, c.Arguments
		if shell != nil {
			argv, args = shell.format(program, args)
		}
		cwd := c.Cwd
		if cwd == "" {
			cwd = execCtx.Project.Root
		} else if !filepath.IsAbs(cwd) {
			cwd = filepath.Join(execCtx.Project.Root, cwd)
		}
		logger.Info().Msgf("+ %s", c.String())
		return procsup.Run(ctx, argv, args, procsup.Options{
			Cwd:           cwd,
			Environment:   mergeEnv(c.Environment, fixedEnv),
			DisplayOutput: !c.Quiet,
		})
	}

	pending := 0
	running := make(map[int]*procsup.Process)
	termination := make(chan commandTermination, len(opts.Commands))

	waitOn := func(i int, p *procsup.Process) {
		res, err := p.Wait()
		termination <- commandTermination{index: i, result: res, err: err}
	}

	start := func(i int) error {
		p, err := runCommand(i)
		if err != nil {
			return fmt.Errorf("could not create process for command %q: %w", opts.Commands[i].String(), err)
		}
		running[i] = p
		go waitOn(i, p)
		return nil
	}

	allDetached := func() bool {
		for idx := range running {
			if !opts.Commands[idx].Detach {
				return false
			}
		}
		return true
	}

	for pending < len(opts.Commands) && (len(running) == 0 || allDetached()) {
		if err := start(pending); err != nil {
			return err
		}
		pending++
	}

	for len(running) > 0 {
		t := <-termination
		delete(running, t.index)
		cmd := opts.Commands[t.index]

		if t.err != nil {
			return fmt.Errorf("error while waiting for command %q: %w", cmd.String(), t.err)
		}
		if t.result.Success {
			logger.Debug().Msgf("command %q was successful", cmd.String())
		} else {
			logger.Error().Msgf("%q has failed with status code %d", cmd.String(), t.result.Code)

			switch cmd.OnFailure {
			case onFailureIgnore:
				// fall through to scheduling more work below.
			case onFailureRestart:
				if err := start(t.index); err != nil {
					return err
				}
			case onFailureForceExit:
				for idx, p := range running {
					_ = p.Kill()
					delete(running, idx)
				}
				return fmt.Errorf("command %q failed", cmd.String())
			case onFailureExit:
				detached := len(running)
				failedOthers := 0
				for len(running) > 0 {
					ot := <-termination
					delete(running, ot.index)
					if ot.err != nil || !ot.result.Success {
						failedOthers++
					}
				}
				msg := fmt.Sprintf("command %q failed", cmd.String())
				if detached > 0 {
					if failedOthers > 0 {
						msg += fmt.Sprintf(" (%d detached processes failed after initial failure)", failedOthers)
					} else {
						msg += " (all detached processes exited successfully)"
					}
				}
				return fmt.Errorf("%s", msg)
			}
		}

		for pending < len(opts.Commands) && (len(running) == 0 || allDetached()) {
			if err := start(pending); err != nil {
				return err
			}
			pending++
		}
	}

	return nil
}
