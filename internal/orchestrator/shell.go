package orchestrator

import (
	"fmt"
	"path/filepath"
	"runtime"
	"strings"

	"blaze/internal/jsonvalue"
)

// shellKind mirrors the closed set of shell dialects a UseShell option
// can name, grounded on original_source/common/src/shell.rs's ShellKind.
type shellKind int

const (
	shellPosix shellKind = iota
	shellCmd
	shellPowershell
)

// shellFormatter turns a program invocation into the equivalent
// `<shell> -c "<command>"` invocation, grounded on
// original_source/core/src/system/shell.rs's ShellFormatter.
type shellFormatter struct {
	program string
	kind    shellKind
}

func defaultShellFormatter() *shellFormatter {
	if runtime.GOOS == "windows" {
		return &shellFormatter{program: `C:\Windows\System32\cmd.exe`, kind: shellCmd}
	}
	return &shellFormatter{program: "/bin/sh", kind: shellPosix}
}

func shellFormatterFromProgram(program string) *shellFormatter {
	kind := shellPosix
	switch filepath.Base(program) {
	case "bash", "sh", "zsh", "ksh", "dash", "tcsh", "csh":
		kind = shellPosix
	case "cmd.exe", "cmd":
		kind = shellCmd
	case "powershell.exe", "powershell":
		kind = shellPowershell
	default:
		if runtime.GOOS == "windows" {
			kind = shellCmd
		}
	}
	return &shellFormatter{program: program, kind: kind}
}

// format produces the (program, arguments) pair to actually spawn for
// running program+args under this shell.
func (s *shellFormatter) format(program string, args []string) (string, []string) {
	command := program
	for _, a := range args {
		command += " " + a
	}

	switch s.kind {
	case shellCmd:
		return s.program, []string{"/C", command}
	case shellPowershell:
		return s.program, []string{"-Command", command}
	default:
		return s.program, []string{"-c", command}
	}
}

// parseUseShell decodes the `shell` option: absent/false means no shell,
// true means the platform default shell, a string names a shell program
// to use instead, grounded on
// original_source/core/src/executors/std/options.rs's UseShell.
func parseUseShell(v jsonvalue.Value) (*shellFormatter, error) {
	switch v.Kind() {
	case jsonvalue.KindNull:
		return nil, nil
	case jsonvalue.KindBool:
		b, _ := v.AsBool()
		if !b {
			return nil, nil
		}
		return defaultShellFormatter(), nil
	case jsonvalue.KindString:
		program, _ := v.AsString()
		return shellFormatterFromProgram(program), nil
	default:
		return nil, fmt.Errorf("invalid %q option: must be a boolean or a shell program path", "shell")
	}
}

func joinArgs(args []string) string {
	return strings.Join(args, " ")
}
