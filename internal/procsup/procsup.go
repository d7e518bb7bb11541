// Package procsup implements the Process Supervisor (spec.md §4.A):
// spawning children, optionally streaming their stdout/stderr to the
// host, waiting, and killing.
package procsup

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"unicode/utf8"
)

// Options configures a single spawned process.
type Options struct {
	Cwd           string
	Environment   []string // "KEY=VALUE" pairs; nil/empty means an empty environment, per the isolation discipline the domain layer enforces upstream.
	DisplayOutput bool     // mutually exclusive with reading Stdout() directly.
}

// Process wraps a running child and the copier goroutines started on its
// behalf when DisplayOutput is set.
type Process struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser

	displayOutput bool
	copyWG        sync.WaitGroup

	waitOnce sync.Once
	waitErr  error
	result   Result
}

// Result is the outcome of waiting on a Process.
type Result struct {
	Success bool
	Code    int // -1 if the process was killed or the exit code is unavailable.
}

// Run spawns program with args under Options with a piped stdin. With
// DisplayOutput, stdout and stderr are copied to the host's own streams;
// without it, stdout is piped for Stdout() and stderr is discarded.
// It fails with an IoError-shaped error on spawn failure (spec.md §4.A).
func Run(ctx context.Context, program string, args []string, opts Options) (*Process, error) {
	cmd := exec.CommandContext(ctx, program, args...)
	if opts.Cwd != "" {
		cmd.Dir = opts.Cwd
	}
	cmd.Env = opts.Environment
	if cmd.Env == nil {
		cmd.Env = []string{}
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("procsup: io error creating stdin pipe: %w", err)
	}

	p := &Process{stdin: stdin, displayOutput: opts.DisplayOutput}

	if opts.DisplayOutput {
		stdoutPipe, err := cmd.StdoutPipe()
		if err != nil {
			return nil, fmt.Errorf("procsup: io error creating stdout pipe: %w", err)
		}
		stderrPipe, err := cmd.StderrPipe()
		if err != nil {
			return nil, fmt.Errorf("procsup: io error creating stderr pipe: %w", err)
		}
		if err := cmd.Start(); err != nil {
			return nil, fmt.Errorf("procsup: io error starting process: %w", err)
		}
		p.cmd = cmd
		p.copyWG.Add(2)
		go func() { defer p.copyWG.Done(); copyLossyUTF8(os.Stdout, stdoutPipe) }()
		go func() { defer p.copyWG.Done(); copyLossyUTF8(os.Stderr, stderrPipe) }()
		return p, nil
	}

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("procsup: io error creating stdout pipe: %w", err)
	}
	cmd.Stderr = nil
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("procsup: io error starting process: %w", err)
	}
	p.cmd = cmd
	p.stdout = stdoutPipe
	return p, nil
}

// Wait blocks until the child exits and, when DisplayOutput was set, joins
// the copier goroutines first.
func (p *Process) Wait() (Result, error) {
	p.waitOnce.Do(func() {
		err := p.cmd.Wait()
		if p.displayOutput {
			p.copyWG.Wait()
		}
		code := 0
		success := true
		if err != nil {
			success = false
			if exitErr, ok := err.(*exec.ExitError); ok {
				code = exitErr.ExitCode()
			} else {
				p.waitErr = fmt.Errorf("procsup: io error waiting on process: %w", err)
				code = -1
			}
		}
		p.result = Result{Success: success, Code: code}
	})
	return p.result, p.waitErr
}

// Kill requests termination of the child.
func (p *Process) Kill() error {
	if p.cmd.Process == nil {
		return nil
	}
	return p.cmd.Process.Kill()
}

// StdinWrite writes bytes once to the child's stdin, then closes it.
func (p *Process) StdinWrite(data []byte) error {
	defer p.stdin.Close()
	_, err := p.stdin.Write(data)
	return err
}

// Stdout exposes the raw stdout stream. It is only valid when the process
// was spawned with DisplayOutput: false.
func (p *Process) Stdout() (io.Reader, error) {
	if p.displayOutput {
		return nil, fmt.Errorf("procsup: Stdout() is mutually exclusive with DisplayOutput")
	}
	return p.stdout, nil
}

// copyLossyUTF8 copies src to dst, replacing invalid UTF-8 sequences with
// the Unicode replacement character. This mirrors the lossy text-mode
// filter platforms that force console text mode require (spec.md §4.A).
func copyLossyUTF8(dst io.Writer, src io.Reader) {
	buf := make([]byte, 32*1024)
	var pending []byte
	for {
		n, err := src.Read(buf)
		if n > 0 {
			pending = append(pending, buf[:n]...)
			valid := validUTF8Prefix(pending)
			if valid > 0 {
				_, _ = dst.Write(sanitizeUTF8(pending[:valid]))
				pending = pending[valid:]
			}
		}
		if err != nil {
			if len(pending) > 0 {
				_, _ = dst.Write(sanitizeUTF8(pending))
			}
			return
		}
	}
}

// validUTF8Prefix returns the length of the longest prefix of b that does
// not end mid-rune, so a partial multi-byte sequence at a read boundary is
// held back instead of being mis-decoded as invalid.
func validUTF8Prefix(b []byte) int {
	if len(b) == 0 {
		return 0
	}
	for i := 1; i <= utf8.UTFMax && i <= len(b); i++ {
		if utf8.Valid(b[len(b)-i:]) || !utf8.RuneStart(b[len(b)-i]) {
			continue
		}
		if utf8.FullRune(b[len(b)-i:]) {
			return len(b)
		}
		return len(b) - i
	}
	return len(b)
}

func sanitizeUTF8(b []byte) []byte {
	if utf8.Valid(b) {
		return b
	}
	out := make([]byte, 0, len(b))
	for len(b) > 0 {
		r, size := utf8.DecodeRune(b)
		if r == utf8.RuneError && size == 1 {
			out = append(out, []byte(string(utf8.RuneError))...)
			b = b[1:]
			continue
		}
		out = append(out, b[:size]...)
		b = b[size:]
	}
	return out
}
