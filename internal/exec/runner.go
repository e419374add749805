// Package exec runs shell commands for verification hooks.
package exec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	osexec "os/exec"
	"time"
)

const waitDelay = 2 * time.Second

// Result is the outcome of a command that ran to completion.
type Result struct {
	// Output is the combined stdout and stderr.
	Output string
	// ExitCode is the process exit status; 0 means success.
	ExitCode int
	Duration time.Duration
}

// Passed reports whether the command exited zero.
func (r Result) Passed() bool {
	return r.ExitCode == 0
}

// CommandRunner runs shell commands. It is an interface so verification can
// be faked in tests.
type CommandRunner interface {
	// RunShell runs command through "sh -c" in dir. A non-zero exit is a
	// Result, not an error; errors mean the command could not run or ctx
	// ended first.
	RunShell(ctx context.Context, dir, command string) (Result, error)
}

// ShellRunner implements CommandRunner using os/exec.
type ShellRunner struct {
	// Env is appended to the current environment.
	Env []string
}

// NewRunner creates a ShellRunner.
func NewRunner(env ...string) *ShellRunner {
	return &ShellRunner{Env: env}
}

// RunShell runs command through "sh -c".
func (r *ShellRunner) RunShell(ctx context.Context, dir, command string) (Result, error) {
	cmd := osexec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = dir
	// Children that inherit the output pipe must not hold Run open after ctx ends.
	cmd.WaitDelay = waitDelay
	if len(r.Env) > 0 {
		cmd.Env = append(os.Environ(), r.Env...)
	}

	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf

	start := time.Now()
	err := cmd.Run()
	res := Result{Output: buf.String(), Duration: time.Since(start)}

	if ctx.Err() != nil {
		return res, fmt.Errorf("run %q: %w", command, ctx.Err())
	}
	var exitErr *osexec.ExitError
	if errors.As(err, &exitErr) {
		res.ExitCode = exitErr.ExitCode()
		return res, nil
	}
	if err != nil {
		return res, fmt.Errorf("run %q: %w", command, err)
	}
	return res, nil
}

var _ CommandRunner = (*ShellRunner)(nil)
