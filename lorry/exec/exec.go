// Package exec provides shell command execution helpers.
package exec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
)

// Result holds the outcome of a finished command.
type Result struct {
	// Stdout is the captured standard output.
	Stdout string
	// Stderr is the captured standard error.
	Stderr string
	// ExitCode is the process exit status, or -1 when
	// the process could not be started.
	ExitCode int
}

// Runner runs external commands. Tests substitute
// fakes to avoid spawning processes.
type Runner interface {
	Run(
		ctx context.Context,
		dir string,
		name string,
		arg ...string,
	) (Result, error)
}

// RunnerFunc adapts a plain function to the Runner
// interface.
type RunnerFunc func(
	ctx context.Context,
	dir string,
	name string,
	arg ...string,
) (Result, error)

// Run delegates to the wrapped function.
func (f RunnerFunc) Run(
	ctx context.Context,
	dir string,
	name string,
	arg ...string,
) (Result, error) {
	return f(ctx, dir, name, arg...)
}

// Default is the Runner that spawns real processes.
var Default Runner = RunnerFunc(Run)

// Run executes the named command in dir and returns
// stdout and stderr separately. Pass empty dir to use
// the current working directory. A non-zero exit is
// returned as an error together with the filled
// Result.
func Run(
	ctx context.Context,
	dir string,
	name string,
	arg ...string,
) (Result, error) {
	const errCtx = "executing command"

	slog.Info(
		"executing",
		"cmd", name,
		"args", strings.Join(arg, " "),
		"dir", dir,
	)

	//nolint:gosec // command lines are built by callers
	cmd := exec.CommandContext(ctx, name, arg...)
	if dir != "" {
		cmd.Dir = dir
	}

	var stdout, stderr bytes.Buffer

	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	res := Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: exitCode(cmd, err),
	}

	if err != nil {
		if msg := strings.TrimSpace(res.Stderr); msg != "" {
			slog.Warn("command failed", "stderr", msg)
		}

		return res, fmt.Errorf(
			"%s: %s %s: %w",
			errCtx, name, strings.Join(arg, " "), err,
		)
	}

	return res, nil
}

// Ex executes the named command in the given directory and
// returns combined stdout+stderr output. Pass empty dir to
// use the current working directory.
func Ex(
	ctx context.Context,
	dir string,
	name string,
	arg ...string,
) (string, error) {
	const errCtx = "executing command"

	slog.Info(
		"executing",
		"cmd", name,
		"args", strings.Join(arg, " "),
	)

	//nolint:gosec // command lines are built by callers
	cmd := exec.CommandContext(ctx, name, arg...)
	if dir != "" {
		cmd.Dir = dir
	}

	by, err := cmd.CombinedOutput()

	slog.Debug("output", "result", string(by))

	if err != nil {
		return string(by), fmt.Errorf(
			"%s: %s %s: %w",
			errCtx, name, strings.Join(arg, " "), err,
		)
	}

	return string(by), nil
}

// Present reports whether name resolves to an
// executable on PATH.
func Present(name string) bool {
	_, err := exec.LookPath(name)

	return err == nil
}

func exitCode(cmd *exec.Cmd, err error) int {
	if err == nil {
		return 0
	}

	var ee *exec.ExitError
	if errors.As(err, &ee) {
		return ee.ExitCode()
	}

	if cmd.ProcessState != nil {
		return cmd.ProcessState.ExitCode()
	}

	return -1
}
