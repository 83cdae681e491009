// Package execx runs the external tools ubuild drives: the C compiler,
// pkg-config, documentation renderers and systemctl.
package execx

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"syscall"

	"golang.org/x/sys/unix"
)

// Commander is the process-invocation boundary. Everything that shells out
// goes through it so tests can substitute a fake.
type Commander interface {
	// Run executes argv, streaming output to the configured writers.
	Run(ctx context.Context, dir string, argv ...string) error
	// Output executes argv and returns its standard output.
	Output(ctx context.Context, dir string, argv ...string) ([]byte, error)
}

// ExitError reports a tool that ran but exited nonzero.
type ExitError struct {
	Argv   []string
	Code   int
	Stderr string
}

func (e *ExitError) Error() string {
	msg := fmt.Sprintf("%s exited with status %d", strings.Join(e.Argv, " "), e.Code)
	if s := strings.TrimSpace(e.Stderr); s != "" {
		msg += ": " + s
	}
	return msg
}

// Executor provides a consistent way of executing commands. Each child is
// isolated in its own process group so cancellation kills the whole tree.
type Executor struct {
	Stdout io.Writer
	Stderr io.Writer
	Env    []string // nil inherits the environment
}

// NewExecutor returns an Executor writing child output to the given writers.
func NewExecutor(stdout, stderr io.Writer) *Executor {
	if stdout == nil {
		stdout = os.Stdout
	}
	if stderr == nil {
		stderr = os.Stderr
	}
	return &Executor{Stdout: stdout, Stderr: stderr}
}

// Run implements Commander.
func (e *Executor) Run(ctx context.Context, dir string, argv ...string) error {
	var stderr bytes.Buffer
	cmd, err := e.command(ctx, dir, argv)
	if err != nil {
		return err
	}
	cmd.Stdout = e.Stdout
	cmd.Stderr = io.MultiWriter(e.Stderr, &stderr)
	return e.wait(ctx, cmd, argv, &stderr)
}

// Output implements Commander.
func (e *Executor) Output(ctx context.Context, dir string, argv ...string) ([]byte, error) {
	var stdout, stderr bytes.Buffer
	cmd, err := e.command(ctx, dir, argv)
	if err != nil {
		return nil, err
	}
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := e.wait(ctx, cmd, argv, &stderr); err != nil {
		return stdout.Bytes(), err
	}
	return stdout.Bytes(), nil
}

func (e *Executor) command(ctx context.Context, dir string, argv []string) (*exec.Cmd, error) {
	if len(argv) == 0 {
		return nil, errors.New("execx: empty command")
	}
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = dir
	if len(e.Env) > 0 {
		cmd.Env = e.Env
	} else {
		cmd.Env = os.Environ()
	}
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	return cmd, nil
}

func (e *Executor) wait(ctx context.Context, cmd *exec.Cmd, argv []string, stderr *bytes.Buffer) error {
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start %s: %w", argv[0], err)
	}

	pgid := cmd.Process.Pid
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = unix.Kill(-pgid, unix.SIGKILL)
		case <-done:
		}
	}()

	if err := cmd.Wait(); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("command aborted: %w", ctx.Err())
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return &ExitError{Argv: argv, Code: exitErr.ExitCode(), Stderr: stderr.String()}
		}
		return err
	}
	return nil
}

// LookPath resolves the first of names found on PATH. An explicit path, if
// given, wins and must exist.
func LookPath(explicit string, names ...string) (string, error) {
	if explicit != "" {
		return exec.LookPath(explicit)
	}
	for _, n := range names {
		if p, err := exec.LookPath(n); err == nil {
			return p, nil
		}
	}
	return "", fmt.Errorf("none of %s found on PATH: %w", strings.Join(names, ", "), exec.ErrNotFound)
}
