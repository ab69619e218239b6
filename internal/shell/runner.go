// Package shell runs the external tools (npm, docker, trivy, ...) the pipeline is built from.
package shell

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Command describes a single process invocation.
type Command struct {
	Name string
	Args []string
	Dir  string
	// Env entries are appended to the parent environment.
	Env []string
	// Stdout, when set, receives output as it is produced in addition to
	// being captured in the Result.
	Stdout io.Writer
}

func (c Command) String() string {
	return strings.TrimSpace(c.Name + " " + strings.Join(c.Args, " "))
}

// Result is the outcome of a completed command.
type Result struct {
	ExitCode int
	Output   string
	Duration time.Duration
}

// ExitError is returned when a command runs but exits non-zero.
type ExitError struct {
	Command  string
	ExitCode int
	Output   string
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("command %q exited with code %d", e.Command, e.ExitCode)
}

// ExitCode returns the exit code carried by err, 0 for nil and -1 when
// err is not an *ExitError.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode
	}
	return -1
}

// Runner executes commands.
type Runner interface {
	Run(ctx context.Context, cmd Command) (Result, error)
}

// ExecRunner runs commands as local processes.
type ExecRunner struct {
	Log *logrus.Entry
}

// NewExecRunner returns a runner logging through the standard logrus logger.
func NewExecRunner() *ExecRunner {
	return &ExecRunner{Log: logrus.NewEntry(logrus.StandardLogger())}
}

func (r *ExecRunner) Run(ctx context.Context, cmd Command) (Result, error) {
	log := r.Log.WithField("command", cmd.String())
	if cmd.Dir != "" {
		log = log.WithField("dir", cmd.Dir)
	}
	log.Debug("Running command")

	c := exec.CommandContext(ctx, cmd.Name, cmd.Args...)
	c.Dir = cmd.Dir
	if len(cmd.Env) > 0 {
		c.Env = append(os.Environ(), cmd.Env...)
	}

	var buf bytes.Buffer
	var out io.Writer = &buf
	if cmd.Stdout != nil {
		out = io.MultiWriter(&buf, cmd.Stdout)
	}
	c.Stdout = out
	c.Stderr = out

	start := time.Now()
	err := c.Run()
	res := Result{Output: buf.String(), Duration: time.Since(start)}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
			log.WithField("exit_code", res.ExitCode).Debug("Command failed")
			return res, &ExitError{Command: cmd.String(), ExitCode: res.ExitCode, Output: res.Output}
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return res, fmt.Errorf("command %q interrupted: %w", cmd.String(), ctxErr)
		}
		return res, fmt.Errorf("failed to run %q: %w", cmd.String(), err)
	}

	log.WithField("duration", res.Duration.Round(time.Millisecond)).Debug("Command finished")
	return res, nil
}
