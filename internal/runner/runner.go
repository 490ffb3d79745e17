// Package runner executes external utilities with a timeout and bounded
// output capture.
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"
)

// MaxOutput caps each captured stream.
const MaxOutput = 64 * 1024

// DefaultTimeout applies when an ExecRunner has no timeout set.
const DefaultTimeout = 10 * time.Second

// ErrTimeout is returned when the process outlives its deadline.
var ErrTimeout = errors.New("command timed out")

// Result is the captured output of a finished process.
type Result struct {
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	ExitCode int    `json:"exit_code"`
}

// Runner runs one program to completion.
type Runner interface {
	Run(ctx context.Context, path string, args []string) (Result, error)
}

// ExecRunner runs programs with os/exec.
type ExecRunner struct {
	Timeout time.Duration
}

// Run starts path with args and waits for it. A non-zero exit is an error;
// the partial Result is still returned.
func (r ExecRunner) Run(ctx context.Context, path string, args []string) (Result, error) {
	timeout := r.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var stdout, stderr capWriter
	stdout.max, stderr.max = MaxOutput, MaxOutput

	cmd := exec.CommandContext(ctx, path, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := Result{Stdout: stdout.String(), Stderr: stderr.String()}
	if cmd.ProcessState != nil {
		res.ExitCode = cmd.ProcessState.ExitCode()
	}
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return res, fmt.Errorf("%s: %w after %s", path, ErrTimeout, timeout)
		}
		return res, fmt.Errorf("%s: %w", path, err)
	}
	return res, nil
}

// capWriter keeps the first max bytes and discards the rest.
type capWriter struct {
	buf bytes.Buffer
	max int
}

func (w *capWriter) Write(p []byte) (int, error) {
	if room := w.max - w.buf.Len(); room > 0 {
		if len(p) > room {
			w.buf.Write(p[:room])
		} else {
			w.buf.Write(p)
		}
	}
	return len(p), nil
}

func (w *capWriter) String() string { return w.buf.String() }
