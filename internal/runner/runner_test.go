package runner

import (
	"context"
	"errors"
	"os/exec"
	"strings"
	"testing"
	"time"
)

func lookPath(t *testing.T, name string) string {
	t.Helper()
	p, err := exec.LookPath(name)
	if err != nil {
		t.Skipf("%s not available: %v", name, err)
	}
	return p
}

func TestCapWriter(t *testing.T) {
	w := capWriter{max: 4}
	n, err := w.Write([]byte("abcdef"))
	if err != nil || n != 6 {
		t.Fatalf("Write = %d, %v", n, err)
	}
	w.Write([]byte("gh"))
	if w.String() != "abcd" {
		t.Errorf("captured = %q, want abcd", w.String())
	}
}

func TestExecRunnerCapturesOutput(t *testing.T) {
	echo := lookPath(t, "echo")
	res, err := ExecRunner{}.Run(context.Background(), echo, []string{"hello"})
	if err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(res.Stdout) != "hello" {
		t.Errorf("stdout = %q", res.Stdout)
	}
}

func TestExecRunnerNonZeroExit(t *testing.T) {
	f := lookPath(t, "false")
	res, err := ExecRunner{}.Run(context.Background(), f, nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if res.ExitCode == 0 {
		t.Errorf("exit code = 0, want non-zero")
	}
}

func TestExecRunnerTimeout(t *testing.T) {
	sleep := lookPath(t, "sleep")
	_, err := ExecRunner{Timeout: 50 * time.Millisecond}.Run(context.Background(), sleep, []string{"5"})
	if !errors.Is(err, ErrTimeout) {
		t.Errorf("err = %v, want ErrTimeout", err)
	}
}

func TestExecRunnerMissingBinary(t *testing.T) {
	_, err := ExecRunner{}.Run(context.Background(), "/nonexistent/wake-tool", nil)
	if err == nil {
		t.Fatal("expected error for missing binary")
	}
}
