package discovery

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"wol-go-home/internal/hostdir"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

type fixedSource struct {
	hints map[string]hostdir.Hint
	err   error
}

func (f fixedSource) HostHints(context.Context) (map[string]hostdir.Hint, error) {
	return f.hints, f.err
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestFileSource(t *testing.T) {
	path := writeFile(t, "hints.yaml", `hosts:
  "aa:bb:cc:dd:ee:ff":
    name: nas
    ipv4: [192.168.1.20]
    ipv6: ["fe80::1"]
`)
	hints, err := NewFileSource(path, testLogger()).HostHints(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	h, ok := hints["aa:bb:cc:dd:ee:ff"]
	if !ok {
		t.Fatalf("hints = %v", hints)
	}
	if h.Name != "nas" || len(h.IPv4) != 1 || h.IPv4[0] != "192.168.1.20" || len(h.IPv6) != 1 {
		t.Errorf("hint = %+v", h)
	}
}

func TestFileSourceMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "absent.yaml")
	hints, err := NewFileSource(path, testLogger()).HostHints(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(hints) != 0 {
		t.Errorf("hints = %v, want none", hints)
	}
}

func TestFileSourceInvalidYAML(t *testing.T) {
	path := writeFile(t, "hints.yaml", "hosts: [unclosed")
	if _, err := NewFileSource(path, testLogger()).HostHints(context.Background()); err == nil {
		t.Error("expected parse error")
	}
}

func TestMultiMerges(t *testing.T) {
	m := NewMulti(testLogger(),
		fixedSource{hints: map[string]hostdir.Hint{
			"aa:bb:cc:dd:ee:01": {IPv4: []string{"10.0.0.1"}},
		}},
		fixedSource{err: errors.New("collector down")},
		fixedSource{hints: map[string]hostdir.Hint{
			"AA-BB-CC-DD-EE-01": {Name: "tv", IPv4: []string{"10.0.0.1", "10.0.0.2"}},
			"AA:BB:CC:DD:EE:02": {Name: "nas"},
		}},
	)
	hints, err := m.HostHints(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(hints) != 2 {
		t.Fatalf("hints = %d, want 2", len(hints))
	}
	h := hints["AA:BB:CC:DD:EE:01"]
	if h.Name != "tv" {
		t.Errorf("name = %q, want tv", h.Name)
	}
	if len(h.IPv4) != 2 || h.IPv4[0] != "10.0.0.1" {
		t.Errorf("ipv4 = %v, want [10.0.0.1 10.0.0.2]", h.IPv4)
	}
}

func TestMultiAllFail(t *testing.T) {
	boom := errors.New("boom")
	m := NewMulti(testLogger(), fixedSource{err: boom})
	if _, err := m.HostHints(context.Background()); !errors.Is(err, boom) {
		t.Errorf("err = %v, want boom", err)
	}
}
