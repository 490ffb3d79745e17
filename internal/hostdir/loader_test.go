package hostdir

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"wol-go-home/internal/configstore"
)

type staticHints map[string]Hint

func (h staticHints) HostHints(context.Context) (map[string]Hint, error) { return h, nil }

type failingHints struct{ err error }

func (f failingHints) HostHints(context.Context) (map[string]Hint, error) { return nil, f.err }

func newTestLoader(t *testing.T, hints HintSource) (*Loader, *configstore.BoltBackend) {
	t.Helper()
	b, err := configstore.NewBoltBackend(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { b.Close() })
	open := func() configstore.Client { return configstore.NewSession(b, nil) }
	return NewLoader(open, hints, slog.New(slog.NewTextHandler(io.Discard, nil))), b
}

func TestLoaderMergesSources(t *testing.T) {
	loader, b := newTestLoader(t, staticHints{
		"aa:bb:cc:dd:ee:01": {Name: "printer", IPv4: []string{"10.0.0.4"}},
	})

	err := b.PutCommitted(LeaseConfig, []configstore.Section{
		{ID: "lease1", Type: LeaseSectionType, Options: map[string][]string{
			"name": {"tv"},
			"ip":   {"10.0.0.5"},
			"mac":  {"aa:bb:cc:dd:ee:02 aa:bb:cc:dd:ee:03"},
		}},
	})
	if err != nil {
		t.Fatal(err)
	}
	err = b.PutCommitted(PinConfig, []configstore.Section{
		{ID: "setup", Type: "etherwake", Options: map[string][]string{"interface": {"br-lan"}}},
		{ID: "pin1", Type: PinSectionType, Options: map[string][]string{
			"name": {"Printer"},
			"mac":  {"AA:BB:CC:DD:EE:01"},
		}},
	})
	if err != nil {
		t.Fatal(err)
	}

	d, err := loader.Load(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(d.Static) != 2 {
		t.Errorf("static = %d, want 2 (whitespace separated MACs)", len(d.Static))
	}
	if len(d.Pinned) != 1 || d.Pinned[0].SectionID != "pin1" {
		t.Errorf("pinned = %+v", d.Pinned)
	}
	if len(d.Discovered) != 1 || !d.Discovered[0].IsPinned {
		t.Errorf("discovered = %+v", d.Discovered)
	}
}

func TestLoaderFailsOnSourceError(t *testing.T) {
	boom := errors.New("boom")
	loader, _ := newTestLoader(t, failingHints{err: boom})
	if _, err := loader.Load(context.Background()); !errors.Is(err, boom) {
		t.Errorf("err = %v, want boom", err)
	}
}
