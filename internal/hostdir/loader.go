package hostdir

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"wol-go-home/internal/configstore"
)

// Config and section names the directory is read from.
const (
	LeaseConfig      = "dhcp"
	LeaseSectionType = "host"
	PinConfig        = "etherwake"
	PinSectionType   = "target"
)

// HintSource provides discovery hints keyed by MAC.
type HintSource interface {
	HostHints(ctx context.Context) (map[string]Hint, error)
}

// Loader pulls the three host sources and aggregates them.
type Loader struct {
	open   func() configstore.Client
	hints  HintSource
	logger *slog.Logger
}

// NewLoader creates a loader. open must return a fresh store session; it is
// called once per Load.
func NewLoader(open func() configstore.Client, hints HintSource, logger *slog.Logger) *Loader {
	return &Loader{
		open:   open,
		hints:  hints,
		logger: logger.With("component", "hostdir"),
	}
}

// Load reads leases, pins and hints concurrently and returns a fresh
// directory. Any source failure fails the whole load.
func (l *Loader) Load(ctx context.Context) (*Directory, error) {
	client := l.open()

	var (
		leases []Lease
		pins   []PinnedHost
		hints  map[string]Hint
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		hints, err = l.hints.HostHints(gctx)
		if err != nil {
			return fmt.Errorf("host hints: %w", err)
		}
		return nil
	})
	// Sessions are not safe for concurrent use; both configs are read on
	// one goroutine while discovery runs alongside.
	g.Go(func() error {
		var err error
		if leases, err = readLeases(gctx, client); err != nil {
			return err
		}
		pins, err = ReadPins(gctx, client)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	d := Aggregate(hints, leases, pins)
	l.logger.Debug("directory loaded",
		"pinned", len(d.Pinned),
		"static", len(d.Static),
		"discovered", len(d.Discovered))
	return d, nil
}

func readLeases(ctx context.Context, c configstore.Client) ([]Lease, error) {
	if err := c.Load(ctx, LeaseConfig); err != nil {
		return nil, fmt.Errorf("load leases: %w", err)
	}
	var leases []Lease
	err := c.Sections(LeaseConfig, LeaseSectionType, func(s configstore.Section) {
		var macs []string
		// mac is either a list or a single whitespace separated string.
		for _, v := range s.List("mac") {
			macs = append(macs, strings.Fields(v)...)
		}
		leases = append(leases, Lease{Name: s.Get("name"), IP: s.Get("ip"), MACs: macs})
	})
	return leases, err
}

// ReadPins returns the pinned hosts of a loaded or loadable client in store
// order.
func ReadPins(ctx context.Context, c configstore.Client) ([]PinnedHost, error) {
	if err := c.Load(ctx, PinConfig); err != nil {
		return nil, fmt.Errorf("load pins: %w", err)
	}
	var pins []PinnedHost
	err := c.Sections(PinConfig, PinSectionType, func(s configstore.Section) {
		pins = append(pins, PinnedHost{
			SectionID: s.ID,
			Name:      s.Get("name"),
			MAC:       s.Get("mac"),
			IP:        s.Get("ip"),
		})
	})
	return pins, err
}
