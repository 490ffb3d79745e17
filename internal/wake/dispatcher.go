// Package wake sends Wake-on-LAN packets through one of two external
// utilities and reports the outcome as notifications.
package wake

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/jonboulle/clockwork"

	"wol-go-home/internal/hostdir"
	"wol-go-home/internal/metrics"
	"wol-go-home/internal/notify"
	"wol-go-home/internal/runner"
)

var (
	ErrNoTargetSpecified    = errors.New("no target host specified")
	ErrExecutionFailed      = errors.New("wake utility failed")
	ErrNoBackend            = errors.New("no wake utility installed")
	ErrBackendNotConfigured = errors.New("both wake utilities installed, choose one")
	ErrInvalidForm          = errors.New("invalid wake settings")
)

// ifaceRe matches Linux interface names (IFNAMSIZ - 1).
var ifaceRe = regexp.MustCompile(`^[A-Za-z0-9_.@-]{1,15}$`)

// Config holds the configured wake defaults.
type Config struct {
	Backend   string // "", "etherwake", "wol" or a utility path
	Interface string
	Broadcast bool
}

// Outcome describes one finished wake attempt.
type Outcome struct {
	MAC     string   `json:"mac"`
	Name    string   `json:"name,omitempty"`
	Backend Kind     `json:"backend,omitempty"`
	Args    []string `json:"args,omitempty"`
	Stdout  string   `json:"stdout,omitempty"`
	Stderr  string   `json:"stderr,omitempty"`
	Message string   `json:"message"`
	Sent    bool     `json:"sent"`
}

// Form is a wake request from the operator form. Empty fields fall back to
// the configured defaults.
type Form struct {
	MAC        string `json:"mac,omitempty"`
	Name       string `json:"name,omitempty"`
	Executable string `json:"executable,omitempty"`
	Interface  string `json:"interface,omitempty"`
	Broadcast  *bool  `json:"broadcast,omitempty"`
}

// Dispatcher validates targets, builds the backend invocation and runs it.
type Dispatcher struct {
	avail   Availability
	cfg     Config
	run     runner.Runner
	bus     notify.Publisher
	metrics *metrics.WakeMetrics
	clock   clockwork.Clock
	logger  *slog.Logger
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithMetrics records wake attempts.
func WithMetrics(m *metrics.WakeMetrics) DispatcherOption {
	return func(d *Dispatcher) { d.metrics = m }
}

// WithClock sets the clock used to time executions.
func WithClock(c clockwork.Clock) DispatcherOption {
	return func(d *Dispatcher) { d.clock = c }
}

// NewDispatcher creates a dispatcher over the probed utilities.
func NewDispatcher(avail Availability, cfg Config, run runner.Runner, bus notify.Publisher, logger *slog.Logger, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		avail:  avail,
		cfg:    cfg,
		run:    run,
		bus:    bus,
		clock:  clockwork.NewRealClock(),
		logger: logger.With("component", "wake"),
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Availability returns the startup probe result.
func (d *Dispatcher) Availability() Availability { return d.avail }

// Selected returns the backend used when a request does not choose one.
func (d *Dispatcher) Selected() (Backend, error) {
	kind, err := ParseKind(d.cfg.Backend)
	if err != nil {
		return Backend{}, fmt.Errorf("%w: %v", ErrInvalidForm, err)
	}
	return d.avail.Select(kind)
}

// Dispatch wakes mac with the configured defaults. name is only used in
// messages.
func (d *Dispatcher) Dispatch(ctx context.Context, mac, name string) (*Outcome, error) {
	return d.dispatch(ctx, mac, name, d.cfg.Backend, Options{Interface: d.cfg.Interface, Broadcast: d.cfg.Broadcast})
}

// WakeForm validates the form settings, resolves the target from the form
// and wakes it.
func (d *Dispatcher) WakeForm(ctx context.Context, f Form) (*Outcome, error) {
	if err := f.validate(); err != nil {
		d.fail(f.MAC, f.Name, err)
		d.metrics.Observe("none", "invalid", 0)
		return nil, err
	}
	if f.MAC == "" {
		d.fail("", "", ErrNoTargetSpecified)
		d.metrics.Observe("none", "invalid", 0)
		return nil, ErrNoTargetSpecified
	}

	backend := d.cfg.Backend
	if f.Executable != "" {
		backend = f.Executable
	}
	opts := Options{Interface: d.cfg.Interface, Broadcast: d.cfg.Broadcast}
	if f.Interface != "" {
		opts.Interface = f.Interface
	}
	if f.Broadcast != nil {
		opts.Broadcast = *f.Broadcast
	}
	return d.dispatch(ctx, f.MAC, f.Name, backend, opts)
}

func (f Form) validate() error {
	if _, err := ParseKind(f.Executable); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidForm, err)
	}
	if f.Interface != "" && !ifaceRe.MatchString(f.Interface) {
		return fmt.Errorf("%w: invalid interface name %q", ErrInvalidForm, f.Interface)
	}
	return nil
}

func (d *Dispatcher) dispatch(ctx context.Context, rawMAC, name, backendName string, opts Options) (*Outcome, error) {
	// Checked before anything is reported as in progress.
	if !hostdir.ValidMAC(rawMAC) {
		err := fmt.Errorf("%w: %q", hostdir.ErrInvalidAddress, rawMAC)
		d.bus.Publish(notify.Event{Type: notify.EventWakeFailed, Level: notify.LevelError, Message: "Invalid MAC address!"})
		d.metrics.Observe("none", "invalid", 0)
		return nil, err
	}
	mac, _ := hostdir.CanonicalMAC(rawMAC)
	out := &Outcome{MAC: mac, Name: name}

	kind, err := ParseKind(backendName)
	if err != nil {
		err = fmt.Errorf("%w: %v", ErrInvalidForm, err)
		d.fail(mac, name, err)
		d.metrics.Observe("none", "invalid", 0)
		return nil, err
	}
	backend, err := d.avail.Select(kind)
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrExecutionFailed, err)
		out.Message = d.fail(mac, name, err)
		d.metrics.Observe("none", "failed", 0)
		return out, err
	}
	out.Backend = backend.Kind
	out.Args = backend.Args(mac, opts)

	d.bus.Publish(notify.Event{
		Type:    notify.EventWakeStarted,
		Level:   notify.LevelInfo,
		Message: startedMessage(mac, name),
		Data:    out,
	})
	d.logger.Info("waking host", "mac", mac, "name", name, "backend", backend.Kind, "args", out.Args)

	start := d.clock.Now()
	res, err := d.run.Run(ctx, backend.Path, out.Args)
	elapsed := d.clock.Since(start)
	out.Stdout, out.Stderr = res.Stdout, res.Stderr
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrExecutionFailed, err)
		out.Message = d.fail(mac, name, err)
		d.metrics.Observe(string(backend.Kind), "failed", elapsed)
		return out, err
	}

	out.Sent = true
	out.Message = sentMessage(name)
	d.metrics.Observe(string(backend.Kind), "sent", elapsed)
	d.logger.Info("wake packet sent", "mac", mac, "backend", backend.Kind, "duration", elapsed.Round(time.Millisecond))
	d.bus.Publish(notify.Event{
		Type:    notify.EventWakeSent,
		Level:   notify.LevelInfo,
		Message: out.Message,
		Data:    out,
	})
	return out, nil
}

// fail logs and publishes a failed wake and returns the message shown.
func (d *Dispatcher) fail(mac, name string, err error) string {
	msg := failedMessage(name, err)
	d.logger.Warn("wake failed", "mac", mac, "name", name, "err", err)
	d.bus.Publish(notify.Event{
		Type:    notify.EventWakeFailed,
		Level:   notify.LevelError,
		Message: msg,
		Data:    map[string]string{"mac": mac, "name": name, "error": err.Error()},
	})
	return msg
}

func startedMessage(mac, name string) string {
	if name != "" {
		return fmt.Sprintf("Waking %s (%s)…", name, mac)
	}
	return "Starting WoL utility…"
}

func sentMessage(name string) string {
	if name != "" {
		return fmt.Sprintf("Successfully sent wake packet to %s", name)
	}
	return "Wake packet sent"
}

func failedMessage(name string, err error) string {
	if name != "" {
		return fmt.Sprintf("Failed to wake %s: %v", name, err)
	}
	return "Waking host failed: " + err.Error()
}
