// Package pinning persists wake targets. Every mutation runs the same
// reconciliation: refuse while unrelated configs have pending changes,
// debounce behind our own pending changes, mutate, save, apply and poll
// until the system reports nothing pending.
package pinning

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"wol-go-home/internal/configstore"
	"wol-go-home/internal/hostdir"
	"wol-go-home/internal/metrics"
	"wol-go-home/internal/notify"
)

var (
	ErrForeignChangesPending = errors.New("unrelated configuration changes are pending")
	ErrPersistFailed         = errors.New("saving configuration failed")
	ErrNotPinned             = errors.New("host is not pinned")
	ErrAlreadyPinned         = errors.New("host is already pinned")
	ErrNotConverged          = errors.New("configuration did not converge after apply")
)

// Options tune the workflow. Zero durations are replaced by the defaults.
type Options struct {
	Config      string
	SectionType string

	// SettleDelay is waited when our own config already has pending
	// changes. It is a debounce, not a lock.
	SettleDelay    time.Duration
	PollGrace      time.Duration
	PollInterval   time.Duration
	DeferredReload time.Duration

	// MaxPollAttempts bounds polling; 0 polls until converged.
	MaxPollAttempts int
}

// DefaultOptions returns the stock timings.
func DefaultOptions() Options {
	return Options{
		Config:         hostdir.PinConfig,
		SectionType:    hostdir.PinSectionType,
		SettleDelay:    2000 * time.Millisecond,
		PollGrace:      1000 * time.Millisecond,
		PollInterval:   400 * time.Millisecond,
		DeferredReload: 2000 * time.Millisecond,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.Config == "" {
		o.Config = d.Config
	}
	if o.SectionType == "" {
		o.SectionType = d.SectionType
	}
	if o.SettleDelay == 0 {
		o.SettleDelay = d.SettleDelay
	}
	if o.PollGrace == 0 {
		o.PollGrace = d.PollGrace
	}
	if o.PollInterval == 0 {
		o.PollInterval = d.PollInterval
	}
	if o.DeferredReload == 0 {
		o.DeferredReload = d.DeferredReload
	}
	return o
}

// Reloader rebuilds the host directory after a successful run.
type Reloader interface {
	Load(ctx context.Context) (*hostdir.Directory, error)
}

// PinRequest pins one host.
type PinRequest struct {
	Name string `json:"name"`
	MAC  string `json:"mac"`
	IP   string `json:"ip,omitempty"`
}

// Result reports a finished run.
type Result struct {
	State
	Outcome   Outcome            `json:"outcome"`
	Directory *hostdir.Directory `json:"directory,omitempty"`
}

// Workflow runs pin mutations against the config store.
type Workflow struct {
	open    func() configstore.Client
	reload  Reloader
	bus     notify.Publisher
	clock   clockwork.Clock
	metrics *metrics.WorkflowMetrics
	opts    Options
	logger  *slog.Logger
}

// Option configures a Workflow.
type Option func(*Workflow)

// WithClock sets the clock used for delays and polling.
func WithClock(c clockwork.Clock) Option {
	return func(w *Workflow) { w.clock = c }
}

// WithMetrics records run outcomes.
func WithMetrics(m *metrics.WorkflowMetrics) Option {
	return func(w *Workflow) { w.metrics = m }
}

// WithOptions overrides config names and timings.
func WithOptions(o Options) Option {
	return func(w *Workflow) { w.opts = o.withDefaults() }
}

// NewWorkflow creates a workflow. open must return a fresh store session
// for each run.
func NewWorkflow(open func() configstore.Client, reload Reloader, bus notify.Publisher, logger *slog.Logger, opts ...Option) *Workflow {
	w := &Workflow{
		open:   open,
		reload: reload,
		bus:    bus,
		clock:  clockwork.NewRealClock(),
		opts:   DefaultOptions(),
		logger: logger.With("component", "pinning"),
	}
	for _, o := range opts {
		o(w)
	}
	return w
}

// Pin persists a new wake target.
func (w *Workflow) Pin(ctx context.Context, req PinRequest) (*Result, error) {
	req, err := validatePin(req)
	if err != nil {
		return nil, err
	}
	return w.run(ctx, OpPin, func(ctx context.Context, c configstore.Client) error {
		targets, err := w.targets(ctx, c)
		if err != nil {
			return err
		}
		for _, t := range targets {
			if hostdir.NormalizeMAC(t.Get("mac")) == req.MAC {
				return fmt.Errorf("%s: %w", req.MAC, ErrAlreadyPinned)
			}
		}
		return w.addTarget(c, Row{Name: req.Name, MAC: req.MAC, IP: req.IP})
	})
}

// Unpin removes every wake target with the given MAC.
func (w *Workflow) Unpin(ctx context.Context, mac string) (*Result, error) {
	canonical, err := hostdir.CanonicalMAC(mac)
	if err != nil {
		return nil, err
	}
	return w.run(ctx, OpUnpin, func(ctx context.Context, c configstore.Client) error {
		targets, err := w.targets(ctx, c)
		if err != nil {
			return err
		}
		removed := 0
		for _, t := range targets {
			if hostdir.NormalizeMAC(t.Get("mac")) != canonical {
				continue
			}
			if err := c.Remove(w.opts.Config, t.ID); err != nil {
				return fmt.Errorf("%w: remove %s: %w", ErrPersistFailed, t.ID, err)
			}
			removed++
		}
		if removed == 0 {
			return fmt.Errorf("%s: %w", canonical, ErrNotPinned)
		}
		return nil
	})
}

// ReplaceAll replaces the whole pinned set with rows. The batch is
// validated up front; any invalid row rejects it before the store is
// touched.
func (w *Workflow) ReplaceAll(ctx context.Context, rows []Row) (*Result, error) {
	rows, err := ValidateRows(rows)
	if err != nil {
		return nil, err
	}
	return w.run(ctx, OpReplace, func(ctx context.Context, c configstore.Client) error {
		targets, err := w.targets(ctx, c)
		if err != nil {
			return err
		}
		for _, t := range targets {
			if err := c.Remove(w.opts.Config, t.ID); err != nil {
				return fmt.Errorf("%w: remove %s: %w", ErrPersistFailed, t.ID, err)
			}
		}
		for _, r := range rows {
			if err := w.addTarget(c, r); err != nil {
				return err
			}
		}
		return nil
	})
}

func (w *Workflow) targets(ctx context.Context, c configstore.Client) ([]configstore.Section, error) {
	if err := c.Load(ctx, w.opts.Config); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPersistFailed, err)
	}
	var out []configstore.Section
	if err := c.Sections(w.opts.Config, w.opts.SectionType, func(s configstore.Section) {
		out = append(out, s)
	}); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPersistFailed, err)
	}
	return out, nil
}

func (w *Workflow) addTarget(c configstore.Client, r Row) error {
	id, err := c.Add(w.opts.Config, w.opts.SectionType)
	if err != nil {
		return fmt.Errorf("%w: add target: %w", ErrPersistFailed, err)
	}
	fields := [][2]string{{"name", r.Name}, {"mac", r.MAC}}
	if r.IP != "" {
		fields = append(fields, [2]string{"ip", r.IP})
	}
	for _, f := range fields {
		if err := c.Set(w.opts.Config, id, f[0], f[1]); err != nil {
			return fmt.Errorf("%w: set %s: %w", ErrPersistFailed, f[0], err)
		}
	}
	return nil
}

type mutation func(ctx context.Context, c configstore.Client) error

func (w *Workflow) run(ctx context.Context, op Op, mutate mutation) (*Result, error) {
	st := &State{RunID: uuid.NewString(), Op: op}
	logger := w.logger.With("run", st.RunID, "op", op)
	client := w.open()

	res, err := w.execute(ctx, st, client, logger, mutate)
	if res == nil {
		res = &Result{State: *st, Outcome: OutcomeFailed}
	}
	w.metrics.ObserveRun(string(op), string(res.Outcome), st.Delayed, st.PollAttempts)

	if err != nil {
		level := notify.LevelError
		if res.Outcome == OutcomeRejected {
			level = notify.LevelWarning
		}
		logger.Warn("pin workflow failed", "phase", st.Phase, "err", err)
		w.bus.Publish(notify.Event{
			Type:    notify.EventPinFailed,
			Level:   level,
			Message: err.Error(),
			Data:    res.State,
		})
		return res, err
	}

	logger.Info("pin workflow finished", "outcome", res.Outcome, "polls", st.PollAttempts, "delayed", st.Delayed)
	w.bus.Publish(notify.Event{
		Type:    notify.EventPinDone,
		Level:   notify.LevelInfo,
		Message: doneMessage(op, res.Outcome),
		Data:    res.State,
	})
	return res, nil
}

func (w *Workflow) execute(ctx context.Context, st *State, client configstore.Client, logger *slog.Logger, mutate mutation) (*Result, error) {
	w.transition(st, logger, PhaseCheckingConflicts)
	changes, err := client.Changes(ctx)
	if err != nil {
		w.transition(st, logger, PhaseFailed)
		return nil, fmt.Errorf("%w: list changes: %w", ErrPersistFailed, err)
	}
	for config, list := range changes {
		if config != w.opts.Config && len(list) > 0 {
			st.Foreign = append(st.Foreign, config)
		}
	}
	if len(st.Foreign) > 0 {
		slices.Sort(st.Foreign)
		w.transition(st, logger, PhaseRejected)
		return &Result{State: *st, Outcome: OutcomeRejected},
			fmt.Errorf("%w: %v", ErrForeignChangesPending, st.Foreign)
	}

	if len(changes[w.opts.Config]) > 0 {
		st.Delayed = true
		w.transition(st, logger, PhaseDelaying)
		select {
		case <-w.clock.After(w.opts.SettleDelay):
		case <-ctx.Done():
			w.transition(st, logger, PhaseFailed)
			return nil, ctx.Err()
		}
	}

	// From here on the run completes regardless of the caller.
	ctx = context.WithoutCancel(ctx)

	w.transition(st, logger, PhaseMutating)
	if err := mutate(ctx, client); err != nil {
		w.transition(st, logger, PhaseFailed)
		return nil, err
	}

	w.transition(st, logger, PhaseSaving)
	if err := client.Save(ctx); err != nil {
		w.transition(st, logger, PhaseFailed)
		return nil, fmt.Errorf("%w: save: %w", ErrPersistFailed, err)
	}

	w.transition(st, logger, PhaseApplying)
	if err := client.Apply(ctx); err != nil {
		w.transition(st, logger, PhaseFailed)
		return nil, fmt.Errorf("%w: apply: %w", ErrPersistFailed, err)
	}

	w.transition(st, logger, PhasePolling)
	<-w.clock.After(w.opts.PollGrace)
	for {
		st.PollAttempts++
		changes, err := client.Changes(ctx)
		if err != nil {
			logger.Warn("polling changes failed, reload deferred", "err", err, "after", w.opts.DeferredReload)
			w.deferReload(st.RunID)
			return &Result{State: *st, Outcome: OutcomeReloadDeferred}, nil
		}
		if pending(changes) == 0 {
			break
		}
		if w.opts.MaxPollAttempts > 0 && st.PollAttempts >= w.opts.MaxPollAttempts {
			w.transition(st, logger, PhaseFailed)
			return nil, fmt.Errorf("%w: %d attempts", ErrNotConverged, st.PollAttempts)
		}
		<-w.clock.After(w.opts.PollInterval)
	}

	w.transition(st, logger, PhaseDone)
	res := &Result{State: *st, Outcome: OutcomeDone}
	dir, err := w.reloadDirectory(ctx)
	if err != nil {
		logger.Warn("reload after apply failed", "err", err)
		return res, nil
	}
	res.Directory = dir
	return res, nil
}

func (w *Workflow) transition(st *State, logger *slog.Logger, p Phase) {
	logger.Debug("pin workflow transition", "from", st.Phase, "to", p)
	st.Phase = p
	w.bus.Publish(notify.Event{Type: notify.EventPinState, Data: *st})
}

func (w *Workflow) deferReload(runID string) {
	w.clock.AfterFunc(w.opts.DeferredReload, func() {
		if _, err := w.reloadDirectory(context.Background()); err != nil {
			w.logger.Warn("deferred reload failed", "run", runID, "err", err)
		}
	})
}

func (w *Workflow) reloadDirectory(ctx context.Context) (*hostdir.Directory, error) {
	if w.reload == nil {
		return nil, nil
	}
	dir, err := w.reload.Load(ctx)
	if err != nil {
		return nil, err
	}
	w.bus.Publish(notify.Event{Type: notify.EventDirectoryReloaded, Data: dir})
	return dir, nil
}

func pending(changes map[string][]configstore.Change) int {
	n := 0
	for _, list := range changes {
		n += len(list)
	}
	return n
}

func doneMessage(op Op, outcome Outcome) string {
	if outcome == OutcomeReloadDeferred {
		return "Configuration applied, reloading shortly"
	}
	switch op {
	case OpPin:
		return "Host pinned"
	case OpUnpin:
		return "Host unpinned"
	default:
		return "Pinned hosts saved"
	}
}
