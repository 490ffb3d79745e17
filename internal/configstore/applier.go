package configstore

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Applier commits staged changes asynchronously, after a settle delay that
// stands in for the system's out-of-band apply confirmation. Requests made
// while an apply is pending are folded into it.
type Applier struct {
	backend *BoltBackend
	clock   clockwork.Clock
	delay   time.Duration
	logger  *slog.Logger

	// OnCommit, if set, is called with the configs that changed.
	OnCommit func(configs []string)

	mu       sync.Mutex
	pending  bool
	closed   bool
	wg       sync.WaitGroup
	done     chan struct{}
	stopOnce sync.Once
}

// NewApplier creates an applier committing delay after each request.
func NewApplier(backend *BoltBackend, clock clockwork.Clock, delay time.Duration, logger *slog.Logger) *Applier {
	return &Applier{
		backend: backend,
		clock:   clock,
		delay:   delay,
		logger:  logger.With("component", "applier"),
		done:    make(chan struct{}),
	}
}

// Apply schedules a commit and returns immediately.
func (a *Applier) Apply(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	// Checked under mu so wg.Add never races the Wait in Stop.
	if a.closed {
		return ErrClosed
	}
	if a.pending {
		return nil
	}
	a.pending = true
	a.wg.Add(1)
	go a.run()
	return nil
}

func (a *Applier) run() {
	defer a.wg.Done()

	if a.delay > 0 {
		select {
		case <-a.clock.After(a.delay):
		case <-a.done:
			a.mu.Lock()
			a.pending = false
			a.mu.Unlock()
			return
		}
	}

	a.mu.Lock()
	a.pending = false
	a.mu.Unlock()

	configs, err := a.backend.Commit()
	if err != nil {
		a.logger.Error("commit staged changes", "err", err)
		return
	}
	if len(configs) == 0 {
		return
	}
	a.logger.Info("changes applied", "configs", configs)
	if a.OnCommit != nil {
		a.OnCommit(configs)
	}
}

// Stop abandons pending applies and waits for in-flight commits. Staged
// changes stay staged. Safe to call multiple times.
func (a *Applier) Stop() {
	a.stopOnce.Do(func() {
		a.mu.Lock()
		a.closed = true
		close(a.done)
		a.mu.Unlock()
	})
	a.wg.Wait()
}
