// Package trigger runs scheduler cycles periodically inside the daemon.
package trigger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/flemzord/mtpsched/internal/runner"
)

// DefaultSchedule fires a cycle at the top of every minute.
const DefaultSchedule = "* * * * *"

// ErrCycleRunning is returned by RunNow when a cycle is already in flight.
var ErrCycleRunning = errors.New("trigger: cycle already running")

// Cycler runs one scheduler cycle. *runner.Runner satisfies it.
type Cycler interface {
	RunCycle(ctx context.Context) (*runner.Report, error)
}

// Trigger fires cycles on a cron schedule. A tick that arrives while the
// previous cycle is still running is skipped (uses TryLock, no queueing).
type Trigger struct {
	mu       sync.Mutex
	running  sync.Mutex
	cycler   Cycler
	schedule string
	cron     *cron.Cron
	logger   *slog.Logger
	ctx      context.Context
	cancel   context.CancelFunc
}

// New creates a trigger. An empty schedule means DefaultSchedule.
func New(c Cycler, schedule string, logger *slog.Logger) *Trigger {
	if logger == nil {
		logger = slog.Default()
	}
	if schedule == "" {
		schedule = DefaultSchedule
	}
	return &Trigger{
		cycler:   c,
		schedule: schedule,
		logger:   logger,
	}
}

// Schedule returns the configured cron expression.
func (t *Trigger) Schedule() string { return t.schedule }

// Start begins firing cycles. Descriptors such as "@every 30s" are
// accepted in addition to 5-field expressions.
func (t *Trigger) Start() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.cron != nil {
		return errors.New("trigger: already started")
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	c := cron.New(cron.WithParser(parser))

	ctx, cancel := context.WithCancel(context.Background())
	if _, err := c.AddFunc(t.schedule, func() { t.tick(ctx) }); err != nil {
		cancel()
		return fmt.Errorf("trigger: invalid schedule %q: %w", t.schedule, err)
	}

	t.cron = c
	t.ctx = ctx
	t.cancel = cancel
	c.Start()
	t.logger.Info("trigger: started", "schedule", t.schedule)
	return nil
}

func (t *Trigger) tick(ctx context.Context) {
	if _, err := t.RunNow(ctx); errors.Is(err, ErrCycleRunning) {
		t.logger.Warn("trigger: previous cycle still running, skipping tick")
	}
}

// RunNow runs one cycle immediately unless one is already running.
func (t *Trigger) RunNow(ctx context.Context) (*runner.Report, error) {
	if !t.running.TryLock() {
		return nil, ErrCycleRunning
	}
	defer t.running.Unlock()

	report, err := t.cycler.RunCycle(ctx)
	if err != nil {
		t.logger.Error("trigger: cycle failed", "error", err)
		return report, err
	}
	t.logger.Debug("trigger: cycle completed",
		"entries", len(report.Results),
		"executed", report.Count(runner.OutcomeExecuted),
		"failed", len(report.Failures()),
		"duration", report.Duration(),
	)
	return report, nil
}

// Stop halts the schedule, cancels the running cycle's context and waits
// for it to return or for ctx to expire.
func (t *Trigger) Stop(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.cron == nil {
		return nil
	}
	t.cancel()
	done := t.cron.Stop().Done()
	t.cron = nil

	select {
	case <-done:
		t.logger.Info("trigger: stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("trigger: stop: %w", ctx.Err())
	}
}
