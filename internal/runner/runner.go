// Package runner executes one scheduling cycle: it scans every entry, and
// for each due one takes a non-blocking lock, re-checks due-ness under the
// lock, durably advances the next due time and only then runs the job.
// Failures are isolated per entry and collected into a Report.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/flemzord/mtpsched/internal/job"
	"github.com/flemzord/mtpsched/internal/schedule"
)

const tracerName = "github.com/flemzord/mtpsched/internal/runner"

// Runner runs scheduling cycles against a store.
type Runner struct {
	store       schedule.Store
	jobs        schedule.JobLookup
	logger      *slog.Logger
	now         func() time.Time
	loc         *time.Location
	concurrency int
	metrics     *Metrics
	tracer      trace.Tracer
	hooks       []func(*Report)
}

// New creates a Runner over store resolving job names through jobs.
func New(store schedule.Store, jobs schedule.JobLookup, opts ...Option) *Runner {
	r := &Runner{
		store:       store,
		jobs:        jobs,
		logger:      slog.Default(),
		now:         time.Now,
		loc:         time.UTC,
		concurrency: 1,
		tracer:      otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RunCycle processes every entry once. The returned error is non-nil only
// when the entries could not be listed, or ctx was cancelled mid-cycle;
// per-entry problems are reported in the Report and never abort the cycle.
func (r *Runner) RunCycle(ctx context.Context) (*Report, error) {
	ctx, span := r.tracer.Start(ctx, "scheduler.cycle")
	defer span.End()

	report := &Report{StartedAt: r.now()}

	entries, err := r.store.List(ctx)
	if err != nil {
		err = fmt.Errorf("runner: list entries: %w", err)
		report.FinishedAt = r.now()
		r.metrics.observeCycle(err, report.FinishedAt)
		span.RecordError(err)
		span.SetStatus(codes.Error, "list entries")
		return report, err
	}
	span.SetAttributes(attribute.Int("entries", len(entries)))

	report.Results = make([]Result, len(entries))
	if r.concurrency > 1 {
		var g errgroup.Group
		g.SetLimit(r.concurrency)
		processed := make([]bool, len(entries))
		for i, e := range entries {
			if ctx.Err() != nil {
				break
			}
			g.Go(func() error {
				if ctx.Err() != nil {
					return nil
				}
				report.Results[i] = r.process(ctx, e)
				processed[i] = true
				return nil
			})
		}
		_ = g.Wait()

		kept := report.Results[:0]
		for i, ok := range processed {
			if ok {
				kept = append(kept, report.Results[i])
			}
		}
		report.Results = kept
	} else {
		for i, e := range entries {
			if ctx.Err() != nil {
				report.Results = report.Results[:i]
				break
			}
			report.Results[i] = r.process(ctx, e)
		}
	}

	report.FinishedAt = r.now()
	err = ctx.Err()
	for _, res := range report.Results {
		r.metrics.observeResult(res)
	}
	r.metrics.observeCycle(err, report.FinishedAt)

	span.SetAttributes(
		attribute.Int("executed", report.Count(OutcomeExecuted)),
		attribute.Int("failed", len(report.Failures())),
	)

	for _, hook := range r.hooks {
		hook(report)
	}
	return report, err
}

// process walks one entry through
// due → locked → still due → advanced+committed → executed|failed.
func (r *Runner) process(ctx context.Context, e schedule.Entry) Result {
	now := r.now().In(r.loc)
	if !schedule.IsDue(e, now) {
		return Result{Entry: e, Outcome: OutcomeSkipped}
	}

	ctx, span := r.tracer.Start(ctx, "scheduler.entry", trace.WithAttributes(
		attribute.Int64("entry.id", e.ID),
		attribute.String("entry.name", e.Name),
	))
	defer span.End()

	res := r.claimAndRun(ctx, e, now)
	span.SetAttributes(attribute.String("outcome", res.Outcome.String()))
	if res.Err != nil {
		res.Error = res.Err.Error()
		span.RecordError(res.Err)
		span.SetStatus(codes.Error, res.Outcome.String())
	}
	return res
}

func (r *Runner) claimAndRun(ctx context.Context, e schedule.Entry, now time.Time) Result {
	log := r.logger.With("entry", e.String(), "id", e.ID)

	lock, err := r.store.TryLock(ctx, e.ID)
	switch {
	case errors.Is(err, schedule.ErrLockDenied):
		log.Info("runner: entry locked by another runner, skipping")
		return Result{Entry: e, Outcome: OutcomeLockDenied}
	case errors.Is(err, schedule.ErrEntryNotFound):
		log.Debug("runner: entry removed since listing, skipping")
		return Result{Entry: e, Outcome: OutcomeSkipped}
	case err != nil:
		log.Warn("runner: scheduled command failed to run due to database error", "error", err)
		return Result{Entry: e, Outcome: OutcomeDatabaseError, Err: err}
	}
	defer func() { _ = lock.Rollback() }()

	locked := lock.Entry()
	if !schedule.IsDue(locked, now) {
		log.Debug("runner: entry advanced by another runner", "next_due_at", locked.NextDueAt)
		return Result{Entry: locked, Outcome: OutcomeNoLongerDue}
	}

	if err := schedule.Advance(&locked, now); err != nil {
		log.Error("runner: scheduled command failed to run", "error", err)
		return Result{Entry: locked, Outcome: OutcomeFailed, Err: err}
	}

	// The advance is committed before the job body starts so that a
	// failing or crashing job is not retried until its next occurrence.
	if err := lock.SetNextDue(ctx, locked.NextDueAt); err != nil {
		log.Warn("runner: scheduled command failed to run due to database error", "error", err)
		return Result{Entry: locked, Outcome: OutcomeDatabaseError, Err: err}
	}
	if err := lock.Commit(); err != nil {
		log.Warn("runner: scheduled command failed to run due to database error", "error", err)
		return Result{Entry: locked, Outcome: OutcomeDatabaseError, Err: err}
	}

	res := Result{Entry: locked, NextDueAt: locked.NextDueAt}

	j, ok := r.jobs.Lookup(locked.Name)
	if !ok {
		res.Outcome = OutcomeFailed
		res.Err = fmt.Errorf("%w: %q", schedule.ErrUnknownJob, locked.Name)
		log.Error("runner: scheduled command failed to run", "error", res.Err)
		return res
	}

	log.Info("runner: running scheduled command", "next_due_at", locked.NextDueAt)
	start := time.Now()
	err = runJob(ctx, j, locked.Args())
	res.Duration = time.Since(start)

	if err != nil {
		res.Outcome = OutcomeFailed
		res.Err = err
		log.Error("runner: scheduled command failed to run",
			"name", locked.Name,
			"args", locked.Args(),
			"duration", res.Duration,
			"error", err,
		)
		return res
	}

	res.Outcome = OutcomeExecuted
	log.Info("runner: completed scheduled command", "duration", res.Duration)
	return res
}

// runJob invokes j, converting a panic into an error.
func runJob(ctx context.Context, j job.Job, args []string) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("runner: job panicked: %v", p)
		}
	}()
	return j.Run(ctx, args)
}
