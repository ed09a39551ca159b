package runner_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/flemzord/mtpsched/internal/job"
	"github.com/flemzord/mtpsched/internal/job/jobtest"
	"github.com/flemzord/mtpsched/internal/runner"
	"github.com/flemzord/mtpsched/internal/schedule"
	"github.com/flemzord/mtpsched/internal/schedule/scheduletest"
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

type fixture struct {
	store *schedule.MemoryStore
	jobs  *job.Registry
	clock *scheduletest.Clock
	noop  *jobtest.MockJob
	logs  *bytes.Buffer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store: schedule.NewMemoryStore(),
		jobs:  job.NewRegistry(),
		clock: scheduletest.NewClock(t0),
		noop:  &jobtest.MockJob{},
		logs:  &bytes.Buffer{},
	}
	if err := f.jobs.Register("noop_job", f.noop); err != nil {
		t.Fatalf("Register: %v", err)
	}
	return f
}

func (f *fixture) logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(f.logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func (f *fixture) runner(store schedule.Store, opts ...runner.Option) *runner.Runner {
	base := []runner.Option{runner.WithClock(f.clock.Now), runner.WithLogger(f.logger())}
	return runner.New(store, f.jobs, append(base, opts...)...)
}

func (f *fixture) add(t *testing.T, e schedule.Entry) schedule.Entry {
	t.Helper()
	if err := f.store.Create(context.Background(), &e); err != nil {
		t.Fatalf("Create: %v", err)
	}
	return e
}

func (f *fixture) get(t *testing.T, id int64) schedule.Entry {
	t.Helper()
	e, err := f.store.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	return e
}

func TestRunCycle_ExecutesDueEntry(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	e := f.add(t, schedule.Entry{Name: "noop_job", Recurrence: "*/5 * * * *", NextDueAt: t0})

	report, err := f.runner(f.store).RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}

	if f.noop.CallCount() != 1 {
		t.Fatalf("job calls = %d, want 1", f.noop.CallCount())
	}
	if got, want := f.get(t, e.ID).NextDueAt, t0.Add(5*time.Minute); !got.Equal(want) {
		t.Errorf("NextDueAt = %s, want %s", got, want)
	}
	if report.Count(runner.OutcomeExecuted) != 1 {
		t.Errorf("executed = %d, want 1", report.Count(runner.OutcomeExecuted))
	}
	if !strings.Contains(f.logs.String(), "completed scheduled command") {
		t.Errorf("missing completion log: %s", f.logs.String())
	}
}

func TestRunCycle_SecondRunSameMinuteIsNoop(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	e := f.add(t, schedule.Entry{Name: "noop_job", Recurrence: "*/5 * * * *", NextDueAt: t0})
	r := f.runner(f.store)

	if _, err := r.RunCycle(context.Background()); err != nil {
		t.Fatalf("first RunCycle: %v", err)
	}
	before := f.get(t, e.ID)

	f.clock.Advance(30 * time.Second)
	report, err := r.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("second RunCycle: %v", err)
	}

	if f.noop.CallCount() != 1 {
		t.Errorf("job calls = %d, want 1", f.noop.CallCount())
	}
	after := f.get(t, e.ID)
	if !after.NextDueAt.Equal(before.NextDueAt) || !after.UpdatedAt.Equal(before.UpdatedAt) {
		t.Errorf("entry mutated by a cycle where it was not due: %+v -> %+v", before, after)
	}
	if report.Count(runner.OutcomeSkipped) != 1 {
		t.Errorf("skipped = %d, want 1", report.Count(runner.OutcomeSkipped))
	}
}

func TestRunCycle_NotDueIsNotLocked(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.add(t, schedule.Entry{Name: "noop_job", Recurrence: "*/5 * * * *", NextDueAt: t0.Add(time.Minute)})
	faults := &scheduletest.FaultStore{Store: f.store}

	if _, err := f.runner(faults).RunCycle(context.Background()); err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if n := faults.TryLockCalls.Load(); n != 0 {
		t.Errorf("TryLock calls = %d, want 0", n)
	}
	if f.noop.CallCount() != 0 {
		t.Errorf("job calls = %d, want 0", f.noop.CallCount())
	}
}

func TestRunCycle_FailingJobStillAdvances(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	boom := &jobtest.MockJob{RunFunc: func(context.Context, []string) error {
		return errors.New("RuntimeError")
	}}
	_ = f.jobs.Register("boom", boom)
	e := f.add(t, schedule.Entry{Name: "boom", ArgString: "--flag 1", Recurrence: "*/5 * * * *", NextDueAt: t0})
	r := f.runner(f.store)

	report, err := r.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle returned %v, want nil", err)
	}
	if report.Count(runner.OutcomeFailed) != 1 {
		t.Fatalf("failed = %d, want 1", report.Count(runner.OutcomeFailed))
	}
	if got, want := f.get(t, e.ID).NextDueAt, t0.Add(5*time.Minute); !got.Equal(want) {
		t.Errorf("NextDueAt = %s, want %s", got, want)
	}
	logs := f.logs.String()
	if !strings.Contains(logs, "RuntimeError") || !strings.Contains(logs, "boom --flag 1") {
		t.Errorf("failure log lacks error or entry identity: %s", logs)
	}

	// Overdue-looking follow-up cycle one minute later must not retry.
	f.clock.Advance(time.Minute)
	if _, err := r.RunCycle(context.Background()); err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if boom.CallCount() != 1 {
		t.Errorf("boom calls = %d, want 1", boom.CallCount())
	}

	f.clock.Set(t0.Add(5 * time.Minute))
	if _, err := r.RunCycle(context.Background()); err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if boom.CallCount() != 2 {
		t.Errorf("boom calls at next due time = %d, want 2", boom.CallCount())
	}
}

func TestRunCycle_PanickingJobIsIsolated(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	_ = f.jobs.Register("panics", job.Func(func(context.Context, []string) error { panic("kaboom") }))
	f.add(t, schedule.Entry{Name: "panics", Recurrence: "* * * * *", NextDueAt: t0})
	f.add(t, schedule.Entry{Name: "noop_job", Recurrence: "* * * * *", NextDueAt: t0})

	report, err := f.runner(f.store).RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if report.Count(runner.OutcomeFailed) != 1 || report.Count(runner.OutcomeExecuted) != 1 {
		t.Errorf("report = %+v", report.Results)
	}
	if f.noop.CallCount() != 1 {
		t.Errorf("noop calls = %d, want 1", f.noop.CallCount())
	}
}

func TestRunCycle_PassesArgs(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.add(t, schedule.Entry{Name: "noop_job", ArgString: "--number-of-prisoners 60", Recurrence: "* * * * *", NextDueAt: t0})

	if _, err := f.runner(f.store).RunCycle(context.Background()); err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	calls := f.noop.Calls()
	if len(calls) != 1 || strings.Join(calls[0], "|") != "--number-of-prisoners|60" {
		t.Errorf("calls = %q", calls)
	}
}

func TestRunCycle_LockHeldElsewhere(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	e := f.add(t, schedule.Entry{Name: "noop_job", Recurrence: "*/5 * * * *", NextDueAt: t0})

	held, err := f.store.TryLock(context.Background(), e.ID)
	if err != nil {
		t.Fatalf("TryLock: %v", err)
	}
	defer func() { _ = held.Rollback() }()

	report, err := f.runner(f.store).RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if report.Count(runner.OutcomeLockDenied) != 1 {
		t.Errorf("lock denied = %d, want 1", report.Count(runner.OutcomeLockDenied))
	}
	if f.noop.CallCount() != 0 {
		t.Errorf("job ran despite lock denial")
	}
	if !f.get(t, e.ID).NextDueAt.Equal(t0) {
		t.Error("entry mutated despite lock denial")
	}
	if !strings.Contains(f.logs.String(), "level=INFO") || !strings.Contains(f.logs.String(), "locked by another runner") {
		t.Errorf("expected informational lock denial log: %s", f.logs.String())
	}
}

// staleStore serves a List snapshot taken before another runner advanced
// the entries.
type staleStore struct {
	schedule.Store
	snapshot []schedule.Entry
}

func (s *staleStore) List(context.Context) ([]schedule.Entry, error) { return s.snapshot, nil }

func TestRunCycle_RecheckUnderLock(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.add(t, schedule.Entry{Name: "noop_job", Recurrence: "*/5 * * * *", NextDueAt: t0})

	snapshot, _ := f.store.List(context.Background())
	if _, err := f.runner(f.store).RunCycle(context.Background()); err != nil {
		t.Fatalf("RunCycle: %v", err)
	}

	report, err := f.runner(&staleStore{Store: f.store, snapshot: snapshot}).RunCycle(context.Background())
	if err != nil {
		t.Fatalf("stale RunCycle: %v", err)
	}
	if report.Count(runner.OutcomeNoLongerDue) != 1 {
		t.Errorf("no longer due = %d, want 1 (%+v)", report.Count(runner.OutcomeNoLongerDue), report.Results)
	}
	if f.noop.CallCount() != 1 {
		t.Errorf("job calls = %d, want 1", f.noop.CallCount())
	}
}

func TestRunCycle_ConcurrentRunnersExecuteOnce(t *testing.T) {
	t.Parallel()

	for range 50 {
		f := newFixture(t)
		e := f.add(t, schedule.Entry{Name: "noop_job", Recurrence: "*/5 * * * *", NextDueAt: t0})

		var start, done sync.WaitGroup
		start.Add(1)
		for range 2 {
			done.Add(1)
			go func() {
				defer done.Done()
				start.Wait()
				if _, err := f.runner(f.store).RunCycle(context.Background()); err != nil {
					t.Errorf("RunCycle: %v", err)
				}
			}()
		}
		start.Done()
		done.Wait()

		if n := f.noop.CallCount(); n != 1 {
			t.Fatalf("job calls = %d, want exactly 1", n)
		}
		if got, want := f.get(t, e.ID).NextDueAt, t0.Add(5*time.Minute); !got.Equal(want) {
			t.Fatalf("NextDueAt = %s, want %s", got, want)
		}
	}
}

func TestRunCycle_ListErrorIsFatal(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	faults := &scheduletest.FaultStore{Store: f.store, ListErr: errors.New("connection refused")}

	_, err := f.runner(faults).RunCycle(context.Background())
	if err == nil || !strings.Contains(err.Error(), "connection refused") {
		t.Fatalf("RunCycle = %v, want list error", err)
	}
}

func TestRunCycle_DatabaseErrorContinues(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	bad := f.add(t, schedule.Entry{Name: "noop_job", ArgString: "first", Recurrence: "* * * * *", NextDueAt: t0})
	f.add(t, schedule.Entry{Name: "noop_job", ArgString: "second", Recurrence: "* * * * *", NextDueAt: t0})

	faults := &scheduletest.FaultStore{
		Store: f.store,
		TryLockFunc: func(_ context.Context, id int64) error {
			if id == bad.ID {
				return errors.New("deadlock detected")
			}
			return nil
		},
	}

	report, err := f.runner(faults).RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if report.Count(runner.OutcomeDatabaseError) != 1 || report.Count(runner.OutcomeExecuted) != 1 {
		t.Errorf("results = %+v", report.Results)
	}
	if !strings.Contains(f.logs.String(), "level=WARN") {
		t.Errorf("expected warning for database error: %s", f.logs.String())
	}
}

func TestRunCycle_CommitFailureSkipsJob(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	e := f.add(t, schedule.Entry{Name: "noop_job", Recurrence: "* * * * *", NextDueAt: t0})
	faults := &scheduletest.FaultStore{Store: f.store, CommitErr: errors.New("disk full")}

	report, err := f.runner(faults).RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if report.Count(runner.OutcomeDatabaseError) != 1 {
		t.Errorf("database errors = %d, want 1", report.Count(runner.OutcomeDatabaseError))
	}
	if f.noop.CallCount() != 0 {
		t.Error("job must not run when the advance could not be committed")
	}
	if !f.get(t, e.ID).NextDueAt.Equal(t0) {
		t.Error("NextDueAt changed despite failed commit")
	}
}

func TestRunCycle_UnknownJobAtRunTime(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	e := f.add(t, schedule.Entry{Name: "removed_job", Recurrence: "*/5 * * * *", NextDueAt: t0})

	report, err := f.runner(f.store).RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	failures := report.Failures()
	if len(failures) != 1 || !errors.Is(failures[0].Err, schedule.ErrUnknownJob) {
		t.Fatalf("failures = %+v", failures)
	}
	if got := f.get(t, e.ID).NextDueAt; !got.Equal(t0.Add(5 * time.Minute)) {
		t.Errorf("NextDueAt = %s, want advanced", got)
	}
}

func TestRunCycle_InvalidStoredRecurrence(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	e := f.add(t, schedule.Entry{Name: "noop_job", Recurrence: "garbage", NextDueAt: t0})
	f.add(t, schedule.Entry{Name: "noop_job", Recurrence: "* * * * *", NextDueAt: t0})

	report, err := f.runner(f.store).RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	failures := report.Failures()
	if len(failures) != 1 || !errors.Is(failures[0].Err, schedule.ErrInvalidRecurrence) {
		t.Fatalf("failures = %+v", failures)
	}
	if f.noop.CallCount() != 1 {
		t.Errorf("noop calls = %d, want 1 (only the valid entry)", f.noop.CallCount())
	}
	if !f.get(t, e.ID).NextDueAt.Equal(t0) {
		t.Error("invalid entry should not be advanced")
	}
}

func TestRunCycle_Concurrency(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	for range 8 {
		f.add(t, schedule.Entry{Name: "noop_job", Recurrence: "* * * * *", NextDueAt: t0})
	}

	report, err := f.runner(f.store, runner.WithConcurrency(4)).RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if report.Count(runner.OutcomeExecuted) != 8 {
		t.Errorf("executed = %d, want 8", report.Count(runner.OutcomeExecuted))
	}
	if f.noop.CallCount() != 8 {
		t.Errorf("calls = %d, want 8", f.noop.CallCount())
	}
}

func TestRunCycle_HookAndMetrics(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.add(t, schedule.Entry{Name: "noop_job", Recurrence: "* * * * *", NextDueAt: t0})
	f.add(t, schedule.Entry{Name: "noop_job", Recurrence: "* * * * *", NextDueAt: t0.Add(time.Hour)})

	reg := prometheus.NewRegistry()
	metrics := runner.NewMetrics(reg)

	var got *runner.Report
	r := f.runner(f.store,
		runner.WithMetrics(metrics),
		runner.WithReportHook(func(rep *runner.Report) { got = rep }),
	)
	if _, err := r.RunCycle(context.Background()); err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if got == nil || len(got.Results) != 2 {
		t.Fatalf("hook report = %+v", got)
	}

	const expected = `
# HELP mtpsched_entry_outcomes_total Per-entry cycle outcomes.
# TYPE mtpsched_entry_outcomes_total counter
mtpsched_entry_outcomes_total{outcome="executed"} 1
mtpsched_entry_outcomes_total{outcome="skipped"} 1
`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(expected), "mtpsched_entry_outcomes_total"); err != nil {
		t.Error(err)
	}
	if n := testutil.CollectAndCount(reg, "mtpsched_cycle_total"); n != 1 {
		t.Errorf("cycle_total series = %d, want 1", n)
	}
}

func TestOutcome_String(t *testing.T) {
	t.Parallel()

	if runner.OutcomeLockDenied.String() != "lock_denied" {
		t.Errorf("String = %q", runner.OutcomeLockDenied.String())
	}
	if runner.Outcome(99).String() != "unknown" {
		t.Errorf("String = %q", runner.Outcome(99).String())
	}
}

func TestRunCycle_Spans(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	_ = f.jobs.Register("boom", &jobtest.MockJob{RunFunc: func(context.Context, []string) error {
		return errors.New("exit status 2")
	}})
	f.add(t, schedule.Entry{Name: "noop_job", Recurrence: "* * * * *", NextDueAt: t0})
	f.add(t, schedule.Entry{Name: "boom", Recurrence: "* * * * *", NextDueAt: t0})
	f.add(t, schedule.Entry{Name: "noop_job", Recurrence: "* * * * *", NextDueAt: t0.Add(time.Hour)})

	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	if _, err := f.runner(f.store, runner.WithTracer(tp.Tracer("test"))).RunCycle(context.Background()); err != nil {
		t.Fatalf("RunCycle: %v", err)
	}

	spans := rec.Ended()
	if len(spans) != 3 {
		t.Fatalf("ended spans = %d, want 3 (cycle plus two due entries)", len(spans))
	}
	cycle := spans[len(spans)-1]
	if cycle.Name() != "scheduler.cycle" {
		t.Fatalf("last span = %q, want scheduler.cycle", cycle.Name())
	}
	var failed int
	for _, s := range spans[:2] {
		if s.Name() != "scheduler.entry" {
			t.Errorf("span name = %q, want scheduler.entry", s.Name())
		}
		if s.Parent().SpanID() != cycle.SpanContext().SpanID() {
			t.Errorf("entry span is not a child of the cycle span")
		}
		if s.Status().Code == codes.Error {
			failed++
		}
	}
	if failed != 1 {
		t.Errorf("entry spans with error status = %d, want 1", failed)
	}
}

func TestRunCycle_CancelledBeforeStart(t *testing.T) {
	t.Parallel()
	for _, n := range []int{1, 2} {
		f := newFixture(t)
		e := f.add(t, schedule.Entry{Name: "noop_job", Recurrence: "*/5 * * * *", NextDueAt: t0})

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		report, err := f.runner(f.store, runner.WithConcurrency(n)).RunCycle(ctx)
		if !errors.Is(err, context.Canceled) {
			t.Errorf("concurrency %d: RunCycle = %v, want context.Canceled", n, err)
		}
		if len(report.Results) != 0 {
			t.Errorf("concurrency %d: results = %+v, want none", n, report.Results)
		}
		if got := f.get(t, e.ID).NextDueAt; !got.Equal(t0) {
			t.Errorf("concurrency %d: NextDueAt = %s, want untouched %s", n, got, t0)
		}
	}
}

func TestRunCycle_CancelMidCycleConcurrent(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	_ = f.jobs.Register("stop", &jobtest.MockJob{RunFunc: func(context.Context, []string) error {
		cancel()
		return nil
	}})
	// wait holds its slot until the cycle is cancelled, so no entry past
	// the first two can start before cancellation.
	_ = f.jobs.Register("wait", &jobtest.MockJob{RunFunc: func(ctx context.Context, _ []string) error {
		<-ctx.Done()
		return ctx.Err()
	}})
	f.add(t, schedule.Entry{Name: "stop", Recurrence: "*/5 * * * *", NextDueAt: t0})
	for range 20 {
		f.add(t, schedule.Entry{Name: "wait", Recurrence: "*/5 * * * *", NextDueAt: t0})
	}

	report, err := f.runner(f.store, runner.WithConcurrency(2)).RunCycle(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("RunCycle = %v, want context.Canceled", err)
	}
	if len(report.Results) > 2 {
		t.Fatalf("results = %d, want at most the two in flight at cancellation", len(report.Results))
	}

	claimed := make(map[int64]bool)
	for _, res := range report.Results {
		if res.Entry.ID == 0 {
			t.Fatalf("report holds a result for an unprocessed entry: %+v", report.Results)
		}
		claimed[res.Entry.ID] = true
	}
	entries, _ := f.store.List(context.Background())
	for _, e := range entries {
		advanced := !e.NextDueAt.Equal(t0)
		if advanced != claimed[e.ID] {
			t.Errorf("entry %d advanced = %v but reported = %v", e.ID, advanced, claimed[e.ID])
		}
	}
}

func TestRunCycle_EntryDeletedAfterList(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	e := f.add(t, schedule.Entry{Name: "noop_job", Recurrence: "* * * * *", NextDueAt: t0})
	snapshot, _ := f.store.List(context.Background())
	if err := f.store.Delete(context.Background(), e.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	report, err := f.runner(&staleStore{Store: f.store, snapshot: snapshot}).RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if report.Count(runner.OutcomeSkipped) != 1 || report.Count(runner.OutcomeDatabaseError) != 0 {
		t.Errorf("results = %+v, want one skipped", report.Results)
	}
	if strings.Contains(f.logs.String(), "level=WARN") {
		t.Errorf("deleted entry logged as a warning: %s", f.logs.String())
	}
	if f.noop.CallCount() != 0 {
		t.Errorf("job calls = %d, want 0", f.noop.CallCount())
	}
}
