package sqlite

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/flemzord/mtpsched/internal/core"
	"github.com/flemzord/mtpsched/internal/job"
	"github.com/flemzord/mtpsched/internal/job/jobtest"
	"github.com/flemzord/mtpsched/internal/runner"
	"github.com/flemzord/mtpsched/internal/schedule"
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T, path string) *Store {
	t.Helper()
	s, err := Open(context.Background(), Config{Path: path})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func tempDB(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "test.db")
}

func mustCreate(t *testing.T, s *Store, e schedule.Entry) schedule.Entry {
	t.Helper()
	if err := s.Create(context.Background(), &e); err != nil {
		t.Fatalf("Create: %v", err)
	}
	return e
}

func TestStore_CRUD(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestStore(t, tempDB(t))

	e := mustCreate(t, s, schedule.Entry{Name: "noop", ArgString: "a b", Recurrence: "*/5 * * * *", NextDueAt: t0})
	if e.ID == 0 {
		t.Fatal("Create should assign an ID")
	}
	if e.CreatedAt.IsZero() || e.UpdatedAt.IsZero() {
		t.Error("Create should stamp timestamps")
	}

	got, err := s.Get(ctx, e.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Name != "noop" || got.ArgString != "a b" || got.Recurrence != "*/5 * * * *" || !got.NextDueAt.Equal(t0) {
		t.Errorf("Get = %+v", got)
	}

	got.ArgString = "c"
	got.NextDueAt = t0.Add(time.Hour)
	if err := s.Update(ctx, got); err != nil {
		t.Fatalf("Update: %v", err)
	}
	got, _ = s.Get(ctx, e.ID)
	if got.ArgString != "c" || !got.NextDueAt.Equal(t0.Add(time.Hour)) {
		t.Errorf("after Update = %+v", got)
	}

	if err := s.Delete(ctx, e.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Get(ctx, e.ID); !errors.Is(err, schedule.ErrEntryNotFound) {
		t.Errorf("Get after delete = %v, want ErrEntryNotFound", err)
	}
	if err := s.Delete(ctx, e.ID); !errors.Is(err, schedule.ErrEntryNotFound) {
		t.Errorf("second Delete = %v, want ErrEntryNotFound", err)
	}
	if err := s.Update(ctx, got); !errors.Is(err, schedule.ErrEntryNotFound) {
		t.Errorf("Update of deleted entry = %v, want ErrEntryNotFound", err)
	}
}

func TestStore_RequiresNextDue(t *testing.T) {
	t.Parallel()
	s := newTestStore(t, tempDB(t))

	err := s.Create(context.Background(), &schedule.Entry{Name: "noop", Recurrence: "* * * * *"})
	if !errors.Is(err, schedule.ErrMissingNextDue) {
		t.Fatalf("Create = %v, want ErrMissingNextDue", err)
	}

	e := mustCreate(t, s, schedule.Entry{Name: "noop", Recurrence: "* * * * *", NextDueAt: t0})
	e.NextDueAt = time.Time{}
	if err := s.Update(context.Background(), e); !errors.Is(err, schedule.ErrMissingNextDue) {
		t.Fatalf("Update = %v, want ErrMissingNextDue", err)
	}
}

func TestStore_ListOrderedAndPersistent(t *testing.T) {
	t.Parallel()
	path := tempDB(t)
	s := newTestStore(t, path)
	for i := range 3 {
		mustCreate(t, s, schedule.Entry{Name: "noop", Recurrence: "* * * * *", NextDueAt: t0.Add(time.Duration(i) * time.Minute)})
	}
	_ = s.Close()

	reopened := newTestStore(t, path)
	entries, err := reopened.List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("List returned %d entries, want 3", len(entries))
	}
	for i := 1; i < len(entries); i++ {
		if entries[i-1].ID >= entries[i].ID {
			t.Fatalf("List not ordered by ID: %d before %d", entries[i-1].ID, entries[i].ID)
		}
	}
	if !entries[2].NextDueAt.Equal(t0.Add(2 * time.Minute)) {
		t.Errorf("NextDueAt round trip = %s", entries[2].NextDueAt)
	}
}

func TestStore_TryLockCommit(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestStore(t, tempDB(t))
	e := mustCreate(t, s, schedule.Entry{Name: "noop", Recurrence: "*/5 * * * *", NextDueAt: t0})

	l, err := s.TryLock(ctx, e.ID)
	if err != nil {
		t.Fatalf("TryLock: %v", err)
	}
	if l.Entry().ID != e.ID || !l.Entry().NextDueAt.Equal(t0) {
		t.Errorf("Entry under lock = %+v", l.Entry())
	}
	if err := l.SetNextDue(ctx, t0.Add(5*time.Minute)); err != nil {
		t.Fatalf("SetNextDue: %v", err)
	}
	if err := l.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if err := l.Rollback(); err != nil {
		t.Errorf("Rollback after Commit = %v, want nil", err)
	}
	if err := l.Commit(); !errors.Is(err, schedule.ErrLockDone) {
		t.Errorf("second Commit = %v, want ErrLockDone", err)
	}

	got, _ := s.Get(ctx, e.ID)
	if !got.NextDueAt.Equal(t0.Add(5 * time.Minute)) {
		t.Errorf("NextDueAt = %s after commit", got.NextDueAt)
	}
}

func TestStore_TryLockRollback(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestStore(t, tempDB(t))
	e := mustCreate(t, s, schedule.Entry{Name: "noop", Recurrence: "*/5 * * * *", NextDueAt: t0})

	l, err := s.TryLock(ctx, e.ID)
	if err != nil {
		t.Fatalf("TryLock: %v", err)
	}
	if err := l.SetNextDue(ctx, t0.Add(5*time.Minute)); err != nil {
		t.Fatalf("SetNextDue: %v", err)
	}
	if err := l.Rollback(); err != nil {
		t.Fatalf("Rollback: %v", err)
	}

	got, _ := s.Get(ctx, e.ID)
	if !got.NextDueAt.Equal(t0) {
		t.Errorf("NextDueAt = %s after rollback, want unchanged", got.NextDueAt)
	}

	// The lock is released: a new claim succeeds.
	l, err = s.TryLock(ctx, e.ID)
	if err != nil {
		t.Fatalf("TryLock after rollback: %v", err)
	}
	_ = l.Rollback()
}

func TestStore_TryLockMissingEntry(t *testing.T) {
	t.Parallel()
	s := newTestStore(t, tempDB(t))

	if _, err := s.TryLock(context.Background(), 42); !errors.Is(err, schedule.ErrEntryNotFound) {
		t.Fatalf("TryLock = %v, want ErrEntryNotFound", err)
	}
	// A failed claim must not leave the write lock held.
	mustCreate(t, s, schedule.Entry{Name: "noop", Recurrence: "* * * * *", NextDueAt: t0})
}

func TestStore_TryLockDeniedAcrossProcesses(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path := tempDB(t)
	a := newTestStore(t, path)
	b := newTestStore(t, path)
	e := mustCreate(t, a, schedule.Entry{Name: "noop", Recurrence: "*/5 * * * *", NextDueAt: t0})

	held, err := a.TryLock(ctx, e.ID)
	if err != nil {
		t.Fatalf("TryLock a: %v", err)
	}

	start := time.Now()
	if _, err := b.TryLock(ctx, e.ID); !errors.Is(err, schedule.ErrLockDenied) {
		t.Fatalf("TryLock b = %v, want ErrLockDenied", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("denied claim took %s, want immediate", elapsed)
	}

	// Reads are not blocked by a claim.
	if _, err := b.List(ctx); err != nil {
		t.Errorf("List during claim: %v", err)
	}

	if err := held.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	l, err := b.TryLock(ctx, e.ID)
	if err != nil {
		t.Fatalf("TryLock b after release: %v", err)
	}
	_ = l.Rollback()
}

func TestStore_ConcurrentRunnersExecuteOnce(t *testing.T) {
	t.Parallel()
	path := tempDB(t)
	seed := newTestStore(t, path)
	e := mustCreate(t, seed, schedule.Entry{Name: "noop_job", Recurrence: "*/5 * * * *", NextDueAt: t0})

	jobs := job.NewRegistry()
	mock := &jobtest.MockJob{}
	if err := jobs.Register("noop_job", mock); err != nil {
		t.Fatalf("Register: %v", err)
	}

	var wg sync.WaitGroup
	for range 3 {
		s := newTestStore(t, path)
		r := runner.New(s, jobs, runner.WithClock(func() time.Time { return t0 }))
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := r.RunCycle(context.Background()); err != nil {
				t.Errorf("RunCycle: %v", err)
			}
		}()
	}
	wg.Wait()

	if n := mock.CallCount(); n != 1 {
		t.Fatalf("job calls = %d, want exactly 1", n)
	}
	got, err := seed.Get(context.Background(), e.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !got.NextDueAt.Equal(t0.Add(5 * time.Minute)) {
		t.Errorf("NextDueAt = %s, want %s", got.NextDueAt, t0.Add(5*time.Minute))
	}
}

func TestStore_ConcurrentClaimsInOneRunner(t *testing.T) {
	t.Parallel()
	s := newTestStore(t, tempDB(t))
	const n = 120
	for range n {
		mustCreate(t, s, schedule.Entry{Name: "noop_job", Recurrence: "*/5 * * * *", NextDueAt: t0})
	}

	jobs := job.NewRegistry()
	mock := &jobtest.MockJob{}
	if err := jobs.Register("noop_job", mock); err != nil {
		t.Fatalf("Register: %v", err)
	}
	r := runner.New(s, jobs,
		runner.WithClock(func() time.Time { return t0 }),
		runner.WithConcurrency(16),
	)

	report, err := r.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if got := report.Count(runner.OutcomeExecuted); got != n {
		t.Errorf("executed = %d, want %d (lock denied = %d)", got, n, report.Count(runner.OutcomeLockDenied))
	}
	if mock.CallCount() != n {
		t.Errorf("job calls = %d, want %d", mock.CallCount(), n)
	}
}

func TestStore_TryLockWaitsForLocalClaim(t *testing.T) {
	t.Parallel()
	s := newTestStore(t, tempDB(t))
	e := mustCreate(t, s, schedule.Entry{Name: "noop", Recurrence: "* * * * *", NextDueAt: t0})

	held, err := s.TryLock(context.Background(), e.ID)
	if err != nil {
		t.Fatalf("TryLock: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := s.TryLock(ctx, e.ID); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("second local TryLock = %v, want to wait until the deadline", err)
	}

	got := make(chan error, 1)
	go func() {
		l, err := s.TryLock(context.Background(), e.ID)
		if err == nil {
			err = l.Rollback()
		}
		got <- err
	}()
	if err := held.Rollback(); err != nil {
		t.Fatalf("Rollback: %v", err)
	}
	select {
	case err := <-got:
		if err != nil {
			t.Fatalf("queued TryLock: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("queued TryLock did not proceed after release")
	}
}

func TestConfig_Validate(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		cfg  Config
		want string
	}{
		{"missing path", Config{}, "path is required"},
		{"negative timeout", Config{Path: "x.db", BusyTimeout: -1}, "busy_timeout"},
		{"single conn", Config{Path: "x.db", MaxOpenConns: 1}, "max_open_conns"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := tc.cfg
			cfg.defaults()
			err := cfg.validate()
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Errorf("validate = %v, want error containing %q", err, tc.want)
			}
		})
	}
}

func TestModule_ProvisionRegistersStore(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	m := &Module{}
	ctx := core.NewAppContext(slog.Default(), dir)

	if err := m.Provision(ctx); err != nil {
		t.Fatalf("Provision: %v", err)
	}
	t.Cleanup(func() { _ = m.Stop(context.Background()) })
	if err := m.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	if m.config.Path != filepath.Join(dir, defaultDBFile) {
		t.Errorf("Path = %q, want default under data dir", m.config.Path)
	}
	store, err := core.Service[schedule.Store](ctx, schedule.StoreService)
	if err != nil {
		t.Fatalf("Service: %v", err)
	}
	if store != schedule.Store(m.Store()) {
		t.Error("registered store is not the module's store")
	}
}
