// Package scheduletest provides test doubles for the schedule package.
package scheduletest

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/flemzord/mtpsched/internal/schedule"
)

// Clock is a settable time source.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock returns a Clock frozen at t.
func NewClock(t time.Time) *Clock { return &Clock{now: t} }

// Now returns the current fake time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Set moves the clock to t.
func (c *Clock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// FaultStore wraps a Store and injects errors. Nil fields pass through.
type FaultStore struct {
	schedule.Store

	ListErr error

	// TryLockFunc, when set, runs before the wrapped TryLock. A non-nil
	// error is returned instead of locking.
	TryLockFunc func(ctx context.Context, id int64) error

	SetNextDueErr error
	CommitErr     error

	TryLockCalls    atomic.Int32
	SetNextDueCalls atomic.Int32
	CommitCalls     atomic.Int32
}

// Compile-time interface check.
var _ schedule.Store = (*FaultStore)(nil)

// List implements schedule.Store.
func (s *FaultStore) List(ctx context.Context) ([]schedule.Entry, error) {
	if s.ListErr != nil {
		return nil, s.ListErr
	}
	return s.Store.List(ctx)
}

// TryLock implements schedule.Store.
func (s *FaultStore) TryLock(ctx context.Context, id int64) (schedule.Lock, error) {
	s.TryLockCalls.Add(1)
	if s.TryLockFunc != nil {
		if err := s.TryLockFunc(ctx, id); err != nil {
			return nil, err
		}
	}
	lock, err := s.Store.TryLock(ctx, id)
	if err != nil {
		return nil, err
	}
	return &faultLock{Lock: lock, store: s}, nil
}

type faultLock struct {
	schedule.Lock
	store *FaultStore
}

func (l *faultLock) SetNextDue(ctx context.Context, t time.Time) error {
	l.store.SetNextDueCalls.Add(1)
	if l.store.SetNextDueErr != nil {
		return l.store.SetNextDueErr
	}
	return l.Lock.SetNextDue(ctx, t)
}

func (l *faultLock) Commit() error {
	l.store.CommitCalls.Add(1)
	if l.store.CommitErr != nil {
		_ = l.Lock.Rollback()
		return l.store.CommitErr
	}
	return l.Lock.Commit()
}
