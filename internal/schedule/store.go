package schedule

import (
	"context"
	"time"
)

// StoreService is the AppContext service name store modules publish
// their Store under.
const StoreService = "schedule.store"

// Store persists entries. Implementations must make TryLock non-blocking:
// contention returns ErrLockDenied immediately instead of waiting.
type Store interface {
	// List returns every entry ordered by ID.
	List(ctx context.Context) ([]Entry, error)

	// Get returns the entry with the given ID or ErrEntryNotFound.
	Get(ctx context.Context, id int64) (Entry, error)

	// Create inserts e, assigning ID and timestamps. It returns
	// ErrMissingNextDue if e.NextDueAt is zero.
	Create(ctx context.Context, e *Entry) error

	// Update overwrites the stored entry with e.ID.
	Update(ctx context.Context, e Entry) error

	// Delete removes the entry with the given ID.
	Delete(ctx context.Context, id int64) error

	// TryLock opens a transaction holding an exclusive lock on the entry
	// with the given ID and re-reads it under that lock.
	TryLock(ctx context.Context, id int64) (Lock, error)

	// Ping checks the store is reachable.
	Ping(ctx context.Context) error
}

// Lock is an open transaction holding one entry's lock. Exactly one of
// Commit or Rollback releases it; Rollback after Commit is a no-op.
type Lock interface {
	// Entry is the entry as read under the lock.
	Entry() Entry

	// SetNextDue stages a new next due time inside the transaction.
	SetNextDue(ctx context.Context, t time.Time) error

	// Commit makes staged changes durable and releases the lock.
	Commit() error

	// Rollback discards staged changes and releases the lock.
	Rollback() error
}
