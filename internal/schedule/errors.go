package schedule

import (
	"errors"

	"github.com/flemzord/mtpsched/internal/recurrence"
)

var (
	// ErrUnknownJob is returned when an entry names a job the process does
	// not know about.
	ErrUnknownJob = errors.New("unknown job")

	// ErrInvalidRecurrence aliases recurrence.ErrInvalidRecurrence so
	// callers can classify validation failures from this package alone.
	ErrInvalidRecurrence = recurrence.ErrInvalidRecurrence

	// ErrEntryNotFound is returned by a Store when no entry has the given ID.
	ErrEntryNotFound = errors.New("entry not found")

	// ErrLockDenied is returned by Store.TryLock when another transaction
	// already holds the entry's lock. It is expected under concurrent
	// runners and is not a failure.
	ErrLockDenied = errors.New("entry lock held by another runner")

	// ErrMissingNextDue is returned when persisting an entry whose next due
	// time has not been computed.
	ErrMissingNextDue = errors.New("entry has no next due time")

	// ErrLockDone is returned when a Lock is used after Commit or Rollback.
	ErrLockDone = errors.New("entry lock already released")
)
