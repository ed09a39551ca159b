// Package schedule holds the scheduled-command entry, the predicates the
// runner evaluates on it, and the persistence contract stores implement.
package schedule

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/flemzord/mtpsched/internal/job"
	"github.com/flemzord/mtpsched/internal/recurrence"
)

// Entry is a persisted scheduled-command definition.
type Entry struct {
	ID int64 `json:"id"`

	// Name must resolve to a registered job.
	Name string `json:"name"`

	// ArgString is split on whitespace into the job's positional arguments.
	ArgString string `json:"arg_string"`

	// Recurrence is a 5-field cron expression.
	Recurrence string `json:"recurrence"`

	// NextDueAt is the instant the entry next becomes due. The zero value
	// means it has not been computed yet; stores refuse to persist it.
	NextDueAt time.Time `json:"next_due_at"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Args returns the positional arguments for the job, nil when ArgString is
// blank.
func (e Entry) Args() []string {
	fields := strings.Fields(e.ArgString)
	if len(fields) == 0 {
		return nil
	}
	return fields
}

// String identifies the entry in logs as "<name> <args>".
func (e Entry) String() string {
	return strings.TrimSpace(e.Name + " " + e.ArgString)
}

// JobLookup resolves job names. *job.Registry satisfies it.
type JobLookup interface {
	Lookup(name string) (job.Job, bool)
}

// ValidateName fails with ErrUnknownJob if name is not registered in jobs.
func ValidateName(name string, jobs JobLookup) error {
	if name == "" {
		return fmt.Errorf("%w: empty name", ErrUnknownJob)
	}
	if _, ok := jobs.Lookup(name); !ok {
		return fmt.Errorf("%w: %q is not a recognised job", ErrUnknownJob, name)
	}
	return nil
}

// ValidateRecurrence fails with ErrInvalidRecurrence if expr does not parse.
func ValidateRecurrence(expr string) error {
	return recurrence.Validate(expr)
}

// Validate checks every write-time constraint on e.
func Validate(e Entry, jobs JobLookup) error {
	var errs []error
	if err := ValidateName(e.Name, jobs); err != nil {
		errs = append(errs, err)
	}
	if err := ValidateRecurrence(e.Recurrence); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// IsDue reports whether e should run at now. An entry whose next due time
// is unset is never due.
func IsDue(e Entry, now time.Time) bool {
	if e.NextDueAt.IsZero() {
		return false
	}
	return !now.Before(e.NextDueAt)
}

// Advance moves e.NextDueAt to the next occurrence of its recurrence after
// now. It only mutates e; persisting the change is the caller's job.
func Advance(e *Entry, now time.Time) error {
	d, err := recurrence.Until(e.Recurrence, now)
	if err != nil {
		return fmt.Errorf("schedule: advance %q: %w", e.String(), err)
	}
	e.NextDueAt = now.Add(d)
	return nil
}

// Prepare runs before an entry is first persisted and fills in a missing
// next due time.
func Prepare(e *Entry, now time.Time) error {
	if !e.NextDueAt.IsZero() {
		return nil
	}
	return Advance(e, now)
}
