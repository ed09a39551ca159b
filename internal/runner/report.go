package runner

import (
	"time"

	"github.com/flemzord/mtpsched/internal/schedule"
)

// Outcome is the terminal state an entry reached in one cycle.
type Outcome int

const (
	// OutcomeSkipped means the entry was not due, or was deleted before it
	// could be claimed; nothing was locked.
	OutcomeSkipped Outcome = iota
	// OutcomeLockDenied means another runner held the entry's lock.
	OutcomeLockDenied
	// OutcomeNoLongerDue means the lock was acquired but the re-read entry
	// had already been advanced by a concurrent runner.
	OutcomeNoLongerDue
	// OutcomeExecuted means the entry was advanced and its job succeeded.
	OutcomeExecuted
	// OutcomeFailed means the entry was advanced (when its recurrence
	// allowed it) but the job could not be resolved or returned an error.
	OutcomeFailed
	// OutcomeDatabaseError means locking or persisting the advance failed
	// for a reason other than contention.
	OutcomeDatabaseError
)

var outcomeNames = [...]string{
	OutcomeSkipped:       "skipped",
	OutcomeLockDenied:    "lock_denied",
	OutcomeNoLongerDue:   "no_longer_due",
	OutcomeExecuted:      "executed",
	OutcomeFailed:        "failed",
	OutcomeDatabaseError: "database_error",
}

// String returns the snake_case name used in logs and metric labels.
func (o Outcome) String() string {
	if int(o) < 0 || int(o) >= len(outcomeNames) {
		return "unknown"
	}
	return outcomeNames[o]
}

// MarshalText implements encoding.TextMarshaler.
func (o Outcome) MarshalText() ([]byte, error) { return []byte(o.String()), nil }

// Result records what happened to one entry in a cycle.
type Result struct {
	Entry   schedule.Entry `json:"entry"`
	Outcome Outcome        `json:"outcome"`

	// Err is set for OutcomeFailed and OutcomeDatabaseError.
	Err   error  `json:"-"`
	Error string `json:"error,omitempty"`

	// Duration is the job body's run time.
	Duration time.Duration `json:"duration_ns,omitempty"`

	// NextDueAt is the advanced next due time, zero when no advance was
	// committed.
	NextDueAt time.Time `json:"next_due_at,omitzero"`
}

// Report is the per-cycle accounting of every entry's outcome.
type Report struct {
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Results    []Result  `json:"results"`
}

// Count returns how many entries reached outcome o.
func (r *Report) Count(o Outcome) int {
	n := 0
	for i := range r.Results {
		if r.Results[i].Outcome == o {
			n++
		}
	}
	return n
}

// Failures returns results whose outcome is OutcomeFailed or
// OutcomeDatabaseError.
func (r *Report) Failures() []Result {
	var out []Result
	for _, res := range r.Results {
		if res.Outcome == OutcomeFailed || res.Outcome == OutcomeDatabaseError {
			out = append(out, res)
		}
	}
	return out
}

// Duration is the wall time the cycle took.
func (r *Report) Duration() time.Duration { return r.FinishedAt.Sub(r.StartedAt) }
