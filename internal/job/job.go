// Package job defines the executable units an entry can name, and the
// registry the runner resolves them from.
package job

import (
	"context"
	"errors"
)

// ErrBadArgs is returned by a job whose positional arguments are unusable.
var ErrBadArgs = errors.New("job: bad arguments")

// Job is an executable unit invoked by the runner with the positional
// arguments of the entry that scheduled it. Implementations should
// observe ctx for cancellation; the runner does not bound their duration.
type Job interface {
	Run(ctx context.Context, args []string) error
}

// Func adapts an ordinary function to Job.
type Func func(ctx context.Context, args []string) error

// Run implements Job.
func (f Func) Run(ctx context.Context, args []string) error { return f(ctx, args) }

// ProviderServicePrefix prefixes the AppContext service names under which
// modules publish a Provider, e.g. "job.provider.exec".
const ProviderServicePrefix = "job.provider."

// Provider is implemented by modules that contribute jobs to the registry.
type Provider interface {
	Jobs() map[string]Job
}
