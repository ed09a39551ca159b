package job

import (
	"context"
	"fmt"
	"time"
)

// Noop does nothing. Useful for smoke-testing a deployment's schedule.
var Noop = Func(func(context.Context, []string) error { return nil })

// Sleep waits for the duration given as its only argument, returning early
// with the context error on cancellation.
var Sleep = Func(func(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("%w: sleep wants exactly one duration, got %d args", ErrBadArgs, len(args))
	}
	d, err := time.ParseDuration(args[0])
	if err != nil {
		return fmt.Errorf("%w: sleep: %v", ErrBadArgs, err)
	}

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("job: sleep cancelled: %w", ctx.Err())
	}
})

// RegisterBuiltins adds the jobs available in every process.
func RegisterBuiltins(r *Registry) error {
	if err := r.Register("noop", Noop); err != nil {
		return err
	}
	return r.Register("sleep", Sleep)
}
