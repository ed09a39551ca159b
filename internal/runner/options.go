package runner

import (
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"
)

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) {
		if now != nil {
			r.now = now
		}
	}
}

// WithLocation sets the location recurrences are evaluated in. Defaults
// to UTC.
func WithLocation(loc *time.Location) Option {
	return func(r *Runner) {
		if loc != nil {
			r.loc = loc
		}
	}
}

// WithConcurrency processes up to n entries at once. Values below 2 keep
// processing sequential.
func WithConcurrency(n int) Option {
	return func(r *Runner) { r.concurrency = n }
}

// WithMetrics records cycle and entry outcomes.
func WithMetrics(m *Metrics) Option {
	return func(r *Runner) { r.metrics = m }
}

// WithTracer sets the tracer used for cycle and entry spans.
func WithTracer(t trace.Tracer) Option {
	return func(r *Runner) {
		if t != nil {
			r.tracer = t
		}
	}
}

// WithReportHook registers fn to receive every completed cycle report.
func WithReportHook(fn func(*Report)) Option {
	return func(r *Runner) {
		if fn != nil {
			r.hooks = append(r.hooks, fn)
		}
	}
}
