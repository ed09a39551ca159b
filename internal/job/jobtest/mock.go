// Package jobtest provides test doubles for the job package.
package jobtest

import (
	"context"
	"sync"

	"github.com/flemzord/mtpsched/internal/job"
)

// MockJob records its invocations and delegates to RunFunc when set.
type MockJob struct {
	RunFunc func(ctx context.Context, args []string) error

	mu    sync.Mutex
	calls [][]string
}

// Compile-time interface check.
var _ job.Job = (*MockJob)(nil)

// Run implements job.Job.
func (m *MockJob) Run(ctx context.Context, args []string) error {
	m.mu.Lock()
	m.calls = append(m.calls, append([]string(nil), args...))
	m.mu.Unlock()

	if m.RunFunc != nil {
		return m.RunFunc(ctx, args)
	}
	return nil
}

// CallCount returns the number of times Run was called.
func (m *MockJob) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// Calls returns the argument lists of every call, in order.
func (m *MockJob) Calls() [][]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]string, len(m.calls))
	copy(out, m.calls)
	return out
}
