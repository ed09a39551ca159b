package schedule

import (
	"context"
	"fmt"
	"time"
)

// Manager is the administrative write path for entries. Every write is
// validated against the job registry and the recurrence parser before it
// reaches the store, so the runner never has to re-validate.
type Manager struct {
	store Store
	jobs  JobLookup
	now   func() time.Time
	loc   *time.Location
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithManagerClock overrides the time source used to compute the first
// next due time.
func WithManagerClock(now func() time.Time) ManagerOption {
	return func(m *Manager) { m.now = now }
}

// WithManagerLocation sets the location recurrences are evaluated in.
func WithManagerLocation(loc *time.Location) ManagerOption {
	return func(m *Manager) {
		if loc != nil {
			m.loc = loc
		}
	}
}

// NewManager creates a Manager writing to store and validating names
// against jobs.
func NewManager(store Store, jobs JobLookup, opts ...ManagerOption) *Manager {
	m := &Manager{
		store: store,
		jobs:  jobs,
		now:   time.Now,
		loc:   time.UTC,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Add validates e, computes its first next due time if unset, and
// persists it. Nothing is written when validation fails.
func (m *Manager) Add(ctx context.Context, e Entry) (Entry, error) {
	if err := Validate(e, m.jobs); err != nil {
		return Entry{}, fmt.Errorf("schedule: invalid entry: %w", err)
	}
	if err := Prepare(&e, m.now().In(m.loc)); err != nil {
		return Entry{}, err
	}
	if err := m.store.Create(ctx, &e); err != nil {
		return Entry{}, fmt.Errorf("schedule: create entry: %w", err)
	}
	return e, nil
}

// Modify loads the entry with the given ID, applies fn, re-validates, and
// persists it. A changed recurrence recomputes the next due time.
func (m *Manager) Modify(ctx context.Context, id int64, fn func(*Entry)) (Entry, error) {
	current, err := m.store.Get(ctx, id)
	if err != nil {
		return Entry{}, fmt.Errorf("schedule: load entry %d: %w", id, err)
	}

	updated := current
	fn(&updated)
	updated.ID = current.ID

	if err := Validate(updated, m.jobs); err != nil {
		return Entry{}, fmt.Errorf("schedule: invalid entry: %w", err)
	}
	if updated.Recurrence != current.Recurrence && updated.NextDueAt.Equal(current.NextDueAt) {
		updated.NextDueAt = time.Time{}
	}
	if err := Prepare(&updated, m.now().In(m.loc)); err != nil {
		return Entry{}, err
	}
	if err := m.store.Update(ctx, updated); err != nil {
		return Entry{}, fmt.Errorf("schedule: update entry %d: %w", id, err)
	}
	return m.store.Get(ctx, id)
}

// Remove deletes the entry with the given ID.
func (m *Manager) Remove(ctx context.Context, id int64) error {
	if err := m.store.Delete(ctx, id); err != nil {
		return fmt.Errorf("schedule: delete entry %d: %w", id, err)
	}
	return nil
}

// Get returns the entry with the given ID.
func (m *Manager) Get(ctx context.Context, id int64) (Entry, error) {
	return m.store.Get(ctx, id)
}

// List returns every entry.
func (m *Manager) List(ctx context.Context) ([]Entry, error) {
	return m.store.List(ctx)
}
