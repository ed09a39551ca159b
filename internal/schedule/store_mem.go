package schedule

import (
	"context"
	"slices"
	"sync"
	"time"
)

// MemoryStore is a thread-safe, in-process Store. Row locks are per-entry
// mutexes acquired with TryLock, so two runners sharing one MemoryStore
// observe the same contention semantics as against a database.
type MemoryStore struct {
	mu     sync.Mutex
	rows   map[int64]*memRow
	nextID int64
	now    func() time.Time
}

type memRow struct {
	entry Entry
	lock  sync.Mutex
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rows:   make(map[int64]*memRow),
		nextID: 1,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Compile-time interface check.
var _ Store = (*MemoryStore)(nil)

// List implements Store.
func (s *MemoryStore) List(_ context.Context) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Entry, 0, len(s.rows))
	for _, row := range s.rows {
		out = append(out, row.entry)
	}
	slices.SortFunc(out, func(a, b Entry) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	return out, nil
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, id int64) (Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.rows[id]
	if !ok {
		return Entry{}, ErrEntryNotFound
	}
	return row.entry, nil
}

// Create implements Store.
func (s *MemoryStore) Create(_ context.Context, e *Entry) error {
	if e.NextDueAt.IsZero() {
		return ErrMissingNextDue
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	e.ID = s.nextID
	s.nextID++
	e.CreatedAt = now
	e.UpdatedAt = now
	s.rows[e.ID] = &memRow{entry: *e}
	return nil
}

// Update implements Store.
func (s *MemoryStore) Update(_ context.Context, e Entry) error {
	if e.NextDueAt.IsZero() {
		return ErrMissingNextDue
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.rows[e.ID]
	if !ok {
		return ErrEntryNotFound
	}
	e.CreatedAt = row.entry.CreatedAt
	e.UpdatedAt = s.now()
	row.entry = e
	return nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rows[id]; !ok {
		return ErrEntryNotFound
	}
	delete(s.rows, id)
	return nil
}

// TryLock implements Store.
func (s *MemoryStore) TryLock(_ context.Context, id int64) (Lock, error) {
	s.mu.Lock()
	row, ok := s.rows[id]
	s.mu.Unlock()
	if !ok {
		return nil, ErrEntryNotFound
	}

	if !row.lock.TryLock() {
		return nil, ErrLockDenied
	}

	s.mu.Lock()
	current := row.entry
	s.mu.Unlock()

	return &memLock{store: s, row: row, entry: current}, nil
}

// Ping implements Store.
func (s *MemoryStore) Ping(context.Context) error { return nil }

type memLock struct {
	store   *MemoryStore
	row     *memRow
	entry   Entry
	staged  time.Time
	pending bool
	done    bool
}

func (l *memLock) Entry() Entry { return l.entry }

func (l *memLock) SetNextDue(_ context.Context, t time.Time) error {
	if l.done {
		return ErrLockDone
	}
	l.staged = t
	l.pending = true
	return nil
}

func (l *memLock) Commit() error {
	if l.done {
		return ErrLockDone
	}
	l.done = true
	defer l.row.lock.Unlock()

	if !l.pending {
		return nil
	}

	l.store.mu.Lock()
	defer l.store.mu.Unlock()

	row, ok := l.store.rows[l.entry.ID]
	if !ok || row != l.row {
		return ErrEntryNotFound
	}
	row.entry.NextDueAt = l.staged
	row.entry.UpdatedAt = l.store.now()
	return nil
}

func (l *memLock) Rollback() error {
	if l.done {
		return nil
	}
	l.done = true
	l.row.lock.Unlock()
	return nil
}
