package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	msqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/flemzord/mtpsched/internal/schedule"
)

const columns = "id, name, arg_string, cron_entry, next_execution, created_at, updated_at"

// Store is a schedule.Store backed by SQLite.
//
// SQLite has no row locks: TryLock takes the database write lock with
// BEGIN IMMEDIATE on a connection whose busy timeout is zero, so a claim
// held by another process denies every other claim until it commits.
// Claims made through the same Store queue on claimSlot instead, so
// concurrent goroutines of one runner never deny each other. Claims only
// cover the reload and the advance, never the job body.
type Store struct {
	db          *sql.DB
	busyTimeout int
	now         func() time.Time

	// claimSlot holds a token while a claim of this Store is open.
	claimSlot chan struct{}
}

func newStore(db *sql.DB, busyTimeout int) *Store {
	return &Store{db: db, busyTimeout: busyTimeout, claimSlot: make(chan struct{}, 1)}
}

// Compile-time interface check.
var _ schedule.Store = (*Store)(nil)

// DB returns the underlying handle.
func (s *Store) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) clock() time.Time {
	if s.now != nil {
		return s.now().UTC()
	}
	return time.Now().UTC()
}

func formatTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (schedule.Entry, error) {
	var (
		e                      schedule.Entry
		next, created, updated string
	)
	if err := row.Scan(&e.ID, &e.Name, &e.ArgString, &e.Recurrence, &next, &created, &updated); err != nil {
		return schedule.Entry{}, err
	}
	var err error
	if e.NextDueAt, err = time.Parse(time.RFC3339Nano, next); err != nil {
		return schedule.Entry{}, fmt.Errorf("sqlite: entry %d: next_execution: %w", e.ID, err)
	}
	if e.CreatedAt, err = time.Parse(time.RFC3339Nano, created); err != nil {
		return schedule.Entry{}, fmt.Errorf("sqlite: entry %d: created_at: %w", e.ID, err)
	}
	if e.UpdatedAt, err = time.Parse(time.RFC3339Nano, updated); err != nil {
		return schedule.Entry{}, fmt.Errorf("sqlite: entry %d: updated_at: %w", e.ID, err)
	}
	return e, nil
}

// List implements schedule.Store.
func (s *Store) List(ctx context.Context) ([]schedule.Entry, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+columns+" FROM scheduled_command ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("sqlite: list entries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []schedule.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scan entry: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterate entries: %w", err)
	}
	return out, nil
}

// Get implements schedule.Store.
func (s *Store) Get(ctx context.Context, id int64) (schedule.Entry, error) {
	e, err := scanEntry(s.db.QueryRowContext(ctx, "SELECT "+columns+" FROM scheduled_command WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return schedule.Entry{}, schedule.ErrEntryNotFound
	}
	if err != nil {
		return schedule.Entry{}, fmt.Errorf("sqlite: get entry %d: %w", id, err)
	}
	return e, nil
}

// Create implements schedule.Store.
func (s *Store) Create(ctx context.Context, e *schedule.Entry) error {
	if e.NextDueAt.IsZero() {
		return schedule.ErrMissingNextDue
	}
	now := s.clock()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO scheduled_command (name, arg_string, cron_entry, next_execution, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		e.Name, e.ArgString, e.Recurrence, formatTime(e.NextDueAt), formatTime(now), formatTime(now),
	)
	if err != nil {
		return fmt.Errorf("sqlite: create entry: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("sqlite: create entry: %w", err)
	}
	e.ID = id
	e.CreatedAt = now
	e.UpdatedAt = now
	return nil
}

// Update implements schedule.Store.
func (s *Store) Update(ctx context.Context, e schedule.Entry) error {
	if e.NextDueAt.IsZero() {
		return schedule.ErrMissingNextDue
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE scheduled_command
		SET name = ?, arg_string = ?, cron_entry = ?, next_execution = ?, updated_at = ?
		WHERE id = ?`,
		e.Name, e.ArgString, e.Recurrence, formatTime(e.NextDueAt), formatTime(s.clock()), e.ID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: update entry %d: %w", e.ID, err)
	}
	return requireOneRow(res)
}

// Delete implements schedule.Store.
func (s *Store) Delete(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM scheduled_command WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("sqlite: delete entry %d: %w", id, err)
	}
	return requireOneRow(res)
}

func requireOneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: rows affected: %w", err)
	}
	if n == 0 {
		return schedule.ErrEntryNotFound
	}
	return nil
}

// Ping implements schedule.Store.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// TryLock implements schedule.Store.
func (s *Store) TryLock(ctx context.Context, id int64) (schedule.Lock, error) {
	select {
	case s.claimSlot <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	conn, err := s.db.Conn(ctx)
	if err != nil {
		<-s.claimSlot
		return nil, fmt.Errorf("sqlite: acquire connection: %w", err)
	}
	l := &lock{store: s, conn: conn}

	if _, err := conn.ExecContext(ctx, "PRAGMA busy_timeout=0"); err != nil {
		l.release()
		return nil, fmt.Errorf("sqlite: disable busy wait: %w", err)
	}
	if _, err := conn.ExecContext(ctx, "BEGIN IMMEDIATE"); err != nil {
		l.release()
		if isBusy(err) {
			return nil, schedule.ErrLockDenied
		}
		return nil, fmt.Errorf("sqlite: begin claim: %w", err)
	}
	l.open = true

	e, err := scanEntry(conn.QueryRowContext(ctx, "SELECT "+columns+" FROM scheduled_command WHERE id = ?", id))
	if err != nil {
		_ = l.Rollback()
		if errors.Is(err, sql.ErrNoRows) {
			return nil, schedule.ErrEntryNotFound
		}
		return nil, fmt.Errorf("sqlite: reload entry %d: %w", id, err)
	}
	l.entry = e
	return l, nil
}

// isBusy reports whether err is SQLITE_BUSY or SQLITE_LOCKED, including
// their extended codes.
func isBusy(err error) bool {
	var se *msqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	switch se.Code() & 0xff {
	case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
		return true
	}
	return false
}

type lock struct {
	store *Store
	conn  *sql.Conn
	entry schedule.Entry
	open  bool
	done  bool
}

func (l *lock) Entry() schedule.Entry { return l.entry }

func (l *lock) SetNextDue(ctx context.Context, t time.Time) error {
	if l.done {
		return schedule.ErrLockDone
	}
	_, err := l.conn.ExecContext(ctx,
		"UPDATE scheduled_command SET next_execution = ?, updated_at = ? WHERE id = ?",
		formatTime(t), formatTime(l.store.clock()), l.entry.ID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: set next execution for %d: %w", l.entry.ID, err)
	}
	return nil
}

func (l *lock) Commit() error {
	if l.done {
		return schedule.ErrLockDone
	}
	_, err := l.conn.ExecContext(context.Background(), "COMMIT")
	if err != nil {
		_, _ = l.conn.ExecContext(context.Background(), "ROLLBACK")
	}
	l.open = false
	l.release()
	if err != nil {
		return fmt.Errorf("sqlite: commit claim: %w", err)
	}
	return nil
}

func (l *lock) Rollback() error {
	if l.done {
		return nil
	}
	var err error
	if l.open {
		_, err = l.conn.ExecContext(context.Background(), "ROLLBACK")
		l.open = false
	}
	l.release()
	if err != nil {
		return fmt.Errorf("sqlite: rollback claim: %w", err)
	}
	return nil
}

// release restores the pooled connection's busy timeout, returns it and
// frees the claim slot.
func (l *lock) release() {
	if l.done {
		return
	}
	l.done = true
	_, _ = l.conn.ExecContext(context.Background(), fmt.Sprintf("PRAGMA busy_timeout=%d", l.store.busyTimeout))
	_ = l.conn.Close()
	<-l.store.claimSlot
}
