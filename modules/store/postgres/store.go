package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver

	"github.com/flemzord/mtpsched/internal/schedule"
)

// lockNotAvailable is SQLSTATE 55P03, raised by NOWAIT when a row lock is
// held elsewhere.
const lockNotAvailable = "55P03"

const (
	columns    = "id, name, arg_string, cron_entry, next_execution, created_at, updated_at"
	selectAll  = "SELECT " + columns + " FROM scheduled_command ORDER BY id"
	selectOne  = "SELECT " + columns + " FROM scheduled_command WHERE id = $1"
	selectLock = selectOne + " FOR UPDATE NOWAIT"
)

// Store is a schedule.Store backed by PostgreSQL. Claims are row locks
// taken with SELECT ... FOR UPDATE NOWAIT.
type Store struct {
	db *sql.DB
}

// Compile-time interface check.
var _ schedule.Store = (*Store)(nil)

// Open connects with the pgx driver, applying migrations when enabled.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	cfg.defaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	db, err := sql.Open("pgx", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	if cfg.migrateEnabled() {
		if err := migrateUp(cfg.DSN); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	return New(db), nil
}

// New wraps an already-open handle. The schema must already exist.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Close closes the pool.
func (s *Store) Close() error { return s.db.Close() }

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (schedule.Entry, error) {
	var e schedule.Entry
	err := row.Scan(&e.ID, &e.Name, &e.ArgString, &e.Recurrence, &e.NextDueAt, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return schedule.Entry{}, err
	}
	e.NextDueAt = e.NextDueAt.UTC()
	e.CreatedAt = e.CreatedAt.UTC()
	e.UpdatedAt = e.UpdatedAt.UTC()
	return e, nil
}

// List implements schedule.Store.
func (s *Store) List(ctx context.Context) ([]schedule.Entry, error) {
	rows, err := s.db.QueryContext(ctx, selectAll)
	if err != nil {
		return nil, fmt.Errorf("postgres: list entries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []schedule.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan entry: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate entries: %w", err)
	}
	return out, nil
}

// Get implements schedule.Store.
func (s *Store) Get(ctx context.Context, id int64) (schedule.Entry, error) {
	e, err := scanEntry(s.db.QueryRowContext(ctx, selectOne, id))
	if errors.Is(err, sql.ErrNoRows) {
		return schedule.Entry{}, schedule.ErrEntryNotFound
	}
	if err != nil {
		return schedule.Entry{}, fmt.Errorf("postgres: get entry %d: %w", id, err)
	}
	return e, nil
}

// Create implements schedule.Store.
func (s *Store) Create(ctx context.Context, e *schedule.Entry) error {
	if e.NextDueAt.IsZero() {
		return schedule.ErrMissingNextDue
	}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO scheduled_command (name, arg_string, cron_entry, next_execution)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at, updated_at`,
		e.Name, e.ArgString, e.Recurrence, e.NextDueAt.UTC(),
	).Scan(&e.ID, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return fmt.Errorf("postgres: create entry: %w", err)
	}
	e.CreatedAt = e.CreatedAt.UTC()
	e.UpdatedAt = e.UpdatedAt.UTC()
	return nil
}

// Update implements schedule.Store.
func (s *Store) Update(ctx context.Context, e schedule.Entry) error {
	if e.NextDueAt.IsZero() {
		return schedule.ErrMissingNextDue
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE scheduled_command
		SET name = $1, arg_string = $2, cron_entry = $3, next_execution = $4, updated_at = now()
		WHERE id = $5`,
		e.Name, e.ArgString, e.Recurrence, e.NextDueAt.UTC(), e.ID,
	)
	if err != nil {
		return fmt.Errorf("postgres: update entry %d: %w", e.ID, err)
	}
	return requireOneRow(res)
}

// Delete implements schedule.Store.
func (s *Store) Delete(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM scheduled_command WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("postgres: delete entry %d: %w", id, err)
	}
	return requireOneRow(res)
}

func requireOneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("postgres: rows affected: %w", err)
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
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("postgres: begin claim: %w", err)
	}

	e, err := scanEntry(tx.QueryRowContext(ctx, selectLock, id))
	if err != nil {
		_ = tx.Rollback()
		switch {
		case isLockNotAvailable(err):
			return nil, schedule.ErrLockDenied
		case errors.Is(err, sql.ErrNoRows):
			return nil, schedule.ErrEntryNotFound
		}
		return nil, fmt.Errorf("postgres: lock entry %d: %w", id, err)
	}
	return &lock{tx: tx, entry: e}, nil
}

func isLockNotAvailable(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == lockNotAvailable
	}
	return false
}

type lock struct {
	tx    *sql.Tx
	entry schedule.Entry
	done  bool
}

func (l *lock) Entry() schedule.Entry { return l.entry }

func (l *lock) SetNextDue(ctx context.Context, t time.Time) error {
	if l.done {
		return schedule.ErrLockDone
	}
	_, err := l.tx.ExecContext(ctx,
		"UPDATE scheduled_command SET next_execution = $1, updated_at = now() WHERE id = $2",
		t.UTC(), l.entry.ID,
	)
	if err != nil {
		return fmt.Errorf("postgres: set next execution for %d: %w", l.entry.ID, err)
	}
	return nil
}

func (l *lock) Commit() error {
	if l.done {
		return schedule.ErrLockDone
	}
	l.done = true
	if err := l.tx.Commit(); err != nil {
		return fmt.Errorf("postgres: commit claim: %w", err)
	}
	return nil
}

func (l *lock) Rollback() error {
	if l.done {
		return nil
	}
	l.done = true
	if err := l.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("postgres: rollback claim: %w", err)
	}
	return nil
}
