package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // SQLite driver registration
)

// Open opens (creating if needed) the database described by cfg and
// migrates its schema. The caller owns the returned Store and must Close it.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	cfg.defaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	if dir := filepath.Dir(cfg.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("sqlite: create directory %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite", dsn(&cfg))
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", cfg.Path, err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)

	if err := migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return newStore(db, cfg.BusyTimeout), nil
}

// dsn builds a modernc.org/sqlite DSN whose pragmas apply to every pooled
// connection, not just the first.
func dsn(cfg *Config) string {
	q := url.Values{}
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", cfg.BusyTimeout))
	if cfg.walEnabled() {
		q.Add("_pragma", "journal_mode(WAL)")
	}
	return "file:" + cfg.Path + "?" + q.Encode()
}
