package sqlite

import "fmt"

const (
	defaultBusyTimeout  = 5000
	defaultMaxOpenConns = 4
	defaultDBFile       = "mtpsched.db"
)

// Config holds the SQLite store module configuration.
type Config struct {
	// Path is the database file path. Defaults to {DataDir}/mtpsched.db.
	Path string `yaml:"path"`

	// WAL enables WAL journal mode so Lists do not wait on a claim.
	// Defaults to true.
	WAL *bool `yaml:"wal"`

	// BusyTimeout is the milliseconds ordinary statements wait on a busy
	// database. Claims never wait. Defaults to 5000.
	BusyTimeout int `yaml:"busy_timeout"`

	// MaxOpenConns caps the connection pool. Defaults to 4.
	MaxOpenConns int `yaml:"max_open_conns"`
}

func (c *Config) defaults() {
	if c.WAL == nil {
		t := true
		c.WAL = &t
	}
	if c.BusyTimeout == 0 {
		c.BusyTimeout = defaultBusyTimeout
	}
	if c.MaxOpenConns == 0 {
		c.MaxOpenConns = defaultMaxOpenConns
	}
}

func (c *Config) walEnabled() bool {
	return c.WAL == nil || *c.WAL
}

func (c *Config) validate() error {
	if c.Path == "" {
		return fmt.Errorf("sqlite: path is required")
	}
	if c.BusyTimeout < 0 {
		return fmt.Errorf("sqlite: busy_timeout must be non-negative, got %d", c.BusyTimeout)
	}
	if c.MaxOpenConns < 2 {
		// One connection is pinned for the duration of a claim.
		return fmt.Errorf("sqlite: max_open_conns must be at least 2, got %d", c.MaxOpenConns)
	}
	return nil
}
