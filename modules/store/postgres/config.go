package postgres

import (
	"fmt"
	"time"
)

const (
	defaultMaxOpenConns    = 8
	defaultConnMaxLifetime = 30 * time.Minute
)

// Config holds the PostgreSQL store module configuration.
type Config struct {
	// DSN is a PostgreSQL connection URL or keyword/value string.
	DSN string `yaml:"dsn"`

	// MaxOpenConns caps the pool. Defaults to 8.
	MaxOpenConns int `yaml:"max_open_conns"`

	// ConnMaxLifetime recycles pooled connections. Defaults to 30m.
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`

	// Migrate applies the bundled schema on Provision. Defaults to true.
	Migrate *bool `yaml:"migrate"`
}

func (c *Config) defaults() {
	if c.MaxOpenConns == 0 {
		c.MaxOpenConns = defaultMaxOpenConns
	}
	if c.ConnMaxLifetime == 0 {
		c.ConnMaxLifetime = defaultConnMaxLifetime
	}
	if c.Migrate == nil {
		t := true
		c.Migrate = &t
	}
}

func (c *Config) migrateEnabled() bool {
	return c.Migrate == nil || *c.Migrate
}

func (c *Config) validate() error {
	if c.DSN == "" {
		return fmt.Errorf("postgres: dsn is required")
	}
	if c.MaxOpenConns < 1 {
		return fmt.Errorf("postgres: max_open_conns must be positive, got %d", c.MaxOpenConns)
	}
	return nil
}
