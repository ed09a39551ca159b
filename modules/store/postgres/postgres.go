// Package postgres implements a PostgreSQL-backed entry store module using
// the pgx driver through database/sql. Several runner processes may share
// one database; row locks keep each due entry to a single execution.
package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/flemzord/mtpsched/internal/core"
	"github.com/flemzord/mtpsched/internal/schedule"
	"gopkg.in/yaml.v3"
)

func init() {
	core.RegisterModule(&Module{})
}

// Compile-time interface guards.
var (
	_ core.Configurable = (*Module)(nil)
	_ core.Provisioner  = (*Module)(nil)
	_ core.Validator    = (*Module)(nil)
	_ core.Stopper      = (*Module)(nil)
)

const connectTimeout = 10 * time.Second

// Module publishes a PostgreSQL Store under schedule.StoreService.
type Module struct {
	config Config
	logger *slog.Logger
	store  *Store
}

// ModuleInfo implements core.Module.
func (m *Module) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:  "store.postgres",
		New: func() core.Module { return &Module{} },
	}
}

// Configure implements core.Configurable.
func (m *Module) Configure(node *yaml.Node) error {
	if err := node.Decode(&m.config); err != nil {
		return fmt.Errorf("postgres: decode config: %w", err)
	}
	m.config.defaults()
	return nil
}

// Provision implements core.Provisioner.
func (m *Module) Provision(ctx *core.AppContext) error {
	m.config.defaults()
	m.logger = ctx.Logger
	if err := m.config.validate(); err != nil {
		return err
	}

	openCtx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	store, err := Open(openCtx, m.config)
	if err != nil {
		return err
	}
	m.store = store
	ctx.RegisterService(schedule.StoreService, store)

	m.logger.Info("postgres store provisioned", "migrate", m.config.migrateEnabled())
	return nil
}

// Validate implements core.Validator.
func (m *Module) Validate() error {
	return m.config.validate()
}

// Stop implements core.Stopper.
func (m *Module) Stop(_ context.Context) error {
	if m.store == nil {
		return nil
	}
	m.logger.Info("postgres store stopping")
	return m.store.Close()
}
