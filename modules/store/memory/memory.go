// Package memory registers the in-process entry store as a module. Entries
// live only as long as the process, which suits tests and trying out a
// configuration; locks only coordinate runners inside one process.
package memory

import (
	"github.com/flemzord/mtpsched/internal/core"
	"github.com/flemzord/mtpsched/internal/schedule"
)

func init() {
	core.RegisterModule(&Module{})
}

var _ core.Provisioner = (*Module)(nil)

// Module publishes a schedule.MemoryStore under schedule.StoreService.
type Module struct {
	store *schedule.MemoryStore
}

// ModuleInfo implements core.Module.
func (m *Module) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:  "store.memory",
		New: func() core.Module { return &Module{} },
	}
}

// Provision implements core.Provisioner.
func (m *Module) Provision(ctx *core.AppContext) error {
	m.store = schedule.NewMemoryStore()
	ctx.RegisterService(schedule.StoreService, m.store)
	ctx.Logger.Warn("memory store provisioned; entries are lost on exit")
	return nil
}
