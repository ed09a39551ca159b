// Package exec provides the "exec" job, which runs allow-listed external
// programs. It is the way to schedule maintenance commands that live
// outside this binary.
package exec

import (
	"fmt"
	"log/slog"

	"github.com/flemzord/mtpsched/internal/core"
	"github.com/flemzord/mtpsched/internal/job"
	"github.com/flemzord/mtpsched/internal/security"
	"gopkg.in/yaml.v3"
)

// JobName is the name entries use to schedule an external program.
const JobName = "exec"

func init() {
	core.RegisterModule(&Module{})
}

// Compile-time interface guards.
var (
	_ core.Configurable = (*Module)(nil)
	_ core.Provisioner  = (*Module)(nil)
	_ core.Validator    = (*Module)(nil)
	_ job.Provider      = (*Module)(nil)
)

// Module contributes the exec job.
type Module struct {
	config  Config
	logger  *slog.Logger
	command *Command
}

// ModuleInfo implements core.Module.
func (m *Module) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:  "job.exec",
		New: func() core.Module { return &Module{} },
	}
}

// Configure implements core.Configurable.
func (m *Module) Configure(node *yaml.Node) error {
	if err := node.Decode(&m.config); err != nil {
		return fmt.Errorf("exec: decode config: %w", err)
	}
	m.config.defaults()
	return nil
}

// Provision implements core.Provisioner.
func (m *Module) Provision(ctx *core.AppContext) error {
	m.config.defaults()
	m.logger = ctx.Logger
	if m.config.Dir == "" {
		m.config.Dir = ctx.DataDir
	}

	r, err := core.Service[*security.Redactor](ctx, security.RedactorService)
	if err != nil {
		r = nil
	}
	m.command = NewCommand(m.config, m.logger, r)
	ctx.RegisterService(job.ProviderServicePrefix+"exec", m)

	m.logger.Info("exec job provisioned", "allow", m.config.Allow, "timeout", m.config.Timeout)
	return nil
}

// Validate implements core.Validator.
func (m *Module) Validate() error {
	return m.config.validate()
}

// Jobs implements job.Provider.
func (m *Module) Jobs() map[string]job.Job {
	return map[string]job.Job{JobName: m.command}
}
