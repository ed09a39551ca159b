// Package webhook provides the "webhook" job, which notifies a configured
// HTTP endpoint that a scheduled point in time was reached.
package webhook

import (
	"fmt"
	"log/slog"
	"slices"

	"github.com/flemzord/mtpsched/internal/core"
	"github.com/flemzord/mtpsched/internal/job"
	"github.com/flemzord/mtpsched/internal/security"
	"gopkg.in/yaml.v3"
)

// JobName is the name entries use to notify a target.
const JobName = "webhook"

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

// Module contributes the webhook job.
type Module struct {
	config   Config
	logger   *slog.Logger
	notifier *Notifier
}

// ModuleInfo implements core.Module.
func (m *Module) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:  "job.webhook",
		New: func() core.Module { return &Module{} },
	}
}

// Configure implements core.Configurable.
func (m *Module) Configure(node *yaml.Node) error {
	if err := node.Decode(&m.config); err != nil {
		return fmt.Errorf("webhook: decode config: %w", err)
	}
	m.config.defaults()
	return nil
}

// Provision implements core.Provisioner.
func (m *Module) Provision(ctx *core.AppContext) error {
	m.config.defaults()
	m.logger = ctx.Logger

	if r, err := core.Service[*security.Redactor](ctx, security.RedactorService); err == nil {
		for _, t := range m.config.Targets {
			if t.Secret != "" {
				r.AddLiteral(t.Secret)
			}
		}
	}

	m.notifier = NewNotifier(m.config, m.logger)
	ctx.RegisterService(job.ProviderServicePrefix+"webhook", m)

	names := make([]string, 0, len(m.config.Targets))
	for name := range m.config.Targets {
		names = append(names, name)
	}
	slices.Sort(names)
	m.logger.Info("webhook job provisioned", "targets", names)
	return nil
}

// Validate implements core.Validator.
func (m *Module) Validate() error {
	return m.config.validate()
}

// Jobs implements job.Provider.
func (m *Module) Jobs() map[string]job.Job {
	return map[string]job.Job{JobName: m.notifier}
}
