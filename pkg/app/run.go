package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/push"

	"github.com/flemzord/mtpsched/internal/core"
	"github.com/flemzord/mtpsched/internal/gateway"
	"github.com/flemzord/mtpsched/internal/runner"
	"github.com/flemzord/mtpsched/internal/trigger"
)

// RunOnce performs a single cycle and exits, the mode used when an external
// scheduler such as a container cron launches the process every minute.
// Only a failure to list entries is returned as an error; per-entry
// failures are in the report.
func RunOnce(ctx context.Context, p Params) (*runner.Report, error) {
	env, err := Bootstrap(ctx, p, "job")
	if err != nil {
		return nil, err
	}
	defer env.Close(context.Background())

	report, err := env.Runner.RunCycle(ctx)

	if url := env.Config.Metrics.Pushgateway; url != "" {
		if perr := env.push(ctx); perr != nil {
			env.Logger.Warn("metrics push failed", "pushgateway", url, "error", perr)
		}
	}
	return report, err
}

func (e *Env) push(ctx context.Context) error {
	p := push.New(e.Config.Metrics.Pushgateway, e.Config.Metrics.Job).Gatherer(e.Registry)
	if host, err := os.Hostname(); err == nil {
		p = p.Grouping("instance", host)
	}
	if err := p.PushContext(ctx); err != nil {
		return fmt.Errorf("push: %w", err)
	}
	return nil
}

// Serve runs the daemon: the in-process trigger plus any configured
// gateway, until ctx is cancelled or SIGINT/SIGTERM arrives.
func Serve(ctx context.Context, p Params) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	env, err := Bootstrap(ctx, p, "job", "gateway")
	if err != nil {
		return err
	}
	defer env.Close(context.Background())

	t := trigger.New(env.Runner, env.Config.Scheduler.Trigger, env.Logger.With("component", "trigger"))
	env.App.Context().RegisterService(gateway.TriggerService, t)
	env.App.AppendModule(triggerModuleID, &triggerModule{trigger: t})

	env.Logger.Info("scheduler daemon starting",
		"trigger", t.Schedule(),
		"timezone", env.Location.String(),
		"jobs", env.Jobs.Names(),
	)
	return env.App.Run(ctx)
}

const triggerModuleID core.ModuleID = "scheduler.trigger"

// triggerModule puts the trigger in the App lifecycle so it starts after
// the store and gateway and stops before them.
type triggerModule struct {
	trigger *trigger.Trigger
}

func (m *triggerModule) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{ID: triggerModuleID}
}

func (m *triggerModule) Start() error {
	return m.trigger.Start()
}

func (m *triggerModule) Stop(ctx context.Context) error {
	return m.trigger.Stop(ctx)
}
