// Package app wires configuration, modules and the runner into the
// process entry points used by the mtpsched binary.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/flemzord/mtpsched/internal/config"
	"github.com/flemzord/mtpsched/internal/core"
	"github.com/flemzord/mtpsched/internal/gateway"
	"github.com/flemzord/mtpsched/internal/job"
	"github.com/flemzord/mtpsched/internal/runner"
	"github.com/flemzord/mtpsched/internal/schedule"
	"github.com/flemzord/mtpsched/internal/security"
	"github.com/flemzord/mtpsched/internal/telemetry"
)

const tracerName = "github.com/flemzord/mtpsched"

// Params configures Bootstrap.
type Params struct {
	// ConfigPath is an explicit configuration file. When empty,
	// config.Find is used and defaults apply if nothing is found.
	ConfigPath string

	// Version is injected at build time and reported to telemetry.
	Version string

	// LogOutput receives log records. Defaults to os.Stderr.
	LogOutput io.Writer

	// Clock overrides the runner and manager time source.
	Clock func() time.Time
}

// Env is a bootstrapped process: configuration loaded, modules provisioned,
// runner built. Callers must Close it.
type Env struct {
	Config     *config.Config
	ConfigPath string
	Logger     *slog.Logger
	Redactor   *security.Redactor
	Registry   *prometheus.Registry
	Location   *time.Location
	App        *core.App
	Store      schedule.Store
	Jobs       *job.Registry
	Runner     *runner.Runner

	clock     func() time.Time
	telemetry *telemetry.Provider
}

// Bootstrap loads configuration and provisions the store module plus every
// configured module in the given namespaces.
func Bootstrap(ctx context.Context, p Params, namespaces ...string) (*Env, error) {
	cfg, path, err := config.LoadOrDefault(p.ConfigPath)
	if err != nil {
		return nil, err
	}
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, fmt.Errorf("scheduler: %w", err)
	}

	out := p.LogOutput
	if out == nil {
		out = os.Stderr
	}
	redactor := security.NewRedactor()
	logger, err := NewLogger(out, cfg.Logging, redactor)
	if err != nil {
		return nil, err
	}

	tp, err := telemetry.Setup(ctx, cfg.Telemetry, p.Version)
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	env := &Env{
		Config:     cfg,
		ConfigPath: path,
		Logger:     logger,
		Redactor:   redactor,
		Registry:   reg,
		Location:   loc,
		clock:      p.Clock,
		telemetry:  tp,
	}

	appCtx := core.NewAppContext(logger, cfg.DataDir).WithModuleConfigs(cfg.Modules)
	appCtx.RegisterService(security.RedactorService, redactor)
	appCtx.RegisterService(gateway.MetricsService, prometheus.Gatherer(reg))

	env.App = core.NewApp(appCtx)
	ids := config.Resolve(cfg, append([]string{"store"}, namespaces...)...)
	if err := env.App.LoadModules(ids); err != nil {
		_ = tp.Shutdown(ctx)
		return nil, err
	}

	if err := env.wire(appCtx); err != nil {
		env.Close(ctx)
		return nil, err
	}
	logger.Debug("bootstrapped", "config", path, "modules", ids, "jobs", env.Jobs.Names())
	return env, nil
}

func (e *Env) wire(appCtx *core.AppContext) error {
	store, err := core.Service[schedule.Store](appCtx, schedule.StoreService)
	if err != nil {
		return fmt.Errorf("store: %w", err)
	}
	e.Store = store

	e.Jobs = job.NewRegistry()
	if err := job.RegisterBuiltins(e.Jobs); err != nil {
		return err
	}
	for _, name := range appCtx.ServiceNames() {
		if !strings.HasPrefix(name, job.ProviderServicePrefix) {
			continue
		}
		p, err := core.Service[job.Provider](appCtx, name)
		if err != nil {
			return err
		}
		if err := e.Jobs.RegisterProvider(p); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}

	opts := []runner.Option{
		runner.WithLogger(e.Logger.With("component", "runner")),
		runner.WithLocation(e.Location),
		runner.WithConcurrency(e.Config.Scheduler.Concurrency),
		runner.WithMetrics(runner.NewMetrics(e.Registry)),
		runner.WithTracer(e.telemetry.Tracer(tracerName)),
	}
	if e.clock != nil {
		opts = append(opts, runner.WithClock(e.clock))
	}
	if hub, err := core.Service[*gateway.EventHub](appCtx, gateway.EventsService); err == nil {
		opts = append(opts, runner.WithReportHook(hub.Publish))
	}
	e.Runner = runner.New(e.Store, e.Jobs, opts...)
	return nil
}

// Manager returns an entry manager validating against the loaded jobs.
func (e *Env) Manager() *schedule.Manager {
	opts := []schedule.ManagerOption{schedule.WithManagerLocation(e.Location)}
	if e.clock != nil {
		opts = append(opts, schedule.WithManagerClock(e.clock))
	}
	return schedule.NewManager(e.Store, e.Jobs, opts...)
}

// Close stops every module and flushes telemetry.
func (e *Env) Close(ctx context.Context) {
	e.App.Stop()
	if err := e.telemetry.Shutdown(ctx); err != nil && !errors.Is(err, context.Canceled) {
		e.Logger.Warn("telemetry shutdown failed", "error", err)
	}
}
