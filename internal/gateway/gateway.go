// Package gateway provides the daemon's HTTP surface: health, Prometheus
// metrics, a read-only entries API and a websocket stream of cycle reports.
// It binds to loopback by default and follows the module system pattern.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"gopkg.in/yaml.v3"

	"github.com/flemzord/mtpsched/internal/core"
	"github.com/flemzord/mtpsched/internal/runner"
	"github.com/flemzord/mtpsched/internal/schedule"
)

// Service names the gateway publishes or consumes.
const (
	EventsService  = "gateway.events"
	MetricsService = "metrics.gatherer"
	TriggerService = "scheduler.trigger"
)

func init() {
	core.RegisterModule(&Gateway{})
}

// EntryReader is the subset of schedule.Store the gateway reads.
type EntryReader interface {
	List(ctx context.Context) ([]schedule.Entry, error)
	Get(ctx context.Context, id int64) (schedule.Entry, error)
	Ping(ctx context.Context) error
}

// CycleTrigger runs a cycle on demand. *trigger.Trigger satisfies it.
type CycleTrigger interface {
	RunNow(ctx context.Context) (*runner.Report, error)
}

// Gateway is the HTTP gateway module. It is a leaf module: nothing imports it.
type Gateway struct {
	config    Config
	appCtx    *core.AppContext
	logger    *slog.Logger
	server    *http.Server
	events    *EventHub
	startedAt time.Time
	done      chan struct{}

	// Resolved lazily at Start() via the service registry.
	store    EntryReader
	gatherer prometheus.Gatherer
	trigger  CycleTrigger
}

// Compile-time interface guards.
var (
	_ core.Configurable = (*Gateway)(nil)
	_ core.Provisioner  = (*Gateway)(nil)
	_ core.Validator    = (*Gateway)(nil)
	_ core.Starter      = (*Gateway)(nil)
	_ core.Stopper      = (*Gateway)(nil)
)

// ModuleInfo implements core.Module.
func (g *Gateway) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:  "gateway.http",
		New: func() core.Module { return &Gateway{} },
	}
}

// Configure implements core.Configurable.
func (g *Gateway) Configure(node *yaml.Node) error {
	if err := node.Decode(&g.config); err != nil {
		return fmt.Errorf("gateway: decode config: %w", err)
	}
	return nil
}

// Provision implements core.Provisioner.
func (g *Gateway) Provision(ctx *core.AppContext) error {
	g.config.defaults()
	g.appCtx = ctx
	g.logger = ctx.Logger
	g.done = make(chan struct{})
	g.events = NewEventHub(g.config.EventBuffer, g.logger)

	ctx.RegisterService(EventsService, g.events)
	return nil
}

// Validate implements core.Validator.
func (g *Gateway) Validate() error {
	if _, err := net.ResolveTCPAddr("tcp", g.config.Bind); err != nil {
		return fmt.Errorf("gateway: invalid bind address %q: %w", g.config.Bind, err)
	}
	return nil
}

// Start implements core.Starter. It resolves dependencies from the service
// registry and starts the HTTP server.
func (g *Gateway) Start() error {
	store, err := core.Service[EntryReader](g.appCtx, schedule.StoreService)
	if err != nil {
		return fmt.Errorf("gateway: %w", err)
	}
	g.store = store

	g.gatherer = prometheus.DefaultGatherer
	if svc, ok := g.appCtx.GetService(MetricsService); ok {
		if gatherer, ok := svc.(prometheus.Gatherer); ok {
			g.gatherer = gatherer
		}
	}
	if svc, ok := g.appCtx.GetService(TriggerService); ok {
		if t, ok := svc.(CycleTrigger); ok {
			g.trigger = t
		}
	}

	g.startedAt = time.Now()
	g.server = &http.Server{
		Addr:         g.config.Bind,
		Handler:      g.buildRouter(),
		ReadTimeout:  g.config.ReadTimeout,
		WriteTimeout: g.config.WriteTimeout,
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(context.Background(), "tcp", g.config.Bind)
	if err != nil {
		return fmt.Errorf("gateway: listen failed: %w", err)
	}

	go func() {
		g.logger.Info("gateway listening", "addr", ln.Addr().String())
		if err := g.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			g.logger.Error("gateway serve error", "error", err)
		}
	}()

	return nil
}

// Stop implements core.Stopper. Open websocket streams are closed, then
// the server is shut down gracefully with the configured timeout.
func (g *Gateway) Stop(ctx context.Context) error {
	if g.server == nil {
		return nil
	}
	close(g.done)

	shutdownCtx, cancel := context.WithTimeout(ctx, g.config.ShutdownTimeout)
	defer cancel()

	g.logger.Info("gateway shutting down")
	return g.server.Shutdown(shutdownCtx)
}
