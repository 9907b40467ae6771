package bootstrap

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"

	"github.com/lexfront/connkit/backend"
	"github.com/lexfront/connkit/client"
	"github.com/lexfront/connkit/component"
	"github.com/lexfront/connkit/connection"
	"github.com/lexfront/connkit/errors"
	"github.com/lexfront/connkit/logger"
	"github.com/lexfront/connkit/observability"
	"github.com/lexfront/connkit/recovery"
	"github.com/lexfront/connkit/resolver"
	"github.com/lexfront/connkit/statusapi"
)

// App is one connkit process: the connection, the module resolver, the
// backend clients and the recovery coordinator that ties them together.
//
//	cfg, err := bootstrap.Load("connkitd")
//	app, err := bootstrap.New(cfg)
//	app.Catalog.RegisterModule(resolver.NewResource("editor", "bundle", src))
//	err = app.Run(ctx)
type App struct {
	Name        string
	Version     string
	Environment string
	// InstanceID identifies this process in logs.
	InstanceID string
	Cfg        *Config

	Logger     *logger.Logger
	Components *component.Registry
	Summary    *Summary

	Clients    *client.Registry
	Catalog    *resolver.Catalog
	Resolver   *resolver.Resolver
	Connection *connection.Manager
	Recovery   *recovery.Coordinator
	// Status is nil when the status API is disabled.
	Status *statusapi.Server

	instruments     *observability.Instruments
	events          *statusapi.EventStream
	backends        []string
	tiers           []resolver.Tier
	gracefulTimeout time.Duration
	unsubscribe     []func()

	onStart []Hook
	onReady []Hook
	onStop  []Hook
}

// componentLoggers are registered per App so logger.Get hands out loggers
// carrying the instance id.
var componentLoggers = []string{
	"component", "websocket", "clients", "backend",
	"resolver", "connection", "recovery", "status-api",
}

// New builds and wires an App from cfg. Defaults are applied and cfg is
// validated first.
func New(cfg *Config, opts ...Option) (*App, error) {
	if cfg == nil {
		return nil, errors.ConfigurationIssue("config", "must not be nil")
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	o := resolveOptions(opts)

	a := &App{
		Name:            cfg.Name,
		Version:         cfg.Version,
		Environment:     cfg.Environment,
		InstanceID:      uuid.NewString(),
		Cfg:             cfg,
		gracefulTimeout: cfg.GracefulTimeout,
	}
	if o.gracefulTimeout != nil {
		a.gracefulTimeout = *o.gracefulTimeout
	}

	if o.logger != nil {
		a.Logger = o.logger
	} else {
		logger.Init(cfg.Logging, cfg.Name)
		a.Logger = logger.GetGlobalLogger()
	}
	a.Logger = a.Logger.WithFields(logger.Fields(logger.FieldInstanceID, a.InstanceID))
	logger.RegisterDefaults(a.Logger, componentLoggers...)
	a.Components = component.NewRegistry(logger.Get("component"))
	a.Summary = NewSummary(cfg.Name, cfg.Version)

	meter := o.meter
	if meter == nil {
		meter = observability.Meter("connkit")
	}
	in, err := observability.NewInstruments(meter)
	if err != nil {
		return nil, fmt.Errorf("create instruments: %w", err)
	}
	a.instruments = in

	transport := o.transport
	if transport == nil {
		tokens, err := cfg.Connection.TokenSource()
		if err != nil {
			return nil, err
		}
		transport = connection.NewWebSocketTransport(cfg.Connection.WebSocket, tokens, logger.Get("websocket"))
	}

	a.Clients = client.NewRegistry(logger.Get("clients"))
	a.backends = backend.Register(a.Clients, cfg.Backend, logger.Get("backend"), a.retrying, traced)

	a.Catalog = resolver.NewCatalog()
	a.tiers = []resolver.Tier{resolver.CatalogTier(a.Catalog)}
	if cfg.Resolver.CDN.BaseURL != "" {
		a.tiers = append(a.tiers, resolver.HTTPTier(cfg.Resolver.CDN, o.httpClient))
	}
	if cfg.Resolver.Mirror.Dir != "" {
		fs := o.fs
		if fs == nil {
			fs = afero.NewOsFs()
		}
		a.tiers = append(a.tiers, resolver.FileTier(cfg.Resolver.Mirror, fs))
	}
	a.tiers = append(a.tiers, o.tiers...)
	a.Resolver = resolver.New(cfg.Resolver,
		resolver.WithTiers(a.tiers...),
		resolver.WithLogger(logger.Get("resolver")))

	a.Connection = connection.NewManager(cfg.Connection.URL, transport, cfg.Connection.Policy,
		connection.WithLogger(logger.Get("connection")))

	a.Recovery = recovery.New(cfg.Recovery,
		recovery.WithLogger(logger.Get("recovery")),
		recovery.WithNarrow(recovery.ScopeTransport, tracedRemedy(a.reconnect)),
		recovery.WithNarrow(recovery.ScopeModule, tracedRemedy(a.bypassPrimary)),
		recovery.WithNarrow(recovery.ScopeClient, tracedRemedy(a.resetClient)),
		recovery.WithBroad(tracedRemedy(a.resetAll)))

	if cfg.Status.Enabled {
		a.events = statusapi.NewEventStream(64, logger.Get("status-api"))
		a.Status = statusapi.New(cfg.Status, a.sources(), logger.Get("status-api"))
	}
	a.wire()

	for _, c := range a.components() {
		if err := a.Components.Register(c); err != nil {
			return nil, err
		}
	}
	return a, nil
}

// components lists what the App manages in start order. Recovery stops
// before the connection so no remedy reconnects during shutdown.
func (a *App) components() []component.Component {
	cs := []component.Component{
		&telemetry{cfg: a.Cfg.Telemetry, service: a.Name, version: a.Version, env: a.Environment},
		a.Clients,
		a.Resolver,
		a.Connection,
		a.Recovery,
	}
	if a.Status != nil {
		cs = append(cs, a.Status)
	}
	return cs
}

// RegisterComponent adds a component after the built-in ones.
func (a *App) RegisterComponent(c component.Component) error {
	return a.Components.Register(c)
}

// ReadyCheck verifies that all registered components are healthy.
func (a *App) ReadyCheck(ctx context.Context) error {
	results := a.Components.HealthAll(ctx)
	var unhealthy []string
	for _, h := range results {
		if h.Status != component.StatusHealthy {
			detail := h.Name + "=" + string(h.Status)
			if h.Message != "" {
				detail += "(" + h.Message + ")"
			}
			unhealthy = append(unhealthy, detail)
		}
	}
	if len(unhealthy) > 0 {
		return fmt.Errorf("unhealthy components: %v", unhealthy)
	}
	return nil
}

// Run starts every component, blocks until a shutdown signal or ctx ends,
// then stops components in reverse order.
func (a *App) Run(ctx context.Context) error {
	if err := a.Start(ctx); err != nil {
		return err
	}

	a.Logger.Info("application ready, waiting for shutdown signal")
	a.WaitForSignal(ctx)

	return a.Shutdown(context.Background())
}

// Start runs the startup sequence without blocking: components, OnStart
// hooks, backend warm-up, ready check, OnReady hooks and the summary.
// Components started before a failure are stopped again.
func (a *App) Start(ctx context.Context) error {
	start := time.Now()

	a.Logger.Info("starting application", logger.Fields(
		logger.FieldService, a.Name,
		"version", a.Version,
		"environment", a.Environment,
	))

	if err := a.Components.StartAll(ctx); err != nil {
		a.unwind()
		return fmt.Errorf("initialization failed: %w", err)
	}
	if err := runHooks(ctx, a.onStart); err != nil {
		a.unwind()
		return fmt.Errorf("onStart hook failed: %w", err)
	}

	a.warmBackends(ctx)

	if err := a.ReadyCheck(ctx); err != nil {
		a.Logger.Warn("ready check reported issues", logger.ErrorFields("ready_check", err))
	}
	if err := runHooks(ctx, a.onReady); err != nil {
		a.unwind()
		return fmt.Errorf("onReady hook failed: %w", err)
	}

	a.Summary.SetStartupDuration(time.Since(start))
	a.trackSummary()
	a.Summary.DisplaySummary(a.Components)
	return nil
}

func (a *App) unwind() {
	ctx, cancel := context.WithTimeout(context.Background(), a.gracefulTimeout)
	defer cancel()
	if err := a.Components.StopAll(ctx); err != nil {
		a.Logger.Error("unwind after failed start", logger.ErrorFields("stop", err))
	}
}

// warmBackends constructs every configured backend client once so the first
// caller does not pay for it. Failures are left to the recovery
// coordinator.
func (a *App) warmBackends(ctx context.Context) {
	for _, key := range a.backends {
		if _, err := a.Clients.Client(ctx, key); err != nil {
			a.Logger.Warn("backend warm-up failed", logger.MergeWithError(logger.Fields(logger.FieldClientKey, key), err))
		}
	}
}

// WaitForSignal blocks until SIGINT, SIGTERM or ctx cancellation.
func (a *App) WaitForSignal(ctx context.Context) os.Signal {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		a.Logger.Info("received shutdown signal", logger.Fields("signal", sig.String()))
		return sig
	case <-ctx.Done():
		a.Logger.Info("context canceled, shutting down")
		return nil
	}
}

// Shutdown runs the OnStop hooks and stops all components within the
// graceful timeout. ctx may shorten the timeout.
func (a *App) Shutdown(ctx context.Context) error {
	a.Logger.Info("shutting down application", logger.Fields("timeout", a.gracefulTimeout.String()))

	ctx, cancel := context.WithTimeout(ctx, a.gracefulTimeout)
	defer cancel()

	var shutdownErr error
	if err := runHooks(ctx, a.onStop); err != nil {
		a.Logger.Error("onStop hook error", logger.ErrorFields("on_stop", err))
		shutdownErr = err
	}
	if err := a.Components.StopAll(ctx); err != nil {
		a.Logger.Error("shutdown completed with errors", logger.ErrorFields("stop", err))
		shutdownErr = err
	}
	for _, unsub := range a.unsubscribe {
		unsub()
	}
	a.unsubscribe = nil

	a.Logger.Info("application shutdown complete")
	return shutdownErr
}
