// Package app wires configuration, logging, the monitor pipeline, and the
// outbound router into one runnable unit.
package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"chatwatch/internal/chatdb"
	"chatwatch/internal/checkpoint"
	"chatwatch/internal/config"
	"chatwatch/internal/eventbus"
	"chatwatch/internal/filter"
	"chatwatch/internal/message"
	"chatwatch/internal/monitor"
	"chatwatch/internal/outbound"
	"chatwatch/internal/relay"
	"chatwatch/internal/runtime/supervisor"
	logx "chatwatch/pkg/logx"
)

type App struct {
	cfgPath string

	cfgm   *config.Manager
	logSvc *logx.Service
	log    logx.Logger
	bus    eventbus.Bus

	source *chatdb.Source
	store  checkpoint.Store
	engine *filter.Engine
	det    *monitor.Detector
	router *outbound.Router
	relay  *relay.Relay

	sup *supervisor.Supervisor
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log = log.With(logx.String("comp", "app"))
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	bus := eventbus.New()

	busy, err := config.ParseDurationField("source.busy_timeout", cfg.Source.BusyTimeout)
	if err != nil {
		return nil, err
	}
	source, err := chatdb.Open(chatdb.Config{
		Path:            cfg.Source.Path,
		AttachmentsPath: cfg.Source.AttachmentsPath,
		BusyTimeout:     busy,
	}, log.With(logx.String("comp", "chatdb")))
	if err != nil {
		logSvc.Close()
		return nil, err
	}

	ckBusy, err := config.ParseDurationField("checkpoint.busy_timeout", cfg.Checkpoint.BusyTimeout)
	if err != nil {
		source.Close()
		logSvc.Close()
		return nil, err
	}
	store, err := checkpoint.Open(checkpoint.Config{
		Driver:      cfg.Checkpoint.Driver,
		Path:        cfg.Checkpoint.Path,
		BusyTimeout: ckBusy,
	})
	if err != nil {
		source.Close()
		logSvc.Close()
		return nil, err
	}

	engine := filter.New(engineConfig(cfg.Filters))

	routerCfg, err := routerConfig(cfg.Outbound)
	if err != nil {
		return nil, err
	}
	router := outbound.NewRouter(routerCfg, log.With(logx.String("comp", "outbound")), bus)
	router.SetGate(engine)
	if err := registerBackends(router, cfg.Outbound, log); err != nil {
		source.Close()
		logSvc.Close()
		return nil, err
	}

	wakes, err := buildWakes(cfg, log)
	if err != nil {
		source.Close()
		logSvc.Close()
		return nil, err
	}
	lookback, err := config.ParseDurationField("monitor.startup_lookback", cfg.Monitor.StartupLookback)
	if err != nil {
		source.Close()
		logSvc.Close()
		return nil, err
	}
	det, err := monitor.New(monitor.Options{
		Source:          source,
		Normalizer:      message.NewNormalizer(cfg.Source.AttachmentsPath),
		Filter:          engine,
		Store:           store,
		Bus:             bus,
		Log:             log.With(logx.String("comp", "monitor")),
		Wakes:           wakes,
		BatchSize:       cfg.Monitor.BatchSize,
		StartupLookback: lookback,
	})
	if err != nil {
		source.Close()
		logSvc.Close()
		return nil, err
	}

	a := &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		logSvc:  logSvc,
		log:     log,
		bus:     bus,
		source:  source,
		store:   store,
		engine:  engine,
		det:     det,
		router:  router,
	}

	if cfg.Relay.Enabled {
		a.relay = relay.New(relay.Config{
			Enabled:         true,
			Backend:         cfg.Relay.Backend,
			Recipient:       cfg.Relay.Recipient,
			IncludeOutbound: cfg.Relay.IncludeOutbound,
		}, router, log.With(logx.String("comp", "relay")))
		det.OnMessage("relay", a.relay.Handle)
	}
	return a, nil
}

// OnMessage registers an additional delivery callback. Must be called
// before Start.
func (a *App) OnMessage(name string, cb monitor.Callback) { a.det.OnMessage(name, cb) }

// Router exposes the outbound path for embedders.
func (a *App) Router() *outbound.Router { return a.router }

// Bus exposes the operational event bus.
func (a *App) Bus() eventbus.Bus { return a.bus }

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.NewSupervisor(ctx, supervisor.WithLogger(a.log))

	if err := a.det.Start(a.sup.Context()); err != nil {
		a.sup.Cancel()
		return err
	}

	a.sup.Go("config.watch", a.cfgm.Watch)

	updates := a.cfgm.Subscribe(4)
	a.sup.Go0("config.apply", func(ctx context.Context) {
		defer a.cfgm.Unsubscribe(updates)
		old := a.cfgm.Get()
		for {
			select {
			case <-ctx.Done():
				return
			case cfg := <-updates:
				if cfg == nil {
					continue
				}
				a.applyConfig(old, cfg)
				old = cfg
			}
		}
	})

	a.notifySystemd()
	a.log.Info("started",
		logx.String("source", a.source.Path()),
		logx.Int64("cursor", a.det.Cursor().LastSeenID))
	return nil
}

func (a *App) Stop(ctx context.Context) error {
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	a.log.Info("stopping")

	var firstErr error
	if err := a.det.Stop(ctx); err != nil && firstErr == nil {
		firstErr = err
	}
	if a.sup != nil {
		if err := a.sup.Stop(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if a.store != nil {
		_ = a.store.Close()
	}
	_ = a.source.Close()
	_ = a.logSvc.Close()
	return firstErr
}

// Wait blocks until the supervisor drains (Stop or fatal error).
func (a *App) Wait(ctx context.Context) error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Wait(ctx)
}

// applyConfig pushes a reloaded config into the running components.
// Source and checkpoint changes need a restart; everything else hot-swaps.
func (a *App) applyConfig(old, cfg *config.Config) {
	changed, attrs := config.SummarizeConfigChange(old, cfg)
	if len(changed) == 0 {
		return
	}
	a.log.Info("applying config", append([]logx.Field{
		logx.String("sections", strings.Join(changed, ",")),
	}, attrs...)...)

	a.logSvc.Apply(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	a.engine.Swap(engineConfig(cfg.Filters))
	if rc, err := routerConfig(cfg.Outbound); err == nil {
		a.router.Apply(rc)
	} else {
		a.log.Warn("outbound config not applied", logx.Err(err))
	}

	if old != nil && (old.Source != cfg.Source || old.Checkpoint != cfg.Checkpoint) {
		a.log.Warn("source/checkpoint changes take effect on restart")
	}
}

// notifySystemd reports readiness and starts the watchdog ping loop when the
// process runs under systemd. Both are no-ops elsewhere.
func (a *App) notifySystemd() {
	if ok, _ := daemon.SdNotify(false, daemon.SdNotifyReady); !ok {
		return
	}
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil || interval == 0 {
		return
	}
	a.sup.Go0("systemd.watchdog", func(ctx context.Context) {
		t := time.NewTicker(interval / 2)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				_, _ = daemon.SdNotify(false, daemon.SdNotifyWatchdog)
			}
		}
	})
}
