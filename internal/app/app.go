// Package app wires the dispatch pipeline together and owns the HTTP
// surface: the proxy endpoint, the admin routing API, stats and metrics.
package app

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/glmproxy/glmproxy/internal/adapter/cooldown"
	"github.com/glmproxy/glmproxy/internal/adapter/keypool"
	"github.com/glmproxy/glmproxy/internal/adapter/metrics"
	"github.com/glmproxy/glmproxy/internal/adapter/queue"
	"github.com/glmproxy/glmproxy/internal/adapter/registry"
	"github.com/glmproxy/glmproxy/internal/adapter/retry"
	"github.com/glmproxy/glmproxy/internal/adapter/router"
	"github.com/glmproxy/glmproxy/internal/adapter/upstream"
	"github.com/glmproxy/glmproxy/internal/config"
	"github.com/glmproxy/glmproxy/internal/core/domain"
	"github.com/glmproxy/glmproxy/internal/logger"
)

// Application owns the component graph for one proxy instance.
type Application struct {
	startTime time.Time
	config    *config.Config
	logger    *logger.StyledLogger

	registry   *registry.Registry
	keys       *keypool.Manager
	cooldown   *cooldown.Engine
	queue      *queue.Queue
	router     *router.Router
	metrics    *metrics.Metrics
	upstream   *upstream.Client
	controller *retry.Controller

	server  *Server
	watcher *fsnotify.Watcher
}

func New(startTime time.Time, log *logger.StyledLogger) (*Application, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	return NewWithConfig(startTime, cfg, log)
}

// NewWithConfig builds the full component graph from an already loaded
// config. Split out so tests can inject their own.
func NewWithConfig(startTime time.Time, cfg *config.Config, log *logger.StyledLogger) (*Application, error) {
	mapping, err := cfg.ParseModelMapping()
	if err != nil {
		return nil, err
	}
	keysSpec, err := cfg.ParseKeys()
	if err != nil {
		return nil, err
	}

	reg := registry.New(cfg.Providers, mapping, log)

	keys := keypool.NewManager(cfg.Dispatch, cfg.CircuitBreaker, log)
	keys.SetDefaultProvider(reg.DefaultProvider())
	keys.LoadKeys(keysSpec)

	cool := cooldown.NewEngine(cfg.PoolCooldown, cfg.ProactivePace, log)
	waitQueue := queue.NewQueue(cfg.Dispatch.QueueSize, log)

	routingCfg := cfg.ModelRouting
	if routingCfg.ConfigFile != "" {
		saved, err := config.LoadModelRouting(routingCfg.ConfigFile)
		if err != nil {
			if log != nil {
				log.Warn("Ignoring persisted routing config", "error", err)
			}
		} else if saved != nil {
			if _, verr := saved.Validate(); verr == nil {
				persistTo := routingCfg.ConfigFile
				routingCfg = *saved
				routingCfg.ConfigFile = persistTo
				if log != nil {
					log.Info("Loaded persisted routing config", "path", persistTo)
				}
			} else if log != nil {
				log.Warn("Persisted routing config invalid, using defaults", "error", verr)
			}
		}
	}

	rtr := router.New(routingCfg, reg, log)

	m := metrics.New(metrics.StateFuncs{
		RoutingEnabled: func() float64 {
			if rtr.Config().Enabled {
				return 1
			}
			return 0
		},
		ActiveCooldowns: func() float64 { return float64(rtr.ActiveCooldownCount()) },
		ActiveOverrides: func() float64 { return float64(rtr.OverrideCount()) },
		QueueDepth:      func() float64 { return float64(waitQueue.Stats().Current) },
		InFlight:        func() float64 { return float64(keys.TotalInFlight()) },
	})

	up := upstream.NewClient(cfg.Dispatch, reg, log)
	ctrl := retry.NewController(cfg.Dispatch, keys, rtr, waitQueue, cool, up, m, log)

	app := &Application{
		startTime:  startTime,
		config:     cfg,
		logger:     log,
		registry:   reg,
		keys:       keys,
		cooldown:   cool,
		queue:      waitQueue,
		router:     rtr,
		metrics:    m,
		upstream:   up,
		controller: ctrl,
	}
	app.server = NewServer(app)

	if reg.SilentDefaultInjected() && log != nil {
		log.Warn("Providers configured without a default; the built-in default was injected silently")
	}
	return app, nil
}

func (a *Application) Start(ctx context.Context) error {
	if err := a.watchRoutingConfig(); err != nil && a.logger != nil {
		a.logger.Warn("Routing config watch unavailable", "error", err)
	}
	return a.server.Start(ctx)
}

// Stop drains the pipeline: queued waiters are resolved with shutdown, then
// the HTTP server gets the configured grace period to finish in-flight work.
func (a *Application) Stop(ctx context.Context) error {
	a.queue.Clear(domain.QueueShutdown)
	if a.watcher != nil {
		_ = a.watcher.Close()
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, a.config.Server.GetShutdownTimeout())
	defer cancel()
	return a.server.Shutdown(shutdownCtx)
}

// watchRoutingConfig reloads the persisted routing file when something edits
// it out-of-band. Admin PUTs persist through the router itself and are not
// re-applied here.
func (a *Application) watchRoutingConfig() error {
	path := a.router.Config().ConfigFile
	if path == "" {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return err
	}
	a.watcher = watcher

	target := filepath.Clean(path)
	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}
				saved, err := config.LoadModelRouting(path)
				if err != nil || saved == nil {
					continue
				}
				saved.ConfigFile = path
				if _, err := a.router.ReloadConfig(*saved); err != nil && a.logger != nil {
					a.logger.Warn("Rejected routing config from disk", "error", err)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				if a.logger != nil {
					a.logger.Warn("Routing config watcher error", "error", err)
				}
			}
		}
	}()
	return nil
}
