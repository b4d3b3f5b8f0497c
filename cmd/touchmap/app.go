package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"touchmap/internal/config"
	"touchmap/internal/health"
	"touchmap/internal/logging"
	"touchmap/internal/metrics"
	"touchmap/internal/persist"
	"touchmap/internal/render"
	"touchmap/internal/session"
	"touchmap/internal/store"
	"touchmap/internal/touch"
	"touchmap/internal/touchmap"
)

// rootOptions holds the persistent flags.
type rootOptions struct {
	ConfigPath  string
	MetricsAddr string
	Debug       bool
}

// app is everything a command needs, built from the configuration.
type app struct {
	opts    *rootOptions
	cfg     *config.Config
	logger  *logging.Logger
	backend store.Backend
	store   *persist.Store
	tm      *touchmap.Touchmap
	metrics *metrics.Metrics
	crash   *logging.CrashHandler

	stopMetrics context.CancelFunc
	served      chan error
	loader      *config.Loader
	stopWatch   context.CancelFunc
}

func resolveConfigPath(path string) string {
	if path != "" {
		return path
	}
	if found := config.FindConfigFile(); found != "" {
		return found
	}
	return config.ConfigPath()
}

func loadConfig(opts *rootOptions) (*config.Config, error) {
	cfg, err := config.Load(resolveConfigPath(opts.ConfigPath))
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if opts.Debug {
		cfg.Debug = true
	}
	if opts.MetricsAddr != "" {
		cfg.Metrics.Enabled = true
		cfg.Metrics.ListenAddr = opts.MetricsAddr
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newApp(ctx context.Context, opts *rootOptions) (*app, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}

	logger, err := logging.New(logging.FromSettings(cfg.Logging))
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}

	typ, err := store.ParseType(cfg.Storage.Type)
	if err != nil {
		logger.Close()
		return nil, err
	}
	backend, err := store.Open(store.Options{
		Type:          typ,
		Path:          cfg.StoragePath(),
		BusyTimeoutMs: cfg.Storage.BusyTimeoutMs,
	})
	if err != nil {
		logger.Close()
		return nil, fmt.Errorf("open %s storage: %w", typ, err)
	}

	m := metrics.New(nil)
	st := persist.New(backend, persist.Options{
		Key:     cfg.Storage.Key,
		Strict:  cfg.Storage.Strict,
		Logger:  logger.WithComponent("persist").Logger,
		Metrics: m,
	})
	renderer := render.NewHeatmapRenderer(render.HeatmapOptions{
		Radius:     cfg.Render.Radius,
		Blur:       cfg.Render.Blur,
		MinOpacity: cfg.Render.MinOpacity,
		Logger:     logger.WithComponent("render").Logger,
	})
	tm := touchmap.New(st, renderer, touchmap.Options{
		Debug:         cfg.Debug,
		SessionOnly:   cfg.SessionOnly,
		Threshold:     cfg.Capture.MoveThresholdPx,
		Weight:        cfg.Export.Weight,
		MaxPerSession: cfg.Export.MaxPerSession,
		ExportTimeout: cfg.ExportTimeout(),
		Geometry: session.StaticGeometry(touch.DeviceSize{
			Width:  cfg.Device.Width,
			Height: cfg.Device.Height,
		}),
		Logger:  logger.Logger,
		Metrics: m,
	})

	a := &app{
		opts:    opts,
		cfg:     cfg,
		logger:  logger,
		backend: backend,
		store:   st,
		tm:      tm,
		metrics: m,
		crash:   logging.NewCrashHandler(filepath.Join(config.DataDir(), "crashes"), "touchmap", logger.Logger),
	}

	if cfg.Metrics.Enabled {
		mctx, cancel := context.WithCancel(ctx)
		a.stopMetrics = cancel
		a.served = make(chan error, 1)
		checker := health.NewChecker()
		checker.Register("storage", true, 0, health.StorageCheck(backend, st.Key()))
		go func() {
			a.served <- metrics.Serve(mctx, cfg.Metrics.ListenAddr, m, logger.WithComponent("metrics").Logger,
				metrics.Route{Pattern: "/healthz", Handler: checker.Handler()})
		}()
	}

	logger.Debug("touchmap ready", "config", cfg.String(), "storage_path", cfg.StoragePath())
	return a, nil
}

// watchConfig reloads the configuration file while a long-running
// command is active. Reloads change event logging and the log level;
// storage, rendering and capture settings apply to the next run.
func (a *app) watchConfig(ctx context.Context) error {
	loader := config.NewLoader(resolveConfigPath(a.opts.ConfigPath))
	if err := loader.Watch(); err != nil {
		loader.Close()
		return err
	}
	a.loader = loader
	ctx, a.stopWatch = context.WithCancel(ctx)

	log := a.logger.WithComponent("config")
	loader.OnChange(func(cfg *config.Config) {
		a.applyConfig(cfg)
		log.Info("configuration reloaded", "path", loader.Path(), "debug", a.tm.Debug(),
			"level", logging.LevelString(a.logger.Level()))
	})
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case err := <-loader.Errors():
				log.Warn("configuration reload rejected", "path", loader.Path(), "error", err)
			}
		}
	}()
	return nil
}

// applyConfig applies the reloadable settings of cfg. The --debug flag
// keeps event logging on.
func (a *app) applyConfig(cfg *config.Config) {
	a.tm.SetDebug(cfg.Debug || a.opts.Debug)
	if level, err := logging.ParseLevel(cfg.Logging.Level); err == nil {
		a.logger.SetLevel(level)
	}
}

// Close stops the metrics endpoint and releases storage and log files.
func (a *app) Close() error {
	var errs []error
	if a.loader != nil {
		a.stopWatch()
		if err := a.loader.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close config watcher: %w", err))
		}
	}
	if a.stopMetrics != nil {
		a.stopMetrics()
		if err := <-a.served; err != nil {
			errs = append(errs, err)
		}
	}
	if err := a.backend.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close storage: %w", err))
	}
	if err := a.logger.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close log: %w", err))
	}
	return errors.Join(errs...)
}

// run builds the app, runs fn under the crash handler and closes the app.
func run(ctx context.Context, opts *rootOptions, op string, fn func(context.Context, *app) error) (err error) {
	a, err := newApp(ctx, opts)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := a.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return a.crash.Guard(op, func() error {
		return fn(ctx, a)
	})
}
