package main

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"

	"watchreload/internal/config"
	"watchreload/internal/logging"
	"watchreload/internal/metrics"
	"watchreload/internal/module"
	"watchreload/internal/reload"
	"watchreload/internal/watcher"
)

// daemon keeps one in-memory export object per configured module and
// reloads it through the registry.
type daemon struct {
	logger   *logging.Logger
	metrics  *metrics.Registry
	watcher  *watcher.Watcher
	loader   *module.FileLoader
	registry *reload.Registry

	mu      sync.RWMutex
	modules map[string]*module.Exports
	order   []string
}

func newDaemon(settings config.Settings, logger *logging.Logger, registryMetrics *metrics.Registry) (*daemon, error) {
	fsWatcher, err := watcher.NewWithOptions(watcher.Options{
		Logger:             logger,
		MaxRestartAttempts: int(settings.Watcher.MaxRestartAttempts),
		ErrorHandler: func(err error) {
			logger.Error("watcher stopped", map[string]string{
				logging.FieldError: err.Error(),
			})
		},
	})
	if err != nil {
		return nil, err
	}

	loader := module.NewFileLoader(module.FileLoaderOptions{
		BaseDir:    settings.Loader.BaseDir,
		Extensions: settings.Loader.Extensions,
	})
	registry, err := reload.New(reload.Options{
		Watch:           fsWatcher,
		Fallback:        loader,
		Logger:          logger,
		Metrics:         registryMetrics,
		ContinueOnError: settings.Reload.ContinueOnError,
		HistorySize:     int(settings.Reload.HistorySize),
	})
	if err != nil {
		_ = fsWatcher.Close()
		return nil, err
	}

	return &daemon{
		logger:   logger.Category("daemon"),
		metrics:  registryMetrics,
		watcher:  fsWatcher,
		loader:   loader,
		registry: registry,
		modules:  make(map[string]*module.Exports),
	}, nil
}

// Register loads specifier once and keeps it reloaded on every change.
func (d *daemon) Register(specifier string) error {
	specifier = strings.TrimSpace(specifier)
	members, err := d.loader.Load(specifier)
	if err != nil {
		return err
	}
	exports := module.NewExports(members)

	err = d.registry.WatchReload(specifier, d.loader, exports, "", func() {
		d.logReloaded(specifier, exports)
	})
	if err != nil {
		return err
	}

	d.mu.Lock()
	if _, exists := d.modules[specifier]; !exists {
		d.order = append(d.order, specifier)
	}
	d.modules[specifier] = exports
	d.mu.Unlock()

	d.logger.Info("module watched", map[string]string{
		logging.FieldModule: specifier,
		"members":           strconv.Itoa(exports.Len()),
	})
	return nil
}

// Reload forces a reload of a registered module.
func (d *daemon) Reload(ctx context.Context, specifier string) error {
	specifier = strings.TrimSpace(specifier)
	d.mu.RLock()
	exports, ok := d.modules[specifier]
	d.mu.RUnlock()
	if !ok {
		return &module.ResolveError{Specifier: specifier, Err: module.ErrModuleNotFound}
	}
	return d.registry.ReloadModule(ctx, specifier, d.loader, exports, "", func() {
		d.logReloaded(specifier, exports)
	})
}

// Exports returns the export object for a registered module.
func (d *daemon) Exports(specifier string) (*module.Exports, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	exports, ok := d.modules[specifier]
	return exports, ok
}

func (d *daemon) Modules() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]string(nil), d.order...)
}

func (d *daemon) Close(context.Context) error {
	return errors.Join(d.registry.Close(), d.watcher.Close())
}

func (d *daemon) logReloaded(specifier string, exports *module.Exports) {
	d.logger.Info("module reloaded", map[string]string{
		logging.FieldModule: specifier,
		"keys":              strings.Join(exports.Keys(), ","),
	})
}
