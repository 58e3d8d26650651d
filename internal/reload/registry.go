package reload

import (
	"context"
	"errors"
	"reflect"
	"sort"
	"sync"

	"watchreload/internal/event"
	"watchreload/internal/logging"
	"watchreload/internal/metrics"
	"watchreload/internal/module"
	"watchreload/internal/watcher"
)

const defaultHistorySize = 100

// Registry owns the watch set, the per-path target lists and the
// notification bus. Create one with New at startup and pass it to every
// registration site.
type Registry struct {
	watch        watcher.Watch
	ownedWatcher *watcher.Watcher
	fallback     module.Loader
	logger       *logging.Logger
	metrics      *metrics.Registry
	errorHandler func(error)
	isolate      bool
	bus          *event.Bus[Notification]

	// watchMu serialises watch installation so each path gets one watch.
	watchMu sync.Mutex

	mu      sync.Mutex
	closed  bool
	watched map[string]watcher.Handle
	targets map[string][]Target
	// listenerLoaders holds the distinct loaders passed to On, per path.
	// Entries outlive Off like the watch itself.
	listenerLoaders map[string][]module.Loader
}

func New(options Options) (*Registry, error) {
	logger := options.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	registryMetrics := options.Metrics
	if registryMetrics == nil {
		registryMetrics = metrics.Default
	}
	fallback := options.Fallback
	if fallback == nil {
		fallback = module.NewFileLoader(module.FileLoaderOptions{})
	}
	historySize := options.HistorySize
	if historySize <= 0 {
		historySize = defaultHistorySize
	}

	registry := &Registry{
		watch:        options.Watch,
		fallback:     fallback,
		logger:       logger.Category("reload"),
		metrics:      registryMetrics,
		errorHandler: options.ErrorHandler,
		isolate:      options.ContinueOnError,
		watched:      make(map[string]watcher.Handle),
		targets:      make(map[string][]Target),

		listenerLoaders: make(map[string][]module.Loader),
	}
	if registry.watch == nil {
		owned, err := watcher.NewWithOptions(watcher.Options{Logger: logger})
		if err != nil {
			return nil, err
		}
		registry.watch = owned
		registry.ownedWatcher = owned
	}
	registry.bus = event.NewBus[Notification](context.Background(), event.BusOptions{
		Name:        "reloads",
		HistorySize: historySize,
		Registry:    registryMetrics,
	})
	return registry, nil
}

// WatchReload registers exports to receive the members of sourcePath every
// time the file changes. Registering the same (module, exports, subModule)
// again is a no-op; the first registration's callback is kept.
func (r *Registry) WatchReload(sourcePath string, loader module.Loader, exports *module.Exports, subModule string, onReload func()) error {
	if loader == nil {
		return ErrLoaderRequired
	}
	resolved, err := loader.Resolve(sourcePath)
	if err != nil {
		return err
	}
	if r.hasTarget(resolved, exports, subModule) {
		return nil
	}
	if err := r.ensureWatch(resolved); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.targets[resolved] {
		if existing.sameAs(resolved, exports, subModule) {
			return nil
		}
	}
	r.targets[resolved] = append(r.targets[resolved], Target{
		SourcePath:   sourcePath,
		ResolvedPath: resolved,
		Loader:       loader,
		Exports:      exports,
		SubModule:    subModule,
		OnReload:     onReload,
	})
	r.logger.Debug("reload target registered", map[string]string{
		logging.FieldModule: sourcePath,
		logging.FieldPath:   resolved,
	})
	return nil
}

// On registers listener to run after every reload of sourcePath, whether or
// not any export targets are registered for it.
func (r *Registry) On(sourcePath string, loader module.Loader, listener func()) (ListenerID, error) {
	if loader == nil {
		return 0, ErrLoaderRequired
	}
	if listener == nil {
		return 0, errors.New("listener is required")
	}
	resolved, err := loader.Resolve(sourcePath)
	if err != nil {
		return 0, err
	}
	id := r.bus.On(resolved, func(Notification) {
		listener()
	})
	if id == 0 {
		return 0, ErrClosed
	}
	if err := r.ensureWatch(resolved); err != nil {
		r.bus.Off(resolved, id)
		return 0, err
	}
	r.addListenerLoader(resolved, loader)
	return id, nil
}

// Off removes a listener registered with On. Unknown ids are ignored. The
// path's watch and reload targets are left in place.
func (r *Registry) Off(sourcePath string, loader module.Loader, id ListenerID) error {
	if loader == nil {
		return ErrLoaderRequired
	}
	resolved, err := loader.Resolve(sourcePath)
	if err != nil {
		return err
	}
	r.bus.Off(resolved, id)
	return nil
}

// Subscribe streams every reload notification. Delivery is best-effort.
func (r *Registry) Subscribe() (<-chan Notification, func()) {
	return r.bus.Subscribe()
}

// History returns recent notifications, oldest first.
func (r *Registry) History() []Notification {
	return r.bus.DumpHistory()
}

// Watched returns the watched paths in sorted order.
func (r *Registry) Watched() []string {
	r.mu.Lock()
	paths := make([]string, 0, len(r.watched))
	for path := range r.watched {
		paths = append(paths, path)
	}
	r.mu.Unlock()
	sort.Strings(paths)
	return paths
}

// Targets returns a copy of the targets registered for resolvedPath.
func (r *Registry) Targets(resolvedPath string) []Target {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Target(nil), r.targets[resolvedPath]...)
}

// ListenerLoaders returns the loaders registered through On for
// resolvedPath, in first-registration order.
func (r *Registry) ListenerLoaders(resolvedPath string) []module.Loader {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]module.Loader(nil), r.listenerLoaders[resolvedPath]...)
}

// ListenerCount reports the bus listeners registered for resolvedPath.
func (r *Registry) ListenerCount(resolvedPath string) int {
	return r.bus.ListenerCount(resolvedPath)
}

// Close releases every watch and the notification bus. Registrations made
// after Close fail.
func (r *Registry) Close() error {
	r.watchMu.Lock()
	defer r.watchMu.Unlock()

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	handles := r.watched
	r.watched = make(map[string]watcher.Handle)
	r.mu.Unlock()

	r.bus.Close()

	var errs []error
	for _, handle := range handles {
		if handle == nil {
			continue
		}
		if err := handle.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if r.ownedWatcher != nil {
		if err := r.ownedWatcher.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ensureWatch installs the watch for resolvedPath once for the registry's
// lifetime.
func (r *Registry) ensureWatch(resolvedPath string) error {
	r.watchMu.Lock()
	defer r.watchMu.Unlock()

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrClosed
	}
	if _, ok := r.watched[resolvedPath]; ok {
		r.mu.Unlock()
		return nil
	}
	r.mu.Unlock()

	handle, err := r.watch.Watch(resolvedPath, func(change watcher.Change) {
		if err := r.handleChange(context.Background(), resolvedPath, change); err != nil {
			r.reportError(resolvedPath, err)
		}
	})
	if err != nil {
		r.logger.Warn("watch install failed", map[string]string{
			logging.FieldPath:  resolvedPath,
			logging.FieldError: err.Error(),
		})
		return err
	}

	r.mu.Lock()
	r.watched[resolvedPath] = handle
	r.mu.Unlock()
	r.metrics.IncWatchInstalled()
	r.logger.Debug("watch installed", map[string]string{
		logging.FieldPath: resolvedPath,
	})
	return nil
}

func (r *Registry) addListenerLoader(resolvedPath string, loader module.Loader) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.listenerLoaders[resolvedPath] {
		if sameLoader(existing, loader) {
			return
		}
	}
	r.listenerLoaders[resolvedPath] = append(r.listenerLoaders[resolvedPath], loader)
}

// sameLoader compares loaders by identity. A loader with a non-comparable
// dynamic type never matches.
func sameLoader(a, b module.Loader) bool {
	typ := reflect.TypeOf(a)
	if typ == nil || typ != reflect.TypeOf(b) || !typ.Comparable() {
		return false
	}
	return a == b
}

func (r *Registry) hasTarget(resolvedPath string, exports *module.Exports, subModule string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.targets[resolvedPath] {
		if existing.sameAs(resolvedPath, exports, subModule) {
			return true
		}
	}
	return false
}

func (r *Registry) reportError(resolvedPath string, err error) {
	r.logger.Error("reload failed", map[string]string{
		logging.FieldPath:  resolvedPath,
		logging.FieldError: err.Error(),
	})
	if r.errorHandler != nil {
		r.errorHandler(err)
	}
}
