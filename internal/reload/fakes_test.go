package reload

import (
	"path"
	"strings"
	"sync"
	"testing"
	"time"

	"watchreload/internal/logging"
	"watchreload/internal/metrics"
	"watchreload/internal/module"
	"watchreload/internal/watcher"

	"github.com/fsnotify/fsnotify"
)

type fakeWatch struct {
	mu        sync.Mutex
	installs  map[string]int
	callbacks map[string][]func(watcher.Change)
	fail      error
}

func newFakeWatch() *fakeWatch {
	return &fakeWatch{
		installs:  make(map[string]int),
		callbacks: make(map[string][]func(watcher.Change)),
	}
}

type fakeHandle struct{}

func (fakeHandle) Close() error { return nil }

func (f *fakeWatch) Watch(resolved string, callback func(watcher.Change)) (watcher.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return nil, f.fail
	}
	f.installs[resolved]++
	f.callbacks[resolved] = append(f.callbacks[resolved], callback)
	return fakeHandle{}, nil
}

func (f *fakeWatch) installCount(resolved string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.installs[resolved]
}

// fire delivers one write event for resolved, synchronously.
func (f *fakeWatch) fire(resolved string) {
	f.fireOp(resolved, fsnotify.Write)
}

func (f *fakeWatch) fireOp(resolved string, op fsnotify.Op) {
	f.mu.Lock()
	callbacks := append([]func(watcher.Change){}, f.callbacks[resolved]...)
	f.mu.Unlock()
	for _, callback := range callbacks {
		callback(watcher.Change{Path: resolved, Op: op, Timestamp: time.Now().UTC()})
	}
}

// fakeLoader serves in-memory modules under /mods with a require-style cache.
type fakeLoader struct {
	mu            sync.Mutex
	files         map[string]map[string]any
	cache         map[string]map[string]any
	failures      map[string]error
	loads         int
	invalidations int
}

func newFakeLoader() *fakeLoader {
	return &fakeLoader{
		files:    make(map[string]map[string]any),
		cache:    make(map[string]map[string]any),
		failures: make(map[string]error),
	}
}

func modPath(name string) string {
	return path.Join("/mods", strings.TrimPrefix(name, "./"))
}

func (l *fakeLoader) write(name string, members map[string]any) string {
	l.mu.Lock()
	defer l.mu.Unlock()
	resolved := modPath(name)
	l.files[resolved] = members
	return resolved
}

// remove deletes the backing file but leaves any cached members in place.
func (l *fakeLoader) remove(name string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.files, modPath(name))
}

func (l *fakeLoader) failWith(name string, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failures[modPath(name)] = err
}

func (l *fakeLoader) Resolve(specifier string) (string, error) {
	resolved := specifier
	if !strings.HasPrefix(specifier, "/") {
		resolved = modPath(specifier)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.files[resolved]; !ok {
		return "", &module.ResolveError{Specifier: specifier, Err: module.ErrModuleNotFound}
	}
	return resolved, nil
}

func (l *fakeLoader) Load(specifier string) (map[string]any, error) {
	resolved, err := l.Resolve(specifier)
	if err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.failures[resolved]; err != nil {
		return nil, &module.LoadError{Path: resolved, Err: err}
	}
	if cached, ok := l.cache[resolved]; ok {
		return cached, nil
	}
	l.loads++
	members := make(map[string]any, len(l.files[resolved]))
	for key, value := range l.files[resolved] {
		members[key] = value
	}
	l.cache[resolved] = members
	return members, nil
}

func (l *fakeLoader) Invalidate(resolved string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.invalidations++
	delete(l.cache, resolved)
}

func (l *fakeLoader) invalidationCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.invalidations
}

func (l *fakeLoader) loadCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.loads
}

// harness wires a registry to a fake watch. loader is what tests register
// with; fallback is a separate, empty loader so nothing leans on it by
// accident.
type harness struct {
	registry *Registry
	watch    *fakeWatch
	loader   *fakeLoader
	fallback *fakeLoader
	errs     []error
}

func newHarness(t *testing.T, configure func(*Options)) *harness {
	t.Helper()
	h := &harness{watch: newFakeWatch(), loader: newFakeLoader(), fallback: newFakeLoader()}
	options := Options{
		Watch:    h.watch,
		Fallback: h.fallback,
		Logger:   logging.Discard(),
		Metrics:  &metrics.Registry{},
		ErrorHandler: func(err error) {
			h.errs = append(h.errs, err)
		},
	}
	if configure != nil {
		configure(&options)
	}
	registry, err := New(options)
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	t.Cleanup(func() {
		_ = registry.Close()
	})
	h.registry = registry
	return h
}
