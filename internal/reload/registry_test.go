package reload

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"watchreload/internal/module"

	"github.com/fsnotify/fsnotify"
)

func TestWatchReloadDeduplicatesTargets(t *testing.T) {
	h := newHarness(t, nil)
	resolved := h.loader.write("config.yaml", map[string]any{"a": 1})
	exports := module.NewExports(nil)

	for i := 0; i < 2; i++ {
		if err := h.registry.WatchReload("./config.yaml", h.loader, exports, "", nil); err != nil {
			t.Fatalf("watch reload: %v", err)
		}
	}
	// An absolute specifier for the same file is still the same target.
	if err := h.registry.WatchReload(resolved, h.loader, exports, "", nil); err != nil {
		t.Fatalf("watch reload absolute: %v", err)
	}

	if got := len(h.registry.Targets(resolved)); got != 1 {
		t.Fatalf("expected 1 target, got %d", got)
	}
	if got := h.watch.installCount(resolved); got != 1 {
		t.Fatalf("expected 1 watch, got %d", got)
	}
}

func TestWatchReloadDistinguishesSubModules(t *testing.T) {
	h := newHarness(t, nil)
	resolved := h.loader.write("config.yaml", map[string]any{"a": 1})
	exports := module.NewExports(map[string]any{"sub": module.NewExports(nil)})

	for _, sub := range []string{"", "sub", ExportsSentinel} {
		if err := h.registry.WatchReload("config.yaml", h.loader, exports, sub, nil); err != nil {
			t.Fatalf("watch reload %q: %v", sub, err)
		}
	}

	if got := len(h.registry.Targets(resolved)); got != 3 {
		t.Fatalf("expected 3 targets, got %d", got)
	}
}

func TestSingleWatchAcrossTargetsAndListeners(t *testing.T) {
	h := newHarness(t, nil)
	resolved := h.loader.write("config.yaml", map[string]any{"a": 1})

	if _, err := h.registry.On("config.yaml", h.loader, func() {}); err != nil {
		t.Fatalf("on: %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := h.registry.WatchReload("config.yaml", h.loader, module.NewExports(nil), "", nil); err != nil {
			t.Fatalf("watch reload: %v", err)
		}
	}
	if _, err := h.registry.On("./config.yaml", h.loader, func() {}); err != nil {
		t.Fatalf("on: %v", err)
	}

	if got := h.watch.installCount(resolved); got != 1 {
		t.Fatalf("expected 1 watch, got %d", got)
	}
	if watched := h.registry.Watched(); len(watched) != 1 || watched[0] != resolved {
		t.Fatalf("expected [%s], got %v", resolved, watched)
	}
}

func TestChangeMergesIntoExports(t *testing.T) {
	h := newHarness(t, nil)
	resolved := h.loader.write("config.yaml", map[string]any{"b": 20, "c": 3})
	exports := module.NewExports(map[string]any{"a": 1, "b": 2})
	original := exports

	if err := h.registry.WatchReload("config.yaml", h.loader, exports, "", nil); err != nil {
		t.Fatalf("watch reload: %v", err)
	}
	h.watch.fire(resolved)

	if exports != original {
		t.Fatalf("expected exports identity to be preserved")
	}
	snapshot := exports.Snapshot()
	want := map[string]any{"a": 1, "b": 20, "c": 3}
	if len(snapshot) != len(want) {
		t.Fatalf("expected %v, got %v", want, snapshot)
	}
	for key, value := range want {
		if snapshot[key] != value {
			t.Fatalf("expected %s=%v, got %v", key, value, snapshot[key])
		}
	}
}

func TestChangeMergesIntoSubModule(t *testing.T) {
	h := newHarness(t, nil)
	resolved := h.loader.write("config.yaml", map[string]any{"x": 1})
	sub := module.NewExports(nil)
	exports := module.NewExports(map[string]any{"sub": sub})

	if err := h.registry.WatchReload("config.yaml", h.loader, exports, "sub", nil); err != nil {
		t.Fatalf("watch reload: %v", err)
	}
	h.watch.fire(resolved)

	if value, ok := sub.Get("x"); !ok || value != 1 {
		t.Fatalf("expected sub.x=1, got %v (ok=%v)", value, ok)
	}
	if _, ok := exports.Get("x"); ok {
		t.Fatalf("expected no top-level x")
	}
}

func TestTargetsRunInRegistrationOrder(t *testing.T) {
	h := newHarness(t, nil)
	resolved := h.loader.write("config.yaml", map[string]any{"v": 2})
	first := module.NewExports(nil)
	second := module.NewExports(nil)

	var calls []string
	if err := h.registry.WatchReload("config.yaml", h.loader, first, "", func() {
		if _, ok := second.Get("v"); ok {
			t.Errorf("second target merged before first callback")
		}
		calls = append(calls, "first")
	}); err != nil {
		t.Fatalf("watch reload first: %v", err)
	}
	if err := h.registry.WatchReload("config.yaml", h.loader, second, "", func() {
		calls = append(calls, "second")
	}); err != nil {
		t.Fatalf("watch reload second: %v", err)
	}
	if _, err := h.registry.On("config.yaml", h.loader, func() {
		if first.Len() == 0 || second.Len() == 0 {
			t.Errorf("listener ran before all merges completed")
		}
		calls = append(calls, "listener")
	}); err != nil {
		t.Fatalf("on: %v", err)
	}

	h.watch.fire(resolved)

	if strings.Join(calls, ",") != "first,second,listener" {
		t.Fatalf("expected first,second,listener, got %v", calls)
	}
}

func TestListenerFiresWithoutTargets(t *testing.T) {
	h := newHarness(t, nil)
	resolved := h.loader.write("config.yaml", map[string]any{"a": 1})

	fired := 0
	if _, err := h.registry.On("config.yaml", h.loader, func() { fired++ }); err != nil {
		t.Fatalf("on: %v", err)
	}
	h.watch.fire(resolved)
	h.watch.fire(resolved)

	if fired != 2 {
		t.Fatalf("expected 2 notifications, got %d", fired)
	}
	if got := h.loader.loadCount(); got != 2 {
		t.Fatalf("expected listener loader to reload twice, got %d", got)
	}
	if got := h.fallback.loadCount(); got != 0 {
		t.Fatalf("expected fallback to stay unused, got %d loads", got)
	}
	if len(h.errs) != 0 {
		t.Fatalf("expected no errors, got %v", h.errs)
	}
}

func TestOffStopsNotifications(t *testing.T) {
	h := newHarness(t, nil)
	resolved := h.loader.write("config.yaml", map[string]any{"a": 1})

	fired := 0
	id, err := h.registry.On("config.yaml", h.loader, func() { fired++ })
	if err != nil {
		t.Fatalf("on: %v", err)
	}
	if err := h.registry.Off("config.yaml", h.loader, id); err != nil {
		t.Fatalf("off: %v", err)
	}
	if err := h.registry.Off("config.yaml", h.loader, id); err != nil {
		t.Fatalf("second off: %v", err)
	}
	h.watch.fire(resolved)

	if fired != 0 {
		t.Fatalf("expected removed listener not to fire, got %d", fired)
	}
	if got := h.watch.installCount(resolved); got != 1 {
		t.Fatalf("expected watch to persist after off, got %d installs", got)
	}
	if watched := h.registry.Watched(); len(watched) != 1 {
		t.Fatalf("expected path to stay watched, got %v", watched)
	}
}

func TestChangePurgesCacheForManualReload(t *testing.T) {
	h := newHarness(t, nil)
	resolved := h.loader.write("config.yaml", map[string]any{"v": 1})
	if _, err := h.loader.Load("config.yaml"); err != nil {
		t.Fatalf("warm cache: %v", err)
	}
	if _, err := h.registry.On("config.yaml", h.loader, func() {}); err != nil {
		t.Fatalf("on: %v", err)
	}

	h.loader.write("config.yaml", map[string]any{"v": 2})
	if cached, _ := h.loader.Load("config.yaml"); cached["v"] != 1 {
		t.Fatalf("expected stale cached value before change, got %v", cached["v"])
	}
	h.watch.fire(resolved)

	if cached, _ := h.loader.Load("config.yaml"); cached["v"] != 2 {
		t.Fatalf("expected change to purge the cache, got %v", cached["v"])
	}
	exports := module.NewExports(nil)
	if err := h.registry.ReloadModule(context.Background(), "config.yaml", h.loader, exports, "", nil); err != nil {
		t.Fatalf("reload module: %v", err)
	}
	if value, _ := exports.Get("v"); value != 2 {
		t.Fatalf("expected fresh value 2, got %v", value)
	}
}

func TestFirstFailureAbortsRemainingTargets(t *testing.T) {
	h := newHarness(t, nil)
	resolved := h.loader.write("config.yaml", map[string]any{"v": 1})
	broken := newFakeLoader()
	broken.write("config.yaml", nil)
	broken.failWith("config.yaml", errors.New("syntax error"))

	second := module.NewExports(nil)
	notified := false
	if err := h.registry.WatchReload("config.yaml", broken, module.NewExports(nil), "", nil); err != nil {
		t.Fatalf("watch reload broken: %v", err)
	}
	if err := h.registry.WatchReload("config.yaml", h.loader, second, "", nil); err != nil {
		t.Fatalf("watch reload second: %v", err)
	}
	if _, err := h.registry.On("config.yaml", h.loader, func() { notified = true }); err != nil {
		t.Fatalf("on: %v", err)
	}

	h.watch.fire(resolved)

	if second.Len() != 0 {
		t.Fatalf("expected second target to be skipped, got %v", second.Snapshot())
	}
	if notified {
		t.Fatalf("expected listener not to run after a failure")
	}
	if len(h.errs) != 1 {
		t.Fatalf("expected 1 reported error, got %d", len(h.errs))
	}
	var loadErr *module.LoadError
	if !errors.As(h.errs[0], &loadErr) || !strings.Contains(h.errs[0].Error(), `"config.yaml"`) {
		t.Fatalf("expected load error naming the module, got %v", h.errs[0])
	}
}

func TestContinueOnErrorIsolatesTargets(t *testing.T) {
	h := newHarness(t, func(options *Options) {
		options.ContinueOnError = true
	})
	resolved := h.loader.write("config.yaml", map[string]any{"v": 1})
	broken := newFakeLoader()
	broken.write("config.yaml", nil)
	broken.failWith("config.yaml", errors.New("syntax error"))

	second := module.NewExports(nil)
	notified := false
	if err := h.registry.WatchReload("config.yaml", broken, module.NewExports(nil), "", nil); err != nil {
		t.Fatalf("watch reload broken: %v", err)
	}
	if err := h.registry.WatchReload("config.yaml", h.loader, second, "", nil); err != nil {
		t.Fatalf("watch reload second: %v", err)
	}
	if _, err := h.registry.On("config.yaml", h.loader, func() { notified = true }); err != nil {
		t.Fatalf("on: %v", err)
	}

	h.watch.fire(resolved)

	if value, _ := second.Get("v"); value != 1 {
		t.Fatalf("expected second target to reload, got %v", second.Snapshot())
	}
	if !notified {
		t.Fatalf("expected listener to run")
	}
	if len(h.errs) != 1 {
		t.Fatalf("expected 1 reported error, got %d", len(h.errs))
	}
}

func TestResolutionFailurePropagates(t *testing.T) {
	h := newHarness(t, nil)

	err := h.registry.WatchReload("missing.yaml", h.loader, module.NewExports(nil), "", nil)
	if !errors.Is(err, module.ErrModuleNotFound) {
		t.Fatalf("expected ErrModuleNotFound, got %v", err)
	}
	if _, err := h.registry.On("missing.yaml", h.loader, func() {}); !errors.Is(err, module.ErrModuleNotFound) {
		t.Fatalf("expected ErrModuleNotFound from On, got %v", err)
	}
	if err := h.registry.Off("missing.yaml", h.loader, 1); !errors.Is(err, module.ErrModuleNotFound) {
		t.Fatalf("expected ErrModuleNotFound from Off, got %v", err)
	}
	if watched := h.registry.Watched(); len(watched) != 0 {
		t.Fatalf("expected nothing watched, got %v", watched)
	}
}

func TestWatchFailurePropagatesAndRetries(t *testing.T) {
	h := newHarness(t, nil)
	resolved := h.loader.write("config.yaml", map[string]any{"a": 1})
	h.watch.fail = errors.New("too many open files")

	exports := module.NewExports(nil)
	if err := h.registry.WatchReload("config.yaml", h.loader, exports, "", nil); err == nil {
		t.Fatalf("expected watch failure to propagate")
	}
	if len(h.registry.Targets(resolved)) != 0 {
		t.Fatalf("expected no target after failed watch")
	}
	if _, err := h.registry.On("config.yaml", h.loader, func() {}); err == nil {
		t.Fatalf("expected watch failure to propagate from On")
	}
	if h.registry.ListenerCount(resolved) != 0 {
		t.Fatalf("expected listener rolled back after failed watch")
	}

	h.watch.fail = nil
	if err := h.registry.WatchReload("config.yaml", h.loader, exports, "", nil); err != nil {
		t.Fatalf("watch reload retry: %v", err)
	}
	if got := h.watch.installCount(resolved); got != 1 {
		t.Fatalf("expected 1 watch after retry, got %d", got)
	}
}

func TestNilExportsStillRunsCallback(t *testing.T) {
	h := newHarness(t, nil)
	resolved := h.loader.write("config.yaml", map[string]any{"a": 1})

	called := 0
	if err := h.registry.WatchReload("config.yaml", h.loader, nil, "", func() { called++ }); err != nil {
		t.Fatalf("watch reload: %v", err)
	}
	h.watch.fire(resolved)

	if called != 1 {
		t.Fatalf("expected callback once, got %d", called)
	}
	if len(h.errs) != 0 {
		t.Fatalf("expected no errors, got %v", h.errs)
	}
}

func TestLoaderIsRequired(t *testing.T) {
	h := newHarness(t, nil)
	if err := h.registry.WatchReload("config.yaml", nil, nil, "", nil); !errors.Is(err, ErrLoaderRequired) {
		t.Fatalf("expected ErrLoaderRequired, got %v", err)
	}
	if _, err := h.registry.On("config.yaml", nil, func() {}); !errors.Is(err, ErrLoaderRequired) {
		t.Fatalf("expected ErrLoaderRequired, got %v", err)
	}
	if err := h.registry.ReloadModule(context.Background(), "config.yaml", nil, nil, "", nil); !errors.Is(err, ErrLoaderRequired) {
		t.Fatalf("expected ErrLoaderRequired, got %v", err)
	}
}

func TestNotificationsAreStreamedAndRecorded(t *testing.T) {
	h := newHarness(t, nil)
	resolved := h.loader.write("config.yaml", map[string]any{"a": 1})
	if err := h.registry.WatchReload("config.yaml", h.loader, module.NewExports(nil), "", nil); err != nil {
		t.Fatalf("watch reload: %v", err)
	}

	stream, cancel := h.registry.Subscribe()
	defer cancel()
	h.watch.fire(resolved)

	select {
	case notification := <-stream:
		if notification.Path != resolved || notification.Targets != 1 || notification.Op != "WRITE" {
			t.Fatalf("unexpected notification %+v", notification)
		}
		if len(notification.ID) != 26 {
			t.Fatalf("expected a ULID notification id, got %q", notification.ID)
		}
	default:
		t.Fatalf("expected a streamed notification")
	}
	if history := h.registry.History(); len(history) != 1 || history[0].Path != resolved {
		t.Fatalf("expected history with one notification, got %v", history)
	}
}

func TestClosedRegistryRejectsRegistration(t *testing.T) {
	h := newHarness(t, nil)
	h.loader.write("config.yaml", map[string]any{"a": 1})
	if err := h.registry.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	if err := h.registry.WatchReload("config.yaml", h.loader, module.NewExports(nil), "", nil); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if _, err := h.registry.On("config.yaml", h.loader, func() {}); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed from On, got %v", err)
	}
}

func TestChangePurgesListenerLoaderCache(t *testing.T) {
	h := newHarness(t, nil)
	own := newFakeLoader()
	resolved := own.write("config.yaml", map[string]any{"v": 1})
	if _, err := own.Load("config.yaml"); err != nil {
		t.Fatalf("warm cache: %v", err)
	}

	var seen any
	if _, err := h.registry.On("config.yaml", own, func() {
		members, err := own.Load("config.yaml")
		if err != nil {
			t.Errorf("listener load: %v", err)
			return
		}
		seen = members["v"]
	}); err != nil {
		t.Fatalf("on: %v", err)
	}
	// A second registration with the same loader is purged once.
	if _, err := h.registry.On("./config.yaml", own, func() {}); err != nil {
		t.Fatalf("on: %v", err)
	}

	own.write("config.yaml", map[string]any{"v": 2})
	h.watch.fire(resolved)

	if seen != 2 {
		t.Fatalf("expected listener to read v=2 after the change, got %v", seen)
	}
	if got := own.invalidationCount(); got != 1 {
		t.Fatalf("expected 1 invalidation of the listener loader, got %d", got)
	}
	if got := h.fallback.invalidationCount(); got != 1 {
		t.Fatalf("expected fallback to be purged too, got %d", got)
	}
	if len(h.errs) != 0 {
		t.Fatalf("expected no errors, got %v", h.errs)
	}
}

func TestBareReloadUsesListenerLoader(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.ini")
	if err := os.WriteFile(path, []byte("name=demo\n"), 0o600); err != nil {
		t.Fatalf("write file: %v", err)
	}
	ini := module.NewFileLoader(module.FileLoaderOptions{
		BaseDir: dir,
		Codecs: map[string]module.Codec{
			".ini": func(data []byte) (map[string]any, error) {
				members := make(map[string]any)
				for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
					if key, value, ok := strings.Cut(line, "="); ok {
						members[key] = value
					}
				}
				return members, nil
			},
		},
	})

	h := newHarness(t, func(options *Options) {
		options.Fallback = module.NewFileLoader(module.FileLoaderOptions{BaseDir: dir})
	})
	fired := 0
	if _, err := h.registry.On("app.ini", ini, func() { fired++ }); err != nil {
		t.Fatalf("on: %v", err)
	}
	resolved, err := ini.Resolve("app.ini")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	h.watch.fire(resolved)

	if fired != 1 {
		t.Fatalf("expected listener to fire once, got %d (errs=%v)", fired, h.errs)
	}
	if len(h.errs) != 0 {
		t.Fatalf("expected no errors, got %v", h.errs)
	}
	if !ini.Cached(resolved) {
		t.Fatalf("expected listener loader cache to be warm after the reload")
	}
}

func TestDeletedFileKeepsExportsAndReportsError(t *testing.T) {
	h := newHarness(t, nil)
	resolved := h.loader.write("config.yaml", map[string]any{"v": 1})
	exports := module.NewExports(map[string]any{"v": 1})

	called := 0
	notified := 0
	if err := h.registry.WatchReload("config.yaml", h.loader, exports, "", func() { called++ }); err != nil {
		t.Fatalf("watch reload: %v", err)
	}
	if _, err := h.registry.On("config.yaml", h.loader, func() { notified++ }); err != nil {
		t.Fatalf("on: %v", err)
	}

	h.loader.remove("config.yaml")
	h.watch.fireOp(resolved, fsnotify.Remove)

	if value, _ := exports.Get("v"); value != 1 {
		t.Fatalf("expected exports to keep v=1, got %v", value)
	}
	if called != 0 || notified != 0 {
		t.Fatalf("expected no callback or listener, got callback=%d listener=%d", called, notified)
	}
	if len(h.errs) != 1 || !errors.Is(h.errs[0], module.ErrModuleNotFound) {
		t.Fatalf("expected one ErrModuleNotFound report, got %v", h.errs)
	}
	if watched := h.registry.Watched(); len(watched) != 1 || watched[0] != resolved {
		t.Fatalf("expected path to stay watched, got %v", watched)
	}

	h.loader.write("config.yaml", map[string]any{"v": 3})
	h.watch.fireOp(resolved, fsnotify.Create)
	if value, _ := exports.Get("v"); value != 3 {
		t.Fatalf("expected recreated file to reload, got %v", value)
	}
	if notified != 1 {
		t.Fatalf("expected listener after recreation, got %d", notified)
	}
}
