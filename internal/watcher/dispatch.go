package watcher

import (
	"path/filepath"
	"time"

	"watchreload/internal/fsutil"
	"watchreload/internal/logging"

	"github.com/fsnotify/fsnotify"
)

func (watcher *Watcher) handleEvent(event fsnotify.Event) {
	path := filepath.Clean(event.Name)

	watcher.mutex.Lock()
	if watcher.closed {
		watcher.mutex.Unlock()
		return
	}
	entries := watcher.callbacks[path]
	if len(entries) == 0 {
		watcher.mutex.Unlock()
		return
	}
	callbacks := make([]func(Change), 0, len(entries))
	for _, entry := range entries {
		callbacks = append(callbacks, entry.callback)
	}
	prev := watcher.stats[path]
	curr, err := fsutil.Stat(path)
	if err != nil {
		watcher.mutex.Unlock()
		watcher.logWarn("stat failed", map[string]string{
			logging.FieldPath:  path,
			logging.FieldError: err.Error(),
		})
		return
	}
	watcher.stats[path] = curr
	watcher.mutex.Unlock()

	change := Change{
		Path:      path,
		Op:        event.Op,
		Prev:      prev,
		Curr:      curr,
		Timestamp: time.Now().UTC(),
	}
	for _, callback := range callbacks {
		callback(change)
		watcher.eventsDelivered.Add(1)
	}
}
