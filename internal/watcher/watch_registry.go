package watcher

import (
	"errors"
	"path/filepath"
	"sync"

	"watchreload/internal/fsutil"
	"watchreload/internal/logging"
)

type callbackEntry struct {
	id       uint64
	callback func(Change)
}

type watchHandle struct {
	watcher *Watcher
	path    string
	id      uint64
	once    sync.Once
}

func (handle *watchHandle) Close() error {
	if handle == nil || handle.watcher == nil {
		return nil
	}
	var err error
	handle.once.Do(func() {
		err = handle.watcher.removeCallback(handle.path, handle.id)
	})
	return err
}

// Watch registers callback for changes to path. The file itself need not
// exist, but its parent directory must.
func (watcher *Watcher) Watch(path string, callback func(Change)) (Handle, error) {
	if watcher == nil {
		return nil, errors.New("watcher is nil")
	}
	if path == "" {
		return nil, errors.New("path is required")
	}
	if callback == nil {
		return nil, errors.New("callback is required")
	}
	path = filepath.Clean(path)
	dir := filepath.Dir(path)

	watcher.addMutex.Lock()
	defer watcher.addMutex.Unlock()

	watcher.mutex.Lock()
	if watcher.closed {
		watcher.mutex.Unlock()
		return nil, ErrClosed
	}
	needsAdd := watcher.dirs[dir] == 0
	source := watcher.watcher
	watcher.mutex.Unlock()

	if needsAdd {
		if err := source.Add(dir); err != nil {
			watcher.logWarn("watch add failed", map[string]string{
				logging.FieldPath:  dir,
				logging.FieldError: err.Error(),
			})
			return nil, err
		}
	}

	initial, err := fsutil.Stat(path)
	if err != nil {
		initial = fsutil.FileStat{}
	}

	watcher.mutex.Lock()
	watcher.nextID++
	entry := callbackEntry{id: watcher.nextID, callback: callback}
	if len(watcher.callbacks[path]) == 0 {
		watcher.dirs[dir]++
		watcher.stats[path] = initial
	}
	watcher.callbacks[path] = append(watcher.callbacks[path], entry)
	activeDirs := len(watcher.dirs)
	watcher.mutex.Unlock()

	if needsAdd {
		watcher.logDebug("watch added", dir, activeDirs)
	}
	return &watchHandle{watcher: watcher, path: path, id: entry.id}, nil
}

func (watcher *Watcher) removeCallback(path string, id uint64) error {
	watcher.mutex.Lock()
	callbacks := watcher.callbacks[path]
	remaining := make([]callbackEntry, 0, len(callbacks))
	for _, candidate := range callbacks {
		if candidate.id != id {
			remaining = append(remaining, candidate)
		}
	}
	if len(remaining) == len(callbacks) {
		watcher.mutex.Unlock()
		return nil
	}

	dir := filepath.Dir(path)
	removeDir := false
	if len(remaining) == 0 {
		delete(watcher.callbacks, path)
		delete(watcher.stats, path)
		watcher.dirs[dir]--
		if watcher.dirs[dir] <= 0 {
			delete(watcher.dirs, dir)
			removeDir = true
		}
	} else {
		watcher.callbacks[path] = remaining
	}
	closed := watcher.closed
	source := watcher.watcher
	activeDirs := len(watcher.dirs)
	watcher.mutex.Unlock()

	if !removeDir || closed || source == nil {
		return nil
	}
	if err := source.Remove(dir); err != nil {
		watcher.logWarn("watch remove failed", map[string]string{
			logging.FieldPath:  dir,
			logging.FieldError: err.Error(),
		})
		return err
	}
	watcher.logDebug("watch removed", dir, activeDirs)
	return nil
}
