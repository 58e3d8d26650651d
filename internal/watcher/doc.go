// Package watcher turns fsnotify events into per-file change callbacks.
//
// A file is observed through its parent directory, so files that do not
// exist yet, and files replaced by rename, keep firing. Every raw event is
// delivered; nothing is debounced or coalesced. Callbacks run one at a time
// on the watcher's dispatch goroutine.
package watcher
