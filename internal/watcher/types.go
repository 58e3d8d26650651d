package watcher

import (
	"sync"
	"sync/atomic"
	"time"

	"watchreload/internal/fsutil"
	"watchreload/internal/logging"

	"github.com/fsnotify/fsnotify"
)

// Change describes one filesystem event for a watched file, with stat
// snapshots from before and after the event.
type Change struct {
	Path      string
	Op        fsnotify.Op
	Prev      fsutil.FileStat
	Curr      fsutil.FileStat
	Timestamp time.Time
}

// Handle releases a single callback registration.
type Handle interface {
	Close() error
}

// Watch registers a callback for changes to a file path.
type Watch interface {
	Watch(path string, callback func(Change)) (Handle, error)
}

type Options struct {
	Logger             *logging.Logger
	MaxRestartAttempts int
	// ErrorHandler receives the last error once restarts are exhausted.
	ErrorHandler func(error)
}

// Metrics reports watcher counters.
type Metrics struct {
	WatchedFiles    int
	WatchedDirs     int
	EventsDelivered uint64
	Errors          uint64
	RestartAttempts int
}

// Watcher is the fsnotify-backed Watch implementation.
type Watcher struct {
	watcher      *fsnotify.Watcher
	mutex        sync.Mutex
	addMutex     sync.Mutex
	callbacks    map[string][]callbackEntry
	stats        map[string]fsutil.FileStat
	dirs         map[string]int
	events       chan fsnotify.Event
	errors       chan error
	done         chan struct{}
	closed       bool
	logger       *logging.Logger
	nextID       uint64
	errorHandler func(error)

	maxRestartAttempts int
	restartMutex       sync.Mutex
	restartTimer       *time.Timer
	restartAttempts    int

	eventsDelivered atomic.Uint64
	errorCount      atomic.Uint64
}
