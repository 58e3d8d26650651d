package watcher

import (
	"errors"
	"strconv"
	"time"

	"watchreload/internal/fsutil"
	"watchreload/internal/logging"

	"github.com/fsnotify/fsnotify"
)

const (
	defaultMaxRestartAttempts = 3
	restartBaseDelay          = 200 * time.Millisecond
)

var ErrClosed = errors.New("watcher is closed")

// New creates a Watcher with default options.
func New() (*Watcher, error) {
	return NewWithOptions(Options{})
}

func NewWithOptions(options Options) (*Watcher, error) {
	source, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	logger := options.Logger
	if logger == nil {
		logger = logging.Discard()
	}

	maxRestarts := options.MaxRestartAttempts
	if maxRestarts <= 0 {
		maxRestarts = defaultMaxRestartAttempts
	}

	instance := &Watcher{
		watcher:            source,
		callbacks:          make(map[string][]callbackEntry),
		stats:              make(map[string]fsutil.FileStat),
		dirs:               make(map[string]int),
		events:             make(chan fsnotify.Event, 16),
		errors:             make(chan error, 4),
		done:               make(chan struct{}),
		logger:             logger.Category("watcher"),
		errorHandler:       options.ErrorHandler,
		maxRestartAttempts: maxRestarts,
	}

	instance.startForwarder(source)
	go instance.run()
	return instance, nil
}

// Close stops event processing and releases the fsnotify watcher.
func (watcher *Watcher) Close() error {
	if watcher == nil {
		return nil
	}

	watcher.mutex.Lock()
	if watcher.closed {
		watcher.mutex.Unlock()
		return nil
	}
	watcher.closed = true
	source := watcher.watcher
	watcher.mutex.Unlock()

	watcher.restartMutex.Lock()
	if watcher.restartTimer != nil {
		watcher.restartTimer.Stop()
		watcher.restartTimer = nil
	}
	watcher.restartMutex.Unlock()

	close(watcher.done)
	if source == nil {
		return nil
	}
	return source.Close()
}

func (watcher *Watcher) run() {
	for {
		select {
		case event := <-watcher.events:
			watcher.handleEvent(event)
		case err := <-watcher.errors:
			watcher.handleError(err)
		case <-watcher.done:
			return
		}
	}
}

func (watcher *Watcher) startForwarder(source *fsnotify.Watcher) {
	if source == nil {
		return
	}

	go func() {
		for {
			select {
			case event, ok := <-source.Events:
				if !ok {
					return
				}
				select {
				case watcher.events <- event:
				case <-watcher.done:
					return
				}
			case err, ok := <-source.Errors:
				if !ok {
					return
				}
				select {
				case watcher.errors <- err:
				case <-watcher.done:
					return
				}
			case <-watcher.done:
				return
			}
		}
	}()
}

// SetErrorHandler configures a callback for unrecoverable watcher failures.
func (watcher *Watcher) SetErrorHandler(handler func(error)) {
	if watcher == nil {
		return
	}
	watcher.restartMutex.Lock()
	watcher.errorHandler = handler
	watcher.restartMutex.Unlock()
}

// Metrics reports current watcher stats.
func (watcher *Watcher) Metrics() Metrics {
	if watcher == nil {
		return Metrics{}
	}
	watcher.mutex.Lock()
	files := len(watcher.callbacks)
	dirs := len(watcher.dirs)
	watcher.mutex.Unlock()
	watcher.restartMutex.Lock()
	restartAttempts := watcher.restartAttempts
	watcher.restartMutex.Unlock()
	return Metrics{
		WatchedFiles:    files,
		WatchedDirs:     dirs,
		EventsDelivered: watcher.eventsDelivered.Load(),
		Errors:          watcher.errorCount.Load(),
		RestartAttempts: restartAttempts,
	}
}

func (watcher *Watcher) logWarn(message string, fields map[string]string) {
	if watcher == nil || watcher.logger == nil {
		return
	}
	watcher.logger.Warn(message, fields)
}

func (watcher *Watcher) logDebug(message, path string, activeCount int) {
	if watcher == nil || watcher.logger == nil {
		return
	}
	watcher.logger.Debug(message, map[string]string{
		logging.FieldPath: path,
		"active_dirs":     strconv.Itoa(activeCount),
	})
}
