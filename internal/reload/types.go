package reload

import (
	"errors"
	"time"

	"watchreload/internal/event"
	"watchreload/internal/logging"
	"watchreload/internal/metrics"
	"watchreload/internal/module"
	"watchreload/internal/watcher"
)

// ExportsSentinel names the top-level export object when used as a
// sub-module name.
const ExportsSentinel = "exports"

var (
	ErrLoaderRequired    = errors.New("loader is required")
	ErrSubModuleNotFound = errors.New("sub-module export object not found")
	ErrClosed            = errors.New("registry is closed")
)

// ListenerID identifies a listener registered with On.
type ListenerID = event.ListenerID

// Target is one reload subscription: where to merge freshly loaded members
// for a module, and what to call afterwards.
type Target struct {
	SourcePath   string
	ResolvedPath string
	Loader       module.Loader
	Exports      *module.Exports
	SubModule    string
	OnReload     func()
}

func (t Target) sameAs(resolvedPath string, exports *module.Exports, subModule string) bool {
	return t.ResolvedPath == resolvedPath && t.Exports == exports && t.SubModule == subModule
}

// Notification is published on the bus after every reload of a path. IDs
// are ULIDs, so they sort in emission order.
type Notification struct {
	ID      string    `json:"id"`
	Path    string    `json:"path"`
	Op      string    `json:"op"`
	Targets int       `json:"targets"`
	At      time.Time `json:"at"`
}

type Options struct {
	// Watch installs filesystem watches. When nil, New creates an
	// fsnotify-backed watcher owned by the registry.
	Watch watcher.Watch
	// Fallback loads modules that only have bus listeners. Defaults to a
	// FileLoader rooted at the working directory.
	Fallback module.Loader
	Logger   *logging.Logger
	Metrics  *metrics.Registry
	// ErrorHandler receives reload failures raised by change events.
	ErrorHandler func(error)
	// ContinueOnError keeps reloading the remaining targets for a change
	// after one fails, and still notifies listeners. By default the first
	// failure aborts the rest of the event.
	ContinueOnError bool
	HistorySize     int
}
