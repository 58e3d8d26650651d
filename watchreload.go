// Package watchreload keeps in-process export objects in step with the YAML,
// TOML and JSON files backing them.
//
// Create a Registry once at startup and register export objects against it:
//
//	registry, err := watchreload.New(watchreload.Options{})
//	loader := watchreload.NewFileLoader(watchreload.FileLoaderOptions{BaseDir: "config"})
//	members, err := loader.Load("limits")
//	limits := watchreload.NewExports(members)
//	err = registry.WatchReload("limits", loader, limits, "", nil)
//
// Every change to the file reloads it and merges its top-level members into
// limits in place. Members removed from the file are kept.
package watchreload

import (
	"watchreload/internal/module"
	"watchreload/internal/reload"
)

type (
	Registry          = reload.Registry
	Options           = reload.Options
	Target            = reload.Target
	Notification      = reload.Notification
	ListenerID        = reload.ListenerID
	Exports           = module.Exports
	Loader            = module.Loader
	FileLoader        = module.FileLoader
	FileLoaderOptions = module.FileLoaderOptions
	Codec             = module.Codec
	ResolveError      = module.ResolveError
	LoadError         = module.LoadError
)

// ExportsSentinel names the top-level export object when passed as a
// sub-module.
const ExportsSentinel = reload.ExportsSentinel

var (
	ErrModuleNotFound      = module.ErrModuleNotFound
	ErrUnsupportedFormat   = module.ErrUnsupportedFormat
	ErrInvalidModuleFormat = module.ErrInvalidModuleFormat
	ErrSubModuleNotFound   = reload.ErrSubModuleNotFound
	ErrLoaderRequired      = reload.ErrLoaderRequired
	ErrClosed              = reload.ErrClosed
)

func New(options Options) (*Registry, error) {
	return reload.New(options)
}

func NewExports(initial map[string]any) *Exports {
	return module.NewExports(initial)
}

func NewFileLoader(options FileLoaderOptions) *FileLoader {
	return module.NewFileLoader(options)
}

// Merge copies members onto exports, or onto its sub-module when named.
func Merge(members map[string]any, exports *Exports, subModule string) error {
	return reload.Merge(members, exports, subModule)
}
