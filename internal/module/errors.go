package module

import (
	"errors"
	"fmt"
)

var (
	ErrModuleNotFound      = errors.New("module not found")
	ErrUnsupportedFormat   = errors.New("unsupported module format")
	ErrInvalidModuleFormat = errors.New("module must decode to a mapping")
)

// ResolveError reports a specifier that could not be resolved to a path.
type ResolveError struct {
	Specifier string
	Err       error
}

func (e *ResolveError) Error() string {
	return fmt.Sprintf("resolve %q: %v", e.Specifier, e.Err)
}

func (e *ResolveError) Unwrap() error {
	return e.Err
}

// LoadError reports a module that resolved but could not be read or decoded.
type LoadError struct {
	Path string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load %s: %v", e.Path, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}
