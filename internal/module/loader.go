package module

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"watchreload/internal/fsutil"
)

// Loader resolves and loads modules, backed by a cache that the reload
// engine purges before each reload.
type Loader interface {
	// Resolve maps a specifier to a canonical absolute path.
	Resolve(specifier string) (string, error)
	// Load returns the exported members of the module named by specifier.
	Load(specifier string) (map[string]any, error)
	// Invalidate drops any cached members for resolvedPath.
	Invalidate(resolvedPath string)
}

type FileLoaderOptions struct {
	// BaseDir anchors relative specifiers. Empty means the working directory.
	BaseDir    string
	Extensions []string
	Codecs     map[string]Codec
}

// FileLoader loads data modules from the local filesystem.
type FileLoader struct {
	baseDir    string
	extensions []string
	codecs     map[string]Codec

	mu    sync.Mutex
	cache map[string]map[string]any
}

func NewFileLoader(options FileLoaderOptions) *FileLoader {
	extensions := options.Extensions
	if len(extensions) == 0 {
		extensions = DefaultExtensions
	}
	normalized := make([]string, 0, len(extensions))
	for _, ext := range extensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		normalized = append(normalized, ext)
	}

	codecs := DefaultCodecs()
	for ext, codec := range options.Codecs {
		codecs[strings.ToLower(ext)] = codec
	}

	return &FileLoader{
		baseDir:    options.BaseDir,
		extensions: normalized,
		codecs:     codecs,
		cache:      make(map[string]map[string]any),
	}
}

// Resolve probes specifier as given, then with each configured extension.
func (l *FileLoader) Resolve(specifier string) (string, error) {
	trimmed := strings.TrimSpace(specifier)
	if trimmed == "" {
		return "", &ResolveError{Specifier: specifier, Err: ErrModuleNotFound}
	}

	candidate := trimmed
	if !filepath.IsAbs(candidate) {
		base := l.baseDir
		if base == "" {
			wd, err := os.Getwd()
			if err != nil {
				return "", &ResolveError{Specifier: specifier, Err: err}
			}
			base = wd
		}
		candidate = filepath.Join(base, candidate)
	}

	probes := []string{candidate}
	for _, ext := range l.extensions {
		probes = append(probes, candidate+ext)
	}
	for _, probe := range probes {
		if !fsutil.IsRegularFile(probe) {
			continue
		}
		resolved, err := fsutil.CanonicalPath(probe)
		if err != nil {
			return "", &ResolveError{Specifier: specifier, Err: err}
		}
		return resolved, nil
	}
	return "", &ResolveError{Specifier: specifier, Err: ErrModuleNotFound}
}

// Load returns cached members when present; otherwise it reads and decodes
// the file and caches the result. Callers must not mutate the returned map.
func (l *FileLoader) Load(specifier string) (map[string]any, error) {
	resolved, err := l.Resolve(specifier)
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	cached, ok := l.cache[resolved]
	l.mu.Unlock()
	if ok {
		return cached, nil
	}

	members, err := l.decode(resolved)
	if err != nil {
		return nil, &LoadError{Path: resolved, Err: err}
	}

	l.mu.Lock()
	l.cache[resolved] = members
	l.mu.Unlock()
	return members, nil
}

func (l *FileLoader) Invalidate(resolvedPath string) {
	l.mu.Lock()
	delete(l.cache, resolvedPath)
	l.mu.Unlock()
}

// Cached reports whether members for resolvedPath are cached.
func (l *FileLoader) Cached(resolvedPath string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.cache[resolvedPath]
	return ok
}

func (l *FileLoader) decode(resolved string) (map[string]any, error) {
	ext := strings.ToLower(filepath.Ext(resolved))
	codec, ok := l.codecs[ext]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		return nil, err
	}
	members, err := codec(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidModuleFormat, err)
	}
	return members, nil
}
