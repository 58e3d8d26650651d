package fsutil

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// CanonicalPath returns an absolute, cleaned path with symlinks resolved. A
// path that does not exist yet is returned absolute and cleaned; symlinks in
// its existing parent directory are still resolved.
func CanonicalPath(pathValue string) (string, error) {
	if pathValue == "" {
		return "", errors.New("path is required")
	}
	abs, err := filepath.Abs(pathValue)
	if err != nil {
		return "", err
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err == nil {
		return resolved, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return "", err
	}
	dir, err := filepath.EvalSymlinks(filepath.Dir(abs))
	if err != nil {
		return abs, nil
	}
	return filepath.Join(dir, filepath.Base(abs)), nil
}

// IsRegularFile reports whether pathValue exists and is not a directory.
func IsRegularFile(pathValue string) bool {
	info, err := os.Stat(pathValue)
	return err == nil && !info.IsDir()
}

// FileStat is a point-in-time snapshot of a file's metadata.
type FileStat struct {
	Exists  bool
	Size    int64
	Mode    fs.FileMode
	ModTime time.Time
}

// Stat snapshots pathValue. A missing file yields a zero FileStat with
// Exists false and no error.
func Stat(pathValue string) (FileStat, error) {
	info, err := os.Stat(pathValue)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return FileStat{}, nil
		}
		return FileStat{}, err
	}
	return FileStat{
		Exists:  true,
		Size:    info.Size(),
		Mode:    info.Mode(),
		ModTime: info.ModTime(),
	}, nil
}

// Changed reports whether two snapshots differ in any tracked attribute.
func (s FileStat) Changed(other FileStat) bool {
	return s.Exists != other.Exists ||
		s.Size != other.Size ||
		s.Mode != other.Mode ||
		!s.ModTime.Equal(other.ModTime)
}
