package packages

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
)

// DefaultCacheDir returns the directory shared with the typst CLI:
// $XDG_CACHE_HOME/typst/packages or ~/.cache/typst/packages on Unix,
// ~/Library/Caches/typst/packages on macOS and
// %LOCALAPPDATA%\typst\packages on Windows.
func DefaultCacheDir() (string, error) {
	var base string
	switch runtime.GOOS {
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		base = filepath.Join(home, "Library", "Caches")
	case "windows":
		base = os.Getenv("LOCALAPPDATA")
	default:
		base = os.Getenv("XDG_CACHE_HOME")
		if base == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", err
			}
			base = filepath.Join(home, ".cache")
		}
	}
	if base == "" {
		return "", errors.New("cannot determine cache directory")
	}
	return filepath.Join(base, "typst", "packages"), nil
}

// DefaultDataDir returns the directory of locally installed packages:
// $XDG_DATA_HOME/typst/packages or ~/.local/share/typst/packages on Unix,
// ~/Library/Application Support/typst/packages on macOS and
// %APPDATA%\typst\packages on Windows.
func DefaultDataDir() (string, error) {
	var base string
	switch runtime.GOOS {
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		base = filepath.Join(home, "Library", "Application Support")
	case "windows":
		base = os.Getenv("APPDATA")
	default:
		base = os.Getenv("XDG_DATA_HOME")
		if base == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", err
			}
			base = filepath.Join(home, ".local", "share")
		}
	}
	if base == "" {
		return "", errors.New("cannot determine data directory")
	}
	return filepath.Join(base, "typst", "packages"), nil
}

// FindLocal returns the first directory among paths that holds spec, using
// the same <namespace>/<name>/<version> layout as the cache. Local
// directories need no completion marker.
func FindLocal(paths []string, spec Spec) (string, bool) {
	for _, root := range paths {
		if root == "" {
			continue
		}
		dir := filepath.Join(root, spec.RelPath())
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			return dir, true
		}
	}
	return "", false
}
