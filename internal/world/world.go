// Package world implements the compilation environment handed to the
// engine: the main source with bound variables, root-relative file access,
// the font inventory, the clock and package resolution.
package world

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/conneroisu/typster/internal/fonts"
	"github.com/conneroisu/typster/internal/logging"
	"github.com/conneroisu/typster/internal/packages"
	"github.com/conneroisu/typster/internal/validation"
	"github.com/conneroisu/typster/internal/value"
)

// MainName is the virtual file name of the main source inside the root.
const MainName = "main.typ"

// PreludeName labels diagnostics that fall inside the bound-variable lines.
const PreludeName = "<variables>"

// PackageResolver resolves registry packages to local directories.
// *packages.Cache implements it.
type PackageResolver interface {
	Resolve(ctx context.Context, spec packages.Spec) (string, error)
}

// ErrorKind classifies World failures.
type ErrorKind int

const (
	KindNotFound ErrorKind = iota
	KindEscapesRoot
	KindFont
	KindPackage
)

func (k ErrorKind) String() string {
	switch k {
	case KindNotFound:
		return "file not found"
	case KindEscapesRoot:
		return "path escapes root"
	case KindFont:
		return "unsupported font"
	case KindPackage:
		return "package resolution failed"
	default:
		return "world error"
	}
}

// Error is returned by World lookups.
type Error struct {
	Kind ErrorKind
	Path string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Path != "" {
		msg += ": " + e.Path
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Options configure a World. The zero value uses the current directory as
// root, the bundled fonts only, the shared package cache and the wall clock.
type Options struct {
	Root string
	// PackagePaths are searched, in order, before the registry.
	PackagePaths []string
	// Packages resolves registry packages; nil selects packages.Default().
	Packages PackageResolver
	// Fonts overrides font loading entirely.
	Fonts *fonts.Inventory
	// FontDirs and IncludeSystemFonts feed fonts.Load when Fonts is nil.
	FontDirs           []string
	IncludeSystemFonts bool
	// Clock defaults to time.Now.
	Clock  func() time.Time
	Logger logging.Logger
}

// World is one call's compilation environment. It is not shared between
// calls; its methods are safe for concurrent use by the engine.
type World struct {
	root         string
	source       string
	prelude      string
	preludeLines int
	packagePaths []string
	packages     PackageResolver
	fonts        *fonts.Inventory
	clock        func() time.Time
	logger       logging.Logger

	mu    sync.Mutex
	files map[string][]byte
}

// New builds a World for source.
func New(ctx context.Context, source string, opts Options) (*World, error) {
	root := opts.Root
	if root == "" {
		root = "."
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, &Error{Kind: KindNotFound, Path: root, Err: err}
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, &Error{Kind: KindNotFound, Path: root, Err: err}
	}
	if !info.IsDir() {
		return nil, &Error{Kind: KindNotFound, Path: root, Err: errors.New("root is not a directory")}
	}

	logger := logging.OrNop(opts.Logger).WithComponent("world")

	inv := opts.Fonts
	if inv == nil {
		inv, err = fonts.Load(ctx, fonts.Options{
			IncludeSystem: opts.IncludeSystemFonts,
			Dirs:          opts.FontDirs,
			Logger:        opts.Logger,
		})
		if err != nil {
			return nil, &Error{Kind: KindFont, Err: err}
		}
	}
	if inv.Len() == 0 {
		return nil, &Error{Kind: KindFont, Err: errors.New("no usable fonts")}
	}

	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}

	paths := make([]string, 0, len(opts.PackagePaths))
	for _, p := range opts.PackagePaths {
		if p == "" {
			continue
		}
		if absPath, err := filepath.Abs(p); err == nil {
			paths = append(paths, absPath)
		}
	}

	return &World{
		root:         abs,
		source:       source,
		packagePaths: paths,
		packages:     opts.Packages,
		fonts:        inv,
		clock:        clock,
		logger:       logger,
		files:        make(map[string][]byte),
	}, nil
}

// Bind injects converted variables as the main source's prelude. Calling
// Bind again replaces the previous bindings.
func (w *World) Bind(vars map[string]value.Value) {
	w.prelude = value.Prelude(vars)
	w.preludeLines = len(vars)
}

// MainName returns the main file's root-relative name.
func (w *World) MainName() string { return MainName }

// MainSource returns the prelude followed by the caller's source.
func (w *World) MainSource() string { return w.prelude + w.source }

// UserSource returns the caller's source without the prelude.
func (w *World) UserSource() string { return w.source }

// PreludeLines returns how many lines Bind prepended to the main source.
func (w *World) PreludeLines() int { return w.preludeLines }

// Root returns the absolute root directory.
func (w *World) Root() string { return w.root }

// PackagePaths returns the absolute local package directories.
func (w *World) PackagePaths() []string {
	out := make([]string, len(w.packagePaths))
	copy(out, w.packagePaths)
	return out
}

// Fonts returns the font inventory.
func (w *World) Fonts() *fonts.Inventory { return w.fonts }

// Now returns the current time from the World's clock.
func (w *World) Now() time.Time { return w.clock() }

// Today returns the current date. A nil offset uses the clock's local zone;
// otherwise the date is taken at UTC shifted by offset hours.
func (w *World) Today(offset *int) value.Datetime {
	now := w.clock()
	if offset != nil {
		now = now.UTC().Add(time.Duration(*offset) * time.Hour)
	}
	return value.DateOf(now.Year(), now.Month(), now.Day())
}

// ReadFile returns a root-relative file. Paths that leave the root, either
// lexically or through symlinks, are rejected. Contents are cached for the
// World's lifetime.
func (w *World) ReadFile(name string) ([]byte, error) {
	path, err := w.Resolve(name)
	if err != nil {
		return nil, err
	}

	w.mu.Lock()
	if data, ok := w.files[path]; ok {
		w.mu.Unlock()
		return data, nil
	}
	w.mu.Unlock()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, &Error{Kind: KindNotFound, Path: name}
		}
		return nil, &Error{Kind: KindNotFound, Path: name, Err: err}
	}

	w.mu.Lock()
	w.files[path] = data
	w.mu.Unlock()
	return data, nil
}

// Resolve maps a root-relative name to an absolute path inside the root.
func (w *World) Resolve(name string) (string, error) {
	path, err := validation.WithinRoot(w.root, name)
	if err != nil {
		return "", &Error{Kind: KindEscapesRoot, Path: name}
	}

	resolved, err := filepath.EvalSymlinks(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", &Error{Kind: KindNotFound, Path: name}
		}
		return "", &Error{Kind: KindNotFound, Path: name, Err: err}
	}
	realRoot, err := filepath.EvalSymlinks(w.root)
	if err != nil {
		return "", &Error{Kind: KindNotFound, Path: w.root, Err: err}
	}
	if !validation.IsWithin(realRoot, resolved) {
		return "", &Error{Kind: KindEscapesRoot, Path: name}
	}
	return path, nil
}

// ResolvePackage returns the directory of spec: the first local package
// path holding it, otherwise the registry cache.
func (w *World) ResolvePackage(ctx context.Context, spec packages.Spec) (string, error) {
	if dir, ok := packages.FindLocal(w.packagePaths, spec); ok {
		w.logger.Debug(ctx, "resolved local package", "package", spec.String(), "dir", dir)
		return dir, nil
	}

	resolver := w.packages
	if resolver == nil {
		cache, err := packages.Default()
		if err != nil {
			return "", &Error{Kind: KindPackage, Path: spec.String(), Err: err}
		}
		resolver = cache
	}

	dir, err := resolver.Resolve(ctx, spec)
	if err != nil {
		return "", &Error{Kind: KindPackage, Path: spec.String(), Err: err}
	}
	return dir, nil
}

// ReadPackageFile reads a file relative to spec's directory, rejecting
// paths that leave it.
func (w *World) ReadPackageFile(ctx context.Context, spec packages.Spec, name string) ([]byte, error) {
	dir, err := w.ResolvePackage(ctx, spec)
	if err != nil {
		return nil, err
	}
	path, err := validation.WithinRoot(dir, name)
	if err != nil {
		return nil, &Error{Kind: KindEscapesRoot, Path: fmt.Sprintf("%s/%s", spec, name)}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &Error{Kind: KindNotFound, Path: fmt.Sprintf("%s/%s", spec, name), Err: err}
	}
	return data, nil
}
