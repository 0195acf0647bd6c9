package packages

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/conneroisu/typster/internal/logging"
)

// MarkerName is the completion marker written into a package directory
// after it has been published. Directories without it are never served
// from the fast path.
const MarkerName = ".typster-ready"

// DefaultTimeout bounds a single package download, retries included.
const DefaultTimeout = 2 * time.Minute

// Options configure a Cache.
type Options struct {
	// RegistryURL defaults to DefaultRegistryURL.
	RegistryURL string
	// Timeout bounds each download; zero means DefaultTimeout.
	Timeout time.Duration
	// Client defaults to NewRegistryHTTPClient().
	Client *http.Client
	// Retry defaults to DefaultRetryPolicy() when zero.
	Retry RetryPolicy
	// MaxArchiveBytes defaults to DefaultMaxArchiveBytes.
	MaxArchiveBytes int64
	Logger          logging.Logger
}

// Stats counts cache outcomes since the Cache was created.
type Stats struct {
	Hits      int64
	Downloads int64
	Failures  int64
}

// Entry describes one package directory in the cache.
type Entry struct {
	Spec        Spec
	Dir         string
	Ready       bool
	Description string
	Size        int64
}

// Cache resolves packages to directories, downloading each at most once.
// A Cache is safe for concurrent use.
type Cache struct {
	dir      string
	opts     Options
	registry *registry
	logger   logging.Logger

	hits      atomic.Int64
	downloads atomic.Int64
	failures  atomic.Int64
}

// New creates a cache rooted at dir. An empty dir selects DefaultCacheDir.
// The directory is created lazily on first download.
func New(dir string, opts Options) (*Cache, error) {
	if dir == "" {
		d, err := DefaultCacheDir()
		if err != nil {
			return nil, err
		}
		dir = d
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cache dir: %w", err)
	}

	if opts.RegistryURL == "" {
		opts.RegistryURL = DefaultRegistryURL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Retry == (RetryPolicy{}) {
		opts.Retry = DefaultRetryPolicy()
	}
	if err := opts.Retry.Validate(); err != nil {
		return nil, fmt.Errorf("retry policy: %w", err)
	}

	reg, err := newRegistry(opts.RegistryURL, opts.Client, opts.MaxArchiveBytes)
	if err != nil {
		return nil, fmt.Errorf("registry: %w", err)
	}

	return &Cache{
		dir:      abs,
		opts:     opts,
		registry: reg,
		logger:   logging.OrNop(opts.Logger).WithComponent("packages"),
	}, nil
}

var defaultCache = sync.OnceValues(func() (*Cache, error) {
	return New("", Options{})
})

// Default returns the process-wide cache over DefaultCacheDir and the
// public registry.
func Default() (*Cache, error) {
	return defaultCache()
}

// Dir returns the absolute cache root.
func (c *Cache) Dir() string { return c.dir }

// RegistryURL returns the registry base URL.
func (c *Cache) RegistryURL() string { return c.registry.base.String() }

// Path returns where spec lives in the cache, whether or not it is ready.
func (c *Cache) Path(spec Spec) string {
	return filepath.Join(c.dir, spec.RelPath())
}

// IsReady reports whether spec is published and marked complete.
func (c *Cache) IsReady(spec Spec) bool {
	return isMarked(c.Path(spec))
}

// Stats returns a snapshot of the counters.
func (c *Cache) Stats() Stats {
	return Stats{
		Hits:      c.hits.Load(),
		Downloads: c.downloads.Load(),
		Failures:  c.failures.Load(),
	}
}

// Resolve returns the local directory of spec, downloading it from the
// registry if needed. Ready packages are served without taking the
// package's lock. Concurrent calls for one package perform one download;
// calls for different packages never wait on each other.
func (c *Cache) Resolve(ctx context.Context, spec Spec) (string, error) {
	if err := spec.Validate(); err != nil {
		return "", &Error{Kind: KindNotFound, Spec: spec, Err: err}
	}

	final := c.Path(spec)
	if isMarked(final) {
		c.hits.Add(1)
		return final, nil
	}

	lock := processLocks.get(c.lockKey(spec))
	if err := lock.lock(ctx); err != nil {
		return "", contextError(spec, err)
	}
	defer lock.unlock()

	// Another caller may have published while we waited.
	if isMarked(final) {
		c.hits.Add(1)
		c.logger.Debug(ctx, "package published by concurrent caller", "package", spec.String())
		return final, nil
	}

	if err := c.download(ctx, spec, final); err != nil {
		c.failures.Add(1)
		c.logger.Warn(ctx, err, "package download failed", "package", spec.String())
		return "", err
	}
	c.downloads.Add(1)
	return final, nil
}

func (c *Cache) lockKey(spec Spec) string {
	return c.dir + "\x00" + spec.Key()
}

// download fetches, extracts and publishes spec into final. It runs under
// the package lock. On any failure the temporary directory is removed and
// no marker is written.
func (c *Cache) download(ctx context.Context, spec Spec, final string) error {
	ctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	start := time.Now()
	c.logger.Info(ctx, "downloading package", "package", spec.String(), "url", c.registry.archiveURL(spec))

	data, err := c.registry.fetchArchive(ctx, spec, c.opts.Retry)
	if err != nil {
		return err
	}

	parent := filepath.Dir(final)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return &Error{Kind: KindIO, Spec: spec, Err: err}
	}
	tmp, err := os.MkdirTemp(parent, tempPrefix(spec))
	if err != nil {
		return &Error{Kind: KindIO, Spec: spec, Err: err}
	}
	published := false
	defer func() {
		if !published {
			_ = os.RemoveAll(tmp)
		}
	}()

	if err := extractArchive(data, tmp, 8*c.registry.maxBytes); err != nil {
		return &Error{Kind: KindCorrupt, Spec: spec, Err: err}
	}
	manifest, err := ReadManifest(tmp)
	if err != nil {
		return &Error{Kind: KindCorrupt, Spec: spec, Err: err}
	}
	if err := manifest.Verify(spec, tmp); err != nil {
		return &Error{Kind: KindCorrupt, Spec: spec, Err: err}
	}

	if err := ctx.Err(); err != nil {
		return contextError(spec, err)
	}

	// An unmarked directory may be a partial write; it is always replaced.
	if err := os.RemoveAll(final); err != nil {
		return &Error{Kind: KindIO, Spec: spec, Err: err}
	}
	if err := os.Rename(tmp, final); err != nil {
		return &Error{Kind: KindIO, Spec: spec, Err: err}
	}
	published = true

	if err := writeMarker(final, spec); err != nil {
		return &Error{Kind: KindIO, Spec: spec, Err: err}
	}

	c.logger.Info(ctx, "package ready", "package", spec.String(),
		"bytes", len(data), "duration_ms", sinceMillis(start))
	return nil
}

func tempPrefix(spec Spec) string {
	return "." + spec.Version.String() + ".download-"
}

func isMarked(dir string) bool {
	info, err := os.Stat(filepath.Join(dir, MarkerName))
	return err == nil && info.Mode().IsRegular()
}

// writeMarker creates the marker atomically so a reader never sees a
// partially written one.
func writeMarker(dir string, spec Spec) error {
	f, err := os.CreateTemp(dir, MarkerName+"-*")
	if err != nil {
		return err
	}
	content := spec.String() + "\n" + time.Now().UTC().Format(time.RFC3339) + "\n"
	if _, err := f.WriteString(content); err != nil {
		_ = f.Close()
		_ = os.Remove(f.Name())
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(f.Name())
		return err
	}
	if err := os.Rename(f.Name(), filepath.Join(dir, MarkerName)); err != nil {
		_ = os.Remove(f.Name())
		return err
	}
	return nil
}

// Prefetch resolves every spec with at most concurrency downloads in
// flight, returning directories in input order.
func (c *Cache) Prefetch(ctx context.Context, specs []Spec, concurrency int) ([]string, error) {
	if concurrency <= 0 {
		concurrency = 4
	}
	dirs := make([]string, len(specs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i, spec := range specs {
		g.Go(func() error {
			dir, err := c.Resolve(gctx, spec)
			if err != nil {
				return err
			}
			dirs[i] = dir
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return dirs, nil
}

// List returns every package directory in the cache, sorted by spec.
// Temporary download directories are skipped.
func (c *Cache) List() ([]Entry, error) {
	var entries []Entry

	namespaces, err := readDirs(c.dir)
	if err != nil {
		return nil, err
	}
	for _, ns := range namespaces {
		names, err := readDirs(filepath.Join(c.dir, ns))
		if err != nil {
			return nil, err
		}
		for _, name := range names {
			versions, err := readDirs(filepath.Join(c.dir, ns, name))
			if err != nil {
				return nil, err
			}
			for _, version := range versions {
				v, err := ParseVersion(version)
				if err != nil {
					continue
				}
				spec := Spec{Namespace: ns, Name: name, Version: v}
				if spec.Validate() != nil {
					continue
				}
				dir := c.Path(spec)
				entry := Entry{Spec: spec, Dir: dir, Ready: isMarked(dir), Size: dirSize(dir)}
				if m, err := ReadManifest(dir); err == nil {
					entry.Description = m.Package.Description
				}
				entries = append(entries, entry)
			}
		}
	}

	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i].Spec, entries[j].Spec
		if a.Namespace != b.Namespace {
			return a.Namespace < b.Namespace
		}
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		return a.Version.Less(b.Version)
	})
	return entries, nil
}

// Remove deletes spec from the cache under its lock. The marker goes first
// so a concurrent fast-path reader never sees a marked partial directory.
func (c *Cache) Remove(ctx context.Context, spec Spec) error {
	lock := processLocks.get(c.lockKey(spec))
	if err := lock.lock(ctx); err != nil {
		return contextError(spec, err)
	}
	defer lock.unlock()

	final := c.Path(spec)
	if err := os.Remove(filepath.Join(final, MarkerName)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return &Error{Kind: KindIO, Spec: spec, Err: err}
	}
	if err := os.RemoveAll(final); err != nil {
		return &Error{Kind: KindIO, Spec: spec, Err: err}
	}
	return nil
}

// Clean removes every package and any leftover temporary directories whose
// package is not currently being downloaded. It returns the number of
// packages removed.
func (c *Cache) Clean(ctx context.Context) (int, error) {
	entries, err := c.List()
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, entry := range entries {
		if err := c.Remove(ctx, entry.Spec); err != nil {
			return removed, err
		}
		removed++
	}

	err = filepath.WalkDir(c.dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if !d.IsDir() || !strings.Contains(d.Name(), ".download-") {
			return nil
		}
		version := strings.TrimPrefix(strings.SplitN(d.Name(), ".download-", 2)[0], ".")
		name := filepath.Base(filepath.Dir(p))
		ns := filepath.Base(filepath.Dir(filepath.Dir(p)))
		if v, perr := ParseVersion(version); perr == nil {
			lock := processLocks.get(c.lockKey(Spec{Namespace: ns, Name: name, Version: v}))
			if !lock.tryLock() {
				return fs.SkipDir
			}
			defer lock.unlock()
		}
		if err := os.RemoveAll(p); err != nil {
			return err
		}
		return fs.SkipDir
	})
	if err != nil {
		return removed, fmt.Errorf("clean %s: %w", c.dir, err)
	}
	return removed, nil
}

func readDirs(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() && !strings.HasPrefix(e.Name(), ".") {
			out = append(out, e.Name())
		}
	}
	return out, nil
}

func dirSize(dir string) int64 {
	var size int64
	_ = filepath.WalkDir(dir, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.Type().IsRegular() {
			if info, err := d.Info(); err == nil {
				size += info.Size()
			}
		}
		return nil
	})
	return size
}
