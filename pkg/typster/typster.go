// Package typster renders Typst templates with host data to PDF, SVG or
// PNG, and checks templates for errors without rendering them.
//
// Every operation returns its failure as an error. The Must variants panic
// with a *Error carrying the same message, for callers that prefer that
// style.
package typster

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/conneroisu/typster/internal/engine"
	"github.com/conneroisu/typster/internal/engine/typstcli"
	"github.com/conneroisu/typster/internal/errors"
	"github.com/conneroisu/typster/internal/fonts"
	"github.com/conneroisu/typster/internal/logging"
	"github.com/conneroisu/typster/internal/packages"
	"github.com/conneroisu/typster/internal/pipeline"
	"github.com/conneroisu/typster/internal/world"
)

// Format selects the output format.
type Format = engine.Format

const (
	PDF = engine.FormatPDF
	SVG = engine.FormatSVG
	PNG = engine.FormatPNG
)

// Engine is the typesetting engine a Renderer drives.
type Engine = engine.Engine

// Logger receives structured logs.
type Logger = logging.Logger

// PackageResolver resolves registry packages to directories.
type PackageResolver = world.PackageResolver

// Options are per-call render options.
type Options struct {
	// Variables are bound by name in the template.
	Variables map[string]any
	// PackagePaths are local package directories searched, in order, before
	// the registry.
	PackagePaths []string
	// Root is the directory local imports resolve against; defaults to ".".
	Root string
	// Metadata applies to PDF: title, author, description, keywords
	// (comma-separated) and date ("auto", "none", YYYY-MM-DD or RFC 3339).
	Metadata map[string]string
	// PixelPerPt applies to PNG; zero selects 2.0.
	PixelPerPt float64
}

// Config configures a Renderer.
type Config struct {
	// Engine overrides the typst executable engine.
	Engine Engine
	// Executable is the typst binary; defaults to "typst" on PATH.
	Executable    string
	EngineTimeout time.Duration

	// Packages overrides the registry package cache. A *packages.Cache is
	// also shared with the typst executable.
	Packages        PackageResolver
	PackageCacheDir string
	RegistryURL     string
	DownloadTimeout time.Duration

	IncludeSystemFonts bool
	FontDirs           []string

	Clock  func() time.Time
	Logger Logger
}

// Renderer renders templates. It is safe for concurrent use.
type Renderer struct {
	cfg      Config
	engine   Engine
	packages PackageResolver
	fonts    *fonts.Inventory
	logger   logging.Logger
	closer   func() error
}

// New builds a Renderer, loading fonts once for all calls.
func New(ctx context.Context, cfg Config) (*Renderer, error) {
	logger := logging.OrNop(cfg.Logger)

	resolver := cfg.Packages
	if resolver == nil {
		cache, err := packages.New(cfg.PackageCacheDir, packages.Options{
			RegistryURL: cfg.RegistryURL,
			Timeout:     cfg.DownloadTimeout,
			Logger:      logger,
		})
		if err != nil {
			return nil, newError(errors.NewPackageError(errors.ErrCodePackageDownload, "package cache unavailable", err))
		}
		resolver = cache
	}

	inv, err := fonts.Load(ctx, fonts.Options{
		IncludeSystem: cfg.IncludeSystemFonts,
		Dirs:          cfg.FontDirs,
		Logger:        logger,
	})
	if err != nil {
		return nil, newError(errors.NewWorldError(errors.ErrCodeFont, "loading fonts", err))
	}

	r := &Renderer{
		cfg:      cfg,
		engine:   cfg.Engine,
		packages: resolver,
		fonts:    inv,
		logger:   logger,
		closer:   func() error { return nil },
	}
	if r.engine == nil {
		eng, err := typstcli.New(typstcli.Options{
			Executable: cfg.Executable,
			Timeout:    cfg.EngineTimeout,
			Logger:     logger,
		})
		if err != nil {
			return nil, newError(errors.NewInternalError(errors.ErrCodeEngine, "engine unavailable", err))
		}
		r.engine = eng
		r.closer = eng.Close
	}
	return r, nil
}

// Close releases engine resources.
func (r *Renderer) Close() error { return r.closer() }

func (r *Renderer) pipeline(opts Options) *pipeline.Pipeline {
	return pipeline.New(r.engine, pipeline.Options{
		Root:         opts.Root,
		PackagePaths: opts.PackagePaths,
		Packages:     r.packages,
		Fonts:        r.fonts,
		Clock:        r.cfg.Clock,
		Logger:       r.logger,
	})
}

// Render renders source in format. PDF yields one buffer, SVG and PNG one
// per page.
func (r *Renderer) Render(ctx context.Context, source string, format Format, opts Options) ([][]byte, error) {
	req := pipeline.Request{
		Source:     source,
		Variables:  opts.Variables,
		Format:     format,
		PixelPerPt: opts.PixelPerPt,
	}
	if format == PDF && len(opts.Metadata) > 0 {
		md, err := ParseMetadata(opts.Metadata)
		if err != nil {
			return nil, newError(err)
		}
		req.Metadata = md
	}

	res, err := r.pipeline(opts).Render(ctx, req)
	if err != nil {
		return nil, newError(err)
	}
	return res.Pages, nil
}

// RenderPDF renders source to a PDF document.
func (r *Renderer) RenderPDF(ctx context.Context, source string, opts Options) ([]byte, error) {
	pages, err := r.Render(ctx, source, PDF, opts)
	if err != nil {
		return nil, err
	}
	return pages[0], nil
}

// RenderSVG renders source to one SVG document per page.
func (r *Renderer) RenderSVG(ctx context.Context, source string, opts Options) ([]string, error) {
	pages, err := r.Render(ctx, source, SVG, opts)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(pages))
	for i, p := range pages {
		out[i] = string(p)
	}
	return out, nil
}

// RenderPNG renders source to one PNG image per page.
func (r *Renderer) RenderPNG(ctx context.Context, source string, opts Options) ([][]byte, error) {
	return r.Render(ctx, source, PNG, opts)
}

// Check compiles source without rendering. An empty result means the
// template is valid; otherwise every diagnostic is returned in order. The
// error is reserved for failures outside compilation, such as an
// unconvertible variable.
func (r *Renderer) Check(ctx context.Context, source string, opts Options) ([]string, error) {
	diags, err := r.pipeline(opts).Check(ctx, pipeline.Request{Source: source, Variables: opts.Variables})
	if err != nil {
		return nil, newError(err)
	}
	return diags.Strings(), nil
}

// CheckErr is Check with diagnostics reported as a single *Error.
func (r *Renderer) CheckErr(ctx context.Context, source string, opts Options) error {
	diags, err := r.Check(ctx, source, opts)
	if err != nil {
		return err
	}
	if len(diags) == 0 {
		return nil
	}
	return &Error{Kind: KindCompile, Message: strings.Join(diags, "; "), Diagnostics: diags}
}

// MustRender is Render, panicking with a *Error on failure.
func (r *Renderer) MustRender(ctx context.Context, source string, format Format, opts Options) [][]byte {
	return must(r.Render(ctx, source, format, opts))
}

// MustRenderPDF is RenderPDF, panicking with a *Error on failure.
func (r *Renderer) MustRenderPDF(ctx context.Context, source string, opts Options) []byte {
	return must(r.RenderPDF(ctx, source, opts))
}

// MustRenderSVG is RenderSVG, panicking with a *Error on failure.
func (r *Renderer) MustRenderSVG(ctx context.Context, source string, opts Options) []string {
	return must(r.RenderSVG(ctx, source, opts))
}

// MustRenderPNG is RenderPNG, panicking with a *Error on failure.
func (r *Renderer) MustRenderPNG(ctx context.Context, source string, opts Options) [][]byte {
	return must(r.RenderPNG(ctx, source, opts))
}

// MustCheck panics with a *Error when source has errors.
func (r *Renderer) MustCheck(ctx context.Context, source string, opts Options) {
	if err := r.CheckErr(ctx, source, opts); err != nil {
		panic(err)
	}
}

func must[T any](v T, err error) T {
	if err != nil {
		panic(err)
	}
	return v
}

var metadataKeys = []string{"author", "date", "description", "keywords", "title"}

// ParseMetadata converts a metadata map. Unknown keys are rejected.
func ParseMetadata(m map[string]string) (*engine.Metadata, error) {
	var unknown []string
	md := &engine.Metadata{}
	for k, v := range m {
		switch strings.ToLower(k) {
		case "title":
			md.Title = v
		case "author":
			md.Author = v
		case "description":
			md.Description = v
		case "keywords":
			md.Keywords = engine.SplitKeywords(v)
		case "date":
			date, err := engine.ParseDate(v)
			if err != nil {
				return nil, errors.NewValidationError(errors.ErrCodeInvalidVariable, err.Error())
			}
			md.Date = date
		default:
			unknown = append(unknown, k)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return nil, errors.NewValidationError(errors.ErrCodeInvalidVariable,
			fmt.Sprintf("unknown metadata keys %s (supported: %s)", strings.Join(unknown, ", "), strings.Join(metadataKeys, ", ")))
	}
	return md, nil
}

var (
	defaultMu       sync.Mutex
	defaultRenderer *Renderer
)

// Default returns a shared Renderer using the typst executable on PATH and
// the shared package cache. A failed construction is retried on the next
// call.
func Default() (*Renderer, error) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultRenderer != nil {
		return defaultRenderer, nil
	}
	r, err := New(context.Background(), Config{})
	if err != nil {
		return nil, err
	}
	defaultRenderer = r
	return r, nil
}

// RenderPDF renders with the Default renderer.
func RenderPDF(ctx context.Context, source string, opts Options) ([]byte, error) {
	r, err := Default()
	if err != nil {
		return nil, err
	}
	return r.RenderPDF(ctx, source, opts)
}

// RenderSVG renders with the Default renderer.
func RenderSVG(ctx context.Context, source string, opts Options) ([]string, error) {
	r, err := Default()
	if err != nil {
		return nil, err
	}
	return r.RenderSVG(ctx, source, opts)
}

// RenderPNG renders with the Default renderer.
func RenderPNG(ctx context.Context, source string, opts Options) ([][]byte, error) {
	r, err := Default()
	if err != nil {
		return nil, err
	}
	return r.RenderPNG(ctx, source, opts)
}

// Check checks with the Default renderer.
func Check(ctx context.Context, source string, opts Options) ([]string, error) {
	r, err := Default()
	if err != nil {
		return nil, err
	}
	return r.Check(ctx, source, opts)
}
