// Package pipeline drives one render or check call through its states:
// the World is built, variables are bound, the engine compiles, and either
// the document is exported or the diagnostics are returned. Nothing is kept
// between calls.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/conneroisu/typster/internal/engine"
	"github.com/conneroisu/typster/internal/errors"
	"github.com/conneroisu/typster/internal/fonts"
	"github.com/conneroisu/typster/internal/logging"
	"github.com/conneroisu/typster/internal/packages"
	"github.com/conneroisu/typster/internal/value"
	"github.com/conneroisu/typster/internal/world"
)

// State is a pipeline state.
type State int

const (
	// statePending precedes Built.
	statePending State = iota - 1
	StateBuilt
	StateBound
	StateCompiled
	StateExported
	StateCheckedOk
	StateCheckedWithErrors
	StateFailed
)

func (s State) String() string {
	switch s {
	case statePending:
		return "pending"
	case StateBuilt:
		return "built"
	case StateBound:
		return "bound"
	case StateCompiled:
		return "compiled"
	case StateExported:
		return "exported"
	case StateCheckedOk:
		return "checked_ok"
	case StateCheckedWithErrors:
		return "checked_with_errors"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Terminal reports whether no further transition follows s.
func (s State) Terminal() bool {
	return s >= StateExported
}

// Options configure every call made through a Pipeline.
type Options struct {
	// Root is the directory local imports resolve against; defaults to ".".
	Root string
	// PackagePaths are searched before the registry.
	PackagePaths       []string
	Packages           world.PackageResolver
	Fonts              *fonts.Inventory
	FontDirs           []string
	IncludeSystemFonts bool
	Clock              func() time.Time
	Logger             logging.Logger
	// OnTransition, if set, observes every state change of every call.
	OnTransition func(from, to State)
}

// Request is one render or check call.
type Request struct {
	Source    string
	Variables map[string]any
	Format    engine.Format
	// PixelPerPt applies to PNG; zero selects engine.DefaultPixelPerPt.
	PixelPerPt float64
	// Metadata applies to PDF.
	Metadata *engine.Metadata
}

// Result is a successful render.
type Result struct {
	Format engine.Format
	// Pages holds one buffer for PDF and one per page otherwise.
	Pages     [][]byte
	PageCount int
	Duration  time.Duration
}

// Pipeline runs calls against an engine. It holds no per-call state and is
// safe for concurrent use.
type Pipeline struct {
	engine engine.Engine
	opts   Options
	logger logging.Logger
}

// New returns a Pipeline over eng.
func New(eng engine.Engine, opts Options) *Pipeline {
	return &Pipeline{
		engine: eng,
		opts:   opts,
		logger: logging.OrNop(opts.Logger).WithComponent("pipeline"),
	}
}

// Engine returns the engine the pipeline drives.
func (p *Pipeline) Engine() engine.Engine { return p.engine }

// call tracks one call's state.
type call struct {
	p     *Pipeline
	op    string
	state State
}

func newCall(p *Pipeline, op string) *call {
	return &call{p: p, op: op, state: statePending}
}

func (c *call) to(ctx context.Context, next State) {
	c.p.logger.Debug(ctx, "pipeline transition", "op", c.op, "from", c.state.String(), "to", next.String())
	if c.p.opts.OnTransition != nil {
		c.p.opts.OnTransition(c.state, next)
	}
	c.state = next
}

func (c *call) fail(ctx context.Context, err error) error {
	c.to(ctx, StateFailed)
	return err
}

// Render compiles req.Source and exports it in req.Format. On error no
// output is returned and the error is exactly one of a conversion, world,
// package, compile or export *errors.TypsterError.
func (p *Pipeline) Render(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()
	perf := logging.StartOperation(p.logger, "render")

	c := newCall(p, "render")
	settings := engine.ExportSettings{
		Format:     req.Format,
		PixelPerPt: req.PixelPerPt,
	}
	if settings.PixelPerPt == 0 {
		settings.PixelPerPt = engine.DefaultPixelPerPt
	}
	if settings.Format == engine.FormatPDF {
		settings.Metadata = req.Metadata
	}
	if err := settings.Validate(); err != nil {
		err = exportSettingsError(settings, err)
		perf.EndWithError(ctx, err)
		return nil, c.fail(ctx, err)
	}

	w, doc, err := p.compile(ctx, c, req)
	if err != nil {
		perf.EndWithError(ctx, err)
		return nil, c.fail(ctx, err)
	}

	settings.Now = w.Now()
	pages, err := p.engine.Export(ctx, doc, settings)
	if err == nil {
		err = verify(settings.Format, pages)
	}
	if err != nil {
		err = errors.NewExportError(errors.ErrCodeExportFailed, fmt.Sprintf("%s export failed", settings.Format), err)
		perf.EndWithError(ctx, err)
		return nil, c.fail(ctx, err)
	}
	c.to(ctx, StateExported)

	res := &Result{
		Format:    settings.Format,
		Pages:     pages,
		PageCount: doc.PageCount(),
		Duration:  time.Since(start),
	}
	perf.End(ctx, "format", string(settings.Format), "pages", res.PageCount)
	return res, nil
}

// Check compiles without exporting. It returns (nil, nil) when the source
// compiles, the complete diagnostic list when it does not, and an error
// only when the call fails before or outside compilation.
func (p *Pipeline) Check(ctx context.Context, req Request) (errors.DiagnosticList, error) {
	perf := logging.StartOperation(p.logger, "check")
	c := newCall(p, "check")

	_, _, err := p.compile(ctx, c, req)
	if err == nil {
		c.to(ctx, StateCheckedOk)
		perf.End(ctx, "errors", 0)
		return nil, nil
	}

	var diags errors.DiagnosticList
	if errors.IsCompileError(err) && errors.As(err, &diags) {
		c.to(ctx, StateCheckedWithErrors)
		perf.End(ctx, "errors", len(diags))
		return diags, nil
	}
	perf.EndWithError(ctx, err)
	return nil, c.fail(ctx, err)
}

// compile runs Built, Bound and Compiled. Errors are already classified.
func (p *Pipeline) compile(ctx context.Context, c *call, req Request) (*world.World, engine.Document, error) {
	w, err := world.New(ctx, req.Source, world.Options{
		Root:               p.opts.Root,
		PackagePaths:       p.opts.PackagePaths,
		Packages:           p.opts.Packages,
		Fonts:              p.opts.Fonts,
		FontDirs:           p.opts.FontDirs,
		IncludeSystemFonts: p.opts.IncludeSystemFonts,
		Clock:              p.opts.Clock,
		Logger:             p.opts.Logger,
	})
	if err != nil {
		return nil, nil, classify(err)
	}
	c.to(ctx, StateBuilt)

	vars, err := value.ConvertBindings(req.Variables)
	if err != nil {
		return nil, nil, errors.NewConversionError(conversionCode(err), "", err)
	}
	w.Bind(vars)
	c.to(ctx, StateBound)

	doc, err := p.engine.Compile(ctx, w)
	if err != nil {
		var diags errors.DiagnosticList
		if errors.As(err, &diags) && len(diags) > 0 {
			diags = diags.ShiftLines(w.MainName(), w.PreludeLines(), world.PreludeName)
			return nil, nil, errors.NewCompileError(diags)
		}
		return nil, nil, classify(err)
	}
	c.to(ctx, StateCompiled)
	return w, doc, nil
}

// classify wraps a non-diagnostic failure into the error taxonomy.
func classify(err error) error {
	var pe *packages.Error
	if errors.As(err, &pe) {
		code := errors.ErrCodePackageDownload
		if pe.Kind == packages.KindNotFound || pe.Kind == packages.KindVersionNotFound {
			code = errors.ErrCodePackageNotFound
		}
		return errors.NewPackageError(code, "", err)
	}

	var we *world.Error
	if errors.As(err, &we) {
		code := errors.ErrCodeFileNotFound
		switch we.Kind {
		case world.KindEscapesRoot:
			code = errors.ErrCodePathEscapesRoot
		case world.KindFont:
			code = errors.ErrCodeFont
		}
		return errors.NewWorldError(code, "", err)
	}

	return errors.Wrap(err, errors.ErrorTypeCompile, errors.ErrCodeEngine, "engine failed")
}

func conversionCode(err error) string {
	var ce *value.ConversionError
	if errors.As(err, &ce) && ce.TypeName == "variable name" {
		return errors.ErrCodeInvalidVariable
	}
	return errors.ErrCodeUnsupportedType
}

func exportSettingsError(s engine.ExportSettings, err error) error {
	code := errors.ErrCodeInvalidFormat
	if s.Format == engine.FormatPNG {
		code = errors.ErrCodeInvalidPixelSize
	}
	return errors.NewExportError(code, "", err)
}

// verify checks the engine output before it is handed to the caller.
func verify(f engine.Format, pages [][]byte) error {
	if len(pages) == 0 {
		return errors.New("engine produced no output")
	}
	if f == engine.FormatPDF && len(pages) != 1 {
		return fmt.Errorf("engine produced %d PDF buffers", len(pages))
	}
	for i, page := range pages {
		if err := engine.Verify(f, page); err != nil {
			return fmt.Errorf("page %d: %w", i+1, err)
		}
	}
	return nil
}
