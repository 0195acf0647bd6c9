package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/typster/internal/engine"
	"github.com/conneroisu/typster/internal/engine/enginetest"
	"github.com/conneroisu/typster/internal/errors"
	"github.com/conneroisu/typster/internal/fonts"
	"github.com/conneroisu/typster/internal/packages"
	"github.com/conneroisu/typster/internal/world"
)

var fixedNow = time.Date(2025, time.March, 4, 5, 6, 7, 0, time.UTC)

type recorder struct {
	mu     sync.Mutex
	states []State
}

func (r *recorder) observe(_, to State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, to)
}

type failingResolver struct{}

func (failingResolver) Resolve(_ context.Context, spec packages.Spec) (string, error) {
	return "", &packages.Error{Kind: packages.KindVersionNotFound, Spec: spec}
}

func newPipeline(t *testing.T, opts Options) (*Pipeline, *enginetest.Engine, *recorder) {
	t.Helper()
	if opts.Root == "" {
		opts.Root = t.TempDir()
	}
	if opts.Fonts == nil {
		opts.Fonts = fonts.NewInventory(fonts.Bundled())
	}
	if opts.Clock == nil {
		opts.Clock = func() time.Time { return fixedNow }
	}
	if opts.Packages == nil {
		opts.Packages = failingResolver{}
	}
	rec := &recorder{}
	opts.OnTransition = rec.observe
	eng := enginetest.New()
	return New(eng, opts), eng, rec
}

func TestRenderPDF(t *testing.T) {
	p, _, rec := newPipeline(t, Options{})

	res, err := p.Render(context.Background(), Request{
		Source:   "= Hello",
		Format:   engine.FormatPDF,
		Metadata: &engine.Metadata{Title: "Greeting"},
	})
	require.NoError(t, err)
	require.Len(t, res.Pages, 1)
	assert.True(t, strings.HasPrefix(string(res.Pages[0]), "%PDF-"))
	assert.Greater(t, len(res.Pages[0]), 64)
	assert.Equal(t, 1, res.PageCount)
	assert.Equal(t, []State{StateBuilt, StateBound, StateCompiled, StateExported}, rec.states)
}

func TestRenderResolvesAutoDateAtExport(t *testing.T) {
	var calls int
	clock := func() time.Time {
		calls++
		return fixedNow.Add(time.Duration(calls) * time.Hour)
	}
	p, _, _ := newPipeline(t, Options{Clock: clock})

	res, err := p.Render(context.Background(), Request{
		Source:   "x",
		Format:   engine.FormatPDF,
		Metadata: &engine.Metadata{},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Contains(t, string(res.Pages[0]), "hour: 6")
}

func TestRenderSVGPages(t *testing.T) {
	p, _, _ := newPipeline(t, Options{})

	res, err := p.Render(context.Background(), Request{
		Source: "= One\n#pagebreak()\nTwo\n#pagebreak()\nThree",
		Format: engine.FormatSVG,
	})
	require.NoError(t, err)
	require.Len(t, res.Pages, 3)
	for _, page := range res.Pages {
		assert.NoError(t, engine.VerifySVG(page))
	}
}

func TestRenderPNGDensity(t *testing.T) {
	p, _, _ := newPipeline(t, Options{})
	req := Request{Source: "= Dense\nbody text", Format: engine.FormatPNG}

	def, err := p.Render(context.Background(), req)
	require.NoError(t, err)

	req.PixelPerPt = 2.0
	two, err := p.Render(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, def.Pages, two.Pages)

	req.PixelPerPt = 4.0
	four, err := p.Render(context.Background(), req)
	require.NoError(t, err)
	assert.Greater(t, len(four.Pages[0]), len(two.Pages[0]))

	for _, ppi := range []float64{-1, -0.5} {
		req.PixelPerPt = ppi
		_, err = p.Render(context.Background(), req)
		require.Error(t, err)
		assert.True(t, errors.IsExportError(err))
	}
}

func TestRenderBindsVariables(t *testing.T) {
	p, _, _ := newPipeline(t, Options{})

	res, err := p.Render(context.Background(), Request{
		Source:    "= #title",
		Variables: map[string]any{"title": "Quarterly (draft)", "n": 3},
		Format:    engine.FormatSVG,
	})
	require.NoError(t, err)
	page := string(res.Pages[0])
	assert.Contains(t, page, ">= Quarterly (draft)<")
	assert.NotContains(t, page, "#title")
}

func TestConversionErrorSkipsEngine(t *testing.T) {
	p, eng, rec := newPipeline(t, Options{})
	handle := make(chan int)

	_, err := p.Render(context.Background(), Request{
		Source:    "= #items",
		Variables: map[string]any{"items": []any{"valid", handle}},
		Format:    engine.FormatPDF,
	})
	require.Error(t, err)
	assert.True(t, errors.IsConversionError(err))
	assert.Contains(t, err.Error(), "items")
	assert.Contains(t, err.Error(), "index 1")
	assert.Contains(t, err.Error(), "chan int")
	assert.EqualValues(t, 0, eng.Compiles.Load())
	assert.Equal(t, []State{StateBuilt, StateFailed}, rec.states)

	_, err = p.Render(context.Background(), Request{
		Source:    "x",
		Variables: map[string]any{"not valid": 1},
		Format:    engine.FormatPDF,
	})
	var te *errors.TypsterError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, errors.ErrCodeInvalidVariable, te.Code)
}

func TestCompileDiagnostics(t *testing.T) {
	p, eng, rec := newPipeline(t, Options{})

	_, err := p.Render(context.Background(), Request{
		Source:    "= Title\n#text(fill: red)[hello",
		Variables: map[string]any{"a": 1, "b": 2},
		Format:    engine.FormatPDF,
	})
	require.Error(t, err)
	assert.True(t, errors.IsCompileError(err))
	var diags errors.DiagnosticList
	require.ErrorAs(t, err, &diags)
	require.Len(t, diags, 1)
	assert.Equal(t, world.MainName, diags[0].File)
	assert.Equal(t, 2, diags[0].Line)
	assert.EqualValues(t, 0, eng.Exports.Load())
	assert.Equal(t, StateFailed, rec.states[len(rec.states)-1])
}

func TestCheck(t *testing.T) {
	p, eng, rec := newPipeline(t, Options{})

	diags, err := p.Check(context.Background(), Request{Source: "= Fine"})
	require.NoError(t, err)
	assert.Nil(t, diags)
	assert.Equal(t, StateCheckedOk, rec.states[len(rec.states)-1])

	diags, err = p.Check(context.Background(), Request{Source: "(\n[\n= Missing bracket"})
	require.NoError(t, err)
	require.Len(t, diags, 2)
	assert.Equal(t, 1, diags[0].Line)
	assert.Equal(t, 2, diags[1].Line)
	assert.Equal(t, StateCheckedWithErrors, rec.states[len(rec.states)-1])
	assert.EqualValues(t, 0, eng.Exports.Load())
}

func TestCheckWorldFailure(t *testing.T) {
	p, _, _ := newPipeline(t, Options{Root: filepath.Join(t.TempDir(), "missing")})

	diags, err := p.Check(context.Background(), Request{Source: "x"})
	assert.Nil(t, diags)
	require.Error(t, err)
	assert.True(t, errors.IsWorldError(err))
}

func TestPackageFailureIsDiagnosed(t *testing.T) {
	p, _, _ := newPipeline(t, Options{})

	diags, err := p.Check(context.Background(), Request{Source: `#import "@preview/gone:9.9.9": *`})
	require.NoError(t, err)
	require.Len(t, diags, 1)
	assert.Contains(t, diags[0].Message, "version not found")
}

func TestCheckIgnoresCommentedAndRawImports(t *testing.T) {
	p, _, rec := newPipeline(t, Options{})

	diags, err := p.Check(context.Background(), Request{Source: "// #import \"@preview/gone:9.9.9\"\n" +
		"Example:\n```typ\n#import \"@preview/example:1.0.0\": *\n```\n= Fine"})
	require.NoError(t, err)
	assert.Empty(t, diags)
	assert.Equal(t, StateCheckedOk, rec.states[len(rec.states)-1])
}

func TestLocalImport(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "lib.typ"), []byte("#let x = 1"), 0o644))
	p, _, _ := newPipeline(t, Options{Root: root})

	_, err := p.Render(context.Background(), Request{Source: `#import "lib.typ": x`, Format: engine.FormatSVG})
	require.NoError(t, err)

	_, err = p.Render(context.Background(), Request{Source: `#import "../lib.typ": x`, Format: engine.FormatSVG})
	require.Error(t, err)
	assert.True(t, errors.IsCompileError(err))
}

func TestConcurrentRendersAreIdentical(t *testing.T) {
	p, _, _ := newPipeline(t, Options{})
	req := Request{
		Source:    "= #title\n#pagebreak()\nmore",
		Variables: map[string]any{"title": "same"},
		Format:    engine.FormatPNG,
	}

	const n = 8
	results := make([]*Result, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := p.Render(context.Background(), req)
			assert.NoError(t, err)
			results[i] = res
		}(i)
	}
	wg.Wait()

	for i := 1; i < n; i++ {
		require.NotNil(t, results[i])
		assert.Equal(t, results[0].Pages, results[i].Pages)
	}
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "checked_with_errors", StateCheckedWithErrors.String())
	assert.True(t, StateFailed.Terminal())
	assert.False(t, StateCompiled.Terminal())
}
