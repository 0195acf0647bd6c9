package typster

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/typster/internal/engine"
	"github.com/conneroisu/typster/internal/engine/enginetest"
	"github.com/conneroisu/typster/internal/packages"
)

type offlineResolver struct{}

func (offlineResolver) Resolve(_ context.Context, spec packages.Spec) (string, error) {
	return "", &packages.Error{Kind: packages.KindNetwork, Spec: spec}
}

func newRenderer(t *testing.T) *Renderer {
	t.Helper()
	r, err := New(context.Background(), Config{
		Engine:   enginetest.New(),
		Packages: offlineResolver{},
		Clock:    func() time.Time { return time.Date(2024, 2, 29, 12, 0, 0, 0, time.UTC) },
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func TestRenderFormats(t *testing.T) {
	r := newRenderer(t)
	ctx := context.Background()
	opts := Options{Root: t.TempDir(), Variables: map[string]any{"name": "World"}}

	pdf, err := r.RenderPDF(ctx, "= Hello #name", opts)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(pdf), "%PDF"))

	svgs, err := r.RenderSVG(ctx, "a\n#pagebreak()\nb\n#pagebreak()\nc", opts)
	require.NoError(t, err)
	require.Len(t, svgs, 3)
	for _, s := range svgs {
		assert.True(t, strings.HasPrefix(s, "<svg"))
	}

	opts.PixelPerPt = 4
	large, err := r.RenderPNG(ctx, "= Hello", opts)
	require.NoError(t, err)
	opts.PixelPerPt = 0
	small, err := r.RenderPNG(ctx, "= Hello", opts)
	require.NoError(t, err)
	require.NoError(t, engine.VerifyPNG(small[0]))
	assert.Greater(t, len(large[0]), len(small[0]))
}

func TestRenderMetadata(t *testing.T) {
	r := newRenderer(t)
	pdf, err := r.RenderPDF(context.Background(), "x", Options{
		Root: t.TempDir(),
		Metadata: map[string]string{
			"title":    "Annual",
			"keywords": "a, b",
			"date":     "auto",
		},
	})
	require.NoError(t, err)
	assert.Contains(t, string(pdf), `title: "Annual"`)
	assert.Contains(t, string(pdf), `keywords: ("a", "b")`)
	assert.Contains(t, string(pdf), "year: 2024, month: 2, day: 29")

	_, err = r.RenderPDF(context.Background(), "x", Options{Root: t.TempDir(), Metadata: map[string]string{"titel": "typo"}})
	var te *Error
	require.ErrorAs(t, err, &te)
	assert.Equal(t, KindInvalid, te.Kind)
	assert.Contains(t, te.Message, "titel")

	_, err = r.RenderPDF(context.Background(), "x", Options{Root: t.TempDir(), Metadata: map[string]string{"date": "soon"}})
	require.ErrorAs(t, err, &te)
	assert.Equal(t, KindInvalid, te.Kind)
}

func TestCheck(t *testing.T) {
	r := newRenderer(t)
	ctx := context.Background()

	diags, err := r.Check(ctx, "= Fine", Options{Root: t.TempDir()})
	require.NoError(t, err)
	assert.Empty(t, diags)
	assert.NoError(t, r.CheckErr(ctx, "= Fine", Options{Root: t.TempDir()}))

	diags, err = r.Check(ctx, "#f(\n#g(", Options{Root: t.TempDir()})
	require.NoError(t, err)
	require.Len(t, diags, 2)
	assert.Contains(t, diags[0], "main.typ:1:3")
	assert.Contains(t, diags[1], "main.typ:2:3")

	err = r.CheckErr(ctx, "#f(\n#g(", Options{Root: t.TempDir()})
	var te *Error
	require.ErrorAs(t, err, &te)
	assert.Equal(t, KindCompile, te.Kind)
	assert.Equal(t, diags, te.Diagnostics)
	assert.Equal(t, strings.Join(diags, "; "), te.Error())
}

func TestErrorKinds(t *testing.T) {
	r := newRenderer(t)
	ctx := context.Background()

	_, err := r.RenderPDF(ctx, "x", Options{
		Root:      t.TempDir(),
		Variables: map[string]any{"items": []any{"valid", make(chan struct{})}},
	})
	var te *Error
	require.ErrorAs(t, err, &te)
	assert.Equal(t, KindConversion, te.Kind)
	assert.Contains(t, te.Message, `cannot convert variable "items"`)
	assert.Contains(t, te.Message, "index 1")
	assert.Contains(t, te.Message, "chan struct {}")

	_, err = r.RenderPNG(ctx, "x", Options{Root: t.TempDir(), PixelPerPt: -1})
	require.ErrorAs(t, err, &te)
	assert.Equal(t, KindExport, te.Kind)
	assert.Contains(t, te.Message, "pixel_per_pt")

	_, err = r.RenderPDF(ctx, "#text(", Options{Root: t.TempDir()})
	require.ErrorAs(t, err, &te)
	assert.Equal(t, KindCompile, te.Kind)
	assert.Len(t, te.Diagnostics, 1)

	_, err = r.RenderPDF(ctx, "x", Options{Root: "/definitely/not/here"})
	require.ErrorAs(t, err, &te)
	assert.Equal(t, KindWorld, te.Kind)
}

func TestMustPanicsWithError(t *testing.T) {
	r := newRenderer(t)
	ctx := context.Background()

	assert.NotEmpty(t, r.MustRenderPDF(ctx, "ok", Options{Root: t.TempDir()}))
	assert.NotPanics(t, func() { r.MustCheck(ctx, "ok", Options{Root: t.TempDir()}) })

	defer func() {
		rec := recover()
		require.NotNil(t, rec)
		te, ok := rec.(*Error)
		require.True(t, ok, "panic value %T", rec)
		assert.Equal(t, KindCompile, te.Kind)
		assert.Contains(t, te.Message, "unclosed delimiter")
	}()
	r.MustRenderSVG(ctx, "#box[", Options{Root: t.TempDir()})
}

func TestParseMetadata(t *testing.T) {
	md, err := ParseMetadata(map[string]string{
		"Title":       "T",
		"author":      "A",
		"description": "D",
		"date":        "none",
	})
	require.NoError(t, err)
	assert.Equal(t, "T", md.Title)
	assert.Equal(t, "A", md.Author)
	assert.Equal(t, "D", md.Description)
	assert.Equal(t, engine.DateNone, md.Date.Mode)
}
