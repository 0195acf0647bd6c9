// Package enginetest provides a small deterministic engine for tests. It
// understands just enough markup to exercise the pipeline: `#pagebreak()`
// splits pages, `#name` shows a bound variable, `#import`/`#include` read
// through the World, and unbalanced delimiters produce diagnostics.
package enginetest

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"strconv"
	"strings"
	"sync/atomic"

	"golang.org/x/net/html"

	"github.com/conneroisu/typster/internal/engine"
	"github.com/conneroisu/typster/internal/errors"
	"github.com/conneroisu/typster/internal/packages"
)

// Page size in points.
const (
	PageWidth  = 210
	PageHeight = 297
)

const pagebreak = "#pagebreak()"

// Engine is a deterministic engine.Engine. Counters record how often each
// step ran.
type Engine struct {
	Compiles atomic.Int64
	Exports  atomic.Int64
}

// New returns an Engine.
func New() *Engine { return &Engine{} }

// Name implements engine.Engine.
func (e *Engine) Name() string { return "enginetest" }

// Document is the compiled form: the text of each page.
type Document struct {
	Pages  []string
	Family string
}

// PageCount implements engine.Document.
func (d *Document) PageCount() int { return len(d.Pages) }

// Compile implements engine.Engine.
func (e *Engine) Compile(ctx context.Context, w engine.World) (engine.Document, error) {
	e.Compiles.Add(1)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	src := w.MainSource()
	diags := checkDelimiters(w.MainName(), src)
	diags = append(diags, e.resolveImports(ctx, w, src)...)
	if len(diags) > 0 {
		return nil, diags
	}

	lines := strings.Split(src, "\n")
	split := min(w.PreludeLines(), len(lines))
	vars := bindings(lines[:split])
	body := strings.Join(lines[split:], "\n")

	doc := &Document{Pages: strings.Split(body, pagebreak)}
	for i, p := range doc.Pages {
		doc.Pages[i] = substitute(strings.TrimSpace(p), vars)
	}
	if fonts := w.Fonts().Fonts(); len(fonts) > 0 {
		doc.Family = fonts[0].Family
	}
	return doc, nil
}

// bindings reads the `#let name = expr` prelude lines, keeping each value
// as it would be displayed.
func bindings(prelude []string) map[string]string {
	vars := make(map[string]string, len(prelude))
	for _, line := range prelude {
		rest, ok := strings.CutPrefix(line, "#let ")
		if !ok {
			continue
		}
		if name, expr, ok := strings.Cut(rest, " = "); ok {
			vars[name] = display(expr)
		}
	}
	return vars
}

// display unquotes string literals; other expressions show as written.
func display(expr string) string {
	if len(expr) < 2 || expr[0] != '"' || expr[len(expr)-1] != '"' {
		return expr
	}
	s := expr[1 : len(expr)-1]
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] != '\\' || i+1 == len(s) {
			b.WriteByte(s[i])
			continue
		}
		i++
		switch s[i] {
		case 'n':
			b.WriteByte('\n')
		case 'r':
			b.WriteByte('\r')
		case 't':
			b.WriteByte('\t')
		case 'u':
			end := strings.IndexByte(s[i:], '}')
			if !strings.HasPrefix(s[i:], "u{") || end < 0 {
				b.WriteByte('u')
				continue
			}
			if r, err := strconv.ParseInt(s[i+2:i+end], 16, 32); err == nil {
				b.WriteRune(rune(r))
			}
			i += end
		default:
			b.WriteByte(s[i])
		}
	}
	return b.String()
}

// substitute replaces `#name` references to bound variables with their
// values. Unknown names are left alone.
func substitute(page string, vars map[string]string) string {
	if len(vars) == 0 {
		return page
	}
	var b strings.Builder
	for i := 0; i < len(page); {
		if page[i] == '#' {
			j := i + 1
			for j < len(page) && isNameByte(page[j]) {
				j++
			}
			if v, ok := vars[page[i+1:j]]; ok {
				b.WriteString(v)
				i = j
				continue
			}
		}
		b.WriteByte(page[i])
		i++
	}
	return b.String()
}

func isNameByte(c byte) bool {
	return c == '_' || c == '-' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9'
}

// resolveImports reads every imported file or package entrypoint, turning
// failures into diagnostics at the import site.
func (e *Engine) resolveImports(ctx context.Context, w engine.World, src string) errors.DiagnosticList {
	var diags errors.DiagnosticList
	for _, imp := range engine.ScanImports(src) {
		if err := readImport(ctx, w, imp.Target); err != nil {
			diags = append(diags, errors.Diagnostic{
				Severity: errors.SeverityError,
				File:     w.MainName(),
				Line:     imp.Line,
				Column:   imp.Column,
				Message:  err.Error(),
			})
		}
	}
	return diags
}

func readImport(ctx context.Context, w engine.World, target string) error {
	if !strings.HasPrefix(target, "@") {
		_, err := w.ReadFile(target)
		return err
	}

	spec, err := packages.ParseSpec(target)
	if err != nil {
		return err
	}
	dir, err := w.ResolvePackage(ctx, spec)
	if err != nil {
		return err
	}
	manifest, err := packages.ReadManifest(dir)
	if err != nil {
		return err
	}
	if manifest.Package.Entrypoint == "" {
		return fmt.Errorf("package %s has no entrypoint", spec)
	}
	return nil
}

var closers = map[rune]rune{'(': ')', '[': ']', '{': '}'}

var closingNames = map[rune]string{')': "paren", ']': "bracket", '}': "brace"}

type opening struct {
	r            rune
	line, column int
}

// checkDelimiters reports every unmatched delimiter. Backslash escapes a
// character and double quotes open a string that ends at the next unescaped
// quote or the end of the line.
func checkDelimiters(file, src string) errors.DiagnosticList {
	var (
		diags    errors.DiagnosticList
		stack    []opening
		line     = 1
		column   = 0
		inString bool
		escaped  bool
	)

	for _, r := range src {
		column++
		if r == '\n' {
			line++
			column = 0
			inString = false
			escaped = false
			continue
		}
		if escaped {
			escaped = false
			continue
		}
		switch {
		case r == '\\':
			escaped = true
		case r == '"':
			inString = !inString
		case inString:
		case closers[r] != 0:
			stack = append(stack, opening{r: r, line: line, column: column})
		case closingNames[r] != "":
			if len(stack) > 0 && closers[stack[len(stack)-1].r] == r {
				stack = stack[:len(stack)-1]
				continue
			}
			diags = append(diags, errors.Diagnostic{
				Severity: errors.SeverityError,
				File:     file,
				Line:     line,
				Column:   column,
				Message:  "unexpected closing " + closingNames[r],
			})
		}
	}

	for _, o := range stack {
		diags = append(diags, errors.Diagnostic{
			Severity: errors.SeverityError,
			File:     file,
			Line:     o.line,
			Column:   o.column,
			Message:  "unclosed delimiter",
		})
	}
	return diags
}

// Export implements engine.Engine.
func (e *Engine) Export(ctx context.Context, d engine.Document, settings engine.ExportSettings) ([][]byte, error) {
	e.Exports.Add(1)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	doc, ok := d.(*Document)
	if !ok {
		return nil, fmt.Errorf("enginetest: cannot export %T", d)
	}

	switch settings.Format {
	case engine.FormatPDF:
		return [][]byte{doc.pdf(settings)}, nil
	case engine.FormatSVG:
		out := make([][]byte, len(doc.Pages))
		for i, p := range doc.Pages {
			out[i] = doc.svg(p)
		}
		return out, nil
	default:
		out := make([][]byte, len(doc.Pages))
		for i, p := range doc.Pages {
			data, err := raster(p, settings.PixelPerPt)
			if err != nil {
				return nil, err
			}
			out[i] = data
		}
		return out, nil
	}
}

func (d *Document) pdf(settings engine.ExportSettings) []byte {
	var b bytes.Buffer
	b.WriteString("%PDF-1.7\n")
	b.WriteString("1 0 obj << /Type /Catalog /Pages 2 0 R >> endobj\n")
	fmt.Fprintf(&b, "2 0 obj << /Type /Pages /Count %d /MediaBox [0 0 %d %d] >> endobj\n",
		len(d.Pages), PageWidth, PageHeight)
	for i, p := range d.Pages {
		fmt.Fprintf(&b, "%% page %d: %q\n", i+1, p)
	}
	if prelude := settings.Metadata.Prelude(settings.Now); prelude != "" {
		fmt.Fprintf(&b, "%% info: %s", prelude)
	}
	b.WriteString("%%EOF\n")
	return b.Bytes()
}

func (d *Document) svg(page string) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, `<svg xmlns="http://www.w3.org/2000/svg" width="%dpt" height="%dpt" viewBox="0 0 %d %d">`,
		PageWidth, PageHeight, PageWidth, PageHeight)
	for i, line := range strings.Split(page, "\n") {
		fmt.Fprintf(&b, `<text x="10" y="%d" font-family="%s">%s</text>`,
			20+14*i, html.EscapeString(d.Family), html.EscapeString(line))
	}
	b.WriteString("</svg>\n")
	return []byte(b.String())
}

// raster draws one bar per text line, scaled by ppi.
func raster(page string, ppi float64) ([]byte, error) {
	w := int(math.Ceil(PageWidth * ppi))
	h := int(math.Ceil(PageHeight * ppi))
	img := image.NewGray(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = 0xff
	}

	lineHeight := max(int(12*ppi), 1)
	for i, line := range strings.Split(page, "\n") {
		top := int(10*ppi) + i*lineHeight
		width := min(int(float64(len(line))*5*ppi), w)
		for y := top; y < min(top+lineHeight/2, h); y++ {
			for x := 0; x < width; x++ {
				img.SetGray(x, y, color.Gray{Y: 0x20})
			}
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}
