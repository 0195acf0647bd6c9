// Package engine defines the boundary to the typesetting engine: a compile
// step that turns a World into a Document or diagnostics, and an export
// step that turns a Document into one buffer per page (or one PDF).
package engine

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/conneroisu/typster/internal/fonts"
	"github.com/conneroisu/typster/internal/packages"
)

// World is the compilation environment an engine reads from.
// *world.World implements it.
type World interface {
	MainName() string
	MainSource() string
	PreludeLines() int
	Root() string
	PackagePaths() []string
	ReadFile(name string) ([]byte, error)
	ResolvePackage(ctx context.Context, spec packages.Spec) (string, error)
	Fonts() *fonts.Inventory
	Now() time.Time
}

// Document is a successfully compiled document. Its contents are private
// to the engine that produced it.
type Document interface {
	PageCount() int
}

// Engine compiles and exports documents. Compile returns a non-empty
// errors.DiagnosticList when the source has errors.
type Engine interface {
	Name() string
	Compile(ctx context.Context, w World) (Document, error)
	Export(ctx context.Context, doc Document, settings ExportSettings) ([][]byte, error)
}

// Format selects the export format.
type Format string

const (
	FormatPDF Format = "pdf"
	FormatSVG Format = "svg"
	FormatPNG Format = "png"
)

// Formats lists every supported format.
var Formats = []Format{FormatPDF, FormatSVG, FormatPNG}

// ParseFormat parses a case-insensitive format name.
func ParseFormat(s string) (Format, error) {
	f := Format(strings.ToLower(strings.TrimSpace(s)))
	switch f {
	case FormatPDF, FormatSVG, FormatPNG:
		return f, nil
	default:
		return "", fmt.Errorf("unsupported format %q (supported: pdf, svg, png)", s)
	}
}

// Paged reports whether the format yields one buffer per page.
func (f Format) Paged() bool { return f != FormatPDF }

// Extension returns the file extension including the dot.
func (f Format) Extension() string { return "." + string(f) }

// DefaultPixelPerPt is the raster density used when none is given.
const DefaultPixelPerPt = 2.0

// ExportSettings are passed to Export.
type ExportSettings struct {
	Format Format
	// PixelPerPt is the PNG density; must be positive.
	PixelPerPt float64
	// Metadata applies to PDF only.
	Metadata *Metadata
	// Now resolves an automatic metadata date.
	Now time.Time
}

// Validate checks the settings before any export work.
func (s ExportSettings) Validate() error {
	if _, err := ParseFormat(string(s.Format)); err != nil {
		return err
	}
	if s.Format == FormatPNG && (!(s.PixelPerPt > 0) || math.IsInf(s.PixelPerPt, 1)) {
		return fmt.Errorf("pixel_per_pt must be a positive finite number, got %v", s.PixelPerPt)
	}
	return nil
}
