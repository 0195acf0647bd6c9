// Package fonts builds the font inventory offered to the engine: the
// bundled Go font family plus, optionally, fonts discovered in system and
// user font directories, de-duplicated by family and style.
package fonts

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/gofont/gobolditalic"
	"golang.org/x/image/font/gofont/goitalic"
	"golang.org/x/image/font/gofont/gomedium"
	"golang.org/x/image/font/gofont/gomediumitalic"
	"golang.org/x/image/font/gofont/gomono"
	"golang.org/x/image/font/gofont/gomonobold"
	"golang.org/x/image/font/gofont/gomonobolditalic"
	"golang.org/x/image/font/gofont/gomonoitalic"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/gofont/gosmallcaps"
	"golang.org/x/image/font/gofont/gosmallcapsitalic"

	"github.com/conneroisu/typster/internal/logging"
)

// Font is one face in the inventory.
type Font struct {
	Family string
	Style  string
	// Path is the font file; empty for bundled faces.
	Path string
	// Index is the face's position within a collection file.
	Index   int
	Bundled bool
	// FileName is a suggested base name for writing bundled data to disk.
	FileName string

	data []byte
}

// Key identifies a face for de-duplication: family and style, case-folded.
func (f Font) Key() string {
	return strings.ToLower(f.Family) + "\x00" + strings.ToLower(f.Style)
}

func (f Font) String() string {
	if f.Bundled {
		return fmt.Sprintf("%s %s (bundled)", f.Family, f.Style)
	}
	return fmt.Sprintf("%s %s (%s)", f.Family, f.Style, f.Path)
}

// Data returns the raw font file.
func (f Font) Data() ([]byte, error) {
	if f.Bundled {
		return f.data, nil
	}
	return os.ReadFile(f.Path)
}

var bundledFiles = []struct {
	name string
	data []byte
}{
	{"Go-Regular.ttf", goregular.TTF},
	{"Go-Italic.ttf", goitalic.TTF},
	{"Go-Bold.ttf", gobold.TTF},
	{"Go-Bold-Italic.ttf", gobolditalic.TTF},
	{"Go-Medium.ttf", gomedium.TTF},
	{"Go-Medium-Italic.ttf", gomediumitalic.TTF},
	{"Go-Mono.ttf", gomono.TTF},
	{"Go-Mono-Italic.ttf", gomonoitalic.TTF},
	{"Go-Mono-Bold.ttf", gomonobold.TTF},
	{"Go-Mono-Bold-Italic.ttf", gomonobolditalic.TTF},
	{"Go-Smallcaps.ttf", gosmallcaps.TTF},
	{"Go-Smallcaps-Italic.ttf", gosmallcapsitalic.TTF},
}

var bundled = sync.OnceValue(func() []Font {
	out := make([]Font, 0, len(bundledFiles))
	for _, file := range bundledFiles {
		faces, err := parseFaces(bytes.NewReader(file.data))
		if err != nil {
			continue
		}
		for _, face := range faces {
			face.Bundled = true
			face.FileName = file.name
			face.data = file.data
			out = append(out, face)
		}
	}
	return out
})

// Bundled returns the faces compiled into the binary.
func Bundled() []Font {
	src := bundled()
	out := make([]Font, len(src))
	copy(out, src)
	return out
}

// Inventory is an immutable, de-duplicated set of faces.
type Inventory struct {
	fonts []Font
}

// NewInventory de-duplicates groups in order: the first face with a given
// family and style wins.
func NewInventory(groups ...[]Font) *Inventory {
	seen := make(map[string]bool)
	var out []Font
	for _, group := range groups {
		for _, f := range group {
			key := f.Key()
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, f)
		}
	}
	return &Inventory{fonts: out}
}

// Fonts returns a copy of the faces.
func (i *Inventory) Fonts() []Font {
	out := make([]Font, len(i.fonts))
	copy(out, i.fonts)
	return out
}

// Len returns the number of faces.
func (i *Inventory) Len() int { return len(i.fonts) }

// Families returns the sorted distinct family names.
func (i *Inventory) Families() []string {
	seen := make(map[string]bool)
	var out []string
	for _, f := range i.fonts {
		if !seen[f.Family] {
			seen[f.Family] = true
			out = append(out, f.Family)
		}
	}
	sort.Strings(out)
	return out
}

// Has reports whether the inventory contains family, case-insensitively.
func (i *Inventory) Has(family string) bool {
	for _, f := range i.fonts {
		if strings.EqualFold(f.Family, family) {
			return true
		}
	}
	return false
}

// Bundled returns the bundled faces kept after de-duplication.
func (i *Inventory) Bundled() []Font {
	var out []Font
	for _, f := range i.fonts {
		if f.Bundled {
			out = append(out, f)
		}
	}
	return out
}

// Files returns the distinct font files backing non-bundled faces, sorted.
func (i *Inventory) Files() []string {
	seen := make(map[string]bool)
	var out []string
	for _, f := range i.fonts {
		if !f.Bundled && !seen[f.Path] {
			seen[f.Path] = true
			out = append(out, f.Path)
		}
	}
	sort.Strings(out)
	return out
}

// Options control Load.
type Options struct {
	// IncludeSystem adds faces from SystemDirs.
	IncludeSystem bool
	// Dirs are searched in addition to, and before, the system directories.
	Dirs   []string
	Logger logging.Logger
}

var (
	systemMu    sync.Mutex
	systemFonts []Font
	systemDone  bool
)

// Load returns bundled faces followed by faces from opts.Dirs and, when
// requested, the system directories. System discovery runs once per
// process; later calls reuse its result.
func Load(ctx context.Context, opts Options) (*Inventory, error) {
	logger := logging.OrNop(opts.Logger).WithComponent("fonts")

	groups := [][]Font{bundled()}
	if len(opts.Dirs) > 0 {
		extra, err := Discover(ctx, opts.Dirs, logger)
		if err != nil {
			return nil, err
		}
		groups = append(groups, extra)
	}
	if opts.IncludeSystem {
		sys, err := system(ctx, logger)
		if err != nil {
			return nil, err
		}
		groups = append(groups, sys)
	}

	inv := NewInventory(groups...)
	logger.Debug(ctx, "font inventory ready", "faces", inv.Len())
	return inv, nil
}

func system(ctx context.Context, logger logging.Logger) ([]Font, error) {
	systemMu.Lock()
	defer systemMu.Unlock()
	if systemDone {
		return systemFonts, nil
	}
	found, err := Discover(ctx, SystemDirs(), logger)
	if err != nil {
		return nil, err
	}
	systemFonts, systemDone = found, true
	return systemFonts, nil
}
