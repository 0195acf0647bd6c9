package fonts

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"

	"golang.org/x/image/font/sfnt"
	"golang.org/x/sync/errgroup"

	"github.com/conneroisu/typster/internal/logging"
)

var fontExtensions = map[string]bool{
	".ttf": true,
	".otf": true,
	".ttc": true,
	".otc": true,
}

// SystemDirs returns the platform's font directories, including per-user ones.
func SystemDirs() []string {
	home, _ := os.UserHomeDir()
	var dirs []string
	switch runtime.GOOS {
	case "darwin":
		dirs = []string{"/Library/Fonts", "/System/Library/Fonts", "/Network/Library/Fonts"}
		if home != "" {
			dirs = append(dirs, filepath.Join(home, "Library", "Fonts"))
		}
	case "windows":
		if windir := os.Getenv("WINDIR"); windir != "" {
			dirs = append(dirs, filepath.Join(windir, "Fonts"))
		}
		if local := os.Getenv("LOCALAPPDATA"); local != "" {
			dirs = append(dirs, filepath.Join(local, "Microsoft", "Windows", "Fonts"))
		}
	default:
		dirs = []string{"/usr/share/fonts", "/usr/local/share/fonts"}
		if data := os.Getenv("XDG_DATA_HOME"); data != "" {
			dirs = append(dirs, filepath.Join(data, "fonts"))
		} else if home != "" {
			dirs = append(dirs, filepath.Join(home, ".local", "share", "fonts"))
		}
		if home != "" {
			dirs = append(dirs, filepath.Join(home, ".fonts"))
		}
	}
	return dirs
}

// Discover parses every font file below dirs in parallel. Missing
// directories are ignored; files that fail to parse are logged and skipped.
// The result is ordered by path and collection index.
func Discover(ctx context.Context, dirs []string, logger logging.Logger) ([]Font, error) {
	logger = logging.OrNop(logger)

	var files []string
	for _, dir := range dirs {
		err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				if p == dir && errors.Is(err, fs.ErrNotExist) {
					return fs.SkipDir
				}
				return nil
			}
			if d.Type().IsRegular() && fontExtensions[strings.ToLower(filepath.Ext(p))] {
				files = append(files, p)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	var (
		mu    sync.Mutex
		found []Font
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for _, file := range files {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			faces, err := parseFile(file)
			if err != nil {
				logger.Debug(gctx, "skipping unsupported font", "path", file, "error", err.Error())
				return nil
			}
			mu.Lock()
			found = append(found, faces...)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(found, func(i, j int) bool {
		if found[i].Path != found[j].Path {
			return found[i].Path < found[j].Path
		}
		return found[i].Index < found[j].Index
	})
	return found, nil
}

func parseFile(path string) ([]Font, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	faces, err := parseFaces(f)
	if err != nil {
		return nil, err
	}
	for i := range faces {
		faces[i].Path = path
	}
	return faces, nil
}

// parseFaces reads the family and style names of every face in a font file
// or collection.
func parseFaces(src io.ReaderAt) ([]Font, error) {
	coll, err := sfnt.ParseCollectionReaderAt(src)
	if err != nil {
		return nil, err
	}

	var buf sfnt.Buffer
	faces := make([]Font, 0, coll.NumFonts())
	for i := 0; i < coll.NumFonts(); i++ {
		face, err := coll.Font(i)
		if err != nil {
			return nil, err
		}
		family := firstName(face, &buf, sfnt.NameIDTypographicFamily, sfnt.NameIDFamily)
		if family == "" {
			return nil, errors.New("font has no family name")
		}
		style := firstName(face, &buf, sfnt.NameIDTypographicSubfamily, sfnt.NameIDSubfamily)
		if style == "" {
			style = "Regular"
		}
		faces = append(faces, Font{Family: family, Style: style, Index: i})
	}
	return faces, nil
}

func firstName(face *sfnt.Font, buf *sfnt.Buffer, ids ...sfnt.NameID) string {
	for _, id := range ids {
		if name, err := face.Name(buf, id); err == nil && strings.TrimSpace(name) != "" {
			return strings.TrimSpace(name)
		}
	}
	return ""
}
