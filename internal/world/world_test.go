package world

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/typster/internal/fonts"
	"github.com/conneroisu/typster/internal/packages"
	"github.com/conneroisu/typster/internal/value"
)

type stubResolver struct {
	dirs  map[string]string
	calls int
}

func (s *stubResolver) Resolve(_ context.Context, spec packages.Spec) (string, error) {
	s.calls++
	if dir, ok := s.dirs[spec.String()]; ok {
		return dir, nil
	}
	return "", &packages.Error{Kind: packages.KindNotFound, Spec: spec}
}

func newTestWorld(t *testing.T, source string, opts Options) *World {
	t.Helper()
	if opts.Root == "" {
		opts.Root = t.TempDir()
	}
	if opts.Fonts == nil {
		opts.Fonts = fonts.NewInventory(fonts.Bundled())
	}
	w, err := New(context.Background(), source, opts)
	require.NoError(t, err)
	return w
}

func TestBindPrependsPrelude(t *testing.T) {
	w := newTestWorld(t, "= #title\n", Options{})
	assert.Equal(t, 0, w.PreludeLines())
	assert.Equal(t, "= #title\n", w.MainSource())

	w.Bind(map[string]value.Value{
		"title": value.Str("Report"),
		"count": value.Int(2),
	})
	assert.Equal(t, 2, w.PreludeLines())
	assert.Equal(t, "#let count = 2\n#let title = \"Report\"\n= #title\n", w.MainSource())
	assert.Equal(t, "= #title\n", w.UserSource())
	assert.Equal(t, MainName, w.MainName())
}

func TestReadFile(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "data"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "data", "rows.csv"), []byte("a,b\n"), 0o644))

	w := newTestWorld(t, "", Options{Root: root})

	data, err := w.ReadFile("data/rows.csv")
	require.NoError(t, err)
	assert.Equal(t, "a,b\n", string(data))

	// Cached: a later change on disk is not observed by this World.
	require.NoError(t, os.WriteFile(filepath.Join(root, "data", "rows.csv"), []byte("changed"), 0o644))
	data, err = w.ReadFile("/data/rows.csv")
	require.NoError(t, err)
	assert.Equal(t, "a,b\n", string(data))

	_, err = w.ReadFile("missing.typ")
	var we *Error
	require.ErrorAs(t, err, &we)
	assert.Equal(t, KindNotFound, we.Kind)

	_, err = w.ReadFile("../outside.typ")
	require.ErrorAs(t, err, &we)
	assert.Equal(t, KindEscapesRoot, we.Kind)
}

func TestReadFileRejectsSymlinkEscape(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks need privileges on windows")
	}
	outside := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(outside, "secret.txt"), []byte("s"), 0o644))

	root := t.TempDir()
	require.NoError(t, os.Symlink(filepath.Join(outside, "secret.txt"), filepath.Join(root, "link.txt")))

	w := newTestWorld(t, "", Options{Root: root})
	_, err := w.ReadFile("link.txt")
	var we *Error
	require.ErrorAs(t, err, &we)
	assert.Equal(t, KindEscapesRoot, we.Kind)
}

func TestNewRejectsMissingRoot(t *testing.T) {
	_, err := New(context.Background(), "", Options{
		Root:  filepath.Join(t.TempDir(), "nope"),
		Fonts: fonts.NewInventory(fonts.Bundled()),
	})
	var we *Error
	require.ErrorAs(t, err, &we)
	assert.Equal(t, KindNotFound, we.Kind)

	_, err = New(context.Background(), "", Options{Root: t.TempDir(), Fonts: fonts.NewInventory()})
	require.ErrorAs(t, err, &we)
	assert.Equal(t, KindFont, we.Kind)
}

func TestResolvePackagePrefersLocal(t *testing.T) {
	local := t.TempDir()
	spec, err := packages.ParseSpec("@preview/demo:1.0.0")
	require.NoError(t, err)
	localDir := filepath.Join(local, "preview", "demo", "1.0.0")
	require.NoError(t, os.MkdirAll(localDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(localDir, "lib.typ"), []byte("#let x = 1"), 0o644))

	resolver := &stubResolver{dirs: map[string]string{}}
	w := newTestWorld(t, "", Options{PackagePaths: []string{local}, Packages: resolver})

	dir, err := w.ResolvePackage(context.Background(), spec)
	require.NoError(t, err)
	assert.Equal(t, localDir, dir)
	assert.Equal(t, 0, resolver.calls)

	data, err := w.ReadPackageFile(context.Background(), spec, "lib.typ")
	require.NoError(t, err)
	assert.Equal(t, "#let x = 1", string(data))

	_, err = w.ReadPackageFile(context.Background(), spec, "../../../escape")
	var we *Error
	require.ErrorAs(t, err, &we)
	assert.Equal(t, KindEscapesRoot, we.Kind)
}

func TestResolvePackageDelegatesToCache(t *testing.T) {
	spec, err := packages.ParseSpec("@preview/remote:0.1.0")
	require.NoError(t, err)
	resolver := &stubResolver{dirs: map[string]string{"@preview/remote:0.1.0": "/cache/preview/remote/0.1.0"}}
	w := newTestWorld(t, "", Options{Packages: resolver})

	dir, err := w.ResolvePackage(context.Background(), spec)
	require.NoError(t, err)
	assert.Equal(t, "/cache/preview/remote/0.1.0", dir)

	missing, err := packages.ParseSpec("@preview/missing:0.1.0")
	require.NoError(t, err)
	_, err = w.ResolvePackage(context.Background(), missing)
	var we *Error
	require.ErrorAs(t, err, &we)
	assert.Equal(t, KindPackage, we.Kind)

	var pe *packages.Error
	assert.True(t, errors.As(err, &pe), "package error must stay reachable")
}

func TestClock(t *testing.T) {
	fixed := time.Date(2024, time.December, 31, 23, 30, 0, 0, time.FixedZone("EST", -5*3600))
	w := newTestWorld(t, "", Options{Clock: func() time.Time { return fixed }})

	assert.Equal(t, fixed, w.Now())
	assert.Equal(t, "2024-12-31", w.Today(nil).String())

	zero := 0
	assert.Equal(t, "2025-01-01", w.Today(&zero).String())

	minus := -10
	assert.Equal(t, "2024-12-31", w.Today(&minus).String())
}
