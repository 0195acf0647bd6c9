// Package typstcli drives the typst executable as an engine.Engine. The main
// source is piped on stdin with the World's root as --root; registry and
// local packages are exposed through a per-run package overlay so every
// import goes through the World's resolver first. Packages typst fetches on
// its own, such as transitive imports, land in a per-run directory and never
// in the shared package cache.
package typstcli

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/conneroisu/typster/internal/engine"
	"github.com/conneroisu/typster/internal/errors"
	"github.com/conneroisu/typster/internal/logging"
	"github.com/conneroisu/typster/internal/packages"
	"github.com/conneroisu/typster/internal/validation"
)

// Executable is the default engine binary.
const Executable = "typst"

// DefaultTimeout bounds a single typst invocation.
const DefaultTimeout = 2 * time.Minute

var allowedExecutables = map[string]bool{
	"typst": true,
}

var pageFile = regexp.MustCompile(`^page-(\d+)\.(svg|png)$`)

// stdin is how typst names a source read from standard input.
var stdinNames = map[string]bool{"<stdin>": true, "-": true, "/<stdin>": true}

// Options configure an Engine.
type Options struct {
	// Executable is a path or name resolved on PATH; defaults to "typst".
	Executable string
	Timeout    time.Duration
	Logger     logging.Logger
}

// Engine runs typst. It is safe for concurrent use; each call works in its
// own temporary directory.
type Engine struct {
	executable string
	timeout    time.Duration
	logger     logging.Logger

	mu      sync.Mutex
	fontDir string
}

// New validates the executable and resolves it on PATH.
func New(opts Options) (*Engine, error) {
	name := opts.Executable
	if name == "" {
		name = Executable
	}
	if err := validation.ValidateExecutable(name, allowedExecutables); err != nil {
		return nil, fmt.Errorf("command validation failed: %w", err)
	}
	path, err := exec.LookPath(name)
	if err != nil {
		return nil, fmt.Errorf("typst executable not found: %w", err)
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return &Engine{
		executable: path,
		timeout:    timeout,
		logger:     logging.OrNop(opts.Logger).WithComponent("engine"),
	}, nil
}

// Name implements engine.Engine.
func (e *Engine) Name() string { return "typst" }

// Version returns the output of `typst --version`.
func (e *Engine) Version(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	out, err := exec.CommandContext(ctx, e.executable, "--version").Output()
	if err != nil {
		return "", fmt.Errorf("typst --version failed: %w", err)
	}
	return strings.TrimSpace(string(out)), nil
}

// Close removes the bundled font directory, if one was written.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.fontDir == "" {
		return nil
	}
	err := os.RemoveAll(e.fontDir)
	e.fontDir = ""
	return err
}

// Document is a compiled source together with everything needed to export
// it again. SVG pages from the compile run are kept.
type Document struct {
	job   job
	pages [][]byte
}

// PageCount implements engine.Document.
func (d *Document) PageCount() int { return len(d.pages) }

// job is one typst invocation's inputs.
type job struct {
	source       string
	mainName     string
	root         string
	packagePaths []string
	resolved     map[packages.Spec]string
	fontDirs     []string
	now          time.Time

	// shift is the number of lines prepended to source for this run only.
	shift int
}

// Compile implements engine.Engine. It compiles to SVG so the page count
// and SVG pages are known without a second run.
func (e *Engine) Compile(ctx context.Context, w engine.World) (engine.Document, error) {
	j := job{
		source:       w.MainSource(),
		mainName:     w.MainName(),
		root:         w.Root(),
		packagePaths: w.PackagePaths(),
		resolved:     make(map[packages.Spec]string),
		now:          w.Now(),
	}

	diags := e.resolveImports(ctx, w, &j)
	if len(diags) > 0 {
		return nil, diags
	}

	dirs, err := e.fontDirs(w)
	if err != nil {
		return nil, err
	}
	j.fontDirs = dirs

	pages, err := e.run(ctx, j, j.source, "svg", nil)
	if err != nil {
		return nil, err
	}
	return &Document{job: j, pages: pages}, nil
}

// resolveImports resolves every registry import in the main source through
// the World, reporting failures at the import site.
func (e *Engine) resolveImports(ctx context.Context, w engine.World, j *job) errors.DiagnosticList {
	var diags errors.DiagnosticList
	for _, imp := range engine.ScanImports(j.source) {
		if imp.Include || !imp.IsPackage() {
			continue
		}
		spec, err := packages.ParseSpec(imp.Target)
		if err == nil {
			var dir string
			if dir, err = w.ResolvePackage(ctx, spec); err == nil {
				j.resolved[spec] = dir
				continue
			}
		}
		diags = append(diags, errors.Diagnostic{
			Severity: errors.SeverityError,
			File:     j.mainName,
			Line:     imp.Line,
			Column:   imp.Column,
			Message:  err.Error(),
		})
	}
	return diags
}

// fontDirs returns the directories passed as --font-path: the bundled fonts
// written once per Engine, then the directories of discovered font files.
func (e *Engine) fontDirs(w engine.World) ([]string, error) {
	inv := w.Fonts()
	var dirs []string

	if bundled := inv.Bundled(); len(bundled) > 0 {
		e.mu.Lock()
		if e.fontDir == "" {
			dir, err := os.MkdirTemp("", "typster-fonts-")
			if err != nil {
				e.mu.Unlock()
				return nil, fmt.Errorf("create font dir: %w", err)
			}
			for _, f := range bundled {
				data, err := f.Data()
				if err == nil {
					err = os.WriteFile(filepath.Join(dir, f.FileName), data, 0o644)
				}
				if err != nil {
					os.RemoveAll(dir)
					e.mu.Unlock()
					return nil, fmt.Errorf("write bundled font %s: %w", f.FileName, err)
				}
			}
			e.fontDir = dir
		}
		dirs = append(dirs, e.fontDir)
		e.mu.Unlock()
	}

	seen := make(map[string]bool)
	for _, file := range inv.Files() {
		dir := filepath.Dir(file)
		if !seen[dir] {
			seen[dir] = true
			dirs = append(dirs, dir)
		}
	}
	return dirs, nil
}

// Export implements engine.Engine.
func (e *Engine) Export(ctx context.Context, d engine.Document, settings engine.ExportSettings) ([][]byte, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	doc, ok := d.(*Document)
	if !ok {
		return nil, fmt.Errorf("typst: cannot export %T", d)
	}

	switch settings.Format {
	case engine.FormatSVG:
		out := make([][]byte, len(doc.pages))
		copy(out, doc.pages)
		return out, nil

	case engine.FormatPNG:
		ppi := strconv.FormatFloat(settings.PixelPerPt*72, 'f', -1, 64)
		return e.run(ctx, doc.job, doc.job.source, "png", []string{"--ppi", ppi})

	default:
		j := doc.job
		if !settings.Now.IsZero() {
			j.now = settings.Now
		}
		prelude := settings.Metadata.Prelude(j.now)
		j.shift = strings.Count(prelude, "\n")
		return e.run(ctx, j, prelude+j.source, "pdf", nil)
	}
}

// run invokes typst once and returns the output pages in order (a single
// buffer for PDF).
func (e *Engine) run(ctx context.Context, j job, source, format string, extra []string) ([][]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	work, err := os.MkdirTemp("", "typster-run-")
	if err != nil {
		return nil, fmt.Errorf("create work dir: %w", err)
	}
	defer os.RemoveAll(work)

	overlay := filepath.Join(work, "packages")
	if err := buildOverlay(overlay, j); err != nil {
		return nil, err
	}

	args, output := compileArgs(j, work, format, extra)
	for _, arg := range args {
		if err := validation.ValidateArgument(arg); err != nil {
			return nil, fmt.Errorf("invalid argument '%s': %w", arg, err)
		}
	}

	cmd := exec.CommandContext(ctx, e.executable, args...)
	cmd.Dir = j.root
	cmd.Stdin = strings.NewReader(source)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	start := time.Now()
	runErr := cmd.Run()
	diags := diagnostics(stderr.String(), j)

	if runErr != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("typst compile timed out: %w", ctx.Err())
		}
		return nil, e.failure(ctx, runErr, stderr.String(), diags)
	}

	e.logWarnings(ctx, diags)
	e.logger.Debug(ctx, "typst run finished", "format", format, "duration_ms", time.Since(start).Milliseconds())

	if format == "pdf" {
		data, err := os.ReadFile(output)
		if err != nil {
			return nil, fmt.Errorf("read typst output: %w", err)
		}
		return [][]byte{data}, nil
	}
	return readPages(work)
}

// compileArgs builds the typst command line for a run in work and returns
// it with the output path. Packages come from the overlay in work, and any
// package typst downloads itself stays in work too.
func compileArgs(j job, work, format string, extra []string) ([]string, string) {
	output := filepath.Join(work, "out.pdf")
	if format != "pdf" {
		output = filepath.Join(work, "page-{p}."+format)
	}

	args := []string{
		"compile",
		"--root", j.root,
		"--diagnostic-format", "short",
		"--format", format,
		"--package-path", filepath.Join(work, "packages"),
		"--package-cache-path", filepath.Join(work, "downloads"),
		"--ignore-system-fonts",
	}
	for _, dir := range j.fontDirs {
		args = append(args, "--font-path", dir)
	}
	if !j.now.IsZero() {
		args = append(args, "--creation-timestamp", strconv.FormatInt(j.now.Unix(), 10))
	}
	args = append(args, extra...)
	return append(args, "-", output), output
}

// failure reports a failed run as its error diagnostics alone, or as a
// plain error when typst printed none. Warnings are only logged.
func (e *Engine) failure(ctx context.Context, runErr error, output string, diags errors.DiagnosticList) error {
	e.logWarnings(ctx, diags)
	if errs := diags.Errors(); len(errs) > 0 {
		return errs
	}
	return fmt.Errorf("typst compile failed: %w\nOutput: %s", runErr, output)
}

func (e *Engine) logWarnings(ctx context.Context, diags errors.DiagnosticList) {
	for _, d := range diags.Warnings() {
		e.logger.Warn(ctx, nil, "typst warning", "diagnostic", d.String())
	}
}

// diagnostics parses typst's short output, naming stdin after the main file
// and moving lines past any run-only prelude.
func diagnostics(output string, j job) errors.DiagnosticList {
	diags := errors.ParseDiagnostics(output)
	for i := range diags {
		if stdinNames[diags[i].File] {
			diags[i].File = j.mainName
		}
	}
	return diags.ShiftLines(j.mainName, j.shift, "<metadata>")
}

// readPages returns page-N files in page order.
func readPages(dir string) ([][]byte, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read typst output: %w", err)
	}

	type page struct {
		n    int
		path string
	}
	var found []page
	for _, entry := range entries {
		m := pageFile.FindStringSubmatch(entry.Name())
		if m == nil {
			continue
		}
		n, _ := strconv.Atoi(m[1])
		found = append(found, page{n: n, path: filepath.Join(dir, entry.Name())})
	}
	if len(found) == 0 {
		return nil, fmt.Errorf("typst produced no pages")
	}
	sort.Slice(found, func(a, b int) bool { return found[a].n < found[b].n })

	out := make([][]byte, len(found))
	for i, p := range found {
		data, err := os.ReadFile(p.path)
		if err != nil {
			return nil, fmt.Errorf("read typst output: %w", err)
		}
		out[i] = data
	}
	return out, nil
}

// buildOverlay lays out <ns>/<name>/<version> links for every resolved
// import and every package under the local package paths, first path
// winning.
func buildOverlay(dir string, j job) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create package overlay: %w", err)
	}

	link := func(rel, target string) error {
		dst := filepath.Join(dir, rel)
		if _, err := os.Lstat(dst); err == nil {
			return nil
		}
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return err
		}
		if err := os.Symlink(target, dst); err != nil {
			return os.CopyFS(dst, os.DirFS(target))
		}
		return nil
	}

	for spec, target := range j.resolved {
		if err := link(spec.RelPath(), target); err != nil {
			return fmt.Errorf("link package %s: %w", spec, err)
		}
	}

	for _, root := range j.packagePaths {
		versions, _ := filepath.Glob(filepath.Join(root, "*", "*", "*"))
		for _, v := range versions {
			info, err := os.Stat(v)
			if err != nil || !info.IsDir() {
				continue
			}
			rel, err := filepath.Rel(root, v)
			if err != nil {
				continue
			}
			if err := link(rel, v); err != nil {
				return fmt.Errorf("link local package %s: %w", rel, err)
			}
		}
	}
	return nil
}
