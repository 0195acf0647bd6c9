package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/conneroisu/typster/internal/config"
	"github.com/conneroisu/typster/internal/engine"
	"github.com/conneroisu/typster/internal/vars"
	"github.com/conneroisu/typster/pkg/typster"
)

// renderFlags are shared by every command that renders or checks a
// template.
type renderFlags struct {
	VarFiles     []string
	Vars         []string
	Metadata     []string
	PackagePaths []string
}

// renderFlagKeys maps render flags onto config keys.
var renderFlagKeys = map[string]string{
	"root":   "render.root",
	"format": "render.format",
	"ppi":    "render.ppi",
	"output": "render.output",
}

func addRenderFlags(cmd *cobra.Command, flags *renderFlags, output bool) {
	cmd.Flags().String("root", ".", "Directory local imports resolve against (default: the input's directory)")
	cmd.Flags().StringArrayVar(&flags.VarFiles, "vars", nil, "Variables file (.json, .yaml, .hcl, .toml); repeatable, later files win")
	cmd.Flags().StringArrayVar(&flags.Vars, "var", nil, "Variable as name=value; JSON values keep their type")
	cmd.Flags().StringSliceVar(&flags.PackagePaths, "package-path", nil, "Local package directory searched before the registry")
	if !output {
		return
	}
	cmd.Flags().StringP("format", "f", "pdf", "Output format (pdf, svg, png)")
	cmd.Flags().Float64("ppi", engine.DefaultPixelPerPt, "Pixels per point for PNG output")
	cmd.Flags().StringP("output", "o", "", "Output file; {p} is replaced by the page number, - writes a PDF to stdout")
	cmd.Flags().StringArrayVar(&flags.Metadata, "meta", nil, "PDF metadata as key=value (title, author, description, keywords, date)")
}

// options builds render options for input from cfg and flags.
func (f *renderFlags) options(cfg *config.Config, input string) (typster.Options, error) {
	variables, err := vars.Load(f.VarFiles, f.Vars)
	if err != nil {
		return typster.Options{}, err
	}
	metadata, err := parseMetadataFlags(cfg.Render.Metadata, f.Metadata)
	if err != nil {
		return typster.Options{}, err
	}

	return typster.Options{
		Variables:    variables,
		PackagePaths: append(append([]string{}, f.PackagePaths...), cfg.Packages.Paths...),
		Root:         resolveRoot(cfg.Render.Root, input),
		Metadata:     metadata,
		PixelPerPt:   cfg.Render.PPI,
	}, nil
}

// resolveRoot defaults the root to the input's directory.
func resolveRoot(root, input string) string {
	if (root == "" || root == ".") && input != "-" {
		return filepath.Dir(input)
	}
	return root
}

func parseMetadataFlags(base map[string]string, pairs []string) (map[string]string, error) {
	out := make(map[string]string, len(base)+len(pairs))
	for k, v := range base {
		out[k] = v
	}
	for _, pair := range pairs {
		k, v, ok := strings.Cut(pair, "=")
		if !ok || strings.TrimSpace(k) == "" {
			return nil, fmt.Errorf("invalid --meta %q (expected key=value)", pair)
		}
		out[strings.TrimSpace(k)] = v
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out, nil
}

// readSource reads the template at path; "-" reads stdin.
func readSource(cmd *cobra.Command, path string) (string, error) {
	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(cmd.InOrStdin())
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return "", fmt.Errorf("reading template: %w", err)
	}
	return string(data), nil
}

// outputPaths names one file per page. A single page uses output as is;
// otherwise {p} is replaced by the page number, or "-<n>" is inserted
// before the extension when output has no {p}.
func outputPaths(output string, pages int) []string {
	paths := make([]string, pages)
	for i := range paths {
		n := fmt.Sprint(i + 1)
		switch {
		case strings.Contains(output, "{p}"):
			paths[i] = strings.ReplaceAll(output, "{p}", n)
		case pages == 1:
			paths[i] = output
		default:
			ext := filepath.Ext(output)
			paths[i] = strings.TrimSuffix(output, ext) + "-" + n + ext
		}
	}
	return paths
}

// defaultOutput derives the output name from input and format.
func defaultOutput(input string, format engine.Format) string {
	if input == "-" {
		return "out" + format.Extension()
	}
	return strings.TrimSuffix(input, filepath.Ext(input)) + format.Extension()
}
