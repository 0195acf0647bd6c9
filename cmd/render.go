package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/conneroisu/typster/internal/config"
	"github.com/conneroisu/typster/internal/engine"
	"github.com/conneroisu/typster/internal/logging"
	"github.com/conneroisu/typster/pkg/typster"
)

var renderCmd = &cobra.Command{
	Use:     "render <template.typ>",
	Aliases: []string{"r"},
	Short:   "Render a template to PDF, SVG or PNG",
	Long: `Render a Typst template with variables bound as top-level names.

PDF output is a single file. SVG and PNG output is one file per page; use {p}
in --output to place the page number, otherwise "-<page>" is added before the
extension when there is more than one page.

Examples:
  typster render report.typ                          # report.pdf
  typster render report.typ --vars data.yaml         # bind variables from YAML
  typster render report.typ --var title='"Q3"' -f svg -o 'pages/{p}.svg'
  typster render report.typ -f png --ppi 4           # high-density PNG pages
  typster render report.typ --meta title=Report --meta date=auto
  cat report.typ | typster render - -o - > out.pdf`,
	Args:    cobra.ExactArgs(1),
	PreRunE: bindFlags(renderFlagKeys),
	RunE:    runRender,
}

var renderOpts renderFlags

func init() {
	rootCmd.AddCommand(renderCmd)
	addRenderFlags(renderCmd, &renderOpts, true)
}

func runRender(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	r, err := newRenderer(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer r.Close()

	_, err = renderOnce(ctx, cmd, r, cfg, &renderOpts, args[0], logger)
	return err
}

// renderOnce renders input and writes the result, returning the files
// written.
func renderOnce(ctx context.Context, cmd *cobra.Command, r *typster.Renderer, cfg *config.Config, flags *renderFlags, input string, logger logging.Logger) ([]string, error) {
	format, err := engine.ParseFormat(cfg.Render.Format)
	if err != nil {
		return nil, err
	}
	source, err := readSource(cmd, input)
	if err != nil {
		return nil, err
	}
	opts, err := flags.options(cfg, input)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	pages, err := r.Render(ctx, source, format, opts)
	if err != nil {
		return nil, err
	}

	output := cfg.Render.Output
	if output == "" {
		output = defaultOutput(input, format)
	}

	if output == "-" {
		if len(pages) != 1 {
			return nil, fmt.Errorf("cannot write %d pages to stdout; use --output", len(pages))
		}
		_, err := cmd.OutOrStdout().Write(pages[0])
		return nil, err
	}

	paths := outputPaths(output, len(pages))
	for i, path := range paths {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, err
			}
		}
		if err := os.WriteFile(path, pages[i], 0o644); err != nil {
			return nil, fmt.Errorf("writing %s: %w", path, err)
		}
	}

	logger.Debug(ctx, "Rendered", "input", input, "format", string(format), "pages", len(pages))
	fmt.Fprintf(cmd.ErrOrStderr(), "Rendered %s (%d page(s)) to %s in %s\n",
		cases.Upper(language.Und).String(string(format)), len(pages), summarizePaths(paths),
		time.Since(start).Round(time.Millisecond))
	return paths, nil
}

func summarizePaths(paths []string) string {
	switch len(paths) {
	case 0:
		return "nothing"
	case 1:
		return paths[0]
	default:
		return fmt.Sprintf("%s ... %s", paths[0], paths[len(paths)-1])
	}
}
