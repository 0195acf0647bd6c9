package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/conneroisu/typster/internal/preview"
)

var previewCmd = &cobra.Command{
	Use:     "preview <template.typ>",
	Aliases: []string{"p"},
	Short:   "Serve a live SVG preview that reloads on change",
	Long: `Render a template to SVG and serve the pages over HTTP. The page reloads in
the browser whenever the template or its data files change. Render errors are
shown above the last good render.

Examples:
  typster preview report.typ
  typster preview report.typ --vars data.yaml --port 9000`,
	Args: cobra.ExactArgs(1),
	PreRunE: bindFlags(map[string]string{
		"root": "render.root",
		"host": "preview.host",
		"port": "preview.port",
	}),
	RunE: runPreview,
}

var previewOpts renderFlags

func init() {
	rootCmd.AddCommand(previewCmd)
	addRenderFlags(previewCmd, &previewOpts, false)
	previewCmd.Flags().String("host", "localhost", "Host to bind to")
	previewCmd.Flags().IntP("port", "p", 8080, "Port to serve on")
}

func runPreview(cmd *cobra.Command, args []string) error {
	input := args[0]
	if input == "-" {
		return fmt.Errorf("preview needs a template file, not stdin")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	r, err := newRenderer(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer r.Close()

	// Variables files are re-read on every render so edits to them show up.
	render := func(ctx context.Context) ([]string, error) {
		source, err := readSource(cmd, input)
		if err != nil {
			return nil, err
		}
		opts, err := previewOpts.options(cfg, input)
		if err != nil {
			return nil, err
		}
		return r.RenderSVG(ctx, source, opts)
	}

	srv := preview.New(preview.Config{
		Host:  cfg.Preview.Host,
		Port:  cfg.Preview.Port,
		Title: input,
	}, render, logger)
	if err := srv.Refresh(ctx); err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "error: %v\n", err)
	}

	fw, err := newSourceWatcher(cfg, input, logger)
	if err != nil {
		return err
	}
	defer fw.Stop()
	srv.Watch(fw)
	fw.Start(ctx)

	fmt.Fprintf(cmd.ErrOrStderr(), "Preview at http://%s (Ctrl+C to stop)\n", srv.Addr())
	return srv.ListenAndServe(ctx)
}
