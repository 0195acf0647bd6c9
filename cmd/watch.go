package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/conneroisu/typster/internal/config"
	"github.com/conneroisu/typster/internal/logging"
	"github.com/conneroisu/typster/internal/watcher"
)

var watchCmd = &cobra.Command{
	Use:     "watch <template.typ>",
	Aliases: []string{"w"},
	Short:   "Re-render a template whenever it or its inputs change",
	Long: `Render once, then watch the template's root directory and re-render after
any .typ source or data file changes. Changes arriving in quick succession are
rendered once. Accepts the same flags as render.

Examples:
  typster watch report.typ --vars data.json
  typster watch report.typ -f svg -o 'build/{p}.svg'`,
	Args:    cobra.ExactArgs(1),
	PreRunE: bindFlags(renderFlagKeys),
	RunE:    runWatch,
}

var watchOpts renderFlags

func init() {
	rootCmd.AddCommand(watchCmd)
	addRenderFlags(watchCmd, &watchOpts, true)
}

func runWatch(cmd *cobra.Command, args []string) error {
	input := args[0]
	if input == "-" {
		return fmt.Errorf("watch needs a template file, not stdin")
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

	render := func(ctx context.Context) {
		if _, err := renderOnce(ctx, cmd, r, cfg, &watchOpts, input, logger); err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "error: %v\n", err)
		}
	}
	render(ctx)

	fw, err := newSourceWatcher(cfg, input, logger)
	if err != nil {
		return err
	}
	defer fw.Stop()
	fw.AddHandler(func(ctx context.Context, events []watcher.ChangeEvent) error {
		logger.Info(ctx, "Sources changed, re-rendering", "files", len(events))
		render(ctx)
		return nil
	})

	fw.Start(ctx)
	fmt.Fprintf(cmd.ErrOrStderr(), "Watching %s (Ctrl+C to stop)\n", fw.Root())
	<-ctx.Done()
	return nil
}

// newSourceWatcher watches the root input renders against, filtered to
// sources and data files.
func newSourceWatcher(cfg *config.Config, input string, logger logging.Logger) (*watcher.FileWatcher, error) {
	root := resolveRoot(cfg.Render.Root, input)
	fw, err := watcher.New(root, cfg.Preview.Debounce, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	fw.AddFilter(watcher.NoHiddenFilter)
	fw.AddFilter(watcher.NoBackupFilter)
	fw.AddFilter(watcher.InputFilter)

	if err := fw.AddRecursive(fw.Root()); err != nil {
		_ = fw.Stop()
		return nil, err
	}
	return fw, nil
}
