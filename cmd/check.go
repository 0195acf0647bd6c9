package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var checkCmd = &cobra.Command{
	Use:     "check <template.typ>",
	Aliases: []string{"c"},
	Short:   "Report template errors without rendering",
	Long: `Compile a template with its variables and report every diagnostic,
one per line as file:line:column: message. Exits non-zero when there are any.

Examples:
  typster check report.typ
  typster check report.typ --vars data.json --json`,
	Args:    cobra.ExactArgs(1),
	PreRunE: bindFlags(map[string]string{"root": "render.root"}),
	RunE:    runCheck,
}

var (
	checkOpts renderFlags
	checkJSON bool
)

func init() {
	rootCmd.AddCommand(checkCmd)
	addRenderFlags(checkCmd, &checkOpts, false)
	checkCmd.Flags().BoolVar(&checkJSON, "json", false, "Print diagnostics as a JSON array")
}

func runCheck(cmd *cobra.Command, args []string) error {
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

	source, err := readSource(cmd, args[0])
	if err != nil {
		return err
	}
	opts, err := checkOpts.options(cfg, args[0])
	if err != nil {
		return err
	}

	diags, err := r.Check(ctx, source, opts)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if checkJSON {
		if diags == nil {
			diags = []string{}
		}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(diags); err != nil {
			return err
		}
	} else {
		for _, d := range diags {
			fmt.Fprintln(out, d)
		}
	}

	if len(diags) > 0 {
		return fmt.Errorf("%s: %d error(s)", args[0], len(diags))
	}
	if !checkJSON {
		fmt.Fprintf(cmd.ErrOrStderr(), "%s: no errors\n", args[0])
	}
	return nil
}
