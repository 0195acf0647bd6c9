package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/conneroisu/typster/internal/engine/typstcli"
	"github.com/conneroisu/typster/internal/version"
)

var (
	versionFormat string
	versionShort  bool
)

// versionCmd represents the version command
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Long: `Display version information for typster and the typst engine it runs.

Examples:
  typster version              # Version, build and engine details
  typster version --short      # Version only
  typster version --format json`,
	Args: cobra.NoArgs,
	RunE: runVersionCommand,
}

func init() {
	rootCmd.AddCommand(versionCmd)

	versionCmd.Flags().StringVarP(&versionFormat, "format", "f", "text", "Output format (text, json, yaml)")
	versionCmd.Flags().BoolVar(&versionShort, "short", false, "Show short version only")
}

func runVersionCommand(cmd *cobra.Command, _ []string) error {
	out := cmd.OutOrStdout()
	if versionShort {
		fmt.Fprintln(out, version.GetBuildInfo("").Short())
		return nil
	}

	info := version.GetBuildInfo(engineVersion(cmd.Context()))
	switch versionFormat {
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	case "yaml":
		enc := yaml.NewEncoder(out)
		defer enc.Close()
		return enc.Encode(info)
	case "text":
		fmt.Fprintln(out, info.Detailed())
		return nil
	default:
		return fmt.Errorf("unsupported format: %s (supported: text, json, yaml)", versionFormat)
	}
}

// engineVersion asks the configured typst executable for its version. An
// unavailable engine is reported in the text rather than as an error.
func engineVersion(ctx context.Context) string {
	if engineOverride != nil {
		return engineOverride.Name()
	}
	cfg, _, err := loadConfig()
	if err != nil {
		return "unknown (" + err.Error() + ")"
	}
	eng, err := typstcli.New(typstcli.Options{Executable: cfg.Engine.Binary})
	if err != nil {
		return "unavailable (" + err.Error() + ")"
	}
	defer eng.Close()

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	v, err := eng.Version(ctx)
	if err != nil {
		return "unavailable (" + err.Error() + ")"
	}
	return v
}
