package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/conneroisu/typster/internal/fonts"
)

var fontsCmd = &cobra.Command{
	Use:   "fonts",
	Short: "List the fonts available to templates",
	Long: `List font families available to templates: the bundled faces, faces in
configured font directories and, with fonts.system enabled, system fonts.

Examples:
  typster fonts
  typster fonts --variants
  typster fonts --font-path ./assets/fonts --json`,
	Args: cobra.NoArgs,
	PreRunE: bindFlags(map[string]string{
		"font-path":    "fonts.paths",
		"system-fonts": "fonts.system",
	}),
	RunE: runFonts,
}

var (
	fontsVariants bool
	fontsJSON     bool
)

func init() {
	rootCmd.AddCommand(fontsCmd)
	fontsCmd.Flags().BoolVar(&fontsVariants, "variants", false, "List every face, not just families")
	fontsCmd.Flags().BoolVar(&fontsJSON, "json", false, "Output as JSON")
	fontsCmd.Flags().StringSlice("font-path", nil, "Additional font directory")
	fontsCmd.Flags().Bool("system-fonts", false, "Include system fonts")
}

type fontInfo struct {
	Family  string `json:"family"`
	Style   string `json:"style"`
	Path    string `json:"path,omitempty"`
	Bundled bool   `json:"bundled"`
}

func runFonts(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	inv, err := fonts.Load(cmd.Context(), fonts.Options{
		IncludeSystem: cfg.Fonts.System,
		Dirs:          cfg.Fonts.Paths,
		Logger:        logger,
	})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if fontsJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if !fontsVariants {
			return enc.Encode(inv.Families())
		}
		faces := make([]fontInfo, 0, inv.Len())
		for _, f := range inv.Fonts() {
			faces = append(faces, fontInfo{Family: f.Family, Style: f.Style, Path: f.Path, Bundled: f.Bundled})
		}
		return enc.Encode(faces)
	}

	if fontsVariants {
		for _, f := range inv.Fonts() {
			fmt.Fprintln(out, f.String())
		}
		return nil
	}
	for _, family := range inv.Families() {
		fmt.Fprintln(out, family)
	}
	return nil
}
