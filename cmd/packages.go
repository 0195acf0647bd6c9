package cmd

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/conneroisu/typster/internal/packages"
)

var packagesCmd = &cobra.Command{
	Use:     "packages",
	Aliases: []string{"pkg"},
	Short:   "Manage the registry package cache",
	Long: `Inspect and manage the on-disk cache of @namespace/name:version packages.

The cache is shared with the typst CLI and defaults to the platform cache
directory (for example ~/.cache/typst/packages on Linux).`,
}

var packagesFetchCmd = &cobra.Command{
	Use:   "fetch <@namespace/name:version>...",
	Short: "Download packages into the cache",
	Example: `  typster packages fetch @preview/cetz:0.3.1 @preview/tablex:0.0.8`,
	Args: cobra.MinimumNArgs(1),
	RunE: runPackagesFetch,
}

var packagesListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List cached packages",
	Example: `  typster packages list
  typster packages list -o yaml`,
	Args: cobra.NoArgs,
	RunE: runPackagesList,
}

var packagesCleanCmd = &cobra.Command{
	Use:   "clean [@namespace/name:version]...",
	Short: "Remove cached packages, or the whole cache with no arguments",
	RunE:  runPackagesClean,
}

var (
	fetchConcurrency int
	listFormat       string
)

func init() {
	rootCmd.AddCommand(packagesCmd)
	packagesCmd.AddCommand(packagesFetchCmd, packagesListCmd, packagesCleanCmd)

	packagesFetchCmd.Flags().IntVarP(&fetchConcurrency, "concurrency", "j", 4, "Downloads in flight at once")
	packagesListCmd.Flags().StringVarP(&listFormat, "output", "o", "table", "Output format (table, json, yaml)")
}

func parseSpecs(args []string) ([]packages.Spec, error) {
	specs := make([]packages.Spec, len(args))
	for i, arg := range args {
		spec, err := packages.ParseSpec(arg)
		if err != nil {
			return nil, err
		}
		specs[i] = spec
	}
	return specs, nil
}

func runPackagesFetch(cmd *cobra.Command, args []string) error {
	specs, err := parseSpecs(args)
	if err != nil {
		return err
	}
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	cache, err := newCache(cfg, logger)
	if err != nil {
		return err
	}

	dirs, err := cache.Prefetch(cmd.Context(), specs, fetchConcurrency)
	if err != nil {
		return err
	}
	for i, dir := range dirs {
		fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", specs[i], dir)
	}
	stats := cache.Stats()
	fmt.Fprintf(cmd.ErrOrStderr(), "%d downloaded, %d already cached\n", stats.Downloads, stats.Hits)
	return nil
}

// packageInfo is the list output shape.
type packageInfo struct {
	Package     string `json:"package" yaml:"package"`
	Dir         string `json:"dir" yaml:"dir"`
	Ready       bool   `json:"ready" yaml:"ready"`
	Size        int64  `json:"size" yaml:"size"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

func runPackagesList(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	cache, err := newCache(cfg, logger)
	if err != nil {
		return err
	}
	entries, err := cache.List()
	if err != nil {
		return err
	}

	infos := make([]packageInfo, len(entries))
	for i, e := range entries {
		infos[i] = packageInfo{
			Package:     e.Spec.String(),
			Dir:         e.Dir,
			Ready:       e.Ready,
			Size:        e.Size,
			Description: e.Description,
		}
	}

	out := cmd.OutOrStdout()
	switch listFormat {
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(infos)
	case "yaml":
		enc := yaml.NewEncoder(out)
		defer enc.Close()
		return enc.Encode(infos)
	case "table":
		if len(infos) == 0 {
			fmt.Fprintf(out, "No packages cached in %s\n", cache.Dir())
			return nil
		}
		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "PACKAGE\tREADY\tSIZE\tDESCRIPTION")
		for _, info := range infos {
			fmt.Fprintf(w, "%s\t%t\t%s\t%s\n", info.Package, info.Ready, humanSize(info.Size), info.Description)
		}
		return w.Flush()
	default:
		return fmt.Errorf("unsupported format: %s (supported: table, json, yaml)", listFormat)
	}
}

func runPackagesClean(cmd *cobra.Command, args []string) error {
	specs, err := parseSpecs(args)
	if err != nil {
		return err
	}
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	cache, err := newCache(cfg, logger)
	if err != nil {
		return err
	}

	if len(specs) == 0 {
		n, err := cache.Clean(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "Removed %d package(s) from %s\n", n, cache.Dir())
		return nil
	}

	for _, spec := range specs {
		if err := cache.Remove(cmd.Context(), spec); err != nil {
			return err
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "Removed %s\n", spec)
	}
	return nil
}

func humanSize(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
